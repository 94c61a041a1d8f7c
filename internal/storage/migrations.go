package storage

import (
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/reviewfunnel/internal/model"
)

// backfillReviewStages assigns a stage to rows written before the stage column existed.
// Mid-rating rows without a stage resume at the feedback step.
func backfillReviewStages(database *gorm.DB) error {
	missingStage := "stage IS NULL OR TRIM(stage) = ''"

	if err := database.Model(&model.Review{}).
		Where(missingStage).
		Where("completed_at IS NOT NULL").
		Update("stage", model.ReviewStageTerminal).Error; err != nil {
		return err
	}

	assignments := []struct {
		condition string
		stage     string
	}{
		{condition: "rating = 0", stage: model.ReviewStageUnrated},
		{condition: "rating BETWEEN 1 AND 3", stage: model.ReviewStageLowFeedback},
		{condition: "rating = 4", stage: model.ReviewStageMidFeedback},
		{condition: "rating = 5", stage: model.ReviewStageHighGamification},
	}
	for _, assignment := range assignments {
		if err := database.Model(&model.Review{}).
			Where(missingStage).
			Where(assignment.condition).
			Update("stage", assignment.stage).Error; err != nil {
			return err
		}
	}
	return nil
}
