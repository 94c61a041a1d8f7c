package reviewflow

import (
	"github.com/MarkoPoloResearchLab/reviewfunnel/internal/model"
)

// Stage is a state of the review flow.
type Stage string

const (
	StageUnrated          Stage = model.ReviewStageUnrated
	StageLowFeedback      Stage = model.ReviewStageLowFeedback
	StageMidFeedback      Stage = model.ReviewStageMidFeedback
	StageHighGamification Stage = model.ReviewStageHighGamification
	StageSubmitting       Stage = "submitting"
	StageTerminal         Stage = model.ReviewStageTerminal
)

// BranchKind names a rating band.
type BranchKind string

const (
	BranchLow  BranchKind = "low"
	BranchMid  BranchKind = "mid"
	BranchHigh BranchKind = "high"
)

// Screen names a page the visitor passes through.
type Screen string

const (
	ScreenFeedback     Screen = "feedback"
	ScreenGamification Screen = "gamification"
	ScreenThankYou     Screen = "thank_you"
)

// Branch is the flow path selected by a rating. It is computed once per review and handed to
// every step as data.
type Branch struct {
	Kind           BranchKind `json:"kind"`
	Rating         int        `json:"rating"`
	CollectsIssues bool       `json:"collects_issues"`
	Screens        []Screen   `json:"screens"`
}

// BranchForRating maps a rating to its branch: 1-3 low, 4 mid, 5 high.
func BranchForRating(rating int) (Branch, error) {
	if err := model.ValidateRating(rating); err != nil {
		return Branch{}, &ValidationError{Field: fieldRating, Reason: err}
	}
	switch {
	case rating <= 3:
		return Branch{Kind: BranchLow, Rating: rating, CollectsIssues: true, Screens: []Screen{ScreenFeedback, ScreenThankYou}}, nil
	case rating == 4:
		return Branch{Kind: BranchMid, Rating: rating, CollectsIssues: true, Screens: []Screen{ScreenFeedback, ScreenGamification, ScreenThankYou}}, nil
	default:
		return Branch{Kind: BranchHigh, Rating: rating, Screens: []Screen{ScreenGamification, ScreenThankYou}}, nil
	}
}

// EntryStage is the stage a review enters when the rating is selected.
func (branch Branch) EntryStage() Stage {
	switch branch.Kind {
	case BranchLow:
		return StageLowFeedback
	case BranchMid:
		return StageMidFeedback
	default:
		return StageHighGamification
	}
}

// IsMidRating reports whether the branch uses the rating-4 issue list.
func (branch Branch) IsMidRating() bool {
	return branch.Kind == BranchMid
}

func stageOf(review model.Review) Stage {
	if review.IsTerminal() {
		return StageTerminal
	}
	if review.Stage == "" {
		return StageUnrated
	}
	return Stage(review.Stage)
}
