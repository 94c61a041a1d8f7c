package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/MarkoPoloResearchLab/reviewfunnel/internal/model"
)

var (
	ErrInvalidCatalog = errors.New("invalid_catalog")
)

// IndustryOptions lists the issue sets offered for one industry.
type IndustryOptions struct {
	FeedbackOptions          []model.FeedbackOption `yaml:"feedback_options"`
	MidRatingFeedbackOptions []model.FeedbackOption `yaml:"mid_rating_feedback_options"`
}

// CompanyEntry is the YAML form of a company configuration.
type CompanyEntry struct {
	ID                       string                 `yaml:"id"`
	Name                     string                 `yaml:"name"`
	Industry                 string                 `yaml:"industry"`
	ColorScheme              string                 `yaml:"color_scheme"`
	GiftDescription          string                 `yaml:"gift_description"`
	CouponType               string                 `yaml:"coupon_type"`
	SocialTasks              []model.SocialTask     `yaml:"social_tasks"`
	SendCouponEmail          bool                   `yaml:"send_coupon_email"`
	SendCouponSMS            bool                   `yaml:"send_coupon_sms"`
	SendThankYouEmail        bool                   `yaml:"send_thank_you_email"`
	SendGoogleReviewEmail    bool                   `yaml:"send_google_review_email"`
	GoogleReviewURL          string                 `yaml:"google_review_url"`
	FeedbackOptions          []model.FeedbackOption `yaml:"feedback_options"`
	MidRatingFeedbackOptions []model.FeedbackOption `yaml:"mid_rating_feedback_options"`
}

// Catalog is the static configuration loaded at startup.
type Catalog struct {
	Industries map[string]IndustryOptions `yaml:"industries"`
	Companies  []CompanyEntry             `yaml:"companies"`
}

// LoadFile reads a catalog from a YAML file. An empty path yields an empty catalog.
func LoadFile(path string) (Catalog, error) {
	trimmedPath := strings.TrimSpace(path)
	if trimmedPath == "" {
		return Catalog{}, nil
	}
	contents, readErr := os.ReadFile(trimmedPath)
	if readErr != nil {
		return Catalog{}, fmt.Errorf("read catalog %s: %w", trimmedPath, readErr)
	}
	return Parse(contents)
}

// Parse decodes and normalizes catalog YAML.
func Parse(contents []byte) (Catalog, error) {
	var decoded Catalog
	if err := yaml.Unmarshal(contents, &decoded); err != nil {
		return Catalog{}, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}

	industries := make(map[string]IndustryOptions, len(decoded.Industries))
	for industryName, options := range decoded.Industries {
		normalizedName := strings.ToLower(strings.TrimSpace(industryName))
		if normalizedName == "" {
			return Catalog{}, fmt.Errorf("%w: empty industry name", ErrInvalidCatalog)
		}
		industries[normalizedName] = IndustryOptions{
			FeedbackOptions:          normalizeOptions(options.FeedbackOptions),
			MidRatingFeedbackOptions: normalizeOptions(options.MidRatingFeedbackOptions),
		}
	}
	decoded.Industries = industries
	return decoded, nil
}

// IndustryOptionsFor returns the issue list for an industry and rating band.
func (catalog Catalog) IndustryOptionsFor(industry string, isMidRating bool) ([]model.FeedbackOption, bool) {
	options, found := catalog.Industries[strings.ToLower(strings.TrimSpace(industry))]
	if !found {
		return nil, false
	}
	selected := options.FeedbackOptions
	if isMidRating {
		selected = options.MidRatingFeedbackOptions
	}
	if len(selected) == 0 {
		return nil, false
	}
	return selected, true
}

// Company converts one catalog entry into a validated model.
func (entry CompanyEntry) Company() (model.Company, error) {
	return model.NormalizeCompany(model.Company{
		ID:                       entry.ID,
		Name:                     entry.Name,
		Industry:                 entry.Industry,
		ColorScheme:              strings.TrimSpace(entry.ColorScheme),
		GiftDescription:          strings.TrimSpace(entry.GiftDescription),
		CouponType:               entry.CouponType,
		SocialTasks:              model.SocialTaskList(entry.SocialTasks),
		SendCouponEmail:          entry.SendCouponEmail,
		SendCouponSMS:            entry.SendCouponSMS,
		SendThankYouEmail:        entry.SendThankYouEmail,
		SendGoogleReviewEmail:    entry.SendGoogleReviewEmail,
		GoogleReviewURL:          strings.TrimSpace(entry.GoogleReviewURL),
		FeedbackOptions:          model.FeedbackOptionList(normalizeOptions(entry.FeedbackOptions)),
		MidRatingFeedbackOptions: model.FeedbackOptionList(normalizeOptions(entry.MidRatingFeedbackOptions)),
	})
}

// CompanyModels converts the catalog's company entries into validated models.
func (catalog Catalog) CompanyModels() ([]model.Company, error) {
	companies := make([]model.Company, 0, len(catalog.Companies))
	for index, entry := range catalog.Companies {
		company, err := entry.Company()
		if err != nil {
			return nil, fmt.Errorf("%w: company %d: %v", ErrInvalidCatalog, index, err)
		}
		companies = append(companies, company)
	}
	return companies, nil
}

// CompanyWriter persists company configurations.
type CompanyWriter interface {
	UpsertCompany(ctx context.Context, company model.Company) error
}

// SeedCompanies upserts every catalog company.
func SeedCompanies(ctx context.Context, writer CompanyWriter, logger *zap.Logger, catalog Catalog) error {
	companies, err := catalog.CompanyModels()
	if err != nil {
		return err
	}
	for _, company := range companies {
		if upsertErr := writer.UpsertCompany(ctx, company); upsertErr != nil {
			return fmt.Errorf("seed company %s: %w", company.ID, upsertErr)
		}
		if logger != nil {
			logger.Info("company_seeded", zap.String("company_id", company.ID), zap.String("coupon_type", company.CouponType))
		}
	}
	return nil
}

func normalizeOptions(options []model.FeedbackOption) []model.FeedbackOption {
	normalized := make([]model.FeedbackOption, 0, len(options))
	seenCodes := make(map[string]struct{}, len(options))
	for _, option := range options {
		code := strings.ToLower(strings.TrimSpace(option.Code))
		label := strings.TrimSpace(option.Label)
		if code == "" {
			continue
		}
		if _, duplicate := seenCodes[code]; duplicate {
			continue
		}
		seenCodes[code] = struct{}{}
		if label == "" {
			label = code
		}
		normalized = append(normalized, model.FeedbackOption{Code: code, Label: label})
	}
	return normalized
}
