// Package feedbackoptions resolves the "what went wrong" issues shown to low and mid ratings.
package feedbackoptions

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/reviewfunnel/internal/model"
)

var defaultOptions = []model.FeedbackOption{
	{Code: "long_wait", Label: "Long waiting time"},
	{Code: "staff_attitude", Label: "Unfriendly staff"},
	{Code: "product_quality", Label: "Product or service quality"},
	{Code: "cleanliness", Label: "Cleanliness"},
	{Code: "price", Label: "Price"},
	{Code: "other", Label: "Other"},
}

// Source identifies where a resolved option list came from.
type Source string

const (
	SourceCompany  Source = "company"
	SourceIndustry Source = "industry"
	SourceDefault  Source = "default"
)

// CompanyLookup loads company configurations.
type CompanyLookup interface {
	FindCompany(ctx context.Context, companyID string) (model.Company, error)
}

// IndustryCatalog resolves industry-specific option lists.
type IndustryCatalog interface {
	IndustryOptionsFor(industry string, isMidRating bool) ([]model.FeedbackOption, bool)
}

// DefaultOptions returns a copy of the generic issue list.
func DefaultOptions() []model.FeedbackOption {
	return append([]model.FeedbackOption(nil), defaultOptions...)
}

// Provider resolves issue lists for a company and rating band.
type Provider struct {
	companies CompanyLookup
	catalog   IndustryCatalog
	logger    *zap.Logger
}

// NewProvider builds a Provider. A nil catalog disables industry lookups.
func NewProvider(companies CompanyLookup, catalog IndustryCatalog, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{companies: companies, catalog: catalog, logger: logger}
}

// Load prepares a deferred lookup; nothing is read until the options are first requested.
func (provider *Provider) Load(ctx context.Context, companyID string, isMidRating bool) *OptionsLoad {
	return &OptionsLoad{
		resolve: func() ([]model.FeedbackOption, Source) {
			return provider.resolve(ctx, companyID, isMidRating)
		},
	}
}

// Resolve performs the lookup for an already loaded company without touching the store.
func (provider *Provider) Resolve(company model.Company, isMidRating bool) ([]model.FeedbackOption, Source) {
	companyOptions := company.FeedbackOptions
	if isMidRating {
		companyOptions = company.MidRatingFeedbackOptions
	}
	if len(companyOptions) > 0 {
		return append([]model.FeedbackOption(nil), companyOptions...), SourceCompany
	}
	if provider.catalog != nil && company.Industry != "" {
		if industryOptions, found := provider.catalog.IndustryOptionsFor(company.Industry, isMidRating); found {
			return append([]model.FeedbackOption(nil), industryOptions...), SourceIndustry
		}
	}
	return DefaultOptions(), SourceDefault
}

func (provider *Provider) resolve(ctx context.Context, companyID string, isMidRating bool) ([]model.FeedbackOption, Source) {
	if provider.companies == nil {
		return DefaultOptions(), SourceDefault
	}
	company, err := provider.companies.FindCompany(ctx, companyID)
	if err != nil {
		provider.logger.Warn("feedback_options_lookup_failed", zap.Error(err), zap.String("company_id", companyID))
		return DefaultOptions(), SourceDefault
	}
	return provider.Resolve(company, isMidRating)
}

// OptionsLoad is a one-shot lookup of an ordered option list.
type OptionsLoad struct {
	once    sync.Once
	resolve func() ([]model.FeedbackOption, Source)
	options []model.FeedbackOption
	source  Source
}

// Options runs the lookup on first call and returns the same list afterwards.
func (load *OptionsLoad) Options() []model.FeedbackOption {
	load.once.Do(load.run)
	return append([]model.FeedbackOption(nil), load.options...)
}

// Source reports where the options came from, running the lookup if needed.
func (load *OptionsLoad) Source() Source {
	load.once.Do(load.run)
	return load.source
}

func (load *OptionsLoad) run() {
	load.options, load.source = load.resolve()
	load.resolve = nil
}
