package main

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"

	"github.com/MarkoPoloResearchLab/reviewfunnel/internal/catalog"
	"github.com/MarkoPoloResearchLab/reviewfunnel/internal/model"
)

const defaultCatalogPath = "catalog.yml"

var errAuditFailed = errors.New("catalog_audit_failed")

type auditResult struct {
	errors   []string
	warnings []string
}

func (result *auditResult) addError(message string, arguments ...any) {
	result.errors = append(result.errors, fmt.Sprintf(message, arguments...))
}

func (result *auditResult) addWarning(message string, arguments ...any) {
	result.warnings = append(result.warnings, fmt.Sprintf(message, arguments...))
}

func (result auditResult) ok() bool {
	return len(result.errors) == 0
}

func (result auditResult) err() error {
	if result.ok() {
		return nil
	}
	return fmt.Errorf("%w: %d problem(s)", errAuditFailed, len(result.errors))
}

func main() {
	catalogPath := defaultCatalogPath
	if len(os.Args) > 1 && strings.TrimSpace(os.Args[1]) != "" {
		catalogPath = os.Args[1]
	}

	result := runAudit(catalogPath)
	sort.Strings(result.errors)
	sort.Strings(result.warnings)

	for _, warning := range result.warnings {
		_, _ = fmt.Fprintf(os.Stdout, "WARN: %s\n", warning)
	}
	for _, errorMessage := range result.errors {
		_, _ = fmt.Fprintf(os.Stderr, "ERROR: %s\n", errorMessage)
	}
	if auditErr := result.err(); auditErr != nil {
		_, _ = fmt.Fprintf(os.Stderr, "catalog-audit failed: %v\n", auditErr)
		os.Exit(1)
	}
	_, _ = fmt.Fprintf(os.Stdout, "catalog-audit OK\n")
}

func runAudit(catalogPath string) auditResult {
	var result auditResult

	loaded, loadErr := catalog.LoadFile(catalogPath)
	if loadErr != nil {
		result.addError("load catalog %s: %v", catalogPath, loadErr)
		return result
	}
	if len(loaded.Companies) == 0 {
		result.addError("catalog %s: no companies defined", catalogPath)
		return result
	}

	seenCompanies := make(map[string]int, len(loaded.Companies))
	referencedIndustries := make(map[string]struct{})
	for index, entry := range loaded.Companies {
		label := companyLabel(index, entry)
		company, companyErr := entry.Company()
		if companyErr != nil {
			result.addError("%s: %v", label, companyErr)
			continue
		}
		if previousIndex, duplicate := seenCompanies[company.ID]; duplicate {
			result.addError("%s: duplicate id, first defined at position %d", label, previousIndex)
			continue
		}
		seenCompanies[company.ID] = index
		if company.Industry != "" {
			referencedIndustries[company.Industry] = struct{}{}
		}

		auditRewardDelivery(label, company, &result)
		auditSocialTasks(label, company, &result)
		auditFeedbackOptions(label, "feedback_options", entry.FeedbackOptions, &result)
		auditFeedbackOptions(label, "mid_rating_feedback_options", entry.MidRatingFeedbackOptions, &result)
		auditOptionFallback(label, company, loaded, &result)
	}

	for industryName, options := range loaded.Industries {
		if _, referenced := referencedIndustries[industryName]; !referenced {
			result.addWarning("industry %s: not used by any company", industryName)
		}
		if len(options.FeedbackOptions) == 0 {
			result.addWarning("industry %s: no feedback_options", industryName)
		}
	}

	return result
}

func companyLabel(index int, entry catalog.CompanyEntry) string {
	identifier := strings.TrimSpace(entry.ID)
	if identifier == "" {
		return fmt.Sprintf("company #%d", index)
	}
	return fmt.Sprintf("company %s", identifier)
}

func auditRewardDelivery(label string, company model.Company, result *auditResult) {
	sendsCoupon := company.SendCouponEmail || company.SendCouponSMS
	switch company.CouponType {
	case model.CouponTypeCoupon:
		if !sendsCoupon {
			result.addWarning("%s: coupon codes are only shown on screen (send_coupon_email and send_coupon_sms are off)", label)
		}
	default:
		if sendsCoupon {
			result.addWarning("%s: coupon delivery is enabled but coupon_type is %s", label, company.CouponType)
		}
	}
	if company.SendGoogleReviewEmail && company.GoogleReviewURL == "" {
		result.addError("%s: send_google_review_email requires google_review_url", label)
	}
	if company.GoogleReviewURL != "" && !isWebURL(company.GoogleReviewURL) {
		result.addError("%s: google_review_url %q is not an http(s) URL", label, company.GoogleReviewURL)
	}
}

func auditSocialTasks(label string, company model.Company, result *auditResult) {
	for _, socialTask := range company.SocialTasks {
		if socialTask.URL == "" {
			result.addError("%s: social task %s has no url", label, socialTask.ID())
			continue
		}
		if !isWebURL(socialTask.URL) {
			result.addError("%s: social task %s url %q is not an http(s) URL", label, socialTask.ID(), socialTask.URL)
		}
	}
}

func auditFeedbackOptions(label string, listName string, options []model.FeedbackOption, result *auditResult) {
	seenCodes := make(map[string]struct{}, len(options))
	for _, option := range options {
		code := strings.ToLower(strings.TrimSpace(option.Code))
		if code == "" {
			result.addWarning("%s: %s contains an option without code", label, listName)
			continue
		}
		if _, duplicate := seenCodes[code]; duplicate {
			result.addWarning("%s: %s repeats code %s", label, listName, code)
		}
		seenCodes[code] = struct{}{}
	}
}

func auditOptionFallback(label string, company model.Company, loaded catalog.Catalog, result *auditResult) {
	if len(company.FeedbackOptions) > 0 {
		return
	}
	if company.Industry == "" {
		result.addWarning("%s: no feedback_options and no industry, default issues will be shown", label)
		return
	}
	if _, found := loaded.IndustryOptionsFor(company.Industry, false); !found {
		result.addWarning("%s: industry %s has no issue list, default issues will be shown", label, company.Industry)
	}
}

func isWebURL(raw string) bool {
	parsed, parseErr := url.Parse(raw)
	if parseErr != nil {
		return false
	}
	return (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host != ""
}
