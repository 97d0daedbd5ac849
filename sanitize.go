package leadguard

import "strings"

// Free-text fields are capped at this many characters after trimming.
const maxFieldLen = 1000

// Languages the inquiry email can be rendered in. Unknown values map to the
// default.
var allowedLanguages = map[string]bool{
	"pl": true,
	"en": true,
}

const defaultLanguage = "pl"

// SanitizeText trims, strips angle brackets, and caps the length of one
// free-text field. Idempotent over already-sanitized input.
func SanitizeText(s string) string {
	s = strings.Map(func(r rune) rune {
		if r == '<' || r == '>' {
			return -1
		}
		return r
	}, s)
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) > maxFieldLen {
		s = string(runes[:maxFieldLen])
	}
	// The cap can leave trailing whitespace behind.
	return strings.TrimSpace(s)
}

// NormalizeLanguage whitelists the language code.
func NormalizeLanguage(lang string) string {
	if allowedLanguages[lang] {
		return lang
	}
	return defaultLanguage
}

// SanitizeSubmission produces the cleaned projection that is forwarded to
// the notification sink. Price must already be validated.
func SanitizeSubmission(sub *SubmissionRequest) *SanitizedSubmission {
	return &SanitizedSubmission{
		Name:             SanitizeText(sub.Name),
		Email:            SanitizeText(sub.Email),
		Phone:            SanitizeText(sub.Phone),
		Company:          SanitizeText(sub.Company),
		Description:      SanitizeText(sub.Description),
		ProjectType:      SanitizeText(sub.ProjectType),
		Language:         NormalizeLanguage(sub.Language),
		PriceMin:         *sub.Price.Min,
		PriceMax:         *sub.Price.Max,
		SelectedFeatures: sub.SelectedFeatures,
		FeatureNames:     sub.FeatureNames,
	}
}
