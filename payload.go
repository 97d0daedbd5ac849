package leadguard

// Price is a min/max estimate range in the configured currency. Pointers
// distinguish absent fields from zero values during validation.
type Price struct {
	Min *float64 `json:"min"`
	Max *float64 `json:"max"`
}

func (p *Price) valid() bool {
	return p != nil && p.Min != nil && p.Max != nil
}

// SubmissionRequest is the untrusted body of a send-inquiry request. It is
// never persisted; after validation the sanitized projection is handed to the
// notification sink and the rest is discarded.
type SubmissionRequest struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	Company     string `json:"company"`
	Description string `json:"description"`
	ProjectType string `json:"projectType"`
	Language    string `json:"language"`

	Price            *Price   `json:"price"`
	SelectedFeatures []string `json:"selectedFeatures"`
	FeatureNames     []string `json:"featureNames"`

	// RenderedAt is the client-reported form render time in epoch
	// milliseconds, used by the timing heuristic.
	RenderedAt int64 `json:"timestamp"`

	// Website is the honeypot field. Invisible to sighted users; any
	// non-empty value means a scripted filler.
	Website string `json:"website"`

	CSRFToken    string `json:"csrfToken"`
	Fingerprint  string `json:"fingerprint"`
	CaptchaToken string `json:"captchaToken"`
}

// SanitizedSubmission is the cleaned field set forwarded to the sink.
type SanitizedSubmission struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	Phone       string `json:"phone,omitempty"`
	Company     string `json:"company,omitempty"`
	Description string `json:"description,omitempty"`
	ProjectType string `json:"projectType"`
	Language    string `json:"language"`

	PriceMin float64 `json:"priceMin"`
	PriceMax float64 `json:"priceMax"`

	SelectedFeatures []string `json:"selectedFeatures,omitempty"`
	FeatureNames     []string `json:"featureNames,omitempty"`
}
