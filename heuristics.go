package leadguard

import (
	"regexp"
	"strings"
	"time"
)

// MinFillTime is the floor under which a form submission is considered
// scripted: a human cannot plausibly complete the form faster.
const MinFillTime = 5000 * time.Millisecond

var emailShape = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Domains (or domain substrings) that mark throwaway addresses.
var disposableDomainParts = []string{
	"temp", "disposable", "fake", "test", "spam",
	"mailinator", "trashmail", "10minutemail",
}

// HeuristicCheck is one named, side-effect-free predicate over a submission.
// A nil result means the check passed.
type HeuristicCheck struct {
	Name  string
	Check func(sub *SubmissionRequest, now time.Time) *Rejection
}

// Classifier runs the heuristic checks in registration order and reports the
// first failure. All checks are order-insensitive for correctness; the
// registration order just puts the cheapest and most decisive first.
type Classifier struct {
	checks         []HeuristicCheck
	signatures     *SignatureSet
	requireCaptcha bool
	minFillTime    time.Duration
}

// ClassifierOption configures a Classifier.
type ClassifierOption func(*Classifier)

// WithRequiredCaptcha makes the third-party human-verification token
// mandatory. Verifying the token itself is the delegated collaborator's job;
// this check only enforces presence.
func WithRequiredCaptcha(required bool) ClassifierOption {
	return func(c *Classifier) {
		c.requireCaptcha = required
	}
}

// WithMinFillTime overrides the timing floor.
func WithMinFillTime(d time.Duration) ClassifierOption {
	return func(c *Classifier) {
		if d > 0 {
			c.minFillTime = d
		}
	}
}

// NewClassifier builds a classifier over the given signature set.
func NewClassifier(signatures *SignatureSet, opts ...ClassifierOption) *Classifier {
	if signatures == nil {
		signatures = DefaultSignatures()
	}
	c := &Classifier{
		signatures:  signatures,
		minFillTime: MinFillTime,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.checks = []HeuristicCheck{
		{Name: "required_fields", Check: c.checkRequiredFields},
		{Name: "honeypot", Check: c.checkHoneypot},
		{Name: "timing", Check: c.checkTiming},
		{Name: "captcha_presence", Check: c.checkCaptchaPresence},
		{Name: "email", Check: c.checkEmail},
		{Name: "price", Check: c.checkPrice},
		{Name: "content", Check: c.checkContent},
	}
	return c
}

// Classify returns the first failing check's rejection, or nil when the
// submission passes every heuristic.
func (c *Classifier) Classify(sub *SubmissionRequest, now time.Time) *Rejection {
	for _, check := range c.checks {
		if rej := check.Check(sub, now); rej != nil {
			return rej
		}
	}
	return nil
}

// Checks returns the registered check names in evaluation order.
func (c *Classifier) Checks() []string {
	names := make([]string, 0, len(c.checks))
	for _, check := range c.checks {
		names = append(names, check.Name)
	}
	return names
}

func (c *Classifier) checkRequiredFields(sub *SubmissionRequest, _ time.Time) *Rejection {
	if strings.TrimSpace(sub.Name) == "" ||
		strings.TrimSpace(sub.Email) == "" ||
		strings.TrimSpace(sub.ProjectType) == "" {
		return reject(ReasonMalformedInput, "Name, email, and project type are required")
	}
	return nil
}

func (c *Classifier) checkHoneypot(sub *SubmissionRequest, _ time.Time) *Rejection {
	if strings.TrimSpace(sub.Website) != "" {
		return reject(ReasonHoneypotTripped, "")
	}
	return nil
}

func (c *Classifier) checkTiming(sub *SubmissionRequest, now time.Time) *Rejection {
	if sub.RenderedAt <= 0 {
		return nil
	}
	elapsed := now.UnixMilli() - sub.RenderedAt
	if elapsed < c.minFillTime.Milliseconds() {
		return reject(ReasonTimingSuspicious, "")
	}
	return nil
}

func (c *Classifier) checkCaptchaPresence(sub *SubmissionRequest, _ time.Time) *Rejection {
	if c.requireCaptcha && strings.TrimSpace(sub.CaptchaToken) == "" {
		return reject(ReasonMalformedInput, "Verification required")
	}
	return nil
}

func (c *Classifier) checkEmail(sub *SubmissionRequest, _ time.Time) *Rejection {
	email := strings.TrimSpace(sub.Email)
	if !emailShape.MatchString(email) {
		return reject(ReasonMalformedInput, "Invalid email format")
	}
	domain := strings.ToLower(email[strings.LastIndex(email, "@")+1:])
	for _, part := range disposableDomainParts {
		if strings.Contains(domain, part) {
			return reject(ReasonMalformedInput, "Invalid email format")
		}
	}
	return nil
}

func (c *Classifier) checkPrice(sub *SubmissionRequest, _ time.Time) *Rejection {
	if !sub.Price.valid() {
		return reject(ReasonMalformedInput, "Invalid price data")
	}
	return nil
}

func (c *Classifier) checkContent(sub *SubmissionRequest, _ time.Time) *Rejection {
	joined := sub.Name + " " + sub.Description + " " + sub.Company
	if _, matched := c.signatures.Match(joined); matched {
		return reject(ReasonSpamContent, "")
	}
	return nil
}
