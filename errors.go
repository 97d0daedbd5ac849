package leadguard

import "net/http"

// Reason tags a rejected submission. Every stage-local failure maps to
// exactly one reason; nothing propagates as an unhandled fault.
type Reason string

const (
	ReasonRateLimited         Reason = "rate_limited"
	ReasonInvalidToken        Reason = "invalid_token"
	ReasonTimingSuspicious    Reason = "timing_suspicious"
	ReasonHoneypotTripped     Reason = "honeypot_tripped"
	ReasonSpamContent         Reason = "spam_content"
	ReasonMalformedInput      Reason = "malformed_input"
	ReasonDeliveryFailed      Reason = "delivery_failed"
	ReasonInternalFault       Reason = "internal_fault"
)

// Rejection carries a tagged reason plus the client-visible message.
// Security-sensitive reasons keep a deliberately generic message; malformed
// input may be specific enough to help a legitimate user fix their form.
type Rejection struct {
	Reason  Reason
	Message string
}

func (r *Rejection) Error() string {
	return string(r.Reason) + ": " + r.Message
}

func reject(reason Reason, message string) *Rejection {
	if message == "" {
		message = defaultMessages[reason]
	}
	return &Rejection{Reason: reason, Message: message}
}

var defaultMessages = map[Reason]string{
	ReasonRateLimited:      "Too many requests. Please try again later.",
	ReasonInvalidToken:     "Invalid security token",
	ReasonTimingSuspicious: "Please take more time to fill the form",
	ReasonHoneypotTripped:  "Unable to process request",
	ReasonSpamContent:      "Content appears to be spam",
	ReasonMalformedInput:   "Invalid request",
	ReasonDeliveryFailed:   "Failed to send email. Please try again.",
	ReasonInternalFault:    "Internal server error. Please try again later.",
}

var reasonStatus = map[Reason]int{
	ReasonRateLimited:      http.StatusTooManyRequests,
	ReasonInvalidToken:     http.StatusForbidden,
	ReasonTimingSuspicious: http.StatusBadRequest,
	ReasonHoneypotTripped:  http.StatusBadRequest,
	ReasonSpamContent:      http.StatusBadRequest,
	ReasonMalformedInput:   http.StatusBadRequest,
	ReasonDeliveryFailed:   http.StatusInternalServerError,
	ReasonInternalFault:    http.StatusInternalServerError,
}

// StatusFor returns the HTTP status for a rejection reason.
func StatusFor(reason Reason) int {
	if status, ok := reasonStatus[reason]; ok {
		return status
	}
	return http.StatusBadRequest
}

// countsTowardLockout reports whether a rejection should increment the
// failure-lockout counter. Delivery failure is not evidence of abuse, and
// internal faults are ours, not the client's.
func countsTowardLockout(reason Reason) bool {
	switch reason {
	case ReasonDeliveryFailed, ReasonInternalFault:
		return false
	}
	return true
}
