package leadguard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/oarkflow/log"
)

// InquiryMessage is the structured message handed to the notification sink
// after a submission is accepted and sanitized.
type InquiryMessage struct {
	Recipient   string               `json:"recipient"`
	Subject     string               `json:"subject"`
	HTMLBody    string               `json:"htmlBody"`
	TextBody    string               `json:"textBody"`
	Submission  *SanitizedSubmission `json:"submission"`
	ClientIP    string               `json:"clientIP"`
	SubmittedAt time.Time            `json:"submittedAt"`
}

// NotificationSender delivers an inquiry message over one channel. The
// pipeline never inspects sink internals; it only sees success or a
// transport error.
type NotificationSender interface {
	Send(ctx context.Context, msg *InquiryMessage) error
	Name() string
}

// NotificationRegistry manages the configured senders.
type NotificationRegistry struct {
	senders map[string]NotificationSender
	mu      sync.RWMutex
}

func NewNotificationRegistry() *NotificationRegistry {
	return &NotificationRegistry{senders: make(map[string]NotificationSender)}
}

func (nr *NotificationRegistry) Register(sender NotificationSender) {
	nr.mu.Lock()
	defer nr.mu.Unlock()
	nr.senders[sender.Name()] = sender
}

func (nr *NotificationRegistry) Get(channel string) (NotificationSender, bool) {
	nr.mu.RLock()
	defer nr.mu.RUnlock()
	sender, exists := nr.senders[channel]
	return sender, exists
}

// BuildInquiryMessage renders the email subject and bodies from a sanitized
// submission.
func BuildInquiryMessage(sub *SanitizedSubmission, recipient, clientIP string, at time.Time) *InquiryMessage {
	subject := fmt.Sprintf("Nowe zapytanie o wycenę - %s (%.0f-%.0f PLN)", sub.ProjectType, sub.PriceMin, sub.PriceMax)

	var text strings.Builder
	fmt.Fprintf(&text, "Name: %s\nEmail: %s\n", sub.Name, sub.Email)
	if sub.Phone != "" {
		fmt.Fprintf(&text, "Phone: %s\n", sub.Phone)
	}
	if sub.Company != "" {
		fmt.Fprintf(&text, "Company: %s\n", sub.Company)
	}
	fmt.Fprintf(&text, "Project type: %s\nEstimate: %.0f-%.0f PLN\nLanguage: %s\n", sub.ProjectType, sub.PriceMin, sub.PriceMax, sub.Language)
	if len(sub.FeatureNames) > 0 {
		fmt.Fprintf(&text, "Features: %s\n", strings.Join(sub.FeatureNames, ", "))
	}
	if sub.Description != "" {
		fmt.Fprintf(&text, "\n%s\n", sub.Description)
	}

	var htmlBody strings.Builder
	htmlBody.WriteString("<h2>" + html.EscapeString(subject) + "</h2><ul>")
	fmt.Fprintf(&htmlBody, "<li><b>Name:</b> %s</li>", html.EscapeString(sub.Name))
	fmt.Fprintf(&htmlBody, "<li><b>Email:</b> %s</li>", html.EscapeString(sub.Email))
	if sub.Phone != "" {
		fmt.Fprintf(&htmlBody, "<li><b>Phone:</b> %s</li>", html.EscapeString(sub.Phone))
	}
	if sub.Company != "" {
		fmt.Fprintf(&htmlBody, "<li><b>Company:</b> %s</li>", html.EscapeString(sub.Company))
	}
	fmt.Fprintf(&htmlBody, "<li><b>Project type:</b> %s</li>", html.EscapeString(sub.ProjectType))
	fmt.Fprintf(&htmlBody, "<li><b>Estimate:</b> %.0f-%.0f PLN</li>", sub.PriceMin, sub.PriceMax)
	if len(sub.FeatureNames) > 0 {
		fmt.Fprintf(&htmlBody, "<li><b>Features:</b> %s</li>", html.EscapeString(strings.Join(sub.FeatureNames, ", ")))
	}
	htmlBody.WriteString("</ul>")
	if sub.Description != "" {
		fmt.Fprintf(&htmlBody, "<p>%s</p>", html.EscapeString(sub.Description))
	}

	return &InquiryMessage{
		Recipient:   recipient,
		Subject:     subject,
		HTMLBody:    htmlBody.String(),
		TextBody:    text.String(),
		Submission:  sub,
		ClientIP:    clientIP,
		SubmittedAt: at,
	}
}

const defaultResendEndpoint = "https://api.resend.com/emails"

// ResendSender delivers inquiry email through the Resend HTTP API.
type ResendSender struct {
	apiKey   string
	from     string
	endpoint string
	client   *http.Client
}

// ResendOption configures a ResendSender.
type ResendOption func(*ResendSender)

// WithResendEndpoint overrides the API endpoint, for tests.
func WithResendEndpoint(endpoint string) ResendOption {
	return func(s *ResendSender) {
		if endpoint != "" {
			s.endpoint = endpoint
		}
	}
}

// WithResendClient overrides the HTTP client.
func WithResendClient(client *http.Client) ResendOption {
	return func(s *ResendSender) {
		if client != nil {
			s.client = client
		}
	}
}

func NewResendSender(apiKey, from string, opts ...ResendOption) *ResendSender {
	s := &ResendSender{
		apiKey:   apiKey,
		from:     from,
		endpoint: defaultResendEndpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *ResendSender) Name() string {
	return "resend"
}

func (s *ResendSender) Send(ctx context.Context, msg *InquiryMessage) error {
	if s.apiKey == "" {
		return fmt.Errorf("resend api key not configured")
	}
	body := map[string]any{
		"from":    s.from,
		"to":      []string{msg.Recipient},
		"subject": msg.Subject,
		"html":    msg.HTMLBody,
		"text":    msg.TextBody,
		"headers": map[string]string{
			"X-Source":    "Contact-Form",
			"X-IP":        msg.ClientIP,
			"X-Timestamp": msg.SubmittedAt.Format(time.RFC3339),
		},
	}
	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal resend payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("create resend request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send resend request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("resend returned status %d", resp.StatusCode)
	}
	return nil
}

// WebhookSender posts the whole inquiry message to an HTTP webhook.
type WebhookSender struct {
	url    string
	client *http.Client
}

func NewWebhookSender(url string, client *http.Client) *WebhookSender {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookSender{url: url, client: client}
}

func (s *WebhookSender) Name() string {
	return "webhook"
}

func (s *WebhookSender) Send(ctx context.Context, msg *InquiryMessage) error {
	if s.url == "" {
		return fmt.Errorf("webhook url not configured")
	}
	jsonData, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// LogSender writes the inquiry to the structured log instead of delivering
// it anywhere. Useful for local development.
type LogSender struct {
	logger *log.Logger
}

func NewLogSender(logger *log.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Name() string {
	return "log"
}

func (s *LogSender) Send(_ context.Context, msg *InquiryMessage) error {
	if s.logger != nil {
		s.logger.Info().
			Str("recipient", msg.Recipient).
			Str("subject", msg.Subject).
			Str("client_ip", msg.ClientIP).
			Msg("inquiry delivered to log sink")
	}
	return nil
}
