package leadguard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSanitized() *SanitizedSubmission {
	return &SanitizedSubmission{
		Name:         "Jan Kowalski",
		Email:        "jan@example.com",
		Phone:        "600 700 800",
		Company:      "Firma & Syn",
		Description:  "Opis projektu",
		ProjectType:  "webapp",
		Language:     "pl",
		PriceMin:     5000,
		PriceMax:     12000,
		FeatureNames: []string{"Logowanie", "Płatności"},
	}
}

func TestBuildInquiryMessage(t *testing.T) {
	at := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	msg := BuildInquiryMessage(sampleSanitized(), "owner@example.com", "203.0.113.7", at)

	assert.Equal(t, "owner@example.com", msg.Recipient)
	assert.Equal(t, "Nowe zapytanie o wycenę - webapp (5000-12000 PLN)", msg.Subject)
	assert.Equal(t, "203.0.113.7", msg.ClientIP)
	assert.Equal(t, at, msg.SubmittedAt)

	assert.Contains(t, msg.TextBody, "Name: Jan Kowalski")
	assert.Contains(t, msg.TextBody, "Estimate: 5000-12000 PLN")
	assert.Contains(t, msg.TextBody, "Logowanie, Płatności")

	assert.Contains(t, msg.HTMLBody, "Firma &amp; Syn", "html body escapes field values")
	assert.Contains(t, msg.HTMLBody, "<li><b>Email:</b> jan@example.com</li>")
}

func TestBuildInquiryMessageOmitsEmptyFields(t *testing.T) {
	sub := sampleSanitized()
	sub.Phone = ""
	sub.Company = ""
	sub.FeatureNames = nil
	sub.Description = ""

	msg := BuildInquiryMessage(sub, "owner@example.com", "203.0.113.7", time.Now())
	assert.NotContains(t, msg.TextBody, "Phone:")
	assert.NotContains(t, msg.TextBody, "Company:")
	assert.NotContains(t, msg.TextBody, "Features:")
	assert.NotContains(t, msg.HTMLBody, "Phone:")
}

func TestResendSenderSend(t *testing.T) {
	var captured map[string]any
	var auth, contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		contentType = r.Header.Get("Content-Type")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender := NewResendSender("rs-key", "Wycena <noreply@example.com>", WithResendEndpoint(srv.URL))
	msg := BuildInquiryMessage(sampleSanitized(), "owner@example.com", "203.0.113.7", time.Now())
	require.NoError(t, sender.Send(context.Background(), msg))

	assert.Equal(t, "Bearer rs-key", auth)
	assert.Equal(t, "application/json", contentType)
	assert.Equal(t, "Wycena <noreply@example.com>", captured["from"])
	assert.Equal(t, []any{"owner@example.com"}, captured["to"])
	assert.Equal(t, msg.Subject, captured["subject"])

	headers, ok := captured["headers"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Contact-Form", headers["X-Source"])
	assert.Equal(t, "203.0.113.7", headers["X-IP"])
}

func TestResendSenderErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	sender := NewResendSender("rs-key", "from@example.com", WithResendEndpoint(srv.URL))
	msg := BuildInquiryMessage(sampleSanitized(), "owner@example.com", "ip", time.Now())
	err := sender.Send(context.Background(), msg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "422")

	unkeyed := NewResendSender("", "from@example.com", WithResendEndpoint(srv.URL))
	assert.Error(t, unkeyed.Send(context.Background(), msg))
}

func TestWebhookSender(t *testing.T) {
	var captured InquiryMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sender := NewWebhookSender(srv.URL, nil)
	msg := BuildInquiryMessage(sampleSanitized(), "owner@example.com", "203.0.113.7", time.Now())
	require.NoError(t, sender.Send(context.Background(), msg))
	assert.Equal(t, msg.Subject, captured.Subject)
	assert.Equal(t, "203.0.113.7", captured.ClientIP)
}

func TestWebhookSenderFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	sender := NewWebhookSender(srv.URL, nil)
	msg := BuildInquiryMessage(sampleSanitized(), "owner@example.com", "ip", time.Now())
	assert.Error(t, sender.Send(context.Background(), msg))

	unconfigured := NewWebhookSender("", nil)
	assert.Error(t, unconfigured.Send(context.Background(), msg))
}

func TestNotificationRegistry(t *testing.T) {
	registry := NewNotificationRegistry()
	sender := &captureSink{}
	registry.Register(sender)

	got, ok := registry.Get("capture")
	require.True(t, ok)
	assert.Same(t, sender, got.(*captureSink))

	_, ok = registry.Get("missing")
	assert.False(t, ok)
}
