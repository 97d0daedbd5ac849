package leadguard

import (
	"context"
	"time"

	"github.com/oarkflow/log"
)

// Orchestrator runs a submission through every guard stage in a fixed
// order: rate limit, token, heuristics, sanitization, delivery. The first
// failing stage short-circuits the rest; each failure maps to exactly one
// Reason so callers never see a raw error.
type Orchestrator struct {
	limiter    *Limiter
	tokens     *TokenService
	classifier *Classifier

	sink      NotificationSender
	recipient string

	ledger  Ledger
	metrics MetricsCollector
	logger  *log.Logger
	clock   func() time.Time

	sinkTimeout time.Duration
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithSink sets the delivery sink and its recipient address. Without a
// sink, accepted submissions are validated and recorded but not delivered.
func WithSink(sink NotificationSender, recipient string) OrchestratorOption {
	return func(o *Orchestrator) {
		o.sink = sink
		o.recipient = recipient
	}
}

// WithLedger sets the submission audit ledger.
func WithLedger(ledger Ledger) OrchestratorOption {
	return func(o *Orchestrator) {
		o.ledger = ledger
	}
}

// WithOrchestratorMetrics sets the metrics collector.
func WithOrchestratorMetrics(m MetricsCollector) OrchestratorOption {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithOrchestratorLogger sets the logger.
func WithOrchestratorLogger(logger *log.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithOrchestratorClock overrides the wall clock, for tests.
func WithOrchestratorClock(clock func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithSinkTimeout bounds how long one delivery attempt may take.
func WithSinkTimeout(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if d > 0 {
			o.sinkTimeout = d
		}
	}
}

func NewOrchestrator(limiter *Limiter, tokens *TokenService, classifier *Classifier, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		limiter:     limiter,
		tokens:      tokens,
		classifier:  classifier,
		clock:       time.Now,
		sinkTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Process runs one submission through the pipeline. A nil Rejection means
// the submission was accepted and (when a sink is configured) delivered;
// the returned SanitizedSubmission is what the sink saw. All panics are
// converted to an internal-fault rejection so the caller always gets a
// well-formed outcome.
func (o *Orchestrator) Process(ctx context.Context, identity ClientIdentity, sub *SubmissionRequest) (clean *SanitizedSubmission, rejection *Rejection) {
	defer func() {
		if r := recover(); r != nil {
			if o.logger != nil {
				o.logger.Error().Interface("panic", r).Str("client", identity.IP).Msg("submission pipeline panicked")
			}
			clean = nil
			rejection = reject(ReasonInternalFault, "")
			o.finish(identity, rejection)
		}
	}()

	admitted, err := o.limiter.CheckAndRecord(identity.Key())
	if err != nil {
		if o.logger != nil {
			o.logger.Error().Err(err).Msg("guard store unavailable")
		}
		rejection = reject(ReasonInternalFault, "")
		o.finish(identity, rejection)
		return nil, rejection
	}
	if !admitted {
		rejection = reject(ReasonRateLimited, "")
		o.finish(identity, rejection)
		return nil, rejection
	}

	// A body that never parsed is still a submission attempt: it consumed
	// a window slot above and counts toward lockout like any other
	// malformed input.
	if sub == nil {
		rejection = o.fail(identity, reject(ReasonMalformedInput, ""))
		return nil, rejection
	}

	if !o.tokens.Verify(sub.CSRFToken, sub.Fingerprint, identity) {
		rejection = o.fail(identity, reject(ReasonInvalidToken, ""))
		return nil, rejection
	}

	if r := o.classifier.Classify(sub, o.clock()); r != nil {
		rejection = o.fail(identity, r)
		return nil, rejection
	}

	clean = SanitizeSubmission(sub)

	if o.sink != nil {
		msg := BuildInquiryMessage(clean, o.recipient, identity.IP, o.clock())
		sendCtx, cancel := context.WithTimeout(ctx, o.sinkTimeout)
		err := o.sink.Send(sendCtx, msg)
		cancel()
		if err != nil {
			if o.logger != nil {
				o.logger.Error().Err(err).Str("sink", o.sink.Name()).Msg("inquiry delivery failed")
			}
			// Delivery failure is our problem, not the client's: it is
			// reported but never counted toward lockout.
			rejection = reject(ReasonDeliveryFailed, "")
			o.finish(identity, rejection)
			return nil, rejection
		}
	}

	if o.logger != nil {
		o.logger.Info().Str("client", identity.IP).Str("projectType", clean.ProjectType).Msg("inquiry accepted")
	}
	o.finish(identity, nil)
	return clean, nil
}

// fail records a guarded-stage rejection, bumping the lockout counter for
// reasons that indicate abuse.
func (o *Orchestrator) fail(identity ClientIdentity, rejection *Rejection) *Rejection {
	if countsTowardLockout(rejection.Reason) {
		if err := o.limiter.RecordFailure(identity.Key()); err != nil && o.logger != nil {
			o.logger.Error().Err(err).Msg("failed to record guard failure")
		}
	}
	if o.logger != nil {
		o.logger.Warn().Str("client", identity.IP).Str("reason", string(rejection.Reason)).Msg("inquiry rejected")
	}
	o.finish(identity, rejection)
	return rejection
}

// finish writes the outcome to the ledger and metrics. Best effort: a
// broken ledger never changes the client-visible result.
func (o *Orchestrator) finish(identity ClientIdentity, rejection *Rejection) {
	outcome := "accepted"
	accepted := true
	var reason Reason
	if rejection != nil {
		outcome = string(rejection.Reason)
		accepted = false
		reason = rejection.Reason
	}
	if o.metrics != nil {
		o.metrics.IncrementCounter("inquiry_submissions_total", map[string]string{"outcome": outcome})
	}
	if o.ledger != nil {
		event := NewSubmissionEvent(identity.Key(), accepted, reason, o.clock())
		if err := o.ledger.Record(event); err != nil && o.logger != nil {
			o.logger.Error().Err(err).Msg("failed to record submission event")
		}
	}
}
