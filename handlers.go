package leadguard

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/oarkflow/log"
	"golang.org/x/time/rate"
)

// Server owns the HTTP surface: token issuance, submission intake, and the
// operator endpoints.
type Server struct {
	app *fiber.App

	tokens       *TokenService
	orchestrator *Orchestrator
	store        GuardStore
	ledger       Ledger
	profiler     *TrafficProfiler
	metrics      MetricsCollector
	logger       *log.Logger

	// issuance is a process-wide throttle on token minting, separate from
	// the per-identity limiter: issuing is cheap but not free, and a token
	// stampede should degrade before it reaches the crypto.
	issuance *rate.Limiter

	startedAt time.Time
}

type ServerOption func(*Server)

// WithIssuanceRate overrides the global token issuance throttle.
func WithIssuanceRate(perSecond float64, burst int) ServerOption {
	return func(s *Server) {
		s.issuance = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

func WithServerLedger(ledger Ledger) ServerOption {
	return func(s *Server) {
		s.ledger = ledger
	}
}

func WithServerProfiler(p *TrafficProfiler) ServerOption {
	return func(s *Server) {
		s.profiler = p
	}
}

func WithServerMetrics(m MetricsCollector) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

func WithServerLogger(logger *log.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func NewServer(tokens *TokenService, orchestrator *Orchestrator, store GuardStore, edge *EdgeFilter, opts ...ServerOption) *Server {
	s := &Server{
		tokens:       tokens,
		orchestrator: orchestrator,
		store:        store,
		issuance:     rate.NewLimiter(rate.Limit(50), 100),
		startedAt:    time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.app = fiber.New(fiber.Config{
		DisableStartupMessage: true,
		BodyLimit:             64 * 1024,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          15 * time.Second,
	})
	s.app.Use(requestID())
	if edge != nil {
		s.app.Use(edge.Handler())
	}

	s.app.Get("/api/csrf", s.handleIssueToken)
	s.app.Post("/api/send", s.handleSubmit)
	s.app.Get("/api/guard/summary", s.handleSummary)
	s.app.Get("/api/guard/profile", s.handleProfile)
	s.app.Get("/healthz", s.handleHealth)
	s.app.Get("/metrics", s.handleMetrics)

	return s
}

// App exposes the fiber app, for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

func requestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Locals("requestID", id)
		c.Set("X-Request-ID", id)
		return c.Next()
	}
}

func (s *Server) handleIssueToken(c *fiber.Ctx) error {
	if !s.issuance.Allow() {
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"error": defaultMessages[ReasonRateLimited],
		})
	}
	identity := IdentityFromCtx(c)
	issued, err := s.tokens.Issue(identity)
	if err != nil {
		if s.logger != nil {
			s.logger.Error().Err(err).Msg("token issuance failed")
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": defaultMessages[ReasonInternalFault],
		})
	}
	if s.metrics != nil {
		s.metrics.IncrementCounter("inquiry_tokens_issued_total", nil)
	}
	c.Set("Cache-Control", "no-store")
	return c.JSON(issued)
}

func (s *Server) handleSubmit(c *fiber.Ctx) error {
	identity := IdentityFromCtx(c)

	var sub SubmissionRequest
	parsed := &sub
	if err := c.BodyParser(&sub); err != nil {
		if s.logger != nil {
			s.logger.Warn().Err(err).Str("client", identity.IP).Msg("unparseable submission body")
		}
		// Hand the attempt to the pipeline anyway so it is charged
		// against the window and lockout like any other rejection.
		parsed = nil
	}

	// The reason tag stays server side (ledger, logs, metrics); clients
	// only see the status code and a generic message.
	if _, rejection := s.orchestrator.Process(c.Context(), identity, parsed); rejection != nil {
		return c.Status(StatusFor(rejection.Reason)).JSON(fiber.Map{
			"error": rejection.Message,
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Zapytanie zostało wysłane",
	})
}

func (s *Server) handleSummary(c *fiber.Ctx) error {
	if s.ledger == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "ledger not configured"})
	}
	summary, err := s.ledger.Summary()
	if err != nil {
		if s.logger != nil {
			s.logger.Error().Err(err).Msg("ledger summary failed")
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": defaultMessages[ReasonInternalFault],
		})
	}
	return c.JSON(summary)
}

func (s *Server) handleProfile(c *fiber.Ctx) error {
	if s.profiler == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "profiler not configured"})
	}
	ip := c.Query("ip")
	if ip == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing ip parameter"})
	}
	return c.JSON(s.profiler.Snapshot(ip))
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	status := "ok"
	code := fiber.StatusOK
	if s.store != nil {
		if err := s.store.HealthCheck(); err != nil {
			status = "degraded"
			code = fiber.StatusServiceUnavailable
		}
	}
	return c.Status(code).JSON(fiber.Map{
		"status": status,
		"uptime": time.Since(s.startedAt).String(),
	})
}

func (s *Server) handleMetrics(c *fiber.Ctx) error {
	if s.metrics == nil {
		return c.SendString("")
	}
	c.Set("Content-Type", "text/plain; version=0.0.4")
	return c.SendString(s.metrics.ExportPrometheus())
}
