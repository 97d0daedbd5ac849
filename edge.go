package leadguard

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/mssola/useragent"
	"github.com/oarkflow/log"
)

// Header names whose presence usually means someone is probing for a
// host-override or path-rewrite hole behind the proxy.
var suspiciousHeaders = []string{
	"X-Forwarded-Host",
	"X-Original-URL",
	"X-Rewrite-URL",
}

// Substrings that mark an obviously automated client before the parser
// even runs.
var botUASubstrings = []string{
	"bot", "crawler", "spider", "scraper", "wget", "curl", "python", "php",
}

// CountryResolver maps a client address to an ISO country code. Optional;
// deployments without a geo database leave it nil.
type CountryResolver func(ip string) (string, bool)

// EdgeFilter is the first line of request screening: it stamps security
// headers on every response and drops traffic that no legitimate form
// client would ever produce.
type EdgeFilter struct {
	blocked          []*net.IPNet
	blockedCountries map[string]bool
	resolver         CountryResolver
	profiler         *TrafficProfiler
	logger           *log.Logger
	metrics          MetricsCollector
	allowBots        bool
}

type EdgeOption func(*EdgeFilter)

// WithBlockedCIDRs installs a network denylist. Single IPs are accepted
// alongside CIDR notation.
func WithBlockedCIDRs(cidrs []string) EdgeOption {
	return func(e *EdgeFilter) {
		e.blocked = parseCIDRs(cidrs)
	}
}

// WithCountryBlock installs a country denylist backed by the given
// resolver. Unresolvable addresses are let through.
func WithCountryBlock(resolver CountryResolver, countries []string) EdgeOption {
	return func(e *EdgeFilter) {
		e.resolver = resolver
		e.blockedCountries = make(map[string]bool, len(countries))
		for _, c := range countries {
			e.blockedCountries[strings.ToUpper(strings.TrimSpace(c))] = true
		}
	}
}

// WithBotBypass disables the automated-client filter, for load tests.
func WithBotBypass() EdgeOption {
	return func(e *EdgeFilter) {
		e.allowBots = true
	}
}

// WithEdgeProfiler records every screened request into the traffic
// profiler, including the ones that get dropped.
func WithEdgeProfiler(p *TrafficProfiler) EdgeOption {
	return func(e *EdgeFilter) {
		e.profiler = p
	}
}

func WithEdgeLogger(logger *log.Logger) EdgeOption {
	return func(e *EdgeFilter) {
		e.logger = logger
	}
}

func WithEdgeMetrics(m MetricsCollector) EdgeOption {
	return func(e *EdgeFilter) {
		e.metrics = m
	}
}

func NewEdgeFilter(opts ...EdgeOption) *EdgeFilter {
	e := &EdgeFilter{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Handler returns the fiber middleware.
func (e *EdgeFilter) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		nonce, err := cspNonce()
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": defaultMessages[ReasonInternalFault]})
		}
		applySecurityHeaders(c, nonce)
		c.Locals("cspNonce", nonce)

		identity := IdentityFromCtx(c)
		if e.profiler != nil {
			e.profiler.Observe(identity.IP, c.Path(), identity.UserAgent)
		}

		if ipInNets(identity.IP, e.blocked) {
			return e.deny(c, identity, "blocked network", fiber.StatusForbidden)
		}

		if e.resolver != nil && len(e.blockedCountries) > 0 {
			if country, ok := e.resolver(identity.IP); ok && e.blockedCountries[strings.ToUpper(country)] {
				return e.deny(c, identity, "blocked country", fiber.StatusForbidden)
			}
		}

		for _, h := range suspiciousHeaders {
			if c.Get(h) != "" {
				return e.deny(c, identity, "suspicious header "+strings.ToLower(h), fiber.StatusBadRequest)
			}
		}

		if !e.allowBots && isAutomatedClient(c.Get("User-Agent")) {
			return e.deny(c, identity, "automated client", fiber.StatusForbidden)
		}

		if c.Method() == fiber.MethodPost && !strings.HasPrefix(strings.ToLower(c.Get("Content-Type")), "application/json") {
			return e.deny(c, identity, "unexpected content type", fiber.StatusBadRequest)
		}

		return c.Next()
	}
}

func (e *EdgeFilter) deny(c *fiber.Ctx, identity ClientIdentity, why string, status int) error {
	if e.logger != nil {
		e.logger.Warn().Str("client", identity.IP).Str("path", c.Path()).Str("cause", why).Msg("request dropped at edge")
	}
	if e.metrics != nil {
		e.metrics.IncrementCounter("edge_drops_total", map[string]string{"cause": why})
	}
	return c.Status(status).JSON(fiber.Map{"error": defaultMessages[ReasonMalformedInput]})
}

// isAutomatedClient flags user agents that identify as tooling rather than
// a browser. The cheap substring scan catches the long tail the parser
// does not know about.
func isAutomatedClient(ua string) bool {
	if ua == "" {
		return true
	}
	lowered := strings.ToLower(ua)
	for _, marker := range botUASubstrings {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return useragent.New(ua).Bot()
}

func applySecurityHeaders(c *fiber.Ctx, nonce string) {
	c.Set("X-Content-Type-Options", "nosniff")
	c.Set("X-Frame-Options", "DENY")
	c.Set("Referrer-Policy", "strict-origin-when-cross-origin")
	c.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
	c.Set("Content-Security-Policy", fmt.Sprintf(
		"default-src 'self'; script-src 'self' 'nonce-%s'; style-src 'self' 'nonce-%s'; frame-ancestors 'none'", nonce, nonce))
}

func cspNonce() (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate csp nonce: %w", err)
	}
	return base64.RawStdEncoding.EncodeToString(raw), nil
}
