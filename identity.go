package leadguard

import (
	"net"
	"strings"

	"github.com/gofiber/fiber/v2"
)

const maxUserAgentLen = 100

// ClientIdentity is the derived key a requester is rate-limited under:
// network address plus a truncated user-agent. Recomputed per request,
// never persisted.
type ClientIdentity struct {
	IP        string
	UserAgent string
}

// Key returns the associative-store key for this identity.
func (ci ClientIdentity) Key() string {
	return ci.IP + "|" + ci.UserAgent
}

// DeriveIdentity builds a ClientIdentity from raw header values. The first
// entry of the proxy chain wins, then the real-IP header, then the direct
// peer address.
func DeriveIdentity(forwardedFor, realIP, peer, userAgent string) ClientIdentity {
	return ClientIdentity{
		IP:        clientAddress(forwardedFor, realIP, peer),
		UserAgent: truncateUserAgent(userAgent),
	}
}

// IdentityFromCtx derives the client identity for the current request.
func IdentityFromCtx(c *fiber.Ctx) ClientIdentity {
	return DeriveIdentity(c.Get("X-Forwarded-For"), c.Get("X-Real-IP"), c.IP(), c.Get("User-Agent"))
}

func clientAddress(forwardedFor, realIP, peer string) string {
	if forwardedFor != "" {
		first := strings.TrimSpace(strings.Split(forwardedFor, ",")[0])
		if first != "" {
			return first
		}
	}
	if realIP != "" {
		return realIP
	}
	if peer == "" {
		return "unknown"
	}
	if host, _, err := net.SplitHostPort(peer); err == nil {
		return host
	}
	return peer
}

func truncateUserAgent(ua string) string {
	if ua == "" {
		return "unknown"
	}
	if len(ua) > maxUserAgentLen {
		return ua[:maxUserAgentLen]
	}
	return ua
}

func parseCIDRs(cidrs []string) []*net.IPNet {
	var nets []*net.IPNet
	for _, c := range cidrs {
		if strings.TrimSpace(c) == "" {
			continue
		}
		_, n, err := net.ParseCIDR(strings.TrimSpace(c))
		if err == nil && n != nil {
			nets = append(nets, n)
			continue
		}
		// Support single IPs
		ip := net.ParseIP(strings.TrimSpace(c))
		if ip != nil {
			mask := net.CIDRMask(len(ip)*8, len(ip)*8)
			nets = append(nets, &net.IPNet{IP: ip, Mask: mask})
		}
	}
	return nets
}

func ipInNets(ipStr string, nets []*net.IPNet) bool {
	if ipStr == "" {
		return false
	}
	addr := net.ParseIP(ipStr)
	if addr == nil {
		return false
	}
	for _, n := range nets {
		if n.Contains(addr) {
			return true
		}
	}
	return false
}
