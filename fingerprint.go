package leadguard

import (
	"crypto/sha256"
	"encoding/hex"
)

const fingerprintLen = 16

// Fingerprint derives the request-context digest a token is bound to:
// SHA-256 over userAgent ++ clientIdentity ++ sessionID, truncated to 16 hex
// characters. A cryptographic hash keeps colliding (userAgent, identity)
// pairs out of casual reach for any given sessionID.
func Fingerprint(userAgent, clientIdentity, sessionID string) string {
	sum := sha256.Sum256([]byte(userAgent + clientIdentity + sessionID))
	return hex.EncodeToString(sum[:])[:fingerprintLen]
}
