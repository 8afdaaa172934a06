package identification

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Generator creates fallback session and user identifiers for batches that
// arrive without client-generated IDs.
type Generator struct {
	secretKey     string
	sessionWindow time.Duration
}

// New creates a new identity generator
func New(secretKey string, sessionWindowMinutes int) *Generator {
	return &Generator{
		secretKey:     secretKey,
		sessionWindow: time.Duration(sessionWindowMinutes) * time.Minute,
	}
}

// FallbackSessionID derives a session ID from IP, UA and the current time
// window. Stable for the window's duration, so events from the same client
// still group into one session without cookies.
func (g *Generator) FallbackSessionID(ip, userAgent string) string {
	windowStart := time.Now().Truncate(g.sessionWindow)
	data := ip + "|" + userAgent + "|" + windowStart.Format(time.RFC3339)
	return g.hmacHash(data)
}

// FallbackUserID derives a user ID from the IP subnet and UA. Coarser than
// the client's persistent identifier but stable across session windows.
func (g *Generator) FallbackUserID(ip, userAgent string) string {
	data := maskIPSubnet(ip) + "|" + userAgent
	return g.hmacHash(data)
}

// ValidateClientID checks that a client-generated identifier looks sane
// before it is persisted: non-empty, bounded length, printable ASCII.
// Identifiers are otherwise opaque; no minimum length is imposed.
func ValidateClientID(id string) bool {
	if len(id) == 0 || len(id) > 64 {
		return false
	}
	for _, c := range id {
		if c < '!' || c > '~' {
			return false
		}
	}
	return true
}

func (g *Generator) hmacHash(data string) string {
	h := hmac.New(sha256.New, []byte(g.secretKey))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))[:32]
}

func maskIPSubnet(ip string) string {
	// Simple /24 masking for IPv4
	parts := splitIP(ip)
	if len(parts) >= 4 {
		return parts[0] + "." + parts[1] + "." + parts[2] + ".0"
	}
	return ip
}

func splitIP(ip string) []string {
	var parts []string
	current := ""
	for _, c := range ip {
		if c == '.' {
			parts = append(parts, current)
			current = ""
		} else {
			current += string(c)
		}
	}
	if current != "" {
		parts = append(parts, current)
	}
	return parts
}
