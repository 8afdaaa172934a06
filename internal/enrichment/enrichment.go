// Package enrichment derives server-side facts for incoming batches: the real
// client address from transport headers and device facts parsed from the
// User-Agent string. Neither is ever trusted from client-supplied event fields.
package enrichment

import (
	"net"
	"strings"
)

// Enricher provides event enrichment
type Enricher struct{}

// New creates a new Enricher
func New() *Enricher {
	return &Enricher{}
}

// EnrichmentResult contains enriched data for one request
type EnrichmentResult struct {
	IPAddress   string
	UserAgent   string
	BrowserName string
	OSName      string
	DeviceType  string
}

// Enrich resolves the client address and parses the user agent
func (e *Enricher) Enrich(remoteAddr, userAgent string, headers map[string]string) *EnrichmentResult {
	result := &EnrichmentResult{
		IPAddress: ExtractClientIP(remoteAddr, headers),
		UserAgent: userAgent,
	}

	ua := ParseUserAgent(userAgent)
	result.BrowserName = ua.BrowserName
	result.OSName = ua.OSName
	result.DeviceType = ua.DeviceType

	return result
}

// ExtractClientIP gets the real client IP from request headers
func ExtractClientIP(remoteAddr string, headers map[string]string) string {
	// Check X-Forwarded-For first
	if xff, ok := headers["X-Forwarded-For"]; ok && xff != "" {
		// First IP in the list is the original client
		parts := strings.Split(xff, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}

	// Check X-Real-IP
	if xri, ok := headers["X-Real-IP"]; ok && xri != "" {
		return xri
	}

	// Fall back to remote address
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
