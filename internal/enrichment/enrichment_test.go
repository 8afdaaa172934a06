package enrichment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	chromeMacUA    = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	iphoneSafariUA = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"
	ipadUA         = "Mozilla/5.0 (iPad; CPU OS 16_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.0 Safari/604.1"
)

func TestExtractClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{
			name:       "forwarded chain uses first hop",
			remoteAddr: "10.0.0.1:443",
			headers:    map[string]string{"X-Forwarded-For": "198.51.100.4, 10.0.0.1"},
			want:       "198.51.100.4",
		},
		{
			name:       "real ip header",
			remoteAddr: "10.0.0.1:443",
			headers:    map[string]string{"X-Real-IP": "203.0.113.9"},
			want:       "203.0.113.9",
		},
		{
			name:       "remote addr fallback strips port",
			remoteAddr: "203.0.113.7:54321",
			want:       "203.0.113.7",
		},
		{
			name:       "remote addr without port",
			remoteAddr: "203.0.113.7",
			want:       "203.0.113.7",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractClientIP(tt.remoteAddr, tt.headers))
		})
	}
}

func TestParseUserAgent(t *testing.T) {
	ua := ParseUserAgent(chromeMacUA)
	assert.Equal(t, "Chrome", ua.BrowserName)
	assert.Equal(t, "desktop", ua.DeviceType)
	assert.False(t, ua.IsMobile)

	mobile := ParseUserAgent(iphoneSafariUA)
	assert.Equal(t, "mobile", mobile.DeviceType)
	assert.True(t, mobile.IsMobile)
}

func TestIsTablet(t *testing.T) {
	assert.True(t, isTablet(ipadUA))
	assert.False(t, isTablet(chromeMacUA))
	assert.False(t, isTablet(iphoneSafariUA), "UAs carrying the Mobile token are not tablets")
}

func TestEnrich(t *testing.T) {
	e := New()
	result := e.Enrich("10.0.0.1:443", chromeMacUA, map[string]string{
		"X-Forwarded-For": "198.51.100.4",
	})

	require.NotNil(t, result)
	assert.Equal(t, "198.51.100.4", result.IPAddress)
	assert.Equal(t, chromeMacUA, result.UserAgent)
	assert.Equal(t, "Chrome", result.BrowserName)
	assert.Equal(t, "desktop", result.DeviceType)
}
