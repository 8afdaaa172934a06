package enrichment

import (
	"strings"

	"github.com/mssola/useragent"
)

// UAResult contains parsed user-agent data
type UAResult struct {
	BrowserName    string
	BrowserVersion string
	OSName         string
	DeviceType     string
	IsMobile       bool
}

// ParseUserAgent parses a user-agent string
func ParseUserAgent(uaString string) *UAResult {
	ua := useragent.New(uaString)

	browserName, browserVersion := ua.Browser()

	result := &UAResult{
		BrowserName:    browserName,
		BrowserVersion: browserVersion,
		OSName:         ua.OS(),
		IsMobile:       ua.Mobile(),
	}

	// Determine device type
	if ua.Mobile() {
		result.DeviceType = "mobile"
	} else if isTablet(uaString) {
		result.DeviceType = "tablet"
	} else {
		result.DeviceType = "desktop"
	}

	return result
}

func isTablet(ua string) bool {
	// Simple tablet detection
	tablets := []string{
		"iPad", "Android", "Tablet", "PlayBook", "Silk",
	}
	for _, t := range tablets {
		if strings.Contains(ua, t) && !strings.Contains(ua, "Mobile") {
			return true
		}
	}
	return false
}
