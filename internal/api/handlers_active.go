package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sort"
	"time"

	"github.com/linkwatcher/beacon/internal/database"
)

const (
	recentEventsQueryCap = 1000
	recentEventsPerView  = 50
	topPagesLimit        = 10
)

// DeviceFacts are screen/viewport fields lifted from the latest pageview
type DeviceFacts struct {
	ScreenWidth    int    `json:"screenWidth,omitempty"`
	ScreenHeight   int    `json:"screenHeight,omitempty"`
	ViewportWidth  int    `json:"viewportWidth,omitempty"`
	ViewportHeight int    `json:"viewportHeight,omitempty"`
	Language       string `json:"language,omitempty"`
	Timezone       string `json:"timezone,omitempty"`
}

// RecentEvent is one raw event reduced for the live view
type RecentEvent struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	URL       string          `json:"url,omitempty"`
	Path      string          `json:"path,omitempty"`
}

// SessionView is the live activity snapshot for one active session
type SessionView struct {
	SessionID     string        `json:"sessionId"`
	UserID        string        `json:"userId"`
	LastActivity  time.Time     `json:"lastActivity"`
	IPAddress     string        `json:"ipAddress,omitempty"`
	Browser       string        `json:"browser,omitempty"`
	OS            string        `json:"os,omitempty"`
	DeviceType    string        `json:"deviceType,omitempty"`
	CurrentURL    string        `json:"currentUrl,omitempty"`
	CurrentPath   string        `json:"currentPath,omitempty"`
	Device        *DeviceFacts  `json:"device,omitempty"`
	ClickCount    int           `json:"clickCount"`
	ScrollDepth   int           `json:"scrollDepth"`
	LastEventType string        `json:"lastEventType,omitempty"`
	LastEventTime time.Time     `json:"lastEventTime"`
	RecentEvents  []RecentEvent `json:"recentEvents"`
}

// PageCount is one entry in the top-pages ranking
type PageCount struct {
	Path  string `json:"path"`
	Count int    `json:"count"`
}

// GlobalStats summarizes all activity inside the recency window
type GlobalStats struct {
	ActiveSessions int         `json:"activeSessions"`
	TotalEvents    int         `json:"totalEvents"`
	Pageviews      int         `json:"pageviews"`
	Clicks         int         `json:"clicks"`
	TopPages       []PageCount `json:"topPages"`
}

// ActiveUsers recomputes the live "who is active now" snapshot on demand.
// Nothing is materialized: the response is a pure function of the stored
// sessions and events at read time.
func (h *Handlers) ActiveUsers(w http.ResponseWriter, r *http.Request) {
	window := time.Duration(h.cfg.ActivityWindowMinutes) * time.Minute
	since := time.Now().Add(-window)

	sessions, err := h.db.ActiveSessions(since)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load sessions")
		return
	}

	ids := make([]string, len(sessions))
	for i, s := range sessions {
		ids[i] = s.SessionID
	}

	// Degrade to empty detail instead of failing the whole request
	events, err := h.db.RecentEvents(ids, since, recentEventsQueryCap)
	if err != nil {
		log.Printf("Recent events query failed: %v", err)
		events = nil
	}

	views, stats := buildSnapshot(sessions, events)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"sessions": views,
		"stats":    stats,
	})
}

// buildSnapshot partitions the retrieved events (ordered most-recent-first)
// by session and reduces each partition to a live view, plus global stats.
func buildSnapshot(sessions []*database.Session, events []*database.Event) ([]*SessionView, *GlobalStats) {
	bySession := make(map[string][]*database.Event, len(sessions))
	for _, e := range events {
		bySession[e.SessionID] = append(bySession[e.SessionID], e)
	}

	stats := &GlobalStats{
		ActiveSessions: len(sessions),
		TotalEvents:    len(events),
	}
	pageCounts := make(map[string]int)

	views := make([]*SessionView, 0, len(sessions))
	for _, s := range sessions {
		view := &SessionView{
			SessionID:    s.SessionID,
			UserID:       s.UserID,
			LastActivity: s.LastActivity,
			IPAddress:    s.IPAddress,
			Browser:      s.BrowserName,
			OS:           s.OSName,
			DeviceType:   s.DeviceType,
			RecentEvents: []RecentEvent{},
		}

		partition := bySession[s.SessionID]
		sawPageview := false
		sawScroll := false
		for i, e := range partition {
			if i == 0 {
				view.LastEventType = e.EventType
				view.LastEventTime = e.Timestamp
			}

			switch e.EventType {
			case "pageview":
				// partition is newest-first, so the first pageview is the
				// current page
				if !sawPageview {
					sawPageview = true
					view.CurrentURL = e.URL
					view.CurrentPath = e.Path
					view.Device = deviceFromPayload(e.Payload)
				}
			case "click":
				view.ClickCount++
			case "scroll":
				// most recent scroll wins
				if !sawScroll {
					sawScroll = true
					view.ScrollDepth = scrollDepthFromPayload(e.Payload)
				}
			}

			if len(view.RecentEvents) < recentEventsPerView {
				view.RecentEvents = append(view.RecentEvents, RecentEvent{
					Type:      e.EventType,
					Timestamp: e.Timestamp,
					Payload:   e.Payload,
					URL:       e.URL,
					Path:      e.Path,
				})
			}
		}

		views = append(views, view)
	}

	for _, e := range events {
		switch e.EventType {
		case "pageview":
			stats.Pageviews++
			if e.Path != "" {
				pageCounts[e.Path]++
			}
		case "click":
			stats.Clicks++
		}
	}

	stats.TopPages = rankPages(pageCounts, topPagesLimit)
	return views, stats
}

func rankPages(counts map[string]int, limit int) []PageCount {
	ranked := make([]PageCount, 0, len(counts))
	for path, count := range counts {
		ranked = append(ranked, PageCount{Path: path, Count: count})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return ranked[i].Path < ranked[j].Path
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

func deviceFromPayload(payload json.RawMessage) *DeviceFacts {
	if len(payload) == 0 {
		return nil
	}
	var facts DeviceFacts
	if err := json.Unmarshal(payload, &facts); err != nil {
		return nil
	}
	if facts == (DeviceFacts{}) {
		return nil
	}
	return &facts
}

func scrollDepthFromPayload(payload json.RawMessage) int {
	var p struct {
		Depth int `json:"depth"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return 0
	}
	return p.Depth
}
