package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/linkwatcher/beacon/internal/config"
	"github.com/linkwatcher/beacon/internal/database"
	"github.com/linkwatcher/beacon/internal/enrichment"
	"github.com/linkwatcher/beacon/internal/identification"
)

// Version is set from main.go at startup
var Version = "dev"

type Handlers struct {
	db       *database.DB
	enricher *enrichment.Enricher
	idGen    *identification.Generator
	cfg      *config.Config

	// SSE subscribers
	sseClients map[chan []byte]bool
	sseMu      sync.RWMutex
}

// Health check
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetVersion returns the current version
func (h *Handlers) GetVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": Version})
}

// ServeCollectorScript serves the JavaScript collector
func (h *Handlers) ServeCollectorScript(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/javascript")
	w.Header().Set("Cache-Control", "public, max-age=86400")

	script, err := collectorJS.ReadFile("analytics.js")
	if err != nil {
		http.Error(w, "Script not found", http.StatusNotFound)
		return
	}

	// Inject configuration ahead of the script body
	cfg := fmt.Sprintf(`window.__BEACON_CONFIG__={endpoint:"%s",heartbeatSeconds:%d};`,
		"/api/analytics/track",
		h.cfg.HeartbeatSeconds,
	)

	w.Write([]byte(cfg))
	w.Write(script)
}

type trackMetadata struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
	IsActive  bool   `json:"isActive"`
}

type trackRequest struct {
	Events   json.RawMessage `json:"events"`
	Metadata *trackMetadata  `json:"metadata"`
}

// Track receives a batch of collector events plus optional session metadata.
// Events are persisted atomically; the session upsert is best-effort.
func (h *Handlers) Track(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1MB limit
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read body")
		return
	}

	var req trackRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if len(req.Events) == 0 || string(req.Events) == "null" {
		writeError(w, http.StatusBadRequest, "Events array is required")
		return
	}

	var rawEvents []map[string]interface{}
	if err := json.Unmarshal(req.Events, &rawEvents); err != nil {
		writeError(w, http.StatusBadRequest, "Events must be an array")
		return
	}

	// Client info comes from transport headers, never from event fields
	enriched := h.enricher.Enrich(r.RemoteAddr, r.Header.Get("User-Agent"), map[string]string{
		"X-Forwarded-For": r.Header.Get("X-Forwarded-For"),
		"X-Real-IP":       r.Header.Get("X-Real-IP"),
	})

	// Resolve the batch identity once so event tagging and the session upsert
	// always agree. Client IDs are opaque and kept as-is when present; the
	// fallback covers batches that arrive without any usable identity.
	batchSession, batchUser := "", ""
	if req.Metadata != nil {
		batchSession = req.Metadata.SessionID
		batchUser = req.Metadata.UserID
	}
	if !identification.ValidateClientID(batchSession) {
		batchSession = h.idGen.FallbackSessionID(enriched.IPAddress, enriched.UserAgent)
	}
	if !identification.ValidateClientID(batchUser) {
		batchUser = h.idGen.FallbackUserID(enriched.IPAddress, enriched.UserAgent)
	}

	now := time.Now()
	events := make([]*database.Event, 0, len(rawEvents))
	for _, raw := range rawEvents {
		if e := h.parseEvent(raw, batchSession, batchUser, enriched, now); e != nil {
			events = append(events, e)
		}
	}

	if err := h.db.InsertEventBatch(events); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save events")
		return
	}

	// Session liveness is best-effort: a failed upsert never fails the request
	if req.Metadata != nil {
		sess := &database.Session{
			SessionID:    batchSession,
			UserID:       batchUser,
			IsActive:     req.Metadata.IsActive,
			LastActivity: now,
			IPAddress:    enriched.IPAddress,
			UserAgent:    enriched.UserAgent,
			BrowserName:  enriched.BrowserName,
			OSName:       enriched.OSName,
			DeviceType:   enriched.DeviceType,
			CreatedAt:    now,
		}
		if err := h.db.UpsertSession(sess); err != nil {
			log.Printf("Session upsert failed for %s: %v", sess.SessionID, err)
		}
	}

	h.notifyClients(events)

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handlers) parseEvent(raw map[string]interface{}, batchSession, batchUser string, enriched *enrichment.EnrichmentResult, now time.Time) *database.Event {
	// Event-level IDs win when valid; everything else inherits the batch
	// identity resolved in Track.
	sessionID := getStringOr(raw, "sessionId", "")
	if !identification.ValidateClientID(sessionID) {
		sessionID = batchSession
	}
	userID := getStringOr(raw, "userId", "")
	if !identification.ValidateClientID(userID) {
		userID = batchUser
	}

	urlStr := getStringOr(raw, "url", "")
	path := getStringOr(raw, "path", "")
	if path == "" && urlStr != "" {
		if parsed, err := url.Parse(urlStr); err == nil {
			path = parsed.Path
		}
	}

	// Normalize the client clock to absolute time; missing or non-numeric
	// timestamps fall back to ingestion time
	timestamp := now
	if ms := getFloatOr(raw, "timestamp", 0); ms > 0 {
		timestamp = time.UnixMilli(int64(ms))
	}

	var payload json.RawMessage
	if data, ok := raw["data"]; ok && data != nil {
		if encoded, err := json.Marshal(data); err == nil {
			payload = encoded
		}
	}

	return &database.Event{
		ID:         generateID(),
		SessionID:  sessionID,
		UserID:     userID,
		EventType:  getStringOr(raw, "type", "pageview"),
		Payload:    payload,
		URL:        urlStr,
		Path:       path,
		Timestamp:  timestamp,
		IPAddress:  enriched.IPAddress,
		UserAgent:  enriched.UserAgent,
		ReceivedAt: now,
	}
}

// EventStream pushes ingested batch summaries to dashboard clients over SSE
func (h *Handlers) EventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	client := make(chan []byte, 100)

	h.sseMu.Lock()
	if h.sseClients == nil {
		h.sseClients = make(map[chan []byte]bool)
	}
	h.sseClients[client] = true
	h.sseMu.Unlock()

	defer func() {
		h.sseMu.Lock()
		delete(h.sseClients, client)
		h.sseMu.Unlock()
		close(client)
	}()

	fmt.Fprintf(w, "data: {\"type\":\"connected\"}\n\n")
	flusher.Flush()

	// Keepalive prevents proxies from reaping the connection
	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case msg := <-client:
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func (h *Handlers) notifyClients(events []*database.Event) {
	h.sseMu.RLock()
	defer h.sseMu.RUnlock()

	if len(h.sseClients) == 0 || len(events) == 0 {
		return
	}

	notification := map[string]interface{}{
		"type":      "batch",
		"events":    len(events),
		"timestamp": time.Now().UnixMilli(),
	}

	last := events[len(events)-1]
	notification["last_event"] = map[string]interface{}{
		"type":    last.EventType,
		"path":    last.Path,
		"session": last.SessionID,
	}

	data, _ := json.Marshal(notification)

	for client := range h.sseClients {
		select {
		case client <- data:
		default:
			// Client buffer full, skip
		}
	}
}
