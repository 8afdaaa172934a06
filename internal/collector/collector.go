// Package collector implements the client-side half of the analytics core:
// identity generation, event capture with debouncing, an in-memory batch
// queue, and resilient fire-and-forget delivery to the ingestion endpoint.
//
// A Collector is explicitly constructed and owned by its caller; there is no
// package-level singleton. Capture methods never return errors to the caller:
// delivery failures requeue the batch and are retried on the next flush.
package collector

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Defaults bound event volume and batch cadence. The debounce windows are
// part of the capture contract: only the last scroll/mousemove signal within
// the window is recorded.
const (
	DefaultBatchSize         = 10
	DefaultHeartbeatInterval = 10 * time.Second
	DefaultScrollDebounce    = 500 * time.Millisecond
	DefaultMouseMoveDebounce = 1000 * time.Millisecond
	DefaultSendTimeout       = 10 * time.Second
)

// Config controls a Collector
type Config struct {
	// Endpoint is the ingestion URL, e.g. "https://host/api/analytics/track".
	// Ignored when Sender is set.
	Endpoint string

	// SessionID and UserID override the generated identifiers. SessionID is
	// meant to live for one browsing session, UserID for the device.
	SessionID string
	UserID    string

	// PageURL and PagePath tag captured events with their page
	PageURL  string
	PagePath string

	BatchSize         int
	HeartbeatInterval time.Duration
	ScrollDebounce    time.Duration
	MouseMoveDebounce time.Duration
	SendTimeout       time.Duration

	// MaxQueuedEvents caps retry growth when the endpoint is unreachable;
	// the oldest events are dropped past the cap. Zero means unbounded.
	MaxQueuedEvents int

	// Sender overrides the HTTP transport
	Sender Sender
}

type pendingEvent struct {
	timer *time.Timer
	data  json.RawMessage
}

// Collector captures events into an ordered queue and flushes them in
// batches. The queue is exclusively owned by the Collector: an in-flight send
// borrows a snapshot and returns unsent events to the queue's head on failure.
type Collector struct {
	cfg    Config
	sender Sender

	sessionID string
	userID    string

	mu           sync.Mutex
	queue        []Event
	pending      map[Kind]*pendingEvent
	pageURL      string
	pagePath     string
	visible      bool
	startedAt    time.Time
	lastActivity time.Time

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New constructs a Collector and starts its heartbeat. Callers must Close it
// when the page (or process) goes away.
func New(cfg Config) *Collector {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.ScrollDebounce <= 0 {
		cfg.ScrollDebounce = DefaultScrollDebounce
	}
	if cfg.MouseMoveDebounce <= 0 {
		cfg.MouseMoveDebounce = DefaultMouseMoveDebounce
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}

	sender := cfg.Sender
	if sender == nil {
		sender = NewHTTPSender(cfg.Endpoint, cfg.SendTimeout)
	}

	sessionID := cfg.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	userID := cfg.UserID
	if userID == "" {
		userID = uuid.NewString()
	}

	now := time.Now()
	c := &Collector{
		cfg:          cfg,
		sender:       sender,
		sessionID:    sessionID,
		userID:       userID,
		pending:      make(map[Kind]*pendingEvent),
		pageURL:      cfg.PageURL,
		pagePath:     cfg.PagePath,
		visible:      true,
		startedAt:    now,
		lastActivity: now,
		done:         make(chan struct{}),
	}

	c.wg.Add(1)
	go c.heartbeatLoop()

	return c
}

// SessionID returns the session identifier events are tagged with
func (c *Collector) SessionID() string { return c.sessionID }

// UserID returns the persistent user identifier
func (c *Collector) UserID() string { return c.userID }

// SetPage updates the page URL/path attached to subsequent events
func (c *Collector) SetPage(url, path string) {
	c.mu.Lock()
	c.pageURL = url
	c.pagePath = path
	c.mu.Unlock()
}

// Pageview records a page load and retargets the collector at that page
func (c *Collector) Pageview(p PageviewPayload) {
	c.mu.Lock()
	if p.URL != "" {
		c.pageURL = p.URL
	}
	if p.Path != "" {
		c.pagePath = p.Path
	}
	c.lastActivity = time.Now()
	c.enqueueLocked(KindPageview, marshalPayload(p))
	c.mu.Unlock()
}

// Click records one click. Text is capped at 50 characters, counted by rune
// so multibyte text never gets cut mid-character.
func (c *Collector) Click(p ClickPayload) {
	if runes := []rune(p.Text); len(runes) > 50 {
		p.Text = string(runes[:50])
	}
	c.record(KindClick, marshalPayload(p))
}

// Scroll records a scroll signal. Bursts within the debounce window coalesce
// so that only the last signal is enqueued.
func (c *Collector) Scroll(p ScrollPayload) {
	c.debounce(KindScroll, c.cfg.ScrollDebounce, marshalPayload(p))
}

// MouseMove records a pointer movement signal, sampled like Scroll
func (c *Collector) MouseMove(p MouseMovePayload) {
	c.debounce(KindMouseMove, c.cfg.MouseMoveDebounce, marshalPayload(p))
}

// FormSubmit records a form submission
func (c *Collector) FormSubmit(p FormSubmitPayload) {
	c.record(KindFormSubmit, marshalPayload(p))
}

// CaptureError records a script error
func (c *Collector) CaptureError(p ErrorPayload) {
	c.record(KindError, marshalPayload(p))
}

// PageHidden records that the page lost visibility; heartbeats pause until
// PageVisible is called.
func (c *Collector) PageHidden() {
	c.mu.Lock()
	c.visible = false
	c.enqueueLocked(KindPageHidden, nil)
	c.mu.Unlock()
}

// PageVisible records that the page regained visibility
func (c *Collector) PageVisible() {
	c.mu.Lock()
	c.visible = true
	c.lastActivity = time.Now()
	c.enqueueLocked(KindPageVisible, nil)
	c.mu.Unlock()
}

// Record captures a custom event kind with an arbitrary payload. This is the
// public surface exposed to embedding code.
func (c *Collector) Record(kind Kind, payload interface{}) {
	var data json.RawMessage
	if payload != nil {
		data = marshalPayload(payload)
	}
	c.record(kind, data)
}

// Flush sends everything queued so far as one batch without waiting for the
// delivery to complete. On failure the batch is returned to the queue's head
// so older events are retried ahead of newer ones.
func (c *Collector) Flush() {
	c.mu.Lock()
	batch := c.takeQueueLocked()
	c.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.send(batch)
	}()
}

// Close emits the page_unload event, performs a final synchronous best-effort
// flush and waits for in-flight deliveries. Safe to call more than once.
func (c *Collector) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		// pending debounced events are recorded rather than dropped
		for kind, p := range c.pending {
			p.timer.Stop()
			c.enqueueLocked(kind, p.data)
		}
		c.pending = make(map[Kind]*pendingEvent)
		c.enqueueLocked(KindPageUnload, marshalPayload(UnloadPayload{
			TimeOnPage: time.Since(c.startedAt).Milliseconds(),
		}))
		batch := c.takeQueueLocked()
		c.mu.Unlock()

		if len(batch) > 0 {
			c.send(batch)
		}
		c.wg.Wait()
	})
	return nil
}

func (c *Collector) record(kind Kind, data json.RawMessage) {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.enqueueLocked(kind, data)
	c.mu.Unlock()
}

// enqueueLocked appends one event and triggers an async flush once the batch
// size is reached. Callers hold c.mu.
func (c *Collector) enqueueLocked(kind Kind, data json.RawMessage) {
	c.queue = append(c.queue, Event{
		SessionID: c.sessionID,
		UserID:    c.userID,
		Type:      kind,
		Data:      data,
		URL:       c.pageURL,
		Path:      c.pagePath,
		Timestamp: time.Now().UnixMilli(),
	})

	if len(c.queue) >= c.cfg.BatchSize {
		batch := c.takeQueueLocked()
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.send(batch)
		}()
	}
}

// takeQueueLocked empties the queue and returns the snapshot. New events
// accumulate in a fresh queue while the snapshot is in flight.
func (c *Collector) takeQueueLocked() []Event {
	batch := c.queue
	c.queue = nil
	return batch
}

func (c *Collector) debounce(kind Kind, window time.Duration, data json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastActivity = time.Now()

	if p, ok := c.pending[kind]; ok {
		// coalesce: keep only the latest signal, restart the window
		p.data = data
		p.timer.Stop()
		p.timer.Reset(window)
		return
	}

	p := &pendingEvent{data: data}
	p.timer = time.AfterFunc(window, func() { c.firePending(kind) })
	c.pending[kind] = p
}

func (c *Collector) firePending(kind Kind) {
	c.mu.Lock()
	p, ok := c.pending[kind]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.pending, kind)
	c.enqueueLocked(kind, p.data)
	c.mu.Unlock()
}

func (c *Collector) send(batch []Event) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.SendTimeout)
	defer cancel()

	err := c.sender.Send(ctx, Batch{
		Events: batch,
		Metadata: &Metadata{
			SessionID: c.sessionID,
			UserID:    c.userID,
			IsActive:  true,
		},
	})
	if err == nil {
		return
	}

	// Failed batch goes back to the head of the queue so it is retried
	// ahead of anything captured since.
	c.mu.Lock()
	c.queue = append(append([]Event{}, batch...), c.queue...)
	if c.cfg.MaxQueuedEvents > 0 && len(c.queue) > c.cfg.MaxQueuedEvents {
		c.queue = c.queue[len(c.queue)-c.cfg.MaxQueuedEvents:]
	}
	c.mu.Unlock()
}

func (c *Collector) heartbeatLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			if !c.visible {
				c.mu.Unlock()
				continue
			}
			c.enqueueLocked(KindHeartbeat, marshalPayload(HeartbeatPayload{
				TimeOnPage:        time.Since(c.startedAt).Milliseconds(),
				SinceLastActivity: time.Since(c.lastActivity).Milliseconds(),
			}))
			c.mu.Unlock()
			c.Flush()
		case <-c.done:
			return
		}
	}
}

func marshalPayload(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return data
}
