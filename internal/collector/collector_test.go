package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSender records delivered batches and can be toggled to fail
type fakeSender struct {
	mu      sync.Mutex
	fail    bool
	batches []Batch
	sent    chan Batch
}

func newFakeSender() *fakeSender {
	return &fakeSender{sent: make(chan Batch, 16)}
}

func (f *fakeSender) Send(ctx context.Context, batch Batch) error {
	f.mu.Lock()
	fail := f.fail
	if !fail {
		f.batches = append(f.batches, batch)
	}
	f.mu.Unlock()

	if fail {
		return errors.New("delivery failed")
	}
	f.sent <- batch
	return nil
}

func (f *fakeSender) setFail(fail bool) {
	f.mu.Lock()
	f.fail = fail
	f.mu.Unlock()
}

func (f *fakeSender) wait(t *testing.T) Batch {
	t.Helper()
	select {
	case b := <-f.sent:
		return b
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for batch delivery")
		return Batch{}
	}
}

func (f *fakeSender) assertNoSend(t *testing.T) {
	t.Helper()
	select {
	case b := <-f.sent:
		t.Fatalf("unexpected delivery of %d events", len(b.Events))
	case <-time.After(100 * time.Millisecond):
	}
}

// newTestCollector keeps the heartbeat out of the way unless a test wants it
func newTestCollector(t *testing.T, cfg Config) (*Collector, *fakeSender) {
	t.Helper()
	sender := newFakeSender()
	cfg.Sender = sender
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = time.Hour
	}
	c := New(cfg)
	t.Cleanup(func() { c.Close() })
	return c, sender
}

func TestGeneratedIdentity(t *testing.T) {
	c, _ := newTestCollector(t, Config{})
	require.NotEmpty(t, c.SessionID())
	require.NotEmpty(t, c.UserID())
	assert.NotEqual(t, c.SessionID(), c.UserID())

	c2, _ := newTestCollector(t, Config{SessionID: "sess-1", UserID: "user-1"})
	assert.Equal(t, "sess-1", c2.SessionID())
	assert.Equal(t, "user-1", c2.UserID())
}

func TestBatchSizeTriggersFlush(t *testing.T) {
	c, sender := newTestCollector(t, Config{BatchSize: 10})

	for i := 0; i < 9; i++ {
		c.Click(ClickPayload{X: i})
	}
	sender.assertNoSend(t)

	c.Click(ClickPayload{X: 9})
	batch := sender.wait(t)
	require.Len(t, batch.Events, 10)
	require.NotNil(t, batch.Metadata)
	assert.Equal(t, c.SessionID(), batch.Metadata.SessionID)
	assert.True(t, batch.Metadata.IsActive)

	// one flush per 10 accumulated events, never more
	for i := 0; i < 25; i++ {
		c.Click(ClickPayload{X: i})
	}
	sender.wait(t)
	sender.wait(t)
	sender.assertNoSend(t)
}

func TestScrollDebounceCoalescesBurst(t *testing.T) {
	c, _ := newTestCollector(t, Config{ScrollDebounce: 30 * time.Millisecond})

	for depth := 10; depth <= 50; depth += 10 {
		c.Scroll(ScrollPayload{Depth: depth, Offset: depth * 100})
	}

	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.queue) == 1
	}, time.Second, 5*time.Millisecond)

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Equal(t, KindScroll, c.queue[0].Type)

	var p ScrollPayload
	require.NoError(t, json.Unmarshal(c.queue[0].Data, &p))
	assert.Equal(t, 50, p.Depth, "only the last signal in the window is recorded")
}

func TestMouseMoveDebounceCoalescesBurst(t *testing.T) {
	c, _ := newTestCollector(t, Config{MouseMoveDebounce: 30 * time.Millisecond})

	for i := 0; i < 20; i++ {
		c.MouseMove(MouseMovePayload{X: i, Y: i})
	}

	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.queue) == 1
	}, time.Second, 5*time.Millisecond)

	c.mu.Lock()
	defer c.mu.Unlock()
	var p MouseMovePayload
	require.NoError(t, json.Unmarshal(c.queue[0].Data, &p))
	assert.Equal(t, 19, p.X)
}

func TestFailedBatchReturnsToQueueHead(t *testing.T) {
	c, sender := newTestCollector(t, Config{BatchSize: 3})
	sender.setFail(true)

	c.Record("first", nil)
	c.Record("second", nil)
	c.Record("third", nil) // triggers a flush that fails

	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.queue) == 3
	}, time.Second, 5*time.Millisecond, "failed batch must be requeued, not dropped")

	c.Record("fourth", nil)

	sender.setFail(false)
	c.Flush()

	batch := sender.wait(t)
	require.Len(t, batch.Events, 4)
	assert.Equal(t, Kind("first"), batch.Events[0].Type, "older failed events retry ahead of newer ones")
	assert.Equal(t, Kind("second"), batch.Events[1].Type)
	assert.Equal(t, Kind("third"), batch.Events[2].Type)
	assert.Equal(t, Kind("fourth"), batch.Events[3].Type)
}

func TestMaxQueuedEventsDropsOldest(t *testing.T) {
	c, sender := newTestCollector(t, Config{BatchSize: 2, MaxQueuedEvents: 3})
	sender.setFail(true)

	for i := 0; i < 6; i++ {
		c.Record(Kind(fmt.Sprintf("e%d", i)), nil)
	}

	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.queue) <= 3
	}, time.Second, 5*time.Millisecond)
}

func TestHeartbeatFlushes(t *testing.T) {
	c, sender := newTestCollector(t, Config{HeartbeatInterval: 40 * time.Millisecond})
	c.Record("warmup", nil)

	batch := sender.wait(t)
	var kinds []Kind
	for _, e := range batch.Events {
		kinds = append(kinds, e.Type)
	}
	assert.Contains(t, kinds, Kind("warmup"))
	assert.Contains(t, kinds, KindHeartbeat)
}

func TestHeartbeatPausesWhileHidden(t *testing.T) {
	c, sender := newTestCollector(t, Config{HeartbeatInterval: 30 * time.Millisecond, BatchSize: 100})
	c.PageHidden()
	c.Flush()
	sender.wait(t) // the page_hidden event itself

	time.Sleep(100 * time.Millisecond)
	c.mu.Lock()
	for _, e := range c.queue {
		assert.NotEqual(t, KindHeartbeat, e.Type, "no heartbeats while hidden")
	}
	c.mu.Unlock()
}

func TestCloseFlushesWithUnloadEvent(t *testing.T) {
	sender := newFakeSender()
	c := New(Config{Sender: sender, HeartbeatInterval: time.Hour, ScrollDebounce: time.Hour})

	c.Pageview(PageviewPayload{URL: "https://example.com/docs", Path: "/docs"})
	c.Scroll(ScrollPayload{Depth: 40}) // still pending when the page goes away
	require.NoError(t, c.Close())

	batch := sender.wait(t)
	require.NotEmpty(t, batch.Events)
	last := batch.Events[len(batch.Events)-1]
	assert.Equal(t, KindPageUnload, last.Type)

	var kinds []Kind
	for _, e := range batch.Events {
		kinds = append(kinds, e.Type)
	}
	assert.Contains(t, kinds, KindScroll, "pending debounced events are recorded on close")

	require.NoError(t, c.Close(), "Close is idempotent")
}

func TestClickTextTruncation(t *testing.T) {
	c, _ := newTestCollector(t, Config{BatchSize: 100})

	long := ""
	for i := 0; i < 20; i++ {
		long += "abcdefghij"
	}
	c.Click(ClickPayload{Text: long})

	c.mu.Lock()
	defer c.mu.Unlock()
	require.Len(t, c.queue, 1)
	var p ClickPayload
	require.NoError(t, json.Unmarshal(c.queue[0].Data, &p))
	assert.Len(t, p.Text, 50)
}

func TestClickTextTruncationCountsRunes(t *testing.T) {
	c, _ := newTestCollector(t, Config{BatchSize: 100})

	// 60 multibyte characters, 180 bytes: the cap counts characters and the
	// cut must land on a rune boundary
	c.Click(ClickPayload{Text: strings.Repeat("€", 60)})

	c.mu.Lock()
	defer c.mu.Unlock()
	require.Len(t, c.queue, 1)
	var p ClickPayload
	require.NoError(t, json.Unmarshal(c.queue[0].Data, &p))
	assert.Equal(t, strings.Repeat("€", 50), p.Text)
	assert.True(t, utf8.ValidString(p.Text))
}

func TestPageviewRefreshesActivity(t *testing.T) {
	c, _ := newTestCollector(t, Config{BatchSize: 100})

	c.mu.Lock()
	c.lastActivity = time.Now().Add(-time.Hour)
	c.mu.Unlock()

	c.Pageview(PageviewPayload{URL: "https://example.com/", Path: "/"})

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.WithinDuration(t, time.Now(), c.lastActivity, time.Second,
		"a page load counts as activity for the heartbeat's idle measure")
}

func TestEventsCarryPageContext(t *testing.T) {
	c, _ := newTestCollector(t, Config{BatchSize: 100, PageURL: "https://example.com/a", PagePath: "/a"})

	c.Record("custom", map[string]string{"k": "v"})
	c.Pageview(PageviewPayload{URL: "https://example.com/b", Path: "/b"})
	c.Record("after", nil)

	c.mu.Lock()
	defer c.mu.Unlock()
	require.Len(t, c.queue, 3)
	assert.Equal(t, "/a", c.queue[0].Path)
	assert.Equal(t, "/b", c.queue[1].Path, "pageview retargets the collector")
	assert.Equal(t, "/b", c.queue[2].Path)
}
