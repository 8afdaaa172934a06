package collector

import "encoding/json"

// Kind identifies what a captured event describes. The payload shape is a
// tagged union keyed by Kind: each kind carries its own payload type below.
type Kind string

const (
	KindPageview    Kind = "pageview"
	KindClick       Kind = "click"
	KindScroll      Kind = "scroll"
	KindMouseMove   Kind = "mousemove"
	KindFormSubmit  Kind = "form_submit"
	KindPageHidden  Kind = "page_hidden"
	KindPageVisible Kind = "page_visible"
	KindError       Kind = "error"
	KindHeartbeat   Kind = "heartbeat"
	KindPageUnload  Kind = "page_unload"
)

// Event is the wire representation of one captured interaction
type Event struct {
	SessionID string          `json:"sessionId"`
	UserID    string          `json:"userId"`
	Type      Kind            `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	URL       string          `json:"url,omitempty"`
	Path      string          `json:"path,omitempty"`
	Timestamp int64           `json:"timestamp"` // epoch milliseconds, client clock
}

// Metadata carries session liveness alongside a batch
type Metadata struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
	IsActive  bool   `json:"isActive"`
}

// Batch is the body posted to the ingestion endpoint
type Batch struct {
	Events   []Event   `json:"events"`
	Metadata *Metadata `json:"metadata,omitempty"`
}

// PageviewPayload describes a page load
type PageviewPayload struct {
	URL            string `json:"url"`
	Path           string `json:"path"`
	Title          string `json:"title,omitempty"`
	Referrer       string `json:"referrer,omitempty"`
	ScreenWidth    int    `json:"screenWidth,omitempty"`
	ScreenHeight   int    `json:"screenHeight,omitempty"`
	ViewportWidth  int    `json:"viewportWidth,omitempty"`
	ViewportHeight int    `json:"viewportHeight,omitempty"`
	UserAgent      string `json:"userAgent,omitempty"`
	Language       string `json:"language,omitempty"`
	Timezone       string `json:"timezone,omitempty"`
}

// ClickPayload describes one click on a page element. Text is truncated to
// 50 characters by the capture path.
type ClickPayload struct {
	Tag     string `json:"tag,omitempty"`
	ID      string `json:"id,omitempty"`
	Classes string `json:"classes,omitempty"`
	Text    string `json:"text,omitempty"`
	X       int    `json:"x"`
	Y       int    `json:"y"`
}

// ScrollPayload carries scroll depth as a percentage of scrollable height
type ScrollPayload struct {
	Depth  int `json:"depth"`
	Offset int `json:"offset"`
}

// MouseMovePayload carries sampled pointer coordinates
type MouseMovePayload struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// FormSubmitPayload describes a form submission
type FormSubmitPayload struct {
	FormID string `json:"formId,omitempty"`
	Action string `json:"action,omitempty"`
}

// ErrorPayload describes a script error on the page
type ErrorPayload struct {
	Message string `json:"message"`
	Source  string `json:"source,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
}

// HeartbeatPayload carries liveness timings in milliseconds
type HeartbeatPayload struct {
	TimeOnPage        int64 `json:"timeOnPage"`
	SinceLastActivity int64 `json:"sinceLastActivity"`
}

// UnloadPayload carries the total time spent on the page in milliseconds
type UnloadPayload struct {
	TimeOnPage int64 `json:"timeOnPage"`
}
