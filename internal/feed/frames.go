package feed

// Outbound control frame types.
const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
)

// ControlFrame is a subscribe/unsubscribe request sent upstream. Key is
// always the vendor pipe form on the wire.
type ControlFrame struct {
	Type string `json:"type"`
	Key  string `json:"key"`
}

// Envelope is one inbound frame from the upstream feed. Feeds maps an
// instrument key (pipe or colon form, depending on the upstream) to its
// payload.
type Envelope struct {
	Type      string               `json:"type"` // "live_feed"
	CurrentTS int64                `json:"currentTs,omitempty"`
	Feeds     map[string]FeedEntry `json:"feeds,omitempty"`
}

// FeedEntry is the per-instrument payload of a live_feed envelope.
type FeedEntry struct {
	LTPC LTPC `json:"ltpc"`
}

// LTPC carries the last traded price and time. LTP is a pointer because
// the upstream omits it on frames that carry no trade.
type LTPC struct {
	LTP *float64 `json:"ltp,omitempty"`
	LTT int64    `json:"ltt,omitempty"` // last trade time, epoch millis
}
