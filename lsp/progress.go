package lsp

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/myleshyson/lsprotocol-go/protocol"
)

// IndexingState is the coarse indexing status derived from $/progress.
type IndexingState string

const (
	IndexingUnknown IndexingState = "unknown"
	IndexingActive  IndexingState = "indexing"
	IndexingIdle    IndexingState = "idle"
)

// ProgressEvent is a normalized view of $/progress payloads.
type ProgressEvent struct {
	TokenKey   string    `json:"token"`
	Kind       string    `json:"kind"` // begin|report|end|unknown
	Title      string    `json:"title,omitempty"`
	Message    string    `json:"message,omitempty"`
	Percentage *uint32   `json:"percentage,omitempty"`
	Time       time.Time `json:"time"`
}

// ProgressSnapshot is returned to status tooling.
type ProgressSnapshot struct {
	State     IndexingState   `json:"state"`
	Active    []ProgressEvent `json:"active"`
	LastEvent *ProgressEvent  `json:"last_event,omitempty"`
}

// ProgressTracker tracks server-initiated work-done progress streams. A token
// with a begin and no end yet counts as indexing.
type ProgressTracker struct {
	mu        sync.RWMutex
	active    map[string]ProgressEvent
	last      *ProgressEvent
	seen      bool
	quiescent *bool
	changed   chan struct{}
}

func NewProgressTracker() *ProgressTracker {
	return &ProgressTracker{
		active:  make(map[string]ProgressEvent),
		changed: make(chan struct{}),
	}
}

func progressTokenKey(t protocol.ProgressToken) string {
	switch v := t.Value.(type) {
	case int32:
		return fmt.Sprintf("%d", v)
	case float64:
		return fmt.Sprintf("%d", int64(v))
	case string:
		return v
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}

// RegisterToken records a token announced by window/workDoneProgress/create.
// Indexing only starts counting on its begin event.
func (pt *ProgressTracker) RegisterToken(token protocol.ProgressToken) string {
	return progressTokenKey(token)
}

func (pt *ProgressTracker) Update(params protocol.ProgressParams) {
	key := progressTokenKey(params.Token)

	var base struct {
		Kind       string  `json:"kind"`
		Title      string  `json:"title,omitempty"`
		Message    string  `json:"message,omitempty"`
		Percentage *uint32 `json:"percentage,omitempty"`
	}
	if raw, err := json.Marshal(params.Value); err == nil {
		_ = json.Unmarshal(raw, &base)
	}

	ev := ProgressEvent{
		TokenKey:   key,
		Kind:       base.Kind,
		Title:      base.Title,
		Message:    base.Message,
		Percentage: base.Percentage,
		Time:       time.Now(),
	}
	if ev.Kind == "" {
		ev.Kind = "unknown"
	}

	pt.mu.Lock()
	defer pt.mu.Unlock()

	pt.last = &ev
	pt.seen = true

	switch ev.Kind {
	case "begin":
		pt.active[key] = ev
	case "report":
		if prev, ok := pt.active[key]; ok && ev.Title == "" {
			ev.Title = prev.Title
		}
		pt.active[key] = ev
	case "end":
		delete(pt.active, key)
	}
	pt.notifyLocked()
}

// SetQuiescent records rust-analyzer's experimental/serverStatus flag.
func (pt *ProgressTracker) SetQuiescent(q bool) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.quiescent = &q
	pt.seen = true
	pt.notifyLocked()
}

// State reports whether the server is still indexing.
func (pt *ProgressTracker) State() IndexingState {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	return pt.stateLocked()
}

// IsIndexing is shorthand for State() == IndexingActive.
func (pt *ProgressTracker) IsIndexing() bool {
	return pt.State() == IndexingActive
}

// Changed returns a channel closed on the next progress update.
func (pt *ProgressTracker) Changed() <-chan struct{} {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	return pt.changed
}

func (pt *ProgressTracker) stateLocked() IndexingState {
	if !pt.seen {
		return IndexingUnknown
	}
	if len(pt.active) > 0 {
		return IndexingActive
	}
	if pt.quiescent != nil && !*pt.quiescent {
		return IndexingActive
	}
	return IndexingIdle
}

func (pt *ProgressTracker) notifyLocked() {
	close(pt.changed)
	pt.changed = make(chan struct{})
}

func (pt *ProgressTracker) Snapshot() ProgressSnapshot {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	active := make([]ProgressEvent, 0, len(pt.active))
	for _, ev := range pt.active {
		active = append(active, ev)
	}

	var lastCopy *ProgressEvent
	if pt.last != nil {
		tmp := *pt.last
		lastCopy = &tmp
	}

	return ProgressSnapshot{
		State:     pt.stateLocked(),
		Active:    active,
		LastEvent: lastCopy,
	}
}
