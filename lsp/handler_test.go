package lsp

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/myleshyson/lsprotocol-go/protocol"
	"github.com/sourcegraph/jsonrpc2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawParams(t *testing.T, v any) *json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	raw := json.RawMessage(b)
	return &raw
}

func progress(token, kind string) protocol.ProgressParams {
	return protocol.ProgressParams{
		Token: protocol.ProgressToken{Value: token},
		Value: map[string]any{"kind": kind, "title": "Indexing"},
	}
}

func TestProgressTrackerIndexingFlag(t *testing.T) {
	pt := NewProgressTracker()
	assert.Equal(t, IndexingUnknown, pt.State())

	pt.Update(progress("rustAnalyzer/Indexing", "begin"))
	assert.True(t, pt.IsIndexing())

	pt.Update(progress("rustAnalyzer/Roots Scanned", "begin"))
	pt.Update(progress("rustAnalyzer/Indexing", "report"))
	pt.Update(progress("rustAnalyzer/Indexing", "end"))
	assert.Equal(t, IndexingActive, pt.State(), "one token still active")

	pt.Update(progress("rustAnalyzer/Roots Scanned", "end"))
	assert.Equal(t, IndexingIdle, pt.State())

	snap := pt.Snapshot()
	assert.Empty(t, snap.Active)
	require.NotNil(t, snap.LastEvent)
	assert.Equal(t, "end", snap.LastEvent.Kind)
}

func TestProgressTrackerQuiescent(t *testing.T) {
	pt := NewProgressTracker()
	pt.SetQuiescent(false)
	assert.Equal(t, IndexingActive, pt.State())
	pt.SetQuiescent(true)
	assert.Equal(t, IndexingIdle, pt.State())
}

func TestProgressTrackerChangedWakesWaiters(t *testing.T) {
	pt := NewProgressTracker()
	ch := pt.Changed()
	go pt.Update(progress("t", "begin"))
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("Changed was not closed")
	}
}

func TestDiagnosticsStore(t *testing.T) {
	ds := NewDiagnosticsStore()
	_, ok := ds.Get("file:///w/src/lib.rs")
	assert.False(t, ok)

	ds.Publish("file:///w/src/lib.rs", []json.RawMessage{json.RawMessage(`{"message":"unused"}`)})
	ds.Publish("file:///w/src/main.rs", nil)

	got, ok := ds.Get("file:///w/src/lib.rs")
	require.True(t, ok)
	assert.Len(t, got, 1)

	clean, ok := ds.Get("file:///w/src/main.rs")
	assert.True(t, ok, "an empty publish is remembered")
	assert.Empty(t, clean)

	all := ds.All()
	require.Len(t, all, 1, "All skips clean files")
	assert.Equal(t, "file:///w/src/lib.rs", all[0].URI)
	assert.Equal(t, 2, ds.Len())
}

func TestDiagnosticsStoreCanonicalizesURIs(t *testing.T) {
	ds := NewDiagnosticsStore()
	ds.Publish("file:///w/my%20crate/lib.rs", []json.RawMessage{json.RawMessage(`{}`)})
	_, ok := ds.Get("file:///w/my crate/lib.rs")
	assert.True(t, ok)
}

func TestClientHandlerProgressAndDiagnostics(t *testing.T) {
	pt := NewProgressTracker()
	ds := NewDiagnosticsStore()
	h := NewClientHandler(pt, ds)

	h.HandleInbound(nil, &Frame{Method: "$/progress", Params: rawParams(t, map[string]any{
		"token": "rustAnalyzer/Indexing",
		"value": map[string]any{"kind": "begin", "title": "Indexing"},
	})})
	assert.True(t, pt.IsIndexing())

	h.HandleInbound(nil, &Frame{Method: "textDocument/publishDiagnostics", Params: rawParams(t, map[string]any{
		"uri":         "file:///w/src/lib.rs",
		"diagnostics": []map[string]any{{"message": "mismatched types", "severity": 1}},
	})})
	got, ok := ds.Get("file:///w/src/lib.rs")
	require.True(t, ok)
	assert.Len(t, got, 1)

	h.HandleInbound(nil, &Frame{Method: "experimental/serverStatus", Params: rawParams(t, map[string]any{
		"health": "ok", "quiescent": true,
	})})
	h.HandleInbound(nil, &Frame{Method: "$/progress", Params: rawParams(t, map[string]any{
		"token": "rustAnalyzer/Indexing",
		"value": map[string]any{"kind": "end"},
	})})
	assert.Equal(t, IndexingIdle, pt.State())
}

func TestClientHandlerAnswersServerRequests(t *testing.T) {
	h := NewClientHandler(NewProgressTracker(), NewDiagnosticsStore())
	_, p := newCorrelatorPair(t, h)

	tests := []struct {
		method string
		params any
		want   string
	}{
		{"window/workDoneProgress/create", map[string]any{"token": "rustAnalyzer/Fetching"}, `null`},
		{"client/registerCapability", map[string]any{"registrations": []any{}}, `null`},
		{"workspace/configuration", map[string]any{"items": []any{map[string]any{}, map[string]any{}}}, `[null,null]`},
	}

	for i, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			req := &jsonrpc2.Request{Method: tt.method, ID: jsonrpc2.ID{Num: uint64(100 + i)}}
			require.NoError(t, req.SetParams(tt.params))
			p.write(req)

			m := p.read()
			require.NotNil(t, m.ID)
			assert.EqualValues(t, 100+i, m.ID.Num)
			assert.Nil(t, m.Error)
			if m.Result == nil {
				assert.Equal(t, "null", tt.want)
			} else {
				assert.JSONEq(t, tt.want, string(*m.Result))
			}
		})
	}

	req := &jsonrpc2.Request{Method: "rust-analyzer/unknownRequest", ID: jsonrpc2.ID{Num: 200}}
	p.write(req)
	m := p.read()
	require.NotNil(t, m.Error)
	assert.EqualValues(t, jsonrpc2.CodeMethodNotFound, m.Error.Code)
}

type emitted struct {
	level unhandledNotifLevel
	msg   string
	kv    []any
}

func newTestLimiter(cfg unhandledNotifConfig) (*unhandledNotifLimiter, *[]emitted, *time.Time) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var (
		mu  sync.Mutex
		out []emitted
	)
	l := newUnhandledNotifLimiter(cfg)
	l.now = func() time.Time { return now }
	l.emit = func(level unhandledNotifLevel, msg string, kv ...any) {
		mu.Lock()
		out = append(out, emitted{level, msg, kv})
		mu.Unlock()
	}
	return l, &out, &now
}

func TestUnhandledNotifLimiterBurstAndWindow(t *testing.T) {
	l, out, now := newTestLimiter(unhandledNotifConfig{
		level: unhandledNotifInfo, window: 10 * time.Second, burstPerKey: 2, maxParamBytes: 8,
	})

	params := rawParams(t, map[string]any{"verbose": "a long payload"})
	for i := 0; i < 5; i++ {
		l.log("rust-analyzer/someNotification", params)
	}
	require.Len(t, *out, 3, "two lines, then one suppression notice")
	assert.Equal(t, "Unhandled notification", (*out)[0].msg)
	assert.Contains(t, fmt.Sprint((*out)[0].kv...), "(truncated)")
	assert.Equal(t, "Unhandled notification flood, suppressing", (*out)[2].msg)

	*now = now.Add(11 * time.Second)
	l.log("rust-analyzer/someNotification", nil)
	require.Len(t, *out, 5)
	assert.Equal(t, "Unhandled notification suppressed", (*out)[3].msg)
	assert.Contains(t, (*out)[3].kv, 3)
}

func TestUnhandledNotifLimiterOff(t *testing.T) {
	l, out, _ := newTestLimiter(unhandledNotifConfig{level: unhandledNotifOff, burstPerKey: 3})
	l.log("x", nil)
	assert.Empty(t, *out)
}

func TestLoadUnhandledNotifConfig(t *testing.T) {
	t.Setenv("RA_BRIDGE_UNHANDLED_NOTIFICATIONS_LEVEL", "info")
	t.Setenv("RA_BRIDGE_UNHANDLED_NOTIFICATIONS_WINDOW", "1m")
	t.Setenv("RA_BRIDGE_UNHANDLED_NOTIFICATIONS_BURST", "7")
	t.Setenv("RA_BRIDGE_UNHANDLED_NOTIFICATIONS_MAX_PARAM_BYTES", "bogus")

	cfg := loadUnhandledNotifConfig()
	assert.Equal(t, unhandledNotifInfo, cfg.level)
	assert.Equal(t, time.Minute, cfg.window)
	assert.Equal(t, 7, cfg.burstPerKey)
	assert.Equal(t, 4096, cfg.maxParamBytes)
}
