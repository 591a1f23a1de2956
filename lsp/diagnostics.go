package lsp

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"rockerboo/rust-analyzer-bridge/utils"
)

// FileDiagnostics is the last publishDiagnostics payload for one URI.
type FileDiagnostics struct {
	URI         string
	Diagnostics []json.RawMessage
	UpdatedAt   time.Time
}

// DiagnosticsStore caches pushed diagnostics per document URI.
type DiagnosticsStore struct {
	mu    sync.RWMutex
	files map[string]*FileDiagnostics
}

func NewDiagnosticsStore() *DiagnosticsStore {
	return &DiagnosticsStore{files: make(map[string]*FileDiagnostics)}
}

// Publish replaces the diagnostics for uri. An empty list is kept so callers
// can tell "clean" from "never published".
func (ds *DiagnosticsStore) Publish(uri string, diags []json.RawMessage) {
	if diags == nil {
		diags = []json.RawMessage{}
	}
	uri = canonicalURI(uri)
	ds.mu.Lock()
	ds.files[uri] = &FileDiagnostics{URI: uri, Diagnostics: diags, UpdatedAt: time.Now()}
	ds.mu.Unlock()
}

// Get returns the cached diagnostics for uri and whether any were published.
func (ds *DiagnosticsStore) Get(uri string) ([]json.RawMessage, bool) {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	fd, ok := ds.files[canonicalURI(uri)]
	if !ok {
		return nil, false
	}
	out := make([]json.RawMessage, len(fd.Diagnostics))
	copy(out, fd.Diagnostics)
	return out, true
}

// All returns every file with at least one diagnostic, sorted by URI.
func (ds *DiagnosticsStore) All() []FileDiagnostics {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	out := make([]FileDiagnostics, 0, len(ds.files))
	for _, fd := range ds.files {
		if len(fd.Diagnostics) == 0 {
			continue
		}
		out = append(out, *fd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })
	return out
}

// Len reports the number of URIs with a published entry.
func (ds *DiagnosticsStore) Len() int {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	return len(ds.files)
}

// canonicalURI re-encodes file URIs so that differently escaped spellings
// of the same path share one entry.
func canonicalURI(uri string) string {
	p, err := utils.FileURIToPath(uri)
	if err != nil {
		return uri
	}
	out, err := utils.PathToFileURI(p)
	if err != nil {
		return uri
	}
	return out
}
