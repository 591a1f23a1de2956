package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sourcegraph/jsonrpc2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/zap/zaptest"
	"rockerboo/rust-analyzer-bridge/logger"
	"rockerboo/rust-analyzer-bridge/lsp"
	"rockerboo/rust-analyzer-bridge/lsp/lsptest"
)

func testConfig() lsp.Config {
	cfg := lsp.DefaultConfig()
	cfg.DocumentOpenDelay = 0
	cfg.RequestTimeout = lsp.Duration(2 * time.Second)
	cfg.InitTimeout = lsp.Duration(2 * time.Second)
	cfg.ShutdownTimeout = lsp.Duration(200 * time.Millisecond)
	cfg.IndexingTimeout = lsp.Duration(2 * time.Second)
	cfg.RetryInterval = lsp.Duration(10 * time.Millisecond)
	cfg.MaxRetryInterval = lsp.Duration(20 * time.Millisecond)
	cfg.MaxRetries = 5
	return cfg
}

func newWorkspace(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "Cargo.toml"), []byte("[package]\nname = \"demo\"\nversion = \"0.1.0\"\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "lib.rs"), []byte("pub fn greet() -> &'static str { \"hi\" }\n\npub fn main() { greet(); }\n"), 0o644))
	return root
}

func useTestLogger(t *testing.T) {
	logger.SetLogger(zaptest.NewLogger(t))
	t.Cleanup(func() { logger.SetLogger(nil) })
}

// startBridge returns a bridge with a ready session on a fresh workspace.
func startBridge(t *testing.T, srv *lsptest.Server, opts ...Option) (*Bridge, string) {
	t.Helper()
	return startBridgeIn(t, srv, newWorkspace(t), opts...)
}

func startBridgeIn(t *testing.T, srv *lsptest.Server, root string, opts ...Option) (*Bridge, string) {
	t.Helper()
	useTestLogger(t)
	b := New(testConfig(), srv, opts...)
	t.Cleanup(b.Close)
	info, err := b.SetWorkspace(context.Background(), root)
	require.NoError(t, err)
	require.True(t, info.Initialized)
	return b, info.Workspace
}

func at(line, character int) Position {
	return Position{FilePath: "src/lib.rs", Line: line, Character: character}
}

func TestOperationsRequireWorkspace(t *testing.T) {
	useTestLogger(t)
	b := New(testConfig(), lsptest.NewServer())

	_, err := b.Hover(context.Background(), at(0, 7))
	assert.ErrorIs(t, err, lsp.ErrNotReady)
	_, err = b.WorkspaceSymbols(context.Background(), "greet")
	assert.ErrorIs(t, err, lsp.ErrNotReady)

	assert.Equal(t, WorkspaceInfo{}, b.GetWorkspace())
	assert.Equal(t, "stopped", b.Status().State)
}

func TestSetWorkspaceSameRootIsNoop(t *testing.T) {
	srv := lsptest.NewServer()
	b, root := startBridge(t, srv)

	info, err := b.SetWorkspace(context.Background(), root)
	require.NoError(t, err)
	require.NotNil(t, info.Changed)
	assert.False(t, *info.Changed)
	assert.Contains(t, info.Message, "Already initialized")
	assert.Equal(t, 1, srv.Launches())
}

func TestSetWorkspaceMissingRoot(t *testing.T) {
	useTestLogger(t)
	srv := lsptest.NewServer()
	b := New(testConfig(), srv)
	t.Cleanup(b.Close)

	_, err := b.SetWorkspace(context.Background(), filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.Equal(t, lsp.KindInvalidArgument, lsp.KindOf(err))
	assert.Zero(t, srv.Launches())

	st := b.Status()
	assert.Equal(t, "error", st.State)
	require.NotNil(t, st.Session)
	assert.NotEmpty(t, st.Session.LastError)

	_, err = b.WorkspaceSymbols(context.Background(), "greet")
	assert.ErrorIs(t, err, lsp.ErrNotReady)
}

func TestSetWorkspaceReplacesSession(t *testing.T) {
	srv := lsptest.NewServer()
	b, first := startBridge(t, srv)

	info, err := b.SetWorkspace(context.Background(), newWorkspace(t))
	require.NoError(t, err)
	require.NotNil(t, info.Changed)
	assert.True(t, *info.Changed)
	assert.NotEqual(t, first, info.Workspace)
	assert.Equal(t, 2, srv.Launches())
	assert.Contains(t, srv.Methods(), "shutdown")
	assert.Equal(t, info.Workspace, b.GetWorkspace().Workspace)
}

func TestDidOpenPrecedesQueryAndHappensOnce(t *testing.T) {
	srv := lsptest.NewServer()
	srv.Respond(lsp.MethodHover, map[string]any{"contents": map[string]any{"kind": "markdown", "value": "fn greet()"}})
	b, _ := startBridge(t, srv)

	for i := 0; i < 2; i++ {
		res, err := b.Hover(context.Background(), at(0, 7))
		require.NoError(t, err)
		assert.Equal(t, "fn greet()", gjson.GetBytes(res.Data, "contents").String())
	}

	require.Eventually(t, func() bool { return srv.Count(lsp.MethodHover) == 2 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"initialize", "initialized", "textDocument/didOpen", "textDocument/hover", "textDocument/hover"}, srv.Methods())
}

func TestConcurrentOperationsAreSerialized(t *testing.T) {
	srv := lsptest.NewServer()
	var inFlight, maxInFlight atomic.Int32
	srv.Handle(lsp.MethodReferences, func(ctx context.Context, _ json.RawMessage) (any, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		return []map[string]any{{
			"uri":   "file:///elsewhere/lib.rs",
			"range": map[string]any{"start": map[string]any{"line": 2, "character": 16}, "end": map[string]any{"line": 2, "character": 21}},
		}}, nil
	})
	b, _ := startBridge(t, srv)

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := b.References(context.Background(), at(0, 7))
			if err == nil && len(gjson.ParseBytes(res.Data).Array()) != 1 {
				err = errors.New("unexpected result " + string(res.Data))
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, n, srv.Count(lsp.MethodReferences))
	assert.Equal(t, 1, srv.Count(lsp.MethodDidOpen))
	assert.EqualValues(t, 1, maxInFlight.Load())
}

func TestKilledServerNeedsWorkspaceReset(t *testing.T) {
	srv := lsptest.NewServer()
	srv.Respond(lsp.MethodHover, map[string]any{"contents": "fn greet()"})
	b, root := startBridge(t, srv)

	srv.Kill()
	require.Eventually(t, func() bool { return b.Status().State == "error" }, 2*time.Second, 10*time.Millisecond)

	_, err := b.Hover(context.Background(), at(0, 7))
	require.Error(t, err)
	assert.ErrorIs(t, err, lsp.ErrNotReady)

	info, err := b.SetWorkspace(context.Background(), root)
	require.NoError(t, err)
	assert.True(t, *info.Changed)
	assert.Equal(t, 2, srv.Launches())

	res, err := b.Hover(context.Background(), at(0, 7))
	require.NoError(t, err)
	assert.Equal(t, "fn greet()", gjson.GetBytes(res.Data, "contents").String())
}

func TestWorkspaceSymbolEventuallyNonEmpty(t *testing.T) {
	root, err := filepath.EvalSymlinks(newWorkspace(t))
	require.NoError(t, err)
	srv := lsptest.NewServer()
	greet := map[string]any{
		"name": "greet",
		"kind": 12,
		"location": map[string]any{
			"uri":   "file://" + filepath.ToSlash(filepath.Join(root, "src", "lib.rs")),
			"range": map[string]any{"start": map[string]any{"line": 0, "character": 7}, "end": map[string]any{"line": 0, "character": 12}},
		},
	}
	srv.RespondSequence(lsp.MethodWorkspaceSymbol, nil, []any{}, []any{greet})
	b, _ := startBridgeIn(t, srv, root)

	res, err := b.WorkspaceSymbols(context.Background(), "greet")
	require.NoError(t, err)
	assert.False(t, res.Empty)
	assert.Equal(t, 3, res.Attempts)

	syms := gjson.ParseBytes(res.Data).Array()
	require.Len(t, syms, 1)
	assert.Equal(t, "greet", syms[0].Get("name").String())
	assert.Equal(t, "function", syms[0].Get("kind").String())
	assert.Equal(t, "src/lib.rs:0:7", syms[0].Get("location").String())

	params, _ := srv.LastParams(lsp.MethodWorkspaceSymbol)
	assert.Equal(t, "greet", gjson.GetBytes(params, "query").String())
}

func TestEmptyResultReturnedAfterBudget(t *testing.T) {
	srv := lsptest.NewServer()
	b, _ := startBridge(t, srv)

	res, err := b.Definition(context.Background(), at(2, 17))
	require.NoError(t, err)
	assert.True(t, res.Empty)
	assert.Equal(t, testConfig().MaxRetries, res.Attempts)
	assert.JSONEq(t, `[]`, string(res.Data))
	assert.Equal(t, testConfig().MaxRetries, srv.Count(lsp.MethodDefinition))
}

func TestHoverNullIsNoInformation(t *testing.T) {
	srv := lsptest.NewServer()
	b, _ := startBridge(t, srv)

	res, err := b.Hover(context.Background(), at(0, 0))
	require.NoError(t, err)
	assert.True(t, res.Empty)
	assert.JSONEq(t, `{"contents":null,"message":"No hover information available"}`, string(res.Data))
	assert.Equal(t, 1, srv.Count(lsp.MethodHover), "hover is not retried")
}

func TestUpstreamErrorIsTyped(t *testing.T) {
	srv := lsptest.NewServer()
	srv.RespondError(lsp.MethodHover, -32603, "internal panic")
	b, _ := startBridge(t, srv)

	_, err := b.Hover(context.Background(), at(0, 7))
	require.Error(t, err)
	assert.ErrorIs(t, err, lsp.ErrUpstream)
	assert.Equal(t, "upstream error: textDocument/hover: -32603 internal panic", err.Error())
	assert.Equal(t, "ready", b.Status().State, "upstream errors leave the session alone")
}

func TestContentModifiedIsRetried(t *testing.T) {
	srv := lsptest.NewServer()
	var calls atomic.Int32
	srv.Handle(lsp.MethodDefinition, func(context.Context, json.RawMessage) (any, error) {
		if calls.Add(1) == 1 {
			return nil, &jsonrpc2.Error{Code: codeContentModified, Message: "content modified"}
		}
		return map[string]any{
			"uri":   "file:///x/lib.rs",
			"range": map[string]any{"start": map[string]any{"line": 0, "character": 7}, "end": map[string]any{"line": 0, "character": 12}},
		}, nil
	})
	b, _ := startBridge(t, srv)

	res, err := b.Definition(context.Background(), at(2, 17))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	assert.Len(t, gjson.ParseBytes(res.Data).Array(), 1)
}

func TestInvalidArgumentsFailBeforeDispatch(t *testing.T) {
	srv := lsptest.NewServer()
	b, root := startBridge(t, srv)
	outside := filepath.Join(t.TempDir(), "other.rs")
	require.NoError(t, os.WriteFile(outside, []byte("fn x() {}\n"), 0o644))

	tests := []struct {
		name string
		run  func() error
	}{
		{"empty path", func() error { _, err := b.Hover(context.Background(), Position{}); return err }},
		{"negative line", func() error { _, err := b.Hover(context.Background(), at(-1, 0)); return err }},
		{"negative character", func() error { _, err := b.Definition(context.Background(), at(0, -3)); return err }},
		{"missing file", func() error {
			_, err := b.Hover(context.Background(), Position{FilePath: "src/missing.rs"})
			return err
		}},
		{"directory", func() error { _, err := b.DocumentSymbols(context.Background(), "src"); return err }},
		{"escapes root", func() error { _, err := b.Format(context.Background(), "../../etc/passwd"); return err }},
		{"absolute outside root", func() error { _, err := b.Format(context.Background(), outside); return err }},
		{"range end before start", func() error {
			_, err := b.InlayHints(context.Background(), Range{FilePath: "src/lib.rs", Line: 3, EndLine: 1})
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run()
			require.Error(t, err)
			assert.ErrorIs(t, err, lsp.ErrInvalidArgument)
		})
	}
	assert.Zero(t, srv.Count(lsp.MethodDidOpen))
	assert.Equal(t, []string{"initialize", "initialized"}, srv.Methods())
	assert.DirExists(t, root)
}

func TestDefinitionSimplifiesLocationLinks(t *testing.T) {
	srv := lsptest.NewServer()
	b, root := startBridge(t, srv)
	target := "file://" + filepath.ToSlash(filepath.Join(root, "src", "lib.rs"))
	srv.Respond(lsp.MethodDefinition, []map[string]any{{
		"targetUri":            target,
		"targetRange":          map[string]any{"start": map[string]any{"line": 0, "character": 0}, "end": map[string]any{"line": 0, "character": 40}},
		"targetSelectionRange": map[string]any{"start": map[string]any{"line": 0, "character": 7}, "end": map[string]any{"line": 0, "character": 12}},
	}})

	res, err := b.Definition(context.Background(), at(2, 17))
	require.NoError(t, err)
	assert.JSONEq(t, `[{"file":"src/lib.rs","line":0,"character":7,"uri":"`+target+`"}]`, string(res.Data))

	params, _ := srv.LastParams(lsp.MethodDefinition)
	assert.EqualValues(t, 2, gjson.GetBytes(params, "position.line").Int())
	assert.EqualValues(t, 17, gjson.GetBytes(params, "position.character").Int())
}

func TestIncomingCallsUsesPreparedItem(t *testing.T) {
	srv := lsptest.NewServer()
	b, root := startBridge(t, srv)
	uri := "file://" + filepath.ToSlash(filepath.Join(root, "src", "lib.rs"))
	rng := func(line int) map[string]any {
		return map[string]any{"start": map[string]any{"line": line, "character": 7}, "end": map[string]any{"line": line, "character": 12}}
	}
	srv.RespondSequence(lsp.MethodPrepareCallHierarchy, []any{}, []map[string]any{{
		"name": "greet", "kind": 12, "uri": uri, "range": rng(0), "selectionRange": rng(0), "data": "opaque-42",
	}})
	srv.Respond(lsp.MethodIncomingCalls, []map[string]any{{
		"from":       map[string]any{"name": "main", "kind": 12, "uri": uri, "range": rng(2), "selectionRange": rng(2)},
		"fromRanges": []any{rng(2)},
	}})

	res, err := b.IncomingCalls(context.Background(), at(0, 8))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts, "empty prepare is retried")
	assert.JSONEq(t, `[{"name":"main","kind":"function","file":"src/lib.rs","line":2,"character":7}]`, string(res.Data))

	params, _ := srv.LastParams(lsp.MethodIncomingCalls)
	assert.Equal(t, "opaque-42", gjson.GetBytes(params, "item.data").String(), "item passed through verbatim")
}

func TestOutgoingCallsEmptyIsAnswer(t *testing.T) {
	srv := lsptest.NewServer()
	srv.Respond(lsp.MethodPrepareCallHierarchy, []map[string]any{{"name": "greet", "kind": 12, "uri": "file:///x.rs"}})
	srv.Respond(lsp.MethodOutgoingCalls, []any{})
	b, _ := startBridge(t, srv)

	res, err := b.OutgoingCalls(context.Background(), at(0, 8))
	require.NoError(t, err)
	assert.True(t, res.Empty)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 1, srv.Count(lsp.MethodOutgoingCalls))
}

func diag(line, severity int, msg string) map[string]any {
	return map[string]any{
		"message":  msg,
		"severity": severity,
		"source":   "rustc",
		"range":    map[string]any{"start": map[string]any{"line": line, "character": 4}, "end": map[string]any{"line": line, "character": 9}},
	}
}

func TestCodeActionsAttachDiagnosticsInRange(t *testing.T) {
	srv := lsptest.NewServer()
	srv.Respond(lsp.MethodCodeAction, []map[string]any{
		{"title": "Remove unused variable", "kind": "quickfix", "isPreferred": true},
		{"title": "Extract into function", "kind": "refactor.extract"},
	})
	b, _ := startBridge(t, srv)
	uri, err := b.Session().URIFor(filepath.Join(b.Session().Root(), "src", "lib.rs"))
	require.NoError(t, err)
	require.NoError(t, srv.PublishDiagnostics(context.Background(), uri, []map[string]any{
		diag(0, 2, "unused variable"),
		diag(5, 1, "mismatched types"),
	}))
	require.Eventually(t, func() bool {
		_, ok := b.Session().Diagnostics().Get(uri)
		return ok
	}, time.Second, 10*time.Millisecond)

	res, err := b.CodeActions(context.Background(), Range{FilePath: "src/lib.rs", Line: 0, EndLine: 1, EndCharacter: 0})
	require.NoError(t, err)
	assert.JSONEq(t, `[{"title":"Remove unused variable","kind":"quickfix","is_preferred":true},{"title":"Extract into function","kind":"refactor.extract"}]`, string(res.Data))

	params, _ := srv.LastParams(lsp.MethodCodeAction)
	ctxDiags := gjson.GetBytes(params, "context.diagnostics").Array()
	require.Len(t, ctxDiags, 1)
	assert.Equal(t, "unused variable", ctxDiags[0].Get("message").String())
	assert.Len(t, gjson.GetBytes(params, "context.only").Array(), len(lsp.CodeActionKinds))
}

func TestDiagnosticsFromPublishedCache(t *testing.T) {
	srv := lsptest.NewServer()
	b, _ := startBridge(t, srv)
	uri, err := b.Session().URIFor(filepath.Join(b.Session().Root(), "src", "lib.rs"))
	require.NoError(t, err)
	require.NoError(t, srv.PublishDiagnostics(context.Background(), uri, []map[string]any{
		diag(0, 1, "mismatched types"), diag(2, 2, "unused"), diag(2, 4, "consider"),
	}))
	require.Eventually(t, func() bool { return b.Session().Diagnostics().Len() == 1 }, time.Second, 10*time.Millisecond)

	res, err := b.Diagnostics(context.Background(), "src/lib.rs")
	require.NoError(t, err)
	assert.False(t, res.Empty)
	assert.Equal(t, "src/lib.rs", gjson.GetBytes(res.Data, "file").String())
	assert.JSONEq(t, `{"errors":1,"warnings":1,"information":0,"hints":1}`, gjson.GetBytes(res.Data, "summary").Raw)
	assert.Equal(t, "error", gjson.GetBytes(res.Data, "diagnostics.0.severity").String())
	assert.Zero(t, srv.Count(lsp.MethodDocumentDiagnostic), "cached push answers without a pull")
}

func TestDiagnosticsPullsWhenNothingPublished(t *testing.T) {
	srv := lsptest.NewServer()
	srv.Respond(lsp.MethodDocumentDiagnostic, map[string]any{"kind": "full", "items": []any{diag(1, 2, "unused import")}})
	b, _ := startBridge(t, srv)

	res, err := b.Diagnostics(context.Background(), "src/lib.rs")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Attempts)
	assert.EqualValues(t, 1, gjson.GetBytes(res.Data, "summary.warnings").Int())
}

func TestWorkspaceDiagnosticsFallsBackToPublished(t *testing.T) {
	srv := lsptest.NewServer()
	srv.RespondError(lsp.MethodWorkspaceDiagnostic, int64(jsonrpc2.CodeMethodNotFound), "unknown request")
	b, root := startBridge(t, srv)
	uri, err := b.Session().URIFor(filepath.Join(root, "src", "lib.rs"))
	require.NoError(t, err)
	require.NoError(t, srv.PublishDiagnostics(context.Background(), uri, []map[string]any{diag(0, 1, "boom"), diag(1, 2, "meh")}))
	require.Eventually(t, func() bool { return b.Session().Diagnostics().Len() == 1 }, time.Second, 10*time.Millisecond)

	res, err := b.WorkspaceDiagnostics(context.Background())
	require.NoError(t, err)
	out := gjson.ParseBytes(res.Data)
	assert.Equal(t, "published", out.Get("source").String())
	assert.Equal(t, root, out.Get("workspace").String())
	assert.JSONEq(t, `{"total_files":1,"total_errors":1,"total_warnings":1,"total_information":0,"total_hints":0}`, out.Get("summary").Raw)
	assert.Len(t, out.Get(`files.src/lib\.rs.diagnostics`).Array(), 2)

	params, _ := srv.LastParams(lsp.MethodWorkspaceDiagnostic)
	assert.Equal(t, "rust-analyzer", gjson.GetBytes(params, "identifier").String())
}

func TestInvokeDispatchesByName(t *testing.T) {
	srv := lsptest.NewServer()
	srv.Respond(lsp.MethodHover, map[string]any{"contents": "fn greet()"})
	b, root := startBridge(t, srv)
	ctx := context.Background()

	res, err := b.Invoke(ctx, ToolHover, json.RawMessage(`{"file_path":"src/lib.rs","line":0,"character":7}`))
	require.NoError(t, err)
	assert.Equal(t, "fn greet()", gjson.GetBytes(res.Data, "contents").String())

	_, err = b.Invoke(ctx, ToolHover, json.RawMessage(`{"file_path":"src/lib.rs","line":0}`))
	assert.ErrorIs(t, err, lsp.ErrInvalidArgument)
	assert.Contains(t, err.Error(), "missing character")

	_, err = b.Invoke(ctx, ToolHover, json.RawMessage(`{"file_path":"src/lib.rs","line":1.5,"character":0}`))
	assert.ErrorIs(t, err, lsp.ErrInvalidArgument)

	_, err = b.Invoke(ctx, "rust_analyzer_rename", nil)
	assert.ErrorIs(t, err, ErrUnknownTool)
	assert.ErrorIs(t, err, lsp.ErrInvalidArgument)

	res, err = b.Invoke(ctx, ToolGetWorkspace, nil)
	require.NoError(t, err)
	assert.Equal(t, root, gjson.GetBytes(res.Data, "workspace").String())
	assert.True(t, gjson.GetBytes(res.Data, "initialized").Bool())

	res, err = b.Invoke(ctx, ToolStatus, nil)
	require.NoError(t, err)
	assert.Equal(t, "ready", gjson.GetBytes(res.Data, "state").String())
}

func TestWatcherForwardsFileChanges(t *testing.T) {
	srv := lsptest.NewServer()
	b, root := startBridge(t, srv, WithWatcher(true))
	require.True(t, b.Status().Watcher)

	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "extra.rs"), []byte("pub fn extra() {}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "README.md"), []byte("ignored\n"), 0o644))

	require.Eventually(t, func() bool { return srv.Count(lsp.MethodDidChangeWatchedFiles) >= 1 }, 5*time.Second, 50*time.Millisecond)
	params, _ := srv.LastParams(lsp.MethodDidChangeWatchedFiles)
	changes := gjson.GetBytes(params, "changes").Array()
	require.NotEmpty(t, changes)
	for _, c := range changes {
		assert.Contains(t, c.Get("uri").String(), "extra.rs")
	}
	assert.EqualValues(t, lsp.FileCreated, changes[0].Get("type").Int())
}

func TestConcurrentSameRootLaunchesOnce(t *testing.T) {
	useTestLogger(t)
	srv := lsptest.NewServer()
	srv.Handle(lsp.MethodInitialize, func(ctx context.Context, _ json.RawMessage) (any, error) {
		time.Sleep(200 * time.Millisecond)
		return map[string]any{"capabilities": map[string]any{"hoverProvider": true}}, nil
	})
	b := New(testConfig(), srv)
	t.Cleanup(b.Close)
	root := newWorkspace(t)

	var wg sync.WaitGroup
	infos := make([]WorkspaceInfo, 2)
	errs := make([]error, 2)
	for i := range infos {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			infos[i], errs[i] = b.SetWorkspace(context.Background(), root)
		}(i)
		time.Sleep(20 * time.Millisecond)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, 1, srv.Launches())
	require.NotNil(t, infos[1].Changed)
	assert.False(t, *infos[1].Changed)
	assert.True(t, b.Status().Ready)
}

func TestSetWorkspaceClosesReplacedWatcher(t *testing.T) {
	srv := lsptest.NewServer()
	b, _ := startBridge(t, srv, WithWatcher(true))
	b.mu.RLock()
	old := b.watcher
	b.mu.RUnlock()
	require.NotNil(t, old)

	roots := []string{newWorkspace(t), newWorkspace(t)}
	var wg sync.WaitGroup
	for _, root := range roots {
		wg.Add(1)
		go func(root string) {
			defer wg.Done()
			_, err := b.SetWorkspace(context.Background(), root)
			assert.NoError(t, err)
		}(root)
	}
	wg.Wait()

	select {
	case <-old.done:
	default:
		t.Fatal("replaced watcher still running")
	}
	b.mu.RLock()
	cur := b.watcher
	b.mu.RUnlock()
	require.NotNil(t, cur)
	assert.NotSame(t, old, cur)
	assert.Same(t, b.Session(), cur.session, "watcher follows the current session")
	assert.Equal(t, 3, srv.Launches())
}

func TestWorkspaceChangeClearsWarmupRunning(t *testing.T) {
	srv := lsptest.NewServer()
	b, _ := startBridge(t, srv)
	b.warmupMu.Lock()
	b.warmupRunning = true
	b.warmupMu.Unlock()

	_, err := b.SetWorkspace(context.Background(), newWorkspace(t))
	require.NoError(t, err)
	assert.False(t, b.WarmupStatus().Running)
}

func TestWarmupOutcomeDroppedAfterWorkspaceChange(t *testing.T) {
	srv := lsptest.NewServer()
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	srv.Handle(lsp.MethodDocumentSymbol, func(context.Context, json.RawMessage) (any, error) {
		once.Do(func() { close(entered) })
		<-release
		return []any{map[string]any{"name": "greet", "kind": 12}}, nil
	})
	b, _ := startBridge(t, srv)

	warm := make(chan error, 1)
	go func() { warm <- b.SyncWarmup(context.Background()) }()
	<-entered

	next := newWorkspace(t)
	swapped := make(chan error, 1)
	go func() {
		_, err := b.SetWorkspace(context.Background(), next)
		swapped <- err
	}()
	close(release)
	require.NoError(t, <-swapped)

	select {
	case <-warm:
	case <-time.After(10 * time.Second):
		t.Fatal("warm-up did not return")
	}
	st := b.WarmupStatus()
	assert.False(t, st.Done, "outcome for the old workspace is discarded")
	assert.False(t, st.Running)
}

func TestEmptyResultFinalOnceIndexingIdle(t *testing.T) {
	srv := lsptest.NewServer()
	b, _ := startBridge(t, srv)
	srv.Respond(lsp.MethodDefinition, []any{})

	ctx := context.Background()
	require.NoError(t, srv.Progress(ctx, "rustAnalyzer/Indexing", "begin", "Indexing"))
	require.NoError(t, srv.Progress(ctx, "rustAnalyzer/Indexing", "end", ""))
	require.Eventually(t, func() bool {
		return b.Session().Progress().State() == lsp.IndexingIdle
	}, time.Second, 10*time.Millisecond)

	res, err := b.Definition(ctx, at(2, 17))
	require.NoError(t, err)
	assert.True(t, res.Empty)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 1, srv.Count(lsp.MethodDefinition))
}
