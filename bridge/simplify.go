package bridge

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"rockerboo/rust-analyzer-bridge/session"
	"rockerboo/rust-analyzer-bridge/utils"
)

// Results are reduced to the fields an agent needs; the raw LSP payloads
// are mostly ranges and server-private data.

var symbolKinds = [...]string{
	"", "file", "module", "namespace", "package", "class", "method", "property",
	"field", "constructor", "enum", "interface", "function", "variable",
	"constant", "string", "number", "boolean", "array", "object", "key", "null",
	"enum_member", "struct", "event", "operator", "type_parameter",
}

var completionKinds = [...]string{
	"", "text", "method", "function", "constructor", "field", "variable",
	"class", "interface", "module", "property", "unit", "value", "enum",
	"keyword", "snippet", "color", "file", "reference", "folder",
	"enum_member", "constant", "struct", "event", "operator", "type_parameter",
}

func kindName(table []string, k int64) string {
	if k > 0 && int(k) < len(table) {
		return table[k]
	}
	return fmt.Sprintf("kind_%d", k)
}

// isEmpty reports null, [] and {} answers.
func isEmpty(raw json.RawMessage) bool {
	r := gjson.ParseBytes(raw)
	switch {
	case !r.Exists() || r.Type == gjson.Null:
		return true
	case r.IsArray():
		return len(r.Array()) == 0
	case r.IsObject():
		return len(r.Map()) == 0
	default:
		return false
	}
}

// items returns r as a list: arrays as-is, a single object as one element.
func items(r gjson.Result) []gjson.Result {
	switch {
	case r.IsArray():
		return r.Array()
	case r.IsObject():
		return []gjson.Result{r}
	default:
		return nil
	}
}

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return b
}

// locator renders server URIs as workspace-relative local paths.
type locator struct {
	root  string
	local func(uri string) string
}

func newLocator(s *session.Session) locator {
	return locator{root: s.Root(), local: s.LocalPath}
}

func (l locator) file(uri string) string {
	if l.local == nil {
		return utils.DisplayPath(l.root, uri)
	}
	return utils.DisplayPath(l.root, l.local(uri))
}

func point(r gjson.Result) string {
	return fmt.Sprintf("%d:%d", r.Get("line").Int(), r.Get("character").Int())
}

type location struct {
	File      string `json:"file"`
	Line      int64  `json:"line"`
	Character int64  `json:"character"`
	URI       string `json:"uri,omitempty"`
}

// simplifyLocations flattens Location | LocationLink | arrays of either.
// linkRange picks the LocationLink range to report.
func simplifyLocations(l locator, raw json.RawMessage, linkRange string, withURI bool) json.RawMessage {
	r := gjson.ParseBytes(raw)
	if r.Type == gjson.Null || !r.Exists() {
		return json.RawMessage("[]")
	}
	out := make([]location, 0)
	for _, it := range items(r) {
		uri := it.Get("uri").String()
		start := it.Get("range.start")
		if target := it.Get("targetUri"); target.Exists() {
			uri = target.String()
			start = it.Get(linkRange + ".start")
			if !start.Exists() {
				start = it.Get("targetRange.start")
			}
		}
		if uri == "" {
			continue
		}
		loc := location{
			File:      l.file(uri),
			Line:      start.Get("line").Int(),
			Character: start.Get("character").Int(),
		}
		if withURI {
			loc.URI = uri
		}
		out = append(out, loc)
	}
	return mustMarshal(out)
}

type hover struct {
	Contents *string           `json:"contents"`
	Range    map[string]string `json:"range,omitempty"`
	Message  string            `json:"message,omitempty"`
}

func simplifyHover(raw json.RawMessage) json.RawMessage {
	r := gjson.ParseBytes(raw)
	if isEmpty(raw) || !r.Get("contents").Exists() {
		return mustMarshal(hover{Message: "No hover information available"})
	}
	text := markup(r.Get("contents"))
	h := hover{Contents: &text}
	if rg := r.Get("range"); rg.Exists() {
		h.Range = map[string]string{"start": point(rg.Get("start")), "end": point(rg.Get("end"))}
	}
	return mustMarshal(h)
}

// markup flattens MarkupContent, MarkedString and arrays of MarkedString.
func markup(c gjson.Result) string {
	switch {
	case c.Type == gjson.String:
		return c.String()
	case c.IsArray():
		parts := make([]string, 0)
		for _, p := range c.Array() {
			if s := markup(p); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "\n\n")
	case c.IsObject():
		if lang := c.Get("language"); lang.Exists() {
			return "```" + lang.String() + "\n" + c.Get("value").String() + "\n```"
		}
		return c.Get("value").String()
	default:
		return ""
	}
}

type call struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	Detail    string `json:"detail,omitempty"`
	File      string `json:"file"`
	Line      int64  `json:"line"`
	Character int64  `json:"character"`
}

// simplifyCalls reads the "from" (incoming) or "to" (outgoing) item of each
// call hierarchy entry.
func simplifyCalls(l locator, raw json.RawMessage, side string) json.RawMessage {
	out := make([]call, 0)
	for _, c := range items(gjson.ParseBytes(raw)) {
		item := c.Get(side)
		if !item.Exists() {
			continue
		}
		start := item.Get("selectionRange.start")
		if !start.Exists() {
			start = item.Get("range.start")
		}
		out = append(out, call{
			Name:      item.Get("name").String(),
			Kind:      kindName(symbolKinds[:], item.Get("kind").Int()),
			Detail:    item.Get("detail").String(),
			File:      l.file(item.Get("uri").String()),
			Line:      start.Get("line").Int(),
			Character: start.Get("character").Int(),
		})
	}
	return mustMarshal(out)
}

type inlayHint struct {
	Position string `json:"position"`
	Label    string `json:"label"`
	Kind     string `json:"kind"`
}

func simplifyInlayHints(raw json.RawMessage) json.RawMessage {
	out := make([]inlayHint, 0)
	for _, h := range items(gjson.ParseBytes(raw)) {
		label := h.Get("label")
		var text string
		switch {
		case label.Type == gjson.String:
			text = label.String()
		case label.IsArray():
			var b strings.Builder
			for _, p := range label.Array() {
				if p.Type == gjson.String {
					b.WriteString(p.String())
				} else {
					b.WriteString(p.Get("value").String())
				}
			}
			text = b.String()
		default:
			continue
		}
		kind := "other"
		switch h.Get("kind").Int() {
		case 1:
			kind = "type"
		case 2:
			kind = "parameter"
		}
		out = append(out, inlayHint{Position: point(h.Get("position")), Label: text, Kind: kind})
	}
	return mustMarshal(out)
}

type workspaceSymbol struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	Container string `json:"container,omitempty"`
	Location  string `json:"location"`
}

func simplifyWorkspaceSymbols(l locator, raw json.RawMessage) json.RawMessage {
	out := make([]workspaceSymbol, 0)
	for _, s := range items(gjson.ParseBytes(raw)) {
		loc := l.file(s.Get("location.uri").String())
		if start := s.Get("location.range.start"); start.Exists() {
			loc = fmt.Sprintf("%s:%d:%d", loc, start.Get("line").Int(), start.Get("character").Int())
		}
		out = append(out, workspaceSymbol{
			Name:      s.Get("name").String(),
			Kind:      kindName(symbolKinds[:], s.Get("kind").Int()),
			Container: s.Get("containerName").String(),
			Location:  loc,
		})
	}
	return mustMarshal(out)
}

type documentSymbol struct {
	Name      string           `json:"name"`
	Kind      string           `json:"kind"`
	Detail    string           `json:"detail,omitempty"`
	Line      int64            `json:"line"`
	Character int64            `json:"character"`
	EndLine   int64            `json:"end_line"`
	Container string           `json:"container,omitempty"`
	Children  []documentSymbol `json:"children,omitempty"`
}

// simplifyDocumentSymbols accepts both the hierarchical DocumentSymbol form
// and the flat SymbolInformation form.
func simplifyDocumentSymbols(raw json.RawMessage) json.RawMessage {
	return mustMarshal(documentSymbols(items(gjson.ParseBytes(raw))))
}

func documentSymbols(list []gjson.Result) []documentSymbol {
	out := make([]documentSymbol, 0, len(list))
	for _, s := range list {
		rg := s.Get("selectionRange")
		full := s.Get("range")
		if !rg.Exists() {
			rg = s.Get("location.range")
			full = rg
		}
		ds := documentSymbol{
			Name:      s.Get("name").String(),
			Kind:      kindName(symbolKinds[:], s.Get("kind").Int()),
			Detail:    s.Get("detail").String(),
			Line:      rg.Get("start.line").Int(),
			Character: rg.Get("start.character").Int(),
			EndLine:   full.Get("end.line").Int(),
			Container: s.Get("containerName").String(),
		}
		if children := s.Get("children"); children.IsArray() && len(children.Array()) > 0 {
			ds.Children = documentSymbols(children.Array())
		}
		out = append(out, ds)
	}
	return out
}

type completionItem struct {
	Label  string `json:"label"`
	Kind   string `json:"kind,omitempty"`
	Detail string `json:"detail,omitempty"`
}

type completionList struct {
	IsIncomplete bool             `json:"is_incomplete"`
	Total        int              `json:"total"`
	Items        []completionItem `json:"items"`
}

// maxCompletionItems bounds the completion list returned to callers.
const maxCompletionItems = 100

// completionEntries returns the items of a CompletionItem[] or CompletionList.
func completionEntries(raw json.RawMessage) (gjson.Result, []gjson.Result) {
	r := gjson.ParseBytes(raw)
	if r.IsObject() {
		return r, r.Get("items").Array()
	}
	return r, r.Array()
}

func simplifyCompletion(raw json.RawMessage) json.RawMessage {
	r, entries := completionEntries(raw)
	out := completionList{
		IsIncomplete: r.Get("isIncomplete").Bool(),
		Total:        len(entries),
		Items:        make([]completionItem, 0, min(len(entries), maxCompletionItems)),
	}
	for i, it := range entries {
		if i == maxCompletionItems {
			out.IsIncomplete = true
			break
		}
		item := completionItem{Label: it.Get("label").String(), Detail: it.Get("detail").String()}
		if k := it.Get("kind"); k.Exists() {
			item.Kind = kindName(completionKinds[:], k.Int())
		}
		if item.Detail == "" {
			item.Detail = it.Get("labelDetails.detail").String()
		}
		out.Items = append(out.Items, item)
	}
	return mustMarshal(out)
}

type textEdit struct {
	Start   string `json:"start"`
	End     string `json:"end"`
	NewText string `json:"new_text"`
}

func simplifyEdits(raw json.RawMessage) json.RawMessage {
	out := make([]textEdit, 0)
	for _, e := range items(gjson.ParseBytes(raw)) {
		out = append(out, textEdit{
			Start:   point(e.Get("range.start")),
			End:     point(e.Get("range.end")),
			NewText: e.Get("newText").String(),
		})
	}
	return mustMarshal(out)
}

type codeAction struct {
	Title     string `json:"title"`
	Kind      string `json:"kind"`
	Preferred bool   `json:"is_preferred,omitempty"`
}

func simplifyCodeActions(raw json.RawMessage) json.RawMessage {
	out := make([]codeAction, 0)
	for _, a := range items(gjson.ParseBytes(raw)) {
		kind := a.Get("kind").String()
		if kind == "" && a.Get("command").Type == gjson.String {
			kind = "command"
		}
		out = append(out, codeAction{
			Title:     a.Get("title").String(),
			Kind:      kind,
			Preferred: a.Get("isPreferred").Bool(),
		})
	}
	return mustMarshal(out)
}
