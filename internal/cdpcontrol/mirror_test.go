package cdpcontrol

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/net/html"

	"github.com/dgnsrekt/moneymask/internal/dom"
)

// document is the tree served by DOM.getDocument:
//
//	<!DOCTYPE html><html><head></head><body><div class="bal">$100.00</div></body></html>
const document = `{"root":{"nodeId":1,"nodeType":9,"nodeName":"#document","localName":"","nodeValue":"","children":[
	{"nodeId":2,"nodeType":10,"nodeName":"html","localName":"","nodeValue":""},
	{"nodeId":3,"nodeType":1,"nodeName":"HTML","localName":"html","nodeValue":"","attributes":[],"children":[
		{"nodeId":4,"nodeType":1,"nodeName":"HEAD","localName":"head","nodeValue":"","attributes":[]},
		{"nodeId":5,"nodeType":1,"nodeName":"BODY","localName":"body","nodeValue":"","attributes":[],"children":[
			{"nodeId":6,"nodeType":1,"nodeName":"DIV","localName":"div","nodeValue":"","attributes":["class","bal"],"children":[
				{"nodeId":7,"nodeType":3,"nodeName":"#text","localName":"","nodeValue":"$100.00"}
			]}
		]}
	]}
]}}`

const built = `<!DOCTYPE html><html><head></head><body><div class="bal">$100.00</div></body></html>`

type sentCommand struct {
	method string
	params json.RawMessage
}

type fakeCommander struct {
	sent    []sentCommand
	replies map[string]string
}

func (f *fakeCommander) call(_ context.Context, method string, params any) (json.RawMessage, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	f.sent = append(f.sent, sentCommand{method: method, params: raw})
	if r, ok := f.replies[method]; ok {
		return json.RawMessage(r), nil
	}
	return json.RawMessage(`{}`), nil
}

func (f *fakeCommander) methods() []string {
	var out []string
	for _, c := range f.sent {
		out = append(out, c.method)
	}
	return out
}

func (f *fakeCommander) reset() { f.sent = nil }

type mirrorHarness struct {
	doc *dom.Document
	cmd *fakeCommander
	m   *Mirror
}

func newMirrorHarness(t *testing.T, cfg MirrorConfig) *mirrorHarness {
	t.Helper()
	h := &mirrorHarness{
		doc: dom.New(&html.Node{Type: html.DocumentNode}),
		cmd: &fakeCommander{replies: map[string]string{"DOM.getDocument": document}},
	}
	cfg.Doc = h.doc
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	// Events are drained inline.
	cfg.Post = func(fn func()) bool { fn(); return true }
	h.m = newMirror(h.cmd, cfg)
	if err := h.m.Build(context.Background()); err != nil {
		t.Fatalf("Build() = %v; want nil", err)
	}
	h.cmd.reset()
	return h
}

func (h *mirrorHarness) event(method, params string) {
	h.m.handleEvent(method, json.RawMessage(params))
}

func (h *mirrorHarness) div() *html.Node {
	return h.doc.QueryIn(h.doc.Root(), "div.bal")
}

func TestMirrorBuild(t *testing.T) {
	h := newMirrorHarness(t, MirrorConfig{})
	if got := h.doc.String(); got != built {
		t.Fatalf("String() = %q; want %q", got, built)
	}
	if id, ok := h.m.NodeID(h.div()); !ok || id != 6 {
		t.Fatalf("NodeID(div) = %v, %v; want 6, true", id, ok)
	}
	if id, ok := h.m.NodeID(h.div().FirstChild); !ok || id != 7 {
		t.Fatalf("NodeID(text) = %v, %v; want 7, true", id, ok)
	}
}

func TestMirrorBuildRejectsMissingRoot(t *testing.T) {
	doc := dom.New(&html.Node{Type: html.DocumentNode})
	cmd := &fakeCommander{replies: map[string]string{"DOM.getDocument": `{}`}}
	m := newMirror(cmd, MirrorConfig{Doc: doc, Post: func(fn func()) bool { fn(); return true }})
	if err := m.Build(context.Background()); err == nil {
		t.Fatalf("Build() = nil; want error")
	}
}

func TestMirrorWritesAndSuppressesEchoes(t *testing.T) {
	h := newMirrorHarness(t, MirrorConfig{})
	div := h.div()

	h.doc.SetAttr(div, "class", "bal masked")
	want := []string{"DOM.setAttributeValue"}
	if diff := cmp.Diff(want, h.cmd.methods()); diff != "" {
		t.Fatalf("commands mismatch (-want +got):\n%s", diff)
	}
	if got, want := string(h.cmd.sent[0].params), `{"nodeId":6,"name":"class","value":"bal masked"}`; got != want {
		t.Fatalf("setAttributeValue params = %s; want %s", got, want)
	}

	h.cmd.reset()
	h.event("DOM.attributeModified", `{"nodeId":6,"name":"class","value":"bal masked"}`)
	h.doc.Flush()
	if len(h.cmd.sent) != 0 {
		t.Fatalf("echo produced commands %v; want none", h.cmd.methods())
	}

	h.doc.RemoveChild(div.Parent, div)
	if diff := cmp.Diff([]string{"DOM.removeNode"}, h.cmd.methods()); diff != "" {
		t.Fatalf("commands after remove mismatch (-want +got):\n%s", diff)
	}
	h.cmd.reset()
	h.event("DOM.childNodeRemoved", `{"parentNodeId":5,"nodeId":6}`)
	if len(h.cmd.sent) != 0 {
		t.Fatalf("removal echo produced commands %v; want none", h.cmd.methods())
	}
	if _, ok := h.m.NodeID(div); ok {
		t.Fatalf("removed div still bound")
	}
}

func TestMirrorAppliesPageChanges(t *testing.T) {
	h := newMirrorHarness(t, MirrorConfig{})
	var records []dom.Record
	h.doc.Watch([]*html.Node{h.doc.Body()}, func(rs []dom.Record) {
		records = append(records, rs...)
	}, dom.WatchOptions{ChildList: true, Subtree: true, CharacterData: true})

	h.event("DOM.characterDataModified", `{"nodeId":7,"characterData":"$250.00"}`)
	h.event("DOM.childNodeInserted", `{"parentNodeId":5,"previousNodeId":6,"node":
		{"nodeId":8,"nodeType":1,"nodeName":"SPAN","localName":"span","nodeValue":"","attributes":["id","n"],"children":[
			{"nodeId":9,"nodeType":3,"nodeName":"#text","localName":"","nodeValue":"new"}]}}`)
	h.event("DOM.childNodeRemoved", `{"parentNodeId":5,"nodeId":6}`)
	h.doc.Flush()

	want := `<!DOCTYPE html><html><head></head><body><span id="n">new</span></body></html>`
	if got := h.doc.String(); got != want {
		t.Fatalf("String() = %q; want %q", got, want)
	}
	if len(h.cmd.sent) != 0 {
		t.Fatalf("page changes produced commands %v; want none", h.cmd.methods())
	}
	if len(records) != 3 {
		t.Fatalf("observer saw %d records; want 3", len(records))
	}
}

func TestMirrorCloneUsesCopyTo(t *testing.T) {
	h := newMirrorHarness(t, MirrorConfig{})
	h.cmd.replies["DOM.copyTo"] = `{"nodeId":20}`
	div := h.div()

	clone := h.doc.CloneAfter(div, "money-mask-clone")
	want := []string{"DOM.copyTo", "DOM.setAttributeValue", "DOM.requestChildNodes"}
	if diff := cmp.Diff(want, h.cmd.methods()); diff != "" {
		t.Fatalf("commands mismatch (-want +got):\n%s", diff)
	}
	if got, want := string(h.cmd.sent[0].params), `{"nodeId":6,"targetNodeId":5}`; got != want {
		t.Fatalf("copyTo params = %s; want %s", got, want)
	}
	if id, ok := h.m.NodeID(clone); !ok || id != 20 {
		t.Fatalf("NodeID(clone) = %v, %v; want 20, true", id, ok)
	}

	h.cmd.reset()
	h.event("DOM.childNodeInserted", `{"parentNodeId":5,"previousNodeId":6,"node":
		{"nodeId":20,"nodeType":1,"nodeName":"DIV","localName":"div","nodeValue":"","attributes":["class","bal"]}}`)
	h.event("DOM.setChildNodes", `{"parentId":20,"nodes":[
		{"nodeId":21,"nodeType":3,"nodeName":"#text","localName":"","nodeValue":"$100.00"}]}`)
	if got := len(h.doc.QueryAllIn(h.doc.Root(), "div.bal")); got != 2 {
		t.Fatalf("div.bal count = %d; want 2", got)
	}
	if id, ok := h.m.NodeID(clone.FirstChild); !ok || id != 21 {
		t.Fatalf("NodeID(clone text) = %v, %v; want 21, true", id, ok)
	}

	h.doc.SetText(clone, "$1.00")
	if diff := cmp.Diff([]string{"DOM.setNodeValue"}, h.cmd.methods()); diff != "" {
		t.Fatalf("commands after SetText mismatch (-want +got):\n%s", diff)
	}
	if got, want := string(h.cmd.sent[0].params), `{"nodeId":21,"value":"$1.00"}`; got != want {
		t.Fatalf("setNodeValue params = %s; want %s", got, want)
	}
}

func TestMirrorScriptFallback(t *testing.T) {
	h := newMirrorHarness(t, MirrorConfig{})
	h.cmd.replies["DOM.resolveNode"] = `{"object":{"type":"object","objectId":"obj-1"}}`
	h.cmd.replies["Runtime.callFunctionOn"] = `{"result":{"type":"boolean","value":true}}`

	span := &html.Node{Type: html.ElementNode, Data: "span"}
	span.AppendChild(&html.Node{Type: html.TextNode, Data: "x"})
	h.doc.AppendChild(h.doc.Body(), span)

	want := []string{"DOM.resolveNode", "Runtime.callFunctionOn", "Runtime.releaseObject"}
	if diff := cmp.Diff(want, h.cmd.methods()); diff != "" {
		t.Fatalf("commands mismatch (-want +got):\n%s", diff)
	}
	var call struct {
		ObjectID  string `json:"objectId"`
		Arguments []struct {
			Value any `json:"value"`
		} `json:"arguments"`
	}
	if err := json.Unmarshal(h.cmd.sent[1].params, &call); err != nil {
		t.Fatalf("decode callFunctionOn params: %v", err)
	}
	if call.ObjectID != "obj-1" || len(call.Arguments) != 4 {
		t.Fatalf("callFunctionOn = %+v; want obj-1 with 4 arguments", call)
	}
	if op, markup := call.Arguments[1].Value, call.Arguments[2].Value; op != "insert" || markup != "<span>x</span>" {
		t.Fatalf("callFunctionOn op, markup = %v, %v; want insert, <span>x</span>", op, markup)
	}
	if idx := call.Arguments[3].Value; idx != float64(1) {
		t.Fatalf("insert index = %v; want 1", idx)
	}

	// The page echoes the inserted span; it binds instead of duplicating.
	h.cmd.reset()
	h.event("DOM.childNodeInserted", `{"parentNodeId":5,"previousNodeId":6,"node":
		{"nodeId":30,"nodeType":1,"nodeName":"SPAN","localName":"span","nodeValue":"","attributes":[],"children":[
			{"nodeId":31,"nodeType":3,"nodeName":"#text","localName":"","nodeValue":"x"}]}}`)
	if got := strings.Count(h.doc.String(), "<span>"); got != 1 {
		t.Fatalf("span count = %d; want 1", got)
	}
	if id, ok := h.m.NodeID(span.FirstChild); !ok || id != 31 {
		t.Fatalf("NodeID(span text) = %v, %v; want 31, true", id, ok)
	}
	if len(h.cmd.sent) != 0 {
		t.Fatalf("echo produced commands %v; want none", h.cmd.methods())
	}
}

func TestMirrorSetTextOnElement(t *testing.T) {
	h := newMirrorHarness(t, MirrorConfig{})
	h.cmd.replies["DOM.resolveNode"] = `{"object":{"objectId":"obj-2"}}`

	h.doc.SetText(h.doc.Body(), "hello")

	var call struct {
		Arguments []struct {
			Value any `json:"value"`
		} `json:"arguments"`
	}
	if len(h.cmd.sent) != 3 {
		t.Fatalf("commands = %v; want resolve, call, release", h.cmd.methods())
	}
	if err := json.Unmarshal(h.cmd.sent[1].params, &call); err != nil {
		t.Fatalf("decode callFunctionOn params: %v", err)
	}
	got := []any{call.Arguments[0].Value, call.Arguments[1].Value, call.Arguments[2].Value}
	if diff := cmp.Diff([]any{[]any{}, "text", "hello"}, got); diff != "" {
		t.Fatalf("callFunctionOn arguments mismatch (-want +got):\n%s", diff)
	}
}

func TestMirrorDocumentUpdatedRebuilds(t *testing.T) {
	var roots []*html.Node
	h := newMirrorHarness(t, MirrorConfig{OnReset: func(root *html.Node) { roots = append(roots, root) }})
	if len(roots) != 1 {
		t.Fatalf("OnReset calls after Build = %d; want 1", len(roots))
	}

	h.event("DOM.documentUpdated", `{}`)
	if diff := cmp.Diff([]string{"DOM.getDocument"}, h.cmd.methods()); diff != "" {
		t.Fatalf("commands mismatch (-want +got):\n%s", diff)
	}
	if len(roots) != 2 {
		t.Fatalf("OnReset calls after documentUpdated = %d; want 2", len(roots))
	}
}

func TestMirrorDropsEventsAfterStop(t *testing.T) {
	h := newMirrorHarness(t, MirrorConfig{})
	h.m.post = func(func()) bool { return false }
	h.event("DOM.characterDataModified", `{"nodeId":7,"characterData":"$1"}`)
	h.m.post = func(fn func()) bool { fn(); return true }
	h.event("DOM.characterDataModified", `{"nodeId":7,"characterData":"$2"}`)
	if got := dom.Text(h.div()); got != "$2" {
		t.Fatalf("Text(div) = %q; want $2", got)
	}
}
