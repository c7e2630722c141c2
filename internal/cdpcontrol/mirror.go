package cdpcontrol

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/cdp"
	cdpdom "github.com/chromedp/cdproto/dom"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/dgnsrekt/moneymask/internal/dom"
)

const defaultCommandTimeout = 5 * time.Second

// mirrorEvents are the DOM events a Mirror applies.
var mirrorEvents = []string{
	cdproto.EventDOMChildNodeInserted,
	cdproto.EventDOMChildNodeRemoved,
	cdproto.EventDOMSetChildNodes,
	cdproto.EventDOMCharacterDataModified,
	cdproto.EventDOMAttributeModified,
	cdproto.EventDOMAttributeRemoved,
	cdproto.EventDOMDocumentUpdated,
}

// applyFunction runs on a live node resolved from the nearest mirrored
// ancestor. path walks childNodes from there to the target.
const applyFunction = `function(path, op, a, b) {
	let n = this;
	for (const i of path) {
		n = n.childNodes[i];
		if (!n) return false;
	}
	switch (op) {
	case "attr": n.setAttribute(a, b); break;
	case "rmattr": n.removeAttribute(a); break;
	case "value": n.nodeValue = a; break;
	case "text": n.textContent = a; break;
	case "html": n.innerHTML = a; break;
	case "insert": {
		const t = document.createElement("template");
		t.innerHTML = a;
		n.insertBefore(t.content, n.childNodes[b] || null);
		break;
	}
	default: return false;
	}
	return true;
}`

// commander issues CDP commands on one attached session.
type commander interface {
	call(ctx context.Context, method string, params any) (json.RawMessage, error)
}

// MirrorConfig wires a Mirror to its engine.
type MirrorConfig struct {
	Doc *dom.Document
	// Post runs fn on the goroutine that owns Doc.
	Post   func(fn func()) bool
	Logger *slog.Logger
	// Timeout bounds each command the mirror sends.
	Timeout time.Duration
	// OnReset installs a freshly built tree. It defaults to Doc.Reset.
	OnReset func(root *html.Node)
}

type rawEvent struct {
	method string
	params json.RawMessage
}

// Mirror keeps a dom.Document in step with a live tab. Page-side DOM events
// are applied to the tree as remote changes; engine-side changes arrive
// through the dom.Sink methods and are written to the page.
//
// Everything except handleEvent runs on the Post goroutine.
type Mirror struct {
	doc     *dom.Document
	cmd     commander
	post    func(fn func()) bool
	logger  *slog.Logger
	timeout time.Duration
	onReset func(root *html.Node)

	byID map[cdp.NodeID]*html.Node
	ids  map[*html.Node]cdp.NodeID

	mu        sync.Mutex
	inbox     []rawEvent
	scheduled bool
}

func newMirror(cmd commander, cfg MirrorConfig) *Mirror {
	m := &Mirror{
		doc:     cfg.Doc,
		cmd:     cmd,
		post:    cfg.Post,
		logger:  cfg.Logger,
		timeout: cfg.Timeout,
		onReset: cfg.OnReset,
		byID:    make(map[cdp.NodeID]*html.Node),
		ids:     make(map[*html.Node]cdp.NodeID),
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.timeout <= 0 {
		m.timeout = defaultCommandTimeout
	}
	if m.onReset == nil {
		m.onReset = m.doc.Reset
	}
	m.doc.SetSink(m)
	return m
}

// Build fetches the whole live document and installs it.
func (m *Mirror) Build(ctx context.Context) error {
	raw, err := m.cmd.call(ctx, cdproto.CommandDOMGetDocument, cdpdom.GetDocumentParams{Depth: -1})
	if err != nil {
		return newError(CodeCDPUnavailable, "get document failed", err)
	}
	var resp cdpdom.GetDocumentReturns
	if err := json.Unmarshal(raw, &resp); err != nil {
		return newError(CodeEvalFailure, "decode document failed", err)
	}
	if resp.Root == nil || resp.Root.NodeType != cdp.NodeTypeDocument {
		return newError(CodeEvalFailure, "document root missing", nil)
	}

	m.byID = make(map[cdp.NodeID]*html.Node)
	m.ids = make(map[*html.Node]cdp.NodeID)
	root := m.convert(resp.Root)
	m.onReset(root)
	m.logger.Debug("mirror built", "nodes", len(m.byID))
	return nil
}

// NodeID returns the live id bound to n.
func (m *Mirror) NodeID(n *html.Node) (cdp.NodeID, bool) {
	id, ok := m.ids[n]
	return id, ok
}

// handleEvent queues a DOM event and schedules a drain on the owning
// goroutine. It is called from the CDP read loop and never blocks on the
// tree.
func (m *Mirror) handleEvent(method string, params json.RawMessage) {
	m.mu.Lock()
	m.inbox = append(m.inbox, rawEvent{method: method, params: params})
	if m.scheduled {
		m.mu.Unlock()
		return
	}
	m.scheduled = true
	m.mu.Unlock()

	if !m.post(m.drain) {
		m.mu.Lock()
		m.inbox = nil
		m.scheduled = false
		m.mu.Unlock()
	}
}

func (m *Mirror) drain() {
	m.mu.Lock()
	events := m.inbox
	m.inbox = nil
	m.scheduled = false
	m.mu.Unlock()

	for _, ev := range events {
		if ev.method == cdproto.EventDOMDocumentUpdated {
			m.rebuild()
			continue
		}
		m.doc.Remote(func() { m.apply(ev) })
	}
}

func (m *Mirror) rebuild() {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	if err := m.Build(ctx); err != nil {
		m.logger.Warn("mirror rebuild failed", "error", err)
	}
}

func (m *Mirror) apply(ev rawEvent) {
	switch ev.method {
	case cdproto.EventDOMChildNodeInserted:
		var e cdpdom.EventChildNodeInserted
		if m.decode(ev, &e) {
			m.onInserted(&e)
		}
	case cdproto.EventDOMChildNodeRemoved:
		var e cdpdom.EventChildNodeRemoved
		if m.decode(ev, &e) {
			m.onRemoved(&e)
		}
	case cdproto.EventDOMSetChildNodes:
		var e cdpdom.EventSetChildNodes
		if m.decode(ev, &e) {
			m.onSetChildNodes(&e)
		}
	case cdproto.EventDOMCharacterDataModified:
		var e cdpdom.EventCharacterDataModified
		if m.decode(ev, &e) {
			m.doc.SetNodeValue(m.byID[e.NodeID], e.CharacterData)
		}
	case cdproto.EventDOMAttributeModified:
		var e cdpdom.EventAttributeModified
		if m.decode(ev, &e) {
			m.doc.SetAttr(m.byID[e.NodeID], e.Name, e.Value)
		}
	case cdproto.EventDOMAttributeRemoved:
		var e cdpdom.EventAttributeRemoved
		if m.decode(ev, &e) {
			m.doc.RemoveAttr(m.byID[e.NodeID], e.Name)
		}
	}
}

func (m *Mirror) decode(ev rawEvent, dst any) bool {
	if err := json.Unmarshal(ev.params, dst); err != nil {
		m.logger.Debug("mirror dropping undecodable event", "method", ev.method, "error", err)
		return false
	}
	return true
}

func (m *Mirror) onInserted(e *cdpdom.EventChildNodeInserted) {
	if e.Node == nil {
		return
	}
	parent := m.byID[e.ParentNodeID]
	if parent == nil {
		return
	}
	if existing := m.byID[e.Node.NodeID]; existing != nil {
		// The echo of a copy we made; the root is already bound.
		m.bindTree(existing, e.Node)
		return
	}

	var ref *html.Node
	if e.PreviousNodeID == 0 {
		ref = parent.FirstChild
	} else if prev := m.byID[e.PreviousNodeID]; prev != nil && prev.Parent == parent {
		ref = prev.NextSibling
	}
	if ref != nil && !m.bound(ref) && compatible(ref, e.Node) {
		// The echo of a node the engine inserted through script.
		m.bindTree(ref, e.Node)
		return
	}
	if n := m.convert(e.Node); n != nil {
		m.doc.InsertBefore(parent, n, ref)
	}
}

func (m *Mirror) onRemoved(e *cdpdom.EventChildNodeRemoved) {
	n := m.byID[e.NodeID]
	if n == nil {
		return
	}
	if n.Parent != nil {
		m.doc.RemoveChild(n.Parent, n)
	}
	m.unbindTree(n)
}

func (m *Mirror) onSetChildNodes(e *cdpdom.EventSetChildNodes) {
	parent := m.byID[e.ParentID]
	if parent == nil {
		return
	}
	if m.pairChildren(parent, e.Nodes) {
		return
	}
	var kids []*html.Node
	for _, cn := range e.Nodes {
		if k := m.convert(cn); k != nil {
			kids = append(kids, k)
		}
	}
	for c := parent.FirstChild; c != nil; c = c.NextSibling {
		m.unbindTree(c)
	}
	m.doc.ReplaceChildren(parent, kids...)
}

// pairChildren binds parent's existing children to nodes when they line up
// one to one, which is the case for children of a copy we made.
func (m *Mirror) pairChildren(parent *html.Node, nodes []*cdp.Node) bool {
	c := parent.FirstChild
	for _, cn := range nodes {
		if c == nil || !compatible(c, cn) {
			return false
		}
		if id, ok := m.ids[c]; ok && id != cn.NodeID {
			return false
		}
		c = c.NextSibling
	}
	if c != nil {
		return false
	}
	c = parent.FirstChild
	for _, cn := range nodes {
		m.bindTree(c, cn)
		c = c.NextSibling
	}
	return true
}

// convert builds an html subtree for cn, binding every node it creates.
func (m *Mirror) convert(cn *cdp.Node) *html.Node {
	if cn == nil {
		return nil
	}
	var n *html.Node
	switch cn.NodeType {
	case cdp.NodeTypeDocument:
		n = &html.Node{Type: html.DocumentNode}
	case cdp.NodeTypeDocumentType:
		n = &html.Node{Type: html.DoctypeNode, Data: strings.ToLower(cn.NodeName)}
	case cdp.NodeTypeElement:
		name := localName(cn)
		n = &html.Node{Type: html.ElementNode, Data: name, DataAtom: atom.Lookup([]byte(name))}
		if cn.IsSVG {
			n.Namespace = "svg"
		}
		for i := 0; i+1 < len(cn.Attributes); i += 2 {
			n.Attr = append(n.Attr, html.Attribute{Key: cn.Attributes[i], Val: cn.Attributes[i+1]})
		}
	case cdp.NodeTypeText, cdp.NodeTypeCDATA:
		n = &html.Node{Type: html.TextNode, Data: cn.NodeValue}
	case cdp.NodeTypeComment:
		n = &html.Node{Type: html.CommentNode, Data: cn.NodeValue}
	default:
		return nil
	}
	m.bind(n, cn.NodeID)
	for _, c := range cn.Children {
		if child := m.convert(c); child != nil {
			n.AppendChild(child)
		}
	}
	return n
}

func localName(cn *cdp.Node) string {
	if cn.LocalName != "" {
		return strings.ToLower(cn.LocalName)
	}
	return strings.ToLower(cn.NodeName)
}

func compatible(n *html.Node, cn *cdp.Node) bool {
	switch cn.NodeType {
	case cdp.NodeTypeElement:
		return n.Type == html.ElementNode && n.Data == localName(cn)
	case cdp.NodeTypeText, cdp.NodeTypeCDATA:
		return n.Type == html.TextNode
	case cdp.NodeTypeComment:
		return n.Type == html.CommentNode
	default:
		return false
	}
}

func (m *Mirror) bound(n *html.Node) bool {
	_, ok := m.ids[n]
	return ok
}

func (m *Mirror) bind(n *html.Node, id cdp.NodeID) {
	if n == nil || id == 0 {
		return
	}
	if old, ok := m.ids[n]; ok && m.byID[old] == n {
		delete(m.byID, old)
	}
	m.byID[id] = n
	m.ids[n] = id
}

// bindTree binds n and its descendants to cn where they are still unbound.
func (m *Mirror) bindTree(n *html.Node, cn *cdp.Node) {
	if !m.bound(n) {
		m.bind(n, cn.NodeID)
	}
	c := n.FirstChild
	for _, cc := range cn.Children {
		if c == nil || !compatible(c, cc) {
			return
		}
		m.bindTree(c, cc)
		c = c.NextSibling
	}
}

func (m *Mirror) unbindTree(n *html.Node) {
	if id, ok := m.ids[n]; ok {
		delete(m.ids, n)
		if m.byID[id] == n {
			delete(m.byID, id)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		m.unbindTree(c)
	}
}

// nextBound is the id of the first bound sibling after n, or 0.
func (m *Mirror) nextBound(n *html.Node) cdp.NodeID {
	for s := n.NextSibling; s != nil; s = s.NextSibling {
		if id, ok := m.ids[s]; ok {
			return id
		}
	}
	return 0
}
