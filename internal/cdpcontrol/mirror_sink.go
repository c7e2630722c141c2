package cdpcontrol

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/cdp"
	cdpdom "github.com/chromedp/cdproto/dom"
	"golang.org/x/net/html"

	"github.com/dgnsrekt/moneymask/internal/dom"
)

// AttrSet implements dom.Sink.
func (m *Mirror) AttrSet(n *html.Node, key, val string) {
	if id, ok := m.ids[n]; ok {
		m.command(cdproto.CommandDOMSetAttributeValue, cdpdom.SetAttributeValueParams{NodeID: id, Name: key, Value: val})
		return
	}
	m.applyJS(n, "attr", key, val)
}

// AttrRemoved implements dom.Sink.
func (m *Mirror) AttrRemoved(n *html.Node, key string) {
	if id, ok := m.ids[n]; ok {
		m.command(cdproto.CommandDOMRemoveAttribute, cdpdom.RemoveAttributeParams{NodeID: id, Name: key})
		return
	}
	m.applyJS(n, "rmattr", key, nil)
}

// NodeValueSet implements dom.Sink.
func (m *Mirror) NodeValueSet(n *html.Node, value string) {
	if id, ok := m.ids[n]; ok {
		m.command(cdproto.CommandDOMSetNodeValue, cdpdom.SetNodeValueParams{NodeID: id, Value: value})
		return
	}
	m.applyJS(n, "value", value, nil)
}

// TextSet implements dom.Sink. The replaced children are unbound when their
// removal is echoed back.
func (m *Mirror) TextSet(n *html.Node, text string) {
	m.applyJS(n, "text", text, nil)
}

// Cloned implements dom.Sink with DOM.copyTo, so the copy is a real page
// node whose id is known before the engine writes to it.
func (m *Mirror) Cloned(orig, clone *html.Node) {
	origID, ok := m.ids[orig]
	parentID, pok := m.ids[orig.Parent]
	if !ok || !pok {
		m.Inserted(clone.Parent, clone)
		return
	}
	raw, ok := m.command(cdproto.CommandDOMCopyTo, cdpdom.CopyToParams{
		NodeID:             origID,
		TargetNodeID:       parentID,
		InsertBeforeNodeID: m.nextBound(clone),
	})
	if !ok {
		return
	}
	var resp cdpdom.CopyToReturns
	if err := json.Unmarshal(raw, &resp); err != nil || resp.NodeID == 0 {
		m.logger.Warn("mirror copy returned no node id", "error", err)
		return
	}
	m.bind(clone, resp.NodeID)

	// The live copy has the original's attributes; push what the clone added.
	for _, a := range clone.Attr {
		if v, ok := dom.LookupAttr(orig, a.Key); !ok || v != a.Val {
			m.command(cdproto.CommandDOMSetAttributeValue, cdpdom.SetAttributeValueParams{NodeID: resp.NodeID, Name: a.Key, Value: a.Val})
		}
	}
	m.command(cdproto.CommandDOMRequestChildNodes, cdpdom.RequestChildNodesParams{NodeID: resp.NodeID, Depth: -1})
}

// Inserted implements dom.Sink. Bound nodes are moved; new nodes are
// created from their markup.
func (m *Mirror) Inserted(parent, n *html.Node) {
	if id, ok := m.ids[n]; ok {
		if pid, ok := m.ids[parent]; ok {
			raw, ok := m.command(cdproto.CommandDOMMoveTo, cdpdom.MoveToParams{
				NodeID:             id,
				TargetNodeID:       pid,
				InsertBeforeNodeID: m.nextBound(n),
			})
			if !ok {
				return
			}
			var resp cdpdom.MoveToReturns
			if err := json.Unmarshal(raw, &resp); err == nil && resp.NodeID != 0 {
				m.unbindTree(n)
				m.bind(n, resp.NodeID)
				m.command(cdproto.CommandDOMRequestChildNodes, cdpdom.RequestChildNodesParams{NodeID: resp.NodeID, Depth: -1})
			}
			return
		}
	}
	m.applyJS(parent, "insert", render(n), childIndex(n))
}

// Removed implements dom.Sink.
func (m *Mirror) Removed(_, n *html.Node) {
	id, ok := m.ids[n]
	if !ok {
		m.logger.Debug("mirror removal has no live counterpart", "node", n.Data)
		return
	}
	m.command(cdproto.CommandDOMRemoveNode, cdpdom.RemoveNodeParams{NodeID: id})
	m.unbindTree(n)
}

// ChildrenReplaced implements dom.Sink.
func (m *Mirror) ChildrenReplaced(n *html.Node) {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		_ = html.Render(&b, c)
	}
	m.applyJS(n, "html", b.String(), nil)
}

// command sends one CDP command, logging failures. Sink calls cannot return
// errors, so a failed write leaves the page behind until the next change.
func (m *Mirror) command(method string, params any) (json.RawMessage, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	raw, err := m.cmd.call(ctx, method, params)
	if err != nil {
		m.logger.Warn("mirror command failed", "method", method, "error", err)
		return nil, false
	}
	return raw, true
}

type callArgument struct {
	Value any `json:"value"`
}

// applyJS runs applyFunction against n, addressed from its nearest bound
// ancestor.
func (m *Mirror) applyJS(n *html.Node, op string, a, b any) {
	id, path, ok := m.locate(n)
	if !ok {
		m.logger.Debug("mirror write has no live counterpart", "op", op)
		return
	}
	raw, ok := m.command(cdproto.CommandDOMResolveNode, cdpdom.ResolveNodeParams{NodeID: id})
	if !ok {
		return
	}
	var resolved struct {
		Object struct {
			ObjectID string `json:"objectId"`
		} `json:"object"`
	}
	if err := json.Unmarshal(raw, &resolved); err != nil || resolved.Object.ObjectID == "" {
		m.logger.Warn("mirror could not resolve node", "node_id", id, "error", err)
		return
	}
	objectID := resolved.Object.ObjectID
	defer m.command(cdproto.CommandRuntimeReleaseObject, struct {
		ObjectID string `json:"objectId"`
	}{objectID})

	raw, ok = m.command(cdproto.CommandRuntimeCallFunctionOn, struct {
		FunctionDeclaration string         `json:"functionDeclaration"`
		ObjectID            string         `json:"objectId"`
		Arguments           []callArgument `json:"arguments"`
		Silent              bool           `json:"silent"`
	}{
		FunctionDeclaration: applyFunction,
		ObjectID:            objectID,
		Arguments:           []callArgument{{path}, {op}, {a}, {b}},
		Silent:              true,
	})
	if !ok {
		return
	}
	var resp struct {
		ExceptionDetails *struct {
			Text string `json:"text"`
		} `json:"exceptionDetails"`
	}
	if err := json.Unmarshal(raw, &resp); err == nil && resp.ExceptionDetails != nil {
		m.logger.Warn("mirror script failed", "op", op, "error", newError(CodeEvalFailure, resp.ExceptionDetails.Text, nil))
	}
}

// locate finds the nearest bound ancestor-or-self of n and the child index
// path from it down to n.
func (m *Mirror) locate(n *html.Node) (cdp.NodeID, []int, bool) {
	path := []int{}
	for cur := n; cur != nil; cur = cur.Parent {
		if id, ok := m.ids[cur]; ok {
			for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
				path[i], path[j] = path[j], path[i]
			}
			return id, path, true
		}
		path = append(path, childIndex(cur))
	}
	return 0, nil, false
}

func childIndex(n *html.Node) int {
	i := 0
	for s := n.PrevSibling; s != nil; s = s.PrevSibling {
		i++
	}
	return i
}

func render(n *html.Node) string {
	var b strings.Builder
	if err := html.Render(&b, n); err != nil {
		return ""
	}
	return b.String()
}
