package dom

import (
	"strings"

	"golang.org/x/net/html"
)

// SetAttr sets an attribute on an element.
func (d *Document) SetAttr(n *html.Node, key, val string) {
	if n == nil || n.Type != html.ElementNode {
		return
	}
	old, ok := LookupAttr(n, key)
	if ok && old == val {
		return
	}
	setAttr(n, key, val)
	d.record(Record{Type: Attributes, Target: n, AttributeName: key, OldValue: old})
	if d.forward() {
		d.sink.AttrSet(n, key, val)
	}
}

// RemoveAttr deletes an attribute from an element.
func (d *Document) RemoveAttr(n *html.Node, key string) {
	if n == nil || n.Type != html.ElementNode {
		return
	}
	old, ok := LookupAttr(n, key)
	if !ok {
		return
	}
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			break
		}
	}
	d.record(Record{Type: Attributes, Target: n, AttributeName: key, OldValue: old})
	if d.forward() {
		d.sink.AttrRemoved(n, key)
	}
}

// AddClass appends class to the element's class list if it is missing.
func (d *Document) AddClass(n *html.Node, class string) {
	if n == nil || HasClass(n, class) {
		return
	}
	classes := strings.Fields(Attr(n, "class"))
	d.SetAttr(n, "class", strings.Join(append(classes, class), " "))
}

// RemoveClass drops class from the element's class list.
func (d *Document) RemoveClass(n *html.Node, class string) {
	if n == nil || !HasClass(n, class) {
		return
	}
	var kept []string
	for _, c := range strings.Fields(Attr(n, "class")) {
		if c != class {
			kept = append(kept, c)
		}
	}
	d.SetAttr(n, "class", strings.Join(kept, " "))
}

// SetStyle sets one inline style property. An empty value removes the
// property, and the style attribute itself once nothing is left.
func (d *Document) SetStyle(n *html.Node, prop, val string) {
	if n == nil || n.Type != html.ElementNode {
		return
	}
	decls := parseStyle(Attr(n, "style"))
	decls = decls.set(prop, val)
	if len(decls) == 0 {
		d.RemoveAttr(n, "style")
		return
	}
	d.SetAttr(n, "style", decls.String())
}

// SetText replaces the text content of n. A lone text child is updated in
// place; otherwise all children are replaced by a single text node.
func (d *Document) SetText(n *html.Node, s string) {
	if n == nil {
		return
	}
	switch n.Type {
	case html.TextNode, html.CommentNode:
		d.SetNodeValue(n, s)
		return
	case html.ElementNode:
	default:
		return
	}
	if c := n.FirstChild; c != nil && c.NextSibling == nil && c.Type == html.TextNode {
		d.SetNodeValue(c, s)
		return
	}
	if n.FirstChild == nil && s == "" {
		return
	}
	removed := detachChildren(n)
	var added []*html.Node
	if s != "" {
		t := &html.Node{Type: html.TextNode, Data: s}
		n.AppendChild(t)
		added = []*html.Node{t}
	}
	d.record(Record{Type: ChildList, Target: n, Added: added, Removed: removed})
	if d.forward() {
		d.sink.TextSet(n, s)
	}
}

// SetNodeValue updates the data of a text or comment node.
func (d *Document) SetNodeValue(n *html.Node, s string) {
	if n == nil || (n.Type != html.TextNode && n.Type != html.CommentNode) {
		return
	}
	if n.Data == s {
		return
	}
	old := n.Data
	n.Data = s
	d.record(Record{Type: CharacterData, Target: n, OldValue: old})
	if d.forward() {
		d.sink.NodeValueSet(n, s)
	}
}

// InsertBefore inserts n under parent before ref, or last when ref is nil.
// A node that is already attached elsewhere is moved.
func (d *Document) InsertBefore(parent, n, ref *html.Node) {
	if parent == nil || n == nil || n == ref {
		return
	}
	if ref != nil && ref.Parent != parent {
		return
	}
	if n.Parent != nil {
		d.RemoveChild(n.Parent, n)
	}
	parent.InsertBefore(n, ref)
	d.record(Record{Type: ChildList, Target: parent, Added: []*html.Node{n}})
	if d.forward() {
		d.sink.Inserted(parent, n)
	}
}

// InsertAfter inserts n as the next sibling of ref.
func (d *Document) InsertAfter(ref, n *html.Node) {
	if ref == nil || ref.Parent == nil {
		return
	}
	d.InsertBefore(ref.Parent, n, ref.NextSibling)
}

// AppendChild inserts n as the last child of parent.
func (d *Document) AppendChild(parent, n *html.Node) {
	d.InsertBefore(parent, n, nil)
}

// RemoveChild detaches n from parent.
func (d *Document) RemoveChild(parent, n *html.Node) {
	if parent == nil || n == nil || n.Parent != parent {
		return
	}
	connected := d.IsConnected(parent)
	parent.RemoveChild(n)
	if connected {
		d.record(Record{Type: ChildList, Target: parent, Removed: []*html.Node{n}})
	}
	if d.forward() {
		d.sink.Removed(parent, n)
	}
}

// ReplaceChildren swaps every child of n for children. Children still
// attached elsewhere are detached first without a record.
func (d *Document) ReplaceChildren(n *html.Node, children ...*html.Node) {
	if n == nil {
		return
	}
	removed := detachChildren(n)
	for _, c := range children {
		if c == nil {
			continue
		}
		if c.Parent != nil {
			c.Parent.RemoveChild(c)
		}
		n.AppendChild(c)
	}
	var added []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		added = append(added, c)
	}
	if len(added) == 0 && len(removed) == 0 {
		return
	}
	d.record(Record{Type: ChildList, Target: n, Added: added, Removed: removed})
	if d.forward() {
		d.sink.ChildrenReplaced(n)
	}
}

// Clone returns a detached deep copy of n.
func (d *Document) Clone(n *html.Node) *html.Node {
	return cloneNode(n)
}

// CloneAfter deep-copies orig, tags the copy with classes and inserts it as
// the next sibling of orig. The sink sees a single Cloned call.
func (d *Document) CloneAfter(orig *html.Node, classes ...string) *html.Node {
	if orig == nil || orig.Parent == nil || orig.Type != html.ElementNode {
		return nil
	}
	clone := cloneNode(orig)
	if len(classes) > 0 {
		existing := strings.Fields(Attr(clone, "class"))
		for _, c := range classes {
			if !HasClass(clone, c) {
				existing = append(existing, c)
			}
		}
		setAttr(clone, "class", strings.Join(existing, " "))
	}
	parent := orig.Parent
	parent.InsertBefore(clone, orig.NextSibling)
	d.record(Record{Type: ChildList, Target: parent, Added: []*html.Node{clone}})
	if d.forward() {
		d.sink.Cloned(orig, clone)
	}
	return clone
}

func cloneNode(n *html.Node) *html.Node {
	if n == nil {
		return nil
	}
	c := &html.Node{
		Type:      n.Type,
		DataAtom:  n.DataAtom,
		Data:      n.Data,
		Namespace: n.Namespace,
	}
	if len(n.Attr) > 0 {
		c.Attr = make([]html.Attribute, len(n.Attr))
		copy(c.Attr, n.Attr)
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		c.AppendChild(cloneNode(child))
	}
	return c
}

func detachChildren(n *html.Node) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		out = append(out, c)
		c = next
	}
	return out
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}
