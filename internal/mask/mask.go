// Package mask swaps sensitive elements for substitute clones and back
// without destroying the originals.
package mask

import (
	"golang.org/x/net/html"

	"github.com/dgnsrekt/moneymask/internal/dom"
)

const (
	// HasCloneAttr marks an original that already has a substitute.
	HasCloneAttr = "data-has-clone"
	// OriginalDisplayAttr memoises the inline display value before hiding.
	OriginalDisplayAttr = "data-original-display"
	// DefaultBlurClass is added to elements that are blurred rather than
	// replaced.
	DefaultBlurClass = "money-mask-blurred"

	styleElementID = "money-mask-styles"
)

// Masker applies the clone masking primitive to a document. The zero
// BlurClass means DefaultBlurClass.
type Masker struct {
	Doc       *dom.Document
	BlurClass string
}

// New returns a Masker for doc.
func New(doc *dom.Document) *Masker {
	return &Masker{Doc: doc}
}

func (m *Masker) blurClass() string {
	if m.BlurClass == "" {
		return DefaultBlurClass
	}
	return m.BlurClass
}

// eligible filters out nil, non-element and substitute nodes.
func (m *Masker) eligible(n *html.Node) bool {
	return n != nil && n.Type == html.ElementNode && !m.Doc.InSubstitute(n)
}

// MakeSubstitute gives each original a substitute clone as its next sibling.
// Originals already marked are left alone.
func (m *Masker) MakeSubstitute(nodes []*html.Node) {
	for _, n := range nodes {
		if !m.eligible(n) || n.Parent == nil {
			continue
		}
		if dom.Attr(n, HasCloneAttr) == "true" {
			continue
		}
		// The page re-rendered the original but left our old clone behind.
		if next := n.NextSibling; next != nil && m.Doc.IsSubstitute(next) {
			m.Doc.SetAttr(n, HasCloneAttr, "true")
			continue
		}
		if m.Doc.CloneAfter(n, m.Doc.SubstituteClass()) == nil {
			continue
		}
		m.Doc.SetAttr(n, HasCloneAttr, "true")
	}
}

// Substitute returns the substitute paired with n, or nil.
func (m *Masker) Substitute(n *html.Node) *html.Node {
	if n == nil {
		return nil
	}
	if next := n.NextSibling; next != nil && m.Doc.IsSubstitute(next) {
		return next
	}
	if next := dom.NextElementSibling(n); next != nil && m.Doc.IsSubstitute(next) {
		return next
	}
	return nil
}

// Cover hides n behind its substitute, creating one if needed, and returns
// the now visible substitute.
func (m *Masker) Cover(n *html.Node) *html.Node {
	if !m.eligible(n) {
		return nil
	}
	m.MakeSubstitute([]*html.Node{n})
	sub := m.Substitute(n)
	if sub == nil {
		return nil
	}
	m.Hide(n)
	m.Show(sub)
	return sub
}

// Mask covers every node and writes value into its substitute.
func (m *Masker) Mask(nodes []*html.Node, value string) {
	for _, n := range nodes {
		if sub := m.Cover(n); sub != nil {
			m.Doc.SetText(sub, value)
		}
	}
}

// Unmask reveals each original and hides its substitute.
func (m *Masker) Unmask(nodes []*html.Node) {
	for _, n := range nodes {
		if !m.eligible(n) {
			continue
		}
		m.Show(n)
		if dom.Attr(n, HasCloneAttr) != "true" {
			continue
		}
		if sub := m.Substitute(n); sub != nil {
			m.Hide(sub)
		}
	}
}

// UnmaskRecursive unmasks every masked element under roots, roots included,
// without descending into substitutes.
func (m *Masker) UnmaskRecursive(roots []*html.Node) {
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type != html.ElementNode || m.Doc.IsSubstitute(n) {
			return
		}
		if _, memo := dom.LookupAttr(n, OriginalDisplayAttr); memo || dom.Attr(n, HasCloneAttr) == "true" {
			m.Unmask([]*html.Node{n})
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, r := range roots {
		if r != nil {
			walk(r)
		}
	}
}

// Hide sets display:none, remembering the prior inline display the first
// time only.
func (m *Masker) Hide(n *html.Node) {
	if n == nil || n.Type != html.ElementNode {
		return
	}
	if _, ok := dom.LookupAttr(n, OriginalDisplayAttr); !ok {
		m.Doc.SetAttr(n, OriginalDisplayAttr, dom.Style(n, "display"))
	}
	m.Doc.SetStyle(n, "display", "none")
}

// Show restores the remembered display of a hidden element. Without a memo
// the inline display is cleared.
func (m *Masker) Show(n *html.Node) {
	if n == nil || n.Type != html.ElementNode {
		return
	}
	if dom.Style(n, "display") != "none" {
		return
	}
	m.Doc.SetStyle(n, "display", dom.Attr(n, OriginalDisplayAttr))
}

// Hidden reports whether n is hidden with an inline display:none.
func Hidden(n *html.Node) bool {
	return dom.Style(n, "display") == "none"
}

// Blur marks n as blurred.
func (m *Masker) Blur(n *html.Node) {
	if m.eligible(n) {
		m.Doc.AddClass(n, m.blurClass())
	}
}

// Unblur removes the blur marker.
func (m *Masker) Unblur(n *html.Node) {
	if n != nil {
		m.Doc.RemoveClass(n, m.blurClass())
	}
}

// InstallStyles adds the stylesheet backing the blur class to the document
// head once.
func (m *Masker) InstallStyles() {
	root := m.Doc.Root()
	if m.Doc.QueryIn(root, "#"+styleElementID) != nil {
		return
	}
	head := m.Doc.QueryIn(root, "head")
	if head == nil {
		return
	}
	style := &html.Node{
		Type: html.ElementNode,
		Data: "style",
		Attr: []html.Attribute{{Key: "id", Val: styleElementID}},
	}
	style.AppendChild(&html.Node{
		Type: html.TextNode,
		Data: "." + m.blurClass() + " { filter: blur(6px); user-select: none; }",
	})
	m.Doc.AppendChild(head, style)
}
