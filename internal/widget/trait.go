package widget

import (
	"golang.org/x/net/html"

	"github.com/dgnsrekt/moneymask/internal/dom"
)

// Trait is an optional behaviour attached to a widget at construction.
// Hooks run in declared order after the region's own OnActivate, and on
// teardown.
type Trait interface {
	OnActivate(b *Base)
	OnTeardown(b *Base)
}

// DistalAncestor watches an ancestor above the container so that a full
// context swap (switching accounts, closing a pop-up) re-arms container
// discovery.
type DistalAncestor struct {
	Selector string

	node *html.Node
}

func (t *DistalAncestor) ancestor(b *Base) *html.Node {
	if !b.Doc.IsConnected(t.node) {
		t.node = b.Doc.QueryIn(b.Doc.Root(), t.Selector)
	}
	return t.node
}

func (t *DistalAncestor) OnActivate(b *Base) {
	if b.Watching(distalWatch) {
		return
	}
	if !b.ContainerConnected() {
		b.Rearm()
		return
	}
	root := t.ancestor(b)
	if root == nil {
		root = b.Wide()
	}
	// Watch one level above the ancestor so its own removal is seen too.
	b.Observe(distalWatch, []*html.Node{root}, func(recs []dom.Record) {
		if !HasRemovals(recs) || b.ContainerConnected() {
			return
		}
		b.Disconnect(distalWatch)
		b.Rearm()
	}, dom.WatchOptions{Ancestor: true, Depth: 1, ChildList: true, Subtree: true})
}

func (t *DistalAncestor) OnTeardown(*Base) {
	t.node = nil
}
