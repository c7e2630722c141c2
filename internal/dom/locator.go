package dom

import (
	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Query returns the first match of selector under the first root that
// yields one. Substitutes and anything inside them never match. Detached or
// nil roots are skipped, and an invalid selector matches nothing.
func (d *Document) Query(roots []*html.Node, selector string) *html.Node {
	for _, root := range roots {
		if found := d.queryRoot(root, selector, true); len(found) > 0 {
			return found[0]
		}
	}
	return nil
}

// QueryAll returns every match under the first root that yields any.
func (d *Document) QueryAll(roots []*html.Node, selector string) []*html.Node {
	for _, root := range roots {
		if found := d.queryRoot(root, selector, false); len(found) > 0 {
			return found
		}
	}
	return nil
}

// QueryIn is Query over a single root.
func (d *Document) QueryIn(root *html.Node, selector string) *html.Node {
	return d.Query([]*html.Node{root}, selector)
}

// QueryAllIn is QueryAll over a single root.
func (d *Document) QueryAllIn(root *html.Node, selector string) []*html.Node {
	return d.QueryAll([]*html.Node{root}, selector)
}

func (d *Document) queryRoot(root *html.Node, selector string, first bool) []*html.Node {
	if root == nil || !d.IsConnected(root) || d.InSubstitute(root) {
		return nil
	}
	var out []*html.Node
	for _, n := range goquery.NewDocumentFromNode(root).Find(selector).Nodes {
		if d.InSubstitute(n) {
			continue
		}
		out = append(out, n)
		if first {
			break
		}
	}
	return out
}

// Matches reports whether n matches selector.
func Matches(n *html.Node, selector string) bool {
	if n == nil || n.Type != html.ElementNode {
		return false
	}
	return goquery.NewDocumentFromNode(n).Is(selector)
}

// IsSubstitute reports whether n carries the substitute class.
func (d *Document) IsSubstitute(n *html.Node) bool {
	return HasClass(n, d.substituteClass)
}

// InSubstitute reports whether n is a substitute or lives inside one.
func (d *Document) InSubstitute(n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if d.IsSubstitute(p) {
			return true
		}
	}
	return false
}

// PageChild returns the i-th element child of n, not counting substitutes.
// Use it where a positional selector would be thrown off by a substitute
// sitting between siblings.
func (d *Document) PageChild(n *html.Node, i int) *html.Node {
	if n == nil || i < 0 {
		return nil
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || d.IsSubstitute(c) {
			continue
		}
		if i == 0 {
			return c
		}
		i--
	}
	return nil
}

// Climb walks depth parent levels up from n, stopping at the highest
// element so a deep climb never escapes the document element.
func Climb(n *html.Node, depth int) *html.Node {
	cur := n
	for i := 0; i < depth && cur != nil; i++ {
		p := cur.Parent
		if p == nil || p.Type != html.ElementNode {
			break
		}
		cur = p
	}
	return cur
}
