package mask

import (
	"strings"
	"testing"

	"golang.org/x/net/html"

	"github.com/dgnsrekt/moneymask/internal/dom"
)

const page = `<html><head></head><body><div id="c"><span class="v" style="display: inline-block">$4,000.00</span><span class="v">$120.00</span></div></body></html>`

func setup(t *testing.T) (*dom.Document, *Masker, []*html.Node) {
	t.Helper()
	doc, err := dom.ParseString(page)
	if err != nil {
		t.Fatalf("ParseString() = %v; want nil", err)
	}
	return doc, New(doc), doc.QueryAllIn(doc.Body(), ".v")
}

func visible(n *html.Node) bool { return !Hidden(n) }

func TestMaskIsIdempotent(t *testing.T) {
	doc, m, nodes := setup(t)

	m.Mask(nodes, "$100.00")
	once := doc.String()
	m.Mask(nodes, "$100.00")
	twice := doc.String()

	if once != twice {
		t.Fatalf("second Mask() changed output:\n%s\nvs\n%s", once, twice)
	}
	if got := strings.Count(twice, "money-mask-clone"); got != 2 {
		t.Fatalf("substitute count = %d; want 2", got)
	}
}

func TestMaskUnmaskRoundTrip(t *testing.T) {
	for _, v := range []string{"$1.00", "$100.00", ""} {
		doc, m, nodes := setup(t)
		before := make([]string, len(nodes))
		beforeDisplay := make([]string, len(nodes))
		for i, n := range nodes {
			before[i] = dom.Text(n)
			beforeDisplay[i] = dom.Style(n, "display")
		}

		m.Mask(nodes, v)
		m.Unmask(nodes)

		for i, n := range nodes {
			if got := dom.Text(n); got != before[i] {
				t.Fatalf("text after round trip = %q; want %q", got, before[i])
			}
			if got := dom.Style(n, "display"); got != beforeDisplay[i] {
				t.Fatalf("display after round trip = %q; want %q", got, beforeDisplay[i])
			}
			if sub := m.Substitute(n); sub == nil || visible(sub) {
				t.Fatalf("substitute visible after Unmask()")
			}
		}
		_ = doc
	}
}

func TestExactlyOneOfPairVisible(t *testing.T) {
	_, m, nodes := setup(t)
	check := func(step string) {
		for _, n := range nodes {
			sub := m.Substitute(n)
			if sub == nil {
				continue
			}
			if visible(n) == visible(sub) {
				t.Fatalf("%s: original visible=%v substitute visible=%v", step, visible(n), visible(sub))
			}
		}
	}
	m.Mask(nodes, "$1.00")
	check("mask")
	m.Unmask(nodes)
	check("unmask")
	m.Mask(nodes, "$2.00")
	check("remask")
	m.UnmaskRecursive([]*html.Node{nodes[0].Parent})
	check("unmask recursive")
}

func TestMaskSkipsSubstitutes(t *testing.T) {
	doc, m, nodes := setup(t)
	m.Mask(nodes, "$1.00")
	sub := m.Substitute(nodes[0])

	m.Mask([]*html.Node{sub}, "$9.00")
	if got := dom.Text(sub); got != "$1.00" {
		t.Fatalf("substitute text = %q; want %q", got, "$1.00")
	}
	if m.Substitute(sub) != nil {
		t.Fatalf("substitute got its own substitute")
	}
	if n := len(doc.QueryAllIn(doc.Body(), ".v")); n != 2 {
		t.Fatalf("locator saw %d targets; want 2 originals", n)
	}
}

func TestNilAndEmptyInputs(t *testing.T) {
	_, m, _ := setup(t)
	m.Mask(nil, "x")
	m.Mask([]*html.Node{nil}, "x")
	m.Unmask(nil)
	m.Unmask([]*html.Node{nil})
	m.UnmaskRecursive(nil)
	m.MakeSubstitute(nil)
	m.Hide(nil)
	m.Show(nil)
	m.Blur(nil)
	m.Unblur(nil)
	if m.Cover(nil) != nil {
		t.Fatalf("Cover(nil) != nil")
	}
}

func TestShowWithoutMemoClearsDisplay(t *testing.T) {
	doc, m, _ := setup(t)
	div := doc.QueryIn(doc.Body(), "#c")
	doc.SetStyle(div, "display", "none")

	m.Show(div)
	if got := dom.Style(div, "display"); got != "" {
		t.Fatalf("display = %q; want empty", got)
	}
}

func TestHideKeepsFirstMemo(t *testing.T) {
	_, m, nodes := setup(t)
	n := nodes[0]
	m.Hide(n)
	m.Hide(n)
	if got := dom.Attr(n, OriginalDisplayAttr); got != "inline-block" {
		t.Fatalf("memo = %q; want inline-block", got)
	}
	m.Show(n)
	if got := dom.Style(n, "display"); got != "inline-block" {
		t.Fatalf("display = %q; want inline-block", got)
	}
}

func TestUnmaskRecursiveLeavesPageHiddenElements(t *testing.T) {
	doc, err := dom.ParseString(`<div id="r"><p style="display: none">hidden by page</p><span class="v">$5.00</span></div>`)
	if err != nil {
		t.Fatalf("ParseString() = %v", err)
	}
	m := New(doc)
	span := doc.QueryIn(doc.Body(), ".v")
	m.Mask([]*html.Node{span}, "$1.00")

	m.UnmaskRecursive([]*html.Node{doc.QueryIn(doc.Body(), "#r")})

	if Hidden(span) {
		t.Fatalf("original still hidden after UnmaskRecursive()")
	}
	if p := doc.QueryIn(doc.Body(), "p"); !Hidden(p) {
		t.Fatalf("page-hidden element was revealed")
	}
}

func TestReuseStaleSubstitute(t *testing.T) {
	doc, m, nodes := setup(t)
	m.Mask(nodes[:1], "$1.00")
	orig := nodes[0]
	doc.RemoveAttr(orig, HasCloneAttr)

	m.Mask(nodes[:1], "$2.00")
	if got := strings.Count(doc.String(), "money-mask-clone"); got != 1 {
		t.Fatalf("substitute count = %d; want 1", got)
	}
	if got := dom.Text(m.Substitute(orig)); got != "$2.00" {
		t.Fatalf("substitute text = %q; want $2.00", got)
	}
}

func TestBlurAndStyles(t *testing.T) {
	doc, m, nodes := setup(t)
	m.Blur(nodes[0])
	if !dom.HasClass(nodes[0], DefaultBlurClass) {
		t.Fatalf("Blur() did not add class")
	}
	m.Unblur(nodes[0])
	if dom.HasClass(nodes[0], DefaultBlurClass) {
		t.Fatalf("Unblur() left class")
	}

	m.InstallStyles()
	m.InstallStyles()
	if got := strings.Count(doc.String(), styleElementID); got != 1 {
		t.Fatalf("style elements = %d; want 1", got)
	}
}
