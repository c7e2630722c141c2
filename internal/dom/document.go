package dom

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	// DefaultSubstituteClass marks clones created by the masking layer.
	DefaultSubstituteClass = "money-mask-clone"

	defaultMaxFlushRounds = 32
)

// Sink receives every change the engine makes to the tree so a backend can
// replay it against the live page. Changes applied through Remote are not
// forwarded.
type Sink interface {
	AttrSet(n *html.Node, key, val string)
	AttrRemoved(n *html.Node, key string)
	NodeValueSet(n *html.Node, value string)
	TextSet(n *html.Node, text string)
	Cloned(orig, clone *html.Node)
	Inserted(parent, n *html.Node)
	Removed(parent, n *html.Node)
	ChildrenReplaced(n *html.Node)
}

// Document owns a golang.org/x/net/html tree and funnels every mutation
// through itself so observers receive change records. A Document is not safe
// for concurrent use; callers serialize access (see internal/engine).
type Document struct {
	root *html.Node

	sink            Sink
	logger          *slog.Logger
	substituteClass string
	maxFlushRounds  int

	remote    int
	observers []*Observer
	pending   bool
}

// Option configures a Document.
type Option func(*Document)

// WithSink forwards engine-originated changes to s.
func WithSink(s Sink) Option {
	return func(d *Document) { d.sink = s }
}

// WithLogger sets the logger used for recovered callback panics.
func WithLogger(l *slog.Logger) Option {
	return func(d *Document) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithSubstituteClass overrides the class that marks substitute elements.
func WithSubstituteClass(class string) Option {
	return func(d *Document) {
		if class != "" {
			d.substituteClass = class
		}
	}
}

// WithMaxFlushRounds caps how many delivery rounds a single Flush may run.
func WithMaxFlushRounds(n int) Option {
	return func(d *Document) {
		if n > 0 {
			d.maxFlushRounds = n
		}
	}
}

// New wraps an existing tree. root must be an html.DocumentNode.
func New(root *html.Node, opts ...Option) *Document {
	d := &Document{
		root:            root,
		logger:          slog.Default(),
		substituteClass: DefaultSubstituteClass,
		maxFlushRounds:  defaultMaxFlushRounds,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Parse reads an HTML page into a new Document.
func Parse(r io.Reader, opts ...Option) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("dom: parse: %w", err)
	}
	return New(root, opts...), nil
}

// ParseString is Parse over a string.
func ParseString(s string, opts ...Option) (*Document, error) {
	return Parse(strings.NewReader(s), opts...)
}

// Root returns the document node.
func (d *Document) Root() *html.Node { return d.root }

// Body returns the body element, or nil.
func (d *Document) Body() *html.Node {
	return findElement(d.root, atom.Body)
}

// SubstituteClass returns the class marking substitute elements.
func (d *Document) SubstituteClass() string { return d.substituteClass }

// Logger returns the document logger.
func (d *Document) Logger() *slog.Logger { return d.logger }

// SetSink replaces the sink. Used by backends that bind after parsing.
func (d *Document) SetSink(s Sink) { d.sink = s }

// Reset swaps the whole tree, e.g. after the live page reloaded. Existing
// observers keep their registrations but their roots are now detached, so
// they never fire again.
func (d *Document) Reset(root *html.Node) {
	d.root = root
}

// Remote runs fn with sink forwarding disabled. Backends apply page-side
// changes through it so observers still see them but nothing is echoed back.
func (d *Document) Remote(fn func()) {
	d.remote++
	defer func() { d.remote-- }()
	fn()
}

// Render writes the current tree as HTML.
func (d *Document) Render(w io.Writer) error {
	return html.Render(w, d.root)
}

// String renders the tree, returning an empty string on error.
func (d *Document) String() string {
	var b strings.Builder
	if err := d.Render(&b); err != nil {
		return ""
	}
	return b.String()
}

// IsConnected reports whether n is attached to this document.
func (d *Document) IsConnected(n *html.Node) bool {
	if n == nil {
		return false
	}
	for p := n; p != nil; p = p.Parent {
		if p == d.root {
			return true
		}
	}
	return false
}

// AllConnected reports whether nodes is non-empty and every member is
// attached.
func (d *Document) AllConnected(nodes []*html.Node) bool {
	if len(nodes) == 0 {
		return false
	}
	for _, n := range nodes {
		if !d.IsConnected(n) {
			return false
		}
	}
	return true
}

func (d *Document) forward() bool {
	return d.sink != nil && d.remote == 0
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n == nil {
		return nil
	}
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}
