// Package widget implements the per-region masking state machines that find
// their elements in a mutating page and keep them masked.
package widget

import (
	"fmt"
	"log/slog"
	"math"
	"runtime/debug"
	"strconv"

	"golang.org/x/net/html"

	"github.com/dgnsrekt/moneymask/internal/dom"
	"github.com/dgnsrekt/moneymask/internal/mask"
)

// State is a widget lifecycle state.
type State int

const (
	Searching State = iota
	ContainerFound
	Activating
	Masked
	Unmasked
	TornDown
)

func (s State) String() string {
	switch s {
	case Searching:
		return "searching"
	case ContainerFound:
		return "container-found"
	case Activating:
		return "activating"
	case Masked:
		return "masked"
	case Unmasked:
		return "unmasked"
	case TornDown:
		return "torn-down"
	default:
		return "State(" + strconv.Itoa(int(s)) + ")"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

const (
	containerWatch = "container-watch"
	targetWatch    = "target-watch"
	distalWatch    = "distal-ancestor-watch"
)

// Region is what a concrete widget supplies to the lifecycle engine.
type Region interface {
	// DiscoverContainer finds the bounding container, or nil.
	DiscoverContainer() *html.Node
	// DiscoverTargets returns the primary target set; empty means not ready.
	DiscoverTargets() []*html.Node
	ApplyMask()
	ApplyUnmask()
	// OnActivate installs the widget's target watchers once the container
	// is found.
	OnActivate()
}

// Widget is the handle the controller holds.
type Widget interface {
	Kind() Kind
	State() State
	UpdateMaskValue(v float64)
	UpdateMaskActivated(on bool)
	ResetNodes()
	Deactivate()
}

// Base is the lifecycle engine embedded by every concrete widget.
type Base struct {
	Env
	Masker *mask.Masker

	kind   Kind
	region Region
	traits []Trait
	state  State
	mask   MaskState
	log    *slog.Logger

	wide      *html.Node
	container *html.Node

	observers   map[string]*dom.Observer
	lateCounter int
	lateNodes   map[*html.Node]string
}

// start wires the engine and starts container discovery. Concrete
// constructors call it last.
func (b *Base) start(kind Kind, env Env, state MaskState, region Region, traits ...Trait) {
	b.Env = env
	b.Masker = &mask.Masker{Doc: env.Doc, BlurClass: env.Config.BlurClass}
	b.kind = kind
	b.region = region
	b.traits = traits
	b.mask = state
	b.log = env.Logger.With("widget", kind.String())
	b.observers = make(map[string]*dom.Observer)
	b.lateNodes = make(map[*html.Node]string)
	b.state = Searching
	b.watchForContainer()
}

// Kind returns the widget kind.
func (b *Base) Kind() Kind { return b.kind }

// State returns the lifecycle state.
func (b *Base) State() State { return b.state }

// Mask returns the widget's copy of the mask state.
func (b *Base) Mask() MaskState { return b.mask }

// MaskOn reports whether masking is active.
func (b *Base) MaskOn() bool { return b.mask.On }

// MaskValue returns the substitute value.
func (b *Base) MaskValue() float64 { return b.mask.Value }

// Log returns the widget-scoped logger.
func (b *Base) Log() *slog.Logger { return b.log }

// UpdateMaskValue stores v and re-applies the current mask state.
func (b *Base) UpdateMaskValue(v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		b.log.Warn("ignoring invalid mask value", "value", v)
		return
	}
	b.mask.Value = v
	b.maskSwitch()
}

// UpdateMaskActivated turns masking on or off.
func (b *Base) UpdateMaskActivated(on bool) {
	b.mask.On = on
	b.maskSwitch()
}

// ResetNodes restores every original value the widget covered.
func (b *Base) ResetNodes() {
	if b.state == TornDown || b.state == Searching {
		return
	}
	b.safe("reset", b.region.ApplyUnmask)
	b.state = Unmasked
}

// Deactivate disconnects every observer. It does not restore values; call
// ResetNodes first when that is wanted.
func (b *Base) Deactivate() {
	if b.state == TornDown {
		return
	}
	for _, t := range b.traits {
		t := t
		b.safe("trait teardown", func() { t.OnTeardown(b) })
	}
	for name := range b.observers {
		b.Disconnect(name)
	}
	clear(b.lateNodes)
	b.state = TornDown
	b.log.Debug("widget deactivated")
}

// MaskSwitch runs the mask or unmask entrypoint for the current state.
func (b *Base) MaskSwitch() { b.maskSwitch() }

func (b *Base) maskSwitch() {
	if b.state == TornDown || b.state == Searching {
		return
	}
	if b.mask.On {
		b.safe("mask", b.region.ApplyMask)
		b.state = Masked
		return
	}
	b.safe("unmask", b.region.ApplyUnmask)
	b.state = Unmasked
}

// Wide returns the wide search root, re-querying it when detached.
func (b *Base) Wide() *html.Node {
	if !b.Doc.IsConnected(b.wide) {
		b.wide = b.Doc.QueryIn(b.Doc.Root(), b.Config.WideSelector)
		if b.wide == nil {
			b.wide = b.Doc.Body()
		}
	}
	return b.wide
}

// FindInWide queries selector under the wide root.
func (b *Base) FindInWide(selector string) *html.Node {
	return b.Doc.QueryIn(b.Wide(), selector)
}

// Container returns the bounding container, re-discovering it when stale.
func (b *Base) Container() *html.Node {
	if !b.Doc.IsConnected(b.container) {
		b.container = nil
		b.safe("discover container", func() { b.container = b.region.DiscoverContainer() })
	}
	return b.container
}

// ContainerConnected reports whether the last known container is still
// attached, without re-discovering it.
func (b *Base) ContainerConnected() bool {
	return b.Doc.IsConnected(b.container)
}

// One returns *cache while it is attached, otherwise re-queries selector in
// the container.
func (b *Base) One(cache **html.Node, selector string) *html.Node {
	if !b.Doc.IsConnected(*cache) {
		*cache = b.Doc.QueryIn(b.Container(), selector)
	}
	return *cache
}

// All is One for element sets.
func (b *Base) All(cache *[]*html.Node, selector string) []*html.Node {
	if !b.Doc.AllConnected(*cache) {
		*cache = b.Doc.QueryAllIn(b.Container(), selector)
	}
	return *cache
}

func (b *Base) watchForContainer() {
	if b.Container() != nil {
		b.activate()
		return
	}
	b.state = Searching
	if b.observers[containerWatch].Active() {
		return
	}
	b.Observe(containerWatch, []*html.Node{b.Wide()}, func(recs []dom.Record) {
		if !b.hasPageAdditions(recs) || b.Container() == nil {
			return
		}
		b.Disconnect(containerWatch)
		b.activate()
	}, dom.WatchOptions{})
}

func (b *Base) activate() {
	b.state = ContainerFound
	b.log.Debug("widget container found")
	b.state = Activating
	b.safe("activate", b.region.OnActivate)
	for _, t := range b.traits {
		t := t
		b.safe("trait activate", func() { t.OnActivate(b) })
	}
}

// Rearm drops every observer and goes back to container discovery, used
// when the whole context was swapped out.
func (b *Base) Rearm() {
	if b.state == TornDown {
		return
	}
	for name := range b.observers {
		b.Disconnect(name)
	}
	clear(b.lateNodes)
	b.container = nil
	b.log.Debug("widget re-arming container discovery")
	b.watchForContainer()
}

// Observe installs a named observer, replacing any previous one with the
// same name. Callbacks do not run after teardown.
func (b *Base) Observe(name string, roots []*html.Node, fn func([]dom.Record), opts dom.WatchOptions) {
	b.Disconnect(name)
	b.observers[name] = b.Doc.Watch(roots, func(recs []dom.Record) {
		if b.state == TornDown {
			return
		}
		b.safe(name, func() { fn(recs) })
	}, opts)
}

// Disconnect stops a named observer. Unknown names are a no-op.
func (b *Base) Disconnect(name string) {
	if o, ok := b.observers[name]; ok {
		o.Disconnect()
		delete(b.observers, name)
	}
}

// Watching reports whether a named observer is connected.
func (b *Base) Watching(name string) bool {
	return b.observers[name].Active()
}

// ObserverNames lists connected observers.
func (b *Base) ObserverNames() []string {
	names := make([]string, 0, len(b.observers))
	for name, o := range b.observers {
		if o.Active() {
			names = append(names, name)
		}
	}
	return names
}

// TargetWatch configures WatchTargets.
type TargetWatch struct {
	Name string
	// OneShot disconnects after the first successful discovery and skips
	// installing the observer when targets already exist.
	OneShot bool
	Options dom.WatchOptions
	// Roots default to the container.
	Roots []*html.Node
}

// WatchTargets runs the mask switch now if targets exist and re-runs it
// whenever a page change under the container leaves targets present.
func (b *Base) WatchTargets(tw TargetWatch) {
	if tw.Name == "" {
		tw.Name = targetWatch
	}
	if len(tw.Roots) == 0 {
		tw.Roots = []*html.Node{b.Container()}
	}
	if len(b.region.DiscoverTargets()) > 0 {
		b.maskSwitch()
		if tw.OneShot {
			return
		}
	}
	b.Observe(tw.Name, tw.Roots, func(recs []dom.Record) {
		if !b.hasPageChange(recs) {
			return
		}
		if len(b.region.DiscoverTargets()) == 0 {
			return
		}
		if tw.OneShot {
			b.Disconnect(tw.Name)
		}
		b.maskSwitch()
	}, tw.Options)
}

// WatchLate arms a one-shot watcher on a node whose value has not rendered
// yet. fn runs on the first change that gives it text while the mask is on.
func (b *Base) WatchLate(n *html.Node, fn func()) string {
	if n == nil {
		return ""
	}
	if name, ok := b.lateNodes[n]; ok && b.Watching(name) {
		return name
	}
	name := b.Config.LateWatchPrefix + strconv.Itoa(b.lateCounter)
	b.lateCounter++
	b.lateNodes[n] = name
	b.Observe(name, []*html.Node{n}, func(recs []dom.Record) {
		if !b.mask.On || dom.TrimmedText(n) == "" {
			return
		}
		b.Disconnect(name)
		delete(b.lateNodes, n)
		fn()
	}, dom.WatchOptions{ChildList: true, CharacterData: true, Subtree: true})
	return name
}

// hasPageAdditions reports whether any record added a non-substitute node.
func (b *Base) hasPageAdditions(recs []dom.Record) bool {
	for _, r := range recs {
		for _, n := range r.Added {
			if !b.Doc.IsSubstitute(n) {
				return true
			}
		}
	}
	return false
}

// hasPageChange filters out records caused purely by substitutes.
func (b *Base) hasPageChange(recs []dom.Record) bool {
	for _, r := range recs {
		if b.Doc.InSubstitute(r.Target) {
			continue
		}
		switch r.Type {
		case dom.ChildList:
			if r.Touches(func(n *html.Node) bool { return !b.Doc.IsSubstitute(n) }) {
				return true
			}
		default:
			return true
		}
	}
	return false
}

// HasRemovals reports whether any record removed a node.
func HasRemovals(recs []dom.Record) bool {
	for _, r := range recs {
		if len(r.Removed) > 0 {
			return true
		}
	}
	return false
}

// safe runs fn, logging instead of propagating a panic.
func (b *Base) safe(op string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("widget operation panicked",
				"op", op,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))
		}
	}()
	fn()
}
