package dom

import (
	"fmt"
	"runtime/debug"

	"golang.org/x/net/html"
)

const defaultAncestorDepth = 5

// WatchOptions selects what an observer reacts to. When none of ChildList,
// CharacterData and Attributes is set, ChildList and Subtree are assumed.
type WatchOptions struct {
	// Ancestor observes the root climbed Depth levels instead of the root
	// itself, so removal of the root is seen.
	Ancestor bool
	Depth    int

	ChildList       bool
	Subtree         bool
	CharacterData   bool
	Attributes      bool
	AttributeFilter []string
}

func (o WatchOptions) normalized() WatchOptions {
	if !o.ChildList && !o.CharacterData && !o.Attributes {
		o.ChildList = true
		o.Subtree = true
	}
	if o.Ancestor && o.Depth <= 0 {
		o.Depth = defaultAncestorDepth
	}
	return o
}

func (o WatchOptions) wants(r Record) bool {
	switch r.Type {
	case ChildList:
		return o.ChildList
	case CharacterData:
		return o.CharacterData
	case Attributes:
		if !o.Attributes {
			return false
		}
		if len(o.AttributeFilter) == 0 {
			return true
		}
		for _, name := range o.AttributeFilter {
			if name == r.AttributeName {
				return true
			}
		}
		return false
	}
	return false
}

// Observer delivers batches of records for the nodes it watches.
type Observer struct {
	doc     *Document
	fn      func([]Record)
	opts    WatchOptions
	targets []*html.Node
	queue   []Record
	active  bool
}

// Watch registers fn for changes under roots. Nil roots are ignored. A
// detached root is accepted but produces no records until it is attached.
func (d *Document) Watch(roots []*html.Node, fn func([]Record), opts WatchOptions) *Observer {
	opts = opts.normalized()
	o := &Observer{doc: d, fn: fn, opts: opts, active: true}
	for _, r := range roots {
		if r == nil {
			continue
		}
		if opts.Ancestor {
			r = Climb(r, opts.Depth)
		}
		o.targets = append(o.targets, r)
	}
	d.observers = append(d.observers, o)
	return o
}

// Disconnect stops delivery and drops queued records. Calling it more than
// once, or from inside the observer's own callback, is safe.
func (o *Observer) Disconnect() {
	if o == nil || !o.active {
		return
	}
	o.active = false
	o.queue = nil
	o.doc.remove(o)
}

// Active reports whether the observer is still connected.
func (o *Observer) Active() bool {
	return o != nil && o.active
}

// Targets returns the nodes actually observed after any ancestor climb.
func (o *Observer) Targets() []*html.Node {
	if o == nil {
		return nil
	}
	return o.targets
}

func (o *Observer) interested(r Record) bool {
	if !o.opts.wants(r) {
		return false
	}
	for _, t := range o.targets {
		if r.Target == t {
			return true
		}
		if o.opts.Subtree && Contains(t, r.Target) {
			return true
		}
	}
	return false
}

func (d *Document) remove(o *Observer) {
	for i, cur := range d.observers {
		if cur == o {
			d.observers = append(d.observers[:i:i], d.observers[i+1:]...)
			return
		}
	}
}

func (d *Document) record(r Record) {
	if !d.IsConnected(r.Target) {
		return
	}
	for _, o := range d.observers {
		if o.active && o.interested(r) {
			o.queue = append(o.queue, r)
			d.pending = true
		}
	}
}

// Pending reports whether any observer has undelivered records.
func (d *Document) Pending() bool { return d.pending }

// Flush delivers queued records, one batch per observer per round, until no
// records remain or the round limit is hit. Records produced by callbacks are
// delivered in the following round.
func (d *Document) Flush() {
	for round := 0; d.pending; round++ {
		if round >= d.maxFlushRounds {
			d.logger.Warn("mutation flush round limit reached, dropping records", "rounds", round)
			for _, o := range d.observers {
				o.queue = nil
			}
			d.pending = false
			return
		}
		d.pending = false
		snapshot := append([]*Observer(nil), d.observers...)
		for _, o := range snapshot {
			if !o.active || len(o.queue) == 0 {
				continue
			}
			batch := o.queue
			o.queue = nil
			d.deliver(o, batch)
		}
	}
}

func (d *Document) deliver(o *Observer, batch []Record) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("observer callback panicked",
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))
		}
	}()
	o.fn(batch)
}
