// Package controller keeps the set of live widgets in step with the page
// URL and pushes mask settings to them.
package controller

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/dgnsrekt/moneymask/internal/routes"
	"github.com/dgnsrekt/moneymask/internal/widget"
)

// Factory builds a widget for kind with the given mask state.
type Factory func(kind widget.Kind, state widget.MaskState) (widget.Widget, error)

// Config wires a Controller.
type Config struct {
	Routes  *routes.Table
	Factory Factory
	Logger  *slog.Logger
	State   widget.MaskState
}

// Status describes one live widget.
type Status struct {
	Kind  widget.Kind  `json:"kind"`
	State widget.State `json:"state"`
}

type entry struct {
	kind   widget.Kind
	widget widget.Widget
}

// Controller owns the live widgets. It is not safe for concurrent use; the
// engine serialises every call.
type Controller struct {
	routes  *routes.Table
	factory Factory
	logger  *slog.Logger
	state   widget.MaskState
	url     string
	// active is kept in route declaration order so that widgets reading
	// another widget's output are updated after it.
	active []entry
}

// New returns a Controller with no live widgets.
func New(cfg Config) (*Controller, error) {
	if cfg.Factory == nil {
		return nil, fmt.Errorf("controller: factory is required")
	}
	if cfg.Routes == nil {
		cfg.Routes = routes.Default()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Controller{
		routes:  cfg.Routes,
		factory: cfg.Factory,
		logger:  cfg.Logger,
		state:   cfg.State,
	}, nil
}

// LoadWidgets makes the live set equal the widgets routed to url. Widgets
// that stay routed keep running untouched; the rest are restored and torn
// down; missing ones are built with the current mask state.
func (c *Controller) LoadWidgets(url string) {
	c.url = url
	upcoming := c.routes.Match(url)
	want := make(map[widget.Kind]bool, len(upcoming))
	for _, k := range upcoming {
		want[k] = true
	}

	kept := c.active[:0]
	for _, e := range c.active {
		if want[e.kind] {
			kept = append(kept, e)
			continue
		}
		e.widget.ResetNodes()
		e.widget.Deactivate()
		c.logger.Debug("widget retired", "kind", e.kind)
	}
	c.active = kept

	live := make(map[widget.Kind]widget.Widget, len(c.active))
	for _, e := range c.active {
		live[e.kind] = e.widget
	}
	next := make([]entry, 0, len(upcoming))
	for _, k := range upcoming {
		if w, ok := live[k]; ok {
			next = append(next, entry{kind: k, widget: w})
			continue
		}
		w, err := c.factory(k, c.state)
		if err != nil {
			c.logger.Error("failed to build widget", "kind", k, "error", err)
			continue
		}
		c.logger.Debug("widget loaded", "kind", k, "state", w.State())
		next = append(next, entry{kind: k, widget: w})
	}
	c.active = next
	c.logger.Info("widgets loaded", "url", url, "count", len(c.active))
}

// UpdateMaskValue stores v for future widgets and pushes it to live ones.
// Non-positive or non-finite values are ignored.
func (c *Controller) UpdateMaskValue(v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		c.logger.Warn("ignoring invalid mask value", "value", v)
		return
	}
	c.state.Value = v
	for _, e := range c.active {
		e.widget.UpdateMaskValue(v)
	}
}

// UpdateMaskActivated stores on and pushes it to live widgets.
func (c *Controller) UpdateMaskActivated(on bool) {
	c.state.On = on
	for _, e := range c.active {
		e.widget.UpdateMaskActivated(on)
	}
}

// SetRoutes swaps the routing table. Callers reload with the current URL to
// apply it.
func (c *Controller) SetRoutes(t *routes.Table) {
	if t != nil {
		c.routes = t
	}
}

// Routes returns the routing table in use.
func (c *Controller) Routes() *routes.Table { return c.routes }

// Active lists live widgets in load order.
func (c *Controller) Active() []Status {
	out := make([]Status, 0, len(c.active))
	for _, e := range c.active {
		out = append(out, Status{Kind: e.kind, State: e.widget.State()})
	}
	return out
}

// State returns the current mask state.
func (c *Controller) State() widget.MaskState { return c.state }

// URL returns the URL of the last LoadWidgets call.
func (c *Controller) URL() string { return c.url }

// Close restores and tears down every live widget.
func (c *Controller) Close() {
	for _, e := range c.active {
		e.widget.ResetNodes()
		e.widget.Deactivate()
	}
	c.active = nil
}

// Discard tears down every live widget without restoring its nodes. Used
// when the page replaced its document and the old nodes are gone.
func (c *Controller) Discard() {
	for _, e := range c.active {
		e.widget.Deactivate()
	}
	c.active = nil
}
