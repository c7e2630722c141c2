// Package engine runs the masking engine for one document on a single
// goroutine. Page changes, relay messages and API calls are all posted as
// tasks; the document is flushed after each one.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/net/html"

	"github.com/dgnsrekt/moneymask/internal/controller"
	"github.com/dgnsrekt/moneymask/internal/dom"
	"github.com/dgnsrekt/moneymask/internal/mask"
	"github.com/dgnsrekt/moneymask/internal/relay"
	"github.com/dgnsrekt/moneymask/internal/routes"
	"github.com/dgnsrekt/moneymask/internal/settings"
	"github.com/dgnsrekt/moneymask/internal/widget"
)

const (
	defaultQueueSize  = 256
	readyProbeTimeout = 250 * time.Millisecond
)

// ErrStopped is returned when a task is posted after Run returned.
var ErrStopped = errors.New("engine: stopped")

// Config wires an Engine.
type Config struct {
	Doc    *dom.Document
	Store  settings.Store
	Routes *routes.Table
	Logger *slog.Logger
	Widget widget.Config
	// QueueSize bounds pending tasks; Post blocks when it is full.
	QueueSize int
}

// Status is a point-in-time view of the engine.
type Status struct {
	Booted  bool                `json:"booted"`
	URL     string              `json:"url"`
	Mask    widget.MaskState    `json:"mask"`
	Widgets []controller.Status `json:"widgets"`
}

// Engine owns a document and its controller. Only the Run goroutine touches
// either.
type Engine struct {
	doc    *dom.Document
	store  settings.Store
	routes *routes.Table
	logger *slog.Logger
	wcfg   widget.Config

	tasks   chan func()
	done    chan struct{}
	running atomic.Bool

	// Loop-owned. early holds settings relayed before the controller
	// exists; Boot applies them over what it read from the store.
	ctrl  *controller.Controller
	url   string
	early earlySettings
}

type earlySettings struct {
	value *float64
	on    *bool
}

func (s earlySettings) apply(st settings.State) settings.State {
	if s.value != nil {
		st.MaskValue = *s.value
	}
	if s.on != nil {
		st.IsMaskOn = *s.on
	}
	return st
}

// New returns an Engine. Run must be called for posted tasks to execute.
func New(cfg Config) (*Engine, error) {
	if cfg.Doc == nil {
		return nil, fmt.Errorf("engine: document is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("engine: settings store is required")
	}
	if cfg.Routes == nil {
		cfg.Routes = routes.Default()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	return &Engine{
		doc:    cfg.Doc,
		store:  cfg.Store,
		routes: cfg.Routes,
		logger: cfg.Logger,
		wcfg:   cfg.Widget,
		tasks:  make(chan func(), cfg.QueueSize),
		done:   make(chan struct{}),
	}, nil
}

// Doc returns the engine's document. Touch it only from inside a task.
func (e *Engine) Doc() *dom.Document { return e.doc }

// Done is closed when Run returns.
func (e *Engine) Done() <-chan struct{} { return e.done }

// Run executes tasks until ctx is done, then restores every live widget.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return fmt.Errorf("engine: already running")
	}
	defer close(e.done)
	e.logger.Debug("engine started")
	for {
		select {
		case <-ctx.Done():
			e.exec(e.shutdown)
			e.logger.Debug("engine stopped")
			return nil
		case fn := <-e.tasks:
			e.exec(fn)
		}
	}
}

func (e *Engine) shutdown() {
	if e.ctrl != nil {
		e.ctrl.Close()
	}
}

// exec runs one task and then delivers the change records it produced.
func (e *Engine) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("engine task panicked",
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))
		}
		e.doc.Flush()
	}()
	fn()
}

// Post queues fn. It reports false once the engine has stopped.
func (e *Engine) Post(fn func()) bool {
	select {
	case <-e.done:
		return false
	default:
	}
	select {
	case e.tasks <- fn:
		return true
	case <-e.done:
		return false
	}
}

// Do runs fn on the loop and waits for it, including the flush that
// follows.
func (e *Engine) Do(ctx context.Context, fn func()) error {
	ran := make(chan struct{})
	if !e.Post(func() {
		defer close(ran)
		fn()
	}) {
		return ErrStopped
	}
	select {
	case <-ran:
		// The flush runs after fn inside the same task; wait for it by
		// posting a marker behind it.
		return e.barrier(ctx)
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrStopped
	}
}

func (e *Engine) barrier(ctx context.Context) error {
	b := make(chan struct{})
	if !e.Post(func() { close(b) }) {
		return ErrStopped
	}
	select {
	case <-b:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrStopped
	}
}

// Deliver implements relay.Port.
func (e *Engine) Deliver(msg relay.Message) {
	if !e.Post(func() { e.handle(msg) }) {
		e.logger.Debug("engine stopped, dropping message", "type", msg.Type)
	}
}

// Ready implements relay.Port: the engine is ready once its loop answers.
func (e *Engine) Ready(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, readyProbeTimeout)
	defer cancel()
	return e.barrier(ctx) == nil
}

func (e *Engine) handle(msg relay.Message) {
	switch msg.Type {
	case relay.TypeMaskUpdate:
		v, err := msg.MaskValue()
		if err != nil {
			e.logger.Warn("ignoring mask update", "error", err)
			return
		}
		if e.ctrl == nil {
			e.early.value = &v
			return
		}
		e.ctrl.UpdateMaskValue(v)
	case relay.TypeIsMaskOn:
		on, err := msg.MaskOn()
		if err != nil {
			e.logger.Warn("ignoring mask toggle", "error", err)
			return
		}
		if e.ctrl == nil {
			e.early.on = &on
			return
		}
		e.ctrl.UpdateMaskActivated(on)
	case relay.TypeHistoryUpdate:
		url, err := msg.URL()
		if err != nil {
			e.logger.Warn("ignoring history update", "error", err)
			return
		}
		e.url = url
		if e.ctrl != nil {
			e.ctrl.LoadWidgets(url)
		}
	case relay.TypeContentScriptReady:
	default:
		e.logger.Debug("ignoring unknown message", "type", msg.Type)
	}
}

// Boot reads the settings, builds the controller and loads the widgets for
// url. Messages relayed before the controller is built win over both the
// stored settings and url.
func (e *Engine) Boot(ctx context.Context, url string) error {
	st, err := e.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("engine: boot: %w", err)
	}
	var bootErr error
	err = e.Do(ctx, func() {
		if e.ctrl != nil {
			return
		}
		st = e.early.apply(st)
		(&mask.Masker{Doc: e.doc, BlurClass: e.wcfg.BlurClass}).InstallStyles()
		e.ctrl, bootErr = controller.New(controller.Config{
			Routes:  e.routes,
			Factory: e.factory,
			Logger:  e.logger,
			State:   widget.MaskState{Value: st.MaskValue, On: st.IsMaskOn},
		})
		if bootErr != nil {
			return
		}
		e.early = earlySettings{}
		if e.url == "" {
			e.url = url
		}
		e.ctrl.LoadWidgets(e.url)
	})
	if err != nil {
		return fmt.Errorf("engine: boot: %w", err)
	}
	if bootErr != nil {
		return fmt.Errorf("engine: boot: %w", bootErr)
	}
	return nil
}

// Attach runs the startup sequence against a relay: connect the engine as
// tabID's port, wait for the readiness handshake, then Boot. The returned
// func disconnects the port.
func (e *Engine) Attach(ctx context.Context, bg *relay.Background, tabID int, url string, hs relay.HandshakeConfig) (func(), error) {
	disconnect := bg.Connect(tabID, e)
	if err := relay.Handshake(ctx, bg, tabID, hs); err != nil {
		disconnect()
		return func() {}, fmt.Errorf("engine: attach tab %d: %w", tabID, err)
	}
	if err := e.Boot(ctx, url); err != nil {
		disconnect()
		return func() {}, err
	}
	e.logger.Info("engine attached", "tab", tabID, "url", url)
	return disconnect, nil
}

func (e *Engine) factory(kind widget.Kind, state widget.MaskState) (widget.Widget, error) {
	return widget.New(kind, widget.Env{
		Doc:    e.doc,
		Logger: e.logger,
		Config: e.wcfg,
	}, state)
}

// SetRoutes swaps the routing table and reloads widgets for the current URL.
func (e *Engine) SetRoutes(t *routes.Table) {
	if t == nil {
		return
	}
	e.Post(func() {
		e.routes = t
		if e.ctrl == nil {
			return
		}
		e.ctrl.SetRoutes(t)
		e.ctrl.LoadWidgets(e.url)
	})
}

// Status snapshots the controller.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	var st Status
	err := e.Do(ctx, func() {
		st.URL = e.url
		if e.ctrl == nil {
			return
		}
		st.Booted = true
		st.Mask = e.ctrl.State()
		st.Widgets = e.ctrl.Active()
	})
	return st, err
}

// ResetDocument installs a new tree after the page replaced its document.
// Live widgets are dropped without restoring the old nodes, then reloaded
// against root. It must run inside a task.
func (e *Engine) ResetDocument(root *html.Node) {
	if e.ctrl != nil {
		e.ctrl.Discard()
	}
	e.doc.Reset(root)
	if e.ctrl == nil {
		return
	}
	(&mask.Masker{Doc: e.doc, BlurClass: e.wcfg.BlurClass}).InstallStyles()
	e.ctrl.LoadWidgets(e.url)
	e.logger.Info("document replaced", "url", e.url)
}

// HTML renders the current document.
func (e *Engine) HTML(ctx context.Context) (string, error) {
	var b strings.Builder
	var renderErr error
	if err := e.Do(ctx, func() { renderErr = e.doc.Render(&b) }); err != nil {
		return "", err
	}
	if renderErr != nil {
		return "", fmt.Errorf("engine: render: %w", renderErr)
	}
	return b.String(), nil
}
