// Package cdpcontrol drives a supported brokerage tab over the Chrome
// DevTools Protocol: it finds the tab, attaches a flat session and mirrors
// the tab's DOM into a dom.Document.
package cdpcontrol

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/cdp"

	"github.com/dgnsrekt/moneymask/internal/relay"
)

// transientHints are substrings in error causes that indicate a transient
// failure worth retrying (e.g. broken connection, closed session).
var transientHints = []string{
	"context canceled",
	"target closed",
	"session closed",
	"websocket",
	"connection reset",
	"broken pipe",
	"eof",
	"connection refused",
	"connection closed",
}

// TabInfo describes a brokerage tab eligible for masking. TabID is the
// relay's id for the tab.
type TabInfo struct {
	TabID    int    `json:"tab_id"`
	TargetID string `json:"target_id"`
	URL      string `json:"url"`
	Title    string `json:"title,omitempty"`
}

// Client owns one browser connection and at most one attached tab.
type Client struct {
	cdpURL     string
	tabFilter  string
	cmdTimeout time.Duration
	logger     *slog.Logger

	mu         sync.Mutex
	cdp        *rawCDP
	tab        TabInfo
	sessionID  string
	unregister []func()
}

func NewClient(cdpURL, tabFilter string, cmdTimeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cmdTimeout <= 0 {
		cmdTimeout = defaultCommandTimeout
	}
	return &Client{
		cdpURL:     cdpURL,
		tabFilter:  strings.ToLower(strings.TrimSpace(tabFilter)),
		cmdTimeout: cmdTimeout,
		logger:     logger,
	}
}

func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.cdpURL == "" {
		return newError(CodeCDPUnavailable, "missing CDP URL", nil)
	}
	if c.cdp != nil {
		return nil
	}

	c.logger.Info("cdpcontrol connect start", "cdp_url", c.cdpURL)
	c.cdp = newRawCDP(c.cdpURL, c.logger)
	if err := c.cdp.connect(ctx); err != nil {
		c.cdp = nil
		return newError(CodeCDPUnavailable, "connect to CDP failed", err)
	}
	c.logger.Info("cdpcontrol connect ok", "cdp_url", c.cdpURL)
	return nil
}

// Close detaches from the tab without closing it and drops the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupLocked()
	return nil
}

func (c *Client) cleanupLocked() {
	for _, fn := range c.unregister {
		fn()
	}
	c.unregister = nil
	if c.cdp != nil {
		if c.sessionID != "" {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			_ = c.cdp.detachFromTarget(ctx, c.sessionID)
			cancel()
		}
		c.cdp.close()
		c.cdp = nil
	}
	c.sessionID = ""
	c.tab = TabInfo{}
}

// ListTabs returns the open page targets on supported domains that also
// match the tab filter. Tab ids are assigned in target order from 1.
func (c *Client) ListTabs(ctx context.Context) ([]TabInfo, error) {
	c.mu.Lock()
	rc := c.cdp
	c.mu.Unlock()
	if rc == nil {
		rc = newRawCDP(c.cdpURL, c.logger)
	}

	targets, err := rc.listTargets(ctx)
	if err != nil {
		c.logger.Warn("cdpcontrol list tabs failed", "error", err)
		return nil, newError(CodeCDPUnavailable, "list targets failed", err)
	}
	var out []TabInfo
	for _, t := range targets {
		if t.Type != "page" || !relay.IsDomainSupported(t.URL) {
			continue
		}
		if c.tabFilter != "" && !strings.Contains(strings.ToLower(t.URL), c.tabFilter) {
			continue
		}
		out = append(out, TabInfo{
			TabID:    len(out) + 1,
			TargetID: string(t.TargetID),
			URL:      t.URL,
			Title:    t.Title,
		})
	}
	return out, nil
}

// AttachFirst attaches to the first eligible tab and enables the Page and
// DOM domains on it.
func (c *Client) AttachFirst(ctx context.Context) (TabInfo, error) {
	tabs, err := c.ListTabs(ctx)
	if err != nil {
		return TabInfo{}, err
	}
	if len(tabs) == 0 {
		return TabInfo{}, newError(CodeNotFound, "no supported brokerage tab is open", nil)
	}
	tab := tabs[0]

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.connectLocked(ctx); err != nil {
		return TabInfo{}, err
	}
	if c.sessionID != "" {
		return TabInfo{}, newError(CodeValidation, "already attached to tab "+c.tab.TargetID, nil)
	}
	sessionID, err := c.cdp.attachToTarget(ctx, tab.TargetID)
	if err != nil {
		return TabInfo{}, newError(CodeCDPUnavailable, "attach to tab failed", err)
	}
	for _, domain := range []string{"Page", "DOM"} {
		if err := c.cdp.enableDomain(ctx, sessionID, domain); err != nil {
			_ = c.cdp.detachFromTarget(ctx, sessionID)
			return TabInfo{}, newError(CodeCDPUnavailable, "enable "+domain+" failed", err)
		}
	}
	c.sessionID = sessionID
	c.tab = tab
	c.logger.Info("cdpcontrol attached", "tab_id", tab.TabID, "target_id", tab.TargetID, "url", tab.URL)
	return tab, nil
}

// Tab returns the attached tab.
func (c *Client) Tab() (TabInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tab, c.sessionID != ""
}

// NewMirror binds a Mirror to the attached tab and starts feeding it DOM
// events. Call Build on the mirror from cfg.Post's goroutine before relying
// on the tree.
func (c *Client) NewMirror(cfg MirrorConfig) (*Mirror, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionID == "" {
		return nil, newError(CodeValidation, "no tab attached", nil)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = c.cmdTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = c.logger
	}
	sid := c.sessionID
	m := newMirror(session{cdp: c.cdp, id: sid}, cfg)
	for _, method := range mirrorEvents {
		method := method
		c.unregister = append(c.unregister, c.cdp.registerEventHandler(method, func(sessionID string, params json.RawMessage) {
			if sessionID == sid {
				m.handleEvent(method, params)
			}
		}))
	}
	return m, nil
}

// OnNavigate calls fn with the new URL whenever the attached tab's top frame
// navigates, including same-document history changes. fn runs on its own
// goroutine.
func (c *Client) OnNavigate(fn func(url string)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionID == "" {
		return newError(CodeValidation, "no tab attached", nil)
	}
	sid := c.sessionID
	frameID := cdp.FrameID(c.tab.TargetID)

	within := c.cdp.registerEventHandler(cdproto.EventPageNavigatedWithinDocument, func(sessionID string, params json.RawMessage) {
		if sessionID != sid {
			return
		}
		var ev struct {
			FrameID cdp.FrameID `json:"frameId"`
			URL     string      `json:"url"`
		}
		if json.Unmarshal(params, &ev) != nil || ev.FrameID != frameID {
			return
		}
		go fn(ev.URL)
	})
	frame := c.cdp.registerEventHandler(cdproto.EventPageFrameNavigated, func(sessionID string, params json.RawMessage) {
		if sessionID != sid {
			return
		}
		var ev struct {
			Frame struct {
				ID       string `json:"id"`
				ParentID string `json:"parentId"`
				URL      string `json:"url"`
			} `json:"frame"`
		}
		if json.Unmarshal(params, &ev) != nil || ev.Frame.ParentID != "" {
			return
		}
		go fn(ev.Frame.URL)
	})
	c.unregister = append(c.unregister, within, frame)
	return nil
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, hint := range transientHints {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}

// ConnectWithRetry keeps calling Connect while the failure looks transient,
// e.g. the browser is still starting.
func (c *Client) ConnectWithRetry(ctx context.Context, attempts int, wait time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = c.Connect(ctx); err == nil || !isTransient(err) {
			return err
		}
		c.logger.Debug("cdpcontrol connect retry", "attempt", i+1, "error", err)
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return err
}
