package cdpcontrol

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/target"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

const discoveryTimeout = 5 * time.Second

// rawCDP speaks the flat-session protocol over one browser-level WebSocket.
// Replies are matched to callers by id; events fan out to handlers keyed by
// method and run on the read loop, so handlers must not block.
type rawCDP struct {
	httpBase string
	http     *http.Client
	logger   *slog.Logger

	connMu  sync.Mutex
	conn    net.Conn
	writeMu sync.Mutex
	seq     atomic.Int64

	pendingMu sync.Mutex
	pending   map[int64]chan reply

	handlersMu sync.RWMutex
	handlers   map[string]map[int64]func(sessionID string, params json.RawMessage)
}

type request struct {
	ID        int64  `json:"id"`
	Method    string `json:"method"`
	SessionID string `json:"sessionId,omitempty"`
	Params    any    `json:"params,omitempty"`
}

// frame is any message read from the socket: a reply carries ID, an event
// carries Method.
type frame struct {
	ID        int64           `json:"id"`
	Result    json.RawMessage `json:"result"`
	Error     *protocolError  `json:"error"`
	Method    string          `json:"method"`
	SessionID string          `json:"sessionId"`
	Params    json.RawMessage `json:"params"`
}

type reply struct {
	result json.RawMessage
	err    error
}

type protocolError struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
}

func (e *protocolError) Error() string {
	return fmt.Sprintf("cdp error %d: %s", e.Code, e.Message)
}

func newRawCDP(httpBase string, logger *slog.Logger) *rawCDP {
	if logger == nil {
		logger = slog.Default()
	}
	return &rawCDP{
		httpBase: strings.TrimRight(httpBase, "/"),
		http:     &http.Client{Timeout: discoveryTimeout},
		logger:   logger,
		pending:  make(map[int64]chan reply),
		handlers: make(map[string]map[int64]func(string, json.RawMessage)),
	}
}

// connect dials the browser WebSocket advertised by /json/version.
func (r *rawCDP) connect(ctx context.Context) error {
	r.connMu.Lock()
	defer r.connMu.Unlock()
	if r.conn != nil {
		return nil
	}

	var version struct {
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := r.getJSON(ctx, "/json/version", &version); err != nil {
		return fmt.Errorf("rawcdp: browser ws url: %w", err)
	}
	if version.WebSocketDebuggerURL == "" {
		return fmt.Errorf("rawcdp: browser ws url: empty webSocketDebuggerUrl")
	}

	r.logger.Debug("rawcdp connecting", "ws_url", version.WebSocketDebuggerURL)
	conn, _, _, err := ws.Dial(ctx, version.WebSocketDebuggerURL)
	if err != nil {
		return fmt.Errorf("rawcdp: dial: %w", err)
	}
	r.conn = conn
	go r.readLoop(conn)
	return nil
}

func (r *rawCDP) close() {
	r.connMu.Lock()
	defer r.connMu.Unlock()
	if r.conn != nil {
		r.conn.Close()
		r.conn = nil
	}
}

func (r *rawCDP) currentConn() net.Conn {
	r.connMu.Lock()
	defer r.connMu.Unlock()
	return r.conn
}

func (r *rawCDP) readLoop(conn net.Conn) {
	defer r.failPending(fmt.Errorf("rawcdp: connection closed"))
	for {
		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			r.logger.Debug("rawcdp read loop exit", "error", err)
			return
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			r.logger.Debug("rawcdp undecodable frame", "error", err)
			continue
		}
		switch {
		case f.ID > 0:
			r.resolve(f)
		case f.Method != "":
			r.dispatch(f.Method, f.SessionID, f.Params)
		}
	}
}

func (r *rawCDP) resolve(f frame) {
	r.pendingMu.Lock()
	ch, ok := r.pending[f.ID]
	delete(r.pending, f.ID)
	r.pendingMu.Unlock()
	if !ok {
		return
	}
	if f.Error != nil {
		ch <- reply{err: f.Error}
		return
	}
	ch <- reply{result: f.Result}
}

func (r *rawCDP) failPending(err error) {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	for id, ch := range r.pending {
		ch <- reply{err: err}
		delete(r.pending, id)
	}
}

// sendFlat sends method, on sessionID when it is set, and returns the
// reply's result.
func (r *rawCDP) sendFlat(ctx context.Context, sessionID, method string, params any) (json.RawMessage, error) {
	conn := r.currentConn()
	if conn == nil {
		return nil, fmt.Errorf("rawcdp: not connected")
	}
	req := request{ID: r.seq.Add(1), Method: method, SessionID: sessionID, Params: params}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("rawcdp: marshal %s: %w", method, err)
	}

	ch := make(chan reply, 1)
	r.pendingMu.Lock()
	r.pending[req.ID] = ch
	r.pendingMu.Unlock()
	forget := func() {
		r.pendingMu.Lock()
		delete(r.pending, req.ID)
		r.pendingMu.Unlock()
	}

	r.writeMu.Lock()
	err = wsutil.WriteClientText(conn, data)
	r.writeMu.Unlock()
	if err != nil {
		forget()
		return nil, fmt.Errorf("rawcdp: send %s: %w", method, err)
	}

	select {
	case rep := <-ch:
		if rep.err != nil {
			return nil, fmt.Errorf("rawcdp: %s: %w", method, rep.err)
		}
		return rep.result, nil
	case <-ctx.Done():
		forget()
		return nil, ctx.Err()
	}
}

func (r *rawCDP) send(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return r.sendFlat(ctx, "", method, params)
}

func (r *rawCDP) attachToTarget(ctx context.Context, targetID string) (string, error) {
	raw, err := r.send(ctx, cdproto.CommandTargetAttachToTarget,
		target.AttachToTargetParams{TargetID: target.ID(targetID), Flatten: true})
	if err != nil {
		return "", err
	}
	var ret target.AttachToTargetReturns
	if err := json.Unmarshal(raw, &ret); err != nil {
		return "", fmt.Errorf("rawcdp: decode attach: %w", err)
	}
	if ret.SessionID == "" {
		return "", fmt.Errorf("rawcdp: attach %s: no session id", targetID)
	}
	return string(ret.SessionID), nil
}

// detachFromTarget leaves the tab open.
func (r *rawCDP) detachFromTarget(ctx context.Context, sessionID string) error {
	_, err := r.send(ctx, cdproto.CommandTargetDetachFromTarget,
		target.DetachFromTargetParams{SessionID: target.SessionID(sessionID)})
	return err
}

// listTargets reads /json/list, which works before the socket is dialled.
func (r *rawCDP) listTargets(ctx context.Context) ([]*target.Info, error) {
	var entries []struct {
		ID    string `json:"id"`
		Type  string `json:"type"`
		Title string `json:"title"`
		URL   string `json:"url"`
	}
	if err := r.getJSON(ctx, "/json/list", &entries); err != nil {
		return nil, err
	}
	out := make([]*target.Info, 0, len(entries))
	for _, e := range entries {
		out = append(out, &target.Info{TargetID: target.ID(e.ID), Type: e.Type, Title: e.Title, URL: e.URL})
	}
	return out, nil
}

func (r *rawCDP) getJSON(ctx context.Context, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.httpBase+path, nil)
	if err != nil {
		return err
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("rawcdp: %s: HTTP %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("rawcdp: %s: %w", path, err)
	}
	return nil
}

// registerEventHandler subscribes fn to an event method and returns the
// unsubscribe func.
func (r *rawCDP) registerEventHandler(method string, fn func(sessionID string, params json.RawMessage)) func() {
	id := r.seq.Add(1)
	r.handlersMu.Lock()
	if r.handlers[method] == nil {
		r.handlers[method] = make(map[int64]func(string, json.RawMessage))
	}
	r.handlers[method][id] = fn
	r.handlersMu.Unlock()
	return func() {
		r.handlersMu.Lock()
		delete(r.handlers[method], id)
		r.handlersMu.Unlock()
	}
}

func (r *rawCDP) dispatch(method, sessionID string, params json.RawMessage) {
	r.handlersMu.RLock()
	fns := make([]func(string, json.RawMessage), 0, len(r.handlers[method]))
	for _, fn := range r.handlers[method] {
		fns = append(fns, fn)
	}
	r.handlersMu.RUnlock()
	for _, fn := range fns {
		fn(sessionID, params)
	}
}

func (r *rawCDP) enableDomain(ctx context.Context, sessionID, domain string) error {
	_, err := r.sendFlat(ctx, sessionID, domain+".enable", nil)
	return err
}

// session binds rawCDP to one attached target.
type session struct {
	cdp *rawCDP
	id  string
}

func (s session) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return s.cdp.sendFlat(ctx, s.id, method, params)
}
