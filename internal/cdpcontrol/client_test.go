package cdpcontrol

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/go-cmp/cmp"
)

const summaryURL = "https://digital.fidelity.com/ftgw/digital/portfolio/summary"

// fakeBrowser serves the DevTools discovery endpoints and a browser socket
// that answers every command. "Test.navigate" emits navigation events before
// its reply; "DOM.boom" fails.
type fakeBrowser struct {
	*httptest.Server

	mu   sync.Mutex
	sent []request
}

func newFakeBrowser(t *testing.T) *fakeBrowser {
	t.Helper()
	fb := &fakeBrowser{}
	mux := http.NewServeMux()
	mux.HandleFunc("/json/version", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"webSocketDebuggerUrl": "ws://" + r.Host + "/devtools/browser/fake",
		})
	})
	mux.HandleFunc("/json/list", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]map[string]string{
			{"id": "T0", "type": "page", "url": "https://robinhood.com/account", "title": "Robinhood"},
			{"id": "T1", "type": "page", "url": summaryURL, "title": "Summary"},
			{"id": "T2", "type": "service_worker", "url": "https://digital.fidelity.com/sw.js"},
			{"id": "T3", "type": "page", "url": "https://example.com/", "title": "Example"},
		})
	})
	mux.HandleFunc("/devtools/browser/fake", fb.serveSocket)
	fb.Server = httptest.NewServer(mux)
	t.Cleanup(fb.Close)
	return fb
}

func (fb *fakeBrowser) serveSocket(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		return
	}
	defer conn.Close()
	write := func(v any) bool {
		b, _ := json.Marshal(v)
		return wsutil.WriteServerText(conn, b) == nil
	}
	for {
		data, err := wsutil.ReadClientText(conn)
		if err != nil {
			return
		}
		var req struct {
			ID        int64  `json:"id"`
			Method    string `json:"method"`
			SessionID string `json:"sessionId"`
		}
		if json.Unmarshal(data, &req) != nil {
			return
		}
		fb.mu.Lock()
		fb.sent = append(fb.sent, request{ID: req.ID, Method: req.Method, SessionID: req.SessionID})
		fb.mu.Unlock()

		var out map[string]any
		switch req.Method {
		case "Target.attachToTarget":
			out = map[string]any{"id": req.ID, "result": map[string]string{"sessionId": "S1"}}
		case "DOM.boom":
			out = map[string]any{"id": req.ID, "error": map[string]any{"code": -32000, "message": "boom"}}
		case "Test.navigate":
			events := []map[string]any{
				{"method": "Page.navigatedWithinDocument", "sessionId": "S1",
					"params": map[string]string{"frameId": "T1", "url": summaryURL + "#positions"}},
				{"method": "Page.navigatedWithinDocument", "sessionId": "S1",
					"params": map[string]string{"frameId": "F9", "url": "https://ads.example.com/"}},
				{"method": "Page.frameNavigated", "sessionId": "S1",
					"params": map[string]any{"frame": map[string]string{"id": "T1", "url": "https://digital.fidelity.com/ftgw/digital/trade-equity"}}},
				{"method": "Page.frameNavigated", "sessionId": "S1",
					"params": map[string]any{"frame": map[string]string{"id": "F9", "parentId": "T1", "url": "https://ads.example.com/frame"}}},
			}
			for _, ev := range events {
				if !write(ev) {
					return
				}
			}
			out = map[string]any{"id": req.ID, "result": map[string]any{}}
		default:
			out = map[string]any{"id": req.ID, "result": map[string]any{}}
		}
		if !write(out) {
			return
		}
	}
}

func (fb *fakeBrowser) calls() []string {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	var out []string
	for _, r := range fb.sent {
		out = append(out, r.Method+"@"+r.SessionID)
	}
	return out
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestListTabsFiltersTargets(t *testing.T) {
	fb := newFakeBrowser(t)
	c := NewClient(fb.URL, "fidelity.com", time.Second, quietLogger())

	got, err := c.ListTabs(context.Background())
	if err != nil {
		t.Fatalf("ListTabs() error = %v", err)
	}
	want := []TabInfo{{TabID: 1, TargetID: "T1", URL: summaryURL, Title: "Summary"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("ListTabs() mismatch (-want +got):\n%s", diff)
	}
}

func TestAttachFirstAndClose(t *testing.T) {
	fb := newFakeBrowser(t)
	c := NewClient(fb.URL, "", time.Second, quietLogger())
	ctx := context.Background()

	// Without a filter the first supported page target wins.
	tab, err := c.AttachFirst(ctx)
	if err != nil {
		t.Fatalf("AttachFirst() error = %v", err)
	}
	if tab.TargetID != "T0" || tab.TabID != 1 {
		t.Fatalf("AttachFirst() = %+v; want T0 as tab 1", tab)
	}
	if got, ok := c.Tab(); !ok || got != tab {
		t.Fatalf("Tab() = %+v, %v; want %+v, true", got, ok, tab)
	}

	_, err = c.AttachFirst(ctx)
	var coded *CodedError
	if !errors.As(err, &coded) || coded.Code != CodeValidation {
		t.Fatalf("second AttachFirst() error = %v; want %s", err, CodeValidation)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	want := []string{"Target.attachToTarget@", "Page.enable@S1", "DOM.enable@S1", "Target.detachFromTarget@"}
	if diff := cmp.Diff(want, fb.calls()); diff != "" {
		t.Fatalf("commands mismatch (-want +got):\n%s", diff)
	}
	if _, ok := c.Tab(); ok {
		t.Fatal("Tab() reports attached after Close")
	}
}

func TestAttachFirstNoTab(t *testing.T) {
	fb := newFakeBrowser(t)
	c := NewClient(fb.URL, "schwab.com", time.Second, quietLogger())
	_, err := c.AttachFirst(context.Background())
	var coded *CodedError
	if !errors.As(err, &coded) || coded.Code != CodeNotFound {
		t.Fatalf("AttachFirst() error = %v; want %s", err, CodeNotFound)
	}
}

func TestProtocolErrorIsReturned(t *testing.T) {
	fb := newFakeBrowser(t)
	c := NewClient(fb.URL, "fidelity.com", time.Second, quietLogger())
	if _, err := c.AttachFirst(context.Background()); err != nil {
		t.Fatalf("AttachFirst() error = %v", err)
	}
	defer c.Close()

	_, err := c.cdp.sendFlat(context.Background(), c.sessionID, "DOM.boom", nil)
	var perr *protocolError
	if !errors.As(err, &perr) || perr.Code != -32000 || perr.Message != "boom" {
		t.Fatalf("sendFlat() error = %v; want protocol error -32000 boom", err)
	}
}

func TestOnNavigateTopFrameOnly(t *testing.T) {
	fb := newFakeBrowser(t)
	c := NewClient(fb.URL, "fidelity.com", time.Second, quietLogger())
	if _, err := c.AttachFirst(context.Background()); err != nil {
		t.Fatalf("AttachFirst() error = %v", err)
	}
	defer c.Close()

	urls := make(chan string, 4)
	if err := c.OnNavigate(func(u string) { urls <- u }); err != nil {
		t.Fatalf("OnNavigate() error = %v", err)
	}
	if _, err := c.cdp.sendFlat(context.Background(), c.sessionID, "Test.navigate", nil); err != nil {
		t.Fatalf("sendFlat() error = %v", err)
	}

	var got []string
	timeout := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case u := <-urls:
			got = append(got, u)
		case <-timeout:
			t.Fatalf("received %v; want two navigations", got)
		}
	}
	sort.Strings(got)
	want := []string{summaryURL + "#positions", "https://digital.fidelity.com/ftgw/digital/trade-equity"}
	sort.Strings(want)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("navigations mismatch (-want +got):\n%s", diff)
	}
	select {
	case u := <-urls:
		if strings.Contains(u, "ads.example.com") {
			t.Fatalf("subframe navigation %q was reported", u)
		}
	case <-time.After(50 * time.Millisecond):
	}
}
