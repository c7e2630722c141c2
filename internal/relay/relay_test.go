package relay

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/dgnsrekt/moneymask/internal/settings"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakePort struct {
	mu    sync.Mutex
	msgs  []Message
	ready bool
	asked int
}

func (p *fakePort) Deliver(msg Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
}

func (p *fakePort) Ready(context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.asked++
	return p.ready
}

func (p *fakePort) received() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Message(nil), p.msgs...)
}

func mustEvent(t *testing.T, tab int, msg Message) Event {
	t.Helper()
	evt, err := NewEvent(tab, msg)
	if err != nil {
		t.Fatalf("NewEvent() = %v; want nil", err)
	}
	return evt
}

func TestNewEventRejectsBadValue(t *testing.T) {
	if _, err := NewEvent(1, Message{Type: TypeIsMaskOn, Value: json.RawMessage(`{not json`)}); err == nil {
		t.Fatal("NewEvent(bad value) = nil error; want error")
	}
	evt := mustEvent(t, 2, IsMaskOn(true))
	if want := `{"tab":2,"type":"isMaskOn","value":true}`; evt.Payload != want {
		t.Fatalf("Payload = %s; want %s", evt.Payload, want)
	}
}

func TestMessageValidate(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		ok   bool
	}{
		{"mask update", MaskUpdate(1200), true},
		{"mask on", IsMaskOn(false), true},
		{"history", HistoryUpdate("https://digital.fidelity.com/ftgw/digital/portfolio/summary"), true},
		{"ready", ContentScriptReady(), true},
		{"zero mask", MaskUpdate(0), false},
		{"nan mask", MaskUpdate(math.NaN()), false},
		{"infinite mask", MaskUpdate(math.Inf(1)), false},
		{"negative mask", Message{Type: TypeMaskUpdate, Value: json.RawMessage(`-3`)}, false},
		{"string mask", Message{Type: TypeMaskUpdate, Value: json.RawMessage(`"12"`)}, false},
		{"missing value", Message{Type: TypeIsMaskOn}, false},
		{"missing type", Message{Value: json.RawMessage(`true`)}, false},
		{"unknown type", Message{Type: "mystery"}, false},
	}
	for _, tt := range tests {
		err := tt.msg.Validate()
		if (err == nil) != tt.ok {
			t.Fatalf("%s: Validate() = %v; want ok=%v", tt.name, err, tt.ok)
		}
		if err != nil && !errors.Is(err, ErrInvalidMessage) {
			t.Fatalf("%s: Validate() = %v; want ErrInvalidMessage", tt.name, err)
		}
	}
}

func TestMessageJSON(t *testing.T) {
	var m Message
	if err := json.Unmarshal([]byte(`{"type":"maskUpdate","value":2500.75}`), &m); err != nil {
		t.Fatalf("Unmarshal() = %v; want nil", err)
	}
	v, err := m.MaskValue()
	if err != nil || v != 2500.75 {
		t.Fatalf("MaskValue() = %v, %v; want 2500.75, nil", v, err)
	}
	if _, err := m.URL(); err == nil {
		t.Fatalf("URL() on maskUpdate = nil error; want error")
	}
}

func TestSendToTab(t *testing.T) {
	bg := NewBackground(nil, discard())
	id, events := bg.Broker().Subscribe()
	defer bg.Broker().Unsubscribe(id)

	if bg.SendToTab(7, IsMaskOn(true)) {
		t.Fatalf("SendToTab() without port = true; want false")
	}

	p := &fakePort{}
	disconnect := bg.Connect(7, p)
	if !bg.URLUpdate(7, "https://digital.fidelity.com/x") {
		t.Fatalf("URLUpdate() = false; want true")
	}
	if bg.SendToTab(7, MaskUpdate(-1)) {
		t.Fatalf("SendToTab(invalid) = true; want false")
	}

	want := []Message{HistoryUpdate("https://digital.fidelity.com/x")}
	if diff := cmp.Diff(want, p.received()); diff != "" {
		t.Fatalf("delivered mismatch (-want +got):\n%s", diff)
	}
	evt := <-events
	if evt.Type != TypeHistoryUpdate || evt.Tab != 7 {
		t.Fatalf("event = %+v; want historyUpdate for tab 7", evt)
	}

	disconnect()
	if bg.SendToTab(7, IsMaskOn(true)) {
		t.Fatalf("SendToTab() after disconnect = true; want false")
	}
}

func TestConnectReplacesPort(t *testing.T) {
	bg := NewBackground(nil, discard())
	old, cur := &fakePort{}, &fakePort{}
	disconnectOld := bg.Connect(1, old)
	bg.Connect(1, cur)
	disconnectOld()

	bg.Broadcast(IsMaskOn(false))
	if got := len(cur.received()); got != 1 {
		t.Fatalf("current port received %d messages; want 1", got)
	}
	if got := len(old.received()); got != 0 {
		t.Fatalf("replaced port received %d messages; want 0", got)
	}
}

type countingReadier struct {
	mu    sync.Mutex
	after int
	calls []time.Time
}

func (r *countingReadier) Ready(context.Context, int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, time.Now())
	return len(r.calls) > r.after
}

func TestHandshakeRetries(t *testing.T) {
	cfg := HandshakeConfig{Attempts: 5, Interval: 10 * time.Millisecond}

	r := &countingReadier{after: 2}
	if err := Handshake(context.Background(), r, 1, cfg); err != nil {
		t.Fatalf("Handshake() = %v; want nil", err)
	}
	if len(r.calls) != 3 {
		t.Fatalf("Ready() calls = %d; want 3", len(r.calls))
	}
	if gap := r.calls[1].Sub(r.calls[0]); gap < cfg.Interval {
		t.Fatalf("gap between attempts = %s; want >= %s", gap, cfg.Interval)
	}

	never := &countingReadier{after: 100}
	if err := Handshake(context.Background(), never, 1, cfg); !errors.Is(err, ErrNoAck) {
		t.Fatalf("Handshake() = %v; want ErrNoAck", err)
	}
	if len(never.calls) != 5 {
		t.Fatalf("Ready() calls = %d; want 5", len(never.calls))
	}
}

func TestHandshakeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Handshake(ctx, &countingReadier{after: 100}, 1, HandshakeConfig{Attempts: 3, Interval: time.Hour})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Handshake() = %v; want context.Canceled", err)
	}
}

func TestBackgroundReady(t *testing.T) {
	bg := NewBackground(nil, discard())
	if bg.Ready(context.Background(), 3) {
		t.Fatalf("Ready() without port = true; want false")
	}
	p := &fakePort{ready: true}
	bg.Connect(3, p)
	if !bg.Ready(context.Background(), 3) {
		t.Fatalf("Ready() = false; want true")
	}
}

func TestForwardSettings(t *testing.T) {
	store := settings.NewMemoryStore()
	bg := NewBackground(nil, discard())
	p := &fakePort{}
	bg.Connect(1, p)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	started := make(chan struct{})
	go func() {
		close(started)
		done <- bg.Forward(ctx, store)
	}()
	<-started

	// Forward subscribes asynchronously; keep writing until it is seen.
	deadline := time.Now().Add(2 * time.Second)
	for len(p.received()) == 0 && time.Now().Before(deadline) {
		if err := store.SetMaskValue(context.Background(), 42); err != nil {
			t.Fatalf("SetMaskValue() = %v; want nil", err)
		}
		time.Sleep(5 * time.Millisecond)
	}
	got := p.received()
	if len(got) == 0 {
		t.Fatalf("no message forwarded")
	}
	if v, err := got[0].MaskValue(); err != nil || v != 42 {
		t.Fatalf("forwarded MaskValue() = %v, %v; want 42, nil", v, err)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Forward() = %v; want nil", err)
	}
}

func TestIsDomainSupported(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://digital.fidelity.com/ftgw/digital/portfolio/summary", true},
		{"https://fidelity.com/", true},
		{"https://robinhood.com/account", true},
		{"https://notfidelity.com/", false},
		{"https://fidelity.com.evil.example/", false},
		{"chrome://newtab", false},
		{"::", false},
	}
	for _, tt := range tests {
		if got := IsDomainSupported(tt.url); got != tt.want {
			t.Fatalf("IsDomainSupported(%q) = %v; want %v", tt.url, got, tt.want)
		}
	}
}

func TestDomainsSupports(t *testing.T) {
	ds := Domains{"schwab.com"}
	if !ds.Supports("https://client.schwab.com/app/accounts") {
		t.Fatal("Supports(schwab) = false; want true")
	}
	if ds.Supports("https://digital.fidelity.com/") {
		t.Fatal("Supports(fidelity) = true; want false for a custom list")
	}

	stock := DefaultDomains()
	stock[0] = "example.com"
	if !IsDomainSupported("https://fidelity.com/") {
		t.Fatal("IsDomainSupported(fidelity) = false after editing a DefaultDomains copy; want true")
	}
}

func TestSSEHandlerFiltersTypes(t *testing.T) {
	broker := NewBroker()
	srv := httptest.NewServer(SSEHandler(broker))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"?types=isMaskOn", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET = %v; want nil", err)
	}
	defer http.DefaultClient.CloseIdleConnections()
	defer resp.Body.Close()

	for broker.ClientCount() == 0 {
		time.Sleep(time.Millisecond)
	}
	broker.Publish(mustEvent(t, 0, MaskUpdate(5)))
	broker.Publish(mustEvent(t, 2, IsMaskOn(true)))

	sc := bufio.NewScanner(resp.Body)
	var lines []string
	for sc.Scan() {
		line := sc.Text()
		if line == "" && len(lines) > 0 {
			break
		}
		if line != "" {
			lines = append(lines, line)
		}
	}
	want := []string{"id: 1", "event: isMaskOn", `data: {"tab":2,"type":"isMaskOn","value":true}`}
	if diff := cmp.Diff(want, lines); diff != "" {
		t.Fatalf("SSE mismatch (-want +got):\n%s", diff)
	}
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		t.Fatalf("Content-Type = %q; want text/event-stream", resp.Header.Get("Content-Type"))
	}
}

func TestSSEHandlerRejectsUnknownType(t *testing.T) {
	srv := httptest.NewServer(SSEHandler(NewBroker()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "?types=isMaskOn,balance")
	if err != nil {
		t.Fatalf("GET = %v; want nil", err)
	}
	defer resp.Body.Close()
	defer http.DefaultClient.CloseIdleConnections()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d; want %d", resp.StatusCode, http.StatusBadRequest)
	}
}
