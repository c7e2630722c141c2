package routes

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/dgnsrekt/moneymask/internal/widget"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestMatchUnionInDeclarationOrder(t *testing.T) {
	tbl := Default()
	tests := []struct {
		url  string
		want []widget.Kind
	}{
		{
			url: "https://digital.fidelity.com/ftgw/digital/portfolio/summary",
			want: []widget.Kind{
				widget.PortfolioSidebar,
				widget.PanelTotal,
				widget.PanelIra,
				widget.PositionsRow,
				widget.TradePopOut,
			},
		},
		{
			url: "https://digital.fidelity.com/ftgw/digital/portfolio/positions",
			want: []widget.Kind{
				widget.PortfolioSidebar,
				widget.PositionsRow,
				widget.TradePopOut,
			},
		},
		{
			url:  "https://www.example.com/portfolio/summary",
			want: nil,
		},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, tbl.Match(tt.url)); diff != "" {
			t.Fatalf("Match(%q) mismatch (-want +got):\n%s", tt.url, diff)
		}
	}
}

func TestParseValidation(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"empty", "routes: []", "no routes"},
		{"bad yaml", "routes: [", "routes:"},
		{"missing pattern", "routes:\n  - widgets: [panel-ira]", "missing pattern"},
		{"bad pattern", "routes:\n  - pattern: '('\n    widgets: [panel-ira]", "pattern"},
		{"no widgets", "routes:\n  - pattern: 'x'", "no widgets"},
		{"unknown widget", "routes:\n  - pattern: 'x'\n    widgets: [ticker]", "unknown kind"},
	}
	for _, tt := range tests {
		_, err := Parse([]byte(tt.src))
		if err == nil {
			t.Fatalf("%s: Parse() = nil; want error", tt.name)
		}
		if !strings.Contains(err.Error(), tt.want) {
			t.Fatalf("%s: Parse() = %v; want it to mention %q", tt.name, err, tt.want)
		}
	}
}

func TestRoutesReturnsCopy(t *testing.T) {
	tbl := Default()
	rs := tbl.Routes()
	rs[0].Widgets[0] = widget.TradePopOut
	if got := tbl.Routes()[0].Widgets[0]; got != widget.PortfolioSidebar {
		t.Fatalf("Routes()[0].Widgets[0] = %v; want %v", got, widget.PortfolioSidebar)
	}
}

func TestLoadEmptyPathIsDefault(t *testing.T) {
	tbl, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") = %v; want nil", err)
	}
	if got, want := len(tbl.Routes()), len(Default().Routes()); got != want {
		t.Fatalf("len(Routes()) = %d; want %d", got, want)
	}
}

func TestWatcherReloadsValidFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "routes.yaml")
	if err := os.WriteFile(path, []byte("routes:\n  - pattern: 'a'\n    widgets: [panel-ira]\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() = %v; want nil", err)
	}

	changes := make(chan *Table, 4)
	w, err := NewWatcher(path, func(tbl *Table) { changes <- tbl },
		WithDebounce(20*time.Millisecond),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		t.Fatalf("NewWatcher() = %v; want nil", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	if err := os.WriteFile(path, []byte("routes: ["), 0o644); err != nil {
		t.Fatalf("WriteFile() = %v; want nil", err)
	}
	select {
	case tbl := <-changes:
		t.Fatalf("invalid file produced a table: %v", tbl.Routes())
	case <-time.After(200 * time.Millisecond):
	}

	if err := os.WriteFile(path, []byte("routes:\n  - pattern: 'b'\n    widgets: [planning-summary]\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() = %v; want nil", err)
	}
	select {
	case tbl := <-changes:
		if diff := cmp.Diff([]widget.Kind{widget.PlanningSummary}, tbl.Match("b")); diff != "" {
			t.Fatalf("reloaded Match() mismatch (-want +got):\n%s", diff)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no reload after a valid write")
	}
}
