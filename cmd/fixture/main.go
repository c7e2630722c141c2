// Command fixture captures a brokerage page from the running browser into
// the fixture store, for offline previews and tests.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgnsrekt/moneymask/internal/cdpcontrol"
	"github.com/dgnsrekt/moneymask/internal/config"
	"github.com/dgnsrekt/moneymask/internal/relay"
	"github.com/dgnsrekt/moneymask/internal/snapshot"
)

func main() {
	url := flag.String("url", "", "page to capture (required)")
	name := flag.String("name", "", "label stored with the fixture")
	timeout := flag.Duration("timeout", 30*time.Second, "capture timeout")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})))

	if *url == "" {
		fmt.Fprintln(os.Stderr, "usage: fixture -url <url> [-name <label>]")
		os.Exit(2)
	}
	if !relay.IsDomainSupported(*url) {
		slog.Warn("url is not on a supported brokerage domain, widgets will not match", "url", *url)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := snapshot.NewStore(cfg.FixtureDir)
	if err != nil {
		slog.Error("failed to open fixture store", "dir", cfg.FixtureDir, "error", err)
		os.Exit(1)
	}

	page, err := cdpcontrol.Capture(ctx, cfg.CDPURL(), cdpcontrol.CaptureOptions{URL: *url, Timeout: *timeout})
	if err != nil {
		slog.Error("capture failed", "url", *url, "cdp_url", cfg.CDPURL(), "error", err)
		os.Exit(1)
	}

	meta, err := store.Save(snapshot.Meta{URL: page.URL, Title: page.Title, Name: *name}, []byte(page.HTML))
	if err != nil {
		slog.Error("failed to save fixture", "error", err)
		os.Exit(1)
	}
	slog.Info("fixture saved", "id", meta.ID, "url", meta.URL, "size_bytes", meta.SizeBytes, "dir", store.Dir())
	fmt.Println(meta.ID)
}
