package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dgnsrekt/moneymask/internal/api"
	"github.com/dgnsrekt/moneymask/internal/browser"
	"github.com/dgnsrekt/moneymask/internal/cdpcontrol"
	"github.com/dgnsrekt/moneymask/internal/config"
	"github.com/dgnsrekt/moneymask/internal/dom"
	"github.com/dgnsrekt/moneymask/internal/engine"
	"github.com/dgnsrekt/moneymask/internal/journal"
	"github.com/dgnsrekt/moneymask/internal/netutil"
	"github.com/dgnsrekt/moneymask/internal/relay"
	"github.com/dgnsrekt/moneymask/internal/routes"
	"github.com/dgnsrekt/moneymask/internal/settings"
	"github.com/dgnsrekt/moneymask/internal/snapshot"
	"github.com/dgnsrekt/moneymask/internal/widget"
)

const (
	shutdownTimeout = 10 * time.Second
	cdpCmdTimeout   = 5 * time.Second
	connectAttempts = 5
	connectWait     = time.Second
	blankPage       = "<html><head></head><body></body></html>"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load maskd config", "error", err)
		os.Exit(1)
	}

	if err := setupLogger(cfg.SlogLevel(), cfg.LogFile); err != nil {
		if _, writeErr := io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n"); writeErr != nil {
			slog.Debug("logger setup stderr write failed", "error", writeErr)
		}
		os.Exit(1)
	}

	slog.Info("maskd config loaded",
		"cdp_url", cfg.CDPURL(),
		"bind_addr", cfg.BindAddr,
		"tab_url_filter", cfg.TabURLFilter,
		"routes_file", cfg.RoutesFile,
		"settings_db", cfg.SettingsDB,
		"fixture_dir", cfg.FixtureDir,
		"journal_dir", cfg.JournalDir,
		"launch_browser", cfg.LaunchBrowser,
		"log_level", cfg.LogLevel,
		"log_file", cfg.LogFile,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("maskd failed", "error", err)
		os.Exit(1)
	}
	slog.Info("maskd stopped")
}

func run(ctx context.Context, cfg *config.MaskdConfig) error {
	logger := slog.Default()

	store, err := settings.OpenSQLite(ctx, cfg.SettingsDB)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Debug("settings store close failed", "error", err)
		}
	}()

	table, err := routes.Load(cfg.RoutesFile)
	if err != nil {
		return err
	}
	var current atomic.Pointer[routes.Table]
	current.Store(table)

	fixtures, err := snapshot.NewStore(cfg.FixtureDir)
	if err != nil {
		return err
	}

	if cfg.LaunchBrowser {
		launcher := browser.NewLauncher(browser.Config{
			CDPAddress: cfg.CDPAddress,
			CDPPort:    cfg.CDPPort,
			BinaryPath: cfg.BrowserPath,
			StartURL:   cfg.StartURL,
			ProfileDir: cfg.ProfileDir,
			Logger:     logger,
		})
		if err := launcher.Launch(ctx); err != nil {
			return err
		}
		defer launcher.Stop()
	}

	bg := relay.NewBackground(relay.NewBroker(), logger)
	backend := &api.Backend{
		Store:      store,
		Relay:      bg,
		RouteTable: current.Load,
		Fixtures:   fixtures,
		Widget:     widget.DefaultConfig(),
		Logger:     logger,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return bg.Forward(gctx, store) })

	if cfg.JournalDir != "" {
		j := journal.New(cfg.JournalDir, cfg.JournalMaxMB, logger)
		g.Go(func() error {
			defer func() {
				if err := j.Close(); err != nil {
					logger.Debug("journal close failed", "error", err)
				}
			}()
			return j.Follow(gctx, bg.Broker())
		})
	}

	live, err := startLive(gctx, g, cfg, store, current.Load(), bg)
	if err != nil {
		logger.Warn("no live tab, serving settings and fixtures only", "error", err)
	} else {
		backend.Engine = live.eng
		backend.TabID = live.tab.TabID
	}

	if cfg.RoutesFile != "" {
		w, err := routes.NewWatcher(cfg.RoutesFile, func(t *routes.Table) {
			current.Store(t)
			if live != nil {
				live.eng.SetRoutes(t)
			}
		}, routes.WithLogger(logger))
		if err != nil {
			logger.Warn("routes watcher disabled", "path", cfg.RoutesFile, "error", err)
		} else {
			g.Go(func() error { return w.Run(gctx) })
		}
	}

	ln, err := netutil.Listen(cfg.BindAddr, cfg.PortCandidates, cfg.PortAutoFallback)
	if err != nil {
		return fmt.Errorf("bind control API: %w", err)
	}
	srv := &http.Server{Handler: api.NewServer(backend, bg.Broker())}
	g.Go(func() error {
		addr := ln.Addr().String()
		logger.Info("maskd listening", "addr", addr, "docs", "http://"+addr+"/docs")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("control API: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("control API shutdown failed", "error", err)
		}
		return nil
	})

	return g.Wait()
}

type liveTab struct {
	eng *engine.Engine
	tab cdpcontrol.TabInfo
}

// startLive attaches to the first supported brokerage tab, mirrors its
// document into an engine and boots the widgets. The engine restores the
// page and the tab is detached when ctx ends.
func startLive(ctx context.Context, g *errgroup.Group, cfg *config.MaskdConfig, store settings.Store, table *routes.Table, bg *relay.Background) (*liveTab, error) {
	logger := slog.Default()

	client := cdpcontrol.NewClient(cfg.CDPURL(), cfg.TabURLFilter, cdpCmdTimeout, logger)
	if err := client.ConnectWithRetry(ctx, connectAttempts, connectWait); err != nil {
		return nil, err
	}
	tab, err := client.AttachFirst(ctx)
	if err != nil {
		closeClient(client)
		return nil, err
	}
	logger.Info("attached to tab", "tab", tab.TabID, "url", tab.URL)

	doc, err := dom.ParseString(blankPage, dom.WithLogger(logger), dom.WithMaxFlushRounds(cfg.MaxFlushRounds))
	if err != nil {
		closeClient(client)
		return nil, err
	}
	eng, err := engine.New(engine.Config{
		Doc:    doc,
		Store:  store,
		Routes: table,
		Logger: logger,
		Widget: widget.DefaultConfig(),
	})
	if err != nil {
		closeClient(client)
		return nil, err
	}
	mirror, err := client.NewMirror(cdpcontrol.MirrorConfig{
		Doc:     doc,
		Post:    eng.Post,
		Logger:  logger,
		OnReset: eng.ResetDocument,
	})
	if err != nil {
		closeClient(client)
		return nil, err
	}

	engCtx, stopEngine := context.WithCancel(ctx)
	fail := func(err error) (*liveTab, error) {
		stopEngine()
		<-eng.Done()
		closeClient(client)
		return nil, err
	}
	go func() {
		if err := eng.Run(engCtx); err != nil {
			logger.Error("engine failed", "error", err)
		}
	}()

	var buildErr error
	if err := eng.Do(ctx, func() { buildErr = mirror.Build(ctx) }); err != nil {
		return fail(err)
	}
	if buildErr != nil {
		return fail(buildErr)
	}

	hs := relay.HandshakeConfig{Attempts: cfg.HandshakeAttempts, Interval: cfg.HandshakeInterval}
	disconnect, err := eng.Attach(ctx, bg, tab.TabID, tab.URL, hs)
	if err != nil {
		return fail(err)
	}
	if err := client.OnNavigate(func(url string) { bg.URLUpdate(tab.TabID, url) }); err != nil {
		logger.Warn("navigation updates unavailable", "error", err)
	}

	// The engine restores the page through the mirror on shutdown, so the
	// client stays open until the loop has exited.
	g.Go(func() error {
		<-ctx.Done()
		stopEngine()
		<-eng.Done()
		disconnect()
		closeClient(client)
		return nil
	})
	return &liveTab{eng: eng, tab: tab}, nil
}

func closeClient(c *cdpcontrol.Client) {
	if err := c.Close(); err != nil {
		slog.Debug("CDP client close failed", "error", err)
	}
}

func setupLogger(level slog.Level, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return err
	}

	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	h := slog.NewTextHandler(io.MultiWriter(os.Stdout, logWriter), &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(h))
	return nil
}
