package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dgnsrekt/moneymask/internal/dom"
	"github.com/dgnsrekt/moneymask/internal/routes"
	"github.com/dgnsrekt/moneymask/internal/settings"
	"github.com/dgnsrekt/moneymask/internal/widget"
)

// PreviewConfig configures an offline run over a saved page.
type PreviewConfig struct {
	Routes *routes.Table
	Widget widget.Config
	Logger *slog.Logger
}

// PreviewResult is the masked page and the widgets that ran over it.
type PreviewResult struct {
	HTML   string `json:"html"`
	Status Status `json:"status"`
}

// Preview masks page as if it had been loaded at url with the given
// settings. A throwaway engine is started and stopped around the run.
func Preview(ctx context.Context, page, url string, st settings.State, cfg PreviewConfig) (PreviewResult, error) {
	doc, err := dom.ParseString(page, dom.WithLogger(cfg.Logger))
	if err != nil {
		return PreviewResult{}, fmt.Errorf("engine: preview: %w", err)
	}
	store := settings.NewMemoryStore()
	if err := store.SetMaskValue(ctx, st.MaskValue); err != nil {
		return PreviewResult{}, fmt.Errorf("engine: preview: %w", err)
	}
	if err := store.SetMaskOn(ctx, st.IsMaskOn); err != nil {
		return PreviewResult{}, fmt.Errorf("engine: preview: %w", err)
	}

	e, err := New(Config{
		Doc:    doc,
		Store:  store,
		Routes: cfg.Routes,
		Logger: cfg.Logger,
		Widget: cfg.Widget,
	})
	if err != nil {
		return PreviewResult{}, err
	}

	runCtx, stop := context.WithCancel(context.Background())
	defer func() {
		stop()
		<-e.Done()
	}()
	go func() { _ = e.Run(runCtx) }()

	if err := e.Boot(ctx, url); err != nil {
		return PreviewResult{}, err
	}
	var res PreviewResult
	if res.Status, err = e.Status(ctx); err != nil {
		return PreviewResult{}, err
	}
	if res.HTML, err = e.HTML(ctx); err != nil {
		return PreviewResult{}, err
	}
	return res, nil
}
