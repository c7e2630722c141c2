package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgnsrekt/moneymask/internal/engine"
	"github.com/dgnsrekt/moneymask/internal/relay"
	"github.com/dgnsrekt/moneymask/internal/routes"
	"github.com/dgnsrekt/moneymask/internal/settings"
	"github.com/dgnsrekt/moneymask/internal/snapshot"
	"github.com/dgnsrekt/moneymask/internal/widget"
)

// ErrNoTab is returned by live operations when no tab is attached.
var ErrNoTab = errors.New("api: no tab is attached")

// Backend implements Service over the running daemon. Engine and Relay are
// nil when maskd runs without a browser; live operations then fail with
// ErrNoTab while settings and fixtures keep working.
type Backend struct {
	Store      settings.Store
	Engine     *engine.Engine
	Relay      *relay.Background
	TabID      int
	RouteTable func() *routes.Table
	Fixtures   *snapshot.Store
	Widget     widget.Config
	Logger     *slog.Logger
}

func (b *Backend) logger() *slog.Logger {
	if b.Logger == nil {
		return slog.Default()
	}
	return b.Logger
}

func (b *Backend) table() *routes.Table {
	if b.RouteTable == nil {
		return routes.Default()
	}
	if t := b.RouteTable(); t != nil {
		return t
	}
	return routes.Default()
}

func (b *Backend) Settings(ctx context.Context) (settings.State, error) {
	return b.Store.Load(ctx)
}

// UpdateSettings validates the whole patch before writing any of it. The
// store notifies subscribers, which relay the change to the tab.
func (b *Backend) UpdateSettings(ctx context.Context, patch SettingsPatch) (settings.State, error) {
	if patch.MaskValue != nil {
		if err := settings.ValidateMaskValue(*patch.MaskValue); err != nil {
			return settings.State{}, err
		}
	}
	if patch.MaskValue != nil {
		if err := b.Store.SetMaskValue(ctx, *patch.MaskValue); err != nil {
			return settings.State{}, fmt.Errorf("api: update settings: %w", err)
		}
	}
	if patch.IsMaskOn != nil {
		if err := b.Store.SetMaskOn(ctx, *patch.IsMaskOn); err != nil {
			return settings.State{}, fmt.Errorf("api: update settings: %w", err)
		}
	}
	st, err := b.Store.Load(ctx)
	if err != nil {
		return settings.State{}, fmt.Errorf("api: update settings: %w", err)
	}
	b.logger().Info("settings updated", "mask_value", st.MaskValue, "is_mask_on", st.IsMaskOn)
	return st, nil
}

func (b *Backend) Widgets(ctx context.Context) (engine.Status, error) {
	if b.Engine == nil {
		return engine.Status{}, ErrNoTab
	}
	return b.Engine.Status(ctx)
}

func (b *Backend) Routes(ctx context.Context) ([]routes.Route, error) {
	return b.table().Routes(), nil
}

// Navigate relays a historyUpdate to the attached tab.
func (b *Backend) Navigate(ctx context.Context, url string) error {
	if b.Relay == nil || !b.Relay.URLUpdate(b.TabID, url) {
		return ErrNoTab
	}
	return nil
}

func (b *Backend) ListFixtures(ctx context.Context) ([]snapshot.Meta, error) {
	if b.Fixtures == nil {
		return []snapshot.Meta{}, nil
	}
	list, err := b.Fixtures.List()
	if err != nil {
		return nil, fmt.Errorf("api: list fixtures: %w", err)
	}
	if list == nil {
		list = []snapshot.Meta{}
	}
	return list, nil
}

// PreviewFixture masks a stored page with a throwaway engine. Unset request
// fields fall back to the fixture's URL and the stored settings.
func (b *Backend) PreviewFixture(ctx context.Context, id string, req PreviewRequest) (engine.PreviewResult, error) {
	if b.Fixtures == nil {
		return engine.PreviewResult{}, snapshot.ErrNotFound
	}
	page, meta, err := b.Fixtures.ReadHTML(id)
	if err != nil {
		return engine.PreviewResult{}, err
	}
	st, err := b.Store.Load(ctx)
	if err != nil {
		return engine.PreviewResult{}, fmt.Errorf("api: preview: %w", err)
	}
	if req.MaskValue != nil {
		if err := settings.ValidateMaskValue(*req.MaskValue); err != nil {
			return engine.PreviewResult{}, err
		}
		st.MaskValue = *req.MaskValue
	}
	if req.IsMaskOn != nil {
		st.IsMaskOn = *req.IsMaskOn
	}
	url := req.URL
	if url == "" {
		url = meta.URL
	}
	b.logger().Debug("fixture preview", "id", id, "url", url)
	return engine.Preview(ctx, string(page), url, st, engine.PreviewConfig{
		Routes: b.table(),
		Widget: b.Widget,
		Logger: b.logger(),
	})
}
