// Package api serves the local control API for maskd: settings, live
// widget status, routing, fixture previews and the relay event stream.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgnsrekt/moneymask/internal/cdpcontrol"
	"github.com/dgnsrekt/moneymask/internal/engine"
	"github.com/dgnsrekt/moneymask/internal/relay"
	"github.com/dgnsrekt/moneymask/internal/routes"
	"github.com/dgnsrekt/moneymask/internal/settings"
	"github.com/dgnsrekt/moneymask/internal/snapshot"
)

type Service interface {
	Settings(ctx context.Context) (settings.State, error)
	UpdateSettings(ctx context.Context, patch SettingsPatch) (settings.State, error)
	Widgets(ctx context.Context) (engine.Status, error)
	Routes(ctx context.Context) ([]routes.Route, error)
	Navigate(ctx context.Context, url string) error
	ListFixtures(ctx context.Context) ([]snapshot.Meta, error)
	PreviewFixture(ctx context.Context, id string, req PreviewRequest) (engine.PreviewResult, error)
}

// SettingsPatch updates the fields that are set.
type SettingsPatch struct {
	MaskValue *float64 `json:"maskValue,omitempty" doc:"Fake portfolio total; must be greater than 0"`
	IsMaskOn  *bool    `json:"isMaskOn,omitempty" doc:"Whether balances are masked"`
}

// PreviewRequest overrides what a fixture preview runs with.
type PreviewRequest struct {
	URL       string   `json:"url,omitempty" doc:"URL to route as. Defaults to the URL the fixture was captured from."`
	MaskValue *float64 `json:"maskValue,omitempty" doc:"Mask value. Defaults to the stored setting."`
	IsMaskOn  *bool    `json:"isMaskOn,omitempty" doc:"Mask switch. Defaults to the stored setting."`
}

type settingsOutput struct {
	Body settings.State
}

type statusOutput struct {
	Body struct {
		Status string `json:"status"`
	}
}

// NewServer builds the router. broker may be nil, in which case the event
// stream is not served.
func NewServer(svc Service, broker *relay.Broker) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger(slog.Default()))
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("moneymask control API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(docsHTML)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})
	router.Get("/docs/events", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(eventsDocsHTML)); err != nil {
			slog.Debug("events docs response write failed", "error", err)
		}
	})
	if broker != nil {
		router.Get("/api/v1/events", relay.SSEHandler(broker))
	}

	registerHealthHandlers(api)
	registerSettingsHandlers(api, svc)
	registerWidgetHandlers(api, svc)
	registerFixtureHandlers(api, svc)

	return router
}

func registerHealthHandlers(api huma.API) {
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/api/v1/health", Summary: "Health check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*statusOutput, error) {
			out := &statusOutput{}
			out.Body.Status = "ok"
			return out, nil
		})
}

func registerSettingsHandlers(api huma.API, svc Service) {
	huma.Register(api, huma.Operation{OperationID: "get-settings", Method: http.MethodGet, Path: "/api/v1/settings", Summary: "Get mask settings", Tags: []string{"Settings"}},
		func(ctx context.Context, input *struct{}) (*settingsOutput, error) {
			st, err := svc.Settings(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			return &settingsOutput{Body: st}, nil
		})

	type updateSettingsInput struct {
		Body SettingsPatch
	}
	huma.Register(api, huma.Operation{OperationID: "update-settings", Method: http.MethodPut, Path: "/api/v1/settings", Summary: "Update mask settings", Description: "Changes are pushed to the live tab.", Tags: []string{"Settings"}},
		func(ctx context.Context, input *updateSettingsInput) (*settingsOutput, error) {
			st, err := svc.UpdateSettings(ctx, input.Body)
			if err != nil {
				return nil, mapErr(err)
			}
			return &settingsOutput{Body: st}, nil
		})
}

func registerWidgetHandlers(api huma.API, svc Service) {
	type widgetsOutput struct {
		Body engine.Status
	}
	huma.Register(api, huma.Operation{OperationID: "list-widgets", Method: http.MethodGet, Path: "/api/v1/widgets", Summary: "List live widgets", Tags: []string{"Widgets"}},
		func(ctx context.Context, input *struct{}) (*widgetsOutput, error) {
			st, err := svc.Widgets(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			return &widgetsOutput{Body: st}, nil
		})

	type routesOutput struct {
		Body struct {
			Routes []routes.Route `json:"routes"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-routes", Method: http.MethodGet, Path: "/api/v1/routes", Summary: "List URL routes", Tags: []string{"Widgets"}},
		func(ctx context.Context, input *struct{}) (*routesOutput, error) {
			rs, err := svc.Routes(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &routesOutput{}
			out.Body.Routes = rs
			return out, nil
		})

	type navigateInput struct {
		Body struct {
			URL string `json:"url" minLength:"1" doc:"URL to load widgets for"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "navigate", Method: http.MethodPost, Path: "/api/v1/navigate", Summary: "Send a history update to the live tab", Tags: []string{"Widgets"}},
		func(ctx context.Context, input *navigateInput) (*statusOutput, error) {
			if err := svc.Navigate(ctx, input.Body.URL); err != nil {
				return nil, mapErr(err)
			}
			out := &statusOutput{}
			out.Body.Status = "sent"
			return out, nil
		})
}

func registerFixtureHandlers(api huma.API, svc Service) {
	type fixturesOutput struct {
		Body struct {
			Fixtures []snapshot.Meta `json:"fixtures"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-fixtures", Method: http.MethodGet, Path: "/api/v1/fixtures", Summary: "List captured pages", Tags: []string{"Fixtures"}},
		func(ctx context.Context, input *struct{}) (*fixturesOutput, error) {
			list, err := svc.ListFixtures(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &fixturesOutput{}
			out.Body.Fixtures = list
			return out, nil
		})

	type previewInput struct {
		ID   string `path:"id" doc:"Fixture id"`
		Body *PreviewRequest
	}
	type previewOutput struct {
		Body engine.PreviewResult
	}
	huma.Register(api, huma.Operation{OperationID: "preview-fixture", Method: http.MethodPost, Path: "/api/v1/fixtures/{id}/preview", Summary: "Mask a captured page offline", Tags: []string{"Fixtures"}},
		func(ctx context.Context, input *previewInput) (*previewOutput, error) {
			var req PreviewRequest
			if input.Body != nil {
				req = *input.Body
			}
			res, err := svc.PreviewFixture(ctx, input.ID, req)
			if err != nil {
				return nil, mapErr(err)
			}
			return &previewOutput{Body: res}, nil
		})
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, settings.ErrInvalidValue), errors.Is(err, snapshot.ErrInvalidID):
		return huma.Error400BadRequest(err.Error())
	case errors.Is(err, snapshot.ErrNotFound), errors.Is(err, ErrNoTab):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, engine.ErrStopped):
		return huma.NewError(http.StatusServiceUnavailable, err.Error())
	}
	switch code := cdpcontrol.CodeOf(err); code {
	case "":
	case cdpcontrol.CodeValidation:
		return huma.Error400BadRequest(err.Error())
	case cdpcontrol.CodeNotFound:
		return huma.Error404NotFound(err.Error())
	case cdpcontrol.CodeCDPUnavailable, cdpcontrol.CodeEvalFailure:
		return huma.Error502BadGateway(err.Error())
	default:
		return huma.Error500InternalServerError(fmt.Sprintf("%s: %v", code, err))
	}
	return huma.Error500InternalServerError(err.Error())
}
