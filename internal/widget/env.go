package widget

import (
	"log/slog"

	"github.com/dgnsrekt/moneymask/internal/dom"
	"github.com/dgnsrekt/moneymask/internal/mask"
)

// MaskState is the process-wide mask setting pushed to every widget.
type MaskState struct {
	Value float64 `json:"maskValue"`
	On    bool    `json:"isMaskOn"`
}

// DefaultMaskState matches the settings store defaults.
func DefaultMaskState() MaskState {
	return MaskState{Value: 1, On: true}
}

// Config holds tunables that would otherwise be package globals.
type Config struct {
	WideSelector    string
	BlurClass       string
	LateWatchPrefix string
	// GroupDepth overrides how far group totals climb to find their
	// accounts, keyed by kind. Zero keeps the widget default.
	GroupDepth map[Kind]int
}

// DefaultConfig returns the stock tunables.
func DefaultConfig() Config {
	return Config{
		WideSelector:    "body",
		BlurClass:       mask.DefaultBlurClass,
		LateWatchPrefix: "late-node-watch-",
	}
}

// Env is what every widget needs from its host.
type Env struct {
	Doc    *dom.Document
	Logger *slog.Logger
	Config Config
}

func (e Env) withDefaults() Env {
	if e.Logger == nil {
		e.Logger = slog.Default()
	}
	def := DefaultConfig()
	if e.Config.WideSelector == "" {
		e.Config.WideSelector = def.WideSelector
	}
	if e.Config.BlurClass == "" {
		e.Config.BlurClass = def.BlurClass
	}
	if e.Config.LateWatchPrefix == "" {
		e.Config.LateWatchPrefix = def.LateWatchPrefix
	}
	return e
}

func (e Env) groupDepth(kind Kind, fallback int) int {
	if d := e.Config.GroupDepth[kind]; d > 0 {
		return d
	}
	return fallback
}
