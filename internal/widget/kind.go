package widget

import (
	"fmt"
	"strings"
)

// Kind identifies a concrete widget.
type Kind int

const (
	PortfolioSidebar Kind = iota + 1
	BalanceSidebar
	PositionsRow
	BalanceSheet
	PanelIra
	PlanningSummary
	PanelTotal
	TradePopOut
)

var kindNames = map[Kind]string{
	PortfolioSidebar: "portfolio-sidebar",
	BalanceSidebar:   "balance-sidebar",
	PositionsRow:     "positions-row",
	BalanceSheet:     "balance-sheet",
	PanelIra:         "panel-ira",
	PlanningSummary:  "planning-summary",
	PanelTotal:       "panel-total",
	TradePopOut:      "trade-popout",
}

// Kinds lists every kind in declaration order.
func Kinds() []Kind {
	return []Kind{
		PortfolioSidebar,
		BalanceSidebar,
		PositionsRow,
		BalanceSheet,
		PanelIra,
		PlanningSummary,
		PanelTotal,
		TradePopOut,
	}
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind resolves a widget name such as "panel-ira".
func ParseKind(s string) (Kind, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("widget: unknown kind %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	if _, ok := kindNames[k]; !ok {
		return nil, fmt.Errorf("widget: unknown kind %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// New constructs the widget for kind. The switch is exhaustive over Kinds.
func New(kind Kind, env Env, state MaskState) (Widget, error) {
	env = env.withDefaults()
	switch kind {
	case PortfolioSidebar:
		return newPortfolioSidebar(env, state), nil
	case BalanceSidebar:
		return newBalanceSidebar(env, state), nil
	case PositionsRow:
		return newPositionsRow(env, state), nil
	case BalanceSheet:
		return newBalanceSheet(env, state), nil
	case PanelIra:
		return newPanelIra(env, state), nil
	case PlanningSummary:
		return newPlanningSummary(env, state), nil
	case PanelTotal:
		return newPanelTotal(env, state), nil
	case TradePopOut:
		return newTradePopOut(env, state), nil
	default:
		return nil, fmt.Errorf("widget: unknown kind %d", int(kind))
	}
}
