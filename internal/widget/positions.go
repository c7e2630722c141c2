package widget

import (
	"golang.org/x/net/html"

	"github.com/dgnsrekt/moneymask/internal/dom"
	"github.com/dgnsrekt/moneymask/internal/money"
)

const (
	positionsContainer = ".ag-body-viewport"
	positionsDistal    = ".positions-content-container"
	positionsRows      = ".ag-center-cols-container > div.ag-row:not(.ag-row-first, .posweb-row-spacer)"
	positionsSpacer    = "posweb-row-spacer"

	cellAccountPercent = ".posweb-cell-account_percent > div:first-child > span:first-child"
	cellTotalGainPct   = ".posweb-cell-total_gl_percent > div:first-child > span:first-child"
	cellTodayGainPct   = ".posweb-cell-today_gl_percent > div:first-child > span:first-child"
	cellTotalGain      = ".posweb-cell-total_gl_currency > div:first-child > span:first-child"
	cellTodayGain      = ".posweb-cell-today_gl_currency > div:first-child > span:first-child"
	cellCurrentValue   = ".posweb-cell-current_value > div:first-child > span:first-child"
	cellQuantity       = ".posweb-cell-quantity > div:first-child > span:first-child"
	cellCostBasisTotal = ".posweb-cell-cost_basis > div:first-child > span:first-child"
)

// positionsRow masks the security rows of the positions grid. Each row's
// figures are scaled by the row's share of its account; account total rows
// and the grand total row get whole mask values.
type positionsRow struct {
	Base
	rows []*html.Node
}

func newPositionsRow(env Env, state MaskState) *positionsRow {
	w := &positionsRow{}
	w.start(PositionsRow, env, state, w, &DistalAncestor{Selector: positionsDistal})
	return w
}

func (w *positionsRow) DiscoverContainer() *html.Node {
	return w.FindInWide(positionsContainer)
}

func (w *positionsRow) DiscoverTargets() []*html.Node {
	return w.All(&w.rows, positionsRows)
}

func (w *positionsRow) OnActivate() {
	w.WatchTargets(TargetWatch{OneShot: true})
}

func (w *positionsRow) ApplyMask() {
	rows := w.DiscoverTargets()
	if len(rows) == 0 {
		return
	}
	accounts := 0
	for _, row := range rows {
		w.maskTotalGain(row)
		w.maskTodaysGain(row)
		if w.isAccountTotalRow(row) {
			w.maskAccountTotalRow(row)
			accounts++
			continue
		}
		w.maskSecurityRow(row)
	}
	grand := w.cell(rows[len(rows)-1], cellCurrentValue)
	if grand != nil {
		w.Masker.Mask([]*html.Node{grand}, money.ToDollars(money.GroupTotal(w.MaskValue(), accounts)))
	}
}

func (w *positionsRow) ApplyUnmask() {
	w.Masker.UnmaskRecursive(w.DiscoverTargets())
}

func (w *positionsRow) cell(row *html.Node, selector string) *html.Node {
	return w.Doc.QueryIn(row, selector)
}

func (w *positionsRow) maskTotalGain(row *html.Node) {
	gain := w.cell(row, cellTotalGain)
	pct := w.cell(row, cellTotalGainPct)
	if validPosition(gain, pct) {
		w.maskPosition(gain, combinedPercent(w.cell(row, cellAccountPercent), pct), money.ToGainDollars)
	}
}

func (w *positionsRow) maskTodaysGain(row *html.Node) {
	gain := w.cell(row, cellTodayGain)
	pct := w.cell(row, cellTodayGainPct)
	account := w.cell(row, cellAccountPercent)
	switch {
	case latePosition(gain, pct):
		w.WatchLate(gain, func() {
			w.maskPosition(gain, combinedPercent(account, pct), money.ToGainDollars)
		})
	case validPosition(gain, pct):
		w.maskPosition(gain, combinedPercent(account, pct), money.ToGainDollars)
	}
}

func (w *positionsRow) maskAccountTotalRow(row *html.Node) {
	value := w.cell(row, cellCurrentValue)
	if value != nil && dom.Text(value) != "" {
		w.Masker.Mask([]*html.Node{value}, money.ToDollars(w.MaskValue()))
	}
}

func (w *positionsRow) maskSecurityRow(row *html.Node) {
	account := w.cell(row, cellAccountPercent)

	if value := w.cell(row, cellCurrentValue); validPosition(value, account) {
		w.maskPosition(value, combinedPercent(account, nil), money.ToDollars)
	}
	if qty := w.cell(row, cellQuantity); validPosition(qty, account) {
		w.maskPosition(qty, combinedPercent(account, nil), money.ToShareQuantity)
	}

	basis := w.cell(row, cellCostBasisTotal)
	switch {
	case latePosition(basis, account):
		w.WatchLate(basis, func() {
			w.maskPosition(basis, combinedPercent(account, nil), money.ToDollars)
		})
	case validPosition(basis, account):
		w.maskPosition(basis, combinedPercent(account, nil), money.ToDollars)
	}
}

func (w *positionsRow) maskPosition(n *html.Node, pct float64, format func(float64) string) {
	w.Masker.Mask([]*html.Node{n}, format(w.MaskValue()*pct))
}

// isAccountTotalRow reports whether a spacer row follows, which is how the
// grid closes each account.
func (w *positionsRow) isAccountTotalRow(row *html.Node) bool {
	return dom.HasClass(dom.NextElementSibling(row), positionsSpacer)
}

// validPosition reports whether value holds a number and pct has text.
func validPosition(value, pct *html.Node) bool {
	if value == nil || pct == nil {
		return false
	}
	if _, ok := money.StripToNumber(dom.Text(value)); !ok {
		return false
	}
	return dom.Text(pct) != ""
}

// latePosition reports a value that has not rendered while its percent has.
func latePosition(value, pct *html.Node) bool {
	return value != nil && pct != nil && dom.TrimmedText(value) == "" && dom.Text(pct) != ""
}

// combinedPercent multiplies the account share by the change percent. A
// missing or empty node counts as 100%.
func combinedPercent(account, change *html.Node) float64 {
	return money.Percent(dom.TrimmedText(account)) * money.Percent(dom.TrimmedText(change))
}
