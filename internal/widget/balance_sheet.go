package widget

import (
	"golang.org/x/net/html"

	"github.com/dgnsrekt/moneymask/internal/dom"
	"github.com/dgnsrekt/moneymask/internal/money"
)

const (
	balanceSheetContainer = ".balances--table-container"
	balanceSheetDistal    = ".page-content.page-content--portfolio-summary"
	balanceSheetTotals    = ".balances--table-content:not(.balances--group-mode-total-border) > td:nth-child(2) > span:first-child"
	balanceSheetPortfolio = ".balances--table-content.balances--group-mode-total-border > td:nth-child(2) > span:first-child"
	balanceSheetItemHead  = ".balances--item-head-container"

	marginViewThreshold = 20
)

type balanceView int

const (
	portfolioView balanceView = iota
	nonMarginView
	marginView
)

// balanceSheet masks the balances table. Only the all-accounts view is
// masked; single-account views are left alone.
type balanceSheet struct {
	Base
	totals    []*html.Node
	portfolio *html.Node
}

func newBalanceSheet(env Env, state MaskState) *balanceSheet {
	w := &balanceSheet{}
	w.start(BalanceSheet, env, state, w, &DistalAncestor{Selector: balanceSheetDistal})
	return w
}

func (w *balanceSheet) DiscoverContainer() *html.Node {
	return w.FindInWide(balanceSheetContainer)
}

func (w *balanceSheet) DiscoverTargets() []*html.Node {
	return w.All(&w.totals, balanceSheetTotals)
}

func (w *balanceSheet) OnActivate() {
	w.WatchTargets(TargetWatch{OneShot: true})
}

// view guesses the view type from how many item headers the page shows.
func (w *balanceSheet) view() balanceView {
	n := len(w.Doc.QueryAllIn(w.Doc.Root(), balanceSheetItemHead))
	switch {
	case n == 0:
		return portfolioView
	case n < marginViewThreshold:
		return nonMarginView
	default:
		return marginView
	}
}

func (w *balanceSheet) ApplyMask() {
	if w.view() != portfolioView {
		return
	}
	totals := w.DiscoverTargets()
	w.Masker.Mask(totals, money.ToDollars(w.MaskValue()))
	for _, total := range totals {
		w.maskGain(total)
	}
	if p := w.portfolioTotal(); p != nil {
		w.Masker.Mask([]*html.Node{p}, money.ToDollars(money.GroupTotal(w.MaskValue(), len(totals))))
		w.maskGain(p)
	}
}

func (w *balanceSheet) ApplyUnmask() {
	if w.view() != portfolioView {
		return
	}
	totals := w.DiscoverTargets()
	w.Masker.Unmask(totals)
	for _, total := range totals {
		w.Masker.Unmask([]*html.Node{gainCell(total)})
	}
	if p := w.portfolioTotal(); p != nil {
		w.Masker.Unmask([]*html.Node{p, gainCell(p)})
	}
}

func (w *balanceSheet) maskGain(total *html.Node) {
	gain := gainCell(total)
	if gain == nil {
		return
	}
	p := money.Proportion(w.MaskValue(), dom.Text(total), dom.Text(gain))
	w.Masker.Mask([]*html.Node{gain}, money.ToGainDollars(p))
}

func (w *balanceSheet) portfolioTotal() *html.Node {
	return w.One(&w.portfolio, balanceSheetPortfolio)
}

// gainCell is the second child of the cell after the total's cell.
func gainCell(total *html.Node) *html.Node {
	return dom.ChildAt(dom.NextElementSibling(dom.ParentElement(total)), 1)
}
