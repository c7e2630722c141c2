package widget

import (
	"golang.org/x/net/html"

	"github.com/dgnsrekt/moneymask/internal/dom"
	"github.com/dgnsrekt/moneymask/internal/money"
)

// portfolioTotalSelector is the all-accounts total in the portfolio
// sidebar. PanelTotal reads its substitute as the masked grand total.
const portfolioTotalSelector = ".acct-selector__all-accounts > div:nth-child(2) > span:nth-child(2)"

type sidebarLayout struct {
	container      string
	accountTotals  string
	portfolioTotal string
	groupTotal     string
	groupDepth     int
	// gain, when set, selects the gain node under the total's parent and the
	// masked value is written to the substitute's first text node.
	gain string
}

var portfolioSidebarLayout = sidebarLayout{
	container:      ".acct-selector__container",
	accountTotals:  `[class$="_acct-balance"] > span:nth-child(2)`,
	portfolioTotal: portfolioTotalSelector,
	groupTotal:     ".acct-selector__group-balance",
	groupDepth:     10,
}

var balanceSidebarLayout = sidebarLayout{
	container:      ".account-selector--accounts-wrapper",
	accountTotals:  ".account-selector--tab-row.account-selector--account-balance.js-acct-balance",
	portfolioTotal: ".account-selector--tab-row.account-selector--all-accounts-balance.js-portfolio-balance",
	groupTotal:     ".account-selector--header-total",
	groupDepth:     2,
	gain:           "span.account-selector--tab-row.account-selector--account-todays-change.js-today-change-value",
}

// accountSidebar masks the account list of the portfolio and balances
// pages: per-account totals and gains, group subtotals and the grand total.
type accountSidebar struct {
	Base
	layout sidebarLayout

	totals    []*html.Node
	portfolio *html.Node
	groups    []*html.Node
}

func newPortfolioSidebar(env Env, state MaskState) *accountSidebar {
	w := &accountSidebar{layout: portfolioSidebarLayout}
	w.layout.groupDepth = env.groupDepth(PortfolioSidebar, w.layout.groupDepth)
	w.start(PortfolioSidebar, env, state, w)
	return w
}

func newBalanceSidebar(env Env, state MaskState) *accountSidebar {
	w := &accountSidebar{layout: balanceSidebarLayout}
	w.layout.groupDepth = env.groupDepth(BalanceSidebar, w.layout.groupDepth)
	w.start(BalanceSidebar, env, state, w)
	return w
}

func (w *accountSidebar) DiscoverContainer() *html.Node {
	return w.FindInWide(w.layout.container)
}

func (w *accountSidebar) DiscoverTargets() []*html.Node {
	return w.All(&w.totals, w.layout.accountTotals)
}

func (w *accountSidebar) OnActivate() {
	w.WatchTargets(TargetWatch{
		Options: dom.WatchOptions{ChildList: true, Subtree: true, CharacterData: true},
	})
}

func (w *accountSidebar) ApplyMask() {
	totals := w.DiscoverTargets()
	if len(totals) == 0 {
		return
	}
	v := w.MaskValue()
	w.Masker.Mask(totals, money.ToDollars(v))
	for _, total := range totals {
		w.maskGain(total)
	}
	w.maskGroupTotals()
	if p := w.portfolioTotal(); p != nil {
		w.Masker.Mask([]*html.Node{p}, money.ToDollars(money.GroupTotal(v, len(totals))))
	}
}

func (w *accountSidebar) ApplyUnmask() {
	totals := w.DiscoverTargets()
	if len(totals) == 0 {
		return
	}
	w.Masker.Unmask(totals)
	for _, total := range totals {
		if gain := w.gainNode(total); gain != nil {
			w.Masker.Unmask([]*html.Node{gain})
		}
	}
	w.Masker.Unmask([]*html.Node{w.portfolioTotal()})
	w.Masker.Unmask(w.groupTotals())
}

func (w *accountSidebar) maskGain(total *html.Node) {
	gain := w.gainNode(total)
	if gain == nil {
		return
	}
	if w.layout.gain == "" {
		p := money.Proportion(w.MaskValue(), dom.Text(total), dom.Text(gain))
		w.Masker.Mask([]*html.Node{gain}, money.ToGainDollars(p))
		return
	}

	// The gain element carries extra markup after its text, so only the
	// leading text node of the substitute is rewritten.
	w.Masker.MakeSubstitute([]*html.Node{gain})
	sub := w.Masker.Substitute(gain)
	if sub == nil {
		return
	}
	orig := gain.FirstChild
	if orig == nil || dom.TrimmedText(orig) == "" {
		return
	}
	target := sub.FirstChild
	if target == nil || dom.TrimmedText(target) == "" {
		return
	}
	p := money.Proportion(w.MaskValue(), dom.Text(total), dom.Text(orig))
	w.Doc.SetText(target, money.ToGainDollars(p))
	w.Masker.Hide(gain)
	w.Masker.Show(sub)
}

func (w *accountSidebar) gainNode(total *html.Node) *html.Node {
	if total == nil {
		return nil
	}
	if w.layout.gain != "" {
		return w.Doc.QueryIn(total.Parent, w.layout.gain)
	}
	return dom.ChildAt(dom.NextElementSibling(dom.ParentElement(total)), 1)
}

func (w *accountSidebar) maskGroupTotals() {
	for _, group := range w.groupTotals() {
		ancestor := dom.Climb(group, w.layout.groupDepth)
		count := len(w.Doc.QueryAllIn(ancestor, w.layout.accountTotals))
		w.Masker.Mask([]*html.Node{group}, money.ToDollars(money.GroupTotal(w.MaskValue(), count)))
	}
}

func (w *accountSidebar) portfolioTotal() *html.Node {
	return w.One(&w.portfolio, w.layout.portfolioTotal)
}

func (w *accountSidebar) groupTotals() []*html.Node {
	return w.All(&w.groups, w.layout.groupTotal)
}
