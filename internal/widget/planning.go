package widget

import (
	"golang.org/x/net/html"

	"github.com/dgnsrekt/moneymask/internal/dom"
	"github.com/dgnsrekt/moneymask/internal/money"
)

const (
	planningContainer   = "section.acc-visualization"
	planningNetWorth    = "p.acc--net-val"
	planningAssets      = "div.acc--asset-val"
	planningLiabilities = "div.acc--liability-val"
)

// planningSummary masks the net worth visualisation. Net worth becomes the
// mask value; assets and liabilities keep their ratio to it.
type planningSummary struct {
	Base
	netWorth    *html.Node
	assets      *html.Node
	liabilities *html.Node
}

func newPlanningSummary(env Env, state MaskState) *planningSummary {
	w := &planningSummary{}
	w.start(PlanningSummary, env, state, w)
	return w
}

func (w *planningSummary) DiscoverContainer() *html.Node {
	return w.FindInWide(planningContainer)
}

func (w *planningSummary) DiscoverTargets() []*html.Node {
	if n := w.One(&w.netWorth, planningNetWorth); n != nil {
		return []*html.Node{n}
	}
	return nil
}

func (w *planningSummary) OnActivate() {
	w.WatchTargets(TargetWatch{OneShot: true})
}

func (w *planningSummary) ApplyMask() {
	netWorth := w.One(&w.netWorth, planningNetWorth)
	if netWorth == nil {
		return
	}
	total := dom.Text(netWorth)
	v := w.MaskValue()
	w.Masker.Mask([]*html.Node{netWorth}, money.ToDollars(v))
	for _, n := range []*html.Node{
		w.One(&w.assets, planningAssets),
		w.One(&w.liabilities, planningLiabilities),
	} {
		if n == nil {
			continue
		}
		w.Masker.Mask([]*html.Node{n}, money.ToDollars(money.Proportion(v, total, dom.Text(n))))
	}
}

func (w *planningSummary) ApplyUnmask() {
	w.Masker.Unmask([]*html.Node{
		w.One(&w.netWorth, planningNetWorth),
		w.One(&w.assets, planningAssets),
		w.One(&w.liabilities, planningLiabilities),
	})
}
