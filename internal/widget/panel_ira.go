package widget

import (
	"golang.org/x/net/html"

	"github.com/dgnsrekt/moneymask/internal/dom"
	"github.com/dgnsrekt/moneymask/internal/money"
)

const (
	iraContainer = "ira-contribution"
	iraRemainder = ".contribution__item__year > span:nth-child(2)"
	// The progress line holds the contributed amount then the limit.
	iraProgress = ".contribution__item__progress__data"
)

// panelIra masks the IRA contribution card. The limit shows the mask value
// and the contributed and remaining amounts keep their share of it.
type panelIra struct {
	Base
	progress  *html.Node
	remainder *html.Node
}

func newPanelIra(env Env, state MaskState) *panelIra {
	w := &panelIra{}
	w.start(PanelIra, env, state, w)
	return w
}

func (w *panelIra) DiscoverContainer() *html.Node {
	return w.FindInWide(iraContainer)
}

func (w *panelIra) DiscoverTargets() []*html.Node {
	if limit := w.limit(); limit != nil {
		return []*html.Node{limit}
	}
	return nil
}

func (w *panelIra) limit() *html.Node {
	return w.Doc.PageChild(w.One(&w.progress, iraProgress), 1)
}

func (w *panelIra) contributed() *html.Node {
	return w.Doc.PageChild(w.One(&w.progress, iraProgress), 0)
}

func (w *panelIra) OnActivate() {
	w.WatchTargets(TargetWatch{})
}

func (w *panelIra) ApplyMask() {
	limit := w.limit()
	if limit == nil {
		return
	}
	v := w.MaskValue()
	w.Masker.Mask([]*html.Node{limit}, money.ToDollars(v)+" limit")

	remainder := w.One(&w.remainder, iraRemainder)
	if remainder == nil {
		return
	}
	left := w.remainderValue(limit, remainder)
	w.Masker.Mask([]*html.Node{remainder}, money.ToDollars(left)+" left")
	if c := w.contributed(); c != nil {
		w.Masker.Mask([]*html.Node{c}, money.ToDollars(v-left)+" contributed")
	}
}

func (w *panelIra) ApplyUnmask() {
	w.Masker.Unmask([]*html.Node{
		w.limit(),
		w.One(&w.remainder, iraRemainder),
		w.contributed(),
	})
}

// remainderValue is the amount left to contribute, scaled to the mask value
// while the mask is on.
func (w *panelIra) remainderValue(limit, remainder *html.Node) float64 {
	if !w.MaskOn() {
		v, _ := money.StripToNumber(dom.Text(remainder))
		return v
	}
	return money.Proportion(w.MaskValue(), dom.Text(limit), dom.Text(remainder))
}
