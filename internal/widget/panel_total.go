package widget

import (
	"golang.org/x/net/html"

	"github.com/dgnsrekt/moneymask/internal/dom"
	"github.com/dgnsrekt/moneymask/internal/mask"
	"github.com/dgnsrekt/moneymask/internal/money"
)

const (
	panelTotalContainer = ".balance-overtime-card-container.helios-override"
	panelTotalValue     = ".total-balance__value"
	panelTotalGain      = ".today-change-value > span:first-child"
	panelTotalChange    = ".today-change-value"
	panelTotalGraph     = "#balance-charts"
	panelTotalAxis      = ".highcharts-yaxis-labels"

	graphWatch      = "graph-watch"
	graphLabelWatch = "graph-label-watch"
	catalystWatch   = "catalyst-watch"

	axisLabelCount = 3
)

// panelTotal mirrors the masked portfolio total from the account sidebar into
// the summary card, and rescales the day's gain and the balance graph axis
// to match it.
type panelTotal struct {
	Base
	total    *html.Node
	graph    *html.Node
	labels   []*html.Node
	catalyst string
}

func newPanelTotal(env Env, state MaskState) *panelTotal {
	w := &panelTotal{}
	w.start(PanelTotal, env, state, w)
	return w
}

func (w *panelTotal) DiscoverContainer() *html.Node {
	return w.FindInWide(panelTotalContainer)
}

func (w *panelTotal) DiscoverTargets() []*html.Node {
	if n := w.One(&w.total, panelTotalValue); n != nil {
		return []*html.Node{n}
	}
	return nil
}

func (w *panelTotal) OnActivate() {
	w.Observe(targetWatch, []*html.Node{w.Container()}, func(recs []dom.Record) {
		if !w.outsideGraph(recs) || len(w.DiscoverTargets()) == 0 {
			return
		}
		w.MaskSwitch()
	}, dom.WatchOptions{ChildList: true, Subtree: true, CharacterData: true})
	if len(w.DiscoverTargets()) > 0 {
		w.MaskSwitch()
	}

	// The sidebar total lives outside the container and drives this card.
	w.Observe(catalystWatch, []*html.Node{w.Wide()}, func([]dom.Record) {
		if !w.MaskOn() || w.catalystText() == w.catalyst {
			return
		}
		w.MaskSwitch()
	}, dom.WatchOptions{ChildList: true, Subtree: true, CharacterData: true})

	if w.graphNode() != nil {
		w.watchGraphLabels()
		return
	}
	w.Observe(graphWatch, []*html.Node{w.Container()}, func(recs []dom.Record) {
		if !w.hasPageAdditions(recs) || w.graphNode() == nil {
			return
		}
		w.Disconnect(graphWatch)
		if w.MaskOn() {
			w.maskGraphLabels()
		}
		w.watchGraphLabels()
	}, dom.WatchOptions{})
}

// watchGraphLabels re-masks the gain and the axis whenever the graph
// redraws, which happens on hover and when another range is picked.
func (w *panelTotal) watchGraphLabels() {
	w.Observe(graphLabelWatch, []*html.Node{w.graphNode()}, func(recs []dom.Record) {
		if !w.MaskOn() || !w.hasPageChange(recs) {
			return
		}
		w.maskGain()
		w.maskGraphLabels()
	}, dom.WatchOptions{ChildList: true, Subtree: true, CharacterData: true})
}

func (w *panelTotal) ApplyMask() {
	w.catalyst = w.catalystText()
	if w.catalyst != "" {
		w.Masker.Mask(w.DiscoverTargets(), w.catalyst)
	}
	w.maskGain()
	w.maskGraphLabels()
}

func (w *panelTotal) ApplyUnmask() {
	w.catalyst = ""
	w.Masker.Unmask(w.DiscoverTargets())
	w.Masker.Unmask([]*html.Node{w.gainNode()})
	w.Masker.Unmask(w.labels)
}

func (w *panelTotal) maskGain() {
	gain := w.gainNode()
	if gain == nil {
		return
	}
	var pct string
	if p := w.percentNode(); p != nil {
		pct = dom.Text(p)
	}
	if _, ok := money.StripToNumber(pct); !ok {
		w.Log().Debug("day change percent unreadable, passing total through", "text", pct)
	}
	total, _ := money.StripToNumber(w.totalText())
	w.Masker.Mask([]*html.Node{gain}, money.ToGainDollars(total*money.Percent(pct)))
}

func (w *panelTotal) maskGraphLabels() {
	graph := w.graphNode()
	if graph == nil {
		return
	}
	axis := w.Doc.QueryIn(graph, panelTotalAxis)
	if axis == nil {
		return
	}
	w.labels = w.Doc.QueryAllIn(axis, "text")
	if len(w.labels) != axisLabelCount {
		return
	}
	total, _ := money.StripToNumber(w.catalystText())
	w.Masker.Mask(w.labels[:1], money.ToGraphDollars(0))
	w.Masker.Mask(w.labels[1:2], money.ToGraphDollars(total/2))
	w.Masker.Mask(w.labels[2:], money.ToGraphDollars(total))
}

func (w *panelTotal) gainNode() *html.Node {
	return w.Doc.QueryIn(w.Container(), panelTotalGain)
}

// percentNode is the day's change percentage next to the gain.
func (w *panelTotal) percentNode() *html.Node {
	return w.Doc.PageChild(w.Doc.QueryIn(w.Doc.Root(), panelTotalChange), 1)
}

func (w *panelTotal) graphNode() *html.Node {
	if !w.Doc.IsConnected(w.graph) {
		w.graph = w.Doc.QueryIn(w.Doc.Root(), panelTotalGraph)
	}
	return w.graph
}

// catalystText is the sidebar total as currently shown: the original while
// unmasked, its substitute while masked, or "" when neither is available.
func (w *panelTotal) catalystText() string {
	n := w.Doc.QueryIn(w.Doc.Root(), portfolioTotalSelector)
	return w.shownText(n, "")
}

// totalText is the card total as currently shown, "0" when unknown.
func (w *panelTotal) totalText() string {
	var n *html.Node
	if targets := w.DiscoverTargets(); len(targets) > 0 {
		n = targets[0]
	}
	return w.shownText(n, "0")
}

func (w *panelTotal) shownText(n *html.Node, fallback string) string {
	if n == nil {
		return fallback
	}
	if !w.MaskOn() {
		return dom.Text(n)
	}
	if dom.Attr(n, mask.HasCloneAttr) == "true" {
		if sub := w.Masker.Substitute(n); sub != nil {
			return dom.Text(sub)
		}
	}
	return fallback
}

// outsideGraph reports page changes other than the graph redrawing itself.
func (w *panelTotal) outsideGraph(recs []dom.Record) bool {
	graph := w.graphNode()
	var rest []dom.Record
	for _, r := range recs {
		if graph != nil && dom.Contains(graph, r.Target) {
			continue
		}
		rest = append(rest, r)
	}
	return w.hasPageChange(rest)
}
