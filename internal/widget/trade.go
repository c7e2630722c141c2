package widget

import (
	"bytes"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/dgnsrekt/moneymask/internal/dom"
	"github.com/dgnsrekt/moneymask/internal/money"
)

const (
	tradeContainer     = "float_trade_apps"
	tradeMargin        = "#eq-ticket__account-balance > div:nth-child(1) > div:nth-child(2)"
	tradeNonMargin     = "#eq-ticket__account-balance > div:nth-child(2) > div:nth-child(2)"
	tradeWithoutImpact = "#eq-ticket__account-balance > div:nth-child(3) > div:nth-child(2)"
	tradeOwnedAmount   = "#eq-ticket__owned-quantity-all > div:nth-child(2)"
	tradePlaceOrder    = "#placeOrderBtn"
	tradeError         = ".pvd-inline-alert__content > s-slot > s-assigned-wrapper > div"

	marginWatch      = "margin-watch"
	ownedAmountWatch = "owned-amount-watch"
	orderWatch       = "order-watch"

	placeOrderLabel = "Unmask to place order"
)

type tradeErrorKind int

const (
	insufficientShares tradeErrorKind = iota + 1
)

// tradeErrorKindOf maps the code shown in parentheses in an order error to
// the kind of masking it needs. Unknown codes are zero.
func tradeErrorKindOf(code string) tradeErrorKind {
	switch code {
	case "014978":
		return insufficientShares
	}
	return 0
}

var (
	errorCodeRe  = regexp.MustCompile(`\((\d+)\)`)
	shareCountRe = regexp.MustCompile(`(\d+(\.\d+)?) shares\b`)
)

// tradePopOut masks the floating trade ticket: buying power figures, the
// owned share count, share counts quoted in order errors, and the place
// order button, which is swapped for a disabled stand-in.
type tradePopOut struct {
	Base
	margin        *html.Node
	nonMargin     *html.Node
	withoutImpact *html.Node
	placeOrder    *html.Node
}

func newTradePopOut(env Env, state MaskState) *tradePopOut {
	w := &tradePopOut{}
	w.start(TradePopOut, env, state, w, &DistalAncestor{Selector: "body"})
	return w
}

func (w *tradePopOut) DiscoverContainer() *html.Node {
	return w.FindInWide(tradeContainer)
}

func (w *tradePopOut) DiscoverTargets() []*html.Node {
	if n := w.One(&w.margin, tradeMargin); n != nil {
		return []*html.Node{n}
	}
	return nil
}

func (w *tradePopOut) OnActivate() {
	w.WatchTargets(TargetWatch{Name: marginWatch, OneShot: true})

	w.Observe(ownedAmountWatch, []*html.Node{w.Container()}, func(recs []dom.Record) {
		if w.MaskOn() && w.hasPageAdditions(recs) {
			w.Masker.Blur(w.ownedAmount())
		}
	}, dom.WatchOptions{})

	// Order errors and the place order button appear after preview; error
	// banners that already exist only change class.
	w.Observe(orderWatch, []*html.Node{w.Container()}, func(recs []dom.Record) {
		if !w.MaskOn() || !w.hasPageChange(recs) {
			return
		}
		w.maskErrorMessage()
		w.maskPlaceOrder()
	}, dom.WatchOptions{
		ChildList:       true,
		Subtree:         true,
		Attributes:      true,
		AttributeFilter: []string{"class"},
	})
}

func (w *tradePopOut) ApplyMask() {
	if w.Container() == nil {
		return
	}
	v := w.MaskValue()
	margin := w.One(&w.margin, tradeMargin)
	if margin != nil {
		w.Masker.Mask([]*html.Node{margin}, money.ToDollars(v))
	}
	wo := w.One(&w.withoutImpact, tradeWithoutImpact)
	if wo != nil && margin != nil {
		w.Masker.Mask([]*html.Node{wo}, money.ToDollars(money.Proportion(v, dom.Text(margin), dom.Text(wo))))
	}
	if nm := w.One(&w.nonMargin, tradeNonMargin); nm != nil {
		value := v
		if margin != nil && wo != nil {
			// Non-margin buying power sits halfway between the other two.
			mid := money.Mean(dom.Text(margin), dom.Text(wo))
			value = money.Proportion(v, dom.Text(margin), strconv.FormatFloat(mid, 'f', -1, 64))
		}
		w.Masker.Mask([]*html.Node{nm}, money.ToDollars(value))
	}
	w.Masker.Blur(w.ownedAmount())
	w.maskErrorMessage()
	w.maskPlaceOrder()
}

func (w *tradePopOut) ApplyUnmask() {
	if w.Container() == nil {
		return
	}
	w.Masker.Unmask([]*html.Node{
		w.One(&w.margin, tradeMargin),
		w.One(&w.nonMargin, tradeNonMargin),
		w.One(&w.withoutImpact, tradeWithoutImpact),
	})
	w.Masker.Unblur(w.ownedAmount())
	w.resetErrorMessage()
	w.resetPlaceOrder()
}

func (w *tradePopOut) ownedAmount() *html.Node {
	return w.Doc.QueryIn(w.Container(), tradeOwnedAmount)
}

// errorDiv returns the order error banner and the masking its code needs.
func (w *tradePopOut) errorDiv() (*html.Node, tradeErrorKind) {
	div := w.Doc.QueryIn(w.Container(), tradeError)
	if div == nil {
		return nil, 0
	}
	m := errorCodeRe.FindStringSubmatch(dom.Text(div))
	if m == nil {
		return div, 0
	}
	return div, tradeErrorKindOf(m[1])
}

func (w *tradePopOut) maskErrorMessage() {
	div, kind := w.errorDiv()
	if kind != insufficientShares {
		return
	}
	inner := innerHTML(div)
	if strings.Contains(inner, w.blurredSpanOpen()) {
		return
	}
	w.rewriteInner(div, inner, shareCountRe.ReplaceAllString(inner, w.blurredSpanOpen()+"$1</span> shares"))
}

func (w *tradePopOut) resetErrorMessage() {
	div, kind := w.errorDiv()
	if kind != insufficientShares {
		return
	}
	inner := innerHTML(div)
	re := regexp.MustCompile(regexp.QuoteMeta(w.blurredSpanOpen()) + `(\d+(\.\d+)?)</span> shares\b`)
	w.rewriteInner(div, inner, re.ReplaceAllString(inner, "$1 shares"))
}

func (w *tradePopOut) blurredSpanOpen() string {
	return `<span class="` + w.Config.BlurClass + `">`
}

func (w *tradePopOut) rewriteInner(div *html.Node, before, after string) {
	if after == before {
		return
	}
	nodes, err := html.ParseFragment(strings.NewReader(after), div)
	if err != nil {
		w.Log().Warn("failed to parse rewritten error message", "error", err)
		return
	}
	w.Doc.ReplaceChildren(div, nodes...)
}

func (w *tradePopOut) maskPlaceOrder() {
	btn := w.One(&w.placeOrder, tradePlaceOrder)
	if btn == nil {
		return
	}
	sub := w.Masker.Substitute(btn)
	if sub == nil {
		sub = w.makePlaceOrderStandIn(btn)
	}
	w.Masker.Hide(btn)
	w.Masker.Show(sub)
}

func (w *tradePopOut) resetPlaceOrder() {
	btn := w.One(&w.placeOrder, tradePlaceOrder)
	if btn == nil {
		return
	}
	w.Masker.Show(btn)
	w.Masker.Hide(w.Masker.Substitute(btn))
}

// makePlaceOrderStandIn clones the button as a disabled substitute labelled
// with placeOrderLabel.
func (w *tradePopOut) makePlaceOrderStandIn(btn *html.Node) *html.Node {
	w.Masker.MakeSubstitute([]*html.Node{btn})
	sub := w.Masker.Substitute(btn)
	if sub == nil {
		return nil
	}
	w.Doc.SetAttr(sub, "disabled", "")
	label := sub.FirstChild
	if label == nil || label.Type != html.ElementNode {
		label = sub
	}
	w.Doc.SetStyle(label, "font-style", "italic")
	w.Doc.SetText(label, placeOrderLabel)
	return sub
}

func innerHTML(n *html.Node) string {
	var buf bytes.Buffer
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return ""
		}
	}
	return buf.String()
}
