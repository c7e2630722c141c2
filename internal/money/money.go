// Package money formats masked figures and derives secondary values
// (gains, shares, subtotals) so they stay proportional to the mask value.
package money

import (
	"math"
	"regexp"
	"strconv"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var (
	printer = message.NewPrinter(language.AmericanEnglish)

	nonNumeric    = regexp.MustCompile(`[^0-9.\-]+`)
	leadingNumber = regexp.MustCompile(`^-?(\d+\.?\d*|\.\d+)`)
)

func grouped(v float64, decimals int) string {
	return printer.Sprintf("%."+strconv.Itoa(decimals)+"f", v)
}

func currency(v float64, decimals int) string {
	v = finite(v)
	scale := math.Pow(10, float64(decimals))
	abs := math.Round(math.Abs(v)*scale) / scale
	if v < 0 && abs != 0 {
		return "-$" + grouped(abs, decimals)
	}
	return "$" + grouped(abs, decimals)
}

// ToDollars formats v as en-US currency with cents, e.g. "-$1,234.50".
func ToDollars(v float64) string {
	return currency(v, 2)
}

// ToGainDollars is ToDollars with a leading "+" for positive values.
func ToGainDollars(v float64) string {
	s := ToDollars(v)
	if finite(v) > 0 {
		return "+" + s
	}
	return s
}

// ToGraphDollars formats whole dollars for chart axis labels, e.g. "$1,250".
func ToGraphDollars(v float64) string {
	return currency(v, 0)
}

// ToShareQuantity formats a share count with three decimals.
func ToShareQuantity(v float64) string {
	v = finite(v)
	if math.Abs(v) < 0.0005 {
		v = 0
	}
	return grouped(v, 3)
}

// StripToNumber drops everything except digits, dots and minus signs and
// parses the leading number that remains. It reports false when nothing
// numeric is left.
func StripToNumber(s string) (float64, bool) {
	m := leadingNumber.FindString(nonNumeric.ReplaceAllString(s, ""))
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Proportion scales mask by part/total. A zero or unreadable total yields 0.
func Proportion(mask float64, total, part string) float64 {
	t, ok := StripToNumber(total)
	if !ok {
		return 0
	}
	p, ok := StripToNumber(part)
	if !ok {
		return 0
	}
	return finite(mask * (p / t))
}

// Percent reads a percentage such as "12.5%" as a fraction. Missing or
// unparsable text counts as 100%.
func Percent(s string) float64 {
	v, ok := StripToNumber(s)
	if !ok {
		return 1
	}
	return v / 100
}

// GroupTotal is the masked total of a group of count members.
func GroupTotal(mask float64, count int) float64 {
	return mask * float64(count)
}

// Mean averages the readable values, skipping the rest.
func Mean(values ...string) float64 {
	var sum float64
	n := 0
	for _, s := range values {
		if v, ok := StripToNumber(s); ok {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
