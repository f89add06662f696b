package views

import (
	"math"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"portal/internal/upstream"
)

const notAvailable = "N/A"

var printer = message.NewPrinter(language.AmericanEnglish)

// dateLayouts are the shapes the spreadsheet has been seen to emit.
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05.000Z",
	"1/2/2006",
	"01/02/2006",
	"January 2, 2006",
	"Jan 2, 2006",
}

// Money is a currency field. Value is nil when the upstream did not send a
// usable number; Display then holds the "$0" fallback and the owning view
// is marked incomplete.
type Money struct {
	Value   *float64 `json:"value"`
	Display string   `json:"display"`
}

func wholeDollars(a upstream.Amount) Money {
	return money(a, FormatUSD)
}

func cents(a upstream.Amount) Money {
	return money(a, FormatUSDCents)
}

func money(a upstream.Amount, format func(float64) string) Money {
	if !a.Valid || math.IsNaN(a.Value) || math.IsInf(a.Value, 0) {
		return Money{Display: format(0)}
	}
	v := a.Value
	return Money{Value: &v, Display: format(v)}
}

// FormatUSD renders whole dollars with digit grouping: 1000 -> "$1,000".
func FormatUSD(v float64) string {
	return usd(v, "%.0f")
}

// FormatUSDCents renders dollars and cents: 1234.5 -> "$1,234.50".
func FormatUSDCents(v float64) string {
	return usd(v, "%.2f")
}

func usd(v float64, verb string) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = math.Abs(v)
	}
	out := printer.Sprintf(verb, v)
	if out == "0" || strings.Trim(out, "0.") == "" {
		sign = ""
	}
	return sign + "$" + out
}

// FormatPercent renders a fraction as a percentage: 0.125 -> "12.50%".
func FormatPercent(fraction float64) string {
	return printer.Sprintf("%.2f", fraction*100) + "%"
}

// FormatLongDate renders "June 1, 2024". Empty input and the spreadsheet's
// own "N/A" render as "N/A"; anything unparseable is shown as sent.
func FormatLongDate(raw upstream.Text) string {
	return formatDate(raw, "January 2, 2006")
}

// FormatShortDate renders "Jun 1, 2024".
func FormatShortDate(raw upstream.Text) string {
	return formatDate(raw, "Jan 2, 2006")
}

func formatDate(raw upstream.Text, layout string) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || strings.EqualFold(s, notAvailable) {
		return notAvailable
	}
	for _, l := range dateLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return t.Format(layout)
		}
	}
	return s
}
