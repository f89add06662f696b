package views

import (
	"context"
	"math"
	"strconv"
	"strings"

	"portal/internal/upstream"
	id "portal/pkg/domain"
	"portal/pkg/requestcontext"
)

// Viewer is the signed-in investor a view is rendered for.
type Viewer struct {
	Email       id.Email
	DisplayName string
	// SheetName is the fullName the investor sheet holds for Email, when the
	// session's dashboard has loaded. It may differ from the provider's name.
	SheetName string
}

// ViewerFromContext reads the identity the session middleware attached.
func ViewerFromContext(ctx context.Context) (Viewer, bool) {
	email, ok := requestcontext.Email(ctx)
	if !ok {
		return Viewer{}, false
	}
	return Viewer{Email: email, DisplayName: requestcontext.DisplayName(ctx)}, true
}

// Transaction types shown in the ledger.
const (
	TxInvestment       = "Investment"
	TxInterestAccrued  = "Interest Accrued"
	TxInterestPayment  = "Payment (Interest)"
	TxPrincipalPayment = "Payment (Principal)"
	TxCalculation      = "Calculation"
)

const noMovement = "-"

// Dashboard is the investor summary screen.
type Dashboard struct {
	Screen              string       `json:"screen"`
	Greeting            string       `json:"greeting"`
	FirstName           string       `json:"first_name"`
	CurrentBalance      Money        `json:"current_balance"`
	NextPayment         Money        `json:"next_payment"`
	NextPaymentDate     string       `json:"next_payment_date"`
	InvestmentGroupID   string       `json:"investment_group_id,omitempty"`
	GroupPath           string       `json:"group_path,omitempty"`
	TotalInvestment     *Money       `json:"total_investment,omitempty"`
	Growth              *Money       `json:"growth,omitempty"`
	FirstInvestmentDate string       `json:"first_investment_date,omitempty"`
	Ledger              Ledger       `json:"ledger"`
	PaymentHistory      []PaymentRow `json:"payment_history"`
	Incomplete          bool         `json:"incomplete"`
	MissingFields       []string     `json:"missing_fields,omitempty"`
}

// Ledger is the transaction table with totals derived from its rows.
type Ledger struct {
	Rows             []LedgerRow `json:"rows"`
	TotalDeposits    string      `json:"total_deposits"`
	TotalWithdrawals string      `json:"total_withdrawals"`
	TotalInterest    string      `json:"total_interest"`
	TotalPrincipal   string      `json:"total_principal"`
}

// LedgerRow is one formatted ledger line. Movement cells read "-" when
// nothing moved.
type LedgerRow struct {
	Date           string `json:"date"`
	Type           string `json:"type"`
	OpeningBalance string `json:"opening_balance"`
	Deposit        string `json:"deposit"`
	Withdrawal     string `json:"withdrawal"`
	Interest       string `json:"interest"`
	EndingBalance  string `json:"ending_balance"`
}

// PaymentRow is one received payment.
type PaymentRow struct {
	Date   string `json:"date"`
	Amount Money  `json:"amount"`
}

// BuildDashboard derives the dashboard from one getUserDashboard payload.
// Nothing is cached: every call recomputes from d.
func BuildDashboard(d *upstream.Dashboard, viewer Viewer) *Dashboard {
	var missing []string
	required := func(field string, a upstream.Amount) Money {
		if !a.Valid {
			missing = append(missing, field)
		}
		return wholeDollars(a)
	}

	first := FirstName(string(d.FullName), viewer)
	out := &Dashboard{
		Screen:            "dashboard",
		Greeting:          "Welcome, " + first,
		FirstName:         first,
		CurrentBalance:    required("currentBalance", d.CurrentBalance),
		NextPayment:       required("nextPaymentAmount", d.NextPaymentAmount),
		NextPaymentDate:   FormatLongDate(d.NextPaymentDate),
		InvestmentGroupID: string(d.InvestmentGroupID),
		PaymentHistory:    make([]PaymentRow, 0, len(d.PaymentHistory)),
	}
	if out.InvestmentGroupID != "" {
		out.GroupPath = "/group/" + out.InvestmentGroupID
	}

	// totalInvestment and its growth are optional sections: shown only when
	// the sheet sends them.
	if d.TotalInvestment.Valid {
		total := wholeDollars(d.TotalInvestment)
		out.TotalInvestment = &total
		out.FirstInvestmentDate = FormatLongDate(d.FirstInvestmentDate)
		if d.CurrentBalance.Valid {
			growth := wholeDollars(upstream.Some(Growth(d.CurrentBalance.Value, d.TotalInvestment.Value)))
			out.Growth = &growth
		}
	}

	var ledgerMissing []string
	out.Ledger, ledgerMissing = BuildLedger(d.LedgerData)
	missing = append(missing, ledgerMissing...)

	for i, p := range d.PaymentHistory {
		if !p.Amount.Valid {
			missing = append(missing, fieldAt("paymentHistory", i, "amount"))
		}
		out.PaymentHistory = append(out.PaymentHistory, PaymentRow{
			Date:   FormatLongDate(p.Date),
			Amount: wholeDollars(p.Amount),
		})
	}

	out.MissingFields = missing
	out.Incomplete = len(missing) > 0
	return out
}

// Growth is the balance earned on top of what was invested.
func Growth(currentBalance, totalInvestment float64) float64 {
	return currentBalance - totalInvestment
}

// FirstName picks the greeting name: the first word of the sheet's full
// name, then of the provider display name, then the email local part.
func FirstName(fullName string, viewer Viewer) string {
	for _, candidate := range []string{fullName, viewer.DisplayName} {
		if fields := strings.Fields(candidate); len(fields) > 0 {
			return fields[0]
		}
	}
	if local := viewer.Email.LocalPart(); local != "" {
		return local
	}
	return "Investor"
}

// BuildLedger formats the ledger rows and totals. An absent movement cell is
// no movement; absent balances are reported as missing.
func BuildLedger(entries []upstream.LedgerEntry) (Ledger, []string) {
	var missing []string
	var deposits, withdrawals, interest, paid float64
	rows := make([]LedgerRow, 0, len(entries))
	for i, e := range entries {
		if !e.OpeningBalance.Valid {
			missing = append(missing, fieldAt("ledgerData", i, "openingBalance"))
		}
		if !e.EndingBalance.Valid {
			missing = append(missing, fieldAt("ledgerData", i, "endingBalance"))
		}
		kind := ClassifyTransaction(e)
		deposits += positive(e.Deposit)
		withdrawals += positive(e.Withdrawal)
		interest += positive(e.Interest)
		if kind == TxPrincipalPayment {
			paid += positive(e.Withdrawal)
		}
		rows = append(rows, LedgerRow{
			Date:           FormatShortDate(e.Date),
			Type:           kind,
			OpeningBalance: cents(e.OpeningBalance).Display,
			Deposit:        movement(e.Deposit),
			Withdrawal:     movement(e.Withdrawal),
			Interest:       movement(e.Interest),
			EndingBalance:  cents(e.EndingBalance).Display,
		})
	}
	return Ledger{
		Rows:             rows,
		TotalDeposits:    FormatUSDCents(deposits),
		TotalWithdrawals: FormatUSDCents(withdrawals),
		TotalInterest:    FormatUSDCents(interest),
		TotalPrincipal:   FormatUSDCents(deposits - paid),
	}, missing
}

// ClassifyTransaction labels a ledger line by the movements it carries.
func ClassifyTransaction(e upstream.LedgerEntry) string {
	deposit, withdrawal, interest := positive(e.Deposit), positive(e.Withdrawal), positive(e.Interest)
	switch {
	case deposit > 0:
		return TxInvestment
	case interest > 0 && withdrawal == 0:
		return TxInterestAccrued
	case withdrawal > 0 && math.Abs(interest-withdrawal) < 0.01:
		return TxInterestPayment
	case withdrawal > 0:
		return TxPrincipalPayment
	default:
		return TxCalculation
	}
}

func positive(a upstream.Amount) float64 {
	if !a.Valid || a.Value <= 0 {
		return 0
	}
	return a.Value
}

func movement(a upstream.Amount) string {
	if v := positive(a); v > 0 {
		return FormatUSDCents(v)
	}
	return noMovement
}

func fieldAt(list string, i int, field string) string {
	return list + "[" + strconv.Itoa(i) + "]." + field
}
