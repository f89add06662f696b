package views

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portal/internal/upstream"
	id "portal/pkg/domain"
)

func decodeDashboard(t *testing.T, raw string) *upstream.Dashboard {
	t.Helper()
	var d upstream.Dashboard
	require.NoError(t, json.Unmarshal([]byte(raw), &d))
	return &d
}

func TestBuildDashboard(t *testing.T) {
	viewer := Viewer{Email: id.Email("ok@x.com"), DisplayName: "Jane Q. Doe"}

	t.Run("ok@x.com renders balance, next payment and first name", func(t *testing.T) {
		d := decodeDashboard(t, `{
			"currentBalance": 1000,
			"nextPaymentAmount": 50,
			"nextPaymentDate": "2024-06-01",
			"investmentGroupId": "G1",
			"ledgerData": [],
			"fullName": "Jane Doe"
		}`)

		got := BuildDashboard(d, viewer)

		assert.Equal(t, "$1,000", got.CurrentBalance.Display)
		require.NotNil(t, got.CurrentBalance.Value)
		assert.Equal(t, 1000.0, *got.CurrentBalance.Value)
		assert.Equal(t, "$50", got.NextPayment.Display)
		assert.Equal(t, "June 1, 2024", got.NextPaymentDate)
		assert.Equal(t, "Jane", got.FirstName)
		assert.Equal(t, "Welcome, Jane", got.Greeting)
		assert.Equal(t, "/group/G1", got.GroupPath)
		assert.False(t, got.Incomplete)
		assert.Empty(t, got.MissingFields)
		assert.Empty(t, got.Ledger.Rows)
		assert.Nil(t, got.TotalInvestment, "optional section is omitted, not zeroed")
		assert.Nil(t, got.Growth)
	})

	t.Run("missing numbers are marked incomplete, not confirmed as zero", func(t *testing.T) {
		d := decodeDashboard(t, `{"currentBalance": null, "nextPaymentAmount": "n/a", "fullName": "Jane Doe"}`)

		got := BuildDashboard(d, viewer)

		assert.True(t, got.Incomplete)
		assert.Equal(t, []string{"currentBalance", "nextPaymentAmount"}, got.MissingFields)
		assert.Nil(t, got.CurrentBalance.Value)
		assert.Equal(t, "$0", got.CurrentBalance.Display, "display fallback only")
		assert.Nil(t, got.NextPayment.Value)
		assert.Equal(t, "N/A", got.NextPaymentDate)
	})

	t.Run("growth and first investment derive from the payload", func(t *testing.T) {
		d := decodeDashboard(t, `{
			"currentBalance": "12,500",
			"nextPaymentAmount": 125,
			"totalInvestment": 10000,
			"firstInvestmentDate": "2023-01-15",
			"paymentHistory": [{"date": "2024-05-01", "amount": 125}, {"date": "2024-04-01", "amount": null}]
		}`)

		got := BuildDashboard(d, viewer)

		require.NotNil(t, got.TotalInvestment)
		assert.Equal(t, "$10,000", got.TotalInvestment.Display)
		require.NotNil(t, got.Growth)
		assert.Equal(t, "$2,500", got.Growth.Display)
		assert.Equal(t, "January 15, 2023", got.FirstInvestmentDate)
		require.Len(t, got.PaymentHistory, 2)
		assert.Equal(t, "May 1, 2024", got.PaymentHistory[0].Date)
		assert.Equal(t, "$125", got.PaymentHistory[0].Amount.Display)
		assert.Equal(t, []string{"paymentHistory[1].amount"}, got.MissingFields)
	})

	t.Run("recomputed from each payload", func(t *testing.T) {
		first := BuildDashboard(decodeDashboard(t, `{"currentBalance": 100, "nextPaymentAmount": 1}`), viewer)
		second := BuildDashboard(decodeDashboard(t, `{"currentBalance": 200, "nextPaymentAmount": 1}`), viewer)
		assert.Equal(t, "$100", first.CurrentBalance.Display)
		assert.Equal(t, "$200", second.CurrentBalance.Display)
	})
}

func TestFirstName(t *testing.T) {
	tests := []struct {
		name     string
		fullName string
		viewer   Viewer
		want     string
	}{
		{"sheet full name", "Jane Doe", Viewer{DisplayName: "Other Person"}, "Jane"},
		{"display name fallback", "  ", Viewer{DisplayName: "Sam Lee"}, "Sam"},
		{"email local part fallback", "", Viewer{Email: "pat@x.com"}, "pat"},
		{"nothing known", "", Viewer{}, "Investor"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FirstName(tt.fullName, tt.viewer))
		})
	}
}

func TestClassifyTransaction(t *testing.T) {
	entry := func(deposit, withdrawal, interest float64) upstream.LedgerEntry {
		return upstream.LedgerEntry{
			Deposit:    upstream.Some(deposit),
			Withdrawal: upstream.Some(withdrawal),
			Interest:   upstream.Some(interest),
		}
	}
	tests := []struct {
		name  string
		entry upstream.LedgerEntry
		want  string
	}{
		{"deposit wins", entry(5000, 0, 10), TxInvestment},
		{"interest without withdrawal", entry(0, 0, 41.67), TxInterestAccrued},
		{"withdrawal matching interest", entry(0, 41.67, 41.671), TxInterestPayment},
		{"withdrawal above interest", entry(0, 1000, 41.67), TxPrincipalPayment},
		{"no movement", entry(0, 0, 0), TxCalculation},
		{"absent cells", upstream.LedgerEntry{}, TxCalculation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyTransaction(tt.entry))
		})
	}
}

func TestTransactionLabelsOnTheWire(t *testing.T) {
	d := decodeDashboard(t, `{"ledgerData": [
		{"date": "2024-01-01", "deposit": 10000, "withdrawal": 0, "interest": 0},
		{"date": "2024-02-01", "deposit": 0, "withdrawal": 0, "interest": 83.33},
		{"date": "2024-02-01", "deposit": 0, "withdrawal": 83.33, "interest": 83.33},
		{"date": "2024-03-01", "deposit": 0, "withdrawal": 2500, "interest": 0},
		{"date": "2024-03-01", "deposit": 0, "withdrawal": 0, "interest": 0}
	]}`)

	ledger, _ := BuildLedger(d.LedgerData)

	types := make([]string, 0, len(ledger.Rows))
	for _, row := range ledger.Rows {
		types = append(types, row.Type)
	}
	assert.Equal(t, []string{
		"Investment",
		"Interest Accrued",
		"Payment (Interest)",
		"Payment (Principal)",
		"Calculation",
	}, types)
}

func TestBuildLedger(t *testing.T) {
	d := decodeDashboard(t, `{"ledgerData": [
		{"date": "2024-01-01", "openingBalance": 0, "deposit": 10000, "withdrawal": 0, "interest": 0, "endingBalance": 10000},
		{"date": "2024-02-01", "openingBalance": 10000, "deposit": 0, "withdrawal": 0, "interest": 83.33, "endingBalance": 10083.33},
		{"date": "2024-02-01", "openingBalance": 10083.33, "deposit": 0, "withdrawal": 83.33, "interest": 83.33, "endingBalance": 10000},
		{"date": "2024-03-01", "openingBalance": 10000, "deposit": "", "withdrawal": 2500, "interest": 0, "endingBalance": null}
	]}`)

	ledger, missing := BuildLedger(d.LedgerData)

	require.Len(t, ledger.Rows, 4)
	assert.Equal(t, LedgerRow{
		Date:           "Jan 1, 2024",
		Type:           TxInvestment,
		OpeningBalance: "$0.00",
		Deposit:        "$10,000.00",
		Withdrawal:     "-",
		Interest:       "-",
		EndingBalance:  "$10,000.00",
	}, ledger.Rows[0])
	assert.Equal(t, TxInterestAccrued, ledger.Rows[1].Type)
	assert.Equal(t, TxInterestPayment, ledger.Rows[2].Type)
	assert.Equal(t, TxPrincipalPayment, ledger.Rows[3].Type)
	assert.Equal(t, "-", ledger.Rows[3].Deposit)

	assert.Equal(t, "$10,000.00", ledger.TotalDeposits)
	assert.Equal(t, "$2,583.33", ledger.TotalWithdrawals)
	assert.Equal(t, "$166.66", ledger.TotalInterest)
	assert.Equal(t, "$7,500.00", ledger.TotalPrincipal)
	assert.Equal(t, []string{"ledgerData[3].endingBalance"}, missing)
}
