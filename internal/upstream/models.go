package upstream

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Amount is an optional numeric field. The spreadsheet sends numbers, numeric
// strings ("1,000.50", "$50") or nothing at all; only a value that parsed is Valid.
// A missing or unparseable field is never read as zero.
type Amount struct {
	Value float64
	Valid bool
}

// Some returns a valid Amount.
func Some(v float64) Amount { return Amount{Value: v, Valid: true} }

func (a *Amount) UnmarshalJSON(b []byte) error {
	*a = Amount{}
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}

	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return nil
		}
		if v, ok := parseNumeric(s); ok {
			*a = Some(v)
		}
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var v float64
		if err := json.Unmarshal(b, &v); err == nil && finite(v) {
			*a = Some(v)
		}
	}
	return nil
}

func (a Amount) MarshalJSON() ([]byte, error) {
	if !a.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(a.Value)
}

func parseNumeric(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || !finite(v) {
		return 0, false
	}
	return v, true
}

// finite rejects the NaN and Inf spellings ParseFloat accepts; they cannot be
// encoded as JSON.
func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Text is a string field that tolerates non-string JSON scalars. Dates arrive
// as strings or as serialized spreadsheet values depending on the sheet.
type Text string

func (t *Text) UnmarshalJSON(b []byte) error {
	*t = ""
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = Text(strings.TrimSpace(s))
		return nil
	}
	if b[0] == '{' || b[0] == '[' {
		return nil
	}
	*t = Text(b)
	return nil
}

// Dashboard is the getUserDashboard payload.
type Dashboard struct {
	CurrentBalance      Amount        `json:"currentBalance"`
	NextPaymentAmount   Amount        `json:"nextPaymentAmount"`
	NextPaymentDate     Text          `json:"nextPaymentDate"`
	InvestmentGroupID   Text          `json:"investmentGroupId"`
	LedgerData          []LedgerEntry `json:"ledgerData"`
	FullName            Text          `json:"fullName"`
	TotalInvestment     Amount        `json:"totalInvestment"`
	FirstInvestmentDate Text          `json:"firstInvestmentDate"`
	PaymentHistory      []Payment     `json:"paymentHistory"`
}

// LedgerEntry is one row of the investor ledger.
type LedgerEntry struct {
	Date           Text   `json:"date"`
	OpeningBalance Amount `json:"openingBalance"`
	Deposit        Amount `json:"deposit"`
	Withdrawal     Amount `json:"withdrawal"`
	Interest       Amount `json:"interest"`
	EndingBalance  Amount `json:"endingBalance"`
}

// Payment is one received payment.
type Payment struct {
	Date   Text   `json:"date"`
	Amount Amount `json:"amount"`
}

// GroupDetails is the getGroupDetails payload.
type GroupDetails struct {
	GroupName                Text          `json:"groupName"`
	PartnershipAgreementLink Text          `json:"partnershipAgreementLink"`
	CollateralCoverageRatio  Amount        `json:"collateralCoverageRatio"`
	TotalFunds               Amount        `json:"totalFunds"`
	InvestorMix              []InvestorMix `json:"investorMix"`
	AssociatedAssets         []Asset       `json:"associatedAssets"`
}

// InvestorMix is one investor's share of a group.
type InvestorMix struct {
	Investor       Text   `json:"investor"`
	Percentage     Amount `json:"percentage"`
	CurrentBalance Amount `json:"currentBalance"`
}

// Asset is a property collateralizing a group.
type Asset struct {
	Property   Text   `json:"property"`
	CurrentUPB Amount `json:"currentUPB"`
}

// allowListResponse keeps the verdict optional so a missing field is
// distinguishable from false.
type allowListResponse struct {
	IsAuthorized *bool `json:"isAuthorized"`
}

// envelope checks every response for the explicit error field.
type envelope struct {
	Error json.RawMessage `json:"error"`
}

// errorText returns the upstream error message when the field is present and
// not empty/false/null.
func (e envelope) errorText() (string, bool) {
	raw := bytes.TrimSpace(e.Error)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) || bytes.Equal(raw, []byte("false")) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		return s, s != ""
	}
	return string(raw), true
}
