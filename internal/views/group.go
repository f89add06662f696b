package views

import (
	"strings"

	"portal/internal/upstream"
	id "portal/pkg/domain"
)

// Group is the investment group detail screen.
type Group struct {
	Screen                  string          `json:"screen"`
	GroupID                 string          `json:"group_id"`
	GroupName               string          `json:"group_name"`
	AgreementLink           string          `json:"partnership_agreement_link,omitempty"`
	AgreementPath           string          `json:"agreement_path"`
	CollateralCoverageRatio string          `json:"collateral_coverage_ratio"`
	TotalFunds              Money           `json:"total_funds"`
	TotalUPB                Money           `json:"total_upb"`
	InvestorMix             []InvestorShare `json:"investor_mix"`
	Assets                  []AssetRow      `json:"associated_assets"`
	Incomplete              bool            `json:"incomplete"`
	MissingFields           []string        `json:"missing_fields,omitempty"`
}

// InvestorShare is one row of the investor mix.
type InvestorShare struct {
	Investor       string `json:"investor"`
	Percentage     string `json:"percentage"`
	CurrentBalance Money  `json:"current_balance"`
	IsCurrentUser  bool   `json:"is_current_user"`
}

// AssetRow is one property collateralizing the group.
type AssetRow struct {
	Property   string `json:"property"`
	CurrentUPB Money  `json:"current_upb"`
}

// BuildGroup derives the group screen from one getGroupDetails payload.
func BuildGroup(groupID id.GroupID, g *upstream.GroupDetails, viewer Viewer) *Group {
	var missing []string
	out := &Group{
		Screen:                  "group",
		GroupID:                 groupID.String(),
		GroupName:               string(g.GroupName),
		AgreementLink:           string(g.PartnershipAgreementLink),
		AgreementPath:           "/group/" + groupID.String() + "/agreement",
		CollateralCoverageRatio: percentOrNA(g.CollateralCoverageRatio),
		TotalFunds:              wholeDollars(g.TotalFunds),
		InvestorMix:             make([]InvestorShare, 0, len(g.InvestorMix)),
		Assets:                  make([]AssetRow, 0, len(g.AssociatedAssets)),
	}
	if !g.TotalFunds.Valid {
		missing = append(missing, "totalFunds")
	}

	for i, inv := range g.InvestorMix {
		if !inv.CurrentBalance.Valid {
			missing = append(missing, fieldAt("investorMix", i, "currentBalance"))
		}
		out.InvestorMix = append(out.InvestorMix, InvestorShare{
			Investor:       string(inv.Investor),
			Percentage:     percentOrNA(inv.Percentage),
			CurrentBalance: wholeDollars(inv.CurrentBalance),
			IsCurrentUser:  IsCurrentUser(string(inv.Investor), viewer),
		})
	}

	upbKnown := true
	for i, a := range g.AssociatedAssets {
		if !a.CurrentUPB.Valid {
			upbKnown = false
			missing = append(missing, fieldAt("associatedAssets", i, "currentUPB"))
		}
		out.Assets = append(out.Assets, AssetRow{
			Property:   string(a.Property),
			CurrentUPB: wholeDollars(a.CurrentUPB),
		})
	}
	total := upstream.Some(TotalUPB(g.AssociatedAssets))
	if !upbKnown {
		total.Valid = false
	}
	out.TotalUPB = wholeDollars(total)

	out.MissingFields = missing
	out.Incomplete = len(missing) > 0
	return out
}

// TotalUPB sums the unpaid principal balance of every asset that reported one.
func TotalUPB(assets []upstream.Asset) float64 {
	var sum float64
	for _, a := range assets {
		if a.CurrentUPB.Valid {
			sum += a.CurrentUPB.Value
		}
	}
	return sum
}

// IsCurrentUser matches an investor-mix name against the viewer's provider
// display name or sheet name, ignoring case and surrounding space.
func IsCurrentUser(investor string, viewer Viewer) bool {
	investor = strings.TrimSpace(investor)
	if investor == "" {
		return false
	}
	for _, name := range []string{viewer.DisplayName, viewer.SheetName} {
		if name = strings.TrimSpace(name); name != "" && strings.EqualFold(investor, name) {
			return true
		}
	}
	return false
}

func percentOrNA(a upstream.Amount) string {
	if !a.Valid {
		return notAvailable
	}
	return FormatPercent(a.Value)
}
