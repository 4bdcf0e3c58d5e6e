package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Currency represents ISO 4217 currency codes
type Currency string

const (
	USD Currency = "USD" // US Dollar
	ETB Currency = "ETB" // Ethiopian Birr
)

// SupportedCurrencies lists every currency a campaign can track.
var SupportedCurrencies = []Currency{USD, ETB}

func (c Currency) Valid() bool {
	for _, s := range SupportedCurrencies {
		if c == s {
			return true
		}
	}
	return false
}

// ParseCurrency normalizes user input such as "usd".
func ParseCurrency(s string) Currency {
	return Currency(strings.ToUpper(strings.TrimSpace(s)))
}

// Gateway names the payment provider a donation was routed through.
type Gateway string

const (
	GatewayCard        Gateway = "CARD"
	GatewayMobileMoney Gateway = "MOBILE_MONEY"
)

func (g Gateway) Valid() bool {
	return g == GatewayCard || g == GatewayMobileMoney
}

// ParseGateway accepts both the stored form and the URL form ("mobile-money").
func ParseGateway(s string) Gateway {
	return Gateway(strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_")))
}

// Slug is the URL form of the gateway.
func (g Gateway) Slug() string {
	return strings.ToLower(strings.ReplaceAll(string(g), "_", "-"))
}

type DonationStatus string

const (
	DonationStatusPending DonationStatus = "PENDING"
	DonationStatusSuccess DonationStatus = "SUCCESS"
	DonationStatusFailed  DonationStatus = "FAILED"
)

// IsTerminal reports whether no further transition is allowed.
func (s DonationStatus) IsTerminal() bool {
	return s == DonationStatusSuccess || s == DonationStatusFailed
}

// Donation is one attempt to give money through a gateway. It is created
// PENDING and moves to SUCCESS or FAILED at most once.
type Donation struct {
	ID                   uuid.UUID       `json:"id" db:"id"`
	CampaignID           *uuid.UUID      `json:"campaign_id,omitempty" db:"campaign_id"`
	Amount               decimal.Decimal `json:"amount" db:"amount"`
	Currency             Currency        `json:"currency" db:"currency"`
	Gateway              Gateway         `json:"gateway" db:"gateway"`
	TransactionReference string          `json:"transaction_reference" db:"transaction_reference"`
	ProviderReference    *string         `json:"provider_reference,omitempty" db:"provider_reference"`
	Status               DonationStatus  `json:"status" db:"status"`
	DonorName            *string         `json:"donor_name,omitempty" db:"donor_name"`
	DonorEmail           *string         `json:"donor_email,omitempty" db:"donor_email"`
	SettledAt            *time.Time      `json:"settled_at,omitempty" db:"settled_at"`
	CreatedAt            time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at" db:"updated_at"`
}

// Clone returns a copy that shares no pointers with d.
func (d *Donation) Clone() *Donation {
	if d == nil {
		return nil
	}
	c := *d
	if d.CampaignID != nil {
		id := *d.CampaignID
		c.CampaignID = &id
	}
	c.ProviderReference = cloneString(d.ProviderReference)
	c.DonorName = cloneString(d.DonorName)
	c.DonorEmail = cloneString(d.DonorEmail)
	if d.SettledAt != nil {
		t := *d.SettledAt
		c.SettledAt = &t
	}
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

type Campaign struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	Title       string          `json:"title" db:"title"`
	Slug        string          `json:"slug" db:"slug"`
	Description *string         `json:"description,omitempty" db:"description"`
	IsActive    bool            `json:"is_active" db:"is_active"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
	Totals      []CampaignTotal `json:"totals,omitempty" db:"-"`
}

// CampaignTotal is the per-currency goal and raised amount of a campaign.
// Currencies are never converted or summed together.
type CampaignTotal struct {
	CampaignID    uuid.UUID       `json:"-" db:"campaign_id"`
	Currency      Currency        `json:"currency" db:"currency"`
	GoalAmount    decimal.Decimal `json:"goal_amount" db:"goal_amount"`
	CurrentRaised decimal.Decimal `json:"current_raised" db:"current_raised"`
}

// DonationFilter narrows donation listings. GeneralOnly selects donations
// that belong to no campaign.
type DonationFilter struct {
	CampaignID  *uuid.UUID
	GeneralOnly bool
	Status      *DonationStatus
	Limit       int
	Offset      int
}

// DashboardStats summarizes successful giving.
type DashboardStats struct {
	TotalDonations   int64                        `json:"total_donations" db:"total_donations"`
	RaisedByCurrency map[Currency]decimal.Decimal `json:"raised_by_currency"`
	ActiveCampaigns  int64                        `json:"active_campaigns" db:"active_campaigns"`
	RecentDonations  []*Donation                  `json:"recent_donations"`
}
