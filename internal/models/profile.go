package models

import (
	"database/sql"
	"time"
)

// Profile is the account record the ledger and synchronizer operate on.
// One row per user; the ID matches auth.users.id in Supabase.
type Profile struct {
	ID                   string         `json:"id" db:"id"`
	Tier                 Tier           `json:"tier" db:"tier"`
	BillingStatus        BillingStatus  `json:"billing_status" db:"billing_status"`
	PeriodUsed           int            `json:"period_used" db:"period_used"`
	PeriodLimit          int            `json:"period_limit" db:"period_limit"` // -1 = unlimited
	BonusRemaining       int            `json:"bonus_remaining" db:"bonus_remaining"`
	LifetimeCreated      int            `json:"lifetime_created" db:"lifetime_created"`
	PeriodStart          time.Time      `json:"period_start" db:"period_start"`
	StripeCustomerID     sql.NullString `json:"-" db:"stripe_customer_id"`
	StripeSubscriptionID sql.NullString `json:"-" db:"stripe_subscription_id"`
	LastActionAt         sql.NullTime   `json:"last_action_at" db:"last_action_at"`
	CreatedAt            time.Time      `json:"created_at" db:"created_at"`
}

// Unlimited reports whether the profile has no period cap.
func (p *Profile) Unlimited() bool {
	return p.PeriodLimit == UnlimitedLimit
}
