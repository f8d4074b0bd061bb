package models

// Tier is a named subscription level. Tiers are strictly ordered; every
// grant made to a lower tier is also made to the tiers above it.
type Tier string

const (
	TierFree       Tier = "free"
	TierCreator    Tier = "creator"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// UnlimitedLimit is the period_limit sentinel meaning "no cap".
const UnlimitedLimit = -1

// tierRank orders tiers for comparisons. Unknown tiers rank below free.
var tierRank = map[Tier]int{
	TierFree:       1,
	TierCreator:    2,
	TierPro:        3,
	TierEnterprise: 4,
}

// Rank returns the ordering position of the tier, 0 for unknown tiers.
func (t Tier) Rank() int {
	return tierRank[t]
}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	_, ok := tierRank[t]
	return ok
}

// AtLeast reports whether t grants everything min does.
func (t Tier) AtLeast(min Tier) bool {
	return t.Valid() && t.Rank() >= min.Rank()
}

// AllTiers lists known tiers from lowest to highest.
func AllTiers() []Tier {
	return []Tier{TierFree, TierCreator, TierPro, TierEnterprise}
}

// DefaultPeriodLimit is the monthly video allowance per tier. Enterprise is
// uncapped. Unknown tiers get the free allowance (fail restrictive).
func DefaultPeriodLimit(t Tier) int {
	switch t {
	case TierCreator:
		return 30
	case TierPro:
		return 100
	case TierEnterprise:
		return UnlimitedLimit
	default:
		return 5
	}
}

// BillingStatus mirrors the provider's subscription state for an account.
type BillingStatus string

const (
	BillingActive     BillingStatus = "active"
	BillingTrialing   BillingStatus = "trialing"
	BillingPastDue    BillingStatus = "past_due"
	BillingCanceled   BillingStatus = "canceled"
	BillingIncomplete BillingStatus = "incomplete"
)
