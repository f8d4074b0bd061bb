package models

import "time"

// TransactionReason classifies a credit ledger entry.
type TransactionReason string

const (
	ReasonConsumed  TransactionReason = "consumed"
	ReasonPurchased TransactionReason = "purchased"
	ReasonBonus     TransactionReason = "bonus"
	ReasonRenewal   TransactionReason = "renewal"
	ReasonRefund    TransactionReason = "refund"
)

// Valid reports whether r is one of the known reasons.
func (r TransactionReason) Valid() bool {
	switch r {
	case ReasonConsumed, ReasonPurchased, ReasonBonus, ReasonRenewal, ReasonRefund:
		return true
	}
	return false
}

// CreditTransaction is an append-only audit entry. The profile counters are
// the authoritative fast-path state; the transaction log exists so balances
// can be re-derived and disputes investigated.
type CreditTransaction struct {
	ID        int               `json:"id" db:"id"`
	UserID    string            `json:"user_id" db:"user_id"`
	Delta     int               `json:"delta" db:"delta"`
	Reason    TransactionReason `json:"reason" db:"reason"`
	CreatedAt time.Time         `json:"created_at" db:"created_at"`
}
