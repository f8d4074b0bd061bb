// Package ledger is the component of record for usage counters and balance
// arithmetic. All writes to profile counters go through here or the billing
// synchronizer; nothing else touches period_used, period_limit or tier.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/pridato/reelforge/internal/models"
)

// ErrProfileNotFound is returned for operations against a user with no
// profile row. Callers holding an authenticated user id should recover by
// calling EnsureProfile once and retrying.
var ErrProfileNotFound = errors.New("profile not found")

// Balance is the read-side view of an account's entitlement state.
type Balance struct {
	UserID     string      `json:"user_id"`
	Tier       models.Tier `json:"tier"`
	Used       int         `json:"used"`
	Limit      int         `json:"limit"`
	Bonus      int         `json:"bonus"`
	Remaining  int         `json:"remaining"` // -1 when unlimited
	Unlimited  bool        `json:"unlimited"`
	CanConsume bool        `json:"can_consume"`
}

// ConsumeResult is the outcome of AuthorizeAndConsume. OK=false means
// insufficient balance; it is routine control flow, not an error.
// DrainedBonus records which pool the unit came from so a refund can
// restore exactly that pool.
type ConsumeResult struct {
	OK             bool `json:"ok"`
	RemainingAfter int  `json:"remaining_after"` // -1 when unlimited
	DrainedBonus   bool `json:"-"`
}

// Consumption drains the period allowance first, then the bonus balance.
// The prior CTE locks the row and snapshots its pre-update values, so both
// CASE arms and the drained_bonus flag are computed against the same state
// the WHERE clause authorized. RowsAffected == 0 means no balance left.
const consumeSQL = `WITH prior AS (
	SELECT id, period_used, period_limit, bonus_remaining FROM profiles WHERE id = $1 FOR UPDATE
)
	UPDATE profiles p SET
	period_used = p.period_used + (CASE WHEN prior.period_limit < 0 OR prior.period_used < prior.period_limit THEN 1 ELSE 0 END),
	bonus_remaining = p.bonus_remaining - (CASE WHEN prior.period_limit >= 0 AND prior.period_used >= prior.period_limit THEN 1 ELSE 0 END),
	lifetime_created = p.lifetime_created + 1,
	last_action_at = $2
	FROM prior
	WHERE p.id = prior.id AND (prior.period_limit < 0 OR prior.period_used < prior.period_limit OR prior.bonus_remaining > 0)
	RETURNING p.period_used, p.period_limit, p.bonus_remaining,
	(prior.period_limit >= 0 AND prior.period_used >= prior.period_limit) AS drained_bonus`

// Refunds restore the exact pool the consumed unit came from; the caller
// carries that fact forward from ConsumeResult.DrainedBonus.
const refundPeriodSQL = `UPDATE profiles SET
	period_used = period_used - 1,
	lifetime_created = lifetime_created - 1
	WHERE id = $1 AND period_used > 0 AND lifetime_created > 0`

const refundBonusSQL = `UPDATE profiles SET
	bonus_remaining = bonus_remaining + 1,
	lifetime_created = lifetime_created - 1
	WHERE id = $1 AND lifetime_created > 0`

const grantSQL = `UPDATE profiles SET bonus_remaining = bonus_remaining + $2 WHERE id = $1`

const setLimitSQL = `UPDATE profiles SET period_limit = $2 WHERE id = $1`

// Rollover is keyed on period_start so replays within the same period match
// zero rows. Accounts whose subscription was canceled are downgraded to the
// free plan here, at the period boundary, never mid-period.
const resetPeriodSQL = `UPDATE profiles SET
	period_used = 0,
	period_start = $2,
	tier = CASE WHEN billing_status = 'canceled' THEN 'free' ELSE tier END,
	period_limit = CASE WHEN billing_status = 'canceled' THEN $3 ELSE period_limit END
	WHERE id = $1 AND period_start < $2`

// Lazy monthly rollover applies only to accounts not on a paid billing
// cycle; subscribers are reset by invoice.payment_succeeded instead.
const lazyRolloverSQL = `UPDATE profiles SET
	period_used = 0,
	period_start = $2,
	tier = CASE WHEN billing_status = 'canceled' THEN 'free' ELSE tier END,
	period_limit = CASE WHEN billing_status = 'canceled' THEN $3 ELSE period_limit END
	WHERE id = $1 AND period_start < $2
	AND (stripe_subscription_id IS NULL OR billing_status = 'canceled')`

const insertProfileSQL = `INSERT INTO profiles (id, tier, period_limit, period_start)
	VALUES ($1, 'free', $2, $3) ON CONFLICT (id) DO NOTHING`

const selectProfileSQL = `SELECT * FROM profiles WHERE id = $1`

const insertTransactionSQL = `INSERT INTO credit_transactions (user_id, delta, reason) VALUES ($1, $2, $3)`

// Ledger performs all balance reads and writes against the profile store.
type Ledger struct {
	db  *sqlx.DB
	now func() time.Time
}

func New(db *sqlx.DB) *Ledger {
	return &Ledger{db: db, now: time.Now}
}

// WithClock overrides the ledger clock; tests use it to pin period
// boundaries.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// currentPeriodStart truncates to the first of the month, UTC. Free-plan
// periods are calendar months; paid periods follow the provider's invoices.
func (l *Ledger) currentPeriodStart() time.Time {
	t := l.now().UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// EnsureProfile creates the free-tier profile row for a first-time user.
// The conflict clause makes creation exactly-once under concurrent logins.
func (l *Ledger) EnsureProfile(ctx context.Context, userID string) (*models.Profile, error) {
	if _, err := l.db.ExecContext(ctx, insertProfileSQL,
		userID, models.DefaultPeriodLimit(models.TierFree), l.currentPeriodStart()); err != nil {
		return nil, fmt.Errorf("failed to create profile: %w", err)
	}
	return l.GetProfile(ctx, userID)
}

// GetProfile reads the profile row.
func (l *Ledger) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	var p models.Profile
	if err := l.db.GetContext(ctx, &p, selectProfileSQL, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}
	return &p, nil
}

// GetBalance returns the account's balance view, applying any due lazy
// period rollover first.
func (l *Ledger) GetBalance(ctx context.Context, userID string) (*Balance, error) {
	if err := l.RolloverIfDue(ctx, userID); err != nil {
		return nil, err
	}
	p, err := l.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	return balanceOf(p), nil
}

func balanceOf(p *models.Profile) *Balance {
	b := &Balance{
		UserID: p.ID,
		Tier:   p.Tier,
		Used:   p.PeriodUsed,
		Limit:  p.PeriodLimit,
		Bonus:  p.BonusRemaining,
	}
	if p.Unlimited() {
		b.Unlimited = true
		b.Remaining = models.UnlimitedLimit
		b.CanConsume = true
		return b
	}
	remaining := p.PeriodLimit - p.PeriodUsed
	if remaining < 0 {
		remaining = 0
	}
	b.Remaining = remaining + p.BonusRemaining
	b.CanConsume = b.Remaining > 0
	return b
}

// AuthorizeAndConsume atomically takes one unit of balance. Two concurrent
// calls for the same user cannot both take the last unit: the conditional
// update serializes on the row, not on application state.
func (l *Ledger) AuthorizeAndConsume(ctx context.Context, userID string) (*ConsumeResult, error) {
	if err := l.RolloverIfDue(ctx, userID); err != nil {
		return nil, err
	}

	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin consume: %w", err)
	}
	defer tx.Rollback()

	var used, limit, bonus int
	var drainedBonus bool
	err = tx.QueryRowContext(ctx, consumeSQL, userID, l.now().UTC()).Scan(&used, &limit, &bonus, &drainedBonus)
	if errors.Is(err, sql.ErrNoRows) {
		// Either the profile is missing or the balance is exhausted;
		// tell them apart so the caller can show the right prompt.
		if _, perr := l.GetProfile(ctx, userID); perr != nil {
			return nil, perr
		}
		denialsTotal.WithLabelValues("insufficient_credits").Inc()
		return &ConsumeResult{OK: false, RemainingAfter: 0}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume credit: %w", err)
	}

	if _, err := tx.ExecContext(ctx, insertTransactionSQL, userID, -1, models.ReasonConsumed); err != nil {
		return nil, fmt.Errorf("failed to record consumption: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit consume: %w", err)
	}

	consumptionsTotal.Inc()
	res := &ConsumeResult{OK: true, DrainedBonus: drainedBonus}
	if limit == models.UnlimitedLimit {
		res.RemainingAfter = models.UnlimitedLimit
		return res, nil
	}
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	res.RemainingAfter = remaining + bonus
	return res, nil
}

// Grant adds amount bonus credits on top of the period allowance. Tier
// limits are fixed per plan, so purchased and bonus credits live in a
// separate balance and never mutate period_limit.
func (l *Ledger) Grant(ctx context.Context, userID string, amount int, reason models.TransactionReason) (*Balance, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("grant amount must be positive, got %d", amount)
	}
	switch reason {
	case models.ReasonPurchased, models.ReasonBonus, models.ReasonRenewal:
	default:
		return nil, fmt.Errorf("invalid grant reason %q", reason)
	}

	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin grant: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, grantSQL, userID, amount)
	if err != nil {
		return nil, fmt.Errorf("failed to grant credits: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrProfileNotFound
	}
	if _, err := tx.ExecContext(ctx, insertTransactionSQL, userID, amount, reason); err != nil {
		return nil, fmt.Errorf("failed to record grant: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit grant: %w", err)
	}

	grantsTotal.WithLabelValues(string(reason)).Inc()
	return l.GetBalance(ctx, userID)
}

// Refund reverses one prior consumption after a synchronous dispatch
// failure, restoring lifetime_created and the pool the unit was drained
// from (fromBonus mirrors ConsumeResult.DrainedBonus) to their pre-consume
// values.
func (l *Ledger) Refund(ctx context.Context, userID string, fromBonus bool) error {
	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin refund: %w", err)
	}
	defer tx.Rollback()

	stmt := refundPeriodSQL
	if fromBonus {
		stmt = refundBonusSQL
	}
	res, err := tx.ExecContext(ctx, stmt, userID)
	if err != nil {
		return fmt.Errorf("failed to refund credit: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("nothing to refund for user %s", userID)
	}
	if _, err := tx.ExecContext(ctx, insertTransactionSQL, userID, 1, models.ReasonRefund); err != nil {
		return fmt.Errorf("failed to record refund: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit refund: %w", err)
	}

	refundsTotal.Inc()
	return nil
}

// SetPeriodLimit overwrites the period allowance on a tier change. It never
// touches period_used: if the new limit is below current usage the account
// simply cannot consume until the next rollover.
func (l *Ledger) SetPeriodLimit(ctx context.Context, userID string, newLimit int) error {
	res, err := l.db.ExecContext(ctx, setLimitSQL, userID, newLimit)
	if err != nil {
		return fmt.Errorf("failed to set period limit: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrProfileNotFound
	}
	return nil
}

// ResetPeriod zeroes period_used for a new billing period starting at
// newStart. Replaying the same period start is a no-op.
func (l *Ledger) ResetPeriod(ctx context.Context, userID string, newStart time.Time) (bool, error) {
	res, err := l.db.ExecContext(ctx, resetPeriodSQL,
		userID, newStart.UTC(), models.DefaultPeriodLimit(models.TierFree))
	if err != nil {
		return false, fmt.Errorf("failed to reset period: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// RolloverIfDue applies the lazy monthly rollover when the account's stored
// period predates the current one. Idempotent; callers that read tier or
// limit before acting must run it first so they see post-rollover state.
func (l *Ledger) RolloverIfDue(ctx context.Context, userID string) error {
	_, err := l.db.ExecContext(ctx, lazyRolloverSQL,
		userID, l.currentPeriodStart(), models.DefaultPeriodLimit(models.TierFree))
	if err != nil {
		return fmt.Errorf("failed to roll over period: %w", err)
	}
	return nil
}

// Transactions returns the most recent ledger entries for an account.
func (l *Ledger) Transactions(ctx context.Context, userID string, limit int) ([]models.CreditTransaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var txs []models.CreditTransaction
	err := l.db.SelectContext(ctx, &txs,
		`SELECT * FROM credit_transactions WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return txs, nil
}
