// Package billing reconciles the profile store with Stripe. Webhook events
// arrive at-least-once; every transition here is idempotent, keyed on the
// provider's event id.
package billing

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"

	"github.com/pridato/reelforge/internal/config"
	"github.com/pridato/reelforge/internal/ledger"
	"github.com/pridato/reelforge/internal/models"
)

// ErrBadSignature means the webhook payload failed verification and must
// not be trusted.
var ErrBadSignature = errors.New("invalid webhook signature")

const (
	insertEventSQL = `INSERT INTO billing_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING`
	deleteEventSQL = `DELETE FROM billing_events WHERE event_id = $1`

	userByCustomerSQL = `SELECT id FROM profiles WHERE stripe_customer_id = $1`

	applyCheckoutSQL = `UPDATE profiles SET
		tier = $2,
		billing_status = 'active',
		period_limit = $3,
		stripe_customer_id = $4,
		stripe_subscription_id = $5
		WHERE id = $1`

	applySubscriptionSQL = `UPDATE profiles SET
		tier = $2,
		billing_status = $3,
		period_limit = $4
		WHERE id = $1`

	setStatusSQL = `UPDATE profiles SET billing_status = $2 WHERE id = $1`

	// Redis fast path in front of the durable dedup table.
	dedupKeyPrefix = "billing:event:"
	dedupTTL       = 24 * time.Hour
)

// Synchronizer consumes billing-provider events and keeps profile tier,
// limit and status fields in agreement with Stripe.
type Synchronizer struct {
	db     *sqlx.DB
	redis  *redis.Client
	ledger *ledger.Ledger
	cfg    config.StripeConfig
	logger *slog.Logger
}

func NewSynchronizer(db *sqlx.DB, redisClient *redis.Client, lg *ledger.Ledger, cfg config.StripeConfig, logger *slog.Logger) *Synchronizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synchronizer{db: db, redis: redisClient, ledger: lg, cfg: cfg, logger: logger}
}

// HandleWebhook verifies the payload signature and processes the event.
func (s *Synchronizer) HandleWebhook(ctx context.Context, payload []byte, sigHeader string) error {
	event, err := webhook.ConstructEvent(payload, sigHeader, s.cfg.WebhookSecret)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return s.ProcessEvent(ctx, event)
}

// ProcessEvent applies one billing event. Replays (same event id) are
// no-ops; an event that fails to apply is released for the provider's
// retry, an event referencing an unknown customer is acknowledged and
// surfaced through logs and metrics only.
func (s *Synchronizer) ProcessEvent(ctx context.Context, event stripe.Event) error {
	fresh, err := s.claimEvent(ctx, event)
	if err != nil {
		return err
	}
	if !fresh {
		duplicateEventsTotal.Inc()
		s.logger.Info("Skipping replayed billing event", "event_id", event.ID, "type", event.Type)
		return nil
	}

	if err := s.applyEvent(ctx, event); err != nil {
		// Release the claim so the provider's retry can reprocess.
		if _, derr := s.db.ExecContext(ctx, deleteEventSQL, event.ID); derr != nil {
			s.logger.Error("Failed to release billing event claim", "event_id", event.ID, "error", derr)
		}
		s.redis.Del(ctx, dedupKeyPrefix+event.ID)
		return err
	}

	processedEventsTotal.WithLabelValues(string(event.Type)).Inc()
	return nil
}

func (s *Synchronizer) claimEvent(ctx context.Context, event stripe.Event) (bool, error) {
	// Redis answers replays without a DB round trip; the table is the
	// durable authority when the key has expired or Redis is cold.
	if exists, err := s.redis.Exists(ctx, dedupKeyPrefix+event.ID).Result(); err == nil && exists > 0 {
		return false, nil
	}

	res, err := s.db.ExecContext(ctx, insertEventSQL, event.ID, string(event.Type))
	if err != nil {
		return false, fmt.Errorf("failed to record billing event: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return false, nil
	}
	if err := s.redis.Set(ctx, dedupKeyPrefix+event.ID, "1", dedupTTL).Err(); err != nil {
		s.logger.Warn("Failed to cache billing event id", "event_id", event.ID, "error", err)
	}
	return true, nil
}

func (s *Synchronizer) applyEvent(ctx context.Context, event stripe.Event) error {
	switch event.Type {
	case "checkout.session.completed":
		return s.onCheckoutCompleted(ctx, event)
	case "customer.subscription.updated":
		return s.onSubscriptionUpdated(ctx, event)
	case "customer.subscription.deleted":
		return s.onSubscriptionDeleted(ctx, event)
	case "invoice.payment_succeeded":
		return s.onInvoicePaid(ctx, event)
	case "invoice.payment_failed":
		return s.onInvoiceFailed(ctx, event)
	default:
		s.logger.Debug("Ignoring billing event", "type", event.Type)
		return nil
	}
}

// onCheckoutCompleted activates a new subscription: tier from the checkout
// metadata, limit from the tier catalog. period_used is deliberately left
// alone so a mid-period plan change does not erase usage history.
func (s *Synchronizer) onCheckoutCompleted(ctx context.Context, event stripe.Event) error {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return fmt.Errorf("failed to decode checkout session: %w", err)
	}

	userID := sess.ClientReferenceID
	if userID == "" {
		s.orphaned(event, "checkout session without client reference")
		return nil
	}

	tier := models.Tier(sess.Metadata["tier"])
	if !tier.Valid() {
		return fmt.Errorf("checkout session %s carries unknown tier %q", sess.ID, sess.Metadata["tier"])
	}

	var customerID, subscriptionID string
	if sess.Customer != nil {
		customerID = sess.Customer.ID
	}
	if sess.Subscription != nil {
		subscriptionID = sess.Subscription.ID
	}

	res, err := s.db.ExecContext(ctx, applyCheckoutSQL,
		userID, tier, models.DefaultPeriodLimit(tier), customerID, subscriptionID)
	if err != nil {
		return fmt.Errorf("failed to apply checkout: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		s.orphaned(event, "checkout references unknown user "+userID)
		return nil
	}

	s.logger.Info("Subscription activated", "user_id", userID, "tier", tier)
	return nil
}

func (s *Synchronizer) onSubscriptionUpdated(ctx context.Context, event stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("failed to decode subscription: %w", err)
	}
	if sub.Customer == nil {
		s.orphaned(event, "subscription without customer")
		return nil
	}

	userID, err := s.userByCustomer(ctx, sub.Customer.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.orphaned(event, "unknown customer "+sub.Customer.ID)
			return nil
		}
		return err
	}

	tier, ok := s.tierForSubscription(&sub)
	if !ok {
		return fmt.Errorf("subscription %s carries no known price", sub.ID)
	}

	status := billingStatusOf(sub.Status)
	if _, err := s.db.ExecContext(ctx, applySubscriptionSQL,
		userID, tier, status, models.DefaultPeriodLimit(tier)); err != nil {
		return fmt.Errorf("failed to apply subscription update: %w", err)
	}

	s.logger.Info("Subscription updated", "user_id", userID, "tier", tier, "status", status)
	return nil
}

// onSubscriptionDeleted only flips the billing status. The tier and limit
// survive until the next period rollover, where the ledger downgrades
// canceled accounts to the free plan.
func (s *Synchronizer) onSubscriptionDeleted(ctx context.Context, event stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("failed to decode subscription: %w", err)
	}
	if sub.Customer == nil {
		s.orphaned(event, "subscription without customer")
		return nil
	}

	userID, err := s.userByCustomer(ctx, sub.Customer.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.orphaned(event, "unknown customer "+sub.Customer.ID)
			return nil
		}
		return err
	}

	if _, err := s.db.ExecContext(ctx, setStatusSQL, userID, models.BillingCanceled); err != nil {
		return fmt.Errorf("failed to mark subscription canceled: %w", err)
	}

	s.logger.Info("Subscription canceled, access kept until period end", "user_id", userID)
	return nil
}

// onInvoicePaid marks the account active and opens the new billing period.
// ResetPeriod is keyed on the invoice period start, so a replay of the same
// invoice event cannot reset twice.
func (s *Synchronizer) onInvoicePaid(ctx context.Context, event stripe.Event) error {
	var inv stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return fmt.Errorf("failed to decode invoice: %w", err)
	}
	if inv.Customer == nil {
		s.orphaned(event, "invoice without customer")
		return nil
	}

	userID, err := s.userByCustomer(ctx, inv.Customer.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.orphaned(event, "unknown customer "+inv.Customer.ID)
			return nil
		}
		return err
	}

	if _, err := s.db.ExecContext(ctx, setStatusSQL, userID, models.BillingActive); err != nil {
		return fmt.Errorf("failed to mark account active: %w", err)
	}

	periodStart := time.Unix(inv.PeriodStart, 0).UTC()
	applied, err := s.ledger.ResetPeriod(ctx, userID, periodStart)
	if err != nil {
		return err
	}

	s.logger.Info("Invoice paid", "user_id", userID, "period_start", periodStart, "reset_applied", applied)
	return nil
}

// onInvoiceFailed moves the account to past_due without touching tier or
// limit: remaining balance stays usable during the grace period.
func (s *Synchronizer) onInvoiceFailed(ctx context.Context, event stripe.Event) error {
	var inv stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return fmt.Errorf("failed to decode invoice: %w", err)
	}
	if inv.Customer == nil {
		s.orphaned(event, "invoice without customer")
		return nil
	}

	userID, err := s.userByCustomer(ctx, inv.Customer.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.orphaned(event, "unknown customer "+inv.Customer.ID)
			return nil
		}
		return err
	}

	if _, err := s.db.ExecContext(ctx, setStatusSQL, userID, models.BillingPastDue); err != nil {
		return fmt.Errorf("failed to mark account past due: %w", err)
	}

	s.logger.Warn("Invoice payment failed, account past due", "user_id", userID)
	return nil
}

func (s *Synchronizer) userByCustomer(ctx context.Context, customerID string) (string, error) {
	var userID string
	if err := s.db.GetContext(ctx, &userID, userByCustomerSQL, customerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", err
		}
		return "", fmt.Errorf("failed to look up customer %s: %w", customerID, err)
	}
	return userID, nil
}

// orphaned records a billing event that cannot be mapped to an account. The
// event is acknowledged to the provider; a human reconciles from the logs.
func (s *Synchronizer) orphaned(event stripe.Event, detail string) {
	orphanedEventsTotal.Inc()
	s.logger.Warn("Orphaned billing event", "event_id", event.ID, "type", event.Type, "detail", detail)
}

func (s *Synchronizer) tierForSubscription(sub *stripe.Subscription) (models.Tier, bool) {
	if sub.Items == nil {
		return "", false
	}
	for _, item := range sub.Items.Data {
		if item.Price == nil {
			continue
		}
		switch item.Price.ID {
		case s.cfg.PriceCreator:
			return models.TierCreator, true
		case s.cfg.PricePro:
			return models.TierPro, true
		case s.cfg.PriceEnterprise:
			return models.TierEnterprise, true
		}
	}
	return "", false
}

func billingStatusOf(status stripe.SubscriptionStatus) models.BillingStatus {
	switch status {
	case stripe.SubscriptionStatusActive:
		return models.BillingActive
	case stripe.SubscriptionStatusTrialing:
		return models.BillingTrialing
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid:
		return models.BillingPastDue
	case stripe.SubscriptionStatusCanceled:
		return models.BillingCanceled
	default:
		return models.BillingIncomplete
	}
}
