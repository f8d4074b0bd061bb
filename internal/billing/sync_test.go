package billing

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stripe/stripe-go/v81"

	"github.com/pridato/reelforge/internal/config"
	"github.com/pridato/reelforge/internal/ledger"
	"github.com/pridato/reelforge/internal/models"
)

func newTestSync(t *testing.T) (*Synchronizer, sqlmock.Sqlmock, *miniredis.Miniredis) {
	mockDB, mock, err := sqlmock.New()
	assert.NoError(t, err)
	db := sqlx.NewDb(mockDB, "sqlmock")

	miniRedis, err := miniredis.Run()
	assert.NoError(t, err)
	redisClient := redis.NewClient(&redis.Options{Addr: miniRedis.Addr()})

	cfg := config.StripeConfig{
		WebhookSecret:   "whsec_test",
		PriceCreator:    "price_creator",
		PricePro:        "price_pro",
		PriceEnterprise: "price_enterprise",
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sync := NewSynchronizer(db, redisClient, ledger.New(db), cfg, logger)
	return sync, mock, miniRedis
}

func makeEvent(id, eventType string, payload interface{}) stripe.Event {
	raw, _ := json.Marshal(payload)
	return stripe.Event{
		ID:   id,
		Type: stripe.EventType(eventType),
		Data: &stripe.EventData{Raw: raw},
	}
}

func expectClaim(mock sqlmock.Sqlmock, eventID, eventType string) {
	mock.ExpectExec(regexp.QuoteMeta(insertEventSQL)).
		WithArgs(eventID, eventType).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func TestCheckoutCompletedActivatesPlan(t *testing.T) {
	sync, mock, miniRedis := newTestSync(t)
	defer miniRedis.Close()

	event := makeEvent("evt_1", "checkout.session.completed", map[string]interface{}{
		"id":                  "cs_1",
		"client_reference_id": "user-1",
		"customer":            map[string]string{"id": "cus_1"},
		"subscription":        map[string]string{"id": "sub_1"},
		"metadata":            map[string]string{"tier": "pro"},
	})

	expectClaim(mock, "evt_1", "checkout.session.completed")
	mock.ExpectExec(regexp.QuoteMeta(applyCheckoutSQL)).
		WithArgs("user-1", models.TierPro, 100, "cus_1", "sub_1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, sync.ProcessEvent(context.Background(), event))
	assert.NoError(t, mock.ExpectationsWereMet())

	// The event id is cached for the fast-path dedup check.
	assert.True(t, miniRedis.Exists(dedupKeyPrefix+"evt_1"))
}

// Replaying the identical event id is a no-op: first via the Redis fast
// path, and via the unique event row when Redis has forgotten it.
func TestEventReplayIsIdempotent(t *testing.T) {
	sync, mock, miniRedis := newTestSync(t)
	defer miniRedis.Close()

	event := makeEvent("evt_2", "invoice.payment_failed", map[string]interface{}{
		"id":       "in_1",
		"customer": map[string]string{"id": "cus_1"},
	})

	expectClaim(mock, "evt_2", "invoice.payment_failed")
	mock.ExpectQuery(regexp.QuoteMeta(userByCustomerSQL)).
		WithArgs("cus_1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("user-1"))
	mock.ExpectExec(regexp.QuoteMeta(setStatusSQL)).
		WithArgs("user-1", models.BillingPastDue).
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, sync.ProcessEvent(context.Background(), event))

	// Redis fast path: no DB expectations registered, none should run.
	assert.NoError(t, sync.ProcessEvent(context.Background(), event))

	// Cold Redis: the dedup table answers instead.
	miniRedis.FlushAll()
	mock.ExpectExec(regexp.QuoteMeta(insertEventSQL)).
		WithArgs("evt_2", "invoice.payment_failed").
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.NoError(t, sync.ProcessEvent(context.Background(), event))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvoicePaidResetsPeriod(t *testing.T) {
	sync, mock, miniRedis := newTestSync(t)
	defer miniRedis.Close()

	periodStart := time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC)
	event := makeEvent("evt_3", "invoice.payment_succeeded", map[string]interface{}{
		"id":           "in_2",
		"customer":     map[string]string{"id": "cus_1"},
		"period_start": periodStart.Unix(),
	})

	expectClaim(mock, "evt_3", "invoice.payment_succeeded")
	mock.ExpectQuery(regexp.QuoteMeta(userByCustomerSQL)).
		WithArgs("cus_1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("user-1"))
	mock.ExpectExec(regexp.QuoteMeta(setStatusSQL)).
		WithArgs("user-1", models.BillingActive).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE profiles SET\s+period_used = 0`).
		WithArgs("user-1", periodStart, models.DefaultPeriodLimit(models.TierFree)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, sync.ProcessEvent(context.Background(), event))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Cancellation keeps tier and limit: only the billing status flips. The
// downgrade to free happens at the next period rollover.
func TestSubscriptionDeletedGracePeriod(t *testing.T) {
	sync, mock, miniRedis := newTestSync(t)
	defer miniRedis.Close()

	event := makeEvent("evt_4", "customer.subscription.deleted", map[string]interface{}{
		"id":       "sub_1",
		"customer": map[string]string{"id": "cus_1"},
	})

	expectClaim(mock, "evt_4", "customer.subscription.deleted")
	mock.ExpectQuery(regexp.QuoteMeta(userByCustomerSQL)).
		WithArgs("cus_1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("user-1"))
	mock.ExpectExec(regexp.QuoteMeta(setStatusSQL)).
		WithArgs("user-1", models.BillingCanceled).
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, sync.ProcessEvent(context.Background(), event))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscriptionUpdatedMapsPriceToTier(t *testing.T) {
	sync, mock, miniRedis := newTestSync(t)
	defer miniRedis.Close()

	event := makeEvent("evt_5", "customer.subscription.updated", map[string]interface{}{
		"id":       "sub_1",
		"customer": map[string]string{"id": "cus_1"},
		"status":   "active",
		"items": map[string]interface{}{
			"data": []map[string]interface{}{
				{"price": map[string]string{"id": "price_creator"}},
			},
		},
	})

	expectClaim(mock, "evt_5", "customer.subscription.updated")
	mock.ExpectQuery(regexp.QuoteMeta(userByCustomerSQL)).
		WithArgs("cus_1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("user-1"))
	mock.ExpectExec(regexp.QuoteMeta(applySubscriptionSQL)).
		WithArgs("user-1", models.TierCreator, models.BillingActive, 30).
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, sync.ProcessEvent(context.Background(), event))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Events referencing a customer we do not know are acknowledged (nil error)
// and left for operator reconciliation, never retried forever.
func TestOrphanedEventAcknowledged(t *testing.T) {
	sync, mock, miniRedis := newTestSync(t)
	defer miniRedis.Close()

	event := makeEvent("evt_6", "invoice.payment_failed", map[string]interface{}{
		"id":       "in_3",
		"customer": map[string]string{"id": "cus_unknown"},
	})

	expectClaim(mock, "evt_6", "invoice.payment_failed")
	mock.ExpectQuery(regexp.QuoteMeta(userByCustomerSQL)).
		WithArgs("cus_unknown").
		WillReturnError(sql.ErrNoRows)

	assert.NoError(t, sync.ProcessEvent(context.Background(), event))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// A failed apply releases the dedup claim so the provider's retry can
// reprocess the event.
func TestFailedApplyReleasesClaim(t *testing.T) {
	sync, mock, miniRedis := newTestSync(t)
	defer miniRedis.Close()

	event := makeEvent("evt_7", "checkout.session.completed", map[string]interface{}{
		"id":                  "cs_2",
		"client_reference_id": "user-1",
		"metadata":            map[string]string{"tier": "platinum"},
	})

	expectClaim(mock, "evt_7", "checkout.session.completed")
	mock.ExpectExec(regexp.QuoteMeta(deleteEventSQL)).
		WithArgs("evt_7").
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.Error(t, sync.ProcessEvent(context.Background(), event))
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.False(t, miniRedis.Exists(dedupKeyPrefix+"evt_7"))
}

func TestUnhandledEventTypeIgnored(t *testing.T) {
	sync, mock, miniRedis := newTestSync(t)
	defer miniRedis.Close()

	event := makeEvent("evt_8", "customer.created", map[string]interface{}{"id": "cus_9"})

	expectClaim(mock, "evt_8", "customer.created")

	assert.NoError(t, sync.ProcessEvent(context.Background(), event))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBillingStatusMapping(t *testing.T) {
	assert.Equal(t, models.BillingActive, billingStatusOf(stripe.SubscriptionStatusActive))
	assert.Equal(t, models.BillingTrialing, billingStatusOf(stripe.SubscriptionStatusTrialing))
	assert.Equal(t, models.BillingPastDue, billingStatusOf(stripe.SubscriptionStatusPastDue))
	assert.Equal(t, models.BillingPastDue, billingStatusOf(stripe.SubscriptionStatusUnpaid))
	assert.Equal(t, models.BillingCanceled, billingStatusOf(stripe.SubscriptionStatusCanceled))
	assert.Equal(t, models.BillingIncomplete, billingStatusOf(stripe.SubscriptionStatusIncomplete))
}
