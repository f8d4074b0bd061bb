package billing

import (
	"fmt"

	"github.com/stripe/stripe-go/v81"
	portalsession "github.com/stripe/stripe-go/v81/billingportal/session"
	"github.com/stripe/stripe-go/v81/checkout/session"

	"github.com/pridato/reelforge/internal/config"
	"github.com/pridato/reelforge/internal/models"
)

// Checkout creates Stripe checkout and billing-portal sessions. It holds no
// state of its own; both calls are pass-throughs returning a redirect URL.
type Checkout struct {
	cfg config.StripeConfig
}

func NewCheckout(cfg config.StripeConfig) *Checkout {
	stripe.Key = cfg.SecretKey
	return &Checkout{cfg: cfg}
}

func (c *Checkout) priceForTier(tier models.Tier) (string, error) {
	switch tier {
	case models.TierCreator:
		return c.cfg.PriceCreator, nil
	case models.TierPro:
		return c.cfg.PricePro, nil
	case models.TierEnterprise:
		return c.cfg.PriceEnterprise, nil
	}
	return "", fmt.Errorf("no purchasable plan for tier %q", tier)
}

// CreateCheckoutSession starts a subscription checkout for the given plan.
// The user id rides along as the client reference and the tier as metadata;
// the synchronizer reads both back from checkout.session.completed.
func (c *Checkout) CreateCheckoutSession(userID string, tier models.Tier) (string, error) {
	price, err := c.priceForTier(tier)
	if err != nil {
		return "", err
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		ClientReferenceID: stripe.String(userID),
		SuccessURL:        stripe.String(c.cfg.SuccessURL),
		CancelURL:         stripe.String(c.cfg.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(price),
				Quantity: stripe.Int64(1),
			},
		},
	}
	params.AddMetadata("tier", string(tier))

	sess, err := session.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create checkout session: %w", err)
	}
	return sess.URL, nil
}

// CreatePortalSession opens the provider-hosted billing portal for an
// existing customer.
func (c *Checkout) CreatePortalSession(customerID string) (string, error) {
	if customerID == "" {
		return "", fmt.Errorf("no billing relationship for this account")
	}

	sess, err := portalsession.New(&stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(c.cfg.PortalReturnURL),
	})
	if err != nil {
		return "", fmt.Errorf("failed to create portal session: %w", err)
	}
	return sess.URL, nil
}
