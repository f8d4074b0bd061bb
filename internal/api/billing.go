package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/pridato/reelforge/internal/billing"
	"github.com/pridato/reelforge/internal/models"
)

// handleStripeWebhook is the intake for billing-provider events. The
// synchronizer acknowledges orphans itself; only signature failures and
// infrastructure errors surface here.
func (s *Server) handleStripeWebhook(c *fiber.Ctx) error {
	err := s.sync.HandleWebhook(c.Context(), c.Body(), c.Get("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, billing.ErrBadSignature) {
			s.logger.Warn("Rejected webhook with bad signature")
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid signature"})
		}
		s.logger.Error("Webhook processing failed", "error", err)
		// Non-2xx makes the provider redeliver.
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Processing failed"})
	}
	return c.JSON(fiber.Map{"received": true})
}

type CheckoutRequest struct {
	Tier string `json:"tier"`
}

func (s *Server) handleCreateCheckout(c *fiber.Ctx) error {
	uid, err := userID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
	}

	var req CheckoutRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	tier := models.Tier(req.Tier)
	if !tier.Valid() || tier == models.TierFree {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid plan"})
	}

	url, err := s.checkout.CreateCheckoutSession(uid, tier)
	if err != nil {
		s.logger.Error("Failed to create checkout session", "user_id", uid, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to start checkout"})
	}

	return c.JSON(fiber.Map{"url": url})
}

func (s *Server) handleCreatePortal(c *fiber.Ctx) error {
	uid, err := userID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
	}

	profile, err := s.ledger.GetProfile(c.Context(), uid)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Profile not found"})
	}
	if !profile.StripeCustomerID.Valid || profile.StripeCustomerID.String == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "No billing relationship yet"})
	}

	url, err := s.checkout.CreatePortalSession(profile.StripeCustomerID.String)
	if err != nil {
		s.logger.Error("Failed to create portal session", "user_id", uid, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to open billing portal"})
	}

	return c.JSON(fiber.Map{"url": url})
}
