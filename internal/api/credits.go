package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/pridato/reelforge/internal/ledger"
	"github.com/pridato/reelforge/internal/models"
)

func (s *Server) handleGetBalance(c *fiber.Ctx) error {
	uid, err := userID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
	}

	balance, err := s.ledger.GetBalance(c.Context(), uid)
	if errors.Is(err, ledger.ErrProfileNotFound) {
		// Authenticated user without a profile row: create once, retry.
		if _, err := s.ledger.EnsureProfile(c.Context(), uid); err != nil {
			s.logger.Error("Failed to auto-create profile", "user_id", uid, "error", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to load balance"})
		}
		balance, err = s.ledger.GetBalance(c.Context(), uid)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to load balance"})
		}
	} else if err != nil {
		s.logger.Error("Failed to load balance", "user_id", uid, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to load balance"})
	}

	return c.JSON(fiber.Map{"balance": balance})
}

func (s *Server) handleListTransactions(c *fiber.Ctx) error {
	uid, err := userID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
	}

	txs, err := s.ledger.Transactions(c.Context(), uid, c.QueryInt("limit", 50))
	if err != nil {
		s.logger.Error("Failed to list transactions", "user_id", uid, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to list transactions"})
	}

	return c.JSON(fiber.Map{"transactions": txs})
}

type GrantRequest struct {
	UserID string `json:"user_id"`
	Amount int    `json:"amount"`
	Reason string `json:"reason"`
	// Pool selects which balance a refund restores: "period" (default) or
	// "bonus". Ignored for other reasons.
	Pool string `json:"pool,omitempty"`
}

// handleGrant serves admin and purchase-confirmation callers. reason=refund
// reverses a single consumption; everything else adds bonus credits.
func (s *Server) handleGrant(c *fiber.Ctx) error {
	if !isAdmin(c) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Admin access required"})
	}

	var req GrantRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if req.UserID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "user_id is required"})
	}

	reason := models.TransactionReason(req.Reason)
	if !reason.Valid() || reason == models.ReasonConsumed {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid grant reason"})
	}

	if reason == models.ReasonRefund {
		if req.Amount != 1 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Refunds reverse one consumption at a time"})
		}
		if err := s.ledger.Refund(c.Context(), req.UserID, req.Pool == "bonus"); err != nil {
			s.logger.Error("Refund failed", "user_id", req.UserID, "error", err)
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Nothing to refund"})
		}
		balance, err := s.ledger.GetBalance(c.Context(), req.UserID)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to load balance"})
		}
		return c.JSON(fiber.Map{"ok": true, "balance": balance})
	}

	balance, err := s.ledger.Grant(c.Context(), req.UserID, req.Amount, reason)
	if err != nil {
		if errors.Is(err, ledger.ErrProfileNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Unknown user"})
		}
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	return c.JSON(fiber.Map{"ok": true, "balance": balance})
}
