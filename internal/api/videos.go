package api

import (
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/pridato/reelforge/internal/gate"
	"github.com/pridato/reelforge/internal/models"
)

// handleCreateVideo is the paid action. Denials come back typed so the UI
// can tell "upgrade your plan" (403) apart from "buy credits" (402).
func (s *Server) handleCreateVideo(c *fiber.Ctx) error {
	uid, err := userID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
	}

	var req gate.Request
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	req.UserID = uid

	if req.Title == "" || req.Script == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Title and script are required"})
	}
	if req.Resolution == "" {
		req.Resolution = "720p"
	}

	result, err := s.gate.Create(c.Context(), &req)
	if err != nil {
		s.logger.Error("Video creation failed", "user_id", uid, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to create video"})
	}

	if !result.OK {
		switch result.Denial {
		case gate.DenialFeatureNotEntitled:
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error":   "Your plan does not include this feature",
				"denial":  result.Denial,
				"feature": result.DeniedFeature,
			})
		default:
			return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{
				"error":  "No credits remaining this period",
				"denial": result.Denial,
			})
		}
	}

	return c.JSON(fiber.Map{
		"video":           result.Video,
		"remaining_after": result.RemainingAfter,
	})
}

func (s *Server) handleGetVideo(c *fiber.Ctx) error {
	uid, err := userID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
	}

	videoID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid video ID"})
	}

	var video models.Video
	query := "SELECT * FROM videos WHERE id = $1 AND user_id = $2"
	if err := s.db.DB.Get(&video, query, videoID, uid); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Video not found"})
	}

	// Redis has the freshest status while the worker is busy.
	redisKey := fmt.Sprintf("video:%d", video.ID)
	if redisStatus, err := s.db.Redis.Get(c.Context(), redisKey).Result(); err == nil {
		video.Status = redisStatus
	}

	return c.JSON(fiber.Map{"video": video})
}

func (s *Server) handleListVideos(c *fiber.Ctx) error {
	uid, err := userID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
	}

	var videos []models.Video
	err = s.db.DB.Select(&videos, "SELECT * FROM videos WHERE user_id = $1 ORDER BY created_at DESC", uid)
	if err != nil {
		s.logger.Error("Error fetching videos", "user_id", uid, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch videos"})
	}

	for i, video := range videos {
		redisKey := fmt.Sprintf("video:%d", video.ID)
		if redisStatus, err := s.db.Redis.Get(c.Context(), redisKey).Result(); err == nil {
			videos[i].Status = redisStatus
		}
	}

	return c.JSON(fiber.Map{"videos": videos})
}
