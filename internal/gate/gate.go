// Package gate is the single admission point for the paid action. Every
// video creation passes entitlement resolution, then credit consumption,
// and only then dispatch; a dispatch that fails synchronously refunds the
// consumed unit so billing and delivery cannot diverge.
package gate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/IBM/sarama"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/pridato/reelforge/internal/entitlement"
	"github.com/pridato/reelforge/internal/ledger"
	"github.com/pridato/reelforge/internal/models"
)

// Denial reasons surfaced to the API layer. The two must stay
// distinguishable: one prompts an upgrade, the other a purchase.
const (
	DenialFeatureNotEntitled  = "feature_not_entitled"
	DenialInsufficientCredits = "insufficient_credits"
)

// Request describes the video the user wants created.
type Request struct {
	UserID          string `json:"-"`
	Title           string `json:"title"`
	Script          string `json:"script"`
	Template        string `json:"template"`
	Voice           string `json:"voice"`
	Resolution      string `json:"resolution"`
	PremiumTemplate bool   `json:"premium_template"`
	PremiumVoice    bool   `json:"premium_voice"`
}

// Result is the typed outcome of an admission attempt. A denial is routine
// control flow; Err-level handling is reserved for infrastructure failures.
type Result struct {
	OK             bool                `json:"ok"`
	Denial         string              `json:"denial,omitempty"`
	DeniedFeature  entitlement.Feature `json:"denied_feature,omitempty"`
	RemainingAfter int                 `json:"remaining_after"`
	Video          *models.Video       `json:"video,omitempty"`
}

const insertVideoSQL = `INSERT INTO videos (user_id, title, script, template, voice, resolution, status)
	VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id, created_at`

const markVideoFailedSQL = `UPDATE videos SET status = $2 WHERE id = $1`

// Gate orchestrates resolver, ledger and dispatch. All collaborators are
// injected; there is no package-level instance.
type Gate struct {
	ledger   *ledger.Ledger
	db       *sqlx.DB
	redis    *redis.Client
	producer sarama.SyncProducer
	topic    string
	logger   *slog.Logger
}

func New(lg *ledger.Ledger, db *sqlx.DB, redisClient *redis.Client, producer sarama.SyncProducer, topic string, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		ledger:   lg,
		db:       db,
		redis:    redisClient,
		producer: producer,
		topic:    topic,
		logger:   logger,
	}
}

// RequiredFeatures derives the entitlement checks implied by the request.
// Free-tier capabilities are not listed; they gate nothing.
func RequiredFeatures(req *Request) []entitlement.Feature {
	var features []entitlement.Feature
	if req.PremiumTemplate {
		features = append(features, entitlement.FeaturePremiumTemplates)
	}
	if req.PremiumVoice {
		features = append(features, entitlement.FeaturePremiumVoices)
	}
	switch req.Resolution {
	case "1080p":
		features = append(features, entitlement.Feature1080p)
	case "4k":
		features = append(features, entitlement.Feature4KResolution)
	}
	return features
}

// Create admits one paid action: entitlement first (ledger untouched on
// denial), then consumption, then persistence and Kafka dispatch.
func (g *Gate) Create(ctx context.Context, req *Request) (*Result, error) {
	// The rollover can downgrade a canceled subscriber to free; it must land
	// before the profile read or the resolver grants the stale paid tier.
	if err := g.ledger.RolloverIfDue(ctx, req.UserID); err != nil {
		return nil, err
	}

	profile, err := g.ledger.GetProfile(ctx, req.UserID)
	if errors.Is(err, ledger.ErrProfileNotFound) {
		// First action of an authenticated user: create the free-tier
		// profile once and continue.
		profile, err = g.ledger.EnsureProfile(ctx, req.UserID)
	}
	if err != nil {
		return nil, err
	}

	if denied, ok := entitlement.ResolveAll(profile.Tier, RequiredFeatures(req)); !ok {
		ledger.DenialCounter(DenialFeatureNotEntitled).Inc()
		return &Result{OK: false, Denial: DenialFeatureNotEntitled, DeniedFeature: denied}, nil
	}

	consume, err := g.ledger.AuthorizeAndConsume(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if !consume.OK {
		return &Result{OK: false, Denial: DenialInsufficientCredits}, nil
	}

	video, err := g.dispatch(ctx, req)
	if err != nil {
		// Consumption and delivery must not diverge: give the unit back to
		// the pool it came from.
		if rerr := g.ledger.Refund(ctx, req.UserID, consume.DrainedBonus); rerr != nil {
			g.logger.Error("Failed to refund after dispatch failure", "user_id", req.UserID, "error", rerr)
		}
		return nil, err
	}

	return &Result{OK: true, RemainingAfter: consume.RemainingAfter, Video: video}, nil
}

func (g *Gate) dispatch(ctx context.Context, req *Request) (*models.Video, error) {
	video := &models.Video{
		UserID:     req.UserID,
		Title:      req.Title,
		Script:     req.Script,
		Template:   req.Template,
		Voice:      req.Voice,
		Resolution: req.Resolution,
		Status:     models.StatusPending,
	}

	err := g.db.QueryRowContext(ctx, insertVideoSQL,
		video.UserID, video.Title, video.Script, video.Template, video.Voice, video.Resolution, video.Status,
	).Scan(&video.ID, &video.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create video record: %w", err)
	}

	statusKey := fmt.Sprintf("video:%d", video.ID)
	if err := g.redis.Set(ctx, statusKey, models.StatusPending, 0).Err(); err != nil {
		g.logger.Error("Failed to set video status in Redis", "video_id", video.ID, "error", err)
		// Redis status is a read optimization; do not fail the dispatch.
	}

	job := models.RenderJob{
		VideoID:    video.ID,
		UserID:     video.UserID,
		Title:      video.Title,
		Script:     video.Script,
		Template:   video.Template,
		Voice:      video.Voice,
		Resolution: video.Resolution,
	}
	jobBytes, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal render job: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: g.topic,
		Value: sarama.StringEncoder(jobBytes),
	}
	if _, _, err := g.producer.SendMessage(msg); err != nil {
		if _, derr := g.db.ExecContext(ctx, markVideoFailedSQL, video.ID, models.StatusFailed); derr != nil {
			g.logger.Error("Failed to mark undispatched video failed", "video_id", video.ID, "error", derr)
		}
		return nil, fmt.Errorf("failed to queue render job: %w", err)
	}

	return video, nil
}
