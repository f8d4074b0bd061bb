package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/IBM/sarama"

	"github.com/pridato/reelforge/internal/config"
	"github.com/pridato/reelforge/internal/models"
	"github.com/pridato/reelforge/internal/renderer"
	"github.com/pridato/reelforge/pkg/database"
)

const (
	updateStatusSQL    = `UPDATE videos SET status = $2 WHERE id = $1`
	updateCompletedSQL = `UPDATE videos SET status = $2, output_url = $3 WHERE id = $1`
)

// Worker consumes render jobs dispatched by the gate and executes them
// against the external rendering backend. A job that exhausts its retries
// is marked failed; the credit stays consumed (refunds cover only
// synchronous dispatch failures).
type Worker struct {
	cfg      *config.Config
	db       *database.Clients
	consumer sarama.ConsumerGroup
	renderer renderer.Client
	ready    chan bool
}

func NewWorker(cfg *config.Config, db *database.Clients, consumer sarama.ConsumerGroup, rc renderer.Client) *Worker {
	return &Worker{
		cfg:      cfg,
		db:       db,
		consumer: consumer,
		renderer: rc,
		ready:    make(chan bool),
	}
}

func (w *Worker) Start(ctx context.Context) error {
	topics := []string{w.cfg.Kafka.Topic}
	slog.Info("Starting render worker", "topics", topics)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		for err := range w.consumer.Errors() {
			slog.Error("Kafka consumer error", "error", err)
		}
	}()

	go func() {
		for {
			if err := w.consumer.Consume(ctx, topics, w); err != nil {
				slog.Error("Error from consumer.Consume", "error", err)
			}
			if ctx.Err() != nil {
				return
			}
			// Reset the ready channel after a new session is created
			w.ready = make(chan bool)
		}
	}()

	<-w.ready
	slog.Info("Render worker ready")

	select {
	case sig := <-sigChan:
		slog.Info("Received shutdown signal", "signal", sig)
	case <-ctx.Done():
		slog.Info("Context cancelled; shutting down worker")
	}

	return nil
}

// Setup is run at the beginning of a new session, before ConsumeClaim.
func (w *Worker) Setup(sarama.ConsumerGroupSession) error {
	close(w.ready)
	return nil
}

// Cleanup is run at the end of a session, once all ConsumeClaim goroutines have exited.
func (w *Worker) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim must start a consumer loop of ConsumerGroupClaim's Messages().
func (w *Worker) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for message := range claim.Messages() {
		if err := w.processJob(session.Context(), message); err != nil {
			slog.Error("Failed to process render job", "error", err, "offset", message.Offset)
		}
		session.MarkMessage(message, "")
	}
	return nil
}

func (w *Worker) processJob(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var job models.RenderJob
	if err := json.Unmarshal(msg.Value, &job); err != nil {
		return fmt.Errorf("failed to parse render job: %w", err)
	}

	slog.Info("Render job received", "video_id", job.VideoID, "user_id", job.UserID)
	w.setStatus(ctx, job.VideoID, models.StatusProcessing, "")

	var outputURL string
	var err error
	for attempt := 1; attempt <= w.cfg.Kafka.RetryMax; attempt++ {
		outputURL, err = w.render(ctx, &job)
		if err == nil {
			break
		}
		slog.Error("Render attempt failed", "video_id", job.VideoID, "attempt", attempt, "error", err)
		time.Sleep(w.cfg.Kafka.RetryBackoff)
	}

	if err != nil {
		w.setStatus(ctx, job.VideoID, models.StatusFailed, "")
		return fmt.Errorf("render job %d failed after %d attempts: %w", job.VideoID, w.cfg.Kafka.RetryMax, err)
	}

	w.setStatus(ctx, job.VideoID, models.StatusCompleted, outputURL)
	slog.Info("Render job completed", "video_id", job.VideoID, "output_url", outputURL)
	return nil
}

// render runs the three backend steps: script enhancement, voice synthesis,
// and the render submission itself.
func (w *Worker) render(ctx context.Context, job *models.RenderJob) (string, error) {
	script, err := w.renderer.EnhanceScript(ctx, job.Script)
	if err != nil {
		return "", fmt.Errorf("script enhancement failed: %w", err)
	}

	if _, err := w.renderer.SynthesizeVoice(ctx, script, job.Voice); err != nil {
		return "", fmt.Errorf("voice synthesis failed: %w", err)
	}

	ack, err := w.renderer.SubmitRender(ctx, renderer.RenderRequest{
		VideoID:    job.VideoID,
		Script:     script,
		Template:   job.Template,
		Voice:      job.Voice,
		Resolution: job.Resolution,
	})
	if err != nil {
		return "", fmt.Errorf("render submission failed: %w", err)
	}
	return ack.OutputURL, nil
}

func (w *Worker) setStatus(ctx context.Context, videoID int, status, outputURL string) {
	if status == models.StatusCompleted {
		if _, err := w.db.DB.ExecContext(ctx, updateCompletedSQL, videoID, status, outputURL); err != nil {
			slog.Error("Failed to update video status in DB", "video_id", videoID, "status", status, "error", err)
		}
	} else {
		if _, err := w.db.DB.ExecContext(ctx, updateStatusSQL, videoID, status); err != nil {
			slog.Error("Failed to update video status in DB", "video_id", videoID, "status", status, "error", err)
		}
	}

	redisKey := fmt.Sprintf("video:%d", videoID)
	if err := w.db.Redis.Set(ctx, redisKey, status, 0).Err(); err != nil {
		slog.Error("Failed to update video status in Redis", "video_id", videoID, "status", status, "error", err)
	}
}
