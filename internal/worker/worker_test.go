package worker

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/IBM/sarama"
	"github.com/alicebob/miniredis/v2"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"

	"github.com/pridato/reelforge/internal/config"
	"github.com/pridato/reelforge/internal/models"
	"github.com/pridato/reelforge/internal/renderer"
	"github.com/pridato/reelforge/pkg/database"
)

func newTestWorker(t *testing.T, rc renderer.Client) (*Worker, sqlmock.Sqlmock, *miniredis.Miniredis) {
	mockDB, mock, err := sqlmock.New()
	assert.NoError(t, err)
	db := sqlx.NewDb(mockDB, "sqlmock")

	miniRedis, err := miniredis.Run()
	assert.NoError(t, err)
	redisClient := redis.NewClient(&redis.Options{Addr: miniRedis.Addr()})

	cfg := &config.Config{
		Kafka: config.KafkaConfig{
			Topic:        "render-jobs",
			RetryMax:     2,
			RetryBackoff: time.Millisecond,
		},
	}

	clients := &database.Clients{DB: db, Redis: redisClient}
	return NewWorker(cfg, clients, nil, rc), mock, miniRedis
}

func renderJobMessage(t *testing.T, job models.RenderJob) *sarama.ConsumerMessage {
	value, err := json.Marshal(job)
	assert.NoError(t, err)
	return &sarama.ConsumerMessage{Value: value, Topic: "render-jobs"}
}

func TestProcessJobSuccess(t *testing.T) {
	rc := &renderer.MockClient{Ack: &renderer.RenderAck{JobRef: "ref-1", OutputURL: "https://cdn.example.com/v/5.mp4"}}
	w, mock, miniRedis := newTestWorker(t, rc)
	defer miniRedis.Close()

	mock.ExpectExec(regexp.QuoteMeta(updateStatusSQL)).
		WithArgs(5, models.StatusProcessing).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(updateCompletedSQL)).
		WithArgs(5, models.StatusCompleted, "https://cdn.example.com/v/5.mp4").
		WillReturnResult(sqlmock.NewResult(0, 1))

	msg := renderJobMessage(t, models.RenderJob{
		VideoID: 5, UserID: "user-1", Script: "hello", Voice: "narrator", Resolution: "1080p",
	})
	err := w.processJob(context.Background(), msg)
	assert.NoError(t, err)

	// All three backend steps ran.
	assert.Len(t, rc.EnhanceCalls, 1)
	assert.Len(t, rc.VoiceCalls, 1)
	assert.Len(t, rc.RenderCalls, 1)

	status, err := miniRedis.Get("video:5")
	assert.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessJobFailureMarksFailed(t *testing.T) {
	rc := &renderer.MockClient{RenderErr: errors.New("backend down")}
	w, mock, miniRedis := newTestWorker(t, rc)
	defer miniRedis.Close()

	mock.ExpectExec(regexp.QuoteMeta(updateStatusSQL)).
		WithArgs(6, models.StatusProcessing).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(updateStatusSQL)).
		WithArgs(6, models.StatusFailed).
		WillReturnResult(sqlmock.NewResult(0, 1))

	msg := renderJobMessage(t, models.RenderJob{VideoID: 6, UserID: "user-1", Script: "hello"})
	err := w.processJob(context.Background(), msg)
	assert.Error(t, err)

	// One render attempt per retry.
	assert.Len(t, rc.RenderCalls, 2)

	status, err := miniRedis.Get("video:6")
	assert.NoError(t, err)
	assert.Equal(t, models.StatusFailed, status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessJobMalformedMessage(t *testing.T) {
	w, mock, miniRedis := newTestWorker(t, &renderer.MockClient{})
	defer miniRedis.Close()

	msg := &sarama.ConsumerMessage{Value: []byte("not json"), Topic: "render-jobs"}
	err := w.processJob(context.Background(), msg)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
