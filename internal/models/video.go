package models

import (
	"database/sql"
	"time"
)

// Video is a render job created through the gate and executed by the worker.
type Video struct {
	ID         int            `json:"id" db:"id"`
	UserID     string         `json:"user_id" db:"user_id"`
	Title      string         `json:"title" db:"title"`
	Script     string         `json:"script" db:"script"`
	Template   string         `json:"template" db:"template"`
	Voice      string         `json:"voice" db:"voice"`
	Resolution string         `json:"resolution" db:"resolution"`
	Status     string         `json:"status" db:"status"`
	OutputURL  sql.NullString `json:"output_url" db:"output_url"`
	CreatedAt  time.Time      `json:"created_at" db:"created_at"`
}

const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// RenderJob is the Kafka message dispatched by the gate and consumed by the
// worker. It carries everything the renderer needs so the worker does not
// have to read the videos row before starting.
type RenderJob struct {
	VideoID    int    `json:"video_id"`
	UserID     string `json:"user_id"`
	Title      string `json:"title"`
	Script     string `json:"script"`
	Template   string `json:"template"`
	Voice      string `json:"voice"`
	Resolution string `json:"resolution"`
}
