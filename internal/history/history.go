package history

import (
	"context"
	"time"
)

// Entry is one recorded deployment attempt.
type Entry struct {
	ID          string    `json:"id"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Status      string    `json:"status"`
	Stage       string    `json:"stage,omitempty"`
	Message     string    `json:"message"`
	Committed   bool      `json:"committed"`
	DeployCount int       `json:"deploy_count"`
}

// Recorder stores deployment attempts and lists the most recent ones first.
type Recorder interface {
	Record(ctx context.Context, entry Entry) error
	Recent(ctx context.Context, limit int) ([]Entry, error)
}
