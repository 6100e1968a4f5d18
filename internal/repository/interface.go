package repository

import (
	"context"
	"time"

	"newsletter-briefing/internal/model"
)

// StateRepository records which messages have been handled and when the
// pipeline last ran. A single run is the only writer.
type StateRepository interface {
	IsProcessed(ctx context.Context, messageID string) (bool, error)
	MarkProcessed(ctx context.Context, messageIDs ...string) error
	// LastRunTime returns the start of the next fetch window, or nil before the first run.
	LastRunTime(ctx context.Context) (*time.Time, error)
	RecordRun(ctx context.Context, run *model.RunRecord) error
	Close() error
}
