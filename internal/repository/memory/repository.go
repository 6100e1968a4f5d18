package memory

import (
	"context"
	"sync"
	"time"

	"newsletter-briefing/internal/model"
)

type InMemoryStateRepository struct {
	processed map[string]time.Time
	runs      []*model.RunRecord
	closed    bool
	mutex     sync.RWMutex
}

func NewInMemoryStateRepository() *InMemoryStateRepository {
	return &InMemoryStateRepository{
		processed: make(map[string]time.Time),
	}
}

func (r *InMemoryStateRepository) IsProcessed(ctx context.Context, messageID string) (bool, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	_, exists := r.processed[messageID]
	return exists, nil
}

func (r *InMemoryStateRepository) MarkProcessed(ctx context.Context, messageIDs ...string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	now := time.Now().UTC()
	for _, id := range messageIDs {
		r.processed[id] = now
	}
	return nil
}

func (r *InMemoryStateRepository) LastRunTime(ctx context.Context) (*time.Time, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var latest *time.Time
	for _, run := range r.runs {
		if latest == nil || run.NextSince.After(*latest) {
			t := run.NextSince
			latest = &t
		}
	}
	return latest, nil
}

func (r *InMemoryStateRepository) RecordRun(ctx context.Context, run *model.RunRecord) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.runs = append(r.runs, run)
	return nil
}

func (r *InMemoryStateRepository) Close() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.closed = true
	return nil
}

// Runs returns the recorded runs in insertion order.
func (r *InMemoryStateRepository) Runs() []*model.RunRecord {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return append([]*model.RunRecord(nil), r.runs...)
}

// ProcessedCount returns how many message ids have been marked.
func (r *InMemoryStateRepository) ProcessedCount() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.processed)
}

func (r *InMemoryStateRepository) Closed() bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.closed
}
