package model

import (
	"time"

	"github.com/google/uuid"
)

// RunRecord is one completed pipeline run. NextSince is where the following
// run's fetch window starts.
type RunRecord struct {
	ID                string    `json:"id"`
	RanAt             time.Time `json:"ran_at"`
	NextSince         time.Time `json:"next_since"`
	MessagesProcessed int       `json:"messages_processed"`
}

func NewRunRecord(ranAt, nextSince time.Time, messagesProcessed int) *RunRecord {
	return &RunRecord{
		ID:                uuid.New().String(),
		RanAt:             ranAt.UTC(),
		NextSince:         nextSince.UTC(),
		MessagesProcessed: messagesProcessed,
	}
}
