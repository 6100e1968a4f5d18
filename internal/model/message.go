package model

import (
	"time"
)

// RawMessage is a single inbox message as fetched from the mailbox provider.
type RawMessage struct {
	ID         string    `json:"id"`
	Subject    string    `json:"subject"`
	Sender     string    `json:"sender"`
	Date       string    `json:"date"`
	ReceivedAt time.Time `json:"received_at"`
	Snippet    string    `json:"snippet"`
	BodyHTML   string    `json:"body_html"`
	BodyText   string    `json:"body_text"`
}

func NewRawMessage(id, subject, sender, snippet, bodyHTML, bodyText string, receivedAt time.Time) *RawMessage {
	return &RawMessage{
		ID:         id,
		Subject:    subject,
		Sender:     sender,
		ReceivedAt: receivedAt,
		Snippet:    snippet,
		BodyHTML:   bodyHTML,
		BodyText:   bodyText,
	}
}

// FetchResult holds the messages retrieved for a fetch window plus the ids
// that were still rate-limited after the retry pass. Messages that failed for
// any other reason are skipped and not listed.
type FetchResult struct {
	Messages  []*RawMessage `json:"messages"`
	FailedIDs []string      `json:"failed_ids"`
}
