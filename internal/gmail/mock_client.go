package gmail

import (
	"context"
	"sync"
	"time"

	"newsletter-briefing/internal/model"
)

// SentBriefing is a briefing captured by MockGmailClient.
type SentBriefing struct {
	Subject string
	HTML    string
}

// MockGmailClient is a mock implementation of GmailClient for testing
type MockGmailClient struct {
	FetchMessagesFunc func(ctx context.Context, query string, since time.Time) (*model.FetchResult, error)
	SendBriefingFunc  func(ctx context.Context, htmlBody, subject string) error
	EnsureLabelFunc   func(ctx context.Context, name string) (string, error)
	MarkAsReadFunc    func(ctx context.Context, messageIDs []string) error
	AddLabelFunc      func(ctx context.Context, messageIDs []string, labelID string) error

	mu      sync.Mutex
	calls   []string
	queries []string
	sinces  []time.Time
	sent    []SentBriefing
	read    []string
	labeled map[string][]string
}

func NewMockGmailClient() *MockGmailClient {
	return &MockGmailClient{labeled: make(map[string][]string)}
}

func (m *MockGmailClient) record(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
}

func (m *MockGmailClient) FetchMessages(ctx context.Context, query string, since time.Time) (*model.FetchResult, error) {
	m.record("FetchMessages")
	m.mu.Lock()
	m.queries = append(m.queries, query)
	m.sinces = append(m.sinces, since)
	m.mu.Unlock()

	if m.FetchMessagesFunc != nil {
		return m.FetchMessagesFunc(ctx, query, since)
	}

	// Default mock behavior: empty mailbox
	return &model.FetchResult{}, nil
}

func (m *MockGmailClient) SendBriefing(ctx context.Context, htmlBody, subject string) error {
	m.record("SendBriefing")
	if m.SendBriefingFunc != nil {
		if err := m.SendBriefingFunc(ctx, htmlBody, subject); err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.sent = append(m.sent, SentBriefing{Subject: subject, HTML: htmlBody})
	m.mu.Unlock()
	return nil
}

func (m *MockGmailClient) EnsureLabel(ctx context.Context, name string) (string, error) {
	m.record("EnsureLabel")
	if m.EnsureLabelFunc != nil {
		return m.EnsureLabelFunc(ctx, name)
	}
	return "Label_" + name, nil
}

func (m *MockGmailClient) MarkAsRead(ctx context.Context, messageIDs []string) error {
	m.record("MarkAsRead")
	if m.MarkAsReadFunc != nil {
		if err := m.MarkAsReadFunc(ctx, messageIDs); err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.read = append(m.read, messageIDs...)
	m.mu.Unlock()
	return nil
}

func (m *MockGmailClient) AddLabel(ctx context.Context, messageIDs []string, labelID string) error {
	m.record("AddLabel")
	if m.AddLabelFunc != nil {
		if err := m.AddLabelFunc(ctx, messageIDs, labelID); err != nil {
			return err
		}
	}

	m.mu.Lock()
	if m.labeled == nil {
		m.labeled = make(map[string][]string)
	}
	m.labeled[labelID] = append(m.labeled[labelID], messageIDs...)
	m.mu.Unlock()
	return nil
}

// Calls returns the method names invoked so far, in order.
func (m *MockGmailClient) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *MockGmailClient) Queries() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.queries...)
}

func (m *MockGmailClient) Sinces() []time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Time(nil), m.sinces...)
}

func (m *MockGmailClient) Sent() []SentBriefing {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentBriefing(nil), m.sent...)
}

func (m *MockGmailClient) ReadIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.read...)
}

func (m *MockGmailClient) LabeledIDs(labelID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.labeled[labelID]...)
}
