package service_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newsletter-briefing/internal/ai"
	"newsletter-briefing/internal/config"
	"newsletter-briefing/internal/gmail"
	"newsletter-briefing/internal/logger"
	"newsletter-briefing/internal/model"
	"newsletter-briefing/internal/repository/memory"
	"newsletter-briefing/internal/service"
)

type wordTokenizer struct{}

func (wordTokenizer) Encode(text string) []int {
	return make([]int, len(strings.Fields(text)))
}

func (wordTokenizer) Decode(tokens []int) string {
	return strings.Repeat("w ", len(tokens))
}

// verdicts maps a subject to the triage answer the fake model gives for it.
var verdicts = map[string]string{
	"Agents deep dive":   `{"category":"high_relevance","relevance_score":0.9,"topics":["AI orchestration"],"reason":"on topic"}`,
	"Your order shipped": `{"category":"discard","relevance_score":0.0,"topics":[],"reason":"transactional"}`,
	"Startup roundup":    `{"category":"general_info","relevance_score":0.6,"topics":[],"reason":"editorial"}`,
	"Daily digest":       `{"category":"general_info","relevance_score":0.6,"topics":[],"reason":"digest"}`,
}

func newFakeModel() *ai.MockAIClient {
	m := ai.NewMockAIClient()
	m.GenerateFunc = func(_ context.Context, req service.GenerateRequest) (string, error) {
		if !req.JSON {
			return "## Today\n\nA short briefing.", nil
		}
		var entries []string
		for _, line := range strings.Split(req.Prompt, "\n") {
			if subject, ok := strings.CutPrefix(line, "Subject: "); ok {
				answer, known := verdicts[subject]
				if !known {
					return "", fmt.Errorf("unexpected subject %q", subject)
				}
				entries = append(entries, answer)
			}
		}
		return "[" + strings.Join(entries, ",") + "]", nil
	}
	return m
}

func msg(id, subject, sender string) *model.RawMessage {
	return model.NewRawMessage(id, subject, sender, "snippet "+id, "", "Body text of "+id, time.Now())
}

func inbox() []*model.RawMessage {
	return []*model.RawMessage{
		msg("m1", "Agents deep dive", "Agents <hi@agents.dev>"),
		msg("m2", "Your order shipped", "shop@store.com"),
		msg("m3", "Startup roundup", "Roundup <news@vc.io>"),
	}
}

type harness struct {
	cfg      *config.Config
	gmail    *gmail.MockGmailClient
	state    *memory.InMemoryStateRepository
	model    *ai.MockAIClient
	pipeline service.PipelineService
	stdout   *bytes.Buffer
}

func newHarness(t *testing.T, messages []*model.RawMessage) *harness {
	t.Helper()
	log := logger.Discard()
	cfg := config.Default()

	h := &harness{
		cfg:    cfg,
		gmail:  gmail.NewMockGmailClient(),
		state:  memory.NewInMemoryStateRepository(),
		model:  newFakeModel(),
		stdout: &bytes.Buffer{},
	}
	h.gmail.FetchMessagesFunc = func(context.Context, string, time.Time) (*model.FetchResult, error) {
		return &model.FetchResult{Messages: messages}, nil
	}

	summarizer := service.NewChunkSummarizer(h.model, wordTokenizer{}, log)
	h.pipeline = service.NewPipelineService(
		cfg,
		h.gmail,
		h.state,
		service.NewTriageService(h.model, cfg, log),
		service.NewExtractionService(service.NewArticleFetcher(time.Second, log), summarizer, wordTokenizer{}, cfg.TokenBudget, log),
		service.NewSynthesisService(h.model, cfg.MaxSynthesisItems, log),
		log,
	)
	return h
}

func (h *harness) run(t *testing.T, opts service.RunOptions) error {
	t.Helper()
	opts.Stdout = h.stdout
	return h.pipeline.Run(context.Background(), opts)
}

func TestRunDeliversThenPersists(t *testing.T) {
	h := newHarness(t, inbox())
	before := time.Now().UTC()

	require.NoError(t, h.run(t, service.RunOptions{}))

	assert.Equal(t, []string{"FetchMessages", "SendBriefing", "MarkAsRead", "EnsureLabel", "AddLabel"}, h.gmail.Calls())

	sent := h.gmail.Sent()
	require.Len(t, sent, 1)
	assert.True(t, strings.HasPrefix(sent[0].Subject, "Newsletter Briefing — "))
	assert.Contains(t, sent[0].HTML, "A short briefing.")
	assert.Contains(t, sent[0].HTML, "#inbox/m1")

	assert.Equal(t, []string{"m2"}, h.gmail.ReadIDs())
	assert.Equal(t, []string{"m1", "m3"}, h.gmail.LabeledIDs("Label_Newsletter Briefing"))
	assert.Equal(t, 3, h.state.ProcessedCount())

	runs := h.state.Runs()
	require.Len(t, runs, 1)
	assert.Equal(t, 3, runs[0].MessagesProcessed)
	assert.False(t, runs[0].NextSince.Before(before))

	// first run looks back the configured number of days
	since := h.gmail.Sinces()[0]
	assert.WithinDuration(t, before.AddDate(0, 0, -h.cfg.InitialLookbackDays), since, time.Minute)
	assert.Equal(t, []string{h.cfg.GmailQuery}, h.gmail.Queries())
}

func TestRunSkipsProcessedMessages(t *testing.T) {
	h := newHarness(t, inbox())
	require.NoError(t, h.state.MarkProcessed(context.Background(), "m1"))

	require.NoError(t, h.run(t, service.RunOptions{}))

	for _, call := range h.model.Calls() {
		if call.JSON {
			assert.NotContains(t, call.Prompt, "Agents deep dive")
		}
	}
	assert.Equal(t, []string{"m3"}, h.gmail.LabeledIDs("Label_Newsletter Briefing"))
	assert.Equal(t, 2, h.state.Runs()[0].MessagesProcessed)
}

func TestRunStartsFromLastRun(t *testing.T) {
	h := newHarness(t, nil)
	last := time.Date(2024, 6, 1, 7, 0, 0, 0, time.UTC)
	require.NoError(t, h.state.RecordRun(context.Background(), model.NewRunRecord(last, last, 4)))

	require.NoError(t, h.run(t, service.RunOptions{}))

	assert.Equal(t, last, h.gmail.Sinces()[0])
	runs := h.state.Runs()
	require.Len(t, runs, 2)
	assert.Zero(t, runs[1].MessagesProcessed)
	assert.Equal(t, []string{"FetchMessages"}, h.gmail.Calls())
}

func TestRunLookbackOverride(t *testing.T) {
	h := newHarness(t, nil)
	last := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, h.state.RecordRun(context.Background(), model.NewRunRecord(last, last, 0)))

	days := 3
	require.NoError(t, h.run(t, service.RunOptions{LookbackDays: &days}))

	assert.WithinDuration(t, time.Now().AddDate(0, 0, -3), h.gmail.Sinces()[0], time.Minute)
}

func TestRunKeepsWindowWhileRateLimited(t *testing.T) {
	h := newHarness(t, nil)
	last := time.Date(2024, 6, 1, 7, 0, 0, 0, time.UTC)
	require.NoError(t, h.state.RecordRun(context.Background(), model.NewRunRecord(last, last, 0)))
	h.gmail.FetchMessagesFunc = func(context.Context, string, time.Time) (*model.FetchResult, error) {
		return &model.FetchResult{Messages: inbox(), FailedIDs: []string{"m9"}}, nil
	}

	require.NoError(t, h.run(t, service.RunOptions{}))

	runs := h.state.Runs()
	require.Len(t, runs, 2)
	assert.Equal(t, last, runs[1].NextSince)
	assert.Equal(t, 3, runs[1].MessagesProcessed)
}

func TestRunBriefsMessagesOverSenderCap(t *testing.T) {
	var messages []*model.RawMessage
	for i := 1; i <= 4; i++ {
		messages = append(messages, msg(fmt.Sprintf("d%d", i), "Daily digest", "Digest <daily@news.io>"))
	}
	h := newHarness(t, messages)
	require.Equal(t, 3, h.cfg.MaxPerSender)

	require.NoError(t, h.run(t, service.RunOptions{}))

	sent := h.gmail.Sent()
	require.Len(t, sent, 1)
	for _, id := range []string{"d1", "d2", "d3", "d4"} {
		assert.Contains(t, sent[0].HTML, "#inbox/"+id)
	}
	assert.Equal(t, []string{"d1", "d2", "d3", "d4"}, h.gmail.LabeledIDs("Label_Newsletter Briefing"))
	assert.Empty(t, h.gmail.ReadIDs())
	assert.Equal(t, 4, h.state.ProcessedCount())
}

func TestRunNothingKept(t *testing.T) {
	h := newHarness(t, []*model.RawMessage{msg("m2", "Your order shipped", "shop@store.com")})

	require.NoError(t, h.run(t, service.RunOptions{}))

	assert.Equal(t, []string{"FetchMessages", "MarkAsRead"}, h.gmail.Calls())
	assert.Equal(t, []string{"m2"}, h.gmail.ReadIDs())
	assert.Equal(t, 1, h.state.ProcessedCount())
	assert.Len(t, h.state.Runs(), 1)
}

func TestDryRunTouchesNothing(t *testing.T) {
	h := newHarness(t, inbox())

	require.NoError(t, h.run(t, service.RunOptions{DryRun: true}))

	assert.Equal(t, []string{"FetchMessages"}, h.gmail.Calls())
	assert.Zero(t, h.state.ProcessedCount())
	assert.Empty(t, h.state.Runs())

	out := h.stdout.String()
	assert.Contains(t, out, "SUBJECT: Newsletter Briefing — ")
	assert.Contains(t, out, "## Today")
	assert.Contains(t, out, "## Sources")
	assert.Contains(t, out, "(Dry run: email not sent, state not updated)")
}

func TestOutputWritesMarkdownAndHTML(t *testing.T) {
	h := newHarness(t, inbox())
	dir := t.TempDir()
	out := filepath.Join(dir, "briefing.md")

	require.NoError(t, h.run(t, service.RunOptions{OutputPath: out}))

	md, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(md), "## Today"))

	page, err := os.ReadFile(filepath.Join(dir, "briefing.html"))
	require.NoError(t, err)
	assert.Contains(t, string(page), "<!DOCTYPE html>")

	assert.Equal(t, []string{"FetchMessages"}, h.gmail.Calls())
	assert.Empty(t, h.state.Runs())
}

func TestRunWritesDumps(t *testing.T) {
	h := newHarness(t, inbox())
	dir := t.TempDir()
	emails := filepath.Join(dir, "emails.txt")
	triage := filepath.Join(dir, "triage.txt")

	require.NoError(t, h.run(t, service.RunOptions{DryRun: true, DumpEmailsPath: emails, DumpTriagePath: triage}))

	b, err := os.ReadFile(emails)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(b), "Fetched 3 emails (query: "+h.cfg.GmailQuery+")"))

	b, err = os.ReadFile(triage)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(b), "Triage results: 2 kept / 3 total"))
}

func TestSendFailureLeavesStateUntouched(t *testing.T) {
	h := newHarness(t, inbox())
	h.gmail.SendBriefingFunc = func(context.Context, string, string) error {
		return errors.New("quota exceeded")
	}

	err := h.run(t, service.RunOptions{})
	require.Error(t, err)

	assert.Equal(t, []string{"FetchMessages", "SendBriefing"}, h.gmail.Calls())
	assert.Zero(t, h.state.ProcessedCount())
	assert.Empty(t, h.state.Runs())
}

func TestFetchFailureIsFatal(t *testing.T) {
	h := newHarness(t, nil)
	h.gmail.FetchMessagesFunc = func(context.Context, string, time.Time) (*model.FetchResult, error) {
		return nil, errors.New("unauthorized")
	}

	err := h.run(t, service.RunOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unauthorized")
	assert.Empty(t, h.state.Runs())
}
