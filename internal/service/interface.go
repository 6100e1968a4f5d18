package service

import (
	"context"
	"io"
	"time"

	"newsletter-briefing/internal/model"
)

type TriageService interface {
	// Classify returns one verdict per message, in input order.
	Classify(ctx context.Context, messages []*model.RawMessage) []*model.TriageVerdict
	// Select applies the score threshold and the per-sender cap to classified verdicts.
	Select(verdicts []*model.TriageVerdict) *model.TriageOutcome
	// Triage classifies and selects. With returnAll it returns every verdict, otherwise only kept ones.
	Triage(ctx context.Context, messages []*model.RawMessage, returnAll bool) []*model.TriageVerdict
}

type ExtractionService interface {
	Extract(ctx context.Context, verdicts []*model.TriageVerdict) []*model.ExtractedItem
}

type SummarizerService interface {
	Summarize(ctx context.Context, text string, tokenBudget int) string
}

type SynthesisService interface {
	Synthesize(ctx context.Context, items []*model.ExtractedItem) *model.Briefing
	BuildSubject(now time.Time) string
}

type PipelineService interface {
	Run(ctx context.Context, opts RunOptions) error
}

// RunOptions controls a single pipeline invocation.
type RunOptions struct {
	DryRun         bool
	OutputPath     string
	DumpEmailsPath string
	DumpTriagePath string
	// LookbackDays overrides the stored last-run time when set.
	LookbackDays *int
	// Stdout receives the briefing on dry runs without OutputPath.
	Stdout io.Writer
}

// GmailClient interface for interacting with Gmail API
type GmailClient interface {
	FetchMessages(ctx context.Context, query string, since time.Time) (*model.FetchResult, error)
	SendBriefing(ctx context.Context, htmlBody, subject string) error
	EnsureLabel(ctx context.Context, name string) (string, error)
	MarkAsRead(ctx context.Context, messageIDs []string) error
	AddLabel(ctx context.Context, messageIDs []string, labelID string) error
}

type ModelTier string

const (
	// TierFast is used for triage and chunk summaries.
	TierFast ModelTier = "fast"
	// TierQuality is used for the final synthesis.
	TierQuality ModelTier = "quality"
)

type GenerateRequest struct {
	Tier      ModelTier
	System    string
	Prompt    string
	MaxTokens int
	// JSON marks a request whose reply is parsed as JSON. Gemini is asked for an
	// application/json body; the chat-completions providers rely on the prompt.
	JSON bool
}

// AIClient interface for interacting with AI services
type AIClient interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// ArticleFetcher downloads the page behind a newsletter link.
// A nil article with a nil error means the page had no usable content.
type ArticleFetcher interface {
	Fetch(ctx context.Context, url string) (*model.LinkedArticle, error)
}

type Tokenizer interface {
	Encode(text string) []int
	Decode(tokens []int) string
}
