package service

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"newsletter-briefing/internal/logger"
)

const (
	chunkMaxTokens     = 512
	chunkFallbackChars = 500
	chunkConcurrency   = 4
)

type chunkSummarizer struct {
	aiClient  AIClient
	tokenizer Tokenizer
	logger    *logger.Logger
}

func NewChunkSummarizer(aiClient AIClient, tokenizer Tokenizer, logger *logger.Logger) SummarizerService {
	return &chunkSummarizer{
		aiClient:  aiClient,
		tokenizer: tokenizer,
		logger:    logger,
	}
}

// chunkWindows splits n tokens into [start, end) windows of size budget that
// advance by three quarters of the budget.
func chunkWindows(n, budget int) [][2]int {
	if budget <= 0 {
		budget = 1
	}
	stride := budget * 3 / 4
	if stride < 1 {
		stride = 1
	}

	var windows [][2]int
	for pos := 0; pos < n; pos += stride {
		end := pos + budget
		if end > n {
			end = n
		}
		windows = append(windows, [2]int{pos, end})
	}
	return windows
}

func (s *chunkSummarizer) Summarize(ctx context.Context, text string, tokenBudget int) string {
	tokens := s.tokenizer.Encode(text)
	if len(tokens) <= tokenBudget {
		return text
	}

	windows := chunkWindows(len(tokens), tokenBudget)
	s.logger.Debugf("Summarizing %d tokens in %d chunks (budget %d)", len(tokens), len(windows), tokenBudget)

	summaries := make([]string, len(windows))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(chunkConcurrency)
	for i, w := range windows {
		i, w := i, w
		g.Go(func() error {
			chunk := s.tokenizer.Decode(tokens[w[0]:w[1]])
			summaries[i] = s.summarizeChunk(gctx, chunk)
			return nil
		})
	}
	_ = g.Wait()

	return strings.Join(summaries, "\n\n")
}

func (s *chunkSummarizer) summarizeChunk(ctx context.Context, chunk string) string {
	summary, err := s.aiClient.Generate(ctx, GenerateRequest{
		Tier:      TierFast,
		System:    chunkSummarySystem,
		Prompt:    buildChunkSummaryUser(chunk),
		MaxTokens: chunkMaxTokens,
	})
	if err != nil || strings.TrimSpace(summary) == "" {
		s.logger.Warnf("Chunk summarization failed; using raw truncation: %v", err)
		return truncateRunes(chunk, chunkFallbackChars) + "..."
	}
	return summary
}
