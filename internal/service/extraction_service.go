package service

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"newsletter-briefing/internal/logger"
	"newsletter-briefing/internal/model"
)

const (
	linkedArticleSeparator = "\n\n--- Linked Article ---\n\n"
	extractionConcurrency  = 4
)

type extractionService struct {
	fetcher     ArticleFetcher
	summarizer  SummarizerService
	tokenizer   Tokenizer
	tokenBudget int
	logger      *logger.Logger
}

func NewExtractionService(
	fetcher ArticleFetcher,
	summarizer SummarizerService,
	tokenizer Tokenizer,
	tokenBudget int,
	logger *logger.Logger,
) ExtractionService {
	return &extractionService{
		fetcher:     fetcher,
		summarizer:  summarizer,
		tokenizer:   tokenizer,
		tokenBudget: tokenBudget,
		logger:      logger,
	}
}

// Extract returns one item per verdict in the same order. A verdict whose
// extraction fails still yields an item carrying the message snippet.
func (s *extractionService) Extract(ctx context.Context, verdicts []*model.TriageVerdict) []*model.ExtractedItem {
	items := make([]*model.ExtractedItem, len(verdicts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(extractionConcurrency)
	for i, v := range verdicts {
		i, v := i, v
		g.Go(func() error {
			items[i] = s.extractOrFallback(gctx, v)
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Infof("Extracted %d items", len(items))
	return items
}

func (s *extractionService) extractOrFallback(ctx context.Context, v *model.TriageVerdict) (item *model.ExtractedItem) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorf("Extraction panicked for %q; using snippet fallback: %v", v.Message.Subject, r)
			item = fallbackItem(v)
		}
	}()

	item, err := s.extract(ctx, v)
	if err != nil {
		s.logger.Errorf("Extraction failed for %q; using snippet fallback: %v", v.Message.Subject, err)
		return fallbackItem(v)
	}
	return item
}

func (s *extractionService) extract(ctx context.Context, v *model.TriageVerdict) (*model.ExtractedItem, error) {
	msg := v.Message

	body := stripInvisible(msg.BodyText)
	if msg.BodyHTML != "" {
		text, err := htmlToText(msg.BodyHTML)
		if err != nil {
			return nil, fmt.Errorf("failed to convert HTML body: %w", err)
		}
		body = text
	}

	var linkURL, linkTitle, linked string
	if v.Category == model.CategoryHighRelevance {
		if best := FindBestLink(msg.BodyHTML); best != "" {
			linkURL = best
			article, err := s.fetcher.Fetch(ctx, best)
			if err != nil {
				s.logger.Warnf("Failed to fetch linked article %s: %v", best, err)
			} else if article != nil {
				linkTitle = article.Title
				linked = article.Text
			}
		}
	}

	combined := body
	if linked != "" {
		combined += linkedArticleSeparator + linked
	}

	summary := combined
	if tokens := len(s.tokenizer.Encode(combined)); tokens > s.tokenBudget {
		s.logger.Debugf("%q is %d tokens; chunking", msg.Subject, tokens)
		summary = s.summarizer.Summarize(ctx, combined, s.tokenBudget)
	}

	return &model.ExtractedItem{
		SourceName:     sourceName(msg.Sender),
		Topics:         v.Topics,
		Category:       v.Category,
		SummaryText:    summary,
		LinkURL:        linkURL,
		LinkTitle:      linkTitle,
		FullContent:    combined,
		MessageID:      msg.ID,
		MessageSubject: msg.Subject,
	}, nil
}

func fallbackItem(v *model.TriageVerdict) *model.ExtractedItem {
	return &model.ExtractedItem{
		SourceName:     sourceName(v.Message.Sender),
		Topics:         v.Topics,
		Category:       v.Category,
		SummaryText:    v.Message.Snippet,
		MessageID:      v.Message.ID,
		MessageSubject: v.Message.Subject,
	}
}
