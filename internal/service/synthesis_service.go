package service

import (
	"context"
	"fmt"
	"html"
	"sort"
	"strings"
	"time"

	"newsletter-briefing/internal/logger"
	"newsletter-briefing/internal/model"
	"newsletter-briefing/internal/render"
)

const (
	synthesisContentChars  = 1500
	synthesisFallbackChars = 200
	synthesisMaxTokens     = 4096
	gmailDeepLink          = "https://mail.google.com/mail/u/0/#inbox/"
)

const emptyBriefing = "## No Updates Today\n\n" +
	"No new newsletter content was found since the last briefing. Check back next time!"

type synthesisService struct {
	aiClient AIClient
	maxItems int
	now      func() time.Time
	logger   *logger.Logger
}

func NewSynthesisService(aiClient AIClient, maxItems int, logger *logger.Logger) SynthesisService {
	return &synthesisService{
		aiClient: aiClient,
		maxItems: maxItems,
		now:      time.Now,
		logger:   logger,
	}
}

func (s *synthesisService) Synthesize(ctx context.Context, items []*model.ExtractedItem) *model.Briefing {
	if len(items) == 0 {
		return s.render(emptyBriefing)
	}

	items = prioritizeItems(items, s.maxItems, s.logger)

	blocks := make([]string, len(items))
	for i, item := range items {
		blocks[i] = synthesisBlock(item)
	}

	md, err := s.aiClient.Generate(ctx, GenerateRequest{
		Tier:      TierQuality,
		System:    synthesisSystem,
		Prompt:    buildSynthesisUser(blocks),
		MaxTokens: synthesisMaxTokens,
	})
	if err != nil || strings.TrimSpace(md) == "" {
		s.logger.Errorf("Synthesis call failed; falling back to raw list: %v", err)
		md = fallbackBriefing(items)
	}

	if sources := sourcesSection(items); sources != "" {
		md += "\n\n" + sources
	}

	return s.render(md)
}

func (s *synthesisService) render(md string) *model.Briefing {
	page, err := render.Email(md, s.now())
	if err != nil {
		s.logger.Errorf("Failed to render briefing HTML: %v", err)
		page = "<pre>" + html.EscapeString(md) + "</pre>"
	}
	return &model.Briefing{Markdown: md, HTML: page}
}

// BuildSubject names the briefing after the UTC half of the day it was generated in.
func (s *synthesisService) BuildSubject(now time.Time) string {
	return BuildSubject(now)
}

func BuildSubject(now time.Time) string {
	now = now.UTC()
	period := "Evening"
	if now.Hour() < 14 {
		period = "Morning"
	}
	return fmt.Sprintf("Newsletter Briefing — %s, %s", period, now.Format("January 2, 2006"))
}

// prioritizeItems stable-sorts by category rank and keeps at most maxItems.
func prioritizeItems(items []*model.ExtractedItem, maxItems int, logger *logger.Logger) []*model.ExtractedItem {
	sorted := append([]*model.ExtractedItem(nil), items...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Category.Rank() < sorted[j].Category.Rank()
	})

	if maxItems > 0 && len(sorted) > maxItems {
		logger.Infof("Capping synthesis input from %d to %d items", len(sorted), maxItems)
		sorted = sorted[:maxItems]
	}
	return sorted
}

func synthesisBlock(item *model.ExtractedItem) string {
	content := truncateRunes(item.SummaryText, synthesisContentChars)
	if runeLen(item.SummaryText) > synthesisContentChars {
		content += "..."
	}

	topics := "General"
	if len(item.Topics) > 0 {
		topics = strings.Join(item.Topics, ", ")
	}

	link := "N/A"
	if item.LinkURL != "" {
		link = item.LinkURL
		if item.LinkTitle != "" {
			link = fmt.Sprintf("%s (%s)", item.LinkURL, item.LinkTitle)
		}
	}

	return buildSynthesisItem(item.SourceName, topics, string(item.Category), content, link)
}

// fallbackBriefing is the deterministic list used when synthesis fails.
func fallbackBriefing(items []*model.ExtractedItem) string {
	lines := []string{"## Newsletter Briefing (Fallback)\n"}
	for _, item := range items {
		linkPart := ""
		if item.LinkURL != "" {
			linkPart = fmt.Sprintf(" — [link](%s)", item.LinkURL)
		}
		lines = append(lines, fmt.Sprintf("- **%s**: %s%s",
			item.SourceName, truncateRunes(item.SummaryText, synthesisFallbackChars), linkPart))
	}
	return strings.Join(lines, "\n")
}

// sourcesSection lists each originating message once, in first-seen order.
func sourcesSection(items []*model.ExtractedItem) string {
	seen := make(map[string]bool)
	lines := []string{"## Sources"}
	for _, item := range items {
		if item.MessageID == "" || seen[item.MessageID] {
			continue
		}
		seen[item.MessageID] = true

		title := item.MessageSubject
		if title == "" {
			title = item.SourceName
		}
		lines = append(lines, fmt.Sprintf("- [%s](%s%s) — *%s*", title, gmailDeepLink, item.MessageID, item.SourceName))
	}
	if len(lines) == 1 {
		return ""
	}
	return strings.Join(lines, "\n")
}
