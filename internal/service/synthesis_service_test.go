package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newsletter-briefing/internal/logger"
	"newsletter-briefing/internal/model"
)

func item(id string, category model.Category) *model.ExtractedItem {
	return &model.ExtractedItem{
		SourceName:     "Source " + id,
		Category:       category,
		SummaryText:    "Summary of " + id,
		MessageID:      id,
		MessageSubject: "Subject " + id,
	}
}

func newTestSynthesis(ai AIClient, maxItems int) *synthesisService {
	s := NewSynthesisService(ai, maxItems, logger.Discard()).(*synthesisService)
	s.now = func() time.Time { return fixedTime }
	return s
}

func TestSynthesizeEmpty(t *testing.T) {
	ai := &fakeAI{}
	b := newTestSynthesis(ai, 25).Synthesize(context.Background(), nil)

	assert.Equal(t, emptyBriefing, b.Markdown)
	assert.Contains(t, b.HTML, "No Updates Today")
	assert.Empty(t, ai.Calls())
}

func TestSynthesizeAppendsSources(t *testing.T) {
	ai := &fakeAI{fn: func(GenerateRequest) (string, error) { return "## AI Trends\n\nAccording to *Source a*...", nil }}
	s := newTestSynthesis(ai, 25)

	items := []*model.ExtractedItem{item("a", model.CategoryHighRelevance), item("b", model.CategoryGeneralInfo)}
	b := s.Synthesize(context.Background(), items)

	assert.True(t, strings.HasPrefix(b.Markdown, "## AI Trends"))
	assert.Contains(t, b.Markdown, "\n\n## Sources\n- [Subject a](https://mail.google.com/mail/u/0/#inbox/a) — *Source a*")
	assert.Contains(t, b.HTML, `href="https://mail.google.com/mail/u/0/#inbox/b"`)
	assert.Contains(t, b.HTML, "Saturday, June 1, 2024")

	calls := ai.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, TierQuality, calls[0].Tier)
	assert.Equal(t, synthesisSystem, calls[0].System)
	assert.Contains(t, calls[0].Prompt, "Source: Source a\nTopics: General\nCategory: high_relevance")
	assert.Contains(t, calls[0].Prompt, "Link: N/A")
}

func TestSynthesizeFallbackIsDeterministic(t *testing.T) {
	ai := &fakeAI{fn: func(GenerateRequest) (string, error) { return "", errors.New("overloaded") }}
	s := newTestSynthesis(ai, 25)

	items := []*model.ExtractedItem{item("a", model.CategoryGeneralInfo), item("b", model.CategoryHighRelevance)}
	items[1].LinkURL = "https://example.com/post"

	first := s.Synthesize(context.Background(), items)
	second := s.Synthesize(context.Background(), items)

	assert.Equal(t, first.Markdown, second.Markdown)
	assert.Equal(t, first.HTML, second.HTML)
	assert.True(t, strings.HasPrefix(first.Markdown, "## Newsletter Briefing (Fallback)\n\n"+
		"- **Source b**: Summary of b — [link](https://example.com/post)\n"+
		"- **Source a**: Summary of a"))
}

func TestSynthesizeEmptyReplyFallsBack(t *testing.T) {
	ai := &fakeAI{fn: func(GenerateRequest) (string, error) { return " \n", nil }}
	b := newTestSynthesis(ai, 25).Synthesize(context.Background(), []*model.ExtractedItem{item("a", model.CategoryGeneralInfo)})
	assert.Contains(t, b.Markdown, "(Fallback)")
}

func TestFallbackTruncatesSummary(t *testing.T) {
	it := item("a", model.CategoryGeneralInfo)
	it.SummaryText = strings.Repeat("é", 300)
	md := fallbackBriefing([]*model.ExtractedItem{it})
	assert.Contains(t, md, "- **Source a**: "+strings.Repeat("é", 200))
	assert.NotContains(t, md, strings.Repeat("é", 201))
}

func TestSourcesSectionDeduplicates(t *testing.T) {
	items := []*model.ExtractedItem{
		item("a", model.CategoryGeneralInfo),
		item("b", model.CategoryGeneralInfo),
		item("a", model.CategoryGeneralInfo),
		{SourceName: "No id"},
		item("c", model.CategoryGeneralInfo),
		item("b", model.CategoryGeneralInfo),
	}
	items[4].MessageSubject = ""

	section := sourcesSection(items)
	lines := strings.Split(section, "\n")
	assert.Equal(t, []string{
		"## Sources",
		"- [Subject a](https://mail.google.com/mail/u/0/#inbox/a) — *Source a*",
		"- [Subject b](https://mail.google.com/mail/u/0/#inbox/b) — *Source b*",
		"- [Source c](https://mail.google.com/mail/u/0/#inbox/c) — *Source c*",
	}, lines)

	assert.Empty(t, sourcesSection([]*model.ExtractedItem{{SourceName: "x"}}))
}

func TestPrioritizeItemsKeepsHighRelevanceFirst(t *testing.T) {
	var items []*model.ExtractedItem
	for i := 0; i < 25; i++ {
		category := model.CategoryGeneralInfo
		if i == 4 || i == 13 || i == 24 {
			category = model.CategoryHighRelevance
		}
		items = append(items, item(fmt.Sprintf("i%02d", i), category))
	}

	got := prioritizeItems(items, 25, logger.Discard())
	require.Len(t, got, 25)
	assert.Equal(t, "i04", got[0].MessageID)
	assert.Equal(t, "i13", got[1].MessageID)
	assert.Equal(t, "i24", got[2].MessageID)
	assert.Equal(t, "i00", got[3].MessageID)

	// input untouched
	assert.Equal(t, "i00", items[0].MessageID)

	capped := prioritizeItems(append(items, item("extra", model.CategoryGeneralInfo)), 25, logger.Discard())
	assert.Len(t, capped, 25)
	assert.NotEqual(t, "extra", capped[24].MessageID)
}

func TestSynthesisBlock(t *testing.T) {
	it := item("a", model.CategoryHighRelevance)
	it.Topics = []string{"AI", "DeFi"}
	it.LinkURL = "https://example.com/p"
	it.LinkTitle = "Post"
	it.SummaryText = strings.Repeat("x", 1600)

	block := synthesisBlock(it)
	assert.Contains(t, block, "Topics: AI, DeFi")
	assert.Contains(t, block, "Link: https://example.com/p (Post)")
	assert.Contains(t, block, strings.Repeat("x", 1500)+"...\n")
	assert.NotContains(t, block, strings.Repeat("x", 1501))
}

func TestBuildSubject(t *testing.T) {
	assert.Equal(t, "Newsletter Briefing — Morning, June 1, 2024",
		BuildSubject(time.Date(2024, 6, 1, 13, 59, 0, 0, time.UTC)))
	assert.Equal(t, "Newsletter Briefing — Evening, June 1, 2024",
		BuildSubject(time.Date(2024, 6, 1, 14, 0, 0, 0, time.UTC)))
	// converted to UTC first
	loc := time.FixedZone("UTC-5", -5*3600)
	assert.Equal(t, "Newsletter Briefing — Evening, June 1, 2024",
		BuildSubject(time.Date(2024, 6, 1, 10, 0, 0, 0, loc)))
}
