package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"newsletter-briefing/internal/config"
	"newsletter-briefing/internal/logger"
	"newsletter-briefing/internal/model"
)

const (
	triagePreviewChars = 600
	triageMaxTokens    = 4096
)

const (
	reasonCallFailed   = "Triage failed; defaulting to general_info"
	reasonParseFailed  = "JSON parse failed; defaulting to discard"
	reasonMissingEntry = "Missing from model output; defaulting to discard"
)

type triageService struct {
	aiClient     AIClient
	topics       []string
	batchSize    int
	threshold    float64
	maxPerSender int
	logger       *logger.Logger
}

func NewTriageService(aiClient AIClient, cfg *config.Config, logger *logger.Logger) TriageService {
	batchSize := cfg.TriageBatchSize
	if batchSize <= 0 {
		batchSize = 20
	}
	return &triageService{
		aiClient:     aiClient,
		topics:       cfg.RelevanceTopics,
		batchSize:    batchSize,
		threshold:    cfg.TriageScoreThreshold,
		maxPerSender: cfg.MaxPerSender,
		logger:       logger,
	}
}

func (s *triageService) Triage(ctx context.Context, messages []*model.RawMessage, returnAll bool) []*model.TriageVerdict {
	if len(messages) == 0 {
		return nil
	}

	all := s.Classify(ctx, messages)
	outcome := s.Select(all)
	if returnAll {
		return outcome.All
	}
	return outcome.Kept
}

func (s *triageService) Classify(ctx context.Context, messages []*model.RawMessage) []*model.TriageVerdict {
	verdicts := make([]*model.TriageVerdict, 0, len(messages))
	for start := 0; start < len(messages); start += s.batchSize {
		end := start + s.batchSize
		if end > len(messages) {
			end = len(messages)
		}
		verdicts = append(verdicts, s.classifyBatch(ctx, messages[start:end])...)
	}
	return verdicts
}

func (s *triageService) classifyBatch(ctx context.Context, batch []*model.RawMessage) []*model.TriageVerdict {
	blocks := make([]string, len(batch))
	for i, msg := range batch {
		preview := msg.Snippet
		if preview == "" {
			preview = msg.BodyText
		}
		blocks[i] = buildTriageEmail(i+1, msg.Subject, msg.Sender, truncateRunes(preview, triagePreviewChars))
	}

	raw, err := s.aiClient.Generate(ctx, GenerateRequest{
		Tier:      TierFast,
		System:    buildTriageSystem(s.topics),
		Prompt:    buildTriageUser(len(batch), blocks),
		MaxTokens: triageMaxTokens,
		JSON:      true,
	})
	if err != nil {
		s.logger.Errorf("Triage call failed for batch of %d: %v", len(batch), err)
		verdicts := make([]*model.TriageVerdict, len(batch))
		for i, msg := range batch {
			verdicts[i] = model.NewTriageVerdict(msg, model.CategoryGeneralInfo, 0.5, nil, reasonCallFailed)
		}
		return verdicts
	}

	verdicts := parseTriageResponse(raw, batch, s.logger)
	for _, v := range verdicts {
		s.logger.Debugf("  [%s] score=%.2f subject=%q reason=%q",
			v.Category, v.RelevanceScore, truncateRunes(v.Message.Subject, 60), truncateRunes(v.Reason, 80))
	}
	return verdicts
}

// triageEntry is the shape each element of the response array must have.
// Pointers distinguish absent fields from zero values.
type triageEntry struct {
	Category       *string   `json:"category"`
	RelevanceScore *float64  `json:"relevance_score"`
	Topics         *[]string `json:"topics"`
	Reason         *string   `json:"reason"`
}

func (e triageEntry) validate() error {
	if e.Category == nil {
		return fmt.Errorf("missing category")
	}
	if !model.Category(*e.Category).Valid() {
		return fmt.Errorf("unknown category %q", *e.Category)
	}
	if e.RelevanceScore == nil {
		return fmt.Errorf("missing relevance_score")
	}
	if *e.RelevanceScore < 0 || *e.RelevanceScore > 1 {
		return fmt.Errorf("relevance_score %v outside [0, 1]", *e.RelevanceScore)
	}
	return nil
}

// parseTriageResponse maps the classifier output onto batch. Anything that is
// not an array of valid entries resolves to discard at 0.0.
func parseTriageResponse(raw string, batch []*model.RawMessage, logger *logger.Logger) []*model.TriageVerdict {
	text := stripCodeFence(raw)

	var entries []json.RawMessage
	err := json.Unmarshal([]byte(text), &entries)
	if err == nil && entries == nil {
		err = fmt.Errorf("response is null")
	}
	if err != nil {
		logger.Warnf("Failed to parse triage JSON, treating batch of %d as discard: %v", len(batch), err)
		verdicts := make([]*model.TriageVerdict, len(batch))
		for i, msg := range batch {
			verdicts[i] = model.NewTriageVerdict(msg, model.CategoryDiscard, 0, nil, reasonParseFailed)
		}
		return verdicts
	}

	if len(entries) > len(batch) {
		logger.Warnf("Triage returned %d entries for %d emails; ignoring the extra entries", len(entries), len(batch))
	}

	verdicts := make([]*model.TriageVerdict, len(batch))
	for i, msg := range batch {
		if i >= len(entries) {
			verdicts[i] = model.NewTriageVerdict(msg, model.CategoryDiscard, 0, nil, reasonMissingEntry)
			continue
		}

		var entry triageEntry
		err := json.Unmarshal(entries[i], &entry)
		if err == nil {
			err = entry.validate()
		}
		if err != nil {
			logger.Warnf("Invalid triage entry %d (%q): %v", i+1, truncateRunes(msg.Subject, 60), err)
			verdicts[i] = model.NewTriageVerdict(msg, model.CategoryDiscard, 0,
				nil, fmt.Sprintf("Invalid triage entry (%v); defaulting to discard", err))
			continue
		}

		category := model.Category(*entry.Category)
		score := *entry.RelevanceScore
		if category == model.CategoryDiscard {
			score = 0
		}
		var topics []string
		if entry.Topics != nil {
			topics = *entry.Topics
		}
		reason := ""
		if entry.Reason != nil {
			reason = *entry.Reason
		}
		verdicts[i] = model.NewTriageVerdict(msg, category, score, topics, reason)
	}
	return verdicts
}

// stripCodeFence removes a surrounding ``` fence (with optional language tag).
func stripCodeFence(raw string) string {
	text := strings.TrimSpace(raw)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	if nl := strings.IndexByte(text, '\n'); nl >= 0 {
		text = text[nl+1:]
	} else {
		text = strings.TrimPrefix(text, "```")
	}
	text = strings.TrimSpace(text)
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

func (s *triageService) Select(verdicts []*model.TriageVerdict) *model.TriageOutcome {
	outcome := &model.TriageOutcome{All: verdicts}

	var eligible []*model.TriageVerdict
	for _, v := range verdicts {
		if v.Category != model.CategoryDiscard && v.RelevanceScore >= s.threshold {
			eligible = append(eligible, v)
		} else {
			outcome.Discarded = append(outcome.Discarded, v)
		}
	}

	survivors := capPerSender(eligible, s.maxPerSender, s.logger)
	for _, v := range eligible {
		if survivors[v] {
			outcome.Kept = append(outcome.Kept, v)
		} else {
			outcome.Capped = append(outcome.Capped, v)
		}
	}

	high := 0
	for _, v := range outcome.Kept {
		if v.Category == model.CategoryHighRelevance {
			high++
		}
	}
	s.logger.Infof("Triage: %d/%d emails kept (%d high_relevance, %d general_info, %d discarded, %d over sender cap)",
		len(outcome.Kept), len(verdicts), high, len(outcome.Kept)-high, len(outcome.Discarded), len(outcome.Capped))

	return outcome
}

// capPerSender returns the set of verdicts that survive the per-sender cap:
// for senders over the cap, the top maxPerSender by score, ties in input order.
func capPerSender(verdicts []*model.TriageVerdict, maxPerSender int, logger *logger.Logger) map[*model.TriageVerdict]bool {
	groups := make(map[string][]*model.TriageVerdict)
	var order []string
	for _, v := range verdicts {
		key := senderKey(v.Message.Sender)
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], v)
	}

	survivors := make(map[*model.TriageVerdict]bool, len(verdicts))
	for _, key := range order {
		group := groups[key]
		if maxPerSender > 0 && len(group) > maxPerSender {
			ranked := append([]*model.TriageVerdict(nil), group...)
			sort.SliceStable(ranked, func(i, j int) bool {
				return ranked[i].RelevanceScore > ranked[j].RelevanceScore
			})
			logger.Debugf("Sender '%s' has %d emails; keeping top %d", key, len(group), maxPerSender)
			group = ranked[:maxPerSender]
		}
		for _, v := range group {
			survivors[v] = true
		}
	}
	return survivors
}
