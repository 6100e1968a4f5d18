package service

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"newsletter-briefing/internal/model"
)

const dumpSnippetChars = 120

func writeEmailDump(path, query string, messages []*model.RawMessage) error {
	lines := []string{fmt.Sprintf("Fetched %d emails (query: %s)\n", len(messages), query)}
	for i, msg := range messages {
		lines = append(lines,
			fmt.Sprintf("%d. %s", i+1, msg.Subject),
			"   From: "+msg.Sender,
			"   Date: "+msg.Date,
			"   Snippet: "+truncateRunes(msg.Snippet, dumpSnippetChars),
			"",
		)
	}
	return writeDump(path, lines)
}

func writeTriageDump(path string, outcome *model.TriageOutcome) error {
	rule := strings.Repeat("=", 60)
	lines := []string{
		fmt.Sprintf("Triage results: %d kept / %d total\n", len(outcome.Kept), len(outcome.All)),
	}

	section := func(title string, verdicts []*model.TriageVerdict, withTopics bool) {
		lines = append(lines, rule, title, rule)
		for _, v := range byScore(verdicts) {
			lines = append(lines,
				fmt.Sprintf("  [%s] score=%.2f  %s", v.Category, v.RelevanceScore, v.Message.Subject),
				"    From: "+v.Message.Sender,
			)
			if withTopics {
				topics := strings.Join(v.Topics, ", ")
				if topics == "" {
					topics = "(none)"
				}
				lines = append(lines, "    Topics: "+topics)
			}
			lines = append(lines, "    Reason: "+v.Reason, "")
		}
	}

	section("KEPT", outcome.Kept, true)
	if len(outcome.Capped) > 0 {
		section("CAPPED (per-sender limit)", outcome.Capped, true)
	}
	section("DISCARDED", outcome.Discarded, false)

	return writeDump(path, lines)
}

func byScore(verdicts []*model.TriageVerdict) []*model.TriageVerdict {
	sorted := append([]*model.TriageVerdict(nil), verdicts...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].RelevanceScore > sorted[j].RelevanceScore
	})
	return sorted
}

func writeDump(path string, lines []string) error {
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
