package model

type Category string

const (
	CategoryHighRelevance Category = "high_relevance"
	CategoryGeneralInfo   Category = "general_info"
	CategoryDiscard       Category = "discard"
)

// Valid reports whether c is one of the three triage categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryHighRelevance, CategoryGeneralInfo, CategoryDiscard:
		return true
	}
	return false
}

// Rank orders categories for synthesis: high_relevance first, then
// general_info, then everything else.
func (c Category) Rank() int {
	switch c {
	case CategoryHighRelevance:
		return 0
	case CategoryGeneralInfo:
		return 1
	default:
		return 2
	}
}

type TriageVerdict struct {
	Message        *RawMessage `json:"message"`
	Category       Category    `json:"category"`
	RelevanceScore float64     `json:"relevance_score"`
	Topics         []string    `json:"topics"`
	Reason         string      `json:"reason"`
}

func NewTriageVerdict(msg *RawMessage, category Category, score float64, topics []string, reason string) *TriageVerdict {
	if topics == nil {
		topics = []string{}
	}
	return &TriageVerdict{
		Message:        msg,
		Category:       category,
		RelevanceScore: score,
		Topics:         topics,
		Reason:         reason,
	}
}

// TriageOutcome splits a full triage pass into the sets the pipeline acts on.
// Capped holds verdicts that passed the threshold but were dropped by the
// per-sender cap.
type TriageOutcome struct {
	All       []*TriageVerdict
	Kept      []*TriageVerdict
	Capped    []*TriageVerdict
	Discarded []*TriageVerdict
}

// Eligible returns the verdicts that passed the threshold, capped or not,
// in classification order.
func (o *TriageOutcome) Eligible() []*TriageVerdict {
	passed := make(map[*TriageVerdict]bool, len(o.Kept)+len(o.Capped))
	for _, v := range o.Kept {
		passed[v] = true
	}
	for _, v := range o.Capped {
		passed[v] = true
	}
	eligible := make([]*TriageVerdict, 0, len(passed))
	for _, v := range o.All {
		if passed[v] {
			eligible = append(eligible, v)
		}
	}
	return eligible
}
