package model

// ExtractedItem is the cleaned, possibly summarized content of one kept message.
type ExtractedItem struct {
	SourceName     string   `json:"source_name"`
	Topics         []string `json:"topics"`
	Category       Category `json:"category"`
	SummaryText    string   `json:"summary_text"`
	LinkURL        string   `json:"link_url,omitempty"`
	LinkTitle      string   `json:"link_title,omitempty"`
	FullContent    string   `json:"full_content"`
	MessageID      string   `json:"message_id"`
	MessageSubject string   `json:"message_subject"`
}

// Briefing is the synthesized document in markdown and its rendered HTML form.
type Briefing struct {
	Markdown string `json:"markdown"`
	HTML     string `json:"html"`
}

// LinkedArticle is the readable text of a page followed from a message.
type LinkedArticle struct {
	URL   string `json:"url"`
	Title string `json:"title"`
	Text  string `json:"text"`
}
