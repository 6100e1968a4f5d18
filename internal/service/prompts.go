package service

import (
	"fmt"
	"strings"
)

const triageSystemTemplate = `You are an email triage assistant. Your job is to separate substantive newsletters from transactional/operational emails.

The user's HIGH-PRIORITY topics are:
%s

The user also has broad intellectual interests including technology, startups, business strategy, science, engineering, and thoughtful analysis on any topic. Any newsletter with real editorial content is worth keeping.

For each email, return a JSON object with:
- "category": one of "high_relevance", "general_info", or "discard"
- "relevance_score": a float from 0.0 to 1.0
- "topics": a list of matching topic tags
- "reason": a one-sentence explanation

ALWAYS DISCARD (category="discard", score=0.0) these types:
- Order confirmations, receipts, invoices, billing statements
- Shipping/delivery notifications, tracking updates
- Social media alerts, Reddit digests, LinkedIn notifications
- Marketing promotions, flash sales, discount codes, coupon offers
- Automated notifications (Jira, GitHub bots, CI/CD, Dependabot)
- Appointment/lease/rent/property management notices
- Utility alerts, power outage notices
- Password resets, 2FA codes, login alerts, email verification
- Terms of service changes, app update announcements
- Food delivery order confirmations or promos
- Job listing alerts
- Health service billing or scheduling
- Service incident/status pages (e.g. "Feature Down", outage reports)
- Pure sports news/scores/game recaps (e.g. The Athletic, ESPN), unless the article is specifically about business strategy, technology, or analytics in sports
- Q&A aggregator digests (Quora Digest, etc.); these are not editorial newsletters
- Event invitations or RSVP requests with no editorial content
- Citizen science project announcements or crowdsourcing requests
- Product pricing/feature announcements from SaaS companies (unless they include substantive strategic analysis beyond just announcing the change)
- Any purely transactional or operational email with NO editorial content

Classify as "high_relevance" (score >= 0.7):
- Newsletter editions with analysis, commentary, or reporting on the user's high-priority topics
- Technical deep-dives, research, or industry reports on those topics
- Curated roundups or digests that cover those topics (even if mixed with other content)

Classify as "general_info" (score 0.5-0.69):
- Newsletters with substantive editorial content on tech, startups, business, science, engineering, venture capital, or thoughtful cultural analysis
- Curated link roundups from known newsletter platforms (Substack, Beehiiv, etc.) that contain real commentary or curation on intellectually interesting topics

IMPORTANT: Curated weekly digests and link roundups from editorial newsletters ARE substantive content; they represent curation and editorial judgment. Do NOT discard them as "promotional." If the sender is a known newsletter (Substack, Beehiiv, etc.) and the subject/preview suggests editorial content, KEEP it.

Return a JSON array with one object per email, in the same order as the input.`

const triageUserTemplate = "Classify the following %d email(s):\n\n%s"

const triageEmailTemplate = `--- Email %d ---
Subject: %s
From: %s
Preview: %s
---`

const chunkSummarySystem = `You are a concise summarizer. You will receive a chunk of newsletter or article content. Produce a brief, factual summary (3-5 sentences) capturing the key points. Preserve any specific names, numbers, dates, or URLs mentioned.`

const chunkSummaryUserTemplate = "Summarize this content chunk:\n\n%s"

const synthesisSystem = `You are a newsletter briefing writer. You receive extracted content from multiple newsletters and produce a single, cohesive Markdown briefing.

Rules:
1. Do NOT produce individual per-email summaries. Instead, write a **batch summary** grouped by topic (e.g., "AI Trends," "Design Updates," "DeFi & Markets").
2. Reference the specific newsletter names naturally within the prose (e.g., "According to *The Batch*...").
3. If a link was followed, include the original URL as a Markdown link for reference.
4. Keep the tone professional but conversational, like a smart analyst's morning brief.
5. Use Markdown headers (##) for topic sections.
6. End with a "Quick Hits" section for any remaining general-info items that don't warrant a full paragraph.`

const synthesisUserTemplate = "Here are today's extracted newsletter items. Synthesize them into a cohesive briefing.\n\n%s"

const synthesisItemTemplate = `--- Item ---
Source: %s
Topics: %s
Category: %s
Content:
%s
Link: %s
---`

func buildTriageSystem(topics []string) string {
	return fmt.Sprintf(triageSystemTemplate, strings.Join(topics, ", "))
}

func buildTriageEmail(index int, subject, sender, preview string) string {
	return fmt.Sprintf(triageEmailTemplate, index, subject, sender, preview)
}

func buildTriageUser(count int, blocks []string) string {
	return fmt.Sprintf(triageUserTemplate, count, strings.Join(blocks, "\n"))
}

func buildChunkSummaryUser(chunk string) string {
	return fmt.Sprintf(chunkSummaryUserTemplate, chunk)
}

func buildSynthesisItem(source, topics, category, content, link string) string {
	return fmt.Sprintf(synthesisItemTemplate, source, topics, category, content, link)
}

func buildSynthesisUser(blocks []string) string {
	return fmt.Sprintf(synthesisUserTemplate, strings.Join(blocks, "\n\n"))
}
