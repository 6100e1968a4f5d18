package service

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var skipLinkPattern = regexp.MustCompile(`(?i)(unsubscribe|manage.preferences|mailto:|twitter\.com|facebook\.com|` +
	`instagram\.com|linkedin\.com/share|youtube\.com|t\.co/|bit\.ly|` +
	`list-manage\.com|mailchimp\.com|campaign-archive|view.in.browser|` +
	`privacy.policy|terms.of.service|\.png|\.jpg|\.gif|\.svg)`)

// Tracking and redirect infrastructure.
var skipLinkHosts = []string{
	"email.mg", "clicks.mlsend", "click.convertkit-mail",
	"trk.klclick", "t.dripemail2", "links.beehiiv",
}

var articleHosts = []string{"medium.com", "substack.com", "arxiv.org", "github.com"}

// ScoreLink rates how likely href is the primary article of a newsletter.
// Zero means the link must not be followed.
func ScoreLink(href, anchorText string) float64 {
	if skipLinkPattern.MatchString(href) {
		return 0
	}

	u, err := url.Parse(href)
	if err != nil {
		return 0
	}
	host := strings.ToLower(u.Host)
	for _, skip := range skipLinkHosts {
		if strings.Contains(host, skip) {
			return 0
		}
	}

	score := 0.5
	if runeLen(strings.TrimSpace(anchorText)) > 10 {
		score += 0.3
	}

	segments := 0
	for _, part := range strings.Split(u.Path, "/") {
		if part != "" {
			segments++
		}
	}
	if segments >= 2 {
		score += 0.2
	}

	for _, h := range articleHosts {
		if strings.Contains(host, h) {
			score += 0.1
			break
		}
	}

	return score
}

// FindBestLink returns the highest scoring http(s) link in body, the first one
// on ties, or "" when no link qualifies.
func FindBestLink(body string) string {
	if strings.TrimSpace(body) == "" {
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return ""
	}

	best := ""
	bestScore := 0.0
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		href = strings.TrimSpace(href)
		if !strings.HasPrefix(href, "http://") && !strings.HasPrefix(href, "https://") {
			return
		}
		if score := ScoreLink(href, a.Text()); score > bestScore {
			best, bestScore = href, score
		}
	})
	return best
}
