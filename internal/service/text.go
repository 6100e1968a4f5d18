package service

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

var invisibleChars = regexp.MustCompile(`[\x{200B}-\x{200F}\x{00AD}\x{2060}-\x{2064}\x{FEFF}\x{00A0}\x{034F}\x{061C}\x{115F}\x{1160}\x{17B4}\x{17B5}\x{FFA0}]`)

var excessNewlines = regexp.MustCompile(`\n{3,}`)

var bracketedAddress = regexp.MustCompile(`<([^>]+)>`)

var displayName = regexp.MustCompile(`^"?([^"<]+)"?\s*<`)

func stripInvisible(text string) string {
	return invisibleChars.ReplaceAllString(text, "")
}

func collapseNewlines(text string) string {
	return excessNewlines.ReplaceAllString(text, "\n\n")
}

// truncateRunes cuts s to at most n characters without splitting a code point.
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

func runeLen(s string) int {
	return len([]rune(s))
}

// htmlToText returns the trimmed text nodes of an HTML body, one per line,
// with non-content elements removed.
func htmlToText(body string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return "", err
	}
	doc.Find("script, style, head, meta, link").Remove()

	text := selectionText(doc.Selection)
	return strings.TrimSpace(collapseNewlines(stripInvisible(text))), nil
}

// selectionText joins the non-blank text nodes under sel with newlines.
func selectionText(sel *goquery.Selection) string {
	var parts []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				parts = append(parts, t)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}
	return strings.Join(parts, "\n")
}

// sourceName turns a From header into a display name:
// `"The Batch" <news@deeplearning.ai>` becomes "The Batch", a bare address
// becomes its local part.
func sourceName(sender string) string {
	if m := displayName.FindStringSubmatch(sender); m != nil {
		if name := strings.TrimSpace(m[1]); name != "" {
			return name
		}
	}
	local, _, _ := strings.Cut(sender, "@")
	return local
}

// senderKey is the canonical grouping key for the per-sender cap.
func senderKey(sender string) string {
	if m := bracketedAddress.FindStringSubmatch(sender); m != nil {
		return strings.ToLower(strings.TrimSpace(m[1]))
	}
	return strings.ToLower(strings.TrimSpace(sender))
}
