package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"

	"newsletter-briefing/internal/logger"
	"newsletter-briefing/internal/model"
)

const (
	articleUserAgent = "NewsletterBriefing/1.0"
	articleMaxChars  = 8000
	articleMaxBytes  = 5 << 20
)

type articleFetcher struct {
	httpClient *http.Client
	logger     *logger.Logger
}

// NewArticleFetcher returns a fetcher whose requests give up after timeout.
// Redirects are followed.
func NewArticleFetcher(timeout time.Duration, logger *logger.Logger) ArticleFetcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &articleFetcher{
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Fetch never reports a failed download as an error: network errors, non-2xx
// responses and non-HTML content all yield a nil article.
func (f *articleFetcher) Fetch(ctx context.Context, rawURL string) (*model.LinkedArticle, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", articleUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		f.logger.Warnf("Failed to fetch link %s: %v", rawURL, err)
		return nil, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		f.logger.Warnf("Failed to fetch link %s: status %d", rawURL, resp.StatusCode)
		return nil, nil
	}
	if !strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "html") {
		f.logger.Debugf("Skipping non-HTML link %s (%s)", rawURL, resp.Header.Get("Content-Type"))
		return nil, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, articleMaxBytes))
	if err != nil {
		f.logger.Warnf("Failed to read link %s: %v", rawURL, err)
		return nil, nil
	}

	article := &model.LinkedArticle{URL: rawURL}
	article.Text, err = articleText(body)
	if err != nil {
		f.logger.Warnf("Failed to parse link %s: %v", rawURL, err)
	}

	// Readability supplies the title, and the text when the element walk found none.
	pageURL := resp.Request.URL
	if pageURL == nil {
		pageURL, _ = url.Parse(rawURL)
	}
	if parsed, rerr := readability.NewParser().Parse(bytes.NewReader(body), pageURL); rerr == nil {
		article.Title = strings.TrimSpace(parsed.Title)
		if article.Text == "" {
			article.Text = cleanArticleText(parsed.TextContent)
		}
	} else {
		f.logger.Debugf("Readability could not parse %s: %v", rawURL, rerr)
	}

	if article.Text == "" {
		return nil, nil
	}
	return article, nil
}

// articleText extracts text from the first <article>, <main> or <body>
// once page chrome has been removed.
func articleText(body []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	doc.Find("script, style, nav, footer, header, aside, iframe").Remove()

	for _, tag := range []string{"article", "main", "body"} {
		if sel := doc.Find(tag).First(); sel.Length() > 0 {
			return cleanArticleText(selectionText(sel)), nil
		}
	}
	return "", nil
}

func cleanArticleText(text string) string {
	text = collapseNewlines(strings.TrimSpace(text))
	return stripInvisible(truncateRunes(text, articleMaxChars))
}
