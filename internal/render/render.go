// Package render turns briefing markdown into an email-safe HTML document.
// Mail clients strip <style> blocks, so every element carries its own style
// attribute and layout uses presentational tables.
package render

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/russross/blackfriday/v2"
)

const font = "-apple-system,BlinkMacSystemFont,Segoe UI,Roboto,Helvetica,Arial,sans-serif"

var elementStyles = []struct {
	selector string
	style    string
}{
	{"h1", "margin:0 0 16px 0; font-family:" + font + "; font-size:24px; font-weight:700; color:#1a1a2e; line-height:1.3;"},
	{"h2", "margin:28px 0 12px 0; padding-bottom:8px; border-bottom:2px solid #e8e8e8; font-family:" + font + "; font-size:20px; font-weight:700; color:#1a1a2e; line-height:1.3;"},
	{"h3", "margin:20px 0 8px 0; font-family:Arial,Helvetica,sans-serif; font-size:16px; font-weight:700; color:#2d3436; line-height:1.4;"},
	{"p", "margin:0 0 16px 0; font-family:" + font + "; font-size:16px; line-height:1.7; color:#2d3436;"},
	{"a", "color:#0f3460; text-decoration:underline; text-underline-offset:2px;"},
	{"strong", "color:#1a1a2e; font-weight:700;"},
	{"ul", "margin:0 0 16px 0; padding-left:20px; font-family:" + font + "; font-size:16px; line-height:1.7; color:#2d3436;"},
	{"ol", "margin:0 0 16px 0; padding-left:20px; font-family:" + font + "; font-size:16px; line-height:1.7; color:#2d3436;"},
	{"li", "margin:0 0 8px 0; padding-left:4px;"},
	{"blockquote", "margin:16px 0; padding:12px 20px; border-left:3px solid #0f3460; background-color:#f8f9fa; font-style:italic; color:#555;"},
	{"pre", "margin:0 0 16px 0; padding:12px 16px; background-color:#f8f9fa; border-radius:4px; overflow-x:auto;"},
	{"code", "font-family:Menlo,Consolas,monospace; font-size:14px; color:#2d3436;"},
}

const divider = `<table role="presentation" width="100%" cellpadding="0" cellspacing="0" border="0" style="margin:24px 0;"><tr><td style="border-top:1px solid #e8e8e8; height:1px; line-height:1px; font-size:1px;">&nbsp;</td></tr></table>`

var page = template.Must(template.New("briefing").Parse(`<!DOCTYPE html>
<html lang="en" xmlns="http://www.w3.org/1999/xhtml">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<meta http-equiv="X-UA-Compatible" content="IE=edge">
<title>Newsletter Briefing</title>
</head>
<body style="margin:0; padding:0; background-color:#f4f4f7; -webkit-text-size-adjust:100%; -ms-text-size-adjust:100%;">
<table role="presentation" width="100%" cellpadding="0" cellspacing="0" border="0" style="background-color:#f4f4f7;">
<tr><td align="center" style="padding:24px 16px;">
<table role="presentation" width="600" cellpadding="0" cellspacing="0" border="0" style="max-width:600px; width:100%; background-color:#ffffff; border-radius:8px; overflow:hidden; box-shadow:0 1px 3px rgba(0,0,0,0.08);">
<tr>
<td style="background-color:#1a1a2e; background:linear-gradient(135deg, #1a1a2e 0%, #16213e 50%, #0f3460 100%); padding:32px 40px 28px 40px; text-align:left;">
  <p style="margin:0 0 4px 0; font-family:Arial,Helvetica,sans-serif; font-size:11px; letter-spacing:2px; text-transform:uppercase; color:#7ec8e3; font-weight:600;">Newsletter Intelligence</p>
  <h1 style="margin:0 0 8px 0; font-family:{{.Font}}; font-size:26px; font-weight:700; color:#ffffff; line-height:1.2;">Daily Briefing</h1>
  <p style="margin:0; font-family:Arial,Helvetica,sans-serif; font-size:13px; color:#a8b2d1;">{{.Date}}</p>
</td>
</tr>
<tr>
<td style="padding:32px 40px 16px 40px; font-family:{{.Font}}; font-size:16px; line-height:1.7; color:#2d3436;">
{{.Body}}
</td>
</tr>
<tr>
<td style="padding:0 40px;">{{.Divider}}</td>
</tr>
<tr>
<td style="padding:20px 40px 28px 40px; text-align:center;">
  <p style="margin:0; font-family:Arial,Helvetica,sans-serif; font-size:12px; color:#999; line-height:1.5;">Curated by Newsletter Intelligence Agent</p>
</td>
</tr>
</table>
</td></tr>
</table>
</body>
</html>
`))

type pageData struct {
	Font    template.CSS
	Date    string
	Body    template.HTML
	Divider template.HTML
}

// Markdown converts markdown into an HTML fragment with inline styles.
func Markdown(md string) (string, error) {
	raw := blackfriday.Run([]byte(md), blackfriday.WithExtensions(blackfriday.CommonExtensions))

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("failed to parse rendered markdown: %w", err)
	}

	for _, es := range elementStyles {
		doc.Find(es.selector).SetAttr("style", es.style)
	}
	doc.Find("hr").ReplaceWithHtml(divider)

	body, err := doc.Find("body").Html()
	if err != nil {
		return "", fmt.Errorf("failed to serialize rendered markdown: %w", err)
	}
	return strings.TrimSpace(body), nil
}

// Email renders md as a complete HTML email dated now.
func Email(md string, now time.Time) (string, error) {
	body, err := Markdown(md)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	err = page.Execute(&buf, pageData{
		Font:    template.CSS(font),
		Date:    now.UTC().Format("Monday, January 2, 2006"),
		Body:    template.HTML(body),
		Divider: template.HTML(divider),
	})
	if err != nil {
		return "", fmt.Errorf("failed to render briefing page: %w", err)
	}
	return buf.String(), nil
}
