package gmail

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"newsletter-briefing/internal/logger"
	"newsletter-briefing/internal/model"
	"newsletter-briefing/internal/service"
)

const (
	user            = "me"
	modifyBatchSize = 1000
)

type gmailClient struct {
	client    *gmail.Service
	recipient string
	fetcher   *batchFetcher
	logger    *logger.Logger
}

// NewGmailClient wraps an authorized HTTP client. recipient may be empty, in
// which case briefings go to the authenticated account.
func NewGmailClient(ctx context.Context, httpClient *http.Client, recipient string, logger *logger.Logger, opts ...option.ClientOption) (service.GmailClient, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(httpClient)}, opts...)
	gmailService, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}

	g := &gmailClient{
		client:    gmailService,
		recipient: recipient,
		logger:    logger,
	}
	g.fetcher = newBatchFetcher(g.getMessage, logger)
	return g, nil
}

func (g *gmailClient) getMessage(ctx context.Context, id string) (*gmail.Message, error) {
	return g.client.Users.Messages.Get(user, id).Format("full").Context(ctx).Do()
}

func (g *gmailClient) FetchMessages(ctx context.Context, query string, since time.Time) (*model.FetchResult, error) {
	if !since.IsZero() {
		query = fmt.Sprintf("%s after:%d", query, since.Unix())
	}
	g.logger.Info("Gmail query:", query)

	var ids []string
	pageToken := ""
	for {
		call := g.client.Users.Messages.List(user).Q(query).Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("failed to list messages: %w", err)
		}
		for _, m := range resp.Messages {
			ids = append(ids, m.Id)
		}
		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}

	g.logger.Infof("Found %d message IDs, fetching bodies in batches", len(ids))

	fetched, failed, err := g.fetcher.fetchAll(ctx, ids)
	if err != nil {
		return nil, err
	}

	result := &model.FetchResult{FailedIDs: failed}
	for _, msg := range fetched {
		if raw := g.parseMessage(msg); raw != nil {
			result.Messages = append(result.Messages, raw)
		}
	}

	g.logger.Infof("Fetched %d messages (%d still rate-limited)", len(result.Messages), len(failed))
	return result, nil
}

func (g *gmailClient) parseMessage(msg *gmail.Message) *model.RawMessage {
	if msg.Payload == nil {
		g.logger.Warn("Malformed message, skipping:", msg.Id)
		return nil
	}

	headers := make(map[string]string, len(msg.Payload.Headers))
	for _, header := range msg.Payload.Headers {
		headers[strings.ToLower(header.Name)] = header.Value
	}

	subject := headers["subject"]
	if subject == "" {
		subject = "(no subject)"
	}
	sender := headers["from"]
	if sender == "" {
		sender = "unknown"
	}

	var htmlParts, textParts []string
	g.extractBody(msg.Payload, &htmlParts, &textParts)

	raw := model.NewRawMessage(
		msg.Id,
		subject,
		sender,
		msg.Snippet,
		strings.Join(htmlParts, "\n"),
		strings.Join(textParts, "\n"),
		time.UnixMilli(msg.InternalDate).UTC(),
	)
	raw.Date = headers["date"]
	return raw
}

// extractBody walks the MIME tree collecting every text/html and text/plain part.
func (g *gmailClient) extractBody(part *gmail.MessagePart, htmlParts, textParts *[]string) {
	if part == nil {
		return
	}

	if part.Body != nil && part.Body.Data != "" {
		switch part.MimeType {
		case "text/html", "text/plain":
			decoded, err := decodeBase64URL(part.Body.Data)
			if err != nil {
				g.logger.Error("Failed to decode email body:", err)
				break
			}
			if part.MimeType == "text/html" {
				*htmlParts = append(*htmlParts, decoded)
			} else {
				*textParts = append(*textParts, decoded)
			}
		}
	}

	for _, sub := range part.Parts {
		g.extractBody(sub, htmlParts, textParts)
	}
}

func decodeBase64URL(data string) (string, error) {
	decoded, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		decoded, err = base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
		if err != nil {
			return "", err
		}
	}
	return strings.ToValidUTF8(string(decoded), "�"), nil
}

func (g *gmailClient) SendBriefing(ctx context.Context, htmlBody, subject string) error {
	recipient := g.recipient
	if recipient == "" {
		profile, err := g.client.Users.GetProfile(user).Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("failed to get profile: %w", err)
		}
		recipient = profile.EmailAddress
	}

	raw, err := buildMIME(recipient, subject, htmlBody, time.Now())
	if err != nil {
		return err
	}

	_, err = g.client.Users.Messages.Send(user, &gmail.Message{
		Raw: base64.URLEncoding.EncodeToString(raw),
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to send briefing: %w", err)
	}

	g.logger.Info("Briefing sent to", recipient)
	return nil
}

// buildMIME produces a single-part HTML message.
func buildMIME(recipient, subject, htmlBody string, date time.Time) ([]byte, error) {
	var h mail.Header
	h.SetDate(date)
	h.SetAddressList("To", []*mail.Address{{Address: recipient}})
	h.SetSubject(subject)
	h.SetContentType("text/html", map[string]string{"charset": "utf-8"})

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create message writer: %w", err)
	}
	if _, err := w.Write([]byte(htmlBody)); err != nil {
		return nil, fmt.Errorf("failed to write message body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish message: %w", err)
	}
	return buf.Bytes(), nil
}

func (g *gmailClient) EnsureLabel(ctx context.Context, name string) (string, error) {
	labels, err := g.client.Users.Labels.List(user).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to list labels: %w", err)
	}
	for _, label := range labels.Labels {
		if label.Name == name {
			g.logger.Debugf("Found existing label '%s' (id=%s)", name, label.Id)
			return label.Id, nil
		}
	}

	created, err := g.client.Users.Labels.Create(user, &gmail.Label{
		Name:                  name,
		LabelListVisibility:   "labelShow",
		MessageListVisibility: "show",
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to create label %q: %w", name, err)
	}

	g.logger.Infof("Created Gmail label '%s' (id=%s)", name, created.Id)
	return created.Id, nil
}

func (g *gmailClient) MarkAsRead(ctx context.Context, messageIDs []string) error {
	err := g.batchModify(ctx, messageIDs, &gmail.BatchModifyMessagesRequest{
		RemoveLabelIds: []string{"UNREAD"},
	})
	if err != nil {
		return fmt.Errorf("failed to mark messages as read: %w", err)
	}
	if len(messageIDs) > 0 {
		g.logger.Infof("Marked %d messages as read", len(messageIDs))
	}
	return nil
}

func (g *gmailClient) AddLabel(ctx context.Context, messageIDs []string, labelID string) error {
	err := g.batchModify(ctx, messageIDs, &gmail.BatchModifyMessagesRequest{
		AddLabelIds: []string{labelID},
	})
	if err != nil {
		return fmt.Errorf("failed to label messages: %w", err)
	}
	if len(messageIDs) > 0 {
		g.logger.Infof("Moved %d messages to label %s", len(messageIDs), labelID)
	}
	return nil
}

func (g *gmailClient) batchModify(ctx context.Context, messageIDs []string, tmpl *gmail.BatchModifyMessagesRequest) error {
	for start := 0; start < len(messageIDs); start += modifyBatchSize {
		end := start + modifyBatchSize
		if end > len(messageIDs) {
			end = len(messageIDs)
		}
		req := *tmpl
		req.Ids = messageIDs[start:end]
		if err := g.client.Users.Messages.BatchModify(user, &req).Context(ctx).Do(); err != nil {
			return err
		}
	}
	return nil
}
