package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"carebot/internal/store"
)

// MailClient is a thin client for the mail gateway's REST API. The
// gateway owns the mailbox; this side only lists, searches, and sends.
type MailClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *slog.Logger
}

func NewMailClient(baseURL, apiKey string, logger *slog.Logger) *MailClient {
	return &MailClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

type EmailSummary struct {
	ID      string `json:"id"`
	From    string `json:"from"`
	Subject string `json:"subject"`
	Date    string `json:"date"`
	Snippet string `json:"snippet"`
}

func (c *MailClient) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("mail request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mail %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("mail read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(respBody))
		if len(msg) > 300 {
			msg = msg[:300]
		}
		return nil, fmt.Errorf("mail %s %s: status %d: %s", method, path, resp.StatusCode, msg)
	}
	return respBody, nil
}

func (c *MailClient) Recent(ctx context.Context, limit int) ([]EmailSummary, error) {
	body, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/emails?limit=%d", limit), nil)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Emails []EmailSummary `json:"emails"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode emails: %w", err)
	}
	return parsed.Emails, nil
}

func (c *MailClient) Search(ctx context.Context, query string, limit int) ([]EmailSummary, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("limit", fmt.Sprintf("%d", limit))
	body, err := c.do(ctx, http.MethodGet, "/api/emails/search?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Emails []EmailSummary `json:"emails"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode emails: %w", err)
	}
	return parsed.Emails, nil
}

func (c *MailClient) Send(ctx context.Context, to, subject, bodyText string) error {
	_, err := c.do(ctx, http.MethodPost, "/api/emails/send", map[string]any{
		"to":      to,
		"subject": subject,
		"body":    bodyText,
	})
	return err
}

// --- Tools ---

type GetRecentEmailsTool struct {
	mail *MailClient
}

func NewGetRecentEmailsTool(mail *MailClient) *GetRecentEmailsTool {
	return &GetRecentEmailsTool{mail: mail}
}

func (t *GetRecentEmailsTool) Name() string { return "getRecentEmails" }
func (t *GetRecentEmailsTool) Description() string {
	return "Get the most recent emails from the user's inbox."
}
func (t *GetRecentEmailsTool) Parameters() map[string]any {
	return ToolParameters(map[string]Param{
		"limit": {Type: "number", Description: "How many emails to return (default 5)"},
	}, nil)
}

func (t *GetRecentEmailsTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	limit := ArgsInt(args, "limit", 5)
	emails, err := t.mail.Recent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("recent emails: %w", err)
	}
	if emails == nil {
		emails = []EmailSummary{}
	}
	return map[string]any{"emails": emails, "count": len(emails)}, nil
}

type SearchEmailsTool struct {
	mail *MailClient
}

func NewSearchEmailsTool(mail *MailClient) *SearchEmailsTool {
	return &SearchEmailsTool{mail: mail}
}

func (t *SearchEmailsTool) Name() string { return "searchEmails" }
func (t *SearchEmailsTool) Description() string {
	return "Search the user's inbox by sender or keyword."
}
func (t *SearchEmailsTool) Parameters() map[string]any {
	return ToolParameters(map[string]Param{
		"query": {Type: "string", Description: "Search text, e.g. a sender name or subject keyword"},
		"limit": {Type: "number", Description: "How many results to return (default 5)"},
	}, []string{"query"})
}

func (t *SearchEmailsTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	emails, err := t.mail.Search(ctx, ArgsString(args, "query"), ArgsInt(args, "limit", 5))
	if err != nil {
		return nil, fmt.Errorf("search emails: %w", err)
	}
	if emails == nil {
		emails = []EmailSummary{}
	}
	return map[string]any{"emails": emails, "count": len(emails)}, nil
}

// SendEmailTool sends mail to a known contact. The recipient is named,
// not typed as an address; the address comes from the contacts table and
// sending is refused when no contact matches.
type SendEmailTool struct {
	mail  *MailClient
	store *store.Store
}

func NewSendEmailTool(mail *MailClient, s *store.Store) *SendEmailTool {
	return &SendEmailTool{mail: mail, store: s}
}

func (t *SendEmailTool) Name() string { return "sendEmail" }
func (t *SendEmailTool) Description() string {
	return "Send an email to one of the user's contacts. Always confirm with the user before sending. The recipient must be a saved contact name, e.g. 'Sarah'."
}
func (t *SendEmailTool) Parameters() map[string]any {
	return ToolParameters(map[string]Param{
		"to":      {Type: "string", Description: "Name of the contact to email"},
		"subject": {Type: "string", Description: "Email subject"},
		"body":    {Type: "string", Description: "Email body text"},
	}, []string{"to", "subject", "body"})
}

func (t *SendEmailTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	name := ArgsString(args, "to")
	contact, err := t.store.FindContactByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("find contact: %w", err)
	}
	if contact == nil || contact.Email == "" {
		return nil, &SuggestionError{
			Err:        fmt.Errorf("no contact with an email address matches %q", name),
			Suggestion: "Check getEmergencyContacts; add the contact's email before sending.",
		}
	}

	if err := t.mail.Send(ctx, contact.Email, ArgsString(args, "subject"), ArgsString(args, "body")); err != nil {
		return nil, fmt.Errorf("send email: %w", err)
	}
	return map[string]any{
		"success": true,
		"to":      contact.Name,
		"address": contact.Email,
	}, nil
}
