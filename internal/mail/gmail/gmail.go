// Package gmail sends conversation messages through the Gmail REST API.
// After a send the stored message is read back for the Message-ID Gmail delivered
// with, since replies from the carrier reference that id.
package gmail

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/loadline/negotiator/internal/app"
)

const (
	// DefaultAPIBase is the Gmail API root.
	DefaultAPIBase = "https://gmail.googleapis.com/gmail/v1"

	sendEndpoint    = "/users/me/messages/send"
	messageEndpoint = "/users/me/messages/"
)

// TokenSource provides OAuth access tokens per user.
type TokenSource interface {
	AccessToken(ctx context.Context, userID string) (string, error)
}

// StaticTokenSource returns the same token for every user.
type StaticTokenSource string

// AccessToken implements TokenSource.
func (s StaticTokenSource) AccessToken(context.Context, string) (string, error) {
	if s == "" {
		return "", errors.New("gmail: no access token configured")
	}
	return string(s), nil
}

// Sender implements app.Mailer.
type Sender struct {
	tokens     TokenSource
	httpClient *http.Client
	baseURL    string
}

// Option configures the sender.
type Option func(*Sender)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Sender) { s.httpClient = c }
}

// WithBaseURL overrides the API root.
func WithBaseURL(url string) Option {
	return func(s *Sender) {
		if url != "" {
			s.baseURL = strings.TrimRight(url, "/")
		}
	}
}

// New returns a Sender.
func New(tokens TokenSource, opts ...Option) *Sender {
	s := &Sender{
		tokens:     tokens,
		httpClient: http.DefaultClient,
		baseURL:    DefaultAPIBase,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type sendRequest struct {
	Raw      string `json:"raw"`
	ThreadID string `json:"threadId,omitempty"`
}

type sendResponse struct {
	ID       string `json:"id"`
	ThreadID string `json:"threadId"`
}

type metadataResponse struct {
	Payload struct {
		Headers []struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"headers"`
	} `json:"payload"`
}

// Send delivers msg. Failures are returned as errors; nothing is retried here.
func (s *Sender) Send(ctx context.Context, msg app.OutboundEmail) (app.SendReceipt, error) {
	if msg.To == "" {
		return app.SendReceipt{}, errors.New("gmail: missing recipient")
	}
	token, err := s.tokens.AccessToken(ctx, msg.UserID)
	if err != nil {
		return app.SendReceipt{}, fmt.Errorf("gmail token: %w", err)
	}

	body, err := json.Marshal(sendRequest{
		Raw:      base64.RawURLEncoding.EncodeToString(BuildRawMessage(msg)),
		ThreadID: msg.ThreadID,
	})
	if err != nil {
		return app.SendReceipt{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+sendEndpoint, bytes.NewReader(body))
	if err != nil {
		return app.SendReceipt{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	var out sendResponse
	if err := s.do(req, token, &out); err != nil {
		return app.SendReceipt{}, err
	}
	receipt := app.SendReceipt{ProviderMessageID: out.ID, ThreadID: out.ThreadID}
	if out.ID != "" {
		// The message is already sent; a failed lookup only loses the rewritten id.
		receipt.MessageID, _ = s.messageID(ctx, token, out.ID)
	}
	return receipt, nil
}

// messageID returns the Message-ID header of a stored message.
func (s *Sender) messageID(ctx context.Context, token, id string) (string, error) {
	q := url.Values{"format": {"metadata"}, "metadataHeaders": {"Message-ID"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+messageEndpoint+url.PathEscape(id)+"?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	var out metadataResponse
	if err := s.do(req, token, &out); err != nil {
		return "", err
	}
	for _, h := range out.Payload.Headers {
		if strings.EqualFold(h.Name, "Message-ID") {
			return strings.Trim(strings.TrimSpace(h.Value), "<>"), nil
		}
	}
	return "", nil
}

func (s *Sender) do(req *http.Request, token string, out any) error {
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gmail request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("gmail read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gmail API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("gmail parse response: %w", err)
	}
	return nil
}

// BuildRawMessage renders msg as an RFC 5322 message. Header values are sanitized and
// non-ASCII subjects are Q-encoded.
func BuildRawMessage(msg app.OutboundEmail) []byte {
	var b bytes.Buffer
	header := func(name, value string) {
		if value = sanitizeHeader(value); value != "" {
			fmt.Fprintf(&b, "%s: %s\r\n", name, value)
		}
	}
	header("From", msg.From)
	header("To", msg.To)
	if len(msg.Cc) > 0 {
		header("Cc", strings.Join(msg.Cc, ", "))
	}
	header("Reply-To", msg.ReplyTo)
	header("Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	if msg.MessageID != "" {
		header("Message-ID", "<"+msg.MessageID+">")
	}
	if msg.InReplyTo != "" {
		header("In-Reply-To", "<"+msg.InReplyTo+">")
		header("References", "<"+msg.InReplyTo+">")
	}
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("Content-Transfer-Encoding: 8bit\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(strings.ReplaceAll(msg.Body, "\r\n", "\n"), "\n", "\r\n"))
	return b.Bytes()
}

func sanitizeHeader(v string) string {
	return strings.TrimSpace(strings.NewReplacer("\r", " ", "\n", " ").Replace(v))
}
