// Package rest implements the conversation, message and media-upload
// collaborators over the crmsyncd JSON API.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"crmsync/internal/app/compose"
	"crmsync/internal/domain/chat"
)

// Config defines API client settings.
type Config struct {
	BaseURL     string
	CallTimeout time.Duration
}

// Client is a typed client for the crmsyncd REST API. It satisfies the
// conversation store, message store and uploader contracts of the client
// core.
type Client struct {
	baseURL     string
	callTimeout time.Duration
	http        *http.Client
	logger      *slog.Logger
}

// NewClient validates the configuration and returns a ready client.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("rest: base url required")
	}
	callTimeout := cfg.CallTimeout
	if callTimeout <= 0 {
		callTimeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:     base,
		callTimeout: callTimeout,
		http:        &http.Client{Timeout: callTimeout},
		logger:      logger,
	}, nil
}

type conversationList struct {
	Items []chat.Conversation `json:"items"`
}

type messageList struct {
	Items []chat.Message `json:"items"`
}

type apiError struct {
	Error string `json:"error"`
}

// ListConversations returns the full conversation list in server order.
func (c *Client) ListConversations(ctx context.Context) ([]chat.Conversation, error) {
	var list conversationList
	if err := c.call(ctx, http.MethodGet, "/api/v1/conversations", nil, &list); err != nil {
		return nil, err
	}
	return list.Items, nil
}

// CreateConversation opens a new conversation with a lead on one channel.
func (c *Client) CreateConversation(ctx context.Context, leadID int64, channel chat.Channel, assigneeID *int64) (chat.Conversation, error) {
	body := map[string]any{"lead_id": leadID, "channel": channel}
	if assigneeID != nil {
		body["assignee_id"] = *assigneeID
	}
	var conv chat.Conversation
	if err := c.call(ctx, http.MethodPost, "/api/v1/conversations", body, &conv); err != nil {
		return chat.Conversation{}, err
	}
	return conv, nil
}

// FindConversationByLead returns the lead's conversation, nil when none
// exists.
func (c *Client) FindConversationByLead(ctx context.Context, leadID int64) (*chat.Conversation, error) {
	var list conversationList
	path := fmt.Sprintf("/api/v1/conversations?lead_id=%d", leadID)
	if err := c.call(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	if len(list.Items) == 0 {
		return nil, nil
	}
	conv := list.Items[0]
	return &conv, nil
}

// DeleteConversation removes a conversation. A missing id maps to
// chat.ErrConversationNotFound so racing deletes stay idempotent.
func (c *Client) DeleteConversation(ctx context.Context, id int64) error {
	return c.call(ctx, http.MethodDelete, fmt.Sprintf("/api/v1/conversations/%d", id), nil, nil)
}

// MarkRead clears the server-side unread counter for a conversation.
func (c *Client) MarkRead(ctx context.Context, id int64) error {
	return c.call(ctx, http.MethodPost, fmt.Sprintf("/api/v1/conversations/%d/read", id), nil, nil)
}

// ListMessages returns a conversation's messages in sent order.
func (c *Client) ListMessages(ctx context.Context, conversationID int64) ([]chat.Message, error) {
	var list messageList
	path := fmt.Sprintf("/api/v1/conversations/%d/messages", conversationID)
	if err := c.call(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	return list.Items, nil
}

// SendMessage dispatches an outgoing message and returns the stored result.
func (c *Client) SendMessage(ctx context.Context, out chat.Outgoing) (chat.Message, error) {
	var msg chat.Message
	path := fmt.Sprintf("/api/v1/conversations/%d/messages", out.ConversationID)
	if err := c.call(ctx, http.MethodPost, path, out, &msg); err != nil {
		return chat.Message{}, err
	}
	return msg, nil
}

// Upload posts an attachment as multipart form data and returns the durable
// object metadata.
func (c *Client) Upload(ctx context.Context, att compose.Attachment) (compose.Uploaded, error) {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, err := form.CreateFormFile("file", att.Name)
	if err != nil {
		return compose.Uploaded{}, fmt.Errorf("rest: build upload form: %w", err)
	}
	if _, err := part.Write(att.Data); err != nil {
		return compose.Uploaded{}, fmt.Errorf("rest: build upload form: %w", err)
	}
	if att.MimeType != "" {
		if err := form.WriteField("mime_type", att.MimeType); err != nil {
			return compose.Uploaded{}, fmt.Errorf("rest: build upload form: %w", err)
		}
	}
	if err := form.Close(); err != nil {
		return compose.Uploaded{}, fmt.Errorf("rest: build upload form: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/uploads", &buf)
	if err != nil {
		return compose.Uploaded{}, err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return compose.Uploaded{}, fmt.Errorf("rest: upload: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return compose.Uploaded{}, c.responseError(resp)
	}

	var uploaded struct {
		URL      string `json:"url"`
		Filename string `json:"filename"`
		MimeType string `json:"mime_type"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&uploaded); err != nil {
		return compose.Uploaded{}, fmt.Errorf("rest: decode upload response: %w", err)
	}
	return compose.Uploaded{URL: uploaded.URL, Filename: uploaded.Filename, MimeType: uploaded.MimeType}, nil
}

// call performs one JSON request with the configured timeout and decodes
// the response into out when non-nil.
func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("rest: encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("rest: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return chat.ErrConversationNotFound
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return c.responseError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("rest: decode response: %w", err)
	}
	return nil
}

// responseError surfaces the server-provided message when the body carries
// one, with a generic status fallback otherwise.
func (c *Client) responseError(resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var apiErr apiError
	if err := json.Unmarshal(snippet, &apiErr); err == nil && apiErr.Error != "" {
		return fmt.Errorf("rest: %s", apiErr.Error)
	}
	return fmt.Errorf("rest: server returned %d", resp.StatusCode)
}
