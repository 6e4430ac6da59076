// Package rest implements the client side of the messaging REST contract.
// The endpoints themselves are collaborator-owned; this package only encodes
// requests and decodes responses.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lfarroco/claimchat/internal/model"
)

// DefaultTimeout bounds every REST call.
const DefaultTimeout = 15 * time.Second

// APIError is a non-2xx response decoded from the server's error body.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error: HTTP %d", e.Status)
	}
	return fmt.Sprintf("api error: HTTP %d: %s", e.Status, e.Message)
}

// Client talks to the messaging REST API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout overrides the request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// NewClient creates a REST client for the given base URL and bearer token.
func NewClient(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListConversations fetches the conversation summaries.
func (c *Client) ListConversations(ctx context.Context) ([]model.Conversation, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/conversations", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	var convs []model.Conversation
	if err := json.Unmarshal(body, &convs); err != nil {
		return nil, fmt.Errorf("list conversations: decode: %w", err)
	}
	return convs, nil
}

// ListMessages fetches a bounded page of messages for a conversation.
// The server returns them newest-first; they are passed through as received.
func (c *Client) ListMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	query := map[string]string{}
	if limit > 0 {
		query["limit"] = strconv.Itoa(limit)
	}
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages"
	body, err := c.doRequest(ctx, http.MethodGet, path, nil, query)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	var msgs []model.Message
	if err := json.Unmarshal(body, &msgs); err != nil {
		return nil, fmt.Errorf("list messages: decode: %w", err)
	}
	return msgs, nil
}

// SendMessage posts a new message. clientID is the correlation id carried
// through to the server echo.
func (c *Client) SendMessage(ctx context.Context, conversationID, content, clientID string) (*model.Message, error) {
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages"
	payload := map[string]string{"content": content}
	if clientID != "" {
		payload["clientId"] = clientID
	}
	body, err := c.doRequest(ctx, http.MethodPost, path, payload, nil)
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	var msg model.Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("send message: decode: %w", err)
	}
	return &msg, nil
}

// MarkRead acknowledges all messages in a conversation as read.
func (c *Client) MarkRead(ctx context.Context, conversationID string) error {
	path := "/conversations/" + url.PathEscape(conversationID) + "/read"
	if _, err := c.doRequest(ctx, http.MethodPost, path, nil, nil); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// ListContacts fetches contacts with presence flags, optionally filtered by role.
func (c *Client) ListContacts(ctx context.Context, role model.Role) ([]model.Contact, error) {
	var query map[string]string
	if role != "" {
		query = map[string]string{"role": string(role)}
	}
	body, err := c.doRequest(ctx, http.MethodGet, "/contacts", nil, query)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	var contacts []model.Contact
	if err := json.Unmarshal(body, &contacts); err != nil {
		return nil, fmt.Errorf("list contacts: decode: %w", err)
	}
	return contacts, nil
}

// StartConversation resolves the canonical conversation for a contact,
// creating it server-side if needed. Idempotent by contract: concurrent
// calls for the same contact yield the same conversation.
func (c *Client) StartConversation(ctx context.Context, contactID string) (*model.Conversation, error) {
	payload := map[string]string{"contactId": contactID}
	body, err := c.doRequest(ctx, http.MethodPost, "/conversations:getOrCreate", payload, nil)
	if err != nil {
		return nil, fmt.Errorf("start conversation: %w", err)
	}
	var conv model.Conversation
	if err := json.Unmarshal(body, &conv); err != nil {
		return nil, fmt.Errorf("start conversation: decode: %w", err)
	}
	return &conv, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, body any, query map[string]string) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var decoded struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &decoded) == nil {
			apiErr.Message = decoded.Error
			if apiErr.Message == "" {
				apiErr.Message = decoded.Message
			}
		}
		return nil, apiErr
	}
	return data, nil
}
