// Package wetty provides the Go client SDK for the wetty chat backend.
//
// It covers the request/response API (chats, messages, members) and the
// real-time synchronization engine: a resilient push-channel connection, a
// per-chat ordered message cache, and the session that reconciles optimistic
// local sends with server-confirmed copies.
//
// Example:
//
//	client := wetty.NewClient("http://localhost:3000", wetty.WithUID(7))
//	session := wetty.NewSession(client)
//	defer session.Close()
//
//	session.Subscribe(wetty.Observer{
//		OnConversationChanged: func(chatID wetty.ID) { /* re-render */ },
//	})
//	session.Start(ctx)
//
//	session.LoadInitial(ctx, chatID)
//	session.Send(ctx, chatID, "hello", nil)
package wetty

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultTimeout bounds every request/response call.
	DefaultTimeout = 30 * time.Second
)

// ============================================================================
// Client
// ============================================================================

// Client is the request/response API client. All mutating actions go through
// it; the push channel is receive-only from the application's perspective.
type Client struct {
	baseURL    string
	uid        int
	httpClient *http.Client
	log        *slog.Logger
}

type ClientOption func(*Client)

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

// WithUID sets the local user identity carried on requests and on the push
// connection URL.
func WithUID(uid int) ClientOption {
	return func(c *Client) { c.uid = uid }
}

func WithLogger(log *slog.Logger) ClientOption {
	return func(c *Client) { c.log = log }
}

// NewClient creates a new wetty API client.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		log: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// UID returns the local user identity configured on the client.
func (c *Client) UID() int { return c.uid }

// WSURL returns the push-channel URL for the configured user.
func (c *Client) WSURL() string {
	base := strings.Replace(c.baseURL, "https://", "wss://", 1)
	base = strings.Replace(base, "http://", "ws://", 1)
	return base + "/ws?uid=" + strconv.Itoa(c.uid)
}

// ============================================================================
// Internal request helper
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query map[string]string) ([]byte, error) {
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
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Uid", strconv.Itoa(c.uid))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		return nil, &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}
	return data, nil
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

// ============================================================================
// Messages
// ============================================================================

// ListMessages fetches one page of chat history, newest first.
func (c *Client) ListMessages(ctx context.Context, chatID ID, opts *ListMessagesOptions) (*ListMessagesResponse, error) {
	var query map[string]string
	if opts != nil {
		query = map[string]string{}
		if opts.Before != "" {
			query["before"] = string(opts.Before)
		}
		if opts.Max > 0 {
			query["max"] = strconv.Itoa(opts.Max)
		}
	}
	data, err := c.doRequest(ctx, "GET", "/chats/"+string(chatID)+"/messages", nil, query)
	if err != nil {
		return nil, err
	}
	return decodeJSON[ListMessagesResponse](data)
}

// SendMessage sends a message and returns the server-confirmed copy.
func (c *Client) SendMessage(ctx context.Context, chatID ID, opts *SendMessageOptions) (*Message, error) {
	if opts == nil || opts.ClientGeneratedID == "" {
		return nil, fmt.Errorf("wetty: client_generated_id is required")
	}
	data, err := c.doRequest(ctx, "POST", "/chats/"+string(chatID)+"/messages", opts, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Message](data)
}

// EditMessage replaces a message's body and returns the updated copy.
func (c *Client) EditMessage(ctx context.Context, chatID, messageID ID, body string) (*Message, error) {
	data, err := c.doRequest(ctx, "PATCH", "/chats/"+string(chatID)+"/messages/"+string(messageID),
		map[string]string{"message": body}, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Message](data)
}

// DeleteMessage soft-deletes a message.
func (c *Client) DeleteMessage(ctx context.Context, chatID, messageID ID) error {
	_, err := c.doRequest(ctx, "DELETE", "/chats/"+string(chatID)+"/messages/"+string(messageID), nil, nil)
	return err
}

// ============================================================================
// Chats and members
// ============================================================================

// ListChats fetches the chats the user participates in.
func (c *Client) ListChats(ctx context.Context) ([]Chat, error) {
	data, err := c.doRequest(ctx, "GET", "/chats", nil, nil)
	if err != nil {
		return nil, err
	}
	chats, err := decodeJSON[[]Chat](data)
	if err != nil {
		return nil, err
	}
	return *chats, nil
}

// CreateChat creates a chat with the user as its first member.
func (c *Client) CreateChat(ctx context.Context, opts *CreateChatOptions) (*Chat, error) {
	if opts == nil || opts.Name == "" {
		return nil, fmt.Errorf("wetty: chat name is required")
	}
	data, err := c.doRequest(ctx, "POST", "/chats", opts, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Chat](data)
}

// ListMembers fetches the members of a chat.
func (c *Client) ListMembers(ctx context.Context, chatID ID) ([]Member, error) {
	data, err := c.doRequest(ctx, "GET", "/chats/"+string(chatID)+"/members", nil, nil)
	if err != nil {
		return nil, err
	}
	members, err := decodeJSON[[]Member](data)
	if err != nil {
		return nil, err
	}
	return *members, nil
}

// Health checks backend availability.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.doRequest(ctx, "GET", "/health", nil, nil)
	return err
}
