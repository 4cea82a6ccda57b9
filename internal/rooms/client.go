// Package rooms talks to the chat backend's REST surface: room
// lookup/create, paged message history, batched read acknowledgements
// and file uploads. It also hosts the RoomResolver that maps a
// (quote-request, counterpart) pair to its canonical room.
package rooms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"chatwire/pkg/types"
)

// TokenProvider supplies the bearer credential for backend calls and
// the websocket handshake.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenProvider for a fixed credential.
type StaticToken string

func (t StaticToken) Token(ctx context.Context) (string, error) {
	return string(t), nil
}

// Client is the REST collaborator client, scoped to one local
// participant so room creation and read acknowledgements carry the
// right identity.
type Client struct {
	baseURL   string
	actorID   string
	actorRole types.SenderRole
	tokens    TokenProvider
	httpc     *http.Client
	log       zerolog.Logger
}

// NewClient creates a backend client for the given participant.
func NewClient(baseURL, actorID string, actorRole types.SenderRole, tokens TokenProvider, logger zerolog.Logger) *Client {
	return &Client{
		baseURL:   baseURL,
		actorID:   actorID,
		actorRole: actorRole,
		tokens:    tokens,
		httpc:     &http.Client{Timeout: 15 * time.Second},
		log:       logger,
	}
}

// expertIDFor maps a counterpart id onto the room's expert seat: rooms
// are keyed by (requestId, expertId) regardless of which side asks.
func (c *Client) expertIDFor(counterpartID string) string {
	if c.actorRole == types.SenderRoleCustomer {
		return counterpartID
	}
	return c.actorID
}

func (c *Client) customerIDFor(counterpartID string) string {
	if c.actorRole == types.SenderRoleCustomer {
		return c.actorID
	}
	return counterpartID
}

// LookupRoom finds the existing room for a quote request and
// counterpart. Returns ErrRoomNotFound on a miss.
func (c *Client) LookupRoom(ctx context.Context, requestID, counterpartID string) (types.ChatRoom, error) {
	query := url.Values{}
	query.Set("requestId", requestID)
	query.Set("expertId", c.expertIDFor(counterpartID))

	var room types.ChatRoom
	if err := c.get(ctx, "/api/rooms?"+query.Encode(), &room); err != nil {
		return types.ChatRoom{}, err
	}
	return room, nil
}

// CreateRoom creates the room for a quote request and counterpart.
func (c *Client) CreateRoom(ctx context.Context, requestID, counterpartID string) (types.ChatRoom, error) {
	body := map[string]string{
		"requestId":  requestID,
		"customerId": c.customerIDFor(counterpartID),
		"expertId":   c.expertIDFor(counterpartID),
	}

	var room types.ChatRoom
	if err := c.post(ctx, "/api/rooms", body, &room); err != nil {
		return types.ChatRoom{}, err
	}
	return room, nil
}

// FetchMessages returns one history page, ascending by creation time.
// A zero before cursor fetches the newest page; otherwise only
// messages older than the cursor are returned.
func (c *Client) FetchMessages(ctx context.Context, roomID string, before types.MessageID, limit int) ([]types.Message, error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	if before > 0 {
		query.Set("before", strconv.FormatInt(int64(before), 10))
	}

	var payload struct {
		Messages []types.Message `json:"messages"`
	}
	path := fmt.Sprintf("/api/rooms/%s/messages?%s", url.PathEscape(roomID), query.Encode())
	if err := c.get(ctx, path, &payload); err != nil {
		return nil, err
	}
	return payload.Messages, nil
}

// AckRead acknowledges a batch of read messages in one call.
func (c *Client) AckRead(ctx context.Context, roomID string, ids []types.MessageID) error {
	body := map[string]any{
		"messageIds": ids,
		"readerId":   c.actorID,
	}
	path := fmt.Sprintf("/api/rooms/%s/read", url.PathEscape(roomID))
	return c.post(ctx, path, body, nil)
}

// UploadFile stores a file with the upload collaborator and returns
// the path to embed in a file message.
func (c *Client) UploadFile(ctx context.Context, filename string, r io.Reader) (string, error) {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, err := form.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("build upload form: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", fmt.Errorf("read upload payload: %w", err)
	}
	if err := form.Close(); err != nil {
		return "", fmt.Errorf("finish upload form: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/uploads", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	var payload struct {
		FilePath string `json:"filePath"`
	}
	if err := c.do(req, &payload); err != nil {
		return "", err
	}
	return payload.FilePath, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request body: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenUnavailable, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrRoomNotFound
	case resp.StatusCode >= 400:
		return fmt.Errorf("%w: %s returned %d", ErrRequestFailed, req.URL.Path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %w", ErrRequestFailed, err)
	}
	return nil
}
