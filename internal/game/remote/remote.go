// Package remote implements the tool host's GameHost interface against a
// remote game collaborator speaking a small JSON-over-HTTP action API.
//
// Every builtin tool maps to POST {base}/v1/actions/{action} with a JSON body
// carrying the action parameters. The collaborator answers 200 with
// {"outcome": "..."} describing what happened in the world, or a non-200
// status with {"error": "..."}.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/emberforge/questpilot/internal/game"
	"github.com/emberforge/questpilot/internal/toolhost"
)

// Compile-time interface assertion.
var _ toolhost.GameHost = (*Client)(nil)

const defaultTimeout = 15 * time.Second

// Option is a functional option for configuring a [Client].
type Option func(*Client)

// WithTimeout sets the per-action HTTP timeout. Defaults to 15s.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithAPIKey sets a bearer token sent with every action request.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// Client forwards game actions to the remote collaborator.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a [Client] for the collaborator at baseURL
// (e.g., "http://localhost:9100").
func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(baseURL, "/")
	if _, err := url.Parse(baseURL); err != nil || baseURL == "" {
		return nil, fmt.Errorf("remote: invalid base URL %q", baseURL)
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// actionResponse is the collaborator's answer to an action request.
type actionResponse struct {
	Outcome string `json:"outcome"`
	Error   string `json:"error"`
}

// do posts one action and returns the collaborator's outcome text.
func (c *Client) do(ctx context.Context, action string, params any) (string, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("remote: encode %s params: %w", action, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/actions/"+action, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("remote: build %s request: %w", action, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("remote: %s: %w", action, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("remote: read %s response: %w", action, err)
	}

	var ar actionResponse
	if err := json.Unmarshal(raw, &ar); err != nil {
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("remote: %s: status %d", action, resp.StatusCode)
		}
		return "", fmt.Errorf("remote: decode %s response: %w", action, err)
	}
	if resp.StatusCode != http.StatusOK {
		if ar.Error != "" {
			return "", fmt.Errorf("remote: %s: %s", action, ar.Error)
		}
		return "", fmt.Errorf("remote: %s: status %d", action, resp.StatusCode)
	}
	if ar.Outcome == "" {
		return "", errors.New("remote: " + action + ": empty outcome")
	}
	return ar.Outcome, nil
}

// Move implements toolhost.GameHost.
func (c *Client) Move(ctx context.Context, to game.Position) (string, error) {
	return c.do(ctx, "move", map[string]any{"to": to})
}

// Interact implements toolhost.GameHost.
func (c *Client) Interact(ctx context.Context, entityID string) (string, error) {
	return c.do(ctx, "interact", map[string]any{"entity_id": entityID})
}

// Attack implements toolhost.GameHost.
func (c *Client) Attack(ctx context.Context, targetID string) (string, error) {
	return c.do(ctx, "attack", map[string]any{"target_id": targetID})
}

// UseItem implements toolhost.GameHost.
func (c *Client) UseItem(ctx context.Context, itemID string) (string, error) {
	return c.do(ctx, "use_item", map[string]any{"item_id": itemID})
}

// Speak implements toolhost.GameHost.
func (c *Client) Speak(ctx context.Context, npcID string, text string) (string, error) {
	return c.do(ctx, "speak", map[string]any{"npc_id": npcID, "text": text})
}

// Inspect implements toolhost.GameHost.
func (c *Client) Inspect(ctx context.Context, entityID string) (string, error) {
	return c.do(ctx, "inspect", map[string]any{"entity_id": entityID})
}

// Craft implements toolhost.GameHost.
func (c *Client) Craft(ctx context.Context, recipe string) (string, error) {
	return c.do(ctx, "craft", map[string]any{"recipe": recipe})
}

// Trade implements toolhost.GameHost.
func (c *Client) Trade(ctx context.Context, npcID string, offerItemID string, wantItemID string) (string, error) {
	return c.do(ctx, "trade", map[string]any{
		"npc_id":        npcID,
		"offer_item_id": offerItemID,
		"want_item_id":  wantItemID,
	})
}
