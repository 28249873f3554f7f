package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"arenabot/internal/session"
)

// APIError is a non-2xx answer from the gateway.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}

// IsStale reports whether the gateway rejected an action because the
// session already moved on.
func IsStale(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Status == http.StatusConflict && strings.Contains(apiErr.Message, session.ErrStaleAction.Error())
}

// IsUnreachable reports whether err happened before the gateway answered.
func IsUnreachable(err error) bool {
	var apiErr *APIError
	return err != nil && !errors.As(err, &apiErr) && !errors.Is(err, context.Canceled)
}

type Client struct {
	BaseURL string
	HTTP    *http.Client
	Token   string
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
		Token: token,
	}
}

func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/healthz", nil, &out, "")
	return out, err
}

func (c *Client) Games(ctx context.Context) ([]string, error) {
	var out struct {
		Games []string `json:"games"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/games", nil, &out, "")
	return out.Games, err
}

func (c *Client) Sessions(ctx context.Context) ([]session.View, error) {
	var out struct {
		Sessions []session.View `json:"sessions"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/arenas", nil, &out, "")
	return out.Sessions, err
}

func (c *Client) Create(ctx context.Context, arenaID string, body map[string]any) (session.View, error) {
	var out session.View
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/arenas/"+url.PathEscape(arenaID)+"/sessions", body, &out, "")
	return out, err
}

func (c *Client) Snapshot(ctx context.Context, arenaID string) (session.View, error) {
	var out session.View
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/arenas/"+url.PathEscape(arenaID), nil, &out, "")
	return out, err
}

func (c *Client) Abort(ctx context.Context, arenaID, reason string) (session.View, error) {
	path := "/v1/arenas/" + url.PathEscape(arenaID)
	if reason != "" {
		path += "?reason=" + url.QueryEscape(reason)
	}
	var out session.View
	err := c.jsonRequest(ctx, http.MethodDelete, path, nil, &out, "")
	return out, err
}

func (c *Client) Submit(ctx context.Context, arenaID string, a session.Action, idem string) (session.Result, error) {
	var out session.Result
	err := c.jsonRequest(ctx, http.MethodPost, ActionPath(arenaID), a, &out, idem)
	return out, err
}

func (c *Client) Balance(ctx context.Context, playerID string) (int64, error) {
	var out struct {
		Balance int64 `json:"balance"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/accounts/"+url.PathEscape(playerID), nil, &out, "")
	return out.Balance, err
}

func (c *Client) Grant(ctx context.Context, playerID string, amount int64, idem string) (int64, error) {
	var out struct {
		Balance int64 `json:"balance"`
	}
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/accounts/"+url.PathEscape(playerID)+"/grant", map[string]any{
		"amount": amount,
	}, &out, idem)
	return out.Balance, err
}

func (c *Client) Reconciliation(ctx context.Context, limit int) (map[string]any, error) {
	path := "/v1/reconciliation"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, path, nil, &out, "")
	return out, err
}

func (c *Client) Resolve(ctx context.Context, id int64, note string) error {
	return c.jsonRequest(ctx, http.MethodPost, fmt.Sprintf("/v1/reconciliation/%d/resolve", id), map[string]any{
		"note": note,
	}, nil, "")
}

// Events streams the arena's server-sent events into fn until ctx ends or
// the stream closes.
func (c *Client) Events(ctx context.Context, arenaID string, fn func(session.Event)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/v1/arenas/"+url.PathEscape(arenaID)+"/events", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	// The stream outlives the client's request timeout.
	resp, err := (&http.Client{Transport: c.HTTP.Transport}).Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return readAPIError(resp)
	}
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev session.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		fn(ev)
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// Do sends a raw request; used to replay queued commands.
func (c *Client) Do(ctx context.Context, method, path string, body any, idem string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, method, path, body, &out, idem)
	return out, err
}

func ActionPath(arenaID string) string {
	return "/v1/arenas/" + url.PathEscape(arenaID) + "/actions"
}

func (c *Client) jsonRequest(ctx context.Context, method, path string, in any, out any, idem string) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	if idem != "" {
		req.Header.Set("Idempotency-Key", idem)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return readAPIError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func readAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(raw))
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		msg = body.Error
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}
