package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"opengrid/internal/universe"
)

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError is a structured rejection from the server: the machine code
// plus the human message and any detail payload.
type APIError struct {
	Status  int
	Code    string
	Message string
	Detail  map[string]any
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code
}

type RegisterResult struct {
	AgentID string `json:"agent_id"`
	Name    string `json:"name"`
	Token   string `json:"token"`
}

func (c *Client) Register(ctx context.Context, name string) (RegisterResult, error) {
	var out RegisterResult
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/agents/register", "", map[string]any{
		"name": name,
	}, &out)
	return out, err
}

func (c *Client) Spawn(ctx context.Context, token string, x, y int) (universe.SpawnResult, error) {
	var out universe.SpawnResult
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/spawn", token, map[string]any{
		"x": x,
		"y": y,
	}, &out)
	return out, err
}

func (c *Client) Move(ctx context.Context, token, direction string) (universe.MoveResult, error) {
	var out universe.MoveResult
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/move", token, map[string]any{
		"direction": direction,
	}, &out)
	return out, err
}

func (c *Client) Solve(ctx context.Context, token string, tour []int, claimedCost float64) (universe.SolveResult, error) {
	var out universe.SolveResult
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/solve", token, map[string]any{
		"tour":         tour,
		"claimed_cost": claimedCost,
	}, &out)
	return out, err
}

func (c *Client) Me(ctx context.Context, token string) (universe.AgentView, error) {
	var out universe.AgentView
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/agents/me", token, nil, &out)
	return out, err
}

func (c *Client) Chunk(ctx context.Context, cx, cy int) (universe.ChunkView, error) {
	var out universe.ChunkView
	err := c.jsonRequest(ctx, http.MethodGet, fmt.Sprintf("/v1/chunks/%d/%d", cx, cy), "", nil, &out)
	return out, err
}

func (c *Client) Leaderboard(ctx context.Context, limit int) ([]universe.LeaderboardRow, error) {
	var out struct {
		Rows []universe.LeaderboardRow `json:"rows"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, fmt.Sprintf("/v1/leaderboard?limit=%d", limit), "", nil, &out)
	return out.Rows, err
}

func (c *Client) Stats(ctx context.Context) (universe.Stats, error) {
	var out universe.Stats
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/stats", "", nil, &out)
	return out, err
}

func (c *Client) EvictInactive(ctx context.Context, adminToken string) (int, error) {
	var out struct {
		Evicted int `json:"evicted"`
	}
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/admin/evict", adminToken, map[string]any{}, &out)
	return out.Evicted, err
}

// Do issues a raw request; the sync queue replays commands through it.
func (c *Client) Do(ctx context.Context, method, path, token string, body map[string]any) (map[string]any, error) {
	var out map[string]any
	var in any
	if body != nil {
		in = body
	}
	err := c.jsonRequest(ctx, method, path, token, in, &out)
	return out, err
}

// Watch dials the live event feed. The caller owns the connection.
func (c *Client) Watch(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/v1/ws"
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial event feed: %w", err)
	}
	return conn, nil
}

func (c *Client) jsonRequest(ctx context.Context, method, path, token string, in any, out any) error {
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
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var payload struct {
		Error   string         `json:"error"`
		Message string         `json:"message"`
		Detail  map[string]any `json:"detail"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Error != "" {
		apiErr.Code = payload.Error
		apiErr.Message = payload.Message
		apiErr.Detail = payload.Detail
		return apiErr
	}
	apiErr.Code = fmt.Sprintf("HTTP%d", resp.StatusCode)
	apiErr.Message = strings.TrimSpace(string(raw))
	return apiErr
}
