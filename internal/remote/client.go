package remote

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

	"github.com/kalambet/ticketboard/internal/ticket"
)

const (
	defaultTimeout  = 15 * time.Second
	maxErrorBodyLen = 64 << 10
)

// Client talks to a ticket store over its REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client for the store at baseURL. A non-positive timeout
// falls back to 15s.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// NewWithHTTPClient creates a Client using hc (for testing).
func NewWithHTTPClient(baseURL string, hc *http.Client) *Client {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: hc}
}

// BaseURL returns the store address the client was built with.
func (c *Client) BaseURL() string { return c.baseURL }

// List returns every ticket in the store. An empty store yields an empty,
// non-nil slice.
func (c *Client) List(ctx context.Context) ([]ticket.Ticket, error) {
	var tickets []ticket.Ticket
	if err := c.do(ctx, http.MethodGet, "/tickets", nil, &tickets); err != nil {
		return nil, err
	}
	if tickets == nil {
		tickets = []ticket.Ticket{}
	}
	return tickets, nil
}

// Create sends f and returns the stored ticket with its assigned id and
// creation time.
func (c *Client) Create(ctx context.Context, f ticket.Fields) (ticket.Ticket, error) {
	var out ticket.Ticket
	if err := c.do(ctx, http.MethodPost, "/tickets", f, &out); err != nil {
		return ticket.Ticket{}, err
	}
	return out, nil
}

// Update replaces the ticket with t.ID and returns the store's canonical
// representation.
func (c *Client) Update(ctx context.Context, t ticket.Ticket) (ticket.Ticket, error) {
	var out ticket.Ticket
	if err := c.do(ctx, http.MethodPut, ticketPath(t.ID), t, &out); err != nil {
		return ticket.Ticket{}, err
	}
	return out, nil
}

func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, ticketPath(id), nil, nil)
}

// Get fetches a single ticket.
func (c *Client) Get(ctx context.Context, id string) (ticket.Ticket, error) {
	var out ticket.Ticket
	if err := c.do(ctx, http.MethodGet, ticketPath(id), nil, &out); err != nil {
		return ticket.Ticket{}, err
	}
	return out, nil
}

// HistoryEntry is one recorded change to a ticket.
type HistoryEntry struct {
	ID         int64     `json:"id"`
	TicketID   string    `json:"ticketId"`
	Kind       string    `json:"kind"`
	FromStatus string    `json:"fromStatus,omitempty"`
	ToStatus   string    `json:"toStatus,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// History returns up to limit recorded changes to a ticket, oldest first.
// Not every store keeps history; those answer with a RejectedError.
func (c *Client) History(ctx context.Context, id string, limit int) ([]HistoryEntry, error) {
	path := ticketPath(id) + "/history"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out []HistoryEntry
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Ping checks the store's health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

func ticketPath(id string) string {
	return "/tickets/" + url.PathEscape(id)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshalling request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return &NetworkError{Method: method, Path: path, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NetworkError{Method: method, Path: path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return rejected(method, path, resp)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &NetworkError{Method: method, Path: path, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return nil
}

// errorEnvelope matches the store's {"error":{"message","type"}} body.
type errorEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func rejected(method, path string, resp *http.Response) *RejectedError {
	e := &RejectedError{Method: method, Path: path, StatusCode: resp.StatusCode}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLen))
	if err != nil || len(data) == 0 {
		return e
	}
	var env errorEnvelope
	if json.Unmarshal(data, &env) == nil && env.Error.Message != "" {
		e.Message = env.Error.Message
		e.Type = env.Error.Type
		return e
	}
	e.Message = strings.TrimSpace(string(data))
	return e
}
