package restapi

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

	"smis/internal/student"
)

// ErrNotFound is returned when the backend has no such student.
var ErrNotFound = errors.New("student not found on backend")

// APIError is a non-success answer from the backend.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("students api error %d: %s", e.StatusCode, e.Message)
}

// Client calls the students REST backend.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	// Token returns the bearer token to send; empty sends none.
	Token func() string
}

// New creates a client. baseURL points at the API root, e.g. http://host/api.
func New(baseURL string, timeout time.Duration, token func() string) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// List returns every student on the backend.
func (c *Client) List(ctx context.Context) ([]student.Record, error) {
	out, err := call[[]APIStudent](ctx, c, http.MethodGet, "/students", nil)
	if err != nil {
		return nil, err
	}
	return toRecords(out), nil
}

// Get fetches one student by backend id.
func (c *Client) Get(ctx context.Context, remoteID string) (*student.Record, error) {
	out, err := call[APIStudent](ctx, c, http.MethodGet, "/students/"+url.PathEscape(remoteID), nil)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, ErrNotFound
	}
	rec := out.ToRecord()
	return &rec, nil
}

// Create pushes a new student and returns the backend id.
func (c *Client) Create(ctx context.Context, r student.Record) (string, error) {
	out, err := call[APIStudent](ctx, c, http.MethodPost, "/students", NewStudentRequest(r))
	if err != nil {
		return "", err
	}
	if out == nil || out.ID == "" {
		return "", errors.New("students api: create returned no id")
	}
	return out.ID, nil
}

// Update overwrites the backend copy of a pushed student.
func (c *Client) Update(ctx context.Context, r student.Record) error {
	if r.RemoteID == "" {
		return errors.New("students api: update requires a remote id")
	}
	_, err := call[APIStudent](ctx, c, http.MethodPut, "/students/"+url.PathEscape(r.RemoteID), NewStudentRequest(r))
	return err
}

// Delete removes a student from the backend.
func (c *Client) Delete(ctx context.Context, remoteID string) error {
	_, err := call[struct{}](ctx, c, http.MethodDelete, "/students/"+url.PathEscape(remoteID), nil)
	return err
}

// Search runs the backend's search.
func (c *Client) Search(ctx context.Context, query string) ([]student.Record, error) {
	out, err := call[[]APIStudent](ctx, c, http.MethodGet, "/students/search?q="+url.QueryEscape(query), nil)
	if err != nil {
		return nil, err
	}
	return toRecords(out), nil
}

// SyncBatch sends many records in one request. Records with a remote id are
// matched by it, the rest by registration number.
func (c *Client) SyncBatch(ctx context.Context, recs []student.Record) (*SyncResult, error) {
	body := make([]StudentRequest, 0, len(recs))
	for _, r := range recs {
		req := NewStudentRequest(r)
		req.ID = r.RemoteID
		body = append(body, req)
	}
	out, err := call[SyncResult](ctx, c, http.MethodPost, "/students/sync", body)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return &SyncResult{}, nil
	}
	return out, nil
}

// Login exchanges credentials for tokens.
func (c *Client) Login(ctx context.Context, email, password string) (*Tokens, error) {
	out, err := call[Tokens](ctx, c, http.MethodPost, "/auth/login", LoginRequest{Email: email, Password: password})
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, errors.New("students api: login returned no tokens")
	}
	return out, nil
}

// Health checks whether the backend is reachable.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("students api unavailable: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("students api unhealthy: %s", resp.Status)
	}
	return nil
}

func call[T any](ctx context.Context, c *Client, method, path string, body any) (*T, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != nil {
		if tok := c.Token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("students api request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var env Response[T]
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(raw))
		if decodeErr == nil && env.Error != "" {
			msg = env.Error
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("failed to decode response: %w", decodeErr)
	}
	if !env.Success {
		msg := env.Error
		if msg == "" {
			msg = env.Message
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	return env.Data, nil
}

func toRecords(in *[]APIStudent) []student.Record {
	if in == nil {
		return nil
	}
	out := make([]student.Record, 0, len(*in))
	for _, a := range *in {
		out = append(out, a.ToRecord())
	}
	return out
}
