package deployd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/example/estore/pkg/history"
)

// ErrNotFound is returned when deployd does not know the run ID.
var ErrNotFound = errors.New("run not found")

// Client talks to a deployd instance over HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a client with sane defaults. apiKey may be empty when
// the server runs without an API key guard.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create deployd request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Key "+c.apiKey)
	}
	return req, nil
}

// Submit enqueues a deployment run.
func (c *Client) Submit(ctx context.Context, r RunRequest) (SubmissionEnvelope, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return SubmissionEnvelope{}, fmt.Errorf("marshal run request: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/runs", bytes.NewReader(body))
	if err != nil {
		return SubmissionEnvelope{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return SubmissionEnvelope{}, fmt.Errorf("submit run: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return SubmissionEnvelope{}, fmt.Errorf("submit run failed: %s", strings.TrimSpace(string(payload)))
	}

	var env SubmissionEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return SubmissionEnvelope{}, fmt.Errorf("decode submission envelope: %w", err)
	}
	return env, nil
}

// GetRun fetches one deployment record.
func (c *Client) GetRun(ctx context.Context, runID string) (history.Record, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/runs/"+runID, nil)
	if err != nil {
		return history.Record{}, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return history.Record{}, fmt.Errorf("get run: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return history.Record{}, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return history.Record{}, fmt.Errorf("get run failed: %s", strings.TrimSpace(string(payload)))
	}

	var out RunResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return history.Record{}, fmt.Errorf("decode run: %w", err)
	}
	return out.Run, nil
}

// ListRuns fetches the recent deployment records.
func (c *Client) ListRuns(ctx context.Context) ([]history.Record, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/runs", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("list runs failed: %s", strings.TrimSpace(string(payload)))
	}

	var out ListResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode run list: %w", err)
	}
	return out.Runs, nil
}

// FollowLogs streams the run's log over SSE, invoking fn for each line until
// the stream closes or fn returns an error.
func (c *Client) FollowLogs(ctx context.Context, runID string, fn func(line string) error) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/runs/"+runID+"/logs", nil)
	if err != nil {
		return err
	}

	// Log streams outlive the default request timeout.
	client := &http.Client{Timeout: 0}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("follow logs: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("follow logs failed: %s", strings.TrimSpace(string(payload)))
	}

	return readEvents(resp.Body, fn)
}

// readEvents parses an SSE stream of plain-text data lines.
func readEvents(body io.Reader, fn func(string) error) error {
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		if err := fn(payload); err != nil {
			return err
		}
	}
	return scanner.Err()
}
