package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/fyrsmithlabs/assessd/internal/content"
	httpserver "github.com/fyrsmithlabs/assessd/internal/http"
	"github.com/fyrsmithlabs/assessd/internal/store"
)

// apiClient talks to the assessd HTTP API.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string, timeout time.Duration) *apiClient {
	return &apiClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// Generate runs the pipeline for one grade and topic.
func (c *apiClient) Generate(ctx context.Context, grade int, topic, userID string) (*content.RunArtifact, error) {
	body, err := json.Marshal(httpserver.GenerateRequest{Grade: grade, Topic: topic})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	q := url.Values{}
	if userID != "" {
		q.Set("user_id", userID)
	}
	var art content.RunArtifact
	if err := c.do(ctx, http.MethodPost, "/generate", q, body, &art); err != nil {
		return nil, err
	}
	return &art, nil
}

// History lists recent artifacts, optionally for one requester.
func (c *apiClient) History(ctx context.Context, userID string, limit int) ([]content.RunArtifact, error) {
	q := url.Values{}
	if userID != "" {
		q.Set("user_id", userID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var arts []content.RunArtifact
	if err := c.do(ctx, http.MethodGet, "/history", q, nil, &arts); err != nil {
		return nil, err
	}
	return arts, nil
}

// Artifact fetches one artifact by run id.
func (c *apiClient) Artifact(ctx context.Context, runID string) (*content.RunArtifact, error) {
	var art content.RunArtifact
	if err := c.do(ctx, http.MethodGet, "/artifact/"+url.PathEscape(runID), nil, nil, &art); err != nil {
		return nil, err
	}
	return &art, nil
}

// Similar lists approved artifacts with topics close to topic.
func (c *apiClient) Similar(ctx context.Context, topic string, limit int) ([]content.RunArtifact, error) {
	q := url.Values{"topic": {topic}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var arts []content.RunArtifact
	if err := c.do(ctx, http.MethodGet, "/similar", q, nil, &arts); err != nil {
		return nil, err
	}
	return arts, nil
}

func (c *apiClient) Stats(ctx context.Context) (store.Stats, error) {
	var st store.Stats
	err := c.do(ctx, http.MethodGet, "/stats", nil, nil, &st)
	return st, err
}

func (c *apiClient) Health(ctx context.Context) (httpserver.HealthResponse, error) {
	var h httpserver.HealthResponse
	err := c.do(ctx, http.MethodGet, "/health", nil, nil, &h)
	return h, err
}

func (c *apiClient) do(ctx context.Context, method, path string, q url.Values, body []byte, out any) error {
	target := c.baseURL + path
	if len(q) > 0 {
		target += "?" + q.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
		}
		return &statusError{Code: resp.StatusCode, Message: errorMessage(raw)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// statusError is a non-200 response from the server.
type statusError struct {
	Code    int
	Message string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("server returned status %d: %s", e.Code, e.Message)
}

// errorMessage extracts echo's {"message": ...} body, falling back to the
// raw text.
func errorMessage(raw []byte) string {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Message != "" {
		return body.Message
	}
	return string(bytes.TrimSpace(raw))
}
