// Package cli provides command-line interface commands for cr4wler.
// This file implements the HTTP client crawl uses to submit hosts to a
// running cr4wler server instead of writing to the database directly.
package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/anstrom/cr4wler/internal/api/handlers"
	"github.com/anstrom/cr4wler/internal/errors"
	"github.com/anstrom/cr4wler/internal/scanning"
)

const (
	defaultClientTimeout = 30 * time.Second
	maxResponseBytes     = 10 << 20
	submitPath           = "/api/v1/hosts"
	healthPath           = "/api/v1/health"
)

// APIClient submits hosts to the cr4wler API.
type APIClient struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
}

// APIError represents an API error response
type APIError struct {
	StatusCode int
	Message    string
	RequestID  string
}

// Error implements the error interface
func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("API error (status %d, request %s): %s", e.StatusCode, e.RequestID, e.Message)
	}
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
}

// NewAPIClient creates a client for the server at baseURL
// (e.g. http://127.0.0.1:5000). A zero timeout uses the default.
func NewAPIClient(baseURL string, timeout time.Duration) *APIClient {
	if timeout <= 0 {
		timeout = defaultClientTimeout
	}
	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		userAgent: "cr4wler-cli/" + version,
	}
}

// Submit posts hosts to the submission endpoint and returns the server's
// partition of the batch. A 500 carrying partitions returns both the
// result and an error, mirroring the store.
func (c *APIClient) Submit(ctx context.Context, hosts []scanning.Host) (*scanning.BatchResult, error) {
	payload, err := json.Marshal(hosts)
	if err != nil {
		return nil, errors.ErrMalformedInput("failed to encode hosts", err)
	}

	status, body, requestID, err := c.do(ctx, http.MethodPost, submitPath, payload)
	if err != nil {
		return nil, err
	}

	if status == http.StatusOK || status == http.StatusInternalServerError {
		var resp handlers.SaveResponse
		if jsonErr := json.Unmarshal(body, &resp); jsonErr == nil && resp.Message != "" {
			result := toBatchResult(&resp)
			if status == http.StatusOK {
				return result, nil
			}
			return result, errors.WrapDatabaseError(errors.CodeStoreTransaction,
				"server reported store failures", &APIError{StatusCode: status, Message: resp.Error, RequestID: requestID})
		}
	}

	return nil, newAPIError(status, body, requestID)
}

// Health checks that the server is up and its store is reachable.
func (c *APIClient) Health(ctx context.Context) error {
	status, body, requestID, err := c.do(ctx, http.MethodGet, healthPath, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return newAPIError(status, body, requestID)
	}
	return nil
}

func (c *APIClient) do(ctx context.Context, method, path string, payload []byte) (int, []byte, string, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return 0, nil, "", fmt.Errorf("failed to create HTTP request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, "", fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, "", fmt.Errorf("failed to read response body: %w", err)
	}
	return resp.StatusCode, body, resp.Header.Get("X-Request-ID"), nil
}

func newAPIError(status int, body []byte, requestID string) *APIError {
	apiErr := &APIError{StatusCode: status, RequestID: requestID}

	var errResp handlers.ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Message != "" {
		apiErr.Message = errResp.Message
		if errResp.RequestID != "" {
			apiErr.RequestID = errResp.RequestID
		}
		return apiErr
	}

	apiErr.Message = strings.TrimSpace(string(body))
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}

func toBatchResult(resp *handlers.SaveResponse) *scanning.BatchResult {
	result := scanning.NewBatchResult()
	result.Accepted = append(result.Accepted, resp.Saved...)
	result.Rejected = append(result.Rejected, resp.Rejected...)
	result.Failed = append(result.Failed, resp.Failed...)
	return result
}
