package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/xeipuuv/gojsonschema"
)

// Name identifies one of the configured agent services.
type Name string

const (
	Planner Name = "planner"
	Creator Name = "creator"
	QA      Name = "qa"
)

// Endpoint is the reachable location and call timeout for one agent.
type Endpoint struct {
	BaseURL string
	Timeout time.Duration
}

// Config holds the client-wide settings read once at process start.
type Config struct {
	Endpoints     map[Name]Endpoint
	RetryAttempts int
	RetryDelay    time.Duration
	HealthTimeout time.Duration
}

// Client issues calls against the configured agents with per-attempt
// timeouts and retry with exponential backoff. It is stateless per call
// aside from shared configuration and counters, so it is safe for
// concurrent use by many workflow tasks.
type Client struct {
	endpoints     map[Name]Endpoint
	retryAttempts int
	retryDelay    time.Duration
	healthTimeout time.Duration
	httpClient    *http.Client
	schemas       map[string]*gojsonschema.Schema
	counters      map[Name]*agentCounters
	logger        *slog.Logger
}

// NewClient builds a client for the configured agent set.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, errors.New("at least one agent endpoint is required")
	}

	for name, endpoint := range cfg.Endpoints {
		if endpoint.BaseURL == "" {
			return nil, fmt.Errorf("agent %s: base URL is required", name)
		}
	}

	schemas, err := compileResponseSchemas()
	if err != nil {
		return nil, err
	}

	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = 1
	}

	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}

	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = 5 * time.Second
	}

	counters := make(map[Name]*agentCounters, len(cfg.Endpoints))
	for name := range cfg.Endpoints {
		counters[name] = &agentCounters{}
	}

	return &Client{
		endpoints:     cfg.Endpoints,
		retryAttempts: cfg.RetryAttempts,
		retryDelay:    cfg.RetryDelay,
		healthTimeout: cfg.HealthTimeout,
		httpClient:    &http.Client{},
		schemas:       schemas,
		counters:      counters,
		logger:        logger.With("module", "agent_client"),
	}, nil
}

// Names returns the configured agent names.
func (c *Client) Names() []Name {
	names := make([]Name, 0, len(c.endpoints))
	for name := range c.endpoints {
		names = append(names, name)
	}

	return names
}

// Call POSTs payload to the agent's path and returns the decoded body.
// Transient failures (connection refused, timeout, 5xx) are retried up
// to the configured attempt count with exponential backoff; 4xx and
// malformed payloads fail immediately. The returned error is always a
// *CallError when the call did not succeed.
func (c *Client) Call(ctx context.Context, name Name, path string, payload any) (json.RawMessage, error) {
	endpoint, ok := c.endpoints[name]
	if !ok {
		return nil, &CallError{Agent: name, Path: path, Kind: FailureConnection, Err: ErrUnknownAgent}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &CallError{Agent: name, Path: path, Kind: FailureMalformedResponse, Err: fmt.Errorf("encode payload: %w", err)}
	}

	logger := c.logger.With("agent", name, "path", path)

	var lastErr *CallError

	for attempt := 1; attempt <= c.retryAttempts; attempt++ {
		if attempt > 1 {
			delay := c.backoffDelay(attempt)

			select {
			case <-ctx.Done():
				return nil, &CallError{Agent: name, Path: path, Kind: FailureTimeout, Attempts: attempt - 1, Err: ctx.Err()}
			case <-time.After(delay):
			}
		}

		started := time.Now()
		result, callErr := c.doCall(ctx, endpoint, name, path, body)
		latency := time.Since(started)

		c.counters[name].record(latency.Milliseconds(), callErr != nil)

		if callErr == nil {
			logger.InfoContext(ctx, "Agent call succeeded",
				"attempt", attempt, "latency_ms", latency.Milliseconds())

			return result, nil
		}

		callErr.Attempts = attempt
		lastErr = callErr

		logger.WarnContext(ctx, "Agent call attempt failed",
			"attempt", attempt,
			"latency_ms", latency.Milliseconds(),
			"kind", string(callErr.Kind),
			"error", callErr.Err)

		if !callErr.Retryable() {
			return nil, callErr
		}
	}

	return nil, lastErr
}

// backoffDelay returns the pause before the given attempt, doubling the
// base delay per retry already consumed.
func (c *Client) backoffDelay(attempt int) time.Duration {
	delay := c.retryDelay
	for i := 2; i < attempt; i++ {
		delay *= 2
	}

	return delay
}

// doCall issues one attempt and classifies its outcome.
func (c *Client) doCall(ctx context.Context, endpoint Endpoint, name Name, path string, body []byte) (json.RawMessage, *CallError) {
	timeout := endpoint.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, endpoint.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, &CallError{Agent: name, Path: path, Kind: FailureConnection, Err: err}
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		kind := FailureConnection
		if errors.Is(err, context.DeadlineExceeded) || attemptCtx.Err() != nil {
			kind = FailureTimeout
		}

		return nil, &CallError{Agent: name, Path: path, Kind: kind, Err: err}
	}

	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Warn("Failed to close response body", "agent", name, "error", err)
		}
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &CallError{Agent: name, Path: path, Kind: FailureConnection, Err: err}
	}

	if resp.StatusCode >= 400 {
		return nil, &CallError{
			Agent: name, Path: path, Kind: FailureHTTPError, StatusCode: resp.StatusCode,
			Err: fmt.Errorf("agent returned status %d: %s", resp.StatusCode, truncate(respBody, 200)),
		}
	}

	if !json.Valid(respBody) {
		return nil, &CallError{
			Agent: name, Path: path, Kind: FailureMalformedResponse,
			Err: errors.New("response body is not valid JSON"),
		}
	}

	if err := c.validateResponse(path, respBody); err != nil {
		return nil, &CallError{Agent: name, Path: path, Kind: FailureMalformedResponse, Err: err}
	}

	return respBody, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}

	return string(b[:n]) + "..."
}

// HealthStatus is the outcome of a single health probe.
type HealthStatus struct {
	Agent     Name   `json:"agent"`
	Healthy   bool   `json:"healthy"`
	LatencyMS int64  `json:"latency_ms"`
	Detail    string `json:"detail,omitempty"`
}

// HealthCheck issues one short-timeout probe against the agent's health
// endpoint. It is never retried: health is advisory.
func (c *Client) HealthCheck(ctx context.Context, name Name) HealthStatus {
	status := HealthStatus{Agent: name}

	endpoint, ok := c.endpoints[name]
	if !ok {
		status.Detail = ErrUnknownAgent.Error()

		return status
	}

	probeCtx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()

	started := time.Now()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, endpoint.BaseURL+PathHealth, nil)
	if err != nil {
		status.Detail = err.Error()

		return status
	}

	resp, err := c.httpClient.Do(req)
	status.LatencyMS = time.Since(started).Milliseconds()

	if err != nil {
		status.Detail = err.Error()

		return status
	}

	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Warn("Failed to close health response body", "agent", name, "error", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		status.Detail = fmt.Sprintf("health endpoint returned status %d", resp.StatusCode)

		return status
	}

	status.Healthy = true

	return status
}

// CheckAll probes every configured agent concurrently. A failure on one
// agent never prevents collecting results from the others.
func (c *Client) CheckAll(ctx context.Context) map[Name]HealthStatus {
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[Name]HealthStatus, len(c.endpoints))
	)

	for name := range c.endpoints {
		wg.Add(1)

		go func(name Name) {
			defer wg.Done()

			status := c.HealthCheck(ctx, name)

			mu.Lock()
			results[name] = status
			mu.Unlock()
		}(name)
	}

	wg.Wait()

	return results
}

// PingResult is the round-trip outcome of a reachability ping.
type PingResult struct {
	Reachable bool   `json:"reachable"`
	LatencyMS int64  `json:"latency_ms"`
	Detail    string `json:"detail,omitempty"`
}

// PingAll measures round-trip reachability of every agent concurrently.
func (c *Client) PingAll(ctx context.Context) map[Name]PingResult {
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[Name]PingResult, len(c.endpoints))
	)

	for name := range c.endpoints {
		wg.Add(1)

		go func(name Name) {
			defer wg.Done()

			status := c.HealthCheck(ctx, name)
			ping := PingResult{
				Reachable: status.Healthy,
				LatencyMS: status.LatencyMS,
				Detail:    status.Detail,
			}

			mu.Lock()
			results[name] = ping
			mu.Unlock()
		}(name)
	}

	wg.Wait()

	return results
}

// CapabilitiesResult holds one agent's advertised capabilities, or the
// error that prevented collecting them.
type CapabilitiesResult struct {
	Capabilities map[string]any `json:"capabilities,omitempty"`
	Error        string         `json:"error,omitempty"`
}

// CapabilitiesAll queries every agent's capabilities endpoint concurrently.
func (c *Client) CapabilitiesAll(ctx context.Context) map[Name]CapabilitiesResult {
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[Name]CapabilitiesResult, len(c.endpoints))
	)

	for name := range c.endpoints {
		wg.Add(1)

		go func(name Name) {
			defer wg.Done()

			result := c.capabilitiesOf(ctx, name)

			mu.Lock()
			results[name] = result
			mu.Unlock()
		}(name)
	}

	wg.Wait()

	return results
}

func (c *Client) capabilitiesOf(ctx context.Context, name Name) CapabilitiesResult {
	endpoint := c.endpoints[name]

	probeCtx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, endpoint.BaseURL+PathCapabilities, nil)
	if err != nil {
		return CapabilitiesResult{Error: err.Error()}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return CapabilitiesResult{Error: err.Error()}
	}

	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Warn("Failed to close capabilities response body", "agent", name, "error", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return CapabilitiesResult{Error: fmt.Sprintf("capabilities endpoint returned status %d", resp.StatusCode)}
	}

	var capabilities map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&capabilities); err != nil {
		return CapabilitiesResult{Error: "malformed capabilities payload: " + err.Error()}
	}

	return CapabilitiesResult{Capabilities: capabilities}
}
