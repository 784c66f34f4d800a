package supervisor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/codeexec/public-terminals/internal/infrastructure/logging"
)

// Client delivers supervisor reports to the orchestrator's callback
// endpoints with bounded retries. Delivery failures surface as errors so the
// caller can decide what a lost report means; nothing is fire-and-forget.
type Client struct {
	http       *retryablehttp.Client
	baseURL    string
	terminalID string
	token      string
}

// NewClient creates a callback client for one terminal.
func NewClient(baseURL, terminalID, token string, log *logging.Logger) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.HTTPClient.Timeout = 10 * time.Second
	rc.Logger = nil

	return &Client{
		http:       rc,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		terminalID: terminalID,
		token:      token,
	}
}

type tunnelReport struct {
	TerminalID string `json:"terminal_id"`
	TunnelURL  string `json:"tunnel_url"`
}

type statusReport struct {
	TerminalID   string `json:"terminal_id"`
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`
}

type healthReport struct {
	TerminalID string `json:"terminal_id"`
}

type healthResponse struct {
	Active bool `json:"active"`
}

type statsReport struct {
	TerminalID  string  `json:"terminal_id"`
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryBytes float64 `json:"memory_bytes"`
}

// ReportTunnel announces the public tunnel URL.
func (c *Client) ReportTunnel(ctx context.Context, tunnelURL string) error {
	_, err := c.post(ctx, "/tunnel", tunnelReport{TerminalID: c.terminalID, TunnelURL: tunnelURL})
	return err
}

// ReportFailure announces a fatal supervisor-side condition.
func (c *Client) ReportFailure(ctx context.Context, message string) error {
	_, err := c.post(ctx, "/status", statusReport{TerminalID: c.terminalID, Status: "failed", ErrorMessage: message})
	return err
}

// HealthPing refreshes liveness. The returned flag is false when the
// orchestrator no longer knows a live terminal by this id, which is the
// supervisor's cue to shut the unit down.
func (c *Client) HealthPing(ctx context.Context) (bool, error) {
	body, err := c.post(ctx, "/health", healthReport{TerminalID: c.terminalID})
	if err != nil {
		return false, err
	}
	var resp healthResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return false, fmt.Errorf("callback health: malformed response: %w", err)
	}
	return resp.Active, nil
}

// ReportStats delivers a resource usage sample.
func (c *Client) ReportStats(ctx context.Context, cpuPercent, memoryBytes float64) error {
	_, err := c.post(ctx, "/stats", statsReport{
		TerminalID:  c.terminalID,
		CPUPercent:  cpuPercent,
		MemoryBytes: memoryBytes,
	})
	return err
}

// ReportIdle announces a self-initiated idle shutdown.
func (c *Client) ReportIdle(ctx context.Context) error {
	_, err := c.post(ctx, "/idle", healthReport{TerminalID: c.terminalID})
	return err
}

func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("callback %s: %w", path, err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("callback %s: unexpected status %d: %s", path, resp.StatusCode, strings.TrimSpace(buf.String()))
	}
	return buf.Bytes(), nil
}
