package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// BridgeClient calls the external tool bridge over HTTP. Tool invocations
// can run for minutes (full port scans, crawls), so the client timeout is
// deliberately generous; callers bound it further through ctx.
type BridgeClient struct {
	client  *http.Client
	baseURL string
}

func NewBridgeClient(baseURL string) *BridgeClient {
	return &BridgeClient{
		client:  &http.Client{Timeout: 10 * time.Minute},
		baseURL: baseURL,
	}
}

// Call posts args to the bridge endpoint for the named tool. JSON responses
// decode into a structured value; anything else comes back as a raw string.
func (c *BridgeClient) Call(ctx context.Context, tool string, args map[string]any) (any, error) {
	body, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("marshal tool args: %w", err)
	}

	url := fmt.Sprintf("%s/api/tools/%s", c.baseURL, tool)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tool %s: bridge call failed: %w", tool, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("tool %s: read response: %w", tool, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tool %s: bridge returned status %d: %s", tool, resp.StatusCode, truncate(string(raw), 512))
	}

	var result any
	if err := json.Unmarshal(raw, &result); err != nil {
		// Not JSON. Surface the raw output as-is.
		return string(raw), nil
	}
	return result, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
