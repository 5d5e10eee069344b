package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// ToolsRunPath is the dispatch endpoint exposed by the tool server.
const ToolsRunPath = "/api/tools/run"

// ErrRemoteTool marks a failed call to a remote tool server.
var ErrRemoteTool = errors.New("remote tool call failed")

// RemoteTool proxies a single tool to a tool server. Name, description,
// and parameter schema are identical to the remote side, so the model
// cannot tell a proxied tool from a local one.
type RemoteTool struct {
	name        string
	description string
	parameters  map[string]any
	baseURL     string
	client      *http.Client
	logger      *slog.Logger
}

// NewRemoteTool builds a proxy for the given definition served at baseURL.
func NewRemoteTool(def RemoteToolDef, baseURL string, logger *slog.Logger) *RemoteTool {
	return &RemoteTool{
		name:        def.Name,
		description: def.Description,
		parameters:  def.Parameters,
		baseURL:     strings.TrimRight(baseURL, "/"),
		client:      &http.Client{Timeout: 180 * time.Second},
		logger:      logger,
	}
}

// RemoteToolDef mirrors the definition of a tool hosted elsewhere.
type RemoteToolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

func (t *RemoteTool) Name() string               { return t.name }
func (t *RemoteTool) Description() string        { return t.description }
func (t *RemoteTool) Parameters() map[string]any { return t.parameters }

func (t *RemoteTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	body, err := json.Marshal(map[string]any{"tool": t.name, "args": args})
	if err != nil {
		return nil, fmt.Errorf("marshal remote call: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+ToolsRunPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemoteTool, err)
	}
	req.Header.Set("Content-Type", "application/json")

	t.logger.Debug("remote tool call", "tool", t.name, "url", t.baseURL+ToolsRunPath)
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrRemoteTool, t.name, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrRemoteTool, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := remoteErrorMessage(respBody)
		return nil, fmt.Errorf("%w: %s: status %d: %s", ErrRemoteTool, t.name, resp.StatusCode, msg)
	}

	var parsed struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrRemoteTool, err)
	}

	var result any
	if len(parsed.Result) > 0 {
		if err := json.Unmarshal(parsed.Result, &result); err != nil {
			return nil, fmt.Errorf("%w: decode result: %v", ErrRemoteTool, err)
		}
	}
	return result, nil
}

func remoteErrorMessage(body []byte) string {
	var parsed struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != "" {
		return parsed.Error
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 300 {
		s = s[:300]
	}
	if s == "" {
		s = "no response body"
	}
	return s
}
