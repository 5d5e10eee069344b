package tool

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// newToolServer wires a registry + dispatcher behind an httptest server,
// the same composition `carebot toolserver` uses.
func newToolServer(t *testing.T, tools ...*stubTool) (*httptest.Server, *Registry) {
	t.Helper()
	registry := NewRegistry(testLogger())
	for _, tool := range tools {
		if err := registry.Register(tool); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	dispatcher := NewDispatcher(registry, testLogger())
	srv := NewServer("127.0.0.1:0", dispatcher, registry, testLogger())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, registry
}

func TestRemoteTool_PreservesDefinition(t *testing.T) {
	params := ToolParameters(map[string]Param{
		"pickup":      {Type: "string", Description: "pickup location"},
		"destination": {Type: "string", Description: "destination"},
	}, []string{"pickup", "destination"})

	local := &stubTool{name: "getRidePrices", params: params}
	proxy := NewRemoteTool(RemoteToolDef{
		Name:        local.Name(),
		Description: local.Description(),
		Parameters:  local.Parameters(),
	}, "http://example.invalid", testLogger())

	if proxy.Name() != local.Name() {
		t.Fatalf("name mismatch: %q vs %q", proxy.Name(), local.Name())
	}
	if proxy.Description() != local.Description() {
		t.Fatal("description mismatch")
	}
	if fmt.Sprint(proxy.Parameters()) != fmt.Sprint(local.Parameters()) {
		t.Fatal("parameter schema mismatch")
	}
}

func TestRemoteTool_RoundTrip(t *testing.T) {
	ts, _ := newToolServer(t, &stubTool{
		name: "echo",
		execute: func(ctx context.Context, args map[string]any) (any, error) {
			return map[string]any{"echoed": args["text"]}, nil
		},
		params: ToolParameters(map[string]Param{
			"text": {Type: "string", Description: "text"},
		}, []string{"text"}),
	})

	proxy := NewRemoteTool(RemoteToolDef{Name: "echo"}, ts.URL, testLogger())
	result, err := proxy.Execute(context.Background(), map[string]any{"text": "over the wire"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	payload := result.(map[string]any)
	if payload["echoed"] != "over the wire" {
		t.Fatalf("unexpected result: %v", payload)
	}
}

func TestRemoteTool_ServerErrorPayloadComesBack(t *testing.T) {
	// Tool failures dispatch to error payloads server-side, so the HTTP
	// call still succeeds and the payload crosses the wire intact.
	ts, _ := newToolServer(t, &stubTool{
		name: "failing",
		execute: func(ctx context.Context, args map[string]any) (any, error) {
			return nil, &SuggestionError{Err: fmt.Errorf("no session"), Suggestion: "log in first"}
		},
	})

	proxy := NewRemoteTool(RemoteToolDef{Name: "failing"}, ts.URL, testLogger())
	result, err := proxy.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	payload := result.(map[string]any)
	if payload["error"] != "no session" || payload["suggestion"] != "log in first" {
		t.Fatalf("error payload lost in transit: %v", payload)
	}
}

func TestRemoteTool_Non2xxIsRemoteToolError(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, `{"error": "upstream exploded"}`)
	}))
	t.Cleanup(broken.Close)

	proxy := NewRemoteTool(RemoteToolDef{Name: "anything"}, broken.URL, testLogger())
	_, err := proxy.Execute(context.Background(), nil)
	if err == nil {
		t.Fatal("expected error for non-2xx response")
	}
	if !errors.Is(err, ErrRemoteTool) {
		t.Fatalf("expected ErrRemoteTool, got %v", err)
	}
	if !strings.Contains(err.Error(), "upstream exploded") {
		t.Fatalf("remote message should be carried: %v", err)
	}
}

func TestRemoteTool_ConnectionRefusedIsRemoteToolError(t *testing.T) {
	proxy := NewRemoteTool(RemoteToolDef{Name: "x"}, "http://127.0.0.1:1", testLogger())
	_, err := proxy.Execute(context.Background(), nil)
	if !errors.Is(err, ErrRemoteTool) {
		t.Fatalf("expected ErrRemoteTool, got %v", err)
	}
}

func TestServer_UnknownToolStillHTTP200(t *testing.T) {
	ts, _ := newToolServer(t, &stubTool{name: "known"})

	proxy := NewRemoteTool(RemoteToolDef{Name: "unknown"}, ts.URL, testLogger())
	result, err := proxy.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	payload := result.(map[string]any)
	msg, _ := payload["error"].(string)
	if !strings.Contains(msg, "known") {
		t.Fatalf("unknown-tool payload should list valid names: %v", payload)
	}
}

func TestServer_BadRequestBody(t *testing.T) {
	ts, _ := newToolServer(t)

	resp, err := http.Post(ts.URL+ToolsRunPath, "application/json", strings.NewReader("{broken"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestServer_ListAndHealth(t *testing.T) {
	ts, _ := newToolServer(t, &stubTool{name: "alpha"}, &stubTool{name: "beta"})

	resp, err := http.Get(ts.URL + "/api/tools")
	if err != nil {
		t.Fatalf("get tools: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
