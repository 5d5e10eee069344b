package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"carebot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testOpenAI(t *testing.T, handler http.HandlerFunc) *OpenAI {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return NewOpenAI(OpenAIConfig{APIKey: "test-key", APIBase: ts.URL, Model: "gpt-4o-mini", Logger: testLogger()})
}

func TestOpenAI_ChatBasic(t *testing.T) {
	var gotBody map[string]any
	p := testOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("missing bearer token: %q", got)
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		fmt.Fprint(w, `{
			"choices": [{"message": {"role": "assistant", "content": "hello there"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15}
		}`)
	})

	resp, err := p.Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Content != "hello there" || resp.FinishReason != "stop" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Fatalf("usage not carried: %+v", resp.Usage)
	}
	if gotBody["model"] != "gpt-4o-mini" {
		t.Fatalf("default model not applied: %v", gotBody["model"])
	}
	if _, present := gotBody["response_format"]; present {
		t.Fatal("response_format must be omitted unless JSON output is requested")
	}
}

func TestOpenAI_ResponseJSONSetsFormat(t *testing.T) {
	var gotBody map[string]any
	p := testOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		fmt.Fprint(w, `{"choices": [{"message": {"content": "{}"}, "finish_reason": "stop"}]}`)
	})

	_, err := p.Chat(context.Background(), domain.ChatRequest{
		Messages:     []domain.Message{{Role: "user", Content: "structure this"}},
		ResponseJSON: true,
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	format, _ := gotBody["response_format"].(map[string]any)
	if format["type"] != "json_object" {
		t.Fatalf("expected json_object response format, got %v", gotBody["response_format"])
	}
}

func TestOpenAI_ToolsAndToolCalls(t *testing.T) {
	var gotBody map[string]any
	p := testOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		fmt.Fprint(w, `{
			"choices": [{
				"message": {
					"content": "",
					"tool_calls": [{
						"id": "call_1",
						"type": "function",
						"function": {"name": "getWeather", "arguments": "{\"location\": \"San Jose\"}"}
					}]
				},
				"finish_reason": "tool_calls"
			}]
		}`)
	})

	resp, err := p.Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{{Role: "user", Content: "weather?"}},
		Tools: []domain.ToolDefinition{{
			Name:        "getWeather",
			Description: "Get the weather",
			Parameters:  map[string]any{"type": "object"},
		}},
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}

	tools, _ := gotBody["tools"].([]any)
	if len(tools) != 1 {
		t.Fatalf("tool definitions not sent: %v", gotBody["tools"])
	}
	fn := tools[0].(map[string]any)["function"].(map[string]any)
	if fn["name"] != "getWeather" {
		t.Fatalf("unexpected tool: %v", fn)
	}

	if !resp.HasToolCalls() {
		t.Fatal("expected tool calls in response")
	}
	call := resp.ToolCalls[0]
	if call.ID != "call_1" || call.Name != "getWeather" {
		t.Fatalf("unexpected call: %+v", call)
	}
	if call.Arguments["location"] != "San Jose" {
		t.Fatalf("arguments not decoded: %v", call.Arguments)
	}
}

func TestOpenAI_ToolResultMessagesCarryCallID(t *testing.T) {
	var gotBody struct {
		Messages []map[string]any `json:"messages"`
	}
	p := testOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		fmt.Fprint(w, `{"choices": [{"message": {"content": "done"}, "finish_reason": "stop"}]}`)
	})

	_, err := p.Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{
			{Role: "user", Content: "weather?"},
			{Role: "assistant", ToolCalls: []domain.ToolCall{{
				ID: "call_1", Name: "getWeather", Arguments: map[string]any{"location": "San Jose"},
			}}},
			{Role: "tool", Content: `{"temp": 68}`, ToolCallID: "call_1", ToolName: "getWeather"},
		},
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}

	if len(gotBody.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(gotBody.Messages))
	}
	assistant := gotBody.Messages[1]
	calls, _ := assistant["tool_calls"].([]any)
	if len(calls) != 1 {
		t.Fatalf("assistant tool_calls missing: %v", assistant)
	}
	args := calls[0].(map[string]any)["function"].(map[string]any)["arguments"].(string)
	if !strings.Contains(args, "San Jose") {
		t.Fatalf("arguments must be a JSON string: %q", args)
	}
	toolMsg := gotBody.Messages[2]
	if toolMsg["tool_call_id"] != "call_1" || toolMsg["name"] != "getWeather" {
		t.Fatalf("tool message fields missing: %v", toolMsg)
	}
}

func TestOpenAI_HTTPErrorSurfacesBody(t *testing.T) {
	p := testOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error": {"message": "rate limited"}}`)
	})

	_, err := p.Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{{Role: "user", Content: "hi"}},
	})
	if err == nil {
		t.Fatal("expected error for 429")
	}
	if !strings.Contains(err.Error(), "rate limited") {
		t.Fatalf("upstream message lost: %v", err)
	}
}

func TestOpenAI_EmptyChoices(t *testing.T) {
	p := testOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices": []}`)
	})

	resp, err := p.Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Content != "" || resp.FinishReason != "stop" {
		t.Fatalf("unexpected: %+v", resp)
	}
}

func TestWhisper_Transcribe(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if r.FormValue("model") != "whisper-1" {
			t.Errorf("unexpected model: %q", r.FormValue("model"))
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer file.Close()
		if header.Filename != "turn.webm" {
			t.Errorf("unexpected filename: %q", header.Filename)
		}
		data, _ := io.ReadAll(file)
		if string(data) != "fake audio bytes" {
			t.Errorf("audio body lost: %q", data)
		}
		fmt.Fprint(w, `{"text": "remind me about my pills", "language": "en", "duration": 2.4}`)
	}))
	t.Cleanup(ts.Close)

	wp := NewWhisper(WhisperConfig{APIBase: ts.URL, APIKey: "k", Model: "whisper-1", Logger: testLogger()})
	result, err := wp.Transcribe(context.Background(), strings.NewReader("fake audio bytes"), "turn.webm")
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if result.Text != "remind me about my pills" {
		t.Fatalf("unexpected transcript: %q", result.Text)
	}
}

func TestTTS_OpenAISynthesize(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/speech" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["voice"] != "nova" || body["input"] != "time for your medication" {
			t.Errorf("unexpected body: %v", body)
		}
		w.Write([]byte("mp3-bytes"))
	}))
	t.Cleanup(ts.Close)

	tts := NewTTS(TTSConfig{APIBase: ts.URL, APIKey: "k", Logger: testLogger()})
	audio, err := tts.Synthesize(context.Background(), "time for your medication")
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	defer audio.Close()
	data, _ := io.ReadAll(audio)
	if string(data) != "mp3-bytes" {
		t.Fatalf("unexpected audio: %q", data)
	}
}

func TestTTS_UnsupportedProvider(t *testing.T) {
	tts := NewTTS(TTSConfig{Provider: "espeak", Logger: testLogger()})
	if _, err := tts.Synthesize(context.Background(), "hi"); err == nil {
		t.Fatal("expected error for unsupported provider")
	}
}
