package tool

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// stubTool is a minimal tool for registry and dispatcher tests.
type stubTool struct {
	name    string
	params  map[string]any
	execute func(ctx context.Context, args map[string]any) (any, error)
}

func (s *stubTool) Name() string        { return s.name }
func (s *stubTool) Description() string { return "stub tool " + s.name }
func (s *stubTool) Parameters() map[string]any {
	if s.params != nil {
		return s.params
	}
	return ToolParameters(map[string]Param{}, nil)
}
func (s *stubTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	if s.execute != nil {
		return s.execute(ctx, args)
	}
	return "ok", nil
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry(testLogger())
	if err := r.Register(&stubTool{name: "alpha"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	if r.Get("alpha") == nil {
		t.Fatal("expected to get registered tool")
	}
	if r.Get("missing") != nil {
		t.Fatal("expected nil for unregistered tool")
	}
}

func TestRegistry_DuplicateName(t *testing.T) {
	r := NewRegistry(testLogger())
	if err := r.Register(&stubTool{name: "alpha"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	err := r.Register(&stubTool{name: "alpha"})
	if err == nil {
		t.Fatal("expected error for duplicate name")
	}
	if !errors.Is(err, ErrDuplicateTool) {
		t.Fatalf("expected ErrDuplicateTool, got %v", err)
	}

	// The original registration survives
	if r.Get("alpha") == nil {
		t.Fatal("original tool should still be registered")
	}
}

func TestRegistry_NamesSorted(t *testing.T) {
	r := NewRegistry(testLogger())
	r.MustRegister(&stubTool{name: "zeta"}, &stubTool{name: "alpha"}, &stubTool{name: "mid"})

	names := r.Names()
	if len(names) != 3 {
		t.Fatalf("expected 3 names, got %d", len(names))
	}
	if names[0] != "alpha" || names[2] != "zeta" {
		t.Fatalf("expected sorted names, got %v", names)
	}
}

func TestRegistry_Definitions(t *testing.T) {
	r := NewRegistry(testLogger())
	params := ToolParameters(map[string]Param{
		"q": {Type: "string", Description: "query"},
	}, []string{"q"})
	r.MustRegister(&stubTool{name: "search", params: params})

	defs := r.Definitions()
	if len(defs) != 1 {
		t.Fatalf("expected 1 definition, got %d", len(defs))
	}
	if defs[0].Name != "search" {
		t.Fatalf("unexpected name: %s", defs[0].Name)
	}
	if defs[0].Parameters["type"] != "object" {
		t.Fatalf("expected schema object, got %v", defs[0].Parameters)
	}
}

func TestRegistry_MustRegisterPanicsOnDuplicate(t *testing.T) {
	r := NewRegistry(testLogger())
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate")
		}
	}()
	r.MustRegister(&stubTool{name: "alpha"}, &stubTool{name: "alpha"})
}

func TestToolParameters_Shape(t *testing.T) {
	schema := ToolParameters(map[string]Param{
		"name":   {Type: "string", Description: "a name"},
		"amount": {Type: "number", Description: "how much"},
	}, []string{"name"})

	if schema["type"] != "object" {
		t.Fatalf("expected object type, got %v", schema["type"])
	}
	props := schema["properties"].(map[string]any)
	if len(props) != 2 {
		t.Fatalf("expected 2 properties, got %d", len(props))
	}
	required := schema["required"].([]string)
	if len(required) != 1 || required[0] != "name" {
		t.Fatalf("unexpected required: %v", required)
	}
}

func TestToolParameters_Enum(t *testing.T) {
	schema := ToolParameters(map[string]Param{
		"recurrence": {Type: "string", Description: "repeat", Enum: []string{"weekly", "monthly"}},
	}, nil)
	props := schema["properties"].(map[string]any)
	prop := props["recurrence"].(map[string]any)
	enum := prop["enum"].([]any)
	if len(enum) != 2 || enum[0] != "weekly" {
		t.Fatalf("unexpected enum: %v", enum)
	}
}
