package tool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"carebot/internal/metrics"
)

// ErrUnknownTool marks a dispatch for a name the registry does not hold.
var ErrUnknownTool = errors.New("unknown tool")

// SuggestionError carries a user-facing recovery hint alongside the error.
// The dispatcher surfaces the hint as a "suggestion" field in the error
// payload so the model can relay it.
type SuggestionError struct {
	Err        error
	Suggestion string
}

func (e *SuggestionError) Error() string { return e.Err.Error() }
func (e *SuggestionError) Unwrap() error { return e.Err }

// Dispatcher is the single choke point between the model and the tools.
// Every tool call goes through Dispatch, and Dispatch always returns a
// JSON-serializable payload: tool failures, bad arguments, unknown names,
// and panics all come back as {"error": ..., "suggestion"?: ...} rather
// than propagating to the conversation loop.
type Dispatcher struct {
	registry *Registry
	logger   *slog.Logger
}

func NewDispatcher(registry *Registry, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{registry: registry, logger: logger}
}

func (d *Dispatcher) Dispatch(ctx context.Context, name string, args map[string]any) (result any) {
	start := time.Now()
	metrics.ToolDispatches.Inc()

	defer func() {
		metrics.ToolLatency.Observe(time.Since(start).Seconds())
		if r := recover(); r != nil {
			d.logger.Error("tool panicked", "tool", name, "panic", r)
			metrics.ToolErrors.Inc()
			result = errorPayload(fmt.Sprintf("tool %s failed unexpectedly: %v", name, r), "")
		}
	}()

	t := d.registry.Get(name)
	if t == nil {
		d.logger.Warn("unknown tool requested", "tool", name)
		metrics.ToolErrors.Inc()
		return errorPayload(
			fmt.Sprintf("%s: %s. Valid tools: %s", ErrUnknownTool.Error(), name, strings.Join(d.registry.Names(), ", ")),
			"",
		)
	}

	if err := validateArgs(t.Parameters(), args); err != nil {
		d.logger.Warn("invalid tool arguments", "tool", name, "err", err)
		metrics.ToolErrors.Inc()
		return errorPayload(fmt.Sprintf("invalid arguments for %s: %v", name, err), "")
	}

	out, err := t.Execute(ctx, args)
	if err != nil {
		d.logger.Error("tool failed", "tool", name, "err", err)
		metrics.ToolErrors.Inc()
		suggestion := ""
		var se *SuggestionError
		if errors.As(err, &se) {
			suggestion = se.Suggestion
		}
		return errorPayload(err.Error(), suggestion)
	}

	d.logger.Debug("tool dispatched", "tool", name, "took", time.Since(start))
	return out
}

func errorPayload(msg, suggestion string) map[string]any {
	p := map[string]any{"error": msg}
	if suggestion != "" {
		p["suggestion"] = suggestion
	}
	return p
}

// validateArgs checks required fields and primitive types against the
// tool's JSON-schema-shaped parameter object. Unknown argument keys pass
// through untouched; tools ignore what they don't read.
func validateArgs(schema map[string]any, args map[string]any) error {
	if schema == nil {
		return nil
	}

	if required, ok := schema["required"].([]string); ok {
		for _, field := range required {
			if _, present := args[field]; !present {
				return fmt.Errorf("missing required field %q", field)
			}
		}
	} else if required, ok := schema["required"].([]any); ok {
		for _, f := range required {
			field, _ := f.(string)
			if _, present := args[field]; !present {
				return fmt.Errorf("missing required field %q", field)
			}
		}
	}

	props, ok := schema["properties"].(map[string]any)
	if !ok {
		return nil
	}
	for key, val := range args {
		propRaw, ok := props[key]
		if !ok {
			continue
		}
		prop, ok := propRaw.(map[string]any)
		if !ok {
			continue
		}
		wantType, _ := prop["type"].(string)
		if val == nil {
			continue
		}
		switch wantType {
		case "string":
			if _, ok := val.(string); !ok {
				return fmt.Errorf("field %q must be a string", key)
			}
		case "number", "integer":
			switch val.(type) {
			case float64, int, int64:
			default:
				return fmt.Errorf("field %q must be a number", key)
			}
		case "boolean":
			if _, ok := val.(bool); !ok {
				return fmt.Errorf("field %q must be a boolean", key)
			}
		}
	}
	return nil
}
