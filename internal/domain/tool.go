package domain

import "context"

// Tool is the contract every agent capability implements. Parameters returns
// a JSON-Schema-shaped object describing the arguments. Execute returns a
// JSON-serializable result; the dispatcher is the only caller and converts
// any returned error into a structured error payload for the model.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any) (any, error)
}
