package tool

import (
	"context"
	"fmt"

	"carebot/internal/ride"
)

// OrderGroceriesTool adds items to the grocery cart. It never checks
// out; a person reviews the cart and finishes the order.
type OrderGroceriesTool struct {
	grocery *ride.Grocery
}

func NewOrderGroceriesTool(g *ride.Grocery) *OrderGroceriesTool {
	return &OrderGroceriesTool{grocery: g}
}

func (t *OrderGroceriesTool) Name() string { return "orderGroceries" }
func (t *OrderGroceriesTool) Description() string {
	return "Add grocery items to the online cart. Always confirm the item list with the user first. The cart is filled but never checked out."
}
func (t *OrderGroceriesTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"items": map[string]any{
				"type":        "array",
				"description": "Grocery items to add, e.g. [\"milk\", \"whole wheat bread\"]",
				"items":       map[string]any{"type": "string"},
			},
		},
		"required": []string{"items"},
	}
}

func (t *OrderGroceriesTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	raw, ok := args["items"].([]any)
	if !ok || len(raw) == 0 {
		return nil, fmt.Errorf("items must be a non-empty list of strings")
	}
	items := make([]string, 0, len(raw))
	for _, v := range raw {
		s, ok := v.(string)
		if !ok || s == "" {
			return nil, fmt.Errorf("items must be a non-empty list of strings")
		}
		items = append(items, s)
	}

	return t.grocery.AddToCart(ctx, items), nil
}
