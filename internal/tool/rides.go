package tool

import (
	"context"
	"encoding/json"

	"carebot/internal/domain"
	"carebot/internal/ride"
)

// GetRidePricesTool runs the ride-price workflow. It never returns an
// error: failures come back inside the lookup payload so the model can
// read the suggestion to the user.
type GetRidePricesTool struct {
	workflow *ride.Workflow
}

func NewGetRidePricesTool(w *ride.Workflow) *GetRidePricesTool {
	return &GetRidePricesTool{workflow: w}
}

func (t *GetRidePricesTool) Name() string { return "getRidePrices" }
func (t *GetRidePricesTool) Description() string {
	return "Get ride price estimates between two places. Takes a minute when the result is not cached; tell the user you are checking."
}
func (t *GetRidePricesTool) Parameters() map[string]any {
	return ToolParameters(map[string]Param{
		"pickup":      {Type: "string", Description: "Pickup location, e.g. 'home' or an address"},
		"destination": {Type: "string", Description: "Destination, e.g. 'Kaiser clinic on Main St'"},
	}, []string{"pickup", "destination"})
}

func (t *GetRidePricesTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	lookup := t.workflow.Lookup(ctx, ArgsString(args, "pickup"), ArgsString(args, "destination"))
	return lookup, nil
}

// GetLastRideLookupTool replays the newest lookup without a browser run.
type GetLastRideLookupTool struct {
	workflow *ride.Workflow
}

func NewGetLastRideLookupTool(w *ride.Workflow) *GetLastRideLookupTool {
	return &GetLastRideLookupTool{workflow: w}
}

func (t *GetLastRideLookupTool) Name() string { return "getLastRideLookup" }
func (t *GetLastRideLookupTool) Description() string {
	return "Get the most recent ride price lookup. Use when the user asks 'what was that price again?'"
}
func (t *GetLastRideLookupTool) Parameters() map[string]any {
	return ToolParameters(map[string]Param{}, nil)
}

func (t *GetLastRideLookupTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	lookup, err := t.workflow.Last(ctx)
	if err != nil {
		return nil, err
	}
	if lookup == nil {
		return map[string]any{"hasLookup": false}, nil
	}
	return lastLookupPayload(lookup), nil
}

// lastLookupPayload flattens the lookup and marks it as present.
func lastLookupPayload(lookup *domain.RideLookup) map[string]any {
	payload := map[string]any{"hasLookup": true}
	data, err := json.Marshal(lookup)
	if err != nil {
		return payload
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return payload
	}
	for k, v := range m {
		payload[k] = v
	}
	return payload
}
