package tool

import (
	"context"
	"fmt"
	"time"

	"carebot/internal/domain"
	"carebot/internal/store"
)

// GetMedicationsTool lists the medication schedule.
type GetMedicationsTool struct {
	store *store.Store
}

func NewGetMedicationsTool(s *store.Store) *GetMedicationsTool { return &GetMedicationsTool{store: s} }

func (t *GetMedicationsTool) Name() string { return "getMedications" }
func (t *GetMedicationsTool) Description() string {
	return "Get the user's current medication list with dosage, frequency, and time of day."
}
func (t *GetMedicationsTool) Parameters() map[string]any {
	return ToolParameters(map[string]Param{}, nil)
}

func (t *GetMedicationsTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	meds, err := t.store.ListMedications(ctx)
	if err != nil {
		return nil, fmt.Errorf("list medications: %w", err)
	}
	if meds == nil {
		meds = []domain.Medication{}
	}
	return map[string]any{"medications": meds, "count": len(meds)}, nil
}

// AddMedicationTool adds a medication to the schedule.
type AddMedicationTool struct {
	store *store.Store
}

func NewAddMedicationTool(s *store.Store) *AddMedicationTool { return &AddMedicationTool{store: s} }

func (t *AddMedicationTool) Name() string { return "addMedication" }
func (t *AddMedicationTool) Description() string {
	return "Add a new medication to the user's schedule. Requires name, dosage, and frequency."
}
func (t *AddMedicationTool) Parameters() map[string]any {
	return ToolParameters(map[string]Param{
		"name":        {Type: "string", Description: "Medication name"},
		"dosage":      {Type: "string", Description: "Dosage, e.g. '10mg'"},
		"frequency":   {Type: "string", Description: "How often, e.g. 'daily' or 'twice daily'"},
		"time_of_day": {Type: "string", Description: "When to take it, e.g. 'morning'"},
		"notes":       {Type: "string", Description: "Extra instructions, e.g. 'with food'"},
	}, []string{"name", "dosage", "frequency"})
}

func (t *AddMedicationTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	med, err := t.store.AddMedication(ctx, domain.Medication{
		Name:      ArgsString(args, "name"),
		Dosage:    ArgsString(args, "dosage"),
		Frequency: ArgsString(args, "frequency"),
		TimeOfDay: ArgsString(args, "time_of_day"),
		Notes:     ArgsString(args, "notes"),
	})
	if err != nil {
		return nil, fmt.Errorf("add medication: %w", err)
	}
	return map[string]any{"success": true, "medication": med}, nil
}

// LogMedicationTakenTool records that a dose was taken.
type LogMedicationTakenTool struct {
	store *store.Store
}

func NewLogMedicationTakenTool(s *store.Store) *LogMedicationTakenTool {
	return &LogMedicationTakenTool{store: s}
}

func (t *LogMedicationTakenTool) Name() string { return "logMedicationTaken" }
func (t *LogMedicationTakenTool) Description() string {
	return "Record that the user took a medication just now. Use when the user says they took their pills."
}
func (t *LogMedicationTakenTool) Parameters() map[string]any {
	return ToolParameters(map[string]Param{
		"name": {Type: "string", Description: "Name of the medication taken"},
	}, []string{"name"})
}

func (t *LogMedicationTakenTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	name := ArgsString(args, "name")
	med, err := t.store.FindMedicationByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("find medication: %w", err)
	}
	if med == nil {
		return nil, &SuggestionError{
			Err:        fmt.Errorf("no medication named %q on the schedule", name),
			Suggestion: "Ask which medication was taken, or add it with addMedication first.",
		}
	}

	entry, err := t.store.LogMedicationTaken(ctx, med.ID, med.Name, time.Now())
	if err != nil {
		return nil, fmt.Errorf("log medication: %w", err)
	}
	return map[string]any{"success": true, "logged": entry}, nil
}

// GetMedicationLogTool reads the recent dose history.
type GetMedicationLogTool struct {
	store *store.Store
}

func NewGetMedicationLogTool(s *store.Store) *GetMedicationLogTool {
	return &GetMedicationLogTool{store: s}
}

func (t *GetMedicationLogTool) Name() string { return "getMedicationLog" }
func (t *GetMedicationLogTool) Description() string {
	return "Get the history of medications taken recently. Use to answer 'did I take my pills today?'"
}
func (t *GetMedicationLogTool) Parameters() map[string]any {
	return ToolParameters(map[string]Param{
		"days": {Type: "number", Description: "How many days back to look (default 7)"},
	}, nil)
}

func (t *GetMedicationLogTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	days := ArgsInt(args, "days", 7)
	entries, err := t.store.MedicationLog(ctx, days)
	if err != nil {
		return nil, fmt.Errorf("medication log: %w", err)
	}
	if entries == nil {
		entries = []domain.MedicationLogEntry{}
	}
	return map[string]any{"log": entries, "days": days, "count": len(entries)}, nil
}
