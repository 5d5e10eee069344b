package tool

import (
	"context"
	"fmt"
	"slices"
	"time"

	"carebot/internal/domain"
	"carebot/internal/store"
)

// GetBillRemindersTool lists bill reminders, unpaid by default.
type GetBillRemindersTool struct {
	store *store.Store
}

func NewGetBillRemindersTool(s *store.Store) *GetBillRemindersTool {
	return &GetBillRemindersTool{store: s}
}

func (t *GetBillRemindersTool) Name() string { return "getBillReminders" }
func (t *GetBillRemindersTool) Description() string {
	return "Get upcoming bill reminders sorted by due date. By default only unpaid bills are returned."
}
func (t *GetBillRemindersTool) Parameters() map[string]any {
	return ToolParameters(map[string]Param{
		"unpaid_only": {Type: "boolean", Description: "Only return unpaid bills (default true)"},
	}, nil)
}

func (t *GetBillRemindersTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	unpaidOnly := ArgsBool(args, "unpaid_only", true)
	bills, err := t.store.ListBills(ctx, unpaidOnly)
	if err != nil {
		return nil, fmt.Errorf("list bills: %w", err)
	}
	if bills == nil {
		bills = []domain.BillReminder{}
	}
	return map[string]any{"bills": bills, "count": len(bills), "unpaid_only": unpaidOnly}, nil
}

// AddBillReminderTool creates a bill reminder.
type AddBillReminderTool struct {
	store *store.Store
}

func NewAddBillReminderTool(s *store.Store) *AddBillReminderTool {
	return &AddBillReminderTool{store: s}
}

func (t *AddBillReminderTool) Name() string { return "addBillReminder" }
func (t *AddBillReminderTool) Description() string {
	return "Add a bill reminder. Requires name, due_date (YYYY-MM-DD), and amount in dollars."
}
func (t *AddBillReminderTool) Parameters() map[string]any {
	return ToolParameters(map[string]Param{
		"name":       {Type: "string", Description: "What the bill is for, e.g. 'Electric bill'"},
		"due_date":   {Type: "string", Description: "Due date in YYYY-MM-DD format"},
		"amount":     {Type: "number", Description: "Amount due in dollars"},
		"recurrence": {Type: "string", Description: "How often the bill repeats (default monthly)", Enum: domain.BillRecurrences},
		"notes":      {Type: "string", Description: "Extra notes"},
	}, []string{"name", "due_date", "amount"})
}

func (t *AddBillReminderTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	dueDate := ArgsString(args, "due_date")
	if _, err := time.Parse("2006-01-02", dueDate); err != nil {
		return nil, fmt.Errorf("due_date must be YYYY-MM-DD, got %q", dueDate)
	}

	recurrence := ArgsString(args, "recurrence")
	if recurrence == "" {
		recurrence = "monthly"
	}
	if !slices.Contains(domain.BillRecurrences, recurrence) {
		return nil, fmt.Errorf("recurrence must be one of %v, got %q", domain.BillRecurrences, recurrence)
	}

	bill, err := t.store.AddBill(ctx, domain.BillReminder{
		Name:       ArgsString(args, "name"),
		Amount:     ArgsFloat(args, "amount", 0),
		DueDate:    dueDate,
		Recurrence: recurrence,
		Notes:      ArgsString(args, "notes"),
	})
	if err != nil {
		return nil, fmt.Errorf("add bill: %w", err)
	}
	return map[string]any{"success": true, "bill": bill}, nil
}

// MarkBillPaidTool marks a bill as paid by name or id.
type MarkBillPaidTool struct {
	store *store.Store
}

func NewMarkBillPaidTool(s *store.Store) *MarkBillPaidTool { return &MarkBillPaidTool{store: s} }

func (t *MarkBillPaidTool) Name() string { return "markBillPaid" }
func (t *MarkBillPaidTool) Description() string {
	return "Mark a bill as paid. Identify the bill by its name, e.g. 'electric'."
}
func (t *MarkBillPaidTool) Parameters() map[string]any {
	return ToolParameters(map[string]Param{
		"name": {Type: "string", Description: "Name (or id) of the bill that was paid"},
	}, []string{"name"})
}

func (t *MarkBillPaidTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	name := ArgsString(args, "name")
	bill, err := t.store.MarkBillPaid(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("mark bill paid: %w", err)
	}
	if bill == nil {
		return nil, &SuggestionError{
			Err:        fmt.Errorf("no unpaid bill matching %q", name),
			Suggestion: "Check the list with getBillReminders; the bill may already be paid.",
		}
	}
	return map[string]any{"success": true, "bill": bill}, nil
}
