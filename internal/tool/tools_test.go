package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"carebot/internal/domain"
	"carebot/internal/store"
)

func testToolStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"), testLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMedicationTools_AddListLog(t *testing.T) {
	s := testToolStore(t)
	ctx := context.Background()

	add := NewAddMedicationTool(s)
	result, err := add.Execute(ctx, map[string]any{
		"name": "Lisinopril", "dosage": "10mg", "frequency": "daily", "time_of_day": "morning",
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if result.(map[string]any)["success"] != true {
		t.Fatalf("unexpected add result: %v", result)
	}

	list := NewGetMedicationsTool(s)
	result, err = list.Execute(ctx, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	payload := result.(map[string]any)
	if payload["count"] != 1 {
		t.Fatalf("expected 1 medication, got %v", payload["count"])
	}

	logTool := NewLogMedicationTakenTool(s)
	if _, err := logTool.Execute(ctx, map[string]any{"name": "lisinopril"}); err != nil {
		t.Fatalf("log taken: %v", err)
	}

	logRead := NewGetMedicationLogTool(s)
	result, err = logRead.Execute(ctx, map[string]any{"days": float64(7)})
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if result.(map[string]any)["count"] != 1 {
		t.Fatalf("expected 1 log entry: %v", result)
	}
}

func TestLogMedicationTaken_UnknownMedication(t *testing.T) {
	s := testToolStore(t)
	tool := NewLogMedicationTakenTool(s)

	_, err := tool.Execute(context.Background(), map[string]any{"name": "Mystery Pill"})
	if err == nil {
		t.Fatal("expected error for unknown medication")
	}
	var se *SuggestionError
	if !errors.As(err, &se) {
		t.Fatalf("expected a suggestion error, got %T: %v", err, err)
	}
}

func TestBillTools_AddValidation(t *testing.T) {
	s := testToolStore(t)
	add := NewAddBillReminderTool(s)
	ctx := context.Background()

	if _, err := add.Execute(ctx, map[string]any{
		"name": "Electric", "due_date": "soon", "amount": float64(120),
	}); err == nil {
		t.Fatal("expected error for malformed due_date")
	}

	if _, err := add.Execute(ctx, map[string]any{
		"name": "Electric", "due_date": "2026-09-15", "amount": float64(120), "recurrence": "hourly",
	}); err == nil {
		t.Fatal("expected error for invalid recurrence")
	}

	result, err := add.Execute(ctx, map[string]any{
		"name": "Electric", "due_date": "2026-09-15", "amount": float64(120),
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	bill := result.(map[string]any)["bill"].(domain.BillReminder)
	if bill.Recurrence != "monthly" {
		t.Fatalf("expected monthly default, got %q", bill.Recurrence)
	}
}

func TestBillTools_GetDefaultsToUnpaid(t *testing.T) {
	s := testToolStore(t)
	ctx := context.Background()

	s.AddBill(ctx, domain.BillReminder{Name: "Water", Amount: 45, DueDate: "2026-09-01"})
	paid, _ := s.AddBill(ctx, domain.BillReminder{Name: "Internet", Amount: 60, DueDate: "2026-08-20"})
	s.MarkBillPaid(ctx, paid.ID)

	get := NewGetBillRemindersTool(s)
	result, err := get.Execute(ctx, nil)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	payload := result.(map[string]any)
	if payload["count"] != 1 {
		t.Fatalf("expected unpaid filter by default: %v", payload)
	}

	result, _ = get.Execute(ctx, map[string]any{"unpaid_only": false})
	if result.(map[string]any)["count"] != 2 {
		t.Fatalf("expected all bills when unpaid_only=false: %v", result)
	}
}

func TestMarkBillPaid_Unknown(t *testing.T) {
	s := testToolStore(t)
	tool := NewMarkBillPaidTool(s)
	if _, err := tool.Execute(context.Background(), map[string]any{"name": "gas"}); err == nil {
		t.Fatal("expected error for unknown bill")
	}
}

func TestSendEmail_ResolvesContactAddress(t *testing.T) {
	var sent map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/emails/send" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&sent)
		fmt.Fprint(w, `{"ok": true}`)
	}))
	t.Cleanup(ts.Close)

	s := testToolStore(t)
	ctx := context.Background()
	s.AddContact(ctx, domain.EmergencyContact{Name: "Sarah Chen", Relation: "daughter", Email: "sarah@example.com"})

	mail := NewMailClient(ts.URL, "key", testLogger())
	tool := NewSendEmailTool(mail, s)

	result, err := tool.Execute(ctx, map[string]any{
		"to": "sarah", "subject": "Checking in", "body": "Hi Sarah",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if sent["to"] != "sarah@example.com" {
		t.Fatalf("address should come from contacts, got %v", sent["to"])
	}
	if result.(map[string]any)["success"] != true {
		t.Fatalf("unexpected result: %v", result)
	}
}

func TestSendEmail_RefusesUnknownRecipient(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("mail gateway must not be called for unknown recipients")
	}))
	t.Cleanup(ts.Close)

	s := testToolStore(t)
	mail := NewMailClient(ts.URL, "key", testLogger())
	tool := NewSendEmailTool(mail, s)

	_, err := tool.Execute(context.Background(), map[string]any{
		"to": "stranger", "subject": "x", "body": "y",
	})
	if err == nil {
		t.Fatal("expected refusal for unknown recipient")
	}
}

func TestUpdateContact_PartialFields(t *testing.T) {
	s := testToolStore(t)
	ctx := context.Background()
	s.AddContact(ctx, domain.EmergencyContact{Name: "Sarah Chen", Relation: "daughter", Phone: "555-0001", Email: "old@example.com"})

	tool := NewUpdateEmergencyContactTool(s)
	if _, err := tool.Execute(ctx, map[string]any{"name": "sarah", "phone": "555-0002"}); err != nil {
		t.Fatalf("update: %v", err)
	}

	contacts, _ := s.ListContacts(ctx)
	if contacts[0].Phone != "555-0002" {
		t.Fatalf("phone not updated: %+v", contacts[0])
	}
	if contacts[0].Email != "old@example.com" {
		t.Fatalf("untouched fields must survive: %+v", contacts[0])
	}
}

func TestGetUserProfile_NotSeeded(t *testing.T) {
	s := testToolStore(t)
	tool := NewGetUserProfileTool(s)
	if _, err := tool.Execute(context.Background(), nil); err == nil {
		t.Fatal("expected error before a profile exists")
	}
}
