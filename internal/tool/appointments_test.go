package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"carebot/internal/domain"
)

func testCalendar(t *testing.T, handler http.HandlerFunc) *CalendarClient {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return NewCalendarClient(ts.URL, "test-key", "caregiver", "America/Los_Angeles", testLogger())
}

func TestCalendar_EventTypesCachedPerProcess(t *testing.T) {
	var fetches atomic.Int32
	cal := testCalendar(t, func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		if got := r.Header.Get("cal-api-version"); got != "2024-06-14" {
			t.Errorf("event-types version header = %q, want 2024-06-14", got)
		}
		fmt.Fprint(w, `{"data": [{"id": 1, "title": "Check-in", "slug": "check-in", "lengthInMinutes": 15}]}`)
	})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		types, err := cal.EventTypes(ctx)
		if err != nil {
			t.Fatalf("event types: %v", err)
		}
		if len(types) != 1 || types[0].Duration != 15 {
			t.Fatalf("unexpected types: %+v", types)
		}
	}
	if fetches.Load() != 1 {
		t.Fatalf("expected a single fetch for the process, got %d", fetches.Load())
	}

	cal.ResetEventTypeCache()
	if _, err := cal.EventTypes(ctx); err != nil {
		t.Fatalf("event types after reset: %v", err)
	}
	if fetches.Load() != 2 {
		t.Fatalf("reset should force a refetch, got %d fetches", fetches.Load())
	}
}

func TestCalendar_SlotsVersionHeaderAndShape(t *testing.T) {
	cal := testCalendar(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("cal-api-version"); got != "2024-06-11" {
			t.Errorf("slots version header = %q, want 2024-06-11", got)
		}
		if r.URL.Query().Get("eventTypeId") != "7" {
			t.Errorf("unexpected eventTypeId: %q", r.URL.Query().Get("eventTypeId"))
		}
		fmt.Fprint(w, `{"data": {"2026-09-01": [{"start": "2026-09-01T17:00:00Z"}, {"start": "2026-09-01T18:00:00Z"}]}}`)
	})

	slots, err := cal.Slots(context.Background(), 7, "2026-09-01", "2026-09-02")
	if err != nil {
		t.Fatalf("slots: %v", err)
	}
	if len(slots) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(slots))
	}
}

func TestCalendar_BookSendsAttendeeFromProfile(t *testing.T) {
	var gotBody map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/event-types", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data": [{"id": 9, "title": "Visit", "slug": "visit", "lengthInMinutes": 30}]}`)
	})
	mux.HandleFunc("/v2/bookings", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("cal-api-version"); got != "2024-08-13" {
			t.Errorf("bookings version header = %q, want 2024-08-13", got)
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		fmt.Fprint(w, `{"data": {"id": 100, "uid": "abc", "title": "Visit", "start": "2026-09-01T17:00:00Z", "end": "2026-09-01T17:30:00Z"}}`)
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	cal := NewCalendarClient(ts.URL, "k", "caregiver", "America/Los_Angeles", testLogger())
	s := testToolStore(t)
	s.SaveProfile(context.Background(), domain.UserProfile{Name: "Margaret", Email: "margaret@example.com"})

	tool := NewBookAppointmentTool(cal, s)
	result, err := tool.Execute(context.Background(), map[string]any{
		"duration_minutes": float64(30),
		"start_utc":        "2026-09-01T17:00:00Z",
	})
	if err != nil {
		t.Fatalf("book: %v", err)
	}

	attendee := gotBody["attendee"].(map[string]any)
	if attendee["name"] != "Margaret" || attendee["email"] != "margaret@example.com" {
		t.Fatalf("attendee should come from the profile: %v", attendee)
	}
	payload := result.(map[string]any)
	if payload["success"] != true {
		t.Fatalf("unexpected result: %v", payload)
	}
}

func TestBookAppointment_NoProfileEmail(t *testing.T) {
	cal := testCalendar(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("calendar should not be called without a profile email")
	})
	s := testToolStore(t)

	tool := NewBookAppointmentTool(cal, s)
	_, err := tool.Execute(context.Background(), map[string]any{
		"duration_minutes": float64(30),
		"start_utc":        "2026-09-01T17:00:00Z",
	})
	if err == nil {
		t.Fatal("expected error without profile email")
	}
}

func TestGetAvailableSlots_UnknownDuration(t *testing.T) {
	cal := testCalendar(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data": [{"id": 1, "title": "Check-in", "slug": "check-in", "lengthInMinutes": 15}]}`)
	})

	tool := NewGetAvailableSlotsTool(cal)
	_, err := tool.Execute(context.Background(), map[string]any{
		"duration_minutes": float64(45),
		"start_date":       "2026-09-01",
		"end_date":         "2026-09-02",
	})
	if err == nil {
		t.Fatal("expected error for duration with no event type")
	}
}

func TestCalendar_LocalTimeConversion(t *testing.T) {
	cal := NewCalendarClient("http://example.invalid", "k", "u", "America/Los_Angeles", testLogger())
	local := cal.localTime("2026-09-01T17:00:00Z")
	// 17:00 UTC is 10:00 AM PDT
	if local != "Tuesday, September 1 at 10:00 AM" {
		t.Fatalf("unexpected local time: %q", local)
	}
}
