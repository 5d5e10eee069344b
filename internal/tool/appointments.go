package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"carebot/internal/store"
)

// Per-endpoint API versions required by the scheduling service.
var calAPIVersions = map[string]string{
	"eventTypes": "2024-06-14",
	"slots":      "2024-06-11",
	"bookings":   "2024-08-13",
}

// CalendarClient is a thin client for a Cal-style scheduling REST API.
// The event-type list rarely changes, so it is cached for the life of
// the process; ResetEventTypeCache drops it (tests use this).
type CalendarClient struct {
	baseURL  string
	apiKey   string
	username string
	timezone string
	client   *http.Client
	logger   *slog.Logger

	mu         sync.Mutex
	eventTypes []EventType
}

type EventType struct {
	ID       int    `json:"id"`
	Title    string `json:"title"`
	Slug     string `json:"slug"`
	Duration int    `json:"lengthInMinutes"`
}

func NewCalendarClient(baseURL, apiKey, username, timezone string, logger *slog.Logger) *CalendarClient {
	return &CalendarClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		username: username,
		timezone: timezone,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   logger,
	}
}

// ResetEventTypeCache drops the process-cached event-type list.
func (c *CalendarClient) ResetEventTypeCache() {
	c.mu.Lock()
	c.eventTypes = nil
	c.mu.Unlock()
}

func (c *CalendarClient) do(ctx context.Context, method, path, versionKey string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("calendar request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("cal-api-version", calAPIVersions[versionKey])
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calendar %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("calendar read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(respBody))
		if len(msg) > 300 {
			msg = msg[:300]
		}
		return nil, fmt.Errorf("calendar %s %s: status %d: %s", method, path, resp.StatusCode, msg)
	}
	return respBody, nil
}

// EventTypes returns the cached event-type list, fetching once per process.
func (c *CalendarClient) EventTypes(ctx context.Context) ([]EventType, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.eventTypes != nil {
		return c.eventTypes, nil
	}

	body, err := c.do(ctx, http.MethodGet, "/v2/event-types?username="+url.QueryEscape(c.username), "eventTypes", nil)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Data []EventType `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode event types: %w", err)
	}
	c.eventTypes = parsed.Data
	return c.eventTypes, nil
}

// FindEventTypeByDuration picks the event type whose length matches.
func (c *CalendarClient) FindEventTypeByDuration(ctx context.Context, minutes int) (*EventType, error) {
	types, err := c.EventTypes(ctx)
	if err != nil {
		return nil, err
	}
	for i := range types {
		if types[i].Duration == minutes {
			return &types[i], nil
		}
	}
	return nil, nil
}

// Slots returns available start times for the event type on a date range.
func (c *CalendarClient) Slots(ctx context.Context, eventTypeID int, start, end string) ([]string, error) {
	q := url.Values{}
	q.Set("eventTypeId", fmt.Sprintf("%d", eventTypeID))
	q.Set("start", start)
	q.Set("end", end)

	body, err := c.do(ctx, http.MethodGet, "/v2/slots?"+q.Encode(), "slots", nil)
	if err != nil {
		return nil, err
	}

	// Response shape: {"data": {"2026-09-01": [{"start": "..."}, ...]}}
	var parsed struct {
		Data map[string][]struct {
			Start string `json:"start"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode slots: %w", err)
	}

	var slots []string
	for _, day := range parsed.Data {
		for _, s := range day {
			slots = append(slots, s.Start)
		}
	}
	return slots, nil
}

type Booking struct {
	ID    int    `json:"id"`
	UID   string `json:"uid"`
	Title string `json:"title"`
	Start string `json:"start"`
	End   string `json:"end"`
}

// Book creates a booking for the attendee at the given UTC start time.
func (c *CalendarClient) Book(ctx context.Context, eventTypeID int, start, name, email string) (*Booking, error) {
	payload := map[string]any{
		"eventTypeId": eventTypeID,
		"start":       start,
		"attendee": map[string]any{
			"name":     name,
			"email":    email,
			"timeZone": c.timezone,
		},
	}
	body, err := c.do(ctx, http.MethodPost, "/v2/bookings", "bookings", payload)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Data Booking `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode booking: %w", err)
	}
	return &parsed.Data, nil
}

// Upcoming returns bookings that have not happened yet.
func (c *CalendarClient) Upcoming(ctx context.Context) ([]Booking, error) {
	body, err := c.do(ctx, http.MethodGet, "/v2/bookings?status=upcoming", "bookings", nil)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Data []Booking `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode bookings: %w", err)
	}
	return parsed.Data, nil
}

// localTime renders a UTC RFC3339 timestamp in the user's timezone.
func (c *CalendarClient) localTime(utc string) string {
	ts, err := time.Parse(time.RFC3339, utc)
	if err != nil {
		return utc
	}
	loc, err := time.LoadLocation(c.timezone)
	if err != nil {
		return utc
	}
	return ts.In(loc).Format("Monday, January 2 at 3:04 PM")
}

// --- Tools ---

// GetEventTypesTool lists bookable appointment types.
type GetEventTypesTool struct {
	cal *CalendarClient
}

func NewGetEventTypesTool(cal *CalendarClient) *GetEventTypesTool {
	return &GetEventTypesTool{cal: cal}
}

func (t *GetEventTypesTool) Name() string { return "getEventTypes" }
func (t *GetEventTypesTool) Description() string {
	return "List the types of appointments that can be booked (e.g. 15-minute check-in, 30-minute visit)."
}
func (t *GetEventTypesTool) Parameters() map[string]any {
	return ToolParameters(map[string]Param{}, nil)
}

func (t *GetEventTypesTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	types, err := t.cal.EventTypes(ctx)
	if err != nil {
		return nil, fmt.Errorf("event types: %w", err)
	}
	return map[string]any{"event_types": types, "count": len(types)}, nil
}

// GetAvailableSlotsTool lists open times for a given appointment length.
type GetAvailableSlotsTool struct {
	cal *CalendarClient
}

func NewGetAvailableSlotsTool(cal *CalendarClient) *GetAvailableSlotsTool {
	return &GetAvailableSlotsTool{cal: cal}
}

func (t *GetAvailableSlotsTool) Name() string { return "getAvailableSlots" }
func (t *GetAvailableSlotsTool) Description() string {
	return "Get available appointment slots. Provide the appointment duration in minutes and a date range."
}
func (t *GetAvailableSlotsTool) Parameters() map[string]any {
	return ToolParameters(map[string]Param{
		"duration_minutes": {Type: "number", Description: "Appointment length in minutes, e.g. 30"},
		"start_date":       {Type: "string", Description: "Range start, YYYY-MM-DD"},
		"end_date":         {Type: "string", Description: "Range end, YYYY-MM-DD"},
	}, []string{"duration_minutes", "start_date", "end_date"})
}

func (t *GetAvailableSlotsTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	duration := ArgsInt(args, "duration_minutes", 0)
	et, err := t.cal.FindEventTypeByDuration(ctx, duration)
	if err != nil {
		return nil, fmt.Errorf("find event type: %w", err)
	}
	if et == nil {
		return nil, &SuggestionError{
			Err:        fmt.Errorf("no %d-minute appointment type exists", duration),
			Suggestion: "Call getEventTypes to see which durations can be booked.",
		}
	}

	slots, err := t.cal.Slots(ctx, et.ID, ArgsString(args, "start_date"), ArgsString(args, "end_date"))
	if err != nil {
		return nil, fmt.Errorf("slots: %w", err)
	}

	out := make([]map[string]any, 0, len(slots))
	for _, s := range slots {
		out = append(out, map[string]any{
			"start_utc":   s,
			"start_local": t.cal.localTime(s),
		})
	}
	return map[string]any{
		"event_type": et,
		"slots":      out,
		"count":      len(out),
	}, nil
}

// BookAppointmentTool books a slot using the stored profile as attendee.
type BookAppointmentTool struct {
	cal   *CalendarClient
	store *store.Store
}

func NewBookAppointmentTool(cal *CalendarClient, s *store.Store) *BookAppointmentTool {
	return &BookAppointmentTool{cal: cal, store: s}
}

func (t *BookAppointmentTool) Name() string { return "bookAppointment" }
func (t *BookAppointmentTool) Description() string {
	return "Book an appointment at a specific slot. The user's stored name and email are used as the attendee."
}
func (t *BookAppointmentTool) Parameters() map[string]any {
	return ToolParameters(map[string]Param{
		"duration_minutes": {Type: "number", Description: "Appointment length in minutes"},
		"start_utc":        {Type: "string", Description: "Slot start time in UTC (from getAvailableSlots)"},
	}, []string{"duration_minutes", "start_utc"})
}

func (t *BookAppointmentTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	profile, err := t.store.GetProfile(ctx)
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	if profile == nil || profile.Email == "" {
		return nil, &SuggestionError{
			Err:        fmt.Errorf("cannot book: no profile email on file"),
			Suggestion: "Add the user's email to the profile first.",
		}
	}

	duration := ArgsInt(args, "duration_minutes", 0)
	et, err := t.cal.FindEventTypeByDuration(ctx, duration)
	if err != nil {
		return nil, fmt.Errorf("find event type: %w", err)
	}
	if et == nil {
		return nil, fmt.Errorf("no %d-minute appointment type exists", duration)
	}

	start := ArgsString(args, "start_utc")
	booking, err := t.cal.Book(ctx, et.ID, start, profile.Name, profile.Email)
	if err != nil {
		return nil, fmt.Errorf("book: %w", err)
	}
	return map[string]any{
		"success":     true,
		"booked":      booking,
		"start_local": t.cal.localTime(booking.Start),
	}, nil
}

// GetUpcomingAppointmentsTool lists future bookings.
type GetUpcomingAppointmentsTool struct {
	cal *CalendarClient
}

func NewGetUpcomingAppointmentsTool(cal *CalendarClient) *GetUpcomingAppointmentsTool {
	return &GetUpcomingAppointmentsTool{cal: cal}
}

func (t *GetUpcomingAppointmentsTool) Name() string { return "getUpcomingAppointments" }
func (t *GetUpcomingAppointmentsTool) Description() string {
	return "List the user's upcoming booked appointments."
}
func (t *GetUpcomingAppointmentsTool) Parameters() map[string]any {
	return ToolParameters(map[string]Param{}, nil)
}

func (t *GetUpcomingAppointmentsTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	bookings, err := t.cal.Upcoming(ctx)
	if err != nil {
		return nil, fmt.Errorf("upcoming: %w", err)
	}

	out := make([]map[string]any, 0, len(bookings))
	for _, b := range bookings {
		out = append(out, map[string]any{
			"title":       b.Title,
			"start_utc":   b.Start,
			"start_local": t.cal.localTime(b.Start),
			"uid":         b.UID,
		})
	}
	return map[string]any{"meetings": out, "count": len(out)}, nil
}
