package domain

import "time"

// UserProfile describes the person the assistant cares for. A single row;
// the agent's system prompt is built from it.
type UserProfile struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Age       int       `json:"age,omitempty"`
	Address   string    `json:"address,omitempty"`
	City      string    `json:"city,omitempty"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Timezone  string    `json:"timezone,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Medication struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Dosage    string    `json:"dosage"`
	Frequency string    `json:"frequency"`
	TimeOfDay string    `json:"time_of_day,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type MedicationLogEntry struct {
	ID           string    `json:"id"`
	MedicationID string    `json:"medication_id"`
	Name         string    `json:"name"`
	TakenAt      time.Time `json:"taken_at"`
}

type EmergencyContact struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Relation  string    `json:"relation"`
	Phone     string    `json:"phone"`
	Email     string    `json:"email,omitempty"`
	IsPrimary bool      `json:"is_primary"`
	CreatedAt time.Time `json:"created_at"`
}

type BillReminder struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Amount     float64   `json:"amount"`
	DueDate    string    `json:"due_date"` // YYYY-MM-DD
	Recurrence string    `json:"recurrence"`
	Paid       bool      `json:"paid"`
	Notes      string    `json:"notes,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// BillRecurrences are the accepted values for BillReminder.Recurrence.
var BillRecurrences = []string{"one-time", "weekly", "monthly", "quarterly", "yearly"}

// RideOption is one priced ride product extracted from the booking page.
type RideOption struct {
	Name     string `json:"name"`
	Price    string `json:"price"`
	ETA      string `json:"eta,omitempty"`
	Capacity string `json:"capacity,omitempty"`
}

// RideLookup is the result of one ride-price workflow run. The newest
// successful lookup is kept as a singleton so "what was that price again?"
// works without a new browser session.
type RideLookup struct {
	Success     bool         `json:"success"`
	Pickup      string       `json:"pickup"`
	Destination string       `json:"destination"`
	Prices      string       `json:"prices"`
	RideOptions []RideOption `json:"rideOptions,omitempty"`
	FromCache   bool         `json:"fromCache,omitempty"`
	Steps       []string     `json:"steps,omitempty"`
	LiveViewURL string       `json:"liveViewUrl,omitempty"`
	Error       string       `json:"error,omitempty"`
	Suggestion  string       `json:"suggestion,omitempty"`
	Timestamp   time.Time    `json:"timestamp"`
}
