package channel

import (
	"carebot/internal/domain"
)

// Card is a structured UI block the mobile app renders alongside the
// spoken reply. Type selects the renderer; Data is the tool payload.
type Card struct {
	Type string `json:"type"`
	Tool string `json:"tool"`
	Data any    `json:"data"`
}

// cardTypes maps tool names to card renderers. Tools without an entry
// produce no card; the reply text covers them.
var cardTypes = map[string]string{
	"getRidePrices":           "rideOptions",
	"getLastRideLookup":       "rideOptions",
	"getMedications":          "medications",
	"getMedicationLog":        "medicationLog",
	"getEmergencyContacts":    "contacts",
	"getBillReminders":        "bills",
	"getWeather":              "weather",
	"getEventTypes":           "eventTypes",
	"getAvailableSlots":       "slots",
	"bookAppointment":         "booking",
	"getUpcomingAppointments": "meetings",
	"getRecentEmails":         "emails",
	"searchEmails":            "emails",
	"orderGroceries":          "groceryOrder",
}

// buildCards converts the turn's tool results into UI cards, skipping
// error payloads.
func buildCards(results []domain.ToolResult) []Card {
	var cards []Card
	for _, r := range results {
		cardType, ok := cardTypes[r.Tool]
		if !ok || isErrorPayload(r.Result) {
			continue
		}
		cards = append(cards, Card{Type: cardType, Tool: r.Tool, Data: r.Result})
	}
	return cards
}

func isErrorPayload(result any) bool {
	m, ok := result.(map[string]any)
	if !ok {
		return false
	}
	_, hasErr := m["error"]
	return hasErr
}

// liveViewURL pulls a browser live-view link out of the turn's ride
// results, if any ride lookup ran.
func liveViewURL(results []domain.ToolResult) string {
	for _, r := range results {
		switch v := r.Result.(type) {
		case domain.RideLookup:
			if v.LiveViewURL != "" {
				return v.LiveViewURL
			}
		case *domain.RideLookup:
			if v != nil && v.LiveViewURL != "" {
				return v.LiveViewURL
			}
		case map[string]any:
			// Remote-proxied lookups arrive as decoded JSON.
			if url, ok := v["liveViewUrl"].(string); ok && url != "" {
				return url
			}
		}
	}
	return ""
}
