package ride

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"carebot/internal/domain"

	"github.com/chromedp/chromedp"
)

const extractSystemPrompt = `You extract ride pricing from booking-page text.
Respond with a single JSON object and nothing else:
{"rideOptions": [{"name": "...", "price": "...", "eta": "...", "capacity": "..."}], "summary": "..."}

- "name" is the ride product (UberX, Comfort, XL, ...). "price" keeps its currency symbol.
- "eta" and "capacity" are optional; omit them when the page does not show them.
- "summary" is one short sentence listing the options and prices.
- If the text contains no ride prices at all, respond {"rideOptions": [], "summary": ""}.`

type extraction struct {
	RideOptions []domain.RideOption `json:"rideOptions"`
	Summary     string              `json:"summary"`
}

// structureText runs the LLM structuring pass over free text and returns
// the ride options it found. An empty slice means no prices were present.
func structureText(ctx context.Context, provider domain.Provider, model, text string) ([]domain.RideOption, string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, "", nil
	}

	resp, err := provider.Chat(ctx, domain.ChatRequest{
		Model: model,
		Messages: []domain.Message{
			{Role: "system", Content: extractSystemPrompt},
			{Role: "user", Content: text},
		},
		ResponseJSON: true,
		Temperature:  0,
	})
	if err != nil {
		return nil, "", fmt.Errorf("structuring pass: %w", err)
	}

	var ex extraction
	if err := json.Unmarshal([]byte(extractJSONObject(resp.Content)), &ex); err != nil {
		return nil, "", fmt.Errorf("structuring pass returned unparseable JSON: %w", err)
	}
	return ex.RideOptions, ex.Summary, nil
}

// readPageText scrapes the visible text of the current page.
func readPageText(browserCtx context.Context) (string, error) {
	var text string
	err := chromedp.Run(browserCtx,
		chromedp.Evaluate(`document.body ? document.body.innerText.slice(0, 8000) : ''`, &text),
	)
	if err != nil {
		return "", fmt.Errorf("read page text: %w", err)
	}
	return text, nil
}

// summarizeOptions renders a price summary when the model gave none.
func summarizeOptions(options []domain.RideOption) string {
	if len(options) == 0 {
		return ""
	}
	parts := make([]string, 0, len(options))
	for _, o := range options {
		parts = append(parts, fmt.Sprintf("%s %s", o.Name, o.Price))
	}
	return strings.Join(parts, ", ")
}
