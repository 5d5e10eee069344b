package ride

import (
	"context"
	"fmt"
	"log/slog"

	"carebot/internal/domain"
)

// Grocery drives the grocery site with the same browser agent as the
// ride workflow. Items go into the cart one at a time; checkout is
// never attempted, a person finishes the order.
type Grocery struct {
	storeURL string
	logger   *slog.Logger

	openSession func(ctx context.Context) (context.Context, context.CancelFunc, error)
	runAgent    func(browserCtx context.Context, goal string) ([]string, error)
}

func NewGrocery(browser *Browser, provider domain.Provider, agentModel, storeURL string, maxSteps int, logger *slog.Logger) *Grocery {
	agent := NewAgent(provider, agentModel, maxSteps, logger)
	return &Grocery{
		storeURL:    storeURL,
		logger:      logger,
		openSession: browser.Session,
		runAgent:    agent.Run,
	}
}

// OrderResult partitions the requested items by outcome.
type OrderResult struct {
	Success    bool     `json:"success"`
	Added      []string `json:"added"`
	Failed     []string `json:"failed"`
	Error      string   `json:"error,omitempty"`
	Suggestion string   `json:"suggestion,omitempty"`
}

// AddToCart puts the items in the grocery cart and stops there.
func (g *Grocery) AddToCart(ctx context.Context, items []string) OrderResult {
	if len(items) == 0 {
		return OrderResult{Error: "no items given"}
	}

	browserCtx, cancel, err := g.openSession(ctx)
	if err != nil {
		if err == ErrNoSession {
			return OrderResult{
				Failed:     items,
				Error:      "no authenticated browser session for the grocery store",
				Suggestion: LoginSuggestion,
			}
		}
		return OrderResult{Failed: items, Error: fmt.Sprintf("browser session failed: %v", err)}
	}
	defer cancel()

	result := OrderResult{}
	for _, item := range items {
		goal := fmt.Sprintf(
			"On %s, search for %q and add one suitable product to the cart. Never start checkout or payment.",
			g.storeURL, item,
		)
		if _, err := g.runAgent(browserCtx, goal); err != nil && !isAgentDoneBug(err) {
			g.logger.Warn("grocery item failed", "item", item, "err", err)
			result.Failed = append(result.Failed, item)
			continue
		}
		result.Added = append(result.Added, item)
	}

	result.Success = len(result.Added) > 0
	if len(result.Failed) > 0 && !result.Success {
		result.Error = "no items could be added to the cart"
	}
	return result
}
