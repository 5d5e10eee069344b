package ride

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"carebot/internal/domain"
	"carebot/internal/metrics"
)

// Store is the slice of the persistence layer the workflow needs.
type Store interface {
	CachedRideLookup(ctx context.Context, pickup, destination string) (*domain.RideLookup, error)
	CacheRideLookup(ctx context.Context, lookup domain.RideLookup) error
	SaveLatestRideLookup(ctx context.Context, lookup domain.RideLookup) error
	LatestRideLookup(ctx context.Context) (*domain.RideLookup, error)
}

// Workflow looks up ride prices: cache first, then a browser agent run
// on the authenticated session, then extraction and normalization. Every
// path returns a domain.RideLookup; failures are encoded in the result,
// never raised.
type Workflow struct {
	store      Store
	provider   domain.Provider
	fastModel  string
	bookingURL string
	logger     *slog.Logger

	// Session and browser hooks, replaceable in tests.
	openSession func(ctx context.Context) (context.Context, context.CancelFunc, error)
	runAgent    func(browserCtx context.Context, goal string) ([]string, error)
	readPage    func(browserCtx context.Context) (string, error)
}

type WorkflowConfig struct {
	Store      Store
	Provider   domain.Provider
	Browser    *Browser
	AgentModel string
	FastModel  string
	BookingURL string
	MaxSteps   int
	Logger     *slog.Logger
}

func NewWorkflow(cfg WorkflowConfig) *Workflow {
	agent := NewAgent(cfg.Provider, cfg.AgentModel, cfg.MaxSteps, cfg.Logger)
	return &Workflow{
		store:       cfg.Store,
		provider:    cfg.Provider,
		fastModel:   cfg.FastModel,
		bookingURL:  cfg.BookingURL,
		logger:      cfg.Logger,
		openSession: cfg.Browser.Session,
		runAgent:    agent.Run,
		readPage:    readPageText,
	}
}

// Lookup runs the full ride-price workflow for a route.
func (w *Workflow) Lookup(ctx context.Context, pickup, destination string) domain.RideLookup {
	pickup = strings.TrimSpace(pickup)
	destination = strings.TrimSpace(destination)
	if pickup == "" || destination == "" {
		return w.failure(pickup, destination, "both pickup and destination are required", "")
	}

	// Stage 1: cache
	if cached, err := w.store.CachedRideLookup(ctx, pickup, destination); err != nil {
		w.logger.Warn("ride cache read failed", "err", err)
	} else if cached != nil {
		metrics.RideCacheHits.Inc()
		w.logger.Info("ride lookup served from cache", "pickup", pickup, "destination", destination)
		result := *cached
		result.FromCache = true

		// Raw text cached without structured options gets another chance
		if len(result.RideOptions) == 0 && result.Prices != "" {
			if options, summary, err := structureText(ctx, w.provider, w.fastModel, result.Prices); err == nil && len(options) > 0 {
				result.RideOptions = options
				if summary != "" {
					result.Prices = summary
				}
			}
		}
		_ = w.store.SaveLatestRideLookup(ctx, result)
		return result
	}
	metrics.RideCacheMisses.Inc()

	// Stage 2: session acquisition
	browserCtx, cancel, err := w.openSession(ctx)
	if err != nil {
		if err == ErrNoSession {
			return w.failure(pickup, destination,
				"no authenticated browser session for the ride service", LoginSuggestion)
		}
		return w.failure(pickup, destination, fmt.Sprintf("browser session failed: %v", err), "")
	}
	// The session must be released on every path out of this function.
	defer cancel()

	// Stage 3: browser agent
	goal := fmt.Sprintf(
		"Open %s and get ride price estimates from %q to %q. Enter the pickup and destination, wait for the product list with prices to render, then finish. Do NOT request or book a ride.",
		w.bookingURL, pickup, destination,
	)
	steps, agentErr := w.runAgent(browserCtx, goal)
	if agentErr != nil && !isAgentDoneBug(agentErr) {
		return w.failureWithSteps(pickup, destination, fmt.Sprintf("browser agent failed: %v", agentErr), "", steps)
	}
	if agentErr != nil {
		w.logger.Warn("agent finished with a known conversion error, extracting directly", "err", agentErr)
	}

	// Stage 4: extraction
	text, err := w.readPage(browserCtx)
	if err != nil {
		return w.failureWithSteps(pickup, destination, fmt.Sprintf("could not read results page: %v", err), "", steps)
	}

	options, summary, exErr := structureText(ctx, w.provider, w.fastModel, text)
	if exErr != nil || len(options) == 0 {
		if exErr != nil {
			w.logger.Warn("structured extraction failed, trying price lines", "err", exErr)
		}
		// Free-text fallback: keep only price-looking lines and re-run
		// the structuring pass over them.
		priceText := priceLines(text)
		if priceText != "" {
			options, summary, exErr = structureText(ctx, w.provider, w.fastModel, priceText)
			if exErr != nil {
				w.logger.Warn("secondary structuring pass failed", "err", exErr)
			}
			if summary == "" {
				summary = priceText
			}
		}
	}

	if len(options) == 0 && summary == "" {
		return w.failureWithSteps(pickup, destination,
			"the results page showed no ride prices", "Try again in a moment; the ride service may still be loading.", steps)
	}

	// Stage 5: normalize and persist
	if summary == "" {
		summary = summarizeOptions(options)
	}
	result := domain.RideLookup{
		Success:     true,
		Pickup:      pickup,
		Destination: destination,
		Prices:      summary,
		RideOptions: options,
		Steps:       steps,
		Timestamp:   time.Now(),
	}
	if err := w.store.SaveLatestRideLookup(ctx, result); err != nil {
		w.logger.Warn("saving latest ride lookup failed", "err", err)
	}
	if err := w.store.CacheRideLookup(ctx, result); err != nil {
		w.logger.Warn("caching ride lookup failed", "err", err)
	}
	return result
}

// Last returns the most recent lookup without touching the browser.
func (w *Workflow) Last(ctx context.Context) (*domain.RideLookup, error) {
	return w.store.LatestRideLookup(ctx)
}

func (w *Workflow) failure(pickup, destination, msg, suggestion string) domain.RideLookup {
	return w.failureWithSteps(pickup, destination, msg, suggestion, nil)
}

func (w *Workflow) failureWithSteps(pickup, destination, msg, suggestion string, steps []string) domain.RideLookup {
	w.logger.Error("ride lookup failed", "pickup", pickup, "destination", destination, "err", msg)
	return domain.RideLookup{
		Success:     false,
		Pickup:      pickup,
		Destination: destination,
		Error:       msg,
		Suggestion:  suggestion,
		Steps:       steps,
		Timestamp:   time.Now(),
	}
}

// priceLines keeps the lines of a page dump that look like ride pricing.
func priceLines(text string) string {
	var keep []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.ContainsAny(line, "$€£") || strings.Contains(strings.ToLower(line), "uber") {
			keep = append(keep, line)
		}
	}
	return strings.Join(keep, "\n")
}
