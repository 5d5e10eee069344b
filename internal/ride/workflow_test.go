package ride

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"testing"

	"carebot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeProvider returns canned chat responses in order.
type fakeProvider struct {
	responses []string
	calls     int
	err       error
}

func (p *fakeProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if p.err != nil {
		return nil, p.err
	}
	if p.calls >= len(p.responses) {
		return &domain.ChatResponse{Content: `{"rideOptions": [], "summary": ""}`}, nil
	}
	content := p.responses[p.calls]
	p.calls++
	return &domain.ChatResponse{Content: content, FinishReason: "stop"}, nil
}

func (p *fakeProvider) Name() string                      { return "fake" }
func (p *fakeProvider) Models() []string                  { return []string{"fake-model"} }
func (p *fakeProvider) SupportsToolCalling() bool         { return true }
func (p *fakeProvider) Healthy(ctx context.Context) error { return nil }

// fakeStore records workflow persistence calls.
type fakeStore struct {
	cached *domain.RideLookup
	latest *domain.RideLookup
	writes []domain.RideLookup
}

func (s *fakeStore) CachedRideLookup(ctx context.Context, pickup, destination string) (*domain.RideLookup, error) {
	return s.cached, nil
}

func (s *fakeStore) CacheRideLookup(ctx context.Context, lookup domain.RideLookup) error {
	s.writes = append(s.writes, lookup)
	return nil
}

func (s *fakeStore) SaveLatestRideLookup(ctx context.Context, lookup domain.RideLookup) error {
	s.latest = &lookup
	return nil
}

func (s *fakeStore) LatestRideLookup(ctx context.Context) (*domain.RideLookup, error) {
	return s.latest, nil
}

const structuredResponse = `{"rideOptions": [{"name": "UberX", "price": "$14.52", "eta": "4 min"}, {"name": "Comfort", "price": "$19.80"}], "summary": "UberX $14.52, Comfort $19.80"}`

func testWorkflow(store *fakeStore, provider domain.Provider) *Workflow {
	w := &Workflow{
		store:      store,
		provider:   provider,
		fastModel:  "fake-model",
		bookingURL: "https://rides.example.com",
		logger:     testLogger(),
	}
	w.openSession = func(ctx context.Context) (context.Context, context.CancelFunc, error) {
		return ctx, func() {}, nil
	}
	w.runAgent = func(browserCtx context.Context, goal string) ([]string, error) {
		return []string{"navigate", "type pickup", "type destination", "done: prices visible"}, nil
	}
	w.readPage = func(browserCtx context.Context) (string, error) {
		return "UberX $14.52 4 min away\nComfort $19.80", nil
	}
	return w
}

func TestLookup_EmptyRoute(t *testing.T) {
	w := testWorkflow(&fakeStore{}, &fakeProvider{})

	result := w.Lookup(context.Background(), "", "airport")
	if result.Success {
		t.Fatal("expected failure for empty pickup")
	}
	if result.Error == "" {
		t.Fatal("expected error message")
	}
}

func TestLookup_CacheHitSkipsBrowser(t *testing.T) {
	cached := &domain.RideLookup{
		Success:     true,
		Pickup:      "home",
		Destination: "clinic",
		Prices:      "UberX $12.00",
		RideOptions: []domain.RideOption{{Name: "UberX", Price: "$12.00"}},
	}
	store := &fakeStore{cached: cached}
	w := testWorkflow(store, &fakeProvider{})

	sessionOpened := false
	w.openSession = func(ctx context.Context) (context.Context, context.CancelFunc, error) {
		sessionOpened = true
		return ctx, func() {}, nil
	}

	result := w.Lookup(context.Background(), "home", "clinic")
	if !result.Success || !result.FromCache {
		t.Fatalf("expected cached success, got %+v", result)
	}
	if sessionOpened {
		t.Fatal("cache hit must not open a browser session")
	}
	if store.latest == nil || !store.latest.FromCache {
		t.Fatal("cache hit should refresh the latest-lookup singleton")
	}
}

func TestLookup_CachedRawTextGetsReExtracted(t *testing.T) {
	store := &fakeStore{cached: &domain.RideLookup{
		Success:     true,
		Pickup:      "home",
		Destination: "clinic",
		Prices:      "UberX $14.52 4 min away",
	}}
	provider := &fakeProvider{responses: []string{structuredResponse}}
	w := testWorkflow(store, provider)

	result := w.Lookup(context.Background(), "home", "clinic")
	if !result.FromCache {
		t.Fatal("expected cache hit")
	}
	if len(result.RideOptions) != 2 {
		t.Fatalf("raw cached text should be re-extracted, got %+v", result.RideOptions)
	}
	if provider.calls != 1 {
		t.Fatalf("expected one structuring call, got %d", provider.calls)
	}
}

func TestLookup_NoSessionReturnsBootstrapSuggestion(t *testing.T) {
	w := testWorkflow(&fakeStore{}, &fakeProvider{})
	agentRan := false
	w.openSession = func(ctx context.Context) (context.Context, context.CancelFunc, error) {
		return nil, nil, ErrNoSession
	}
	w.runAgent = func(browserCtx context.Context, goal string) ([]string, error) {
		agentRan = true
		return nil, nil
	}

	result := w.Lookup(context.Background(), "home", "clinic")
	if result.Success {
		t.Fatal("expected failure without a session")
	}
	if result.Suggestion != LoginSuggestion {
		t.Fatalf("expected login suggestion, got %q", result.Suggestion)
	}
	if agentRan {
		t.Fatal("agent must not run without a session")
	}
}

func TestLookup_HappyPath(t *testing.T) {
	store := &fakeStore{}
	provider := &fakeProvider{responses: []string{structuredResponse}}
	w := testWorkflow(store, provider)

	result := w.Lookup(context.Background(), "Home", "Kaiser Clinic")
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if len(result.RideOptions) != 2 || result.RideOptions[0].Name != "UberX" {
		t.Fatalf("unexpected options: %+v", result.RideOptions)
	}
	if result.Prices != "UberX $14.52, Comfort $19.80" {
		t.Fatalf("unexpected summary: %q", result.Prices)
	}
	if len(result.Steps) == 0 {
		t.Fatal("expected agent steps in the result")
	}
	if result.FromCache {
		t.Fatal("fresh lookup must not be marked cached")
	}
	if store.latest == nil || store.latest.Destination != "Kaiser Clinic" {
		t.Fatal("latest-lookup singleton not saved")
	}
	if len(store.writes) != 1 {
		t.Fatalf("expected one cache write, got %d", len(store.writes))
	}
}

func TestLookup_KnownDoneBugFallsBackToExtraction(t *testing.T) {
	store := &fakeStore{}
	provider := &fakeProvider{responses: []string{structuredResponse}}
	w := testWorkflow(store, provider)
	w.runAgent = func(browserCtx context.Context, goal string) ([]string, error) {
		return []string{"navigate", "type"}, fmt.Errorf("stream aborted: expected ModelMessage, got tool part")
	}

	result := w.Lookup(context.Background(), "home", "clinic")
	if !result.Success {
		t.Fatalf("known done-bug should still produce a result: %+v", result)
	}
	if len(result.RideOptions) != 2 {
		t.Fatalf("expected extracted options, got %+v", result.RideOptions)
	}
}

func TestLookup_RealAgentFailureIsFailure(t *testing.T) {
	store := &fakeStore{}
	w := testWorkflow(store, &fakeProvider{})
	w.runAgent = func(browserCtx context.Context, goal string) ([]string, error) {
		return []string{"navigate"}, errors.New("chrome crashed")
	}

	result := w.Lookup(context.Background(), "home", "clinic")
	if result.Success {
		t.Fatal("expected failure for a real agent error")
	}
	if !strings.Contains(result.Error, "chrome crashed") {
		t.Fatalf("expected agent error in result, got %q", result.Error)
	}
	if len(result.Steps) != 1 {
		t.Fatalf("steps so far should be included: %+v", result.Steps)
	}
	if store.latest != nil || len(store.writes) != 0 {
		t.Fatal("failures must not be persisted")
	}
}

func TestLookup_SessionAlwaysReleased(t *testing.T) {
	released := false
	w := testWorkflow(&fakeStore{}, &fakeProvider{})
	w.openSession = func(ctx context.Context) (context.Context, context.CancelFunc, error) {
		return ctx, func() { released = true }, nil
	}
	w.runAgent = func(browserCtx context.Context, goal string) ([]string, error) {
		return nil, errors.New("chrome crashed")
	}

	w.Lookup(context.Background(), "home", "clinic")
	if !released {
		t.Fatal("session must be released on the failure path")
	}
}

func TestLookup_NoPricesOnPage(t *testing.T) {
	provider := &fakeProvider{responses: []string{
		`{"rideOptions": [], "summary": ""}`,
	}}
	w := testWorkflow(&fakeStore{}, provider)
	w.readPage = func(browserCtx context.Context) (string, error) {
		return "Loading your ride options...", nil
	}

	result := w.Lookup(context.Background(), "home", "clinic")
	if result.Success {
		t.Fatalf("expected failure when no prices render: %+v", result)
	}
	if result.Suggestion == "" {
		t.Fatal("expected a retry suggestion")
	}
}

func TestLookup_SecondaryPassOverPriceLines(t *testing.T) {
	// First structuring pass finds nothing; the price-line filter plus a
	// second pass recovers the options.
	provider := &fakeProvider{responses: []string{
		`{"rideOptions": [], "summary": ""}`,
		structuredResponse,
	}}
	store := &fakeStore{}
	w := testWorkflow(store, provider)
	w.readPage = func(browserCtx context.Context) (string, error) {
		return "Welcome back\nUberX $14.52\nComfort $19.80\nTerms apply", nil
	}

	result := w.Lookup(context.Background(), "home", "clinic")
	if !result.Success {
		t.Fatalf("expected recovery via secondary pass: %+v", result)
	}
	if provider.calls != 2 {
		t.Fatalf("expected two structuring calls, got %d", provider.calls)
	}
}

func TestLast_ReturnsSingleton(t *testing.T) {
	store := &fakeStore{latest: &domain.RideLookup{Success: true, Pickup: "home", Destination: "clinic"}}
	w := testWorkflow(store, &fakeProvider{})

	got, err := w.Last(context.Background())
	if err != nil {
		t.Fatalf("last: %v", err)
	}
	if got == nil || got.Destination != "clinic" {
		t.Fatalf("unexpected: %+v", got)
	}
}

func TestPriceLines_FiltersNoise(t *testing.T) {
	text := "Welcome\nUberX $14.52\nSome legal text\nComfort €19.80\nuber one banner"
	got := priceLines(text)
	if !strings.Contains(got, "$14.52") || !strings.Contains(got, "€19.80") {
		t.Fatalf("price lines missing: %q", got)
	}
	if strings.Contains(got, "legal text") {
		t.Fatalf("noise kept: %q", got)
	}
}
