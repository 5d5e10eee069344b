package ride

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/chromedp/chromedp"
)

// ErrNoSession means the Chrome profile has never been provisioned, so
// there is no authenticated browser context to drive.
var ErrNoSession = errors.New("no authenticated browser session")

// LoginSuggestion is surfaced to the user when ErrNoSession fires.
const LoginSuggestion = "Run 'carebot ride-login' on the host machine to sign in once; the session is reused afterwards."

// Browser manages the persistent, pre-authenticated Chrome profile used
// for ride and grocery automation. The profile directory is provisioned
// once by Login and reused by every session after that.
type Browser struct {
	profileDir string
	headless   bool
	logger     *slog.Logger
}

func NewBrowser(profileDir string, headless bool, logger *slog.Logger) *Browser {
	return &Browser{
		profileDir: profileDir,
		headless:   headless,
		logger:     logger,
	}
}

func (b *Browser) allocOptions(visible bool) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserDataDir(b.profileDir),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("exclude-switches", "enable-automation"),
		chromedp.UserAgent("Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"),
	)
	if visible || !b.headless {
		opts = append(opts, chromedp.Flag("headless", false))
	} else {
		opts = append(opts, chromedp.Headless)
	}
	return opts
}

// Provisioned reports whether Login has ever populated the profile.
func (b *Browser) Provisioned() bool {
	entries, err := os.ReadDir(b.profileDir)
	if err != nil {
		return false
	}
	return len(entries) > 0
}

// Session opens a chromedp context on the authenticated profile. The
// returned cancel func releases the whole allocator; callers must defer
// it on every path so the session never leaks.
func (b *Browser) Session(parent context.Context) (context.Context, context.CancelFunc, error) {
	if !b.Provisioned() {
		return nil, nil, ErrNoSession
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(parent, b.allocOptions(false)...)
	taskCtx, taskCancel := chromedp.NewContext(allocCtx)

	cancelAll := func() {
		taskCancel()
		allocCancel()
	}
	return taskCtx, cancelAll, nil
}

// Login opens a visible browser on the booking site for a one-time
// manual sign-in. Cookies persist in the profile directory; the call
// returns when the parent context is cancelled (Ctrl+C).
func (b *Browser) Login(ctx context.Context, url string) error {
	if err := os.MkdirAll(b.profileDir, 0o755); err != nil {
		return fmt.Errorf("create profile dir: %w", err)
	}

	b.logger.Info("opening browser for login", "url", url)

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, b.allocOptions(true)...)
	defer allocCancel()

	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	defer taskCancel()

	if err := chromedp.Run(taskCtx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate to login page: %w", err)
	}

	b.logger.Info("browser opened. Log in manually, then press Ctrl+C.")
	<-ctx.Done()

	b.logger.Info("login session saved", "profile", b.profileDir)
	return nil
}
