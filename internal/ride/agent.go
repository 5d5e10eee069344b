package ride

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"carebot/internal/domain"

	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
)

// Agent drives a browser session toward a goal by looping observe ->
// model decides -> act. Each cycle snapshots the page (URL, title, text,
// candidate controls), asks the model for exactly one action as JSON,
// and executes it. A hard step cap bounds the session.
type Agent struct {
	provider domain.Provider
	model    string
	maxSteps int
	logger   *slog.Logger
}

func NewAgent(provider domain.Provider, model string, maxSteps int, logger *slog.Logger) *Agent {
	if maxSteps <= 0 {
		maxSteps = 25
	}
	return &Agent{provider: provider, model: model, maxSteps: maxSteps, logger: logger}
}

type agentAction struct {
	Action   string `json:"action"` // navigate | click | type | press | wait | done
	Selector string `json:"selector,omitempty"`
	Text     string `json:"text,omitempty"`
	URL      string `json:"url,omitempty"`
	Key      string `json:"key,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

const agentSystemPrompt = `You are controlling a web browser one action at a time.
Respond with a single JSON object and nothing else:
{"action": "navigate|click|type|press|wait|done", "selector": "...", "text": "...", "url": "...", "key": "...", "reason": "..."}

Rules:
- "navigate" needs "url". "click" needs "selector". "type" needs "selector" and "text".
- "press" needs "key" (e.g. "Enter"). "wait" pauses two seconds for the page to settle.
- Use CSS selectors from the CONTROLS list when possible.
- Respond "done" with a short "reason" once the goal is visibly achieved on the page.`

// Run pursues the goal inside an existing chromedp context. It returns a
// human-readable trace of the actions taken.
func (a *Agent) Run(browserCtx context.Context, goal string) ([]string, error) {
	var steps []string

	for step := 1; step <= a.maxSteps; step++ {
		obs, err := observe(browserCtx)
		if err != nil {
			return steps, fmt.Errorf("observe page: %w", err)
		}

		act, err := a.decide(browserCtx, goal, obs, steps)
		if err != nil {
			return steps, err
		}

		desc := describeAction(act)
		steps = append(steps, desc)
		a.logger.Debug("agent action", "step", step, "action", desc)

		if act.Action == "done" {
			return steps, nil
		}
		if err := execute(browserCtx, act); err != nil {
			// One failed action is not fatal; report it back to the model
			steps = append(steps, fmt.Sprintf("action failed: %v", err))
			continue
		}
	}

	return steps, fmt.Errorf("browser agent hit the %d-step limit before finishing", a.maxSteps)
}

func (a *Agent) decide(ctx context.Context, goal string, obs *observation, steps []string) (*agentAction, error) {
	history := "none yet"
	if len(steps) > 0 {
		history = strings.Join(steps, "\n")
	}

	prompt := fmt.Sprintf("GOAL: %s\n\nURL: %s\nTITLE: %s\n\nPAGE TEXT:\n%s\n\nCONTROLS:\n%s\n\nPREVIOUS ACTIONS:\n%s\n\nNext action?",
		goal, obs.URL, obs.Title, obs.Text, obs.Controls, history)

	resp, err := a.provider.Chat(ctx, domain.ChatRequest{
		Model: a.model,
		Messages: []domain.Message{
			{Role: "system", Content: agentSystemPrompt},
			{Role: "user", Content: prompt},
		},
		ResponseJSON: true,
		Temperature:  0,
	})
	if err != nil {
		return nil, fmt.Errorf("agent decision: %w", err)
	}

	var act agentAction
	if err := json.Unmarshal([]byte(extractJSONObject(resp.Content)), &act); err != nil {
		return nil, fmt.Errorf("agent returned unparseable action %q: %w", resp.Content, err)
	}
	if act.Action == "" {
		return nil, fmt.Errorf("agent returned empty action")
	}
	return &act, nil
}

type observation struct {
	URL      string
	Title    string
	Text     string
	Controls string
}

// controlsJS lists candidate interactive elements with usable selectors.
const controlsJS = `
(function() {
	var out = [];
	var els = document.querySelectorAll('a, button, input, textarea, select, [role="button"], [role="combobox"]');
	for (var i = 0; i < els.length && out.length < 60; i++) {
		var el = els[i];
		var r = el.getBoundingClientRect();
		if (r.width === 0 || r.height === 0) continue;
		var label = (el.innerText || el.value || el.placeholder || el.getAttribute('aria-label') || '').trim().slice(0, 60);
		var sel = el.tagName.toLowerCase();
		if (el.id) sel = '#' + CSS.escape(el.id);
		else if (el.getAttribute('data-testid')) sel = '[data-testid="' + el.getAttribute('data-testid') + '"]';
		else if (el.name) sel = sel + '[name="' + el.name + '"]';
		else if (el.getAttribute('aria-label')) sel = sel + '[aria-label="' + el.getAttribute('aria-label') + '"]';
		else continue;
		out.push(sel + ' -> ' + label);
	}
	return out.join('\n');
})()`

func observe(ctx context.Context) (*observation, error) {
	var obs observation
	err := chromedp.Run(ctx,
		chromedp.Location(&obs.URL),
		chromedp.Title(&obs.Title),
		chromedp.Evaluate(`document.body ? document.body.innerText.slice(0, 4000) : ''`, &obs.Text),
		chromedp.Evaluate(controlsJS, &obs.Controls),
	)
	if err != nil {
		return nil, err
	}
	return &obs, nil
}

func execute(ctx context.Context, act *agentAction) error {
	timeout, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	switch act.Action {
	case "navigate":
		if act.URL == "" {
			return fmt.Errorf("navigate needs a url")
		}
		return chromedp.Run(timeout,
			chromedp.Navigate(act.URL),
			chromedp.WaitReady("body"),
		)
	case "click":
		if act.Selector == "" {
			return fmt.Errorf("click needs a selector")
		}
		return chromedp.Run(timeout,
			chromedp.WaitVisible(act.Selector, chromedp.ByQuery),
			chromedp.Click(act.Selector, chromedp.ByQuery),
			chromedp.Sleep(500*time.Millisecond),
		)
	case "type":
		if act.Selector == "" {
			return fmt.Errorf("type needs a selector")
		}
		return chromedp.Run(timeout,
			chromedp.WaitVisible(act.Selector, chromedp.ByQuery),
			chromedp.Click(act.Selector, chromedp.ByQuery),
			chromedp.SendKeys(act.Selector, act.Text, chromedp.ByQuery),
			chromedp.Sleep(500*time.Millisecond),
		)
	case "press":
		key := act.Key
		if key == "" || strings.EqualFold(key, "enter") {
			key = kb.Enter
		}
		return chromedp.Run(timeout,
			chromedp.KeyEvent(key),
			chromedp.Sleep(time.Second),
		)
	case "wait":
		return chromedp.Run(timeout, chromedp.Sleep(2*time.Second))
	default:
		return fmt.Errorf("unknown action %q", act.Action)
	}
}

func describeAction(act *agentAction) string {
	switch act.Action {
	case "navigate":
		return "navigate to " + act.URL
	case "click":
		return "click " + act.Selector
	case "type":
		return fmt.Sprintf("type %q into %s", act.Text, act.Selector)
	case "press":
		return "press " + act.Key
	case "wait":
		return "wait for page"
	case "done":
		if act.Reason != "" {
			return "done: " + act.Reason
		}
		return "done"
	default:
		return act.Action
	}
}

// extractJSONObject trims anything around the outermost JSON object.
// Some models wrap JSON in code fences even when asked not to.
func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
