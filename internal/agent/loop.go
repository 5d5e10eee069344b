package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"carebot/internal/domain"
	"carebot/internal/metrics"
	"carebot/internal/tool"
)

const (
	defaultMaxSteps     = 10
	defaultHistoryLimit = 40
	defaultLLMMaxTokens = 4096
	defaultTemperature  = 0.7
	defaultConcurrency  = 3
)

// ConversationStore persists turn history per conversation.
type ConversationStore interface {
	EnsureConversation(ctx context.Context, id, channel string) error
	AddMessage(ctx context.Context, convID string, msg domain.Message) error
	GetMessages(ctx context.Context, convID string, limit int) ([]domain.Message, error)
}

// Loop is the agent engine: receive message, call the model, execute tool
// calls through the dispatcher, repeat until the model answers in text or
// the step cap is reached.
type Loop struct {
	provider     domain.Provider
	model        string
	store        ConversationStore
	prompt       *PromptBuilder
	registry     *tool.Registry
	dispatcher   *tool.Dispatcher
	bus          domain.MessageBus
	logger       *slog.Logger
	maxSteps     int
	historyLimit int
	concurrency  int
}

// LoopConfig holds the dependencies and tuning parameters for the loop.
type LoopConfig struct {
	Provider     domain.Provider
	Model        string
	Store        ConversationStore
	Prompt       *PromptBuilder
	Registry     *tool.Registry
	Dispatcher   *tool.Dispatcher
	Bus          domain.MessageBus
	Logger       *slog.Logger
	MaxSteps     int
	HistoryLimit int
	Concurrency  int // max parallel turns (default 3)
}

func NewLoop(cfg LoopConfig) *Loop {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = defaultMaxSteps
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	return &Loop{
		provider:     cfg.Provider,
		model:        cfg.Model,
		store:        cfg.Store,
		prompt:       cfg.Prompt,
		registry:     cfg.Registry,
		dispatcher:   cfg.Dispatcher,
		bus:          cfg.Bus,
		logger:       cfg.Logger,
		maxSteps:     cfg.MaxSteps,
		historyLimit: cfg.HistoryLimit,
		concurrency:  cfg.Concurrency,
	}
}

// Run consumes inbound messages until the context ends. Turns run with
// bounded concurrency; tool calls inside a turn run sequentially.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Info("agent loop started", "max_steps", l.maxSteps, "concurrency", l.concurrency)

	sem := make(chan struct{}, l.concurrency)
	inbound := l.bus.Subscribe()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("agent loop stopping")
			return
		case msg, ok := <-inbound:
			if !ok {
				l.logger.Info("inbound channel closed, agent loop stopping")
				return
			}
			sem <- struct{}{}
			go func(m domain.InboundMessage) {
				defer func() { <-sem }()
				l.processMessage(ctx, m)
			}(msg)
		}
	}
}

// ProcessDirect runs a single turn synchronously. CLI and the gateway's
// request/response handlers use it.
func (l *Loop) ProcessDirect(ctx context.Context, content, channel, chatID string) domain.TurnResult {
	return l.Turn(ctx, domain.InboundMessage{
		Channel:   channel,
		ChatID:    chatID,
		SenderID:  "user",
		Content:   content,
		Timestamp: time.Now(),
	})
}

func (l *Loop) processMessage(ctx context.Context, msg domain.InboundMessage) {
	result := l.Turn(ctx, msg)

	if msg.ReplyCh != nil {
		msg.ReplyCh <- result
		return
	}

	content := result.Content
	if result.Err != nil {
		content = fmt.Sprintf("Sorry, something went wrong: %s", result.Err.Error())
	}
	l.bus.SendOutbound(domain.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: content,
		Format:  "text",
	})
}

// Turn runs one full agent turn and returns the result with the tool
// payloads that produced it.
func (l *Loop) Turn(ctx context.Context, msg domain.InboundMessage) domain.TurnResult {
	metrics.MessagesTotal.Inc()
	l.logger.Info("processing message",
		"channel", msg.Channel,
		"sender", msg.SenderID,
		"content_len", len(msg.Content),
	)

	convID := fmt.Sprintf("%s:%s", msg.Channel, msg.ChatID)
	if err := l.store.EnsureConversation(ctx, convID, msg.Channel); err != nil {
		return domain.TurnResult{Err: fmt.Errorf("conversation: %w", err)}
	}

	history, err := l.store.GetMessages(ctx, convID, l.historyLimit)
	if err != nil {
		l.logger.Warn("loading history failed, continuing without it", "err", err)
		history = nil
	}

	messages := l.prompt.BuildMessages(ctx, history, msg.Content)
	toolDefs := l.registry.Definitions()

	var finalContent string
	var toolResults []domain.ToolResult

	for step := 0; step < l.maxSteps; step++ {
		l.logger.Debug("agent step", "step", step+1, "messages", len(messages))

		resp, err := l.provider.Chat(ctx, domain.ChatRequest{
			Messages:    messages,
			Tools:       toolDefs,
			Model:       l.model,
			MaxTokens:   defaultLLMMaxTokens,
			Temperature: defaultTemperature,
		})
		if err != nil {
			return domain.TurnResult{Err: fmt.Errorf("model: %w", err)}
		}

		if !resp.HasToolCalls() {
			finalContent = resp.Content
			break
		}

		messages = append(messages, domain.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		// Tools run one at a time: several of them share the single
		// SQLite connection and the browser session.
		for _, tc := range resp.ToolCalls {
			payload := l.dispatcher.Dispatch(ctx, tc.Name, tc.Arguments)
			toolResults = append(toolResults, domain.ToolResult{
				CallID: tc.ID,
				Tool:   tc.Name,
				Result: payload,
			})
			messages = append(messages, domain.Message{
				Role:       "tool",
				Content:    marshalPayload(payload),
				ToolCallID: tc.ID,
				ToolName:   tc.Name,
			})
		}
	}

	if finalContent == "" {
		finalContent = "I wasn't able to finish that. Could you try asking again?"
	}

	if err := l.store.AddMessage(ctx, convID, domain.Message{Role: "user", Content: msg.Content}); err != nil {
		l.logger.Warn("saving user message failed", "err", err)
	}
	if err := l.store.AddMessage(ctx, convID, domain.Message{Role: "assistant", Content: finalContent}); err != nil {
		l.logger.Warn("saving assistant message failed", "err", err)
	}

	return domain.TurnResult{Content: finalContent, ToolResults: toolResults}
}

func marshalPayload(payload any) string {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf(`{"error": "unserializable tool result: %v"}`, err)
	}
	return string(data)
}
