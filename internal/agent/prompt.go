// Package agent implements the conversation loop: build prompt, call the
// model, execute requested tools through the dispatcher, repeat until the
// model answers in plain text.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"carebot/internal/domain"
)

// ProfileStore is the slice of the persistence layer the prompt needs.
type ProfileStore interface {
	GetProfile(ctx context.Context) (*domain.UserProfile, error)
	ListContacts(ctx context.Context) ([]domain.EmergencyContact, error)
	ListMedications(ctx context.Context) ([]domain.Medication, error)
}

// PromptBuilder renders the system prompt. The profile context is loaded
// once per process and cached; Reset forces a reload after the gateway
// edits the profile, medications, or contacts.
type PromptBuilder struct {
	store    ProfileStore
	timezone string
	extra    string
	logger   *slog.Logger

	mu     sync.Mutex
	once   *sync.Once
	cached string
}

func NewPromptBuilder(store ProfileStore, timezone, extra string, logger *slog.Logger) *PromptBuilder {
	return &PromptBuilder{
		store:    store,
		timezone: timezone,
		extra:    extra,
		logger:   logger,
		once:     new(sync.Once),
	}
}

// SystemPrompt returns the cached system prompt, building it on first use.
func (p *PromptBuilder) SystemPrompt(ctx context.Context) string {
	p.mu.Lock()
	once := p.once
	p.mu.Unlock()

	once.Do(func() {
		prompt := p.build(ctx)
		p.mu.Lock()
		p.cached = prompt
		p.mu.Unlock()
	})

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cached
}

// Reset discards the cached prompt so the next turn rebuilds it.
func (p *PromptBuilder) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.once = new(sync.Once)
	p.cached = ""
}

func (p *PromptBuilder) build(ctx context.Context) string {
	loc, err := time.LoadLocation(p.timezone)
	if err != nil {
		loc = time.UTC
	}
	now := time.Now().In(loc).Format("Monday, January 2, 2006 at 3:04 PM")

	var sb strings.Builder
	sb.WriteString(`# CareBot

You are CareBot, a patient and warm voice assistant for an elderly user.
You help with medications, appointments, emergency contacts, bills,
groceries, weather, email, and ride prices. You have tools for all of
these.

## Current Time
`)
	sb.WriteString(now)
	sb.WriteString(" (")
	sb.WriteString(p.timezone)
	sb.WriteString(")\n")

	p.writeProfileContext(ctx, &sb)

	sb.WriteString(`
## RULES
1. When the user asks you to DO something, use the matching tool. Never
   say you can't without trying first.
2. Replies are spoken aloud. Use short, plain sentences. No markdown, no
   bullet lists, no emoji.
3. When a tool returns an error with a suggestion, relay the suggestion
   in plain words.
4. Confirm destructive or costly actions (booking, sending email) by
   restating what you are about to do.
5. Never read IDs, URLs, or raw JSON aloud. Summarize instead.
6. Do NOT output raw JSON in your response. Use the tool calling
   mechanism.`)

	if p.extra != "" {
		sb.WriteString("\n\n## Custom Instructions\n")
		sb.WriteString(p.extra)
	}
	return sb.String()
}

// writeProfileContext appends what is known about the user. Each section
// is optional; a fresh install has none of them.
func (p *PromptBuilder) writeProfileContext(ctx context.Context, sb *strings.Builder) {
	profile, err := p.store.GetProfile(ctx)
	if err != nil {
		p.logger.Warn("loading profile for prompt failed", "err", err)
	} else if profile != nil {
		sb.WriteString("\n## About the User\n")
		fmt.Fprintf(sb, "Name: %s\n", profile.Name)
		if profile.Address != "" {
			fmt.Fprintf(sb, "Home address: %s\n", profile.Address)
		}
		if profile.City != "" {
			fmt.Fprintf(sb, "City: %s\n", profile.City)
		}
	}

	meds, err := p.store.ListMedications(ctx)
	if err != nil {
		p.logger.Warn("loading medications for prompt failed", "err", err)
	} else if len(meds) > 0 {
		sb.WriteString("\n## Medications\n")
		for _, m := range meds {
			fmt.Fprintf(sb, "- %s %s, %s", m.Name, m.Dosage, m.Frequency)
			if m.TimeOfDay != "" {
				fmt.Fprintf(sb, " (%s)", m.TimeOfDay)
			}
			sb.WriteByte('\n')
		}
	}

	contacts, err := p.store.ListContacts(ctx)
	if err != nil {
		p.logger.Warn("loading contacts for prompt failed", "err", err)
	} else if len(contacts) > 0 {
		sb.WriteString("\n## Emergency Contacts\n")
		for _, c := range contacts {
			fmt.Fprintf(sb, "- %s (%s)", c.Name, c.Relation)
			if c.IsPrimary {
				sb.WriteString(" [primary]")
			}
			sb.WriteByte('\n')
		}
	}
}

// BuildMessages constructs [system + history + user message] for a turn.
func (p *PromptBuilder) BuildMessages(ctx context.Context, history []domain.Message, currentMessage string) []domain.Message {
	messages := make([]domain.Message, 0, len(history)+2)
	messages = append(messages, domain.Message{Role: "system", Content: p.SystemPrompt(ctx)})
	messages = append(messages, history...)
	messages = append(messages, domain.Message{Role: "user", Content: currentMessage})
	return messages
}
