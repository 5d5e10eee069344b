package domain

import "context"

// MessageBus connects channels to the agent loop.
type MessageBus interface {
	Publish(msg InboundMessage)
	Subscribe() <-chan InboundMessage
	SendOutbound(msg OutboundMessage)
	OnOutbound(channelName string, handler func(OutboundMessage))
	Close()
}

// Channel is a user-facing interface (web, cli, telegram).
type Channel interface {
	Name() string
	// Start blocks until the context is cancelled or the channel fails.
	Start(ctx context.Context, bus MessageBus) error
	Stop() error
	Send(ctx context.Context, chatID, content string) error
}
