package domain

import "time"

type InboundMessage struct {
	Channel   string
	ChatID    string
	SenderID  string
	Content   string
	Timestamp time.Time
	// ReplyCh, when set, receives the full turn result instead of the bus
	// outbound path. The web channel uses this for request/response handlers.
	ReplyCh chan<- TurnResult
}

type OutboundMessage struct {
	Channel string
	ChatID  string
	Content string
	Format  string // text | markdown | html
}

// TurnResult is the outcome of one agent turn, including the tool results
// that produced it so channels can build UI cards from them.
type TurnResult struct {
	Content     string
	ToolResults []ToolResult
	Err         error
}

// ToolResult pairs an executed tool call with its (already normalized)
// result payload.
type ToolResult struct {
	CallID string
	Tool   string
	Result any
}
