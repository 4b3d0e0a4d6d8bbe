package transport

import "context"

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Sender is the outbound messaging gateway the core depends on.
// The presentation layer (command handlers, keyboards, localization) lives
// outside the core and shares the same underlying adapter.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// Adapter is a full messaging transport: lifecycle plus sending.
type Adapter interface {
	Sender

	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
