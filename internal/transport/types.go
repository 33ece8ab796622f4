package transport

import "context"

// ContentKind tags what an inbound message carries. Media messages keep
// their caption in Message.Text.
type ContentKind string

const (
	KindText     ContentKind = "text"
	KindPhoto    ContentKind = "photo"
	KindVideo    ContentKind = "video"
	KindDocument ContentKind = "document"
	KindSticker  ContentKind = "sticker"
	KindUnknown  ContentKind = "unknown"
)

// Message is one inbound unit of work. It is created by the adapter on
// receipt and never mutated afterwards.
type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	FromIsBot    bool
	Text         string
	Kind         ContentKind
	IsGroup      bool
	IsPrivate    bool
}

// MembershipUpdate reports the bot's own membership changing in a chat.
type MembershipUpdate struct {
	ChatID int64
	Kicked bool
}

type UpdateKind string

const (
	UpdateMessage    UpdateKind = "message"
	UpdateMembership UpdateKind = "membership"
)

type Update struct {
	Kind       UpdateKind
	Message    *Message
	Membership *MembershipUpdate
}

type ChatTarget struct {
	ChatID int64
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

type SendOptions struct {
	// ReplyTo references a message in the destination chat to reply to.
	// Zero means a plain send.
	ReplyTo int
}

// Sender is the outbound half used by the router and the dispatcher.
type Sender interface {
	// Reply sends text as a direct reply to msg in its origin chat.
	Reply(ctx context.Context, msg *Message, text string) (MessageRef, error)
	// SendText delivers text to a chat, optionally referencing a message.
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	// Copy re-delivers the referenced message (any content kind) to another chat.
	Copy(ctx context.Context, to ChatTarget, src MessageRef) error
	// Probe checks that the destination chat is still reachable.
	Probe(ctx context.Context, to ChatTarget) error
}

// Adapter is the full transport: inbound update stream plus Sender.
type Adapter interface {
	Sender
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
}
