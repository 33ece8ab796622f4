package storage

import (
	"context"
	"time"
)

// LangMode is a chat's persisted translation direction.
// ModeAuto means the direction is decided per message from content.
type LangMode string

const (
	ModeAuto LangMode = "auto"
	ModeEN   LangMode = "en"
	ModeZH   LangMode = "zh"
)

type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// Group is one registered destination chat.
type Group struct {
	ChatID      int64
	Title       string
	ActivatedBy int64
	ActivatedAt time.Time
	Mode        LangMode
	Active      bool
	Translation bool
}

// TranslationLog records one routed translation attempt.
// This is the routing engine's only persisted side effect.
type TranslationLog struct {
	ChatID    int64
	MessageID int
	UserID    int64
	Source    string
	Target    string
	Success   bool
	At        time.Time
}

// BroadcastAudit summarizes one finished broadcast job.
type BroadcastAudit struct {
	ActorID     int64
	ContentType string
	Total       int
	Success     int
	Failure     int
	// Samples is a joined, bounded failure sample string for diagnostics.
	Samples string
	At      time.Time
}

// Store is the group registry shared by the routing engine and the
// broadcast dispatcher. All mutations are idempotent; redundant calls from
// concurrent destination tasks are safe.
type Store interface {
	UpsertGroup(ctx context.Context, chatID int64, title string, activatedBy int64) error
	DeleteGroup(ctx context.Context, chatID int64) error
	Deactivate(ctx context.Context, chatID int64) error
	Migrate(ctx context.Context, oldChatID, newChatID int64) error
	IsActive(ctx context.Context, chatID int64) (bool, error)
	ListActiveGroups(ctx context.Context) ([]Group, error)

	SetTranslationEnabled(ctx context.Context, chatID int64, enabled bool) error
	IsTranslationEnabled(ctx context.Context, chatID int64) (bool, error)
	SetLanguageMode(ctx context.Context, chatID int64, mode LangMode) error
	LanguageMode(ctx context.Context, chatID int64) (LangMode, error)

	AddBroadcaster(ctx context.Context, userID int64, username string) error
	RemoveBroadcaster(ctx context.Context, userID int64) error
	IsBroadcaster(ctx context.Context, userID int64) (bool, error)
	AddController(ctx context.Context, userID int64, username string) error
	RemoveController(ctx context.Context, userID int64) error
	IsController(ctx context.Context, userID int64) (bool, error)

	RecordTranslation(ctx context.Context, l TranslationLog) error
	RecordBroadcast(ctx context.Context, a BroadcastAudit) error
	CountRecentBroadcasts(ctx context.Context, actorID int64, window time.Duration) (int, error)

	Close() error
}
