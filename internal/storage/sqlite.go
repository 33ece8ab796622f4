package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"relaybot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// auditTimeLayout pads nanoseconds to a fixed width so stored timestamps
// compare correctly as strings. RFC3339Nano drops trailing zeros, which
// makes a whole-second instant sort after sub-second ones in the same
// second and miscounts rows at a window edge.
const auditTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

// Open initializes the sqlite-backed registry, creating the schema if needed.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- groups ----

func (s *sqliteStore) UpsertGroup(ctx context.Context, chatID int64, title string, activatedBy int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO groups(chat_id, title, activated_by, activated_at, active)
		 VALUES(?,?,?,?,1)
		 ON CONFLICT(chat_id) DO UPDATE SET title=excluded.title, active=1`,
		chatID, title, activatedBy, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

func (s *sqliteStore) DeleteGroup(ctx context.Context, chatID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM groups WHERE chat_id=?`, chatID)
	return err
}

func (s *sqliteStore) Deactivate(ctx context.Context, chatID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE groups SET active=0 WHERE chat_id=?`, chatID)
	return err
}

func (s *sqliteStore) Migrate(ctx context.Context, oldChatID, newChatID int64) error {
	// The new id may already be registered (e.g. a concurrent task migrated
	// first); drop the stale row in that case so the remap stays idempotent.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM groups WHERE chat_id=?`, newChatID).Scan(&exists)
	if err != nil {
		return err
	}
	if exists > 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM groups WHERE chat_id=?`, oldChatID); err != nil {
			return err
		}
	} else {
		if _, err := tx.ExecContext(ctx, `UPDATE groups SET chat_id=? WHERE chat_id=?`, newChatID, oldChatID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) IsActive(ctx context.Context, chatID int64) (bool, error) {
	var active int
	err := s.db.QueryRowContext(ctx, `SELECT active FROM groups WHERE chat_id=?`, chatID).Scan(&active)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return active == 1, nil
}

func (s *sqliteStore) ListActiveGroups(ctx context.Context) ([]Group, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, title, activated_by, activated_at, lang_mode, translation_enabled
		 FROM groups WHERE active=1 ORDER BY activated_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Group
	for rows.Next() {
		var g Group
		var title, at, mode sql.NullString
		var enabled sql.NullInt64
		if err := rows.Scan(&g.ChatID, &title, &g.ActivatedBy, &at, &mode, &enabled); err != nil {
			return nil, err
		}
		g.Title = title.String
		if at.Valid {
			if ts, perr := time.Parse(time.RFC3339, at.String); perr == nil {
				g.ActivatedAt = ts
			}
		}
		g.Mode = LangMode(mode.String)
		if g.Mode == "" {
			g.Mode = ModeAuto
		}
		g.Active = true
		g.Translation = !enabled.Valid || enabled.Int64 == 1
		out = append(out, g)
	}
	return out, rows.Err()
}

// ---- translation flags ----

func (s *sqliteStore) SetTranslationEnabled(ctx context.Context, chatID int64, enabled bool) error {
	v := 0
	if enabled {
		v = 1
	}
	_, err := s.db.ExecContext(ctx, `UPDATE groups SET translation_enabled=? WHERE chat_id=?`, v, chatID)
	return err
}

func (s *sqliteStore) IsTranslationEnabled(ctx context.Context, chatID int64) (bool, error) {
	var enabled sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT translation_enabled FROM groups WHERE chat_id=?`, chatID).Scan(&enabled)
	if errors.Is(err, sql.ErrNoRows) {
		// Unknown chats default to enabled; activation gating happens via IsActive.
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return !enabled.Valid || enabled.Int64 == 1, nil
}

func (s *sqliteStore) SetLanguageMode(ctx context.Context, chatID int64, mode LangMode) error {
	_, err := s.db.ExecContext(ctx, `UPDATE groups SET lang_mode=? WHERE chat_id=?`, string(mode), chatID)
	return err
}

func (s *sqliteStore) LanguageMode(ctx context.Context, chatID int64) (LangMode, error) {
	var mode sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT lang_mode FROM groups WHERE chat_id=?`, chatID).Scan(&mode)
	if errors.Is(err, sql.ErrNoRows) {
		return ModeAuto, nil
	}
	if err != nil {
		return ModeAuto, err
	}
	switch LangMode(mode.String) {
	case ModeEN:
		return ModeEN, nil
	case ModeZH:
		return ModeZH, nil
	default:
		return ModeAuto, nil
	}
}

// ---- actors ----

func (s *sqliteStore) AddBroadcaster(ctx context.Context, userID int64, username string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO broadcasters(user_id, username) VALUES(?,?)
		 ON CONFLICT(user_id) DO UPDATE SET username=excluded.username`,
		userID, nullStr(username))
	return err
}

func (s *sqliteStore) RemoveBroadcaster(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM broadcasters WHERE user_id=?`, userID)
	return err
}

func (s *sqliteStore) IsBroadcaster(ctx context.Context, userID int64) (bool, error) {
	return s.exists(ctx, `SELECT 1 FROM broadcasters WHERE user_id=?`, userID)
}

func (s *sqliteStore) AddController(ctx context.Context, userID int64, username string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO controllers(user_id, username) VALUES(?,?)
		 ON CONFLICT(user_id) DO UPDATE SET username=excluded.username`,
		userID, nullStr(username))
	return err
}

func (s *sqliteStore) RemoveController(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM controllers WHERE user_id=?`, userID)
	return err
}

func (s *sqliteStore) IsController(ctx context.Context, userID int64) (bool, error) {
	return s.exists(ctx, `SELECT 1 FROM controllers WHERE user_id=?`, userID)
}

func (s *sqliteStore) exists(ctx context.Context, q string, args ...any) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, q, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ---- audit ----

func (s *sqliteStore) RecordTranslation(ctx context.Context, l TranslationLog) error {
	if l.At.IsZero() {
		l.At = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO trans_logs(chat_id, message_id, user_id, src_lang, dst_lang, success, created_at)
		 VALUES(?,?,?,?,?,?,?)`,
		l.ChatID, l.MessageID, l.UserID, nullStr(l.Source), l.Target, boolInt(l.Success),
		l.At.UTC().Format(auditTimeLayout),
	)
	return err
}

func (s *sqliteStore) RecordBroadcast(ctx context.Context, a BroadcastAudit) error {
	if a.At.IsZero() {
		a.At = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO broadcasts(by_user_id, content_type, created_at, total, success, failure, errors_sample)
		 VALUES(?,?,?,?,?,?,?)`,
		a.ActorID, a.ContentType, a.At.UTC().Format(auditTimeLayout),
		a.Total, a.Success, a.Failure, nullStr(a.Samples),
	)
	return err
}

func (s *sqliteStore) CountRecentBroadcasts(ctx context.Context, actorID int64, window time.Duration) (int, error) {
	since := time.Now().UTC().Add(-window).Format(auditTimeLayout)
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM broadcasts WHERE by_user_id=? AND created_at>=?`,
		actorID, since).Scan(&n)
	return n, err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
