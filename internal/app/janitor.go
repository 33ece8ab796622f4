package app

import (
	"context"
	"time"

	"relaybot/internal/broadcast"
	"relaybot/internal/transport"
	"relaybot/pkg/logx"
)

// sweepGroups probes every active destination and repairs the registry:
// migrated chats are remapped to their new id, dead chats are deactivated.
// Probes are paced so the sweep itself never trips flood control.
func (a *App) sweepGroups(ctx context.Context) {
	groups, err := a.store.ListActiveGroups(ctx)
	if err != nil {
		a.log.Warn("janitor: list groups failed", logx.Err(err))
		return
	}

	var migrated, deactivated int
	for _, g := range groups {
		if ctx.Err() != nil {
			return
		}
		err := a.adapter.Probe(ctx, transport.ChatTarget{ChatID: g.ChatID})
		if err == nil {
			continue
		}
		class, newID := broadcast.Classify(err)
		switch class {
		case broadcast.ClassMigrated:
			if newID == 0 {
				continue
			}
			if merr := a.store.Migrate(ctx, g.ChatID, newID); merr != nil {
				a.log.Warn("janitor: migrate failed",
					logx.Int64("chat_id", g.ChatID), logx.Int64("new_chat_id", newID), logx.Err(merr))
				continue
			}
			migrated++
		case broadcast.ClassPermanent:
			if derr := a.store.Deactivate(ctx, g.ChatID); derr != nil {
				a.log.Warn("janitor: deactivate failed", logx.Int64("chat_id", g.ChatID), logx.Err(derr))
				continue
			}
			deactivated++
		default:
			// Transient or unknown probe failures are left for the next sweep.
			a.log.Debug("janitor: probe inconclusive", logx.Int64("chat_id", g.ChatID), logx.Err(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(200 * time.Millisecond):
		}
	}

	a.log.Info("janitor sweep done",
		logx.Int("probed", len(groups)),
		logx.Int("migrated", migrated),
		logx.Int("deactivated", deactivated))
}
