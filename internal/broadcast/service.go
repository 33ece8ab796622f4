package broadcast

import (
	"context"
	"errors"
	"time"

	"relaybot/internal/storage"
	"relaybot/internal/transport"
	"relaybot/pkg/logx"
)

var (
	ErrNotAuthorized  = errors.New("broadcast: actor is not authorized")
	ErrRateLimited    = errors.New("broadcast: hourly limit reached")
	ErrNoDestinations = errors.New("broadcast: no active destinations")
)

const rateWindow = time.Hour

// ServiceConfig tunes the invocation preconditions. Zero values select
// defaults.
type ServiceConfig struct {
	// MaxPerHour limits jobs per non-privileged actor in a rolling hour
	// (default 5).
	MaxPerHour int
	// MaxGroups caps destinations per job (default 500).
	MaxGroups int
}

func (c ServiceConfig) withDefaults() ServiceConfig {
	if c.MaxPerHour <= 0 {
		c.MaxPerHour = 5
	}
	if c.MaxGroups <= 0 {
		c.MaxGroups = 500
	}
	return c
}

// Service wraps the dispatcher with the invocation preconditions:
// actor authorization, the per-actor rate limit, and destination listing.
type Service struct {
	disp   *Dispatcher
	reg    storage.Store
	owners map[int64]bool
	cfg    ServiceConfig
	log    logx.Logger
}

func NewService(disp *Dispatcher, reg storage.Store, owners []int64, cfg ServiceConfig, log logx.Logger) *Service {
	om := make(map[int64]bool, len(owners))
	for _, id := range owners {
		om[id] = true
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{disp: disp, reg: reg, owners: om, cfg: cfg.withDefaults(), log: log}
}

// Broadcast fans src out to every active destination. The rate limit is
// checked against the audit log before the job is built; privileged actors
// (owners and controllers) bypass it but not the authorization check.
func (s *Service) Broadcast(ctx context.Context, actor int64, src *transport.Message) (Report, error) {
	privileged := s.owners[actor]
	if !privileged {
		if ok, err := s.reg.IsController(ctx, actor); err == nil && ok {
			privileged = true
		}
	}
	if !privileged {
		ok, err := s.reg.IsBroadcaster(ctx, actor)
		if err != nil {
			return Report{}, err
		}
		if !ok {
			return Report{}, ErrNotAuthorized
		}
		n, err := s.reg.CountRecentBroadcasts(ctx, actor, rateWindow)
		if err != nil {
			return Report{}, err
		}
		if n >= s.cfg.MaxPerHour {
			s.log.Warn("broadcast rate limited", logx.Int64("actor", actor), logx.Int("recent", n))
			return Report{}, ErrRateLimited
		}
	}

	groups, err := s.reg.ListActiveGroups(ctx)
	if err != nil {
		return Report{}, err
	}
	if len(groups) > s.cfg.MaxGroups {
		groups = groups[:s.cfg.MaxGroups]
	}
	if len(groups) == 0 {
		return Report{}, ErrNoDestinations
	}

	targets := make([]Target, 0, len(groups))
	for _, g := range groups {
		targets = append(targets, Target{ChatID: g.ChatID, Title: g.Title})
	}

	job := Job{
		Actor:       actor,
		Source:      transport.MessageRef{ChatID: src.ChatID, MessageID: src.ID},
		ContentType: src.Kind,
		Targets:     targets,
	}
	return s.disp.Dispatch(ctx, job), nil
}
