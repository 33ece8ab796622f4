package app

import (
	"context"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"

	"relaybot/internal/broadcast"
	"relaybot/internal/config"
	"relaybot/internal/router"
	"relaybot/internal/storage"
	"relaybot/internal/translate"
	"relaybot/internal/transport"
	"relaybot/internal/transport/telegram"
	"relaybot/pkg/logx"
)

// App owns every long-lived component. It is constructed once at process
// start; request/update handlers receive their dependencies from here
// instead of reaching for globals.
type App struct {
	cfgPath string

	mu  sync.Mutex
	cfg config.Config

	logsvc  *logx.Service
	log     logx.Logger
	store   storage.Store
	adapter *telegram.Adapter
	engine  *router.Engine
	bcast   *broadcast.Service
	sched   *cron.Cron

	updates chan transport.Update
	wg      sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	logsvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: config.DurationOr(cfg.Storage.BusyTimeout, 0),
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: config.DurationOr(cfg.Telegram.PollTimeout, 0),
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	chain := buildChain(cfg.Translate, log)

	engine := router.New(store, chain, adapter,
		router.Config{SkipPrefix: cfg.Router.SkipPrefix},
		log.With(logx.String("comp", "router")))

	disp := broadcast.NewDispatcher(adapter, store, broadcast.DispatcherConfig{
		Concurrency: cfg.Broadcast.Concurrency,
		RetryMax:    cfg.Broadcast.RetryMax,
		SendPause:   config.DurationOr(cfg.Broadcast.SendPause, 0),
	}, log.With(logx.String("comp", "broadcast")))

	bcast := broadcast.NewService(disp, store, cfg.Telegram.OwnerUserIDs, broadcast.ServiceConfig{
		MaxPerHour: cfg.Broadcast.MaxPerHour,
		MaxGroups:  cfg.Broadcast.MaxGroups,
	}, log.With(logx.String("comp", "broadcast")))

	return &App{
		cfgPath: cfgPath,
		cfg:     cfg,
		logsvc:  logsvc,
		log:     log,
		store:   store,
		adapter: adapter,
		engine:  engine,
		bcast:   bcast,
		updates: make(chan transport.Update, 256),
	}, nil
}

func buildChain(cfg config.TranslateConfig, log logx.Logger) *translate.Chain {
	timeout := config.DurationOr(cfg.Timeout, 0)

	var primary translate.Provider
	if cfg.Provider == "deepl" && cfg.APIKey != "" {
		primary = translate.NewDeepL(cfg.APIKey, timeout)
	}
	var llm translate.Provider
	if cfg.LLM.APIKey != "" {
		llm = translate.NewLLM(translate.LLMConfig{
			APIKey:   cfg.LLM.APIKey,
			BaseURL:  cfg.LLM.BaseURL,
			Endpoint: cfg.LLM.Endpoint,
			Model:    cfg.LLM.Model,
			Timeout:  timeout,
		})
	}
	return translate.NewChain(primary, llm, translate.ChainConfig{
		RetryMax:  cfg.RetryMax,
		RetryBase: config.DurationOr(cfg.RetryBase, 0),
		MaxRunes:  cfg.MaxRunes,
	}, log.With(logx.String("comp", "translate")))
}

func (a *App) Start(ctx context.Context) error {
	if err := a.adapter.Start(ctx, a.updates); err != nil {
		return err
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.pump(ctx)
	}()

	if a.cfg.Janitor.Enabled {
		schedule := a.cfg.Janitor.Schedule
		if schedule == "" {
			schedule = "0 4 * * *"
		}
		a.sched = cron.New()
		_, err := a.sched.AddFunc(schedule, func() { a.sweepGroups(ctx) })
		if err != nil {
			a.log.Warn("janitor schedule rejected", logx.String("schedule", schedule), logx.Err(err))
		} else {
			a.sched.Start()
			a.log.Info("janitor scheduled", logx.String("schedule", schedule))
		}
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := config.Watch(ctx, a.cfgPath, a.log, a.applyConfig); err != nil {
			a.log.Warn("config watch unavailable", logx.Err(err))
		}
	}()

	a.log.Info("started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	if a.sched != nil {
		<-a.sched.Stop().Done()
	}
	_ = a.adapter.Stop(ctx)
	a.wg.Wait()
	err := a.store.Close()
	_ = a.logsvc.Close()
	return err
}

// applyConfig picks up the hot-reloadable subset: logging sinks/levels.
// Transport, storage, and chain tiers need a restart.
func (a *App) applyConfig(cfg config.Config) {
	a.mu.Lock()
	a.cfg.Logging = cfg.Logging
	a.mu.Unlock()

	a.logsvc.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
}

// pump drains the update channel. Group messages are handled concurrently;
// no ordering is promised across chats.
func (a *App) pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case up := <-a.updates:
			switch up.Kind {
			case transport.UpdateMembership:
				a.handleMembership(ctx, up.Membership)
			case transport.UpdateMessage:
				if up.Message == nil {
					continue
				}
				msg := up.Message
				switch {
				case msg.IsGroup:
					a.wg.Add(1)
					go func() {
						defer a.wg.Done()
						a.engine.HandleGroupMessage(ctx, msg)
					}()
				case msg.IsPrivate:
					a.wg.Add(1)
					go func() {
						defer a.wg.Done()
						a.handlePrivate(ctx, msg)
					}()
				}
			}
		}
	}
}

// handleMembership keeps the registry in step with the bot's own membership:
// being added (re)registers the chat as a destination, being kicked removes it.
func (a *App) handleMembership(ctx context.Context, mu *transport.MembershipUpdate) {
	if mu == nil {
		return
	}
	if mu.Kicked {
		if err := a.store.DeleteGroup(ctx, mu.ChatID); err != nil {
			a.log.Warn("group removal failed", logx.Int64("chat_id", mu.ChatID), logx.Err(err))
		} else {
			a.log.Info("group removed (bot kicked)", logx.Int64("chat_id", mu.ChatID))
		}
		return
	}
	if err := a.store.UpsertGroup(ctx, mu.ChatID, "", 0); err != nil {
		a.log.Warn("group registration failed", logx.Int64("chat_id", mu.ChatID), logx.Err(err))
	} else {
		a.log.Info("group registered", logx.Int64("chat_id", mu.ChatID))
	}
}

// handlePrivate treats any non-command private message from an authorized
// actor as a broadcast source and answers with the job report.
func (a *App) handlePrivate(ctx context.Context, msg *transport.Message) {
	if strings.HasPrefix(strings.TrimSpace(msg.Text), "/") && msg.Kind == transport.KindText {
		return
	}

	rep, err := a.bcast.Broadcast(ctx, msg.FromID, msg)
	var reply string
	switch {
	case err == nil:
		reply = rep.Summary()
	case err == broadcast.ErrNotAuthorized:
		reply = "权限不足"
	case err == broadcast.ErrRateLimited:
		reply = "频率受限"
	case err == broadcast.ErrNoDestinations:
		reply = "尚无已激活群组"
	default:
		a.log.Error("broadcast failed", logx.Int64("actor", msg.FromID), logx.Err(err))
		reply = "广播失败，请稍后再试"
	}
	if _, err := a.adapter.Reply(ctx, msg, reply); err != nil {
		a.log.Warn("broadcast report delivery failed", logx.Int64("actor", msg.FromID), logx.Err(err))
	}
}
