package broadcast

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"relaybot/internal/storage"
	"relaybot/internal/transport"
	"relaybot/pkg/logx"
)

const maxFailureSamples = 10

// Target is one destination chat of a job.
type Target struct {
	ChatID int64
	Title  string
}

// Job is one broadcast invocation: a source message fanned out to an
// ordered set of destinations. Created per invocation, discarded after.
type Job struct {
	Actor       int64
	Source      transport.MessageRef
	ContentType transport.ContentKind
	Targets     []Target
}

type FailureSample struct {
	ChatID int64
	Reason string
}

// Report is the operator-facing outcome. Samples are bounded diagnostics,
// not a complete failure list.
type Report struct {
	Total   int
	Success int
	Failure int
	Samples []FailureSample
}

// Summary renders the report the way operators see it in chat.
func (r Report) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "📢 广播完成\n总数: %d\n✅ 成功: %d\n❌ 失败: %d", r.Total, r.Success, r.Failure)
	if len(r.Samples) > 0 {
		b.WriteString("\n\n⚠️ 失败样本:")
		for _, s := range r.Samples {
			fmt.Fprintf(&b, "\n%d: %s", s.ChatID, s.Reason)
		}
	}
	return b.String()
}

func (r Report) joinedSamples() string {
	parts := make([]string, 0, len(r.Samples))
	for _, s := range r.Samples {
		parts = append(parts, fmt.Sprintf("%d: %s", s.ChatID, s.Reason))
	}
	return strings.Join(parts, "|")
}

// DispatcherConfig tunes the fan-out. Zero values select defaults.
type DispatcherConfig struct {
	// Concurrency bounds in-flight deliveries (default 10).
	Concurrency int
	// RetryMax is extra attempts after the first for transient failures
	// (default 2).
	RetryMax int
	// SendPause paces deliveries to stay under the transport's rate
	// limits (default 50ms between sends).
	SendPause time.Duration
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = 10
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	} else if c.RetryMax == 0 {
		c.RetryMax = 2
	}
	if c.SendPause <= 0 {
		c.SendPause = 50 * time.Millisecond
	}
	return c
}

// Dispatcher fans one message out to many destinations under a fixed
// concurrency bound, with per-destination retry, migration re-addressing,
// and permanent-failure pruning against the group registry.
type Dispatcher struct {
	sender  transport.Sender
	reg     storage.Store
	cfg     DispatcherConfig
	limiter *rate.Limiter
	log     logx.Logger
}

func NewDispatcher(sender transport.Sender, reg storage.Store, cfg DispatcherConfig, log logx.Logger) *Dispatcher {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{
		sender:  sender,
		reg:     reg,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(cfg.SendPause), cfg.Concurrency),
		log:     log,
	}
}

// Dispatch runs the job to completion and returns once every destination
// has reached a terminal outcome. There is no cancellation mid-job; the
// report always covers the full destination set.
func (d *Dispatcher) Dispatch(ctx context.Context, job Job) Report {
	start := time.Now()
	rep := Report{Total: len(job.Targets)}
	var mu sync.Mutex

	sem := semaphore.NewWeighted(int64(d.cfg.Concurrency))
	var wg sync.WaitGroup

	d.log.Info("broadcast started",
		logx.Int64("actor", job.Actor), logx.Int("total", rep.Total),
		logx.String("content_type", string(job.ContentType)))

	for _, t := range job.Targets {
		t := t
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				mu.Lock()
				rep.fail(t.ChatID, err.Error())
				mu.Unlock()
				return
			}
			defer sem.Release(1)

			ok, reason := d.deliverOne(ctx, job.Source, t)
			mu.Lock()
			if ok {
				rep.Success++
			} else {
				rep.fail(t.ChatID, reason)
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if err := d.reg.RecordBroadcast(ctx, storage.BroadcastAudit{
		ActorID:     job.Actor,
		ContentType: string(job.ContentType),
		Total:       rep.Total,
		Success:     rep.Success,
		Failure:     rep.Failure,
		Samples:     rep.joinedSamples(),
	}); err != nil {
		d.log.Warn("broadcast audit write failed", logx.Err(err))
	}

	fields := []logx.Field{
		logx.Int64("actor", job.Actor),
		logx.Int("total", rep.Total),
		logx.Int("success", rep.Success),
		logx.Int("failure", rep.Failure),
		logx.Duration("dur", time.Since(start)),
	}
	if rep.Failure > 0 {
		d.log.Warn("broadcast finished with failures", fields...)
	} else {
		d.log.Info("broadcast finished", fields...)
	}
	return rep
}

// deliverOne drives a single destination to a terminal state. The caller
// holds the concurrency slot for the whole sequence, so a destination is
// never in flight twice at once, including after re-addressing.
func (d *Dispatcher) deliverOne(ctx context.Context, src transport.MessageRef, t Target) (ok bool, reason string) {
	var lastErr error
	for attempt := 0; ; {
		err := d.send(ctx, t.ChatID, src)
		if err == nil {
			return true, ""
		}
		lastErr = err

		class, newID := Classify(err)
		switch class {
		case ClassMigrated:
			// At most one re-addressed attempt; this path never loops.
			if newID != 0 {
				if merr := d.reg.Migrate(ctx, t.ChatID, newID); merr != nil {
					d.log.Warn("group migration remap failed",
						logx.Int64("chat_id", t.ChatID), logx.Int64("new_chat_id", newID), logx.Err(merr))
				}
				if rerr := d.send(ctx, newID, src); rerr == nil {
					return true, ""
				} else {
					lastErr = rerr
				}
			}
			return false, lastErr.Error()
		case ClassPermanent:
			if derr := d.reg.Deactivate(ctx, t.ChatID); derr != nil {
				d.log.Warn("group deactivate failed", logx.Int64("chat_id", t.ChatID), logx.Err(derr))
			}
			return false, lastErr.Error()
		case ClassTransient:
			attempt++
			if attempt > d.cfg.RetryMax {
				return false, lastErr.Error()
			}
			if !sleepCtx(ctx, time.Duration(attempt)*500*time.Millisecond) {
				return false, lastErr.Error()
			}
		default:
			return false, lastErr.Error()
		}
	}
}

func (d *Dispatcher) send(ctx context.Context, chatID int64, src transport.MessageRef) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}
	return d.sender.Copy(ctx, transport.ChatTarget{ChatID: chatID}, src)
}

func (r *Report) fail(chatID int64, reason string) {
	r.Failure++
	if len(r.Samples) < maxFailureSamples {
		r.Samples = append(r.Samples, FailureSample{ChatID: chatID, Reason: reason})
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	tmr := time.NewTimer(d)
	defer tmr.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-tmr.C:
		return true
	}
}
