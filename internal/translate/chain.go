package translate

import (
	"context"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"relaybot/pkg/logx"
)

// ChainConfig tunes retry and output capping. Zero values select defaults.
type ChainConfig struct {
	// Attempts per provider before escalating (default 3).
	RetryMax int
	// First retry delay; doubles per attempt (default 2s).
	RetryBase time.Duration
	// Delivered results are capped to this many code points (default 4000).
	MaxRunes int
}

func (c ChainConfig) withDefaults() ChainConfig {
	if c.RetryMax <= 0 {
		c.RetryMax = 3
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 2 * time.Second
	}
	if c.MaxRunes <= 0 {
		c.MaxRunes = 4000
	}
	return c
}

// Chain escalates through translation tiers: primary HTTP provider, then an
// LLM fallback, then (only after a hard primary failure) the offline
// dictionary. It never returns an error to the caller; everything internal
// collapses into "result or silence".
type Chain struct {
	primary Provider // nil when unconfigured; offline then takes its place
	llm     Provider // nil when unconfigured
	offline Provider

	cfg ChainConfig
	log logx.Logger
}

func NewChain(primary, llm Provider, cfg ChainConfig, log logx.Logger) *Chain {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Chain{
		primary: primary,
		llm:     llm,
		offline: NewOffline(),
		cfg:     cfg.withDefaults(),
		log:     log,
	}
}

// Translate runs the tiered escalation. ok=false means silence: nothing
// trustworthy came out of any tier and the caller must not deliver anything.
func (c *Chain) Translate(ctx context.Context, text string, source, target Lang) (Result, bool) {
	first := c.primary
	if first == nil {
		first = c.offline
	}

	var (
		rejected   string // primary result that failed quality checks
		hardFailed bool
	)

	out, err := c.attempt(ctx, first, text, source, target)
	if err != nil {
		hardFailed = true
		c.log.Warn("primary tier failed", logx.String("provider", first.Name()), logx.Err(err))
	} else {
		out = CapRunes(out, c.cfg.MaxRunes)
		reason := rejectReason(text, out, target)
		if reason == "" {
			return Result{Text: out, Provider: first.Name(), Accepted: true}, true
		}
		rejected = out
		c.log.Info("primary result rejected",
			logx.String("provider", first.Name()), logx.String("reason", reason))
	}

	// Ambiguous fallback always prefers Chinese for the group.
	if c.llm != nil {
		llmOut, llmErr := c.attempt(ctx, c.llm, text, source, ZH)
		if llmErr != nil {
			c.log.Warn("llm tier failed", logx.Err(llmErr))
		} else {
			llmOut = CapRunes(llmOut, c.cfg.MaxRunes)
			if llmOut != "" && !isEcho(text, llmOut) {
				return Result{Text: llmOut, Provider: c.llm.Name(), Accepted: true}, true
			}
			c.log.Info("llm result rejected", logx.Bool("empty", llmOut == ""))
		}
	}

	// A borderline primary result that two tiers could not improve on is
	// suppressed: silence over noise.
	if !hardFailed && rejected != "" {
		return Result{Text: rejected, Provider: first.Name()}, false
	}

	// Hard primary failure and no usable LLM output: the offline dictionary
	// is the last resort, but only when its output points the right way.
	if first != c.offline {
		fbOut, _ := c.offline.Translate(ctx, text, source, target)
		fbOut = CapRunes(fbOut, c.cfg.MaxRunes)
		if fbOut == "" {
			return Result{}, false
		}
		if target == ZH && HanCount(fbOut) == 0 {
			c.log.Info("offline result discarded: no Han characters for zh target")
			return Result{Provider: ProviderOffline}, false
		}
		if target == EN && LatinCount(fbOut) == 0 {
			c.log.Info("offline result discarded: no Latin letters for en target")
			return Result{Provider: ProviderOffline}, false
		}
		return Result{Text: fbOut, Provider: ProviderOffline, Accepted: true}, true
	}

	return Result{}, false
}

// attempt calls one provider with exponential backoff. Retrying does not
// distinguish transient from permanent provider errors; upstream APIs give
// us no structured codes to do better on, so a bad credential simply burns
// through its attempts before escalation.
func (c *Chain) attempt(ctx context.Context, p Provider, text string, source, target Lang) (string, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.RetryBase
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0

	var out string
	op := func() error {
		var err error
		out, err = p.Translate(ctx, text, source, target)
		if err != nil {
			c.log.Debug("provider attempt failed", logx.String("provider", p.Name()), logx.Err(err))
		}
		return err
	}
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.cfg.RetryMax-1)), ctx))
	if err != nil {
		return "", err
	}
	return out, nil
}

// rejectReason applies the primary tier's acceptance policy.
// Empty string means accepted.
func rejectReason(input, output string, target Lang) string {
	if output == "" {
		return "empty result"
	}
	if isEcho(input, output) {
		return "echo of input"
	}
	if target == ZH && HanCount(output) == 0 {
		return "zh target without Han characters"
	}
	return ""
}

func isEcho(input, output string) bool {
	return strings.EqualFold(strings.TrimSpace(input), strings.TrimSpace(output))
}
