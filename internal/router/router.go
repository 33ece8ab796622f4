package router

import (
	"context"
	"strings"

	"relaybot/internal/storage"
	"relaybot/internal/translate"
	"relaybot/internal/transport"
	"relaybot/pkg/logx"
)

const defaultSkipPrefix = "/notranslate"

type Config struct {
	// SkipPrefix marks messages that must never be translated.
	SkipPrefix string
}

// Engine routes inbound group messages through the translation chain and
// replies in-thread. Side effects are strictly additive: it never edits or
// deletes messages, never delivers more than twice, and never surfaces a
// pipeline error into the chat.
type Engine struct {
	reg    storage.Store
	chain  *translate.Chain
	sender transport.Sender
	cfg    Config
	log    logx.Logger
}

func New(reg storage.Store, chain *translate.Chain, sender transport.Sender, cfg Config, log logx.Logger) *Engine {
	if cfg.SkipPrefix == "" {
		cfg.SkipPrefix = defaultSkipPrefix
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{reg: reg, chain: chain, sender: sender, cfg: cfg, log: log}
}

// HandleGroupMessage processes one inbound message to a terminal state.
// Filtered-out messages produce no side effect at all; routed messages
// always leave one translation log entry, whether delivered or suppressed.
func (e *Engine) HandleGroupMessage(ctx context.Context, msg *transport.Message) {
	if msg == nil || !msg.IsGroup {
		return
	}
	if active, err := e.reg.IsActive(ctx, msg.ChatID); err != nil || !active {
		return
	}
	if enabled, err := e.reg.IsTranslationEnabled(ctx, msg.ChatID); err != nil || !enabled {
		return
	}
	if msg.FromIsBot {
		return
	}
	text := msg.Text
	if text == "" {
		// Pure media, stickers, membership-change events.
		return
	}
	if strings.HasPrefix(text, e.cfg.SkipPrefix) || strings.HasPrefix(text, "/") {
		return
	}

	mode, err := e.reg.LanguageMode(ctx, msg.ChatID)
	if err != nil {
		mode = storage.ModeAuto
	}

	dec, toTranslate, ok := Decide(text, mode)
	if !ok {
		return
	}

	res, ok := e.chain.Translate(ctx, toTranslate, dec.Source, dec.Target)
	if !ok {
		e.log.Warn("translation suppressed",
			logx.Int64("chat_id", msg.ChatID), logx.Int("msg_id", msg.ID),
			logx.String("target", string(dec.Target)))
		e.recordAttempt(ctx, msg, dec, false)
		return
	}

	out := res.Text
	if dec.Prefix != "" {
		out = dec.Prefix + " " + out
	}

	delivered := e.deliver(ctx, msg, out)
	e.recordAttempt(ctx, msg, dec, delivered)
	if delivered {
		e.log.Info("translated",
			logx.Int64("chat_id", msg.ChatID), logx.Int("msg_id", msg.ID),
			logx.String("src", string(dec.Source)), logx.String("dst", string(dec.Target)),
			logx.String("provider", res.Provider))
	}
}

// deliver replies to the original message, retrying once through the plain
// send path with an explicit reply reference if the direct reply fails.
func (e *Engine) deliver(ctx context.Context, msg *transport.Message, text string) bool {
	if _, err := e.sender.Reply(ctx, msg, text); err == nil {
		return true
	} else {
		e.log.Error("reply failed, retrying via send",
			logx.Int64("chat_id", msg.ChatID), logx.Int("msg_id", msg.ID), logx.Err(err))
	}

	to := transport.ChatTarget{ChatID: msg.ChatID}
	if _, err := e.sender.SendText(ctx, to, text, &transport.SendOptions{ReplyTo: msg.ID}); err != nil {
		e.log.Error("send fallback failed",
			logx.Int64("chat_id", msg.ChatID), logx.Int("msg_id", msg.ID), logx.Err(err))
		return false
	}
	return true
}

func (e *Engine) recordAttempt(ctx context.Context, msg *transport.Message, dec Decision, success bool) {
	err := e.reg.RecordTranslation(ctx, storage.TranslationLog{
		ChatID:    msg.ChatID,
		MessageID: msg.ID,
		UserID:    msg.FromID,
		Source:    string(dec.Source),
		Target:    string(dec.Target),
		Success:   success,
	})
	if err != nil {
		e.log.Warn("translation log write failed", logx.Err(err))
	}
}
