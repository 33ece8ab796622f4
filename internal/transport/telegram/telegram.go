package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "relaybot/internal/transport"
	"relaybot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

// Adapter bridges telebot long polling to the transport interface.
type Adapter struct {
	cfg Config
	log logx.Logger

	bot *tele.Bot
	out atomic.Value // stores (chan<- kit.Update)

	runMu   sync.Mutex
	running bool

	// droppedUpdates counts updates dropped because the consumer was slower
	// than the poll loop. Logged periodically to avoid per-update spam.
	droppedUpdates uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if cfg.Token == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	a := &Adapter{cfg: cfg, log: log}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
		OnError: func(err error, _ tele.Context) {
			a.log.Error("telebot error", logx.Err(err))
		},
	})
	if err != nil {
		return nil, err
	}
	a.bot = b

	// Ensure atomic.Value is initialized with a stable dynamic type.
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

func (a *Adapter) registerHandlers() {
	text := func(c tele.Context) error {
		a.forwardMessage(c.Message(), kit.KindText)
		return nil
	}
	a.bot.Handle(tele.OnText, text)
	a.bot.Handle(tele.OnPhoto, func(c tele.Context) error {
		a.forwardMessage(c.Message(), kit.KindPhoto)
		return nil
	})
	a.bot.Handle(tele.OnVideo, func(c tele.Context) error {
		a.forwardMessage(c.Message(), kit.KindVideo)
		return nil
	})
	a.bot.Handle(tele.OnDocument, func(c tele.Context) error {
		a.forwardMessage(c.Message(), kit.KindDocument)
		return nil
	})
	a.bot.Handle(tele.OnSticker, func(c tele.Context) error {
		a.forwardMessage(c.Message(), kit.KindSticker)
		return nil
	})
	a.bot.Handle(tele.OnMyChatMember, func(c tele.Context) error {
		cm := c.ChatMember()
		if cm == nil || cm.NewChatMember == nil || cm.Chat == nil {
			return nil
		}
		a.sendUpdate(kit.Update{
			Kind: kit.UpdateMembership,
			Membership: &kit.MembershipUpdate{
				ChatID: cm.Chat.ID,
				Kicked: cm.NewChatMember.Role == tele.Kicked,
			},
		})
		return nil
	})
}

func (a *Adapter) forwardMessage(m *tele.Message, kind kit.ContentKind) {
	if m == nil || m.Chat == nil || m.Sender == nil {
		return
	}
	text := m.Text
	if text == "" {
		text = m.Caption
	}
	a.sendUpdate(kit.Update{
		Kind: kit.UpdateMessage,
		Message: &kit.Message{
			ID:           m.ID,
			ChatID:       m.Chat.ID,
			FromID:       m.Sender.ID,
			FromUsername: m.Sender.Username,
			FromIsBot:    m.Sender.IsBot,
			Text:         text,
			Kind:         kind,
			IsGroup:      m.Chat.Type == tele.ChatGroup || m.Chat.Type == tele.ChatSuperGroup,
			IsPrivate:    m.Chat.Type == tele.ChatPrivate,
		},
	})
}

func (a *Adapter) sendUpdate(up kit.Update) {
	v := a.out.Load()
	out, _ := v.(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		atomic.AddUint64(&a.droppedUpdates, 1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.runMu.Unlock()

	go func() {
		<-ctx.Done()
		a.bot.Stop()
	}()

	// Periodic summary for dropped updates.
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
					a.log.Warn("incoming updates dropped (channel full)", logx.Any("count", n))
				}
			}
		}
	}()

	go func() {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
	}()
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	wasRunning := a.running
	a.running = false
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if wasRunning {
		a.bot.Stop()
	}
	return nil
}

// ---- Sender ----

const textLimit = 4000

func (a *Adapter) Reply(ctx context.Context, msg *kit.Message, text string) (kit.MessageRef, error) {
	opts := &tele.SendOptions{
		ReplyTo: &tele.Message{ID: msg.ID, Chat: &tele.Chat{ID: msg.ChatID}},
	}
	return a.sendChunks(tele.ChatID(msg.ChatID), text, opts)
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	opts := &tele.SendOptions{}
	if opt != nil && opt.ReplyTo != 0 {
		opts.ReplyTo = &tele.Message{ID: opt.ReplyTo, Chat: &tele.Chat{ID: to.ChatID}}
	}
	return a.sendChunks(tele.ChatID(to.ChatID), text, opts)
}

func (a *Adapter) sendChunks(to tele.ChatID, text string, opts *tele.SendOptions) (kit.MessageRef, error) {
	var ref kit.MessageRef
	for i, chunk := range splitText(text, textLimit) {
		o := opts
		if i > 0 {
			// Only the first chunk carries the reply reference.
			o = &tele.SendOptions{}
		}
		m, err := a.bot.Send(to, chunk, o)
		if err != nil {
			return ref, wrapErr(err)
		}
		if i == 0 {
			ref = kit.MessageRef{ChatID: m.Chat.ID, MessageID: m.ID}
		}
	}
	return ref, nil
}

func (a *Adapter) Copy(ctx context.Context, to kit.ChatTarget, src kit.MessageRef) error {
	stored := tele.StoredMessage{
		MessageID: strconv.Itoa(src.MessageID),
		ChatID:    src.ChatID,
	}
	_, err := a.bot.Copy(tele.ChatID(to.ChatID), stored)
	return wrapErr(err)
}

func (a *Adapter) Probe(ctx context.Context, to kit.ChatTarget) error {
	_, err := a.bot.ChatByID(to.ChatID)
	return wrapErr(err)
}

// wrapErr converts telebot failures into transport errors whose description
// carries everything downstream classification needs. Typed telebot errors
// that hold structured detail (migration target, flood retry-after) get that
// detail folded into the text here, so the substring patterns in the
// dispatcher keep working from a single source.
func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	var ge tele.GroupError
	if errors.As(err, &ge) {
		return kit.NewError(fmt.Sprintf("group migrated to supergroup: new chat id %d", ge.MigratedTo))
	}
	var fe tele.FloodError
	if errors.As(err, &fe) {
		return kit.NewError(fmt.Sprintf("too many requests: retry after %d", fe.RetryAfter))
	}
	return kit.NewError(err.Error())
}

// splitText chunks long outbound text at the transport limit, preferring
// newline boundaries.
func splitText(s string, limit int) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}
		if end < len(rs) {
			for i := end - 1; i > start+limit/3; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
		}
		out = append(out, string(rs[start:end]))
		start = end
	}
	return out
}
