package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"relaybot/internal/storage"
	"relaybot/internal/translate"
	"relaybot/internal/transport"
	"relaybot/pkg/logx"
)

type stubProvider struct {
	out string
	err error
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Translate(context.Context, string, translate.Lang, translate.Lang) (string, error) {
	return s.out, s.err
}

type stubStore struct {
	storage.Store // panic on anything the engine should not touch

	active      bool
	translation bool
	mode        storage.LangMode
	logs        []storage.TranslationLog
}

func (s *stubStore) IsActive(context.Context, int64) (bool, error) { return s.active, nil }
func (s *stubStore) IsTranslationEnabled(context.Context, int64) (bool, error) {
	return s.translation, nil
}
func (s *stubStore) LanguageMode(context.Context, int64) (storage.LangMode, error) {
	return s.mode, nil
}
func (s *stubStore) RecordTranslation(_ context.Context, l storage.TranslationLog) error {
	s.logs = append(s.logs, l)
	return nil
}

type stubSender struct {
	replies   []string
	sends     []string
	replyErr  error
	lastReply *transport.Message
}

func (s *stubSender) Reply(_ context.Context, msg *transport.Message, text string) (transport.MessageRef, error) {
	if s.replyErr != nil {
		return transport.MessageRef{}, s.replyErr
	}
	s.lastReply = msg
	s.replies = append(s.replies, text)
	return transport.MessageRef{ChatID: msg.ChatID}, nil
}

func (s *stubSender) SendText(_ context.Context, _ transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	s.sends = append(s.sends, text)
	return transport.MessageRef{}, nil
}

func (s *stubSender) Copy(context.Context, transport.ChatTarget, transport.MessageRef) error {
	return nil
}

func (s *stubSender) Probe(context.Context, transport.ChatTarget) error { return nil }

func testEngine(provider translate.Provider, store *stubStore, sender *stubSender) *Engine {
	chain := translate.NewChain(provider, nil, translate.ChainConfig{
		RetryMax:  1,
		RetryBase: time.Millisecond,
	}, logx.Nop())
	return New(store, chain, sender, Config{}, logx.Nop())
}

func groupMsg(text string) *transport.Message {
	return &transport.Message{ID: 5, ChatID: -100, FromID: 9, Text: text, Kind: transport.KindText, IsGroup: true}
}

func TestHandleGroupMessageTranslatesAndReplies(t *testing.T) {
	store := &stubStore{active: true, translation: true, mode: storage.ModeAuto}
	sender := &stubSender{}
	e := testEngine(&stubProvider{out: "你好，世界"}, store, sender)

	e.HandleGroupMessage(context.Background(), groupMsg("hello world"))

	if len(sender.replies) != 1 || sender.replies[0] != "你好，世界" {
		t.Fatalf("replies = %q", sender.replies)
	}
	if len(store.logs) != 1 || !store.logs[0].Success {
		t.Fatalf("logs = %+v", store.logs)
	}
	if store.logs[0].Target != "zh" {
		t.Fatalf("logged target = %q", store.logs[0].Target)
	}
}

func TestHandleGroupMessageFilters(t *testing.T) {
	cases := []struct {
		name string
		msg  *transport.Message
		prep func(s *stubStore)
	}{
		{name: "inactive chat", msg: groupMsg("hello"), prep: func(s *stubStore) { s.active = false }},
		{name: "translation off", msg: groupMsg("hello"), prep: func(s *stubStore) { s.translation = false }},
		{name: "bot author", msg: func() *transport.Message { m := groupMsg("hello"); m.FromIsBot = true; return m }()},
		{name: "empty text", msg: groupMsg("")},
		{name: "skip marker", msg: groupMsg("/notranslate hello")},
		{name: "bot command", msg: groupMsg("/start")},
		{name: "private chat", msg: func() *transport.Message { m := groupMsg("hello"); m.IsGroup = false; return m }()},
		{name: "digits only", msg: groupMsg("123 456")},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := &stubStore{active: true, translation: true, mode: storage.ModeAuto}
			if tc.prep != nil {
				tc.prep(store)
			}
			sender := &stubSender{}
			e := testEngine(&stubProvider{out: "不会被使用"}, store, sender)

			e.HandleGroupMessage(context.Background(), tc.msg)

			if len(sender.replies) != 0 || len(sender.sends) != 0 {
				t.Fatalf("filtered message produced output: replies=%q sends=%q", sender.replies, sender.sends)
			}
			if len(store.logs) != 0 {
				t.Fatalf("filtered message wrote a log: %+v", store.logs)
			}
		})
	}
}

func TestHandleGroupMessageMentionPrefixReattached(t *testing.T) {
	store := &stubStore{active: true, translation: true, mode: storage.ModeAuto}
	sender := &stubSender{}
	e := testEngine(&stubProvider{out: "你好"}, store, sender)

	e.HandleGroupMessage(context.Background(), groupMsg("@bob hello"))

	if len(sender.replies) != 1 || sender.replies[0] != "@bob 你好" {
		t.Fatalf("replies = %q", sender.replies)
	}
}

func TestHandleGroupMessageSuppressedStillLogged(t *testing.T) {
	store := &stubStore{active: true, translation: true, mode: storage.ModeAuto}
	sender := &stubSender{}
	// Echo output for a zh target fails every quality check; with no other
	// tier configured the engine must stay silent.
	e := testEngine(&stubProvider{out: "hello world"}, store, sender)

	e.HandleGroupMessage(context.Background(), groupMsg("hello world"))

	if len(sender.replies) != 0 || len(sender.sends) != 0 {
		t.Fatalf("suppressed result delivered: replies=%q sends=%q", sender.replies, sender.sends)
	}
	if len(store.logs) != 1 || store.logs[0].Success {
		t.Fatalf("logs = %+v", store.logs)
	}
}

func TestHandleGroupMessageReplyFallback(t *testing.T) {
	store := &stubStore{active: true, translation: true, mode: storage.ModeAuto}
	sender := &stubSender{replyErr: errors.New("message to reply not found")}
	e := testEngine(&stubProvider{out: "你好"}, store, sender)

	e.HandleGroupMessage(context.Background(), groupMsg("hello"))

	if len(sender.sends) != 1 || sender.sends[0] != "你好" {
		t.Fatalf("fallback sends = %q", sender.sends)
	}
	if len(store.logs) != 1 || !store.logs[0].Success {
		t.Fatalf("logs = %+v", store.logs)
	}
}
