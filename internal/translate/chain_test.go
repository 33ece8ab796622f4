package translate

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"relaybot/pkg/logx"
)

type fakeProvider struct {
	name  string
	calls int
	fn    func(text string, source, target Lang) (string, error)
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Translate(_ context.Context, text string, source, target Lang) (string, error) {
	f.calls++
	return f.fn(text, source, target)
}

func fastCfg() ChainConfig {
	return ChainConfig{RetryMax: 3, RetryBase: time.Millisecond, MaxRunes: 4000}
}

func TestChainPrimaryAccepted(t *testing.T) {
	primary := &fakeProvider{name: "primary", fn: func(string, Lang, Lang) (string, error) {
		return "你好", nil
	}}
	llm := &fakeProvider{name: "llm", fn: func(string, Lang, Lang) (string, error) {
		t.Fatal("llm must not be consulted")
		return "", nil
	}}
	c := NewChain(primary, llm, fastCfg(), logx.Nop())

	res, ok := c.Translate(context.Background(), "hello", "", ZH)
	if !ok || !res.Accepted {
		t.Fatalf("expected accepted result, got ok=%v res=%+v", ok, res)
	}
	if res.Text != "你好" || res.Provider != "primary" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if primary.calls != 1 {
		t.Fatalf("primary called %d times, want 1", primary.calls)
	}
}

func TestChainRetriesThenEscalates(t *testing.T) {
	primary := &fakeProvider{name: "primary", fn: func(string, Lang, Lang) (string, error) {
		return "", errors.New("upstream 500")
	}}
	llm := &fakeProvider{name: "llm", fn: func(string, Lang, Lang) (string, error) {
		return "你好", nil
	}}
	c := NewChain(primary, llm, fastCfg(), logx.Nop())

	res, ok := c.Translate(context.Background(), "hello", "", ZH)
	if !ok {
		t.Fatalf("expected llm result, got suppressed")
	}
	if res.Provider != "llm" || res.Text != "你好" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if primary.calls != 3 {
		t.Fatalf("primary called %d times, want 3", primary.calls)
	}
}

func TestChainEchoEscalatesToLLM(t *testing.T) {
	// Case-insensitive echo of the input is worthless output.
	primary := &fakeProvider{name: "primary", fn: func(text string, _, _ Lang) (string, error) {
		return strings.ToUpper(text), nil
	}}
	var llmTarget Lang
	llm := &fakeProvider{name: "llm", fn: func(_ string, _, target Lang) (string, error) {
		llmTarget = target
		return "你好", nil
	}}
	c := NewChain(primary, llm, fastCfg(), logx.Nop())

	res, ok := c.Translate(context.Background(), "hello", "", EN)
	if !ok || res.Provider != "llm" {
		t.Fatalf("expected llm result, got ok=%v res=%+v", ok, res)
	}
	if llmTarget != ZH {
		t.Fatalf("llm target = %q, want forced zh", llmTarget)
	}
	if primary.calls != 1 {
		t.Fatalf("echo is not retried on the same tier, primary called %d times", primary.calls)
	}
}

func TestChainSilenceOverNoise(t *testing.T) {
	// Primary succeeded but the result fails quality checks, and the llm
	// echoes too: nothing is delivered.
	primary := &fakeProvider{name: "primary", fn: func(string, Lang, Lang) (string, error) {
		return "hello there", nil // zh target without a single Han character
	}}
	llm := &fakeProvider{name: "llm", fn: func(text string, _, _ Lang) (string, error) {
		return text, nil
	}}
	c := NewChain(primary, llm, fastCfg(), logx.Nop())

	if _, ok := c.Translate(context.Background(), "hello there", "", ZH); ok {
		t.Fatal("borderline result must be suppressed, not delivered")
	}
}

func TestChainOfflineLastResort(t *testing.T) {
	primary := &fakeProvider{name: "primary", fn: func(string, Lang, Lang) (string, error) {
		return "", errors.New("connection refused")
	}}
	c := NewChain(primary, nil, fastCfg(), logx.Nop())

	res, ok := c.Translate(context.Background(), "hello", "", ZH)
	if !ok {
		t.Fatal("expected offline fallback result")
	}
	if res.Provider != ProviderOffline {
		t.Fatalf("provider = %q, want %q", res.Provider, ProviderOffline)
	}
	if HanCount(res.Text) == 0 {
		t.Fatalf("offline zh result without Han characters: %q", res.Text)
	}
}

func TestChainOfflineDirectionCheck(t *testing.T) {
	primary := &fakeProvider{name: "primary", fn: func(string, Lang, Lang) (string, error) {
		return "", errors.New("connection refused")
	}}
	c := NewChain(primary, nil, fastCfg(), logx.Nop())

	// Nothing in the dictionary covers this, so the pass-through output has
	// no Han characters and must be discarded for a zh target.
	if _, ok := c.Translate(context.Background(), "xylophone quandary", "", ZH); ok {
		t.Fatal("offline result pointing the wrong way must be discarded")
	}
}

func TestChainCapsRunes(t *testing.T) {
	long := strings.Repeat("好", 5000)
	primary := &fakeProvider{name: "primary", fn: func(string, Lang, Lang) (string, error) {
		return long, nil
	}}
	c := NewChain(primary, nil, fastCfg(), logx.Nop())

	res, ok := c.Translate(context.Background(), "a very long message", "", ZH)
	if !ok {
		t.Fatal("expected result")
	}
	if n := len([]rune(res.Text)); n != 4000 {
		t.Fatalf("result length = %d runes, want 4000", n)
	}
}
