package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"relaybot/internal/storage"
	"relaybot/internal/transport"
	"relaybot/pkg/logx"
)

// fakeSender scripts per-chat outcomes and tracks concurrency.
type fakeSender struct {
	mu       sync.Mutex
	fn       func(chatID int64, call int) error
	calls    map[int64]int
	inflight int
	peak     int
}

func newFakeSender(fn func(chatID int64, call int) error) *fakeSender {
	return &fakeSender{fn: fn, calls: map[int64]int{}}
}

func (f *fakeSender) Copy(_ context.Context, to transport.ChatTarget, _ transport.MessageRef) error {
	f.mu.Lock()
	f.calls[to.ChatID]++
	call := f.calls[to.ChatID]
	f.inflight++
	if f.inflight > f.peak {
		f.peak = f.inflight
	}
	f.mu.Unlock()

	time.Sleep(2 * time.Millisecond)

	f.mu.Lock()
	f.inflight--
	f.mu.Unlock()
	return f.fn(to.ChatID, call)
}

func (f *fakeSender) Reply(context.Context, *transport.Message, string) (transport.MessageRef, error) {
	return transport.MessageRef{}, nil
}

func (f *fakeSender) SendText(context.Context, transport.ChatTarget, string, *transport.SendOptions) (transport.MessageRef, error) {
	return transport.MessageRef{}, nil
}

func (f *fakeSender) Probe(context.Context, transport.ChatTarget) error { return nil }

func (f *fakeSender) callCount(chatID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[chatID]
}

// fakeStore records registry mutations; reads are scripted through fields.
type fakeStore struct {
	mu          sync.Mutex
	migrated    map[int64]int64
	deactivated map[int64]bool
	audits      []storage.BroadcastAudit

	groups       []storage.Group
	broadcasters map[int64]bool
	controllers  map[int64]bool
	recentCount  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		migrated:     map[int64]int64{},
		deactivated:  map[int64]bool{},
		broadcasters: map[int64]bool{},
		controllers:  map[int64]bool{},
	}
}

func (s *fakeStore) Migrate(_ context.Context, oldID, newID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.migrated[oldID] = newID
	return nil
}

func (s *fakeStore) Deactivate(_ context.Context, chatID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deactivated[chatID] = true
	return nil
}

func (s *fakeStore) RecordBroadcast(_ context.Context, a storage.BroadcastAudit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audits = append(s.audits, a)
	return nil
}

func (s *fakeStore) UpsertGroup(context.Context, int64, string, int64) error { return nil }
func (s *fakeStore) DeleteGroup(context.Context, int64) error                { return nil }
func (s *fakeStore) IsActive(context.Context, int64) (bool, error)          { return true, nil }
func (s *fakeStore) ListActiveGroups(context.Context) ([]storage.Group, error) {
	return s.groups, nil
}
func (s *fakeStore) SetTranslationEnabled(context.Context, int64, bool) error { return nil }
func (s *fakeStore) IsTranslationEnabled(context.Context, int64) (bool, error) {
	return true, nil
}
func (s *fakeStore) SetLanguageMode(context.Context, int64, storage.LangMode) error { return nil }
func (s *fakeStore) LanguageMode(context.Context, int64) (storage.LangMode, error) {
	return storage.ModeAuto, nil
}
func (s *fakeStore) AddBroadcaster(context.Context, int64, string) error    { return nil }
func (s *fakeStore) RemoveBroadcaster(context.Context, int64) error         { return nil }
func (s *fakeStore) IsBroadcaster(_ context.Context, id int64) (bool, error) {
	return s.broadcasters[id], nil
}
func (s *fakeStore) AddController(context.Context, int64, string) error { return nil }
func (s *fakeStore) RemoveController(context.Context, int64) error      { return nil }
func (s *fakeStore) IsController(_ context.Context, id int64) (bool, error) {
	return s.controllers[id], nil
}
func (s *fakeStore) RecordTranslation(context.Context, storage.TranslationLog) error {
	return nil
}
func (s *fakeStore) CountRecentBroadcasts(context.Context, int64, time.Duration) (int, error) {
	return s.recentCount, nil
}
func (s *fakeStore) Close() error { return nil }

func testDispatcher(sender transport.Sender, reg storage.Store, cfg DispatcherConfig) *Dispatcher {
	if cfg.SendPause == 0 {
		cfg.SendPause = time.Microsecond
	}
	return NewDispatcher(sender, reg, cfg, logx.Nop())
}

func targetsN(n int) []Target {
	ts := make([]Target, 0, n)
	for i := 0; i < n; i++ {
		ts = append(ts, Target{ChatID: int64(1000 + i)})
	}
	return ts
}

func TestDispatchConcurrencyBound(t *testing.T) {
	sender := newFakeSender(func(int64, int) error { return nil })
	d := testDispatcher(sender, newFakeStore(), DispatcherConfig{Concurrency: 10})

	rep := d.Dispatch(context.Background(), Job{Actor: 1, Targets: targetsN(50)})
	if rep.Total != 50 || rep.Success != 50 || rep.Failure != 0 {
		t.Fatalf("report = %+v", rep)
	}
	if sender.peak > 10 {
		t.Fatalf("peak in-flight = %d, want <= 10", sender.peak)
	}
}

func TestDispatchMixedOutcome(t *testing.T) {
	// Destination 1 succeeds, 2 is gone for good, 3 fails transiently on
	// every attempt.
	sender := newFakeSender(func(chatID int64, _ int) error {
		switch chatID {
		case 2:
			return errors.New("Forbidden: bot was kicked")
		case 3:
			return errors.New("network is unreachable")
		default:
			return nil
		}
	})
	store := newFakeStore()
	d := testDispatcher(sender, store, DispatcherConfig{Concurrency: 10, RetryMax: 2})

	rep := d.Dispatch(context.Background(), Job{
		Actor:   7,
		Targets: []Target{{ChatID: 1}, {ChatID: 2}, {ChatID: 3}},
	})

	if rep.Total != 3 || rep.Success != 1 || rep.Failure != 2 {
		t.Fatalf("report = %+v", rep)
	}
	if !store.deactivated[2] {
		t.Fatal("permanent failure must deactivate the destination")
	}
	if store.deactivated[3] {
		t.Fatal("transient failure must not deactivate the destination")
	}
	if n := sender.callCount(2); n != 1 {
		t.Fatalf("permanent failure retried: %d calls", n)
	}
	if n := sender.callCount(3); n != 3 {
		t.Fatalf("transient destination attempted %d times, want 3", n)
	}
	if len(store.audits) != 1 {
		t.Fatalf("audit records = %d, want 1", len(store.audits))
	}
	if a := store.audits[0]; a.ActorID != 7 || a.Total != 3 || a.Success != 1 || a.Failure != 2 {
		t.Fatalf("audit = %+v", a)
	}
}

func TestDispatchTransientRecovery(t *testing.T) {
	// Destination 3 times out twice and then delivers; the retries must
	// count it as a success, not inflate the failure tally.
	sender := newFakeSender(func(chatID int64, call int) error {
		switch chatID {
		case 2:
			return errors.New("Forbidden: bot was kicked")
		case 3:
			if call <= 2 {
				return errors.New("request timeout")
			}
			return nil
		default:
			return nil
		}
	})
	store := newFakeStore()
	d := testDispatcher(sender, store, DispatcherConfig{Concurrency: 10, RetryMax: 2})

	rep := d.Dispatch(context.Background(), Job{
		Actor:   7,
		Targets: []Target{{ChatID: 1}, {ChatID: 2}, {ChatID: 3}},
	})

	if rep.Total != 3 || rep.Success != 2 || rep.Failure != 1 {
		t.Fatalf("report = %+v", rep)
	}
	if n := sender.callCount(3); n != 3 {
		t.Fatalf("recovering destination attempted %d times, want 3", n)
	}
	if store.deactivated[3] {
		t.Fatal("recovered destination must stay active")
	}
	if !store.deactivated[2] {
		t.Fatal("permanent failure must deactivate the destination")
	}
}

func TestDispatchMigration(t *testing.T) {
	const oldID, newID = int64(-4242), int64(-1009876543210)
	sender := newFakeSender(func(chatID int64, _ int) error {
		if chatID == oldID {
			return fmt.Errorf("group migrated to supergroup: new chat id %d", newID)
		}
		return nil
	})
	store := newFakeStore()
	d := testDispatcher(sender, store, DispatcherConfig{Concurrency: 10})

	rep := d.Dispatch(context.Background(), Job{Actor: 1, Targets: []Target{{ChatID: oldID}}})
	if rep.Success != 1 {
		t.Fatalf("report = %+v", rep)
	}
	if store.migrated[oldID] != newID {
		t.Fatalf("registry remap = %v", store.migrated)
	}
	if n := sender.callCount(oldID); n != 1 {
		t.Fatalf("old id attempted %d times, want 1", n)
	}
	if n := sender.callCount(newID); n != 1 {
		t.Fatalf("new id attempted %d times, want 1", n)
	}
}

func TestDispatchMigrationReattemptFails(t *testing.T) {
	// Even if the new id also errors, the destination must not loop back
	// into another classification round.
	const oldID, newID = int64(-4242), int64(-1009876543210)
	sender := newFakeSender(func(chatID int64, _ int) error {
		if chatID == oldID {
			return fmt.Errorf("group migrated to supergroup: new chat id %d", newID)
		}
		return errors.New("network is unreachable")
	})
	store := newFakeStore()
	d := testDispatcher(sender, store, DispatcherConfig{Concurrency: 10, RetryMax: 2})

	rep := d.Dispatch(context.Background(), Job{Actor: 1, Targets: []Target{{ChatID: oldID}}})
	if rep.Failure != 1 {
		t.Fatalf("report = %+v", rep)
	}
	if n := sender.callCount(newID); n != 1 {
		t.Fatalf("re-addressed destination attempted %d times, want exactly 1", n)
	}
}

func TestDispatchAllSuccessRepeatable(t *testing.T) {
	// Re-running an identical job must not touch the registry and must
	// produce the same report, only adding another audit row.
	sender := newFakeSender(func(int64, int) error { return nil })
	store := newFakeStore()
	d := testDispatcher(sender, store, DispatcherConfig{Concurrency: 10})
	job := Job{Actor: 1, Targets: targetsN(5)}

	for i := 0; i < 2; i++ {
		rep := d.Dispatch(context.Background(), job)
		if rep.Success != 5 || rep.Failure != 0 {
			t.Fatalf("run %d report = %+v", i, rep)
		}
	}
	if len(store.migrated) != 0 || len(store.deactivated) != 0 {
		t.Fatalf("successful job mutated the registry: %+v %+v", store.migrated, store.deactivated)
	}
	if len(store.audits) != 2 {
		t.Fatalf("audit records = %d, want 2", len(store.audits))
	}
}

func TestDispatchFailureSampleCap(t *testing.T) {
	sender := newFakeSender(func(int64, int) error {
		return errors.New("something unexpected")
	})
	d := testDispatcher(sender, newFakeStore(), DispatcherConfig{Concurrency: 10})

	rep := d.Dispatch(context.Background(), Job{Actor: 1, Targets: targetsN(25)})
	if rep.Failure != 25 {
		t.Fatalf("failure = %d, want 25", rep.Failure)
	}
	if len(rep.Samples) != maxFailureSamples {
		t.Fatalf("samples = %d, want %d", len(rep.Samples), maxFailureSamples)
	}
}
