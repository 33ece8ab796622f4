package broadcast

import (
	"context"
	"testing"

	"relaybot/internal/storage"
	"relaybot/internal/transport"
	"relaybot/pkg/logx"
)

func testService(store *fakeStore, owners []int64, cfg ServiceConfig) *Service {
	sender := newFakeSender(func(int64, int) error { return nil })
	disp := testDispatcher(sender, store, DispatcherConfig{Concurrency: 10})
	return NewService(disp, store, owners, cfg, logx.Nop())
}

func srcMsg() *transport.Message {
	return &transport.Message{ID: 11, ChatID: 99, Kind: transport.KindText}
}

func TestServiceRejectsUnknownActor(t *testing.T) {
	store := newFakeStore()
	store.groups = []storage.Group{{ChatID: 1}}
	svc := testService(store, nil, ServiceConfig{})

	if _, err := svc.Broadcast(context.Background(), 42, srcMsg()); err != ErrNotAuthorized {
		t.Fatalf("err = %v, want ErrNotAuthorized", err)
	}
	if len(store.audits) != 0 {
		t.Fatal("rejected invocation must not write an audit record")
	}
}

func TestServiceRateLimitsBroadcaster(t *testing.T) {
	store := newFakeStore()
	store.groups = []storage.Group{{ChatID: 1}}
	store.broadcasters[42] = true
	store.recentCount = 5
	svc := testService(store, nil, ServiceConfig{MaxPerHour: 5})

	if _, err := svc.Broadcast(context.Background(), 42, srcMsg()); err != ErrRateLimited {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}

	store.recentCount = 4
	rep, err := svc.Broadcast(context.Background(), 42, srcMsg())
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if rep.Success != 1 {
		t.Fatalf("report = %+v", rep)
	}
}

func TestServicePrivilegedBypassRateLimit(t *testing.T) {
	store := newFakeStore()
	store.groups = []storage.Group{{ChatID: 1}}
	store.recentCount = 100

	for name, svc := range map[string]*Service{
		"owner":      testService(store, []int64{42}, ServiceConfig{}),
		"controller": testService(store, nil, ServiceConfig{}),
	} {
		if name == "controller" {
			store.controllers[42] = true
		}
		if _, err := svc.Broadcast(context.Background(), 42, srcMsg()); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
	}
}

func TestServiceNoDestinations(t *testing.T) {
	store := newFakeStore()
	svc := testService(store, []int64{42}, ServiceConfig{})

	if _, err := svc.Broadcast(context.Background(), 42, srcMsg()); err != ErrNoDestinations {
		t.Fatalf("err = %v, want ErrNoDestinations", err)
	}
}

func TestServiceCapsDestinations(t *testing.T) {
	store := newFakeStore()
	for i := 0; i < 8; i++ {
		store.groups = append(store.groups, storage.Group{ChatID: int64(100 + i)})
	}
	svc := testService(store, []int64{42}, ServiceConfig{MaxGroups: 5})

	rep, err := svc.Broadcast(context.Background(), 42, srcMsg())
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if rep.Total != 5 {
		t.Fatalf("total = %d, want 5", rep.Total)
	}
}
