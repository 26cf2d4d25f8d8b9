package authkey

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"geogate.org/internal/directory"
)

func newTestService(t *testing.T, opts ...Option) (*Service, *directory.InMemory, *InMemory) {
	t.Helper()
	dir := directory.NewInMemory()
	dir.PutUser(directory.User{ID: "u1", Name: "alice"})
	store := NewInMemory()
	svc, err := NewService(store, dir, opts...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, dir, store
}

func TestGetOrCreateLazyAndIdempotent(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.GetOrCreate(ctx, "u1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if first.Key == "" || first.State != StateActive {
		t.Fatalf("unexpected key: %+v", first)
	}
	if _, err := uuid.Parse(first.Key); err != nil {
		t.Fatalf("authkey must be a uuid, got %q", first.Key)
	}

	second, err := svc.GetOrCreate(ctx, "u1")
	if err != nil {
		t.Fatalf("second GetOrCreate: %v", err)
	}
	if second.Key != first.Key {
		t.Fatalf("expected stable key, got %s then %s", first.Key, second.Key)
	}
}

func TestGetOrCreateUnknownUser(t *testing.T) {
	svc, _, _ := newTestService(t)
	if _, err := svc.GetOrCreate(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestConcurrentGetOrCreateSingleActiveKey(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	keys := make([]string, 50)
	var wg sync.WaitGroup
	for i := range keys {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			k, err := svc.GetOrCreate(ctx, "u1")
			if err != nil {
				t.Errorf("GetOrCreate: %v", err)
				return
			}
			keys[i] = k.Key
		}(i)
	}
	wg.Wait()

	for _, k := range keys {
		if k != keys[0] {
			t.Fatalf("two active keys minted: %s and %s", keys[0], k)
		}
	}
}

func TestRotate(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	k1, err := svc.GetOrCreate(ctx, "u1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	k2, err := svc.Rotate(ctx, "u1")
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if k2.Key == k1.Key {
		t.Fatalf("rotation must mint a new key")
	}

	if _, err := svc.Resolve(ctx, k1.Key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("old key must stop resolving, got %v", err)
	}
	user, err := svc.Resolve(ctx, k2.Key)
	if err != nil {
		t.Fatalf("Resolve new key: %v", err)
	}
	if user.ID != "u1" {
		t.Fatalf("resolved wrong user: %s", user.ID)
	}
}

func TestRotateWithoutExistingKey(t *testing.T) {
	svc, _, _ := newTestService(t)
	k, err := svc.Rotate(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if k.State != StateActive {
		t.Fatalf("expected active key, got %+v", k)
	}
}

func TestResolveTouchesLastAccess(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	svc, _, store := newTestService(t, WithClock(clock))
	ctx := context.Background()

	k, err := svc.GetOrCreate(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	now = now.Add(time.Hour)
	if _, err := svc.Resolve(ctx, k.Key); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	rec, err := store.FindActive(ctx, k.Key)
	if err != nil {
		t.Fatal(err)
	}
	if rec.LastAccess == nil || !rec.LastAccess.Equal(now) {
		t.Fatalf("last_access not recorded: %v", rec.LastAccess)
	}
}

func TestResolveInactiveOwnerRetiresKey(t *testing.T) {
	svc, dir, store := newTestService(t)
	ctx := context.Background()

	k, err := svc.GetOrCreate(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	dir.PutUser(directory.User{ID: "u1", Name: "alice", State: directory.StateDeleted})

	if _, err := svc.Resolve(ctx, k.Key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for inactive owner, got %v", err)
	}
	// Cleanup side effect: the key itself got soft-deleted.
	if _, err := store.FindActive(ctx, k.Key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected orphaned key to be retired, got %v", err)
	}
}

func TestOnUserDeleted(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	k, err := svc.GetOrCreate(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.OnUserDeleted(ctx, "u1"); err != nil {
		t.Fatalf("OnUserDeleted: %v", err)
	}
	if _, err := svc.Resolve(ctx, k.Key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after user deletion, got %v", err)
	}
}

func TestOnUserDeletedWithoutKeyIsNoop(t *testing.T) {
	svc, _, _ := newTestService(t)
	if err := svc.OnUserDeleted(context.Background(), "u1"); err != nil {
		t.Fatalf("OnUserDeleted: %v", err)
	}
}
