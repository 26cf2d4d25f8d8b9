package grants

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"geogate.org/internal/directory"
)

type staticRoles []string

func (r staticRoles) AssignableRoles(ctx context.Context) []string { return r }

func newTestService(t *testing.T, roles RoleSource, opts ...Option) (*Service, *directory.InMemory) {
	t.Helper()
	dir := directory.NewInMemory()
	dir.PutUser(directory.User{ID: "u1", Name: "alice"})
	dir.PutOrganization(directory.Organization{ID: "o1", Name: "survey-dept"})
	svc, err := NewService(NewInMemory(), dir, roles, opts...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, dir
}

func TestGrantIdempotent(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	svc, _ := newTestService(t, staticRoles{"EDITOR", "VIEWER"}, WithClock(clock))
	ctx := context.Background()

	first, err := svc.Grant(ctx, SubjectUser, "u1", "EDITOR")
	if err != nil {
		t.Fatalf("Grant: %v", err)
	}

	now = now.Add(time.Hour)
	second, err := svc.Grant(ctx, SubjectUser, "u1", "EDITOR")
	if err != nil {
		t.Fatalf("second Grant: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected same record, got %s and %s", first.ID, second.ID)
	}
	if !second.LastModified.Equal(first.LastModified) {
		t.Fatalf("no-op grant must not touch last_modified: %v != %v", second.LastModified, first.LastModified)
	}
	active, err := svc.ListActive(ctx, SubjectUser, "u1")
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("expected exactly one active grant, got %d", len(active))
	}
}

func TestGrantReactivatesRevokedPair(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	svc, _ := newTestService(t, staticRoles{"EDITOR"}, WithClock(clock))
	ctx := context.Background()

	original, err := svc.Grant(ctx, SubjectUser, "u1", "EDITOR")
	if err != nil {
		t.Fatalf("Grant: %v", err)
	}

	now = now.Add(time.Minute)
	revoked, err := svc.Revoke(ctx, SubjectUser, "u1", "EDITOR")
	if err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if revoked.State != StateDeleted {
		t.Fatalf("expected Deleted, got %s", revoked.State)
	}
	if revoked.Closed == nil || !revoked.Closed.Equal(revoked.LastModified) {
		t.Fatalf("closed must mirror last_modified on revoke: %v vs %v", revoked.Closed, revoked.LastModified)
	}

	now = now.Add(time.Minute)
	again, err := svc.Grant(ctx, SubjectUser, "u1", "EDITOR")
	if err != nil {
		t.Fatalf("re-Grant: %v", err)
	}
	if again.ID != original.ID {
		t.Fatalf("reactivation must reuse the original row: %s != %s", again.ID, original.ID)
	}
	if again.State != StateActive || again.Closed != nil {
		t.Fatalf("expected Active with nil closed, got %s closed=%v", again.State, again.Closed)
	}
	if !again.Created.Equal(original.Created) {
		t.Fatalf("created must be set once: %v != %v", again.Created, original.Created)
	}
}

func TestGrantByNameSharesRowWithGrantByID(t *testing.T) {
	svc, _ := newTestService(t, staticRoles{"EDITOR"})
	ctx := context.Background()

	// The directory resolves alice to u1; the grant must be keyed on u1.
	byName, err := svc.Grant(ctx, SubjectUser, "alice", "EDITOR")
	if err != nil {
		t.Fatalf("Grant by name: %v", err)
	}
	if byName.SubjectID != "u1" {
		t.Fatalf("grant must carry the canonical id, got %s", byName.SubjectID)
	}

	byID, err := svc.Grant(ctx, SubjectUser, "u1", "EDITOR")
	if err != nil {
		t.Fatalf("Grant by id: %v", err)
	}
	if byID.ID != byName.ID {
		t.Fatalf("name and id must address the same row: %s != %s", byName.ID, byID.ID)
	}

	active, err := svc.ListActive(ctx, SubjectUser, "u1")
	if err != nil {
		t.Fatalf("ListActive by id: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("expected exactly one active grant, got %d", len(active))
	}
	byAlias, err := svc.ListActive(ctx, SubjectUser, "alice")
	if err != nil {
		t.Fatalf("ListActive by name: %v", err)
	}
	if len(byAlias) != 1 || byAlias[0].ID != byName.ID {
		t.Fatalf("listing by name must see the same grant: %+v", byAlias)
	}

	if _, err := svc.Revoke(ctx, SubjectUser, "alice", "EDITOR"); err != nil {
		t.Fatalf("Revoke by name after grant by id: %v", err)
	}
	active, err = svc.ListActive(ctx, SubjectUser, "u1")
	if err != nil {
		t.Fatalf("ListActive after revoke: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("expected no active grants, got %d", len(active))
	}
}

func TestGrantValidation(t *testing.T) {
	svc, _ := newTestService(t, staticRoles{"EDITOR"})
	ctx := context.Background()

	if _, err := svc.Grant(ctx, SubjectUser, "u1", "ADMIN"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unknown role, got %v", err)
	}
	if _, err := svc.Grant(ctx, SubjectUser, "ghost", "EDITOR"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unknown user, got %v", err)
	}
	if _, err := svc.Grant(ctx, SubjectOrganization, "nowhere", "EDITOR"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unknown organization, got %v", err)
	}

	// Role becomes assignable once the catalog includes it.
	svc2, _ := newTestService(t, staticRoles{"EDITOR", "ADMIN"})
	if _, err := svc2.Grant(ctx, SubjectUser, "u1", "ADMIN"); err != nil {
		t.Fatalf("Grant after catalog update: %v", err)
	}
}

func TestRevokeWithoutActiveGrant(t *testing.T) {
	svc, _ := newTestService(t, staticRoles{"EDITOR"})
	ctx := context.Background()

	if _, err := svc.Revoke(ctx, SubjectUser, "u1", "EDITOR"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}

	if _, err := svc.Grant(ctx, SubjectUser, "u1", "EDITOR"); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if _, err := svc.Revoke(ctx, SubjectUser, "u1", "EDITOR"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := svc.Revoke(ctx, SubjectUser, "u1", "EDITOR"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput on double revoke, got %v", err)
	}
}

func TestConcurrentGrantsSingleRow(t *testing.T) {
	svc, _ := newTestService(t, staticRoles{"EDITOR"})
	ctx := context.Background()

	var wg sync.WaitGroup
	N := 50
	for i := 0; i < N; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.Grant(ctx, SubjectUser, "u1", "EDITOR")
		}()
	}
	wg.Wait()

	active, err := svc.ListActive(ctx, SubjectUser, "u1")
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("uniqueness violated: %d active rows", len(active))
	}
}

func TestPurgeDeletedSparesActive(t *testing.T) {
	svc, _ := newTestService(t, staticRoles{"EDITOR", "VIEWER"})
	ctx := context.Background()

	if _, err := svc.Grant(ctx, SubjectUser, "u1", "EDITOR"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Grant(ctx, SubjectUser, "u1", "VIEWER"); err != nil {
		t.Fatal(err)
	}
	revoked, err := svc.Revoke(ctx, SubjectUser, "u1", "VIEWER")
	if err != nil {
		t.Fatal(err)
	}

	n, err := svc.PurgeDeleted(ctx, SubjectUser)
	if err != nil {
		t.Fatalf("PurgeDeleted: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 purged row, got %d", n)
	}
	if _, err := svc.GetByID(ctx, SubjectUser, revoked.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("purged row must be gone, got %v", err)
	}
	active, _ := svc.ListActive(ctx, SubjectUser, "u1")
	if len(active) != 1 || active[0].Role != "EDITOR" {
		t.Fatalf("active grant lost in purge: %+v", active)
	}

	// A purged pair starts over as a fresh row.
	fresh, err := svc.Grant(ctx, SubjectUser, "u1", "VIEWER")
	if err != nil {
		t.Fatalf("Grant after purge: %v", err)
	}
	if fresh.ID == revoked.ID {
		t.Fatalf("purged id must not resurrect")
	}
}

func TestListActiveForMany(t *testing.T) {
	svc, dir := newTestService(t, staticRoles{"EDITOR", "VIEWER"})
	dir.PutOrganization(directory.Organization{ID: "o2", Name: "hydrology"})
	ctx := context.Background()

	if _, err := svc.Grant(ctx, SubjectOrganization, "o1", "EDITOR"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Grant(ctx, SubjectOrganization, "o2", "VIEWER"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Grant(ctx, SubjectOrganization, "o2", "EDITOR"); err != nil {
		t.Fatal(err)
	}

	all, err := svc.ListActiveForMany(ctx, SubjectOrganization, []string{"o1", "o2", ""})
	if err != nil {
		t.Fatalf("ListActiveForMany: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 grants, got %d", len(all))
	}

	none, err := svc.ListActiveForMany(ctx, SubjectOrganization, nil)
	if err != nil || none != nil {
		t.Fatalf("empty batch should be a no-op, got %v %v", none, err)
	}
}
