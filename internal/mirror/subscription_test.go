package mirror

import (
	"context"
	"errors"
	"testing"
	"time"

	"attendance.service/internal/access"
	"attendance.service/internal/core/model"
	"attendance.service/internal/ports/docstore"
	"attendance.service/internal/ports/profile"
)

func record(id, owner, date string) model.AttendanceRecord {
	return model.AttendanceRecord{ID: id, OwnerID: owner, Date: date, Status: model.StatusAbsent}
}

// waitFor polls cond until it holds or the test deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSubscriptionDeliversInitialSnapshot(t *testing.T) {
	store := docstore.NewMemoryStore()
	ctx := context.Background()

	seed := record("", "u1", "2026-03-02")
	id, err := store.Create(ctx, &seed)
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	sub := NewSubscription(store, docstore.Query{OwnerID: "u1"})
	if err := sub.Start(ctx); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	defer sub.Cancel()

	waitFor(t, "initial snapshot", func() bool { _, ok := sub.Get(id); return ok })
}

func TestSubscriptionAppliesRemoteChanges(t *testing.T) {
	store := docstore.NewMemoryStore()
	ctx := context.Background()

	sub := NewSubscription(store, docstore.Query{OwnerID: "u1"})
	if err := sub.Start(ctx); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	defer sub.Cancel()

	rec := record("", "u1", "2026-03-02")
	id, err := store.Create(ctx, &rec)
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	waitFor(t, "added record", func() bool { _, ok := sub.Get(id); return ok })

	rec.ID = id
	rec.Status = model.StatusPresent
	if err := store.Update(ctx, &rec); err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	waitFor(t, "modified record", func() bool {
		got, ok := sub.Get(id)
		return ok && got.Status == model.StatusPresent
	})

	if err := store.Delete(ctx, id); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	waitFor(t, "removed record", func() bool { _, ok := sub.Get(id); return !ok })
}

func TestSubscriptionIgnoresOtherOwners(t *testing.T) {
	store := docstore.NewMemoryStore()
	ctx := context.Background()

	sub := NewSubscription(store, docstore.Query{OwnerID: "u1"})
	if err := sub.Start(ctx); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	defer sub.Cancel()

	mine := record("", "u1", "2026-03-02")
	mineID, _ := store.Create(ctx, &mine)
	theirs := record("", "u2", "2026-03-02")
	if _, err := store.Create(ctx, &theirs); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	waitFor(t, "own record", func() bool { _, ok := sub.Get(mineID); return ok })
	if snap := sub.Snapshot(); len(snap) != 1 || snap[0].OwnerID != "u1" {
		t.Fatalf("expected mirror to hold only owner u1 records, got %+v", snap)
	}
}

func TestApplyRemoteDuplicateIsIdempotent(t *testing.T) {
	sub := NewSubscription(docstore.NewMemoryStore(), docstore.Query{})

	rec := record("r1", "u1", "2026-03-02")
	ev := docstore.Event{Type: docstore.EventModified, Record: rec}
	sub.applyRemote(ev)
	sub.applyRemote(ev) // duplicate delivery converges to the same state

	got, ok := sub.Get("r1")
	if !ok {
		t.Fatal("expected record r1 in mirror")
	}
	if got.Status != model.StatusAbsent {
		t.Fatalf("unexpected state after duplicate apply: %+v", got)
	}
	if len(sub.Snapshot()) != 1 {
		t.Fatalf("expected exactly one record, got %d", len(sub.Snapshot()))
	}
}

func TestApplyRemoteLatestValueWins(t *testing.T) {
	sub := NewSubscription(docstore.NewMemoryStore(), docstore.Query{})

	first := record("r1", "u1", "2026-03-02")
	second := first
	second.Status = model.StatusLate

	sub.applyRemote(docstore.Event{Type: docstore.EventAdded, Record: first})
	sub.applyRemote(docstore.Event{Type: docstore.EventModified, Record: second})

	got, _ := sub.Get("r1")
	if got.Status != model.StatusLate {
		t.Fatalf("expected the later notification to win, got %s", got.Status)
	}
}

func TestMutateConfirmsOnSuccess(t *testing.T) {
	store := docstore.NewMemoryStore()
	ctx := context.Background()
	sub := NewSubscription(store, docstore.Query{})

	base := record("r1", "u1", "2026-03-02")
	sub.applyRemote(docstore.Event{Type: docstore.EventAdded, Record: base})

	next := base
	next.Status = model.StatusPresent
	err := sub.Mutate(ctx, next, func(context.Context) error { return nil })
	if err != nil {
		t.Fatalf("Mutate returned error: %v", err)
	}

	got, _ := sub.Get("r1")
	if got.Status != model.StatusPresent {
		t.Fatalf("expected confirmed optimistic value, got %s", got.Status)
	}
}

func TestMutateRollsBackOnRejection(t *testing.T) {
	store := docstore.NewMemoryStore()
	ctx := context.Background()
	sub := NewSubscription(store, docstore.Query{})

	base := record("r1", "u1", "2026-03-02")
	sub.applyRemote(docstore.Event{Type: docstore.EventAdded, Record: base})

	rejected := errors.New("store said no")
	next := base
	next.Status = model.StatusPresent
	err := sub.Mutate(ctx, next, func(context.Context) error { return rejected })
	if !errors.Is(err, rejected) {
		t.Fatalf("expected commit error passed through, got %v", err)
	}

	got, _ := sub.Get("r1")
	if got.Status != model.StatusAbsent {
		t.Fatalf("expected rollback to last confirmed value, got %s", got.Status)
	}
}

func TestMutateRollbackRemovesUnconfirmedRecord(t *testing.T) {
	sub := NewSubscription(docstore.NewMemoryStore(), docstore.Query{})
	ctx := context.Background()

	// No confirmed remote state exists for this id, so a failed create
	// leaves no trace.
	err := sub.Mutate(ctx, record("r-new", "u1", "2026-03-02"), func(context.Context) error {
		return errors.New("rejected")
	})
	if err == nil {
		t.Fatal("expected commit error")
	}
	if _, ok := sub.Get("r-new"); ok {
		t.Fatal("rejected create left an orphan in the mirror")
	}
}

func TestMutateDeleteRestoresOnRejection(t *testing.T) {
	sub := NewSubscription(docstore.NewMemoryStore(), docstore.Query{})
	ctx := context.Background()

	base := record("r1", "u1", "2026-03-02")
	sub.applyRemote(docstore.Event{Type: docstore.EventAdded, Record: base})

	err := sub.MutateDelete(ctx, "r1", func(context.Context) error {
		// The record is already gone locally while the commit runs.
		if _, ok := sub.Get("r1"); ok {
			t.Fatal("expected optimistic removal before commit")
		}
		return errors.New("rejected")
	})
	if err == nil {
		t.Fatal("expected commit error")
	}

	got, ok := sub.Get("r1")
	if !ok {
		t.Fatal("expected record restored after rejected delete")
	}
	if got.Status != model.StatusAbsent {
		t.Fatalf("expected last confirmed value restored, got %+v", got)
	}
}

func TestCancelDiscardsInFlightResult(t *testing.T) {
	sub := NewSubscription(docstore.NewMemoryStore(), docstore.Query{})
	ctx := context.Background()

	base := record("r1", "u1", "2026-03-02")
	sub.applyRemote(docstore.Event{Type: docstore.EventAdded, Record: base})

	next := base
	next.Status = model.StatusPresent
	err := sub.Mutate(ctx, next, func(context.Context) error {
		sub.Cancel()
		return nil
	})
	if err != nil {
		t.Fatalf("Mutate returned error: %v", err)
	}

	// After Cancel the update channel is closed and drained.
	for range sub.Updates() {
	}
	if _, open := <-sub.Updates(); open {
		t.Fatal("expected updates channel closed after Cancel")
	}
}

func TestSlowConsumerGetsStreamClosedNotGapped(t *testing.T) {
	sub := NewSubscription(docstore.NewMemoryStore(), docstore.Query{})

	// Nobody drains the updates channel, so it eventually overflows.
	rec := record("r1", "u1", "2026-03-02")
	for i := 0; i < 300; i++ {
		if i == 299 {
			rec.Status = model.StatusLate
		}
		sub.applyRemote(docstore.Event{Type: docstore.EventModified, Record: rec})
	}

	// The mirror itself stayed current through the overflow.
	got, ok := sub.Get("r1")
	if !ok || got.Status != model.StatusLate {
		t.Fatalf("expected mirror to hold the latest value, got %+v ok=%v", got, ok)
	}

	// The consumer sees a closed channel instead of a gapped sequence.
	delivered := 0
	for range sub.Updates() {
		delivered++
	}
	if delivered == 0 || delivered >= 300 {
		t.Fatalf("expected a truncated, then closed stream, got %d updates", delivered)
	}

	// Cancel after the overflow close must not panic.
	sub.Cancel()
}

func TestRemoteWinsOverInFlightLocalWrite(t *testing.T) {
	sub := NewSubscription(docstore.NewMemoryStore(), docstore.Query{})
	ctx := context.Background()

	base := record("r1", "u1", "2026-03-02")
	sub.applyRemote(docstore.Event{Type: docstore.EventAdded, Record: base})

	remote := base
	remote.Status = model.StatusOnLeave

	local := base
	local.Status = model.StatusPresent
	err := sub.Mutate(ctx, local, func(context.Context) error {
		// A remote notification lands while the local write is in flight.
		sub.applyRemote(docstore.Event{Type: docstore.EventModified, Record: remote})
		return errors.New("rejected")
	})
	if err == nil {
		t.Fatal("expected commit error")
	}

	got, _ := sub.Get("r1")
	if got.Status != model.StatusOnLeave {
		t.Fatalf("expected rollback to the remote value that arrived mid-flight, got %s", got.Status)
	}
}

func TestManagerScopesSubscription(t *testing.T) {
	store := docstore.NewMemoryStore()
	profiles := profile.NewMemoryStore()
	profiles.Put(model.Profile{UID: "a1", Role: model.RoleAdministrator})
	resolver := access.NewResolver(profiles)
	mgr := NewManager(store, resolver)
	ctx := context.Background()

	mine := record("", "emp-1", "2026-03-02")
	mineID, _ := store.Create(ctx, &mine)
	theirs := record("", "emp-2", "2026-03-02")
	theirsID, _ := store.Create(ctx, &theirs)

	empSub, err := mgr.Subscribe(ctx, model.Identity{UID: "emp-1"})
	if err != nil {
		t.Fatalf("Subscribe returned error: %v", err)
	}
	defer empSub.Cancel()
	adminSub, err := mgr.Subscribe(ctx, model.Identity{UID: "a1"})
	if err != nil {
		t.Fatalf("Subscribe returned error: %v", err)
	}
	defer adminSub.Cancel()

	waitFor(t, "employee snapshot", func() bool { _, ok := empSub.Get(mineID); return ok })
	if _, ok := empSub.Get(theirsID); ok {
		t.Fatal("employee mirror contains another owner's record")
	}
	waitFor(t, "admin snapshot", func() bool {
		_, a := adminSub.Get(mineID)
		_, b := adminSub.Get(theirsID)
		return a && b
	})
}

func TestWatchIdentitySignOutClearsSubscriptions(t *testing.T) {
	store := docstore.NewMemoryStore()
	profiles := profile.NewMemoryStore()
	mgr := NewManager(store, access.NewResolver(profiles))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := mgr.Subscribe(ctx, model.Identity{UID: "emp-1"})
	if err != nil {
		t.Fatalf("Subscribe returned error: %v", err)
	}

	events := make(chan *model.Identity, 1)
	go mgr.WatchIdentity(ctx, events)

	events <- nil // signed out

	waitFor(t, "subscription teardown", func() bool {
		select {
		case _, open := <-sub.Updates():
			return !open
		default:
			return false
		}
	})
}
