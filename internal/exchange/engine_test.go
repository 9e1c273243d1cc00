package exchange

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/atmx/barter-engine/internal/custody"
	"github.com/atmx/barter-engine/internal/limits"
	"github.com/atmx/barter-engine/internal/model"
	"github.com/atmx/barter-engine/internal/store"
)

const (
	alice model.Account = "alice"
	bob   model.Account = "bob"
	carol model.Account = "carol"
	admin model.Account = "registry-owner"
)

var t0 = time.Unix(1000, 0).UTC()

type failingCommitter struct {
	err   error
	calls int
}

func (c *failingCommitter) Commit(context.Context, *model.Changeset) error {
	c.calls++
	return c.err
}

func newTestEngine(t *testing.T, opts Options) (*Engine, *custody.Vault) {
	t.Helper()
	vault := custody.NewVault()
	e, err := New(admin, vault, nil, opts)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e, vault
}

func register(t *testing.T, e *Engine, owner model.Account, assets ...model.AssetID) {
	t.Helper()
	for _, a := range assets {
		if err := e.Register(context.Background(), a, owner); err != nil {
			t.Fatalf("register %s for %s: %v", a, owner, err)
		}
	}
}

func createOffer(t *testing.T, e *Engine, creator model.Account, supply, demand []model.AssetID, ttl time.Duration, now time.Time) model.OfferID {
	t.Helper()
	id, err := e.CreateOffer(context.Background(), creator, supply, demand, ttl, now)
	if err != nil {
		t.Fatalf("create offer for %s: %v", creator, err)
	}
	return id
}

func ids(v ...model.OfferID) []model.OfferID { return v }

func assets(v ...model.AssetID) []model.AssetID { return v }

// assertNoOrphans checks that every supply and demand row belongs to a live
// offer and that the asset index only names live offers.
func assertNoOrphans(t *testing.T, e *Engine) {
	t.Helper()
	e.mu.Lock()
	defer e.mu.Unlock()

	live := make(map[model.OfferID]bool)
	wantSupply, wantDemand := 0, 0
	for _, id := range e.tables.OfferIDs() {
		live[id] = true
		wantSupply += len(e.tables.SupplyOf(id))
		wantDemand += len(e.tables.DemandOf(id))
		for _, s := range e.tables.SupplyOf(id) {
			if s.OfferID != id {
				t.Errorf("supply item %+v filed under offer %d", s, id)
			}
		}
		for _, d := range e.tables.DemandOf(id) {
			if d.OfferID != id {
				t.Errorf("demand item %+v filed under offer %d", d, id)
			}
		}
	}
	gotSupply, gotDemand := e.tables.ItemCount()
	if gotSupply != wantSupply || gotDemand != wantDemand {
		t.Errorf("orphan items: %d/%d rows for %d/%d owned", gotSupply, gotDemand, wantSupply, wantDemand)
	}
	for _, entry := range e.tables.Snapshot().Registry {
		for _, id := range e.tables.OffersReferencing(entry.AssetID) {
			if !live[id] {
				t.Errorf("index for %s names dead offer %d", entry.AssetID, id)
			}
		}
	}
}

// --- construction ---

func TestNew_RequiresOwnerAndCustody(t *testing.T) {
	if _, err := New("", custody.NewVault(), nil, Options{}); err == nil {
		t.Error("expected error for empty owner")
	}
	if _, err := New(admin, nil, nil, Options{}); err == nil {
		t.Error("expected error for nil custody port")
	}
}

// --- registry ---

func TestRegister_AlreadyActive(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	register(t, e, alice, "X")

	err := e.Register(context.Background(), "X", bob)
	if !errors.Is(err, ErrAssetAlreadyActive) {
		t.Errorf("expected ErrAssetAlreadyActive, got %v", err)
	}
	if entry, _ := e.Entry("X"); entry.Owner != alice {
		t.Errorf("entry owner changed to %s", entry.Owner)
	}
}

func TestRegister_CustodyFailure(t *testing.T) {
	e, vault := newTestEngine(t, Options{})
	vault.FailOn(func(op string, _ model.AssetID) error {
		if op == custody.OpLock {
			return errors.New("wallet offline")
		}
		return nil
	})

	err := e.Register(context.Background(), "X", alice)
	if !errors.Is(err, ErrCustody) {
		t.Errorf("expected ErrCustody, got %v", err)
	}
	if e.IsActive("X") {
		t.Error("X must not be active after failed lock")
	}
}

func TestRegister_CommitFailureReleasesCustody(t *testing.T) {
	vault := custody.NewVault()
	committer := &failingCommitter{err: errors.New("disk full")}
	e, _ := New(admin, vault, committer, Options{})

	err := e.Register(context.Background(), "X", alice)
	if !errors.Is(err, ErrCommit) {
		t.Fatalf("expected ErrCommit, got %v", err)
	}
	if e.IsActive("X") {
		t.Error("X must not be active after failed commit")
	}
	if _, locked := vault.Locked("X"); locked {
		t.Error("X should have been released back to alice")
	}
	if holder, _ := vault.Holder("X"); holder != alice {
		t.Errorf("expected alice to hold X, got %q", holder)
	}
}

func TestRevoke_CascadesOffers(t *testing.T) {
	e, vault := newTestEngine(t, Options{})
	register(t, e, alice, "X")
	register(t, e, bob, "Y", "Z")

	supplyX := createOffer(t, e, alice, assets("X"), assets("Y"), time.Hour, t0)
	demandX := createOffer(t, e, bob, assets("Y"), assets("X"), time.Hour, t0)
	unrelated := createOffer(t, e, bob, assets("Z"), assets("Y"), time.Hour, t0)

	removed, err := e.Revoke(context.Background(), "X", alice)
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if !reflect.DeepEqual(removed, ids(supplyX, demandX)) {
		t.Errorf("expected cascade of %v, got %v", ids(supplyX, demandX), removed)
	}
	if _, ok := e.Offer(supplyX); ok {
		t.Error("offer supplying X should be gone")
	}
	if _, ok := e.Offer(demandX); ok {
		t.Error("offer demanding X should be gone")
	}
	if _, ok := e.Offer(unrelated); !ok {
		t.Error("unrelated offer should survive")
	}
	if e.IsActive("X") {
		t.Error("X should be inactive")
	}
	if holder, _ := vault.Holder("X"); holder != alice {
		t.Errorf("X should be returned to alice, got %q", holder)
	}
	assertNoOrphans(t, e)
}

func TestRevoke_Errors(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	register(t, e, alice, "X")

	if _, err := e.Revoke(context.Background(), "nope", alice); !errors.Is(err, ErrAssetNotActive) {
		t.Errorf("expected ErrAssetNotActive, got %v", err)
	}
	_, err := e.Revoke(context.Background(), "X", bob)
	if !errors.Is(err, ErrNotOwner) {
		t.Errorf("expected ErrNotOwner, got %v", err)
	}
	if !errors.Is(err, ErrNotAuthorized) {
		t.Errorf("ErrNotOwner should be an authorization error, got %v", err)
	}

	e.Revoke(context.Background(), "X", alice)
	if _, err := e.Revoke(context.Background(), "X", alice); !errors.Is(err, ErrAssetNotActive) {
		t.Errorf("second revoke: expected ErrAssetNotActive, got %v", err)
	}
}

func TestRevoke_ThenRegisterAgain(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	register(t, e, alice, "X")
	e.Revoke(context.Background(), "X", alice)

	if err := e.Register(context.Background(), "X", alice); err != nil {
		t.Errorf("re-register after revoke: %v", err)
	}
	if !e.IsActive("X") {
		t.Error("X should be active again")
	}
}

// --- offers ---

func TestCreateOffer_IndexesItems(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	register(t, e, alice, "X")

	_, err := e.CreateOffer(context.Background(), alice, assets("X"), assets("Y"), time.Hour, t0)
	if !errors.Is(err, ErrAssetNotFound) {
		t.Fatalf("Y not registered: expected ErrAssetNotFound, got %v", err)
	}

	register(t, e, bob, "Y")
	id := createOffer(t, e, alice, assets("X"), assets("Y"), 3600*time.Second, t0)
	if id != 1 {
		t.Errorf("expected first offer id 1, got %d", id)
	}

	rec, ok := e.Offer(id)
	if !ok {
		t.Fatal("offer 1 not found")
	}
	if rec.Offer.Creator != alice || !rec.Offer.CreatedAt.Equal(t0) || rec.Offer.ExpiresIn != time.Hour {
		t.Errorf("unexpected offer row %+v", rec.Offer)
	}
	if len(rec.Supply) != 1 || rec.Supply[0].AssetID != "X" {
		t.Errorf("unexpected supply %+v", rec.Supply)
	}
	if len(rec.Demand) != 1 || rec.Demand[0].AssetID != "Y" || rec.Demand[0].Owner != alice {
		t.Errorf("unexpected demand %+v", rec.Demand)
	}
}

func TestCreateOffer_EmptySet(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	register(t, e, alice, "X")

	if _, err := e.CreateOffer(context.Background(), alice, nil, assets("X"), time.Hour, t0); !errors.Is(err, ErrEmptySet) {
		t.Errorf("empty supply: expected ErrEmptySet, got %v", err)
	}
	if _, err := e.CreateOffer(context.Background(), alice, assets("X"), nil, time.Hour, t0); !errors.Is(err, ErrEmptySet) {
		t.Errorf("empty demand: expected ErrEmptySet, got %v", err)
	}
}

func TestCreateOffer_DeduplicatesSets(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	register(t, e, alice, "X", "W")
	register(t, e, bob, "Y")

	id := createOffer(t, e, alice, assets("X", "W", "X"), assets("Y", "Y"), time.Hour, t0)
	rec, _ := e.Offer(id)
	if len(rec.Supply) != 2 || len(rec.Demand) != 1 {
		t.Errorf("expected 2 supply and 1 demand item, got %d and %d", len(rec.Supply), len(rec.Demand))
	}
}

func TestCreateOffer_SupplyOwnershipNotCheckedByDefault(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	register(t, e, alice, "X")
	register(t, e, bob, "Y")

	// Carol supplies alice's asset; accepted because ownership is not enforced.
	if _, err := e.CreateOffer(context.Background(), carol, assets("X"), assets("Y"), time.Hour, t0); err != nil {
		t.Errorf("expected offer accepted, got %v", err)
	}
}

func TestCreateOffer_RequireSupplyOwnership(t *testing.T) {
	e, _ := newTestEngine(t, Options{RequireSupplyOwnership: true})
	register(t, e, alice, "X")
	register(t, e, bob, "Y")

	_, err := e.CreateOffer(context.Background(), carol, assets("X"), assets("Y"), time.Hour, t0)
	if !errors.Is(err, ErrSupplyNotOwned) {
		t.Errorf("expected ErrSupplyNotOwned, got %v", err)
	}
	if _, err := e.CreateOffer(context.Background(), alice, assets("X"), assets("Y"), time.Hour, t0); err != nil {
		t.Errorf("owner's own offer should pass, got %v", err)
	}
}

func TestCreateOffer_CounterOverflow(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	e.Restore(&model.Snapshot{
		Counter: ^uint32(0),
		Registry: []model.RegistryEntry{
			{AssetID: "X", Owner: alice, Active: true},
			{AssetID: "Y", Owner: bob, Active: true},
		},
	})
	before := e.Snapshot()

	_, err := e.CreateOffer(context.Background(), alice, assets("X"), assets("Y"), time.Hour, t0)
	if !errors.Is(err, ErrCounterOverflow) {
		t.Fatalf("expected ErrCounterOverflow, got %v", err)
	}
	if !reflect.DeepEqual(before, e.Snapshot()) {
		t.Error("state changed after overflow")
	}
}

func TestCreateOffer_IDsNeverReused(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	register(t, e, alice, "X")
	register(t, e, bob, "Y")
	ctx := context.Background()

	seen := make(map[model.OfferID]bool)
	for i := 0; i < 5; i++ {
		id := createOffer(t, e, alice, assets("X"), assets("Y"), time.Hour, t0)
		if seen[id] {
			t.Fatalf("id %d reused", id)
		}
		seen[id] = true
		if i%2 == 0 {
			if _, err := e.DeleteOffers(ctx, alice, ids(id)); err != nil {
				t.Fatalf("delete: %v", err)
			}
		}
	}

	if err := e.ResetAll(ctx, admin); err != nil {
		t.Fatalf("reset: %v", err)
	}
	register(t, e, alice, "X")
	register(t, e, bob, "Y")
	id := createOffer(t, e, alice, assets("X"), assets("Y"), time.Hour, t0)
	if seen[id] || id != 6 {
		t.Errorf("expected fresh id 6 after reset, got %d", id)
	}
}

func TestCreateOffer_CapacityExceeded(t *testing.T) {
	e, _ := newTestEngine(t, Options{Limiter: limits.NewLimiter(0, 1, 1)})
	register(t, e, alice, "X", "W")
	register(t, e, bob, "Y")

	_, err := e.CreateOffer(context.Background(), alice, assets("X", "W"), assets("Y"), time.Hour, t0)
	if !errors.Is(err, ErrCapacityExceeded) {
		t.Errorf("two supplied assets over limit 1: expected ErrCapacityExceeded, got %v", err)
	}

	createOffer(t, e, alice, assets("X"), assets("Y"), time.Hour, t0)
	_, err = e.CreateOffer(context.Background(), alice, assets("W"), assets("Y"), time.Hour, t0)
	if !errors.Is(err, ErrCapacityExceeded) {
		t.Errorf("second offer for alice: expected ErrCapacityExceeded, got %v", err)
	}
}

func TestDeleteOffers_AuthorizationIsAllOrNothing(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	register(t, e, alice, "X")
	register(t, e, bob, "Y")

	mine := createOffer(t, e, alice, assets("X"), assets("Y"), time.Hour, t0)
	theirs := createOffer(t, e, bob, assets("Y"), assets("X"), time.Hour, t0)
	before := e.Snapshot()

	_, err := e.DeleteOffers(context.Background(), alice, ids(mine, theirs))
	if !errors.Is(err, ErrOfferNotCreator) {
		t.Fatalf("expected ErrOfferNotCreator, got %v", err)
	}
	if !reflect.DeepEqual(before, e.Snapshot()) {
		t.Error("no offer may be removed when one id is unauthorized")
	}
}

func TestDeleteOffers_MissingIDsIgnored(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	register(t, e, alice, "X")
	register(t, e, bob, "Y")
	id := createOffer(t, e, alice, assets("X"), assets("Y"), time.Hour, t0)

	removed, err := e.DeleteOffers(context.Background(), alice, ids(id, 42, 99))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(removed, ids(id)) {
		t.Errorf("expected only %d removed, got %v", id, removed)
	}

	// Deleting again is a no-op, also for another caller.
	if removed, err := e.DeleteOffers(context.Background(), bob, ids(id)); err != nil || removed != nil {
		t.Errorf("repeat delete: expected no-op, got %v %v", removed, err)
	}
	assertNoOrphans(t, e)
}

// --- sweeper ---

func TestSweepExpired_RemovesOnlyExpired(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	register(t, e, alice, "X")
	register(t, e, bob, "Y")

	expired := createOffer(t, e, alice, assets("X"), assets("Y"), 500*time.Second, t0)    // ends 1500
	boundary := createOffer(t, e, alice, assets("X"), assets("Y"), 1000*time.Second, t0) // ends 2000
	fresh := createOffer(t, e, bob, assets("Y"), assets("X"), time.Hour, t0)

	now := time.Unix(2000, 0).UTC()
	removed, err := e.SweepExpired(context.Background(), admin, now)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if !reflect.DeepEqual(removed, ids(expired)) {
		t.Errorf("expected %v swept, got %v", ids(expired), removed)
	}
	if _, ok := e.Offer(boundary); !ok {
		t.Error("offer ending exactly at now is not expired")
	}
	if _, ok := e.Offer(fresh); !ok {
		t.Error("fresh offer should survive")
	}

	again, err := e.SweepExpired(context.Background(), admin, now)
	if err != nil || len(again) != 0 {
		t.Errorf("second sweep should be a no-op, got %v %v", again, err)
	}
	assertNoOrphans(t, e)
}

func TestSweepExpired_OwnerOnly(t *testing.T) {
	e, _ := newTestEngine(t, Options{})

	_, err := e.SweepExpired(context.Background(), alice, t0)
	if !errors.Is(err, ErrOfferNotOwner) {
		t.Errorf("expected ErrOfferNotOwner, got %v", err)
	}
}

func TestSweepExpired_Grace(t *testing.T) {
	e, _ := newTestEngine(t, Options{SweepGrace: time.Minute})
	register(t, e, alice, "X")
	register(t, e, bob, "Y")
	id := createOffer(t, e, alice, assets("X"), assets("Y"), time.Second, t0)

	removed, _ := e.SweepExpired(context.Background(), admin, t0.Add(30*time.Second))
	if len(removed) != 0 {
		t.Errorf("offer within grace should survive, removed %v", removed)
	}
	removed, _ = e.SweepExpired(context.Background(), admin, t0.Add(2*time.Minute))
	if !reflect.DeepEqual(removed, ids(id)) {
		t.Errorf("expected %d swept after grace, got %v", id, removed)
	}
}

func TestSweeper_SweepOnce(t *testing.T) {
	now := t0
	e, _ := newTestEngine(t, Options{Clock: func() time.Time { return now }})
	register(t, e, alice, "X")
	register(t, e, bob, "Y")
	id := createOffer(t, e, alice, assets("X"), assets("Y"), time.Second, t0)

	now = t0.Add(time.Minute)
	removed := NewSweeper(e, time.Second).SweepOnce(context.Background())
	if !reflect.DeepEqual(removed, ids(id)) {
		t.Errorf("expected %v, got %v", ids(id), removed)
	}
}

func TestSweeper_RunStopsOnCancel(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		NewSweeper(e, time.Millisecond).Run(ctx)
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

// --- reset ---

func TestResetAll(t *testing.T) {
	e, vault := newTestEngine(t, Options{})
	register(t, e, alice, "X")
	register(t, e, bob, "Y")
	createOffer(t, e, alice, assets("X"), assets("Y"), time.Hour, t0)

	if err := e.ResetAll(context.Background(), alice); !errors.Is(err, ErrOfferNotOwner) {
		t.Errorf("non-owner reset: expected ErrOfferNotOwner, got %v", err)
	}

	if err := e.ResetAll(context.Background(), admin); err != nil {
		t.Fatalf("reset: %v", err)
	}
	snap := e.Snapshot()
	if len(snap.Offers) != 0 || len(snap.Registry) != 0 {
		t.Errorf("expected empty tables, got %+v", snap)
	}
	if snap.Counter != 1 {
		t.Errorf("counter must survive reset, got %d", snap.Counter)
	}
	if holder, _ := vault.Holder("X"); holder != alice {
		t.Errorf("X should be released to alice, got %q", holder)
	}
	if holder, _ := vault.Holder("Y"); holder != bob {
		t.Errorf("Y should be released to bob, got %q", holder)
	}
}

// --- observers ---

func TestSubscribe_ReceivesCommittedEvents(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	var got []model.EventType
	e.Subscribe(ObserverFunc(func(ev model.Event) { got = append(got, ev.Type) }))

	register(t, e, alice, "X")
	register(t, e, bob, "Y")
	e.CreateOffer(context.Background(), alice, nil, nil, time.Hour, t0) // rejected, no event
	id := createOffer(t, e, alice, assets("X"), assets("Y"), time.Hour, t0)
	e.DeleteOffers(context.Background(), alice, ids(id))

	want := []model.EventType{
		model.EventAssetRegistered,
		model.EventAssetRegistered,
		model.EventOfferCreated,
		model.EventOffersRemoved,
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("events: got %v, want %v", got, want)
	}
}

// --- persistence ---

func TestCommitFailure_LeavesStateUntouched(t *testing.T) {
	committer := &failingCommitter{}
	e, err := New(admin, custody.NewVault(), committer, Options{})
	if err != nil {
		t.Fatal(err)
	}
	register(t, e, alice, "X")
	register(t, e, bob, "Y")
	id := createOffer(t, e, alice, assets("X"), assets("Y"), time.Hour, t0)
	before := e.Snapshot()

	committer.err = errors.New("connection reset")
	if _, err := e.CreateOffer(context.Background(), alice, assets("X"), assets("Y"), time.Hour, t0); !errors.Is(err, ErrCommit) {
		t.Errorf("create: expected ErrCommit, got %v", err)
	}
	if _, err := e.DeleteOffers(context.Background(), alice, ids(id)); !errors.Is(err, ErrCommit) {
		t.Errorf("delete: expected ErrCommit, got %v", err)
	}
	if _, err := e.SweepExpired(context.Background(), admin, t0.Add(2*time.Hour)); !errors.Is(err, ErrCommit) {
		t.Errorf("sweep: expected ErrCommit, got %v", err)
	}
	if !reflect.DeepEqual(before, e.Snapshot()) {
		t.Error("state changed although every commit failed")
	}
}

// restartOn builds a fresh engine and vault over st and restores them from
// the persisted state, as the server does on startup.
func restartOn(t *testing.T, st store.Store) (*Engine, *custody.Vault) {
	t.Helper()
	vault := custody.NewVault()
	e, err := New(admin, vault, st, Options{})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	snap, err := st.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	e.Restore(snap)
	return e, vault
}

func TestRestore_ResumesCustodyAfterRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "barter.db")

	st, err := store.OpenSQLite(path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	e, err := New(admin, custody.NewVault(), st, Options{})
	if err != nil {
		t.Fatal(err)
	}
	register(t, e, alice, "X")
	register(t, e, bob, "Y")
	register(t, e, carol, "Z")
	created := t0.Add(900 * time.Microsecond)
	ttl := time.Second + 500*time.Microsecond
	o1 := createOffer(t, e, alice, assets("X"), assets("Y"), ttl, created)
	o2 := createOffer(t, e, bob, assets("Y"), assets("X"), ttl, created)
	st.Close()

	reopened, err := store.OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen sqlite: %v", err)
	}
	defer reopened.Close()
	e, vault := restartOn(t, reopened)

	if owner, ok := vault.Locked("X"); !ok || owner != alice {
		t.Fatalf("X should be back in custody for alice, got %q %v", owner, ok)
	}

	// Trading at the exact expiry instant is still allowed after the reload.
	if _, err := e.ExecuteTrade(ctx, ids(o1, o2), created.Add(ttl)); err != nil {
		t.Fatalf("trade after restart: %v", err)
	}
	if holder, _ := vault.Holder("X"); holder != bob {
		t.Errorf("X should be held by bob, got %q", holder)
	}
	if _, err := e.Revoke(ctx, "Z", carol); err != nil {
		t.Errorf("revoke after restart: %v", err)
	}
	register(t, e, bob, "X")
	if err := e.ResetAll(ctx, admin); err != nil {
		t.Errorf("reset after restart: %v", err)
	}
}

func TestRestore_InactiveEntriesKeepHolder(t *testing.T) {
	st := store.NewMemoryStore()
	err := st.Commit(context.Background(), &model.Changeset{
		Custody: []model.RegistryEntry{{AssetID: "X", Owner: bob, Active: false}},
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	e, _ := restartOn(t, st)

	if err := e.Register(context.Background(), "X", alice); !errors.Is(err, ErrCustody) {
		t.Errorf("only the holder may register X again, got %v", err)
	}
	register(t, e, bob, "X")
}
