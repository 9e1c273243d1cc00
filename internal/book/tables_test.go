package book

import (
	"reflect"
	"testing"
	"time"

	"github.com/atmx/barter-engine/internal/model"
)

func record(id model.OfferID, creator model.Account, supply, demand []model.AssetID) model.OfferRecord {
	rec := model.OfferRecord{Offer: model.Offer{
		ID:        id,
		Creator:   creator,
		CreatedAt: time.Unix(1000, 0).UTC(),
		ExpiresIn: time.Hour,
	}}
	for _, a := range supply {
		rec.Supply = append(rec.Supply, model.SupplyItem{OfferID: id, AssetID: a})
	}
	for _, a := range demand {
		rec.Demand = append(rec.Demand, model.DemandItem{OfferID: id, AssetID: a, Owner: creator})
	}
	return rec
}

func seeded(t *testing.T) *Tables {
	t.Helper()
	tb := New()
	tb.Apply(&model.Changeset{
		Counter: 2,
		Created: []model.OfferRecord{
			record(1, "alice", []model.AssetID{"X"}, []model.AssetID{"Y"}),
			record(2, "bob", []model.AssetID{"Y"}, []model.AssetID{"X", "Z"}),
		},
		Custody: []model.RegistryEntry{
			{AssetID: "X", Owner: "alice", Active: true},
			{AssetID: "Y", Owner: "bob", Active: true},
			{AssetID: "Z", Owner: "bob", Active: true},
		},
	})
	return tb
}

func TestApply_InsertAndIndex(t *testing.T) {
	tb := seeded(t)

	if tb.Len() != 2 || tb.Counter() != 2 {
		t.Fatalf("expected 2 offers and counter 2, got %d and %d", tb.Len(), tb.Counter())
	}
	if got := tb.OffersReferencing("X"); !reflect.DeepEqual(got, []model.OfferID{1, 2}) {
		t.Errorf("X referenced by %v", got)
	}
	if got := tb.OffersReferencing("Z"); !reflect.DeepEqual(got, []model.OfferID{2}) {
		t.Errorf("Z referenced by %v", got)
	}
	if supply, demand := tb.ItemCount(); supply != 2 || demand != 3 {
		t.Errorf("expected 2 supply and 3 demand rows, got %d and %d", supply, demand)
	}
	if tb.CountByCreator("bob") != 1 {
		t.Errorf("bob should have one offer")
	}
	if tb.ActiveCount() != 3 {
		t.Errorf("expected 3 active assets, got %d", tb.ActiveCount())
	}
}

func TestApply_RemoveCascadesItems(t *testing.T) {
	tb := seeded(t)
	tb.Apply(&model.Changeset{Counter: 2, Removed: []model.OfferID{2, 99}})

	if _, ok := tb.Offer(2); ok {
		t.Error("offer 2 should be gone")
	}
	if len(tb.SupplyOf(2)) != 0 || len(tb.DemandOf(2)) != 0 {
		t.Error("items of offer 2 should be gone")
	}
	if supply, demand := tb.ItemCount(); supply != 1 || demand != 1 {
		t.Errorf("expected 1 supply and 1 demand row, got %d and %d", supply, demand)
	}
	if got := tb.OffersReferencing("Z"); len(got) != 0 {
		t.Errorf("Z index should be empty, got %v", got)
	}
	if got := tb.OffersReferencing("X"); !reflect.DeepEqual(got, []model.OfferID{1}) {
		t.Errorf("X referenced by %v", got)
	}
}

func TestApply_CounterNeverDecreases(t *testing.T) {
	tb := seeded(t)
	tb.Apply(&model.Changeset{Counter: 1})
	if tb.Counter() != 2 {
		t.Errorf("counter moved backwards to %d", tb.Counter())
	}
}

func TestApply_ResetKeepsCounter(t *testing.T) {
	tb := seeded(t)
	tb.Apply(&model.Changeset{Counter: 2, Reset: true})

	if tb.Len() != 0 || tb.ActiveCount() != 0 {
		t.Errorf("expected empty tables, got %d offers and %d active", tb.Len(), tb.ActiveCount())
	}
	if _, ok := tb.Entry("X"); ok {
		t.Error("registry should be empty")
	}
	if tb.Counter() != 2 {
		t.Errorf("counter should survive reset, got %d", tb.Counter())
	}
}

func TestApply_RegistryUpsert(t *testing.T) {
	tb := seeded(t)
	tb.Apply(&model.Changeset{Counter: 2, Custody: []model.RegistryEntry{{AssetID: "X", Owner: "bob", Active: false}}})

	e, ok := tb.Entry("X")
	if !ok || e.Active || e.Owner != "bob" {
		t.Errorf("unexpected entry %+v", e)
	}
	if tb.IsActive("X") {
		t.Error("X should be inactive")
	}
}

func TestRecord_ReturnsCopy(t *testing.T) {
	tb := seeded(t)
	rec, _ := tb.Record(1)
	rec.Supply[0].AssetID = "mutated"

	if tb.SupplyOf(1)[0].AssetID != "X" {
		t.Error("Record must not alias table rows")
	}
}

func TestSnapshotRestore_RoundTrip(t *testing.T) {
	tb := seeded(t)
	snap := tb.Snapshot()

	if snap.Registry[0].AssetID != "X" || snap.Registry[2].AssetID != "Z" {
		t.Errorf("registry not sorted: %+v", snap.Registry)
	}

	restored := New()
	restored.Restore(snap)
	if !reflect.DeepEqual(restored.Snapshot(), snap) {
		t.Error("restored tables differ from snapshot")
	}
	if got := restored.OffersReferencing("Y"); !reflect.DeepEqual(got, []model.OfferID{1, 2}) {
		t.Errorf("index not rebuilt: %v", got)
	}
}
