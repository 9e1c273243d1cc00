// Package book holds the four logical tables of the barter engine (offers,
// supply items, demand items and the custody registry) as maps keyed by id,
// plus a reverse index from asset to the offers that reference it.
//
// Tables are mutated only through Apply, which takes a fully planned
// model.Changeset and cannot fail. Tables is not safe for concurrent use;
// callers serialize access.
package book

import (
	"cmp"
	"slices"

	"github.com/atmx/barter-engine/internal/model"
)

// Tables is the in-memory arena for offers, their items and the registry.
type Tables struct {
	counter  uint32
	offers   map[model.OfferID]model.Offer
	supply   map[model.OfferID][]model.SupplyItem
	demand   map[model.OfferID][]model.DemandItem
	registry map[model.AssetID]model.RegistryEntry

	// byAsset indexes every offer whose supply or demand names an asset.
	byAsset map[model.AssetID]map[model.OfferID]struct{}
}

// New creates empty tables.
func New() *Tables {
	t := &Tables{}
	t.clear()
	t.registry = make(map[model.AssetID]model.RegistryEntry)
	return t
}

func (t *Tables) clear() {
	t.offers = make(map[model.OfferID]model.Offer)
	t.supply = make(map[model.OfferID][]model.SupplyItem)
	t.demand = make(map[model.OfferID][]model.DemandItem)
	t.byAsset = make(map[model.AssetID]map[model.OfferID]struct{})
}

// Counter returns the last allocated offer id.
func (t *Tables) Counter() uint32 { return t.counter }

// Len returns the number of live offers.
func (t *Tables) Len() int { return len(t.offers) }

// Offer returns the offer row for id.
func (t *Tables) Offer(id model.OfferID) (model.Offer, bool) {
	o, ok := t.offers[id]
	return o, ok
}

// Record returns a copy of the offer row and its items.
func (t *Tables) Record(id model.OfferID) (model.OfferRecord, bool) {
	o, ok := t.offers[id]
	if !ok {
		return model.OfferRecord{}, false
	}
	rec := model.OfferRecord{Offer: o, Supply: t.supply[id], Demand: t.demand[id]}
	return rec.Clone(), true
}

// SupplyOf returns the supply items of one offer. The slice must not be modified.
func (t *Tables) SupplyOf(id model.OfferID) []model.SupplyItem { return t.supply[id] }

// DemandOf returns the demand items of one offer. The slice must not be modified.
func (t *Tables) DemandOf(id model.OfferID) []model.DemandItem { return t.demand[id] }

// OfferIDs returns all live offer ids in ascending order.
func (t *Tables) OfferIDs() []model.OfferID {
	ids := make([]model.OfferID, 0, len(t.offers))
	for id := range t.offers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// CountByCreator returns how many live offers creator has.
func (t *Tables) CountByCreator(creator model.Account) int {
	n := 0
	for _, o := range t.offers {
		if o.Creator == creator {
			n++
		}
	}
	return n
}

// Entry returns the registry entry for an asset.
func (t *Tables) Entry(asset model.AssetID) (model.RegistryEntry, bool) {
	e, ok := t.registry[asset]
	return e, ok
}

// IsActive reports whether asset is held in custody.
func (t *Tables) IsActive(asset model.AssetID) bool {
	return t.registry[asset].Active
}

// ActiveCount returns the number of assets held in custody.
func (t *Tables) ActiveCount() int {
	n := 0
	for _, e := range t.registry {
		if e.Active {
			n++
		}
	}
	return n
}

// OffersReferencing returns, in ascending order, every live offer whose
// supply or demand names asset.
func (t *Tables) OffersReferencing(asset model.AssetID) []model.OfferID {
	refs := t.byAsset[asset]
	ids := make([]model.OfferID, 0, len(refs))
	for id := range refs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// ItemCount returns the total number of supply and demand rows.
func (t *Tables) ItemCount() (supply, demand int) {
	for _, items := range t.supply {
		supply += len(items)
	}
	for _, items := range t.demand {
		demand += len(items)
	}
	return supply, demand
}

// Apply performs a planned changeset. Order: reset, removals (with their
// items), creations, registry upserts, counter.
func (t *Tables) Apply(cs *model.Changeset) {
	if cs.Reset {
		t.clear()
		t.registry = make(map[model.AssetID]model.RegistryEntry)
	}
	for _, id := range cs.Removed {
		t.remove(id)
	}
	for _, rec := range cs.Created {
		t.insert(rec)
	}
	for _, e := range cs.Custody {
		t.registry[e.AssetID] = e
	}
	if cs.Counter > t.counter {
		t.counter = cs.Counter
	}
}

func (t *Tables) insert(rec model.OfferRecord) {
	id := rec.Offer.ID
	t.offers[id] = rec.Offer
	t.supply[id] = append([]model.SupplyItem(nil), rec.Supply...)
	t.demand[id] = append([]model.DemandItem(nil), rec.Demand...)
	for _, s := range rec.Supply {
		t.index(s.AssetID, id)
	}
	for _, d := range rec.Demand {
		t.index(d.AssetID, id)
	}
}

func (t *Tables) index(asset model.AssetID, id model.OfferID) {
	refs, ok := t.byAsset[asset]
	if !ok {
		refs = make(map[model.OfferID]struct{})
		t.byAsset[asset] = refs
	}
	refs[id] = struct{}{}
}

func (t *Tables) unindex(asset model.AssetID, id model.OfferID) {
	refs := t.byAsset[asset]
	delete(refs, id)
	if len(refs) == 0 {
		delete(t.byAsset, asset)
	}
}

// remove deletes an offer and every supply and demand row carrying its id.
func (t *Tables) remove(id model.OfferID) {
	if _, ok := t.offers[id]; !ok {
		return
	}
	for _, s := range t.supply[id] {
		t.unindex(s.AssetID, id)
	}
	for _, d := range t.demand[id] {
		t.unindex(d.AssetID, id)
	}
	delete(t.offers, id)
	delete(t.supply, id)
	delete(t.demand, id)
}

// Snapshot returns a deep copy of every table, offers sorted by id and
// registry entries sorted by asset.
func (t *Tables) Snapshot() *model.Snapshot {
	snap := &model.Snapshot{
		Counter:  t.counter,
		Offers:   make([]model.OfferRecord, 0, len(t.offers)),
		Registry: make([]model.RegistryEntry, 0, len(t.registry)),
	}
	for _, id := range t.OfferIDs() {
		rec, _ := t.Record(id)
		snap.Offers = append(snap.Offers, rec)
	}
	for _, e := range t.registry {
		snap.Registry = append(snap.Registry, e)
	}
	slices.SortFunc(snap.Registry, func(a, b model.RegistryEntry) int {
		return cmp.Compare(a.AssetID, b.AssetID)
	})
	return snap
}

// Restore replaces every table with the contents of snap.
func (t *Tables) Restore(snap *model.Snapshot) {
	t.clear()
	t.registry = make(map[model.AssetID]model.RegistryEntry, len(snap.Registry))
	for _, rec := range snap.Offers {
		t.insert(rec)
	}
	for _, e := range snap.Registry {
		t.registry[e.AssetID] = e
	}
	t.counter = snap.Counter
}
