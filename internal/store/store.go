// Package store defines the persistence interface for the barter engine.
// Implementations include PostgreSQL (source of truth), SQLite (single-node
// deployments), Redis (read-through cache), and in-memory (for testing).
package store

import (
	"cmp"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/atmx/barter-engine/internal/model"
)

// ErrNotFound is returned by point reads for a missing offer or asset.
var ErrNotFound = errors.New("store: not found")

//go:embed schema.sql
var schemaSQL string

// Store is the persistence interface. The engine commits every changeset
// here before applying it in memory, and restores from Load on startup.
type Store interface {
	// --- Engine state ---

	// Load reads the full persisted state.
	Load(ctx context.Context) (*model.Snapshot, error)

	// Commit applies a changeset atomically: reset, removals with their
	// items, creations, registry upserts, counter.
	Commit(ctx context.Context, cs *model.Changeset) error

	// --- Read model ---

	// GetOffer returns one live offer with its items.
	GetOffer(ctx context.Context, id model.OfferID) (*model.OfferRecord, error)

	// ListOffers returns every live offer in ascending id order.
	ListOffers(ctx context.Context) ([]model.OfferRecord, error)

	// GetRegistryEntry returns the custody registry entry for an asset.
	GetRegistryEntry(ctx context.Context, asset model.AssetID) (*model.RegistryEntry, error)
}

// execFunc runs one statement written with ? placeholders inside the
// caller's transaction.
type execFunc func(ctx context.Context, query string, args ...any) error

// applyChangeset issues the statements for cs in commit order.
func applyChangeset(ctx context.Context, exec execFunc, cs *model.Changeset) error {
	if cs.Reset {
		for _, table := range []string{"supply_items", "demand_items", "offers", "registry"} {
			if err := exec(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("reset %s: %w", table, err)
			}
		}
	}

	for _, id := range cs.Removed {
		for _, q := range []string{
			`DELETE FROM supply_items WHERE offer_id = ?`,
			`DELETE FROM demand_items WHERE offer_id = ?`,
			`DELETE FROM offers WHERE id = ?`,
		} {
			if err := exec(ctx, q, int64(id)); err != nil {
				return fmt.Errorf("remove offer %d: %w", id, err)
			}
		}
	}

	for _, rec := range cs.Created {
		o := rec.Offer
		if err := exec(ctx,
			`INSERT INTO offers (id, creator, created_at_ns, expires_in_ns) VALUES (?, ?, ?, ?)`,
			int64(o.ID), string(o.Creator), toNanos(o.CreatedAt), int64(o.ExpiresIn),
		); err != nil {
			return fmt.Errorf("insert offer %d: %w", o.ID, err)
		}
		for _, s := range rec.Supply {
			if err := exec(ctx,
				`INSERT INTO supply_items (offer_id, asset_id) VALUES (?, ?)`,
				int64(s.OfferID), string(s.AssetID),
			); err != nil {
				return fmt.Errorf("insert supply item %d/%s: %w", s.OfferID, s.AssetID, err)
			}
		}
		for _, d := range rec.Demand {
			if err := exec(ctx,
				`INSERT INTO demand_items (offer_id, asset_id, owner) VALUES (?, ?, ?)`,
				int64(d.OfferID), string(d.AssetID), string(d.Owner),
			); err != nil {
				return fmt.Errorf("insert demand item %d/%s: %w", d.OfferID, d.AssetID, err)
			}
		}
	}

	for _, e := range cs.Custody {
		if err := exec(ctx,
			`INSERT INTO registry (asset_id, owner, active) VALUES (?, ?, ?)
			 ON CONFLICT (asset_id) DO UPDATE SET owner = excluded.owner, active = excluded.active`,
			string(e.AssetID), string(e.Owner), e.Active,
		); err != nil {
			return fmt.Errorf("upsert registry %s: %w", e.AssetID, err)
		}
	}

	if err := exec(ctx,
		`UPDATE offer_counter SET value = ? WHERE id = 1 AND value < ?`,
		int64(cs.Counter), int64(cs.Counter),
	); err != nil {
		return fmt.Errorf("advance counter: %w", err)
	}
	return nil
}

// rebind rewrites ? placeholders as $1, $2, ... for PostgreSQL.
func rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// rows is satisfied by both pgx.Rows and *sql.Rows.
type rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

// Column lists shared by every SQL implementation.
const (
	offerColumns    = `id, creator, created_at_ns, expires_in_ns`
	supplyColumns   = `offer_id, asset_id`
	demandColumns   = `offer_id, asset_id, owner`
	registryColumns = `asset_id, owner, active`
)

func scanOffers(r rows) ([]model.Offer, error) {
	var out []model.Offer
	for r.Next() {
		var o model.Offer
		var id, createdAt, expiresIn int64
		if err := r.Scan(&id, &o.Creator, &createdAt, &expiresIn); err != nil {
			return nil, err
		}
		o.ID = model.OfferID(id)
		o.CreatedAt = fromNanos(createdAt)
		o.ExpiresIn = time.Duration(expiresIn)
		out = append(out, o)
	}
	return out, r.Err()
}

func scanSupply(r rows) ([]model.SupplyItem, error) {
	var out []model.SupplyItem
	for r.Next() {
		var s model.SupplyItem
		var id int64
		if err := r.Scan(&id, &s.AssetID); err != nil {
			return nil, err
		}
		s.OfferID = model.OfferID(id)
		out = append(out, s)
	}
	return out, r.Err()
}

func scanDemand(r rows) ([]model.DemandItem, error) {
	var out []model.DemandItem
	for r.Next() {
		var d model.DemandItem
		var id int64
		if err := r.Scan(&id, &d.AssetID, &d.Owner); err != nil {
			return nil, err
		}
		d.OfferID = model.OfferID(id)
		out = append(out, d)
	}
	return out, r.Err()
}

func scanRegistry(r rows) ([]model.RegistryEntry, error) {
	var out []model.RegistryEntry
	for r.Next() {
		var e model.RegistryEntry
		if err := r.Scan(&e.AssetID, &e.Owner, &e.Active); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, r.Err()
}

// assemble groups item rows under their offers, sorted by offer id.
func assemble(offers []model.Offer, supply []model.SupplyItem, demand []model.DemandItem) []model.OfferRecord {
	recs := make([]model.OfferRecord, 0, len(offers))
	pos := make(map[model.OfferID]int, len(offers))
	slices.SortFunc(offers, func(a, b model.Offer) int { return cmp.Compare(a.ID, b.ID) })
	for i, o := range offers {
		pos[o.ID] = i
		recs = append(recs, model.OfferRecord{Offer: o})
	}
	for _, s := range supply {
		if i, ok := pos[s.OfferID]; ok {
			recs[i].Supply = append(recs[i].Supply, s)
		}
	}
	for _, d := range demand {
		if i, ok := pos[d.OfferID]; ok {
			recs[i].Demand = append(recs[i].Demand, d)
		}
	}
	return recs
}

// Times are stored as Unix nanoseconds so expiry checks after a reload see
// exactly the instants the engine compared before it.
func toNanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromNanos(v int64) time.Time {
	return time.Unix(0, v).UTC()
}
