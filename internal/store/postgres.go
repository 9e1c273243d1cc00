package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atmx/barter-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Every changeset is written in a single transaction.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) Commit(ctx context.Context, cs *model.Changeset) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	exec := func(ctx context.Context, query string, args ...any) error {
		_, err := tx.Exec(ctx, rebind(query), args...)
		return err
	}
	if err := applyChangeset(ctx, exec, cs); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) Load(ctx context.Context) (*model.Snapshot, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // read-only

	var counter int64
	if err := tx.QueryRow(ctx, `SELECT value FROM offer_counter WHERE id = 1`).Scan(&counter); err != nil {
		return nil, fmt.Errorf("load counter: %w", err)
	}

	offers, err := queryPG(ctx, tx, scanOffers, `SELECT `+offerColumns+` FROM offers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("load offers: %w", err)
	}
	supply, err := queryPG(ctx, tx, scanSupply, `SELECT `+supplyColumns+` FROM supply_items ORDER BY offer_id, asset_id`)
	if err != nil {
		return nil, fmt.Errorf("load supply items: %w", err)
	}
	demand, err := queryPG(ctx, tx, scanDemand, `SELECT `+demandColumns+` FROM demand_items ORDER BY offer_id, asset_id`)
	if err != nil {
		return nil, fmt.Errorf("load demand items: %w", err)
	}
	registry, err := queryPG(ctx, tx, scanRegistry, `SELECT `+registryColumns+` FROM registry ORDER BY asset_id`)
	if err != nil {
		return nil, fmt.Errorf("load registry: %w", err)
	}

	return &model.Snapshot{
		Counter:  uint32(counter),
		Offers:   assemble(offers, supply, demand),
		Registry: registry,
	}, nil
}

func (s *PostgresStore) GetOffer(ctx context.Context, id model.OfferID) (*model.OfferRecord, error) {
	offers, err := queryPG(ctx, s.pool, scanOffers, `SELECT `+offerColumns+` FROM offers WHERE id = $1`, int64(id))
	if err != nil {
		return nil, fmt.Errorf("get offer %d: %w", id, err)
	}
	if len(offers) == 0 {
		return nil, fmt.Errorf("offer %d: %w", id, ErrNotFound)
	}
	supply, err := queryPG(ctx, s.pool, scanSupply,
		`SELECT `+supplyColumns+` FROM supply_items WHERE offer_id = $1 ORDER BY asset_id`, int64(id))
	if err != nil {
		return nil, fmt.Errorf("get supply items %d: %w", id, err)
	}
	demand, err := queryPG(ctx, s.pool, scanDemand,
		`SELECT `+demandColumns+` FROM demand_items WHERE offer_id = $1 ORDER BY asset_id`, int64(id))
	if err != nil {
		return nil, fmt.Errorf("get demand items %d: %w", id, err)
	}
	return &assemble(offers, supply, demand)[0], nil
}

func (s *PostgresStore) ListOffers(ctx context.Context) ([]model.OfferRecord, error) {
	snap, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Offers, nil
}

func (s *PostgresStore) GetRegistryEntry(ctx context.Context, asset model.AssetID) (*model.RegistryEntry, error) {
	var e model.RegistryEntry
	err := s.pool.QueryRow(ctx,
		`SELECT `+registryColumns+` FROM registry WHERE asset_id = $1`, string(asset)).
		Scan(&e.AssetID, &e.Owner, &e.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("asset %s: %w", asset, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get registry entry %s: %w", asset, err)
	}
	return &e, nil
}

// pgQuerier is satisfied by *pgxpool.Pool and pgx.Tx.
type pgQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryPG[T any](ctx context.Context, q pgQuerier, scan func(rows) ([]T, error), sql string, args ...any) ([]T, error) {
	r, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return scan(r)
}
