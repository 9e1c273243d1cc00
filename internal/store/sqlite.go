package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/atmx/barter-engine/internal/model"
)

// SQLiteStore implements Store on a local SQLite file for single-node
// deployments. Times are stored as Unix nanoseconds.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and applies the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer at a time; the engine already serializes commits.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) Commit(ctx context.Context, cs *model.Changeset) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	exec := func(ctx context.Context, query string, args ...any) error {
		_, err := tx.ExecContext(ctx, query, args...)
		return err
	}
	if err := applyChangeset(ctx, exec, cs); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) Load(ctx context.Context) (*model.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // reads only

	var counter int64
	if err := tx.QueryRowContext(ctx, `SELECT value FROM offer_counter WHERE id = 1`).Scan(&counter); err != nil {
		return nil, fmt.Errorf("load counter: %w", err)
	}

	offers, err := querySQL(ctx, tx, scanOffers, `SELECT `+offerColumns+` FROM offers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("load offers: %w", err)
	}
	supply, err := querySQL(ctx, tx, scanSupply, `SELECT `+supplyColumns+` FROM supply_items ORDER BY offer_id, asset_id`)
	if err != nil {
		return nil, fmt.Errorf("load supply items: %w", err)
	}
	demand, err := querySQL(ctx, tx, scanDemand, `SELECT `+demandColumns+` FROM demand_items ORDER BY offer_id, asset_id`)
	if err != nil {
		return nil, fmt.Errorf("load demand items: %w", err)
	}
	registry, err := querySQL(ctx, tx, scanRegistry, `SELECT `+registryColumns+` FROM registry ORDER BY asset_id`)
	if err != nil {
		return nil, fmt.Errorf("load registry: %w", err)
	}

	return &model.Snapshot{
		Counter:  uint32(counter),
		Offers:   assemble(offers, supply, demand),
		Registry: registry,
	}, nil
}

func (s *SQLiteStore) GetOffer(ctx context.Context, id model.OfferID) (*model.OfferRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	offers, err := querySQL(ctx, s.db, scanOffers, `SELECT `+offerColumns+` FROM offers WHERE id = ?`, int64(id))
	if err != nil {
		return nil, fmt.Errorf("get offer %d: %w", id, err)
	}
	if len(offers) == 0 {
		return nil, fmt.Errorf("offer %d: %w", id, ErrNotFound)
	}
	supply, err := querySQL(ctx, s.db, scanSupply,
		`SELECT `+supplyColumns+` FROM supply_items WHERE offer_id = ? ORDER BY asset_id`, int64(id))
	if err != nil {
		return nil, fmt.Errorf("get supply items %d: %w", id, err)
	}
	demand, err := querySQL(ctx, s.db, scanDemand,
		`SELECT `+demandColumns+` FROM demand_items WHERE offer_id = ? ORDER BY asset_id`, int64(id))
	if err != nil {
		return nil, fmt.Errorf("get demand items %d: %w", id, err)
	}
	return &assemble(offers, supply, demand)[0], nil
}

func (s *SQLiteStore) ListOffers(ctx context.Context) ([]model.OfferRecord, error) {
	snap, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Offers, nil
}

func (s *SQLiteStore) GetRegistryEntry(ctx context.Context, asset model.AssetID) (*model.RegistryEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var e model.RegistryEntry
	err := s.db.QueryRowContext(ctx,
		`SELECT `+registryColumns+` FROM registry WHERE asset_id = ?`, string(asset)).
		Scan(&e.AssetID, &e.Owner, &e.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("asset %s: %w", asset, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get registry entry %s: %w", asset, err)
	}
	return &e, nil
}

// sqlQuerier is satisfied by *sql.DB and *sql.Tx.
type sqlQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func querySQL[T any](ctx context.Context, q sqlQuerier, scan func(rows) ([]T, error), query string, args ...any) ([]T, error) {
	r, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return scan(r)
}
