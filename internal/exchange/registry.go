package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/atmx/barter-engine/internal/metrics"
	"github.com/atmx/barter-engine/internal/model"
)

// Register places asset into custody on behalf of owner and marks it active.
func (e *Engine) Register(ctx context.Context, asset model.AssetID, owner model.Account) error {
	ctx, span := startSpan(ctx, "Register",
		attribute.String("asset", string(asset)),
		attribute.String("owner", string(owner)),
	)
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.tables.IsActive(asset) {
		return reject(span, "register", fmt.Errorf("%w: %s", ErrAssetAlreadyActive, asset))
	}

	if err := e.custody.Lock(ctx, asset, owner); err != nil {
		return reject(span, "register", fmt.Errorf("%w: lock %s: %w", ErrCustody, asset, err))
	}

	cs := e.plan()
	cs.Custody = []model.RegistryEntry{{AssetID: asset, Owner: owner, Active: true}}

	if err := e.commit(ctx, cs); err != nil {
		undo := []custodyStep{{asset: asset, undo: func(ctx context.Context) error {
			return e.custody.Release(ctx, asset, owner)
		}}}
		if uerr := e.compensate(ctx, "register", undo); uerr != nil {
			err = errors.Join(err, uerr)
		}
		return reject(span, "register", err)
	}

	slog.Info("asset registered", "asset", asset, "owner", owner)
	e.emit(model.Event{
		Type:    model.EventAssetRegistered,
		At:      e.opts.Clock(),
		Account: owner,
		AssetID: asset,
	})
	return nil
}

// Revoke returns a custodied asset to owner and marks it inactive. Every
// offer that supplies or demands the asset is removed with all its items.
func (e *Engine) Revoke(ctx context.Context, asset model.AssetID, owner model.Account) ([]model.OfferID, error) {
	ctx, span := startSpan(ctx, "Revoke",
		attribute.String("asset", string(asset)),
		attribute.String("owner", string(owner)),
	)
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	entry, ok := e.tables.Entry(asset)
	if !ok || !entry.Active {
		return nil, reject(span, "revoke", fmt.Errorf("%w: %s", ErrAssetNotActive, asset))
	}
	if entry.Owner != owner {
		return nil, reject(span, "revoke", fmt.Errorf("%w: %s is held for %s", ErrNotOwner, asset, entry.Owner))
	}

	cs := e.plan()
	cs.Removed = e.tables.OffersReferencing(asset)
	cs.Custody = []model.RegistryEntry{{AssetID: asset, Owner: owner, Active: false}}

	steps, err := e.releaseAll(ctx, "revoke", []model.Transfer{{AssetID: asset, NewOwner: owner}})
	if err != nil {
		return nil, reject(span, "revoke", err)
	}
	if err := e.commit(ctx, cs); err != nil {
		if uerr := e.compensate(ctx, "revoke", steps); uerr != nil {
			err = errors.Join(err, uerr)
		}
		return nil, reject(span, "revoke", err)
	}

	metrics.OffersRemovedTotal.WithLabelValues(model.ReasonRevoked).Add(float64(len(cs.Removed)))
	span.SetAttributes(attribute.Int64Slice("cascaded_offers", offerIDInts(cs.Removed)))
	slog.Info("asset revoked",
		"asset", asset,
		"owner", owner,
		"cascaded_offers", cs.Removed,
	)
	e.emit(model.Event{
		Type:     model.EventAssetRevoked,
		At:       e.opts.Clock(),
		Account:  owner,
		AssetID:  asset,
		OfferIDs: cs.Removed,
		Reason:   model.ReasonRevoked,
	})
	return cs.Removed, nil
}

// IsActive reports whether asset is held in custody.
func (e *Engine) IsActive(asset model.AssetID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tables.IsActive(asset)
}

// Entry returns the registry entry for asset.
func (e *Engine) Entry(asset model.AssetID) (model.RegistryEntry, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tables.Entry(asset)
}
