package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/atmx/barter-engine/internal/metrics"
	"github.com/atmx/barter-engine/internal/model"
)

// CreateOffer records an offer supplying one set of custodied assets in
// exchange for another. Both sets are de-duplicated; each must be non-empty
// and every asset in them must be active in the registry.
//
// Unless Options.RequireSupplyOwnership is set, the creator is not checked
// against the custody owner of the supplied assets.
func (e *Engine) CreateOffer(
	ctx context.Context,
	creator model.Account,
	supply, demand []model.AssetID,
	expiresIn time.Duration,
	now time.Time,
) (model.OfferID, error) {
	ctx, span := startSpan(ctx, "CreateOffer",
		attribute.String("creator", string(creator)),
		attribute.Int("supply", len(supply)),
		attribute.Int("demand", len(demand)),
	)
	defer span.End()

	supply = normalizeAssets(supply)
	demand = normalizeAssets(demand)

	e.mu.Lock()
	defer e.mu.Unlock()

	if len(supply) == 0 || len(demand) == 0 {
		return 0, reject(span, "create_offer", ErrEmptySet)
	}
	for _, set := range [][]model.AssetID{supply, demand} {
		for _, asset := range set {
			if !e.tables.IsActive(asset) {
				return 0, reject(span, "create_offer", fmt.Errorf("%w: %s", ErrAssetNotFound, asset))
			}
		}
	}
	if e.opts.RequireSupplyOwnership {
		for _, asset := range supply {
			if entry, _ := e.tables.Entry(asset); entry.Owner != creator {
				return 0, reject(span, "create_offer", fmt.Errorf("%w: %s", ErrSupplyNotOwned, asset))
			}
		}
	}
	if err := e.opts.Limiter.CheckOffer(
		e.tables.Len(),
		e.tables.CountByCreator(creator),
		len(supply), len(demand),
	); err != nil {
		return 0, reject(span, "create_offer", fmt.Errorf("%w: %w", ErrCapacityExceeded, err))
	}

	counter := e.tables.Counter()
	if counter == math.MaxUint32 {
		return 0, reject(span, "create_offer", ErrCounterOverflow)
	}
	id := model.OfferID(counter + 1)

	rec := model.OfferRecord{
		Offer: model.Offer{
			ID:        id,
			Creator:   creator,
			CreatedAt: now,
			ExpiresIn: expiresIn,
		},
		Supply: make([]model.SupplyItem, 0, len(supply)),
		Demand: make([]model.DemandItem, 0, len(demand)),
	}
	for _, asset := range supply {
		rec.Supply = append(rec.Supply, model.SupplyItem{OfferID: id, AssetID: asset})
	}
	for _, asset := range demand {
		rec.Demand = append(rec.Demand, model.DemandItem{OfferID: id, AssetID: asset, Owner: creator})
	}

	cs := &model.Changeset{Counter: uint32(id), Created: []model.OfferRecord{rec}}
	if err := e.commit(ctx, cs); err != nil {
		return 0, reject(span, "create_offer", err)
	}

	metrics.OffersCreatedTotal.Inc()
	span.SetAttributes(attribute.Int64("offer_id", int64(id)))
	slog.Info("offer created",
		"offer_id", id,
		"creator", creator,
		"supply", supply,
		"demand", demand,
		"expires_at", rec.Offer.ExpiresAt(),
	)
	e.emit(model.Event{
		Type:     model.EventOfferCreated,
		At:       now,
		Account:  creator,
		OfferIDs: []model.OfferID{id},
	})
	return id, nil
}

// DeleteOffers removes the caller's offers. Authorization is checked over the
// whole batch before anything is removed: one live offer created by someone
// else fails the call. Ids that are not live are ignored. It returns the ids
// actually removed.
func (e *Engine) DeleteOffers(ctx context.Context, caller model.Account, ids []model.OfferID) ([]model.OfferID, error) {
	ctx, span := startSpan(ctx, "DeleteOffers",
		attribute.String("caller", string(caller)),
		attribute.Int64Slice("offer_ids", offerIDInts(ids)),
	)
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	var live []model.OfferID
	for _, id := range normalizeOffers(ids) {
		o, ok := e.tables.Offer(id)
		if !ok {
			continue
		}
		if o.Creator != caller {
			return nil, reject(span, "delete_offer", fmt.Errorf("%w: offer %d", ErrOfferNotCreator, id))
		}
		live = append(live, id)
	}
	cs := e.plan()
	cs.Removed = live
	if cs.Empty() {
		return nil, nil
	}
	if err := e.commit(ctx, cs); err != nil {
		return nil, reject(span, "delete_offer", err)
	}

	metrics.OffersRemovedTotal.WithLabelValues(model.ReasonDeleted).Add(float64(len(live)))
	slog.Info("offers deleted", "caller", caller, "offer_ids", live)
	e.emit(model.Event{
		Type:     model.EventOffersRemoved,
		At:       e.opts.Clock(),
		Account:  caller,
		OfferIDs: live,
		Reason:   model.ReasonDeleted,
	})
	return live, nil
}

// Offer returns a copy of one live offer with its items.
func (e *Engine) Offer(id model.OfferID) (model.OfferRecord, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tables.Record(id)
}

// Offers returns copies of every live offer in ascending id order.
func (e *Engine) Offers() []model.OfferRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := e.tables.OfferIDs()
	out := make([]model.OfferRecord, 0, len(ids))
	for _, id := range ids {
		rec, _ := e.tables.Record(id)
		out = append(out, rec)
	}
	return out
}
