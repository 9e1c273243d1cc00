package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/atmx/barter-engine/internal/metrics"
	"github.com/atmx/barter-engine/internal/model"
)

// MatchMode selects how the supplied assets of a trade are checked against
// the demanded ones.
type MatchMode int

const (
	// MatchExistential accepts a trade when supply and demand have the same
	// number of items and every supplied asset appears somewhere among the
	// demanded assets. One demand entry may cover several supply entries.
	MatchExistential MatchMode = iota

	// MatchBijective accepts a trade only when the supplied and demanded
	// assets are equal as multisets.
	MatchBijective
)

func (m MatchMode) String() string {
	switch m {
	case MatchExistential:
		return "existential"
	case MatchBijective:
		return "bijective"
	}
	return fmt.Sprintf("MatchMode(%d)", int(m))
}

// ParseMatchMode parses "existential" or "bijective". Empty means existential.
func ParseMatchMode(s string) (MatchMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "existential":
		return MatchExistential, nil
	case "bijective", "strict":
		return MatchBijective, nil
	}
	return 0, fmt.Errorf("exchange: unknown match mode %q", s)
}

// validateMatch checks the cardinality and pairing rules for mode.
func validateMatch(mode MatchMode, supply []model.SupplyItem, demand []model.DemandItem) error {
	if len(supply) != len(demand) {
		return fmt.Errorf("%w: %d supplied, %d demanded", ErrTradeNotValid, len(supply), len(demand))
	}

	demanded := make(map[model.AssetID]int, len(demand))
	for _, d := range demand {
		demanded[d.AssetID]++
	}

	switch mode {
	case MatchBijective:
		for _, s := range supply {
			if demanded[s.AssetID] == 0 {
				return fmt.Errorf("%w: %s supplied but not demanded", ErrTradeNotValid, s.AssetID)
			}
			demanded[s.AssetID]--
		}
	default:
		for _, s := range supply {
			if demanded[s.AssetID] == 0 {
				return fmt.Errorf("%w: %s supplied but not demanded", ErrTradeNotValid, s.AssetID)
			}
		}
	}
	return nil
}

// ExecuteTrade settles a set of offers as one closed trade:
//
//  1. every requested offer must be live with created_at + expiration_offset >= now
//  2. their supply and demand items are collected
//  3. the item counts must match
//  4. supplied assets must be covered by demanded assets (see MatchMode)
//  5. each distinct demanded asset is released to the demanding creator
//  6. the requested offers, and any other offer naming a traded asset, are removed
//
// Steps 5 and 6 are all-or-nothing.
func (e *Engine) ExecuteTrade(ctx context.Context, ids []model.OfferID, now time.Time) (*model.TradeResult, error) {
	start := time.Now()
	ctx, span := startSpan(ctx, "ExecuteTrade", attribute.Int64Slice("offer_ids", offerIDInts(ids)))
	defer span.End()

	result, err := e.executeTrade(ctx, ids, now)
	if err != nil {
		metrics.TradesTotal.WithLabelValues("rejected").Inc()
		return nil, reject(span, "execute_trade", err)
	}

	metrics.TradesTotal.WithLabelValues("executed").Inc()
	metrics.TransfersTotal.Add(float64(len(result.Transfers)))
	metrics.TradeLatency.Observe(time.Since(start).Seconds())
	span.SetAttributes(attribute.String("trade_id", result.TradeID))
	return result, nil
}

func (e *Engine) executeTrade(ctx context.Context, ids []model.OfferID, now time.Time) (*model.TradeResult, error) {
	ids = normalizeOffers(ids)
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no offers requested", ErrTradeNotValid)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// 1. Existence and expiry over the whole batch.
	for _, id := range ids {
		o, ok := e.tables.Offer(id)
		if !ok || o.Expired(now, 0) {
			return nil, fmt.Errorf("%w: offer %d", ErrOfferExpiredOrNotFound, id)
		}
	}

	// 2. Collection.
	var supply []model.SupplyItem
	var demand []model.DemandItem
	for _, id := range ids {
		supply = append(supply, e.tables.SupplyOf(id)...)
		demand = append(demand, e.tables.DemandOf(id)...)
	}

	// 3-4. Cardinality and matching.
	if err := validateMatch(e.opts.Match, supply, demand); err != nil {
		return nil, err
	}

	// 5. One transfer per distinct demanded asset, first demander wins.
	seen := make(map[model.AssetID]bool, len(demand))
	transfers := make([]model.Transfer, 0, len(demand))
	for _, d := range demand {
		if seen[d.AssetID] {
			continue
		}
		seen[d.AssetID] = true
		transfers = append(transfers, model.Transfer{AssetID: d.AssetID, NewOwner: d.Owner})
	}

	// 6. Requested offers plus every other offer naming an asset that is
	// leaving custody.
	removed := slices.Clone(ids)
	for _, t := range transfers {
		removed = append(removed, e.tables.OffersReferencing(t.AssetID)...)
	}
	removed = normalizeOffers(removed)

	cs := e.plan()
	cs.Removed = removed
	for _, t := range transfers {
		cs.Custody = append(cs.Custody, model.RegistryEntry{AssetID: t.AssetID, Owner: t.NewOwner, Active: false})
	}

	steps, err := e.releaseAll(ctx, "execute_trade", transfers)
	if err != nil {
		return nil, err
	}
	if err := e.commit(ctx, cs); err != nil {
		if uerr := e.compensate(ctx, "execute_trade", steps); uerr != nil {
			err = errors.Join(err, uerr)
		}
		return nil, err
	}

	result := &model.TradeResult{
		TradeID:    uuid.New().String(),
		OfferIDs:   ids,
		Transfers:  transfers,
		ExecutedAt: now,
	}

	metrics.OffersRemovedTotal.WithLabelValues("traded").Add(float64(len(removed)))
	slog.Info("trade executed",
		"trade_id", result.TradeID,
		"offer_ids", ids,
		"transfers", len(transfers),
		"offers_removed", removed,
		"match_mode", e.opts.Match.String(),
	)
	e.emit(model.Event{
		Type:     model.EventTradeExecuted,
		At:       now,
		OfferIDs: removed,
		Trade:    result,
	})
	return result, nil
}
