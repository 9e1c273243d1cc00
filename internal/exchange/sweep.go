package exchange

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/atmx/barter-engine/internal/metrics"
	"github.com/atmx/barter-engine/internal/model"
)

// SweepExpired removes every offer whose created_at + expiration_offset
// (+ Options.SweepGrace) is before now. Only the store owner may sweep.
// It returns the removed ids; sweeping with nothing expired is a no-op.
func (e *Engine) SweepExpired(ctx context.Context, caller model.Account, now time.Time) ([]model.OfferID, error) {
	ctx, span := startSpan(ctx, "SweepExpired", attribute.String("caller", string(caller)))
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.owner {
		return nil, reject(span, "sweep_expired", ErrOfferNotOwner)
	}

	var expired []model.OfferID
	for _, id := range e.tables.OfferIDs() {
		o, _ := e.tables.Offer(id)
		if o.Expired(now, e.opts.SweepGrace) {
			expired = append(expired, id)
		}
	}
	cs := e.plan()
	cs.Removed = expired
	if cs.Empty() {
		return nil, nil
	}
	if err := e.commit(ctx, cs); err != nil {
		return nil, reject(span, "sweep_expired", err)
	}

	metrics.OffersRemovedTotal.WithLabelValues(model.ReasonExpired).Add(float64(len(expired)))
	span.SetAttributes(attribute.Int("removed", len(expired)))
	slog.Info("expired offers swept", "offer_ids", expired, "now", now)
	e.emit(model.Event{
		Type:     model.EventOffersRemoved,
		At:       now,
		Account:  caller,
		OfferIDs: expired,
		Reason:   model.ReasonExpired,
	})
	return expired, nil
}

// ResetAll clears the offer book and the registry. Assets still in custody
// are first released to the accounts they are held for. The id counter is
// kept so ids are never reused. Only the store owner may reset.
func (e *Engine) ResetAll(ctx context.Context, caller model.Account) error {
	ctx, span := startSpan(ctx, "ResetAll", attribute.String("caller", string(caller)))
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.owner {
		return reject(span, "reset_all", ErrOfferNotOwner)
	}

	var refunds []model.Transfer
	for _, entry := range e.tables.Snapshot().Registry {
		if entry.Active {
			refunds = append(refunds, model.Transfer{AssetID: entry.AssetID, NewOwner: entry.Owner})
		}
	}
	removed := e.tables.Len()

	steps, err := e.releaseAll(ctx, "reset_all", refunds)
	if err != nil {
		return reject(span, "reset_all", err)
	}
	cs := e.plan()
	cs.Reset = true
	if err := e.commit(ctx, cs); err != nil {
		if uerr := e.compensate(ctx, "reset_all", steps); uerr != nil {
			err = errors.Join(err, uerr)
		}
		return reject(span, "reset_all", err)
	}

	metrics.OffersRemovedTotal.WithLabelValues("reset").Add(float64(removed))
	slog.Warn("offer book and registry reset",
		"caller", caller,
		"offers_removed", removed,
		"assets_released", len(refunds),
	)
	e.emit(model.Event{
		Type:    model.EventReset,
		At:      e.opts.Clock(),
		Account: caller,
	})
	return nil
}

// Sweeper runs SweepExpired on a fixed interval as the store owner.
type Sweeper struct {
	engine   *Engine
	interval time.Duration
	clock    func() time.Time
}

// NewSweeper creates a sweeper. Run must be called to start it.
func NewSweeper(engine *Engine, interval time.Duration) *Sweeper {
	return &Sweeper{
		engine:   engine,
		interval: interval,
		clock:    engine.opts.Clock,
	}
}

// Run sweeps every interval until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) {
	slog.Info("expiration sweeper started", "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("expiration sweeper stopped")
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce performs a single sweep and logs failures.
func (s *Sweeper) SweepOnce(ctx context.Context) []model.OfferID {
	removed, err := s.engine.SweepExpired(ctx, s.engine.Owner(), s.clock())
	if err != nil {
		slog.Error("expiration sweep failed", "err", err)
		return nil
	}
	return removed
}
