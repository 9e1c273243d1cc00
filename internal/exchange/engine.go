// Package exchange implements the barter engine: the custody registry, the
// offer book with its supply and demand indexes, the expiration sweeper and
// the trade matcher.
//
// Every mutating call is one transaction. The engine checks preconditions and
// plans a model.Changeset against the current tables, performs custody
// effects, hands the changeset to the Committer, and only then applies it to
// the in-memory tables. Applying cannot fail, so it is the single commit
// point: a call that returns an error has changed nothing, and custody
// effects performed before the failure are compensated in reverse order.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/atmx/barter-engine/internal/book"
	"github.com/atmx/barter-engine/internal/limits"
	"github.com/atmx/barter-engine/internal/metrics"
	"github.com/atmx/barter-engine/internal/model"
)

var tracer = otel.Tracer("github.com/atmx/barter-engine/internal/exchange")

// CustodyPort moves assets in and out of neutral custody. Any error it
// returns aborts the enclosing operation.
type CustodyPort interface {
	// Lock places asset into custody on behalf of owner.
	Lock(ctx context.Context, asset model.AssetID, owner model.Account) error

	// Release returns a custodied asset directly to newOwner.
	Release(ctx context.Context, asset model.AssetID, newOwner model.Account) error
}

// CustodyRestorer is implemented by custody adapters that keep their own
// state. Engine.Restore hands them the persisted registry so that custody
// and registry agree after a restart.
type CustodyRestorer interface {
	Restore(entries []model.RegistryEntry)
}

// Committer persists a planned changeset. The engine applies the changeset
// to memory only after Commit returns nil.
type Committer interface {
	Commit(ctx context.Context, cs *model.Changeset) error
}

// Observer is notified after every committed operation.
type Observer interface {
	Observe(ev model.Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ev model.Event)

func (f ObserverFunc) Observe(ev model.Event) { f(ev) }

// Options tune engine behavior. The zero value gives the canonical rules:
// no sweep grace, existential matching, no supply ownership check, no limits.
type Options struct {
	// SweepGrace is added to every offer's expiration when sweeping.
	SweepGrace time.Duration

	// Match selects how supplied and demanded assets are paired.
	Match MatchMode

	// RequireSupplyOwnership makes CreateOffer refuse supplied assets that
	// are held in custody for an account other than the creator.
	RequireSupplyOwnership bool

	// Limiter bounds the offer book; nil means unlimited.
	Limiter *limits.Limiter

	// Clock stamps events for operations that take no explicit time.
	Clock func() time.Time
}

// Engine is the single writer over the offer book and custody registry.
// Calls are admitted one at a time and run to completion.
type Engine struct {
	mu        sync.Mutex
	tables    *book.Tables
	owner     model.Account
	custody   CustodyPort
	committer Committer
	opts      Options
	observers []Observer
}

// New creates an engine owned by owner. committer may be nil, in which case
// state lives only in memory.
func New(owner model.Account, custody CustodyPort, committer Committer, opts Options) (*Engine, error) {
	if owner == "" {
		return nil, errors.New("exchange: store owner is required")
	}
	if custody == nil {
		return nil, errors.New("exchange: custody port is required")
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}
	return &Engine{
		tables:    book.New(),
		owner:     owner,
		custody:   custody,
		committer: committer,
		opts:      opts,
	}, nil
}

// Owner returns the store owner account.
func (e *Engine) Owner() model.Account { return e.owner }

// Subscribe registers an observer. Observers run synchronously after commit
// and must not call back into the engine.
func (e *Engine) Subscribe(o Observer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observers = append(e.observers, o)
}

// Restore replaces the engine state with a persisted snapshot. A custody
// port implementing CustodyRestorer is reloaded from the snapshot registry.
func (e *Engine) Restore(snap *model.Snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tables.Restore(snap)
	if r, ok := e.custody.(CustodyRestorer); ok {
		r.Restore(snap.Registry)
	}
	e.updateGauges()
	slog.Info("engine state restored",
		"offers", e.tables.Len(),
		"counter", e.tables.Counter(),
		"registry_entries", len(snap.Registry),
	)
}

// Snapshot returns a deep copy of every table.
func (e *Engine) Snapshot() *model.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tables.Snapshot()
}

// --- commit path ---

// commit persists cs and applies it to memory. On error nothing is applied.
func (e *Engine) commit(ctx context.Context, cs *model.Changeset) error {
	if e.committer != nil {
		if err := e.committer.Commit(ctx, cs); err != nil {
			return fmt.Errorf("%w: %w", ErrCommit, err)
		}
	}
	e.tables.Apply(cs)
	e.updateGauges()
	return nil
}

func (e *Engine) updateGauges() {
	metrics.LiveOffers.Set(float64(e.tables.Len()))
	metrics.CustodyActive.Set(float64(e.tables.ActiveCount()))
}

func (e *Engine) emit(ev model.Event) {
	for _, o := range e.observers {
		o.Observe(ev)
	}
}

// plan starts a changeset that keeps the counter where it is.
func (e *Engine) plan() *model.Changeset {
	return &model.Changeset{Counter: e.tables.Counter()}
}

// --- custody compensation ---

// custodyStep is one performed custody call and the call that undoes it.
type custodyStep struct {
	asset model.AssetID
	undo  func(ctx context.Context) error
}

// compensate undoes performed steps in reverse order. The context is
// detached from cancellation so a canceled request still gets its undo.
func (e *Engine) compensate(ctx context.Context, op string, steps []custodyStep) error {
	ctx = context.WithoutCancel(ctx)
	var errs []error
	for i := len(steps) - 1; i >= 0; i-- {
		if err := steps[i].undo(ctx); err != nil {
			metrics.CompensationsTotal.WithLabelValues("failed").Inc()
			slog.Error("custody compensation failed",
				"op", op,
				"asset", steps[i].asset,
				"err", err,
			)
			errs = append(errs, fmt.Errorf("undo %s: %w", steps[i].asset, err))
			continue
		}
		metrics.CompensationsTotal.WithLabelValues("ok").Inc()
	}
	return errors.Join(errs...)
}

// releaseAll releases each asset to its recipient in order. If a release
// fails, the ones already performed are re-locked for their recipients and
// the error is returned wrapped in ErrCustody.
func (e *Engine) releaseAll(ctx context.Context, op string, transfers []model.Transfer) ([]custodyStep, error) {
	steps := make([]custodyStep, 0, len(transfers))
	for _, t := range transfers {
		if err := e.custody.Release(ctx, t.AssetID, t.NewOwner); err != nil {
			cerr := fmt.Errorf("%w: release %s to %s: %w", ErrCustody, t.AssetID, t.NewOwner, err)
			if uerr := e.compensate(ctx, op, steps); uerr != nil {
				cerr = errors.Join(cerr, uerr)
			}
			return nil, cerr
		}
		steps = append(steps, custodyStep{
			asset: t.AssetID,
			undo: func(ctx context.Context) error {
				return e.custody.Lock(ctx, t.AssetID, t.NewOwner)
			},
		})
	}
	return steps, nil
}

// --- helpers ---

// reject records a refused operation and passes err through.
func reject(span trace.Span, op string, err error) error {
	metrics.RejectionsTotal.WithLabelValues(op, reasonOf(err)).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func reasonOf(err error) string {
	switch {
	case errors.Is(err, ErrOfferNotCreator):
		return "offer_not_creator"
	case errors.Is(err, ErrOfferNotOwner):
		return "offer_not_owner"
	case errors.Is(err, ErrNotOwner):
		return "not_owner"
	case errors.Is(err, ErrSupplyNotOwned):
		return "supply_not_owned"
	case errors.Is(err, ErrAssetNotFound):
		return "asset_not_found"
	case errors.Is(err, ErrAssetAlreadyActive):
		return "asset_already_active"
	case errors.Is(err, ErrAssetNotActive):
		return "asset_not_active"
	case errors.Is(err, ErrEmptySet):
		return "empty_set"
	case errors.Is(err, ErrOfferExpiredOrNotFound):
		return "offer_expired_or_not_found"
	case errors.Is(err, ErrTradeNotValid):
		return "trade_not_valid"
	case errors.Is(err, ErrCounterOverflow):
		return "counter_overflow"
	case errors.Is(err, ErrCapacityExceeded):
		return "capacity_exceeded"
	case errors.Is(err, ErrCustody):
		return "custody"
	case errors.Is(err, ErrCommit):
		return "commit"
	}
	return "other"
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, "exchange."+name, trace.WithAttributes(attrs...))
}

// normalizeAssets turns a list into a sorted set.
func normalizeAssets(ids []model.AssetID) []model.AssetID {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}

// normalizeOffers turns a list into a sorted set.
func normalizeOffers(ids []model.OfferID) []model.OfferID {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}

func offerIDInts(ids []model.OfferID) []int64 {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}
