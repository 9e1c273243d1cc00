package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/atmx/barter-engine/internal/metrics"
)

// DefaultMaxRetries is the number of failed publications after which a
// record is parked as FAILED.
const DefaultMaxRetries = 10

// Relay drains NEW outbox records to a Publisher.
type Relay struct {
	outbox     *Outbox
	pub        Publisher
	interval   time.Duration
	maxRetries uint32
}

// NewRelay creates a relay. Run must be called to start it.
func NewRelay(o *Outbox, pub Publisher, interval time.Duration) *Relay {
	return &Relay{
		outbox:     o,
		pub:        pub,
		interval:   interval,
		maxRetries: DefaultMaxRetries,
	}
}

// Run drains the outbox every interval until ctx is canceled.
func (r *Relay) Run(ctx context.Context) {
	slog.Info("outbox relay started", "interval", r.interval)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("outbox relay stopped")
			return
		case <-ticker.C:
			if _, err := r.Drain(ctx); err != nil {
				slog.Error("outbox drain failed", "err", err)
			}
		}
	}
}

type pending struct {
	seq uint64
	rec Record
}

// Drain publishes every NEW record once, in sequence order, and returns how
// many were acknowledged. A record whose publication fails goes back to NEW
// with its retry count raised, or to FAILED once retries are exhausted.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	var batch []pending
	err := r.outbox.ScanByState(StateNew, func(seq uint64, rec Record) error {
		batch = append(batch, pending{seq: seq, rec: rec})
		return nil
	})
	if err != nil {
		return 0, err
	}

	acked := 0
	for _, p := range batch {
		if err := ctx.Err(); err != nil {
			return acked, err
		}
		if err := r.outbox.UpdateState(p.seq, StateSent, p.rec.Retries); err != nil {
			return acked, err
		}

		key := []byte(fmt.Sprintf("%020d", p.seq))
		if err := r.pub.Publish(ctx, key, p.rec.Payload); err != nil {
			retries := p.rec.Retries + 1
			next := StateNew
			if retries >= r.maxRetries {
				next = StateFailed
			}
			metrics.OutboxPublishedTotal.WithLabelValues("error").Inc()
			slog.Warn("outbox publish failed",
				"seq", p.seq,
				"retries", retries,
				"state", next.String(),
				"err", err,
			)
			if uerr := r.outbox.UpdateState(p.seq, next, retries); uerr != nil {
				return acked, uerr
			}
			continue
		}

		if err := r.outbox.UpdateState(p.seq, StateAcked, p.rec.Retries); err != nil {
			return acked, err
		}
		if err := r.outbox.Delete(p.seq); err != nil {
			return acked, err
		}
		metrics.OutboxPublishedTotal.WithLabelValues("ok").Inc()
		metrics.OutboxPending.Dec()
		acked++
	}
	return acked, nil
}
