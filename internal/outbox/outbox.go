// Package outbox makes committed engine events durable and relays them to a
// message broker. Events are appended to a local Pebble store in the same
// call that observes the commit; the Relay drains them to a Publisher and
// records delivery state, giving at-least-once publication.
package outbox

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/atmx/barter-engine/internal/metrics"
	"github.com/atmx/barter-engine/internal/model"
)

// -------------------- State --------------------

// State is the delivery state of one outbox record.
type State uint8

const (
	StateNew State = iota
	StateSent
	StateAcked
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateSent:
		return "SENT"
	case StateAcked:
		return "ACKED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// -------------------- Message --------------------

// MessageVersion is the payload schema version.
const MessageVersion = 1

// Message is the broker payload for one committed event.
type Message struct {
	V         int              `json:"v"`
	Seq       uint64           `json:"seq"`
	Type      model.EventType  `json:"type"`
	At        time.Time        `json:"at"`
	Account   model.Account    `json:"account,omitempty"`
	AssetID   model.AssetID    `json:"asset_id,omitempty"`
	OfferIDs  []model.OfferID  `json:"offer_ids,omitempty"`
	Reason    string           `json:"reason,omitempty"`
	TradeID   string           `json:"trade_id,omitempty"`
	Transfers []model.Transfer `json:"transfers,omitempty"`
}

// NewMessage flattens an engine event into a broker payload.
func NewMessage(seq uint64, ev model.Event) Message {
	m := Message{
		V:        MessageVersion,
		Seq:      seq,
		Type:     ev.Type,
		At:       ev.At,
		Account:  ev.Account,
		AssetID:  ev.AssetID,
		OfferIDs: ev.OfferIDs,
		Reason:   ev.Reason,
	}
	if ev.Trade != nil {
		m.TradeID = ev.Trade.TradeID
		m.Transfers = ev.Trade.Transfers
	}
	return m
}

// -------------------- Record --------------------

// Record is one stored outbox entry.
type Record struct {
	State       State
	Retries     uint32
	LastAttempt int64
	Payload     []byte
}

const headerLen = 1 + 4 + 8

// binary encoding: [state:1][retries:4][lastAttempt:8][payload...]
func encodeRecord(r Record) []byte {
	buf := make([]byte, headerLen+len(r.Payload))
	buf[0] = byte(r.State)
	binary.BigEndian.PutUint32(buf[1:5], r.Retries)
	binary.BigEndian.PutUint64(buf[5:13], uint64(r.LastAttempt))
	copy(buf[headerLen:], r.Payload)
	return buf
}

func decodeRecord(b []byte) (Record, error) {
	if len(b) < headerLen {
		return Record{}, errors.New("outbox: invalid record length")
	}
	return Record{
		State:       State(b[0]),
		Retries:     binary.BigEndian.Uint32(b[1:5]),
		LastAttempt: int64(binary.BigEndian.Uint64(b[5:13])),
		Payload:     append([]byte(nil), b[headerLen:]...),
	}, nil
}

// -------------------- Outbox --------------------

// Outbox is a Pebble-backed, sequence-keyed event log.
type Outbox struct {
	db  *pebble.DB
	mu  sync.Mutex
	seq uint64
}

// Open opens the outbox in dir. Records left SENT by a previous process are
// returned to NEW so they are published again.
func Open(dir string) (*Outbox, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("outbox: open %s: %w", dir, err)
	}
	o := &Outbox{db: db}
	if err := o.recover(); err != nil {
		db.Close()
		return nil, err
	}
	return o, nil
}

// Close closes the underlying store.
func (o *Outbox) Close() error {
	return o.db.Close()
}

func (o *Outbox) recover() error {
	val, closer, err := o.db.Get([]byte(seqKey))
	switch {
	case err == nil:
		if len(val) == 8 {
			o.seq = binary.BigEndian.Uint64(val)
		}
		closer.Close()
	case !errors.Is(err, pebble.ErrNotFound):
		return fmt.Errorf("outbox: read sequence: %w", err)
	}

	var requeue []uint64
	err = o.scan(func(seq uint64, rec Record) error {
		o.seq = max(o.seq, seq)
		if rec.State == StateSent {
			requeue = append(requeue, seq)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("outbox: recover: %w", err)
	}
	for _, seq := range requeue {
		rec, err := o.Get(seq)
		if err != nil {
			return err
		}
		if err := o.UpdateState(seq, StateNew, rec.Retries); err != nil {
			return err
		}
	}
	if len(requeue) > 0 {
		slog.Warn("outbox requeued unacknowledged events", "count", len(requeue))
	}
	o.refreshGauge()
	return nil
}

// Append stores ev as a NEW record and returns its sequence number.
func (o *Outbox) Append(ev model.Event) (uint64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	seq := o.seq + 1
	payload, err := json.Marshal(NewMessage(seq, ev))
	if err != nil {
		return 0, fmt.Errorf("outbox: encode event: %w", err)
	}
	var seqBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], seq)

	b := o.db.NewBatch()
	defer b.Close()
	if err := b.Set(keyFor(seq), encodeRecord(Record{State: StateNew, Payload: payload}), nil); err != nil {
		return 0, fmt.Errorf("outbox: append: %w", err)
	}
	if err := b.Set([]byte(seqKey), seqBuf[:], nil); err != nil {
		return 0, fmt.Errorf("outbox: append: %w", err)
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return 0, fmt.Errorf("outbox: append: %w", err)
	}
	o.seq = seq
	metrics.OutboxPending.Inc()
	return seq, nil
}

// Observe appends every committed engine event. Failures are logged; the
// engine commit has already happened and cannot be undone.
func (o *Outbox) Observe(ev model.Event) {
	if _, err := o.Append(ev); err != nil {
		slog.Error("outbox append failed", "type", ev.Type, "err", err)
	}
}

// UpdateState rewrites the state of one record, keeping its payload.
func (o *Outbox) UpdateState(seq uint64, state State, retries uint32) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	rec, err := o.get(seq)
	if err != nil {
		return err
	}
	rec.State = state
	rec.Retries = retries
	rec.LastAttempt = time.Now().UnixNano()
	return o.db.Set(keyFor(seq), encodeRecord(rec), pebble.Sync)
}

// Delete removes an acknowledged record.
func (o *Outbox) Delete(seq uint64) error {
	if err := o.db.Delete(keyFor(seq), pebble.Sync); err != nil {
		return fmt.Errorf("outbox: delete %d: %w", seq, err)
	}
	return nil
}

// Get returns the current record for seq.
func (o *Outbox) Get(seq uint64) (Record, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.get(seq)
}

func (o *Outbox) get(seq uint64) (Record, error) {
	val, closer, err := o.db.Get(keyFor(seq))
	if err != nil {
		return Record{}, fmt.Errorf("outbox: get %d: %w", seq, err)
	}
	defer closer.Close()
	return decodeRecord(val)
}

// -------------------- Scan --------------------

// ScanByState calls fn for every record in state, in sequence order.
func (o *Outbox) ScanByState(state State, fn func(seq uint64, rec Record) error) error {
	return o.scan(func(seq uint64, rec Record) error {
		if rec.State != state {
			return nil
		}
		return fn(seq, rec)
	})
}

// Pending returns the number of records not yet acknowledged.
func (o *Outbox) Pending() (int, error) {
	n := 0
	err := o.scan(func(_ uint64, rec Record) error {
		if rec.State != StateAcked {
			n++
		}
		return nil
	})
	return n, err
}

func (o *Outbox) scan(fn func(seq uint64, rec Record) error) error {
	iter, err := o.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte(keyPrefix + "~"),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		rec, err := decodeRecord(iter.Value())
		if err != nil {
			return err
		}
		seq, err := parseKey(iter.Key())
		if err != nil {
			return err
		}
		if err := fn(seq, rec); err != nil {
			return err
		}
	}
	return iter.Error()
}

func (o *Outbox) refreshGauge() {
	if n, err := o.Pending(); err == nil {
		metrics.OutboxPending.Set(float64(n))
	}
}

// -------------------- Helpers --------------------

const (
	keyPrefix = "event/"
	seqKey    = "meta/seq"
)

func keyFor(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", keyPrefix, seq))
}

func parseKey(b []byte) (uint64, error) {
	var seq uint64
	_, err := fmt.Sscanf(string(bytes.TrimPrefix(b, []byte(keyPrefix))), "%d", &seq)
	return seq, err
}
