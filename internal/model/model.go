// Package model defines the core domain types shared across the barter engine.
// Assets are opaque, unique and non-divisible; only their custody state is tracked.
package model

import (
	"time"
)

// AssetID identifies one unique asset.
type AssetID string

// Account identifies an owner, an offer creator or the store owner.
type Account string

// OfferID is allocated from a monotonically increasing counter and never reused.
type OfferID uint32

// RegistryEntry records the custody state of one asset.
// An entry with Active set is held in neutral custody on behalf of Owner.
type RegistryEntry struct {
	AssetID AssetID `json:"asset_id" db:"asset_id"`
	Owner   Account `json:"owner" db:"owner"`
	Active  bool    `json:"active" db:"active"`
}

// Offer is an immutable declaration of assets supplied and demanded.
type Offer struct {
	ID        OfferID       `json:"id" db:"id"`
	Creator   Account       `json:"creator" db:"creator"`
	CreatedAt time.Time     `json:"created_at" db:"created_at_ns"`
	ExpiresIn time.Duration `json:"expires_in_ns" db:"expires_in_ns"`
}

// ExpiresAt is CreatedAt + ExpiresIn.
func (o Offer) ExpiresAt() time.Time {
	return o.CreatedAt.Add(o.ExpiresIn)
}

// Expired reports whether created_at + expiration_offset + grace < now.
func (o Offer) Expired(now time.Time, grace time.Duration) bool {
	return o.ExpiresAt().Add(grace).Before(now)
}

// SupplyItem asserts that an offer contributes AssetID to a trade.
type SupplyItem struct {
	OfferID OfferID `json:"offer_id" db:"offer_id"`
	AssetID AssetID `json:"asset_id" db:"asset_id"`
}

// DemandItem asserts that Owner (the offer creator) wants AssetID.
type DemandItem struct {
	OfferID OfferID `json:"offer_id" db:"offer_id"`
	AssetID AssetID `json:"asset_id" db:"asset_id"`
	Owner   Account `json:"owner" db:"owner"`
}

// OfferRecord is an offer row together with its supply and demand items.
type OfferRecord struct {
	Offer  Offer        `json:"offer"`
	Supply []SupplyItem `json:"supply"`
	Demand []DemandItem `json:"demand"`
}

// Clone returns a deep copy so callers cannot alias table rows.
func (r OfferRecord) Clone() OfferRecord {
	return OfferRecord{
		Offer:  r.Offer,
		Supply: append([]SupplyItem(nil), r.Supply...),
		Demand: append([]DemandItem(nil), r.Demand...),
	}
}

// Transfer moves custody of AssetID to NewOwner.
type Transfer struct {
	AssetID  AssetID `json:"asset_id"`
	NewOwner Account `json:"new_owner"`
}

// TradeResult describes one executed closed trade.
type TradeResult struct {
	TradeID    string     `json:"trade_id"`
	OfferIDs   []OfferID  `json:"offer_ids"`
	Transfers  []Transfer `json:"transfers"`
	ExecutedAt time.Time  `json:"executed_at"`
}

// Changeset is the complete effect of one committed operation. It is applied
// in the same order by the in-memory tables and by every Store:
// Reset, Removed (with item cascade), Created, Custody upserts, Counter.
type Changeset struct {
	Counter uint32          `json:"counter"`
	Reset   bool            `json:"reset,omitempty"`
	Removed []OfferID       `json:"removed,omitempty"`
	Created []OfferRecord   `json:"created,omitempty"`
	Custody []RegistryEntry `json:"custody,omitempty"`
}

// Empty reports whether applying the changeset would only rewrite the counter.
func (c *Changeset) Empty() bool {
	return !c.Reset && len(c.Removed) == 0 && len(c.Created) == 0 && len(c.Custody) == 0
}

// Snapshot is the full persisted state.
type Snapshot struct {
	Counter  uint32          `json:"counter"`
	Offers   []OfferRecord   `json:"offers"`
	Registry []RegistryEntry `json:"registry"`
}

// EventType names a committed change.
type EventType string

const (
	EventAssetRegistered EventType = "asset_registered"
	EventAssetRevoked    EventType = "asset_revoked"
	EventOfferCreated    EventType = "offer_created"
	EventOffersRemoved   EventType = "offers_removed"
	EventTradeExecuted   EventType = "trade_executed"
	EventReset           EventType = "reset"
)

// Removal reasons carried by EventOffersRemoved.
const (
	ReasonDeleted = "deleted"
	ReasonExpired = "expired"
	ReasonRevoked = "revoked"
)

// Event is emitted after an operation commits.
type Event struct {
	Type     EventType    `json:"type"`
	At       time.Time    `json:"at"`
	Account  Account      `json:"account,omitempty"`
	AssetID  AssetID      `json:"asset_id,omitempty"`
	OfferIDs []OfferID    `json:"offer_ids,omitempty"`
	Reason   string       `json:"reason,omitempty"`
	Trade    *TradeResult `json:"trade,omitempty"`
}
