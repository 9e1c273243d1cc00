// Package limits enforces table capacity limits on the offer book.
//
// Custody tables are bounded: an unbounded offer table lets a single creator
// crowd out everyone else and makes every cascade scan arbitrarily long.
// The limiter checks a proposed offer against three independent bounds.
package limits

import (
	"errors"
)

var (
	// ErrTableFull is returned when the offer table already holds MaxOffers
	// live offers.
	ErrTableFull = errors.New("limits: offer table is full")

	// ErrTooManyItems is returned when an offer names more than
	// MaxItemsPerOffer assets on either side.
	ErrTooManyItems = errors.New("limits: too many assets in offer")

	// ErrCreatorLimit is returned when a creator already has
	// MaxOffersPerCreator live offers.
	ErrCreatorLimit = errors.New("limits: creator offer limit reached")
)

// Limiter bounds the offer book. A zero value for any field disables that bound.
type Limiter struct {
	// MaxOffers is the maximum number of live offers in the store.
	MaxOffers int

	// MaxItemsPerOffer caps the supply set and the demand set separately.
	MaxItemsPerOffer int

	// MaxOffersPerCreator is the maximum number of live offers one
	// creator may hold at a time.
	MaxOffersPerCreator int
}

// NewLimiter creates a limiter. Negative values are treated as unlimited.
func NewLimiter(maxOffers, maxItemsPerOffer, maxOffersPerCreator int) *Limiter {
	return &Limiter{
		MaxOffers:           max(maxOffers, 0),
		MaxItemsPerOffer:    max(maxItemsPerOffer, 0),
		MaxOffersPerCreator: max(maxOffersPerCreator, 0),
	}
}

// CheckOffer validates whether a new offer fits.
//
// Parameters:
//   - liveOffers: number of offers currently in the table
//   - creatorOffers: number of live offers held by the new offer's creator
//   - supplyLen, demandLen: sizes of the de-duplicated supply and demand sets
//
// Returns nil if the offer is within limits. A nil Limiter allows everything.
func (l *Limiter) CheckOffer(liveOffers, creatorOffers, supplyLen, demandLen int) error {
	if l == nil {
		return nil
	}

	// 1. Per-offer size.
	if l.MaxItemsPerOffer > 0 && (supplyLen > l.MaxItemsPerOffer || demandLen > l.MaxItemsPerOffer) {
		return ErrTooManyItems
	}

	// 2. Table capacity.
	if l.MaxOffers > 0 && liveOffers >= l.MaxOffers {
		return ErrTableFull
	}

	// 3. Per-creator share.
	if l.MaxOffersPerCreator > 0 && creatorOffers >= l.MaxOffersPerCreator {
		return ErrCreatorLimit
	}

	return nil
}
