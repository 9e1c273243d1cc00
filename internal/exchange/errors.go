package exchange

import (
	"errors"
	"fmt"
)

var (
	// ErrNotAuthorized is the category of every creator/owner mismatch.
	// Match it with errors.Is to handle all authorization failures at once.
	ErrNotAuthorized = errors.New("exchange: not authorized")

	// ErrOfferNotCreator is returned when a caller deletes an offer it did not create.
	ErrOfferNotCreator = fmt.Errorf("%w: caller is not the offer creator", ErrNotAuthorized)

	// ErrOfferNotOwner is returned when a privileged operation is called by
	// anyone other than the store owner.
	ErrOfferNotOwner = fmt.Errorf("%w: caller is not the store owner", ErrNotAuthorized)

	// ErrNotOwner is returned when an asset is revoked by someone other than
	// the account it is held for.
	ErrNotOwner = fmt.Errorf("%w: caller does not own the asset", ErrNotAuthorized)

	// ErrSupplyNotOwned is returned by CreateOffer, when supply ownership is
	// enforced, for a supplied asset held in custody for someone else.
	ErrSupplyNotOwned = fmt.Errorf("%w: supplied asset is held for another account", ErrNotAuthorized)

	ErrAssetNotFound      = errors.New("exchange: asset not in custody")
	ErrAssetAlreadyActive = errors.New("exchange: asset already in custody")
	ErrAssetNotActive     = errors.New("exchange: asset not active")

	ErrEmptySet               = errors.New("exchange: supply and demand sets must not be empty")
	ErrOfferExpiredOrNotFound = errors.New("exchange: offer does not exist or has expired")
	ErrTradeNotValid          = errors.New("exchange: offers do not form a closed trade")
	ErrCounterOverflow        = errors.New("exchange: offer id counter exhausted")
	ErrCapacityExceeded       = errors.New("exchange: capacity exceeded")

	// ErrCustody wraps a failure reported by the custody port.
	ErrCustody = errors.New("exchange: custody transfer failed")

	// ErrCommit wraps a failure reported by the persistence layer.
	ErrCommit = errors.New("exchange: commit failed")
)
