// Package custody provides an in-process custody adapter for the exchange
// engine. It implements the lock/release port: Lock places an asset into
// neutral custody, Release hands it directly to a new owner.
package custody

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/atmx/barter-engine/internal/model"
)

// Operation names passed to a FailFunc.
const (
	OpLock    = "lock"
	OpRelease = "release"
)

var (
	ErrAlreadyLocked = errors.New("custody: asset already in custody")
	ErrNotLocked     = errors.New("custody: asset not in custody")
	ErrNotHolder     = errors.New("custody: account does not hold asset")
)

// FailFunc lets tests inject a failure for a given operation and asset.
type FailFunc func(op string, asset model.AssetID) error

// Vault tracks which assets are locked and who holds each asset outside of
// custody. An asset the vault has never seen may be locked by anyone; after
// a release only the recipient may lock it again.
type Vault struct {
	mu      sync.Mutex
	locked  map[model.AssetID]model.Account // in custody, on behalf of
	holders map[model.AssetID]model.Account // out of custody, held by
	failOn  FailFunc
}

// NewVault creates an empty vault.
func NewVault() *Vault {
	return &Vault{
		locked:  make(map[model.AssetID]model.Account),
		holders: make(map[model.AssetID]model.Account),
	}
}

// FailOn installs a fault injector. Pass nil to clear it.
func (v *Vault) FailOn(fn FailFunc) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.failOn = fn
}

// Lock moves asset from owner into custody.
func (v *Vault) Lock(ctx context.Context, asset model.AssetID, owner model.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.failOn != nil {
		if err := v.failOn(OpLock, asset); err != nil {
			return err
		}
	}
	if _, ok := v.locked[asset]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyLocked, asset)
	}
	if holder, ok := v.holders[asset]; ok && holder != owner {
		return fmt.Errorf("%w: %s is held by %s", ErrNotHolder, asset, holder)
	}

	delete(v.holders, asset)
	v.locked[asset] = owner
	slog.Debug("custody locked", "asset", asset, "owner", owner)
	return nil
}

// Release hands a custodied asset directly to newOwner.
func (v *Vault) Release(ctx context.Context, asset model.AssetID, newOwner model.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.failOn != nil {
		if err := v.failOn(OpRelease, asset); err != nil {
			return err
		}
	}
	if _, ok := v.locked[asset]; !ok {
		return fmt.Errorf("%w: %s", ErrNotLocked, asset)
	}

	delete(v.locked, asset)
	v.holders[asset] = newOwner
	slog.Debug("custody released", "asset", asset, "new_owner", newOwner)
	return nil
}

// Restore replaces the vault state with a persisted registry. Active entries
// are locked on behalf of their owner; inactive entries are held by it.
func (v *Vault) Restore(entries []model.RegistryEntry) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.locked = make(map[model.AssetID]model.Account, len(entries))
	v.holders = make(map[model.AssetID]model.Account, len(entries))
	for _, e := range entries {
		if e.Active {
			v.locked[e.AssetID] = e.Owner
		} else {
			v.holders[e.AssetID] = e.Owner
		}
	}
	slog.Info("custody restored", "locked", len(v.locked), "held", len(v.holders))
}

// Locked reports whether asset is in custody and on whose behalf.
func (v *Vault) Locked(asset model.AssetID) (model.Account, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	owner, ok := v.locked[asset]
	return owner, ok
}

// Holder reports who holds asset outside of custody, if known.
func (v *Vault) Holder(asset model.AssetID) (model.Account, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	holder, ok := v.holders[asset]
	return holder, ok
}

