package custody

import (
	"context"
	"errors"
	"testing"

	"github.com/atmx/barter-engine/internal/model"
)

func TestVault_LockRelease(t *testing.T) {
	ctx := context.Background()
	v := NewVault()

	if err := v.Lock(ctx, "X", "alice"); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if owner, ok := v.Locked("X"); !ok || owner != "alice" {
		t.Errorf("expected X locked for alice, got %q %v", owner, ok)
	}

	if err := v.Release(ctx, "X", "bob"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, ok := v.Locked("X"); ok {
		t.Error("X should no longer be locked")
	}
	if holder, _ := v.Holder("X"); holder != "bob" {
		t.Errorf("expected bob to hold X, got %q", holder)
	}
}

func TestVault_DoubleLock(t *testing.T) {
	ctx := context.Background()
	v := NewVault()
	v.Lock(ctx, "X", "alice")

	if err := v.Lock(ctx, "X", "alice"); !errors.Is(err, ErrAlreadyLocked) {
		t.Errorf("expected ErrAlreadyLocked, got %v", err)
	}
}

func TestVault_ReleaseNotLocked(t *testing.T) {
	v := NewVault()

	if err := v.Release(context.Background(), "X", "bob"); !errors.Is(err, ErrNotLocked) {
		t.Errorf("expected ErrNotLocked, got %v", err)
	}
}

func TestVault_OnlyHolderRelocks(t *testing.T) {
	ctx := context.Background()
	v := NewVault()
	v.Lock(ctx, "X", "alice")
	v.Release(ctx, "X", "bob")

	if err := v.Lock(ctx, "X", "alice"); !errors.Is(err, ErrNotHolder) {
		t.Errorf("alice no longer holds X, expected ErrNotHolder, got %v", err)
	}
	if err := v.Lock(ctx, "X", "bob"); err != nil {
		t.Errorf("bob holds X and should be able to lock it: %v", err)
	}
}

func TestVault_FailOn(t *testing.T) {
	ctx := context.Background()
	v := NewVault()
	boom := errors.New("boom")
	v.FailOn(func(op string, asset model.AssetID) error {
		if op == OpRelease && asset == "Y" {
			return boom
		}
		return nil
	})

	v.Lock(ctx, "X", "alice")
	v.Lock(ctx, "Y", "bob")

	if err := v.Release(ctx, "X", "bob"); err != nil {
		t.Errorf("X release should succeed: %v", err)
	}
	if err := v.Release(ctx, "Y", "alice"); !errors.Is(err, boom) {
		t.Errorf("expected injected failure, got %v", err)
	}
	if _, ok := v.Locked("Y"); !ok {
		t.Error("failed release must leave Y locked")
	}
}

func TestVault_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := NewVault().Lock(ctx, "X", "alice"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestVault_Restore(t *testing.T) {
	ctx := context.Background()
	v := NewVault()
	v.Lock(ctx, "stale", "mallory")

	v.Restore([]model.RegistryEntry{
		{AssetID: "X", Owner: "alice", Active: true},
		{AssetID: "Y", Owner: "bob", Active: false},
	})

	if _, ok := v.Locked("stale"); ok {
		t.Error("restore should discard previous state")
	}
	if owner, ok := v.Locked("X"); !ok || owner != "alice" {
		t.Errorf("expected X locked for alice, got %q %v", owner, ok)
	}
	if err := v.Release(ctx, "X", "carol"); err != nil {
		t.Errorf("release of restored asset: %v", err)
	}

	if err := v.Lock(ctx, "Y", "alice"); !errors.Is(err, ErrNotHolder) {
		t.Errorf("expected ErrNotHolder for Y, got %v", err)
	}
	if err := v.Lock(ctx, "Y", "bob"); err != nil {
		t.Errorf("holder should be able to lock Y again: %v", err)
	}
}
