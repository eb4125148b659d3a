package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/Deng123666/e-commerce/internal/lease"
	"github.com/Deng123666/e-commerce/internal/metrics"
)

// LeaseInfo describes a lease as seen by operational tooling.
type LeaseInfo struct {
	Key   string        `json:"key"`
	Held  bool          `json:"held"`
	Owner string        `json:"owner,omitempty"`
	TTL   time.Duration `json:"ttl"`
}

// Inspect reports who holds the lease at key and for how long.
func Inspect(ctx context.Context, store lease.Store, key string) (*LeaseInfo, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	owner, ok, err := store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", key, err)
	}
	if !ok {
		return &LeaseInfo{Key: key}, nil
	}

	ttl, err := store.TTL(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", key, err)
	}

	return &LeaseInfo{Key: key, Held: true, Owner: owner, TTL: ttl}, nil
}

// Evict force-removes a stuck lease. It deletes only the owner it observed, so
// a lease re-acquired in between by a new holder survives.
func Evict(ctx context.Context, store lease.Store, key string) (bool, error) {
	if err := ValidateKey(key); err != nil {
		return false, err
	}

	owner, ok, err := store.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("evict %s: %w", key, err)
	}
	if !ok {
		return false, nil
	}

	deleted, err := store.CompareAndDelete(ctx, key, owner)
	if err != nil {
		return false, fmt.Errorf("evict %s: %w", key, err)
	}
	if deleted {
		metrics.RecordLeaseEviction()
	}
	return deleted, nil
}
