/*
ledger.go - Allocation ledger

PURPOSE:
  The Ledger owns allocation rows. It creates an (entity, year) row set on
  first access, seeded from the configured entitlements, and applies
  administrative adjustments through the reconciliation guard.

LAZY CREATION:
  GetOrCreateAllocation is idempotent and safe under concurrency. The
  underlying store inserts missing buckets with an insert-if-absent, so two
  simultaneous first reads for the same key yield one row set and both
  callers observe the same totals. Buckets added to the entitlements after a
  row set was created are filled in on the next access; existing buckets
  are never overwritten.

EXAMPLE:
  Entitlements {sick 10, casual 12}, first access for ("emp-1", 2024):
    sick   {total 10, used 0, remaining 10}
    casual {total 12, used 0, remaining 12}

SEE ALSO:
  - reconcile.go: All bucket writes after creation
  - timeoff/policies.go: Where entitlements come from
*/
package generic

import (
	"context"
	"fmt"
)

// =============================================================================
// LEDGER
// =============================================================================

type Ledger struct {
	Store        AllocationStore
	Entitlements []Entitlement
}

func NewLedger(store AllocationStore, entitlements []Entitlement) *Ledger {
	return &Ledger{Store: store, Entitlements: entitlements}
}

// GetOrCreateAllocation returns key's row set, creating it if absent.
func (l *Ledger) GetOrCreateAllocation(ctx context.Context, key AllocationKey) (AllocationRecord, error) {
	if err := validateKey(key); err != nil {
		return AllocationRecord{}, err
	}

	existing, err := l.Store.LoadAllocation(ctx, key)
	if err != nil {
		return AllocationRecord{}, fmt.Errorf("load allocation %s: %w", key, err)
	}
	if existing != nil && l.complete(*existing) {
		return *existing, nil
	}

	record, err := l.Store.EnsureAllocation(ctx, key, SeedBuckets(l.Entitlements))
	if err != nil {
		return AllocationRecord{}, fmt.Errorf("ensure allocation %s: %w", key, err)
	}
	return record, nil
}

// AdjustAllocation sets total and used for one bucket of key's row set,
// creating the row set first if needed. It returns the bucket before and
// after the change.
func (l *Ledger) AdjustAllocation(ctx context.Context, key AllocationKey, rt ResourceType, total, used Amount, mode OverdrawMode) (Bucket, Bucket, error) {
	record, err := l.GetOrCreateAllocation(ctx, key)
	if err != nil {
		return Bucket{}, Bucket{}, err
	}
	if _, ok := record.Bucket(rt); !ok {
		return Bucket{}, Bucket{}, Invalid("category", "%s is not tracked", rt.ResourceID())
	}
	return NewReconciliationGuard(l.Store).Adjust(ctx, key, rt, total, used, mode)
}

// Tracks reports whether rt has an entitlement.
func (l *Ledger) Tracks(rt ResourceType) bool {
	for _, e := range l.Entitlements {
		if e.ResourceType.ResourceID() == rt.ResourceID() {
			return true
		}
	}
	return false
}

func (l *Ledger) complete(r AllocationRecord) bool {
	for _, e := range l.Entitlements {
		if _, ok := r.Bucket(e.ResourceType); !ok {
			return false
		}
	}
	return true
}

func validateKey(key AllocationKey) error {
	if key.EntityID == "" {
		return Invalid("employee_id", "is required")
	}
	if key.Year < 1 || key.Year > 9999 {
		return Invalid("year", "%d is out of range", key.Year)
	}
	return nil
}
