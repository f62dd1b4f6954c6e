/*
reconcile.go - The reconciliation guard

PURPOSE:
  The only code path that writes a bucket. Each write is read, compute,
  compare-and-swap: the new bucket is persisted only if the stored version
  is still the one that was read. A lost race surfaces as
  ErrConcurrencyConflict and nothing is written.

EXAMPLE:
  Two approvals of 4 days race against remaining 5. Both read version 3.
  The first writes version 4 (remaining 1). The second CAS expects version
  3, matches zero rows and returns ErrConcurrencyConflict.

OPERATIONS:
  Deduct: used += amount, remaining -= amount, if remaining covers it
  Adjust: administrative reset of total and used

SEE ALSO:
  - allocation.go: The pure arithmetic
  - ledger.go: Lazy creation before first use
*/
package generic

import (
	"context"
	"fmt"
)

// =============================================================================
// RECONCILIATION GUARD
// =============================================================================

type ReconciliationGuard struct {
	Store AllocationStore
}

func NewReconciliationGuard(store AllocationStore) *ReconciliationGuard {
	return &ReconciliationGuard{Store: store}
}

// Deduct atomically draws amount from the rt bucket of key's row set.
//
// Errors:
//   - ValidationError if amount is not positive
//   - NotFoundError if the row or bucket does not exist
//   - InsufficientBalanceError if remaining < amount
//   - ErrConcurrencyConflict if the bucket changed since it was read
func (g *ReconciliationGuard) Deduct(ctx context.Context, key AllocationKey, rt ResourceType, amount Amount) (Bucket, error) {
	current, err := g.load(ctx, key, rt)
	if err != nil {
		return Bucket{}, err
	}

	next, err := current.Consume(key, amount)
	if err != nil {
		return current, err
	}

	if err := g.Store.CompareAndSwapBucket(ctx, key, next, current.Version); err != nil {
		return current, err
	}
	return next, nil
}

// Adjust atomically resets the rt bucket's total and used. It returns the
// bucket before and after the write.
func (g *ReconciliationGuard) Adjust(ctx context.Context, key AllocationKey, rt ResourceType, total, used Amount, mode OverdrawMode) (Bucket, Bucket, error) {
	current, err := g.load(ctx, key, rt)
	if err != nil {
		return Bucket{}, Bucket{}, err
	}

	next, err := current.Reset(total, used, mode)
	if err != nil {
		return current, current, err
	}

	if err := g.Store.CompareAndSwapBucket(ctx, key, next, current.Version); err != nil {
		return current, current, err
	}
	return current, next, nil
}

func (g *ReconciliationGuard) load(ctx context.Context, key AllocationKey, rt ResourceType) (Bucket, error) {
	record, err := g.Store.LoadAllocation(ctx, key)
	if err != nil {
		return Bucket{}, fmt.Errorf("load allocation %s: %w", key, err)
	}
	if record == nil {
		return Bucket{}, &NotFoundError{Kind: "allocation", ID: key.String()}
	}
	b, ok := record.Bucket(rt)
	if !ok {
		return Bucket{}, &NotFoundError{Kind: "allocation bucket", ID: key.String() + "/" + rt.ResourceID()}
	}
	return b, nil
}
