/*
allocation.go - Allocation buckets and their invariants

PURPOSE:
  An allocation row set holds one Bucket per tracked resource type for an
  (entity, year). Each bucket is {total, used, remaining}. All arithmetic
  that changes a bucket lives here as pure functions returning a new value;
  persistence of the new value goes through the reconciliation guard.

CRITICAL INVARIANTS (after every mutation, for every bucket):
  1. remaining = total - used
  2. used >= 0
  3. remaining >= 0

VERSIONING:
  Every bucket carries a Version. Consume and Reset return a bucket whose
  version is one higher; stores only accept the write when the stored
  version still equals the one that was read.

SEE ALSO:
  - reconcile.go: Compare-and-swap writes of these values
  - ledger.go: Lazy creation from entitlements
*/
package generic

import (
	"fmt"
	"sort"
	"time"
)

// =============================================================================
// BUCKET
// =============================================================================

type Bucket struct {
	ResourceType ResourceType
	Total        Amount
	Used         Amount
	Remaining    Amount
	Version      int64
}

// NewBucket seeds a bucket with nothing used.
func NewBucket(rt ResourceType, total Amount) Bucket {
	return Bucket{
		ResourceType: rt,
		Total:        total,
		Used:         total.Zero(),
		Remaining:    total,
	}
}

// Validate checks the bucket invariants.
func (b Bucket) Validate() error {
	if b.Used.IsNegative() {
		return fmt.Errorf("bucket %s: used %v is negative", b.ResourceType.ResourceID(), b.Used.Value)
	}
	if b.Remaining.IsNegative() {
		return fmt.Errorf("bucket %s: remaining %v is negative", b.ResourceType.ResourceID(), b.Remaining.Value)
	}
	if !b.Total.Sub(b.Used).Equal(b.Remaining) {
		return fmt.Errorf("bucket %s: remaining %v != total %v - used %v",
			b.ResourceType.ResourceID(), b.Remaining.Value, b.Total.Value, b.Used.Value)
	}
	return nil
}

// Covers reports whether remaining is at least amount.
func (b Bucket) Covers(amount Amount) bool {
	return b.Remaining.GreaterThanOrEqual(amount)
}

// Consume returns the bucket after drawing amount from it.
func (b Bucket) Consume(key AllocationKey, amount Amount) (Bucket, error) {
	if !amount.IsPositive() {
		return b, Invalid("days", "must be positive, got %v", amount.Value)
	}
	if !b.Covers(amount) {
		return b, &InsufficientBalanceError{
			Key:          key,
			ResourceType: b.ResourceType,
			Available:    b.Remaining,
			Requested:    amount,
		}
	}
	next := b
	next.Used = b.Used.Add(amount)
	next.Remaining = b.Remaining.Sub(amount)
	next.Version = b.Version + 1
	return next, nil
}

// OverdrawMode decides what an administrative reset does when the new used
// figure exceeds the new total.
type OverdrawMode string

const (
	// OverdrawClamp floors remaining at zero and lowers used to total.
	OverdrawClamp OverdrawMode = "clamp"
	// OverdrawReject refuses the adjustment.
	OverdrawReject OverdrawMode = "reject"
)

func (m OverdrawMode) Valid() bool {
	return m == OverdrawClamp || m == OverdrawReject
}

// Reset returns the bucket with administratively chosen total and used.
// Negative inputs are clamped to zero before anything else.
func (b Bucket) Reset(total, used Amount, mode OverdrawMode) (Bucket, error) {
	total = total.Max(total.Zero())
	used = used.Max(used.Zero())

	if used.GreaterThan(total) {
		switch mode {
		case OverdrawClamp:
			used = total
		case OverdrawReject:
			return b, Invalid("used", "%v exceeds total %v", used.Value, total.Value)
		default:
			return b, Invalid("mode", "unknown overdraw mode %q", mode)
		}
	}

	next := b
	next.Total = total
	next.Used = used
	next.Remaining = total.Sub(used)
	next.Version = b.Version + 1
	return next, nil
}

// =============================================================================
// ENTITLEMENT - Default annual total for one resource type
// =============================================================================

type Entitlement struct {
	ResourceType ResourceType
	Total        Amount
}

// SeedBuckets turns entitlements into fresh buckets.
func SeedBuckets(entitlements []Entitlement) []Bucket {
	buckets := make([]Bucket, 0, len(entitlements))
	for _, e := range entitlements {
		buckets = append(buckets, NewBucket(e.ResourceType, e.Total))
	}
	return buckets
}

// =============================================================================
// ALLOCATION RECORD - One (entity, year) row set
// =============================================================================

type AllocationRecord struct {
	Key       AllocationKey
	Buckets   map[string]Bucket // keyed by ResourceID
	CreatedAt time.Time
	UpdatedAt time.Time
}

func NewAllocationRecord(key AllocationKey) AllocationRecord {
	return AllocationRecord{Key: key, Buckets: make(map[string]Bucket)}
}

// Bucket returns the bucket tracking rt.
func (r AllocationRecord) Bucket(rt ResourceType) (Bucket, bool) {
	b, ok := r.Buckets[rt.ResourceID()]
	return b, ok
}

// Sorted returns buckets ordered by resource ID.
func (r AllocationRecord) Sorted() []Bucket {
	out := make([]Bucket, 0, len(r.Buckets))
	for _, b := range r.Buckets {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ResourceType.ResourceID() < out[j].ResourceType.ResourceID()
	})
	return out
}
