/*
Package generic provides the core allocation engine.

PURPOSE:
  This package contains the domain-agnostic types and algorithms behind
  leave balances: per-entity, per-year allocation rows, the guard that
  mutates them, and the request state machine that consumes them. The
  timeoff package supplies the concrete leave categories and workflow.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: A quantity with a unit (e.g., 5 days, 0.5 days)
  - ResourceType: What a bucket tracks (sick, casual, ...)
  - AllocationKey: (entity, calendar year) - one ledger row set per key
  - Entity/Request IDs: Type-safe identifiers

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal so half days never drift
  2. Type Safety: Strong typing for IDs prevents mixing entity/request IDs
  3. Atomicity: Buckets are only written through compare-and-swap
  4. Auditability: Every state change emits a typed audit event

USAGE:
  amount := generic.NewAmount(0.5, generic.UnitDays)
  key := generic.AllocationKey{EntityID: "emp-123", Year: 2024}

SEE ALSO:
  - allocation.go: Bucket math and invariants
  - reconcile.go: The reconciliation guard
  - ledger.go: Lazy allocation rows and administrative adjustment
*/
package generic

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Quantity with unit (always time-based for this system)
// =============================================================================

type Amount struct {
	Value decimal.Decimal
	Unit  Unit
}

type Unit string

const (
	UnitDays  Unit = "days"
	UnitHours Unit = "hours"
)

func NewAmount(value float64, unit Unit) Amount {
	return Amount{Value: decimal.NewFromFloat(value), Unit: unit}
}

func NewAmountFromInt(value int, unit Unit) Amount {
	return Amount{Value: decimal.NewFromInt(int64(value)), Unit: unit}
}

// Days is shorthand for NewAmount(value, UnitDays).
func Days(value float64) Amount {
	return NewAmount(value, UnitDays)
}

// ParseAmount parses a stored decimal such as "12" or "0.5".
func ParseAmount(value string, unit Unit) (Amount, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return Amount{}, fmt.Errorf("bad amount %q: %w", value, err)
	}
	return Amount{Value: d, Unit: unit}, nil
}

func (a Amount) Zero() Amount                      { return Amount{Value: decimal.Zero, Unit: a.Unit} }
func (a Amount) Add(b Amount) Amount               { return Amount{Value: a.Value.Add(b.Value), Unit: a.Unit} }
func (a Amount) Sub(b Amount) Amount               { return Amount{Value: a.Value.Sub(b.Value), Unit: a.Unit} }
func (a Amount) Neg() Amount                       { return Amount{Value: a.Value.Neg(), Unit: a.Unit} }
func (a Amount) IsNegative() bool                  { return a.Value.IsNegative() }
func (a Amount) IsZero() bool                      { return a.Value.IsZero() }
func (a Amount) IsPositive() bool                  { return a.Value.IsPositive() }
func (a Amount) Equal(b Amount) bool               { return a.Value.Equal(b.Value) }
func (a Amount) GreaterThan(b Amount) bool         { return a.Value.GreaterThan(b.Value) }
func (a Amount) GreaterThanOrEqual(b Amount) bool  { return a.Value.GreaterThanOrEqual(b.Value) }
func (a Amount) LessThan(b Amount) bool            { return a.Value.LessThan(b.Value) }
func (a Amount) Float64() float64                  { return a.Value.InexactFloat64() }
func (a Amount) String() string                    { return a.Value.String() }

func (a Amount) Min(b Amount) Amount {
	if a.LessThan(b) {
		return a
	}
	return b
}

func (a Amount) Max(b Amount) Amount {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EntityID string
type RequestID string

// ResourceType identifies what kind of resource a bucket tracks.
// This is an interface so domain packages define their own concrete types.
//
// Domain packages implement this:
//
//	// In timeoff/types.go
//	type Category string
//	func (c Category) ResourceID() string     { return string(c) }
//	func (c Category) ResourceDomain() string { return "timeoff" }
type ResourceType interface {
	// ResourceID returns the unique identifier for this resource type.
	ResourceID() string

	// ResourceDomain returns which domain this resource belongs to.
	ResourceDomain() string
}

// AllocationKey addresses one allocation row set: an entity's buckets for
// a single calendar year.
type AllocationKey struct {
	EntityID EntityID
	Year     int
}

func (k AllocationKey) String() string {
	return fmt.Sprintf("%s/%d", k.EntityID, k.Year)
}
