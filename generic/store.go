/*
store.go - Persistence interface for allocations and requests

PURPOSE:
  Defines the interface between the engine and the database. Different
  implementations use SQLite, PostgreSQL, or in-memory storage; all of them
  provide the same atomicity guarantees.

KEY INTERFACES:
  AllocationStore: Allocation rows (insert-if-absent, compare-and-swap)
  RequestStore:    Requests (create, conditional transition, list)
  Store:           Both of the above
  TxStore:         Store plus WithTx for multi-write atomic units
  EmployeeStore:   Optional directory of known employees
  AuditLog:        Append-only audit events

ATOMICITY CONTRACT:
  - EnsureAllocation is an upsert keyed by (entity, year, resource): two
    concurrent first accesses produce exactly one bucket per resource.
  - CompareAndSwapBucket writes only when the stored version equals the
    expected version; otherwise ErrConcurrencyConflict.
  - TransitionRequest writes only when the stored status equals `from`;
    otherwise ErrConcurrencyConflict.
  - WithTx commits every write made through the Store it hands to fn, or
    none of them.

IMPLEMENTATIONS:
  - generic/store/memory.go: In-memory for tests and single-process dev
  - store/sqlite/sqlite.go:  SQLite
  - store/postgres/postgres.go: PostgreSQL via pgx
*/
package generic

import (
	"context"
	"time"
)

// =============================================================================
// STORE
// =============================================================================

type AllocationStore interface {
	// EnsureAllocation inserts any of seed's buckets missing for key and
	// returns the full row set. Existing buckets are never overwritten.
	EnsureAllocation(ctx context.Context, key AllocationKey, seed []Bucket) (AllocationRecord, error)

	// LoadAllocation returns the row set for key, or nil if none exists.
	LoadAllocation(ctx context.Context, key AllocationKey) (*AllocationRecord, error)

	// CompareAndSwapBucket replaces the bucket for next.ResourceType if the
	// stored version equals expectedVersion.
	CompareAndSwapBucket(ctx context.Context, key AllocationKey, next Bucket, expectedVersion int64) error
}

type RequestStore interface {
	CreateRequest(ctx context.Context, r Request) error

	// GetRequest returns the request, or nil if it does not exist.
	GetRequest(ctx context.Context, id RequestID) (*Request, error)

	// TransitionRequest persists next's status and decision fields if the
	// stored status still equals from.
	TransitionRequest(ctx context.Context, next Request, from RequestStatus) error

	// ListRequests returns matching requests, newest first.
	ListRequests(ctx context.Context, filter RequestFilter) ([]Request, error)
}

type Store interface {
	AllocationStore
	RequestStore
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// EMPLOYEE DIRECTORY
// =============================================================================

// Employee is the minimal profile the engine needs: an existence check for
// the ids it is handed.
type Employee struct {
	ID        EntityID
	Name      string
	Email     string
	CreatedAt time.Time
}

// EmployeeStore is optional. When a service is given one, operations naming
// an unknown employee fail with NotFoundError.
type EmployeeStore interface {
	SaveEmployee(ctx context.Context, e Employee) error
	// GetEmployee returns the employee, or nil if it does not exist.
	GetEmployee(ctx context.Context, id EntityID) (*Employee, error)
	ListEmployees(ctx context.Context) ([]Employee, error)
}

// =============================================================================
// AUDIT LOG
// =============================================================================

// AuditLog receives audit events. Implementations must not modify them.
type AuditLog interface {
	Record(ctx context.Context, event AuditEvent) error
}

// AuditFilter narrows audit queries on stores that keep events.
type AuditFilter struct {
	ActorID  string
	TargetID string
	Actions  []AuditAction
	Limit    int
}

// AuditReader is implemented by stores that persist audit events.
type AuditReader interface {
	// ListAudit returns matching events, oldest first.
	ListAudit(ctx context.Context, filter AuditFilter) ([]AuditEvent, error)
}

func (f AuditFilter) Matches(e AuditEvent) bool {
	if f.ActorID != "" && e.ActorID != f.ActorID {
		return false
	}
	if f.TargetID != "" && e.TargetID != f.TargetID {
		return false
	}
	if len(f.Actions) == 0 {
		return true
	}
	for _, a := range f.Actions {
		if e.Action() == a {
			return true
		}
	}
	return false
}

// NopAuditLog discards events.
type NopAuditLog struct{}

func (NopAuditLog) Record(context.Context, AuditEvent) error { return nil }
