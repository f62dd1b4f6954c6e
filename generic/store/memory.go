// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	allocations map[generic.AllocationKey]generic.AllocationRecord
	requests    map[generic.RequestID]generic.Request
	employees   map[generic.EntityID]generic.Employee
	audit       []generic.AuditEvent
}

func NewMemory() *Memory {
	return &Memory{
		allocations: make(map[generic.AllocationKey]generic.AllocationRecord),
		requests:    make(map[generic.RequestID]generic.Request),
		employees:   make(map[generic.EntityID]generic.Employee),
	}
}

// EnsureAllocation inserts missing buckets. Existing buckets are kept.
func (m *Memory) EnsureAllocation(_ context.Context, key generic.AllocationKey, seed []generic.Bucket) (generic.AllocationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ensureLocked(key, seed), nil
}

func (m *Memory) LoadAllocation(_ context.Context, key generic.AllocationKey) (*generic.AllocationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loadLocked(key), nil
}

func (m *Memory) CompareAndSwapBucket(_ context.Context, key generic.AllocationKey, next generic.Bucket, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.casLocked(key, next, expectedVersion)
}

func (m *Memory) CreateRequest(_ context.Context, r generic.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createLocked(r)
}

func (m *Memory) GetRequest(_ context.Context, id generic.RequestID) (*generic.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLocked(id), nil
}

func (m *Memory) TransitionRequest(_ context.Context, next generic.Request, from generic.RequestStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(next, from)
}

func (m *Memory) ListRequests(_ context.Context, filter generic.RequestFilter) ([]generic.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listLocked(filter), nil
}

func (m *Memory) SaveEmployee(_ context.Context, e generic.Employee) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.employees[e.ID]; ok {
		e.CreatedAt = existing.CreatedAt
	} else if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	m.employees[e.ID] = e
	return nil
}

func (m *Memory) GetEmployee(_ context.Context, id generic.EntityID) (*generic.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.employees[id]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (m *Memory) ListEmployees(_ context.Context) ([]generic.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]generic.Employee, 0, len(m.employees))
	for _, e := range m.employees {
		result = append(result, e)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// Record appends an audit event.
func (m *Memory) Record(_ context.Context, event generic.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, event)
	return nil
}

func (m *Memory) ListAudit(_ context.Context, filter generic.AuditFilter) ([]generic.AuditEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []generic.AuditEvent
	for _, e := range m.audit {
		if filter.Matches(e) {
			result = append(result, e)
		}
	}
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[len(result)-filter.Limit:]
	}
	return result, nil
}

// =============================================================================
// LOCKED HELPERS - Caller holds mu
// =============================================================================

func (m *Memory) ensureLocked(key generic.AllocationKey, seed []generic.Bucket) generic.AllocationRecord {
	now := time.Now().UTC()
	record, ok := m.allocations[key]
	if !ok {
		record = generic.NewAllocationRecord(key)
		record.CreatedAt = now
	} else {
		record = copyRecord(record)
	}
	changed := !ok
	for _, b := range seed {
		if _, exists := record.Buckets[b.ResourceType.ResourceID()]; !exists {
			record.Buckets[b.ResourceType.ResourceID()] = b
			changed = true
		}
	}
	if changed {
		record.UpdatedAt = now
		m.allocations[key] = record
	}
	return copyRecord(record)
}

func (m *Memory) loadLocked(key generic.AllocationKey) *generic.AllocationRecord {
	record, ok := m.allocations[key]
	if !ok {
		return nil
	}
	c := copyRecord(record)
	return &c
}

func (m *Memory) casLocked(key generic.AllocationKey, next generic.Bucket, expectedVersion int64) error {
	record, ok := m.allocations[key]
	if !ok {
		return &generic.NotFoundError{Kind: "allocation", ID: key.String()}
	}
	id := next.ResourceType.ResourceID()
	current, ok := record.Buckets[id]
	if !ok {
		return &generic.NotFoundError{Kind: "allocation bucket", ID: key.String() + "/" + id}
	}
	if current.Version != expectedVersion {
		return generic.ErrConcurrencyConflict
	}
	record = copyRecord(record)
	record.Buckets[id] = next
	record.UpdatedAt = time.Now().UTC()
	m.allocations[key] = record
	return nil
}

func (m *Memory) createLocked(r generic.Request) error {
	if _, exists := m.requests[r.ID]; exists {
		return generic.Invalid("id", "leave %s already exists", r.ID)
	}
	m.requests[r.ID] = r
	return nil
}

func (m *Memory) getLocked(id generic.RequestID) *generic.Request {
	r, ok := m.requests[id]
	if !ok {
		return nil
	}
	return &r
}

func (m *Memory) transitionLocked(next generic.Request, from generic.RequestStatus) error {
	current, ok := m.requests[next.ID]
	if !ok {
		return &generic.NotFoundError{Kind: "leave", ID: string(next.ID)}
	}
	if current.Status != from {
		return generic.ErrConcurrencyConflict
	}
	current.Status = next.Status
	current.DecidedBy = next.DecidedBy
	current.DecidedAt = next.DecidedAt
	current.RejectionReason = next.RejectionReason
	m.requests[next.ID] = current
	return nil
}

func (m *Memory) listLocked(filter generic.RequestFilter) []generic.Request {
	result := []generic.Request{}
	for _, r := range m.requests {
		if filter.Matches(r) {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].AppliedAt.Equal(result[j].AppliedAt) {
			return result[i].AppliedAt.After(result[j].AppliedAt)
		}
		return result[i].ID > result[j].ID
	})
	return result
}

func copyRecord(r generic.AllocationRecord) generic.AllocationRecord {
	c := r
	c.Buckets = make(map[string]generic.Bucket, len(r.Buckets))
	for k, v := range r.Buckets {
		c.Buckets[k] = v
	}
	return c
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// The write lock is held for the whole of fn, so transactions serialize.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(generic.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()
	txStore := &txMemoryView{parent: tm.Memory}

	if err := fn(txStore); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

func (tm *TxMemory) snapshot() memorySnapshot {
	allocs := make(map[generic.AllocationKey]generic.AllocationRecord, len(tm.allocations))
	for k, v := range tm.allocations {
		allocs[k] = copyRecord(v)
	}
	reqs := make(map[generic.RequestID]generic.Request, len(tm.requests))
	for k, v := range tm.requests {
		reqs[k] = v
	}
	return memorySnapshot{allocations: allocs, requests: reqs}
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.allocations = s.allocations
	tm.requests = s.requests
}

type memorySnapshot struct {
	allocations map[generic.AllocationKey]generic.AllocationRecord
	requests    map[generic.RequestID]generic.Request
}

// txMemoryView runs against the parent's maps without locking; WithTx
// already holds the write lock.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) EnsureAllocation(_ context.Context, key generic.AllocationKey, seed []generic.Bucket) (generic.AllocationRecord, error) {
	return tv.parent.ensureLocked(key, seed), nil
}

func (tv *txMemoryView) LoadAllocation(_ context.Context, key generic.AllocationKey) (*generic.AllocationRecord, error) {
	return tv.parent.loadLocked(key), nil
}

func (tv *txMemoryView) CompareAndSwapBucket(_ context.Context, key generic.AllocationKey, next generic.Bucket, expectedVersion int64) error {
	return tv.parent.casLocked(key, next, expectedVersion)
}

func (tv *txMemoryView) CreateRequest(_ context.Context, r generic.Request) error {
	return tv.parent.createLocked(r)
}

func (tv *txMemoryView) GetRequest(_ context.Context, id generic.RequestID) (*generic.Request, error) {
	return tv.parent.getLocked(id), nil
}

func (tv *txMemoryView) TransitionRequest(_ context.Context, next generic.Request, from generic.RequestStatus) error {
	return tv.parent.transitionLocked(next, from)
}

func (tv *txMemoryView) ListRequests(_ context.Context, filter generic.RequestFilter) ([]generic.Request, error) {
	return tv.parent.listLocked(filter), nil
}
