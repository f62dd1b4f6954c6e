// Package storetest holds the behaviour every store implementation must
// share. Store packages call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/warp/leave-engine/generic"
)

// Backend is what Run exercises.
type Backend interface {
	generic.TxStore
	generic.EmployeeStore
	generic.AuditLog
	generic.AuditReader
}

var (
	sick   = generic.StringResource{ID: "sick", Domain: "storetest"}
	casual = generic.StringResource{ID: "casual", Domain: "storetest"}
	key    = generic.AllocationKey{EntityID: "emp-1", Year: 2024}
)

func seed() []generic.Bucket {
	return []generic.Bucket{
		generic.NewBucket(sick, generic.Days(10)),
		generic.NewBucket(casual, generic.Days(12)),
	}
}

func request(id string, start generic.TimePoint, applied time.Time) generic.Request {
	return generic.Request{
		ID:           generic.RequestID(id),
		EntityID:     "emp-1",
		ResourceType: sick,
		Start:        start,
		End:          start.AddDays(1),
		Amount:       generic.Days(2),
		Reason:       "flu",
		Status:       generic.RequestPending,
		AppliedAt:    applied,
	}
}

// Run executes the shared store contract. open must return an empty store.
func Run(t *testing.T, open func(t *testing.T) Backend) {
	t.Run("EnsureAllocation", func(t *testing.T) { testEnsureAllocation(t, open(t)) })
	t.Run("EnsureAllocation_Concurrent", func(t *testing.T) { testEnsureConcurrent(t, open(t)) })
	t.Run("CompareAndSwap", func(t *testing.T) { testCompareAndSwap(t, open(t)) })
	t.Run("Requests", func(t *testing.T) { testRequests(t, open(t)) })
	t.Run("SubSecondOrder", func(t *testing.T) { testSubSecondOrder(t, open(t)) })
	t.Run("TransitionRequest", func(t *testing.T) { testTransition(t, open(t)) })
	t.Run("WithTx_Rollback", func(t *testing.T) { testRollback(t, open(t)) })
	t.Run("Employees", func(t *testing.T) { testEmployees(t, open(t)) })
	t.Run("Audit", func(t *testing.T) { testAudit(t, open(t)) })
}

func testEnsureAllocation(t *testing.T, s Backend) {
	ctx := context.Background()

	missing, err := s.LoadAllocation(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, missing)

	record, err := s.EnsureAllocation(ctx, key, seed())
	require.NoError(t, err)
	require.Len(t, record.Buckets, 2)
	b, ok := record.Bucket(sick)
	require.True(t, ok)
	assert.True(t, b.Total.Equal(generic.Days(10)))
	assert.True(t, b.Remaining.Equal(generic.Days(10)))

	// Existing buckets are not overwritten by a later seed.
	bigger := []generic.Bucket{generic.NewBucket(sick, generic.Days(99))}
	again, err := s.EnsureAllocation(ctx, key, bigger)
	require.NoError(t, err)
	b, _ = again.Bucket(sick)
	assert.True(t, b.Total.Equal(generic.Days(10)))
	assert.Len(t, again.Buckets, 2)
}

func testEnsureConcurrent(t *testing.T, s Backend) {
	ctx := context.Background()

	var g errgroup.Group
	for i := 0; i < 10; i++ {
		g.Go(func() error {
			_, err := s.EnsureAllocation(ctx, key, seed())
			return err
		})
	}
	require.NoError(t, g.Wait())

	record, err := s.LoadAllocation(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Len(t, record.Buckets, 2)
}

func testCompareAndSwap(t *testing.T, s Backend) {
	ctx := context.Background()
	record, err := s.EnsureAllocation(ctx, key, seed())
	require.NoError(t, err)
	current, _ := record.Bucket(sick)

	next, err := current.Consume(key, generic.Days(2.5))
	require.NoError(t, err)
	require.NoError(t, s.CompareAndSwapBucket(ctx, key, next, current.Version))

	// Same expected version again: lost race.
	err = s.CompareAndSwapBucket(ctx, key, next, current.Version)
	assert.ErrorIs(t, err, generic.ErrConcurrencyConflict)

	stored, err := s.LoadAllocation(ctx, key)
	require.NoError(t, err)
	b, _ := stored.Bucket(sick)
	assert.True(t, b.Used.Equal(generic.Days(2.5)))
	assert.True(t, b.Remaining.Equal(generic.Days(7.5)))
	assert.Equal(t, current.Version+1, b.Version)

	missing := generic.NewBucket(generic.StringResource{ID: "nope", Domain: "storetest"}, generic.Days(1))
	err = s.CompareAndSwapBucket(ctx, key, missing, 0)
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func testRequests(t *testing.T, s Backend) {
	ctx := context.Background()
	base := time.Date(2024, time.March, 1, 9, 0, 0, 0, time.UTC)

	older := request("lv-1", generic.NewTimePoint(2024, time.March, 4), base)
	newer := request("lv-2", generic.NewTimePoint(2025, time.January, 6), base.Add(time.Hour))
	newer.HalfDay = true
	newer.HalfDayPeriod = "evening"
	newer.Amount = generic.Days(0.5)
	require.NoError(t, s.CreateRequest(ctx, older))
	require.NoError(t, s.CreateRequest(ctx, newer))

	err := s.CreateRequest(ctx, older)
	assert.ErrorIs(t, err, generic.ErrValidation, "duplicate id")

	got, err := s.GetRequest(ctx, "lv-2")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "sick", got.ResourceType.ResourceID())
	assert.True(t, got.Amount.Equal(generic.Days(0.5)))
	assert.True(t, got.HalfDay)
	assert.Equal(t, "evening", got.HalfDayPeriod)
	assert.True(t, got.Start.Equal(newer.Start))
	assert.True(t, got.AppliedAt.Equal(newer.AppliedAt))
	assert.Nil(t, got.DecidedAt)

	none, err := s.GetRequest(ctx, "lv-404")
	require.NoError(t, err)
	assert.Nil(t, none)

	all, err := s.ListRequests(ctx, generic.RequestFilter{EntityID: "emp-1"})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, generic.RequestID("lv-2"), all[0].ID, "newest first")

	in2024, err := s.ListRequests(ctx, generic.RequestFilter{Year: 2024})
	require.NoError(t, err)
	require.Len(t, in2024, 1)
	assert.Equal(t, generic.RequestID("lv-1"), in2024[0].ID)

	approved, err := s.ListRequests(ctx, generic.RequestFilter{Status: generic.RequestApproved})
	require.NoError(t, err)
	assert.Empty(t, approved)
}

func testSubSecondOrder(t *testing.T, s Backend) {
	// GIVEN: Two applications and two audit events half a second apart
	// WHEN: Listed back
	// THEN: Order follows the clock, not the stored text
	ctx := context.Background()
	base := time.Date(2024, time.March, 1, 9, 0, 0, 0, time.UTC)
	later := base.Add(500 * time.Millisecond)

	require.NoError(t, s.CreateRequest(ctx, request("b-first", generic.NewTimePoint(2024, time.March, 4), base)))
	require.NoError(t, s.CreateRequest(ctx, request("a-second", generic.NewTimePoint(2024, time.March, 11), later)))

	all, err := s.ListRequests(ctx, generic.RequestFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, generic.RequestID("a-second"), all[0].ID, "newest first")
	assert.True(t, all[0].AppliedAt.Equal(later))

	r := request("b-first", generic.NewTimePoint(2024, time.March, 4), base)
	first := generic.NewAuditEvent("emp-1", "b-first", base, generic.LeaveSubmitted{After: generic.SnapshotRequest(r)})
	second := generic.NewAuditEvent("emp-1", "a-second", later, generic.LeaveSubmitted{After: generic.SnapshotRequest(r)})
	require.NoError(t, s.Record(ctx, first))
	require.NoError(t, s.Record(ctx, second))

	latest, err := s.ListAudit(ctx, generic.AuditFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, second.ID, latest[0].ID)
	assert.True(t, latest[0].At.Equal(later))
}

func testTransition(t *testing.T, s Backend) {
	ctx := context.Background()
	r := request("lv-1", generic.NewTimePoint(2024, time.March, 4), time.Now().UTC())
	require.NoError(t, s.CreateRequest(ctx, r))

	at := time.Date(2024, time.March, 2, 10, 0, 0, 0, time.UTC)
	rejected, err := r.Transition(generic.RequestRejected, "hr-1", at, "coverage")
	require.NoError(t, err)
	require.NoError(t, s.TransitionRequest(ctx, rejected, generic.RequestPending))

	got, err := s.GetRequest(ctx, "lv-1")
	require.NoError(t, err)
	assert.Equal(t, generic.RequestRejected, got.Status)
	assert.Equal(t, "hr-1", got.DecidedBy)
	assert.Equal(t, "coverage", got.RejectionReason)
	require.NotNil(t, got.DecidedAt)
	assert.True(t, got.DecidedAt.Equal(at))

	// Status moved on underneath: conditional update matches nothing.
	approved, _ := r.Transition(generic.RequestApproved, "hr-2", at, "")
	err = s.TransitionRequest(ctx, approved, generic.RequestPending)
	assert.ErrorIs(t, err, generic.ErrConcurrencyConflict)

	ghost := request("lv-404", generic.NewTimePoint(2024, time.March, 4), at)
	ghost.Status = generic.RequestApproved
	err = s.TransitionRequest(ctx, ghost, generic.RequestPending)
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func testRollback(t *testing.T, s Backend) {
	ctx := context.Background()
	_, err := s.EnsureAllocation(ctx, key, seed())
	require.NoError(t, err)

	boom := errors.New("boom")
	err = s.WithTx(ctx, func(tx generic.Store) error {
		record, err := tx.LoadAllocation(ctx, key)
		if err != nil {
			return err
		}
		b, _ := record.Bucket(sick)
		next, err := b.Consume(key, generic.Days(4))
		if err != nil {
			return err
		}
		if err := tx.CompareAndSwapBucket(ctx, key, next, b.Version); err != nil {
			return err
		}
		if err := tx.CreateRequest(ctx, request("lv-1", generic.NewTimePoint(2024, time.May, 1), time.Now().UTC())); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	record, err := s.LoadAllocation(ctx, key)
	require.NoError(t, err)
	b, _ := record.Bucket(sick)
	assert.True(t, b.Used.IsZero(), "deduction rolled back")
	assert.Equal(t, int64(0), b.Version)
	r, err := s.GetRequest(ctx, "lv-1")
	require.NoError(t, err)
	assert.Nil(t, r, "insert rolled back")

	// A committed transaction sticks.
	err = s.WithTx(ctx, func(tx generic.Store) error {
		return tx.CreateRequest(ctx, request("lv-2", generic.NewTimePoint(2024, time.May, 1), time.Now().UTC()))
	})
	require.NoError(t, err)
	r, err = s.GetRequest(ctx, "lv-2")
	require.NoError(t, err)
	assert.NotNil(t, r)
}

func testEmployees(t *testing.T, s Backend) {
	ctx := context.Background()

	none, err := s.GetEmployee(ctx, "emp-1")
	require.NoError(t, err)
	assert.Nil(t, none)

	require.NoError(t, s.SaveEmployee(ctx, generic.Employee{ID: "emp-2", Name: "Grace", Email: "grace@example.com"}))
	require.NoError(t, s.SaveEmployee(ctx, generic.Employee{ID: "emp-1", Name: "Ada"}))
	require.NoError(t, s.SaveEmployee(ctx, generic.Employee{ID: "emp-1", Name: "Ada L."}))

	got, err := s.GetEmployee(ctx, "emp-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Ada L.", got.Name)

	all, err := s.ListEmployees(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, generic.EntityID("emp-1"), all[0].ID)
}

func testAudit(t *testing.T, s Backend) {
	ctx := context.Background()
	base := time.Date(2024, time.March, 1, 9, 0, 0, 0, time.UTC)
	r := request("lv-1", generic.NewTimePoint(2024, time.March, 4), base)

	events := []generic.AuditEvent{
		generic.NewAuditEvent("emp-1", "lv-1", base, generic.LeaveSubmitted{After: generic.SnapshotRequest(r)}),
		generic.NewAuditEvent("hr-1", "emp-1/2024", base.Add(time.Minute), generic.AllocationAdjusted{
			Before: generic.SnapshotBucket(key, generic.NewBucket(sick, generic.Days(10))),
			After:  generic.SnapshotBucket(key, generic.NewBucket(sick, generic.Days(12))),
		}),
		generic.NewAuditEvent("hr-1", "lv-1", base.Add(2*time.Minute), generic.LeaveDecided{
			Before: generic.SnapshotRequest(r),
			After:  generic.SnapshotRequest(r),
		}),
	}
	for _, e := range events {
		require.NoError(t, s.Record(ctx, e))
	}

	all, err := s.ListAudit(ctx, generic.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, events[0].ID, all[0].ID, "oldest first")
	assert.Equal(t, generic.AuditLeaveSubmitted, all[0].Action())
	submitted, ok := all[0].Payload.(generic.LeaveSubmitted)
	require.True(t, ok)
	assert.Equal(t, "lv-1", submitted.After.ID)

	byHR, err := s.ListAudit(ctx, generic.AuditFilter{ActorID: "hr-1"})
	require.NoError(t, err)
	assert.Len(t, byHR, 2)

	decisions, err := s.ListAudit(ctx, generic.AuditFilter{TargetID: "lv-1", Actions: []generic.AuditAction{generic.AuditLeaveDecided}})
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, events[2].ID, decisions[0].ID)

	latest, err := s.ListAudit(ctx, generic.AuditFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, events[1].ID, latest[0].ID)
	assert.Equal(t, events[2].ID, latest[1].ID)
}
