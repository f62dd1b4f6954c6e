package timeoff_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/generic/store"
	"github.com/warp/leave-engine/store/sqlite"
	"github.com/warp/leave-engine/timeoff"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var (
	employee = generic.Actor{ID: "emp-1", Role: generic.RoleEmployee}
	admin    = generic.Actor{ID: "hr-1", Role: generic.RoleAdmin}
	fixedNow = time.Date(2024, time.February, 1, 9, 0, 0, 0, time.UTC)
)

type backend struct {
	name string
	open func(t *testing.T) generic.TxStore
}

func backends() []backend {
	return []backend{
		{"memory", func(t *testing.T) generic.TxStore { return store.NewTxMemory() }},
		{"sqlite", func(t *testing.T) generic.TxStore {
			s, err := sqlite.New(":memory:")
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		}},
	}
}

// forEachBackend runs fn once per store implementation.
func forEachBackend(t *testing.T, fn func(t *testing.T, st generic.TxStore)) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			fn(t, b.open(t))
		})
	}
}

func newService(t *testing.T, st generic.TxStore, opts ...timeoff.Option) *timeoff.LeaveService {
	t.Helper()
	opts = append([]timeoff.Option{timeoff.WithClock(func() time.Time { return fixedNow })}, opts...)
	svc, err := timeoff.NewLeaveService(st, timeoff.StandardAllocationPolicy(), opts...)
	require.NoError(t, err)
	return svc
}

func date(y int, m time.Month, d int) generic.TimePoint {
	return generic.NewTimePoint(y, m, d)
}

func submitInput(category timeoff.Category, start, end generic.TimePoint) timeoff.SubmitInput {
	return timeoff.SubmitInput{
		EmployeeID: generic.EntityID(employee.ID),
		Category:   category,
		StartDate:  start,
		EndDate:    end,
		Reason:     "family trip",
	}
}

func bucketOf(t *testing.T, svc *timeoff.LeaveService, c timeoff.Category) generic.Bucket {
	t.Helper()
	balance, err := svc.GetBalance(context.Background(), admin, generic.EntityID(employee.ID), 2024)
	require.NoError(t, err)
	b, ok := balance.Bucket(c)
	require.True(t, ok, "no %s bucket", c)
	require.NoError(t, b.Validate())
	return b
}

func assertBucket(t *testing.T, b generic.Bucket, total, used, remaining float64) {
	t.Helper()
	assert.True(t, b.Total.Equal(generic.Days(total)), "total: want %v got %v", total, b.Total)
	assert.True(t, b.Used.Equal(generic.Days(used)), "used: want %v got %v", used, b.Used)
	assert.True(t, b.Remaining.Equal(generic.Days(remaining)), "remaining: want %v got %v", remaining, b.Remaining)
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestScenario_SubmitThenApprove(t *testing.T) {
	// GIVEN: casual {12, 0, 12}
	// WHEN: Submitting 2024-01-01..05, then approving
	// THEN: Submit leaves the allocation alone, approval takes 5 days
	forEachBackend(t, func(t *testing.T, st generic.TxStore) {
		svc := newService(t, st)
		ctx := context.Background()

		app, err := svc.Submit(ctx, employee, submitInput(timeoff.CategoryCasual, date(2024, time.January, 1), date(2024, time.January, 5)))
		require.NoError(t, err)
		assert.Equal(t, generic.RequestPending, app.Status)
		assert.True(t, app.Amount.Equal(generic.Days(5)))
		assertBucket(t, bucketOf(t, svc, timeoff.CategoryCasual), 12, 0, 12)

		decided, err := svc.Decide(ctx, admin, app.ID, timeoff.DecisionApprove, "")
		require.NoError(t, err)
		assert.Equal(t, generic.RequestApproved, decided.Status)
		assert.Equal(t, admin.ID, decided.DecidedBy)
		require.NotNil(t, decided.DecidedAt)
		assertBucket(t, bucketOf(t, svc, timeoff.CategoryCasual), 12, 5, 7)

		stored, err := svc.GetLeave(ctx, employee, app.ID)
		require.NoError(t, err)
		assert.Equal(t, generic.RequestApproved, stored.Status)
	})
}

func TestScenario_InsufficientBalance_NothingPersisted(t *testing.T) {
	// GIVEN: casual remaining 7
	// WHEN: Submitting a 10-day casual request
	// THEN: InsufficientBalance and no application exists
	forEachBackend(t, func(t *testing.T, st generic.TxStore) {
		svc := newService(t, st)
		ctx := context.Background()

		first, err := svc.Submit(ctx, employee, submitInput(timeoff.CategoryCasual, date(2024, time.January, 1), date(2024, time.January, 5)))
		require.NoError(t, err)
		_, err = svc.Decide(ctx, admin, first.ID, timeoff.DecisionApprove, "")
		require.NoError(t, err)

		_, err = svc.Submit(ctx, employee, submitInput(timeoff.CategoryCasual, date(2024, time.March, 1), date(2024, time.March, 10)))

		require.ErrorIs(t, err, generic.ErrInsufficientBalance)
		var ib *generic.InsufficientBalanceError
		require.ErrorAs(t, err, &ib)
		assert.True(t, ib.Available.Equal(generic.Days(7)))
		assert.True(t, ib.Requested.Equal(generic.Days(10)))

		apps, err := svc.ListLeaves(ctx, employee, generic.RequestFilter{})
		require.NoError(t, err)
		assert.Len(t, apps, 1)
	})
}

func TestScenario_HalfDay_AlwaysHalf(t *testing.T) {
	forEachBackend(t, func(t *testing.T, st generic.TxStore) {
		svc := newService(t, st)
		ctx := context.Background()

		in := submitInput(timeoff.CategorySick, date(2024, time.April, 1), date(2024, time.April, 3))
		in.HalfDay = true
		in.HalfDayPeriod = timeoff.HalfDayMorning

		app, err := svc.Submit(ctx, employee, in)

		require.NoError(t, err)
		assert.True(t, app.Amount.Equal(generic.Days(0.5)))
		assert.Equal(t, "morning", app.HalfDayPeriod)

		_, err = svc.Decide(ctx, admin, app.ID, timeoff.DecisionApprove, "")
		require.NoError(t, err)
		assertBucket(t, bucketOf(t, svc, timeoff.CategorySick), 10, 0.5, 9.5)
	})
}

func TestScenario_ConcurrentApprovals_OneWins(t *testing.T) {
	// GIVEN: Two pending 4-day casual applications against remaining 5
	// WHEN: Both are approved concurrently
	// THEN: Exactly one succeeds, remaining ends at 1, the loser stays pending
	forEachBackend(t, func(t *testing.T, st generic.TxStore) {
		svc := newService(t, st)
		ctx := context.Background()

		_, err := svc.AdjustAllocation(ctx, admin, timeoff.AdjustInput{
			EmployeeID: generic.EntityID(employee.ID),
			Year:       2024,
			Category:   timeoff.CategoryCasual,
			Total:      generic.Days(12),
			Used:       generic.Days(7),
		})
		require.NoError(t, err)

		a, err := svc.Submit(ctx, employee, submitInput(timeoff.CategoryCasual, date(2024, time.May, 6), date(2024, time.May, 9)))
		require.NoError(t, err)
		b, err := svc.Submit(ctx, employee, submitInput(timeoff.CategoryCasual, date(2024, time.June, 3), date(2024, time.June, 6)))
		require.NoError(t, err)

		ids := []generic.RequestID{a.ID, b.ID}
		errs := make([]error, len(ids))
		var g errgroup.Group
		for i, id := range ids {
			g.Go(func() error {
				_, errs[i] = svc.Decide(ctx, admin, id, timeoff.DecisionApprove, "")
				return nil
			})
		}
		require.NoError(t, g.Wait())

		var won, lost int
		var loser generic.RequestID
		for i, err := range errs {
			switch {
			case err == nil:
				won++
			case errors.Is(err, generic.ErrInsufficientBalance), errors.Is(err, generic.ErrConcurrencyConflict):
				lost++
				loser = ids[i]
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		assert.Equal(t, 1, won)
		assert.Equal(t, 1, lost)
		assertBucket(t, bucketOf(t, svc, timeoff.CategoryCasual), 12, 11, 1)

		pending, err := svc.GetLeave(ctx, admin, loser)
		require.NoError(t, err)
		assert.Equal(t, generic.RequestPending, pending.Status)
	})
}

func TestScenario_AdminAdjust(t *testing.T) {
	forEachBackend(t, func(t *testing.T, st generic.TxStore) {
		svc := newService(t, st)

		b, err := svc.AdjustAllocation(context.Background(), admin, timeoff.AdjustInput{
			EmployeeID: generic.EntityID(employee.ID),
			Year:       2024,
			Category:   timeoff.CategorySick,
			Total:      generic.Days(15),
			Used:       generic.Days(5),
		})

		require.NoError(t, err)
		assertBucket(t, b, 15, 5, 10)
		assertBucket(t, bucketOf(t, svc, timeoff.CategorySick), 15, 5, 10)
	})
}

func TestScenario_DoubleDecide_Rejected(t *testing.T) {
	// GIVEN: An approved application
	// WHEN: Approving it again
	// THEN: InvalidStateTransition and no second deduction
	forEachBackend(t, func(t *testing.T, st generic.TxStore) {
		svc := newService(t, st)
		ctx := context.Background()

		app, err := svc.Submit(ctx, employee, submitInput(timeoff.CategoryVacation, date(2024, time.July, 1), date(2024, time.July, 3)))
		require.NoError(t, err)
		_, err = svc.Decide(ctx, admin, app.ID, timeoff.DecisionApprove, "")
		require.NoError(t, err)

		_, err = svc.Decide(ctx, admin, app.ID, timeoff.DecisionApprove, "")
		assert.ErrorIs(t, err, generic.ErrInvalidStateTransition)
		_, err = svc.Decide(ctx, admin, app.ID, timeoff.DecisionReject, "late")
		assert.ErrorIs(t, err, generic.ErrInvalidStateTransition)

		assertBucket(t, bucketOf(t, svc, timeoff.CategoryVacation), 15, 3, 12)
	})
}

// =============================================================================
// WORKFLOW
// =============================================================================

func TestDecide_Reject_DefaultReason_NoDeduction(t *testing.T) {
	forEachBackend(t, func(t *testing.T, st generic.TxStore) {
		svc := newService(t, st)
		ctx := context.Background()

		app, err := svc.Submit(ctx, employee, submitInput(timeoff.CategorySick, date(2024, time.March, 4), date(2024, time.March, 5)))
		require.NoError(t, err)

		rejected, err := svc.Decide(ctx, admin, app.ID, timeoff.DecisionReject, "")

		require.NoError(t, err)
		assert.Equal(t, generic.RequestRejected, rejected.Status)
		assert.Equal(t, timeoff.DefaultRejectionReason, rejected.RejectionReason)
		assertBucket(t, bucketOf(t, svc, timeoff.CategorySick), 10, 0, 10)
	})
}

func TestDecide_Reject_GivenReason(t *testing.T) {
	svc := newService(t, store.NewTxMemory())
	ctx := context.Background()
	app, err := svc.Submit(ctx, employee, submitInput(timeoff.CategorySick, date(2024, time.March, 4), date(2024, time.March, 4)))
	require.NoError(t, err)

	rejected, err := svc.Decide(ctx, admin, app.ID, timeoff.DecisionReject, "quarter close")

	require.NoError(t, err)
	assert.Equal(t, "quarter close", rejected.RejectionReason)
}

func TestDecide_NotFound(t *testing.T) {
	forEachBackend(t, func(t *testing.T, st generic.TxStore) {
		svc := newService(t, st)

		_, err := svc.Decide(context.Background(), admin, "missing", timeoff.DecisionApprove, "")

		assert.ErrorIs(t, err, generic.ErrNotFound)
	})
}

func TestDecide_InvalidAction(t *testing.T) {
	svc := newService(t, store.NewTxMemory())

	_, err := svc.Decide(context.Background(), admin, "lv-1", timeoff.DecisionAction("maybe"), "")

	assert.ErrorIs(t, err, generic.ErrValidation)
}

func TestDecide_InvalidActionFromEmployee_Forbidden(t *testing.T) {
	// GIVEN: Callers who may not decide, sending a malformed action
	// WHEN: They call Decide
	// THEN: The access error wins over the validation error
	svc := newService(t, store.NewTxMemory())
	ctx := context.Background()

	_, err := svc.Decide(ctx, generic.Actor{}, "lv-1", timeoff.DecisionAction("maybe"), "")
	assert.ErrorIs(t, err, generic.ErrUnauthorized)

	_, err = svc.Decide(ctx, employee, "lv-1", timeoff.DecisionAction("maybe"), "")
	assert.ErrorIs(t, err, generic.ErrForbidden)
	assert.NotErrorIs(t, err, generic.ErrValidation)
}

func TestDecide_EmployeeForbidden(t *testing.T) {
	svc := newService(t, store.NewTxMemory())
	ctx := context.Background()
	app, err := svc.Submit(ctx, employee, submitInput(timeoff.CategorySick, date(2024, time.March, 4), date(2024, time.March, 4)))
	require.NoError(t, err)

	_, err = svc.Decide(ctx, employee, app.ID, timeoff.DecisionApprove, "")

	assert.ErrorIs(t, err, generic.ErrForbidden)
}

func TestDecide_ApproveAfterBalanceShrank_StaysPending(t *testing.T) {
	// GIVEN: A pending 3-day request submitted against 10 sick days
	// WHEN: An admin cuts the allocation to 2 and then approves
	// THEN: InsufficientBalance and the request stays pending
	forEachBackend(t, func(t *testing.T, st generic.TxStore) {
		svc := newService(t, st)
		ctx := context.Background()
		app, err := svc.Submit(ctx, employee, submitInput(timeoff.CategorySick, date(2024, time.March, 4), date(2024, time.March, 6)))
		require.NoError(t, err)
		_, err = svc.AdjustAllocation(ctx, admin, timeoff.AdjustInput{
			EmployeeID: generic.EntityID(employee.ID), Year: 2024, Category: timeoff.CategorySick,
			Total: generic.Days(2), Used: generic.Days(0),
		})
		require.NoError(t, err)

		_, err = svc.Decide(ctx, admin, app.ID, timeoff.DecisionApprove, "")

		assert.ErrorIs(t, err, generic.ErrInsufficientBalance)
		stored, err := svc.GetLeave(ctx, admin, app.ID)
		require.NoError(t, err)
		assert.Equal(t, generic.RequestPending, stored.Status)
		assertBucket(t, bucketOf(t, svc, timeoff.CategorySick), 2, 0, 2)
	})
}

func TestCancel_ByOwner(t *testing.T) {
	forEachBackend(t, func(t *testing.T, st generic.TxStore) {
		svc := newService(t, st)
		ctx := context.Background()
		app, err := svc.Submit(ctx, employee, submitInput(timeoff.CategoryCasual, date(2024, time.August, 5), date(2024, time.August, 6)))
		require.NoError(t, err)

		cancelled, err := svc.Cancel(ctx, employee, app.ID)

		require.NoError(t, err)
		assert.Equal(t, generic.RequestCancelled, cancelled.Status)
		assert.Equal(t, employee.ID, cancelled.DecidedBy)

		_, err = svc.Decide(ctx, admin, app.ID, timeoff.DecisionApprove, "")
		assert.ErrorIs(t, err, generic.ErrInvalidStateTransition)
		assertBucket(t, bucketOf(t, svc, timeoff.CategoryCasual), 12, 0, 12)
	})
}

func TestCancel_OtherEmployeeForbidden(t *testing.T) {
	svc := newService(t, store.NewTxMemory())
	ctx := context.Background()
	app, err := svc.Submit(ctx, employee, submitInput(timeoff.CategoryCasual, date(2024, time.August, 5), date(2024, time.August, 6)))
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, generic.Actor{ID: "emp-2", Role: generic.RoleEmployee}, app.ID)

	assert.ErrorIs(t, err, generic.ErrForbidden)
}

func TestCancel_ApprovedIsTerminal(t *testing.T) {
	svc := newService(t, store.NewTxMemory())
	ctx := context.Background()
	app, err := svc.Submit(ctx, employee, submitInput(timeoff.CategoryCasual, date(2024, time.August, 5), date(2024, time.August, 6)))
	require.NoError(t, err)
	_, err = svc.Decide(ctx, admin, app.ID, timeoff.DecisionApprove, "")
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, admin, app.ID)

	assert.ErrorIs(t, err, generic.ErrInvalidStateTransition)
}

// =============================================================================
// SUBMIT VALIDATION
// =============================================================================

func TestSubmit_Validation(t *testing.T) {
	svc := newService(t, store.NewTxMemory())
	ctx := context.Background()
	base := submitInput(timeoff.CategorySick, date(2024, time.March, 4), date(2024, time.March, 5))

	tests := []struct {
		name   string
		mutate func(in *timeoff.SubmitInput)
		field  string
	}{
		{"end before start", func(in *timeoff.SubmitInput) { in.EndDate = date(2024, time.March, 1) }, "end_date"},
		{"missing reason", func(in *timeoff.SubmitInput) { in.Reason = "  " }, "reason"},
		{"missing start", func(in *timeoff.SubmitInput) { in.StartDate = generic.TimePoint{} }, "start_date"},
		{"unknown category", func(in *timeoff.SubmitInput) { in.Category = "sabbatical" }, "category"},
		{"half day without period", func(in *timeoff.SubmitInput) { in.HalfDay = true }, "half_day_period"},
		{"period without half day", func(in *timeoff.SubmitInput) { in.HalfDayPeriod = timeoff.HalfDayEvening }, "half_day_period"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := base
			tt.mutate(&in)

			_, err := svc.Submit(ctx, employee, in)

			require.ErrorIs(t, err, generic.ErrValidation)
			var verr *generic.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestSubmit_ForSomeoneElse_Forbidden(t *testing.T) {
	svc := newService(t, store.NewTxMemory())
	in := submitInput(timeoff.CategorySick, date(2024, time.March, 4), date(2024, time.March, 5))
	in.EmployeeID = "emp-2"

	_, err := svc.Submit(context.Background(), employee, in)

	assert.ErrorIs(t, err, generic.ErrForbidden)
}

func TestSubmit_Anonymous_Unauthorized(t *testing.T) {
	svc := newService(t, store.NewTxMemory())

	_, err := svc.Submit(context.Background(), generic.Actor{}, submitInput(timeoff.CategorySick, date(2024, time.March, 4), date(2024, time.March, 5)))

	assert.ErrorIs(t, err, generic.ErrUnauthorized)
}

func TestSubmit_UnknownEmployee_NotFound(t *testing.T) {
	mem := store.NewTxMemory()
	svc := newService(t, mem, timeoff.WithDirectory(mem))

	_, err := svc.Submit(context.Background(), employee, submitInput(timeoff.CategorySick, date(2024, time.March, 4), date(2024, time.March, 5)))
	assert.ErrorIs(t, err, generic.ErrNotFound)

	require.NoError(t, mem.SaveEmployee(context.Background(), generic.Employee{ID: generic.EntityID(employee.ID), Name: "Ada"}))
	_, err = svc.Submit(context.Background(), employee, submitInput(timeoff.CategorySick, date(2024, time.March, 4), date(2024, time.March, 5)))
	assert.NoError(t, err)
}

// =============================================================================
// OTHER CATEGORY
// =============================================================================

func TestOther_RejectMode(t *testing.T) {
	svc := newService(t, store.NewTxMemory())

	_, err := svc.Submit(context.Background(), employee, submitInput(timeoff.CategoryOther, date(2024, time.March, 4), date(2024, time.March, 5)))

	assert.ErrorIs(t, err, generic.ErrValidation)
}

func TestOther_UnlimitedMode_NoDeduction(t *testing.T) {
	// GIVEN: other_category = unlimited
	// WHEN: A 30-day "other" leave is submitted and approved
	// THEN: It succeeds and no bucket changes
	policy := timeoff.StandardAllocationPolicy()
	policy.OtherCategory = timeoff.OtherUnlimited
	svc, err := timeoff.NewLeaveService(store.NewTxMemory(), policy)
	require.NoError(t, err)
	ctx := context.Background()

	app, err := svc.Submit(ctx, employee, submitInput(timeoff.CategoryOther, date(2024, time.March, 1), date(2024, time.March, 30)))
	require.NoError(t, err)
	approved, err := svc.Decide(ctx, admin, app.ID, timeoff.DecisionApprove, "")
	require.NoError(t, err)

	assert.Equal(t, generic.RequestApproved, approved.Status)
	balance, err := svc.GetBalance(ctx, admin, generic.EntityID(employee.ID), 2024)
	require.NoError(t, err)
	_, hasOther := balance.Bucket(timeoff.CategoryOther)
	assert.False(t, hasOther)
	for _, b := range balance.Buckets {
		assert.True(t, b.Used.IsZero(), "%s untouched", b.ResourceType.ResourceID())
	}
}

// =============================================================================
// ADJUST
// =============================================================================

func TestAdjust_ClampMode_UsedAboveTotal(t *testing.T) {
	forEachBackend(t, func(t *testing.T, st generic.TxStore) {
		svc := newService(t, st)

		b, err := svc.AdjustAllocation(context.Background(), admin, timeoff.AdjustInput{
			EmployeeID: generic.EntityID(employee.ID), Year: 2024, Category: timeoff.CategorySick,
			Total: generic.Days(4), Used: generic.Days(6),
		})

		require.NoError(t, err)
		assertBucket(t, b, 4, 4, 0)
	})
}

func TestAdjust_RejectMode_AuditsFailure(t *testing.T) {
	policy := timeoff.StandardAllocationPolicy()
	policy.AdjustOverdraw = generic.OverdrawReject
	mem := store.NewTxMemory()
	svc, err := timeoff.NewLeaveService(mem, policy, timeoff.WithAuditLog(mem))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = svc.AdjustAllocation(ctx, admin, timeoff.AdjustInput{
		EmployeeID: generic.EntityID(employee.ID), Year: 2024, Category: timeoff.CategorySick,
		Total: generic.Days(4), Used: generic.Days(6),
	})

	assert.ErrorIs(t, err, generic.ErrValidation)
	events, err := mem.ListAudit(ctx, generic.AuditFilter{Actions: []generic.AuditAction{generic.AuditAllocationAdjustFailed}})
	require.NoError(t, err)
	require.Len(t, events, 1)
	failed := events[0].Payload.(generic.AllocationAdjustFailed)
	require.NotNil(t, failed.Before)
	assert.Equal(t, "10", failed.Before.Total)
	assert.Equal(t, "6", failed.Requested.Used)
}

func TestAdjust_NegativeClampedToZero(t *testing.T) {
	svc := newService(t, store.NewTxMemory())

	b, err := svc.AdjustAllocation(context.Background(), admin, timeoff.AdjustInput{
		EmployeeID: generic.EntityID(employee.ID), Year: 2024, Category: timeoff.CategoryEmergency,
		Total: generic.Days(-2), Used: generic.Days(-1),
	})

	require.NoError(t, err)
	assertBucket(t, b, 0, 0, 0)
}

func TestAdjust_EmployeeForbidden(t *testing.T) {
	svc := newService(t, store.NewTxMemory())

	_, err := svc.AdjustAllocation(context.Background(), employee, timeoff.AdjustInput{
		EmployeeID: generic.EntityID(employee.ID), Year: 2024, Category: timeoff.CategorySick,
		Total: generic.Days(30), Used: generic.Days(0),
	})

	assert.ErrorIs(t, err, generic.ErrForbidden)
}

func TestAdjust_OtherCategory_Invalid(t *testing.T) {
	svc := newService(t, store.NewTxMemory())

	_, err := svc.AdjustAllocation(context.Background(), admin, timeoff.AdjustInput{
		EmployeeID: generic.EntityID(employee.ID), Year: 2024, Category: timeoff.CategoryOther,
		Total: generic.Days(3), Used: generic.Days(0),
	})

	assert.ErrorIs(t, err, generic.ErrValidation)
}

// =============================================================================
// QUERIES
// =============================================================================

func TestListLeaves_EmployeeScopedToSelf(t *testing.T) {
	forEachBackend(t, func(t *testing.T, st generic.TxStore) {
		svc := newService(t, st)
		ctx := context.Background()
		other := generic.Actor{ID: "emp-2", Role: generic.RoleEmployee}

		_, err := svc.Submit(ctx, employee, submitInput(timeoff.CategorySick, date(2024, time.March, 4), date(2024, time.March, 4)))
		require.NoError(t, err)
		in := submitInput(timeoff.CategorySick, date(2024, time.March, 5), date(2024, time.March, 5))
		in.EmployeeID = "emp-2"
		_, err = svc.Submit(ctx, other, in)
		require.NoError(t, err)

		mine, err := svc.ListLeaves(ctx, employee, generic.RequestFilter{})
		require.NoError(t, err)
		require.Len(t, mine, 1)
		assert.Equal(t, generic.EntityID("emp-1"), mine[0].EntityID)

		_, err = svc.ListLeaves(ctx, employee, generic.RequestFilter{EntityID: "emp-2"})
		assert.ErrorIs(t, err, generic.ErrForbidden)

		all, err := svc.ListLeaves(ctx, admin, generic.RequestFilter{Status: generic.RequestPending, Year: 2024})
		require.NoError(t, err)
		assert.Len(t, all, 2)

		none, err := svc.ListLeaves(ctx, admin, generic.RequestFilter{Year: 2023})
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

func TestListLeaves_InvalidStatus(t *testing.T) {
	svc := newService(t, store.NewTxMemory())

	_, err := svc.ListLeaves(context.Background(), admin, generic.RequestFilter{Status: "lost"})

	assert.ErrorIs(t, err, generic.ErrValidation)
}

func TestGetBalance_CategoryOrder(t *testing.T) {
	svc := newService(t, store.NewTxMemory())

	balance, err := svc.GetBalance(context.Background(), employee, generic.EntityID(employee.ID), 2024)

	require.NoError(t, err)
	require.Len(t, balance.Buckets, 6)
	assert.Equal(t, "sick", balance.Buckets[0].ResourceType.ResourceID())
	assert.Equal(t, "emergency", balance.Buckets[5].ResourceType.ResourceID())
}

func TestGetBalance_OtherEmployeeForbidden(t *testing.T) {
	svc := newService(t, store.NewTxMemory())

	_, err := svc.GetBalance(context.Background(), employee, "emp-2", 2024)

	assert.ErrorIs(t, err, generic.ErrForbidden)
}

// =============================================================================
// COLLABORATORS
// =============================================================================

type mockAuthorizer struct {
	mock.Mock
}

func (m *mockAuthorizer) Authorize(ctx context.Context, actor generic.Actor, action generic.Action, resource generic.Resource) error {
	args := m.Called(ctx, actor, action, resource)
	return args.Error(0)
}

func TestSubmit_AsksAuthorizerWithOwner(t *testing.T) {
	authz := new(mockAuthorizer)
	authz.On("Authorize", mock.Anything, employee, generic.ActionSubmitLeave,
		generic.Resource{Kind: "leave", OwnerID: employee.ID}).Return(generic.ErrForbidden).Once()
	svc := newService(t, store.NewTxMemory(), timeoff.WithAuthorizer(authz))

	_, err := svc.Submit(context.Background(), employee, submitInput(timeoff.CategorySick, date(2024, time.March, 4), date(2024, time.March, 4)))

	assert.ErrorIs(t, err, generic.ErrForbidden)
	authz.AssertExpectations(t)
}

func TestAudit_EventPerStateChange(t *testing.T) {
	// GIVEN: A service writing audit events to the memory store
	// WHEN: Submit, approve, submit, cancel, adjust
	// THEN: One typed event per change, in order
	mem := store.NewTxMemory()
	svc := newService(t, mem, timeoff.WithAuditLog(mem))
	ctx := context.Background()

	a, err := svc.Submit(ctx, employee, submitInput(timeoff.CategorySick, date(2024, time.March, 4), date(2024, time.March, 5)))
	require.NoError(t, err)
	_, err = svc.Decide(ctx, admin, a.ID, timeoff.DecisionApprove, "")
	require.NoError(t, err)
	b, err := svc.Submit(ctx, employee, submitInput(timeoff.CategorySick, date(2024, time.April, 4), date(2024, time.April, 4)))
	require.NoError(t, err)
	_, err = svc.Cancel(ctx, employee, b.ID)
	require.NoError(t, err)
	_, err = svc.AdjustAllocation(ctx, admin, timeoff.AdjustInput{
		EmployeeID: generic.EntityID(employee.ID), Year: 2024, Category: timeoff.CategorySick,
		Total: generic.Days(12), Used: generic.Days(2),
	})
	require.NoError(t, err)

	events, err := mem.ListAudit(ctx, generic.AuditFilter{})
	require.NoError(t, err)
	actions := make([]generic.AuditAction, len(events))
	for i, e := range events {
		actions[i] = e.Action()
	}
	assert.Equal(t, []generic.AuditAction{
		generic.AuditLeaveSubmitted,
		generic.AuditLeaveDecided,
		generic.AuditLeaveSubmitted,
		generic.AuditLeaveCancelled,
		generic.AuditAllocationAdjusted,
	}, actions)

	decided := events[1].Payload.(generic.LeaveDecided)
	require.NotNil(t, decided.Deducted)
	assert.Equal(t, "8", decided.Deducted.Remaining)
	assert.Equal(t, admin.ID, events[1].ActorID)

	adjusted := events[4].Payload.(generic.AllocationAdjusted)
	assert.Equal(t, "10", adjusted.Before.Total)
	assert.Equal(t, "12", adjusted.After.Total)
	assert.Equal(t, "10", adjusted.After.Remaining)
}
