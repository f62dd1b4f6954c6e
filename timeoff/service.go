/*
service.go - Leave application workflow

PURPOSE:
  LeaveService is the entry point for every leave operation. It is the only
  caller of the reconciliation guard's Deduct, and it records an audit event
  after each state change.

OPERATIONS:
  Submit:           validate, lazily create the allocation row set, check
                    balance (advisory, nothing is reserved), persist pending
  Decide:           approve or reject a pending application
  Cancel:           withdraw a pending application (owner or admin)
  AdjustAllocation: administrative reset of one bucket, bypasses the workflow

APPROVAL IS TRANSACTIONAL:
  Inside one store transaction:
    1. reload the application, refuse unless pending
    2. re-check remaining >= totalDays
    3. Deduct through the guard (compare-and-swap on the bucket version)
    4. move the application to approved, conditional on it still being pending
  If any step fails, nothing is written and the application stays pending.
  A lost race (ErrConcurrencyConflict) reruns the whole decision once; by
  then the winner's deduction is visible and the loser usually sees
  InsufficientBalance.

AUDIT:
  Events are recorded after the transaction commits. A failing audit sink
  is logged and does not undo the operation.

SEE ALSO:
  - generic/reconcile.go: Deduct / Adjust
  - generic/ledger.go: Lazy allocation rows
  - query.go: Read side
*/
package timeoff

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// SERVICE
// =============================================================================

type LeaveService struct {
	store  generic.TxStore
	policy AllocationPolicy
	ledger *generic.Ledger
	authz  generic.Authorizer
	audit  generic.AuditLog
	people generic.EmployeeStore
	logger *zap.Logger
	now    func() time.Time
	newID  func() generic.RequestID
}

type Option func(*LeaveService)

func WithAuthorizer(a generic.Authorizer) Option {
	return func(s *LeaveService) { s.authz = a }
}

func WithAuditLog(a generic.AuditLog) Option {
	return func(s *LeaveService) { s.audit = a }
}

// WithDirectory makes operations on unknown employees fail with
// NotFoundError.
func WithDirectory(d generic.EmployeeStore) Option {
	return func(s *LeaveService) { s.people = d }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *LeaveService) { s.logger = l }
}

// WithClock replaces time.Now for appliedAt / decidedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(s *LeaveService) { s.now = now }
}

func WithIDGenerator(gen func() generic.RequestID) Option {
	return func(s *LeaveService) { s.newID = gen }
}

func NewLeaveService(store generic.TxStore, policy AllocationPolicy, opts ...Option) (*LeaveService, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	s := &LeaveService{
		store:  store,
		policy: policy,
		authz:  generic.OwnershipAuthorizer{},
		audit:  generic.NopAuditLog{},
		logger: zap.NewNop(),
		now:    time.Now,
		newID:  func() generic.RequestID { return generic.RequestID(uuid.NewString()) },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("leave.service")
	s.ledger = generic.NewLedger(store, policy.GenericEntitlements())
	return s, nil
}

func (s *LeaveService) Policy() AllocationPolicy { return s.policy }

// =============================================================================
// SUBMIT
// =============================================================================

// Submit creates a pending application. The balance check here only gates
// the submission; nothing is deducted until approval.
func (s *LeaveService) Submit(ctx context.Context, actor generic.Actor, in SubmitInput) (Application, error) {
	if err := s.authorize(ctx, actor, generic.ActionSubmitLeave, generic.Resource{Kind: "leave", OwnerID: string(in.EmployeeID)}); err != nil {
		return Application{}, err
	}

	app, err := NewApplication(s.newID(), in, s.now())
	if err != nil {
		return Application{}, err
	}
	if err := s.requireEmployee(ctx, in.EmployeeID); err != nil {
		return Application{}, s.fail("submit", err)
	}

	tracked, err := s.tracked(in.Category)
	if err != nil {
		return Application{}, err
	}

	record, err := s.ledger.GetOrCreateAllocation(ctx, app.Key())
	if err != nil {
		return Application{}, s.fail("submit", err)
	}

	if tracked {
		bucket, ok := record.Bucket(in.Category)
		if !ok {
			return Application{}, s.fail("submit", fmt.Errorf("allocation %s has no %s bucket", app.Key(), in.Category))
		}
		if !bucket.Covers(app.Amount) {
			return Application{}, &generic.InsufficientBalanceError{
				Key:          app.Key(),
				ResourceType: in.Category,
				Available:    bucket.Remaining,
				Requested:    app.Amount,
			}
		}
	}

	if err := s.store.CreateRequest(ctx, app); err != nil {
		return Application{}, s.fail("submit", err)
	}

	s.logger.Info("leave submitted",
		zap.String("leave_id", string(app.ID)),
		zap.String("employee_id", string(app.EntityID)),
		zap.String("category", string(in.Category)),
		zap.String("total_days", app.Amount.String()),
	)
	s.record(ctx, actor, string(app.ID), generic.LeaveSubmitted{After: generic.SnapshotRequest(app)})
	return app, nil
}

// =============================================================================
// DECIDE
// =============================================================================

// Decide approves or rejects a pending application.
//
// Errors:
//   - NotFoundError if the application does not exist
//   - TransitionError if it is no longer pending
//   - InsufficientBalanceError if approval would overdraw (stays pending)
//   - ErrConcurrencyConflict if the decision lost a race twice
func (s *LeaveService) Decide(ctx context.Context, actor generic.Actor, id generic.RequestID, action DecisionAction, rejectionReason string) (Application, error) {
	if err := s.authorize(ctx, actor, generic.ActionDecideLeave, generic.Resource{Kind: "leave", ID: string(id)}); err != nil {
		return Application{}, err
	}
	if !action.Valid() {
		return Application{}, generic.Invalid("action", "must be %q or %q, got %q", DecisionApprove, DecisionReject, action)
	}

	var (
		before, after Application
		deducted      *generic.Bucket
	)
	err := s.retryOnce(ctx, "decide", func() error {
		var err error
		before, after, deducted, err = s.decideOnce(ctx, actor, id, action, rejectionReason)
		return err
	})
	if err != nil {
		return Application{}, s.fail("decide", err)
	}

	payload := generic.LeaveDecided{
		Before: generic.SnapshotRequest(before),
		After:  generic.SnapshotRequest(after),
	}
	if deducted != nil {
		snap := generic.SnapshotBucket(after.Key(), *deducted)
		payload.Deducted = &snap
	}

	s.logger.Info("leave decided",
		zap.String("leave_id", string(id)),
		zap.String("status", string(after.Status)),
		zap.String("decided_by", actor.ID),
	)
	s.record(ctx, actor, string(id), payload)
	return after, nil
}

func (s *LeaveService) decideOnce(ctx context.Context, actor generic.Actor, id generic.RequestID, action DecisionAction, rejectionReason string) (Application, Application, *generic.Bucket, error) {
	var (
		before, after Application
		deducted      *generic.Bucket
	)
	err := s.store.WithTx(ctx, func(tx generic.Store) error {
		current, err := tx.GetRequest(ctx, id)
		if err != nil {
			return err
		}
		if current == nil {
			return &generic.NotFoundError{Kind: "leave", ID: string(id)}
		}
		before = *current

		next, err := current.Transition(action.Target(), actor.ID, s.now(), s.policy.rejectionReason(rejectionReason))
		if err != nil {
			return err
		}

		if action == DecisionApprove {
			category := CategoryOf(*current)
			tracked, err := s.tracked(category)
			if err != nil {
				return err
			}
			if tracked {
				b, err := s.deduct(ctx, tx, *current, category)
				if err != nil {
					return err
				}
				deducted = &b
			}
		}

		if err := tx.TransitionRequest(ctx, next, generic.RequestPending); err != nil {
			return err
		}
		after = next
		return nil
	})
	return before, after, deducted, err
}

// deduct re-checks the balance and draws the application's days from it.
func (s *LeaveService) deduct(ctx context.Context, tx generic.Store, app Application, category Category) (generic.Bucket, error) {
	ledger := generic.NewLedger(tx, s.ledger.Entitlements)
	record, err := ledger.GetOrCreateAllocation(ctx, app.Key())
	if err != nil {
		return generic.Bucket{}, err
	}
	bucket, ok := record.Bucket(category)
	if !ok {
		return generic.Bucket{}, fmt.Errorf("allocation %s has no %s bucket", app.Key(), category)
	}
	if !bucket.Covers(app.Amount) {
		return generic.Bucket{}, &generic.InsufficientBalanceError{
			Key:          app.Key(),
			ResourceType: category,
			Available:    bucket.Remaining,
			Requested:    app.Amount,
		}
	}
	return generic.NewReconciliationGuard(tx).Deduct(ctx, app.Key(), category, app.Amount)
}

// =============================================================================
// CANCEL
// =============================================================================

// Cancel withdraws a pending application. No balance was taken, so none is
// returned.
func (s *LeaveService) Cancel(ctx context.Context, actor generic.Actor, id generic.RequestID) (Application, error) {
	existing, err := s.store.GetRequest(ctx, id)
	if err != nil {
		return Application{}, s.fail("cancel", err)
	}
	if existing == nil {
		return Application{}, &generic.NotFoundError{Kind: "leave", ID: string(id)}
	}
	if err := s.authorize(ctx, actor, generic.ActionCancelLeave, generic.Resource{Kind: "leave", ID: string(id), OwnerID: string(existing.EntityID)}); err != nil {
		return Application{}, err
	}

	var before, after Application
	err = s.retryOnce(ctx, "cancel", func() error {
		return s.store.WithTx(ctx, func(tx generic.Store) error {
			current, err := tx.GetRequest(ctx, id)
			if err != nil {
				return err
			}
			if current == nil {
				return &generic.NotFoundError{Kind: "leave", ID: string(id)}
			}
			next, err := current.Transition(generic.RequestCancelled, actor.ID, s.now(), "")
			if err != nil {
				return err
			}
			if err := tx.TransitionRequest(ctx, next, generic.RequestPending); err != nil {
				return err
			}
			before, after = *current, next
			return nil
		})
	})
	if err != nil {
		return Application{}, s.fail("cancel", err)
	}

	s.logger.Info("leave cancelled", zap.String("leave_id", string(id)), zap.String("cancelled_by", actor.ID))
	s.record(ctx, actor, string(id), generic.LeaveCancelled{
		Before: generic.SnapshotRequest(before),
		After:  generic.SnapshotRequest(after),
	})
	return after, nil
}

// =============================================================================
// ADJUST ALLOCATION
// =============================================================================

type AdjustInput struct {
	EmployeeID generic.EntityID
	Year       int
	Category   Category
	Total      generic.Amount
	Used       generic.Amount
}

// AdjustAllocation administratively sets total and used on one bucket.
// Negative figures are clamped to zero; used above total follows the
// policy's overdraw mode. Failed attempts are audited too.
func (s *LeaveService) AdjustAllocation(ctx context.Context, actor generic.Actor, in AdjustInput) (generic.Bucket, error) {
	if err := s.authorize(ctx, actor, generic.ActionAdjustAllocation, generic.Resource{Kind: "allocation", OwnerID: string(in.EmployeeID)}); err != nil {
		return generic.Bucket{}, err
	}

	key := generic.AllocationKey{EntityID: in.EmployeeID, Year: in.Year}
	requested := generic.BucketSnapshot{
		EmployeeID: string(in.EmployeeID),
		Year:       in.Year,
		Category:   string(in.Category),
		Total:      in.Total.String(),
		Used:       in.Used.String(),
	}

	var before, after generic.Bucket
	err := s.validateAdjust(in)
	if err == nil {
		err = s.requireEmployee(ctx, in.EmployeeID)
	}
	if err == nil {
		err = s.retryOnce(ctx, "adjust", func() error {
			return s.store.WithTx(ctx, func(tx generic.Store) error {
				ledger := generic.NewLedger(tx, s.ledger.Entitlements)
				var err error
				before, after, err = ledger.AdjustAllocation(ctx, key, in.Category, in.Total, in.Used, s.policy.AdjustOverdraw)
				return err
			})
		})
	}

	if err != nil {
		failed := generic.AllocationAdjustFailed{Requested: requested, Error: err.Error()}
		if before.ResourceType != nil {
			snap := generic.SnapshotBucket(key, before)
			failed.Before = &snap
		}
		s.record(ctx, actor, key.String(), failed)
		return generic.Bucket{}, s.fail("adjust", err)
	}

	s.logger.Info("allocation adjusted",
		zap.String("employee_id", string(in.EmployeeID)),
		zap.Int("year", in.Year),
		zap.String("category", string(in.Category)),
		zap.String("total", after.Total.String()),
		zap.String("used", after.Used.String()),
	)
	s.record(ctx, actor, key.String(), generic.AllocationAdjusted{
		Before: generic.SnapshotBucket(key, before),
		After:  generic.SnapshotBucket(key, after),
	})
	return after, nil
}

func (s *LeaveService) validateAdjust(in AdjustInput) error {
	if in.EmployeeID == "" {
		return generic.Invalid("employee_id", "is required")
	}
	if !in.Category.Valid() {
		return generic.Invalid("category", "unknown leave category %q", in.Category)
	}
	if !s.policy.Tracked(in.Category) {
		return generic.Invalid("category", "%s has no allocation", in.Category)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// tracked reports whether c draws on a bucket. "other" is governed by the
// policy's OtherCategory switch.
func (s *LeaveService) tracked(c Category) (bool, error) {
	if c == CategoryOther {
		if s.policy.OtherCategory == OtherUnlimited {
			return false, nil
		}
		return false, generic.Invalid("category", "%q leave is not accepted", c)
	}
	if !s.policy.Tracked(c) {
		return false, generic.Invalid("category", "%s has no allocation", c)
	}
	return true, nil
}

func (s *LeaveService) requireEmployee(ctx context.Context, id generic.EntityID) error {
	if s.people == nil {
		return nil
	}
	e, err := s.people.GetEmployee(ctx, id)
	if err != nil {
		return fmt.Errorf("look up employee %s: %w", id, err)
	}
	if e == nil {
		return &generic.NotFoundError{Kind: "employee", ID: string(id)}
	}
	return nil
}

func (s *LeaveService) authorize(ctx context.Context, actor generic.Actor, action generic.Action, resource generic.Resource) error {
	if err := s.authz.Authorize(ctx, actor, action, resource); err != nil {
		s.logger.Warn("access denied",
			zap.String("actor_id", actor.ID),
			zap.String("role", string(actor.Role)),
			zap.String("action", string(action)),
			zap.String("owner_id", resource.OwnerID),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// retryOnce runs fn, and runs it again if it lost a race.
func (s *LeaveService) retryOnce(ctx context.Context, op string, fn func() error) error {
	err := fn()
	if !generic.IsRetryable(err) || ctx.Err() != nil {
		return err
	}
	s.logger.Debug("retrying after concurrency conflict", zap.String("op", op))
	return fn()
}

// fail logs unexpected errors. Business errors pass through untouched.
func (s *LeaveService) fail(op string, err error) error {
	if !generic.IsClientError(err) && !errors.Is(err, context.Canceled) {
		s.logger.Error("operation failed", zap.String("op", op), zap.Error(err))
	}
	return err
}

func (s *LeaveService) record(ctx context.Context, actor generic.Actor, targetID string, payload generic.AuditPayload) {
	event := generic.NewAuditEvent(actor.ID, targetID, s.now(), payload)
	if err := s.audit.Record(ctx, event); err != nil {
		s.logger.Error("audit record failed",
			zap.String("action", string(event.Action())),
			zap.String("target_id", targetID),
			zap.Error(err),
		)
	}
}
