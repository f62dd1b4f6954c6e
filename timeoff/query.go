package timeoff

import (
	"context"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// QUERIES - Read-only views, scoped by actor
// =============================================================================

// Balance is an employee's allocation row set for one year.
type Balance struct {
	EmployeeID generic.EntityID
	Year       int
	Buckets    []generic.Bucket // category order
}

// Bucket returns the bucket for c.
func (b Balance) Bucket(c Category) (generic.Bucket, bool) {
	for _, bucket := range b.Buckets {
		if bucket.ResourceType.ResourceID() == string(c) {
			return bucket, true
		}
	}
	return generic.Bucket{}, false
}

// ListLeaves returns applications matching filter, newest first. Employees
// only ever see their own; an empty EntityID is narrowed to the actor.
func (s *LeaveService) ListLeaves(ctx context.Context, actor generic.Actor, filter generic.RequestFilter) ([]Application, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, generic.Invalid("status", "unknown status %q", filter.Status)
	}
	if filter.Year < 0 {
		return nil, generic.Invalid("year", "%d is out of range", filter.Year)
	}
	if filter.EntityID == "" && !actor.IsAdmin() {
		filter.EntityID = generic.EntityID(actor.ID)
	}
	if err := s.authorize(ctx, actor, generic.ActionReadLeave, generic.Resource{Kind: "leave", OwnerID: string(filter.EntityID)}); err != nil {
		return nil, err
	}

	apps, err := s.store.ListRequests(ctx, filter)
	if err != nil {
		return nil, s.fail("list", err)
	}
	return apps, nil
}

// GetLeave fetches one application.
func (s *LeaveService) GetLeave(ctx context.Context, actor generic.Actor, id generic.RequestID) (Application, error) {
	app, err := s.store.GetRequest(ctx, id)
	if err != nil {
		return Application{}, s.fail("get", err)
	}
	if app == nil {
		return Application{}, &generic.NotFoundError{Kind: "leave", ID: string(id)}
	}
	if err := s.authorize(ctx, actor, generic.ActionReadLeave, generic.Resource{Kind: "leave", ID: string(id), OwnerID: string(app.EntityID)}); err != nil {
		return Application{}, err
	}
	return *app, nil
}

// GetBalance returns the employee's buckets for year, creating the row set
// on first access.
func (s *LeaveService) GetBalance(ctx context.Context, actor generic.Actor, employeeID generic.EntityID, year int) (Balance, error) {
	if err := s.authorize(ctx, actor, generic.ActionReadBalance, generic.Resource{Kind: "allocation", OwnerID: string(employeeID)}); err != nil {
		return Balance{}, err
	}
	if err := s.requireEmployee(ctx, employeeID); err != nil {
		return Balance{}, s.fail("balance", err)
	}
	record, err := s.ledger.GetOrCreateAllocation(ctx, generic.AllocationKey{EntityID: employeeID, Year: year})
	if err != nil {
		return Balance{}, s.fail("balance", err)
	}

	balance := Balance{EmployeeID: employeeID, Year: year}
	for _, c := range AllCategories {
		if b, ok := record.Bucket(c); ok {
			balance.Buckets = append(balance.Buckets, b)
		}
	}
	return balance, nil
}
