/*
request.go - Consumption request and its state machine

PURPOSE:
  A Request asks to draw Amount from one bucket of the allocation row for
  (EntityID, year of Start). Submitting a request does not hold balance;
  only approval consumes it, through the reconciliation guard.

STATE MACHINE:
  ┌─────────┐   approve   ┌──────────┐
  │ pending │ ──────────▶ │ approved │
  │         │   reject    ├──────────┤
  │         │ ──────────▶ │ rejected │
  │         │   cancel    ├───────────┐
  │         │ ──────────▶ │ cancelled │
  └─────────┘             └───────────┘

  Nothing leaves approved, rejected or cancelled.

SEE ALSO:
  - timeoff/service.go: Submit / Decide / Cancel
  - store.go: TransitionRequest (conditional on the prior status)
*/
package generic

import (
	"time"
)

// =============================================================================
// REQUEST STATUS
// =============================================================================

type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestApproved  RequestStatus = "approved"
	RequestRejected  RequestStatus = "rejected"
	RequestCancelled RequestStatus = "cancelled"
)

func (s RequestStatus) Valid() bool {
	switch s {
	case RequestPending, RequestApproved, RequestRejected, RequestCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func (s RequestStatus) IsTerminal() bool {
	return s == RequestApproved || s == RequestRejected || s == RequestCancelled
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to RequestStatus) bool {
	return from == RequestPending && to.IsTerminal()
}

// =============================================================================
// REQUEST
// =============================================================================

type Request struct {
	ID           RequestID
	EntityID     EntityID
	ResourceType ResourceType

	// Inclusive calendar span
	Start         TimePoint
	End           TimePoint
	HalfDay       bool
	HalfDayPeriod string

	// Fixed at creation, never recomputed
	Amount Amount

	Reason    string
	Status    RequestStatus
	AppliedAt time.Time

	// Set only when leaving pending
	DecidedBy       string
	DecidedAt       *time.Time
	RejectionReason string
}

// Year is the calendar year whose allocation row the request draws on.
func (r Request) Year() int {
	return r.Start.Year()
}

// Key is the allocation row the request references.
func (r Request) Key() AllocationKey {
	return AllocationKey{EntityID: r.EntityID, Year: r.Year()}
}

// Transition returns a copy of r moved to status `to`, stamped with the
// decider. The receiver is left untouched.
func (r Request) Transition(to RequestStatus, decidedBy string, at time.Time, rejectionReason string) (Request, error) {
	if !CanTransition(r.Status, to) {
		return r, &TransitionError{RequestID: r.ID, From: r.Status, To: to}
	}
	next := r
	next.Status = to
	next.DecidedBy = decidedBy
	decidedAt := at.UTC()
	next.DecidedAt = &decidedAt
	if to == RequestRejected {
		next.RejectionReason = rejectionReason
	}
	return next, nil
}

// RequestFilter narrows ListRequests. Zero values mean "any".
type RequestFilter struct {
	EntityID EntityID
	Status   RequestStatus
	Year     int
}

func (f RequestFilter) Matches(r Request) bool {
	if f.EntityID != "" && r.EntityID != f.EntityID {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.Year != 0 && r.Year() != f.Year {
		return false
	}
	return true
}
