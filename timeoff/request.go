/*
request.go - Leave application input and day counting

PURPOSE:
  Turns raw submission input into a pending generic.Request. All input
  validation for a submission happens here, before any store is touched.

DAY COUNTING:
  half day:  0.5, whatever the span
  otherwise: (end - start in whole days) + 1, calendar days inclusive

  2024-01-01 .. 2024-01-05 -> 5
  2024-01-01 .. 2024-01-01 -> 1
  2024-01-01 .. 2024-03-01 half day -> 0.5

  The figure is computed once at submission and stored with the request.
*/
package timeoff

import (
	"strings"
	"time"

	"github.com/warp/leave-engine/generic"
)

// Application is a leave application as stored by the engine.
type Application = generic.Request

// SubmitInput is what an employee provides when applying for leave.
type SubmitInput struct {
	EmployeeID    generic.EntityID
	Category      Category
	StartDate     generic.TimePoint
	EndDate       generic.TimePoint
	Reason        string
	HalfDay       bool
	HalfDayPeriod HalfDayPeriod
}

// Validate checks required fields and the span.
func (in SubmitInput) Validate() error {
	if in.EmployeeID == "" {
		return generic.Invalid("employee_id", "is required")
	}
	if !in.Category.Valid() {
		return generic.Invalid("category", "unknown leave category %q", in.Category)
	}
	if in.StartDate.IsZero() {
		return generic.Invalid("start_date", "is required")
	}
	if in.EndDate.IsZero() {
		return generic.Invalid("end_date", "is required")
	}
	if in.EndDate.Before(in.StartDate) {
		return generic.Invalid("end_date", "%s is before start date %s", in.EndDate, in.StartDate)
	}
	if strings.TrimSpace(in.Reason) == "" {
		return generic.Invalid("reason", "is required")
	}
	if in.HalfDay && !in.HalfDayPeriod.Valid() {
		return generic.Invalid("half_day_period", "must be %q or %q for a half day", HalfDayMorning, HalfDayEvening)
	}
	if !in.HalfDay && in.HalfDayPeriod != "" {
		return generic.Invalid("half_day_period", "only allowed on a half day")
	}
	return nil
}

// ComputeTotalDays returns the number of leave days the span covers.
func ComputeTotalDays(start, end generic.TimePoint, halfDay bool) (generic.Amount, error) {
	if end.Before(start) {
		return generic.Amount{}, generic.Invalid("end_date", "%s is before start date %s", end, start)
	}
	var total generic.Amount
	if halfDay {
		total = generic.Days(0.5)
	} else {
		total = generic.NewAmountFromInt(start.DaysUntil(end)+1, generic.UnitDays)
	}
	if !total.IsPositive() {
		return generic.Amount{}, generic.Invalid("total_days", "must be positive, got %v", total.Value)
	}
	return total, nil
}

// NewApplication builds the pending request for a validated input.
func NewApplication(id generic.RequestID, in SubmitInput, appliedAt time.Time) (Application, error) {
	if err := in.Validate(); err != nil {
		return Application{}, err
	}
	total, err := ComputeTotalDays(in.StartDate, in.EndDate, in.HalfDay)
	if err != nil {
		return Application{}, err
	}
	return Application{
		ID:            id,
		EntityID:      in.EmployeeID,
		ResourceType:  in.Category,
		Start:         in.StartDate,
		End:           in.EndDate,
		HalfDay:       in.HalfDay,
		HalfDayPeriod: string(in.HalfDayPeriod),
		Amount:        total,
		Reason:        strings.TrimSpace(in.Reason),
		Status:        generic.RequestPending,
		AppliedAt:     appliedAt.UTC(),
	}, nil
}

// CategoryOf returns the leave category of a stored application.
func CategoryOf(a Application) Category {
	if c, ok := a.ResourceType.(Category); ok {
		return c
	}
	return Category(a.ResourceType.ResourceID())
}
