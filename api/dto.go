/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Leave:      SubmitLeaveRequest, DecisionRequest, LeaveDTO
  Balance:    BalanceDTO, BucketDTO, AdjustAllocationRequest
  Directory:  EmployeeDTO, CreateEmployeeRequest
  Reference:  CategoryDTO
  Audit:      AuditEventDTO
  Errors:     ErrorResponse

VALIDATION:
  Request bodies carry go-playground/validator tags and are checked by
  decodeJSON before they reach the service. Field names in validation
  errors are the JSON names. Domain rules (date order, half-day period,
  balance) stay in the service.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/timeoff"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// SubmitLeaveRequest applies for leave. EmployeeID defaults to the caller.
type SubmitLeaveRequest struct {
	EmployeeID    string `json:"employee_id"`
	Category      string `json:"category" validate:"required"`
	StartDate     string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate       string `json:"end_date" validate:"required,datetime=2006-01-02"`
	Reason        string `json:"reason" validate:"required"`
	HalfDay       bool   `json:"half_day"`
	HalfDayPeriod string `json:"half_day_period" validate:"omitempty,oneof=morning evening"`
}

// DecisionRequest approves or rejects a pending leave.
type DecisionRequest struct {
	Action          string `json:"action" validate:"required,oneof=approve reject"`
	RejectionReason string `json:"rejection_reason"`
}

// AdjustAllocationRequest sets a bucket's total and used days. Negative
// figures are accepted and clamped to zero by the engine.
type AdjustAllocationRequest struct {
	Total *float64 `json:"total" validate:"required"`
	Used  *float64 `json:"used" validate:"required"`
}

// CreateEmployeeRequest registers an employee in the directory.
type CreateEmployeeRequest struct {
	ID    string `json:"id" validate:"required"`
	Name  string `json:"name" validate:"required"`
	Email string `json:"email" validate:"omitempty,email"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// LeaveDTO represents a leave application in API responses.
type LeaveDTO struct {
	ID              string  `json:"id"`
	EmployeeID      string  `json:"employee_id"`
	Category        string  `json:"category"`
	StartDate       string  `json:"start_date"`
	EndDate         string  `json:"end_date"`
	HalfDay         bool    `json:"half_day"`
	HalfDayPeriod   string  `json:"half_day_period,omitempty"`
	TotalDays       float64 `json:"total_days"`
	Reason          string  `json:"reason"`
	Status          string  `json:"status"`
	AppliedAt       string  `json:"applied_at"`
	DecidedBy       string  `json:"decided_by,omitempty"`
	DecidedAt       *string `json:"decided_at,omitempty"`
	RejectionReason string  `json:"rejection_reason,omitempty"`
}

// BucketDTO is one category's allocation.
type BucketDTO struct {
	Category  string  `json:"category"`
	Total     float64 `json:"total"`
	Used      float64 `json:"used"`
	Remaining float64 `json:"remaining"`
}

// BalanceDTO is an employee's allocation for one year.
type BalanceDTO struct {
	EmployeeID  string      `json:"employee_id"`
	Year        int         `json:"year"`
	Allocations []BucketDTO `json:"allocations"`
}

// EmployeeDTO represents an employee in API responses.
type EmployeeDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

// CategoryDTO describes a leave category under the active policy.
type CategoryDTO struct {
	Name         string   `json:"name"`
	Tracked      bool     `json:"tracked"`
	DefaultTotal *float64 `json:"default_total,omitempty"`
}

// AuditEventDTO is one audit record. Payload is the action's typed body.
type AuditEventDTO struct {
	ID       string          `json:"id"`
	At       string          `json:"at"`
	ActorID  string          `json:"actor_id"`
	Action   string          `json:"action"`
	TargetID string          `json:"target_id"`
	Payload  json.RawMessage `json:"payload"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Field   string `json:"field,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toLeaveDTO(a timeoff.Application) LeaveDTO {
	dto := LeaveDTO{
		ID:              string(a.ID),
		EmployeeID:      string(a.EntityID),
		Category:        a.ResourceType.ResourceID(),
		StartDate:       a.Start.String(),
		EndDate:         a.End.String(),
		HalfDay:         a.HalfDay,
		HalfDayPeriod:   a.HalfDayPeriod,
		TotalDays:       a.Amount.Float64(),
		Reason:          a.Reason,
		Status:          string(a.Status),
		AppliedAt:       a.AppliedAt.UTC().Format(time.RFC3339),
		DecidedBy:       a.DecidedBy,
		RejectionReason: a.RejectionReason,
	}
	if a.DecidedAt != nil {
		at := a.DecidedAt.UTC().Format(time.RFC3339)
		dto.DecidedAt = &at
	}
	return dto
}

func toLeaveDTOs(apps []timeoff.Application) []LeaveDTO {
	dtos := make([]LeaveDTO, len(apps))
	for i, a := range apps {
		dtos[i] = toLeaveDTO(a)
	}
	return dtos
}

func toBucketDTO(b generic.Bucket) BucketDTO {
	return BucketDTO{
		Category:  b.ResourceType.ResourceID(),
		Total:     b.Total.Float64(),
		Used:      b.Used.Float64(),
		Remaining: b.Remaining.Float64(),
	}
}

func toBalanceDTO(b timeoff.Balance) BalanceDTO {
	dto := BalanceDTO{
		EmployeeID:  string(b.EmployeeID),
		Year:        b.Year,
		Allocations: make([]BucketDTO, len(b.Buckets)),
	}
	for i, bucket := range b.Buckets {
		dto.Allocations[i] = toBucketDTO(bucket)
	}
	return dto
}

func toEmployeeDTO(e generic.Employee) EmployeeDTO {
	dto := EmployeeDTO{ID: string(e.ID), Name: e.Name, Email: e.Email}
	if !e.CreatedAt.IsZero() {
		dto.CreatedAt = e.CreatedAt.UTC().Format(time.RFC3339)
	}
	return dto
}

func toAuditEventDTO(e generic.AuditEvent) (AuditEventDTO, error) {
	payload, err := generic.MarshalAuditPayload(e)
	if err != nil {
		return AuditEventDTO{}, err
	}
	return AuditEventDTO{
		ID:       e.ID,
		At:       e.At.UTC().Format(time.RFC3339Nano),
		ActorID:  e.ActorID,
		Action:   string(e.Action()),
		TargetID: e.TargetID,
		Payload:  payload,
	}, nil
}

// =============================================================================
// DECODING
// =============================================================================

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeJSON reads r's body into dst and validates it. Failures come back
// as *generic.ValidationError.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return generic.Invalid("body", "malformed JSON: %v", err)
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return validationMessage(verrs[0])
		}
		return generic.Invalid("body", "%v", err)
	}
	return nil
}

func validationMessage(fe validator.FieldError) error {
	switch fe.Tag() {
	case "required":
		return generic.Invalid(fe.Field(), "is required")
	case "datetime":
		return generic.Invalid(fe.Field(), "must be a date formatted %s", fe.Param())
	case "oneof":
		return generic.Invalid(fe.Field(), "must be one of: %s", fe.Param())
	case "email":
		return generic.Invalid(fe.Field(), "must be an email address")
	default:
		return generic.Invalid(fe.Field(), "is invalid (%s)", fe.Tag())
	}
}
