/*
handlers.go - HTTP API handlers for the leave engine

PURPOSE:
  Exposes the leave workflow, allocation ledger and queries via REST. Handles
  HTTP request/response, JSON serialization, and delegates to
  timeoff.LeaveService. The caller is the actor resolved by Authenticate.

ENDPOINTS:
  Leaves:
    POST   /api/v1/leaves                    Submit a leave application
    GET    /api/v1/leaves                    List (?employee_id=&status=&year=)
    GET    /api/v1/leaves/{id}               Get one application
    POST   /api/v1/leaves/{id}/decision      Approve or reject
    POST   /api/v1/leaves/{id}/cancel        Cancel a pending application

  Allocations:
    GET    /api/v1/employees/{id}/balance    Buckets for ?year= (default: this year)
    PUT    /api/v1/employees/{id}/allocations/{year}/{category}
                                             Administrative adjustment

  Directory (admin):
    GET    /api/v1/employees                 List employees
    POST   /api/v1/employees                 Register employee
    GET    /api/v1/employees/{id}            Get employee

  Audit (admin):
    GET    /api/v1/audit                     Events (?target_id=&actor_id=&action=&limit=)

  Reference:
    GET    /api/v1/categories                Categories under the active policy
    GET    /healthz                          Liveness

REQUEST FLOW:
  1. Parse path/query, decode and validate body (dto.go)
  2. Call the service with the request's actor
  3. Serialize response
  4. Map errors to statuses (errors.go)

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/timeoff"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *timeoff.LeaveService

	// Directory backs the employee routes; nil disables them.
	Directory generic.EmployeeStore

	// Audit backs the audit route; nil disables it.
	Audit generic.AuditReader

	// Ping reports storage health; nil means always healthy.
	Ping func(ctx context.Context) error

	logger *zap.Logger
	now    func() time.Time
}

// NewHandler creates a handler around svc.
func NewHandler(svc *timeoff.LeaveService, directory generic.EmployeeStore, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Service:   svc,
		Directory: directory,
		logger:    logger.Named("api"),
		now:       time.Now,
	}
}

// =============================================================================
// LEAVE HANDLERS
// =============================================================================

// SubmitLeave applies for leave.
// POST /api/v1/leaves
func (h *Handler) SubmitLeave(w http.ResponseWriter, r *http.Request) {
	actor := ActorFrom(r.Context())

	var req SubmitLeaveRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	in, err := toSubmitInput(req, actor)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	app, err := h.Service.Submit(r.Context(), actor, in)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toLeaveDTO(app))
}

func toSubmitInput(req SubmitLeaveRequest, actor generic.Actor) (timeoff.SubmitInput, error) {
	category, err := timeoff.ParseCategory(req.Category)
	if err != nil {
		return timeoff.SubmitInput{}, err
	}
	start, err := generic.ParseDate(req.StartDate)
	if err != nil {
		return timeoff.SubmitInput{}, generic.Invalid("start_date", "must be a date formatted %s", generic.DateLayout)
	}
	end, err := generic.ParseDate(req.EndDate)
	if err != nil {
		return timeoff.SubmitInput{}, generic.Invalid("end_date", "must be a date formatted %s", generic.DateLayout)
	}
	employeeID := req.EmployeeID
	if employeeID == "" {
		employeeID = actor.ID
	}
	return timeoff.SubmitInput{
		EmployeeID:    generic.EntityID(employeeID),
		Category:      category,
		StartDate:     start,
		EndDate:       end,
		Reason:        req.Reason,
		HalfDay:       req.HalfDay,
		HalfDayPeriod: timeoff.HalfDayPeriod(req.HalfDayPeriod),
	}, nil
}

// ListLeaves returns applications matching the query.
// GET /api/v1/leaves?employee_id=&status=&year=
func (h *Handler) ListLeaves(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := generic.RequestFilter{
		EntityID: generic.EntityID(q.Get("employee_id")),
		Status:   generic.RequestStatus(strings.ToLower(q.Get("status"))),
	}
	if raw := q.Get("year"); raw != "" {
		year, err := strconv.Atoi(raw)
		if err != nil {
			h.writeServiceError(w, r, generic.Invalid("year", "must be a number"))
			return
		}
		filter.Year = year
	}

	apps, err := h.Service.ListLeaves(r.Context(), ActorFrom(r.Context()), filter)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLeaveDTOs(apps))
}

// GetLeave returns one application.
// GET /api/v1/leaves/{id}
func (h *Handler) GetLeave(w http.ResponseWriter, r *http.Request) {
	id := generic.RequestID(chi.URLParam(r, "id"))
	app, err := h.Service.GetLeave(r.Context(), ActorFrom(r.Context()), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLeaveDTO(app))
}

// DecideLeave approves or rejects a pending application.
// POST /api/v1/leaves/{id}/decision
func (h *Handler) DecideLeave(w http.ResponseWriter, r *http.Request) {
	id := generic.RequestID(chi.URLParam(r, "id"))

	var req DecisionRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	app, err := h.Service.Decide(r.Context(), ActorFrom(r.Context()), id, timeoff.DecisionAction(req.Action), req.RejectionReason)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLeaveDTO(app))
}

// CancelLeave withdraws a pending application.
// POST /api/v1/leaves/{id}/cancel
func (h *Handler) CancelLeave(w http.ResponseWriter, r *http.Request) {
	id := generic.RequestID(chi.URLParam(r, "id"))
	app, err := h.Service.Cancel(r.Context(), ActorFrom(r.Context()), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLeaveDTO(app))
}

// =============================================================================
// ALLOCATION HANDLERS
// =============================================================================

// GetBalance returns an employee's buckets for a year.
// GET /api/v1/employees/{id}/balance?year=
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	employeeID := generic.EntityID(chi.URLParam(r, "id"))
	year := h.now().Year()
	if raw := r.URL.Query().Get("year"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			h.writeServiceError(w, r, generic.Invalid("year", "must be a number"))
			return
		}
		year = parsed
	}

	balance, err := h.Service.GetBalance(r.Context(), ActorFrom(r.Context()), employeeID, year)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(balance))
}

// AdjustAllocation sets total and used on one bucket.
// PUT /api/v1/employees/{id}/allocations/{year}/{category}
func (h *Handler) AdjustAllocation(w http.ResponseWriter, r *http.Request) {
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil {
		h.writeServiceError(w, r, generic.Invalid("year", "must be a number"))
		return
	}
	category, err := timeoff.ParseCategory(chi.URLParam(r, "category"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	var req AdjustAllocationRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	bucket, err := h.Service.AdjustAllocation(r.Context(), ActorFrom(r.Context()), timeoff.AdjustInput{
		EmployeeID: generic.EntityID(chi.URLParam(r, "id")),
		Year:       year,
		Category:   category,
		Total:      generic.Days(*req.Total),
		Used:       generic.Days(*req.Used),
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBucketDTO(bucket))
}

// =============================================================================
// DIRECTORY HANDLERS
// =============================================================================

// requireAdmin writes 401/403 and returns false unless the caller is an
// administrator.
func (h *Handler) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	actor := ActorFrom(r.Context())
	switch {
	case actor.ID == "":
		h.writeServiceError(w, r, generic.ErrUnauthorized)
		return false
	case !actor.IsAdmin():
		h.writeServiceError(w, r, generic.ErrForbidden)
		return false
	}
	return true
}

// ListEmployees returns all employees.
// GET /api/v1/employees
func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	employees, err := h.Directory.ListEmployees(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	dtos := make([]EmployeeDTO, len(employees))
	for i, e := range employees {
		dtos[i] = toEmployeeDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateEmployee registers an employee.
// POST /api/v1/employees
func (h *Handler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	var req CreateEmployeeRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	e := generic.Employee{
		ID:        generic.EntityID(req.ID),
		Name:      req.Name,
		Email:     req.Email,
		CreatedAt: h.now().UTC(),
	}
	if err := h.Directory.SaveEmployee(r.Context(), e); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEmployeeDTO(e))
}

// GetEmployee returns a single employee.
// GET /api/v1/employees/{id}
func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	id := generic.EntityID(chi.URLParam(r, "id"))
	e, err := h.Directory.GetEmployee(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if e == nil {
		h.writeServiceError(w, r, &generic.NotFoundError{Kind: "employee", ID: string(id)})
		return
	}
	writeJSON(w, http.StatusOK, toEmployeeDTO(*e))
}

// =============================================================================
// AUDIT HANDLERS
// =============================================================================

// ListAudit returns audit events, oldest first. With limit=N only the
// newest N are returned.
// GET /api/v1/audit?target_id=&actor_id=&action=&limit=
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	q := r.URL.Query()
	filter := generic.AuditFilter{
		ActorID:  q.Get("actor_id"),
		TargetID: q.Get("target_id"),
	}
	for _, a := range q["action"] {
		filter.Actions = append(filter.Actions, generic.AuditAction(a))
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			h.writeServiceError(w, r, generic.Invalid("limit", "must be a positive number"))
			return
		}
		filter.Limit = limit
	}

	events, err := h.Audit.ListAudit(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	dtos := make([]AuditEventDTO, len(events))
	for i, e := range events {
		if dtos[i], err = toAuditEventDTO(e); err != nil {
			h.writeServiceError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// REFERENCE HANDLERS
// =============================================================================

// ListCategories describes every category under the active policy.
// GET /api/v1/categories
func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	policy := h.Service.Policy()
	dtos := make([]CategoryDTO, 0, len(timeoff.AllCategories))
	for _, c := range timeoff.AllCategories {
		dto := CategoryDTO{Name: string(c), Tracked: policy.Tracked(c)}
		if total, ok := policy.Entitlements[c]; ok {
			t := total
			dto.DefaultTotal = &t
		}
		dtos = append(dtos, dto)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// Health reports liveness and storage reachability.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.Ping != nil {
		if err := h.Ping(r.Context()); err != nil {
			h.logger.Warn("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
