/*
handlers_test.go - HTTP tests for the leave API

Tests for:
- Leave workflow over HTTP (submit, decide, cancel, list)
- Balance reads and administrative adjustments
- Error status mapping and validation messages
- Authentication and the admin-only directory
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/store/sqlite"
	"github.com/warp/leave-engine/timeoff"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const testSecret = "test-secret"

var (
	employee = generic.Actor{ID: "emp-1", Role: generic.RoleEmployee}
	peer     = generic.Actor{ID: "emp-2", Role: generic.RoleEmployee}
	admin    = generic.Actor{ID: "hr-1", Role: generic.RoleAdmin}
	fixedNow = time.Date(2024, time.February, 1, 9, 0, 0, 0, time.UTC)
)

type testServer struct {
	t       *testing.T
	handler *Handler
	router  http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	for _, id := range []string{"emp-1", "emp-2"} {
		require.NoError(t, store.SaveEmployee(ctx, generic.Employee{ID: generic.EntityID(id), Name: id}))
	}

	svc, err := timeoff.NewLeaveService(store, timeoff.StandardAllocationPolicy(),
		timeoff.WithAuditLog(store),
		timeoff.WithDirectory(store),
		timeoff.WithClock(func() time.Time { return fixedNow }),
	)
	require.NoError(t, err)

	h := NewHandler(svc, store, nil)
	h.now = func() time.Time { return fixedNow }
	h.Ping = store.Ping
	h.Audit = store
	return &testServer{t: t, handler: h, router: NewRouter(h, RouterOptions{JWTSecret: testSecret})}
}

// do sends body as JSON on behalf of actor (anonymous when actor is zero)
// and decodes the response into out when out is non-nil.
func (s *testServer) do(actor generic.Actor, method, path string, body any, out any) int {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(s.t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actor.ID != "" {
		token, err := IssueToken(testSecret, actor, time.Hour, time.Now())
		require.NoError(s.t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if out != nil {
		require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec.Code
}

func (s *testServer) submit(actor generic.Actor, category, start, end string) LeaveDTO {
	s.t.Helper()
	var dto LeaveDTO
	status := s.do(actor, http.MethodPost, "/api/v1/leaves", SubmitLeaveRequest{
		Category:  category,
		StartDate: start,
		EndDate:   end,
		Reason:    "personal",
	}, &dto)
	require.Equal(s.t, http.StatusCreated, status)
	return dto
}

func bucketIn(t *testing.T, b BalanceDTO, category string) BucketDTO {
	t.Helper()
	for _, a := range b.Allocations {
		if a.Category == category {
			return a
		}
	}
	t.Fatalf("no %s bucket in balance", category)
	return BucketDTO{}
}

// =============================================================================
// LEAVE WORKFLOW
// =============================================================================

func TestSubmitApprove_DeductsBalance(t *testing.T) {
	// GIVEN: emp-1 with 10 sick days
	// WHEN: A 2-day sick leave is submitted and approved over HTTP
	// THEN: The leave is approved and the balance shows 8 remaining
	s := newTestServer(t)

	leave := s.submit(employee, "sick", "2024-03-04", "2024-03-05")
	assert.Equal(t, "pending", leave.Status)
	assert.Equal(t, "emp-1", leave.EmployeeID)
	assert.Equal(t, 2.0, leave.TotalDays)

	var decided LeaveDTO
	status := s.do(admin, http.MethodPost, "/api/v1/leaves/"+leave.ID+"/decision", DecisionRequest{Action: "approve"}, &decided)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "approved", decided.Status)
	assert.Equal(t, "hr-1", decided.DecidedBy)
	assert.NotNil(t, decided.DecidedAt)

	var balance BalanceDTO
	status = s.do(employee, http.MethodGet, "/api/v1/employees/emp-1/balance?year=2024", nil, &balance)
	require.Equal(t, http.StatusOK, status)
	sick := bucketIn(t, balance, "sick")
	assert.Equal(t, 10.0, sick.Total)
	assert.Equal(t, 2.0, sick.Used)
	assert.Equal(t, 8.0, sick.Remaining)
}

func TestSubmit_HalfDay(t *testing.T) {
	s := newTestServer(t)

	var leave LeaveDTO
	status := s.do(employee, http.MethodPost, "/api/v1/leaves", SubmitLeaveRequest{
		Category:      "casual",
		StartDate:     "2024-03-04",
		EndDate:       "2024-03-04",
		Reason:        "dentist",
		HalfDay:       true,
		HalfDayPeriod: "morning",
	}, &leave)

	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, 0.5, leave.TotalDays)
	assert.Equal(t, "morning", leave.HalfDayPeriod)
}

func TestDecide_Reject_DefaultReason(t *testing.T) {
	s := newTestServer(t)
	leave := s.submit(employee, "vacation", "2024-05-06", "2024-05-10")

	var decided LeaveDTO
	status := s.do(admin, http.MethodPost, "/api/v1/leaves/"+leave.ID+"/decision", DecisionRequest{Action: "reject"}, &decided)

	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "rejected", decided.Status)
	assert.Equal(t, timeoff.DefaultRejectionReason, decided.RejectionReason)
}

func TestDecide_Twice_Conflict(t *testing.T) {
	s := newTestServer(t)
	leave := s.submit(employee, "sick", "2024-03-04", "2024-03-04")
	path := "/api/v1/leaves/" + leave.ID + "/decision"
	require.Equal(t, http.StatusOK, s.do(admin, http.MethodPost, path, DecisionRequest{Action: "approve"}, nil))

	var resp ErrorResponse
	status := s.do(admin, http.MethodPost, path, DecisionRequest{Action: "reject"}, &resp)

	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "invalid_state_transition", resp.Code)
}

func TestDecide_InsufficientBalance(t *testing.T) {
	// GIVEN: A pending 4-day emergency leave, then an adjustment leaving 2
	// WHEN: An admin approves it
	// THEN: 422 with available and requested in the details; still pending
	s := newTestServer(t)
	leave := s.submit(employee, "emergency", "2024-04-01", "2024-04-04")
	total, used := 5.0, 3.0
	require.Equal(t, http.StatusOK, s.do(admin, http.MethodPut, "/api/v1/employees/emp-1/allocations/2024/emergency",
		AdjustAllocationRequest{Total: &total, Used: &used}, nil))

	var resp ErrorResponse
	status := s.do(admin, http.MethodPost, "/api/v1/leaves/"+leave.ID+"/decision", DecisionRequest{Action: "approve"}, &resp)

	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "insufficient_balance", resp.Code)
	assert.Equal(t, map[string]any{"available": 2.0, "requested": 4.0}, resp.Details)

	var got LeaveDTO
	require.Equal(t, http.StatusOK, s.do(employee, http.MethodGet, "/api/v1/leaves/"+leave.ID, nil, &got))
	assert.Equal(t, "pending", got.Status)
}

func TestSubmit_InsufficientBalance(t *testing.T) {
	s := newTestServer(t)

	var resp ErrorResponse
	status := s.do(employee, http.MethodPost, "/api/v1/leaves", SubmitLeaveRequest{
		Category:  "emergency",
		StartDate: "2024-04-01",
		EndDate:   "2024-04-06",
		Reason:    "family",
	}, &resp)

	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "insufficient_balance", resp.Code)
}

func TestDecide_EmployeeForbidden(t *testing.T) {
	s := newTestServer(t)
	leave := s.submit(employee, "sick", "2024-03-04", "2024-03-04")

	var resp ErrorResponse
	status := s.do(employee, http.MethodPost, "/api/v1/leaves/"+leave.ID+"/decision", DecisionRequest{Action: "approve"}, &resp)

	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "forbidden", resp.Code)
}

func TestCancel(t *testing.T) {
	s := newTestServer(t)
	leave := s.submit(employee, "casual", "2024-03-04", "2024-03-05")
	path := "/api/v1/leaves/" + leave.ID + "/cancel"

	assert.Equal(t, http.StatusForbidden, s.do(peer, http.MethodPost, path, nil, nil))

	var cancelled LeaveDTO
	require.Equal(t, http.StatusOK, s.do(employee, http.MethodPost, path, nil, &cancelled))
	assert.Equal(t, "cancelled", cancelled.Status)

	assert.Equal(t, http.StatusConflict, s.do(employee, http.MethodPost, path, nil, nil))
}

func TestGetLeave_NotFound(t *testing.T) {
	s := newTestServer(t)

	var resp ErrorResponse
	status := s.do(admin, http.MethodGet, "/api/v1/leaves/lv-missing", nil, &resp)

	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", resp.Code)
}

func TestListLeaves_ScopedToCaller(t *testing.T) {
	s := newTestServer(t)
	s.submit(employee, "sick", "2024-03-04", "2024-03-04")
	s.submit(peer, "sick", "2024-03-11", "2024-03-11")

	var all []LeaveDTO
	require.Equal(t, http.StatusOK, s.do(admin, http.MethodGet, "/api/v1/leaves?year=2024", nil, &all))
	assert.Len(t, all, 2)

	var mine []LeaveDTO
	require.Equal(t, http.StatusOK, s.do(employee, http.MethodGet, "/api/v1/leaves?employee_id=emp-1", nil, &mine))
	require.Len(t, mine, 1)
	assert.Equal(t, "emp-1", mine[0].EmployeeID)

	assert.Equal(t, http.StatusForbidden, s.do(employee, http.MethodGet, "/api/v1/leaves?employee_id=emp-2", nil, nil))
	assert.Equal(t, http.StatusBadRequest, s.do(admin, http.MethodGet, "/api/v1/leaves?year=soon", nil, nil))
}

// =============================================================================
// VALIDATION AND AUTHENTICATION
// =============================================================================

func TestSubmit_Validation(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"missing category", `{"start_date":"2024-03-04","end_date":"2024-03-04","reason":"x"}`, "category"},
		{"bad date", `{"category":"sick","start_date":"04/03/2024","end_date":"2024-03-04","reason":"x"}`, "start_date"},
		{"missing reason", `{"category":"sick","start_date":"2024-03-04","end_date":"2024-03-04"}`, "reason"},
		{"bad period", `{"category":"sick","start_date":"2024-03-04","end_date":"2024-03-04","reason":"x","half_day":true,"half_day_period":"night"}`, "half_day_period"},
		{"unknown category", `{"category":"sabbatical","start_date":"2024-03-04","end_date":"2024-03-04","reason":"x"}`, "category"},
		{"end before start", `{"category":"sick","start_date":"2024-03-05","end_date":"2024-03-04","reason":"x"}`, "end_date"},
		{"unknown field", `{"category":"sick","start_date":"2024-03-04","end_date":"2024-03-04","reason":"x","days":3}`, ""},
		{"not json", `category=sick`, ""},
	}
	s := newTestServer(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp ErrorResponse
			status := s.do(employee, http.MethodPost, "/api/v1/leaves", tt.body, &resp)

			assert.Equal(t, http.StatusBadRequest, status)
			assert.Equal(t, "validation_failed", resp.Code)
			if tt.field != "" {
				assert.Equal(t, tt.field, resp.Field)
			}
		})
	}
}

func TestAuthentication(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusUnauthorized, s.do(generic.Actor{}, http.MethodGet, "/api/v1/leaves", nil, nil))

	forged, err := IssueToken("other-secret", admin, time.Hour, time.Now())
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/leaves", nil)
	req.Header.Set("Authorization", "Bearer "+forged)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	expired, err := IssueToken(testSecret, admin, time.Minute, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/api/v1/leaves", nil)
	req.Header.Set("Authorization", "Bearer "+expired)
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestParseToken_RoundTrip(t *testing.T) {
	token, err := IssueToken(testSecret, admin, time.Hour, time.Now())
	require.NoError(t, err)

	actor, err := ParseToken(testSecret, token)

	require.NoError(t, err)
	assert.Equal(t, admin, actor)

	_, err = IssueToken(testSecret, generic.Actor{ID: "x", Role: "root"}, time.Hour, time.Now())
	assert.Error(t, err)
}

// =============================================================================
// ALLOCATIONS
// =============================================================================

func TestGetBalance_DefaultsToCurrentYear(t *testing.T) {
	s := newTestServer(t)

	var balance BalanceDTO
	status := s.do(employee, http.MethodGet, "/api/v1/employees/emp-1/balance", nil, &balance)

	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 2024, balance.Year)
	assert.Len(t, balance.Allocations, 6)
	assert.Equal(t, 90.0, bucketIn(t, balance, "maternity").Total)

	assert.Equal(t, http.StatusForbidden, s.do(peer, http.MethodGet, "/api/v1/employees/emp-1/balance", nil, nil))
	assert.Equal(t, http.StatusNotFound, s.do(admin, http.MethodGet, "/api/v1/employees/emp-404/balance", nil, nil))
}

func TestAdjustAllocation(t *testing.T) {
	// GIVEN: emp-1's casual bucket at 12 total
	// WHEN: An admin sets total 15, used 4
	// THEN: Remaining is 11 and the balance reflects it
	s := newTestServer(t)
	total, used := 15.0, 4.0

	var bucket BucketDTO
	status := s.do(admin, http.MethodPut, "/api/v1/employees/emp-1/allocations/2024/casual",
		AdjustAllocationRequest{Total: &total, Used: &used}, &bucket)

	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, BucketDTO{Category: "casual", Total: 15, Used: 4, Remaining: 11}, bucket)

	var balance BalanceDTO
	require.Equal(t, http.StatusOK, s.do(employee, http.MethodGet, "/api/v1/employees/emp-1/balance?year=2024", nil, &balance))
	assert.Equal(t, 11.0, bucketIn(t, balance, "casual").Remaining)
}

func TestAdjustAllocation_NegativeClampedToZero(t *testing.T) {
	s := newTestServer(t)
	total, used := -3.0, 2.0

	var bucket BucketDTO
	status := s.do(admin, http.MethodPut, "/api/v1/employees/emp-1/allocations/2024/sick",
		AdjustAllocationRequest{Total: &total, Used: &used}, &bucket)

	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, BucketDTO{Category: "sick", Total: 0, Used: 0, Remaining: 0}, bucket)
}

func TestAdjustAllocation_Errors(t *testing.T) {
	s := newTestServer(t)
	total, used := 10.0, 1.0
	body := AdjustAllocationRequest{Total: &total, Used: &used}

	assert.Equal(t, http.StatusForbidden, s.do(employee, http.MethodPut, "/api/v1/employees/emp-1/allocations/2024/sick", body, nil))
	assert.Equal(t, http.StatusBadRequest, s.do(admin, http.MethodPut, "/api/v1/employees/emp-1/allocations/2024/other", body, nil))
	assert.Equal(t, http.StatusBadRequest, s.do(admin, http.MethodPut, "/api/v1/employees/emp-1/allocations/next/sick", body, nil))
	assert.Equal(t, http.StatusNotFound, s.do(admin, http.MethodPut, "/api/v1/employees/emp-404/allocations/2024/sick", body, nil))

	var resp ErrorResponse
	status := s.do(admin, http.MethodPut, "/api/v1/employees/emp-1/allocations/2024/sick", `{"total": 10}`, &resp)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "used", resp.Field)
}

// =============================================================================
// DIRECTORY AND REFERENCE
// =============================================================================

func TestEmployees_AdminOnly(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusUnauthorized, s.do(generic.Actor{}, http.MethodGet, "/api/v1/employees", nil, nil))
	assert.Equal(t, http.StatusForbidden, s.do(employee, http.MethodGet, "/api/v1/employees", nil, nil))

	var created EmployeeDTO
	status := s.do(admin, http.MethodPost, "/api/v1/employees", CreateEmployeeRequest{ID: "emp-3", Name: "Lin", Email: "lin@example.com"}, &created)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "emp-3", created.ID)

	var resp ErrorResponse
	status = s.do(admin, http.MethodPost, "/api/v1/employees", CreateEmployeeRequest{ID: "emp-4", Name: "Kim", Email: "not-an-email"}, &resp)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "email", resp.Field)

	var all []EmployeeDTO
	require.Equal(t, http.StatusOK, s.do(admin, http.MethodGet, "/api/v1/employees", nil, &all))
	assert.Len(t, all, 3)

	var got EmployeeDTO
	require.Equal(t, http.StatusOK, s.do(admin, http.MethodGet, "/api/v1/employees/emp-3", nil, &got))
	assert.Equal(t, "Lin", got.Name)
	assert.Equal(t, http.StatusNotFound, s.do(admin, http.MethodGet, "/api/v1/employees/emp-9", nil, nil))
}

func TestListAudit(t *testing.T) {
	// GIVEN: A leave submitted and approved, plus an unrelated submission
	// WHEN: An admin lists the audit trail for the first leave
	// THEN: Both of its events come back oldest first with typed payloads
	s := newTestServer(t)
	leave := s.submit(employee, "sick", "2024-03-04", "2024-03-05")
	require.Equal(t, http.StatusOK, s.do(admin, http.MethodPost, "/api/v1/leaves/"+leave.ID+"/decision", DecisionRequest{Action: "approve"}, nil))
	s.submit(peer, "casual", "2024-04-01", "2024-04-01")

	var events []AuditEventDTO
	require.Equal(t, http.StatusOK, s.do(admin, http.MethodGet, "/api/v1/audit?target_id="+leave.ID, nil, &events))

	require.Len(t, events, 2)
	assert.Equal(t, "leave_submitted", events[0].Action)
	assert.Equal(t, "leave_decided", events[1].Action)
	assert.Equal(t, "hr-1", events[1].ActorID)
	var decided generic.LeaveDecided
	require.NoError(t, json.Unmarshal(events[1].Payload, &decided))
	require.NotNil(t, decided.Deducted)
	assert.Equal(t, "8", decided.Deducted.Remaining)

	var latest []AuditEventDTO
	require.Equal(t, http.StatusOK, s.do(admin, http.MethodGet, "/api/v1/audit?action=leave_submitted&limit=1", nil, &latest))
	require.Len(t, latest, 1)
	assert.Equal(t, "emp-2", latest[0].ActorID)
}

func TestListAudit_Errors(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusUnauthorized, s.do(generic.Actor{}, http.MethodGet, "/api/v1/audit", nil, nil))
	assert.Equal(t, http.StatusForbidden, s.do(employee, http.MethodGet, "/api/v1/audit", nil, nil))

	var resp ErrorResponse
	assert.Equal(t, http.StatusBadRequest, s.do(admin, http.MethodGet, "/api/v1/audit?limit=zero", nil, &resp))
	assert.Equal(t, "limit", resp.Field)
}

func TestListAudit_DisabledWithoutReader(t *testing.T) {
	s := newTestServer(t)
	s.handler.Audit = nil
	s.router = NewRouter(s.handler, RouterOptions{JWTSecret: testSecret})

	assert.Equal(t, http.StatusNotFound, s.do(admin, http.MethodGet, "/api/v1/audit", nil, nil))
}

func TestListCategories(t *testing.T) {
	s := newTestServer(t)

	var cats []CategoryDTO
	require.Equal(t, http.StatusOK, s.do(generic.Actor{}, http.MethodGet, "/api/v1/categories", nil, &cats))

	require.Len(t, cats, len(timeoff.AllCategories))
	byName := make(map[string]CategoryDTO, len(cats))
	for _, c := range cats {
		byName[c.Name] = c
	}
	assert.False(t, byName["other"].Tracked)
	assert.Nil(t, byName["other"].DefaultTotal)
	require.NotNil(t, byName["vacation"].DefaultTotal)
	assert.Equal(t, 15.0, *byName["vacation"].DefaultTotal)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	var body map[string]string
	require.Equal(t, http.StatusOK, s.do(generic.Actor{}, http.MethodGet, "/healthz", nil, &body))
	assert.Equal(t, "ok", body["status"])

	s.handler.Ping = func(context.Context) error { return errors.New("db gone") }
	assert.Equal(t, http.StatusServiceUnavailable, s.do(generic.Actor{}, http.MethodGet, "/healthz", nil, nil))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{generic.Invalid("days", "bad"), http.StatusBadRequest},
		{generic.ErrUnauthorized, http.StatusUnauthorized},
		{fmt.Errorf("x: %w", generic.ErrForbidden), http.StatusForbidden},
		{&generic.NotFoundError{Kind: "leave", ID: "1"}, http.StatusNotFound},
		{generic.ErrInvalidStateTransition, http.StatusConflict},
		{generic.ErrConcurrencyConflict, http.StatusConflict},
		{&generic.InsufficientBalanceError{ResourceType: generic.NewStringResource("sick"), Available: generic.Days(1), Requested: generic.Days(2)}, http.StatusUnprocessableEntity},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		status, _ := statusFor(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
	}
}
