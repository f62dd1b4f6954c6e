/*
audit.go - Typed audit events

PURPOSE:
  Every state-changing operation emits one AuditEvent. The payload is a
  tagged variant per action kind with explicit before/after structures, so
  consumers never have to guess the shape of a blob.

ACTIONS:
  leave_submitted          LeaveSubmitted{After}
  leave_decided            LeaveDecided{Before, After}
  leave_cancelled          LeaveCancelled{Before, After}
  allocation_adjusted      AllocationAdjusted{Before, After}
  allocation_adjust_failed AllocationAdjustFailed{Before?, Requested, Error}

WIRE FORMAT:
  MarshalAuditEvent produces {"id", "at", "actor_id", "action", "target_id",
  "payload"} where payload is the variant's JSON object. UnmarshalAuditPayload
  reverses it using the action as the tag.
*/
package generic

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type AuditAction string

const (
	AuditLeaveSubmitted         AuditAction = "leave_submitted"
	AuditLeaveDecided           AuditAction = "leave_decided"
	AuditLeaveCancelled         AuditAction = "leave_cancelled"
	AuditAllocationAdjusted     AuditAction = "allocation_adjusted"
	AuditAllocationAdjustFailed AuditAction = "allocation_adjust_failed"
)

// AuditPayload is implemented by exactly the variants in this file.
type AuditPayload interface {
	AuditAction() AuditAction
}

type AuditEvent struct {
	ID       string
	At       time.Time
	ActorID  string
	TargetID string
	Payload  AuditPayload
}

// Action is the payload's tag.
func (e AuditEvent) Action() AuditAction {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.AuditAction()
}

// NewAuditEvent stamps a payload with a fresh id and time.
func NewAuditEvent(actorID, targetID string, at time.Time, payload AuditPayload) AuditEvent {
	return AuditEvent{
		ID:       uuid.NewString(),
		At:       at.UTC(),
		ActorID:  actorID,
		TargetID: targetID,
		Payload:  payload,
	}
}

// =============================================================================
// SNAPSHOTS
// =============================================================================

type RequestSnapshot struct {
	ID              string `json:"id"`
	EmployeeID      string `json:"employee_id"`
	Category        string `json:"category"`
	StartDate       string `json:"start_date"`
	EndDate         string `json:"end_date"`
	TotalDays       string `json:"total_days"`
	Status          string `json:"status"`
	DecidedBy       string `json:"decided_by,omitempty"`
	RejectionReason string `json:"rejection_reason,omitempty"`
}

func SnapshotRequest(r Request) RequestSnapshot {
	return RequestSnapshot{
		ID:              string(r.ID),
		EmployeeID:      string(r.EntityID),
		Category:        r.ResourceType.ResourceID(),
		StartDate:       r.Start.String(),
		EndDate:         r.End.String(),
		TotalDays:       r.Amount.String(),
		Status:          string(r.Status),
		DecidedBy:       r.DecidedBy,
		RejectionReason: r.RejectionReason,
	}
}

type BucketSnapshot struct {
	EmployeeID string `json:"employee_id"`
	Year       int    `json:"year"`
	Category   string `json:"category"`
	Total      string `json:"total"`
	Used       string `json:"used"`
	Remaining  string `json:"remaining"`
}

func SnapshotBucket(key AllocationKey, b Bucket) BucketSnapshot {
	return BucketSnapshot{
		EmployeeID: string(key.EntityID),
		Year:       key.Year,
		Category:   b.ResourceType.ResourceID(),
		Total:      b.Total.String(),
		Used:       b.Used.String(),
		Remaining:  b.Remaining.String(),
	}
}

// =============================================================================
// VARIANTS
// =============================================================================

type LeaveSubmitted struct {
	After RequestSnapshot `json:"after"`
}

type LeaveDecided struct {
	Before RequestSnapshot `json:"before"`
	After  RequestSnapshot `json:"after"`
	// Deducted is the bucket after approval; nil for rejections and
	// untracked categories.
	Deducted *BucketSnapshot `json:"deducted,omitempty"`
}

type LeaveCancelled struct {
	Before RequestSnapshot `json:"before"`
	After  RequestSnapshot `json:"after"`
}

type AllocationAdjusted struct {
	Before BucketSnapshot `json:"before"`
	After  BucketSnapshot `json:"after"`
}

type AllocationAdjustFailed struct {
	Before    *BucketSnapshot `json:"before,omitempty"`
	Requested BucketSnapshot  `json:"requested"`
	Error     string          `json:"error"`
}

func (LeaveSubmitted) AuditAction() AuditAction         { return AuditLeaveSubmitted }
func (LeaveDecided) AuditAction() AuditAction           { return AuditLeaveDecided }
func (LeaveCancelled) AuditAction() AuditAction         { return AuditLeaveCancelled }
func (AllocationAdjusted) AuditAction() AuditAction     { return AuditAllocationAdjusted }
func (AllocationAdjustFailed) AuditAction() AuditAction { return AuditAllocationAdjustFailed }

// =============================================================================
// SERIALIZATION
// =============================================================================

type auditEnvelope struct {
	ID       string          `json:"id"`
	At       time.Time       `json:"at"`
	ActorID  string          `json:"actor_id"`
	Action   AuditAction     `json:"action"`
	TargetID string          `json:"target_id"`
	Payload  json.RawMessage `json:"payload"`
}

// MarshalAuditPayload encodes only the variant, for stores that keep the
// envelope fields in their own columns.
func MarshalAuditPayload(e AuditEvent) ([]byte, error) {
	if e.Payload == nil {
		return nil, fmt.Errorf("audit event %s has no payload", e.ID)
	}
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal audit payload: %w", err)
	}
	return payload, nil
}

func MarshalAuditEvent(e AuditEvent) ([]byte, error) {
	payload, err := MarshalAuditPayload(e)
	if err != nil {
		return nil, err
	}
	return json.Marshal(auditEnvelope{
		ID:       e.ID,
		At:       e.At,
		ActorID:  e.ActorID,
		Action:   e.Action(),
		TargetID: e.TargetID,
		Payload:  payload,
	})
}

func UnmarshalAuditEvent(data []byte) (AuditEvent, error) {
	var env auditEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return AuditEvent{}, fmt.Errorf("unmarshal audit event: %w", err)
	}
	payload, err := UnmarshalAuditPayload(env.Action, env.Payload)
	if err != nil {
		return AuditEvent{}, err
	}
	return AuditEvent{
		ID:       env.ID,
		At:       env.At,
		ActorID:  env.ActorID,
		TargetID: env.TargetID,
		Payload:  payload,
	}, nil
}

// UnmarshalAuditPayload decodes raw into the variant named by action.
func UnmarshalAuditPayload(action AuditAction, raw []byte) (AuditPayload, error) {
	var (
		payload AuditPayload
		err     error
	)
	switch action {
	case AuditLeaveSubmitted:
		var p LeaveSubmitted
		err = json.Unmarshal(raw, &p)
		payload = p
	case AuditLeaveDecided:
		var p LeaveDecided
		err = json.Unmarshal(raw, &p)
		payload = p
	case AuditLeaveCancelled:
		var p LeaveCancelled
		err = json.Unmarshal(raw, &p)
		payload = p
	case AuditAllocationAdjusted:
		var p AllocationAdjusted
		err = json.Unmarshal(raw, &p)
		payload = p
	case AuditAllocationAdjustFailed:
		var p AllocationAdjustFailed
		err = json.Unmarshal(raw, &p)
		payload = p
	default:
		return nil, fmt.Errorf("unknown audit action %q", action)
	}
	if err != nil {
		return nil, fmt.Errorf("unmarshal %s payload: %w", action, err)
	}
	return payload, nil
}
