/*
access.go - Actors and the authorization collaborator

PURPOSE:
  Operations are performed by an Actor: an authenticated identity with a
  role. Whether the actor may act on a resource is decided by an Authorizer.
  The core only supplies the question; the answer comes from outside
  (authz/casbin.go in production, OwnershipAuthorizer in tests).

RULES ENFORCED BY EVERY AUTHORIZER:
  - employees act only on resources they own
  - administrators act on any resource
*/
package generic

import "context"

type Role string

const (
	RoleEmployee Role = "employee"
	RoleAdmin    Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleEmployee || r == RoleAdmin
}

type Actor struct {
	ID   string
	Role Role
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

type Action string

const (
	ActionSubmitLeave      Action = "leave:submit"
	ActionDecideLeave      Action = "leave:decide"
	ActionCancelLeave      Action = "leave:cancel"
	ActionReadLeave        Action = "leave:read"
	ActionReadBalance      Action = "balance:read"
	ActionAdjustAllocation Action = "allocation:adjust"
)

// Resource is what an action targets. OwnerID is the employee the resource
// belongs to.
type Resource struct {
	Kind    string
	ID      string
	OwnerID string
}

// Authorizer answers whether actor may perform action on resource.
// It returns nil, ErrUnauthorized or ErrForbidden.
type Authorizer interface {
	Authorize(ctx context.Context, actor Actor, action Action, resource Resource) error
}

// OwnershipAuthorizer lets admins do anything and employees submit, cancel
// and read their own records.
type OwnershipAuthorizer struct{}

func (OwnershipAuthorizer) Authorize(_ context.Context, actor Actor, action Action, resource Resource) error {
	if actor.ID == "" || !actor.Role.Valid() {
		return ErrUnauthorized
	}
	if actor.IsAdmin() {
		return nil
	}
	switch action {
	case ActionSubmitLeave, ActionCancelLeave, ActionReadLeave, ActionReadBalance:
		if resource.OwnerID == actor.ID {
			return nil
		}
	}
	return ErrForbidden
}
