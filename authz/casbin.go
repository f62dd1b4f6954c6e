// Package authz implements generic.Authorizer on casbin.
//
// A request is (subject, role, owner, action). A policy line is
// (role, action, scope) where scope is "any" or "own"; "own" only matches
// when the subject owns the resource.
package authz

import (
	"context"
	"fmt"
	"sync"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"

	"github.com/warp/leave-engine/generic"
)

const modelText = `[request_definition]
r = sub, role, owner, act

[policy_definition]
p = role, act, scope

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.role == p.role && r.act == p.act && (p.scope == "any" || r.sub == r.owner)
`

const (
	ScopeAny = "any"
	ScopeOwn = "own"
)

// Rule grants role the action within scope.
type Rule struct {
	Role   generic.Role
	Action generic.Action
	Scope  string
}

// DefaultRules: administrators act on anything, employees on their own
// leave and balance.
func DefaultRules() []Rule {
	rules := []Rule{
		{generic.RoleEmployee, generic.ActionSubmitLeave, ScopeOwn},
		{generic.RoleEmployee, generic.ActionCancelLeave, ScopeOwn},
		{generic.RoleEmployee, generic.ActionReadLeave, ScopeOwn},
		{generic.RoleEmployee, generic.ActionReadBalance, ScopeOwn},
	}
	for _, a := range []generic.Action{
		generic.ActionSubmitLeave,
		generic.ActionDecideLeave,
		generic.ActionCancelLeave,
		generic.ActionReadLeave,
		generic.ActionReadBalance,
		generic.ActionAdjustAllocation,
	} {
		rules = append(rules, Rule{generic.RoleAdmin, a, ScopeAny})
	}
	return rules
}

// Authorizer enforces rules with a casbin enforcer.
type Authorizer struct {
	mu       sync.RWMutex
	enforcer *casbin.Enforcer
}

var _ generic.Authorizer = (*Authorizer)(nil)

func New(rules []Rule) (*Authorizer, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, fmt.Errorf("authz model: %w", err)
	}
	e, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("authz enforcer: %w", err)
	}
	a := &Authorizer{enforcer: e}
	for _, r := range rules {
		if err := a.Grant(r); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Grant adds a rule.
func (a *Authorizer) Grant(r Rule) error {
	if r.Scope != ScopeAny && r.Scope != ScopeOwn {
		return fmt.Errorf("authz: unknown scope %q", r.Scope)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, err := a.enforcer.AddPolicy(string(r.Role), string(r.Action), r.Scope); err != nil {
		return fmt.Errorf("authz: add policy: %w", err)
	}
	return nil
}

// Revoke removes a rule.
func (a *Authorizer) Revoke(r Rule) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, err := a.enforcer.RemovePolicy(string(r.Role), string(r.Action), r.Scope); err != nil {
		return fmt.Errorf("authz: remove policy: %w", err)
	}
	return nil
}

func (a *Authorizer) Authorize(_ context.Context, actor generic.Actor, action generic.Action, resource generic.Resource) error {
	if actor.ID == "" || !actor.Role.Valid() {
		return generic.ErrUnauthorized
	}

	a.mu.RLock()
	allowed, err := a.enforcer.Enforce(actor.ID, string(actor.Role), resource.OwnerID, string(action))
	a.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("authz: enforce: %w", err)
	}
	if !allowed {
		return fmt.Errorf("%s may not %s: %w", actor.ID, action, generic.ErrForbidden)
	}
	return nil
}
