/*
policies.go - Allocation policy

PURPOSE:
  The allocation policy is the configuration every new (employee, year) row
  set is seeded from, plus the two switches that settle behaviour the
  workflow cannot infer on its own.

FIELDS:
  Entitlements:           default annual total per tracked category
  OtherCategory:          how "other" leave is handled
                            reject    - submissions in "other" fail validation
                            unlimited - accepted, never deducted
  AdjustOverdraw:         what an admin adjustment with used > total does
                            clamp  - remaining 0, used lowered to total
                            reject - ValidationError
  DefaultRejectionReason: stored when a rejection carries no reason

PRESET:
  StandardAllocationPolicy() returns the stock figures:
    sick 10, casual 12, vacation 15, maternity 90, paternity 15, emergency 5
  with OtherCategory=reject and AdjustOverdraw=clamp.

  Policies loaded from a file (factory/policy.go) must name both switches.

SEE ALSO:
  - factory/policy.go: YAML / JSON loading
  - config/allocation.yaml: The shipped policy
*/
package timeoff

import (
	"fmt"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// ALLOCATION POLICY
// =============================================================================

type OtherCategoryMode string

const (
	OtherReject    OtherCategoryMode = "reject"
	OtherUnlimited OtherCategoryMode = "unlimited"
)

func (m OtherCategoryMode) Valid() bool {
	return m == OtherReject || m == OtherUnlimited
}

const DefaultRejectionReason = "No reason provided"

type AllocationPolicy struct {
	Entitlements           map[Category]float64
	OtherCategory          OtherCategoryMode
	AdjustOverdraw         generic.OverdrawMode
	DefaultRejectionReason string
}

// StandardAllocationPolicy returns the stock annual totals.
func StandardAllocationPolicy() AllocationPolicy {
	return AllocationPolicy{
		Entitlements: map[Category]float64{
			CategorySick:      10,
			CategoryCasual:    12,
			CategoryVacation:  15,
			CategoryMaternity: 90,
			CategoryPaternity: 15,
			CategoryEmergency: 5,
		},
		OtherCategory:          OtherReject,
		AdjustOverdraw:         generic.OverdrawClamp,
		DefaultRejectionReason: DefaultRejectionReason,
	}
}

// Validate checks the policy is complete and consistent.
func (p AllocationPolicy) Validate() error {
	if len(p.Entitlements) == 0 {
		return fmt.Errorf("allocation policy: no entitlements")
	}
	for c, total := range p.Entitlements {
		if !c.Valid() {
			return fmt.Errorf("allocation policy: unknown category %q", c)
		}
		if c == CategoryOther {
			return fmt.Errorf("allocation policy: %q is governed by other_category, not an entitlement", c)
		}
		if total < 0 {
			return fmt.Errorf("allocation policy: %s total %v is negative", c, total)
		}
	}
	if !p.OtherCategory.Valid() {
		return fmt.Errorf("allocation policy: other_category must be %q or %q, got %q", OtherReject, OtherUnlimited, p.OtherCategory)
	}
	if !p.AdjustOverdraw.Valid() {
		return fmt.Errorf("allocation policy: adjust_overdraw must be %q or %q, got %q",
			generic.OverdrawClamp, generic.OverdrawReject, p.AdjustOverdraw)
	}
	return nil
}

// Tracked reports whether c has an allocation bucket.
func (p AllocationPolicy) Tracked(c Category) bool {
	_, ok := p.Entitlements[c]
	return ok
}

// GenericEntitlements converts to the engine's seed list, in category order.
func (p AllocationPolicy) GenericEntitlements() []generic.Entitlement {
	var out []generic.Entitlement
	for _, c := range AllCategories {
		total, ok := p.Entitlements[c]
		if !ok {
			continue
		}
		out = append(out, generic.Entitlement{
			ResourceType: c,
			Total:        generic.Days(total),
		})
	}
	return out
}

func (p AllocationPolicy) rejectionReason(given string) string {
	if given != "" {
		return given
	}
	if p.DefaultRejectionReason != "" {
		return p.DefaultRejectionReason
	}
	return DefaultRejectionReason
}
