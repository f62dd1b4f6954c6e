// Package timeoff implements leave management on top of the generic engine.
// It supplies the leave categories, the application workflow and the
// read-side queries.
package timeoff

import (
	"strings"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// LEAVE CATEGORY - The time-off resource type
// =============================================================================

// Category is the concrete resource type for the leave domain.
// Implements generic.ResourceType interface.
type Category string

func (c Category) ResourceID() string     { return string(c) }
func (c Category) ResourceDomain() string { return Domain }

// Compile-time check that Category implements generic.ResourceType
var _ generic.ResourceType = Category("")

const Domain = "timeoff"

// Leave categories. The set is closed.
const (
	CategorySick      Category = "sick"
	CategoryCasual    Category = "casual"
	CategoryVacation  Category = "vacation"
	CategoryMaternity Category = "maternity"
	CategoryPaternity Category = "paternity"
	CategoryEmergency Category = "emergency"
	CategoryOther     Category = "other"
)

// AllCategories in display order.
var AllCategories = []Category{
	CategorySick,
	CategoryCasual,
	CategoryVacation,
	CategoryMaternity,
	CategoryPaternity,
	CategoryEmergency,
	CategoryOther,
}

// Register all leave categories with the generic registry
func init() {
	for _, c := range AllCategories {
		generic.RegisterResource(c)
	}
}

func (c Category) Valid() bool {
	for _, known := range AllCategories {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCategory accepts any casing and surrounding whitespace.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", generic.Invalid("category", "unknown leave category %q", s)
	}
	return c, nil
}

// =============================================================================
// HALF DAY
// =============================================================================

type HalfDayPeriod string

const (
	HalfDayMorning HalfDayPeriod = "morning"
	HalfDayEvening HalfDayPeriod = "evening"
)

func (p HalfDayPeriod) Valid() bool {
	return p == HalfDayMorning || p == HalfDayEvening
}

// =============================================================================
// DECISION
// =============================================================================

type DecisionAction string

const (
	DecisionApprove DecisionAction = "approve"
	DecisionReject  DecisionAction = "reject"
)

func (a DecisionAction) Valid() bool {
	return a == DecisionApprove || a == DecisionReject
}

// Target is the status a decision moves a pending application to.
func (a DecisionAction) Target() generic.RequestStatus {
	if a == DecisionApprove {
		return generic.RequestApproved
	}
	return generic.RequestRejected
}
