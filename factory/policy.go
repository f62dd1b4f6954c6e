/*
Package factory provides file to Go allocation policy conversion.

PURPOSE:
  Converts YAML (or JSON, which YAML accepts) policy definitions into a
  timeoff.AllocationPolicy. Default annual totals live in configuration so
  a policy change does not need a redeploy.

SCHEMA:
  entitlements:              # annual total per category, in days
    sick: 10
    casual: 12
    vacation: 15
    maternity: 90
    paternity: 15
    emergency: 5
  other_category: reject     # reject | unlimited      (required)
  adjust_overdraw: clamp     # clamp | reject          (required)
  default_rejection_reason: "No reason provided"

  The same document as JSON:
    {"entitlements": {"sick": 10}, "other_category": "reject", "adjust_overdraw": "clamp"}

KEY FEATURES:
  - Unknown keys are errors, so a typo never silently falls back
  - Both open switches must be stated explicitly
  - Category names are case-insensitive

USAGE:
  pf := factory.NewPolicyFactory()
  policy, err := pf.ParsePolicyFile("config/allocation.yaml")

SEE ALSO:
  - timeoff/policies.go: AllocationPolicy and the stock preset
*/
package factory

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/timeoff"
)

// =============================================================================
// SCHEMA TYPES
// =============================================================================

// PolicyDocument is the file representation of an allocation policy.
type PolicyDocument struct {
	Entitlements           map[string]float64 `yaml:"entitlements" json:"entitlements"`
	OtherCategory          string             `yaml:"other_category" json:"other_category"`
	AdjustOverdraw         string             `yaml:"adjust_overdraw" json:"adjust_overdraw"`
	DefaultRejectionReason string             `yaml:"default_rejection_reason,omitempty" json:"default_rejection_reason,omitempty"`
}

// =============================================================================
// POLICY FACTORY
// =============================================================================

// PolicyFactory creates allocation policies from documents.
type PolicyFactory struct{}

func NewPolicyFactory() *PolicyFactory {
	return &PolicyFactory{}
}

// ParsePolicyFile reads and parses a policy file.
func (f *PolicyFactory) ParsePolicyFile(path string) (timeoff.AllocationPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return timeoff.AllocationPolicy{}, fmt.Errorf("read policy file: %w", err)
	}
	policy, err := f.ParsePolicy(data)
	if err != nil {
		return timeoff.AllocationPolicy{}, fmt.Errorf("%s: %w", path, err)
	}
	return policy, nil
}

// ParsePolicy parses a YAML or JSON policy document.
func (f *PolicyFactory) ParsePolicy(data []byte) (timeoff.AllocationPolicy, error) {
	var doc PolicyDocument
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return timeoff.AllocationPolicy{}, fmt.Errorf("empty policy document")
		}
		return timeoff.AllocationPolicy{}, fmt.Errorf("invalid policy document: %w", err)
	}
	return f.FromDocument(doc)
}

// FromDocument converts a decoded document into a validated policy.
func (f *PolicyFactory) FromDocument(doc PolicyDocument) (timeoff.AllocationPolicy, error) {
	if doc.OtherCategory == "" {
		return timeoff.AllocationPolicy{}, fmt.Errorf("other_category is required (%q or %q)", timeoff.OtherReject, timeoff.OtherUnlimited)
	}
	if doc.AdjustOverdraw == "" {
		return timeoff.AllocationPolicy{}, fmt.Errorf("adjust_overdraw is required (%q or %q)", generic.OverdrawClamp, generic.OverdrawReject)
	}

	policy := timeoff.AllocationPolicy{
		Entitlements:           make(map[timeoff.Category]float64, len(doc.Entitlements)),
		OtherCategory:          timeoff.OtherCategoryMode(doc.OtherCategory),
		AdjustOverdraw:         generic.OverdrawMode(doc.AdjustOverdraw),
		DefaultRejectionReason: doc.DefaultRejectionReason,
	}
	if policy.DefaultRejectionReason == "" {
		policy.DefaultRejectionReason = timeoff.DefaultRejectionReason
	}
	for name, total := range doc.Entitlements {
		c, err := timeoff.ParseCategory(name)
		if err != nil {
			return timeoff.AllocationPolicy{}, fmt.Errorf("entitlements: %w", err)
		}
		if _, dup := policy.Entitlements[c]; dup {
			return timeoff.AllocationPolicy{}, fmt.Errorf("entitlements: %s listed twice", c)
		}
		policy.Entitlements[c] = total
	}

	if err := policy.Validate(); err != nil {
		return timeoff.AllocationPolicy{}, err
	}
	return policy, nil
}

// ToDocument is the inverse of FromDocument.
func (f *PolicyFactory) ToDocument(p timeoff.AllocationPolicy) PolicyDocument {
	doc := PolicyDocument{
		Entitlements:           make(map[string]float64, len(p.Entitlements)),
		OtherCategory:          string(p.OtherCategory),
		AdjustOverdraw:         string(p.AdjustOverdraw),
		DefaultRejectionReason: p.DefaultRejectionReason,
	}
	for c, total := range p.Entitlements {
		doc.Entitlements[string(c)] = total
	}
	return doc
}

// MarshalPolicy renders p as YAML.
func (f *PolicyFactory) MarshalPolicy(p timeoff.AllocationPolicy) ([]byte, error) {
	return yaml.Marshal(f.ToDocument(p))
}
