/*
resource.go - Resource type registration and lookup

PURPOSE:
  Stores persist bucket and request categories as plain strings. The
  registry turns those strings back into the domain's concrete types.

USAGE:
  // In timeoff/types.go
  func init() {
      generic.RegisterResource(CategorySick)
  }

  // In a store scanner
  rt := generic.GetOrCreateResource("sick") // returns timeoff.CategorySick
*/
package generic

import "sync"

// =============================================================================
// RESOURCE REGISTRY
// =============================================================================

var (
	resourceRegistry = make(map[string]ResourceType)
	registryMu       sync.RWMutex
)

// RegisterResource adds a resource type to the global registry.
// Call this from domain package init() functions.
func RegisterResource(r ResourceType) {
	registryMu.Lock()
	defer registryMu.Unlock()
	resourceRegistry[r.ResourceID()] = r
}

// LookupResource finds a registered resource type by ID.
// Returns nil if not found.
func LookupResource(id string) ResourceType {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return resourceRegistry[id]
}

// =============================================================================
// STRING RESOURCE - For testing and fallback
// =============================================================================

// StringResource is a simple string-based resource type.
type StringResource struct {
	ID     string
	Domain string
}

func (r StringResource) ResourceID() string     { return r.ID }
func (r StringResource) ResourceDomain() string { return r.Domain }

// NewStringResource creates a StringResource with "unknown" domain.
func NewStringResource(id string) StringResource {
	return StringResource{ID: id, Domain: "unknown"}
}

// GetOrCreateResource looks up a resource type, or creates a StringResource fallback.
// Use this in deserialization when the domain might not be loaded.
func GetOrCreateResource(id string) ResourceType {
	if r := LookupResource(id); r != nil {
		return r
	}
	return NewStringResource(id)
}
