package store

import (
	"fmt"
)

// Resource type for Redis keys
type Resource string

const (
	ResourceMission Resource = "missions"
	ResourceAudit   Resource = "audit"
)

// keyPrefix namespaces every key this service writes.
const keyPrefix = "fleetops"

// ResourceKey constructs a fully qualified Redis key for a resource.
// Format: fleetops:{resource}:{id}
func ResourceKey(resource Resource, id string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, resource, id)
}

// ResourceIndex is the key of the sorted set indexing all ids of a resource.
// Format: fleetops:{resource}:index
func ResourceIndex(resource Resource) string {
	return fmt.Sprintf("%s:%s:index", keyPrefix, resource)
}

// AuditListKey returns the capped list holding audit events for a source,
// or the global list when sourceSystem is empty.
func AuditListKey(sourceSystem string) string {
	if sourceSystem == "" {
		return ResourceKey(ResourceAudit, "all")
	}
	return ResourceKey(ResourceAudit, "source:"+sourceSystem)
}
