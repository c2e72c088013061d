package audit

import (
	"encoding/json"
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	// Decision events
	EventTypeAuthzDecisionDenied EventType = "authz.decision_denied"
	EventTypeAuthzEvaluated      EventType = "authz.evaluated"

	// Role lifecycle events
	EventTypeAuthzRoleCreated EventType = "authz.role_created"
	EventTypeAuthzRoleUpdated EventType = "authz.role_updated"
	EventTypeAuthzRoleDeleted EventType = "authz.role_deleted"
	EventTypeAuthzRoleGrants  EventType = "authz.role_grants_replaced"

	// Assignment events
	EventTypeAuthzRoleAssigned EventType = "authz.role_assigned"
	EventTypeAuthzRoleRevoked  EventType = "authz.role_revoked"

	// Override events
	EventTypeAuthzOverrideSet     EventType = "authz.override_set"
	EventTypeAuthzOverrideCleared EventType = "authz.override_cleared"

	// Engine lifecycle events
	EventTypeAuthzCatalogSeeded    EventType = "authz.catalog_seeded"
	EventTypeAuthzCacheInvalidated EventType = "authz.cache_invalidated"
	EventTypeAuthzPolicyReloaded   EventType = "authz.legacy_policy_reloaded"

	// Maintenance events
	EventTypeMaintenanceSweep EventType = "maintenance.assignment_sweep"
	EventTypeMaintenancePrune EventType = "maintenance.audit_prune"

	// Admin API events
	EventTypeAdminRequest EventType = "admin.http_request"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// ResourceType represents the type of resource being acted on
type ResourceType string

const (
	ResourceTypeRole       ResourceType = "role"
	ResourceTypeAssignment ResourceType = "assignment"
	ResourceTypeOverride   ResourceType = "override"
	ResourceTypePermission ResourceType = "permission"
	ResourceTypeUser       ResourceType = "user"
	ResourceTypeCache      ResourceType = "cache"
	ResourceTypePolicy     ResourceType = "policy"
)

// AuditEvent represents a single audit log entry
type AuditEvent struct {
	// Core fields
	ID        int64       `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// Actor information
	UserID         *int64 `json:"user_id,omitempty"`
	Username       string `json:"username,omitempty"`
	OrganizationID *int64 `json:"organization_id,omitempty"`

	// Resource information
	ResourceType ResourceType `json:"resource_type,omitempty"`
	ResourceID   string       `json:"resource_id,omitempty"`
	ResourceName string       `json:"resource_name,omitempty"`

	// Request context
	IPAddress  string `json:"ip_address,omitempty"`
	UserAgent  string `json:"user_agent,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
	Method     string `json:"method,omitempty"`
	Path       string `json:"path,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`

	// Additional details
	Message      string                 `json:"message,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`

	// Changes tracking (before/after for updates)
	Changes *ChangeDetails `json:"changes,omitempty"`
}

// ChangeDetails tracks before/after values for updates
type ChangeDetails struct {
	Before map[string]interface{} `json:"before,omitempty"`
	After  map[string]interface{} `json:"after,omitempty"`
}

// ToJSON converts the audit event to JSON
func (e *AuditEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON parses an audit event from JSON
func FromJSON(data []byte) (*AuditEvent, error) {
	var event AuditEvent
	err := json.Unmarshal(data, &event)
	return &event, err
}

// SearchFilter represents filters for searching audit logs
type SearchFilter struct {
	// Time range
	StartTime *time.Time
	EndTime   *time.Time

	// Actor filters
	UserID         *int64
	Username       string
	OrganizationID *int64

	// Event filters
	EventTypes []EventType
	Status     *EventStatus

	// Resource filters
	ResourceType ResourceType
	ResourceID   string
	ResourceName string

	// Request context filters
	IPAddress string
	Method    string
	Path      string

	// Pagination
	Limit  int
	Offset int

	// Sorting
	SortBy    string // field name to sort by
	SortOrder string // "asc" or "desc"
}

// ExportFormat represents the format for exporting audit logs
type ExportFormat string

const (
	ExportFormatJSON   ExportFormat = "json"
	ExportFormatCSV    ExportFormat = "csv"
	ExportFormatNDJSON ExportFormat = "ndjson" // Newline-delimited JSON
)

// AuditStats represents statistics about audit logs
type AuditStats struct {
	TotalEvents          int64                  `json:"total_events"`
	EventsByType         map[EventType]int64    `json:"events_by_type"`
	EventsByStatus       map[EventStatus]int64  `json:"events_by_status"`
	EventsByUser         map[int64]int64        `json:"events_by_user"`
	EventsByOrganization map[int64]int64        `json:"events_by_organization"`
	EventsByResource     map[ResourceType]int64 `json:"events_by_resource"`
	UniqueUsers          int64                  `json:"unique_users"`
	UniqueIPs            int64                  `json:"unique_ips"`
	AccessDenials        int64                  `json:"access_denials"`
	TimeRange            *TimeRange             `json:"time_range,omitempty"`
}

// TimeRange represents a time range for statistics
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// RetentionPolicy defines how long audit logs should be kept
type RetentionPolicy struct {
	// RetentionDays is the number of days to keep audit logs
	RetentionDays int

	// ArchiveEnabled determines if old logs should be archived instead of deleted
	ArchiveEnabled bool

	// ArchivePath is where archived logs should be stored
	ArchivePath string

	// CompressArchive determines if archived logs should be compressed
	CompressArchive bool
}

// DefaultRetentionPolicy returns a default retention policy (90 days)
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{
		RetentionDays:   90,
		ArchiveEnabled:  true,
		ArchivePath:     "/var/porter/audit-archive",
		CompressArchive: true,
	}
}
