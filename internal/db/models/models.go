// Package models defines the database model types for the audit trail service.
// Each type corresponds to a database table and uses struct tags for both JSON
// serialization and sqlx row scanning. Models are pure data types; business
// logic belongs in the service layer, query logic in the repositories layer.
package models

import (
	"encoding/json"
	"time"
)

// ActionType is one entry of the closed action vocabulary (CREATE, UPDATE,
// DELETE, ...). Rows are created by the administrative seed step and are
// immutable once referenced by records, except for description and the
// active flag.
type ActionType struct {
	ID          int64  `db:"id" json:"id"`
	Code        string `db:"code" json:"code"`
	Description string `db:"description" json:"description"`
	IsActive    bool   `db:"is_active" json:"is_active"`
}

// AuditRecord is one immutable action record: who did what, to which entity,
// when. The store exclusively owns version assignment; callers never supply it.
type AuditRecord struct {
	ID               int64           `db:"id" json:"id"`
	EntityType       string          `db:"entity_type" json:"entity_type"`
	EntityID         string          `db:"entity_id" json:"entity_id"`
	ActionTypeID     int64           `db:"action_type_id" json:"action_type_id"`
	ActionBy         *string         `db:"action_by" json:"action_by"` // nil = system-initiated
	ActionAt         time.Time       `db:"action_at" json:"action_at"`
	PreviousData     json.RawMessage `db:"previous_data" json:"previous_data,omitempty"`
	NewData          json.RawMessage `db:"new_data" json:"new_data,omitempty"`
	Version          int64           `db:"version" json:"version"`
	IPAddress        *string         `db:"ip_address" json:"ip_address,omitempty"`
	SourceService    string          `db:"source_service" json:"source_service"`
	ModuleName       string          `db:"module_name" json:"module_name"`
	ProcessingTimeMs *float64        `db:"processing_time_ms" json:"processing_time_ms,omitempty"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"` // storage insertion time, distinct from ActionAt

	// Joined field (not stored in audit_records)
	ActionTypeCode string `db:"action_type_code" json:"action_type_code,omitempty"`
}

// ServiceCredential identifies an upstream writer service. Only the SHA-256
// hash of the raw key is ever stored; the raw key is shown to the issuing
// administrator exactly once.
type ServiceCredential struct {
	ID             int64      `db:"id" json:"id"`
	KeyHash        string     `db:"key_hash" json:"-"`
	ServiceName    string     `db:"service_name" json:"service_name"`
	Description    *string    `db:"description" json:"description,omitempty"`
	CanWrite       bool       `db:"can_write" json:"can_write"`
	CanRead        bool       `db:"can_read" json:"can_read"`
	AllowedModules ModuleList `db:"allowed_modules" json:"allowed_modules,omitempty"`
	IsActive       bool       `db:"is_active" json:"is_active"`
	ExpiresAt      *time.Time `db:"expires_at" json:"expires_at,omitempty"`
	CreatedBy      string     `db:"created_by" json:"created_by"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	LastUsedAt     *time.Time `db:"last_used_at" json:"last_used_at,omitempty"`
	RevokedAt      *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
	RevokedBy      *string    `db:"revoked_by" json:"revoked_by,omitempty"`
}

// AllowsModule reports whether the credential may write records for the given
// module. An empty list means no restriction.
func (c *ServiceCredential) AllowsModule(module string) bool {
	if len(c.AllowedModules) == 0 {
		return true
	}
	for _, m := range c.AllowedModules {
		if m == module {
			return true
		}
	}
	return false
}

// Summary is one aggregated bucket: all activity for a (day, source service,
// module, action) group. Created or overwritten only by the aggregation
// engine, never by request handlers.
type Summary struct {
	ID                int64     `db:"id" json:"id"`
	Date              time.Time `db:"date" json:"date"`
	SourceService     string    `db:"source_service" json:"source_service"`
	ModuleName        string    `db:"module_name" json:"module_name"`
	Action            string    `db:"action" json:"action"`
	TotalCount        int64     `db:"total_count" json:"total_count"`
	UniqueUsers       int64     `db:"unique_users" json:"unique_users"`
	AvgProcessingTime *float64  `db:"avg_processing_time" json:"avg_processing_time,omitempty"`
	LastAggregatedAt  time.Time `db:"last_aggregated_at" json:"last_aggregated_at"`
}
