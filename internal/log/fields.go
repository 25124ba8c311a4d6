// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldCampaignID    = "campaign_id"
	FieldComponentID   = "component_id"
	FieldComponentType = "component_type"
	FieldConnectionID  = "connection_id"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldTopic     = "topic"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"
	FieldStatus   = "status"
	FieldPaused   = "paused"

	// Network fields
	FieldURL     = "url"
	FieldAttempt = "attempt"
	FieldDelay   = "delay"

	// Cache fields
	FieldCacheKey = "cache_key"
)
