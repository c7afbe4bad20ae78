package models

import "time"

// ActivityType represents the type of activity being logged.
type ActivityType string

const (
	ActivityTypeDataAdd      ActivityType = "data_add"
	ActivityTypeDataReplace  ActivityType = "data_replace"
	ActivityTypeDataDelete   ActivityType = "data_delete"
	ActivityTypePluginUpdate ActivityType = "plugin_update"
	ActivityTypeAccessUpdate ActivityType = "access_update"
)

// ActivityLog is an audit entry for a change made through the API.
type ActivityLog struct {
	ID           string                 `json:"id"`
	Timestamp    time.Time              `json:"timestamp"`
	ActivityType ActivityType           `json:"activity_type"`
	PluginID     string                 `json:"plugin_id,omitempty"`
	Username     string                 `json:"username,omitempty"`
	Message      string                 `json:"message"`
	Details      map[string]interface{} `json:"details,omitempty"`
}
