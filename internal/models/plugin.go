package models

import "time"

// PluginState is the lifecycle flag of a plugin. Only PluginStateEnabled
// allows data operations.
type PluginState string

const (
	PluginStateEnabled  PluginState = "enabled"
	PluginStateDisabled PluginState = "disabled"
)

// Valid reports whether s is a known state.
func (s PluginState) Valid() bool {
	return s == PluginStateEnabled || s == PluginStateDisabled
}

// AccessLevel is what a user may do with a plugin's data.
type AccessLevel string

const (
	AccessNone      AccessLevel = "none"
	AccessReadOnly  AccessLevel = "readonly"
	AccessReadWrite AccessLevel = "readwrite"
)

// Valid reports whether l is a known access level.
func (l AccessLevel) Valid() bool {
	switch l {
	case AccessNone, AccessReadOnly, AccessReadWrite:
		return true
	}
	return false
}

// CanWrite reports whether l permits add, replace and delete.
func (l AccessLevel) CanWrite() bool {
	return l == AccessReadWrite
}

// SeesPrivate reports whether l may read records with StatusPrivate.
func (l AccessLevel) SeesPrivate() bool {
	return l != AccessNone
}

// Plugin is the stored configuration of one plugin.
type Plugin struct {
	ID            string      `json:"id"`
	State         PluginState `json:"state"`
	DefaultAccess AccessLevel `json:"default_access"` // level for users without a grant
	UpdatedAt     time.Time   `json:"updated_at"`
	CreatedAt     time.Time   `json:"created_at"`
}

// AccessGrant assigns a user an explicit level on a plugin.
type AccessGrant struct {
	PluginID  string      `json:"plugin_id"`
	Username  string      `json:"username"`
	Level     AccessLevel `json:"level"`
	UpdatedAt time.Time   `json:"updated_at"`
}
