package api

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/pluginhub/pluginhub/internal/auth"
	"github.com/pluginhub/pluginhub/internal/models"
)

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var identifierPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{0,63}$`)

const minPasswordLength = 8

// ValidatePluginID checks a plugin id taken from the URL path.
func ValidatePluginID(id string) error {
	if !identifierPattern.MatchString(id) {
		return ValidationError{Field: "plugin", Message: "must be 1-64 lowercase letters, digits, '.', '_' or '-'"}
	}
	return nil
}

// ValidatePluginUpdate validates a plugin configuration update.
func ValidatePluginUpdate(req *PluginUpdateRequest) error {
	if !req.State.Valid() {
		return ValidationError{Field: "state", Message: fmt.Sprintf("must be %q or %q", models.PluginStateEnabled, models.PluginStateDisabled)}
	}

	if req.DefaultAccess == "" {
		req.DefaultAccess = models.AccessNone
	}
	if !req.DefaultAccess.Valid() {
		return ValidationError{Field: "default_access", Message: "must be none, readonly or readwrite"}
	}

	return nil
}

// ValidateGrantee checks the user named in an access grant path. The admin
// account is a valid grantee.
func ValidateGrantee(username string) error {
	if !identifierPattern.MatchString(username) {
		return ValidationError{Field: "user", Message: "must be 1-64 lowercase letters, digits, '.', '_' or '-'"}
	}
	return nil
}

// ValidateAccessLevel validates the level of an access grant.
func ValidateAccessLevel(level models.AccessLevel) error {
	if !level.Valid() {
		return ValidationError{Field: "level", Message: "must be none, readonly or readwrite"}
	}
	return nil
}

// ValidateNewUser validates an account creation request.
func ValidateNewUser(req *CreateUserRequest) error {
	req.Username = strings.TrimSpace(req.Username)

	if !identifierPattern.MatchString(req.Username) {
		return ValidationError{Field: "username", Message: "must be 1-64 lowercase letters, digits, '.', '_' or '-'"}
	}

	if req.Username == auth.AdminUserID {
		return ValidationError{Field: "username", Message: "is reserved"}
	}

	if len(req.Password) < minPasswordLength {
		return ValidationError{Field: "password", Message: fmt.Sprintf("must be at least %d characters", minPasswordLength)}
	}

	// bcrypt ignores everything past 72 bytes
	if len(req.Password) > 72 {
		return ValidationError{Field: "password", Message: "must be at most 72 bytes"}
	}

	return nil
}
