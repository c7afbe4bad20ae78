package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/pluginhub/pluginhub/internal/auth"
	"github.com/pluginhub/pluginhub/internal/models"
)

func TestAdminRoutesRequireAdmin(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/plugins", "alice", "")
	assertError(t, rec, http.StatusForbidden, "FORBIDDEN")

	rec = env.do(t, http.MethodPut, "/api/plugins/blog", "alice", `{"state":"enabled"}`)
	assertError(t, rec, http.StatusForbidden, "FORBIDDEN")

	rec = env.do(t, http.MethodGet, "/api/activity", "", "")
	assertError(t, rec, http.StatusUnauthorized, "UNAUTHENTICATED")
}

func TestAdminConfiguresPluginAndAccess(t *testing.T) {
	env := newTestEnv(t)
	admin := auth.AdminUserID

	rec := env.do(t, http.MethodPut, "/api/plugins/blog", admin, `{"state":"enabled","default_access":"readonly"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update plugin: status %d body %s", rec.Code, rec.Body.String())
	}
	var plugin models.Plugin
	if err := json.Unmarshal(rec.Body.Bytes(), &plugin); err != nil {
		t.Fatalf("decode plugin: %v", err)
	}
	if plugin.ID != "blog" || plugin.State != models.PluginStateEnabled || plugin.DefaultAccess != models.AccessReadOnly {
		t.Fatalf("unexpected plugin: %+v", plugin)
	}

	rec = env.do(t, http.MethodPut, "/api/plugins/blog/access/alice", admin, `{"level":"readwrite"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("set access: status %d body %s", rec.Code, rec.Body.String())
	}

	// The grant takes effect on the data API immediately.
	rec = env.do(t, http.MethodPost, "/api/plugins/blog/data", "alice", validRecord)
	if rec.Code != http.StatusOK {
		t.Fatalf("add as alice: status %d body %s", rec.Code, rec.Body.String())
	}
	rec = env.do(t, http.MethodPost, "/api/plugins/blog/data", "bob", validRecord)
	assertError(t, rec, http.StatusForbidden, "UNAUTHORISED")

	rec = env.do(t, http.MethodGet, "/api/plugins", admin, "")
	var list struct {
		Plugins []models.Plugin `json:"plugins"`
		Count   int             `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if list.Count != 1 || list.Plugins[0].ID != "blog" {
		t.Fatalf("unexpected plugin list: %+v", list)
	}

	rec = env.do(t, http.MethodGet, "/api/activity?plugin=blog", admin, "")
	var activity struct {
		Activity []models.ActivityLog `json:"activity"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &activity); err != nil {
		t.Fatalf("decode activity: %v", err)
	}
	seen := map[models.ActivityType]bool{}
	for _, entry := range activity.Activity {
		seen[entry.ActivityType] = true
	}
	for _, want := range []models.ActivityType{models.ActivityTypePluginUpdate, models.ActivityTypeAccessUpdate, models.ActivityTypeDataAdd} {
		if !seen[want] {
			t.Errorf("missing %s activity in %+v", want, activity.Activity)
		}
	}
}

func TestAdminValidation(t *testing.T) {
	env := newTestEnv(t)
	admin := auth.AdminUserID

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		field  string
	}{
		{"bad state", http.MethodPut, "/api/plugins/blog", `{"state":"paused"}`, http.StatusBadRequest, "state"},
		{"bad default access", http.MethodPut, "/api/plugins/blog", `{"state":"enabled","default_access":"owner"}`, http.StatusBadRequest, "default_access"},
		{"bad plugin id", http.MethodPut, "/api/plugins/Blog%20Posts", `{"state":"enabled"}`, http.StatusBadRequest, "plugin"},
		{"bad grantee", http.MethodPut, "/api/plugins/blog/access/Alice%20Smith", `{"level":"readonly"}`, http.StatusBadRequest, "user"},
		{"bad level", http.MethodPut, "/api/plugins/blog/access/alice", `{"level":"all"}`, http.StatusBadRequest, "level"},
		{"short password", http.MethodPost, "/api/users", `{"username":"alice","password":"short"}`, http.StatusBadRequest, "password"},
		{"reserved username", http.MethodPost, "/api/users", `{"username":"admin","password":"long-enough"}`, http.StatusBadRequest, "username"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, tt.method, tt.path, admin, tt.body)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.status, rec.Body.String())
			}
			var body ErrorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Field != tt.field {
				t.Errorf("field = %q, want %q", body.Field, tt.field)
			}
		})
	}

	rec := env.do(t, http.MethodPut, "/api/plugins/wiki/access/alice", admin, `{"level":"readonly"}`)
	assertError(t, rec, http.StatusNotFound, "CONNECTOR_MISSING")
}

func TestCreateUserAndLogin(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/users", auth.AdminUserID, `{"username":"alice","password":"correct-horse"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create user: status %d body %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "$2a$") {
		t.Fatalf("password hash leaked in response: %s", rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, "/api/users", auth.AdminUserID, `{"username":"alice","password":"another-one"}`)
	assertError(t, rec, http.StatusConflict, "USER_EXISTS")

	rec = env.do(t, http.MethodPost, "/api/auth/login", "", `{"username":"alice","password":"correct-horse"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("login: status %d body %s", rec.Code, rec.Body.String())
	}
	var login LoginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &login); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	userID, err := auth.ValidateToken(login.Token, testAuthConfig.JWTSecret)
	if err != nil || userID != "alice" {
		t.Fatalf("token for %q, err %v", userID, err)
	}

	rec = env.do(t, http.MethodPost, "/api/auth/login", "", `{"username":"alice","password":"wrong-horse"}`)
	assertError(t, rec, http.StatusUnauthorized, "INVALID_CREDENTIALS")

	rec = env.do(t, http.MethodPost, "/api/auth/login", "", `{"username":"nobody","password":"correct-horse"}`)
	assertError(t, rec, http.StatusUnauthorized, "INVALID_CREDENTIALS")
}

func TestAdminLogin(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/auth/login", "", `{"password":"admin-password"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin login: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, "/api/auth/login", "", `{"username":"admin","password":"nope"}`)
	assertError(t, rec, http.StatusUnauthorized, "INVALID_CREDENTIALS")

	rec = env.do(t, http.MethodGet, "/api/auth/validate", "alice", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("validate: status %d", rec.Code)
	}
	var body map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["user_id"] != "alice" || body["valid"] != true {
		t.Fatalf("unexpected validate body: %v", body)
	}
}

func TestValidateGrantee(t *testing.T) {
	tests := map[string]bool{
		"alice":         true,
		"admin":         true,
		"data.bot-1":    true,
		"":              false,
		"Alice":         false,
		"alice smith":   false,
		"-leading-dash": false,
	}

	for username, valid := range tests {
		err := ValidateGrantee(username)
		if valid && err != nil {
			t.Errorf("ValidateGrantee(%q) returned error: %v", username, err)
		}
		if !valid && err == nil {
			t.Errorf("ValidateGrantee(%q) accepted an invalid name", username)
		}
	}
}
