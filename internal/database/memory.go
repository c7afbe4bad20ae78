package database

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pluginhub/pluginhub/internal/models"
)

// MemoryUserRepository keeps users in memory for STORAGE_DRIVER=memory and tests.
type MemoryUserRepository struct {
	mu    sync.RWMutex
	users map[string]models.User
}

// NewMemoryUserRepository creates an empty user store.
func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{users: make(map[string]models.User)}
}

// CreateUser stores a user with an already hashed password.
func (r *MemoryUserRepository) CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[username]; ok {
		return nil, ErrUserExists
	}
	user := models.User{
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC().Truncate(time.Millisecond),
	}
	r.users[username] = user
	return &user, nil
}

// GetUser retrieves a user by name.
func (r *MemoryUserRepository) GetUser(ctx context.Context, username string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[username]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &user, nil
}

// MemoryActivityLog keeps activity entries in memory.
type MemoryActivityLog struct {
	mu      sync.RWMutex
	entries []models.ActivityLog
}

// NewMemoryActivityLog creates an empty activity log.
func NewMemoryActivityLog() *MemoryActivityLog {
	return &MemoryActivityLog{}
}

// Log appends an entry.
func (l *MemoryActivityLog) Log(ctx context.Context, log models.ActivityLog) error {
	if log.ID == "" {
		log.ID = uuid.New().String()
	}
	if log.Timestamp.IsZero() {
		log.Timestamp = time.Now()
	}
	log.Timestamp = log.Timestamp.UTC().Truncate(time.Millisecond)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, log)
	return nil
}

// List returns entries newest first, optionally for one plugin.
func (l *MemoryActivityLog) List(ctx context.Context, limit int, pluginID string) ([]models.ActivityLog, error) {
	limit = clampActivityLimit(limit)

	l.mu.RLock()
	defer l.mu.RUnlock()

	logs := []models.ActivityLog{}
	for _, entry := range l.entries {
		if pluginID == "" || entry.PluginID == pluginID {
			logs = append(logs, entry)
		}
	}
	sort.SliceStable(logs, func(i, j int) bool {
		if !logs[i].Timestamp.Equal(logs[j].Timestamp) {
			return logs[i].Timestamp.After(logs[j].Timestamp)
		}
		return logs[i].ID < logs[j].ID
	})
	if len(logs) > limit {
		logs = logs[:limit]
	}
	return logs, nil
}
