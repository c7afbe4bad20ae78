package plugins

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pluginhub/pluginhub/internal/models"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore implements Store in memory for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	plugins map[string]models.Plugin
	grants  map[string]map[string]models.AccessGrant // plugin -> user -> grant
	data    map[string][]models.Data                 // plugin -> records
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		plugins: make(map[string]models.Plugin),
		grants:  make(map[string]map[string]models.AccessGrant),
		data:    make(map[string][]models.Data),
	}
}

// GetPlugin returns a copy of the plugin configuration.
func (s *MemoryStore) GetPlugin(ctx context.Context, id string) (*models.Plugin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	plugin, ok := s.plugins[id]
	if !ok {
		return nil, ErrPluginNotFound
	}
	return &plugin, nil
}

// ListPlugins returns all plugins ordered by id.
func (s *MemoryStore) ListPlugins(ctx context.Context) ([]models.Plugin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	plugins := make([]models.Plugin, 0, len(s.plugins))
	for _, p := range s.plugins {
		plugins = append(plugins, p)
	}
	sort.Slice(plugins, func(i, j int) bool { return plugins[i].ID < plugins[j].ID })
	return plugins, nil
}

// UpsertPlugin creates or updates a plugin's configuration.
func (s *MemoryStore) UpsertPlugin(ctx context.Context, plugin models.Plugin) (*models.Plugin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := s.plugins[plugin.ID]; ok {
		plugin.CreatedAt = existing.CreatedAt
	} else {
		plugin.CreatedAt = now
	}
	if plugin.DefaultAccess == "" {
		plugin.DefaultAccess = models.AccessNone
	}
	plugin.UpdatedAt = now
	s.plugins[plugin.ID] = plugin
	return &plugin, nil
}

// GetGrant returns the user's explicit grant, or nil.
func (s *MemoryStore) GetGrant(ctx context.Context, pluginID, username string) (*models.AccessGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	grant, ok := s.grants[pluginID][username]
	if !ok {
		return nil, nil
	}
	return &grant, nil
}

// UpsertGrant sets a user's level on a plugin.
func (s *MemoryStore) UpsertGrant(ctx context.Context, grant models.AccessGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.plugins[grant.PluginID]; !ok {
		return ErrPluginNotFound
	}
	if s.grants[grant.PluginID] == nil {
		s.grants[grant.PluginID] = make(map[string]models.AccessGrant)
	}
	grant.UpdatedAt = time.Now().UTC()
	s.grants[grant.PluginID][grant.Username] = grant
	return nil
}

// ListData returns matching records newest first.
func (s *MemoryStore) ListData(ctx context.Context, pluginID string, opts models.DataOptions) ([]models.Data, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.matching(pluginID, opts)
	out := make([]models.Data, 0, len(idx))
	for _, i := range idx {
		out = append(out, s.data[pluginID][i])
	}
	return out, nil
}

// InsertData appends a record under a freshly assigned ID. Any ID on data is
// ignored.
func (s *MemoryStore) InsertData(ctx context.Context, pluginID string, data models.Data) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.plugins[pluginID]; !ok {
		return ErrPluginNotFound
	}
	data.ID = uuid.New().String()
	data.Timestamp = normalizeTimestamp(data.Timestamp)
	s.data[pluginID] = append(s.data[pluginID], data)
	return nil
}

// ReplaceData swaps the first record matching old, keeping its ID.
func (s *MemoryStore) ReplaceData(ctx context.Context, pluginID string, old, replacement models.Data) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old.Timestamp = normalizeTimestamp(old.Timestamp)
	records := s.data[pluginID]
	for _, i := range s.sortedIndexes(pluginID) {
		if old.Matches(records[i]) {
			replacement.ID = records[i].ID
			replacement.Timestamp = normalizeTimestamp(replacement.Timestamp)
			records[i] = replacement
			return nil
		}
	}
	return ErrDataNotFound
}

// DeleteData removes up to opts.Number matching records, newest first.
func (s *MemoryStore) DeleteData(ctx context.Context, pluginID string, opts models.DataOptions) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doomed := make(map[int]bool)
	for _, i := range s.matching(pluginID, opts) {
		doomed[i] = true
	}
	if len(doomed) == 0 {
		return 0, nil
	}

	kept := s.data[pluginID][:0]
	for i, d := range s.data[pluginID] {
		if !doomed[i] {
			kept = append(kept, d)
		}
	}
	s.data[pluginID] = kept
	return int64(len(doomed)), nil
}

// matching returns indexes into s.data[pluginID] that pass opts, newest first,
// capped at opts.Number. Callers hold the lock.
func (s *MemoryStore) matching(pluginID string, opts models.DataOptions) []int {
	var out []int
	for _, i := range s.sortedIndexes(pluginID) {
		if len(out) >= opts.Number {
			break
		}
		if opts.Accepts(s.data[pluginID][i]) {
			out = append(out, i)
		}
	}
	return out
}

func (s *MemoryStore) sortedIndexes(pluginID string) []int {
	records := s.data[pluginID]
	idx := make([]int, len(records))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ra, rb := records[idx[a]], records[idx[b]]
		if !ra.Timestamp.Equal(rb.Timestamp) {
			return ra.Timestamp.After(rb.Timestamp)
		}
		return ra.ID < rb.ID
	})
	return idx
}

// normalizeTimestamp matches the millisecond UTC precision of the SQL stores.
func normalizeTimestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}
