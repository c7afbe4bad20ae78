// Package plugins resolves plugin identifiers to connectors over a plugin's
// configuration, access grants and data records.
package plugins

import (
	"context"
	"errors"
	"fmt"

	"github.com/pluginhub/pluginhub/internal/models"
)

var (
	// ErrPluginNotFound is returned when no plugin is registered under an id.
	ErrPluginNotFound = errors.New("plugin not found")

	// ErrDataNotFound is returned by ReplaceData when no stored record matches.
	ErrDataNotFound = errors.New("data record not found")
)

// Connector is a handle to one plugin's state, access levels and data.
type Connector interface {
	// ID returns the plugin identifier the connector is bound to.
	ID() string

	// State returns the plugin's current lifecycle state.
	State(ctx context.Context) (models.PluginState, error)

	// AccessLevel returns the level the given user holds on the plugin.
	AccessLevel(ctx context.Context, user string) (models.AccessLevel, error)

	// Data returns up to opts.Number records matching opts, newest first.
	Data(ctx context.Context, opts models.DataOptions) ([]models.Data, error)

	// AddData stores a new record. The store assigns its ID.
	AddData(ctx context.Context, data models.Data) error

	// ReplaceData substitutes the first record matching old with replacement.
	ReplaceData(ctx context.Context, old, replacement models.Data) error

	// DeleteData removes up to opts.Number records matching opts and reports how many.
	DeleteData(ctx context.Context, opts models.DataOptions) (int64, error)
}

// Resolver looks up connectors by plugin id.
type Resolver interface {
	Resolve(ctx context.Context, pluginID string) (Connector, error)
}

// PluginStore reads and writes plugin configuration.
type PluginStore interface {
	// GetPlugin returns ErrPluginNotFound when id is unknown.
	GetPlugin(ctx context.Context, id string) (*models.Plugin, error)
	ListPlugins(ctx context.Context) ([]models.Plugin, error)
	UpsertPlugin(ctx context.Context, plugin models.Plugin) (*models.Plugin, error)
}

// AccessStore reads and writes per-user grants.
type AccessStore interface {
	// GetGrant returns nil, nil when the user holds no explicit grant.
	GetGrant(ctx context.Context, pluginID, username string) (*models.AccessGrant, error)
	UpsertGrant(ctx context.Context, grant models.AccessGrant) error
}

// DataStore holds plugin data records.
type DataStore interface {
	ListData(ctx context.Context, pluginID string, opts models.DataOptions) ([]models.Data, error)
	// InsertData assigns the record a new ID, ignoring any ID on data.
	InsertData(ctx context.Context, pluginID string, data models.Data) error
	// ReplaceData returns ErrDataNotFound when nothing matches old.
	ReplaceData(ctx context.Context, pluginID string, old, replacement models.Data) error
	DeleteData(ctx context.Context, pluginID string, opts models.DataOptions) (int64, error)
}

// Store is everything a Registry needs.
type Store interface {
	PluginStore
	AccessStore
	DataStore
}

// Registry resolves plugin ids to connectors backed by a Store.
type Registry struct {
	store Store
}

// NewRegistry creates a registry over store.
func NewRegistry(store Store) *Registry {
	return &Registry{store: store}
}

// Resolve returns a connector for pluginID, or ErrPluginNotFound.
func (r *Registry) Resolve(ctx context.Context, pluginID string) (Connector, error) {
	if pluginID == "" {
		return nil, ErrPluginNotFound
	}
	if _, err := r.store.GetPlugin(ctx, pluginID); err != nil {
		if errors.Is(err, ErrPluginNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("resolve plugin %s: %w", pluginID, err)
	}
	return &connector{id: pluginID, store: r.store}, nil
}

// connector re-reads state and grants on every call, so a plugin disabled
// mid-request is seen by the next step.
type connector struct {
	id    string
	store Store
}

func (c *connector) ID() string { return c.id }

func (c *connector) State(ctx context.Context) (models.PluginState, error) {
	plugin, err := c.store.GetPlugin(ctx, c.id)
	if err != nil {
		return "", err
	}
	return plugin.State, nil
}

func (c *connector) AccessLevel(ctx context.Context, user string) (models.AccessLevel, error) {
	if user != "" {
		grant, err := c.store.GetGrant(ctx, c.id, user)
		if err != nil {
			return "", err
		}
		if grant != nil {
			return grant.Level, nil
		}
	}

	plugin, err := c.store.GetPlugin(ctx, c.id)
	if err != nil {
		return "", err
	}
	if !plugin.DefaultAccess.Valid() {
		return models.AccessNone, nil
	}
	return plugin.DefaultAccess, nil
}

func (c *connector) Data(ctx context.Context, opts models.DataOptions) ([]models.Data, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return c.store.ListData(ctx, c.id, opts)
}

func (c *connector) AddData(ctx context.Context, data models.Data) error {
	if err := data.Validate(); err != nil {
		return err
	}
	return c.store.InsertData(ctx, c.id, data)
}

func (c *connector) ReplaceData(ctx context.Context, old, replacement models.Data) error {
	if err := replacement.Validate(); err != nil {
		return err
	}
	return c.store.ReplaceData(ctx, c.id, old, replacement)
}

func (c *connector) DeleteData(ctx context.Context, opts models.DataOptions) (int64, error) {
	if err := opts.Validate(); err != nil {
		return 0, err
	}
	return c.store.DeleteData(ctx, c.id, opts)
}
