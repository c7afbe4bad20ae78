package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"path/filepath"
	"strconv"
	"testing"
	"testing/fstest"
	"time"

	"github.com/pluginhub/pluginhub/internal/config"
	"github.com/pluginhub/pluginhub/internal/database/migrations"
	"github.com/pluginhub/pluginhub/internal/logging"
	"github.com/pluginhub/pluginhub/internal/models"
	"github.com/pluginhub/pluginhub/internal/plugins"
)

var base = time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	cfg := config.DatabaseConfig{
		Driver:         config.DriverSQLite,
		SQLitePath:     filepath.Join(t.TempDir(), "pluginhub.db"),
		MaxConnections: 4,
	}
	db, err := Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("connect sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := RunMigrations(context.Background(), db, migrations.FS, logging.Discard()); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	return db
}

func record(typ, status string, minutes int) models.Data {
	return models.Data{
		Type:      typ,
		Status:    status,
		Timestamp: base.Add(time.Duration(minutes) * time.Minute),
		Content:   json.RawMessage(`{"n":` + strconv.Itoa(minutes) + `}`),
	}
}

func countRows(t *testing.T, db *sql.DB, query string) int64 {
	t.Helper()
	var n int64
	if err := db.QueryRow(query).Scan(&n); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	return n
}

func TestRunMigrationsIsIdempotent(t *testing.T) {
	db := openTestDB(t)

	if err := RunMigrations(context.Background(), db, migrations.FS, logging.Discard()); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if n := countRows(t, db, "SELECT COUNT(*) FROM schema_migrations"); n != 1 {
		t.Fatalf("expected 1 recorded migration, got %d", n)
	}
}

func TestRunMigrationsDoesNotRecordFailure(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	bad := fstest.MapFS{
		"002_bad.sql": &fstest.MapFile{Data: []byte("CREAT TABLE broken (id TEXT);")},
	}
	if err := RunMigrations(ctx, db, bad, logging.Discard()); err == nil {
		t.Fatal("expected bad migration to fail")
	}
	if n := countRows(t, db, "SELECT COUNT(*) FROM schema_migrations WHERE version = '002_bad.sql'"); n != 0 {
		t.Fatalf("failed migration was recorded")
	}

	good := fstest.MapFS{
		"002_bad.sql": &fstest.MapFile{Data: []byte("CREATE TABLE fixed (id TEXT PRIMARY KEY);")},
	}
	if err := RunMigrations(ctx, db, good, logging.Discard()); err != nil {
		t.Fatalf("apply fixed migration: %v", err)
	}
	if n := countRows(t, db, "SELECT COUNT(*) FROM fixed"); n != 0 {
		t.Fatalf("expected empty fixed table, got %d rows", n)
	}
}

func TestPluginRepositoryPlugins(t *testing.T) {
	ctx := context.Background()
	repo := NewPluginRepository(openTestDB(t))

	if _, err := repo.GetPlugin(ctx, "blog"); !errors.Is(err, plugins.ErrPluginNotFound) {
		t.Fatalf("GetPlugin on empty store error = %v, want ErrPluginNotFound", err)
	}

	created, err := repo.UpsertPlugin(ctx, models.Plugin{ID: "blog", State: models.PluginStateEnabled})
	if err != nil {
		t.Fatalf("UpsertPlugin returned error: %v", err)
	}
	if created.DefaultAccess != models.AccessNone {
		t.Errorf("expected default access none, got %q", created.DefaultAccess)
	}

	updated, err := repo.UpsertPlugin(ctx, models.Plugin{ID: "blog", State: models.PluginStateDisabled, DefaultAccess: models.AccessReadOnly})
	if err != nil {
		t.Fatalf("UpsertPlugin update returned error: %v", err)
	}
	if updated.State != models.PluginStateDisabled || updated.DefaultAccess != models.AccessReadOnly {
		t.Errorf("update not applied: %+v", updated)
	}
	if !updated.CreatedAt.Equal(created.CreatedAt) {
		t.Errorf("created_at changed on update: %v -> %v", created.CreatedAt, updated.CreatedAt)
	}

	if _, err := repo.UpsertPlugin(ctx, models.Plugin{ID: "analytics", State: models.PluginStateEnabled}); err != nil {
		t.Fatalf("UpsertPlugin returned error: %v", err)
	}
	list, err := repo.ListPlugins(ctx)
	if err != nil {
		t.Fatalf("ListPlugins returned error: %v", err)
	}
	if len(list) != 2 || list[0].ID != "analytics" || list[1].ID != "blog" {
		t.Fatalf("unexpected plugin list: %+v", list)
	}
}

func TestPluginRepositoryGrants(t *testing.T) {
	ctx := context.Background()
	repo := NewPluginRepository(openTestDB(t))

	if err := repo.UpsertGrant(ctx, models.AccessGrant{PluginID: "blog", Username: "alice", Level: models.AccessReadOnly}); !errors.Is(err, plugins.ErrPluginNotFound) {
		t.Fatalf("grant on unknown plugin error = %v, want ErrPluginNotFound", err)
	}

	if _, err := repo.UpsertPlugin(ctx, models.Plugin{ID: "blog", State: models.PluginStateEnabled}); err != nil {
		t.Fatalf("UpsertPlugin returned error: %v", err)
	}

	grant, err := repo.GetGrant(ctx, "blog", "alice")
	if err != nil || grant != nil {
		t.Fatalf("expected no grant, got %+v, %v", grant, err)
	}

	for _, level := range []models.AccessLevel{models.AccessReadOnly, models.AccessReadWrite} {
		if err := repo.UpsertGrant(ctx, models.AccessGrant{PluginID: "blog", Username: "alice", Level: level}); err != nil {
			t.Fatalf("UpsertGrant(%s) returned error: %v", level, err)
		}
	}

	grant, err = repo.GetGrant(ctx, "blog", "alice")
	if err != nil {
		t.Fatalf("GetGrant returned error: %v", err)
	}
	if grant == nil || grant.Level != models.AccessReadWrite {
		t.Fatalf("expected readwrite grant, got %+v", grant)
	}
}

// TestStoresAgree runs the same data scenario against the SQL and in-memory
// stores so both behave identically behind the registry.
func TestStoresAgree(t *testing.T) {
	stores := map[string]plugins.Store{
		"sqlite": NewPluginRepository(openTestDB(t)),
		"memory": plugins.NewMemoryStore(),
	}

	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := store.UpsertPlugin(ctx, models.Plugin{ID: "blog", State: models.PluginStateEnabled}); err != nil {
				t.Fatalf("UpsertPlugin returned error: %v", err)
			}
			if err := store.InsertData(ctx, "wiki", record("post", "public", 0)); !errors.Is(err, plugins.ErrPluginNotFound) {
				t.Fatalf("insert into unknown plugin error = %v, want ErrPluginNotFound", err)
			}

			for i, d := range []models.Data{
				record("post", "public", 1),
				record("post", models.StatusPrivate, 2),
				record("page", "public", 3),
				record("post", "public", 4),
				record("post", "public", 5),
			} {
				if err := store.InsertData(ctx, "blog", d); err != nil {
					t.Fatalf("insert %d: %v", i, err)
				}
			}

			all, err := store.ListData(ctx, "blog", models.DataOptions{Number: 10})
			if err != nil {
				t.Fatalf("ListData returned error: %v", err)
			}
			if len(all) != 5 {
				t.Fatalf("expected 5 records, got %d", len(all))
			}
			for i, d := range all {
				want := base.Add(time.Duration(5-i) * time.Minute)
				if !d.Timestamp.Equal(want) {
					t.Errorf("record %d timestamp = %v, want %v", i, d.Timestamp, want)
				}
				if d.ID == "" {
					t.Errorf("record %d has no id", i)
				}
			}

			cursor := base.Add(3 * time.Minute)
			page, _ := store.ListData(ctx, "blog", models.DataOptions{Number: 2, Type: "post", StartTimestamp: &cursor})
			if len(page) != 2 || !page[0].Timestamp.Equal(base.Add(2*time.Minute)) || !page[1].Timestamp.Equal(base.Add(time.Minute)) {
				t.Fatalf("unexpected cursor page: %+v", page)
			}

			old := record("post", models.StatusPrivate, 2)
			replacement := record("post", "public", 2)
			replacement.Content = json.RawMessage(`{"n": 2, "published": true}`)
			if err := store.ReplaceData(ctx, "blog", old, replacement); err != nil {
				t.Fatalf("ReplaceData returned error: %v", err)
			}
			if err := store.ReplaceData(ctx, "blog", old, replacement); !errors.Is(err, plugins.ErrDataNotFound) {
				t.Fatalf("second ReplaceData error = %v, want ErrDataNotFound", err)
			}

			byID := models.Data{ID: all[0].ID}
			if err := store.ReplaceData(ctx, "blog", byID, record("post", "archived", 6)); err != nil {
				t.Fatalf("replace by id: %v", err)
			}
			newest, _ := store.ListData(ctx, "blog", models.DataOptions{Number: 1})
			if len(newest) != 1 || newest[0].ID != all[0].ID || newest[0].Status != "archived" {
				t.Fatalf("replace by id did not keep the id: %+v", newest)
			}

			deleted, err := store.DeleteData(ctx, "blog", models.DataOptions{Number: 2, Type: "post"})
			if err != nil {
				t.Fatalf("DeleteData returned error: %v", err)
			}
			if deleted != 2 {
				t.Fatalf("expected 2 deleted, got %d", deleted)
			}

			left, _ := store.ListData(ctx, "blog", models.DataOptions{Number: 10})
			if len(left) != 3 {
				t.Fatalf("expected 3 records left, got %d", len(left))
			}
			if !left[0].Timestamp.Equal(base.Add(3*time.Minute)) || left[0].Type != "page" {
				t.Errorf("expected the page to be newest survivor, got %+v", left[0])
			}
		})
	}
}

func TestPluginRepositoryMatchesCompactedContent(t *testing.T) {
	ctx := context.Background()
	repo := NewPluginRepository(openTestDB(t))
	if _, err := repo.UpsertPlugin(ctx, models.Plugin{ID: "blog", State: models.PluginStateEnabled}); err != nil {
		t.Fatalf("UpsertPlugin returned error: %v", err)
	}

	stored := record("post", "public", 1)
	stored.Content = json.RawMessage("{\n  \"title\": \"hello\"\n}")
	if err := repo.InsertData(ctx, "blog", stored); err != nil {
		t.Fatalf("InsertData returned error: %v", err)
	}

	old := stored
	old.Content = json.RawMessage(`{"title":"hello"}`)
	if err := repo.ReplaceData(ctx, "blog", old, record("post", "public", 1)); err != nil {
		t.Fatalf("replace with compact content: %v", err)
	}
}

func TestStoresIsolateRecordIDs(t *testing.T) {
	stores := map[string]plugins.Store{
		"sqlite": NewPluginRepository(openTestDB(t)),
		"memory": plugins.NewMemoryStore(),
	}

	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, id := range []string{"blog", "wiki"} {
				if _, err := store.UpsertPlugin(ctx, models.Plugin{ID: id, State: models.PluginStateEnabled}); err != nil {
					t.Fatalf("UpsertPlugin(%s) returned error: %v", id, err)
				}
			}

			// Client-supplied ids are replaced by store-assigned ones.
			for i, pluginID := range []string{"blog", "blog", "wiki"} {
				d := record("post", "public", i+1)
				d.ID = "fixed"
				if err := store.InsertData(ctx, pluginID, d); err != nil {
					t.Fatalf("insert %d into %s: %v", i, pluginID, err)
				}
			}

			blog, _ := store.ListData(ctx, "blog", models.DataOptions{Number: 10})
			wiki, _ := store.ListData(ctx, "wiki", models.DataOptions{Number: 10})
			if len(blog) != 2 || len(wiki) != 1 {
				t.Fatalf("expected 2 blog and 1 wiki records, got %d and %d", len(blog), len(wiki))
			}
			seen := map[string]bool{}
			for _, d := range append(blog, wiki...) {
				if d.ID == "" || d.ID == "fixed" {
					t.Errorf("record kept client id %q", d.ID)
				}
				if seen[d.ID] {
					t.Errorf("duplicate id %q", d.ID)
				}
				seen[d.ID] = true
			}

			// Replace by id never reaches across plugins.
			foreign := models.Data{ID: wiki[0].ID}
			if err := store.ReplaceData(ctx, "blog", foreign, record("post", "archived", 9)); !errors.Is(err, plugins.ErrDataNotFound) {
				t.Fatalf("replace with another plugin's id error = %v, want ErrDataNotFound", err)
			}
			after, _ := store.ListData(ctx, "wiki", models.DataOptions{Number: 10})
			if len(after) != 1 || after[0].Status != "public" {
				t.Fatalf("wiki record changed: %+v", after)
			}
		})
	}
}
