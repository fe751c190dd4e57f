package sync

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tanalite/tanalite/internal/db"
)

// fixtureDocs is a small workspace: a #project supertag declaring a
// Status field, one tagged node carrying a field value, and a note
// holding an inline reference to it.
var fixtureDocs = []string{
	`{"id":"tag1","props":{"name":"project","created":100},"children":["ttuple","label1"]}`,
	`{"id":"ttuple","props":{"created":101},"children":["SYS_A13","SYS_T01"]}`,
	`{"id":"label1","props":{"name":"Status","created":102},"children":["ltuple"]}`,
	`{"id":"ltuple","props":{"created":103},"children":["SYS_A13","SYS_T02"]}`,
	`{"id":"n1","props":{"name":"Build the thing","created":104},"children":["apptuple","ftuple"]}`,
	`{"id":"apptuple","props":{"created":105},"children":["SYS_A13","tag1"]}`,
	`{"id":"ftuple","props":{"created":106},"children":["label1","v1"]}`,
	`{"id":"v1","props":{"name":"active","created":107}}`,
	`{"id":"n2","props":{"name":"see <span data-inlineref-node=\"n1\"></span>","created":108}}`,
}

func writeExport(t *testing.T, dir string, docs []string) string {
	t.Helper()
	path := filepath.Join(dir, "export.json")
	content := `{"formatVersion":1,"docs":[` + strings.Join(docs, ",") + `]}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write export: %v", err)
	}
	return path
}

func openTestStore(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func count(t *testing.T, database *db.DB, query string, args ...any) int {
	t.Helper()
	var n int
	if err := database.Conn().QueryRow(query, args...).Scan(&n); err != nil {
		t.Fatalf("count query %q: %v", query, err)
	}
	return n
}

func TestSyncInitial(t *testing.T) {
	database := openTestStore(t)
	engine := New(database, nil)
	path := writeExport(t, t.TempDir(), fixtureDocs)

	res, err := engine.Sync(context.Background(), path, Options{})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}

	if res.FullReindex {
		t.Error("initial sync on an empty store should be incremental")
	}
	if res.NodesIndexed != 9 || res.NodesAdded != 9 {
		t.Errorf("nodes = %d added %d, want 9/9", res.NodesIndexed, res.NodesAdded)
	}
	if res.SupertagsIndexed != 1 || res.TagApplicationsIndexed != 1 {
		t.Errorf("supertags %d, tag apps %d, want 1/1", res.SupertagsIndexed, res.TagApplicationsIndexed)
	}
	if res.FieldValuesIndexed != 1 || res.FieldNamesIndexed != 1 {
		t.Errorf("field values %d, names %d, want 1/1", res.FieldValuesIndexed, res.FieldNamesIndexed)
	}
	if res.ReferencesIndexed != 1 {
		t.Errorf("references %d, want 1", res.ReferencesIndexed)
	}
	if res.SupertagFieldsExtracted != 1 {
		t.Errorf("supertag fields %d, want 1", res.SupertagFieldsExtracted)
	}

	if got := count(t, database, `SELECT COUNT(*) FROM nodes`); got != 9 {
		t.Errorf("nodes table has %d rows, want 9", got)
	}
	if got := count(t, database, `SELECT COUNT(*) FROM node_checksums`); got != 9 {
		t.Errorf("node_checksums has %d rows, want 9", got)
	}
}

func TestSyncIdempotent(t *testing.T) {
	database := openTestStore(t)
	engine := New(database, nil)
	path := writeExport(t, t.TempDir(), fixtureDocs)
	ctx := context.Background()

	if _, err := engine.Sync(ctx, path, Options{}); err != nil {
		t.Fatalf("first sync: %v", err)
	}
	res, err := engine.Sync(ctx, path, Options{})
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}

	if res.NodesAdded != 0 || res.NodesModified != 0 || res.NodesDeleted != 0 {
		t.Errorf("second sync changed nodes: +%d ~%d -%d", res.NodesAdded, res.NodesModified, res.NodesDeleted)
	}
	if got := count(t, database, `SELECT COUNT(*) FROM field_values`); got != 1 {
		t.Errorf("field_values has %d rows after resync, want 1", got)
	}
}

func TestSyncDetectsModification(t *testing.T) {
	database := openTestStore(t)
	engine := New(database, nil)
	dir := t.TempDir()
	ctx := context.Background()

	if _, err := engine.Sync(ctx, writeExport(t, dir, fixtureDocs), Options{}); err != nil {
		t.Fatalf("first sync: %v", err)
	}

	changed := append([]string{}, fixtureDocs...)
	changed[7] = `{"id":"v1","props":{"name":"shipped","created":107}}`
	res, err := engine.Sync(ctx, writeExport(t, dir, changed), Options{})
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}

	if res.NodesModified != 1 {
		t.Errorf("NodesModified = %d, want 1", res.NodesModified)
	}
	var name string
	if err := database.Conn().QueryRow(`SELECT name FROM nodes WHERE id = 'v1'`).Scan(&name); err != nil {
		t.Fatalf("read v1: %v", err)
	}
	if name != "shipped" {
		t.Errorf("v1 name = %q, want shipped", name)
	}
	var value string
	if err := database.Conn().QueryRow(`SELECT value_text FROM field_values WHERE field_name = 'Status'`).Scan(&value); err != nil {
		t.Fatalf("read field value: %v", err)
	}
	if value != "shipped" {
		t.Errorf("field value = %q, want shipped", value)
	}
}

func TestSyncDeletionCleansDependentRows(t *testing.T) {
	database := openTestStore(t)
	engine := New(database, nil)
	dir := t.TempDir()
	ctx := context.Background()

	if _, err := engine.Sync(ctx, writeExport(t, dir, fixtureDocs), Options{}); err != nil {
		t.Fatalf("first sync: %v", err)
	}

	// Drop n2, the note holding the only reference.
	trimmed := fixtureDocs[:8]
	res, err := engine.Sync(ctx, writeExport(t, dir, trimmed), Options{})
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}

	if res.NodesDeleted != 1 {
		t.Errorf("NodesDeleted = %d, want 1", res.NodesDeleted)
	}
	if got := count(t, database, `SELECT COUNT(*) FROM "references"`); got != 0 {
		t.Errorf("references has %d rows after deletion, want 0", got)
	}
	if got := count(t, database, `SELECT COUNT(*) FROM nodes WHERE id = 'n2'`); got != 0 {
		t.Error("n2 still present in nodes")
	}
	if got := count(t, database, `SELECT COUNT(*) FROM node_checksums WHERE node_id = 'n2'`); got != 0 {
		t.Error("n2 checksum not removed")
	}
}

func TestSyncForceRunsFullReindex(t *testing.T) {
	database := openTestStore(t)
	engine := New(database, nil)
	path := writeExport(t, t.TempDir(), fixtureDocs)
	ctx := context.Background()

	if _, err := engine.Sync(ctx, path, Options{}); err != nil {
		t.Fatalf("first sync: %v", err)
	}
	res, err := engine.Sync(ctx, path, Options{Force: true})
	if err != nil {
		t.Fatalf("forced sync: %v", err)
	}

	if !res.FullReindex {
		t.Error("forced sync did not report a full reindex")
	}
	if got := count(t, database, `SELECT COUNT(*) FROM nodes`); got != 9 {
		t.Errorf("nodes table has %d rows after forced sync, want 9", got)
	}
}

func TestSyncFullReindexWhenBaselineMissing(t *testing.T) {
	database := openTestStore(t)
	engine := New(database, nil)
	path := writeExport(t, t.TempDir(), fixtureDocs)
	ctx := context.Background()

	if _, err := engine.Sync(ctx, path, Options{}); err != nil {
		t.Fatalf("first sync: %v", err)
	}
	// Simulate a store created before checksum tracking.
	if _, err := database.Conn().Exec(`DELETE FROM node_checksums`); err != nil {
		t.Fatalf("clear checksums: %v", err)
	}

	res, err := engine.Sync(ctx, path, Options{})
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if !res.FullReindex {
		t.Error("missing checksum baseline did not trigger a full reindex")
	}
	if got := count(t, database, `SELECT COUNT(*) FROM node_checksums`); got != 9 {
		t.Errorf("baseline not re-established: %d checksum rows, want 9", got)
	}
}

func TestSyncFTSFollowsFieldValues(t *testing.T) {
	database := openTestStore(t)
	engine := New(database, nil)
	path := writeExport(t, t.TempDir(), fixtureDocs)
	ctx := context.Background()

	if _, err := engine.Sync(ctx, path, Options{}); err != nil {
		t.Fatalf("sync: %v", err)
	}
	got := count(t, database,
		`SELECT COUNT(*) FROM field_values_fts WHERE field_values_fts MATCH 'active'`)
	if got != 1 {
		t.Errorf("fts match count = %d, want 1", got)
	}

	// Resync after value change: old text must stop matching.
	changed := append([]string{}, fixtureDocs...)
	changed[7] = `{"id":"v1","props":{"name":"shipped","created":107}}`
	if _, err := engine.Sync(ctx, writeExport(t, t.TempDir(), changed), Options{}); err != nil {
		t.Fatalf("resync: %v", err)
	}
	if got := count(t, database,
		`SELECT COUNT(*) FROM field_values_fts WHERE field_values_fts MATCH 'active'`); got != 0 {
		t.Errorf("stale fts match count = %d, want 0", got)
	}
	if got := count(t, database,
		`SELECT COUNT(*) FROM field_values_fts WHERE field_values_fts MATCH 'shipped'`); got != 1 {
		t.Errorf("new fts match count = %d, want 1", got)
	}
}

func TestSyncCleansEmbeddings(t *testing.T) {
	database := openTestStore(t)
	engine := New(database, nil)
	dir := t.TempDir()
	ctx := context.Background()

	if _, err := engine.Sync(ctx, writeExport(t, dir, fixtureDocs), Options{}); err != nil {
		t.Fatalf("first sync: %v", err)
	}
	if _, err := database.Conn().Exec(`CREATE TABLE node_embeddings (node_id TEXT PRIMARY KEY, embedding BLOB)`); err != nil {
		t.Fatalf("create embeddings table: %v", err)
	}
	if _, err := database.Conn().Exec(`INSERT INTO node_embeddings (node_id, embedding) VALUES ('n2', x'00')`); err != nil {
		t.Fatalf("seed embeddings: %v", err)
	}

	trimmed := fixtureDocs[:8]
	res, err := engine.Sync(ctx, writeExport(t, dir, trimmed), Options{})
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if res.EmbeddingsCleaned != 1 {
		t.Errorf("EmbeddingsCleaned = %d, want 1", res.EmbeddingsCleaned)
	}
	if got := count(t, database, `SELECT COUNT(*) FROM node_embeddings`); got != 0 {
		t.Errorf("node_embeddings has %d rows, want 0", got)
	}
}

func TestSyncReparentRefreshesChild(t *testing.T) {
	database := openTestStore(t)
	engine := New(database, nil)
	dir := t.TempDir()
	ctx := context.Background()

	first := []string{
		`{"id":"p1","props":{"name":"alpha","created":100},"children":["x"]}`,
		`{"id":"p2","props":{"name":"beta","created":101}}`,
		`{"id":"x","props":{"name":"moved note","created":102}}`,
	}
	if _, err := engine.Sync(ctx, writeExport(t, dir, first), Options{}); err != nil {
		t.Fatalf("first sync: %v", err)
	}

	parentOf := func(id string) string {
		t.Helper()
		var parent sql.NullString
		if err := database.Conn().QueryRow(`SELECT parent_id FROM nodes WHERE id = ?`, id).Scan(&parent); err != nil {
			t.Fatalf("read parent of %s: %v", id, err)
		}
		return parent.String
	}
	if got := parentOf("x"); got != "p1" {
		t.Fatalf("parent of x = %q after first sync, want p1", got)
	}

	// Moving x only changes the children lists of the two parents; x
	// itself keeps its checksum, so its stored parent must be refreshed
	// alongside the modified rows.
	second := []string{
		`{"id":"p1","props":{"name":"alpha","created":100}}`,
		`{"id":"p2","props":{"name":"beta","created":101},"children":["x"]}`,
		`{"id":"x","props":{"name":"moved note","created":102}}`,
	}
	res, err := engine.Sync(ctx, writeExport(t, dir, second), Options{})
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if res.NodesModified != 2 {
		t.Errorf("NodesModified = %d, want 2", res.NodesModified)
	}
	if got := parentOf("x"); got != "p2" {
		t.Errorf("parent of x = %q after move, want p2", got)
	}

	// Dropping x from p2 promotes it to the top level.
	third := []string{
		`{"id":"p1","props":{"name":"alpha","created":100}}`,
		`{"id":"p2","props":{"name":"beta","created":101}}`,
		`{"id":"x","props":{"name":"moved note","created":102}}`,
	}
	if _, err := engine.Sync(ctx, writeExport(t, dir, third), Options{}); err != nil {
		t.Fatalf("third sync: %v", err)
	}
	if got := parentOf("x"); got != "" {
		t.Errorf("parent of x = %q after promotion to top level, want none", got)
	}
}

func TestSyncLargeExport(t *testing.T) {
	database := openTestStore(t)
	engine := New(database, nil)
	dir := t.TempDir()
	ctx := context.Background()

	const total = 1200
	docs := make([]string, 0, total)
	for i := 0; i < total; i++ {
		docs = append(docs, fmt.Sprintf(
			`{"id":"n%04d","props":{"name":"note %d","created":%d}}`, i, i, 1000+i))
	}

	res, err := engine.Sync(ctx, writeExport(t, dir, docs), Options{})
	if err != nil {
		t.Fatalf("first sync of %d nodes: %v", total, err)
	}
	if res.NodesAdded != total {
		t.Errorf("NodesAdded = %d, want %d", res.NodesAdded, total)
	}

	renamed := make([]string, 0, total)
	for i := 0; i < total; i++ {
		renamed = append(renamed, fmt.Sprintf(
			`{"id":"n%04d","props":{"name":"renamed %d","created":%d}}`, i, i, 1000+i))
	}
	res, err = engine.Sync(ctx, writeExport(t, dir, renamed), Options{})
	if err != nil {
		t.Fatalf("resync of %d nodes: %v", total, err)
	}
	if res.NodesModified != total {
		t.Errorf("NodesModified = %d, want %d", res.NodesModified, total)
	}
	if got := count(t, database, `SELECT COUNT(*) FROM nodes`); got != total {
		t.Errorf("nodes table has %d rows, want %d", got, total)
	}
}

func TestSyncRecordsMetadata(t *testing.T) {
	database := openTestStore(t)
	engine := New(database, nil)
	path := writeExport(t, t.TempDir(), fixtureDocs)

	if _, err := engine.Sync(context.Background(), path, Options{}); err != nil {
		t.Fatalf("sync: %v", err)
	}

	var file string
	var total int
	err := database.Conn().QueryRow(
		`SELECT last_export_file, total_nodes FROM sync_metadata WHERE id = 1`,
	).Scan(&file, &total)
	if err != nil {
		t.Fatalf("read sync_metadata: %v", err)
	}
	if file != path || total != 9 {
		t.Errorf("metadata = (%q, %d), want (%q, 9)", file, total, path)
	}
}

func TestSyncMalformedExportLeavesStoreUntouched(t *testing.T) {
	database := openTestStore(t)
	engine := New(database, nil)
	dir := t.TempDir()
	ctx := context.Background()

	if _, err := engine.Sync(ctx, writeExport(t, dir, fixtureDocs), Options{}); err != nil {
		t.Fatalf("first sync: %v", err)
	}

	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte(`{"docs":`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := engine.Sync(ctx, bad, Options{}); err == nil {
		t.Fatal("expected error for malformed export")
	}

	if got := count(t, database, `SELECT COUNT(*) FROM nodes`); got != 9 {
		t.Errorf("store changed after failed sync: %d nodes, want 9", got)
	}
}
