package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
)

// SchemaVersion is bumped whenever Migrate learns a new additive step.
// Migrations never drop or truncate existing rows.
const SchemaVersion = 3

// baseSchema creates every table and index if absent. The quoted
// "references" and "order" names are deliberate: both are SQL keywords.
const baseSchema = `
	CREATE TABLE IF NOT EXISTS meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS nodes (
		id          TEXT PRIMARY KEY,
		name        TEXT,
		created_at  INTEGER NOT NULL,
		updated_at  INTEGER,
		done_at     INTEGER,
		parent_id   TEXT,
		raw_payload BLOB
	);
	CREATE INDEX IF NOT EXISTS idx_nodes_parent ON nodes(parent_id);
	CREATE INDEX IF NOT EXISTS idx_nodes_name   ON nodes(name);

	CREATE TABLE IF NOT EXISTS supertags (
		tag_id   TEXT PRIMARY KEY,
		tag_name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tag_applications (
		tuple_node_id TEXT PRIMARY KEY,
		data_node_id  TEXT NOT NULL,
		tag_id        TEXT NOT NULL,
		tag_name      TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tag_apps_node ON tag_applications(data_node_id);
	CREATE INDEX IF NOT EXISTS idx_tag_apps_tag  ON tag_applications(tag_id);

	CREATE TABLE IF NOT EXISTS "references" (
		from_node      TEXT NOT NULL,
		to_node        TEXT NOT NULL,
		reference_type TEXT NOT NULL DEFAULT 'inline_ref',
		PRIMARY KEY (from_node, to_node, reference_type)
	);
	CREATE INDEX IF NOT EXISTS idx_references_to ON "references"(to_node);

	CREATE TABLE IF NOT EXISTS fields (
		node_id        TEXT NOT NULL,
		field_label_id TEXT NOT NULL,
		field_name     TEXT NOT NULL,
		value_text     TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_fields_node ON fields(node_id);
	CREATE INDEX IF NOT EXISTS idx_fields_name ON fields(field_name);

	CREATE TABLE IF NOT EXISTS field_names (
		field_label_id  TEXT PRIMARY KEY,
		field_name      TEXT NOT NULL,
		normalized_name TEXT NOT NULL,
		data_type       TEXT NOT NULL DEFAULT 'text'
	);

	CREATE TABLE IF NOT EXISTS field_values (
		tuple_id      TEXT NOT NULL,
		parent_id     TEXT NOT NULL,
		field_def_id  TEXT NOT NULL,
		field_name    TEXT NOT NULL,
		value_node_id TEXT,
		value_text    TEXT,
		"order"       INTEGER NOT NULL DEFAULT 0,
		created_at    INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_field_values_parent ON field_values(parent_id);
	CREATE INDEX IF NOT EXISTS idx_field_values_name   ON field_values(field_name);

	CREATE TABLE IF NOT EXISTS supertag_fields (
		tag_id               TEXT NOT NULL,
		tag_name             TEXT NOT NULL,
		field_name           TEXT NOT NULL,
		field_label_id       TEXT,
		"order"              INTEGER NOT NULL DEFAULT 0,
		normalized_name      TEXT,
		data_type            TEXT,
		target_supertag_id   TEXT,
		target_supertag_name TEXT,
		default_value_id     TEXT,
		default_value_text   TEXT,
		PRIMARY KEY (tag_id, field_name)
	);

	CREATE TABLE IF NOT EXISTS supertag_parents (
		child_tag_id  TEXT NOT NULL,
		parent_tag_id TEXT NOT NULL,
		PRIMARY KEY (child_tag_id, parent_tag_id)
	);
	CREATE INDEX IF NOT EXISTS idx_supertag_parents_parent ON supertag_parents(parent_tag_id);

	CREATE TABLE IF NOT EXISTS node_checksums (
		node_id      TEXT PRIMARY KEY,
		checksum     TEXT NOT NULL,
		last_seen_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sync_metadata (
		id               INTEGER PRIMARY KEY CHECK (id = 1),
		last_export_file TEXT,
		last_sync_at     INTEGER,
		total_nodes      INTEGER
	);

	CREATE VIRTUAL TABLE IF NOT EXISTS field_values_fts USING fts5(
		value_text,
		field_name,
		content='field_values',
		content_rowid='rowid'
	);
`

// ftsTriggers keep the full-text shadow table synchronized with
// field_values. There is deliberately no UPDATE trigger: the sync
// engine models every update as delete+reinsert.
const ftsTriggers = `
	CREATE TRIGGER field_values_fts_insert AFTER INSERT ON field_values BEGIN
		INSERT INTO field_values_fts(rowid, value_text, field_name)
		VALUES (new.rowid, new.value_text, new.field_name);
	END;

	CREATE TRIGGER field_values_fts_delete AFTER DELETE ON field_values BEGIN
		INSERT INTO field_values_fts(field_values_fts, rowid, value_text, field_name)
		VALUES ('delete', old.rowid, old.value_text, old.field_name);
	END;
`

// Migrate creates the schema if absent and applies additive upgrades to
// existing stores. Safe to invoke on every startup, including while
// reader processes hold connections.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, baseSchema); err != nil {
		return fmt.Errorf("initialize schema: %w", err)
	}

	if err := db.ensureTriggers(ctx); err != nil {
		return err
	}

	// v2: supertags gained a color column.
	if err := db.ensureColumn(ctx, "supertags", "color", "TEXT"); err != nil {
		return err
	}
	// v3: field_names gained target supertag columns for reference-typed fields.
	if err := db.ensureColumn(ctx, "field_names", "target_supertag_id", "TEXT"); err != nil {
		return err
	}
	if err := db.ensureColumn(ctx, "field_names", "target_supertag_name", "TEXT"); err != nil {
		return err
	}

	if _, err := db.conn.ExecContext(ctx,
		`INSERT OR REPLACE INTO meta (key, value) VALUES ('schema_version', ?)`,
		strconv.Itoa(SchemaVersion)); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return nil
}

func (db *DB) ensureTriggers(ctx context.Context) error {
	var name string
	err := db.conn.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type='trigger' AND name='field_values_fts_insert'`,
	).Scan(&name)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("probe fts triggers: %w", err)
	}
	if _, err := db.conn.ExecContext(ctx, ftsTriggers); err != nil {
		return fmt.Errorf("create fts triggers: %w", err)
	}
	return nil
}

// ensureColumn adds a nullable column when upgrading a store created
// before the column existed. ALTER TABLE ADD COLUMN never rewrites rows.
func (db *DB) ensureColumn(ctx context.Context, table, column, typ string) error {
	has, err := db.hasColumn(ctx, table, column)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, typ)
	if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("add column %s.%s: %w", table, column, err)
	}
	return nil
}

func (db *DB) hasColumn(ctx context.Context, table, column string) (bool, error) {
	rows, err := db.conn.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("table_info %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var cid, notNull, pk int
		var name, colType string
		var dflt any
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// SchemaVersionOf reads the recorded schema version, zero when the meta
// table is missing or empty.
func (db *DB) SchemaVersionOf(ctx context.Context) (int, error) {
	var v string
	err := db.conn.QueryRowContext(ctx,
		`SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(v)
}

// Capabilities describes optional features resolved once at startup and
// threaded through instead of being re-probed ad hoc.
type Capabilities struct {
	// Embeddings is set when the optional node_embeddings table exists.
	// The embedding pipeline owns that table; the sync engine only
	// deletes rows for nodes that vanish from the export.
	Embeddings bool
}

// ResolveCapabilities probes the optional tables exactly once.
func (db *DB) ResolveCapabilities(ctx context.Context) (Capabilities, error) {
	var caps Capabilities
	var name string
	err := db.conn.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type='table' AND name='node_embeddings'`,
	).Scan(&name)
	switch {
	case err == nil:
		caps.Embeddings = true
	case errors.Is(err, sql.ErrNoRows):
	default:
		return caps, fmt.Errorf("probe optional tables: %w", err)
	}
	return caps, nil
}
