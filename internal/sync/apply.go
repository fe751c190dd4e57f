package sync

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/tanalite/tanalite/internal/export"
	"github.com/tanalite/tanalite/internal/extract"
)

// derivedTables are fully recomputed on every sync, both paths.
var derivedTables = []string{
	"fields",
	"field_names",
	"field_values",
	"supertag_fields",
	"supertag_parents",
}

// applyFull wipes every derived table and bulk-inserts from the graph.
func (e *Engine) applyFull(ctx context.Context, tx *sql.Tx, graph *export.Graph, res *Result) error {
	wipe := append([]string{
		"nodes",
		"supertags",
		"tag_applications",
		`"references"`,
		"node_checksums",
	}, derivedTables...)
	for _, table := range wipe {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	for _, id := range graph.Order {
		if err := insertNode(ctx, tx, graph.Nodes[id]); err != nil {
			return err
		}
	}
	if err := e.writeSupertags(ctx, tx, graph, nil, res); err != nil {
		return err
	}
	n, err := writeTagApps(ctx, tx, graph, nil)
	if err != nil {
		return err
	}
	res.TagApplicationsIndexed = n
	n, err = writeRefs(ctx, tx, graph, nil)
	if err != nil {
		return err
	}
	res.ReferencesIndexed = n
	return nil
}

// applyIncremental deletes rows for removed ids across every table
// keyed by node id, inserts added nodes, updates modified node rows in
// place, and delete-then-reinserts the dependent rows scoped to the
// changed id set.
func (e *Engine) applyIncremental(ctx context.Context, tx *sql.Tx, graph *export.Graph, changes Changes, res *Result) error {
	scope := changes.changedSet()

	for _, id := range changes.Deleted {
		if err := deleteNodeRows(ctx, tx, id); err != nil {
			return err
		}
	}
	for _, id := range changes.Added {
		if err := insertNode(ctx, tx, graph.Nodes[id]); err != nil {
			return err
		}
	}
	for _, id := range changes.Modified {
		n := graph.Nodes[id]
		if _, err := tx.ExecContext(ctx, `
			UPDATE nodes
			SET name = ?, updated_at = ?, done_at = ?, parent_id = ?, raw_payload = ?
			WHERE id = ?
		`, nullable(n.Name), nullableInt(n.LastModified), nullableInt(n.Done),
			nullable(n.ParentID), n.Raw, n.ID); err != nil {
			return fmt.Errorf("update node %s: %w", id, err)
		}
	}
	if err := refreshChildParents(ctx, tx, graph, changes.Modified); err != nil {
		return err
	}

	if len(scope) > 0 {
		if err := deleteScoped(ctx, tx, scope); err != nil {
			return err
		}
	}
	if err := e.writeSupertags(ctx, tx, graph, changes.Deleted, res); err != nil {
		return err
	}
	n, err := writeTagApps(ctx, tx, graph, scope)
	if err != nil {
		return err
	}
	res.TagApplicationsIndexed = n
	n, err = writeRefs(ctx, tx, graph, scope)
	if err != nil {
		return err
	}
	res.ReferencesIndexed = n
	return nil
}

// refreshChildParents re-derives parent_id for nodes touched by a
// structural move. Moving a node changes the children lists of its old
// and new parents, not the node's own checksum, so the moved node is
// never in the modified set and its row would otherwise keep the old
// parent. Both parents are guaranteed modified, so walking each
// modified node's current children and its stored children covers the
// move in either direction, including moves to the top level.
func refreshChildParents(ctx context.Context, tx *sql.Tx, graph *export.Graph, modified []string) error {
	fix := func(id string) error {
		n, ok := graph.Nodes[id]
		if !ok {
			return nil
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE nodes SET parent_id = ? WHERE id = ?`,
			nullable(n.ParentID), id); err != nil {
			return fmt.Errorf("refresh parent of %s: %w", id, err)
		}
		return nil
	}

	seen := make(map[string]bool)
	for _, pid := range modified {
		if p, ok := graph.Nodes[pid]; ok {
			for _, child := range p.Children {
				if seen[child] {
					continue
				}
				seen[child] = true
				if err := fix(child); err != nil {
					return err
				}
			}
		}

		// Rows still pointing at pid whose structural parent moved away.
		rows, err := tx.QueryContext(ctx, `SELECT id FROM nodes WHERE parent_id = ?`, pid)
		if err != nil {
			return fmt.Errorf("list children of %s: %w", pid, err)
		}
		var stored []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			if !seen[id] {
				stored = append(stored, id)
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		for _, id := range stored {
			seen[id] = true
			if err := fix(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// deleteNodeRows removes every row keyed by a deleted node id so no
// orphan survives the sync.
func deleteNodeRows(ctx context.Context, tx *sql.Tx, id string) error {
	stmts := []struct{ query string }{
		{`DELETE FROM nodes WHERE id = ?`},
		{`DELETE FROM node_checksums WHERE node_id = ?`},
		{`DELETE FROM tag_applications WHERE data_node_id = ?`},
		{`DELETE FROM "references" WHERE from_node = ?`},
		{`DELETE FROM supertags WHERE tag_id = ?`},
	}
	for _, s := range stmts {
		if _, err := tx.ExecContext(ctx, s.query, id); err != nil {
			return fmt.Errorf("delete rows for %s: %w", id, err)
		}
	}
	return nil
}

// scopedDeleteChunk caps the ids bound per DELETE. SQLite limits the
// number of bound variables per statement, and the first sync of an
// empty store puts every node in scope, so the id list must be split.
const scopedDeleteChunk = 500

// deleteScoped clears dependent rows for every changed id before the
// reinsert pass. Tag rows are cleared by data node and by tag so
// renames of either side land.
func deleteScoped(ctx context.Context, tx *sql.Tx, scope map[string]bool) error {
	ids := make([]string, 0, len(scope))
	for id := range scope {
		ids = append(ids, id)
	}

	for start := 0; start < len(ids); start += scopedDeleteChunk {
		end := start + scopedDeleteChunk
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]
		args := make([]any, 0, len(chunk))
		for _, id := range chunk {
			args = append(args, id)
		}
		ph := placeholders(len(chunk))

		tagArgs := append(append([]any{}, args...), args...)
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM tag_applications WHERE data_node_id IN (`+ph+`) OR tag_id IN (`+ph+`)`,
			tagArgs...); err != nil {
			return fmt.Errorf("clear scoped tag applications: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM "references" WHERE from_node IN (`+ph+`)`,
			args...); err != nil {
			return fmt.Errorf("clear scoped references: %w", err)
		}
	}
	return nil
}

func insertNode(ctx context.Context, tx *sql.Tx, n *export.Node) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO nodes (id, name, created_at, updated_at, done_at, parent_id, raw_payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, n.ID, nullable(n.Name), n.Created, nullableInt(n.LastModified),
		nullableInt(n.Done), nullable(n.ParentID), n.Raw)
	if err != nil {
		return fmt.Errorf("insert node %s: %w", n.ID, err)
	}
	return nil
}

// writeSupertags upserts every detected definition and, on the
// incremental path, drops definitions whose node vanished. Upserting
// the whole set is cheap and keeps tag names current.
func (e *Engine) writeSupertags(ctx context.Context, tx *sql.Tx, graph *export.Graph, deleted []string, res *Result) error {
	for _, id := range deleted {
		if _, err := tx.ExecContext(ctx, `DELETE FROM supertags WHERE tag_id = ?`, id); err != nil {
			return fmt.Errorf("delete supertag %s: %w", id, err)
		}
	}
	for _, st := range graph.Supertags {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO supertags (tag_id, tag_name, color)
			VALUES (?, ?, ?)
			ON CONFLICT(tag_id) DO UPDATE SET
				tag_name = excluded.tag_name,
				color    = excluded.color
		`, st.TagID, st.TagName, nullable(st.Color)); err != nil {
			return fmt.Errorf("upsert supertag %s: %w", st.TagID, err)
		}
	}
	res.SupertagsIndexed = len(graph.Supertags)
	return nil
}

// writeTagApps inserts tag applications. With a nil scope every
// application is written (full path); otherwise only applications
// touching a changed id.
func writeTagApps(ctx context.Context, tx *sql.Tx, graph *export.Graph, scope map[string]bool) (int, error) {
	count := 0
	for _, app := range graph.TagApps {
		if scope != nil && !scope[app.DataNode] && !scope[app.TagID] {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO tag_applications (tuple_node_id, data_node_id, tag_id, tag_name)
			VALUES (?, ?, ?, ?)
		`, app.TupleID, app.DataNode, app.TagID, app.TagName); err != nil {
			return count, fmt.Errorf("insert tag application %s: %w", app.TupleID, err)
		}
		count++
	}
	return count, nil
}

func writeRefs(ctx context.Context, tx *sql.Tx, graph *export.Graph, scope map[string]bool) (int, error) {
	count := 0
	for _, ref := range graph.Refs {
		if scope != nil && !scope[ref.From] {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO "references" (from_node, to_node, reference_type)
			VALUES (?, ?, ?)
		`, ref.From, ref.To, ref.Type); err != nil {
			return count, fmt.Errorf("insert reference %s -> %s: %w", ref.From, ref.To, err)
		}
		count++
	}
	return count, nil
}

// rebuildDerived recomputes the field and supertag metadata tables in
// full. The FTS shadow table follows field_values through its triggers.
func (e *Engine) rebuildDerived(ctx context.Context, tx *sql.Tx, graph *export.Graph, res *Result) error {
	if !res.FullReindex {
		for _, table := range derivedTables {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}
	}

	fields := extract.Fields(graph)
	for _, row := range fields.Flat {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO fields (node_id, field_label_id, field_name, value_text)
			VALUES (?, ?, ?, ?)
		`, row.NodeID, row.FieldLabelID, row.FieldName, row.ValueText); err != nil {
			return fmt.Errorf("insert field row: %w", err)
		}
	}
	for _, row := range fields.Names {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO field_names (field_label_id, field_name, normalized_name, data_type, target_supertag_id, target_supertag_name)
			VALUES (?, ?, ?, ?, ?, ?)
		`, row.LabelID, row.Name, row.Normalized, row.DataType,
			nullable(row.TargetTagID), nullable(row.TargetTagName)); err != nil {
			return fmt.Errorf("insert field name %s: %w", row.Name, err)
		}
	}
	for _, row := range fields.Values {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO field_values (tuple_id, parent_id, field_def_id, field_name, value_node_id, value_text, "order", created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, row.TupleID, row.ParentID, row.FieldDefID, row.FieldName,
			nullable(row.ValueNodeID), row.ValueText, row.Order, nullableInt(row.CreatedAt)); err != nil {
			return fmt.Errorf("insert field value: %w", err)
		}
	}

	meta := extract.SupertagMetadata(graph, fields)
	for _, row := range meta.Fields {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO supertag_fields (tag_id, tag_name, field_name, field_label_id, "order",
				normalized_name, data_type, target_supertag_id, target_supertag_name,
				default_value_id, default_value_text)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, row.TagID, row.TagName, row.FieldName, row.FieldLabelID, row.Order,
			row.Normalized, row.DataType, nullable(row.TargetTagID), nullable(row.TargetTagName),
			nullable(row.DefaultValueID), nullable(row.DefaultValueText)); err != nil {
			return fmt.Errorf("insert supertag field %s.%s: %w", row.TagID, row.FieldName, err)
		}
	}
	for _, row := range meta.Parents {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO supertag_parents (child_tag_id, parent_tag_id)
			VALUES (?, ?)
		`, row.ChildTagID, row.ParentTagID); err != nil {
			return fmt.Errorf("insert supertag parent %s -> %s: %w", row.ChildTagID, row.ParentTagID, err)
		}
	}

	res.FieldsIndexed = len(fields.Flat)
	res.FieldNamesIndexed = len(fields.Names)
	res.FieldValuesIndexed = len(fields.Values)
	res.SupertagFieldsExtracted = len(meta.Fields)
	res.SupertagParentsExtracted = len(meta.Parents)
	return nil
}

// writeChecksums brings node_checksums into 1:1 correspondence with the
// graph. Deleted ids were already removed on the incremental path; the
// full path starts from an empty table.
func (e *Engine) writeChecksums(ctx context.Context, tx *sql.Tx, graph *export.Graph, changes Changes, full bool) error {
	now := e.now().UnixMilli()
	write := func(id string) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO node_checksums (node_id, checksum, last_seen_at)
			VALUES (?, ?, ?)
			ON CONFLICT(node_id) DO UPDATE SET
				checksum     = excluded.checksum,
				last_seen_at = excluded.last_seen_at
		`, id, graph.Fingerprint(id), now)
		if err != nil {
			return fmt.Errorf("write checksum for %s: %w", id, err)
		}
		return nil
	}

	if full {
		for _, id := range graph.Order {
			if err := write(id); err != nil {
				return err
			}
		}
		return nil
	}
	for _, id := range changes.Added {
		if err := write(id); err != nil {
			return err
		}
	}
	for _, id := range changes.Modified {
		if err := write(id); err != nil {
			return err
		}
	}
	return nil
}

// cleanEmbeddings removes rows of the optional embeddings table for
// nodes that vanished. On a full reindex it prunes everything not in
// the graph.
func cleanEmbeddings(ctx context.Context, tx *sql.Tx, deleted []string, full bool, graph *export.Graph) (int, error) {
	if full {
		rows, err := tx.QueryContext(ctx, `SELECT node_id FROM node_embeddings`)
		if err != nil {
			return 0, fmt.Errorf("list embeddings: %w", err)
		}
		var stale []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return 0, err
			}
			if _, ok := graph.Nodes[id]; !ok {
				stale = append(stale, id)
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return 0, err
		}
		deleted = stale
	}

	count := 0
	for _, id := range deleted {
		r, err := tx.ExecContext(ctx, `DELETE FROM node_embeddings WHERE node_id = ?`, id)
		if err != nil {
			return count, fmt.Errorf("clean embedding %s: %w", id, err)
		}
		if n, err := r.RowsAffected(); err == nil {
			count += int(n)
		}
	}
	return count, nil
}

func placeholders(n int) string {
	if n == 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullableInt(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}
