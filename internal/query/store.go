// Package query provides read-side access to a synced store: node
// lookup, tag and field resolution with inheritance, and full-text
// search over field values.
package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/tanalite/tanalite/internal/db"
)

// ErrNotFound is returned when a node id has no row in the store.
var ErrNotFound = errors.New("node not found")

// ancestorDepthLimit bounds the supertag inheritance walk. Cycles in
// supertag_parents terminate here instead of recursing forever.
const ancestorDepthLimit = 16

// parentWalkLimit bounds the structural parent chain walk.
const parentWalkLimit = 64

// Store wraps a DB handle with read queries. All methods are safe for
// concurrent use; the underlying pool serializes writers, not readers.
type Store struct {
	db *db.DB
}

func New(database *db.DB) *Store {
	return &Store{db: database}
}

// Node is one stored node row.
type Node struct {
	ID        string
	Name      string
	CreatedAt int64
	UpdatedAt int64
	DoneAt    int64
	ParentID  string
}

// Tag is one supertag applied to a node.
type Tag struct {
	TagID   string
	TagName string
}

// Supertag is one supertag definition with usage count.
type Supertag struct {
	TagID   string
	TagName string
	Color   string
	Uses    int
}

// FieldValue is one resolved field on a node. Inherited reports whether
// the declaring supertag was reached through the inheritance chain
// rather than applied directly.
type FieldValue struct {
	FieldName string
	ValueText string
	TagID     string
	TagName   string
	Inherited bool
}

// SchemaField is one field declared by a supertag.
type SchemaField struct {
	FieldName        string
	DataType         string
	Order            int
	TargetTagID      string
	TargetTagName    string
	DefaultValueText string
	TagID            string
	TagName          string
	Inherited        bool
}

// SearchHit is one full-text match over field values.
type SearchHit struct {
	ParentID  string
	FieldName string
	ValueText string
}

// Status summarizes the store for the status command.
type Status struct {
	LastExportFile string
	LastSyncAt     int64
	TotalNodes     int
	Supertags      int
	FieldValues    int
	References     int
	SchemaVersion  int
}

// GetNode looks up one node by id.
func (s *Store) GetNode(ctx context.Context, id string) (*Node, error) {
	var n Node
	var name, parent sql.NullString
	var updated, done sql.NullInt64
	err := s.db.Conn().QueryRowContext(ctx, `
		SELECT id, name, created_at, updated_at, done_at, parent_id
		FROM nodes WHERE id = ?
	`, id).Scan(&n.ID, &name, &n.CreatedAt, &updated, &done, &parent)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get node %s: %w", id, err)
	}
	n.Name = name.String
	n.ParentID = parent.String
	n.UpdatedAt = updated.Int64
	n.DoneAt = done.Int64
	return &n, nil
}

// Tags returns the supertags applied directly to a node.
func (s *Store) Tags(ctx context.Context, nodeID string) ([]Tag, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `
		SELECT tag_id, tag_name FROM tag_applications
		WHERE data_node_id = ?
		ORDER BY tag_name
	`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("tags of %s: %w", nodeID, err)
	}
	defer rows.Close()

	var tags []Tag
	for rows.Next() {
		var t Tag
		if err := rows.Scan(&t.TagID, &t.TagName); err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

// NearestTaggedAncestor walks the structural parent chain up from a
// node and returns the first ancestor that carries at least one
// supertag, or nil when the chain ends untagged.
func (s *Store) NearestTaggedAncestor(ctx context.Context, nodeID string) (*Node, []Tag, error) {
	current := nodeID
	for depth := 0; depth < parentWalkLimit; depth++ {
		var parent sql.NullString
		err := s.db.Conn().QueryRowContext(ctx,
			`SELECT parent_id FROM nodes WHERE id = ?`, current).Scan(&parent)
		if errors.Is(err, sql.ErrNoRows) || err == nil && !parent.Valid {
			return nil, nil, nil
		}
		if err != nil {
			return nil, nil, fmt.Errorf("walk parents of %s: %w", nodeID, err)
		}

		tags, err := s.Tags(ctx, parent.String)
		if err != nil {
			return nil, nil, err
		}
		if len(tags) > 0 {
			node, err := s.GetNode(ctx, parent.String)
			if err != nil {
				return nil, nil, err
			}
			return node, tags, nil
		}
		current = parent.String
	}
	return nil, nil, nil
}

// Supertags lists every supertag definition with its application count.
func (s *Store) Supertags(ctx context.Context) ([]Supertag, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `
		SELECT st.tag_id, st.tag_name, COALESCE(st.color, ''),
		       (SELECT COUNT(*) FROM tag_applications ta WHERE ta.tag_id = st.tag_id)
		FROM supertags st
		ORDER BY st.tag_name
	`)
	if err != nil {
		return nil, fmt.Errorf("list supertags: %w", err)
	}
	defer rows.Close()

	var tags []Supertag
	for rows.Next() {
		var t Supertag
		if err := rows.Scan(&t.TagID, &t.TagName, &t.Color, &t.Uses); err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

// Ancestors returns the inheritance chain of a supertag, nearest
// parent first. A tag reachable over multiple paths appears once at
// its minimum depth.
func (s *Store) Ancestors(ctx context.Context, tagID string) ([]Tag, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `
		WITH RECURSIVE ancestors(tag_id, depth) AS (
			SELECT parent_tag_id, 1 FROM supertag_parents WHERE child_tag_id = ?
			UNION ALL
			SELECT sp.parent_tag_id, a.depth + 1
			FROM supertag_parents sp
			JOIN ancestors a ON sp.child_tag_id = a.tag_id
			WHERE a.depth < ?
		)
		SELECT a.tag_id, COALESCE(st.tag_name, a.tag_id), MIN(a.depth)
		FROM ancestors a
		LEFT JOIN supertags st ON st.tag_id = a.tag_id
		GROUP BY a.tag_id
		ORDER BY MIN(a.depth), a.tag_id
	`, tagID, ancestorDepthLimit)
	if err != nil {
		return nil, fmt.Errorf("ancestors of %s: %w", tagID, err)
	}
	defer rows.Close()

	var out []Tag
	for rows.Next() {
		var t Tag
		var depth int
		if err := rows.Scan(&t.TagID, &t.TagName, &depth); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// OwnFields returns the fields a supertag declares itself, in
// declaration order.
func (s *Store) OwnFields(ctx context.Context, tagID string) ([]SchemaField, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `
		SELECT tag_id, tag_name, field_name, COALESCE(data_type, 'text'), "order",
		       COALESCE(target_supertag_id, ''), COALESCE(target_supertag_name, ''),
		       COALESCE(default_value_text, '')
		FROM supertag_fields
		WHERE tag_id = ?
		ORDER BY "order"
	`, tagID)
	if err != nil {
		return nil, fmt.Errorf("fields of %s: %w", tagID, err)
	}
	defer rows.Close()
	return scanSchemaFields(rows, false)
}

// AllFields returns the effective field schema of a supertag: its own
// fields plus inherited ones, nearest declaration first. A field name
// declared at multiple levels resolves to the nearest declaration; the
// shadowed ones are dropped.
func (s *Store) AllFields(ctx context.Context, tagID string) ([]SchemaField, error) {
	own, err := s.OwnFields(ctx, tagID)
	if err != nil {
		return nil, err
	}
	ancestors, err := s.Ancestors(ctx, tagID)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(own))
	out := make([]SchemaField, 0, len(own))
	for _, f := range own {
		if seen[strings.ToLower(f.FieldName)] {
			continue
		}
		seen[strings.ToLower(f.FieldName)] = true
		out = append(out, f)
	}
	for _, anc := range ancestors {
		fields, err := s.OwnFields(ctx, anc.TagID)
		if err != nil {
			return nil, err
		}
		for _, f := range fields {
			key := strings.ToLower(f.FieldName)
			if seen[key] {
				continue
			}
			seen[key] = true
			f.Inherited = true
			out = append(out, f)
		}
	}
	return out, nil
}

// NodeFields returns the field values set directly on a node.
func (s *Store) NodeFields(ctx context.Context, nodeID string) ([]FieldValue, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `
		SELECT field_name, COALESCE(value_text, '')
		FROM field_values
		WHERE parent_id = ?
		ORDER BY "order"
	`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("field values of %s: %w", nodeID, err)
	}
	defer rows.Close()

	var out []FieldValue
	for rows.Next() {
		var fv FieldValue
		if err := rows.Scan(&fv.FieldName, &fv.ValueText); err != nil {
			return nil, err
		}
		out = append(out, fv)
	}
	return out, rows.Err()
}

// SearchFieldValues runs a full-text query over field values and
// returns hits in relevance order. The raw query is reduced to quoted
// bareword tokens so user input cannot inject fts5 syntax.
func (s *Store) SearchFieldValues(ctx context.Context, raw string, limit int) ([]SearchHit, error) {
	match := sanitizeMatch(raw)
	if match == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Conn().QueryContext(ctx, `
		SELECT fv.parent_id, fv.field_name, COALESCE(fv.value_text, '')
		FROM field_values_fts fts
		JOIN field_values fv ON fv.rowid = fts.rowid
		WHERE field_values_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, match, limit)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", raw, err)
	}
	defer rows.Close()

	var hits []SearchHit
	for rows.Next() {
		var h SearchHit
		if err := rows.Scan(&h.ParentID, &h.FieldName, &h.ValueText); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// sanitizeMatch quotes each whitespace-separated token, stripping
// embedded double quotes. Operators and column filters are not
// supported on purpose.
func sanitizeMatch(raw string) string {
	tokens := strings.Fields(raw)
	quoted := make([]string, 0, len(tokens))
	for _, t := range tokens {
		t = strings.ReplaceAll(t, `"`, "")
		if t == "" {
			continue
		}
		quoted = append(quoted, `"`+t+`"`)
	}
	return strings.Join(quoted, " ")
}

// GetStatus reads the sync bookkeeping row and current table counts.
func (s *Store) GetStatus(ctx context.Context) (*Status, error) {
	st := &Status{}
	conn := s.db.Conn()

	var file sql.NullString
	var syncAt, total sql.NullInt64
	err := conn.QueryRowContext(ctx, `
		SELECT last_export_file, last_sync_at, total_nodes
		FROM sync_metadata WHERE id = 1
	`).Scan(&file, &syncAt, &total)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("read sync metadata: %w", err)
	}
	st.LastExportFile = file.String
	st.LastSyncAt = syncAt.Int64
	st.TotalNodes = int(total.Int64)

	counts := []struct {
		query string
		dst   *int
	}{
		{`SELECT COUNT(*) FROM supertags`, &st.Supertags},
		{`SELECT COUNT(*) FROM field_values`, &st.FieldValues},
		{`SELECT COUNT(*) FROM "references"`, &st.References},
	}
	for _, c := range counts {
		if err := conn.QueryRowContext(ctx, c.query).Scan(c.dst); err != nil {
			return nil, fmt.Errorf("count: %w", err)
		}
	}

	v, err := s.db.SchemaVersionOf(ctx)
	if err != nil {
		return nil, err
	}
	st.SchemaVersion = v
	return st, nil
}

func scanSchemaFields(rows *sql.Rows, inherited bool) ([]SchemaField, error) {
	var out []SchemaField
	for rows.Next() {
		var f SchemaField
		if err := rows.Scan(&f.TagID, &f.TagName, &f.FieldName, &f.DataType, &f.Order,
			&f.TargetTagID, &f.TargetTagName, &f.DefaultValueText); err != nil {
			return nil, err
		}
		f.Inherited = inherited
		out = append(out, f)
	}
	return out, rows.Err()
}
