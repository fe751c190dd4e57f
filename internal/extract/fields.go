// Package extract walks a built export graph and produces the
// normalized rows for the derived metadata tables: field values, field
// name definitions, and supertag field/inheritance metadata.
package extract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/tanalite/tanalite/internal/export"
)

// Data type names stored in field_names.data_type and
// supertag_fields.data_type.
const (
	TypeCheckbox = "checkbox"
	TypeDate     = "date"
	TypeSupertag = "supertag"
	TypeText     = "text"
	TypeNumber   = "number"
	TypeURL      = "url"
	TypeEmail    = "email"
	TypeOption   = "option"
	TypeOptions  = "options"
	TypeUser     = "user"
)

// TypeCodes maps the export's numeric declaration codes to type names.
// The table is fixed; unknown codes fall back to text.
var TypeCodes = map[int]string{
	1:  TypeCheckbox,
	2:  TypeDate,
	3:  TypeSupertag,
	4:  TypeText,
	5:  TypeNumber,
	6:  TypeURL,
	7:  TypeEmail,
	8:  TypeOption,
	9:  TypeOptions,
	10: TypeUser,
}

// FieldValueRow is one normalized field value, one row per value of a
// multi-valued field, declaration order preserved.
type FieldValueRow struct {
	TupleID     string
	ParentID    string
	FieldDefID  string
	FieldName   string
	ValueNodeID string
	ValueText   string
	Order       int
	CreatedAt   int64
}

// FieldRow is the flat (node, field, value) convenience row.
type FieldRow struct {
	NodeID       string
	FieldLabelID string
	FieldName    string
	ValueText    string
}

// FieldNameRow is one distinct field definition with its inferred type.
type FieldNameRow struct {
	LabelID       string
	Name          string
	Normalized    string
	DataType      string
	TargetTagID   string
	TargetTagName string
}

// FieldSet is everything the field extractor produces for one graph.
type FieldSet struct {
	Values []FieldValueRow
	Flat   []FieldRow
	Names  []FieldNameRow
}

// Fields locates tuple-shaped children that carry field values: a tuple
// whose first child resolves to a known field label, with the remaining
// children as the value payload. Explicit type declarations win over
// the value-shape heuristics, which run as a fallback pass afterwards.
func Fields(g *export.Graph) *FieldSet {
	set := &FieldSet{}
	observed := make(map[string][]string) // label id -> value texts seen

	for _, id := range g.Order {
		node := g.Nodes[id]
		if node.Kind != export.KindContent {
			continue
		}
		order := 0
		for _, childID := range node.Children {
			tuple, ok := g.Nodes[childID]
			if !ok || tuple.Kind != export.KindContent || len(tuple.Children) < 2 {
				continue
			}
			def, ok := g.FieldDefs[tuple.Children[0]]
			if !ok {
				continue
			}
			for _, valueID := range tuple.Children[1:] {
				text := valueText(g, valueID)
				set.Values = append(set.Values, FieldValueRow{
					TupleID:     tuple.ID,
					ParentID:    node.ID,
					FieldDefID:  def.LabelID,
					FieldName:   def.Name,
					ValueNodeID: valueID,
					ValueText:   text,
					Order:       order,
					CreatedAt:   tuple.Created,
				})
				set.Flat = append(set.Flat, FieldRow{
					NodeID:       node.ID,
					FieldLabelID: def.LabelID,
					FieldName:    def.Name,
					ValueText:    text,
				})
				observed[def.LabelID] = append(observed[def.LabelID], text)
				order++
			}
		}
	}

	for _, id := range g.Order {
		def, ok := g.FieldDefs[id]
		if !ok {
			continue
		}
		set.Names = append(set.Names, fieldNameRow(g, def, observed[def.LabelID]))
	}
	return set
}

func fieldNameRow(g *export.Graph, def export.FieldDef, values []string) FieldNameRow {
	row := FieldNameRow{
		LabelID:    def.LabelID,
		Name:       def.Name,
		Normalized: Normalize(def.Name),
	}
	if typ, ok := TypeCodes[def.DataType]; ok {
		row.DataType = typ
		if typ == TypeSupertag && def.Target != "" {
			row.TargetTagID = def.Target
			if n, ok := g.Nodes[def.Target]; ok {
				row.TargetTagName = n.Name
			}
		}
		return row
	}
	row.DataType = InferType(values)
	return row
}

// valueText resolves a value node to its display text. Unknown ids keep
// the id itself so dangling references stay visible.
func valueText(g *export.Graph, id string) string {
	if n, ok := g.Nodes[id]; ok && n.Name != "" {
		return n.Name
	}
	return id
}

// Normalize lowercases a field name and collapses non-alphanumerics to
// single underscores, for stable lookups across renamed labels.
func Normalize(name string) string {
	var b strings.Builder
	lastUnderscore := true
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}

var (
	isoDatePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}([T ]\d{2}:\d{2}(:\d{2})?)?`)
	emailPattern   = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

// InferType guesses a field's data type from the shape of every
// observed value. It only runs for fields with no explicit declaration.
// All values must agree on a shape; mixed fields are plain text.
func InferType(values []string) string {
	if len(values) == 0 {
		return TypeText
	}
	allDate, allBool, allNumber, allURL, allEmail := true, true, true, true, true
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			return TypeText
		}
		if !isoDatePattern.MatchString(v) {
			allDate = false
		}
		if !isBoolLike(v) {
			allBool = false
		}
		if _, err := strconv.ParseFloat(v, 64); err != nil {
			allNumber = false
		}
		if !strings.HasPrefix(v, "http://") && !strings.HasPrefix(v, "https://") {
			allURL = false
		}
		if !emailPattern.MatchString(v) {
			allEmail = false
		}
	}
	switch {
	case allDate:
		return TypeDate
	case allBool:
		return TypeCheckbox
	case allNumber:
		return TypeNumber
	case allURL:
		return TypeURL
	case allEmail:
		return TypeEmail
	}
	return TypeText
}

func isBoolLike(v string) bool {
	switch strings.ToLower(v) {
	case "true", "false", "yes", "no", "done", "todo", "[x]", "[ ]":
		return true
	}
	return false
}
