package extract

import (
	"sort"

	"github.com/tanalite/tanalite/internal/export"
)

// SupertagFieldRow is one field declared on a supertag.
type SupertagFieldRow struct {
	TagID            string
	TagName          string
	FieldName        string
	FieldLabelID     string
	Order            int
	Normalized       string
	DataType         string
	TargetTagID      string
	TargetTagName    string
	DefaultValueID   string
	DefaultValueText string
}

// SupertagParentRow is one inheritance edge between supertags.
type SupertagParentRow struct {
	ChildTagID  string
	ParentTagID string
}

// SupertagMeta is everything the supertag metadata extractor produces.
type SupertagMeta struct {
	Fields  []SupertagFieldRow
	Parents []SupertagParentRow
}

// ownerDepthLimit bounds the ancestor walk when attributing a field
// label to its owning supertag definition.
const ownerDepthLimit = 16

// SupertagMetadata extracts field definitions and inheritance edges for
// every detected supertag. A field label belongs to the nearest
// supertag definition on its structural parent chain. Parent types come
// from extends tuples; a tag may declare multiple parents (diamonds are
// resolved at query time by a nearest-first ancestor walk).
func SupertagMetadata(g *export.Graph, names *FieldSet) *SupertagMeta {
	meta := &SupertagMeta{}

	tagNames := make(map[string]string, len(g.Supertags))
	for _, st := range g.Supertags {
		tagNames[st.TagID] = st.TagName
	}
	nameRows := make(map[string]FieldNameRow)
	if names != nil {
		for _, row := range names.Names {
			nameRows[row.LabelID] = row
		}
	}

	orderByTag := make(map[string]int)
	for _, labelID := range sortedLabelIDs(g) {
		def := g.FieldDefs[labelID]
		owner := owningTag(g, labelID, tagNames)
		if owner == "" {
			continue
		}
		row := SupertagFieldRow{
			TagID:        owner,
			TagName:      tagNames[owner],
			FieldName:    def.Name,
			FieldLabelID: def.LabelID,
			Order:        orderByTag[owner],
			Normalized:   Normalize(def.Name),
		}
		if nr, ok := nameRows[labelID]; ok {
			row.DataType = nr.DataType
			row.TargetTagID = nr.TargetTagID
			row.TargetTagName = nr.TargetTagName
		}
		if id, text := defaultValue(g, labelID); id != "" {
			row.DefaultValueID = id
			row.DefaultValueText = text
		}
		meta.Fields = append(meta.Fields, row)
		orderByTag[owner]++
	}

	seen := make(map[[2]string]bool)
	for _, tagID := range sortedKeys(g.Extends) {
		if _, ok := tagNames[tagID]; !ok {
			continue
		}
		for _, parent := range g.Extends[tagID] {
			key := [2]string{tagID, parent}
			if seen[key] || parent == tagID {
				continue
			}
			seen[key] = true
			meta.Parents = append(meta.Parents, SupertagParentRow{
				ChildTagID:  tagID,
				ParentTagID: parent,
			})
		}
	}
	return meta
}

// owningTag walks the structural parent chain from a field label until
// it reaches a supertag definition node.
func owningTag(g *export.Graph, labelID string, tags map[string]string) string {
	cur := labelID
	for i := 0; i < ownerDepthLimit; i++ {
		node, ok := g.Nodes[cur]
		if !ok || node.ParentID == "" {
			return ""
		}
		if _, isTag := tags[node.ParentID]; isTag {
			return node.ParentID
		}
		cur = node.ParentID
	}
	return ""
}

// defaultValue finds a field label's template default: the first plain
// child that is not the marker tuple.
func defaultValue(g *export.Graph, labelID string) (string, string) {
	label, ok := g.Nodes[labelID]
	if !ok {
		return "", ""
	}
	for _, childID := range label.Children {
		child, ok := g.Nodes[childID]
		if !ok || child.Kind != export.KindContent {
			continue
		}
		return child.ID, child.Name
	}
	return "", ""
}

// sortedLabelIDs iterates field labels in export document order so
// declaration order is stable across runs.
func sortedLabelIDs(g *export.Graph) []string {
	out := make([]string, 0, len(g.FieldDefs))
	for _, id := range g.Order {
		if _, ok := g.FieldDefs[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

func sortedKeys(m map[string][]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
