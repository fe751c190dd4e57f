package export

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// System marker ids. The export reuses one generic node+children shape
// for everything; these well-known ids inside a tuple's child list are
// the only discriminant.
const (
	// TagNameMarker marks a tuple as naming-related: present in supertag
	// definition tuples, field definition tuples, and tag applications.
	TagNameMarker = "SYS_A13"
	// SupertagMarker promotes a tuple's parent to a supertag definition.
	SupertagMarker = "SYS_T01"
	// FieldMarker promotes a tuple's parent to a field label definition.
	FieldMarker = "SYS_T02"
	// ExtendsMarker marks a tuple that declares supertag inheritance.
	ExtendsMarker = "SYS_A12"
)

// NodeKind classifies a node once the builder has pattern-matched it.
type NodeKind int

const (
	// KindContent is a plain data node.
	KindContent NodeKind = iota
	// KindSupertagTuple is the tuple that marks its parent as a supertag.
	KindSupertagTuple
	// KindFieldTuple is the tuple that marks its parent as a field label.
	KindFieldTuple
	// KindTagTuple is a tag application tuple.
	KindTagTuple
	// KindExtendsTuple declares a supertag's parent type.
	KindExtendsTuple
)

// Node is one graph node after classification.
type Node struct {
	ID            string
	Name          string
	Created       int64
	FirstModified int64
	LastModified  int64
	Done          int64
	ParentID      string
	Children      []string
	Kind          NodeKind
	Raw           []byte
}

// SupertagDef records a detected supertag definition.
type SupertagDef struct {
	TupleID string
	TagID   string
	TagName string
	Color   string
}

// FieldDef records a detected field label definition.
type FieldDef struct {
	TupleID  string
	LabelID  string
	Name     string
	DataType int    // export type code, 0 when not declared
	Target   string // declared target supertag id, if any
}

// TagApplication records that a data node carries a supertag.
type TagApplication struct {
	TupleID  string
	DataNode string
	TagID    string
	TagName  string
}

// Reference types for inline cross-references.
const (
	RefInline         = "inline_ref"
	RefInlineIndirect = "inline_ref_indirect"
)

// Reference is a directed inline cross-reference extracted from text.
type Reference struct {
	From string
	To   string
	Type string
}

// Graph is the in-memory form of one export snapshot.
type Graph struct {
	// Nodes holds every non-trashed doc, keyed by id. Order preserves
	// the export's doc order for deterministic iteration.
	Nodes map[string]*Node
	Order []string

	Supertags []SupertagDef
	FieldDefs map[string]FieldDef // keyed by label node id
	TagApps   []TagApplication
	Refs      []Reference
	Trash     map[string]bool

	// Extends maps a supertag id to its declared parent tag ids.
	Extends map[string][]string

	tagsByNode map[string][]string
}

var inlineRefPattern = regexp.MustCompile(`<span data-inlineref-node="([^"]+)"></span>`)

// Build converts a parsed export into a classified graph.
func Build(doc *Document) *Graph {
	g := &Graph{
		Nodes:      make(map[string]*Node, len(doc.Docs)),
		FieldDefs:  make(map[string]FieldDef),
		Trash:      make(map[string]bool),
		Extends:    make(map[string][]string),
		tagsByNode: make(map[string][]string),
	}

	byID := make(map[string]*Doc, len(doc.Docs))
	for i := range doc.Docs {
		d := &doc.Docs[i]
		byID[d.ID] = d
		if d.Props.Trashed {
			g.Trash[d.ID] = true
		}
	}

	// Primary nodes: everything not trashed. System marker docs may or
	// may not be present in the export; when present they are indexed
	// like any other node so child lookups resolve.
	for i := range doc.Docs {
		d := &doc.Docs[i]
		if g.Trash[d.ID] {
			continue
		}
		n := &Node{
			ID:       d.ID,
			Name:     d.Props.Name,
			Created:  d.Props.Created,
			Done:     d.Props.Done,
			Children: liveChildren(d.Children, g.Trash),
			Raw:      d.Raw,
		}
		if len(d.ModifiedTs) > 0 {
			n.FirstModified = d.ModifiedTs[0]
			n.LastModified = d.ModifiedTs[len(d.ModifiedTs)-1]
		}
		g.Nodes[n.ID] = n
		g.Order = append(g.Order, n.ID)
	}

	// Structural parent: the first node that lists a child wins. The
	// source permits reference-style multi-parenting; for indexing a
	// node has exactly one structural parent.
	for _, id := range g.Order {
		for _, child := range g.Nodes[id].Children {
			if c, ok := g.Nodes[child]; ok && c.ParentID == "" && child != id {
				c.ParentID = id
			}
		}
	}

	for _, id := range g.Order {
		g.classifyChildren(g.Nodes[id])
	}
	for _, id := range g.Order {
		g.extractRefs(g.Nodes[id])
	}
	return g
}

func liveChildren(children []string, trash map[string]bool) []string {
	if len(children) == 0 {
		return nil
	}
	out := make([]string, 0, len(children))
	for _, c := range children {
		if !trash[c] {
			out = append(out, c)
		}
	}
	return out
}

// classifyChildren applies the structural detection rules to each child
// tuple of parent. A tuple's own child list determines what the tuple
// means; the tuple's parent is the node the meaning attaches to.
func (g *Graph) classifyChildren(parent *Node) {
	for _, childID := range parent.Children {
		tuple, ok := g.Nodes[childID]
		if !ok {
			continue
		}

		hasTagName, hasSupertag, hasField, hasExtends := false, false, false, false
		for _, gc := range tuple.Children {
			switch gc {
			case TagNameMarker:
				hasTagName = true
			case SupertagMarker:
				hasSupertag = true
			case FieldMarker:
				hasField = true
			case ExtendsMarker:
				hasExtends = true
			}
		}

		switch {
		case hasExtends:
			tuple.Kind = KindExtendsTuple
			for _, gc := range tuple.Children {
				if !isMarker(gc) {
					g.Extends[parent.ID] = append(g.Extends[parent.ID], gc)
				}
			}
		case hasTagName && hasSupertag:
			tuple.Kind = KindSupertagTuple
			g.Supertags = append(g.Supertags, SupertagDef{
				TupleID: tuple.ID,
				TagID:   parent.ID,
				TagName: parent.Name,
				Color:   propsOf(parent).Color,
			})
		case hasTagName && hasField:
			tuple.Kind = KindFieldTuple
			p := propsOf(parent)
			g.FieldDefs[parent.ID] = FieldDef{
				TupleID:  tuple.ID,
				LabelID:  parent.ID,
				Name:     parent.Name,
				DataType: p.DataType,
				Target:   p.TargetTag,
			}
		case hasTagName:
			tuple.Kind = KindTagTuple
			for _, gc := range tuple.Children {
				if isMarker(gc) {
					continue
				}
				g.TagApps = append(g.TagApps, TagApplication{
					TupleID:  tuple.ID,
					DataNode: parent.ID,
					TagID:    gc,
					TagName:  g.nameOf(gc),
				})
				g.tagsByNode[parent.ID] = append(g.tagsByNode[parent.ID], gc)
			}
		}
	}
}

// extractRefs scans a node's text for inline reference markers.
// A direct marker yields an inline_ref edge. When the target is itself
// a pure lookup node (its whole text is a single marker), the final
// target is additionally recorded as inline_ref_indirect. Targets are
// recorded even when absent from the export.
func (g *Graph) extractRefs(n *Node) {
	if n.Name == "" || !strings.Contains(n.Name, "data-inlineref-node") {
		return
	}
	for _, m := range inlineRefPattern.FindAllStringSubmatch(n.Name, -1) {
		target := m[1]
		g.Refs = append(g.Refs, Reference{From: n.ID, To: target, Type: RefInline})

		if hop, ok := g.Nodes[target]; ok && isLookupNode(hop) {
			if final := inlineRefPattern.FindStringSubmatch(hop.Name); final != nil && final[1] != n.ID {
				g.Refs = append(g.Refs, Reference{From: n.ID, To: final[1], Type: RefInlineIndirect})
			}
		}
	}
}

func isLookupNode(n *Node) bool {
	name := strings.TrimSpace(n.Name)
	m := inlineRefPattern.FindString(name)
	return m != "" && m == name
}

func isMarker(id string) bool {
	switch id {
	case TagNameMarker, SupertagMarker, FieldMarker, ExtendsMarker:
		return true
	}
	return false
}

// propsOf re-reads the light props for a node. Classification needs
// color/dataType which are not carried on Node itself.
func propsOf(n *Node) Props {
	var d Doc
	if len(n.Raw) > 0 {
		_ = d.UnmarshalJSON(n.Raw)
	}
	return d.Props
}

func (g *Graph) nameOf(id string) string {
	if n, ok := g.Nodes[id]; ok {
		return n.Name
	}
	return id
}

// Tags returns the supertag ids applied to a data node, in application order.
func (g *Graph) Tags(nodeID string) []string {
	return g.tagsByNode[nodeID]
}

// Fingerprint computes the content checksum for a node: a SHA-256 over
// the canonical serialization of the fields that matter for change
// detection. The field subset is a contract; widening or narrowing it
// changes what counts as a modification.
func (g *Graph) Fingerprint(id string) string {
	n, ok := g.Nodes[id]
	if !ok {
		return ""
	}

	children := append([]string(nil), n.Children...)
	sort.Strings(children)
	tags := append([]string(nil), g.tagsByNode[id]...)
	sort.Strings(tags)

	// The name is length-prefixed so delimiter characters inside it
	// cannot shift the field boundaries of the serialization.
	var b strings.Builder
	fmt.Fprintf(&b, "%d:%s", len(n.Name), n.Name)
	fmt.Fprintf(&b, "|%d|%d|%d|", n.Created, n.FirstModified, n.Done)
	b.WriteString(strings.Join(children, ","))
	b.WriteString("|")
	b.WriteString(strings.Join(tags, ","))

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
