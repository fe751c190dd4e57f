// Package export parses Tana-style JSON export snapshots and builds the
// typed node graph consumed by the sync engine.
//
// An export is a flat list of docs, each a generic "node with children".
// Structure (supertag definitions, field definitions, tag applications)
// is discovered by pattern-matching over system marker ids, never by an
// explicit discriminant in the file.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Props is the property bag attached to each exported doc. Only the
// fields the indexer cares about are decoded; everything else rides
// along in the doc's raw payload.
type Props struct {
	Name    string `json:"name,omitempty"`
	Created int64  `json:"created"`
	Done    int64  `json:"done,omitempty"`
	Trashed bool   `json:"trashed,omitempty"`

	// Color is only meaningful on supertag definition nodes.
	Color string `json:"color,omitempty"`

	// DataType and TargetTag are only meaningful on field label nodes.
	// DataType is the export's numeric type code (see extract.TypeCodes);
	// zero means "no explicit declaration".
	DataType  int    `json:"dataType,omitempty"`
	TargetTag string `json:"targetTag,omitempty"`
}

// Doc is one raw exported node record.
type Doc struct {
	ID         string   `json:"id"`
	Props      Props    `json:"props"`
	Children   []string `json:"children,omitempty"`
	ModifiedTs []int64  `json:"modifiedTs,omitempty"`

	// Raw is the original JSON for this doc, preserved verbatim for the
	// nodes table payload column.
	Raw json.RawMessage `json:"-"`
}

// UnmarshalJSON decodes the doc and keeps the original bytes.
func (d *Doc) UnmarshalJSON(b []byte) error {
	type alias Doc
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*d = Doc(a)
	d.Raw = append(json.RawMessage(nil), b...)
	return nil
}

// Document is a full export snapshot.
type Document struct {
	FormatVersion int   `json:"formatVersion,omitempty"`
	Docs          []Doc `json:"docs"`
}

// ReadFile parses an export file from disk.
func ReadFile(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open export file: %w", err)
	}
	defer f.Close()

	doc, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse export file %s: %w", path, err)
	}
	return doc, nil
}

// Parse decodes an export document from a reader and validates the
// minimal contract: every doc has an id and a creation timestamp.
func Parse(r io.Reader) (*Document, error) {
	var doc Document
	dec := json.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("malformed export: %w", err)
	}
	if doc.Docs == nil {
		return nil, fmt.Errorf("malformed export: missing docs list")
	}
	for i := range doc.Docs {
		d := &doc.Docs[i]
		if d.ID == "" {
			return nil, fmt.Errorf("malformed export: doc %d has no id", i)
		}
		if d.Props.Created == 0 {
			return nil, fmt.Errorf("malformed export: doc %s has no created timestamp", d.ID)
		}
	}
	return &doc, nil
}
