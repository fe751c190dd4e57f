// Package sync turns a freshly built export graph into an up-to-date
// relational store: it decides full reindex vs incremental, computes
// the add/modify/delete delta against the previous run's checksums, and
// applies it in a single transaction.
package sync

import (
	"sort"

	"github.com/tanalite/tanalite/internal/export"
)

// Changes is the diff between a new graph and the prior checksum
// baseline. Slices are sorted for deterministic application order.
type Changes struct {
	Added    []string
	Modified []string
	Deleted  []string
}

// Empty reports a no-op diff.
func (c Changes) Empty() bool {
	return len(c.Added) == 0 && len(c.Modified) == 0 && len(c.Deleted) == 0
}

// changedSet returns added+modified+deleted as a lookup set.
func (c Changes) changedSet() map[string]bool {
	set := make(map[string]bool, len(c.Added)+len(c.Modified)+len(c.Deleted))
	for _, id := range c.Added {
		set[id] = true
	}
	for _, id := range c.Modified {
		set[id] = true
	}
	for _, id := range c.Deleted {
		set[id] = true
	}
	return set
}

// Checksums computes the content fingerprint for every node in the graph.
func Checksums(g *export.Graph) map[string]string {
	out := make(map[string]string, len(g.Nodes))
	for _, id := range g.Order {
		out[id] = g.Fingerprint(id)
	}
	return out
}

// DetectChanges diffs the new graph against the prior checksum
// snapshot. It is a pure function of its inputs: no database access, no
// process state.
func DetectChanges(g *export.Graph, prior map[string]string) Changes {
	var c Changes
	for _, id := range g.Order {
		old, ok := prior[id]
		switch {
		case !ok:
			c.Added = append(c.Added, id)
		case old != g.Fingerprint(id):
			c.Modified = append(c.Modified, id)
		}
	}
	for id := range prior {
		if _, ok := g.Nodes[id]; !ok {
			c.Deleted = append(c.Deleted, id)
		}
	}
	sort.Strings(c.Added)
	sort.Strings(c.Modified)
	sort.Strings(c.Deleted)
	return c
}
