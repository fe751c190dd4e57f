package sync

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/tanalite/tanalite/internal/db"
	"github.com/tanalite/tanalite/internal/export"
)

// Options controls a single sync invocation.
type Options struct {
	// Force skips change detection and rebuilds every derived table.
	Force bool
}

// Result reports what one sync pass did.
type Result struct {
	NodesIndexed  int `json:"nodesIndexed"`
	NodesAdded    int `json:"nodesAdded"`
	NodesModified int `json:"nodesModified"`
	NodesDeleted  int `json:"nodesDeleted"`

	SupertagsIndexed       int `json:"supertagsIndexed"`
	FieldsIndexed          int `json:"fieldsIndexed"`
	ReferencesIndexed      int `json:"referencesIndexed"`
	TagApplicationsIndexed int `json:"tagApplicationsIndexed"`
	FieldNamesIndexed      int `json:"fieldNamesIndexed"`
	FieldValuesIndexed     int `json:"fieldValuesIndexed"`

	SupertagFieldsExtracted  int `json:"supertagFieldsExtracted"`
	SupertagParentsExtracted int `json:"supertagParentsExtracted"`

	// EmbeddingsCleaned is zero when the optional embeddings table is
	// absent; the sync never fails over it.
	EmbeddingsCleaned int `json:"embeddingsCleaned"`

	FullReindex bool  `json:"fullReindex"`
	DurationMs  int64 `json:"durationMs"`
}

// Engine orchestrates one sync pass: parse, migrate, diff, apply,
// commit. One invocation is single-threaded; correctness comes from
// transactional atomicity, not locking.
type Engine struct {
	db     *db.DB
	logger *log.Logger
	retry  db.RetryConfig
	now    func() time.Time
}

// New creates a sync engine. A nil logger gets a default writing to
// stderr, matching the reader processes' expectations.
func New(database *db.DB, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &Engine{
		db:     database,
		logger: logger,
		retry:  db.DefaultRetryConfig(),
		now:    time.Now,
	}
}

// SetRetryConfig overrides the lock-contention backoff tuning.
func (e *Engine) SetRetryConfig(cfg db.RetryConfig) {
	e.retry = cfg
}

// Sync indexes one export file. Parse errors surface before any
// transaction opens; everything after parsing happens inside a single
// transaction that either fully commits or leaves the store untouched.
func (e *Engine) Sync(ctx context.Context, exportPath string, opts Options) (*Result, error) {
	start := e.now()

	doc, err := export.ReadFile(exportPath)
	if err != nil {
		return nil, err
	}
	graph := export.Build(doc)

	if err := db.Retry(ctx, e.retry, e.logger, "migrate", func() error {
		return e.db.Migrate(ctx)
	}); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	caps, err := e.db.ResolveCapabilities(ctx)
	if err != nil {
		return nil, err
	}

	res := &Result{NodesIndexed: len(graph.Order)}
	err = db.Retry(ctx, e.retry, e.logger, "sync", func() error {
		return e.syncOnce(ctx, graph, exportPath, opts, caps, res)
	})
	if err != nil {
		return nil, err
	}

	res.DurationMs = e.now().Sub(start).Milliseconds()
	e.logger.Printf("sync complete: %d nodes (+%d ~%d -%d), %d supertags, %d field values, full=%v, %dms",
		res.NodesIndexed, res.NodesAdded, res.NodesModified, res.NodesDeleted,
		res.SupertagsIndexed, res.FieldValuesIndexed, res.FullReindex, res.DurationMs)
	return res, nil
}

// syncOnce runs the whole apply inside one transaction. On retry after
// lock contention the counters are reset so a rolled-back attempt never
// leaks into the result.
func (e *Engine) syncOnce(ctx context.Context, graph *export.Graph, exportPath string, opts Options, caps db.Capabilities, res *Result) error {
	*res = Result{NodesIndexed: len(graph.Order)}

	tx, err := e.db.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	full, prior, err := e.decideMode(ctx, tx, opts)
	if err != nil {
		return err
	}
	res.FullReindex = full

	var changes Changes
	if full {
		changes, err = fullChanges(ctx, tx, graph)
		if err != nil {
			return err
		}
		if err := e.applyFull(ctx, tx, graph, res); err != nil {
			return err
		}
	} else {
		changes = DetectChanges(graph, prior)
		if err := e.applyIncremental(ctx, tx, graph, changes, res); err != nil {
			return err
		}
	}
	res.NodesAdded = len(changes.Added)
	res.NodesModified = len(changes.Modified)
	res.NodesDeleted = len(changes.Deleted)

	// Field values and supertag metadata are always rebuilt in full on
	// both paths: cheap to recompute, and drift from the current graph
	// is never tolerated.
	if err := e.rebuildDerived(ctx, tx, graph, res); err != nil {
		return err
	}
	if err := e.writeChecksums(ctx, tx, graph, changes, full); err != nil {
		return err
	}
	if caps.Embeddings {
		n, err := cleanEmbeddings(ctx, tx, changes.Deleted, full, graph)
		if err != nil {
			return err
		}
		res.EmbeddingsCleaned = n
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sync_metadata (id, last_export_file, last_sync_at, total_nodes)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_export_file = excluded.last_export_file,
			last_sync_at     = excluded.last_sync_at,
			total_nodes      = excluded.total_nodes
	`, exportPath, e.now().UnixMilli(), len(graph.Order)); err != nil {
		return fmt.Errorf("write sync metadata: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit sync: %w", err)
	}
	return nil
}

// decideMode picks full reindex vs incremental. A store that has node
// rows but no checksum rows predates checksum tracking; the diff would
// be meaningless, so a full pass re-establishes the baseline.
func (e *Engine) decideMode(ctx context.Context, tx *sql.Tx, opts Options) (bool, map[string]string, error) {
	if opts.Force {
		e.logger.Printf("full reindex: forced")
		return true, nil, nil
	}

	var nodeCount, checksumCount int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM nodes`).Scan(&nodeCount); err != nil {
		return false, nil, fmt.Errorf("count nodes: %w", err)
	}
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM node_checksums`).Scan(&checksumCount); err != nil {
		return false, nil, fmt.Errorf("count checksums: %w", err)
	}
	if nodeCount > 0 && checksumCount == 0 {
		e.logger.Printf("full reindex: %d nodes with no checksum baseline", nodeCount)
		return true, nil, nil
	}

	prior := make(map[string]string, checksumCount)
	rows, err := tx.QueryContext(ctx, `SELECT node_id, checksum FROM node_checksums`)
	if err != nil {
		return false, nil, fmt.Errorf("load checksums: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, sum string
		if err := rows.Scan(&id, &sum); err != nil {
			return false, nil, err
		}
		prior[id] = sum
	}
	return false, prior, rows.Err()
}

// fullChanges reconstructs diff counts for reporting on the full path:
// everything in the graph counts as added, prior-only ids as deleted.
func fullChanges(ctx context.Context, tx *sql.Tx, graph *export.Graph) (Changes, error) {
	var c Changes
	c.Added = append(c.Added, graph.Order...)

	rows, err := tx.QueryContext(ctx, `SELECT id FROM nodes`)
	if err != nil {
		return c, fmt.Errorf("list prior nodes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return c, err
		}
		if _, ok := graph.Nodes[id]; !ok {
			c.Deleted = append(c.Deleted, id)
		}
	}
	return c, rows.Err()
}
