package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/docutag/taxonomy/models"
)

// Dialect identifies the SQL flavour of a database driver
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// DB wraps the database connection and provides data access methods
type DB struct {
	conn    *sql.DB
	dialect Dialect
}

// Config contains database configuration
type Config struct {
	Driver string // "postgres" or "sqlite"
	DSN    string // Connection string, or a file path for SQLite
}

// DefaultConfig returns default database configuration
func DefaultConfig() Config {
	return Config{
		Driver: string(SQLite),
		DSN:    "taxonomy.db",
	}
}

// New creates a new database connection and applies pending migrations
func New(config Config) (*DB, error) {
	dialect := Dialect(config.Driver)
	if dialect != Postgres && dialect != SQLite {
		return nil, fmt.Errorf("unsupported database driver: %q", config.Driver)
	}
	if config.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	conn, err := sql.Open(string(dialect), config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Configure connection pool
	if dialect == SQLite {
		// SQLite allows a single writer
		conn.SetMaxOpenConns(1)
	} else {
		conn.SetMaxOpenConns(25)
		conn.SetMaxIdleConns(5)
		conn.SetConnMaxLifetime(5 * time.Minute)
	}

	db := &DB{conn: conn, dialect: dialect}

	if err := Migrate(conn, dialect); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// DB returns the underlying database connection for metrics collection
func (db *DB) DB() *sql.DB {
	return db.conn
}

// Dialect returns the SQL dialect in use
func (db *DB) Dialect() Dialect {
	return db.dialect
}

// rebind rewrites ? placeholders into the dialect's form
func rebind(dialect Dialect, query string) string {
	if dialect != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (db *DB) q(query string) string {
	return rebind(db.dialect, query)
}

// RunSummary describes a persisted hierarchy run
type RunSummary struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	TotalNodes int       `json:"total_nodes"`
	RootNodes  int       `json:"root_nodes"`
	MaxDepth   int       `json:"max_depth"`
}

// SaveHierarchy saves a hierarchy result and all of its nodes under runID
func (db *DB) SaveHierarchy(runID string, result *models.HierarchyResult) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	statsJSON, err := json.Marshal(result.Stats)
	if err != nil {
		return fmt.Errorf("failed to marshal stats: %w", err)
	}
	warningsJSON, err := json.Marshal(result.Warnings)
	if err != nil {
		return fmt.Errorf("failed to marshal warnings: %w", err)
	}

	_, err = tx.Exec(db.q(`
		INSERT INTO taxonomy_runs (id, created_at, total_nodes, root_nodes, max_depth, stats, warnings)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`),
		runID,
		time.Now().UTC(),
		result.Stats.TotalNodes,
		result.Stats.RootNodes,
		result.MaxDepth,
		string(statsJSON),
		string(warningsJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	insertNode := db.q(`
		INSERT INTO taxonomy_nodes (run_id, id, position, url, path, host, title, parent_id, depth, slug, breadcrumb, children, metadata, last_modified)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	for i, node := range result.Nodes {
		breadcrumbJSON, err := json.Marshal(node.Breadcrumb)
		if err != nil {
			return fmt.Errorf("failed to marshal breadcrumb: %w", err)
		}
		childrenJSON, err := json.Marshal(node.Children)
		if err != nil {
			return fmt.Errorf("failed to marshal children: %w", err)
		}
		metadataJSON, err := json.Marshal(node.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}

		var parentID sql.NullString
		if node.ParentID != nil {
			parentID = sql.NullString{String: *node.ParentID, Valid: true}
		}
		var lastModified sql.NullString
		if node.LastModified != nil {
			lastModified = sql.NullString{String: node.LastModified.UTC().Format(time.RFC3339Nano), Valid: true}
		}

		if _, err := tx.Exec(insertNode,
			runID,
			node.ID,
			i,
			node.URL,
			node.Path,
			node.Host,
			node.Title,
			parentID,
			node.Depth,
			node.Slug,
			string(breadcrumbJSON),
			string(childrenJSON),
			string(metadataJSON),
			lastModified,
		); err != nil {
			return fmt.Errorf("failed to save node %s: %w", node.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetHierarchy retrieves a persisted hierarchy. Returns nil if the run does not exist.
func (db *DB) GetHierarchy(runID string) (*models.HierarchyResult, error) {
	var statsJSON, warningsJSON string
	result := &models.HierarchyResult{}

	err := db.conn.QueryRow(
		db.q("SELECT max_depth, stats, warnings FROM taxonomy_runs WHERE id = ?"),
		runID,
	).Scan(&result.MaxDepth, &statsJSON, &warningsJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}

	if err := json.Unmarshal([]byte(statsJSON), &result.Stats); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stats: %w", err)
	}
	if err := json.Unmarshal([]byte(warningsJSON), &result.Warnings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal warnings: %w", err)
	}
	if result.Warnings == nil {
		result.Warnings = []models.Warning{}
	}

	rows, err := db.conn.Query(db.q(`
		SELECT id, url, path, host, title, parent_id, depth, slug, breadcrumb, children, metadata, last_modified
		FROM taxonomy_nodes
		WHERE run_id = ?
		ORDER BY position
	`), runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}
	defer rows.Close()

	result.Nodes = []*models.TaxonomyNode{}
	result.RootIDs = []string{}
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		result.Nodes = append(result.Nodes, node)
		if node.IsRoot() {
			result.RootIDs = append(result.RootIDs, node.ID)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return result, nil
}

func scanNode(rows *sql.Rows) (*models.TaxonomyNode, error) {
	var (
		node                                     models.TaxonomyNode
		parentID, lastModified                   sql.NullString
		breadcrumbJSON, childrenJSON, metadataJS string
	)
	if err := rows.Scan(
		&node.ID,
		&node.URL,
		&node.Path,
		&node.Host,
		&node.Title,
		&parentID,
		&node.Depth,
		&node.Slug,
		&breadcrumbJSON,
		&childrenJSON,
		&metadataJS,
		&lastModified,
	); err != nil {
		return nil, fmt.Errorf("failed to scan node: %w", err)
	}

	if parentID.Valid {
		id := parentID.String
		node.ParentID = &id
	}
	if lastModified.Valid {
		t, err := time.Parse(time.RFC3339Nano, lastModified.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse last_modified: %w", err)
		}
		node.LastModified = &t
	}
	if err := json.Unmarshal([]byte(breadcrumbJSON), &node.Breadcrumb); err != nil {
		return nil, fmt.Errorf("failed to unmarshal breadcrumb: %w", err)
	}
	if err := json.Unmarshal([]byte(childrenJSON), &node.Children); err != nil {
		return nil, fmt.Errorf("failed to unmarshal children: %w", err)
	}
	if err := json.Unmarshal([]byte(metadataJS), &node.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return &node, nil
}

// ListRuns returns hierarchy runs, newest first
func (db *DB) ListRuns(limit, offset int) ([]RunSummary, error) {
	rows, err := db.conn.Query(db.q(`
		SELECT id, created_at, total_nodes, root_nodes, max_depth
		FROM taxonomy_runs
		ORDER BY created_at DESC, id
		LIMIT ? OFFSET ?
	`), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := []RunSummary{}
	for rows.Next() {
		var run RunSummary
		if err := rows.Scan(&run.ID, &run.CreatedAt, &run.TotalNodes, &run.RootNodes, &run.MaxDepth); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return runs, nil
}

// MatchRun is a persisted match batch
type MatchRun struct {
	ID        string                        `json:"id"`
	CreatedAt time.Time                     `json:"created_at"`
	Matches   map[string]models.MatchResult `json:"matches"`
	Report    models.UnmatchedReport        `json:"report"`
}

// SaveMatchRun saves the matches and unmatched report of one batch under runID
func (db *DB) SaveMatchRun(runID string, matches map[string]models.MatchResult, report models.UnmatchedReport) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	statsJSON, err := json.Marshal(report.Stats)
	if err != nil {
		return fmt.Errorf("failed to marshal stats: %w", err)
	}
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	if _, err := tx.Exec(
		db.q("INSERT INTO match_runs (id, created_at, stats, report) VALUES (?, ?, ?, ?)"),
		runID, time.Now().UTC(), string(statsJSON), string(reportJSON),
	); err != nil {
		return fmt.Errorf("failed to save match run: %w", err)
	}

	sources := make([]string, 0, len(matches))
	for source := range matches {
		sources = append(sources, source)
	}
	sort.Strings(sources)

	insertResult := db.q(`
		INSERT INTO match_results (run_id, source_url, target_url, confidence, match_type, transformations)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	for _, source := range sources {
		match := matches[source]
		transformationsJSON, err := json.Marshal(match.Transformations)
		if err != nil {
			return fmt.Errorf("failed to marshal transformations: %w", err)
		}
		if _, err := tx.Exec(insertResult,
			runID,
			source,
			match.TargetURL,
			match.Confidence,
			string(match.MatchType),
			string(transformationsJSON),
		); err != nil {
			return fmt.Errorf("failed to save match for %s: %w", source, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetMatchRun retrieves a persisted match batch. Returns nil if the run does not exist.
func (db *DB) GetMatchRun(runID string) (*MatchRun, error) {
	run := &MatchRun{ID: runID, Matches: map[string]models.MatchResult{}}
	var reportJSON string

	err := db.conn.QueryRow(
		db.q("SELECT created_at, report FROM match_runs WHERE id = ?"),
		runID,
	).Scan(&run.CreatedAt, &reportJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query match run: %w", err)
	}
	if err := json.Unmarshal([]byte(reportJSON), &run.Report); err != nil {
		return nil, fmt.Errorf("failed to unmarshal report: %w", err)
	}

	rows, err := db.conn.Query(db.q(`
		SELECT source_url, target_url, confidence, match_type, transformations
		FROM match_results
		WHERE run_id = ?
		ORDER BY source_url
	`), runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query match results: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			match               models.MatchResult
			matchType           string
			transformationsJSON string
		)
		if err := rows.Scan(&match.SourceURL, &match.TargetURL, &match.Confidence, &matchType, &transformationsJSON); err != nil {
			return nil, fmt.Errorf("failed to scan match result: %w", err)
		}
		match.MatchType = models.MatchType(matchType)
		if err := json.Unmarshal([]byte(transformationsJSON), &match.Transformations); err != nil {
			return nil, fmt.Errorf("failed to unmarshal transformations: %w", err)
		}
		run.Matches[match.SourceURL] = match
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return run, nil
}

// Count returns the total number of persisted hierarchy and match runs
func (db *DB) Count() (int, error) {
	var count int
	err := db.conn.QueryRow(
		"SELECT (SELECT COUNT(*) FROM taxonomy_runs) + (SELECT COUNT(*) FROM match_runs)",
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count runs: %w", err)
	}
	return count, nil
}
