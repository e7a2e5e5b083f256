package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/rollupcore/rollup-core/internal/logging"
	"github.com/rollupcore/rollup-core/internal/models"
)

// SQLiteStore implements Store against a local SQLite file, for
// development and single-operator CLI use without a PostgreSQL
// deployment. Its schema and queries mirror PostgresStore's row/data
// split, with jsonb columns narrowed to TEXT since SQLite has no
// native JSON type.
type SQLiteStore struct {
	db     *sqlx.DB
	logger *logging.Logger
}

// NewSQLiteStore opens (creating if absent) a SQLite database at path.
func NewSQLiteStore(path string, logger *logging.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("connect to sqlite: %w", err)
	}

	db.Exec("PRAGMA foreign_keys = ON")
	db.Exec("PRAGMA journal_mode = WAL")

	store := &SQLiteStore{db: db, logger: logger}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS rollup_configs (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		name TEXT NOT NULL,
		status TEXT NOT NULL,
		version INTEGER NOT NULL,
		created_at DATETIME,
		updated_at DATETIME,
		data TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_rollup_configs_tenant ON rollup_configs(tenant_id);

	CREATE TABLE IF NOT EXISTS rollup_executions (
		id TEXT PRIMARY KEY,
		rollup_id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		phase TEXT NOT NULL,
		started_at DATETIME,
		finished_at DATETIME,
		data TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_rollup_executions_rollup ON rollup_executions(tenant_id, rollup_id);

	CREATE TABLE IF NOT EXISTS merged_graphs (
		execution_id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		data TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS index_entries (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		scan_id TEXT NOT NULL,
		repository_id TEXT NOT NULL,
		node_id TEXT NOT NULL,
		collection_hash TEXT NOT NULL,
		reference_hashes TEXT NOT NULL,
		references_json TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_index_entries_scan ON index_entries(tenant_id, scan_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRollupConfig(ctx context.Context, cfg *models.RollupConfig) error {
	row, err := rowFromRollupConfig(cfg)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO rollup_configs (id, tenant_id, name, status, version, created_at, updated_at, data)
		VALUES (:id, :tenant_id, :name, :status, :version, :created_at, :updated_at, :data)
	`
	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("create rollup config: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetRollupConfig(ctx context.Context, tenantID models.Tenant, id uuid.UUID) (*models.RollupConfig, error) {
	var row rollupConfigRow
	query := `SELECT * FROM rollup_configs WHERE id = ? AND tenant_id = ?`
	if err := s.db.GetContext(ctx, &row, query, id.String(), string(tenantID)); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get rollup config: %w", err)
	}
	return rollupConfigFromRow(row)
}

func (s *SQLiteStore) UpdateRollupConfig(ctx context.Context, cfg *models.RollupConfig) error {
	row, err := rowFromRollupConfig(cfg)
	if err != nil {
		return err
	}
	query := `
		UPDATE rollup_configs
		SET name = :name, status = :status, version = version + 1,
		    updated_at = :updated_at, data = :data
		WHERE id = :id AND tenant_id = :tenant_id AND version = :version
	`
	res, err := s.db.NamedExecContext(ctx, query, row)
	if err != nil {
		return fmt.Errorf("update rollup config: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update rollup config: %w", err)
	}
	if n == 0 {
		var count int
		if err := s.db.GetContext(ctx, &count, `SELECT count(*) FROM rollup_configs WHERE id = ? AND tenant_id = ?`, cfg.ID.String(), string(cfg.TenantID)); err != nil {
			return fmt.Errorf("check rollup config existence: %w", err)
		}
		if count == 0 {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	return nil
}

func (s *SQLiteStore) DeleteRollupConfig(ctx context.Context, tenantID models.Tenant, id uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM rollup_configs WHERE id = ? AND tenant_id = ?`, id.String(), string(tenantID)); err != nil {
		return fmt.Errorf("delete rollup config: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListRollupConfigs(ctx context.Context, tenantID models.Tenant) ([]*models.RollupConfig, error) {
	var rows []rollupConfigRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM rollup_configs WHERE tenant_id = ? ORDER BY created_at DESC`, string(tenantID)); err != nil {
		return nil, fmt.Errorf("list rollup configs: %w", err)
	}
	cfgs := make([]*models.RollupConfig, 0, len(rows))
	for _, row := range rows {
		cfg, err := rollupConfigFromRow(row)
		if err != nil {
			return nil, err
		}
		cfgs = append(cfgs, cfg)
	}
	return cfgs, nil
}

func (s *SQLiteStore) CreateExecution(ctx context.Context, exec *models.RollupExecution) error {
	row, err := rowFromExecution(exec)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO rollup_executions (id, rollup_id, tenant_id, phase, started_at, finished_at, data)
		VALUES (:id, :rollup_id, :tenant_id, :phase, :started_at, :finished_at, :data)
	`
	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("create execution: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateExecution(ctx context.Context, exec *models.RollupExecution) error {
	row, err := rowFromExecution(exec)
	if err != nil {
		return err
	}
	query := `
		UPDATE rollup_executions
		SET phase = :phase, finished_at = :finished_at, data = :data
		WHERE id = :id AND tenant_id = :tenant_id
	`
	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("update execution: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetExecution(ctx context.Context, tenantID models.Tenant, id uuid.UUID) (*models.RollupExecution, error) {
	var row executionRow
	if err := s.db.GetContext(ctx, &row, `SELECT * FROM rollup_executions WHERE id = ? AND tenant_id = ?`, id.String(), string(tenantID)); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get execution: %w", err)
	}
	return executionFromRow(row)
}

func (s *SQLiteStore) ListExecutions(ctx context.Context, tenantID models.Tenant, rollupID uuid.UUID, limit int) ([]*models.RollupExecution, error) {
	var rows []executionRow
	query := `
		SELECT * FROM rollup_executions
		WHERE tenant_id = ? AND rollup_id = ?
		ORDER BY started_at DESC
		LIMIT ?
	`
	if err := s.db.SelectContext(ctx, &rows, query, string(tenantID), rollupID.String(), limit); err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	execs := make([]*models.RollupExecution, 0, len(rows))
	for _, row := range rows {
		exec, err := executionFromRow(row)
		if err != nil {
			return nil, err
		}
		execs = append(execs, exec)
	}
	return execs, nil
}

func (s *SQLiteStore) SaveMergedGraph(ctx context.Context, tenantID models.Tenant, graph *models.MergedGraph) error {
	data, err := json.Marshal(mergedGraphData{Nodes: graph.Nodes, Edges: graph.Edges})
	if err != nil {
		return fmt.Errorf("marshal merged graph: %w", err)
	}
	query := `
		INSERT INTO merged_graphs (execution_id, tenant_id, data)
		VALUES (?, ?, ?)
		ON CONFLICT (execution_id) DO UPDATE SET data = excluded.data
	`
	if _, err := s.db.ExecContext(ctx, query, graph.ExecutionID.String(), string(tenantID), data); err != nil {
		return fmt.Errorf("save merged graph: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetMergedGraph(ctx context.Context, tenantID models.Tenant, executionID uuid.UUID) (*models.MergedGraph, error) {
	var row mergedGraphRow
	if err := s.db.GetContext(ctx, &row, `SELECT * FROM merged_graphs WHERE execution_id = ? AND tenant_id = ?`, executionID.String(), string(tenantID)); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get merged graph: %w", err)
	}
	var data mergedGraphData
	if err := json.Unmarshal(row.Data, &data); err != nil {
		return nil, fmt.Errorf("unmarshal merged graph: %w", err)
	}
	return &models.MergedGraph{ExecutionID: row.ExecutionID, Nodes: data.Nodes, Edges: data.Edges}, nil
}

// sqliteIndexEntryRow stores the reference collection as a flat TEXT
// blob plus a separate newline-joined hash list, so FindIndexEntriesByHash
// can use a LIKE scan instead of the jsonb containment query Postgres gets.
type sqliteIndexEntryRow struct {
	ID              string `db:"id"`
	TenantID        string `db:"tenant_id"`
	ScanID          string `db:"scan_id"`
	RepositoryID    string `db:"repository_id"`
	NodeID          string `db:"node_id"`
	CollectionHash  string `db:"collection_hash"`
	ReferenceHashes string `db:"reference_hashes"`
	ReferencesJSON  string `db:"references_json"`
}

func (s *SQLiteStore) SaveIndexEntries(ctx context.Context, entries []models.IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO index_entries (id, tenant_id, scan_id, repository_id, node_id, collection_hash, reference_hashes, references_json)
		VALUES (:id, :tenant_id, :scan_id, :repository_id, :node_id, :collection_hash, :reference_hashes, :references_json)
		ON CONFLICT (id) DO UPDATE SET
			collection_hash = excluded.collection_hash,
			reference_hashes = excluded.reference_hashes,
			references_json = excluded.references_json
	`

	for _, entry := range entries {
		refs, err := json.Marshal(entry.References)
		if err != nil {
			return fmt.Errorf("marshal index entry references: %w", err)
		}
		hashes := ""
		for _, r := range entry.References {
			hashes += "\n" + r.Hash + "\n"
		}
		row := sqliteIndexEntryRow{
			ID: entry.ID, TenantID: string(entry.TenantID), ScanID: entry.ScanID,
			RepositoryID: entry.RepositoryID, NodeID: entry.NodeID,
			CollectionHash: entry.CollectionHash, ReferenceHashes: hashes, ReferencesJSON: string(refs),
		}
		if _, err := tx.NamedExecContext(ctx, query, row); err != nil {
			return fmt.Errorf("save index entry: %w", err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) GetIndexEntriesByScan(ctx context.Context, tenantID models.Tenant, scanID string) ([]models.IndexEntry, error) {
	var rows []sqliteIndexEntryRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM index_entries WHERE tenant_id = ? AND scan_id = ?`, string(tenantID), scanID); err != nil {
		return nil, fmt.Errorf("get index entries by scan: %w", err)
	}
	return decodeSQLiteIndexEntries(rows)
}

func (s *SQLiteStore) FindIndexEntriesByHash(ctx context.Context, tenantID models.Tenant, hash string) ([]models.IndexEntry, error) {
	var rows []sqliteIndexEntryRow
	query := `SELECT * FROM index_entries WHERE tenant_id = ? AND reference_hashes LIKE ?`
	if err := s.db.SelectContext(ctx, &rows, query, string(tenantID), "%\n"+hash+"\n%"); err != nil {
		return nil, fmt.Errorf("find index entries by hash: %w", err)
	}
	return decodeSQLiteIndexEntries(rows)
}

func decodeSQLiteIndexEntries(rows []sqliteIndexEntryRow) ([]models.IndexEntry, error) {
	entries := make([]models.IndexEntry, 0, len(rows))
	for _, row := range rows {
		var refs []models.ExternalReference
		if err := json.Unmarshal([]byte(row.ReferencesJSON), &refs); err != nil {
			return nil, fmt.Errorf("unmarshal index entry references: %w", err)
		}
		entries = append(entries, models.IndexEntry{
			ID: row.ID, TenantID: models.Tenant(row.TenantID), ScanID: row.ScanID,
			RepositoryID: row.RepositoryID, NodeID: row.NodeID,
			References: refs, CollectionHash: row.CollectionHash,
		})
	}
	return entries, nil
}
