package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/rollupcore/rollup-core/internal/logging"
	"github.com/rollupcore/rollup-core/internal/models"
)

// PostgresStore implements Store against PostgreSQL. Each table carries
// the columns a query filters or sorts on directly, plus a jsonb "data"
// column for the rest of the struct, the same split the teacher used
// for risk sketches and cache metadata.
type PostgresStore struct {
	db     *sqlx.DB
	logger *logging.Logger
}

// NewPostgresStore opens a PostgreSQL connection pool.
func NewPostgresStore(dsn string, logger *logging.Logger) (*PostgresStore, error) {
	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &PostgresStore{db: db, logger: logger}, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB, for packages like dlq that need a
// plain database/sql handle on the same connection pool rather than a
// sqlx-wrapped one.
func (s *PostgresStore) DB() *sql.DB {
	return s.db.DB
}

// rollupConfigRow is the wire shape for the rollup_configs table.
type rollupConfigRow struct {
	ID        uuid.UUID `db:"id"`
	TenantID  string    `db:"tenant_id"`
	Name      string    `db:"name"`
	Status    string    `db:"status"`
	Version   int       `db:"version"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
	Data      []byte    `db:"data"`
}

// rollupConfigData is everything about a RollupConfig that isn't
// indexed or filtered on directly.
type rollupConfigData struct {
	RepositoryIDs []string                `json:"repository_ids"`
	Matchers      []models.MatcherConfig  `json:"matchers"`
	MergeOptions  models.MergeOptions     `json:"merge_options"`
	Schedule      string                  `json:"schedule,omitempty"`
}

func rowFromRollupConfig(cfg *models.RollupConfig) (rollupConfigRow, error) {
	data, err := json.Marshal(rollupConfigData{
		RepositoryIDs: cfg.RepositoryIDs,
		Matchers:      cfg.Matchers,
		MergeOptions:  cfg.MergeOptions,
		Schedule:      cfg.Schedule,
	})
	if err != nil {
		return rollupConfigRow{}, fmt.Errorf("marshal rollup config data: %w", err)
	}
	return rollupConfigRow{
		ID:        cfg.ID,
		TenantID:  string(cfg.TenantID),
		Name:      cfg.Name,
		Status:    string(cfg.Status),
		Version:   cfg.Version,
		CreatedAt: cfg.CreatedAt,
		UpdatedAt: cfg.UpdatedAt,
		Data:      data,
	}, nil
}

func rollupConfigFromRow(row rollupConfigRow) (*models.RollupConfig, error) {
	var data rollupConfigData
	if err := json.Unmarshal(row.Data, &data); err != nil {
		return nil, fmt.Errorf("unmarshal rollup config data: %w", err)
	}
	return &models.RollupConfig{
		ID:            row.ID,
		TenantID:      models.Tenant(row.TenantID),
		Name:          row.Name,
		RepositoryIDs: data.RepositoryIDs,
		Matchers:      data.Matchers,
		MergeOptions:  data.MergeOptions,
		Schedule:      data.Schedule,
		Status:        models.RollupStatus(row.Status),
		Version:       row.Version,
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
	}, nil
}

func (s *PostgresStore) CreateRollupConfig(ctx context.Context, cfg *models.RollupConfig) error {
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

func (s *PostgresStore) GetRollupConfig(ctx context.Context, tenantID models.Tenant, id uuid.UUID) (*models.RollupConfig, error) {
	var row rollupConfigRow
	query := `SELECT * FROM rollup_configs WHERE id = $1 AND tenant_id = $2`

	if err := s.db.GetContext(ctx, &row, query, id, string(tenantID)); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get rollup config: %w", err)
	}
	return rollupConfigFromRow(row)
}

// UpdateRollupConfig enforces optimistic concurrency in the UPDATE
// itself: the WHERE clause only matches the row whose stored version
// equals cfg.Version, so a concurrent writer's update loses the race
// cleanly instead of silently clobbering the other's changes.
func (s *PostgresStore) UpdateRollupConfig(ctx context.Context, cfg *models.RollupConfig) error {
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
		exists, existsErr := s.rollupConfigExists(ctx, cfg.TenantID, cfg.ID)
		if existsErr != nil {
			return existsErr
		}
		if !exists {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	return nil
}

func (s *PostgresStore) rollupConfigExists(ctx context.Context, tenantID models.Tenant, id uuid.UUID) (bool, error) {
	var n int
	query := `SELECT count(*) FROM rollup_configs WHERE id = $1 AND tenant_id = $2`
	if err := s.db.GetContext(ctx, &n, query, id, string(tenantID)); err != nil {
		return false, fmt.Errorf("check rollup config existence: %w", err)
	}
	return n > 0, nil
}

func (s *PostgresStore) DeleteRollupConfig(ctx context.Context, tenantID models.Tenant, id uuid.UUID) error {
	query := `DELETE FROM rollup_configs WHERE id = $1 AND tenant_id = $2`
	if _, err := s.db.ExecContext(ctx, query, id, string(tenantID)); err != nil {
		return fmt.Errorf("delete rollup config: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListRollupConfigs(ctx context.Context, tenantID models.Tenant) ([]*models.RollupConfig, error) {
	var rows []rollupConfigRow
	query := `SELECT * FROM rollup_configs WHERE tenant_id = $1 ORDER BY created_at DESC`

	if err := s.db.SelectContext(ctx, &rows, query, string(tenantID)); err != nil {
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

// executionRow is the wire shape for the rollup_executions table.
type executionRow struct {
	ID         uuid.UUID    `db:"id"`
	RollupID   uuid.UUID    `db:"rollup_id"`
	TenantID   string       `db:"tenant_id"`
	Phase      string       `db:"phase"`
	StartedAt  time.Time    `db:"started_at"`
	FinishedAt sql.NullTime `db:"finished_at"`
	Data       []byte       `db:"data"`
}

type executionData struct {
	ScanIDs []string                    `json:"scan_ids"`
	Stats   models.RollupExecutionStats `json:"stats"`
	Error   *models.ExecutionError      `json:"error,omitempty"`
}

func rowFromExecution(exec *models.RollupExecution) (executionRow, error) {
	data, err := json.Marshal(executionData{ScanIDs: exec.ScanIDs, Stats: exec.Stats, Error: exec.Error})
	if err != nil {
		return executionRow{}, fmt.Errorf("marshal execution data: %w", err)
	}
	row := executionRow{
		ID:        exec.ID,
		RollupID:  exec.RollupID,
		TenantID:  string(exec.TenantID),
		Phase:     string(exec.Phase),
		StartedAt: exec.StartedAt,
		Data:      data,
	}
	if exec.FinishedAt != nil {
		row.FinishedAt = sql.NullTime{Time: *exec.FinishedAt, Valid: true}
	}
	return row, nil
}

func executionFromRow(row executionRow) (*models.RollupExecution, error) {
	var data executionData
	if err := json.Unmarshal(row.Data, &data); err != nil {
		return nil, fmt.Errorf("unmarshal execution data: %w", err)
	}
	exec := &models.RollupExecution{
		ID:        row.ID,
		RollupID:  row.RollupID,
		TenantID:  models.Tenant(row.TenantID),
		ScanIDs:   data.ScanIDs,
		Phase:     models.ExecutionPhase(row.Phase),
		Stats:     data.Stats,
		Error:     data.Error,
		StartedAt: row.StartedAt,
	}
	if row.FinishedAt.Valid {
		t := row.FinishedAt.Time
		exec.FinishedAt = &t
	}
	return exec, nil
}

func (s *PostgresStore) CreateExecution(ctx context.Context, exec *models.RollupExecution) error {
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

func (s *PostgresStore) UpdateExecution(ctx context.Context, exec *models.RollupExecution) error {
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

func (s *PostgresStore) GetExecution(ctx context.Context, tenantID models.Tenant, id uuid.UUID) (*models.RollupExecution, error) {
	var row executionRow
	query := `SELECT * FROM rollup_executions WHERE id = $1 AND tenant_id = $2`
	if err := s.db.GetContext(ctx, &row, query, id, string(tenantID)); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get execution: %w", err)
	}
	return executionFromRow(row)
}

func (s *PostgresStore) ListExecutions(ctx context.Context, tenantID models.Tenant, rollupID uuid.UUID, limit int) ([]*models.RollupExecution, error) {
	var rows []executionRow
	query := `
		SELECT * FROM rollup_executions
		WHERE tenant_id = $1 AND rollup_id = $2
		ORDER BY started_at DESC
		LIMIT $3
	`
	if err := s.db.SelectContext(ctx, &rows, query, string(tenantID), rollupID, limit); err != nil {
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

// mergedGraphRow is the wire shape for the merged_graphs table. There
// is one row per execution; saving again replaces that row's data.
type mergedGraphRow struct {
	ExecutionID uuid.UUID `db:"execution_id"`
	TenantID    string    `db:"tenant_id"`
	Data        []byte    `db:"data"`
}

type mergedGraphData struct {
	Nodes []models.MergedNode `json:"nodes"`
	Edges []models.Edge       `json:"edges"`
}

func (s *PostgresStore) SaveMergedGraph(ctx context.Context, tenantID models.Tenant, graph *models.MergedGraph) error {
	data, err := json.Marshal(mergedGraphData{Nodes: graph.Nodes, Edges: graph.Edges})
	if err != nil {
		return fmt.Errorf("marshal merged graph: %w", err)
	}
	row := mergedGraphRow{ExecutionID: graph.ExecutionID, TenantID: string(tenantID), Data: data}

	query := `
		INSERT INTO merged_graphs (execution_id, tenant_id, data)
		VALUES (:execution_id, :tenant_id, :data)
		ON CONFLICT (execution_id) DO UPDATE SET data = EXCLUDED.data
	`
	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("save merged graph: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetMergedGraph(ctx context.Context, tenantID models.Tenant, executionID uuid.UUID) (*models.MergedGraph, error) {
	var row mergedGraphRow
	query := `SELECT * FROM merged_graphs WHERE execution_id = $1 AND tenant_id = $2`
	if err := s.db.GetContext(ctx, &row, query, executionID, string(tenantID)); err != nil {
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

// indexEntryRow is the wire shape for the index_entries table.
type indexEntryRow struct {
	ID             string `db:"id"`
	TenantID       string `db:"tenant_id"`
	ScanID         string `db:"scan_id"`
	RepositoryID   string `db:"repository_id"`
	NodeID         string `db:"node_id"`
	CollectionHash string `db:"collection_hash"`
	References     []byte `db:"references"`
}

func rowFromIndexEntry(e models.IndexEntry) (indexEntryRow, error) {
	refs, err := json.Marshal(e.References)
	if err != nil {
		return indexEntryRow{}, fmt.Errorf("marshal index entry references: %w", err)
	}
	return indexEntryRow{
		ID:             e.ID,
		TenantID:       string(e.TenantID),
		ScanID:         e.ScanID,
		RepositoryID:   e.RepositoryID,
		NodeID:         e.NodeID,
		CollectionHash: e.CollectionHash,
		References:     refs,
	}, nil
}

func indexEntryFromRow(row indexEntryRow) (models.IndexEntry, error) {
	var refs []models.ExternalReference
	if err := json.Unmarshal(row.References, &refs); err != nil {
		return models.IndexEntry{}, fmt.Errorf("unmarshal index entry references: %w", err)
	}
	return models.IndexEntry{
		ID:             row.ID,
		TenantID:       models.Tenant(row.TenantID),
		ScanID:         row.ScanID,
		RepositoryID:   row.RepositoryID,
		NodeID:         row.NodeID,
		References:     refs,
		CollectionHash: row.CollectionHash,
	}, nil
}

// SaveIndexEntries upserts entries in a single transaction, the same
// batched-NamedExecContext-in-a-tx shape the teacher used for commits
// and files.
func (s *PostgresStore) SaveIndexEntries(ctx context.Context, entries []models.IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO index_entries (id, tenant_id, scan_id, repository_id, node_id, collection_hash, references)
		VALUES (:id, :tenant_id, :scan_id, :repository_id, :node_id, :collection_hash, :references)
		ON CONFLICT (id) DO UPDATE SET
			collection_hash = EXCLUDED.collection_hash,
			references = EXCLUDED.references
	`

	for _, entry := range entries {
		row, err := rowFromIndexEntry(entry)
		if err != nil {
			return err
		}
		if _, err := tx.NamedExecContext(ctx, query, row); err != nil {
			return fmt.Errorf("save index entry: %w", err)
		}
	}

	return tx.Commit()
}

func (s *PostgresStore) GetIndexEntriesByScan(ctx context.Context, tenantID models.Tenant, scanID string) ([]models.IndexEntry, error) {
	var rows []indexEntryRow
	query := `SELECT * FROM index_entries WHERE tenant_id = $1 AND scan_id = $2`
	if err := s.db.SelectContext(ctx, &rows, query, string(tenantID), scanID); err != nil {
		return nil, fmt.Errorf("get index entries by scan: %w", err)
	}

	entries := make([]models.IndexEntry, 0, len(rows))
	for _, row := range rows {
		entry, err := indexEntryFromRow(row)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// FindIndexEntriesByHash looks up index entries carrying a reference
// whose hash matches, via a jsonb containment query over the
// references column.
func (s *PostgresStore) FindIndexEntriesByHash(ctx context.Context, tenantID models.Tenant, hash string) ([]models.IndexEntry, error) {
	var rows []indexEntryRow
	query := `
		SELECT * FROM index_entries
		WHERE tenant_id = $1
		AND references @> $2::jsonb
	`
	containment, err := json.Marshal([]map[string]string{{"hash": hash}})
	if err != nil {
		return nil, fmt.Errorf("marshal hash containment filter: %w", err)
	}
	if err := s.db.SelectContext(ctx, &rows, query, string(tenantID), containment); err != nil {
		return nil, fmt.Errorf("find index entries by hash: %w", err)
	}

	entries := make([]models.IndexEntry, 0, len(rows))
	for _, row := range rows {
		entry, err := indexEntryFromRow(row)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
