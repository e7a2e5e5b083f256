package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/rollupcore/rollup-core/internal/models"
)

// Client wraps the Neo4j driver with error handling and the read path
// an executor.GraphProvider needs: fetching one repository's latest
// scan graph. Every node and edge this package writes or reads carries
// a tenant_id property, so a single shared Neo4j database can serve
// every tenant without leaking rows across them.
type Client struct {
	driver   neo4j.DriverWithContext
	logger   *slog.Logger
	database string
}

// NewClient creates a Neo4j client from environment-supplied credentials.
func NewClient(ctx context.Context, uri, user, password string) (*Client, error) {
	return NewClientWithDatabase(ctx, uri, user, password, "neo4j")
}

// NewClientWithDatabase creates a Neo4j client with a specific database.
func NewClientWithDatabase(ctx context.Context, uri, user, password, database string) (*Client, error) {
	if uri == "" || user == "" || password == "" {
		return nil, fmt.Errorf("neo4j credentials missing: uri=%s, user=%s", uri, user)
	}

	driver, err := neo4j.NewDriverWithContext(uri,
		neo4j.BasicAuth(user, password, ""),
		func(config *neo4j.Config) {
			config.MaxConnectionPoolSize = 50
			config.ConnectionAcquisitionTimeout = 60 * time.Second
			config.MaxConnectionLifetime = 3600 * time.Second
			config.ConnectionLivenessCheckTimeout = 5 * time.Second
			config.SocketConnectTimeout = 5 * time.Second
			config.SocketKeepalive = true
		})
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("failed to connect to neo4j at %s: %w", uri, err)
	}

	logger := slog.Default().With("component", "neo4j")
	logger.Info("neo4j client connected", "uri", uri, "user", user, "database", database, "max_pool_size", 50)

	return &Client{driver: driver, logger: logger, database: database}, nil
}

// Close closes the Neo4j driver connection.
func (c *Client) Close(ctx context.Context) error {
	if err := c.driver.Close(ctx); err != nil {
		return fmt.Errorf("failed to close neo4j driver: %w", err)
	}
	c.logger.Info("neo4j client closed")
	return nil
}

// HealthCheck verifies Neo4j connectivity.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := c.driver.VerifyConnectivity(ctx); err != nil {
		return fmt.Errorf("neo4j health check failed: %w", err)
	}
	return nil
}

// FetchRepoGraph satisfies executor.GraphProvider: it loads the most
// recently ingested scan for (tenantID, repositoryID) and returns its
// nodes and edges. Nodes and edges are tagged with scan_id at ingest
// time, so this is a single pair of read queries scoped to the latest
// scan_id found for the repository.
func (c *Client) FetchRepoGraph(ctx context.Context, tenantID models.Tenant, repositoryID string) (models.RepoGraph, error) {
	queryCtx := ctx
	txConfig := GetConfigForOperation("graph_fetch")
	if txConfig.Timeout > 0 {
		var cancel context.CancelFunc
		queryCtx, cancel = context.WithTimeout(ctx, txConfig.Timeout)
		defer cancel()
	}

	scanID, err := c.latestScanID(queryCtx, tenantID, repositoryID)
	if err != nil {
		return models.RepoGraph{}, err
	}
	if scanID == "" {
		return models.RepoGraph{}, fmt.Errorf("no scan found for tenant %s repository %s", tenantID, repositoryID)
	}

	nodes, err := c.fetchNodes(queryCtx, tenantID, scanID)
	if err != nil {
		return models.RepoGraph{}, err
	}
	edges, err := c.fetchEdges(queryCtx, tenantID, scanID)
	if err != nil {
		return models.RepoGraph{}, err
	}

	return models.RepoGraph{ScanID: scanID, RepositoryID: repositoryID, Nodes: nodes, Edges: edges}, nil
}

func (c *Client) latestScanID(ctx context.Context, tenantID models.Tenant, repositoryID string) (string, error) {
	query := `
		MATCH (n:ScanNode {tenant_id: $tenant_id, repository_id: $repository_id})
		RETURN n.scan_id AS scan_id
		ORDER BY n.ingested_at DESC
		LIMIT 1
	`
	result, err := neo4j.ExecuteQuery(ctx, c.driver, query,
		map[string]any{"tenant_id": string(tenantID), "repository_id": repositoryID},
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(c.database),
		neo4j.ExecuteQueryWithReadersRouting())
	if err != nil {
		return "", fmt.Errorf("latest scan lookup failed for %s/%s: %w", tenantID, repositoryID, err)
	}
	if len(result.Records) == 0 {
		return "", nil
	}
	scanID, _ := result.Records[0].Get("scan_id")
	s, _ := scanID.(string)
	return s, nil
}

func (c *Client) fetchNodes(ctx context.Context, tenantID models.Tenant, scanID string) ([]models.Node, error) {
	query := `
		MATCH (n:ScanNode {tenant_id: $tenant_id, scan_id: $scan_id})
		RETURN n.node_id AS id, n.type AS type, n.name AS name,
		       n.metadata_json AS metadata_json,
		       n.location_file AS location_file, n.location_line_start AS location_line_start,
		       n.location_line_end AS location_line_end
	`
	result, err := neo4j.ExecuteQuery(ctx, c.driver, query,
		map[string]any{"tenant_id": string(tenantID), "scan_id": scanID},
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(c.database),
		neo4j.ExecuteQueryWithReadersRouting())
	if err != nil {
		return nil, fmt.Errorf("fetch nodes failed for scan %s: %w", scanID, err)
	}

	nodes := make([]models.Node, 0, len(result.Records))
	for _, rec := range result.Records {
		node, err := nodeFromRecord(rec)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

// nodeFromRecord converts one ScanNode row into a models.Node. metadata_json
// is stored as a JSON-encoded string property because Neo4j node properties
// can't hold arbitrary nested maps; every other field is a flat property.
func nodeFromRecord(rec *neo4j.Record) (models.Node, error) {
	id, _ := rec.Get("id")
	typ, _ := rec.Get("type")
	name, _ := rec.Get("name")

	node := models.Node{
		ID:   fmt.Sprintf("%v", id),
		Type: fmt.Sprintf("%v", typ),
		Name: fmt.Sprintf("%v", name),
	}

	if raw, ok := rec.Get("metadata_json"); ok && raw != nil {
		if s, ok := raw.(string); ok && s != "" {
			metadata := make(map[string]models.Value)
			if err := json.Unmarshal([]byte(s), &metadata); err != nil {
				return models.Node{}, fmt.Errorf("decode metadata for node %s: %w", node.ID, err)
			}
			node.Metadata = metadata
		}
	}

	if file, ok := rec.Get("location_file"); ok && file != nil {
		node.Location.File = fmt.Sprintf("%v", file)
	}
	if start, ok := rec.Get("location_line_start"); ok {
		if v, ok := start.(int64); ok {
			node.Location.LineStart = int(v)
		}
	}
	if end, ok := rec.Get("location_line_end"); ok {
		if v, ok := end.(int64); ok {
			node.Location.LineEnd = int(v)
		}
	}

	return node, nil
}

func (c *Client) fetchEdges(ctx context.Context, tenantID models.Tenant, scanID string) ([]models.Edge, error) {
	query := `
		MATCH (from:ScanNode {tenant_id: $tenant_id, scan_id: $scan_id})-[r:EDGE]->(to:ScanNode {tenant_id: $tenant_id, scan_id: $scan_id})
		RETURN from.node_id AS source_id, to.node_id AS target_id, r.type AS type, r.confidence AS confidence
	`
	result, err := neo4j.ExecuteQuery(ctx, c.driver, query,
		map[string]any{"tenant_id": string(tenantID), "scan_id": scanID},
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(c.database),
		neo4j.ExecuteQueryWithReadersRouting())
	if err != nil {
		return nil, fmt.Errorf("fetch edges failed for scan %s: %w", scanID, err)
	}

	edges := make([]models.Edge, 0, len(result.Records))
	for _, rec := range result.Records {
		sourceID, _ := rec.Get("source_id")
		targetID, _ := rec.Get("target_id")
		edgeType, _ := rec.Get("type")
		confidence, _ := rec.Get("confidence")

		edge := models.Edge{
			SourceID: fmt.Sprintf("%v", sourceID),
			TargetID: fmt.Sprintf("%v", targetID),
			Type:     fmt.Sprintf("%v", edgeType),
		}
		if c64, ok := confidence.(int64); ok {
			edge.Confidence = int(c64)
		}
		edges = append(edges, edge)
	}
	return edges, nil
}

// UpsertNode merges a single ScanNode outside the batch ingest path,
// via CypherBuilder so the query stays fully parameterized. Used for
// one-off repairs and by tests that want to seed a handful of nodes
// without constructing a full models.RepoGraph.
func (c *Client) UpsertNode(ctx context.Context, tenantID models.Tenant, scanID, repositoryID string, node models.Node) error {
	metadataJSON := ""
	if len(node.Metadata) > 0 {
		raw, err := json.Marshal(node.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata for node %s: %w", node.ID, err)
		}
		metadataJSON = string(raw)
	}

	builder := NewCypherBuilder()
	query, err := builder.BuildMergeNode("ScanNode", "node_id", node.ID, map[string]any{
		"tenant_id":           string(tenantID),
		"scan_id":             scanID,
		"repository_id":       repositoryID,
		"type":                node.Type,
		"name":                node.Name,
		"metadata_json":       metadataJSON,
		"location_file":       node.Location.File,
		"location_line_start": node.Location.LineStart,
		"location_line_end":   node.Location.LineEnd,
	})
	if err != nil {
		return fmt.Errorf("build upsert query for node %s: %w", node.ID, err)
	}

	_, err = neo4j.ExecuteQuery(ctx, c.driver, query, builder.Params(),
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(c.database))
	if err != nil {
		return fmt.Errorf("upsert node %s: %w", node.ID, err)
	}
	return nil
}

// UpsertEdge merges a single EDGE relationship between two already
// ingested ScanNodes, via CypherBuilder. node_id is only unique within
// a scan, so this is safe only when the two endpoints are known to
// belong to the given scan; IngestRepoGraph's batch path matches on
// tenant_id and scan_id as well and should be preferred outside tests.
func (c *Client) UpsertEdge(ctx context.Context, edge models.Edge) error {
	builder := NewCypherBuilder()
	query, err := builder.BuildMergeEdge(
		"ScanNode", "node_id", edge.SourceID,
		"ScanNode", "node_id", edge.TargetID,
		"EDGE",
		map[string]any{"type": edge.Type, "confidence": edge.Confidence},
	)
	if err != nil {
		return fmt.Errorf("build upsert query for edge %s->%s: %w", edge.SourceID, edge.TargetID, err)
	}

	_, err = neo4j.ExecuteQuery(ctx, c.driver, query, builder.Params(),
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(c.database))
	if err != nil {
		return fmt.Errorf("upsert edge %s->%s: %w", edge.SourceID, edge.TargetID, err)
	}
	return nil
}

// ExecuteQuery runs a generic Cypher query with parameters. Used by
// callers that need ad hoc read access beyond FetchRepoGraph.
func (c *Client) ExecuteQuery(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	result, err := neo4j.ExecuteQuery(ctx, c.driver, query, params,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithReadersRouting())
	if err != nil {
		return nil, fmt.Errorf("query execution failed: %w", err)
	}

	records := make([]map[string]any, 0, len(result.Records))
	for _, record := range result.Records {
		records = append(records, record.AsMap())
	}
	c.logger.Debug("query executed", "record_count", len(records))
	return records, nil
}

// Driver returns the underlying Neo4j driver, for advanced operations
// like the batch ingest path in neo4j_backend.go.
func (c *Client) Driver() neo4j.DriverWithContext {
	return c.driver
}

// Database returns the configured database name.
func (c *Client) Database() string {
	return c.database
}
