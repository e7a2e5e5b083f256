package graph

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/rollupcore/rollup-core/internal/models"
)

// Ingestor writes one repository's scan graph into Neo4j as ScanNode
// vertices and EDGE relationships, batched through UNWIND the same way
// the rest of this package batches writes. It is the write-side
// counterpart to Client.FetchRepoGraph: a scan producer (or a test
// fixture) calls IngestRepoGraph once per scan, and every later read
// goes through the Client's read path.
type Ingestor struct {
	driver   neo4j.DriverWithContext
	database string
	batch    BatchConfig
}

// NewIngestor creates an Ingestor against an existing driver, reusing
// the same connection pool a Client would use for reads.
func NewIngestor(driver neo4j.DriverWithContext, database string, batch BatchConfig) *Ingestor {
	return &Ingestor{driver: driver, database: database, batch: batch}
}

type nodeRow struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Name        string `json:"name"`
	MetadataRaw string `json:"metadata_json"`
	File        string `json:"location_file"`
	LineStart   int    `json:"location_line_start"`
	LineEnd     int    `json:"location_line_end"`
}

type edgeRow struct {
	SourceID   string `json:"source_id"`
	TargetID   string `json:"target_id"`
	Type       string `json:"type"`
	Confidence int    `json:"confidence"`
}

// IngestRepoGraph merges every node and edge in graph into Neo4j under
// the given tenant, repository, and scan. Merging is keyed on
// (tenant_id, scan_id, node_id), so re-ingesting the same scan is safe.
func (in *Ingestor) IngestRepoGraph(ctx context.Context, tenantID models.Tenant, repositoryID string, graph models.RepoGraph) error {
	txConfig := GetConfigForOperation("graph_ingest")

	session := in.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: in.database})
	defer session.Close(ctx)

	for _, chunk := range chunkNodes(graph.Nodes, in.batch.NodeBatchSize) {
		rows, err := nodeRows(chunk)
		if err != nil {
			return fmt.Errorf("encode node batch: %w", err)
		}
		_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			_, err := tx.Run(ctx, mergeNodesQuery, map[string]any{
				"tenant_id":     string(tenantID),
				"repository_id": repositoryID,
				"scan_id":       graph.ScanID,
				"nodes":         rows,
			})
			return nil, err
		}, txConfig.AsNeo4jConfig()...)
		if err != nil {
			return fmt.Errorf("ingest node batch: %w", err)
		}
	}

	for _, chunk := range chunkEdges(graph.Edges, in.batch.EdgeBatchSize) {
		rows := edgeRows(chunk)
		_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			_, err := tx.Run(ctx, mergeEdgesQuery, map[string]any{
				"tenant_id": string(tenantID),
				"scan_id":   graph.ScanID,
				"edges":     rows,
			})
			return nil, err
		}, txConfig.AsNeo4jConfig()...)
		if err != nil {
			return fmt.Errorf("ingest edge batch: %w", err)
		}
	}

	return nil
}

const mergeNodesQuery = `
UNWIND $nodes AS node
MERGE (n:ScanNode {tenant_id: $tenant_id, scan_id: $scan_id, node_id: node.id})
SET n.repository_id = $repository_id,
    n.type = node.type,
    n.name = node.name,
    n.metadata_json = node.metadata_json,
    n.location_file = node.location_file,
    n.location_line_start = node.location_line_start,
    n.location_line_end = node.location_line_end,
    n.ingested_at = datetime()
`

const mergeEdgesQuery = `
UNWIND $edges AS edge
MATCH (from:ScanNode {tenant_id: $tenant_id, scan_id: $scan_id, node_id: edge.source_id})
MATCH (to:ScanNode {tenant_id: $tenant_id, scan_id: $scan_id, node_id: edge.target_id})
MERGE (from)-[r:EDGE {type: edge.type}]->(to)
SET r.confidence = edge.confidence
`

func nodeRows(nodes []models.Node) ([]map[string]any, error) {
	rows := make([]map[string]any, 0, len(nodes))
	for _, n := range nodes {
		metadataJSON := ""
		if len(n.Metadata) > 0 {
			raw, err := json.Marshal(n.Metadata)
			if err != nil {
				return nil, fmt.Errorf("encode metadata for node %s: %w", n.ID, err)
			}
			metadataJSON = string(raw)
		}
		rows = append(rows, map[string]any{
			"id":                  n.ID,
			"type":                n.Type,
			"name":                n.Name,
			"metadata_json":       metadataJSON,
			"location_file":       n.Location.File,
			"location_line_start": n.Location.LineStart,
			"location_line_end":   n.Location.LineEnd,
		})
	}
	return rows, nil
}

func edgeRows(edges []models.Edge) []map[string]any {
	rows := make([]map[string]any, 0, len(edges))
	for _, e := range edges {
		rows = append(rows, map[string]any{
			"source_id":  e.SourceID,
			"target_id":  e.TargetID,
			"type":       e.Type,
			"confidence": e.Confidence,
		})
	}
	return rows
}

func chunkNodes(nodes []models.Node, size int) [][]models.Node {
	if size <= 0 {
		size = len(nodes)
	}
	var chunks [][]models.Node
	for i := 0; i < len(nodes); i += size {
		end := i + size
		if end > len(nodes) {
			end = len(nodes)
		}
		chunks = append(chunks, nodes[i:end])
	}
	return chunks
}

func chunkEdges(edges []models.Edge, size int) [][]models.Edge {
	if size <= 0 {
		size = len(edges)
	}
	var chunks [][]models.Edge
	for i := 0; i < len(edges); i += size {
		end := i + size
		if end > len(edges) {
			end = len(edges)
		}
		chunks = append(chunks, edges[i:end])
	}
	return chunks
}
