package graph

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rollupcore/rollup-core/internal/models"
)

func TestChunkNodes(t *testing.T) {
	nodes := make([]models.Node, 5)
	for i := range nodes {
		nodes[i] = models.Node{ID: string(rune('a' + i))}
	}

	chunks := chunkNodes(nodes, 2)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 2)
	assert.Len(t, chunks[1], 2)
	assert.Len(t, chunks[2], 1)
}

func TestChunkNodes_SizeZeroIsSingleChunk(t *testing.T) {
	nodes := make([]models.Node, 3)
	chunks := chunkNodes(nodes, 0)
	require.Len(t, chunks, 1)
	assert.Len(t, chunks[0], 3)
}

func TestChunkEdges(t *testing.T) {
	edges := make([]models.Edge, 7)
	chunks := chunkEdges(edges, 3)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 3)
	assert.Len(t, chunks[2], 1)
}

func TestNodeRows_EncodesMetadataAsJSON(t *testing.T) {
	nodes := []models.Node{
		{
			ID:       "n1",
			Type:     "s3_bucket",
			Name:     "data",
			Metadata: map[string]models.Value{"region": models.StringValue("us-east-1")},
			Location: models.Location{File: "main.tf", LineStart: 1, LineEnd: 3},
		},
		{ID: "n2", Type: "iam_role", Name: "role"},
	}

	rows, err := nodeRows(nodes)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "n1", rows[0]["id"])
	assert.Equal(t, "main.tf", rows[0]["location_file"])
	assert.NotEmpty(t, rows[0]["metadata_json"])

	var decoded map[string]models.Value
	require.NoError(t, json.Unmarshal([]byte(rows[0]["metadata_json"].(string)), &decoded))
	region, ok := decoded["region"].AsString()
	require.True(t, ok)
	assert.Equal(t, "us-east-1", region)

	assert.Equal(t, "", rows[1]["metadata_json"])
}

func TestEdgeRows(t *testing.T) {
	edges := []models.Edge{{SourceID: "a", TargetID: "b", Type: "depends_on", Confidence: 75}}
	rows := edgeRows(edges)
	require.Len(t, rows, 1)
	assert.Equal(t, "a", rows[0]["source_id"])
	assert.Equal(t, "b", rows[0]["target_id"])
	assert.Equal(t, 75, rows[0]["confidence"])
}
