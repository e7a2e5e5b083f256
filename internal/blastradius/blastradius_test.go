package blastradius

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rollupcore/rollup-core/internal/models"
)

func chainGraph(n int) *models.MergedGraph {
	g := &models.MergedGraph{}
	for i := 0; i < n; i++ {
		g.Nodes = append(g.Nodes, models.MergedNode{CanonicalID: idOf(i)})
		if i > 0 {
			g.Edges = append(g.Edges, models.Edge{SourceID: idOf(i - 1), TargetID: idOf(i), Type: "depends_on"})
		}
	}
	return g
}

func idOf(i int) string {
	return string(rune('a' + i))
}

func TestCompute_DirectVsIndirect(t *testing.T) {
	g := chainGraph(4) // a -> b -> c -> d
	result := Compute(g, []string{"a"}, Options{MaxDepth: 10, MaxNodes: 100})

	require.Len(t, result.Affected, 3)
	assert.Equal(t, ImpactDirect, result.Affected[0].Impact)
	assert.Equal(t, "b", result.Affected[0].CanonicalID)
	assert.Equal(t, ImpactIndirect, result.Affected[1].Impact)
}

func TestCompute_TruncatesAtMaxDepth(t *testing.T) {
	g := chainGraph(10)
	result := Compute(g, []string{"a"}, Options{MaxDepth: 2, MaxNodes: 100})

	assert.True(t, result.Truncated)
	assert.Len(t, result.Affected, 2)
}

func TestCompute_DeterministicOrdering(t *testing.T) {
	g := &models.MergedGraph{
		Nodes: []models.MergedNode{{CanonicalID: "a"}, {CanonicalID: "b"}, {CanonicalID: "c"}},
		Edges: []models.Edge{
			{SourceID: "a", TargetID: "c", Type: "uses"},
			{SourceID: "a", TargetID: "b", Type: "uses"},
		},
	}
	r1 := Compute(g, []string{"a"}, Options{MaxDepth: 5, MaxNodes: 100})
	r2 := Compute(g, []string{"a"}, Options{MaxDepth: 5, MaxNodes: 100})
	assert.Equal(t, r1, r2)
	assert.Equal(t, "b", r1.Affected[0].CanonicalID)
}

func TestCompute_RiskLevelClassification(t *testing.T) {
	g := chainGraph(3)
	thresholds := RiskThresholds{Medium: 0.1, High: 0.5, Critical: 0.9}
	result := Compute(g, []string{"a"}, Options{MaxDepth: 10, MaxNodes: 100, Thresholds: thresholds})
	assert.NotEqual(t, models.RiskLevel(""), result.RiskLevel)
}
