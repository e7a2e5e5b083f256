package mergeengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rollupcore/rollup-core/internal/matchengine"
	"github.com/rollupcore/rollup-core/internal/models"
)

func TestMerge_CollapsesEquivalenceClassIntoOneNode(t *testing.T) {
	graphs := []models.RepoGraph{
		{ScanID: "scan-a", Nodes: []models.Node{{ID: "n1", Type: "bucket", Name: "shared"}}},
		{ScanID: "scan-b", Nodes: []models.Node{{ID: "n2", Type: "bucket", Name: "shared"}}},
	}
	classes := []matchengine.EquivalenceClass{{
		Members: []models.NodeRef{
			{ScanID: "scan-a", NodeID: "n1"},
			{ScanID: "scan-b", NodeID: "n2"},
		},
		Confidence: 0.9,
	}}

	result, err := Merge(Input{Graphs: graphs, Classes: classes, Options: models.MergeOptions{}})
	require.NoError(t, err)
	require.Len(t, result.Nodes, 1)
	assert.Equal(t, 2, result.Nodes[0].SourceCount)
}

func TestMerge_IsDeterministic(t *testing.T) {
	graphs := []models.RepoGraph{
		{ScanID: "scan-a", Nodes: []models.Node{{ID: "n1", Type: "bucket", Name: "shared"}, {ID: "n1x"}}, Edges: []models.Edge{{SourceID: "n1", TargetID: "n1x"}}},
		{ScanID: "scan-b", Nodes: []models.Node{{ID: "n2", Type: "bucket", Name: "shared"}}},
	}
	classes := []matchengine.EquivalenceClass{{
		Members: []models.NodeRef{
			{ScanID: "scan-a", NodeID: "n1"},
			{ScanID: "scan-b", NodeID: "n2"},
		},
		Confidence: 1.0,
	}}

	r1, err1 := Merge(Input{Graphs: graphs, Classes: classes})
	r2, err2 := Merge(Input{Graphs: graphs, Classes: classes})
	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, r1, r2)
}

// TestDetectCycles_FailsWhenCycleIncludesCrossRepoEdge exercises
// detectCycles directly: a cycle composed purely of pre-existing
// structural edges is fine (see
// TestMerge_PreservesIntraRepoCycleWithoutCrossRepoEdges), but the same
// shape closed by a synthesized cross-repo edge must still fail, per
// spec.md §4.5 step 5.
func TestDetectCycles_FailsWhenCycleIncludesCrossRepoEdge(t *testing.T) {
	nodes := []models.MergedNode{{CanonicalID: "a"}, {CanonicalID: "b"}}
	crossEdge := models.Edge{SourceID: "b", TargetID: "a", Type: CrossRepoIdentityEdgeType}
	edges := []models.Edge{
		{SourceID: "a", TargetID: "b", Type: "depends_on"},
		crossEdge,
	}
	crossRepoEdges := map[edgeKey]bool{keyOf(crossEdge): true}

	err := detectCycles(nodes, edges, crossRepoEdges, 100)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CYCLIC_DEPENDENCY")
}

// TestDetectCycles_ExceedsNodeBound covers the pathological-input guard:
// a chain deeper than maxNodes fails closed rather than recursing
// forever, independent of whether a true cycle exists.
func TestDetectCycles_ExceedsNodeBound(t *testing.T) {
	nodes := []models.MergedNode{{CanonicalID: "a"}, {CanonicalID: "b"}, {CanonicalID: "c"}, {CanonicalID: "d"}}
	edges := []models.Edge{
		{SourceID: "a", TargetID: "b", Type: "depends_on"},
		{SourceID: "b", TargetID: "c", Type: "depends_on"},
		{SourceID: "c", TargetID: "d", Type: "depends_on"},
	}

	err := detectCycles(nodes, edges, map[edgeKey]bool{}, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CYCLIC_DEPENDENCY")
}

func TestMerge_RejectsEdgeToMissingNode(t *testing.T) {
	graphs := []models.RepoGraph{
		{ScanID: "scan-a", Nodes: []models.Node{{ID: "a"}}, Edges: []models.Edge{
			{SourceID: "a", TargetID: "ghost", Type: "depends_on"},
		}},
	}

	_, err := Merge(Input{Graphs: graphs})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INVALID_EDGE")
}

func TestMerge_CreatesCrossRepoEdgeWhenRequested(t *testing.T) {
	graphs := []models.RepoGraph{
		{ScanID: "scan-a", RepositoryID: "repo1", Nodes: []models.Node{{ID: "a"}, {ID: "b"}}, Edges: []models.Edge{{SourceID: "a", TargetID: "b", Type: "uses"}}},
		{ScanID: "scan-b", RepositoryID: "repo2", Nodes: []models.Node{{ID: "x"}, {ID: "y"}}, Edges: []models.Edge{{SourceID: "x", TargetID: "y", Type: "uses"}}},
	}
	classes := []matchengine.EquivalenceClass{
		{Members: []models.NodeRef{{ScanID: "scan-a", NodeID: "a"}, {ScanID: "scan-b", NodeID: "x"}}, Confidence: 1.0},
		{Members: []models.NodeRef{{ScanID: "scan-a", NodeID: "b"}, {ScanID: "scan-b", NodeID: "y"}}, Confidence: 1.0},
	}

	result, err := Merge(Input{Graphs: graphs, Classes: classes, Options: models.MergeOptions{CreateCrossRepoEdges: true}})
	require.NoError(t, err)

	found := false
	for _, e := range result.Edges {
		if e.Type == CrossRepoIdentityEdgeType {
			found = true
		}
	}
	assert.True(t, found)
}

// TestMerge_CrossRepoARNMerge is spec.md's end-to-end scenario 1: two
// single-node, zero-edge scans matched by ARN into one merged node
// must still produce a cross-repo identity edge between the two
// original nodes, even though neither scan contributed any structural
// edge for buildMergedEdges to remap.
func TestMerge_CrossRepoARNMerge(t *testing.T) {
	graphs := []models.RepoGraph{
		{ScanID: "scan-a", RepositoryID: "repo1", Nodes: []models.Node{{ID: "n1"}}},
		{ScanID: "scan-b", RepositoryID: "repo2", Nodes: []models.Node{{ID: "n2"}}},
	}
	classes := []matchengine.EquivalenceClass{{
		Members: []models.NodeRef{
			{ScanID: "scan-a", NodeID: "n1"},
			{ScanID: "scan-b", NodeID: "n2"},
		},
		Confidence: 1.0,
	}}

	result, err := Merge(Input{Graphs: graphs, Classes: classes, Options: models.MergeOptions{CreateCrossRepoEdges: true}})
	require.NoError(t, err)

	require.Len(t, result.Nodes, 1)
	assert.Equal(t, 2, result.Nodes[0].SourceCount)

	require.Len(t, result.Edges, 1)
	assert.Equal(t, CrossRepoIdentityEdgeType, result.Edges[0].Type)
	assert.NotEqual(t, result.Edges[0].SourceID, result.Edges[0].TargetID)
}

// TestMerge_PreservesIntraRepoCycleWithoutCrossRepoEdges is spec.md
// §4.5 step 5: a cycle made entirely of pre-existing, single-repo
// edges must be preserved, not rejected, since none of its edges were
// newly synthesized as a cross-repo identity edge.
func TestMerge_PreservesIntraRepoCycleWithoutCrossRepoEdges(t *testing.T) {
	graphs := []models.RepoGraph{
		{ScanID: "scan-a", RepositoryID: "repo1", Nodes: []models.Node{{ID: "a"}, {ID: "b"}}, Edges: []models.Edge{
			{SourceID: "a", TargetID: "b", Type: "depends_on"},
			{SourceID: "b", TargetID: "a", Type: "depends_on"},
		}},
	}

	result, err := Merge(Input{Graphs: graphs, Options: models.MergeOptions{MaxNodes: 100}})
	require.NoError(t, err)
	require.Len(t, result.Edges, 2)
}
