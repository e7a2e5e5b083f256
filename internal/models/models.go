// Package models holds the data model shared by every stage of the
// rollup pipeline: per-repository scan graphs, external references,
// rollup configuration, and the merged graph produced by an execution.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Tenant is an opaque tenant identifier. Every entity in this package is
// scoped by one, and every cache key and query must include it.
type Tenant string

// Provider identifies the VCS host a Repository was scanned from.
type Provider string

const (
	ProviderGitHub    Provider = "github"
	ProviderGitLab    Provider = "gitlab"
	ProviderBitbucket Provider = "bitbucket"
)

// Repository is an opaque repository identifier plus its provider.
// The core never fetches source itself; it only receives scan graphs.
type Repository struct {
	ID       string   `json:"id" db:"id"`
	Provider Provider `json:"provider" db:"provider"`
}

// Scan represents one parse of one repository at a point in time.
type Scan struct {
	ID              string    `json:"id" db:"id"`
	TenantID        Tenant    `json:"tenant_id" db:"tenant_id"`
	RepositoryID    string    `json:"repository_id" db:"repository_id"`
	CompletedAt     time.Time `json:"completed_at" db:"completed_at"`
	ProducerVersion string    `json:"producer_version" db:"producer_version"`
}

// Location points at the source range a Node was extracted from.
type Location struct {
	File      string `json:"file"`
	LineStart int    `json:"line_start"`
	LineEnd   int    `json:"line_end"`
}

// Node is one vertex of a per-repository scan graph. ID is unique
// within its scan; Type is drawn from a closed vocabulary the core
// treats opaquely except to gate which extractors apply.
type Node struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Name     string           `json:"name"`
	Metadata map[string]Value `json:"metadata"`
	Location Location         `json:"location"`
}

// Edge is a directed relation between two nodes within a single scan's
// graph. Type classifies the relation (contains, depends_on,
// operates_on, ...); the core preserves it opaquely through merge.
type Edge struct {
	SourceID   string           `json:"source_id"`
	TargetID   string           `json:"target_id"`
	Type       string           `json:"type"`
	Confidence int              `json:"confidence"` // 0..100
	Metadata   map[string]Value `json:"metadata,omitempty"`
}

// RepoGraph is the per-repository graph result the core receives from
// a GraphProvider for one scan.
type RepoGraph struct {
	ScanID       string
	RepositoryID string
	Nodes        []Node
	Edges        []Edge
}

// NodeRef identifies a node within a specific scan, the key the match
// engine's union-find operates over.
type NodeRef struct {
	ScanID string `json:"scan_id"`
	NodeID string `json:"node_id"`
}

// RiskLevel buckets a blast-radius result.
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "low"
	RiskLevelMedium   RiskLevel = "medium"
	RiskLevelHigh     RiskLevel = "high"
	RiskLevelCritical RiskLevel = "critical"
)

// ExecutionPhase is a state in the Rollup Executor's state machine.
type ExecutionPhase string

const (
	PhaseQueued    ExecutionPhase = "queued"
	PhaseFetching  ExecutionPhase = "fetching"
	PhaseMatching  ExecutionPhase = "matching"
	PhaseMerging   ExecutionPhase = "merging"
	PhaseStoring   ExecutionPhase = "storing"
	PhaseCompleted ExecutionPhase = "completed"
	PhaseFailed    ExecutionPhase = "failed"
	PhaseCancelled ExecutionPhase = "cancelled"
)

// ConflictResolution governs how the merge engine reconciles attribute
// disagreements between representatives of the same equivalence class.
type ConflictResolution string

const (
	ConflictPreferHighestConfidence ConflictResolution = "prefer_highest_confidence"
	ConflictPreferFirstRepo         ConflictResolution = "prefer_first_repo"
	ConflictUnion                   ConflictResolution = "union"
	ConflictError                   ConflictResolution = "error"
)

// EdgeTypePreservation controls which source edge types survive merge.
type EdgeTypePreservation string

const (
	EdgeTypePreserveAll      EdgeTypePreservation = "all"
	EdgeTypePreserveNamedSet EdgeTypePreservation = "named-set"
)

// MergeOptions parameterizes the merge engine for a rollup.
type MergeOptions struct {
	ConflictResolution   ConflictResolution   `json:"conflict_resolution"`
	PreserveSourceInfo   bool                 `json:"preserve_source_info"`
	CreateCrossRepoEdges bool                 `json:"create_cross_repo_edges"`
	MaxNodes             int                  `json:"max_nodes"`
	EdgeTypePreservation EdgeTypePreservation `json:"edge_type_preservation"`
	NamedEdgeTypes       []string             `json:"named_edge_types,omitempty"`
}

// MatcherType names a matcher strategy. Concrete strategies are
// registered by this string in the matchers registry.
type MatcherType string

const (
	MatcherARN        MatcherType = "arn"
	MatcherResourceID MatcherType = "resource_id"
	MatcherName       MatcherType = "name"
	MatcherTag        MatcherType = "tag"
	MatcherPath       MatcherType = "path"
	MatcherContent    MatcherType = "content"
	MatcherAST        MatcherType = "ast"
	MatcherSemantic   MatcherType = "semantic"
)

// MatcherConfig configures one matcher strategy within a rollup.
type MatcherConfig struct {
	Type          MatcherType       `json:"type"`
	Priority      int               `json:"priority"` // 1..100, higher wins ties
	Pattern       string            `json:"pattern,omitempty"`
	Attributes    map[string]string `json:"attributes,omitempty"`
	MinConfidence float64           `json:"min_confidence"` // 0..1
}

// RollupStatus is the lifecycle state of a RollupConfig.
type RollupStatus string

const (
	RollupStatusActive   RollupStatus = "active"
	RollupStatusArchived RollupStatus = "archived"
)

// RollupConfig is a tenant-scoped description of a cross-repository
// aggregation: which repositories, which matchers, and how to merge.
type RollupConfig struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	TenantID      Tenant          `json:"tenant_id" db:"tenant_id"`
	Name          string          `json:"name" db:"name"`
	RepositoryIDs []string        `json:"repository_ids"`
	Matchers      []MatcherConfig `json:"matchers"`
	MergeOptions  MergeOptions    `json:"merge_options"`
	Schedule      string          `json:"schedule,omitempty" db:"schedule"`
	Status        RollupStatus    `json:"status" db:"status"`
	Version       int             `json:"version" db:"version"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// RollupExecutionStats summarizes one execution's outcome.
type RollupExecutionStats struct {
	RepositoriesFetched int           `json:"repositories_fetched"`
	NodesMatched        int           `json:"nodes_matched"`
	EquivalenceClasses  int           `json:"equivalence_classes"`
	MergedNodes         int           `json:"merged_nodes"`
	MergedEdges         int           `json:"merged_edges"`
	CrossRepoEdges      int           `json:"cross_repo_edges"`
	AmbiguousMatches    int           `json:"ambiguous_matches"`
	Duration            time.Duration `json:"duration"`
}

// RollupExecution is one run of the pipeline for a given set of scans.
type RollupExecution struct {
	ID         uuid.UUID            `json:"id" db:"id"`
	RollupID   uuid.UUID            `json:"rollup_id" db:"rollup_id"`
	TenantID   Tenant               `json:"tenant_id" db:"tenant_id"`
	ScanIDs    []string             `json:"scan_ids"`
	Phase      ExecutionPhase       `json:"phase" db:"phase"`
	Stats      RollupExecutionStats `json:"stats"`
	Error      *ExecutionError      `json:"error,omitempty"`
	StartedAt  time.Time            `json:"started_at" db:"started_at"`
	FinishedAt *time.Time           `json:"finished_at,omitempty" db:"finished_at"`
}

// ExecutionError is the terminal error recorded on a failed execution.
type ExecutionError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Phase   string `json:"phase"`
}

// Representative is one source node backing a MergedNode.
type Representative struct {
	ScanID     string  `json:"scan_id"`
	NodeID     string  `json:"node_id"`
	Confidence float64 `json:"confidence"`
}

// MergedNode is the canonical node representing an equivalence class.
type MergedNode struct {
	CanonicalID     string           `json:"canonical_id"`
	Representatives []Representative `json:"representatives"`
	Type            string           `json:"type"`
	Name            string           `json:"name"`
	MergedMetadata  map[string]Value `json:"merged_metadata"`
	SourceCount     int              `json:"source_count"`
}

// MergedGraph is the immutable output of one execution's merge phase.
type MergedGraph struct {
	ExecutionID uuid.UUID    `json:"execution_id"`
	Nodes       []MergedNode `json:"nodes"`
	Edges       []Edge       `json:"edges"`
}
