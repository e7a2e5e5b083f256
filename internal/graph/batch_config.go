package graph

// BatchConfig defines batch sizes used when ingesting a scan graph into
// Neo4j via UNWIND. Every node the core ingests carries the same shape
// (ScanNode label, a handful of scalar properties), so unlike the
// teacher's per-label tuning this package only needs one size for nodes
// and one for edges.
type BatchConfig struct {
	NodeBatchSize int
	EdgeBatchSize int
}

// DefaultBatchConfig returns batch sizes suited to a medium scan
// (on the order of a few thousand resources).
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		NodeBatchSize: 1000,
		EdgeBatchSize: 5000,
	}
}

// SmallScanBatchConfig is for scans under a few hundred nodes.
func SmallScanBatchConfig() BatchConfig {
	return BatchConfig{
		NodeBatchSize: 200,
		EdgeBatchSize: 1000,
	}
}

// LargeScanBatchConfig is for scans over ten thousand nodes.
func LargeScanBatchConfig() BatchConfig {
	return BatchConfig{
		NodeBatchSize: 2000,
		EdgeBatchSize: 10000,
	}
}
