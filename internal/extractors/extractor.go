// Package extractors turns a scan graph's nodes into typed external
// references: ARNs, Kubernetes object refs, container image
// coordinates, git URLs, storage paths, and generic resource ids. Every
// extractor is pure and non-throwing: a node that doesn't match a
// shape is skipped, never an error.
package extractors

import (
	"github.com/rollupcore/rollup-core/internal/models"
)

// Extractor pulls zero or more ExternalReference values out of a
// single node. Implementations must not mutate node and must dedupe
// their own output by (ReferenceType, NormalizedIdentifier).
type Extractor interface {
	Name() string
	Extract(node models.Node) []models.ExternalReference
}

// Registry runs every registered extractor over a node and merges
// their output, deduplicating across extractors too.
type Registry struct {
	extractors []Extractor
}

// NewRegistry builds a Registry with the default extractor set.
func NewRegistry() *Registry {
	return &Registry{
		extractors: []Extractor{
			ARNExtractor{},
			K8sRefExtractor{},
			ImageExtractor{},
			GitURLExtractor{},
			StoragePathExtractor{},
			GenericIDExtractor{},
		},
	}
}

// Register appends a custom extractor, letting callers extend the
// default set without forking the registry.
func (r *Registry) Register(e Extractor) {
	r.extractors = append(r.extractors, e)
}

// ExtractAll runs every extractor over node and returns the
// deduplicated union of their references.
func (r *Registry) ExtractAll(node models.Node) []models.ExternalReference {
	seen := make(map[string]struct{})
	var out []models.ExternalReference

	for _, e := range r.extractors {
		for _, ref := range e.Extract(node) {
			key := string(ref.ReferenceType) + ":" + ref.NormalizedIdentifier
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, ref)
		}
	}

	return out
}

// metadataStrings reads key from node.Metadata and flattens it to the
// strings it contains, whether the value is a scalar or a list.
func metadataStrings(node models.Node, key string) []string {
	v, ok := node.Metadata[key]
	if !ok {
		return nil
	}
	return v.Strings()
}
