package extractors

import (
	"strings"

	"github.com/rollupcore/rollup-core/internal/models"
)

// GenericIDExtractor picks up a node's "resource_id" or "id" metadata
// field whether or not other extractors also found references on the
// node, at a lower confidence than a typed match since the identifier
// space is not closed-form.
type GenericIDExtractor struct{}

func (GenericIDExtractor) Name() string { return "generic_resource_id" }

func (GenericIDExtractor) Extract(node models.Node) []models.ExternalReference {
	var candidates []string
	for _, key := range []string{"resource_id", "id"} {
		candidates = append(candidates, metadataStrings(node, key)...)
	}

	var out []models.ExternalReference
	seen := make(map[string]struct{})
	for _, id := range candidates {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		normalized := strings.ToLower(id)
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, models.NewExternalReference(models.ReferenceGenericID, id, normalized, 0.5))
	}
	return out
}
