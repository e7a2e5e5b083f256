package extractors

import (
	"regexp"
	"strings"

	"github.com/rollupcore/rollup-core/internal/models"
)

// storagePathPattern matches "s3://bucket/key", "gs://bucket/key",
// and "azblob://container/key" style URIs.
var storagePathPattern = regexp.MustCompile(`^(s3|gs|azblob|abfss?)://[\w.\-]+(/.*)?$`)

// StoragePathExtractor finds object storage URIs under "bucket",
// "storage_path", and "path".
type StoragePathExtractor struct{}

func (StoragePathExtractor) Name() string { return "storage_path" }

func (StoragePathExtractor) Extract(node models.Node) []models.ExternalReference {
	var candidates []string
	for _, key := range []string{"bucket", "storage_path", "path"} {
		candidates = append(candidates, metadataStrings(node, key)...)
	}

	var out []models.ExternalReference
	seen := make(map[string]struct{})
	for _, path := range candidates {
		if !storagePathPattern.MatchString(path) {
			continue
		}
		normalized := strings.ToLower(strings.TrimSuffix(path, "/"))
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, models.NewExternalReference(models.ReferenceStoragePath, path, normalized, 0.9))
	}
	return out
}
