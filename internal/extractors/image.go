package extractors

import (
	"regexp"
	"strings"

	"github.com/rollupcore/rollup-core/internal/models"
)

// imagePattern loosely matches "[registry/]repository[:tag][@digest]".
var imagePattern = regexp.MustCompile(`^([a-zA-Z0-9.\-]+(?::[0-9]+)?/)?[a-z0-9._\-/]+(?::[\w.\-]+)?(?:@sha256:[a-f0-9]{64})?$`)

// ImageExtractor finds container image coordinates under the "image"
// and "images" metadata keys.
type ImageExtractor struct{}

func (ImageExtractor) Name() string { return "container_image" }

func (ImageExtractor) Extract(node models.Node) []models.ExternalReference {
	candidates := append(metadataStrings(node, "image"), metadataStrings(node, "images")...)

	var out []models.ExternalReference
	seen := make(map[string]struct{})
	for _, img := range candidates {
		if img == "" || !strings.Contains(img, "/") && !strings.Contains(img, ":") {
			continue
		}
		if !imagePattern.MatchString(img) {
			continue
		}
		normalized := NormalizeImage(img)
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, models.NewExternalReference(models.ReferenceImage, img, normalized, 0.9))
	}
	return out
}

// NormalizeImage strips a digest pin and defaults a missing tag to
// "latest", so "nginx" and "nginx:latest" and
// "nginx@sha256:abc..." (same tag) all normalize to the same identity
// when they share a tag, while still distinguishing tags.
func NormalizeImage(image string) string {
	if idx := strings.Index(image, "@"); idx != -1 {
		image = image[:idx]
	}
	if !strings.Contains(lastSegment(image), ":") {
		image = image + ":latest"
	}
	return strings.ToLower(image)
}

func lastSegment(image string) string {
	idx := strings.LastIndex(image, "/")
	if idx == -1 {
		return image
	}
	return image[idx+1:]
}
