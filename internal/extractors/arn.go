package extractors

import (
	"regexp"
	"strings"

	"github.com/rollupcore/rollup-core/internal/models"
)

// arnPattern matches an AWS ARN: arn:partition:service:region:account:resource
var arnPattern = regexp.MustCompile(`^arn:[\w-]*:[\w-]*:[\w-]*:[0-9]*:.+$`)

// ARNExtractor finds AWS ARNs in a node's metadata under "arn" and
// "arns", plus any string-valued attribute that looks like one.
type ARNExtractor struct{}

func (ARNExtractor) Name() string { return "arn" }

func (ARNExtractor) Extract(node models.Node) []models.ExternalReference {
	candidates := make([]string, 0, 4)
	candidates = append(candidates, metadataStrings(node, "arn")...)
	candidates = append(candidates, metadataStrings(node, "arns")...)

	for key, v := range node.Metadata {
		if key == "arn" || key == "arns" {
			continue
		}
		for _, s := range v.Strings() {
			if arnPattern.MatchString(s) {
				candidates = append(candidates, s)
			}
		}
	}

	var out []models.ExternalReference
	seen := make(map[string]struct{})
	for _, arn := range candidates {
		if !arnPattern.MatchString(arn) {
			continue
		}
		normalized := NormalizeARN(arn)
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, models.NewExternalReference(models.ReferenceARN, arn, normalized, 1.0))
	}
	return out
}

// NormalizeARN lowercases the arn except for the resource path
// segment, which is case-sensitive in AWS (e.g. an S3 key or IAM role
// name). The resource segment is kept as given, so a trailing version
// suffix such as ":1" on a Lambda ARN is not trimmed.
func NormalizeARN(arn string) string {
	parts := strings.SplitN(arn, ":", 6)
	if len(parts) < 6 {
		return strings.ToLower(arn)
	}
	for i := 0; i < 5; i++ {
		parts[i] = strings.ToLower(parts[i])
	}
	return strings.Join(parts, ":")
}
