package matchers

import (
	"strings"

	"github.com/rollupcore/rollup-core/internal/models"
)

// ARNMatcher matches two references by exact normalized ARN equality.
type ARNMatcher struct{}

func (ARNMatcher) Type() models.MatcherType { return models.MatcherARN }

func (ARNMatcher) Match(a, b models.ExternalReference) Outcome {
	if a.ReferenceType != models.ReferenceARN || b.ReferenceType != models.ReferenceARN {
		return Outcome{}
	}
	if a.NormalizedIdentifier == b.NormalizedIdentifier {
		return Outcome{Matched: true, Confidence: 1.0, Reason: "exact arn match"}
	}
	return Outcome{}
}

// ResourceIDMatcher matches any two references of the same type whose
// normalized identifiers are exactly equal. It is the general-purpose
// fallback underlying k8s_ref, container_image, storage_path, git_url
// and generic_resource_id equality.
type ResourceIDMatcher struct{}

func (ResourceIDMatcher) Type() models.MatcherType { return models.MatcherResourceID }

func (ResourceIDMatcher) Match(a, b models.ExternalReference) Outcome {
	if a.ReferenceType != b.ReferenceType {
		return Outcome{}
	}
	if a.NormalizedIdentifier == b.NormalizedIdentifier {
		return Outcome{Matched: true, Confidence: 0.95, Reason: "exact resource id match"}
	}
	return Outcome{}
}

// NameMatcher matches on case-insensitive name equality, a weaker
// signal than an identifier match since names can collide across
// unrelated resources.
type NameMatcher struct{}

func (NameMatcher) Type() models.MatcherType { return models.MatcherName }

func (NameMatcher) Match(a, b models.ExternalReference) Outcome {
	an := strings.ToLower(a.Attributes["name"])
	bn := strings.ToLower(b.Attributes["name"])
	if an == "" || bn == "" {
		return Outcome{}
	}
	if an == bn {
		return Outcome{Matched: true, Confidence: 0.6, Reason: "name equality"}
	}
	return Outcome{}
}

// TagMatcher matches when both references carry the same value for
// at least one shared tag key (e.g. a common "managed-by" or
// "stack-id" tag), a common IaC pattern for linking resources that
// were provisioned together.
type TagMatcher struct{}

func (TagMatcher) Type() models.MatcherType { return models.MatcherTag }

func (TagMatcher) Match(a, b models.ExternalReference) Outcome {
	matched := 0
	for k, v := range a.Attributes {
		if bv, ok := b.Attributes[k]; ok && bv == v {
			matched++
		}
	}
	if matched == 0 {
		return Outcome{}
	}
	confidence := 0.4 + 0.1*float64(matched)
	if confidence > 0.85 {
		confidence = 0.85
	}
	return Outcome{Matched: true, Confidence: confidence, Reason: "shared tag value"}
}

// PathMatcher matches storage paths sharing a
// directory prefix, for cases where an exact key differs (e.g. a
// per-environment suffix) but the objects are clearly related.
type PathMatcher struct{}

func (PathMatcher) Type() models.MatcherType { return models.MatcherPath }

func (PathMatcher) Match(a, b models.ExternalReference) Outcome {
	if a.ReferenceType != models.ReferenceStoragePath || b.ReferenceType != models.ReferenceStoragePath {
		return Outcome{}
	}
	ap := strings.TrimSuffix(a.NormalizedIdentifier, "/")
	bp := strings.TrimSuffix(b.NormalizedIdentifier, "/")
	if ap == bp {
		return Outcome{Matched: true, Confidence: 0.9, Reason: "exact path match"}
	}
	if strings.HasPrefix(ap, bp+"/") || strings.HasPrefix(bp, ap+"/") {
		return Outcome{Matched: true, Confidence: 0.5, Reason: "path prefix match"}
	}
	return Outcome{}
}

// ContentMatcher matches two references whose raw (non-normalized)
// identifiers are byte-identical, a cheap signal used as a tie-breaker
// when normalization would otherwise have conflated two genuinely
// distinct objects.
type ContentMatcher struct{}

func (ContentMatcher) Type() models.MatcherType { return models.MatcherContent }

func (ContentMatcher) Match(a, b models.ExternalReference) Outcome {
	if a.Identifier == b.Identifier && a.Identifier != "" {
		return Outcome{Matched: true, Confidence: 1.0, Reason: "identical raw identifier"}
	}
	return Outcome{}
}
