package extractors

import (
	"fmt"
	"strings"

	"github.com/rollupcore/rollup-core/internal/models"
)

// K8sRefExtractor finds Kubernetes object references in a node's
// metadata, recognizing both a structured {kind, namespace, name} map
// and a flat "kind/namespace/name" string.
type K8sRefExtractor struct{}

func (K8sRefExtractor) Name() string { return "k8s_ref" }

func (K8sRefExtractor) Extract(node models.Node) []models.ExternalReference {
	var out []models.ExternalReference
	seen := make(map[string]struct{})

	add := func(kind, namespace, name string) {
		if kind == "" || name == "" {
			return
		}
		if namespace == "" {
			namespace = "default"
		}
		identifier := fmt.Sprintf("%s/%s/%s", namespace, kind, name)
		normalized := strings.ToLower(identifier)
		if _, ok := seen[normalized]; ok {
			return
		}
		seen[normalized] = struct{}{}
		out = append(out, models.NewExternalReference(models.ReferenceK8s, identifier, normalized, 1.0))
	}

	for _, key := range []string{"k8s_ref", "kubernetes_ref", "target"} {
		v, ok := node.Metadata[key]
		if !ok {
			continue
		}
		if m, ok := v.AsMap(); ok {
			kind, _ := m["kind"].AsString()
			namespace, _ := m["namespace"].AsString()
			name, _ := m["name"].AsString()
			add(kind, namespace, name)
			continue
		}
		if s, ok := v.AsString(); ok {
			parts := strings.Split(s, "/")
			switch len(parts) {
			case 3:
				add(parts[0], parts[1], parts[2])
			case 2:
				add(parts[0], "", parts[1])
			}
		}
	}

	return out
}
