// Package matchers implements the pluggable strategies that decide
// whether two nodes (possibly from different repositories) refer to
// the same real-world object. Each strategy is independent and
// returns a confidence in [0, 1]; for each pair the match engine tries
// them in priority order and uses the first positive outcome.
package matchers

import (
	"github.com/rollupcore/rollup-core/internal/models"
)

// Outcome is one matcher's verdict on a candidate pair.
type Outcome struct {
	Matched    bool
	Confidence float64
	Reason     string
}

// Matcher decides whether two references, drawn from two (possibly
// different) nodes, denote the same external object.
type Matcher interface {
	Type() models.MatcherType
	Match(a, b models.ExternalReference) Outcome
}

// Registry resolves a models.MatcherConfig to its concrete Matcher and
// orders candidate matches by configured priority.
type Registry struct {
	byType map[models.MatcherType]Matcher
}

// NewRegistry builds a Registry with the built-in matcher strategies.
func NewRegistry() *Registry {
	r := &Registry{byType: make(map[models.MatcherType]Matcher)}
	for _, m := range []Matcher{
		ARNMatcher{},
		ResourceIDMatcher{},
		NameMatcher{},
		TagMatcher{},
		PathMatcher{},
		ContentMatcher{},
	} {
		r.byType[m.Type()] = m
	}
	return r
}

// Register adds or overrides a matcher strategy, used for the ast and
// semantic matchers which plug in provider-specific implementations.
func (r *Registry) Register(m Matcher) {
	r.byType[m.Type()] = m
}

func (r *Registry) Get(t models.MatcherType) (Matcher, bool) {
	m, ok := r.byType[t]
	return m, ok
}

// Candidate pairs a matcher's configuration with its concrete
// implementation, letting the match engine iterate in priority order.
type Candidate struct {
	Config  models.MatcherConfig
	Matcher Matcher
}

// Resolve turns a rollup's configured matchers into ordered candidates,
// highest priority first, skipping any type the registry doesn't know.
func (r *Registry) Resolve(configs []models.MatcherConfig) []Candidate {
	var out []Candidate
	for _, cfg := range configs {
		m, ok := r.byType[cfg.Type]
		if !ok {
			continue
		}
		out = append(out, Candidate{Config: cfg, Matcher: m})
	}
	for i := 1; i < len(out); i++ {
		j := i
		for j > 0 && out[j-1].Config.Priority < out[j].Config.Priority {
			out[j-1], out[j] = out[j], out[j-1]
			j--
		}
	}
	return out
}
