// Package validation checks a RollupConfig for structural validity
// before it is persisted or executed: bounds on repository and matcher
// counts, matcher pattern syntax, and cron schedule syntax.
package validation

import (
	"fmt"
	"regexp"

	"github.com/robfig/cron/v3"

	rolluperrors "github.com/rollupcore/rollup-core/internal/errors"
	"github.com/rollupcore/rollup-core/internal/models"
)

const (
	MinRepositories = 2
	MaxRepositories = 50
	MaxMatchers     = 20
)

// Result collects every violation found in a RollupConfig. A config is
// valid only if Violations is empty.
type Result struct {
	Violations []string
}

func (r *Result) add(format string, args ...interface{}) {
	r.Violations = append(r.Violations, fmt.Sprintf(format, args...))
}

func (r *Result) OK() bool { return len(r.Violations) == 0 }

// ValidateRollupConfig checks cfg's structural invariants and returns a
// *rolluperrors.Error listing every violation found, or nil if cfg is
// valid.
func ValidateRollupConfig(cfg *models.RollupConfig) error {
	result := &Result{}

	if cfg.Name == "" {
		result.add("name must not be empty")
	}

	n := len(cfg.RepositoryIDs)
	if n < MinRepositories {
		result.add("repository_ids must contain at least %d repositories, got %d", MinRepositories, n)
	}
	if n > MaxRepositories {
		result.add("repository_ids must contain at most %d repositories, got %d", MaxRepositories, n)
	}
	if hasDuplicateRepos(cfg.RepositoryIDs) {
		result.add("repository_ids must not contain duplicates")
	}

	if len(cfg.Matchers) == 0 {
		result.add("matchers must contain at least one matcher")
	}
	if len(cfg.Matchers) > MaxMatchers {
		result.add("matchers must contain at most %d entries, got %d", MaxMatchers, len(cfg.Matchers))
	}
	for i, m := range cfg.Matchers {
		validateMatcher(result, i, m)
	}

	if err := ValidateSchedule(cfg.Schedule); err != nil {
		result.add("schedule %q is not a valid cron expression: %v", cfg.Schedule, err)
	}

	if cfg.MergeOptions.MaxNodes < 0 {
		result.add("merge_options.max_nodes must not be negative")
	}
	if cfg.MergeOptions.EdgeTypePreservation == models.EdgeTypePreserveNamedSet && len(cfg.MergeOptions.NamedEdgeTypes) == 0 {
		result.add("merge_options.named_edge_types must be non-empty when edge_type_preservation is %q", models.EdgeTypePreserveNamedSet)
	}

	if !result.OK() {
		return rolluperrors.ValidationErrorf("ROLLUP_CONFIG_INVALID", "invalid rollup config: %v", result.Violations)
	}
	return nil
}

func hasDuplicateRepos(ids []string) bool {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			return true
		}
		seen[id] = struct{}{}
	}
	return false
}

var validMatcherTypes = map[models.MatcherType]bool{
	models.MatcherARN:        true,
	models.MatcherResourceID: true,
	models.MatcherName:       true,
	models.MatcherTag:        true,
	models.MatcherPath:       true,
	models.MatcherContent:    true,
	models.MatcherAST:        true,
	models.MatcherSemantic:   true,
}

func validateMatcher(result *Result, i int, m models.MatcherConfig) {
	if !validMatcherTypes[m.Type] {
		result.add("matchers[%d]: unknown matcher type %q", i, m.Type)
	}
	if m.Priority < 1 || m.Priority > 100 {
		result.add("matchers[%d]: priority must be between 1 and 100, got %d", i, m.Priority)
	}
	if m.MinConfidence < 0 || m.MinConfidence > 1 {
		result.add("matchers[%d]: min_confidence must be between 0 and 1, got %f", i, m.MinConfidence)
	}
	if m.Pattern != "" {
		if _, err := regexp.Compile(m.Pattern); err != nil {
			result.add("matchers[%d]: pattern %q does not compile: %v", i, m.Pattern, err)
		}
	}
}

// ValidateSchedule parses schedule as a standard five-field cron
// expression. An empty schedule (manual-only rollup) is valid.
func ValidateSchedule(schedule string) error {
	if schedule == "" {
		return nil
	}
	_, err := cron.ParseStandard(schedule)
	return err
}
