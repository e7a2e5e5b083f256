package extractors

import (
	"regexp"
	"strings"

	"github.com/rollupcore/rollup-core/internal/models"
)

var gitURLPattern = regexp.MustCompile(`^(https?://|git@|ssh://git@)[\w.\-]+[:/][\w.\-/]+?(\.git)?$`)

// GitURLExtractor finds git remote URLs under "repo_url", "source",
// and "git_url".
type GitURLExtractor struct{}

func (GitURLExtractor) Name() string { return "git_url" }

func (GitURLExtractor) Extract(node models.Node) []models.ExternalReference {
	var candidates []string
	for _, key := range []string{"repo_url", "source", "git_url"} {
		candidates = append(candidates, metadataStrings(node, key)...)
	}

	var out []models.ExternalReference
	seen := make(map[string]struct{})
	for _, url := range candidates {
		if !gitURLPattern.MatchString(url) {
			continue
		}
		normalized := NormalizeGitURL(url)
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, models.NewExternalReference(models.ReferenceGitURL, url, normalized, 0.95))
	}
	return out
}

// NormalizeGitURL collapses the scp-like "git@host:owner/repo" form
// and the "ssh://git@host/owner/repo" form into "host/owner/repo",
// strips a trailing ".git", and lowercases the host.
func NormalizeGitURL(url string) string {
	u := url
	u = strings.TrimPrefix(u, "https://")
	u = strings.TrimPrefix(u, "http://")
	u = strings.TrimPrefix(u, "ssh://")
	u = strings.TrimPrefix(u, "git@")
	u = strings.Replace(u, ":", "/", 1)
	u = strings.TrimSuffix(u, ".git")
	u = strings.TrimSuffix(u, "/")

	if idx := strings.Index(u, "/"); idx != -1 {
		host := strings.ToLower(u[:idx])
		u = host + u[idx:]
	}
	return u
}
