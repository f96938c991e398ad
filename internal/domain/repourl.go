package domain

import "strings"

// OwnerRepo is the parsed (host, owner, repo) triple from a repo URL.
type OwnerRepo struct {
	Host  string
	Owner string
	Repo  string
}

// ParseOwnerRepo validates a session's repo URL as some recognizable
// "host[:/]owner/repo" form and extracts owner/repo. Accepted
// shapes: "https://host/owner/repo[.git]", "git@host:owner/repo.git",
// "host/owner/repo", and bare "owner/repo" (host defaults to
// "github.com"). Returns false for anything that doesn't resolve to a
// two-segment owner/repo path. ParseOwnerRepo is idempotent over its own
// String() output: re-parsing "host/owner/repo" yields the
// same triple.
func ParseOwnerRepo(url string) (*OwnerRepo, bool) {
	s := strings.TrimSpace(url)
	if s == "" {
		return nil, false
	}

	// Strip a scheme ("https://", "ssh://",...).
	if idx := strings.Index(s, "://"); idx >= 0 {
		s = s[idx+len("://"):]
	}

	// Drop userinfo, then normalize the scp-style "host:owner/repo"
	// separator to a plain slash.
	if at := strings.Index(s, "@"); at >= 0 {
		s = s[at+1:]
	}
	s = strings.Replace(s, ":", "/", 1)

	s = strings.TrimSuffix(s, "/")
	s = strings.TrimSuffix(s, ".git")

	parts := strings.Split(s, "/")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	// Drop empty leading/trailing segments produced by stray slashes.
	filtered := parts[:0]
	for _, p := range parts {
		if p != "" {
			filtered = append(filtered, p)
		}
	}
	parts = filtered

	switch len(parts) {
	case 2:
		// Bare "owner/repo": no host segment present.
		return &OwnerRepo{Host: "github.com", Owner: parts[0], Repo: parts[1]}, true
	case 3:
		return &OwnerRepo{Host: parts[0], Owner: parts[1], Repo: parts[2]}, true
	default:
		return nil, false
	}
}

// String renders the canonical "host/owner/repo" form used as the
// round-trip fixed point for ParseOwnerRepo.
func (r *OwnerRepo) String() string {
	return r.Host + "/" + r.Owner + "/" + r.Repo
}
