package obs

import "strings"

// CanonicalPath collapses resource identifiers in URL paths so that metric
// label cardinality stays bounded. Query strings are stripped.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}

	switch {
	case strings.HasPrefix(p, "/v1/policies/"):
		rest := strings.TrimPrefix(p, "/v1/policies/")
		if rest != "" && !strings.Contains(rest, "/") {
			return "/v1/policies/:id"
		}
	case strings.HasPrefix(p, "/v1/documents/"):
		rest := strings.TrimPrefix(p, "/v1/documents/")
		if strings.HasSuffix(rest, "/hold") && strings.Count(rest, "/") == 1 {
			return "/v1/documents/:id/hold"
		}
	case strings.HasPrefix(p, "/v1/retention/jobs/"):
		rest := strings.TrimPrefix(p, "/v1/retention/jobs/")
		if rest != "" && !strings.Contains(rest, "/") {
			return "/v1/retention/jobs/:id"
		}
	}
	return p
}
