package obs

import "strings"

// CanonicalPath collapses resource identifiers in metric path labels so that
// per-invite and per-application URLs do not explode label cardinality.
func CanonicalPath(path string) string {
	if path == "" {
		return "/"
	}
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	switch {
	case len(parts) == 3 && parts[0] == "v1" && parts[1] == "invites" && parts[2] != "init" && parts[2] != "":
		return "/v1/invites/:hash"
	case len(parts) == 3 && parts[0] == "v1" && parts[1] == "applications" && parts[2] != "":
		return "/v1/applications/:id"
	}
	return path
}
