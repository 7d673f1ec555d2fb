package obs

import "strings"

// CanonicalPath collapses resource identifiers in request paths so metric
// label cardinality stays bounded.
func CanonicalPath(path string) string {
	if path == "" {
		return "/"
	}
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}

	switch {
	case strings.HasPrefix(path, "/v1/events/"):
		rest := strings.TrimPrefix(path, "/v1/events/")
		parts := strings.Split(rest, "/")
		switch {
		case len(parts) == 1 && parts[0] != "":
			return "/v1/events/:id"
		case len(parts) == 2:
			switch parts[1] {
			case "start", "register", "template", "certificates":
				return "/v1/events/:id/" + parts[1]
			}
		}
	case strings.HasPrefix(path, "/v1/certificates/"):
		rest := strings.TrimPrefix(path, "/v1/certificates/")
		parts := strings.Split(rest, "/")
		switch {
		case len(parts) == 1 && parts[0] != "" && parts[0] != "stream":
			return "/v1/certificates/:id"
		case len(parts) == 2 && parts[1] == "verify":
			return "/v1/certificates/:id/verify"
		}
	}
	return path
}
