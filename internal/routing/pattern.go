package routing

import "strings"

// PathPattern matches request paths against a template whose segments may
// be parameters, e.g. /workspace/api/grants/{subject_id}. Matching is
// whole-segment: a parameter never spans a slash and never matches an
// empty segment.
type PathPattern struct {
	segments []string
	param    []bool
}

// parsePathPattern reports ok=false for plain paths (no braces), which the
// classifier indexes exactly instead.
func parsePathPattern(raw string) (PathPattern, bool) {
	if !strings.Contains(raw, "{") || !strings.HasPrefix(raw, "/") {
		return PathPattern{}, false
	}

	segments := splitPathSegments(raw)
	param := make([]bool, len(segments))
	for i, seg := range segments {
		switch {
		case seg == "":
			return PathPattern{}, false
		case strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}"):
			if len(seg) <= 2 {
				return PathPattern{}, false
			}
			param[i] = true
		case strings.ContainsAny(seg, "{}"):
			// Braces only form a parameter when they span the whole segment.
			return PathPattern{}, false
		}
	}
	return PathPattern{segments: segments, param: param}, true
}

func (p PathPattern) Match(path string) bool {
	if len(p.segments) == 0 {
		return false
	}
	in := splitPathSegments(path)
	if len(in) != len(p.segments) {
		return false
	}
	for i, seg := range in {
		if seg == "" {
			return false
		}
		if p.param[i] {
			continue
		}
		if seg != p.segments[i] {
			return false
		}
	}
	return true
}

func splitPathSegments(path string) []string {
	trimmed := strings.TrimPrefix(strings.TrimSpace(path), "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
