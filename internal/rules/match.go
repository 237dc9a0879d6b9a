package rules

import "strings"

// MatchSet reports whether v is in set. An empty set matches anything.
func MatchSet[T comparable](set []T, v T) bool {
	if len(set) == 0 {
		return true
	}
	for _, candidate := range set {
		if candidate == v {
			return true
		}
	}
	return false
}

// MatchFold is MatchSet for free-text values, compared case-insensitively
// after trimming.
func MatchFold(set []string, v string) bool {
	if len(set) == 0 {
		return true
	}
	v = strings.TrimSpace(v)
	for _, candidate := range set {
		if strings.EqualFold(strings.TrimSpace(candidate), v) {
			return true
		}
	}
	return false
}
