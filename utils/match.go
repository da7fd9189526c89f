package utils

import "strings"

// MatchScope matches a "module:action" value against a scope pattern. A
// pattern segment of '*' matches any value segment, and a bare "*" matches
// everything. Segment counts must agree otherwise.
//
//	MatchScope("financial:read", "financial:*")  => true
//	MatchScope("financial:read", "*:read")       => true
//	MatchScope("financial:read", "students:*")   => false
func MatchScope(value, pattern string) bool {
	if pattern == "*" || pattern == value {
		return true
	}
	vParts := strings.Split(value, ":")
	pParts := strings.Split(pattern, ":")
	if len(vParts) != len(pParts) {
		return false
	}
	for i, p := range pParts {
		if p != "*" && p != vParts[i] {
			return false
		}
	}
	return true
}
