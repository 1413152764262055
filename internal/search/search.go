// Package search filters a rendered listing by name. It is a linear,
// case-insensitive substring scan; no index is kept.
package search

import "strings"

// Match reports whether lowerName contains query, ignoring case.
// lowerName must already be lower-cased.
func Match(lowerName, query string) bool {
	return strings.Contains(lowerName, strings.ToLower(query))
}

// Apply returns, for each entry of lowerNames, whether it stays visible for
// query. An empty query shows everything.
func Apply(lowerNames []string, query string) []bool {
	q := strings.ToLower(query)
	visible := make([]bool, len(lowerNames))
	for i, name := range lowerNames {
		visible[i] = strings.Contains(name, q)
	}
	return visible
}
