// Package listing reconciles exchange listing feeds against the securities store.
package listing

import (
	"strings"
)

// ExclusionKeywords marks instrument types kept out of the tradable universe.
// Matching is case-insensitive against the primary name segment.
var ExclusionKeywords = []string{
	"warrant", "preferred", "bond", "note", "unit", "right", "spac",
	"etn", "adr", "depositary receipt", "structured product", "temp", "test",
	"swap", "future", "option",
}

// Excluded reports whether a listing row describes an instrument outside the
// universe: test issues, NextShares funds, and names whose primary segment
// (before the first "-") contains an exclusion keyword. Suffix segments such
// as "- Class A Shares" are ignored so share-class variants stay in.
func Excluded(testIssue, nextShares bool, securityName string) bool {
	if testIssue || nextShares {
		return true
	}

	primary := securityName
	if idx := strings.Index(primary, "-"); idx >= 0 {
		primary = primary[:idx]
	}
	primary = strings.ToLower(strings.TrimSpace(primary))

	for _, kw := range ExclusionKeywords {
		if strings.Contains(primary, kw) {
			return true
		}
	}

	return false
}
