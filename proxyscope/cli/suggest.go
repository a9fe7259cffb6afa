// Package cli holds shared helpers for the command-line surface.
package cli

import (
	"fmt"

	"github.com/agnivade/levenshtein"
)

// suggestionThreshold is the max edit distance for "did you mean" hints.
const suggestionThreshold = 3

// UnknownCommandError builds an error for an unrecognized command, appending
// a "did you mean" hint when a known command is close enough.
func UnknownCommandError(unknown string, known []string) error {
	if hint := Suggest(unknown, known); hint != "" {
		return fmt.Errorf("unknown command: %s (did you mean %q?)", unknown, hint)
	}
	return fmt.Errorf("unknown command: %s", unknown)
}

// UnknownSubcommandError is UnknownCommandError for a namespaced subcommand.
func UnknownSubcommandError(parent, unknown string, known []string) error {
	if hint := Suggest(unknown, known); hint != "" {
		return fmt.Errorf("unknown %s subcommand: %s (did you mean %q?)", parent, unknown, hint)
	}
	return fmt.Errorf("unknown %s subcommand: %s", parent, unknown)
}

// Suggest returns the candidate closest to input by edit distance, or empty
// when nothing is within the suggestion threshold.
func Suggest(input string, candidates []string) string {
	best, bestDist := "", suggestionThreshold+1
	for _, c := range candidates {
		if d := levenshtein.ComputeDistance(input, c); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}
