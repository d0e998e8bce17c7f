package analysis

import (
	"fmt"

	"github.com/pmezard/go-difflib/difflib"
)

// Diff returns a unified diff from a previous document version to the
// current one, or "" when they are identical.
func Diff(previous, current string) (string, error) {
	if previous == current {
		return "", nil
	}
	out, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(previous),
		B:        difflib.SplitLines(current),
		FromFile: "previous",
		ToFile:   "current",
		Context:  3,
	})
	if err != nil {
		return "", fmt.Errorf("failed to diff documents: %w", err)
	}
	return out, nil
}
