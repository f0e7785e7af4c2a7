package diff

import (
	"strings"

	"lareview/cli/internal/erruser"
)

// minDiffLength is the minimum trimmed length accepted by Validate. Anything
// shorter cannot be a meaningful diff.
const minDiffLength = 10

// Validate checks diff text structurally before a generation run may start.
// Rules apply in order: empty, too short, then the text must either start
// with "diff " or contain at least one "---" line and one "+++" line.
// Returns nil when the text passes. Validate performs no parsing; it only
// gates whether the generation call is permitted.
func Validate(text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return erruser.New("No diff provided. Paste a unified diff first.", nil)
	}
	if len(trimmed) < minDiffLength {
		return erruser.New("Diff is too short to review.", nil)
	}
	if strings.HasPrefix(trimmed, "diff ") {
		return nil
	}
	if hasLinePrefix(trimmed, "---") && hasLinePrefix(trimmed, "+++") {
		return nil
	}
	return erruser.New("Text does not look like a unified diff.", nil)
}

// hasLinePrefix reports whether any line of text starts with prefix.
func hasLinePrefix(text, prefix string) bool {
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}
