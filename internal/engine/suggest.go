package engine

import (
	"strings"

	"github.com/lucasnoah/stagecoach/internal/agent"
)

// applySuggestions folds a stage's automatic suggestions into content.
// Each suggestion replaces the first occurrence of its old text. A
// suggestion whose old text is no longer present (typically because an
// earlier suggestion already rewrote that span) is skipped, not failed.
func applySuggestions(content string, suggestions []agent.Suggestion) (out string, applied, skipped int) {
	out = content
	for _, s := range suggestions {
		if !s.ApplyAutomatically {
			continue
		}
		if s.OldText == "" || !strings.Contains(out, s.OldText) {
			skipped++
			continue
		}
		out = strings.Replace(out, s.OldText, s.NewText, 1)
		applied++
	}
	return out, applied, skipped
}
