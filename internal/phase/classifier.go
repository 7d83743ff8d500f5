// Package phase infers what a supervised terminal session is currently
// doing from its buffered output alone. Classification is pure pattern
// matching: no network calls, and an inconclusive answer is returned as nil
// so the caller knows to escalate to the AI analyzer.
package phase

import (
	"strings"

	"github.com/overseer-dev/overseer/internal/tools"
)

// Classifier turns recent output text into a Result, or nil when the text
// is inconclusive. Implementations must be pure: identical inputs always
// produce identical results.
type Classifier interface {
	Classify(text string, tool *tools.Tool) *Result
}

// rule is a single heuristic. Rules return nil to pass to the next rule.
type rule func(text string, tool *tools.Tool) *Result

// Rules is an ordered heuristic classifier. Order is part of the contract:
// patterns overlap (a permission menu can sit inside a noisy deploy log),
// and earlier rules deliberately shadow later ones. Every rule requires a
// concrete prompt marker rather than keyword presence alone; a missed
// actionable prompt is safer than a keystroke injected into a running
// process.
type Rules struct {
	rules []rule
}

// NewRules builds the default ordered rule set.
func NewRules() *Rules {
	return &Rules{
		rules: []rule{
			classifyRunning,
			classifyAllowMenu,
			classifyGenericMenu,
			classifyBracketDefault,
			classifyFatalError,
			classifyBareShellPrompt,
			classifyDeployment,
			classifyEmpty,
		},
	}
}

// Classify runs the rules in order; the first decisive rule wins.
func (r *Rules) Classify(text string, tool *tools.Tool) *Result {
	for _, fn := range r.rules {
		if res := fn(text, tool); res != nil {
			return res
		}
	}
	return nil
}

// ForTool selects the classifier variant for a tool. The set of variants is
// closed; today every tool shares the default rule ordering, and the
// selector exists so a tool-specific variant can be added without changing
// call sites.
func ForTool(_ string) Classifier {
	return NewRules()
}

// lastNonEmptyLine returns the trailing line of text that contains any
// non-whitespace characters.
func lastNonEmptyLine(text string) string {
	lines := strings.Split(text, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) != "" {
			return lines[i]
		}
	}
	return ""
}
