package phase

import (
	"regexp"
	"strings"

	"github.com/overseer-dev/overseer/internal/tools"
)

var (
	// runningRe matches the "interruptible operation in progress" hint that
	// agent CLIs print next to their elapsed-time spinner.
	runningRe = regexp.MustCompile(`(?i)\b(?:esc|ctrl\+[a-z])\s+to\s+interrupt\b`)

	// menuOptionRe matches one numbered menu option, with or without a
	// selection caret.
	menuOptionRe = regexp.MustCompile(`(?m)^\s*(?:[❯>]\s*)?(\d+)[.)]\s+(\S.*)$`)

	// allowOptionRes are scanned in order of preference: the broadest
	// non-destructive allow option wins.
	allowOptionRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)don'?t ask again`),
		regexp.MustCompile(`(?i)(?:always allow|allow all|allow always)`),
		regexp.MustCompile(`(?i)for (?:this|the rest of this) session`),
	}

	// denyOptionRe filters out options that refuse or abort, so a "No, and
	// don't ask again" option is never picked as an allow.
	denyOptionRe = regexp.MustCompile(`(?i)^\s*(?:no\b|deny|reject|cancel|abort|quit)`)

	// bracketDefaultRe matches a yes/no prompt whose capitalized side is
	// the default, e.g. "Continue? [Y/n]".
	bracketDefaultRe = regexp.MustCompile(`\[(Y/n|y/N)\]`)

	// fatalRe matches unrecoverable error banners.
	fatalRe = regexp.MustCompile(`(?im)(?:^|\s)(?:fatal error|fatal:|panic:|unrecoverable error|segmentation fault)`)

	// shellPromptRe matches a bare shell prompt at the end of a line.
	shellPromptRe = regexp.MustCompile(`[$%#]\s*$`)

	// deploymentRe matches build- and deploy-server banners. These phases
	// are reported but never auto-acted on.
	deploymentRe = regexp.MustCompile(`(?i)(?:deployment (?:started|in progress)|deploying to|build (?:started|in progress|running)|pipeline (?:started|running)|terraform (?:plan|apply)|docker build)`)
)

// menuOption is one parsed entry of a numbered menu.
type menuOption struct {
	number string
	label  string
}

func parseMenu(text string) []menuOption {
	matches := menuOptionRe.FindAllStringSubmatch(text, -1)
	opts := make([]menuOption, 0, len(matches))
	for _, m := range matches {
		opts = append(opts, menuOption{number: m[1], label: m[2]})
	}
	return opts
}

// classifyRunning recognizes an interruptible operation in progress.
// Nothing may escalate past this rule mid-operation.
func classifyRunning(text string, _ *tools.Tool) *Result {
	if !runningRe.MatchString(text) {
		return nil
	}
	return NoAction("running", "interruptible operation in progress", SourceHeuristic)
}

// classifyAllowMenu recognizes a numbered permission menu containing an
// explicit session-scoped allow option and selects it, even when it is not
// option 1.
func classifyAllowMenu(text string, _ *tools.Tool) *Result {
	opts := parseMenu(text)
	if len(opts) < 2 {
		return nil
	}

	for _, re := range allowOptionRes {
		for _, opt := range opts {
			if denyOptionRe.MatchString(opt.label) {
				continue
			}
			if re.MatchString(opt.label) {
				return &Result{
					NeedsAction:     true,
					ActionType:      ActionSelect,
					SuggestedAction: opt.number,
					CurrentState:    "awaiting menu selection",
					Reason:          "menu offers a session-scoped allow option",
					Source:          SourceHeuristic,
				}
			}
		}
	}
	return nil
}

// classifyGenericMenu falls back to the first listed option of a numbered
// menu without an explicit allow option.
func classifyGenericMenu(text string, _ *tools.Tool) *Result {
	opts := parseMenu(text)
	if len(opts) < 2 {
		return nil
	}
	return &Result{
		NeedsAction:     true,
		ActionType:      ActionSelect,
		SuggestedAction: opts[0].number,
		CurrentState:    "awaiting menu selection",
		Reason:          "numbered menu without an explicit allow option",
		Source:          SourceHeuristic,
	}
}

// classifyBracketDefault recognizes [Y/n] style prompts. The default is
// read from the prompt and never overridden.
func classifyBracketDefault(text string, _ *tools.Tool) *Result {
	matches := bracketDefaultRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}

	last := matches[len(matches)-1][1]
	def := "y"
	if last == "y/N" {
		def = "n"
	}
	return &Result{
		NeedsAction:     true,
		ActionType:      ActionConfirm,
		SuggestedAction: def,
		CurrentState:    "awaiting confirmation",
		Reason:          "prompt states default [" + last + "]",
		Source:          SourceHeuristic,
	}
}

// classifyFatalError recognizes unrecoverable error banners and suggests
// the tool's registered quit command. Without a known tool there is no safe
// quit command, so the rule stays inconclusive.
func classifyFatalError(text string, tool *tools.Tool) *Result {
	if !fatalRe.MatchString(text) {
		return nil
	}
	if tool == nil || tool.QuitCommand == "" {
		return nil
	}
	return &Result{
		NeedsAction:     true,
		ActionType:      ActionTextInput,
		SuggestedAction: tool.QuitCommand,
		CurrentState:    "fatal error",
		Reason:          "unrecoverable error banner",
		Source:          SourceHeuristic,
	}
}

// classifyBareShellPrompt recognizes a session that has fallen back to a
// bare shell (the supervised tool exited or crashed) and suggests the
// tool's resume command.
func classifyBareShellPrompt(text string, tool *tools.Tool) *Result {
	if tool == nil || tool.ResumeCommand == "" || tool.ID == "shell" {
		return nil
	}
	line := lastNonEmptyLine(text)
	if line == "" || !shellPromptRe.MatchString(line) {
		return nil
	}
	// The tool's own idle prompt is not a shell prompt.
	if tool.IdlePromptMatches(line) {
		return nil
	}
	return &Result{
		NeedsAction:     true,
		ActionType:      ActionShellCommand,
		SuggestedAction: tool.ResumeCommand,
		CurrentState:    "shell prompt, tool not running",
		Reason:          "bare shell prompt with no foreground tool",
		Source:          SourceHeuristic,
	}
}

// classifyDeployment recognizes deploy/build banners. Deployments are
// surfaced but never auto-acted on.
func classifyDeployment(text string, _ *tools.Tool) *Result {
	if !deploymentRe.MatchString(text) {
		return nil
	}
	return NoAction("deployment phase", "deployment or build banner", SourceHeuristic)
}

// classifyEmpty handles blank capture windows.
func classifyEmpty(text string, _ *tools.Tool) *Result {
	if strings.TrimSpace(text) != "" {
		return nil
	}
	return NoAction("empty", "", SourceHeuristic)
}
