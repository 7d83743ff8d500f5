package tools

// Builtin returns a registry seeded with the CLI tools overseer knows how
// to supervise out of the box. Registration order doubles as tie-break
// priority, so the most specific tools come first and the generic shell
// entry comes last.
func Builtin() *Registry {
	r := NewRegistry()

	// Errors are impossible here: every builtin pattern is a valid regexp
	// and every ID is set. Registration is kept fallible for YAML-loaded
	// definitions.
	_ = r.Register(Tool{
		ID:           "claude",
		ProcessNames: []string{"claude", "claude-code"},
		Signatures: []string{
			"esc to interrupt",
			"claude code",
			"welcome to claude",
			"✻",
			"bypassing permissions",
		},
		IdlePrompt:    `(?m)^\s*[>❯]\s*$`,
		QuitCommand:   "/exit",
		ResumeCommand: "claude --continue",
		Instructions:  "The session runs Claude Code. Permission menus list numbered options; prefer session-scoped allow options over one-time ones.",
	})

	_ = r.Register(Tool{
		ID:           "aider",
		ProcessNames: []string{"aider"},
		Signatures: []string{
			"aider v",
			"tokens:",
			"architect>",
			"repo-map",
		},
		IdlePrompt:    `(?m)^[a-z-]*>\s*$`,
		QuitCommand:   "/exit",
		ResumeCommand: "aider",
		Instructions:  "The session runs aider. Confirmation prompts use bracketed defaults like (Y)es/(N)o.",
	})

	_ = r.Register(Tool{
		ID:           "codex",
		ProcessNames: []string{"codex"},
		Signatures: []string{
			"openai codex",
			"codex session",
			"ctrl+c to exit",
		},
		IdlePrompt:    `(?m)^\s*›\s*$`,
		QuitCommand:   "/quit",
		ResumeCommand: "codex resume",
		Instructions:  "The session runs the OpenAI Codex CLI.",
	})

	_ = r.Register(Tool{
		ID:           "gemini",
		ProcessNames: []string{"gemini"},
		Signatures: []string{
			"gemini cli",
			"gemini-2",
		},
		IdlePrompt:    `(?m)^\s*>\s*$`,
		QuitCommand:   "/quit",
		ResumeCommand: "gemini",
		Instructions:  "The session runs the Gemini CLI.",
	})

	// Generic shell: no signatures, only recognized by process name or by
	// the classifier's bare-prompt rule. Last so it never wins a tie.
	_ = r.Register(Tool{
		ID:            "shell",
		ProcessNames:  []string{"bash", "zsh", "sh", "fish"},
		IdlePrompt:    `(?m)[$%#]\s*$`,
		QuitCommand:   "exit",
		ResumeCommand: "",
	})

	return r
}
