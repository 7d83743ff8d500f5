package tools

import (
	"regexp"
	"strings"
	"sync"
)

// Unknown is returned when no registered tool matches.
const Unknown = "unknown"

// minSignatureScore is the minimum number of signature hits required before
// a text-only match is trusted.
const minSignatureScore = 1

// Tool describes a known interactive CLI and the markers used to recognize
// it in raw terminal output.
type Tool struct {
	// ID is the stable tool identifier, e.g. "claude".
	ID string `yaml:"id"`
	// ProcessNames are OS process names that identify the tool directly.
	ProcessNames []string `yaml:"process_names"`
	// Signatures are distinctive banner or prompt fragments. Matching is
	// case-insensitive substring search.
	Signatures []string `yaml:"signatures"`
	// IdlePrompt matches the tool's idle input prompt on the last line.
	IdlePrompt string `yaml:"idle_prompt"`
	// QuitCommand exits the tool cleanly, e.g. "/exit".
	QuitCommand string `yaml:"quit_command"`
	// ResumeCommand restarts or resumes the tool from a bare shell.
	ResumeCommand string `yaml:"resume_command"`
	// Instructions are extra prompt instructions passed to the AI analyzer
	// when this tool is in the foreground.
	Instructions string `yaml:"instructions"`

	idleRe *regexp.Regexp
}

// IdlePromptMatches reports whether line looks like this tool's idle prompt.
func (t *Tool) IdlePromptMatches(line string) bool {
	if t.idleRe == nil {
		return false
	}
	return t.idleRe.MatchString(line)
}

// Registry is an ordered catalog of known tools. Registration order matters:
// detection ties are broken in favor of the first registered tool.
type Registry struct {
	mu    sync.RWMutex
	order []*Tool
	byID  map[string]*Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]*Tool)}
}

// Register adds a tool to the catalog. A tool with a duplicate ID replaces
// the earlier definition but keeps its original position in tie-break order.
func (r *Registry) Register(t Tool) error {
	if t.ID == "" {
		return ErrMissingID
	}
	if t.IdlePrompt != "" {
		re, err := regexp.Compile(t.IdlePrompt)
		if err != nil {
			return err
		}
		t.idleRe = re
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byID[t.ID]; ok {
		*existing = t
		return nil
	}
	tool := t
	r.order = append(r.order, &tool)
	r.byID[t.ID] = &tool
	return nil
}

// Get returns the tool with the given ID.
func (r *Registry) Get(id string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byID[id]
	return t, ok
}

// List returns tools in registration order.
func (r *Registry) List() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Tool, len(r.order))
	copy(out, r.order)
	return out
}

// Detect identifies the foreground tool from recent output text and an
// optional OS process name. The process name is trusted when it maps to a
// registered tool; otherwise each tool is scored by signature hits and the
// highest scorer at or above the minimum wins. Ties go to the tool
// registered first.
func (r *Registry) Detect(text, processName string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if processName != "" {
		proc := strings.ToLower(processName)
		for _, t := range r.order {
			for _, name := range t.ProcessNames {
				if proc == strings.ToLower(name) {
					return t.ID
				}
			}
		}
	}

	lower := strings.ToLower(text)
	best := Unknown
	bestScore := 0
	for _, t := range r.order {
		score := 0
		for _, sig := range t.Signatures {
			if sig != "" && strings.Contains(lower, strings.ToLower(sig)) {
				score++
			}
		}
		if score >= minSignatureScore && score > bestScore {
			best = t.ID
			bestScore = score
		}
	}
	return best
}
