package phase

// ActionType is the kind of keystroke sequence a decision suggests.
type ActionType string

const (
	ActionSelect       ActionType = "select"
	ActionConfirm      ActionType = "confirm"
	ActionTextInput    ActionType = "text_input"
	ActionShellCommand ActionType = "shell_command"
	ActionNone         ActionType = "none"
)

// Source records which analyzer produced a result.
type Source string

const (
	SourceHeuristic Source = "heuristic"
	SourceAI        Source = "ai"
)

// Result is the outcome of classifying a session's recent output.
type Result struct {
	NeedsAction     bool       `json:"needs_action"`
	ActionType      ActionType `json:"action_type"`
	SuggestedAction string     `json:"suggested_action,omitempty"`
	CurrentState    string     `json:"current_state"`
	Reason          string     `json:"reason,omitempty"`
	IsDangerous     bool       `json:"is_dangerous"`
	Source          Source     `json:"source"`
}

// NoAction builds a passive result with the given state.
func NoAction(state, reason string, source Source) *Result {
	return &Result{
		ActionType:   ActionNone,
		CurrentState: state,
		Reason:       reason,
		Source:       source,
	}
}
