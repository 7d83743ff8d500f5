package provider

import (
	"errors"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/overseer-dev/overseer/internal/phase"
)

// chatResponse is the subset of the chat-completions envelope we read.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// wireResult is the JSON object the model is instructed to emit.
type wireResult struct {
	NeedsAction     bool   `json:"needs_action"`
	ActionType      string `json:"action_type"`
	SuggestedAction string `json:"suggested_action"`
	CurrentState    string `json:"current_state"`
	Reason          string `json:"reason"`
}

var validActionTypes = map[string]phase.ActionType{
	"select":        phase.ActionSelect,
	"confirm":       phase.ActionConfirm,
	"text_input":    phase.ActionTextInput,
	"shell_command": phase.ActionShellCommand,
	"none":          phase.ActionNone,
	"":              phase.ActionNone,
}

// ParseReply extracts a phase result from a raw chat-completions response
// body. Models sometimes wrap the JSON in a fenced code block or prose;
// the first balanced JSON object in the content is used.
func ParseReply(body []byte) (*phase.Result, error) {
	var envelope chatResponse
	if err := sonic.Unmarshal(body, &envelope); err != nil {
		return nil, errors.New("reply is not a chat completion")
	}
	if len(envelope.Choices) == 0 {
		return nil, errors.New("reply has no choices")
	}

	content := extractJSONObject(envelope.Choices[0].Message.Content)
	if content == "" {
		return nil, errors.New("reply contains no JSON object")
	}

	var wire wireResult
	if err := sonic.UnmarshalString(content, &wire); err != nil {
		return nil, errors.New("reply JSON does not match expected shape")
	}

	action, ok := validActionTypes[wire.ActionType]
	if !ok {
		return nil, errors.New("reply has unknown action_type " + wire.ActionType)
	}
	if wire.NeedsAction && action == phase.ActionNone {
		return nil, errors.New("reply needs action but gives none")
	}

	state := wire.CurrentState
	if state == "" {
		state = "unknown"
	}

	return &phase.Result{
		NeedsAction:     wire.NeedsAction,
		ActionType:      action,
		SuggestedAction: wire.SuggestedAction,
		CurrentState:    state,
		Reason:          wire.Reason,
		Source:          phase.SourceAI,
	}, nil
}

// extractJSONObject returns the first balanced top-level JSON object in s,
// skipping markdown fences and surrounding prose.
func extractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
