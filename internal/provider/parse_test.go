package provider

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overseer-dev/overseer/internal/phase"
)

func envelope(content string) []byte {
	return []byte(fmt.Sprintf(`{"choices":[{"message":{"content":%q}}]}`, content))
}

func TestParseReplyPlainJSON(t *testing.T) {
	body := envelope(`{"needs_action":true,"action_type":"confirm","suggested_action":"y","current_state":"awaiting confirmation","reason":"default is yes"}`)

	res, err := ParseReply(body)
	require.NoError(t, err)
	assert.True(t, res.NeedsAction)
	assert.Equal(t, phase.ActionConfirm, res.ActionType)
	assert.Equal(t, "y", res.SuggestedAction)
	assert.Equal(t, phase.SourceAI, res.Source)
}

func TestParseReplyFencedJSON(t *testing.T) {
	content := "Here is my assessment:\n```json\n{\"needs_action\":false,\"action_type\":\"none\",\"current_state\":\"running\"}\n```\nLet me know if you need more."
	res, err := ParseReply(envelope(content))
	require.NoError(t, err)
	assert.False(t, res.NeedsAction)
	assert.Equal(t, "running", res.CurrentState)
}

func TestParseReplyNestedBraces(t *testing.T) {
	content := `{"needs_action":true,"action_type":"text_input","suggested_action":"echo {ok}","current_state":"idle","reason":"prompt says {see docs}"}`
	res, err := ParseReply(envelope(content))
	require.NoError(t, err)
	assert.Equal(t, "echo {ok}", res.SuggestedAction)
}

func TestParseReplyErrors(t *testing.T) {
	tests := []struct {
		name string
		body []byte
	}{
		{"not json", []byte("<html>gateway error</html>")},
		{"no choices", []byte(`{"choices":[]}`)},
		{"no object in content", envelope("I am not sure what to do here.")},
		{"unknown action type", envelope(`{"needs_action":true,"action_type":"reboot","current_state":"x"}`)},
		{"needs action without action", envelope(`{"needs_action":true,"action_type":"none","current_state":"x"}`)},
		{"unbalanced object", envelope(`{"needs_action":true,"action_type":"confirm"`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseReply(tt.body)
			assert.Error(t, err)
		})
	}
}

func TestParseReplyDefaultsState(t *testing.T) {
	res, err := ParseReply(envelope(`{"needs_action":false,"action_type":"none"}`))
	require.NoError(t, err)
	assert.Equal(t, "unknown", res.CurrentState)
}
