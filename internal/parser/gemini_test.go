package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unifiedagent/internal/events"
)

const geminiCheckpoint = `{
  "metadata": {"sessionId": "gm-1", "startTime": "2026-08-20T08:00:00Z"},
  "contents": [
    {"role": "user", "parts": [{"text": "add retry logic"}]},
    {"role": "model", "parts": [
      {"text": "I'll wrap the client with exponential backoff."},
      {"functionCall": {"name": "write_file", "args": {"path": "retry.go"}}}
    ]},
    {"role": "user", "parts": [
      {"functionResponse": {"name": "write_file", "response": {"output": "wrote retry.go"}}}
    ]}
  ]
}`

func TestGeminiParser_Checkpoint(t *testing.T) {
	evs, err := ParseString(NewGeminiParser(), geminiCheckpoint)
	require.NoError(t, err)
	require.Len(t, evs, 4)

	t.Run("user text", func(t *testing.T) {
		assert.Equal(t, events.TypeUser, evs[0].Type)
		assert.Equal(t, "add retry logic", evs[0].Content)
		// Turns without their own timestamp inherit the session start.
		assert.Equal(t, 2026, evs[0].Timestamp.Year())
	})

	t.Run("function call split from model text", func(t *testing.T) {
		call := evs[1]
		assert.Equal(t, events.TypeToolCall, call.Type)
		assert.Equal(t, events.RoleTool, call.Role)
		assert.Equal(t, "write_file", call.ToolName)
		assert.Contains(t, call.ToolInput, "retry.go")

		text := evs[2]
		assert.Equal(t, events.TypeAssistant, text.Type)
		assert.Equal(t, "I'll wrap the client with exponential backoff.", text.Content)
	})

	t.Run("function response", func(t *testing.T) {
		ev := evs[3]
		assert.Equal(t, events.TypeToolResult, ev.Type)
		assert.Equal(t, "write_file", ev.ToolName)
		assert.Equal(t, "wrote retry.go", ev.ToolOutput)
		assert.False(t, ev.IsError)
	})
}

func TestGeminiParser_ArrayDocument(t *testing.T) {
	doc := `[
  {"role": "user", "parts": [{"text": "hello"}]},
  {"role": "model", "parts": [{"text": "hi"}, {"text": "there"}]}
]`

	evs, err := ParseString(NewGeminiParser(), doc)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, events.TypeUser, evs[0].Type)
	assert.Equal(t, "hello", evs[0].Content)
	assert.Equal(t, events.TypeAssistant, evs[1].Type)
	assert.Equal(t, "hi\nthere", evs[1].Content)
}

func TestGeminiParser_TypedRecords(t *testing.T) {
	input := `{"type":"message","role":"user","content":"ship it","timestamp":"2026-08-20T08:05:00Z"}
{"type":"tool_call","name":"run_shell","args":{"cmd":"make"}}
{"type":"tool_result","name":"run_shell","output":"built","error":false}
{"type":"message","role":"model","content":"done"}`

	evs, err := ParseString(NewGeminiParser(), input)
	require.NoError(t, err)
	require.Len(t, evs, 4)

	assert.Equal(t, events.TypeUser, evs[0].Type)
	assert.Equal(t, "ship it", evs[0].Content)

	assert.Equal(t, events.TypeToolCall, evs[1].Type)
	assert.Equal(t, "run_shell", evs[1].ToolName)
	assert.Contains(t, evs[1].ToolInput, "make")

	assert.Equal(t, events.TypeToolResult, evs[2].Type)
	assert.Equal(t, "built", evs[2].ToolOutput)

	assert.Equal(t, events.TypeAssistant, evs[3].Type)
}

func TestGeminiParser_ErrorResponse(t *testing.T) {
	doc := `{"contents":[{"role":"user","parts":[{"functionResponse":{"name":"run_shell","response":{"error":"exit 1"}}}]}]}`

	evs, err := ParseString(NewGeminiParser(), doc)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, events.TypeToolResult, evs[0].Type)
	assert.True(t, evs[0].IsError)
}

func TestGeminiParser_EmptyDocument(t *testing.T) {
	evs, err := ParseString(NewGeminiParser(), "   \n  ")
	require.NoError(t, err)
	assert.Empty(t, evs)
}

func TestGeminiParser_Detect(t *testing.T) {
	p := NewGeminiParser()
	assert.True(t, p.Detect("/home/u/.gemini/tmp/3f2a/checkpoint.json"))
	assert.True(t, p.Detect("/home/u/.gemini/sessions/log.jsonl"))
	assert.False(t, p.Detect("/home/u/.gemini/settings.yaml"))
	assert.False(t, p.Detect("/home/u/.claude/projects/-p/a.jsonl"))
}
