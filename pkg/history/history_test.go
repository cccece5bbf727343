package history_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"interview/pkg/history"
	"interview/pkg/llm"
)

func TestAddAndCopyMessages(t *testing.T) {
	m := history.New()
	m.AddSystem("instructions")
	m.AddUser("hi")
	m.AddAssistantWithCalls("asking", []llm.ToolCall{{ID: "tc-1", Name: "ask_user"}})
	m.AddToolResult("tc-1", `{"success":true}`, false)

	msgs := m.Messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, llm.RoleSystem, msgs[0].Role)
	assert.Equal(t, "ask_user", msgs[2].ToolCalls[0].Name)
	assert.Equal(t, "tc-1", msgs[3].ToolResults[0].ToolCallID)

	// Mutating the copy must not affect the manager.
	msgs[1].Content = "mutated"
	assert.Equal(t, "hi", m.Messages()[1].Content)
}

func TestSerializeRoundTrip(t *testing.T) {
	m := history.New()
	m.AddUser("hello")
	m.AddAssistant("world")

	raw, err := json.Marshal(m.Messages())
	require.NoError(t, err)

	var restored []llm.Message
	require.NoError(t, json.Unmarshal(raw, &restored))

	again := history.FromMessages(restored)
	assert.Equal(t, m.Messages(), again.Messages())
}

func TestCountTokens(t *testing.T) {
	m := history.New()
	assert.Equal(t, 0, m.CountTokens())

	m.AddUser("hello world, this is a longer sentence for counting")
	assert.Greater(t, m.CountTokens(), 0)
}

func TestCompactKeepsSystemMessage(t *testing.T) {
	m := history.New()
	m.AddSystem("system prompt stays")
	for i := 0; i < 20; i++ {
		m.AddUser(strings.Repeat("filler content ", 40))
	}

	before := m.CountTokens()
	require.NoError(t, m.CompactIfNeeded(before/4))

	msgs := m.Messages()
	assert.Equal(t, llm.RoleSystem, msgs[0].Role)
	assert.Less(t, m.CountTokens(), before)
	assert.Greater(t, m.Len(), 1)
}

func TestCompactDisabledWithZeroBudget(t *testing.T) {
	m := history.New()
	m.AddUser(strings.Repeat("x", 10000))
	require.NoError(t, m.CompactIfNeeded(0))
	assert.Equal(t, 1, m.Len())
}
