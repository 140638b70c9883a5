package llmcheck

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMention_Found(t *testing.T) {
	t.Parallel()

	answer := "1. Brew Bros Coffee\n2. The Daily Grind\n3. Cafe Luna\n"
	m := ParseMention(answer, "The Daily Grind")
	assert.True(t, m.Mentioned)
	require.NotNil(t, m.Rank)
	assert.Equal(t, 2, *m.Rank)
}

func TestParseMention_CaseInsensitive(t *testing.T) {
	t.Parallel()

	m := ParseMention("1. BREW BROS COFFEE\n", "brew bros coffee")
	assert.True(t, m.Mentioned)
	require.NotNil(t, m.Rank)
	assert.Equal(t, 1, *m.Rank)
}

func TestParseMention_NotMentioned(t *testing.T) {
	t.Parallel()

	m := ParseMention("1. Cafe Luna\n2. Brew Bros\n", "The Daily Grind")
	assert.False(t, m.Mentioned)
	assert.Nil(t, m.Rank)
}

func TestParseMention_SkipsBlankLines(t *testing.T) {
	t.Parallel()

	answer := "\n\n1. Cafe Luna\n\n2. The Daily Grind\n"
	m := ParseMention(answer, "The Daily Grind")
	require.NotNil(t, m.Rank)
	assert.Equal(t, 2, *m.Rank)
}

func TestParseMention_EmptyInputs(t *testing.T) {
	t.Parallel()

	assert.False(t, ParseMention("", "anything").Mentioned)
	assert.False(t, ParseMention("1. A place\n", "").Mentioned)
}

func TestNewAnthropic_NameAndOptions(t *testing.T) {
	t.Parallel()

	p := NewAnthropic("key", WithModel("claude-sonnet-4-5-20250929"))
	assert.Equal(t, "anthropic", p.Name())
}
