package generate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFallbackBranchName(t *testing.T) {
	name := FallbackBranchName("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	assert.True(t, strings.HasPrefix(name, "agent/6ba7b810-"), "got %q", name)

	short := FallbackBranchName("abc")
	assert.True(t, strings.HasPrefix(short, "agent/abc-"), "got %q", short)
}

func TestFallbackTitle(t *testing.T) {
	t.Run("FirstLine", func(t *testing.T) {
		assert.Equal(t, "Fix the login bug", FallbackTitle("Fix the login bug\nIt happens when..."))
	})

	t.Run("TruncatesOnWordBoundary", func(t *testing.T) {
		long := strings.Repeat("word ", 30)
		title := FallbackTitle(long)
		assert.LessOrEqual(t, len(title), 64)
		assert.True(t, strings.HasSuffix(title, "..."))
		assert.False(t, strings.Contains(title, "  "))
	})

	t.Run("EmptyPrompt", func(t *testing.T) {
		assert.Equal(t, "Agent task", FallbackTitle("   \n"))
	})
}

func TestFallbackCommitMessage(t *testing.T) {
	assert.Equal(t, "Agent: Fix the login bug", FallbackCommitMessage("Fix the login bug"))
}
