package generate

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

const maxTitleLen = 60

// FallbackBranchName derives a branch name from the task id and the current
// time. Used whenever AI generation is unconfigured, fails, or misses the
// grace window before environment creation.
func FallbackBranchName(taskID string) string {
	short := taskID
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("agent/%s-%d", short, time.Now().Unix())
}

// FallbackTitle derives a title from the first line of the prompt, truncated
// on a word boundary.
func FallbackTitle(prompt string) string {
	line := strings.TrimSpace(strings.SplitN(prompt, "\n", 2)[0])
	if line == "" {
		return "Agent task"
	}
	if len(line) <= maxTitleLen {
		return line
	}
	cut := strings.LastIndexFunc(line[:maxTitleLen], unicode.IsSpace)
	if cut <= 0 {
		cut = maxTitleLen
	}
	return strings.TrimSpace(line[:cut]) + "..."
}

// FallbackCommitMessage derives a commit message from the prompt.
func FallbackCommitMessage(prompt string) string {
	return "Agent: " + FallbackTitle(prompt)
}
