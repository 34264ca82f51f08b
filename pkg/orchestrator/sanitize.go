package orchestrator

import "strings"

var promptReplacer = strings.NewReplacer("`", "", "$", "", "\\", "")

// SanitizePrompt strips characters that could break out of the shell context
// the agent runs in: backticks, dollar signs, backslashes, and a leading
// dash on any line (which an agent CLI would parse as a flag).
func SanitizePrompt(prompt string) string {
	out := promptReplacer.Replace(prompt)
	lines := strings.Split(out, "\n")
	for i, line := range lines {
		indent := len(line) - len(strings.TrimLeft(line, " \t"))
		rest := strings.TrimLeft(line[indent:], "-")
		lines[i] = line[:indent] + rest
	}
	return strings.Join(lines, "\n")
}
