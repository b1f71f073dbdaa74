package process

import "strings"

// shellPlaceholder is the literal template token spec.md §4.A says the
// configured shell-command vector substitutes the task's command into.
const shellPlaceholder = "{{ pueue_command_string }}"

// RenderShellCommand substitutes shellPlaceholder in every element of
// shellCmd with command, returning the argv to exec.
func RenderShellCommand(shellCmd []string, command string) []string {
	out := make([]string, len(shellCmd))
	for i, arg := range shellCmd {
		out[i] = strings.ReplaceAll(arg, shellPlaceholder, command)
	}
	return out
}
