package exec

import (
	"regexp"
	"strings"
)

// containerExecPattern matches a `docker|podman|nerdctl exec -it <id> <shell>`
// style container-entry command (spec.md §4.4 step 7). The interactive flag
// may appear in any of its short/long forms and in any position relative to
// the container id, so the flag and the trailing shell token are captured
// independently rather than anchored to one fixed argument order.
var containerExecPattern = regexp.MustCompile(
	`(?i)\b(docker|podman|nerdctl)\s+exec\b.*\s(-it|-ti|-i|-t|--interactive|--tty)\b\s+(\S+)\s+(\S+)\s*$`,
)

// containerExitPattern matches the commands that end a container-nesting
// level when issued while already inside one (spec.md §4.4 step 7): bare
// `exit`/`logout`, or `exit` followed by an argument (exit code).
var containerExitPattern = regexp.MustCompile(`(?i)^\s*(exit(\s+\S+)?|logout)\s*$`)

// recognizedShells maps the trailing shell token of a container exec
// command to the normalized shell name the container-nesting snapshot
// stores (spec.md §4.4 step 7, "shell_normalized_to {bash|zsh|sh}").
var recognizedShells = map[string]string{
	"bash":      "bash",
	"/bin/bash": "bash",
	"zsh":       "zsh",
	"/bin/zsh":  "zsh",
	"sh":        "sh",
	"/bin/sh":   "sh",
}

// ContainerEntry reports whether command is a recognized
// `<runtime> exec -it <id> <shell>` invocation, returning the container id,
// the runtime name (lowercased), and the shell normalized to {bash,zsh,sh}.
func ContainerEntry(command string) (id, runtime, shell string, ok bool) {
	m := containerExecPattern.FindStringSubmatch(command)
	if m == nil {
		return "", "", "", false
	}
	normalized, recognized := recognizedShells[m[4]]
	if !recognized {
		return "", "", "", false
	}
	return m[3], strings.ToLower(m[1]), normalized, true
}

// IsContainerExit reports whether command is one of the commands that pop
// a container-nesting level (spec.md §4.4 step 7): `exit`, `exit <code>`,
// or `logout`.
func IsContainerExit(command string) bool {
	return containerExitPattern.MatchString(command)
}
