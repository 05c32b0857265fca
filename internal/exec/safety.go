// Package exec holds small, shared validation helpers for command text that
// flows onto the shared PTY/SSH channel. It used to validate argv-style
// executable/argument values for direct exec.Command invocation; that no
// longer fits a terminal agent whose execute_shell tool hands a whole shell
// command line to the user's own shell, metacharacters and all. What remains
// is the one check that still applies regardless of shell syntax: a command
// string must not smuggle a control character past whatever the classifier
// read on its first line.
package exec

import "regexp"

// ControlChars matches control characters like newlines and carriage
// returns. A command containing one can visually classify as one line while
// executing a second, unclassified one on the terminal.
var ControlChars = regexp.MustCompile(`[\r\n]`)
