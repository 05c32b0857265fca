package exec

import "testing"

func TestControlCharsMatchesNewlineAndCR(t *testing.T) {
	cases := map[string]bool{
		"ls -la":          false,
		"echo hi\nrm -rf": true,
		"echo hi\r\nrm":   true,
		"printf 'a\\nb'":  false, // escaped, not a literal control char
	}
	for input, want := range cases {
		if got := ControlChars.MatchString(input); got != want {
			t.Errorf("ControlChars.MatchString(%q) = %v, want %v", input, got, want)
		}
	}
}
