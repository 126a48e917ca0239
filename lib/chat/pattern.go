package chat

import (
	"strings"

	"github.com/gobwas/glob"
)

// compilePattern compiles a shell wildcard pattern for ListAccounts. There are no
// separators, so '*' and '?' also match '/'. Braces and backslashes are literals outside
// of character classes.
func compilePattern(pattern string) (glob.Glob, error) {
	var sb strings.Builder
	inClass := false
	for i, r := range pattern {
		switch {
		case inClass:
			// a ']' right after '[' or '[!' is part of the class
			if r == ']' && !strings.HasSuffix(pattern[:i], "[") && !strings.HasSuffix(pattern[:i], "[!") {
				inClass = false
			}
		case r == '[':
			inClass = true
		case r == '{' || r == '}' || r == '\\' || r == ',':
			sb.WriteRune('\\')
		}
		sb.WriteRune(r)
	}
	return glob.Compile(sb.String())
}
