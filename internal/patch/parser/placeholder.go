package parser

import (
	"regexp"
	"strings"
)

// regexpEllipsisLine matches a line holding nothing but an ellipsis,
// optionally commented. Group 1 is the comment opener.
var regexpEllipsisLine = regexp.MustCompile(`^[ \t]*((?://|#|/\*|<!--|\{/\*|--)?)[ \t]*(?:\.\.\.|…)[ \t]*(?:\*/\}?|-->)?[ \t]*$`)

// placeholderPatterns match comments an LLM writes when it truncates a file
// instead of emitting it completely. A JS spread such as `...args` does not
// match: an ellipsis only counts when it stands alone on its line.
var placeholderPatterns = []*regexp.Regexp{
	// an ellipsis followed by words about omitted code inside a comment
	regexp.MustCompile(`(?im)(?://|#|/\*|<!--|\{/\*)[ \t]*(?:\.\.\.|…)[ \t]*(?:rest|remaining|existing|other|previous|same|more)\b`),
	// comments announcing omitted or unchanged code
	regexp.MustCompile(`(?im)(?://|#|/\*|<!--|\{/\*)[^\n]*\b(?:rest of (?:the )?(?:file|code|component|implementation|function|class|content)|existing code|remains? (?:the )?same|(?:code|file|content|rest|everything else) (?:is |stays |remains )?unchanged)\b`),
	// a comment saying only "unchanged"
	regexp.MustCompile(`(?im)(?://|#|/\*|<!--|\{/\*)[ \t]*(?:\.\.\.|…)?[ \t]*unchanged[ \t.…]*(?:\*/\}?|-->)?[ \t]*$`),
}

// DetectPlaceholder reports whether content contains a truncation marker and
// returns the matched text.
func DetectPlaceholder(content string) (string, bool) {
	if content == "" {
		return "", false
	}
	if line, ok := findEllipsisLine(content); ok {
		return strings.TrimSpace(line), true
	}
	for _, pattern := range placeholderPatterns {
		if match := pattern.FindString(content); match != "" {
			return strings.TrimSpace(match), true
		}
	}
	return "", false
}

// findEllipsisLine returns the first ellipsis-only line. A bare `...` right
// under a line ending in ':' is a Python stub body and is skipped.
func findEllipsisLine(content string) (string, bool) {
	prev := ""
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimRight(line, "\r")
		if m := regexpEllipsisLine.FindStringSubmatch(line); m != nil {
			if m[1] != "" || !strings.HasSuffix(prev, ":") {
				return line, true
			}
		}
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			prev = trimmed
		}
	}
	return "", false
}
