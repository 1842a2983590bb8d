package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var (
	regexpInnerFence   = regexp.MustCompile("(?s)```.*?```")
	regexpThought      = regexp.MustCompile(`"thought"\s*:\s*"((?:[^"\\]|\\.)*)"`)
	regexpMessage      = regexp.MustCompile(`"messageToUser"\s*:\s*"((?:[^"\\]|\\.)*)"`)
	regexpConfirmation = regexp.MustCompile(`"requiresConfirmation"\s*:\s*(true|false)`)
	regexpFilesKey     = regexp.MustCompile(`"files"\s*:\s*\{`)
	regexpFilePair     = regexp.MustCompile(`"((?:[^"\\]|\\.)+)"\s*:\s*"((?:[^"\\]|\\.)*)"`)

	partialUnescaper = strings.NewReplacer(`\\`, `\`, `\n`, "\n", `\"`, `"`, `\t`, "\t", `\r`, "\r")

	reservedKeys = map[string]struct{}{
		"thought":              {},
		"plan":                 {},
		"files":                {},
		"messageToUser":        {},
		"requiresConfirmation": {},
		"tool":                 {},
		"arguments":            {},
	}
)

// sanitize repairs the most common LLM JSON defects.
//
// Fenced sub-blocks are swapped for tokens so their quotes and newlines do
// not collide with the outer JSON, raw control characters inside string
// literals are escaped, the result is normalized through a decode/encode
// round trip when possible, and the blocks are re-injected through
// escapeBlock.
func sanitize(payload string) string {
	var blocks []string
	tokenized := regexpInnerFence.ReplaceAllStringFunc(payload, func(block string) string {
		token := fmt.Sprintf("__CODE_BLOCK_%d__", len(blocks))
		blocks = append(blocks, block)
		return token
	})

	normalized := escapeControlChars(tokenized)
	var decoded any
	if err := json.Unmarshal([]byte(normalized), &decoded); err == nil {
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(decoded); err == nil {
			normalized = strings.TrimSpace(buf.String())
		}
	}

	for i, block := range blocks {
		token := fmt.Sprintf("__CODE_BLOCK_%d__", i)
		normalized = strings.Replace(normalized, token, escapeBlock(block), 1)
	}

	return normalized
}

// escapeBlock makes a fenced block taken from inside a JSON string literal
// legal again. Valid escape sequences are kept; raw control characters,
// bare quotes and stray backslashes are escaped.
func escapeBlock(block string) string {
	var builder strings.Builder
	builder.Grow(len(block) + 16)

	for i := 0; i < len(block); i++ {
		ch := block[i]
		switch ch {
		case '\\':
			if i+1 < len(block) && strings.IndexByte(`"\\/bfnrtu`, block[i+1]) >= 0 {
				builder.WriteByte(ch)
				builder.WriteByte(block[i+1])
				i++
				continue
			}
			builder.WriteString(`\\`)
		case '"':
			builder.WriteString(`\"`)
		case '\n':
			builder.WriteString(`\n`)
		case '\r':
			builder.WriteString(`\r`)
		case '\t':
			builder.WriteString(`\t`)
		default:
			builder.WriteByte(ch)
		}
	}

	return builder.String()
}

// escapeControlChars escapes raw newline, carriage return and tab characters
// that appear inside JSON string literals.
func escapeControlChars(payload string) string {
	var (
		builder  strings.Builder
		inString bool
		escaped  bool
	)
	builder.Grow(len(payload) + 16)

	for i := 0; i < len(payload); i++ {
		ch := payload[i]
		if !inString {
			if ch == '"' {
				inString = true
			}
			builder.WriteByte(ch)
			continue
		}

		switch {
		case escaped:
			escaped = false
			builder.WriteByte(ch)
		case ch == '\\':
			escaped = true
			builder.WriteByte(ch)
		case ch == '"':
			inString = false
			builder.WriteByte(ch)
		case ch == '\n':
			builder.WriteString(`\n`)
		case ch == '\r':
			builder.WriteString(`\r`)
		case ch == '\t':
			builder.WriteString(`\t`)
		default:
			builder.WriteByte(ch)
		}
	}

	return builder.String()
}

// recoverPartial extracts the scalar fields and a flat files object by regex.
// It reports false when nothing useful could be recovered.
func recoverPartial(payload string) (map[string]any, bool) {
	fields := map[string]any{}

	if m := regexpThought.FindStringSubmatch(payload); m != nil {
		fields["thought"] = partialUnescaper.Replace(m[1])
	}
	if m := regexpMessage.FindStringSubmatch(payload); m != nil {
		fields["messageToUser"] = partialUnescaper.Replace(m[1])
	}
	if m := regexpConfirmation.FindStringSubmatch(payload); m != nil {
		fields["requiresConfirmation"] = m[1] == "true"
	}

	if loc := regexpFilesKey.FindStringIndex(payload); loc != nil {
		files := map[string]any{}
		for _, m := range regexpFilePair.FindAllStringSubmatch(payload[loc[1]:], -1) {
			path := partialUnescaper.Replace(m[1])
			if _, reserved := reservedKeys[path]; reserved {
				continue
			}
			files[path] = partialUnescaper.Replace(m[2])
		}
		if len(files) > 0 {
			fields["files"] = files
		}
	}

	_, hasThought := fields["thought"]
	_, hasMessage := fields["messageToUser"]
	_, hasFiles := fields["files"]
	if !hasThought && !hasMessage && !hasFiles {
		return nil, false
	}
	return fields, true
}
