// Package parser turns raw LLM output into validated change requests.
package parser

import (
	"encoding/json"
	"strings"

	errors "github.com/Laisky/errors/v2"

	"github.com/Laisky/codepatch/internal/patch"
)

// Mode selects the response shape the parser expects.
type Mode string

const (
	// ModeFull expects complete replacement content per touched file.
	ModeFull Mode = "full"
	// ModeSurgical expects a list of line-addressed edits.
	ModeSurgical Mode = "surgical"
)

// ParseMode converts user input into a Mode, defaulting to ModeFull.
func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ModeFull:
		return ModeFull, nil
	case ModeSurgical:
		return ModeSurgical, nil
	default:
		return "", errors.WithStack(patch.NewValidationError(patch.ErrCodeInvalidField, "mode", "unknown parse mode %q", raw))
	}
}

// Parsed is the tagged result of Parse. Exactly one of Full and Surgical is set.
type Parsed struct {
	Mode     Mode
	Full     *patch.ParsedAIResponse
	Surgical *patch.SurgicalResponse
}

// MessageToUser returns the user-facing message of whichever variant is set.
func (p *Parsed) MessageToUser() string {
	switch {
	case p == nil:
		return ""
	case p.Full != nil:
		return p.Full.MessageToUser
	case p.Surgical != nil:
		return p.Surgical.MessageToUser
	default:
		return ""
	}
}

// RequiresConfirmation reports whether the LLM asked for explicit confirmation.
func (p *Parsed) RequiresConfirmation() bool {
	switch {
	case p == nil:
		return false
	case p.Full != nil:
		return p.Full.RequiresConfirmation
	case p.Surgical != nil:
		return p.Surgical.RequiresConfirmation
	default:
		return false
	}
}

// Parse converts raw LLM text into a validated response for the given mode.
//
// Failures are never retried internally. The returned error is a
// *patch.ParseError, *patch.ValidationError or *patch.PlaceholderError.
func Parse(raw string, mode Mode) (*Parsed, error) {
	switch mode {
	case ModeFull, "":
		resp, err := ParseFull(raw)
		if err != nil {
			return nil, err
		}
		return &Parsed{Mode: ModeFull, Full: resp}, nil
	case ModeSurgical:
		resp, err := ParseSurgical(raw)
		if err != nil {
			return nil, err
		}
		return &Parsed{Mode: ModeSurgical, Surgical: resp}, nil
	default:
		return nil, errors.WithStack(patch.NewValidationError(patch.ErrCodeInvalidField, "mode", "unknown mode %q", mode))
	}
}

// ParseFull runs the full recovery ladder and validates the surviving candidate.
func ParseFull(raw string) (*patch.ParsedAIResponse, error) {
	candidate, err := Recover(raw)
	if err != nil {
		return nil, err
	}
	return candidate.Validate()
}

// ParseSurgical decodes a surgical response. Only a direct decode is attempted.
func ParseSurgical(raw string) (*patch.SurgicalResponse, error) {
	var directErr error
	for i, payload := range candidatePayloads(raw) {
		fields, err := decodeObject(payload)
		if err == nil {
			return newCandidate(fields, patch.AttemptDirect).ValidateSurgical()
		}
		if i == 0 {
			directErr = err
		}
	}
	return nil, errors.WithStack(&patch.ParseError{InputLength: len(raw), DirectErr: directErr})
}

// Recover runs the parse ladder and returns the first candidate that decodes.
//
// The extracted payload is tried first. When it differs from the trimmed
// input and that input looks like a bare JSON object, the input goes
// through the same steps, so a fence inside a file value never hides the
// real document. Reported causes are those of the extracted payload.
func Recover(raw string) (*RawCandidate, error) {
	payloads := candidatePayloads(raw)

	var directErr, sanitizeErr error
	for i, payload := range payloads {
		fields, err := decodeObject(payload)
		if err == nil {
			return newCandidate(fields, patch.AttemptDirect), nil
		}
		if i == 0 {
			directErr = err
		}

		fields, err = decodeObject(sanitize(payload))
		if err == nil {
			return newCandidate(fields, patch.AttemptSanitized), nil
		}
		if i == 0 {
			sanitizeErr = err
		}
	}

	for _, payload := range payloads {
		if fields, ok := recoverPartial(payload); ok {
			return newCandidate(fields, patch.AttemptPartial), nil
		}
	}

	return nil, errors.WithStack(&patch.ParseError{
		InputLength: len(raw),
		DirectErr:   directErr,
		SanitizeErr: sanitizeErr,
	})
}

// candidatePayloads lists the texts the ladder runs on, extracted payload first.
func candidatePayloads(raw string) []string {
	payload := ExtractPayload(raw)
	whole := strings.TrimSpace(raw)
	if whole != payload && strings.HasPrefix(whole, "{") {
		return []string{payload, whole}
	}
	return []string{payload}
}

// ExtractPayload isolates the JSON text from surrounding prose.
//
// An input that is already a valid JSON object is returned as is, since any
// fence in it sits inside a string value. Otherwise a ```json fence wins
// over a bare ``` fence, which wins over the whole input. A fence runs to
// the first closer that yields valid JSON, else to the last closing marker.
func ExtractPayload(raw string) string {
	whole := strings.TrimSpace(raw)
	if strings.HasPrefix(whole, "{") && json.Valid([]byte(whole)) {
		return whole
	}
	if body, ok := fencedBody(raw, "```json"); ok {
		return body
	}
	if body, ok := fencedBody(raw, "```"); ok {
		return body
	}
	return whole
}

// fencedBody returns the text between an opening marker and the last closing fence.
func fencedBody(raw, marker string) (string, bool) {
	start := strings.Index(raw, marker)
	if start < 0 {
		return "", false
	}
	rest := raw[start+len(marker):]
	// skip the info string of the opening line, e.g. "```json" or "```JSON "
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 && strings.TrimSpace(rest[:nl]) == "" {
		rest = rest[nl+1:]
	} else if marker == "```" && nl >= 0 && !strings.ContainsAny(rest[:nl], "{[\"") {
		rest = rest[nl+1:]
	}

	closers := fenceIndexes(rest)
	if len(closers) == 0 {
		return "", false
	}
	// the first closer yielding valid JSON wins, else the last one
	for _, end := range closers {
		if body := strings.TrimSpace(rest[:end]); json.Valid([]byte(body)) {
			return body, true
		}
	}
	body := strings.TrimSpace(rest[:closers[len(closers)-1]])
	if body == "" {
		return "", false
	}
	return body, true
}

// fenceIndexes returns the byte offsets of every ``` marker in text.
func fenceIndexes(text string) []int {
	var idx []int
	offset := 0
	for {
		i := strings.Index(text[offset:], "```")
		if i < 0 {
			return idx
		}
		idx = append(idx, offset+i)
		offset += i + 3
	}
}

// decodeObject decodes a JSON object into a generic field map.
func decodeObject(payload string) (map[string]any, error) {
	if strings.TrimSpace(payload) == "" {
		return nil, errors.New("empty payload")
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(payload), &fields); err != nil {
		return nil, errors.Wrap(err, "decode json object")
	}
	if fields == nil {
		return nil, errors.New("payload is not a json object")
	}
	return fields, nil
}
