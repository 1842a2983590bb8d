package mcp

import (
	"encoding/json"
)

// redactedKeys hold file contents or model output, which stay out of logs.
var redactedKeys = map[string]struct{}{
	"content":    {},
	"text":       {},
	"backupData": {},
}

// redactMCPBody redacts file contents from MCP payloads.
func redactMCPBody(raw string) string {
	if raw == "" {
		return raw
	}
	var payload any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return raw
	}
	out, err := json.Marshal(redactMCPValue(payload))
	if err != nil {
		return raw
	}
	return string(out)
}

// redactMCPValue recursively redacts nested payloads.
func redactMCPValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		output := make(map[string]any, len(v))
		for key, item := range v {
			output[key] = redactField(key, item)
		}
		return output
	case []any:
		result := make([]any, 0, len(v))
		for _, item := range v {
			result = append(result, redactMCPValue(item))
		}
		return result
	default:
		return value
	}
}

func redactField(key string, value any) any {
	if _, ok := redactedKeys[key]; ok {
		if text, ok := value.(string); ok {
			return redactedMarker(text)
		}
	}
	if files, ok := value.(map[string]any); ok && key == "files" {
		output := make(map[string]any, len(files))
		for path, content := range files {
			text, _ := content.(string)
			output[path] = redactedMarker(text)
		}
		return output
	}
	return redactMCPValue(value)
}

func redactedMarker(text string) map[string]any {
	return map[string]any{"redacted": true, "bytes": len(text)}
}

// redactHookPayload renders a redacted JSON string for hook logging.
func redactHookPayload(payload any) string {
	data, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	return redactMCPBody(string(data))
}
