package orchestrator

import (
	"fmt"
	"strings"

	"github.com/Laisky/codepatch/internal/patch"
	"github.com/Laisky/codepatch/internal/patch/parser"
)

const fullInstructions = `You edit a multi-file project. Answer with one JSON object:
{"thought": string, "plan": [string], "files": {path: full new content}, "messageToUser": string, "requiresConfirmation": bool}
Rules:
- "files" holds only files you create or change, each with its COMPLETE content.
- Never abbreviate content with "...", "rest of file" or "existing code" comments.
- Map a path to "" to delete that file.
- Set "requiresConfirmation" when the change is large or destructive.`

const surgicalInstructions = `You edit a multi-file project with line-addressed edits. Answer with one JSON object:
{"thought": string, "edits": [edit], "messageToUser": string, "requiresConfirmation": bool}
Each edit is {"file", "action", "startLine", "endLine", "insertAfterLine", "content", "description"}:
- "replace" and "delete" need startLine and endLine (1-based, inclusive).
- "insert" needs insertAfterLine (0 inserts at the top) and content.
- "create" needs content and makes a new file.
Line numbers refer to the files exactly as shown below, before any edit.
Never let two edits touch the same lines. Never use placeholder comments.`

// BuildPrompt returns the instructions and input for one generation.
// Surgical mode numbers every line so the model can address them.
func BuildPrompt(mode parser.Mode, files patch.ProjectFileSet, instruction string) (instructions, input string) {
	instructions = fullInstructions
	if mode == parser.ModeSurgical {
		instructions = surgicalInstructions
	}

	var b strings.Builder
	b.WriteString("Project files:\n")
	paths := files.Paths()
	if len(paths) == 0 {
		b.WriteString("(empty project)\n")
	}
	for _, path := range paths {
		fmt.Fprintf(&b, "\n=== %s ===\n", path)
		if mode == parser.ModeSurgical {
			writeNumbered(&b, files[path])
			continue
		}
		b.WriteString(files[path])
		if !strings.HasSuffix(files[path], "\n") {
			b.WriteString("\n")
		}
	}
	fmt.Fprintf(&b, "\nRequest:\n%s\n", strings.TrimSpace(instruction))
	return instructions, b.String()
}

func writeNumbered(b *strings.Builder, content string) {
	if content == "" {
		return
	}
	lines := strings.Split(strings.TrimSuffix(content, "\n"), "\n")
	width := len(fmt.Sprint(len(lines)))
	for i, line := range lines {
		fmt.Fprintf(b, "%*d| %s\n", width, i+1, line)
	}
}
