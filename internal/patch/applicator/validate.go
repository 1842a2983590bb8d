package applicator

import (
	"fmt"
	"path"
	"strings"

	errors "github.com/Laisky/errors/v2"

	"github.com/Laisky/codepatch/internal/patch"
	"github.com/Laisky/codepatch/library/config"
)

// Settings configures change validation.
type Settings struct {
	// CodeExtensions lists the lowercase extensions, with leading dot, whose
	// content must have balanced brackets.
	CodeExtensions []string
}

// DefaultCodeExtensions returns the extensions checked when none are configured.
func DefaultCodeExtensions() []string {
	return []string{
		".js", ".jsx", ".mjs", ".cjs", ".ts", ".tsx", ".vue", ".svelte",
		".css", ".scss", ".less",
		".go", ".java", ".kt", ".c", ".h", ".cc", ".cpp", ".hpp", ".cs", ".rs", ".swift", ".php",
	}
}

// LoadSettingsFromConfig reads configuration and applies safe defaults.
func LoadSettingsFromConfig() Settings {
	exts := config.StringSlice("settings.codepatch.validation.code_extensions", DefaultCodeExtensions())
	normalized := make([]string, 0, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		normalized = append(normalized, ext)
	}
	return Settings{CodeExtensions: normalized}
}

// IsCodeFile reports whether path has one of the given extensions.
func IsCodeFile(filePath string, extensions []string) bool {
	ext := strings.ToLower(path.Ext(filePath))
	if ext == "" {
		return false
	}
	for _, candidate := range extensions {
		if candidate == ext {
			return true
		}
	}
	return false
}

var bracketPairs = [...]struct{ open, close byte }{
	{'{', '}'},
	{'(', ')'},
	{'[', ']'},
}

// CheckBrackets compares the counts of opening and closing brackets.
// It is a sanity check for truncated output, not a parser: brackets inside
// strings and comments are counted too.
func CheckBrackets(content string) error {
	var problems []string
	for _, pair := range bracketPairs {
		opened := strings.Count(content, string(pair.open))
		closed := strings.Count(content, string(pair.close))
		if opened != closed {
			problems = append(problems, fmt.Sprintf("%d %q vs %d %q", opened, pair.open, closed, pair.close))
		}
	}
	if len(problems) > 0 {
		return errors.Errorf("unbalanced brackets: %s", strings.Join(problems, ", "))
	}
	return nil
}

// validateChanges checks every non-delete code file and names all failures.
func (a *Applicator) validateChanges(changes []patch.FileChange) error {
	var (
		files   []string
		details []string
	)
	for _, change := range changes {
		if change.ChangeType == patch.ChangeDelete || !IsCodeFile(change.Path, a.settings.CodeExtensions) {
			continue
		}
		if err := CheckBrackets(change.NewContent); err != nil {
			files = append(files, change.Path)
			details = append(details, change.Path+": "+err.Error())
		}
	}
	if len(files) == 0 {
		return nil
	}
	return errors.WithStack(patch.NewValidationError(patch.ErrCodeUnbalanced, strings.Join(files, ","),
		"validation failed for %d file(s): %s", len(files), strings.Join(details, "; ")))
}
