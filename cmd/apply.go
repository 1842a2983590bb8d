package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	errors "github.com/Laisky/errors/v2"
	gcmd "github.com/Laisky/go-utils/v6/cmd"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Laisky/codepatch/internal/patch"
	"github.com/Laisky/codepatch/internal/patch/applicator"
	"github.com/Laisky/codepatch/internal/patch/editor"
	"github.com/Laisky/codepatch/internal/patch/parser"
	"github.com/Laisky/codepatch/library/log"
)

var applyCMD = &cobra.Command{
	Use:   "apply",
	Short: "apply",
	Long: `apply an LLM response (--response) or a YAML/JSON edit batch (--edits)
to a local directory (--dir) or a database project (--project)`,
	Args:    gcmd.NoExtraArgs,
	PreRunE: preRun,
	RunE:    runApply,
}

func init() {
	addTargetFlags(applyCMD)
	applyCMD.Flags().String("edits", "", "edit batch file, `-` for stdin")
	applyCMD.Flags().String("response", "", "raw LLM response file, `-` for stdin")
	applyCMD.Flags().String("mode", "full", "response mode, `full/surgical`")
	applyCMD.Flags().String("reason", "", "reason recorded on the backup")
	applyCMD.Flags().String("user", "", "user id recorded on the backup")
	applyCMD.Flags().Bool("dry-run", false, "print the diff without writing")
	rootCMD.AddCommand(applyCMD)
}

// editBatch is the file format of --edits. A bare list of edits is accepted too.
type editBatch struct {
	Reason string           `yaml:"reason"`
	Edits  []patch.LineEdit `yaml:"edits"`
}

// loadEditBatch decodes YAML, which covers JSON input as well.
func loadEditBatch(data []byte) (editBatch, error) {
	var batch editBatch
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return batch, errors.New("edit batch is empty")
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(trimmed, &doc); err != nil {
		return batch, errors.Wrap(err, "decode edit batch")
	}
	if len(doc.Content) == 0 {
		return batch, errors.New("edit batch is empty")
	}

	root := doc.Content[0]
	if root.Kind == yaml.SequenceNode {
		if err := root.Decode(&batch.Edits); err != nil {
			return batch, errors.Wrap(err, "decode edit list")
		}
	} else if err := root.Decode(&batch); err != nil {
		return batch, errors.Wrap(err, "decode edit batch")
	}

	if len(batch.Edits) == 0 {
		return batch, errors.New("edit batch has no edits")
	}
	return batch, nil
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, errors.Wrap(err, "read stdin")
		}
		return data, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read %q", path)
	}
	return data, nil
}

func runApply(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	flags := cmd.Flags()
	editsPath, _ := flags.GetString("edits")
	responsePath, _ := flags.GetString("response")
	rawMode, _ := flags.GetString("mode")
	reason, _ := flags.GetString("reason")
	userID, _ := flags.GetString("user")
	dryRun, _ := flags.GetBool("dry-run")

	if (editsPath == "") == (responsePath == "") {
		return errors.New("exactly one of --edits or --response is required")
	}

	tgt, err := openTarget(ctx, cmd, log.Logger.Named("apply"))
	if err != nil {
		return errors.WithStack(err)
	}
	defer tgt.close()

	var (
		files    patch.ProjectFileSet
		edits    []patch.LineEdit
		surgical bool
	)
	if editsPath != "" {
		data, err := readInput(cmd, editsPath)
		if err != nil {
			return errors.WithStack(err)
		}
		batch, err := loadEditBatch(data)
		if err != nil {
			return errors.WithStack(err)
		}
		edits, surgical = batch.Edits, true
		if reason == "" {
			reason = batch.Reason
		}
	} else {
		mode, err := parser.ParseMode(rawMode)
		if err != nil {
			return errors.WithStack(err)
		}
		data, err := readInput(cmd, responsePath)
		if err != nil {
			return errors.WithStack(err)
		}
		parsed, err := parser.Parse(string(data), mode)
		if err != nil {
			return errors.Wrap(err, "parse response")
		}
		if msg := parsed.MessageToUser(); msg != "" {
			fmt.Fprintln(cmd.ErrOrStderr(), msg)
		}
		if parsed.Full != nil {
			files = parsed.Full.Files
		} else {
			edits, surgical = parsed.Surgical.Edits, true
		}
		if reason == "" {
			reason = "apply " + string(mode) + " response"
		}
	}

	if dryRun {
		return previewChanges(ctx, cmd.OutOrStdout(), tgt, files, edits, surgical)
	}

	req := applicator.ApplyRequest{
		ProjectID: tgt.project,
		UserID:    userID,
		Reason:    reason,
	}
	var result *applicator.ApplyResult
	if surgical {
		result = tgt.applier.ApplyEdits(ctx, req, edits)
	} else {
		req.Files = files
		result = tgt.applier.ApplyChanges(ctx, req)
	}
	return printResult(cmd.OutOrStdout(), result)
}

// previewChanges prints what an apply would change.
func previewChanges(ctx context.Context, out io.Writer, tgt *target, files patch.ProjectFileSet, edits []patch.LineEdit, surgical bool) error {
	snapshot, err := tgt.files.CaptureProjectState(ctx, tgt.project)
	if err != nil {
		return errors.WithStack(err)
	}

	next := files
	if surgical {
		if next, err = editor.ApplyEdits(snapshot.Files, edits); err != nil {
			return errors.WithStack(err)
		}
	}

	changes := applicator.Diff(snapshot.Files, next)
	if len(changes) == 0 {
		fmt.Fprintln(out, "no changes")
		return nil
	}
	for _, change := range changes {
		added, removed := editor.LineStats(change.OldContent, change.NewContent)
		fmt.Fprintf(out, "=== %s (%s, +%d -%d)\n", change.Path, change.ChangeType, added, removed)
		fmt.Fprint(out, editor.Preview(change.OldContent, change.NewContent, 3))
	}
	return nil
}

// printResult writes the result as JSON and turns a failure into an error.
func printResult(out io.Writer, result *applicator.ApplyResult) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(result); err != nil {
		return errors.Wrap(err, "encode result")
	}
	if !result.Success {
		return errors.Errorf("%s: %s", result.Code, strings.TrimSpace(result.Error))
	}
	return nil
}
