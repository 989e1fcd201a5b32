package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aymanbagabas/go-udiff"
	"github.com/jingkaihe/enhancer/pkg/enhance"
	"github.com/jingkaihe/enhancer/pkg/presenter"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var enhanceCmd = &cobra.Command{
	Use:   "enhance [prompt]",
	Short: "Rewrite a prompt with the configured provider and model",
	Long: `Rewrite a prompt through the Anthropic Messages API. The prompt is taken from
the arguments, or read from stdin when no arguments are given.

Examples:
  enhancer enhance "fix the login bug"
  git diff | enhancer enhance --diff`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		input, err := readInput(args, cmd.InOrStdin())
		if err != nil {
			return err
		}

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()
		a.loadHostProviders(ctx)

		enhanced, err := a.invoker().Enhance(ctx, input)
		if err != nil {
			return errors.Wrapf(err, "enhancement failed (%s)", enhance.Kind(err))
		}

		asJSON, _ := cmd.Flags().GetBool("json")
		showDiff, _ := cmd.Flags().GetBool("diff")
		out := cmd.OutOrStdout()
		switch {
		case asJSON:
			return writeEnhanceJSON(out, input, enhanced)
		case showDiff:
			presenter.NewWithOptions(out, cmd.ErrOrStderr(), presenter.ColorAuto).Diff(enhanceDiff(input, enhanced))
		default:
			fmt.Fprintln(out, enhanced)
		}
		return nil
	},
}

func init() {
	enhanceCmd.Flags().Bool("json", false, "Print the original and enhanced prompt as JSON")
	enhanceCmd.Flags().Bool("diff", false, "Print a unified diff between the original and enhanced prompt")
}

// readInput joins the arguments, or reads all of stdin when there are none.
func readInput(args []string, stdin io.Reader) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	if f, ok := stdin.(*os.File); ok {
		if info, err := f.Stat(); err == nil && info.Mode()&os.ModeCharDevice != 0 {
			return "", errors.New("no prompt given: pass it as an argument or pipe it on stdin")
		}
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", errors.Wrap(err, "failed to read prompt from stdin")
	}
	return string(data), nil
}

func enhanceDiff(original, enhanced string) string {
	return udiff.Unified("original", "enhanced", withTrailingNewline(original), withTrailingNewline(enhanced))
}

func withTrailingNewline(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	return s + "\n"
}

func writeEnhanceJSON(w io.Writer, original, enhanced string) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]string{
		"original": strings.TrimSpace(original),
		"enhanced": enhanced,
	})
}
