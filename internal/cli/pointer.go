package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/jsonsync/internal/pointer"
)

// NewPointerCommand creates the pointer command with parse and format
// subcommands.
func NewPointerCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pointer",
		Short: "Convert between JSON pointers and key lists",
	}
	cmd.AddCommand(newPointerParseCommand(rootOpts))
	cmd.AddCommand(newPointerFormatCommand(rootOpts))
	return cmd
}

func newPointerParseCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "parse <pointer>",
		Short: "Split a JSON pointer into its keys",
		Long: `Split a JSON pointer into unescaped keys.

Examples:
  jsonsync pointer parse /a~1b/0
  jsonsync pointer parse "" --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(rootOpts, cmd)
			path, err := pointer.Parse(args[0])
			if err != nil {
				_ = out.Error(ErrCodeInvalidInput, err.Error(), nil)
				return WrapExitError(ExitFailure, "invalid pointer", err)
			}
			keys := []string(path)
			if keys == nil {
				keys = []string{}
			}
			if rootOpts.Format == "json" {
				return out.Success(keys)
			}
			data, err := json.Marshal(keys)
			if err != nil {
				return WrapExitError(ExitCommandError, "encode keys", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

func newPointerFormatCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "format [key...]",
		Short: "Join keys into a JSON pointer",
		Long: `Escape and join keys into a JSON pointer. No keys is the root.

Examples:
  jsonsync pointer format a/b 0`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(rootOpts, cmd)
			s := pointer.Format(pointer.Path(args))
			if rootOpts.Format == "json" {
				return out.Success(s)
			}
			fmt.Fprintln(cmd.OutOrStdout(), s)
			return nil
		},
	}
}
