// Package mkdir provides the mkdir command.
package mkdir

import (
	"context"
	"fmt"

	"github.com/ianusa/phoeup/cmd"
	"github.com/ianusa/phoeup/pathresolver"
	"github.com/spf13/cobra"
)

func init() {
	cmd.Root.AddCommand(commandDefinition)
}

var commandDefinition = &cobra.Command{
	Use:   "mkdir PATH",
	Short: `Make the folder path if it doesn't already exist.`,
	Long: `
Make every folder of PATH below the destination folder, reusing those
which exist, then print the ID of the last one.
`,
	Args: cobra.ExactArgs(1),
	RunE: func(command *cobra.Command, args []string) error {
		return cmd.Run(command, func(ctx context.Context, env *cmd.Env) error {
			res := pathresolver.New(env.Client, env.Metrics)
			id, err := res.EnsureDir(ctx, env.FolderID, args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(command.OutOrStdout(), id)
			return err
		})
	},
}
