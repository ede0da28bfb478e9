// Package upload provides the upload command.
package upload

import (
	"context"
	"fmt"
	"os"

	"github.com/ianusa/phoeup/cmd"
	"github.com/ianusa/phoeup/tree"
	"github.com/rclone/rclone/fs"
	"github.com/spf13/cobra"
)

var (
	flat bool
)

func init() {
	cmd.Root.AddCommand(commandDefinition)
	cmdFlags := commandDefinition.Flags()
	cmdFlags.BoolVarP(&flat, "flat", "", false, "List each directory up front like a folder picker instead of walking it")
}

var commandDefinition = &cobra.Command{
	Use:   "upload PATH...",
	Short: `Upload files and directories.`,
	Long: `
Upload the files and directories named into the destination folder.

Files are uploaded into the destination folder itself. Each directory is
recreated as a folder of the same name with its whole tree below it.
Folders which already exist on the server are reused. Empty files are
skipped.

Files are uploaded one after another, each split into 10 MiB chunks of
which --upload-concurrency are sent at once. A file which fails does not
stop the others. Interrupting with CTRL-C stops starting new chunks and
waits for those already sent.
`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(command *cobra.Command, args []string) error {
		return cmd.Run(command, func(ctx context.Context, env *cmd.Env) error {
			src, err := newSource(ctx, args, flat)
			if err != nil {
				return err
			}
			o := tree.New(env.Uploader, env.Client, env.Metrics)
			summary, err := o.Run(ctx, env.FolderID, src, env.Progress.Update)
			if err != nil {
				return err
			}
			env.Progress.Print()
			_, _ = fmt.Fprintf(os.Stderr, "%v\n", summary)
			for _, failure := range summary.Failed {
				fs.Errorf(nil, "%v", failure)
			}
			return summary.Err()
		})
	},
}

// newSource makes the Source for paths. With flat set directories are
// listed up front and handed over as a single list.
func newSource(ctx context.Context, paths []string, flat bool) (tree.Source, error) {
	entries, err := tree.LocalEntries(paths...)
	if err != nil {
		return nil, err
	}
	if !flat {
		return tree.NewEntrySource(entries...), nil
	}
	var items []tree.Item
	for i, e := range entries {
		if !e.IsDir() {
			f, err := e.Open(ctx)
			items = append(items, tree.Item{Path: e.Name(), File: f, Err: err})
			continue
		}
		list, err := tree.LocalList(paths[i])
		if err != nil {
			return nil, err
		}
		items = append(items, list...)
	}
	return tree.NewListSource(items...), nil
}
