package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/fenwickgrove/arbor/pkg/fsck"
	"github.com/fenwickgrove/arbor/pkg/object"
)

func newFsckCmd() *cobra.Command {
	var (
		repoDir       string
		quiet         bool
		deleteCorrupt bool
		addTombstones bool
		repairRemotes []string
	)

	cmd := &cobra.Command{
		Use:   "fsck",
		Short: "Check the repository for consistency",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := object.Open(repoDir)
			if err != nil {
				return err
			}

			result, err := fsck.Run(cmd.Context(), st, fsck.Options{
				Quiet:         quiet,
				Delete:        deleteCorrupt,
				AddTombstones: addTombstones,
				RepairFrom:    repairRemotes,
				Out:           cmd.OutOrStdout(),
				Errout:        cmd.ErrOrStderr(),
			})
			if err != nil {
				return err
			}

			if !quiet {
				fmt.Fprintf(
					cmd.OutOrStdout(),
					"ok: verified %d object(s), %s\n",
					result.ObjectsChecked,
					humanize.IBytes(result.BytesChecked),
				)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&repoDir, "repo", ".", "Path to the repository")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Only print error messages")
	cmd.Flags().BoolVar(&deleteCorrupt, "delete", false, "Remove corrupted objects")
	cmd.Flags().BoolVar(&addTombstones, "add-tombstones", false, "Add tombstones for missing commits")
	cmd.Flags().StringArrayVar(&repairRemotes, "repair-from-remote", nil,
		"Try to download corrupted files from the remote (repeatable; use - for all remotes)")
	return cmd
}
