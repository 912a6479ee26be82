package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Index a directory, then keep adding files created under it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if initial, _ := cmd.Flags().GetBool("initial"); initial {
				added, err := a.svc.IndexDirectory(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("index directory: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d new files\n", added)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Watching %s for new files...\n", args[0])
			return a.svc.WatchDirectory(cmd.Context(), args[0])
		},
	}

	cmd.Flags().Bool("initial", true, "Index the directory before watching it")
	return cmd
}
