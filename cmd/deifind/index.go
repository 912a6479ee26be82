package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewIndexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "index <dir>",
		Short: "Add every file under a directory to the filename index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			added, err := a.svc.IndexDirectory(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("index directory: %w", err)
			}

			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				return outputJSON(cmd, map[string]int{"added": added})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d new files\n", added)
			return nil
		},
	}
}

func NewFindCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "find <name>",
		Short: "Look up files by name",
		Long:  `Look up indexed files whose name matches exactly, or starts with the query when --prefix is given.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if prefix, _ := cmd.Flags().GetBool("prefix"); prefix {
				a.svc.EnablePrefixSearch()
			}

			matches := a.svc.SearchFilenames(args[0])
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				return outputJSON(cmd, matches)
			}
			for _, m := range matches {
				fmt.Fprintln(cmd.OutOrStdout(), m.Path)
			}
			return nil
		},
	}

	cmd.Flags().BoolP("prefix", "p", false, "Match every name starting with the query")
	return cmd
}
