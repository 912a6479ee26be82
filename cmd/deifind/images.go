package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewImagesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "images <dir>",
		Short: "Annotate and index the images under a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.svc.EnableImageSearch(cmd.Context()); err != nil {
				return fmt.Errorf("enable image search: %w", err)
			}

			stats, err := a.svc.IndexImages(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("index images: %w", err)
			}

			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				return outputJSON(cmd, stats)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d images (%d already stored, %d failed, %d skipped)\n",
				stats.Indexed, stats.Existing, stats.Failed, stats.NotImage+stats.Symlink+stats.BadDimensions)
			return nil
		},
	}
}

func NewSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <text>",
		Short: "Find the stored images closest to a description",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.svc.EnableImageSearch(cmd.Context()); err != nil {
				return fmt.Errorf("enable image search: %w", err)
			}

			limit, _ := cmd.Flags().GetInt("number")
			results, err := a.svc.SearchImages(cmd.Context(), args[0], limit)
			if err != nil {
				return fmt.Errorf("search images: %w", err)
			}

			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				return outputJSON(cmd, results)
			}
			for _, r := range results {
				fmt.Fprintf(cmd.OutOrStdout(), "%.4f  %s\n", r.Score, r.Path)
			}
			return nil
		},
	}

	cmd.Flags().IntP("number", "n", 0, "Maximum results (default from config)")
	return cmd
}
