package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/deidaraiorek/deifind/internal/config"
	"github.com/deidaraiorek/deifind/internal/logger"
	"github.com/deidaraiorek/deifind/internal/service"
)

func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "deifind",
		Short:         "Index a directory tree by filename and by image content",
		Long:          `Walks a directory tree, keeps a filename index with exact and prefix lookup, and indexes images by caption similarity.`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		Run: func(cmd *cobra.Command, _ []string) {
			_ = cmd.Help()
		},
	}

	rootCmd.PersistentFlags().String("config", "~/.deifind/config.yaml", "Path to the config file")
	rootCmd.PersistentFlags().Bool("json", false, "Output in JSON format")
	rootCmd.PersistentFlags().String("log-level", "", "Override the configured log level")

	rootCmd.AddCommand(
		NewIndexCmd(),
		NewFindCmd(),
		NewImagesCmd(),
		NewSearchCmd(),
		NewWatchCmd(),
		NewServeCmd(),
	)
	return rootCmd
}

type app struct {
	cfg *config.Config
	log *zap.Logger
	svc *service.Service
}

func (a *app) Close() {
	if err := a.svc.Close(); err != nil {
		a.log.Warn("failed to close service", zap.Error(err))
	}
	_ = a.log.Sync()
}

func newApp(cmd *cobra.Command) (*app, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Log.Level = level
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg: cfg,
		log: log,
		svc: service.New(cfg, log),
	}, nil
}

func outputJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
