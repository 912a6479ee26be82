package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/deidaraiorek/deifind/internal/api"
	"github.com/deidaraiorek/deifind/internal/schedule"
)

func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the search API over HTTP",
		Long:  `Serve the JSON search API and, when schedule.reindex is configured, re-index the configured roots periodically.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if images, _ := cmd.Flags().GetBool("images"); images {
				if err := a.svc.EnableImageSearch(cmd.Context()); err != nil {
					a.log.Warn("image search unavailable", zap.Error(err))
				}
			}
			if prefix, _ := cmd.Flags().GetBool("prefix"); prefix {
				a.svc.EnablePrefixSearch()
			}

			addr, _ := cmd.Flags().GetString("addr")
			if addr == "" {
				addr = a.cfg.Server.Addr
			}

			ctx := cmd.Context()
			if a.cfg.Schedule.Reindex != "" {
				sched := schedule.New(a.log.Named("schedule"))
				names, err := addReindexJobs(sched, a)
				if err != nil {
					return err
				}
				sched.Start(ctx)
				defer sched.Stop()
				for _, name := range names {
					if next, ok := sched.Next(name); ok {
						a.log.Info("re-index scheduled", zap.String("job", name), zap.Time("next", next))
					}
				}
			}

			srv := &http.Server{
				Addr:              addr,
				Handler:           api.NewRouter(a.svc, a.log.Named("api")),
				ReadHeaderTimeout: 10 * time.Second,
				WriteTimeout:      a.cfg.Server.WriteTimeout,
			}

			errCh := make(chan error, 1)
			go func() {
				a.log.Info("listening", zap.String("addr", addr))
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return fmt.Errorf("serve: %w", err)
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().String("addr", "", "Listen address (default from config)")
	cmd.Flags().Bool("images", true, "Enable image search at startup")
	cmd.Flags().Bool("prefix", true, "Enable prefix filename search at startup")
	return cmd
}

// addReindexJobs schedules file re-indexing of the configured roots, and image
// re-indexing when image search is on. It returns the added job names.
func addReindexJobs(sched *schedule.Scheduler, a *app) ([]string, error) {
	roots := a.cfg.Schedule.Roots
	if len(roots) == 0 {
		return nil, fmt.Errorf("schedule.reindex is set but schedule.roots is empty")
	}

	files := schedule.FuncJob{JobName: "reindex-files", Fn: func(ctx context.Context) error {
		var errs []error
		for _, root := range roots {
			if _, err := a.svc.IndexDirectory(ctx, root); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}}
	if err := sched.Add(files, a.cfg.Schedule.Reindex); err != nil {
		return nil, err
	}

	if !a.svc.ImageSearchEnabled() {
		return []string{files.Name()}, nil
	}
	images := schedule.FuncJob{JobName: "reindex-images", Fn: func(ctx context.Context) error {
		var errs []error
		for _, root := range roots {
			if _, err := a.svc.IndexImages(ctx, root); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}}
	if err := sched.Add(images, a.cfg.Schedule.Reindex); err != nil {
		return nil, err
	}
	return []string{files.Name(), images.Name()}, nil
}
