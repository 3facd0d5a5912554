package cli

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/takakanai/github-issue-linker/pkg/cli/config"
	controller "github.com/takakanai/github-issue-linker/pkg/controller/http"
	"github.com/takakanai/github-issue-linker/pkg/domain/model"
	"github.com/takakanai/github-issue-linker/pkg/domain/types"
	"github.com/takakanai/github-issue-linker/pkg/infra/sink"
	"github.com/takakanai/github-issue-linker/pkg/infra/storage"
	"github.com/takakanai/github-issue-linker/pkg/usecase"
)

func cmdServe() *cli.Command {
	var (
		serverCfg  config.Server
		storageCfg config.Storage
		sentryCfg  config.Sentry
	)

	flags := append(serverCfg.Flags(), storageCfg.Flags()...)
	flags = append(flags, sentryCfg.Flags()...)

	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Start HTTP server",
		Flags:   flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			logger := ctxlog.From(ctx)

			logger.Info("Starting issue-linker server",
				slog.String("addr", serverCfg.Addr),
			)

			store := storage.NewMemory()

			sinkOpts := []sink.Option{}
			if sentryCfg.DSN != "" {
				if err := sentry.Init(sentry.ClientOptions{
					Dsn:     sentryCfg.DSN,
					Release: "github-issue-linker@" + types.Version,
				}); err != nil {
					return goerr.Wrap(err, "failed to initialize Sentry")
				}
				defer sentry.Flush(2 * time.Second)
				sinkOpts = append(sinkOpts, sink.WithSentry())
			}
			errSink := sink.New(store, sinkOpts...)

			if storageCfg.MappingFile != "" {
				mappings, err := storage.LoadMappingFile(storageCfg.MappingFile)
				if err != nil {
					return goerr.Wrap(err, "failed to load mapping file")
				}
				if err := store.PutMappings(ctx, mappings); err != nil {
					return goerr.Wrap(err, "failed to store mappings")
				}
				logger.Info("Loaded repository mappings",
					slog.String("path", storageCfg.MappingFile),
					slog.Int("count", len(mappings)),
				)
			}

			scanner := usecase.NewPageScanner(store, errSink)
			sessions := usecase.NewSessionManager(store, errSink)
			defer sessions.CloseAll()

			server, err := controller.NewServer(
				ctx,
				scanner,
				sessions,
				store,
				controller.WithAddr(serverCfg.Addr),
			)
			if err != nil {
				return goerr.Wrap(err, "failed to create HTTP server")
			}

			runCtx, cancel := context.WithCancel(ctx)
			defer cancel()

			eg, egCtx := errgroup.WithContext(runCtx)
			eg.Go(func() error {
				logger.Info("HTTP server starting", slog.String("addr", serverCfg.Addr))
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					return goerr.Wrap(err, "HTTP server error")
				}
				return nil
			})
			if storageCfg.MappingFile != "" {
				eg.Go(func() error {
					err := storage.WatchMappingFile(egCtx, storageCfg.MappingFile, func(mappings []model.RepositoryMapping) {
						if err := store.PutMappings(egCtx, mappings); err != nil {
							logger.Error("Failed to store reloaded mappings", slog.Any("error", err))
						}
					})
					if err != nil && egCtx.Err() == nil {
						return err
					}
					return nil
				})
			}

			// Wait for interrupt signal
			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

			select {
			case <-ctx.Done():
				logger.Info("Context cancelled, shutting down...")
			case sig := <-sigChan:
				logger.Info("Signal received, shutting down...", slog.Any("signal", sig))
			}

			// Graceful shutdown
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()

			if err := server.Shutdown(shutdownCtx); err != nil {
				return goerr.Wrap(err, "failed to shutdown server gracefully")
			}
			cancel()
			if err := eg.Wait(); err != nil {
				return err
			}

			logger.Info("Server shutdown complete")
			return nil
		},
	}
}
