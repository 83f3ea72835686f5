package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"caff_back/api"
	"caff_back/authorization"
	"caff_back/staging"
)

const (
	shutdownTimeout = 10 * time.Second
	sweepInterval   = time.Hour
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, logger, err := ctx.ensure()
			if err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := newApplication(runCtx, settings, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := app.Close(); err != nil {
					logger.WithError(err).Warn("shutdown cleanup failed")
				}
			}()

			auth, err := authorization.NewModule(app.db, settings, nil, app.auditService, logger)
			if err != nil {
				return err
			}
			module, err := api.NewModule(api.Deps{
				DB:       app.db,
				Store:    app.store,
				Ingest:   app.orchestrator,
				Auth:     auth,
				Audit:    app.auditService,
				Previews: app.previewLinker(),
				Logger:   logger,
			})
			if err != nil {
				return err
			}

			if logger.GetLevel() < logrus.DebugLevel {
				gin.SetMode(gin.ReleaseMode)
			}
			router := api.NewRouter(api.RouterConfig{
				UIURL:      settings.UIURL,
				PreviewDir: settings.PreviewDir,
				Gatherer:   app.registry,
				Logger:     logger,
			}, auth, module)

			go staging.RunSweeper(runCtx, settings.StagingDir, settings.StagingMaxAge, sweepInterval, logger)

			srv := &http.Server{
				Addr:              ":" + settings.Port,
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
			}
			serveErr := make(chan error, 1)
			go func() {
				logger.WithField("addr", srv.Addr).Info("http server listening")
				serveErr <- srv.ListenAndServe()
			}()

			select {
			case err := <-serveErr:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-runCtx.Done():
			}

			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}
