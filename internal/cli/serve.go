package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/park285/usi-supervisor/internal/api"
	"github.com/park285/usi-supervisor/internal/builder"
	"github.com/park285/usi-supervisor/internal/config"
	"github.com/park285/usi-supervisor/internal/obslog"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// NewServeCommand creates the serve command.
func NewServeCommand(_ *RootOptions) *cobra.Command {
	var wsAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the control API and the spectator websocket",
		Long: `Run the HTTP control API on $HTTP_ADDR and stream engine and match
events to websocket spectators on --ws-addr at /ws.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return wrapExitError(ExitCommandError, "config", err)
			}
			return serve(cmd.Context(), cfg, wsAddr)
		},
	}
	cmd.Flags().StringVar(&wsAddr, "ws-addr", ":8788", "spectator websocket listen address (empty disables)")
	return cmd
}

func serve(ctx context.Context, cfg *config.AppConfig, wsAddr string) error {
	logger := obslog.L()
	deps, err := builder.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.Warn("shutdown_incomplete", zap.Error(err))
		}
	}()

	apiSrv := api.New(api.Deps{
		Registry: deps.Registry,
		Options:  deps.Options,
		Catalog:  deps.Catalog,
		Matches:  deps.Matches,
		Logger:   logger,
	})

	mux := http.NewServeMux()
	mux.Handle("/ws", deps.Hub)
	wsSrv := &http.Server{Addr: wsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("api_listening", zap.String("addr", cfg.HTTPAddr))
		return apiSrv.ListenAndServe(cfg.HTTPAddr)
	})
	if wsAddr != "" {
		g.Go(func() error {
			logger.Info("ws_listening", zap.String("addr", wsAddr))
			if err := wsSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("shutting_down")
		return errors.Join(apiSrv.Shutdown(sctx), wsSrv.Shutdown(sctx))
	})
	return g.Wait()
}
