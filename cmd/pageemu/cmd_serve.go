package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pageemu/internal/httpapi"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

// serveCmd 启动 HTTP 接口
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the emulator behind the JSON-RPC API",
	Long: `Start the browser session scheduler and expose it over HTTP.

Endpoints:
  POST /rpc     event.send, user.update, scheduler.stats, delivery.list
  GET  /metrics Prometheus metrics`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, log, nil)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/rpc", httpapi.NewServer(httpapi.Deps{
		Events:     a.events,
		Scheduler:  a.sched,
		Pool:       a.pool,
		Deliveries: a.deliveries,
		Logger:     log,
	}))
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              cfg.HTTP.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("HTTP 服务已启动", "listen", cfg.HTTP.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("正在停止 HTTP 服务")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return a.cleanup(gctx)
	})

	runErr := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	closeErr := a.close(shutdownCtx)
	if closeErr != nil {
		log.Err(closeErr, "关闭组件失败")
	}
	log.Info("服务已停止")
	return errors.Join(runErr, closeErr)
}
