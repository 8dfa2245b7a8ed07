package main

import (
	"context"
	"fmt"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"github.com/nainya/fieldstore/internal/config"
	"github.com/nainya/fieldstore/internal/logger"
	"github.com/nainya/fieldstore/internal/metrics"
	"github.com/nainya/fieldstore/internal/server"
	"github.com/nainya/fieldstore/pkg/index"
	"github.com/nainya/fieldstore/pkg/progress"
	"github.com/nainya/fieldstore/pkg/upgrade"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the admin gRPC server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withIndex(cmd, serve)
	},
}

func serve(cfg config.Config, log *logger.Logger, ix *index.Index) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.LogServerStart(cfg.GRPCPort, cfg.DBPath)

	m := metrics.NewMetrics(prometheus.DefaultRegisterer)
	pipeline := upgrade.Default()
	pipeline.Log = log
	pipeline.Metrics = m

	current, err := pipeline.RecordedVersion(ix)
	if err != nil {
		return err
	}
	if current != pipeline.Current() {
		if !cfg.AutoUpgrade {
			return fmt.Errorf("index is at %v but %v is required; run `fieldstore upgrade` or pass --auto-upgrade", current, pipeline.Current())
		}
		res, err := pipeline.Run(ctx, ix, progress.New(logPhases(log)))
		if err != nil {
			return fmt.Errorf("auto upgrade: %w", err)
		}
		if res.NeedsReindex {
			log.Warn("Index upgraded; documents should be reindexed").Send()
		}
		current = res.To
	}
	m.SetIndexVersion(current.String())

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPCPort))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	grpcServer := grpc.NewServer(
		grpc.MaxRecvMsgSize(100*1024*1024),
		grpc.MaxSendMsgSize(100*1024*1024),
		grpc.UnaryInterceptor(server.GrpcMetricsInterceptor(m, log)),
	)
	admin := server.NewServer(ix, pipeline, log, m)
	if err := admin.RefreshIndexStats(); err != nil {
		return fmt.Errorf("load index stats: %w", err)
	}
	server.RegisterAdminServer(grpcServer, admin)

	// Register reflection service for grpcurl/grpcui
	reflection.Register(grpcServer)

	var obs *server.ObservabilityServer
	if cfg.MetricsPort > 0 {
		ready := func() error {
			v, err := pipeline.RecordedVersion(ix)
			if err != nil {
				return err
			}
			if v != pipeline.Current() {
				return fmt.Errorf("index is at %v", v)
			}
			return nil
		}
		obs = server.NewObservabilityServer(cfg.MetricsPort, log, prometheus.DefaultGatherer, ready)
		go func() {
			if err := obs.Start(); err != nil {
				log.Error("Observability server stopped").Err(err).Send()
			}
		}()
	}

	go func() {
		<-ctx.Done()
		log.LogServerShutdown()
		if obs != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = obs.Shutdown(shutdownCtx)
		}
		grpcServer.GracefulStop()
	}()

	log.LogServerReady(cfg.GRPCPort)
	return grpcServer.Serve(lis)
}

// logPhases reports upgrade phases through the logger
func logPhases(log *logger.Logger) progress.Sink {
	return progress.SinkFunc(func(p progress.Phase) {
		log.Info("Upgrade phase").
			Str("step", p.Step).
			Str("phase", p.Name).
			Int("index", p.Index).
			Int("total", p.Total).
			Send()
	})
}
