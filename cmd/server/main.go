package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/t77yq/metricwatch/internal/config"
	"github.com/t77yq/metricwatch/internal/engine"
	"github.com/t77yq/metricwatch/internal/ingest"
	"github.com/t77yq/metricwatch/internal/model"
	"github.com/t77yq/metricwatch/internal/monitor"
	"github.com/t77yq/metricwatch/internal/notify"
	"github.com/t77yq/metricwatch/internal/probe"
	"github.com/t77yq/metricwatch/internal/rules"
	"github.com/t77yq/metricwatch/internal/storage"
)

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

func connectNATS(cfg config.NATSConfig, logger *zap.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("metricwatch"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.ConnectTimeout),
		nats.PingInterval(20 * time.Second),
		nats.MaxPingsOutstanding(5),
		nats.ReconnectBufSize(5 * 1024 * 1024), // 5MB
		nats.DrainTimeout(30 * time.Second),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Error("NATS connection error",
				zap.String("subject", subject),
				zap.Error(err))
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected",
				zap.String("url", nc.ConnectedUrl()))
		}),
	}

	var (
		nc  *nats.Conn
		err error
	)
	maxRetries := 5
	for i := 0; i < maxRetries; i++ {
		nc, err = nats.Connect(cfg.URL, opts...)
		if err == nil {
			return nc, nil
		}
		logger.Warn("Failed to connect to NATS, retrying...",
			zap.Int("attempt", i+1),
			zap.Error(err))
		time.Sleep(time.Second * time.Duration(i+1))
	}
	return nil, err
}

func main() {
	configPath := flag.String("config", "", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	db, err := storage.Open(cfg.Database.Path, logger)
	if err != nil {
		logger.Fatal("Failed to open database", zap.Error(err))
	}
	defer db.Close()

	var ruleSource rules.Source = storage.NewRuleStore(db)
	if cfg.Rules.Source == "file" {
		ruleSource = rules.NewFileSource(cfg.Rules.Path)
	}

	channels := []notify.Channel{notify.NewLogChannel(logger)}
	probes := map[string]monitor.Probe{
		"database": probe.NewDatabase(db, time.Second),
	}

	var nc *nats.Conn
	if cfg.NATS.URL != "" {
		nc, err = connectNATS(cfg.NATS, logger)
		if err != nil {
			logger.Fatal("Failed to connect to NATS after retries", zap.Error(err))
		}
		defer nc.Close()
		logger.Info("Connected to NATS successfully",
			zap.String("url", nc.ConnectedUrl()))

		js, err := nc.JetStream()
		if err != nil {
			logger.Fatal("Failed to create JetStream context", zap.Error(err))
		}
		natsChannel := notify.NewNATSChannel(js, cfg.NATS.AlertSubjectPrefix)
		if err := natsChannel.EnsureStream(); err != nil {
			logger.Fatal("Failed to ensure alert stream", zap.Error(err))
		}
		channels = append(channels, natsChannel)
		probes["nats"] = probe.NewNATS(nc)
	}

	if len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.Topic != "" {
		writer := notify.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer writer.Close()
		channels = append(channels, notify.NewKafkaChannel(writer))
	}

	if cfg.Webhook.URL != "" {
		channels = append(channels, notify.NewWebhookChannel(cfg.Webhook.URL, cfg.Webhook.Timeout))
	}

	if cfg.Docker.Enabled {
		cli, err := probe.NewDockerClient()
		if err != nil {
			logger.Fatal("Failed to create docker client", zap.Error(err))
		}
		defer cli.Close()
		probes["docker"] = probe.NewDocker(cli)
	}

	eng, err := engine.New(cfg, engine.Dependencies{
		RuleSource: ruleSource,
		AlertStore: storage.NewAlertStore(db),
		Channels:   channels,
		Probes:     probes,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to create engine", zap.Error(err))
	}
	eng.OnHealthComputed(func(h model.SystemHealth) {
		if h.Status != model.HealthStatusHealthy {
			logger.Warn("System is not healthy", zap.String("status", string(h.Status)))
		}
	})

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	if err := eng.Start(ctx); err != nil {
		logger.Fatal("Failed to start engine", zap.Error(err))
	}

	if nc != nil {
		subscriber := ingest.NewSubscriber(nc, cfg.NATS.MetricSubject, eng.Ingestor(), logger)
		if err := subscriber.Start(); err != nil {
			logger.Fatal("Failed to subscribe to metrics", zap.Error(err))
		}
		defer subscriber.Stop()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: cfg.Metrics.Address, Handler: mux}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Scheduler.ShutdownTimeout)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Failed to stop metrics server", zap.Error(err))
	}

	if err := eng.Stop(); err != nil {
		logger.Warn("Shutdown timeout reached, some notifications may not have been delivered", zap.Error(err))
	}

	logger.Info("Server shutting down gracefully")
}
