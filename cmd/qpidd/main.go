package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/buaazp/fasthttprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/CUXIDUMDUM/qpid"
	"github.com/CUXIDUMDUM/qpid/config"
	"github.com/CUXIDUMDUM/qpid/health"
	"github.com/CUXIDUMDUM/qpid/internal/rabbitimport"
)

var (
	// Version information
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "qpidd",
		Short:        "AMQP broker daemon",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildTime),
		SilenceUsage: true,
	}

	var configFile string
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "YAML configuration file")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the broker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(configFile)
			if err != nil {
				return err
			}
			return serve(cfg, logger)
		},
	}

	var (
		mgmtURL  string
		user     string
		password string
		source   string
		vhost    string
	)
	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Copy exchanges, queues and bindings from a RabbitMQ virtual host",
		Long: `Import reads the topology of a RabbitMQ virtual host through its management API
and declares it into a broker virtual host. Durable objects are written to the
configured store.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(configFile)
			if err != nil {
				return err
			}
			api, err := rabbitimport.Dial(mgmtURL, user, password)
			if err != nil {
				return err
			}
			return runImport(cmd.Context(), cfg, logger, api, source, vhost)
		},
	}
	importCmd.Flags().StringVarP(&mgmtURL, "url", "u", "http://localhost:15672", "RabbitMQ management API URL")
	importCmd.Flags().StringVar(&user, "user", "guest", "management API user")
	importCmd.Flags().StringVar(&password, "password", "guest", "management API password")
	importCmd.Flags().StringVar(&source, "source", "/", "RabbitMQ virtual host to read")
	importCmd.Flags().StringVar(&vhost, "vhost", config.DefaultVirtualHost, "broker virtual host to declare into")

	rootCmd.AddCommand(serveCmd, importCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setup(configFile string) (*config.Config, *slog.Logger, error) {
	cfg := config.DefaultConfig()
	if configFile != "" {
		loaded, err := config.LoadConfig(configFile)
		if err != nil {
			return nil, nil, err
		}
		cfg = *loaded
	}

	level, err := cfg.Log.SlogLevel()
	if err != nil {
		return nil, nil, err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return &cfg, logger, nil
}

func serve(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	broker, err := qpid.NewBroker(ctx, cfg, qpid.WithLogger(logger), qpid.WithRegisterer(reg))
	if err != nil {
		return err
	}
	defer broker.Close()

	router := fasthttprouter.New()
	router.GET("/metrics", fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	router.GET("/healthz", health.Handler(broker.Health(), 5*time.Second))
	router.GET("/readyz", health.ReadinessHandler(broker.Health(), 5*time.Second))
	router.GET("/livez", health.LivenessHandler)
	router.NotFound = func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusNotFound)
	}

	server := &fasthttp.Server{
		Handler:               router.Handler,
		NoDefaultServerHeader: true,
	}
	errs := make(chan error, 1)
	go func() {
		logger.Info("serving metrics", "addr", cfg.Metrics.ListenAddr)
		errs <- server.ListenAndServe(cfg.Metrics.ListenAddr)
	}()

	select {
	case err := <-errs:
		return fmt.Errorf("metrics endpoint: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	if err := server.Shutdown(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("metrics endpoint shutdown", "error", err)
	}
	return nil
}

func runImport(ctx context.Context, cfg *config.Config, logger *slog.Logger, api rabbitimport.ManagementAPI, source, vhost string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	broker, err := qpid.NewBroker(ctx, cfg, qpid.WithLogger(logger))
	if err != nil {
		return err
	}
	defer broker.Close()

	vh, ok := broker.VirtualHost(vhost)
	if !ok {
		return fmt.Errorf("virtual host %q is not configured", vhost)
	}

	report, err := rabbitimport.New(api, rabbitimport.WithLogger(logger)).Import(ctx, source, vh)
	if report != nil {
		fmt.Printf("imported %d exchanges, %d queues, %d bindings\n", report.Exchanges, report.Queues, report.Bindings)
		for _, s := range report.Skipped {
			fmt.Printf("skipped %s\n", s)
		}
	}
	return err
}
