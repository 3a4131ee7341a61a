package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cajuassist/router/internal/cache"
	"github.com/cajuassist/router/internal/classifier"
	"github.com/cajuassist/router/internal/config"
	"github.com/cajuassist/router/internal/db"
	"github.com/cajuassist/router/internal/engine"
	"github.com/cajuassist/router/internal/experiment"
	"github.com/cajuassist/router/internal/llm"
	"github.com/cajuassist/router/internal/metrics"
	"github.com/cajuassist/router/internal/server"
	"github.com/cajuassist/router/internal/session"
)

var (
	serveAddr     string
	serveAllowAll bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the routing server",
	Long:  `Starts the HTTP routing server: message classification, session tracking, metrics and experiment administration.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if serveAddr != "" {
			cfg.ListenAddr = serveAddr
		}
		if !verbose && cfg.LogLevel != "" {
			level, err := logrus.ParseLevel(cfg.LogLevel)
			if err != nil {
				return fmt.Errorf("parsing log level: %w", err)
			}
			logrus.SetLevel(level)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		provider, err := llm.NewProvider(string(cfg.Provider), cfg.Model)
		if err != nil {
			return fmt.Errorf("creating provider: %w", err)
		}
		if cfg.ProviderRPM > 0 {
			provider = llm.NewRateLimitedProvider(provider, cfg.ProviderRPM)
		}

		database, err := db.Open(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer database.Close()

		framework, err := experiment.NewFramework(cmd.Context(), database)
		if err != nil {
			return fmt.Errorf("loading experiments: %w", err)
		}

		results := cache.New[classifier.Result](cfg.CacheCapacity, cfg.CacheTTL)
		aggregator := metrics.NewAggregator(database, prometheus.DefaultRegisterer)
		cls := classifier.New(provider, results,
			classifier.WithModel(cfg.Model),
			classifier.WithTimeout(cfg.ProviderTimeout),
			classifier.WithExperiments(framework),
			classifier.WithMetrics(aggregator),
		)
		sessions := session.NewManager(database, cfg.SessionIdleTimeout)
		sessions.SetMetrics(session.NewMetrics(prometheus.DefaultRegisterer))

		eng := engine.New(sessions, cls, results, aggregator, framework, engine.Options{
			CleanupSchedule:    cfg.SessionCleanupCron,
			SweepInterval:      cfg.CacheSweepInterval,
			MaxContextMessages: cfg.MaxContextMessages,
		})
		if err := eng.Start(); err != nil {
			return fmt.Errorf("starting engine: %w", err)
		}
		defer eng.Close()

		srv := server.New(server.Config{
			Addr:     cfg.ListenAddr,
			AllowAll: serveAllowAll,
		}, eng)

		// Graceful shutdown.
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		go func() {
			<-ctx.Done()
			fmt.Fprintln(os.Stderr, "\nShutting down server...")
			srv.Shutdown(context.Background())
		}()

		fmt.Fprintf(os.Stderr, "router v%s starting on %s\n", Version, cfg.ListenAddr)
		fmt.Fprintf(os.Stderr, "  Database: %s\n", cfg.DBPath)
		fmt.Fprintf(os.Stderr, "  Provider: %s (%s)\n", provider.Name(), cfg.Model)

		return srv.Start()
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config)")
	serveCmd.Flags().BoolVar(&serveAllowAll, "allow-all-origins", false, "allow all CORS origins (dev mode)")
	rootCmd.AddCommand(serveCmd)
}
