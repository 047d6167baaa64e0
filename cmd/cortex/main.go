package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/cortexhq/cortex/internal/api"
	"github.com/cortexhq/cortex/internal/codehost"
	"github.com/cortexhq/cortex/internal/config"
	"github.com/cortexhq/cortex/internal/discovery"
	"github.com/cortexhq/cortex/internal/investigation"
	"github.com/cortexhq/cortex/internal/knowledge"
	"github.com/cortexhq/cortex/internal/llm"
	"github.com/cortexhq/cortex/internal/notify"
	"github.com/cortexhq/cortex/internal/platform"
	"github.com/cortexhq/cortex/internal/refdocs"
	"github.com/cortexhq/cortex/internal/scheduler"
)

// Version information, set at build time with -ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var rootCmd = &cobra.Command{
	Use:     "cortex",
	Short:   "Cortex - autonomous platform diagnostics",
	Long:    `Cortex watches a fleet of services, investigates failures with an LLM-driven tool-calling loop, and takes autonomy-gated remediation actions.`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		runServer()
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Cortex %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Printf("Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServer() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	servicesCfg, err := config.LoadServicesConfig(cfg.ConfigDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load services.json")
	}

	autonomyCfg, err := config.LoadAutonomyConfig(cfg.ConfigDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load autonomy.json")
	}

	store, err := knowledge.New(cfg.DataDir, knowledge.WithEncryptionSecret(cfg.EncryptionSecret))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open knowledge store")
	}
	defer store.Shutdown()

	platformAdapter := platform.NewClient(cfg.PlatformToken)

	var codehostAdapter codehost.Adapter
	if cfg.CodeHostToken != "" {
		codehostAdapter = codehost.NewClient(cfg.CodeHostToken)
	}

	docs := refdocs.New(cfg.DocsDir)
	defer docs.Close()

	var provider llm.Provider
	if cfg.AnthropicAPIKey != "" {
		provider = llm.NewAnthropicClient(cfg.AnthropicAPIKey, cfg.AnthropicModel)
	}

	engine := investigation.New(store, platformAdapter, codehostAdapter, provider, docs, servicesCfg, autonomyCfg, investigation.Config{
		MaxTurns: cfg.MaxTurns,
		Timeout:  5 * time.Minute,
	})

	notifier := notify.New(cfg.SlackWebhookURL, cfg.NotifyWebhookURL, "")

	discoveryPipeline := discovery.New(store, platformAdapter, codehostAdapter, cfg.PlatformProjectID, cfg.PlatformEnvironmentID)

	sched := scheduler.New(store, platformAdapter, discoveryPipeline, engine, notifier, cfg.MonitorInterval, cfg.DiscoveryInterval)

	router := api.New(store, engine, discoveryPipeline, notifier, docs, cfg.APIToken)

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched.Start(ctx)

	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("cortex http server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	log.Info().Msg("cortex ready")

	<-ctx.Done()
	log.Info().Msg("shutting down")

	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during http server shutdown")
	}
}
