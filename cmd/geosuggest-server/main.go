// Package main provides the geosuggest server binary.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/geosuggest/geosuggest/internal/config"
	"github.com/geosuggest/geosuggest/internal/pkg/logger"
	"github.com/geosuggest/geosuggest/internal/server"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "geosuggest-server",
		Short: "geosuggest - place name autocomplete with learned popularity",
		Long: `geosuggest-server answers place name autocomplete requests by querying a
Nominatim-compatible geocoder, re-ranking the candidates, and learning from
the suggestions users pick.

Endpoints:
  GET  /autocomplete?query=<text>
  POST /feedback
  GET  /popular?prefix=<p>&limit=<n>
  GET  /healthz, /version, /metrics

Examples:
  geosuggest-server                                 # Start with defaults
  geosuggest-server -c geosuggest.yaml              # Load a config file
  geosuggest-server --port 9000 --cache memory      # Override settings`,
		RunE:         runServer,
		SilenceUsage: true,
	}

	rootCmd.Flags().StringP("config", "c", "", "config file path")
	rootCmd.Flags().BoolP("verbose", "v", false, "verbose logging")
	rootCmd.Flags().Int("port", 0, "HTTP port (overrides config)")
	rootCmd.Flags().String("host", "", "HTTP host (overrides config)")
	rootCmd.Flags().String("geocoder", "", "geocoder base URL (overrides config)")
	rootCmd.Flags().String("cache", "", "cache backend: redis, memory or none (overrides config)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("geosuggest-server %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetBool("verbose")

	appCfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Override from flags
	if cmd.Flags().Changed("port") {
		appCfg.Port, _ = cmd.Flags().GetInt("port")
	}
	if cmd.Flags().Changed("host") {
		appCfg.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("geocoder") {
		appCfg.Geocoder.URL, _ = cmd.Flags().GetString("geocoder")
	}
	if cmd.Flags().Changed("cache") {
		appCfg.Cache.Type, _ = cmd.Flags().GetString("cache")
	}
	if verbose {
		appCfg.Log.Level = "debug"
	}
	if err := appCfg.Validate(); err != nil {
		return err
	}

	log := logger.New(appCfg.Log.Level, appCfg.Log.Format)
	log.Info("Starting geosuggest server",
		"version", version,
		"addr", appCfg.Address(),
		"geocoder", appCfg.Geocoder.URL,
		"cache", appCfg.Cache.Type,
		"bus", appCfg.Bus.Type,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(ctx, appCfg, version, log)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		_ = srv.Stop(context.Background())
		if err != nil {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	}

	if err := srv.Stop(context.Background()); err != nil {
		log.Warn("Shutdown incomplete", "error", err)
	}
	return <-errCh
}
