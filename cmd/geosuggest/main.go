// Package main provides the geosuggest command line client.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/geosuggest/geosuggest/internal/client"
	"github.com/geosuggest/geosuggest/internal/place"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "geosuggest",
		Short: "geosuggest - command line client for the autocomplete server",
		Long: `geosuggest talks to a running geosuggest-server.

Run 'geosuggest search paris' to see ranked suggestions.
Run 'geosuggest --help' for available commands.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringP("server", "s", envOr("GEOSUGGEST_SERVER", "http://localhost:8000"), "server base URL")
	rootCmd.PersistentFlags().Duration("timeout", 10*time.Second, "request timeout")
	rootCmd.PersistentFlags().String("format", "text", "output format (text, json)")

	rootCmd.AddCommand(
		searchCmd(),
		selectCmd(),
		popularCmd(),
		healthCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newClient(cmd *cobra.Command) *client.Client {
	baseURL, _ := cmd.Flags().GetString("server")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	return client.New(client.Config{BaseURL: baseURL, Timeout: timeout})
}

func jsonOutput(cmd *cobra.Command) bool {
	format, _ := cmd.Flags().GetString("format")
	return format == "json"
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func searchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Show ranked suggestions for a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			results, err := newClient(cmd).Autocomplete(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return describe(err)
			}
			if jsonOutput(cmd) {
				return printJSON(cmd.OutOrStdout(), results)
			}
			return printSuggestions(cmd.OutOrStdout(), results)
		},
	}
}

func printSuggestions(w io.Writer, results []place.Suggestion) error {
	if len(results) == 0 {
		fmt.Fprintln(w, "No suggestions.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SCORE\tOSM ID\tTYPE\tNAME")
	for _, s := range results {
		fmt.Fprintf(tw, "%.1f\t%s\t%s\t%s\n", s.Score, s.PlaceID, s.Type, s.DisplayName)
	}
	return tw.Flush()
}

func selectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "select <query> <osm_id> [display name]",
		Short: "Record a selection for a query",
		Long: `Record that a suggestion was picked for a query. Quote multi-word queries
and display names.`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := args[0]
			item := place.Suggestion{PlaceID: args[1]}
			if len(args) == 3 {
				item.DisplayName = args[2]
			}

			if err := newClient(cmd).Feedback(cmd.Context(), query, item); err != nil {
				return describe(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Recorded selection of %s for %q\n", item.PlaceID, query)
			return nil
		},
	}
}

func popularCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "popular <prefix>",
		Short: "Show the most selected places for a query prefix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			results, err := newClient(cmd).Popular(cmd.Context(), args[0], limit)
			if err != nil {
				return describe(err)
			}
			if jsonOutput(cmd) {
				return printJSON(cmd.OutOrStdout(), results)
			}

			w := cmd.OutOrStdout()
			if len(results) == 0 {
				fmt.Fprintln(w, "No selections recorded.")
				return nil
			}
			tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "COUNT\tOSM ID\tNAME")
			for _, p := range results {
				fmt.Fprintf(tw, "%d\t%s\t%s\n", p.Count, p.PlaceID, p.DisplayName)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntP("limit", "n", 0, "maximum records (server default when 0)")
	return cmd
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()

			resp, err := newClient(cmd).Health(ctx)
			if err != nil {
				return describe(err)
			}
			if jsonOutput(cmd) {
				return printJSON(cmd.OutOrStdout(), resp)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Status:  %s\n", resp.Status)
			if resp.Version != "" {
				fmt.Fprintf(w, "Version: %s\n", resp.Version)
			}
			for name, c := range resp.Components {
				fmt.Fprintf(w, "  %-10s %s %s\n", name, c.Status, c.Message)
			}
			if resp.Status == "unhealthy" {
				return fmt.Errorf("server is unhealthy")
			}
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("geosuggest %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	}
}

// describe adds the rate limit wait to API errors.
func describe(err error) error {
	apiErr, ok := err.(*client.APIError)
	if !ok {
		return err
	}
	if wait := apiErr.RetryAfter(); wait > 0 {
		return fmt.Errorf("%w (retry after %s)", err, wait)
	}
	return err
}
