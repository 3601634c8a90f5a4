// Package main implements assessctl, the command-line client for the assessd
// HTTP API and run event stream.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/assessd/internal/events"
)

var (
	// serverURL is the base URL for the assessd HTTP server
	serverURL string
	// timeout bounds each HTTP call; generation can take minutes with an LLM
	timeout time.Duration
	// jsonOutput prints raw JSON instead of styled text
	jsonOutput bool
	version    = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "assessctl",
	Short: "CLI for the assessd content pipeline",
	Long: `assessctl is a command-line interface for the assessd HTTP server.
It generates content, browses stored run artifacts and watches run events.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8000", "assessd server URL")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 6*time.Minute, "HTTP request timeout")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print raw JSON")

	generateCmd.Flags().IntP("grade", "g", 0, "target grade (1-12)")
	generateCmd.Flags().StringP("user", "u", "", "requester id recorded with the run")
	_ = generateCmd.MarkFlagRequired("grade")

	historyCmd.Flags().StringP("user", "u", "", "only show runs for this requester")
	historyCmd.Flags().IntP("limit", "n", 0, "maximum number of runs (server default 50)")

	similarCmd.Flags().IntP("limit", "n", 5, "maximum number of matches")

	watchCmd.Flags().String("nats", nats.DefaultURL, "NATS server URL")
	watchCmd.Flags().String("subject", "assessd.runs.finalized", "event subject prefix")
	watchCmd.Flags().String("status", "", "only show approved or rejected runs")

	rootCmd.AddCommand(generateCmd, historyCmd, getCmd, similarCmd, statsCmd, healthCmd, watchCmd)
}

var generateCmd = &cobra.Command{
	Use:   "generate <topic>",
	Short: "Generate reviewed content for a topic",
	Long: `Run the generate, review, refine and tag pipeline for one topic.

Examples:
  assessctl generate --grade 5 "Photosynthesis"
  assessctl generate -g 8 -u teacher-42 "Linear equations" --json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		grade, _ := cmd.Flags().GetInt("grade")
		user, _ := cmd.Flags().GetString("user")

		art, err := client().Generate(cmd.Context(), grade, args[0], user)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), art)
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderArtifact(art))
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		limit, _ := cmd.Flags().GetInt("limit")

		arts, err := client().History(cmd.Context(), user, limit)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), arts)
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderList(arts))
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get <run-id>",
	Short: "Show one run artifact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		art, err := client().Artifact(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), art)
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderArtifact(art))
		return nil
	},
}

var similarCmd = &cobra.Command{
	Use:   "similar <topic>",
	Short: "Find approved content on similar topics",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		arts, err := client().Similar(cmd.Context(), args[0], limit)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), arts)
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderList(arts))
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show approval statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := client().Stats(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), st)
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderStats(st))
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check assessd server health",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := client().Health(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Server Status: %s\n", h.Status)
		fmt.Fprintf(cmd.OutOrStdout(), "Server Version: %s\n", h.Version)
		fmt.Fprintf(cmd.OutOrStdout(), "Server URL: %s\n", serverURL)
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream finalized runs from NATS",
	Long: `Subscribe to run events published by assessd and print each one.

Examples:
  assessctl watch
  assessctl watch --status rejected --nats nats://nats:4222`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		natsURL, _ := cmd.Flags().GetString("nats")
		subject, _ := cmd.Flags().GetString("subject")
		status, _ := cmd.Flags().GetString("status")

		switch status {
		case "":
			subject += ".>"
		case "approved", "rejected":
			subject += "." + status
		default:
			return fmt.Errorf("--status must be approved or rejected, got %q", status)
		}

		nc, err := nats.Connect(natsURL, nats.Name("assessctl"))
		if err != nil {
			return fmt.Errorf("connect to nats %s: %w", natsURL, err)
		}
		defer nc.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		fmt.Fprintln(cmd.ErrOrStderr(), dimStyle.Render("watching "+subject))
		out := cmd.OutOrStdout()
		return events.Subscribe(ctx, nc, subject, func(ev events.Event) {
			if jsonOutput {
				ev.Artifact = nil
				_ = printJSON(out, ev)
				return
			}
			fmt.Fprintln(out, renderEvent(ev))
		})
	},
}

func client() *apiClient {
	return newAPIClient(serverURL, timeout)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
