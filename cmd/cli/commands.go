package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/WarriorSushi/speedstein/pkg/api/adapters/api_client"
	"github.com/WarriorSushi/speedstein/pkg/api/business/renders"
)

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

func newRenderCmd(config *api_client.Config) *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "render <file>",
		Short: "Render an HTML file to a paginated PDF",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			html, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read document: %w", err)
			}

			client := api_client.NewClient(*config)

			result, err := client.RenderOne(cmd.Context(), renders.Call{
				Document: renders.Document{HTML: string(html)},
			})
			if err != nil {
				return err
			}

			err = os.WriteFile(outPath, result.Data, 0o644) //nolint:gosec
			if err != nil {
				return fmt.Errorf("failed to write output: %w", err)
			}

			_, _ = fmt.Fprintf(
				cmd.OutOrStdout(),
				"Rendered %d pages (%d bytes) to %s\n",
				result.PageCount,
				result.OutputBytes,
				outPath,
			)

			return nil
		},
	}

	cmd.Flags().StringVar(&outPath, "out", "out.pdf", "Output path for the rendered document")

	return cmd
}

func newStatsCmd(config *api_client.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show pool statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client := api_client.NewClient(*config)

			stats, err := client.Stats(cmd.Context())
			if err != nil {
				return err
			}

			return writeJSON(cmd, stats)
		},
	}
}

func newJobsCmd(config *api_client.Config) *cobra.Command {
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List render job records, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client := api_client.NewClient(*config)

			jobs, err := client.ListJobs(cmd.Context(), &api_client.ListJobsParams{
				Identity: config.Identity,
				Status:   status,
				Limit:    limit,
			})
			if err != nil {
				return err
			}

			return writeJSON(cmd, jobs)
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by job status")
	cmd.Flags().IntVar(&limit, "limit", 0, "Cap the number of records returned")

	return cmd
}

func newJobCmd(config *api_client.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "job <id>",
		Short: "Show one render job record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api_client.NewClient(*config)

			job, err := client.GetJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			return writeJSON(cmd, job)
		},
	}
}

func newPingCmd(config *api_client.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check service liveness",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client := api_client.NewClient(*config)

			err := client.Ping(cmd.Context())
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "pong")

			return nil
		},
	}
}
