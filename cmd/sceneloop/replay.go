package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"sceneloop/internal/config"
	"sceneloop/internal/record"
)

func newReplayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replay [run-id]",
		Short: "Inspect recorded runs; with a run ID, print its round history",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			store, err := record.Open(cfg.Record.DatabasePath)
			if err != nil {
				return err
			}
			defer store.Close()

			if len(args) == 0 {
				return listRuns(cmd.Context(), store)
			}
			return showRun(cmd.Context(), store, args[0])
		},
	}
}

func listRuns(ctx context.Context, store *record.Store) error {
	runs, err := store.Runs(ctx)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no recorded runs")
		return nil
	}
	for _, r := range runs {
		score := "-"
		if r.FinalScore != nil {
			score = fmt.Sprintf("%.3f", *r.FinalScore)
		}
		fmt.Printf("%s  %-10s rounds=%-3d score=%-6s %s\n",
			r.RunID, r.Status, r.RoundsUsed, score, r.StartedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func showRun(ctx context.Context, store *record.Store, runID string) error {
	rounds, err := store.Rounds(ctx, runID)
	if err != nil {
		return err
	}
	if sum, err := store.Summary(ctx, runID); err == nil {
		fmt.Printf("run %s: %s after %d round(s)\n\n", sum.RunID, sum.Status, sum.RoundsUsed)
	}

	for _, r := range rounds {
		fmt.Printf("round %d (%s)\n", r.Round, r.At.Format("15:04:05"))
		if r.RenderRef != "" {
			fmt.Printf("  render: %s\n", r.RenderRef)
		} else {
			fmt.Println("  render: failed")
		}
		fmt.Printf("  status: %s", r.Feedback.Status)
		if r.Feedback.Score != nil {
			fmt.Printf("  score: %.3f", *r.Feedback.Score)
		}
		fmt.Println()
		if r.Feedback.Critique != "" {
			fmt.Printf("  critique: %s\n", r.Feedback.Critique)
		}
		for _, e := range r.Evidence {
			fmt.Printf("  evidence[%s]: %s\n", e.Capability, e.Summary)
		}
		fmt.Println()
	}
	return nil
}
