package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/petwatch/internal/config"
	"github.com/goodtune/petwatch/internal/storage"
	"github.com/spf13/cobra"
)

var (
	historyLimit int
	historyPet   string
	historySince string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent uplink attempts",
	Long:  `List uplink attempts recorded by the tracking loop, newest first.`,
	Example: `  petwatch history --limit 20
  petwatch history --pet PET-42 --since 24h`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of attempts to show")
	historyCmd.Flags().StringVar(&historyPet, "pet", "", "Only show attempts for this pet id")
	historyCmd.Flags().StringVar(&historySince, "since", "", "Only show attempts newer than this duration (e.g. 24h)")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	filter := storage.AttemptFilter{PetID: historyPet, Limit: historyLimit}
	if historySince != "" {
		d, err := time.ParseDuration(historySince)
		if err != nil {
			return fmt.Errorf("invalid --since: %w", err)
		}
		since := time.Now().Add(-d)
		filter.Since = &since
	}

	return withEngine(func(ctx context.Context, cfg *config.Config, eng *engine) error {
		attempts, err := eng.store.Attempts().List(ctx, filter)
		if err != nil {
			return fmt.Errorf("failed to list history: %w", err)
		}
		printAttempts(attempts)
		return nil
	})
}

func printAttempts(attempts []storage.UplinkAttempt) {
	if len(attempts) == 0 {
		_, _ = color.New(color.FgYellow).Println("No uplink attempts recorded")
		return
	}

	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	_, _ = color.New(color.FgCyan, color.Bold).Fprintln(w, "TIME\tPET\tPOSITION\tRESULT\tLATENCY")
	for _, a := range attempts {
		result := green.Sprintf("HTTP %d", a.StatusCode)
		if !a.Success {
			result = red.Sprint(attemptFailure(a))
		}
		fmt.Fprintf(w, "%s\t%s\t%.5f,%.5f\t%s\t%dms\n",
			a.AttemptedAt.Local().Format(time.DateTime),
			a.PetID,
			a.Latitude, a.Longitude,
			result,
			a.DurationMS,
		)
	}
	_ = w.Flush()
}

func attemptFailure(a storage.UplinkAttempt) string {
	switch {
	case a.StatusCode != 0:
		return fmt.Sprintf("%s %d: %s", a.ErrorKind, a.StatusCode, a.Message)
	case a.Message != "":
		return fmt.Sprintf("%s: %s", a.ErrorKind, a.Message)
	default:
		return a.ErrorKind
	}
}
