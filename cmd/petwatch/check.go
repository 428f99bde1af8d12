package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/petwatch/internal/config"
	"github.com/goodtune/petwatch/internal/location"
	"github.com/goodtune/petwatch/internal/permission"
	"github.com/goodtune/petwatch/internal/uplink"
	"github.com/spf13/cobra"
)

var checkSend bool

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run one-shot tracking diagnostics",
	Long: `Show the stored pet and permission states, take a single location sample
and optionally deliver it to the service.`,
	Example: `  petwatch -c config.yaml check
  petwatch check --send`,
	Args: cobra.NoArgs,
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().BoolVar(&checkSend, "send", false, "Post the sample to the service")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	return withEngine(func(ctx context.Context, cfg *config.Config, eng *engine) error {
		cyan := color.New(color.FgCyan, color.Bold)
		green := color.New(color.FgGreen, color.Bold)
		yellow := color.New(color.FgYellow, color.Bold)
		red := color.New(color.FgRed, color.Bold)

		fmt.Println()
		_, _ = cyan.Println("PetWatch Check")
		fmt.Println(strings.Repeat("=", 60))

		ref, havePet, err := printPet(ctx, os.Stdout, eng.identity)
		if err != nil {
			return err
		}

		fmt.Println()
		_, _ = cyan.Println("Permissions:")
		for _, c := range []permission.Capability{permission.ForegroundLocation, permission.BackgroundLocation, permission.Camera} {
			state := eng.gate.Check(ctx, c)
			fmt.Printf("  %-20s ", c.String()+":")
			switch state {
			case permission.StateGranted:
				_, _ = green.Println(state)
			case permission.StateDenied:
				_, _ = red.Println(state)
			default:
				_, _ = yellow.Println(state)
			}
		}

		fmt.Println()
		_, _ = cyan.Println("Location:")
		if err := eng.gate.EnsureLocation(ctx); err != nil {
			_, _ = red.Printf("  ✗ %s\n", deniedMessage(err))
			return nil
		}

		opts := samplerOptions(cfg.Tracking.Foreground, location.Options{
			HighAccuracy: true,
			Timeout:      30 * time.Second,
			MaximumAge:   10 * time.Second,
		})
		sample, err := eng.sampler.SampleOnce(ctx, opts)
		if err != nil {
			_, _ = red.Printf("  ✗ Sample failed: %v\n", err)
			return nil
		}
		_, _ = green.Printf("  ✓ %.6f, %.6f", sample.Latitude, sample.Longitude)
		fmt.Printf("  at %s\n", sample.CapturedAt.UTC().Format(time.RFC3339))

		if !checkSend {
			fmt.Println(strings.Repeat("=", 60))
			return nil
		}

		fmt.Println()
		_, _ = cyan.Println("Uplink:")
		if !havePet {
			_, _ = yellow.Println("  Skipped: no pet id stored")
			return nil
		}
		ack, err := eng.client.PostSample(ctx, ref.ID, sample)
		if err != nil {
			_, _ = red.Printf("  ✗ %s: %v\n", uplink.KindOf(err), err)
			return nil
		}
		_, _ = green.Printf("  ✓ HTTP %d\n", ack.StatusCode)
		if ack.Body != "" {
			fmt.Printf("  Response: %s\n", ack.Body)
		}
		fmt.Println(strings.Repeat("=", 60))
		return nil
	})
}

func deniedMessage(err error) string {
	var denied *permission.DeniedError
	if errors.As(err, &denied) {
		return denied.Message()
	}
	return err.Error()
}
