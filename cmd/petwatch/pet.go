package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/petwatch/internal/config"
	"github.com/goodtune/petwatch/internal/identity"
	"github.com/goodtune/petwatch/internal/storage"
	"github.com/spf13/cobra"
)

var petCmd = &cobra.Command{
	Use:   "pet",
	Short: "Manage the tracked pet identifier",
	Long: `Capture, inspect, refresh or clear the pet identifier stored by PetWatch.

The bolt backend allows one process at a time. While the daemon runs, set the
pet id through the control API (PUT /api/pet) or use the redis backend.`,
}

var petSetCmd = &cobra.Command{
	Use:     "set ID",
	Short:   "Store the pet identifier",
	Example: `  petwatch pet set PET-42`,
	Args:    cobra.ExactArgs(1),
	RunE:    runPetSet,
}

var petShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the stored pet",
	Args:  cobra.NoArgs,
	RunE:  runPetShow,
}

var petRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Fetch the pet's metadata from the service",
	Args:  cobra.NoArgs,
	RunE:  runPetRefresh,
}

var petClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the stored pet",
	Args:  cobra.NoArgs,
	RunE:  runPetClear,
}

func init() {
	petCmd.AddCommand(petSetCmd)
	petCmd.AddCommand(petShowCmd)
	petCmd.AddCommand(petRefreshCmd)
	petCmd.AddCommand(petClearCmd)
	rootCmd.AddCommand(petCmd)
}

// withEngine loads configuration and storage for a one-shot command.
func withEngine(fn func(ctx context.Context, cfg *config.Config, eng *engine) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	store, err := openStorage(cfg.Storage)
	if err != nil {
		return storageError(err)
	}
	defer store.Close()

	eng, err := newEngine(cfg, store, quietLogger())
	if err != nil {
		return err
	}
	defer eng.identity.Wait()

	return fn(context.Background(), cfg, eng)
}

// storageError adds a hint when the daemon holds the bolt file.
func storageError(err error) error {
	if errors.Is(err, storage.ErrLocked) {
		return fmt.Errorf("failed to initialize storage: %w (is the daemon running? use PUT /api/pet on the control API)", err)
	}
	return fmt.Errorf("failed to initialize storage: %w", err)
}

func runPetSet(cmd *cobra.Command, args []string) error {
	return withEngine(func(ctx context.Context, cfg *config.Config, eng *engine) error {
		if err := eng.identity.Set(ctx, args[0]); err != nil {
			return err
		}
		// The metadata refresh started by Set completes before storage closes.
		eng.identity.Wait()

		green := color.New(color.FgGreen, color.Bold)
		_, _ = green.Fprintf(os.Stdout, "✓ Pet id stored: %s\n", args[0])
		_, _, err := printPet(ctx, os.Stdout, eng.identity)
		return err
	})
}

func runPetShow(cmd *cobra.Command, args []string) error {
	return withEngine(func(ctx context.Context, cfg *config.Config, eng *engine) error {
		_, _, err := printPet(ctx, os.Stdout, eng.identity)
		return err
	})
}

func runPetRefresh(cmd *cobra.Command, args []string) error {
	return withEngine(func(ctx context.Context, cfg *config.Config, eng *engine) error {
		ctx, cancel := context.WithTimeout(ctx, parseDuration(cfg.Uplink.Timeout, 30*time.Second))
		defer cancel()

		ref, err := eng.identity.Refresh(ctx)
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("no pet id stored")
		}
		if err != nil {
			return fmt.Errorf("failed to refresh pet metadata: %w", err)
		}
		_, _ = color.New(color.FgGreen, color.Bold).Fprintf(os.Stdout, "✓ Refreshed %s: %s\n", ref.ID, displayName(ref.Name))
		return nil
	})
}

func runPetClear(cmd *cobra.Command, args []string) error {
	return withEngine(func(ctx context.Context, cfg *config.Config, eng *engine) error {
		if err := eng.identity.Clear(ctx); err != nil {
			return err
		}
		_, _ = color.New(color.FgYellow, color.Bold).Fprintln(os.Stdout, "Pet id cleared")
		return nil
	})
}

// petReader looks up the stored pet.
type petReader interface {
	Get(ctx context.Context) (identity.Ref, bool, error)
}

// printPet writes the stored pet to w and returns it.
func printPet(ctx context.Context, w io.Writer, pets petReader) (identity.Ref, bool, error) {
	ref, ok, err := pets.Get(ctx)
	if err != nil {
		return identity.Ref{}, false, fmt.Errorf("failed to read pet id: %w", err)
	}

	cyan := color.New(color.FgCyan, color.Bold)
	_, _ = cyan.Fprintln(w, "Pet:")
	if !ok {
		_, _ = color.New(color.FgYellow).Fprintln(w, "  (no pet id stored)")
		return ref, false, nil
	}
	fmt.Fprintf(w, "  ID:   %s\n", ref.ID)
	fmt.Fprintf(w, "  Name: %s\n", displayName(ref.Name))
	return ref, true, nil
}

func displayName(name string) string {
	if name == "" {
		return "(unknown)"
	}
	return name
}
