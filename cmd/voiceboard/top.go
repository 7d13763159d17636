package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/voiceboard/internal/config"
	"github.com/spf13/cobra"
)

var topLimit int

var topCmd = &cobra.Command{
	Use:   "top [flags] SPACE_ID",
	Short: "Show the voice time leaderboard for a space",
	Long:  `Show the all-time voice leaderboard for a space, read directly from storage.`,
	Example: `  voiceboard -config config.yaml top 81384788765712384
  voiceboard top -limit 25 81384788765712384`,
	Args: cobra.ExactArgs(1),
	RunE: runTop,
}

func init() {
	topCmd.Flags().IntVar(&topLimit, "limit", 10, "Number of entries to show")
	rootCmd.AddCommand(topCmd)
}

func runTop(cmd *cobra.Command, args []string) error {
	spaceID := args[0]

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	records, err := store.Times().TopByTotal(ctx, spaceID, topLimit)
	if err != nil {
		return fmt.Errorf("failed to read leaderboard: %w", err)
	}

	cyan := color.New(color.FgCyan, color.Bold)
	yellow := color.New(color.FgYellow, color.Bold)
	green := color.New(color.FgGreen)

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	cyan.Printf("VOICE LEADERBOARD  %s\n", spaceID)
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	if len(records) == 0 {
		fmt.Println("No voice time recorded for this space.")
		fmt.Println()
		return nil
	}

	for i, rec := range records {
		line := fmt.Sprintf("%3d. %-24s %12s  today %s", i+1, rec.UserID,
			formatSeconds(rec.TotalSeconds), formatSeconds(rec.DailySeconds))
		if rec.ActiveSince != nil {
			line += "  (in voice)"
		}
		switch {
		case i < 3:
			yellow.Println(line)
		case rec.ActiveSince != nil:
			green.Println(line)
		default:
			fmt.Println(line)
		}
	}

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	return nil
}

// formatSeconds renders a second count as 12h34m or 56m07s for short totals.
func formatSeconds(secs int64) string {
	if secs < 3600 {
		return fmt.Sprintf("%dm%02ds", secs/60, secs%60)
	}
	return fmt.Sprintf("%dh%02dm", secs/3600, (secs%3600)/60)
}
