package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/raylibre/WaybackMachine/internal/utils"
	"github.com/raylibre/WaybackMachine/pkg/storage"
)

// statsCmd represents the stats command
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show recorded resolution runs per domain",
	Run: func(cmd *cobra.Command, args []string) {
		dbPath, _ := cmd.Flags().GetString("dbpath")
		if _, err := os.Stat(dbPath); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				utils.Log.Fatalf("Run database not found: %s. Record runs with 'wayback resolve ... --dbpath %s'.", dbPath, dbPath)
			}
			utils.Log.Fatal(err)
		}

		db, err := storage.Open(dbPath)
		if err != nil {
			utils.Log.Fatal(err)
		}
		defer db.Close()

		stats, err := db.GetStats(context.Background())
		if err != nil {
			utils.Log.Fatal(err)
		}
		if len(stats) == 0 {
			fmt.Println("No runs recorded yet.")
			return
		}

		fmt.Printf("%-30s %6s %10s  %s\n", "DOMAIN", "RUNS", "SNAPSHOTS", "LAST RUN")
		for _, s := range stats {
			fmt.Printf("%-30s %6d %10d  %s\n", s.Domain, s.Runs, s.Snapshots, s.LastRun.Format("2006-01-02 15:04"))
		}

		runs, err := db.ListRuns(context.Background(), 10)
		if err != nil {
			utils.Log.Fatal(err)
		}
		fmt.Println("\nRecent runs:")
		for _, r := range runs {
			fmt.Printf("  %s @ %s: %d/%d matched, %d/%d batches failed\n",
				r.Domain, r.TargetDate, r.Matched, r.MasterCount, r.BatchesFailed, r.BatchesTotal)
		}
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)

	statsCmd.Flags().String("dbpath", "wayback.sqlite", "Path to the run database")
}
