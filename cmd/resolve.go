package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/raylibre/WaybackMachine/internal/utils"
	"github.com/raylibre/WaybackMachine/pkg/cdx"
	"github.com/raylibre/WaybackMachine/pkg/masterlist"
	"github.com/raylibre/WaybackMachine/pkg/resolver"
	"github.com/raylibre/WaybackMachine/pkg/snapshot"
	"github.com/raylibre/WaybackMachine/pkg/storage"
)

// resolveCmd represents the resolve command
var resolveCmd = &cobra.Command{
	Use:   "resolve <domain>",
	Short: "Find the snapshot closest to a date for every master-list URL",
	Long: `Resolves each URL of a domain's master list to the archived capture
closest to the target date, searching a ±90 day window, and writes the
ranked result to <datadir>/results/snapshots_<domain>_<date>.json.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		domain := args[0]
		date, _ := cmd.Flags().GetString("date")
		parallel, _ := cmd.Flags().GetInt("parallel")
		threshold, _ := cmd.Flags().GetInt("sequential-threshold")
		dbPath, _ := cmd.Flags().GetString("dbpath")

		if parallel <= 0 {
			parallel = viper.GetInt("wayback.parallelism")
		}

		masterPath := filepath.Join(dataDir(), "masterlists", domain+".json")
		entries, err := masterlist.Load(masterPath)
		if err != nil {
			if errors.Is(err, masterlist.ErrMissing) {
				utils.Log.Fatalf("No master list for %s. Run 'wayback masterlist %s' first.", domain, domain)
			}
			utils.Log.Fatalf("Master list for %s is unreadable: %v. Rebuild it with 'wayback masterlist %s'.", domain, err, domain)
		}

		client := cdx.NewClient()
		client.UserAgent = viper.GetString("wayback.useragent")

		interval := time.Duration(viper.GetFloat64("wayback.ratelimit") * float64(time.Second))

		res, err := resolver.Resolve(context.Background(), entries, resolver.Config{
			Domain:              domain,
			TargetDate:          date,
			Parallelism:         parallel,
			SequentialThreshold: threshold,
			Querier:             client,
			Pacer:               resolver.NewIntervalPacer(interval),
			Log:                 utils.Log,
		})
		if err != nil {
			if errors.Is(err, snapshot.ErrInvalidDate) {
				utils.Log.Fatalf("Invalid target date %q: use YYYYMMDD, e.g. 20191115.", date)
			}
			var qerr *cdx.QueryError
			if errors.As(err, &qerr) {
				utils.Log.Fatalf("Archive index query failed: %v. The archive may be down or throttling, retry later.", err)
			}
			utils.Log.Fatal(err)
		}

		if res.BatchesFailed > 0 {
			utils.Log.Warnf("%d/%d batches failed, coverage may be partial", res.BatchesFailed, res.BatchesTotal)
		}
		if res.RowsDropped > 0 {
			utils.Log.Debugf("Dropped %d malformed index rows", res.RowsDropped)
		}

		outPath := filepath.Join(dataDir(), "results", fmt.Sprintf("snapshots_%s_%s.json", domain, date))
		if err := writeSnapshots(outPath, res.Snapshots); err != nil {
			utils.Log.Fatalf("Could not write result file: %v", err)
		}

		if len(res.Snapshots) == 0 {
			utils.Log.Warnf("No snapshots matched for %s around %s; the archive may have no coverage there.", domain, date)
		} else {
			utils.Log.Infof("Wrote %d snapshots to %s", len(res.Snapshots), outPath)
		}

		if dbPath != "" {
			recordRun(domain, date, len(entries), res, dbPath)
		}
	},
}

func writeSnapshots(path string, snaps []snapshot.Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(snaps, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func recordRun(domain, date string, masterCount int, res *resolver.Result, dbPath string) {
	db, err := storage.Open(dbPath)
	if err != nil {
		utils.Log.Warnf("Could not open run database %s: %v", dbPath, err)
		return
	}
	defer db.Close()

	snaps := make([]storage.RunSnapshot, len(res.Snapshots))
	for i, s := range res.Snapshots {
		snaps[i] = storage.RunSnapshot{
			OriginalURL: s.Original,
			Timestamp:   s.Timestamp,
			ArchiveURL:  s.ArchiveURL,
			StatusCode:  s.StatusCode,
			SizeBytes:   s.SizeBytes,
			DaysDiff:    s.DaysDiff,
		}
	}

	run := storage.Run{
		Domain:        domain,
		TargetDate:    date,
		MasterCount:   masterCount,
		Matched:       len(res.Snapshots),
		BatchesTotal:  res.BatchesTotal,
		BatchesFailed: res.BatchesFailed,
		RowsDropped:   res.RowsDropped,
	}
	if _, err := db.RecordRun(context.Background(), run, snaps); err != nil {
		utils.Log.Warnf("Could not record run: %v", err)
	}
}

func init() {
	rootCmd.AddCommand(resolveCmd)

	resolveCmd.Flags().StringP("date", "t", "", "Target date in YYYYMMDD format")
	resolveCmd.Flags().IntP("parallel", "p", 0, "Parallel batch workers (default from config)")
	resolveCmd.Flags().Int("sequential-threshold", resolver.DefaultSequentialThreshold, "Master-list size at or below which per-URL sequential queries are used")
	resolveCmd.Flags().String("dbpath", "", "Record the run in this sqlite database")
	resolveCmd.MarkFlagRequired("date")
}
