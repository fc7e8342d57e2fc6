package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/raylibre/WaybackMachine/internal/utils"
	"github.com/raylibre/WaybackMachine/pkg/download"
	"github.com/raylibre/WaybackMachine/pkg/resolver"
	"github.com/raylibre/WaybackMachine/pkg/snapshot"
)

// downloadCmd represents the download command
var downloadCmd = &cobra.Command{
	Use:   "download <domain>",
	Short: "Download the HTML of previously resolved snapshots",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		domain := args[0]
		date, _ := cmd.Flags().GetString("date")
		concurrency, _ := cmd.Flags().GetInt("concurrency")
		resume, _ := cmd.Flags().GetBool("resume")

		resultPath := filepath.Join(dataDir(), "results", fmt.Sprintf("snapshots_%s_%s.json", domain, date))
		data, err := os.ReadFile(resultPath)
		if err != nil {
			utils.Log.Fatalf("No resolved snapshots at %s. Run 'wayback resolve %s --date %s' first.", resultPath, domain, date)
		}
		var snaps []snapshot.Snapshot
		if err := json.Unmarshal(data, &snaps); err != nil {
			utils.Log.Fatalf("Result file %s is unreadable: %v. Re-run the resolve step.", resultPath, err)
		}
		if len(snaps) == 0 {
			utils.Log.Warn("Result file holds no snapshots, nothing to download")
			return
		}

		interval := time.Duration(viper.GetFloat64("wayback.ratelimit") * float64(time.Second))

		d := &download.Downloader{
			BaseDir:     dataDir(),
			Concurrency: concurrency,
			Resume:      resume,
			Pacer:       resolver.NewIntervalPacer(interval),
			Log:         utils.Log,
		}
		summary, err := d.DownloadAll(context.Background(), domain, date, snaps)
		if err != nil {
			utils.Log.Fatalf("Download failed: %v", err)
		}
		if summary.Failed > 0 {
			utils.Log.Warnf("%d/%d pages could not be downloaded", summary.Failed, summary.Attempted)
		}
	},
}

func init() {
	rootCmd.AddCommand(downloadCmd)

	downloadCmd.Flags().StringP("date", "t", "", "Target date used when resolving (YYYYMMDD)")
	downloadCmd.Flags().IntP("concurrency", "c", download.DefaultConcurrency, "Concurrent page downloads")
	downloadCmd.Flags().BoolP("resume", "r", true, "Skip pages already downloaded")
	downloadCmd.MarkFlagRequired("date")
}
