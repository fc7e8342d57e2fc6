package cmd

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/raylibre/WaybackMachine/internal/utils"
	"github.com/raylibre/WaybackMachine/pkg/cdx"
	"github.com/raylibre/WaybackMachine/pkg/masterlist"
)

// masterlistCmd represents the masterlist command
var masterlistCmd = &cobra.Command{
	Use:   "masterlist <domain>",
	Short: "Build the deduplicated master URL list for a domain",
	Long: `Queries the archive index for every HTML capture of a domain, collapses
near-duplicate URLs (protocol variants, numbered copies, query strings) and
writes the prioritized list to <datadir>/masterlists/<domain>.json.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		domain := args[0]
		minSize, _ := cmd.Flags().GetInt64("min-size")
		limit, _ := cmd.Flags().GetInt("limit")

		client := cdx.NewClient()
		client.UserAgent = viper.GetString("wayback.useragent")

		utils.Log.Infof("Inventorying captures for %s", domain)
		rows, err := client.Query(context.Background(), domain+"/*", cdx.QueryOptions{Limit: limit})
		if err != nil {
			var qerr *cdx.QueryError
			if errors.As(err, &qerr) {
				utils.Log.Fatalf("Archive index query failed: %v. The archive may be down or throttling, retry later.", err)
			}
			utils.Log.Fatal(err)
		}
		if len(rows) == 0 {
			utils.Log.Fatalf("The archive has no HTML captures for %s. Check the domain spelling.", domain)
		}

		entries := masterlist.Build(rows)
		utils.Log.Infof("Inventory: %d rows, %d unique URLs", len(rows), len(entries))

		entries = masterlist.Dedupe(entries)
		utils.Log.Infof("After deduplication: %d URLs", len(entries))

		// Drop URLs that leaked in from other hosts the domain redirected to.
		kept := entries[:0]
		for _, e := range entries {
			if masterlist.SameRegistrableDomain(e.Original, domain) {
				kept = append(kept, e)
			}
		}
		entries = kept

		if minSize > 0 {
			entries = masterlist.FilterMinSize(entries, minSize)
			utils.Log.Infof("After min-size filter (%d bytes): %d URLs", minSize, len(entries))
		}

		path := filepath.Join(dataDir(), "masterlists", domain+".json")
		if err := masterlist.Save(path, entries); err != nil {
			utils.Log.Fatalf("Could not write master list: %v", err)
		}
		utils.Log.Infof("Wrote %d URLs to %s", len(entries), path)
	},
}

func init() {
	rootCmd.AddCommand(masterlistCmd)

	masterlistCmd.Flags().Int64P("min-size", "s", 0, "Drop pages whose largest capture is below this many bytes")
	masterlistCmd.Flags().Int("limit", 0, "Cap inventory rows fetched (default from the client)")
}
