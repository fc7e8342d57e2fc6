package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/raylibre/WaybackMachine/internal/utils"
	"github.com/raylibre/WaybackMachine/pkg/whttp"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

var cfgFile string

const (
	LOGO = `	                   _                _
	__      ____ _ _  | |__   __ _  ___| | __
	\ \ /\ / / _' | | | '_ \ / _' |/ __| |/ /
	 \ V  V / (_| | |_| | | | (_| | (__|   <
	  \_/\_/ \__,_\__, |_| |_|\__,_|\___|_|\_\
	              |___/

`
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "wayback",
	Short: "Resolve and fetch historical website snapshots from the Wayback Machine.",
	Long: LOGO + `wayback finds, for every page of a domain, the archived capture closest
to a target date, and can download the chosen captures for offline analysis.`,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.wayback.yaml)")

	// Global flags
	rootCmd.PersistentFlags().StringP("proxy", "", "", "HTTP Proxy (Useful for debugging. Example: http://127.0.0.1:8080)")
	rootCmd.PersistentFlags().StringP("loglevel", "l", "info", "Set log level. Available: debug, info, warn, error, fatal")
	rootCmd.PersistentFlags().StringP("datadir", "d", "", "Base directory for master lists, results and downloads")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		viper.AddConfigPath(home)
		viper.SetConfigName(".wayback")
		viper.SetConfigType("yaml")
	}

	viper.AutomaticEnv()

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; create it with defaults.
			home, _ := homedir.Dir()
			configPath := home + "/.wayback.yaml"
			if err := viper.SafeWriteConfigAs(configPath); err != nil {
				fmt.Printf("Error creating config file: %s", err)
			}
		}
	}

	// Default configuration values
	viper.SetDefault("wayback.parallelism", 8)
	viper.SetDefault("wayback.ratelimit", 1.5)
	viper.SetDefault("wayback.useragent", "Mozilla/5.0 (compatible; WaybackAnalyzer/1.0)")
	viper.SetDefault("wayback.datadir", "./archive_data")

	// Init log library
	levelString, _ := rootCmd.PersistentFlags().GetString("loglevel")
	utils.SetLogLevel(levelString)

	if proxy, _ := rootCmd.PersistentFlags().GetString("proxy"); proxy != "" {
		if err := whttp.SetupProxy(proxy); err != nil {
			utils.Log.Fatal("Invalid Proxy String")
		}
	}
}

// dataDir resolves the base data directory: flag first, then config.
func dataDir() string {
	if dir, _ := rootCmd.PersistentFlags().GetString("datadir"); dir != "" {
		return dir
	}
	return viper.GetString("wayback.datadir")
}
