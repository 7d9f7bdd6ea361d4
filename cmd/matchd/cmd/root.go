package cmd

import (
	"fmt"
	"os"

	"inbox-matching-service/pkg/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	verbose bool
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "matchd",
	Short: "Inbox document to bank transaction matching service",
	Long: `Matchd reconciles inbox documents (receipts, invoices, scanned
documents) against bank transactions. It scores candidate pairings on
amount, date, text and currency similarity, auto-matches unambiguous
pairings, and queues the rest for human review.

Examples:
  matchd import --tenant acme --inbox items.json --transactions tx.json
  matchd process --tenant acme --inbox-ids doc-1,doc-2,doc-3
  matchd match-transaction --tenant acme --transaction-id tx-42
  matchd confirm --tenant acme --suggestion-id <id> --actor alice
  matchd recalibrate --tenant acme`,
	Version: getVersionString(),
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().String("db", "matchd.db", "path to the SQLite database")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "text", "log format: text, json")

	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("db", rootCmd.PersistentFlags().Lookup("db"))
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log-format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// initConfig reads in config file and ENV variables.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)

		if err := viper.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "Error reading config file: %s\n", err)
			os.Exit(1)
		}

		if viper.GetBool("verbose") {
			fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
		}
	}

	viper.SetEnvPrefix("MATCHD")
	viper.AutomaticEnv()

	configureLogging()
}

// configureLogging applies the logging flags to the global logger
func configureLogging() {
	cfg := logger.DefaultConfig()
	cfg.Level = logger.Level(viper.GetString("log-level"))
	cfg.Format = logger.Format(viper.GetString("log-format"))
	if viper.GetBool("verbose") {
		cfg.Level = logger.DebugLevel
	}

	log, err := logger.NewLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error configuring logger: %s\n", err)
		os.Exit(1)
	}
	logger.SetGlobalLogger(log)
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

func getVersionString() string {
	if version == "dev" {
		return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	}
	return version
}
