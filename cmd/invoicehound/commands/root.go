// Package commands implements the CLI commands for invoicehound.
package commands

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/invoicehound/invoicehound/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "invoicehound",
	Short: "Download invoice PDFs from a storefront's order history",
	Long: `Invoicehound walks your storefront order history in a real Chrome
window, waits for you to sign in, and saves every order's invoice
documents as PDFs.

Order IDs come from an exported orders report when one is available;
otherwise the order-history listing is crawled page by page. Each
order's detail page is then visited and its invoices are captured.

Examples:
  # Download every invoice, signing in interactively on first run
  invoicehound fetch

  # Only orders paid with a card ending in 1234, two specific years
  invoicehound fetch --last4 1234 --years 2023 --years 2024

  # Ignore the seed report and crawl the listing fresh
  invoicehound fetch --force-crawl

  # Headless run against a different marketplace
  invoicehound fetch --domain www.amazon.de --headless`,
	Version: version.String(),
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config file (default $HOME/.invoicehound.yaml)")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "only log errors")
	rootCmd.PersistentFlags().Bool("log-json", false, "log as JSON instead of text")

	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
	_ = viper.BindPFlag("log_json", rootCmd.PersistentFlags().Lookup("log-json"))

	rootCmd.SetVersionTemplate(version.Full() + "\n")
}

func initConfig() {
	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigName(".invoicehound")
		viper.SetConfigType("yaml")
	}

	// Environment variables
	viper.SetEnvPrefix("INVOICEHOUND")
	viper.AutomaticEnv()

	// Read config file (ignore error if not found)
	_ = viper.ReadInConfig()
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
