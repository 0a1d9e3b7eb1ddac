package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	apiURL   string
	output   string
	tenantID string
)

var rootCmd = &cobra.Command{
	Use:   "sealctl",
	Short: "ledgerseal CLI - audit chain and evidence pack operator tool",
	Long:  `sealctl is a command line interface for the ledgerseal audit ledger and evidence sealing API.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&apiURL, "api-url", "a", envOr("LEDGER_API_URL", "http://localhost:8080"), "ledger API URL")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "Output format (table, json, yaml)")
	rootCmd.PersistentFlags().StringVarP(&tenantID, "tenant", "t", os.Getenv("LEDGER_TENANT"), "Tenant ID")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func tenantPath(suffix string) string {
	if tenantID == "" {
		fail("--tenant is required")
	}
	return "/v1/tenants/" + tenantID + suffix
}
