package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lzjever/ledgerseal/internal/api"
	"github.com/lzjever/ledgerseal/internal/core"
)

var sectionCmd = &cobra.Command{
	Use:   "section <decision_ledger|exam_integrity|commerce_evidence>",
	Short: "Generate a signed proof section; exits 1 on a fail verdict",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var resp core.ProofSection
		if err := NewClient(apiURL).Get(tenantPath("/sections/"+args[0]), &resp); err != nil {
			fail("%v", err)
		}
		printResult(resp)
		if resp.Verdict == core.VerdictFail {
			os.Exit(1)
		}
	},
}

var governanceCmd = &cobra.Command{
	Use:     "governance",
	Aliases: []string{"gov"},
	Short:   "Governance proof pack commands",
}

var governanceCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Generate and store a governance proof pack",
	Run: func(cmd *cobra.Command, args []string) {
		var resp api.ProofPackResponse
		if err := NewClient(apiURL).Post("/v1/governance/proof-packs", nil, &resp); err != nil {
			fail("%v", err)
		}
		printProofPack(resp)
	},
}

var governanceLatestCmd = &cobra.Command{
	Use:   "latest",
	Short: "Show the latest governance proof pack",
	Run: func(cmd *cobra.Command, args []string) {
		var resp api.ProofPackResponse
		if err := NewClient(apiURL).Get("/v1/governance/proof-packs/latest", &resp); err != nil {
			fail("%v", err)
		}
		printProofPack(resp)
		if !resp.Verified {
			os.Exit(1)
		}
	},
}

func printProofPack(pp api.ProofPackResponse) {
	if output != "table" {
		printResult(pp)
		return
	}
	fmt.Printf("Proof pack:         %s\n", pp.ID)
	fmt.Printf("Generated:          %s\n", core.FormatTimestamp(pp.GeneratedAt))
	fmt.Printf("Signature verified: %t\n", pp.Verified)
	fmt.Printf("Contract tests:     %s\n", pp.Signals.ContractTestFingerprint)
	fmt.Printf("CI status:          %s\n", pp.Signals.CIStatus)
	fmt.Printf("Migration:          %s\n", pp.Signals.MigrationID)
	fmt.Printf("Audit chains:       %s\n", pp.Signals.AuditChainDigest)
	fmt.Printf("Scan status:        %s\n", pp.Signals.ScanStatus)
	fmt.Printf("Red team:           %s\n", pp.Signals.RedTeamSummary)
}

func init() {
	governanceCmd.AddCommand(governanceCreateCmd, governanceLatestCmd)
	rootCmd.AddCommand(sectionCmd, governanceCmd)
}
