package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/lzjever/ledgerseal/internal/core"
)

type EventListResponse struct {
	Events       []core.AuditEvent `json:"events"`
	NextAfterSeq int64             `json:"next_after_seq"`
}

var eventCmd = &cobra.Command{
	Use:     "event",
	Aliases: []string{"ev"},
	Short:   "Audit event commands",
}

var (
	eventActor  string
	eventRole   string
	eventBefore string
	eventAfter  string
	afterSeq    int64
	eventLimit  int
)

var eventAppendCmd = &cobra.Command{
	Use:   "append <action> <target-type> <target-id>",
	Short: "Append an event to the tenant chain",
	Args:  cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		req := map[string]interface{}{
			"actor_id":    eventActor,
			"actor_role":  eventRole,
			"action":      args[0],
			"target_type": args[1],
			"target_id":   args[2],
		}
		for key, val := range map[string]string{"before": eventBefore, "after": eventAfter} {
			if val == "" {
				continue
			}
			if !json.Valid([]byte(val)) {
				fail("--%s is not valid JSON", key)
			}
			req[key] = json.RawMessage(val)
		}

		var resp core.AuditEvent
		if err := NewClient(apiURL).Post(tenantPath("/events"), req, &resp); err != nil {
			fail("%v", err)
		}
		printResult(resp)
	},
}

var eventListCmd = &cobra.Command{
	Use:   "list",
	Short: "List events in sequence order",
	Run: func(cmd *cobra.Command, args []string) {
		path := tenantPath("/events") + "?after_seq=" + strconv.FormatInt(afterSeq, 10) + "&limit=" + strconv.Itoa(eventLimit)
		var resp EventListResponse
		if err := NewClient(apiURL).Get(path, &resp); err != nil {
			fail("%v", err)
		}
		printResult(resp.Events)
		if resp.NextAfterSeq > 0 && output == "table" {
			fmt.Printf("\nMore events: --after-seq %d\n", resp.NextAfterSeq)
		}
	},
}

var chainCmd = &cobra.Command{
	Use:   "chain",
	Short: "Hash chain commands",
}

var chainHeadCmd = &cobra.Command{
	Use:   "head",
	Short: "Show the chain tail",
	Run: func(cmd *cobra.Command, args []string) {
		var resp core.ChainHead
		if err := NewClient(apiURL).Get(tenantPath("/chain"), &resp); err != nil {
			fail("%v", err)
		}
		printResult(resp)
	},
}

var chainVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Re-verify the stored chain; exits 1 when it is broken",
	Run: func(cmd *cobra.Command, args []string) {
		var resp core.ChainVerification
		if err := NewClient(apiURL).Post(tenantPath("/chain:verify"), nil, &resp); err != nil {
			fail("%v", err)
		}
		printResult(resp)
		if !resp.Valid {
			os.Exit(1)
		}
	},
}

func init() {
	eventAppendCmd.Flags().StringVar(&eventActor, "actor", os.Getenv("USER"), "Actor ID")
	eventAppendCmd.Flags().StringVar(&eventRole, "role", "", "Actor role")
	eventAppendCmd.Flags().StringVar(&eventBefore, "before", "", "Before snapshot (JSON)")
	eventAppendCmd.Flags().StringVar(&eventAfter, "after", "", "After snapshot (JSON)")
	eventListCmd.Flags().Int64Var(&afterSeq, "after-seq", 0, "List events after this sequence number")
	eventListCmd.Flags().IntVar(&eventLimit, "limit", 100, "Maximum events to return")

	eventCmd.AddCommand(eventAppendCmd, eventListCmd)
	chainCmd.AddCommand(chainHeadCmd, chainVerifyCmd)
	rootCmd.AddCommand(eventCmd, chainCmd)
}
