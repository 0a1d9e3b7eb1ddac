package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"

	"github.com/spf13/cobra"
)

var obsCmd = &cobra.Command{
	Use:   "obs",
	Short: "Observability commands (query a Prometheus-compatible API)",
}

var metricsURL string

type PromResponse struct {
	Status string `json:"status"`
	Data   struct {
		Result []struct {
			Metric map[string]string `json:"metric"`
			Value  []interface{}     `json:"value"`
		} `json:"result"`
	} `json:"data"`
}

func obsQueryCmd(use, short string, queries map[string]string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Run: func(cmd *cobra.Command, args []string) {
			names := make([]string, 0, len(queries))
			for name := range queries {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Printf("%s: %s\n", name, queryProm(metricsURL, queries[name]))
			}
		},
	}
}

var obsSummaryCmd = obsQueryCmd("summary", "Show system summary metrics", map[string]string{
	"HTTP Request Rate": `sum(rate(ledger_http_requests_total[5m]))`,
	"HTTP Error Rate":   `sum(rate(ledger_http_requests_total{code=~"5.."}[5m]))`,
	"Active Requests":   `sum(ledger_active_requests)`,
	"Appends / s":       `sum(rate(ledger_audit_append_total{status="ok"}[5m]))`,
	"Packs Sealed / s":  `sum(rate(ledger_pack_build_total{status="ok"}[5m]))`,
})

var obsIntegrityCmd = obsQueryCmd("integrity", "Show chain and seal verification results", map[string]string{
	"Broken Chain Checks": `sum(increase(ledger_chain_verify_total{result="broken"}[1h]))`,
	"Invalid Seals":       `sum(increase(ledger_seal_verify_total{result="invalid"}[1h]))`,
	"Packs Broken":        `sum(increase(ledger_pack_status_transitions_total{to="broken"}[1h]))`,
	"Fail Verdicts":       `sum(increase(ledger_section_verdict_total{verdict="fail"}[1h]))`,
	"Missing Seals":       `sum(increase(ledger_anomaly_total{type="missing_seal"}[1h]))`,
})

var obsLatencyCmd = obsQueryCmd("latency", "Show latency metrics", map[string]string{
	"HTTP P50":       `histogram_quantile(0.5, sum(rate(ledger_http_request_duration_seconds_bucket[5m])) by (le))`,
	"HTTP P95":       `histogram_quantile(0.95, sum(rate(ledger_http_request_duration_seconds_bucket[5m])) by (le))`,
	"HTTP P99":       `histogram_quantile(0.99, sum(rate(ledger_http_request_duration_seconds_bucket[5m])) by (le))`,
	"Lock Wait P95":  `histogram_quantile(0.95, sum(rate(ledger_lock_wait_seconds_bucket[5m])) by (le))`,
	"Pack Build P95": `histogram_quantile(0.95, sum(rate(ledger_pack_build_duration_seconds_bucket[5m])) by (le))`,
})

var obsSweepCmd = obsQueryCmd("sweep", "Show verification worker metrics", map[string]string{
	"Sweep Backlog":  `ledger_sweep_backlog`,
	"Sweep Errors":   `sum(increase(ledger_sweep_total{status="error"}[1h]))`,
	"Sweep Duration": `histogram_quantile(0.95, sum(rate(ledger_sweep_duration_seconds_bucket[15m])) by (le))`,
	"Sealer Errors":  `sum(rate(ledger_sealer_requests_total{code!="OK"}[5m]))`,
})

func queryProm(baseURL, query string) string {
	u := baseURL + "/api/v1/query?query=" + url.QueryEscape(query)
	resp, err := http.Get(u)
	if err != nil {
		return "error: " + err.Error()
	}
	defer resp.Body.Close()

	var promResp PromResponse
	if err := json.NewDecoder(resp.Body).Decode(&promResp); err != nil {
		return "parse error"
	}

	if len(promResp.Data.Result) == 0 {
		return "no data"
	}

	result := promResp.Data.Result[0]
	if len(result.Value) >= 2 {
		return fmt.Sprintf("%v", result.Value[1])
	}
	return "no value"
}

func init() {
	obsCmd.PersistentFlags().StringVar(&metricsURL, "metrics-url", envOr("LEDGER_METRICS_URL", "http://localhost:8428"), "Prometheus-compatible query API URL")
	obsCmd.AddCommand(obsSummaryCmd, obsIntegrityCmd, obsLatencyCmd, obsSweepCmd)
	rootCmd.AddCommand(obsCmd)
}
