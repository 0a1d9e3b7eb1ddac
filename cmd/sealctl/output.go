package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/lzjever/ledgerseal/internal/core"
)

func printResult(v interface{}) {
	switch output {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(v)
	case "yaml":
		printYAML(v)
	default:
		printTable(v)
	}
}

// printYAML renders v with its JSON field names.
func printYAML(v interface{}) {
	raw, err := json.Marshal(v)
	if err != nil {
		fail("%v", err)
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		fail("%v", err)
	}
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		fail("%v", err)
	}
	enc.Close()
}

func printTable(v interface{}) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	switch data := v.(type) {
	case []core.AuditEvent:
		if len(data) == 0 {
			fmt.Println("No events found.")
			return
		}
		fmt.Fprintln(w, "SEQ\tACTION\tTARGET\tACTOR\tHASH\tCREATED")
		for _, e := range data {
			fmt.Fprintf(w, "%d\t%s\t%s/%s\t%s\t%s\t%s\n", e.Seq, e.Action, e.TargetType, e.TargetID, e.ActorID, short(e.Hash), core.FormatTimestamp(e.CreatedAt))
		}
	case core.AuditEvent:
		fmt.Fprintf(w, "Event ID:\t%s\n", data.ID)
		fmt.Fprintf(w, "Seq:\t%d\n", data.Seq)
		fmt.Fprintf(w, "Action:\t%s\n", data.Action)
		fmt.Fprintf(w, "Target:\t%s/%s\n", data.TargetType, data.TargetID)
		fmt.Fprintf(w, "Hash:\t%s\n", data.Hash)
		fmt.Fprintf(w, "Previous:\t%s\n", data.PreviousHash)
	case core.ChainHead:
		fmt.Fprintf(w, "Tenant:\t%s\n", data.TenantID)
		fmt.Fprintf(w, "Length:\t%d\n", data.Seq)
		fmt.Fprintf(w, "Head:\t%s\n", data.Hash)
	case core.ChainVerification:
		fmt.Fprintf(w, "Valid:\t%t\n", data.Valid)
		fmt.Fprintf(w, "Events checked:\t%d\n", data.EventsChecked)
		if !data.Valid {
			fmt.Fprintf(w, "Broken at:\t%d (%s)\n", data.BrokenAt, data.BrokenEventID)
			fmt.Fprintf(w, "Reason:\t%s\n", data.Reason)
		}
	case []core.EvidencePack:
		if len(data) == 0 {
			fmt.Println("No packs found.")
			return
		}
		fmt.Fprintln(w, "PACK ID\tTYPE\tSUBJECT\tSTATUS\tCHAIN\tMERKLE ROOT\tCREATED")
		for _, p := range data {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", p.ID, p.EvidenceType, p.SubjectID, p.Status, p.ChainIntegrity, short(p.MerkleRoot), core.FormatTimestamp(p.CreatedAt))
		}
	case core.EvidencePack:
		fmt.Fprintf(w, "Pack ID:\t%s\n", data.ID)
		fmt.Fprintf(w, "Type:\t%s\n", data.EvidenceType)
		fmt.Fprintf(w, "Subject:\t%s\n", data.SubjectID)
		fmt.Fprintf(w, "Status:\t%s\n", data.Status)
		fmt.Fprintf(w, "Merkle root:\t%s\n", data.MerkleRoot)
		fmt.Fprintf(w, "Digest:\t%s\n", data.PackDigest)
		fmt.Fprintf(w, "Key ID:\t%s\n", data.Seal.KeyID)
		for _, a := range data.Artifacts {
			fmt.Fprintf(w, "Artifact:\t%s %s\n", a.Name, short(a.SHA256))
		}
	case core.ProofSection:
		fmt.Fprintf(w, "Section:\t%s\n", data.Type)
		fmt.Fprintf(w, "Verdict:\t%s\n", strings.ToUpper(string(data.Verdict)))
		fmt.Fprintf(w, "Missing seals:\t%d\n", data.Counters.MissingSeals)
		fmt.Fprintf(w, "Chain length:\t%d\n", data.Counters.ChainLength)
		for _, a := range data.Anomalies {
			fmt.Fprintf(w, "Anomaly:\t%s %s %s\n", a.Type, a.SubjectID, a.Description)
		}
	default:
		printYAML(v)
	}
	w.Flush()
}

func short(h string) string {
	if len(h) <= 12 {
		return h
	}
	return h[:12]
}
