package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/lzjever/ledgerseal/internal/api"
	"github.com/lzjever/ledgerseal/internal/core"
	"github.com/lzjever/ledgerseal/internal/evidence"
)

type PackListResponse struct {
	Packs []core.EvidencePack `json:"packs"`
}

var packCmd = &cobra.Command{
	Use:   "pack",
	Short: "Evidence pack commands",
}

var (
	packTrigger     string
	packType        string
	packSubject     string
	packArtifacts   []string
	packMetadata    []string
	packAuditTrail  bool
	packIdempotency string
	packStatus      string
	packLimit       int
	exportFile      string
)

// parseArtifact accepts name=@file, name=sha256:<hex> or name=<json>.
func parseArtifact(arg string) (evidence.ArtifactInput, error) {
	name, val, ok := strings.Cut(arg, "=")
	if !ok || name == "" {
		return evidence.ArtifactInput{}, fmt.Errorf("artifact %q: want name=value", arg)
	}
	switch {
	case strings.HasPrefix(val, "sha256:"):
		return evidence.ArtifactInput{Name: name, SHA256: strings.TrimPrefix(val, "sha256:")}, nil
	case strings.HasPrefix(val, "@"):
		path := strings.TrimPrefix(val, "@")
		b, err := os.ReadFile(path)
		if err != nil {
			return evidence.ArtifactInput{}, err
		}
		if json.Valid(b) {
			return evidence.ArtifactInput{Name: name, Payload: b}, nil
		}
		return evidence.ArtifactInput{Name: name, SHA256: core.HashBytes(b), ContentPath: path}, nil
	default:
		if !json.Valid([]byte(val)) {
			return evidence.ArtifactInput{}, fmt.Errorf("artifact %q: value is not JSON", name)
		}
		return evidence.ArtifactInput{Name: name, Payload: json.RawMessage(val)}, nil
	}
}

var packCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Build and seal an evidence pack",
	Run: func(cmd *cobra.Command, args []string) {
		req := evidence.Request{
			EvidenceType:      core.EvidenceType(packType),
			SubjectID:         packSubject,
			TriggerEventID:    packTrigger,
			IncludeAuditTrail: packAuditTrail,
			Artifacts:         []evidence.ArtifactInput{},
		}
		for _, arg := range packArtifacts {
			a, err := parseArtifact(arg)
			if err != nil {
				fail("%v", err)
			}
			req.Artifacts = append(req.Artifacts, a)
		}
		if len(packMetadata) > 0 {
			req.Metadata = map[string]string{}
			for _, kv := range packMetadata {
				k, v, ok := strings.Cut(kv, "=")
				if !ok {
					fail("metadata %q: want key=value", kv)
				}
				req.Metadata[k] = v
			}
		}

		key := packIdempotency
		if key == "" {
			key = uuid.New().String()
		}
		var resp core.EvidencePack
		if err := NewClient(apiURL).Do("POST", tenantPath("/packs"), req, map[string]string{api.IdempotencyKeyHeader: key}, &resp); err != nil {
			fail("%v", err)
		}
		printResult(resp)
	},
}

var packListCmd = &cobra.Command{
	Use:   "list",
	Short: "List evidence packs",
	Run: func(cmd *cobra.Command, args []string) {
		path := tenantPath("/packs") + "?limit=" + strconv.Itoa(packLimit)
		if packStatus != "" {
			path += "&status=" + packStatus
		}
		var resp PackListResponse
		if err := NewClient(apiURL).Get(path, &resp); err != nil {
			fail("%v", err)
		}
		printResult(resp.Packs)
	},
}

var packGetCmd = &cobra.Command{
	Use:   "get <pack-id>",
	Short: "Get pack details",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var resp core.EvidencePack
		if err := NewClient(apiURL).Get(tenantPath("/packs/"+args[0]), &resp); err != nil {
			fail("%v", err)
		}
		printResult(resp)
	},
}

var packVerifyCmd = &cobra.Command{
	Use:   "verify <pack-id>",
	Short: "Re-verify a pack's seal; exits 1 when it is broken",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var resp api.VerifyPackResponse
		if err := NewClient(apiURL).Post(tenantPath("/packs/"+args[0]+":verify"), nil, &resp); err != nil {
			fail("%v", err)
		}
		if output == "table" {
			fmt.Printf("Pack %s: %s -> %s\n", resp.PackID, resp.PreviousStatus, resp.Status)
			fmt.Printf("  digest match:       %t\n", resp.DigestMatch)
			fmt.Printf("  merkle match:       %t\n", resp.MerkleMatch)
			fmt.Printf("  signature verified: %t\n", resp.SignatureVerified)
			fmt.Printf("  chain integrity:    %s\n", resp.ChainIntegrity)
		} else {
			printResult(resp)
		}
		if !resp.Valid || resp.Status == core.PackBroken {
			os.Exit(1)
		}
	},
}

var packExportCmd = &cobra.Command{
	Use:   "export <pack-id>",
	Short: "Download a sealed bundle and check its Merkle proofs",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var bundle evidence.Bundle
		if err := NewClient(apiURL).Get(tenantPath("/packs/"+args[0]+"/export"), &bundle); err != nil {
			fail("%v", err)
		}
		if !evidence.VerifyBundle(bundle) {
			fail("bundle for pack %s does not match its digest or Merkle root", args[0])
		}
		b, err := json.MarshalIndent(bundle, "", "  ")
		if err != nil {
			fail("%v", err)
		}
		if exportFile == "" || exportFile == "-" {
			os.Stdout.Write(append(b, '\n'))
			return
		}
		if err := os.WriteFile(exportFile, b, 0o644); err != nil {
			fail("%v", err)
		}
		fmt.Printf("Bundle for pack %s written to %s\n", args[0], exportFile)
	},
}

func init() {
	packCreateCmd.Flags().StringVar(&packTrigger, "trigger", "", "Trigger audit event ID")
	packCreateCmd.Flags().StringVar(&packType, "type", "", "Evidence type (derived from the trigger when omitted)")
	packCreateCmd.Flags().StringVar(&packSubject, "subject", "", "Subject ID (derived from the trigger when omitted)")
	packCreateCmd.Flags().StringArrayVar(&packArtifacts, "artifact", nil, "Artifact as name=@file, name=sha256:<hex> or name=<json>")
	packCreateCmd.Flags().StringArrayVar(&packMetadata, "meta", nil, "Metadata key=value")
	packCreateCmd.Flags().BoolVar(&packAuditTrail, "audit-trail", false, "Include the subject's audit trail as an artifact")
	packCreateCmd.Flags().StringVar(&packIdempotency, "idempotency-key", "", "Idempotency key (random when omitted)")
	packListCmd.Flags().StringVar(&packStatus, "status", "", "Filter by status (comma separated)")
	packListCmd.Flags().IntVar(&packLimit, "limit", 50, "Maximum packs to return")
	packExportCmd.Flags().StringVarP(&exportFile, "file", "f", "", "Write the bundle to this file")

	packCmd.AddCommand(packCreateCmd, packListCmd, packGetCmd, packVerifyCmd, packExportCmd)
	rootCmd.AddCommand(packCmd)
}
