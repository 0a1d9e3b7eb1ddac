// Package signals provides the governance proof pack's signal sources.
package signals

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lzjever/ledgerseal/internal/core"
	"github.com/lzjever/ledgerseal/internal/proof"
)

// Missing is recorded when a file-backed signal has not been produced.
const Missing = "missing"

// Config locates the externally produced signals. Every field is optional.
type Config struct {
	ContractTestDir string `envconfig:"LEDGER_SIGNAL_CONTRACT_TEST_DIR"`
	CIStatusFile    string `envconfig:"LEDGER_SIGNAL_CI_STATUS_FILE"`
	CIStatus        string `envconfig:"LEDGER_SIGNAL_CI_STATUS"`
	ScanStatusFile  string `envconfig:"LEDGER_SIGNAL_SCAN_STATUS_FILE"`
	RedTeamFile     string `envconfig:"LEDGER_SIGNAL_RED_TEAM_FILE"`
}

// Store is the storage view the database-backed signals read.
type Store interface {
	LatestMigration(ctx context.Context) (string, error)
	ChainHeads(ctx context.Context) ([]core.ChainHead, error)
}

// Sources wires every signal from cfg and the store.
func Sources(cfg Config, st Store) proof.Sources {
	s := proof.Sources{
		MigrationID:      MigrationID(st),
		AuditChainDigest: AuditChainDigest(st),
	}
	if cfg.ContractTestDir != "" {
		s.ContractTestFingerprint = DirFingerprint(cfg.ContractTestDir)
	}
	switch {
	case cfg.CIStatus != "":
		s.CIStatus = Static(cfg.CIStatus)
	case cfg.CIStatusFile != "":
		s.CIStatus = File(cfg.CIStatusFile)
	}
	if cfg.ScanStatusFile != "" {
		s.ScanStatus = File(cfg.ScanStatusFile)
	}
	if cfg.RedTeamFile != "" {
		s.RedTeamSummary = FileDigest(cfg.RedTeamFile)
	}
	return s
}

// Static returns a fixed value.
func Static(v string) proof.SignalSource {
	return func(context.Context) (string, error) { return v, nil }
}

// File returns the trimmed first line of a file, or Missing when the file
// does not exist.
func File(path string) proof.SignalSource {
	return func(context.Context) (string, error) {
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			return Missing, nil
		}
		if err != nil {
			return "", fmt.Errorf("read %s: %w", path, err)
		}
		line, _, _ := strings.Cut(string(data), "\n")
		return strings.TrimSpace(line), nil
	}
}

// FileDigest returns the SHA-256 of a file's contents, or Missing.
func FileDigest(path string) proof.SignalSource {
	return func(context.Context) (string, error) {
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			return Missing, nil
		}
		if err != nil {
			return "", fmt.Errorf("read %s: %w", path, err)
		}
		return core.HashBytes(data), nil
	}
}

// DirFingerprint hashes the relative path and content digest of every
// regular file under dir.
func DirFingerprint(dir string) proof.SignalSource {
	return func(ctx context.Context) (string, error) {
		entries := map[string]string{}
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if !d.Type().IsRegular() {
				return nil
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(dir, path)
			if err != nil {
				return err
			}
			entries[filepath.ToSlash(rel)] = core.HashBytes(data)
			return nil
		})
		if errors.Is(err, fs.ErrNotExist) {
			return Missing, nil
		}
		if err != nil {
			return "", fmt.Errorf("fingerprint %s: %w", dir, err)
		}
		return core.Hash(entries)
	}
}

// MigrationID reports the latest applied schema migration.
func MigrationID(st Store) proof.SignalSource {
	return func(ctx context.Context) (string, error) {
		return st.LatestMigration(ctx)
	}
}

type headEntry struct {
	TenantID string `json:"tenantId"`
	Seq      int64  `json:"seq"`
	Hash     string `json:"hash"`
}

// AuditChainDigest summarises the whole audit table as the hash of every
// tenant's chain head, ordered by tenant.
func AuditChainDigest(st Store) proof.SignalSource {
	return func(ctx context.Context) (string, error) {
		heads, err := st.ChainHeads(ctx)
		if err != nil {
			return "", fmt.Errorf("chain heads: %w", err)
		}
		entries := make([]headEntry, len(heads))
		for i, h := range heads {
			entries[i] = headEntry{TenantID: h.TenantID, Seq: h.Seq, Hash: h.Hash}
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].TenantID < entries[j].TenantID })
		return core.Hash(entries)
	}
}
