// Package backend opens the configured store and sealer for the ledger
// binaries.
package backend

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lzjever/ledgerseal/internal/evidence"
	"github.com/lzjever/ledgerseal/internal/ledger"
	"github.com/lzjever/ledgerseal/internal/proof"
	"github.com/lzjever/ledgerseal/internal/seal"
	"github.com/lzjever/ledgerseal/internal/sealerclient"
	"github.com/lzjever/ledgerseal/internal/signals"
	"github.com/lzjever/ledgerseal/internal/store"
	"github.com/lzjever/ledgerseal/internal/store/memstore"
	"github.com/lzjever/ledgerseal/internal/store/sqlite"
)

// Store is every storage port the binaries use.
type Store interface {
	ledger.Store
	ledger.RowStore
	evidence.EventReader
	evidence.Store
	proof.Source
	proof.GovernanceStore
	signals.Store
	Ping(ctx context.Context) error
	ListTenants(ctx context.Context) ([]string, error)
}

var (
	_ Store = (*store.Store)(nil)
	_ Store = (*sqlite.Store)(nil)
	_ Store = (*memstore.Store)(nil)
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

type StoreOptions struct {
	Driver     string
	DSN        string
	SQLitePath string
	MaxConns   int32
	Migrate    bool
}

// OpenStore opens the store named by opts.Driver. The returned func releases
// it.
func OpenStore(ctx context.Context, opts StoreOptions, log *zap.Logger) (Store, func(), error) {
	switch opts.Driver {
	case DriverPostgres, "":
		if opts.DSN == "" {
			return nil, nil, fmt.Errorf("postgres driver requires a DSN")
		}
		pool, err := store.NewPool(ctx, opts.DSN, opts.MaxConns)
		if err != nil {
			return nil, nil, err
		}
		if opts.Migrate {
			if err := store.Migrate(ctx, pool); err != nil {
				pool.Close()
				return nil, nil, fmt.Errorf("migrate: %w", err)
			}
			log.Info("postgres migrations applied")
		}
		return store.New(pool), pool.Close, nil
	case DriverSQLite:
		st, err := sqlite.Open(opts.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return st, func() { _ = st.Close() }, nil
	case DriverMemory:
		log.Warn("using in-memory store; nothing will be persisted")
		return memstore.New(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
}

type SealerOptions struct {
	Addr      string
	Timeout   time.Duration
	HMACKeys  string
	HMACKey   string
	HMACKeyID string
}

// OpenSealer dials the remote seal service when Addr is set and otherwise
// builds a local keyring.
func OpenSealer(opts SealerOptions) (seal.Sealer, func() error, error) {
	if opts.Addr != "" {
		c, err := sealerclient.New(opts.Addr, opts.Timeout)
		if err != nil {
			return nil, nil, err
		}
		return c, c.Close, nil
	}
	ring, err := seal.KeyringFromConfig(opts.HMACKeys, opts.HMACKey, opts.HMACKeyID)
	if err != nil {
		return nil, nil, err
	}
	return ring, func() error { return nil }, nil
}
