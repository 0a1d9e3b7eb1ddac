package worker

import (
	"time"

	"github.com/lzjever/ledgerseal/internal/signals"
)

type Config struct {
	StoreDriver string `envconfig:"LEDGER_STORE_DRIVER" default:"postgres"`
	DBDSN       string `envconfig:"LEDGER_DB_DSN"`
	DBMaxConns  int32  `envconfig:"LEDGER_DB_MAX_CONNS" default:"5"`
	SQLitePath  string `envconfig:"LEDGER_SQLITE_PATH" default:"ledger.db"`

	SealerAddr    string        `envconfig:"LEDGER_SEALER_ADDR"`
	SealerTimeout time.Duration `envconfig:"LEDGER_SEALER_TIMEOUT" default:"5s"`
	HMACKeys      string        `envconfig:"LEDGER_HMAC_KEYS"`
	HMACKey       string        `envconfig:"LEDGER_HMAC_KEY"`
	HMACKeyID     string        `envconfig:"LEDGER_HMAC_KEY_ID" default:"v1"`

	MetricsAddr     string        `envconfig:"LEDGER_WORKER_METRICS_ADDR" default:"0.0.0.0:9091"`
	LogLevel        string        `envconfig:"LEDGER_LOG_LEVEL" default:"info"`
	OTelEndpoint    string        `envconfig:"LEDGER_OTEL_ENDPOINT"`
	SweepInterval   time.Duration `envconfig:"WORKER_SWEEP_INTERVAL" default:"1m"`
	ReverifyAfter   time.Duration `envconfig:"WORKER_REVERIFY_AFTER" default:"24h"`
	BatchSize       int           `envconfig:"WORKER_BATCH_SIZE" default:"200"`
	Concurrency     int           `envconfig:"WORKER_CONCURRENCY" default:"4"`
	EvaluateSection bool          `envconfig:"WORKER_EVALUATE_SECTIONS" default:"true"`
	ProofPackEvery  time.Duration `envconfig:"WORKER_PROOF_PACK_INTERVAL" default:"0"`
	ShutdownTimeout time.Duration `envconfig:"WORKER_SHUTDOWN_TIMEOUT" default:"60s"`

	signals.Config
}
