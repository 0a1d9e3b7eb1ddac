package api

import (
	"time"

	"github.com/lzjever/ledgerseal/internal/signals"
)

type Config struct {
	HTTPAddr        string        `envconfig:"LEDGER_HTTP_ADDR" default:"0.0.0.0:8080"`
	MetricsAddr     string        `envconfig:"LEDGER_METRICS_ADDR" default:"0.0.0.0:9090"`
	LogLevel        string        `envconfig:"LEDGER_LOG_LEVEL" default:"info"`
	ShutdownTimeout time.Duration `envconfig:"LEDGER_SHUTDOWN_TIMEOUT" default:"30s"`
	OTelEndpoint    string        `envconfig:"LEDGER_OTEL_ENDPOINT"`
	MaxBodyBytes    int64         `envconfig:"LEDGER_MAX_BODY_BYTES" default:"4194304"`

	StoreDriver string `envconfig:"LEDGER_STORE_DRIVER" default:"postgres"`
	DBDSN       string `envconfig:"LEDGER_DB_DSN"`
	DBMaxConns  int32  `envconfig:"LEDGER_DB_MAX_CONNS" default:"20"`
	SQLitePath  string `envconfig:"LEDGER_SQLITE_PATH" default:"ledger.db"`
	AutoMigrate bool   `envconfig:"LEDGER_AUTO_MIGRATE" default:"true"`

	SealerAddr    string        `envconfig:"LEDGER_SEALER_ADDR"`
	SealerTimeout time.Duration `envconfig:"LEDGER_SEALER_TIMEOUT" default:"5s"`
	HMACKeys      string        `envconfig:"LEDGER_HMAC_KEYS"`
	HMACKey       string        `envconfig:"LEDGER_HMAC_KEY"`
	HMACKeyID     string        `envconfig:"LEDGER_HMAC_KEY_ID" default:"v1"`

	signals.Config
}
