package sealer

import "time"

type Config struct {
	GRPCAddr        string        `envconfig:"SEALER_GRPC_ADDR" default:"0.0.0.0:7070"`
	MetricsAddr     string        `envconfig:"SEALER_METRICS_ADDR" default:"0.0.0.0:9092"`
	HMACKeys        string        `envconfig:"LEDGER_HMAC_KEYS"`
	HMACKey         string        `envconfig:"LEDGER_HMAC_KEY"`
	HMACKeyID       string        `envconfig:"LEDGER_HMAC_KEY_ID" default:"v1"`
	MaxPayloadBytes int           `envconfig:"SEALER_MAX_PAYLOAD_BYTES" default:"4194304"`
	ShutdownTimeout time.Duration `envconfig:"SEALER_SHUTDOWN_TIMEOUT" default:"30s"`
	OTelEndpoint    string        `envconfig:"LEDGER_OTEL_ENDPOINT"`
	LogLevel        string        `envconfig:"LEDGER_LOG_LEVEL" default:"info"`
}
