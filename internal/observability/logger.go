package observability

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func NewLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

// TenantLogger returns a child logger scoped to one tenant and operation.
func TenantLogger(base *zap.Logger, tenantID, op string) *zap.Logger {
	return base.With(
		zap.String("tenant_id", tenantID),
		zap.String("op", op),
	)
}

// PackLogger returns a child logger with evidence-pack fields.
func PackLogger(base *zap.Logger, tenantID, packID string) *zap.Logger {
	return base.With(
		zap.String("tenant_id", tenantID),
		zap.String("pack_id", packID),
	)
}
