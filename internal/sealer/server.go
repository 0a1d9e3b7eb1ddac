package sealer

import (
	"context"
	"encoding/base64"
	"fmt"
	"path"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/lzjever/ledgerseal/internal/core"
	"github.com/lzjever/ledgerseal/internal/observability"
	"github.com/lzjever/ledgerseal/internal/seal"
)

type Server struct {
	sealer seal.Sealer
	cfg    Config
	log    *zap.Logger
}

func NewServer(cfg Config, s seal.Sealer, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{sealer: s, cfg: cfg, log: log}
}

func (s *Server) Sign(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	tenantID, payload, err := s.decode(req)
	if err != nil {
		return nil, err
	}
	env, err := s.sealer.Sign(ctx, tenantID, payload)
	if err != nil {
		return nil, s.toStatus("sign", tenantID, err)
	}
	return structpb.NewStruct(map[string]any{
		FieldSignature: env.Signature,
		FieldKeyID:     env.KeyID,
	})
}

func (s *Server) Verify(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	tenantID, payload, err := s.decode(req)
	if err != nil {
		return nil, err
	}
	fields := req.GetFields()
	env := core.SealEnvelope{
		Signature: fields[FieldSignature].GetStringValue(),
		KeyID:     fields[FieldKeyID].GetStringValue(),
	}
	ok, err := s.sealer.Verify(ctx, tenantID, payload, env)
	if err != nil {
		return nil, s.toStatus("verify", tenantID, err)
	}
	return structpb.NewStruct(map[string]any{FieldValid: ok})
}

func (s *Server) decode(req *structpb.Struct) (string, []byte, error) {
	fields := req.GetFields()
	tenantID := fields[FieldTenantID].GetStringValue()
	if tenantID == "" {
		return "", nil, status.Error(codes.InvalidArgument, "tenant_id is required")
	}
	payload, err := base64.StdEncoding.DecodeString(fields[FieldPayload].GetStringValue())
	if err != nil {
		return "", nil, status.Errorf(codes.InvalidArgument, "payload is not base64: %v", err)
	}
	if s.cfg.MaxPayloadBytes > 0 && len(payload) > s.cfg.MaxPayloadBytes {
		return "", nil, status.Errorf(codes.InvalidArgument, "payload exceeds %d bytes", s.cfg.MaxPayloadBytes)
	}
	return tenantID, payload, nil
}

func (s *Server) toStatus(op, tenantID string, err error) error {
	if core.IsValidation(err) {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	s.log.Error("sealer: "+op+" failed", zap.String("tenant_id", tenantID), zap.Error(err))
	return status.Error(codes.Internal, fmt.Sprintf("%s failed", op))
}

// MetricsInterceptor records request counts by method and status code.
func MetricsInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	observability.SealerActiveRequests.Inc()
	defer observability.SealerActiveRequests.Dec()
	resp, err := handler(ctx, req)
	observability.SealerRequestsTotal.WithLabelValues(path.Base(info.FullMethod), status.Code(err).String()).Inc()
	return resp, err
}
