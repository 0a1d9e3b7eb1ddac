// Package sealerclient is the gRPC client of the remote seal service. It
// implements seal.Sealer so builders and generators can sign without holding
// key material.
package sealerclient

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/lzjever/ledgerseal/internal/core"
	"github.com/lzjever/ledgerseal/internal/sealer"
)

var (
	// ErrTimeout is returned when the seal service does not answer in time.
	ErrTimeout = errors.New("seal service timeout")
	// ErrUnavailable wraps every other transport or server failure.
	ErrUnavailable = errors.New("seal service error")
)

type Client struct {
	conn    *grpc.ClientConn
	timeout time.Duration
}

func New(addr string, timeout time.Duration) (*Client, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial sealer %s: %w", addr, err)
	}
	return NewFromConn(conn, timeout), nil
}

// NewFromConn wraps an existing connection.
func NewFromConn(conn *grpc.ClientConn, timeout time.Duration) *Client {
	return &Client{conn: conn, timeout: timeout}
}

func (c *Client) Sign(ctx context.Context, tenantID string, payload []byte) (core.SealEnvelope, error) {
	req, err := structpb.NewStruct(map[string]any{
		sealer.FieldTenantID: tenantID,
		sealer.FieldPayload:  base64.StdEncoding.EncodeToString(payload),
	})
	if err != nil {
		return core.SealEnvelope{}, err
	}
	resp, err := c.invoke(ctx, sealer.SignMethod, req)
	if err != nil {
		return core.SealEnvelope{}, err
	}
	fields := resp.GetFields()
	env := core.SealEnvelope{
		Signature: fields[sealer.FieldSignature].GetStringValue(),
		KeyID:     fields[sealer.FieldKeyID].GetStringValue(),
	}
	if env.Signature == "" || env.KeyID == "" {
		return core.SealEnvelope{}, fmt.Errorf("sealer returned an empty envelope")
	}
	return env, nil
}

func (c *Client) Verify(ctx context.Context, tenantID string, payload []byte, env core.SealEnvelope) (bool, error) {
	req, err := structpb.NewStruct(map[string]any{
		sealer.FieldTenantID:  tenantID,
		sealer.FieldPayload:   base64.StdEncoding.EncodeToString(payload),
		sealer.FieldSignature: env.Signature,
		sealer.FieldKeyID:     env.KeyID,
	})
	if err != nil {
		return false, err
	}
	resp, err := c.invoke(ctx, sealer.VerifyMethod, req)
	if err != nil {
		return false, err
	}
	return resp.GetFields()[sealer.FieldValid].GetBoolValue(), nil
}

func (c *Client) invoke(ctx context.Context, method string, req *structpb.Struct) (*structpb.Struct, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, method, req, resp); err != nil {
		st := status.Convert(err)
		switch st.Code() {
		case codes.InvalidArgument:
			return nil, core.Invalid("seal_request", st.Message())
		case codes.DeadlineExceeded:
			return nil, fmt.Errorf("%w: %s", ErrTimeout, st.Message())
		}
		return nil, fmt.Errorf("%w: %s: %s", ErrUnavailable, method, st.Message())
	}
	return resp, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}
