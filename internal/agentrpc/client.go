package agentrpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/scalaric/decryptor/internal/errs"
)

// Client is a thin typed wrapper around a grpc.ClientConn dialed with the
// "json" codec, invoking the three RPCs the agent exposes (spec.md section
// 4.9). Each call gets its own DefaultCallTimeout deadline, derived from
// ctx: a shorter deadline already on ctx still applies, a longer one is
// capped at DefaultCallTimeout.
type Client struct {
	conn *grpc.ClientConn
}

// NewClient wraps an already-dialed connection. Dialing (target resolution,
// TLS/insecure transport credentials, keepalive policy) is the caller's
// concern; this package only owns the RPC contract.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

// SetRepository registers url with the agent, cloning it if not already
// known (spec.md section 4.5).
func (c *Client) SetRepository(ctx context.Context, req SetRepositoryRequest) (*Ack, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultCallTimeout)
	defer cancel()

	reply := &Ack{}
	if err := c.conn.Invoke(ctx, MethodSetRepository, &req, reply); err != nil {
		return nil, errs.Wrap(errs.Rpc, "SetRepository call failed", err)
	}
	return reply, nil
}

// DeleteRepository tells the agent to forget url and remove its working
// tree (spec.md section 4.5).
func (c *Client) DeleteRepository(ctx context.Context, req DeleteRepositoryRequest) (*Ack, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultCallTimeout)
	defer cancel()

	reply := &Ack{}
	if err := c.conn.Invoke(ctx, MethodDeleteRepository, &req, reply); err != nil {
		return nil, errs.Wrap(errs.Rpc, "DeleteRepository call failed", err)
	}
	return reply, nil
}

// Render asks the agent to authenticate the provider and decrypt the
// requested file from its current working tree (it does not pull),
// returning the rendered manifest and the commit hash it was rendered
// from (spec.md sections 4.4, 4.8).
func (c *Client) Render(ctx context.Context, req RenderRequest) (*RenderResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultCallTimeout)
	defer cancel()

	reply := &RenderResponse{}
	if err := c.conn.Invoke(ctx, MethodRender, &req, reply); err != nil {
		return nil, errs.Wrap(errs.Rpc, "Render call failed", err)
	}
	return reply, nil
}

// CallOptionCodecName exports the codec name so callers can pass it to
// grpc.CallContentSubtype when dialing the agent.
const CallOptionCodecName = codecName
