package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/dynamicpb"
)

// GRPCClient calls the exec service over plain gRPC, using the dynamic
// protobuf form of the message structs.
type GRPCClient struct {
	conn *grpc.ClientConn
}

// DialGRPC connects to target ("host:port"). Without options the
// connection is unencrypted.
func DialGRPC(target string, opts ...grpc.DialOption) (*GRPCClient, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, err
	}
	return &GRPCClient{conn: conn}, nil
}

// Close closes the connection.
func (c *GRPCClient) Close() error { return c.conn.Close() }

func (c *GRPCClient) invoke(ctx context.Context, method string, req, resp any) error {
	in, err := toDynamic(req)
	if err != nil {
		return err
	}
	md, err := MessageDescriptor(resp)
	if err != nil {
		return err
	}
	out := dynamicpb.NewMessage(md)
	if err := c.conn.Invoke(ctx, method, in, out); err != nil {
		return err
	}
	return fromDynamic(out, resp)
}

func (c *GRPCClient) Run(ctx context.Context, req *RunRequest) (*RunResponse, error) {
	resp := new(RunResponse)
	if err := c.invoke(ctx, RunProcedure, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *GRPCClient) Compile(ctx context.Context, req *CompileRequest) (*CompileResponse, error) {
	resp := new(CompileResponse)
	if err := c.invoke(ctx, CompileProcedure, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *GRPCClient) Stats(ctx context.Context, req *StatsRequest) (*StatsResponse, error) {
	resp := new(StatsResponse)
	if err := c.invoke(ctx, StatsProcedure, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *GRPCClient) Disassemble(ctx context.Context, req *DisassembleRequest) (*DisassembleResponse, error) {
	resp := new(DisassembleResponse)
	if err := c.invoke(ctx, DisassembleProcedure, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}
