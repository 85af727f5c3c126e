package gateway

import (
	"context"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/deliberation-engine/council/pkg/council"
	pb "github.com/deliberation-engine/council/proto"
)

// GRPCBackend routes completion and streaming calls to a remote model
// router over gRPC, grounded on the streaming-RPC-with-io.EOF-termination
// shape of the teacher's LLM client, adapted from a single fixed model to
// an arbitrary modelID carried per-request.
type GRPCBackend struct {
	conn   *grpc.ClientConn
	client pb.GatewayClient
}

// DialGRPCBackend connects to addr (insecure transport credentials, matching
// the teacher's in-cluster client) and returns a ready Backend.
func DialGRPCBackend(addr string) (*GRPCBackend, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to gateway backend: %w", err)
	}
	return &GRPCBackend{conn: conn, client: pb.NewGatewayClient(conn)}, nil
}

// Close releases the underlying connection.
func (b *GRPCBackend) Close() error { return b.conn.Close() }

func requestStruct(modelID, prompt string, opts Options) (*structpb.Struct, error) {
	fields := map[string]any{
		pb.FieldModelID:     modelID,
		pb.FieldPrompt:      prompt,
		pb.FieldMaxTokens:   float64(opts.MaxTokens),
		pb.FieldTemperature: opts.Temperature,
		pb.FieldJSONMode:    opts.JSONMode,
	}
	if !opts.Deadline.IsZero() {
		fields[pb.FieldDeadlineMS] = float64(opts.Deadline.UnixMilli())
	}
	return structpb.NewStruct(fields)
}

func resultFromStruct(s *structpb.Struct) CompletionResult {
	fs := s.GetFields()
	res := CompletionResult{
		Content:   fs[pb.FieldContent].GetStringValue(),
		TokensIn:  int(fs[pb.FieldTokensIn].GetNumberValue()),
		TokensOut: int(fs[pb.FieldTokensOut].GetNumberValue()),
	}
	if reason := fs[pb.FieldDegradationKind].GetStringValue(); reason != "" {
		res.Degradation = append(res.Degradation, council.DegradationNotice{
			Reason: reason,
			Detail: fs[pb.FieldDegradationHW].GetStringValue(),
		})
	}
	return res
}

// Complete issues a unary RPC against the remote router.
func (b *GRPCBackend) Complete(ctx context.Context, modelID, prompt string, opts Options) (CompletionResult, error) {
	req, err := requestStruct(modelID, prompt, opts)
	if err != nil {
		return CompletionResult{}, fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := b.client.Complete(ctx, req)
	if err != nil {
		return CompletionResult{}, err
	}
	return resultFromStruct(resp), nil
}

// Stream issues the server-streaming RPC, translating each received chunk
// into a gateway Chunk and terminating on io.EOF or a terminal chunk. ch is
// closed when Stream returns.
func (b *GRPCBackend) Stream(ctx context.Context, modelID, prompt string, opts Options, ch chan<- Chunk) error {
	defer close(ch)
	req, err := requestStruct(modelID, prompt, opts)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	stream, err := b.client.Stream(ctx, req)
	if err != nil {
		return err
	}

	var accumulated CompletionResult
	for {
		msg, err := stream.Recv()
		if err == io.EOF {
			final := accumulated
			select {
			case ch <- Chunk{Terminal: true, Result: &final}:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		}
		if err != nil {
			return err
		}

		piece := resultFromStruct(msg)
		accumulated.Content += piece.Content
		accumulated.TokensOut += piece.TokensOut
		accumulated.Degradation = append(accumulated.Degradation, piece.Degradation...)

		terminal := msg.GetFields()[pb.FieldTerminal].GetBoolValue()
		select {
		case ch <- Chunk{Content: piece.Content, Terminal: terminal}:
		case <-ctx.Done():
			return ctx.Err()
		}
		if terminal {
			return nil
		}
	}
}
