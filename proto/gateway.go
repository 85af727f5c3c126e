// Package proto defines the wire contract for the remote model gateway
// service. Rather than checking in protoc-generated bindings (this module
// has no protoc invocation in its build), requests and responses are
// carried as google.golang.org/protobuf/types/known/structpb.Struct
// values — a real, pre-generated protobuf message type — so the service
// still speaks wire-compatible protobuf over gRPC without a code
// generation step. Field names below are the contract between this
// package and pkg/gateway's gRPC backend.
package proto

const (
	// ServiceName is the gRPC service name advertised in reflection and
	// used to build full method paths.
	ServiceName = "council.Gateway"

	// MethodComplete is the unary completion RPC.
	MethodComplete = "/" + ServiceName + "/Complete"
	// MethodStream is the server-streaming completion RPC.
	MethodStream = "/" + ServiceName + "/Stream"
)

// Request field names within the structpb.Struct payload for both RPCs.
const (
	FieldModelID     = "model_id"
	FieldPrompt      = "prompt"
	FieldMaxTokens   = "max_tokens"
	FieldTemperature = "temperature"
	FieldJSONMode    = "json_mode"
	FieldDeadlineMS  = "deadline_unix_ms"
)

// Response/chunk field names.
const (
	FieldContent        = "content"
	FieldTokensIn        = "tokens_in"
	FieldTokensOut       = "tokens_out"
	FieldTerminal        = "terminal"
	FieldDegradationKind = "degradation_reason"
	FieldDegradationHW   = "degradation_detail"
)
