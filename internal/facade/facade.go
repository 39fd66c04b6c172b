// Package facade is the single chokepoint every state-mutating request in
// seatraft funnels through on its way to internal/raft. Every raft-level
// failure reason gets translated into the gRPC status code a client-facing
// handler can return directly, the same mapping
// original_source/grpc/app/server.py applies ad hoc in every handler
// (ABORTED on commit failure, UNAVAILABLE on no-leader/forward failure).
package facade

import (
	"encoding/json"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"seatraft/internal/raft"
)

// Node is the subset of *raft.Node the facade depends on, so callers can
// swap in a fake for testing without spinning up a real cluster.
type Node interface {
	SubmitOperation(operation, sourceID string) *raft.SubmitResult
}

// sourceID tags every facade-originated submission, mirroring
// original_source/grpc/app/server.py's in-process callers (e.g.
// "AuthService:<node id>") tagging themselves rather than passing
// through an end-user identity.
const sourceID = "facade"

type Facade struct {
	node Node
}

func New(node Node) *Facade {
	return &Facade{node: node}
}

// Submit marshals payload as the operation's JSON body, tagged with
// opType (an opaque verb string, e.g. "Reservation.Create"), and blocks
// until it commits or fails. On success it returns the raft commit result
// string; on failure it returns a gRPC status error (readable with
// status.FromError) ready to hand straight back to a gRPC client.
func (f *Facade) Submit(opType string, payload interface{}) (string, error) {
	body, err := json.Marshal(operationEnvelope(opType, payload))
	if err != nil {
		return "", status.Error(codes.Internal, err.Error())
	}

	result := f.node.SubmitOperation(string(body), sourceID)
	if result.Success {
		return result.Result, nil
	}

	switch result.Error {
	case raft.FailureNoLeader, raft.FailureForward:
		return "", status.Error(codes.Unavailable, result.Error)
	case raft.FailureCommitTimeout:
		return "", status.Error(codes.Aborted, result.Error)
	default:
		return "", status.Error(codes.Aborted, result.Error)
	}
}

// operationEnvelope folds opType into the payload as its "type" field,
// mirroring original_source's op_payload dict shape (json.dumps({"type":
// ..., **fields})).
func operationEnvelope(opType string, payload interface{}) map[string]interface{} {
	raw, _ := json.Marshal(payload)
	var fields map[string]interface{}
	_ = json.Unmarshal(raw, &fields)
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["type"] = opType
	return fields
}
