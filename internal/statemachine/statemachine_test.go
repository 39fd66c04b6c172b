package statemachine

import (
	"testing"

	"seatraft/internal/raft"
)

// Apply on an undecodable or unrecognized operation must return without
// touching the store or cache, so a bare StateMachine (nil store, nil
// cache) is enough to exercise these paths without a live Postgres/Redis.

func TestApplyUndecodableOperationDoesNotPanic(t *testing.T) {
	sm := New(nil, nil)
	sm.Apply(raft.LogEntry{Index: 1, Term: 1, Operation: "not json"})
}

func TestApplyUnknownTypeDoesNotPanic(t *testing.T) {
	sm := New(nil, nil)
	sm.Apply(raft.LogEntry{Index: 1, Term: 1, Operation: `{"type":"Nonsense.Op"}`})
}
