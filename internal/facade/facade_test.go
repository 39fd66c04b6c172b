package facade

import (
	"encoding/json"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"seatraft/internal/raft"
)

type fakeNode struct {
	result    *raft.SubmitResult
	got       string
	gotSource string
}

func (f *fakeNode) SubmitOperation(operation, sourceID string) *raft.SubmitResult {
	f.got = operation
	f.gotSource = sourceID
	return f.result
}

func TestSubmitSuccessReturnsResult(t *testing.T) {
	fn := &fakeNode{result: &raft.SubmitResult{Success: true, Result: "Executed Reservation.Create at index 1 (term 1)"}}
	f := New(fn)

	result, err := f.Submit("Reservation.Create", map[string]interface{}{"seat_id": 7})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if result != fn.result.Result {
		t.Errorf("result = %q, want %q", result, fn.result.Result)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal([]byte(fn.got), &decoded); err != nil {
		t.Fatalf("operation body is not valid JSON: %v", err)
	}
	if decoded["type"] != "Reservation.Create" {
		t.Errorf("type = %v, want Reservation.Create", decoded["type"])
	}
	if decoded["seat_id"] != float64(7) {
		t.Errorf("seat_id = %v, want 7", decoded["seat_id"])
	}
}

func TestSubmitMapsNoLeaderToUnavailable(t *testing.T) {
	fn := &fakeNode{result: &raft.SubmitResult{Success: false, Error: raft.FailureNoLeader}}
	f := New(fn)

	_, err := f.Submit("Reservation.Create", map[string]interface{}{})
	assertCode(t, err, codes.Unavailable)
}

func TestSubmitMapsForwardFailureToUnavailable(t *testing.T) {
	fn := &fakeNode{result: &raft.SubmitResult{Success: false, Error: raft.FailureForward}}
	f := New(fn)

	_, err := f.Submit("Reservation.Create", map[string]interface{}{})
	assertCode(t, err, codes.Unavailable)
}

func TestSubmitMapsCommitTimeoutToAborted(t *testing.T) {
	fn := &fakeNode{result: &raft.SubmitResult{Success: false, Error: raft.FailureCommitTimeout}}
	f := New(fn)

	_, err := f.Submit("Reservation.Create", map[string]interface{}{})
	assertCode(t, err, codes.Aborted)
}

func assertCode(t *testing.T, err error, want codes.Code) {
	t.Helper()
	if err == nil {
		t.Fatal("expected an error, got nil")
	}
	st, ok := status.FromError(err)
	if !ok {
		t.Fatalf("error %v is not a gRPC status", err)
	}
	if st.Code() != want {
		t.Errorf("code = %v, want %v", st.Code(), want)
	}
}
