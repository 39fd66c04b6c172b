package raft

import "time"

// Failure reasons a SubmitOperation call can report. These are surfaced
// to the caller as plain strings rather than Go errors: a client across a
// gRPC boundary can't type-switch on an error value, and the Submission
// Facade is the layer responsible for mapping them onto status codes.
const (
	FailureNoLeader      = "no leader known"
	FailureCommitTimeout = "commit timed out"
	FailureForward       = "forwarding to leader failed"
)

// SubmitResult is the outcome of SubmitOperation.
type SubmitResult struct {
	Success bool
	Result  string // set on success: the deterministic commit result string
	Error   string // set on failure: one of the Failure* reasons above
	// LeaderID is the node this result's commit (or commit attempt) ran
	// through. Populated whenever a leader is known, including on
	// CommitTimeout and ForwardFailure; left empty when the node that
	// handled the call knows no leader for its current term (NoLeader).
	LeaderID NodeID
}

// SubmitOperation is the single entry point every state-mutating request
// goes through. sourceID identifies the caller for tracing (e.g. "client"
// for a direct RPC caller, or a service name for an in-process caller) and
// is never interpreted, only logged. If this node is leader, the
// operation is appended locally and the call blocks until it commits (or
// until SubmitDeadline elapses). If this node is a follower with a known
// leader, the call is forwarded once; deciding whether to retry belongs
// to the caller (the Submission Facade), not to the core.
func (rn *Node) SubmitOperation(operation, sourceID string) *SubmitResult {
	rn.mu.Lock()

	if rn.role != Leader {
		leaderID := rn.leaderID
		rn.mu.Unlock()

		if leaderID == "" {
			return &SubmitResult{Success: false, Error: FailureNoLeader}
		}
		return rn.forwardToLeader(leaderID, operation, sourceID)
	}

	term := rn.currentTerm
	selfID := rn.id
	index := rn.log.appendEntry(term, operation)
	pending := newPendingSubmission()
	rn.pending[index] = pending
	rn.mu.Unlock()

	rn.logger.Info("Submitted operation at index %d (term %d) from %s: %s", index, term, sourceID, operation)

	// Replicate immediately rather than waiting for the next heartbeat
	// tick, so a single client request doesn't pay the full heartbeat
	// interval in latency.
	go rn.broadcastAppendEntries()

	select {
	case result := <-pending.resultCh:
		return &SubmitResult{Success: true, Result: result, LeaderID: selfID}
	case <-time.After(SubmitDeadline):
		rn.mu.Lock()
		delete(rn.pending, index)
		rn.mu.Unlock()
		return &SubmitResult{Success: false, Error: FailureCommitTimeout, LeaderID: selfID}
	case <-rn.shutdownCh:
		return &SubmitResult{Success: false, Error: FailureCommitTimeout, LeaderID: selfID}
	}
}

// forwardToLeader sends operation on to the peer this node believes is
// leader. A peer address lookup failure (the leader id isn't in our peer
// list, e.g. after a membership change) is treated the same as a
// transport failure.
func (rn *Node) forwardToLeader(leaderID NodeID, operation, sourceID string) *SubmitResult {
	address, ok := rn.peerAddress(leaderID)
	if !ok {
		return &SubmitResult{Success: false, Error: FailureForward, LeaderID: leaderID}
	}

	rn.logger.LogRPCSent("SubmitOperation", leaderID)
	result, err := rn.transport.SubmitOperation(address, operation, sourceID)
	if err != nil {
		rn.logger.Debug("Forwarding to leader %s failed: %v", leaderID, err)
		return &SubmitResult{Success: false, Error: FailureForward, LeaderID: leaderID}
	}
	return result
}

func (rn *Node) peerAddress(id NodeID) (string, bool) {
	rn.mu.Lock()
	defer rn.mu.Unlock()
	for _, peer := range rn.peers {
		if peer.ID == id {
			return peer.Address, true
		}
	}
	return "", false
}
