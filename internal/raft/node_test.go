package raft

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

// recordingStateMachine captures every applied entry, for tests that need
// to assert apply order and exactly-once delivery per node.
type recordingStateMachine struct {
	mu      sync.Mutex
	applied []LogEntry
}

func (m *recordingStateMachine) Apply(entry LogEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applied = append(m.applied, entry)
}

func (m *recordingStateMachine) snapshot() []LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]LogEntry, len(m.applied))
	copy(out, m.applied)
	return out
}

func createTestNode(t *testing.T, id string, peers []Peer, address string) *Node {
	t.Helper()
	cfg := Config{
		ID:           NodeID(id),
		SelfAddress:  address,
		Peers:        peers,
		RPCTimeout:   200 * time.Millisecond,
		StateMachine: &recordingStateMachine{},
	}
	return NewNode(cfg)
}

// createTestCluster wires n nodes together on localhost, each with its own
// port, and returns the started nodes and their servers.
func createTestCluster(t *testing.T, n int) ([]*Node, []*grpcServer) {
	t.Helper()

	basePort := 17000
	ids := make([]string, n)
	addrs := make([]string, n)
	for i := 0; i < n; i++ {
		ids[i] = fmt.Sprintf("node%d", i+1)
		addrs[i] = fmt.Sprintf("127.0.0.1:%d", basePort+i)
	}

	nodes := make([]*Node, n)
	servers := make([]*grpcServer, n)
	for i := 0; i < n; i++ {
		var peers []Peer
		for j := 0; j < n; j++ {
			if j != i {
				peers = append(peers, Peer{ID: NodeID(ids[j]), Address: addrs[j]})
			}
		}
		nodes[i] = createTestNode(t, ids[i], peers, addrs[i])
		srv, err := nodes[i].Start(addrs[i])
		if err != nil {
			t.Fatalf("starting node %d: %v", i, err)
		}
		servers[i] = srv
	}

	return nodes, servers
}

func shutdownCluster(nodes []*Node, servers []*grpcServer) {
	for i, node := range nodes {
		node.Shutdown(servers[i])
	}
}

func countLeaders(nodes []*Node) int {
	count := 0
	for _, node := range nodes {
		if _, isLeader := node.GetState(); isLeader {
			count++
		}
	}
	return count
}

func TestInitialState(t *testing.T) {
	rn := createTestNode(t, "node1", nil, "")
	term, isLeader := rn.GetState()
	if term != 0 {
		t.Errorf("expected term 0, got %d", term)
	}
	if isLeader {
		t.Error("new node should not be leader")
	}
	if rn.role != Follower {
		t.Errorf("expected Follower, got %s", rn.role)
	}
}

func TestSingleNodeElection(t *testing.T) {
	rn := createTestNode(t, "node1", nil, "")
	srv, err := rn.Start("")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer rn.Shutdown(srv)

	deadline := time.Now().Add(ElectionTimeoutMax + time.Second)
	for time.Now().Before(deadline) {
		if _, isLeader := rn.GetState(); isLeader {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Error("single node should become leader")
}

func TestBasicElection(t *testing.T) {
	nodes, servers := createTestCluster(t, 3)
	defer shutdownCluster(nodes, servers)

	deadline := time.Now().Add(ElectionTimeoutMax + 2*time.Second)
	for time.Now().Before(deadline) {
		if countLeaders(nodes) == 1 {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	if leaders := countLeaders(nodes); leaders != 1 {
		t.Fatalf("expected 1 leader, got %d", leaders)
	}

	terms := make(map[Term]int)
	for _, node := range nodes {
		term, _ := node.GetState()
		terms[term]++
	}
	if len(terms) != 1 {
		t.Errorf("nodes don't agree on term: %v", terms)
	}
}

func TestReElectionAfterLeaderFailure(t *testing.T) {
	nodes, servers := createTestCluster(t, 3)
	defer shutdownCluster(nodes, servers)

	deadline := time.Now().Add(ElectionTimeoutMax + 2*time.Second)
	for time.Now().Before(deadline) && countLeaders(nodes) != 1 {
		time.Sleep(100 * time.Millisecond)
	}

	var leaderIdx = -1
	for i, node := range nodes {
		if _, isLeader := node.GetState(); isLeader {
			leaderIdx = i
			break
		}
	}
	if leaderIdx == -1 {
		t.Fatal("no leader elected")
	}

	oldTerm, _ := nodes[leaderIdx].GetState()
	nodes[leaderIdx].Shutdown(servers[leaderIdx])

	remaining := make([]*Node, 0, len(nodes)-1)
	for i, node := range nodes {
		if i != leaderIdx {
			remaining = append(remaining, node)
		}
	}

	deadline = time.Now().Add(ElectionTimeoutMax + 3*time.Second)
	for time.Now().Before(deadline) && countLeaders(remaining) != 1 {
		time.Sleep(100 * time.Millisecond)
	}

	if leaders := countLeaders(remaining); leaders != 1 {
		t.Fatalf("expected 1 new leader among survivors, got %d", leaders)
	}

	newTerm, _ := remaining[0].GetState()
	if newTerm <= oldTerm {
		t.Errorf("term should increase after re-election: old=%d new=%d", oldTerm, newTerm)
	}
}

func TestVoteRefusalForOutdatedLog(t *testing.T) {
	follower := createTestNode(t, "node1", []Peer{{ID: "node2", Address: "127.0.0.1:1"}}, "")
	follower.log.entries = append(follower.log.entries, LogEntry{Index: 1, Term: 5, Operation: "Reservation.Create"})
	follower.currentTerm = 5

	reply := follower.RequestVote(&RequestVoteArgs{
		Term:         6,
		CandidateID:  "node2",
		LastLogIndex: 1,
		LastLogTerm:  3,
	})

	if reply.VoteGranted {
		t.Error("should not grant vote to a candidate with an outdated log")
	}
}

func TestOneVotePerTerm(t *testing.T) {
	node := createTestNode(t, "node1", []Peer{{ID: "node2", Address: "127.0.0.1:1"}, {ID: "node3", Address: "127.0.0.1:2"}}, "")

	reply1 := node.RequestVote(&RequestVoteArgs{Term: 1, CandidateID: "node2"})
	if !reply1.VoteGranted {
		t.Error("should grant the first vote")
	}

	reply2 := node.RequestVote(&RequestVoteArgs{Term: 1, CandidateID: "node3"})
	if reply2.VoteGranted {
		t.Error("should not grant a second vote in the same term")
	}
}

func TestSubmitOperationAsSingleNodeLeader(t *testing.T) {
	rn := createTestNode(t, "node1", nil, "")
	srv, err := rn.Start("")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer rn.Shutdown(srv)

	deadline := time.Now().Add(ElectionTimeoutMax + time.Second)
	for time.Now().Before(deadline) {
		if _, isLeader := rn.GetState(); isLeader {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	result := rn.SubmitOperation("Reservation.Create", "test-client")
	if !result.Success {
		t.Fatalf("expected success, got failure: %s", result.Error)
	}
	if result.Result == "" {
		t.Error("expected a non-empty result string")
	}
	if result.LeaderID != rn.id {
		t.Errorf("LeaderID = %q, want %q", result.LeaderID, rn.id)
	}
}

func TestSubmitOperationWithoutLeaderFails(t *testing.T) {
	rn := createTestNode(t, "node1", []Peer{{ID: "node2", Address: "127.0.0.1:1"}}, "")
	result := rn.SubmitOperation("Reservation.Create", "test-client")
	if result.Success {
		t.Error("expected failure with no known leader")
	}
	if result.Error != FailureNoLeader {
		t.Errorf("expected %q, got %q", FailureNoLeader, result.Error)
	}
	if result.LeaderID != "" {
		t.Errorf("LeaderID = %q, want empty when no leader known", result.LeaderID)
	}
}

func TestApplyIsGaplessAndInOrder(t *testing.T) {
	rn := createTestNode(t, "node1", nil, "")
	sm := rn.stateMachine.(*recordingStateMachine)

	srv, err := rn.Start("")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer rn.Shutdown(srv)

	deadline := time.Now().Add(ElectionTimeoutMax + time.Second)
	for time.Now().Before(deadline) {
		if _, isLeader := rn.GetState(); isLeader {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	for i := 0; i < 3; i++ {
		if result := rn.SubmitOperation(fmt.Sprintf("Reservation.Create#%d", i), "test-client"); !result.Success {
			t.Fatalf("submit %d failed: %s", i, result.Error)
		}
	}

	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) && len(sm.snapshot()) < 3 {
		time.Sleep(20 * time.Millisecond)
	}

	applied := sm.snapshot()
	if len(applied) != 3 {
		t.Fatalf("expected 3 applied entries, got %d", len(applied))
	}
	for i, entry := range applied {
		if entry.Index != uint64(i+1) {
			t.Errorf("entry %d has index %d, expected gapless ascending order", i, entry.Index)
		}
	}
}
