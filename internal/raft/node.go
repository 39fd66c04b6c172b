package raft

import (
	"sync"
	"time"
)

// Node is a single member of the Raft cluster. All mutations to
// role/term/vote/log/commit go through mu; outbound RPCs are issued with
// the lock released and re-validated under the lock on return.
type Node struct {
	mu sync.Mutex

	id    NodeID
	peers []Peer

	currentTerm Term
	votedFor    NodeID // "" means none
	leaderID    NodeID // "" means none
	role        Role

	log         Log
	commitIndex uint64
	lastApplied uint64
	pending     map[uint64]*pendingSubmission

	electionTimer  *time.Timer
	heartbeatTimer *time.Timer

	rpcTimeout time.Duration
	transport  *grpcTransport

	stateMachine StateMachine
	applyCh      chan LogEntry
	logger       *Logger

	shutdownCh chan struct{}
	stopOnce   sync.Once
}

// NewNode constructs a Node as a Follower at Term 0. It does not start the
// timer loop or RPC server — call Start for that.
func NewNode(cfg Config) *Node {
	rn := &Node{
		id:           cfg.ID,
		peers:        cfg.Peers,
		role:         Follower,
		pending:      make(map[uint64]*pendingSubmission),
		rpcTimeout:   cfg.RPCTimeout,
		stateMachine: cfg.StateMachine,
		applyCh:      make(chan LogEntry, applyQueueSize),
		logger:       NewLogger(cfg.ID),
		shutdownCh:   make(chan struct{}),
	}
	if rn.rpcTimeout <= 0 {
		rn.rpcTimeout = defaultRPCTimeout
	}
	rn.transport = newGRPCTransport(rn.rpcTimeout)
	return rn
}

// Start arms the election/heartbeat timers and begins the event loop.
// address is where this node's own RPC server listens — peer connections
// are established lazily, but this node's own listener starts eagerly.
func (rn *Node) Start(address string) (*grpcServer, error) {
	rn.mu.Lock()
	rn.electionTimer = time.NewTimer(randomElectionTimeout())
	rn.heartbeatTimer = time.NewTimer(HeartbeatInterval)
	rn.heartbeatTimer.Stop()
	rn.mu.Unlock()

	srv := newGRPCServer(rn)
	if address != "" {
		if err := srv.Start(address); err != nil {
			return nil, err
		}
	}

	rn.logger.Info("Starting Raft node at %s", address)
	go rn.run()
	go rn.applyLoop()
	return srv, nil
}

// applyLoop is the single worker that drains applyCh, so committed
// entries reach the state machine strictly in commit order even though
// applyCommittedLocked can enqueue a whole batch under one lock hold.
func (rn *Node) applyLoop() {
	for {
		select {
		case entry := <-rn.applyCh:
			rn.stateMachine.Apply(entry)
		case <-rn.shutdownCh:
			return
		}
	}
}

// run is the single owning loop that serializes election timeouts,
// heartbeat ticks, and shutdown against each other. Elections and
// heartbeat broadcasts run inline, so the loop waits on their peer RPCs,
// each of which is bounded by its per-call timeout.
func (rn *Node) run() {
	for {
		select {
		case <-rn.shutdownCh:
			return

		case <-rn.electionTimer.C:
			rn.logger.LogElectionTimeout()
			rn.startElection()

		case <-rn.heartbeatTimer.C:
			rn.mu.Lock()
			isLeader := rn.role == Leader
			rn.mu.Unlock()
			if isLeader {
				rn.broadcastAppendEntries()
				rn.resetHeartbeatTimer()
			}
		}
	}
}

// GetState returns the current term and whether this node believes itself
// to be the leader.
func (rn *Node) GetState() (Term, bool) {
	rn.mu.Lock()
	defer rn.mu.Unlock()
	return rn.currentTerm, rn.role == Leader
}

// ID returns this node's identifier.
func (rn *Node) ID() NodeID { return rn.id }

// Shutdown stops the timer loop and tears down the RPC server. Cooperative:
// in-flight RPCs observe their own deadlines rather than being forcibly
// cancelled; a leader-side submitter still waiting for its commit returns
// a commit-timeout failure as soon as shutdown begins.
func (rn *Node) Shutdown(srv *grpcServer) {
	rn.stopOnce.Do(func() {
		rn.logger.Info("Shutting down Raft node")
		close(rn.shutdownCh)

		rn.mu.Lock()
		if rn.electionTimer != nil {
			rn.electionTimer.Stop()
		}
		if rn.heartbeatTimer != nil {
			rn.heartbeatTimer.Stop()
		}
		rn.mu.Unlock()

		if srv != nil {
			srv.Stop()
		}
		rn.transport.closeAll()
	})
}

// resetElectionTimer reseeds the randomized election timeout. Must only be
// called when rn.mu is NOT already held by the caller.
func (rn *Node) resetElectionTimer() {
	rn.mu.Lock()
	defer rn.mu.Unlock()
	if rn.electionTimer != nil {
		rn.electionTimer.Stop()
	}
	rn.electionTimer = time.NewTimer(randomElectionTimeout())
}

func (rn *Node) resetHeartbeatTimer() {
	rn.mu.Lock()
	defer rn.mu.Unlock()
	if rn.heartbeatTimer != nil {
		rn.heartbeatTimer.Stop()
	}
	rn.heartbeatTimer = time.NewTimer(HeartbeatInterval)
}

func randomElectionTimeout() time.Duration {
	spread := int(ElectionTimeoutMax - ElectionTimeoutMin)
	return ElectionTimeoutMin + time.Duration(randomInt(0, spread))
}

func (rn *Node) majority() int {
	return (len(rn.peers)+1)/2 + 1
}
