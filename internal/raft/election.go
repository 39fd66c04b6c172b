package raft

import "time"

// RequestVoteArgs and RequestVoteReply are the wire-level shape of the
// RequestVote RPC.
type RequestVoteArgs struct {
	Term         Term
	CandidateID  NodeID
	LastLogIndex uint64
	LastLogTerm  Term
}

type RequestVoteReply struct {
	Term        Term
	VoteGranted bool
}

// AppendEntriesArgs and AppendEntriesReply are the wire-level shape of the
// AppendEntries RPC.
type AppendEntriesArgs struct {
	Term         Term
	LeaderID     NodeID
	PrevLogIndex uint64
	PrevLogTerm  Term
	Entries      []LogEntry
	LeaderCommit uint64
}

type AppendEntriesReply struct {
	Term    Term
	Success bool
}

// startElection fires when the election timer elapses on a follower or
// candidate. It increments the term, votes for
// itself, and requests votes from every peer concurrently.
func (rn *Node) startElection() {
	rn.mu.Lock()
	oldRole := rn.role
	rn.role = Candidate
	rn.currentTerm++
	term := rn.currentTerm
	rn.votedFor = rn.id
	rn.leaderID = ""
	lastLogIndex := rn.log.lastIndex()
	lastLogTerm := rn.log.lastTerm()
	rn.mu.Unlock()

	rn.logger.LogStateChange(oldRole, Candidate, term)
	rn.logger.LogElectionStart(term)
	rn.resetElectionTimer()

	if len(rn.peers) == 0 {
		// Single-node cluster: no peers to ask, majority is trivially met.
		rn.becomeLeader(term)
		return
	}

	votesNeeded := rn.majority()
	votes := 1 // self
	voteCh := make(chan bool, len(rn.peers))

	for _, peer := range rn.peers {
		go func(peer Peer) {
			voteCh <- rn.requestVoteFrom(peer, term, lastLogIndex, lastLogTerm)
		}(peer)
	}

	timeout := time.After(ElectionTimeoutMin)
	for i := 0; i < len(rn.peers); i++ {
		select {
		case granted := <-voteCh:
			if granted {
				votes++
				if votes >= votesNeeded {
					rn.logger.LogElectionWon(term, votes, votesNeeded)
					rn.becomeLeader(term)
					return
				}
			}
		case <-timeout:
			rn.logger.LogElectionLost(term, votes, votesNeeded)
			return
		case <-rn.shutdownCh:
			return
		}
	}
	rn.logger.LogElectionLost(term, votes, votesNeeded)
}

// requestVoteFrom sends RequestVote to one peer and reports whether the
// vote was granted. Any response with a higher term steps this node down
// immediately, aborting the in-flight candidacy.
func (rn *Node) requestVoteFrom(peer Peer, term Term, lastLogIndex uint64, lastLogTerm Term) bool {
	args := &RequestVoteArgs{
		Term:         term,
		CandidateID:  rn.id,
		LastLogIndex: lastLogIndex,
		LastLogTerm:  lastLogTerm,
	}

	rn.logger.LogRPCSent("RequestVote", peer.ID)
	reply, err := rn.transport.RequestVote(peer.Address, args)
	if err != nil {
		rn.logger.Debug("RequestVote to %s failed: %v", peer.ID, err)
		return false
	}

	if reply.Term > term {
		rn.stepDown(reply.Term)
		return false
	}
	return reply.VoteGranted
}

// becomeLeader transitions a Candidate to Leader, but only if the node is
// still a candidate for the same term it won the election for (the
// election may have been decided out from under it by a concurrent
// higher-term RPC).
func (rn *Node) becomeLeader(term Term) {
	rn.mu.Lock()
	defer rn.mu.Unlock()

	if rn.currentTerm != term || (rn.role != Candidate && len(rn.peers) != 0) {
		return
	}

	oldRole := rn.role
	rn.role = Leader
	rn.leaderID = rn.id
	rn.votedFor = rn.id
	rn.logger.LogStateChange(oldRole, Leader, term)

	if rn.electionTimer != nil {
		rn.electionTimer.Stop()
	}
	if rn.heartbeatTimer != nil {
		rn.heartbeatTimer.Stop()
	}
	rn.heartbeatTimer = time.NewTimer(0) // fire immediately to establish leadership
}

// stepDown converts to Follower on discovering a higher term, wherever
// that term was observed (a vote response, an append response, or an
// incoming RPC). Safe to call even if the term isn't actually higher; it's
// a no-op in that case.
func (rn *Node) stepDown(term Term) {
	rn.mu.Lock()
	defer rn.mu.Unlock()
	if term <= rn.currentTerm {
		return
	}

	oldRole := rn.role
	oldTerm := rn.currentTerm
	rn.currentTerm = term
	rn.votedFor = ""
	rn.leaderID = ""
	rn.role = Follower

	rn.logger.LogStepDown(oldTerm, term)
	if oldRole != Follower {
		rn.logger.LogStateChange(oldRole, Follower, term)
	}

	if rn.heartbeatTimer != nil {
		rn.heartbeatTimer.Stop()
	}
	if rn.electionTimer != nil {
		rn.electionTimer.Stop()
	}
	rn.electionTimer = time.NewTimer(randomElectionTimeout())
}

// RequestVote handles an incoming RequestVote RPC, including the log
// up-to-date check that guards against electing a candidate whose log is
// behind.
func (rn *Node) RequestVote(args *RequestVoteArgs) *RequestVoteReply {
	rn.logger.LogRPCReceived("RequestVote", args.CandidateID)

	rn.mu.Lock()

	if args.Term < rn.currentTerm {
		term := rn.currentTerm
		rn.mu.Unlock()
		return &RequestVoteReply{Term: term, VoteGranted: false}
	}

	if args.Term > rn.currentTerm {
		rn.currentTerm = args.Term
		rn.votedFor = ""
		rn.leaderID = ""
		rn.role = Follower
	}

	upToDate := isLogUpToDate(args.LastLogTerm, args.LastLogIndex, rn.log.lastTerm(), rn.log.lastIndex())
	granted := (rn.votedFor == "" || rn.votedFor == args.CandidateID) && upToDate
	if granted {
		rn.votedFor = args.CandidateID
		rn.logger.LogVoteGranted(args.CandidateID, args.Term)
	} else {
		rn.logger.LogVoteDenied(args.CandidateID, args.Term, rn.votedFor, upToDate)
	}
	term := rn.currentTerm
	rn.mu.Unlock()

	if granted {
		rn.resetElectionTimer()
	}

	return &RequestVoteReply{Term: term, VoteGranted: granted}
}

// isLogUpToDate implements the Raft log comparison: a higher last-log-term
// wins outright; a tie goes to the longer (or equal) log.
func isLogUpToDate(candidateTerm Term, candidateIndex uint64, ourTerm Term, ourIndex uint64) bool {
	if candidateTerm != ourTerm {
		return candidateTerm > ourTerm
	}
	return candidateIndex >= ourIndex
}

// broadcastAppendEntries sends AppendEntries (carrying the full log, per
// the whole-log-overwrite replication design)
// to every peer, and advances commitIndex if a majority acknowledges.
func (rn *Node) broadcastAppendEntries() {
	rn.mu.Lock()
	if rn.role != Leader {
		rn.mu.Unlock()
		return
	}
	term := rn.currentTerm
	commitIndex := rn.commitIndex
	entries := rn.log.snapshot()
	peers := rn.peers
	rn.mu.Unlock()

	rn.logger.LogHeartbeatSent(term, len(peers))

	if len(peers) == 0 {
		rn.mu.Lock()
		if rn.role == Leader && rn.log.length() > rn.commitIndex {
			rn.commitIndex = rn.log.length()
			rn.applyCommittedLocked()
		}
		rn.mu.Unlock()
		return
	}

	args := &AppendEntriesArgs{
		Term:         term,
		LeaderID:     rn.id,
		Entries:      entries,
		LeaderCommit: commitIndex,
	}

	successCh := make(chan bool, len(peers))
	for _, peer := range peers {
		go func(peer Peer) {
			successCh <- rn.sendAppendEntries(peer, args, term)
		}(peer)
	}

	successCount := 1 // self
	for i := 0; i < len(peers); i++ {
		if <-successCh {
			successCount++
		}
	}

	rn.mu.Lock()
	defer rn.mu.Unlock()
	if rn.role == Leader && rn.currentTerm == term && successCount >= rn.majority() {
		if rn.log.length() > rn.commitIndex {
			rn.commitIndex = rn.log.length()
			rn.logger.LogCommit(rn.commitIndex, term)
			rn.applyCommittedLocked()
		}
	}
}

// sendAppendEntries sends one AppendEntries RPC and reports success,
// stepping down if the peer's term is higher.
func (rn *Node) sendAppendEntries(peer Peer, args *AppendEntriesArgs, term Term) bool {
	rn.logger.LogRPCSent("AppendEntries", peer.ID)
	reply, err := rn.transport.AppendEntries(peer.Address, args)
	if err != nil {
		rn.logger.Debug("AppendEntries to %s failed: %v", peer.ID, err)
		return false
	}
	if reply.Term > term {
		rn.stepDown(reply.Term)
		return false
	}
	return reply.Success
}

// AppendEntries handles an incoming AppendEntries RPC.
func (rn *Node) AppendEntries(args *AppendEntriesArgs) *AppendEntriesReply {
	rn.logger.LogRPCReceived("AppendEntries", args.LeaderID)

	rn.mu.Lock()
	defer rn.mu.Unlock()

	if args.Term < rn.currentTerm {
		return &AppendEntriesReply{Term: rn.currentTerm, Success: false}
	}

	oldRole := rn.role
	rn.currentTerm = args.Term
	rn.role = Follower
	rn.leaderID = args.LeaderID
	rn.votedFor = ""
	if oldRole != Follower {
		rn.logger.LogStateChange(oldRole, Follower, args.Term)
	}

	if len(args.Entries) == 0 {
		rn.logger.LogHeartbeatReceived(args.LeaderID, args.Term)
	} else {
		rn.logger.LogAppendEntries(args.LeaderID, args.Term, len(args.Entries))
	}

	rn.log.install(args.Entries)

	newCommitIndex := args.LeaderCommit
	if rn.log.length() < newCommitIndex {
		newCommitIndex = rn.log.length()
	}
	rn.commitIndex = newCommitIndex

	// Guard lastApplied <= commitIndex from moving backwards — whole-log
	// overwrite can shrink the log out from under an already-applied index.
	// That's a fatal invariant violation, not something to silently clamp.
	if rn.lastApplied > rn.commitIndex {
		rn.logger.Fatal("lastApplied %d exceeds new commitIndex %d after log install", rn.lastApplied, rn.commitIndex)
	}

	rn.applyCommittedLocked()
	rn.resetElectionTimerNoLock()

	return &AppendEntriesReply{Term: rn.currentTerm, Success: true}
}

// resetElectionTimerNoLock is used from call sites that already hold rn.mu
// (AppendEntries handler).
func (rn *Node) resetElectionTimerNoLock() {
	if rn.electionTimer != nil {
		rn.electionTimer.Stop()
	}
	rn.electionTimer = time.NewTimer(randomElectionTimeout())
}
