package raft

import (
	"context"
	"sync"
	"time"

	pb "seatraft/raftpb"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// grpcTransport is the peer-facing RPC client: one lazily-established
// connection per peer address, reused across calls. A connection that
// fails is torn down and evicted rather than retried in place, so the
// next call re-dials from scratch instead of getting stuck on a dead
// connection.
type grpcTransport struct {
	mu      sync.Mutex
	conns   map[string]*grpc.ClientConn
	timeout time.Duration
}

func newGRPCTransport(timeout time.Duration) *grpcTransport {
	return &grpcTransport{
		conns:   make(map[string]*grpc.ClientConn),
		timeout: timeout,
	}
}

func (t *grpcTransport) getConn(address string) (*grpc.ClientConn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if conn, ok := t.conns[address]; ok {
		return conn, nil
	}

	conn, err := grpc.NewClient(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	t.conns[address] = conn
	return conn, nil
}

// evict closes and forgets the connection to address, forcing the next
// call to redial.
func (t *grpcTransport) evict(address string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if conn, ok := t.conns[address]; ok {
		conn.Close()
		delete(t.conns, address)
	}
}

func (t *grpcTransport) closeAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for address, conn := range t.conns {
		conn.Close()
		delete(t.conns, address)
	}
}

func (t *grpcTransport) RequestVote(address string, args *RequestVoteArgs) (*RequestVoteReply, error) {
	conn, err := t.getConn(address)
	if err != nil {
		return nil, err
	}
	client := pb.NewRaftServiceClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	resp, err := client.RequestVote(ctx, &pb.RequestVoteRequest{
		Term:         uint64(args.Term),
		CandidateId:  string(args.CandidateID),
		LastLogIndex: args.LastLogIndex,
		LastLogTerm:  uint64(args.LastLogTerm),
	})
	if err != nil {
		t.evict(address)
		return nil, err
	}

	return &RequestVoteReply{Term: Term(resp.Term), VoteGranted: resp.VoteGranted}, nil
}

func (t *grpcTransport) AppendEntries(address string, args *AppendEntriesArgs) (*AppendEntriesReply, error) {
	conn, err := t.getConn(address)
	if err != nil {
		return nil, err
	}
	client := pb.NewRaftServiceClient(conn)

	entries := make([]*pb.LogEntry, len(args.Entries))
	for i, e := range args.Entries {
		entries[i] = &pb.LogEntry{Index: e.Index, Term: uint64(e.Term), Operation: e.Operation}
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	resp, err := client.AppendEntries(ctx, &pb.AppendEntriesRequest{
		Term:         uint64(args.Term),
		LeaderId:     string(args.LeaderID),
		PrevLogIndex: args.PrevLogIndex,
		PrevLogTerm:  uint64(args.PrevLogTerm),
		Entries:      entries,
		LeaderCommit: args.LeaderCommit,
	})
	if err != nil {
		t.evict(address)
		return nil, err
	}

	return &AppendEntriesReply{Term: Term(resp.Term), Success: resp.Success}, nil
}

// SubmitOperation forwards a client-submitted operation to a peer believed
// to be leader.
func (t *grpcTransport) SubmitOperation(address, operation, sourceID string) (*SubmitResult, error) {
	conn, err := t.getConn(address)
	if err != nil {
		return nil, err
	}
	client := pb.NewRaftServiceClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), SubmitDeadline)
	defer cancel()

	resp, err := client.SubmitOperation(ctx, &pb.SubmitOperationRequest{Operation: operation, SourceId: sourceID})
	if err != nil {
		t.evict(address)
		return nil, err
	}

	return &SubmitResult{
		Success:  resp.Success,
		Result:   resp.Result,
		Error:    resp.Error,
		LeaderID: NodeID(resp.LeaderId),
	}, nil
}
