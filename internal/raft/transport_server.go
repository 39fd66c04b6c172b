package raft

import (
	"context"
	"net"

	pb "seatraft/raftpb"

	"google.golang.org/grpc"
)

// grpcServer adapts a Node's RPC handlers to the generated RaftService
// server interface (grounded on raft/rpc_server.go).
type grpcServer struct {
	pb.UnimplementedRaftServiceServer
	node     *Node
	server   *grpc.Server
	listener net.Listener
}

func newGRPCServer(node *Node) *grpcServer {
	return &grpcServer{node: node}
}

func (s *grpcServer) Start(address string) error {
	lis, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	s.listener = lis

	s.server = grpc.NewServer()
	pb.RegisterRaftServiceServer(s.server, s)

	go func() {
		if err := s.server.Serve(lis); err != nil {
			s.node.logger.Error("gRPC server error: %v", err)
		}
	}()

	return nil
}

func (s *grpcServer) Stop() {
	if s.server != nil {
		s.server.GracefulStop()
	}
}

func (s *grpcServer) RequestVote(ctx context.Context, req *pb.RequestVoteRequest) (*pb.RequestVoteResponse, error) {
	reply := s.node.RequestVote(&RequestVoteArgs{
		Term:         Term(req.Term),
		CandidateID:  NodeID(req.CandidateId),
		LastLogIndex: req.LastLogIndex,
		LastLogTerm:  Term(req.LastLogTerm),
	})
	return &pb.RequestVoteResponse{Term: uint64(reply.Term), VoteGranted: reply.VoteGranted}, nil
}

func (s *grpcServer) AppendEntries(ctx context.Context, req *pb.AppendEntriesRequest) (*pb.AppendEntriesResponse, error) {
	entries := make([]LogEntry, len(req.Entries))
	for i, e := range req.Entries {
		entries[i] = LogEntry{Index: e.Index, Term: Term(e.Term), Operation: e.Operation}
	}

	reply := s.node.AppendEntries(&AppendEntriesArgs{
		Term:         Term(req.Term),
		LeaderID:     NodeID(req.LeaderId),
		PrevLogIndex: req.PrevLogIndex,
		PrevLogTerm:  Term(req.PrevLogTerm),
		Entries:      entries,
		LeaderCommit: req.LeaderCommit,
	})
	return &pb.AppendEntriesResponse{Term: uint64(reply.Term), Success: reply.Success}, nil
}

func (s *grpcServer) SubmitOperation(ctx context.Context, req *pb.SubmitOperationRequest) (*pb.SubmitOperationResponse, error) {
	sourceID := req.SourceId
	if sourceID == "" {
		sourceID = "client"
	}
	s.node.logger.LogRPCReceived("SubmitOperation", NodeID(sourceID))

	result := s.node.SubmitOperation(req.Operation, sourceID)
	return &pb.SubmitOperationResponse{
		Success:  result.Success,
		Result:   result.Result,
		Error:    result.Error,
		LeaderId: string(result.LeaderID),
	}, nil
}
