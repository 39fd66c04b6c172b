// Package raftpb holds the generated protobuf/gRPC bindings for raft.proto.
// Run `go generate ./...` with protoc and the Go plugins on PATH to refresh.
package raftpb

//go:generate protoc --go_out=. --go_opt=paths=source_relative --go-grpc_out=. --go-grpc_opt=paths=source_relative raft.proto
