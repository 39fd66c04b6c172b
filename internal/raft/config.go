package raft

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Protocol-wide constants. These are fixed, not configurable per node, so
// a cluster can't drift into incompatible timing.
const (
	HeartbeatInterval    = 1000 * time.Millisecond
	ElectionTimeoutMin   = 1500 * time.Millisecond
	ElectionTimeoutMax   = 3000 * time.Millisecond
	SubmitDeadline       = 5 * time.Second
	defaultRPCTimeout    = 750 * time.Millisecond
	timerTick            = 100 * time.Millisecond
	applyQueueSize       = 256
)

// Peer describes one other member of the cluster as seen from this node.
type Peer struct {
	ID      NodeID
	Address string
}

// Config holds everything a Node needs to start. Peers/RPCTimeout/ID/
// SelfAddress are environment-supplied; StateMachine is the pluggable
// apply hook the embedding service provides — interpreting committed
// operations is not this package's job.
type Config struct {
	ID           NodeID
	SelfAddress  string
	Peers        []Peer
	RPCTimeout   time.Duration
	StateMachine StateMachine
}

// LoadConfigFromEnv reads RAFT_NODE_ID, RAFT_SELF_ADDRESS, RAFT_PEERS, and
// RAFT_RPC_TIMEOUT. Entries in RAFT_PEERS matching this node's id or
// self-address are skipped, mirroring
// original_source/grpc/app/server.py's parse_peer_config.
func LoadConfigFromEnv(sm StateMachine) (Config, error) {
	id := os.Getenv("RAFT_NODE_ID")
	if id == "" {
		return Config{}, fmt.Errorf("RAFT_NODE_ID is required")
	}
	selfAddr := os.Getenv("RAFT_SELF_ADDRESS")

	timeout := defaultRPCTimeout
	if raw := os.Getenv("RAFT_RPC_TIMEOUT"); raw != "" {
		secs, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid RAFT_RPC_TIMEOUT %q: %w", raw, err)
		}
		timeout = time.Duration(secs * float64(time.Second))
	}

	peers := parsePeers(os.Getenv("RAFT_PEERS"), NodeID(id), selfAddr)

	return Config{
		ID:           NodeID(id),
		SelfAddress:  selfAddr,
		Peers:        peers,
		RPCTimeout:   timeout,
		StateMachine: sm,
	}, nil
}

// parsePeers parses a comma-separated list of "id@address" or "address"
// entries, skipping any entry that resolves to this node.
func parsePeers(raw string, selfID NodeID, selfAddress string) []Peer {
	var peers []Peer
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		var id, address string
		if idx := strings.Index(entry, "@"); idx >= 0 {
			id, address = entry[:idx], entry[idx+1:]
		} else {
			id, address = entry, entry
		}
		if id == "" {
			id = address
		}

		if NodeID(id) == selfID || (selfAddress != "" && address == selfAddress) {
			continue
		}

		peers = append(peers, Peer{ID: NodeID(id), Address: address})
	}
	return peers
}
