package raft

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
)

// Logger wraps a zerolog.Logger bound to one node id, with named helpers
// for every Raft event the reference implementation logs. Named helpers
// keep call sites free of ad-hoc field names and keep the event vocabulary
// consistent across the codebase.
type Logger struct {
	id NodeID
	zl zerolog.Logger
}

// NewLogger builds a console-writer logger tagged with the node's id.
func NewLogger(id NodeID) *Logger {
	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}
	zl := zerolog.New(output).With().Timestamp().Str("node", string(id)).Logger()
	return &Logger{id: id, zl: zl}
}

func (l *Logger) Debug(format string, args ...interface{}) {
	l.zl.Debug().Msg(fmt.Sprintf(format, args...))
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.zl.Info().Msg(fmt.Sprintf(format, args...))
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.zl.Warn().Msg(fmt.Sprintf(format, args...))
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.zl.Error().Msg(fmt.Sprintf(format, args...))
}

// Fatal records an internal invariant violation and terminates the
// process. Invariant violations indicate a bug in this package, not a
// recoverable runtime condition, so they are never returned as errors.
func (l *Logger) Fatal(format string, args ...interface{}) {
	l.zl.Fatal().Msg(fmt.Sprintf(format, args...))
}

// Specialized event loggers, preserving the emoji vocabulary the reference
// implementation's plain-log version used.

func (l *Logger) LogStateChange(oldRole, newRole Role, term Term) {
	emoji := map[Role]string{
		Follower:  "👤",
		Candidate: "🗳️",
		Leader:    "👑",
	}
	l.Info("%s %s → %s %s (term=%d)", emoji[oldRole], oldRole, emoji[newRole], newRole, term)
}

func (l *Logger) LogElectionStart(term Term) {
	l.Info("🗳️  Starting election for term %d", term)
}

func (l *Logger) LogElectionWon(term Term, votes, needed int) {
	l.Info("👑 WON election for term %d (votes=%d/%d)", term, votes, needed)
}

func (l *Logger) LogElectionLost(term Term, votes, needed int) {
	l.Info("❌ LOST election for term %d (votes=%d/%d)", term, votes, needed)
}

func (l *Logger) LogVoteGranted(candidateID NodeID, term Term) {
	l.Info("✅ Granted vote to %s for term %d", candidateID, term)
}

func (l *Logger) LogVoteDenied(candidateID NodeID, term Term, votedFor NodeID, upToDate bool) {
	reason := "already voted this term"
	if !upToDate {
		reason = "candidate log is not up to date"
	}
	l.Info("❌ Denied vote to %s for term %d: %s (votedFor=%q)", candidateID, term, reason, votedFor)
}

func (l *Logger) LogHeartbeatSent(term Term, peerCount int) {
	l.Debug("💓 Sent heartbeat to %d peers (term=%d)", peerCount, term)
}

func (l *Logger) LogHeartbeatReceived(leaderID NodeID, term Term) {
	l.Debug("💓 Received heartbeat from %s (term=%d)", leaderID, term)
}

func (l *Logger) LogAppendEntries(leaderID NodeID, term Term, entryCount int) {
	l.Debug("📥 Received AppendEntries from %s (term=%d, entries=%d)", leaderID, term, entryCount)
}

func (l *Logger) LogCommit(index uint64, term Term) {
	l.Info("✅ Committed entry at index=%d (term=%d)", index, term)
}

func (l *Logger) LogApply(index uint64, operation string) {
	l.Info("⚡ Applied operation at index=%d: %s", index, operation)
}

func (l *Logger) LogStepDown(oldTerm, newTerm Term) {
	l.Info("⬇️  Stepping down: term %d → %d", oldTerm, newTerm)
}

func (l *Logger) LogElectionTimeout() {
	l.Debug("⏰ Election timeout - becoming candidate")
}

// LogRPCSent and LogRPCReceived emit the plain lines every RPC call site
// logs, on top of the emoji-tagged events above. These run at Info level:
// nothing in this package lowers the global level below zerolog's default
// (Debug), so Trace-level lines would never reach output.
func (l *Logger) LogRPCSent(rpc string, peer NodeID) {
	l.zl.Info().Msgf("Node %s sends RPC %s to Node %s", l.id, rpc, peer)
}

func (l *Logger) LogRPCReceived(rpc string, caller NodeID) {
	l.zl.Info().Msgf("Node %s runs RPC %s called by Node %s", l.id, rpc, caller)
}
