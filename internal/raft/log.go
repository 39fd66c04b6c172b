package raft

import "fmt"

// LogEntry is one command in the replicated log. Entries are totally
// ordered by Index (1-based, contiguous, no gaps).
type LogEntry struct {
	Index     uint64
	Term      Term
	Operation string // opaque UTF-8 payload; the core never interprets it
}

// Log is the in-memory ordered sequence of entries. It is not safe for
// concurrent use on its own — every method here assumes the caller already
// holds the owning Node's mutex, exactly like the rest of the Node's
// role/term/vote state.
type Log struct {
	entries []LogEntry
}

// lastIndex returns the index of the last entry, or 0 for an empty log.
func (l *Log) lastIndex() uint64 {
	if len(l.entries) == 0 {
		return 0
	}
	return l.entries[len(l.entries)-1].Index
}

// lastTerm returns the term of the last entry, or 0 for an empty log.
func (l *Log) lastTerm() Term {
	if len(l.entries) == 0 {
		return 0
	}
	return l.entries[len(l.entries)-1].Term
}

// length returns the number of entries currently held.
func (l *Log) length() uint64 {
	return uint64(len(l.entries))
}

// at returns the entry at the given 1-based index, if present.
func (l *Log) at(index uint64) (LogEntry, bool) {
	if index < 1 || index > uint64(len(l.entries)) {
		return LogEntry{}, false
	}
	return l.entries[index-1], true
}

// appendEntry adds a new leader-originated entry and returns its index.
func (l *Log) appendEntry(term Term, operation string) uint64 {
	index := l.length() + 1
	l.entries = append(l.entries, LogEntry{Index: index, Term: term, Operation: operation})
	return index
}

// snapshot returns a copy of the entries, safe to hand to a transport call
// made with the Node's lock released.
func (l *Log) snapshot() []LogEntry {
	out := make([]LogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// install replaces the follower's log wholesale with the leader's entries.
// A stricter implementation would truncate at prevLogIndex after a
// prevLogTerm match and append from there; seatraft keeps whole-log
// overwrite and relies on term checks alone to bound the damage a stale
// leader can do.
func (l *Log) install(entries []LogEntry) {
	l.entries = entries
}

// pendingSubmission is the per-index record created by the leader when a
// client submits an operation; it is resolved (signalled) once that index
// commits, or abandoned if the submit deadline elapses first.
type pendingSubmission struct {
	resultCh chan string // buffered 1; written to at most once, never closed
}

func newPendingSubmission() *pendingSubmission {
	return &pendingSubmission{resultCh: make(chan string, 1)}
}

// composeResult renders a deterministic commit result string so any node
// (not just the leader) produces the same text for the same entry.
func composeResult(entry LogEntry) string {
	return fmt.Sprintf("Executed %s at index %d (term %d)", entry.Operation, entry.Index, entry.Term)
}

// StateMachine is the pluggable apply hook the embedding service provides.
// Apply is invoked for every committed entry on every node — not only on
// the node that served the original SubmitOperation call. The core treats
// Operation as opaque and never waits on Apply to decide commit success;
// Apply runs best-effort, after commit, for side effects only (e.g.
// driving a SQL write or a cache invalidation).
type StateMachine interface {
	Apply(entry LogEntry)
}

// NoopStateMachine discards every committed entry. Useful for tests and
// for single-purpose nodes that only care about ordering, not state.
type NoopStateMachine struct{}

func (NoopStateMachine) Apply(LogEntry) {}

// applyCommittedLocked delivers apply notifications for every index in
// (lastApplied, commitIndex], in strict ascending order, with no gaps.
// Must be called with rn.mu held.
func (rn *Node) applyCommittedLocked() {
	for rn.lastApplied < rn.commitIndex {
		nextIndex := rn.lastApplied + 1
		entry, ok := rn.log.at(nextIndex)
		if !ok {
			// commitIndex outran the log (can happen after a whole-log
			// overwrite shrinks it from under a pending commit) — there is
			// nothing to apply yet; stop rather than skip ahead.
			break
		}

		result := composeResult(entry)

		if pending, ok := rn.pending[entry.Index]; ok {
			select {
			case pending.resultCh <- result:
			default:
			}
			delete(rn.pending, entry.Index)
		}

		if rn.stateMachine != nil {
			rn.applyCh <- entry
		}

		rn.logger.LogApply(entry.Index, entry.Operation)

		next := rn.lastApplied + 1
		if next < rn.lastApplied {
			rn.logger.Fatal("lastApplied overflow at index %d", entry.Index)
		}
		rn.lastApplied = next
	}
}
