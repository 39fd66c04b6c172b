// Package statemachine is the pluggable apply hook invoked for every
// committed entry, on every node — not only on the node that serviced the
// original SubmitOperation call. It performs the side effect each of the
// operation verbs carries in original_source: a Postgres write followed,
// where applicable, by a Redis cache invalidation.
package statemachine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"seatraft/internal/authn"
	"seatraft/internal/cache"
	"seatraft/internal/raft"
	"seatraft/internal/store"
)

// envelope is the shape every operation payload shares: a "type" tag plus
// verb-specific fields, all folded into one JSON object (mirrors
// original_source's op_payload dicts).
type envelope struct {
	Type string `json:"type"`

	// Auth.Register
	StudentID string `json:"student_id"`
	Password  string `json:"password"`
	Name      string `json:"name"`

	// Reservation.Create / CheckIn / Cancel / NoShow / Complete
	UserID        int64     `json:"user_id"`
	SeatID        int64     `json:"seat_id"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
	ReservationID int64     `json:"reservation_id"`

	// Waitlist.Add / Remove / Notify
	WaitlistID int64   `json:"waitlist_id"`
	Branch     *string `json:"branch"`
	Message    string  `json:"message"`
}

// StateMachine wires a committed operation to the store/cache side
// effects. It satisfies internal/raft.StateMachine.
type StateMachine struct {
	store *store.Store
	cache *cache.Cache
}

func New(st *store.Store, ch *cache.Cache) *StateMachine {
	return &StateMachine{store: st, cache: ch}
}

// Apply is invoked once per committed log entry, on every node. Errors are
// logged, not returned: the raft core treats Operation as opaque and
// already committed it, so a failing side effect here is an application
// bug or a transient dependency outage to alert on, never a reason to
// revisit commit.
func (sm *StateMachine) Apply(entry raft.LogEntry) {
	var env envelope
	if err := json.Unmarshal([]byte(entry.Operation), &env); err != nil {
		log.Error().Err(err).Uint64("index", entry.Index).Msg("statemachine: undecodable operation")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch env.Type {
	case "Auth.Register":
		sm.applyRegister(ctx, env)
	case "Reservation.Create":
		sm.applyCreateReservation(ctx, env)
	case "Reservation.CheckIn":
		sm.applyCheckIn(ctx, env)
	case "Reservation.Cancel":
		sm.applyCancel(ctx, env)
	case "Reservation.NoShow":
		sm.applyNoShow(ctx, env)
	case "Reservation.Complete":
		sm.applyComplete(ctx, env)
	case "Waitlist.Add":
		sm.applyWaitlistAdd(ctx, env)
	case "Waitlist.Remove":
		sm.applyWaitlistRemove(ctx, env)
	case "Waitlist.Notify":
		sm.applyWaitlistNotify(ctx, env)
	default:
		log.Warn().Str("type", env.Type).Uint64("index", entry.Index).Msg("statemachine: unknown operation type")
	}
}

func (sm *StateMachine) applyRegister(ctx context.Context, env envelope) {
	hash, err := authn.HashPassword(env.Password)
	if err != nil {
		log.Error().Err(err).Msg("statemachine: hashing password")
		return
	}
	if _, err := sm.store.CreateUser(ctx, env.StudentID, hash, env.Name); err != nil {
		log.Error().Err(err).Str("student_id", env.StudentID).Msg("statemachine: Auth.Register")
	}
}

func (sm *StateMachine) applyCreateReservation(ctx context.Context, env envelope) {
	if _, err := sm.store.CreateReservation(ctx, env.UserID, env.SeatID, env.StartTime, env.EndTime); err != nil {
		log.Error().Err(err).Int64("seat_id", env.SeatID).Msg("statemachine: Reservation.Create")
		return
	}
	sm.invalidate(ctx, env.SeatID)
}

func (sm *StateMachine) applyCheckIn(ctx context.Context, env envelope) {
	r, err := sm.store.CheckIn(ctx, env.ReservationID)
	if err != nil {
		log.Error().Err(err).Int64("reservation_id", env.ReservationID).Msg("statemachine: Reservation.CheckIn")
		return
	}
	sm.invalidate(ctx, r.SeatID)
}

func (sm *StateMachine) applyCancel(ctx context.Context, env envelope) {
	r, err := sm.store.CancelReservation(ctx, env.ReservationID)
	if err != nil {
		log.Error().Err(err).Int64("reservation_id", env.ReservationID).Msg("statemachine: Reservation.Cancel")
		return
	}
	sm.invalidate(ctx, r.SeatID)
}

func (sm *StateMachine) applyNoShow(ctx context.Context, env envelope) {
	r, err := sm.store.MarkNoShow(ctx, env.ReservationID)
	if err != nil {
		log.Error().Err(err).Int64("reservation_id", env.ReservationID).Msg("statemachine: Reservation.NoShow")
		return
	}
	sm.invalidate(ctx, r.SeatID)
}

func (sm *StateMachine) applyComplete(ctx context.Context, env envelope) {
	r, err := sm.store.MarkCompleted(ctx, env.ReservationID)
	if err != nil {
		log.Error().Err(err).Int64("reservation_id", env.ReservationID).Msg("statemachine: Reservation.Complete")
		return
	}
	sm.invalidate(ctx, r.SeatID)
}

func (sm *StateMachine) applyWaitlistAdd(ctx context.Context, env envelope) {
	var seatID *int64
	if env.SeatID != 0 {
		seatID = &env.SeatID
	}
	var desired *time.Time
	if !env.StartTime.IsZero() {
		desired = &env.StartTime
	}
	if _, err := sm.store.AddToWaitlist(ctx, env.UserID, seatID, env.Branch, desired); err != nil {
		log.Error().Err(err).Int64("user_id", env.UserID).Msg("statemachine: Waitlist.Add")
	}
}

func (sm *StateMachine) applyWaitlistRemove(ctx context.Context, env envelope) {
	if err := sm.store.RemoveFromWaitlist(ctx, env.WaitlistID); err != nil {
		log.Error().Err(err).Int64("waitlist_id", env.WaitlistID).Msg("statemachine: Waitlist.Remove")
	}
}

// applyWaitlistNotify finds the oldest un-notified waitlist entry for a
// seat (or, failing that, for the seat's branch) and marks it notified.
// Delivery of the notification itself is a presentation concern the
// reference pushes to an SSE stream; seatraft only records that the slot
// was offered.
func (sm *StateMachine) applyWaitlistNotify(ctx context.Context, env envelope) {
	entry, err := sm.store.NextWaitlistEntry(ctx, env.SeatID)
	if err != nil {
		if err != store.ErrNotFound {
			log.Error().Err(err).Int64("seat_id", env.SeatID).Msg("statemachine: Waitlist.Notify lookup")
		}
		return
	}
	if err := sm.store.MarkNotified(ctx, entry.ID); err != nil {
		log.Error().Err(err).Int64("waitlist_id", entry.ID).Msg("statemachine: Waitlist.Notify mark")
	}
}

func (sm *StateMachine) invalidate(ctx context.Context, seatID int64) {
	if sm.cache == nil {
		return
	}
	if err := sm.cache.InvalidateSeat(ctx, seatID); err != nil {
		log.Error().Err(err).Int64("seat_id", seatID).Msg("statemachine: cache invalidation")
	}
}
