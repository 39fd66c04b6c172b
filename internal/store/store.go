// Package store is the Postgres-backed external collaborator the
// coordination core's apply hook drives. It never talks to Raft itself;
// internal/statemachine calls it once an operation has committed.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("store: not found")
var ErrConflict = errors.New("store: conflict")

// Reservation mirrors the reservations table row shape the reference
// REST services return.
type Reservation struct {
	ID          int64
	UserID      int64
	SeatID      int64
	StartTime   time.Time
	EndTime     time.Time
	Status      string
	CheckedInAt *time.Time
}

// WaitlistEntry mirrors the waitlist table row shape.
type WaitlistEntry struct {
	ID          int64
	UserID      int64
	SeatID      *int64
	Branch      *string
	DesiredTime *time.Time
	NotifiedAt  *time.Time
}

// User mirrors the users table row shape.
type User struct {
	ID           int64
	StudentID    string
	PasswordHash string
	Name         string
}

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) CreateUser(ctx context.Context, studentID, passwordHash, name string) (User, error) {
	var u User
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (student_id, password_hash, name)
		VALUES ($1, $2, $3)
		RETURNING id, student_id, password_hash, name
	`, studentID, passwordHash, name).Scan(&u.ID, &u.StudentID, &u.PasswordHash, &u.Name)
	if isUniqueViolation(err) {
		return User{}, ErrConflict
	}
	return u, err
}

func (s *Store) UserByStudentID(ctx context.Context, studentID string) (User, error) {
	var u User
	err := s.pool.QueryRow(ctx, `
		SELECT id, student_id, password_hash, name FROM users WHERE student_id = $1
	`, studentID).Scan(&u.ID, &u.StudentID, &u.PasswordHash, &u.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrNotFound
	}
	return u, err
}

func (s *Store) CreateReservation(ctx context.Context, userID, seatID int64, start, end time.Time) (Reservation, error) {
	var r Reservation
	err := s.pool.QueryRow(ctx, `
		INSERT INTO reservations (user_id, seat_id, start_time, end_time, status)
		VALUES ($1, $2, $3, $4, 'CONFIRMED')
		RETURNING id, user_id, seat_id, start_time, end_time, status, checked_in_at
	`, userID, seatID, start, end).Scan(&r.ID, &r.UserID, &r.SeatID, &r.StartTime, &r.EndTime, &r.Status, &r.CheckedInAt)
	if isUniqueViolation(err) {
		return Reservation{}, ErrConflict
	}
	return r, err
}

func (s *Store) CheckIn(ctx context.Context, reservationID int64) (Reservation, error) {
	var r Reservation
	err := s.pool.QueryRow(ctx, `
		UPDATE reservations
		SET status = 'CHECKED_IN', checked_in_at = NOW()
		WHERE id = $1 AND status = 'CONFIRMED'
		RETURNING id, user_id, seat_id, start_time, end_time, status, checked_in_at
	`, reservationID).Scan(&r.ID, &r.UserID, &r.SeatID, &r.StartTime, &r.EndTime, &r.Status, &r.CheckedInAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Reservation{}, ErrNotFound
	}
	return r, err
}

func (s *Store) CancelReservation(ctx context.Context, reservationID int64) (Reservation, error) {
	var r Reservation
	err := s.pool.QueryRow(ctx, `
		UPDATE reservations
		SET status = 'CANCELLED'
		WHERE id = $1 AND status NOT IN ('CANCELLED', 'NO_SHOW', 'COMPLETED')
		RETURNING id, user_id, seat_id, start_time, end_time, status, checked_in_at
	`, reservationID).Scan(&r.ID, &r.UserID, &r.SeatID, &r.StartTime, &r.EndTime, &r.Status, &r.CheckedInAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Reservation{}, ErrNotFound
	}
	return r, err
}

func (s *Store) MarkNoShow(ctx context.Context, reservationID int64) (Reservation, error) {
	var r Reservation
	err := s.pool.QueryRow(ctx, `
		UPDATE reservations
		SET status = 'NO_SHOW'
		WHERE id = $1 AND status = 'CONFIRMED' AND checked_in_at IS NULL
		RETURNING id, user_id, seat_id, start_time, end_time, status, checked_in_at
	`, reservationID).Scan(&r.ID, &r.UserID, &r.SeatID, &r.StartTime, &r.EndTime, &r.Status, &r.CheckedInAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Reservation{}, ErrNotFound
	}
	return r, err
}

func (s *Store) MarkCompleted(ctx context.Context, reservationID int64) (Reservation, error) {
	var r Reservation
	err := s.pool.QueryRow(ctx, `
		UPDATE reservations
		SET status = 'COMPLETED'
		WHERE id = $1 AND status = 'CHECKED_IN'
		RETURNING id, user_id, seat_id, start_time, end_time, status, checked_in_at
	`, reservationID).Scan(&r.ID, &r.UserID, &r.SeatID, &r.StartTime, &r.EndTime, &r.Status, &r.CheckedInAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Reservation{}, ErrNotFound
	}
	return r, err
}

// NoShowCandidates lists CONFIRMED reservations past the grace threshold
// that were never checked in.
func (s *Store) NoShowCandidates(ctx context.Context, graceThreshold time.Time) ([]Reservation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, seat_id, start_time, end_time, status, checked_in_at
		FROM reservations
		WHERE status = 'CONFIRMED' AND checked_in_at IS NULL AND start_time <= $1
	`, graceThreshold)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReservations(rows)
}

// PastCheckedInCandidates lists CHECKED_IN reservations whose window has
// already closed.
func (s *Store) PastCheckedInCandidates(ctx context.Context) ([]Reservation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, seat_id, start_time, end_time, status, checked_in_at
		FROM reservations
		WHERE status = 'CHECKED_IN' AND end_time < NOW()
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReservations(rows)
}

func scanReservations(rows pgx.Rows) ([]Reservation, error) {
	var out []Reservation
	for rows.Next() {
		var r Reservation
		if err := rows.Scan(&r.ID, &r.UserID, &r.SeatID, &r.StartTime, &r.EndTime, &r.Status, &r.CheckedInAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) AddToWaitlist(ctx context.Context, userID int64, seatID *int64, branch *string, desired *time.Time) (WaitlistEntry, error) {
	var w WaitlistEntry
	err := s.pool.QueryRow(ctx, `
		INSERT INTO waitlist (user_id, seat_id, branch, desired_time)
		VALUES ($1, $2, $3, $4)
		RETURNING id, user_id, seat_id, branch, desired_time, notified_at
	`, userID, seatID, branch, desired).Scan(&w.ID, &w.UserID, &w.SeatID, &w.Branch, &w.DesiredTime, &w.NotifiedAt)
	return w, err
}

func (s *Store) RemoveFromWaitlist(ctx context.Context, waitlistID int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM waitlist WHERE id = $1`, waitlistID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// NextWaitlistEntry returns the oldest un-notified entry for a seat, or
// failing that, for the seat's branch.
func (s *Store) NextWaitlistEntry(ctx context.Context, seatID int64) (WaitlistEntry, error) {
	var w WaitlistEntry
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, seat_id, branch, desired_time, notified_at
		FROM waitlist
		WHERE seat_id = $1 AND notified_at IS NULL
		ORDER BY created_at
		LIMIT 1
	`, seatID).Scan(&w.ID, &w.UserID, &w.SeatID, &w.Branch, &w.DesiredTime, &w.NotifiedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		err = s.pool.QueryRow(ctx, `
			SELECT w.id, w.user_id, w.seat_id, w.branch, w.desired_time, w.notified_at
			FROM waitlist w
			JOIN seats s ON s.id = $1
			WHERE w.branch = s.branch AND w.seat_id IS NULL AND w.notified_at IS NULL
			ORDER BY w.created_at
			LIMIT 1
		`, seatID).Scan(&w.ID, &w.UserID, &w.SeatID, &w.Branch, &w.DesiredTime, &w.NotifiedAt)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return WaitlistEntry{}, ErrNotFound
	}
	return w, err
}

func (s *Store) MarkNotified(ctx context.Context, waitlistID int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE waitlist SET notified_at = NOW() WHERE id = $1`, waitlistID)
	return err
}

// isUniqueViolation reports whether err is a Postgres unique_violation
// (SQLSTATE 23505), e.g. a duplicate student_id. Exclusion-constraint
// violations (SQLSTATE 23P01) are not matched.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
