// Package sweeper restores original_source/rest/checkin_worker/worker.py's
// background_worker loop: on a fixed interval it finds reservations that
// missed their window and submits the corresponding operation through the
// Submission Facade like any other client — it holds no special write
// path of its own.
package sweeper

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"seatraft/internal/store"
)

// Submitter is the subset of *facade.Facade the sweeper needs.
type Submitter interface {
	Submit(opType string, payload interface{}) (string, error)
}

type reservationRef struct {
	ReservationID int64 `json:"reservation_id"`
}

type Sweeper struct {
	store        *store.Store
	submitter    Submitter
	interval     time.Duration
	graceMinutes time.Duration
	stopCh       chan struct{}
}

func New(st *store.Store, submitter Submitter, interval, grace time.Duration) *Sweeper {
	return &Sweeper{
		store:        st,
		submitter:    submitter,
		interval:     interval,
		graceMinutes: grace,
		stopCh:       make(chan struct{}),
	}
}

// Run blocks, sweeping every interval until Stop is called. Intended to be
// launched in its own goroutine from cmd/server.
func (s *Sweeper) Run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			noShows := s.sweepNoShows()
			completed := s.sweepCompletions()
			log.Info().Int("no_shows", noShows).Int("completed", completed).Msg("sweeper: cycle complete")
		}
	}
}

func (s *Sweeper) Stop() {
	close(s.stopCh)
}

func (s *Sweeper) sweepNoShows() int {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	threshold := time.Now().Add(-s.graceMinutes)
	candidates, err := s.store.NoShowCandidates(ctx, threshold)
	if err != nil {
		log.Error().Err(err).Msg("sweeper: listing no-show candidates")
		return 0
	}

	for _, r := range candidates {
		if _, err := s.submitter.Submit("Reservation.NoShow", reservationRef{ReservationID: r.ID}); err != nil {
			log.Error().Err(err).Int64("reservation_id", r.ID).Msg("sweeper: submitting no-show")
		}
	}
	return len(candidates)
}

func (s *Sweeper) sweepCompletions() int {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	candidates, err := s.store.PastCheckedInCandidates(ctx)
	if err != nil {
		log.Error().Err(err).Msg("sweeper: listing completion candidates")
		return 0
	}

	for _, r := range candidates {
		if _, err := s.submitter.Submit("Reservation.Complete", reservationRef{ReservationID: r.ID}); err != nil {
			log.Error().Err(err).Int64("reservation_id", r.ID).Msg("sweeper: submitting completion")
		}
	}
	return len(candidates)
}
