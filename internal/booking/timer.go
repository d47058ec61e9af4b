package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/autorenta/settlement/internal/metrics"
)

// Sweeper periodically settles bookings whose auto-release deadline has
// passed without a renter response.
type Sweeper struct {
	service  *Service
	store    Store
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewSweeper creates an auto-release sweeper.
func NewSweeper(service *Service, store Store, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		service:  service,
		store:    store,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the sweep loop is active.
func (s *Sweeper) Running() bool {
	return s.running.Load()
}

// Start begins the sweep loop. Call in a goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	s.running.Store(true)
	defer s.running.Store(false)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.safeSweep(ctx)
		}
	}
}

// Stop signals the sweeper to stop.
func (s *Sweeper) Stop() {
	select {
	case s.stop <- struct{}{}:
	default:
	}
}

func (s *Sweeper) safeSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in auto-release sweep", "panic", fmt.Sprint(r))
		}
	}()
	s.Sweep(ctx)
}

// Sweep settles every booking past its deadline. Exported so tests and
// operational tooling can trigger a pass directly.
func (s *Sweeper) Sweep(ctx context.Context) {
	metrics.AutoReleaseSweepsTotal.Inc()

	due, err := s.store.ListAutoReleasable(ctx, time.Now(), 100)
	if err != nil {
		s.logger.Warn("failed to list auto-releasable bookings", "error", err)
		return
	}

	for _, b := range due {
		err := s.service.AutoRelease(ctx, b.ID)
		switch {
		case err == nil:
			s.logger.Info("auto-released booking",
				"booking_id", b.ID, "renter_id", b.RenterID, "owner_id", b.OwnerID)
		case errors.Is(err, ErrAlreadySettled), errors.Is(err, ErrStateViolation):
			// Lost the race to an explicit confirmation or a dispute.
		default:
			s.logger.Warn("failed to auto-release booking",
				"booking_id", b.ID, "error", err)
		}
	}
}
