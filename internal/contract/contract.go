// Package contract tracks rental contract acceptance.
//
// Payment for a booking requires a recorded acceptance of every mandatory
// clause within the acceptance window. The clause set mirrors the rental
// agreement: gross negligence (culpaGrave), indemnity (indemnidad),
// deposit retention (retencion), and late-return penalties (mora).
package contract

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	ErrNotAccepted = errors.New("contract not accepted")
	ErrNotFound    = errors.New("contract acceptance not found")
)

// RequiredClauses are the clause keys that must all be accepted.
var RequiredClauses = []string{"culpaGrave", "indemnidad", "retencion", "mora"}

// IncompleteAcceptanceError reports which mandatory clauses are missing.
type IncompleteAcceptanceError struct {
	Missing []string
}

func (e *IncompleteAcceptanceError) Error() string {
	return "incomplete clause acceptance: missing " + strings.Join(e.Missing, ", ")
}

// ExpiredError reports an acceptance older than the allowed window.
type ExpiredError struct {
	HoursElapsed float64
}

func (e *ExpiredError) Error() string {
	return fmt.Sprintf("contract acceptance expired: %.1f hours elapsed", e.HoursElapsed)
}

// Acceptance is a renter's recorded agreement to the rental contract.
type Acceptance struct {
	BookingID  string          `json:"booking_id"`
	AcceptedBy string          `json:"accepted_by"`
	Clauses    map[string]bool `json:"clauses"`
	AcceptedAt time.Time       `json:"accepted_at"`
}

// Store persists contract acceptances.
type Store interface {
	Put(ctx context.Context, a *Acceptance) error
	Get(ctx context.Context, bookingID string) (*Acceptance, error)
}

// Service validates contract acceptance ahead of payment.
type Service struct {
	store  Store
	window time.Duration
}

// NewService creates a contract service. window is how long an acceptance
// stays valid (24h in production).
func NewService(store Store, window time.Duration) *Service {
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &Service{store: store, window: window}
}

// RecordAcceptance stores the renter's clause acceptance for a booking.
// Partial acceptance is stored as-is; Check enforces completeness at
// payment time.
func (s *Service) RecordAcceptance(ctx context.Context, bookingID, acceptedBy string, clauses map[string]bool) (*Acceptance, error) {
	a := &Acceptance{
		BookingID:  bookingID,
		AcceptedBy: acceptedBy,
		Clauses:    clauses,
		AcceptedAt: time.Now(),
	}
	if err := s.store.Put(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Get returns the recorded acceptance for a booking.
func (s *Service) Get(ctx context.Context, bookingID string) (*Acceptance, error) {
	return s.store.Get(ctx, bookingID)
}

// Check verifies that payment may proceed for a booking. It fails with
// ErrNotAccepted when no acceptance exists, *IncompleteAcceptanceError when
// mandatory clauses are missing, or *ExpiredError when the acceptance is
// older than the window.
func (s *Service) Check(ctx context.Context, bookingID string) error {
	a, err := s.store.Get(ctx, bookingID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotAccepted
		}
		return err
	}

	var missing []string
	for _, clause := range RequiredClauses {
		if !a.Clauses[clause] {
			missing = append(missing, clause)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return &IncompleteAcceptanceError{Missing: missing}
	}

	if elapsed := time.Since(a.AcceptedAt); elapsed > s.window {
		return &ExpiredError{HoursElapsed: elapsed.Hours()}
	}
	return nil
}
