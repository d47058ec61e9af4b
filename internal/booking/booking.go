// Package booking drives the rental lifecycle from payment through
// bilateral confirmation to settlement.
//
// Flow:
//  1. Renter pays → rental and deposit funds locked, insurance activated
//  2. Trip runs → renter picks up, either party marks the return
//  3. Owner inspects → no damage moves toward renter confirmation,
//     damage opens a review
//  4. Renter confirms (or stays silent past the deadline) → funds settle
//  5. Renter rejects a damage claim → dispute, settlement halts
package booking

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrBookingNotFound = errors.New("booking not found")
	ErrNotAllowed      = errors.New("caller may not perform this action")
	ErrStateViolation  = errors.New("action not permitted in current state")
	ErrAlreadySettled  = errors.New("booking already settled")
	// ErrExternalPaymentRequired is returned when the wallet cannot cover a
	// payment and no card is on file for the remainder.
	ErrExternalPaymentRequired = errors.New("external payment required")
)

// Stored status is the coarse lifecycle tag. Fine-grained display state is
// derived from the completion timestamps, see DeriveState.
const (
	StatusPendingPayment = "pending_payment"
	StatusConfirmed      = "confirmed"
	StatusInProgress     = "in_progress"
	StatusCompleted      = "completed"
	StatusCancelled      = "cancelled"
)

// Roles on a booking.
const (
	RoleOwner  = "owner"
	RoleRenter = "renter"
	RoleSystem = "system"
	RoleNone   = "none"
)

// ReasonInsuranceFailure marks a system cancellation after insurance
// activation exhausted its retries.
const ReasonInsuranceFailure = "system_failure:insurance_activation_failed"

// Booking is one rental agreement. Money fields are integer cents. The
// record becomes immutable once FundsReleasedAt is set.
type Booking struct {
	ID      string `json:"id"`
	CarID   string `json:"car_id"`
	OwnerID string `json:"owner_id"`
	// RenterID is the renter's wallet account. RenterCustomerID is their
	// card-provider customer, used when the wallet cannot cover a payment.
	RenterID         string `json:"renter_id"`
	RenterCustomerID string `json:"renter_customer_id,omitempty"`

	RentalAmountCents  int64 `json:"rental_amount_cents"`
	DepositAmountCents int64 `json:"deposit_amount_cents"`
	// ExternalAmountCents is the rental portion captured by card at payment
	// time; paid out to the owner at settlement.
	ExternalAmountCents int64  `json:"external_amount_cents,omitempty"`
	ExternalCaptureRef  string `json:"external_capture_ref,omitempty"`

	Status string `json:"status"`

	StartAt time.Time `json:"start_at"`
	EndAt   time.Time `json:"end_at"`

	PickedUpAt  *time.Time `json:"picked_up_at,omitempty"`
	ReturnedAt  *time.Time `json:"returned_at,omitempty"`
	InspectedAt *time.Time `json:"inspected_at,omitempty"`

	HasDamage         bool   `json:"has_damage"`
	DamageAmountCents int64  `json:"damage_amount_cents,omitempty"`
	DamageDescription string `json:"damage_description,omitempty"`

	DisputedAt      *time.Time `json:"disputed_at,omitempty"`
	AutoReleaseAt   *time.Time `json:"auto_release_at,omitempty"`
	FundsReleasedAt *time.Time `json:"funds_released_at,omitempty"`

	CancellationReason string `json:"cancellation_reason,omitempty"`
	CancelledByRole    string `json:"cancelled_by_role,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsTerminal reports whether the booking can no longer change.
func (b *Booking) IsTerminal() bool {
	return b.Status == StatusCompleted || b.Status == StatusCancelled || b.FundsReleasedAt != nil
}

// RoleOf returns the caller's role on this booking.
func (b *Booking) RoleOf(accountID string) string {
	switch accountID {
	case b.OwnerID:
		return RoleOwner
	case b.RenterID:
		return RoleRenter
	default:
		return RoleNone
	}
}

// Lock reference identifiers. Each purpose may hold one lock per pool,
// so a payment split across protection credit and cash stays idempotent
// per pool on retry.
func rentalRef(bookingID string, pool string) string {
	return fmt.Sprintf("%s:rental:%s", bookingID, pool)
}

func depositRef(bookingID string, pool string) string {
	return fmt.Sprintf("%s:deposit:%s", bookingID, pool)
}

func externalPayoutRef(bookingID string) string {
	return bookingID + ":external_payout"
}

// Store persists bookings.
type Store interface {
	Create(ctx context.Context, b *Booking) error
	Get(ctx context.Context, id string) (*Booking, error)
	Update(ctx context.Context, b *Booking) error
	ListByAccount(ctx context.Context, accountID string, limit int) ([]*Booking, error)

	// ListAutoReleasable returns bookings whose auto-release deadline has
	// passed and that are still unsettled and undisputed.
	ListAutoReleasable(ctx context.Context, before time.Time, limit int) ([]*Booking, error)
}

// CreateRequest contains the parameters for creating a booking.
type CreateRequest struct {
	CarID              string    `json:"car_id" binding:"required"`
	OwnerID            string    `json:"owner_id" binding:"required"`
	RenterID           string    `json:"renter_id" binding:"required"`
	RenterCustomerID   string    `json:"renter_customer_id"`
	RentalAmountCents  int64     `json:"rental_amount_cents" binding:"required"`
	DepositAmountCents int64     `json:"deposit_amount_cents" binding:"required"`
	StartAt            time.Time `json:"start_at"`
	EndAt              time.Time `json:"end_at"`
}

// InspectionRequest contains the owner's inspection verdict.
type InspectionRequest struct {
	HasDamage         bool   `json:"has_damage"`
	DamageAmountCents int64  `json:"damage_amount_cents"`
	DamageDescription string `json:"damage_description"`
}

// ConclusionRequest contains the renter's response at the end of a rental.
type ConclusionRequest struct {
	AcceptDamage bool `json:"accept_damage"`
}
