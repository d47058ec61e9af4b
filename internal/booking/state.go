package booking

import "time"

// State is the canonical lifecycle state derived from a booking's flags.
type State string

const (
	StateCancelled      State = "CANCELLED"
	StateCompleted      State = "COMPLETED"
	StateDisputed       State = "DISPUTED"
	StateDamageReview   State = "DAMAGE_REVIEW"
	StatePendingRenter  State = "PENDING_RENTER"
	StateReturned       State = "RETURNED"
	StateInProgress     State = "IN_PROGRESS"
	StateConfirmed      State = "CONFIRMED"
	StatePendingPayment State = "PENDING_PAYMENT"
)

// DeriveState maps a booking's flags and timestamps to one canonical
// state. Pure and deterministic; precedence is evaluated top to bottom
// and the first match wins.
func DeriveState(b *Booking) State {
	switch {
	case b.Status == StatusCancelled:
		return StateCancelled
	case b.Status == StatusCompleted || b.FundsReleasedAt != nil:
		return StateCompleted
	case b.DisputedAt != nil:
		return StateDisputed
	case b.InspectedAt != nil && b.HasDamage:
		return StateDamageReview
	case b.InspectedAt != nil:
		return StatePendingRenter
	case b.ReturnedAt != nil:
		return StateReturned
	case b.Status == StatusInProgress:
		return StateInProgress
	case b.Status == StatusPendingPayment:
		return StatePendingPayment
	default:
		return StateConfirmed
	}
}

// actingRole returns which party the state is waiting on.
func actingRole(s State) string {
	switch s {
	case StateReturned:
		return RoleOwner
	case StatePendingRenter, StateDamageReview:
		return RoleRenter
	default:
		return RoleNone
	}
}

// DamageInfo summarizes a damage claim for display.
type DamageInfo struct {
	AmountCents int64  `json:"amount_cents"`
	Description string `json:"description,omitempty"`
}

// View is the derived state relative to one caller. The same booking can
// be "your turn" for the owner and "waiting" for the renter, so turn
// information is computed per caller rather than stored.
type View struct {
	State      State  `json:"state"`
	Actor      string `json:"actor"`
	CallerRole string `json:"caller_role"`
	IsYourTurn bool   `json:"is_your_turn"`

	AutoReleaseCountdownSeconds *int64      `json:"auto_release_countdown_seconds,omitempty"`
	Damage                      *DamageInfo `json:"damage,omitempty"`
}

// DeriveView computes the caller-relative view of a booking at the given
// instant.
func DeriveView(b *Booking, callerID string, now time.Time) View {
	state := DeriveState(b)
	actor := actingRole(state)
	callerRole := b.RoleOf(callerID)

	v := View{
		State:      state,
		Actor:      actor,
		CallerRole: callerRole,
		IsYourTurn: actor != RoleNone && actor == callerRole,
	}

	if b.AutoReleaseAt != nil && b.FundsReleasedAt == nil && b.DisputedAt == nil {
		remaining := int64(b.AutoReleaseAt.Sub(now).Seconds())
		if remaining < 0 {
			remaining = 0
		}
		v.AutoReleaseCountdownSeconds = &remaining
	}

	if b.HasDamage {
		v.Damage = &DamageInfo{
			AmountCents: b.DamageAmountCents,
			Description: b.DamageDescription,
		}
	}
	return v
}
