package booking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/autorenta/settlement/internal/contract"
	"github.com/autorenta/settlement/internal/idgen"
	"github.com/autorenta/settlement/internal/insurance"
	"github.com/autorenta/settlement/internal/logging"
	"github.com/autorenta/settlement/internal/metrics"
	"github.com/autorenta/settlement/internal/payments"
	"github.com/autorenta/settlement/internal/traces"
	"github.com/autorenta/settlement/internal/wallet"
	"github.com/autorenta/settlement/internal/waterfall"
)

// Notifier publishes booking lifecycle events, e.g. to websocket clients.
type Notifier interface {
	BookingEvent(bookingID, event string, payload any)
}

// Service implements the bilateral confirmation workflow.
type Service struct {
	store     Store
	wallet    *wallet.Service
	contracts *contract.Service
	insurance *insurance.Service
	capturer  payments.Capturer
	notifier  Notifier

	// settlementWindow is how long the renter has to respond after a
	// clean inspection before funds auto-release.
	settlementWindow time.Duration

	locks sync.Map // per-booking ID locks guarding settlement
}

// NewService creates a booking service.
func NewService(store Store, walletSvc *wallet.Service, contracts *contract.Service, insuranceSvc *insurance.Service, settlementWindow time.Duration) *Service {
	if settlementWindow <= 0 {
		settlementWindow = 48 * time.Hour
	}
	return &Service{
		store:            store,
		wallet:           walletSvc,
		contracts:        contracts,
		insurance:        insuranceSvc,
		settlementWindow: settlementWindow,
	}
}

// WithCapturer adds a card capturer for payments the wallet cannot cover.
func (s *Service) WithCapturer(c payments.Capturer) *Service {
	s.capturer = c
	return s
}

// WithNotifier adds a lifecycle event publisher.
func (s *Service) WithNotifier(n Notifier) *Service {
	s.notifier = n
	return s
}

// bookingLock returns a mutex for the given booking ID. It serializes
// state transitions so an explicit confirmation and the auto-release
// sweep cannot settle the same booking twice.
func (s *Service) bookingLock(id string) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (s *Service) notify(bookingID, event string, payload any) {
	if s.notifier != nil {
		s.notifier.BookingEvent(bookingID, event, payload)
	}
}

// Create registers a booking awaiting payment.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Booking, error) {
	if req.RentalAmountCents <= 0 || req.DepositAmountCents <= 0 {
		return nil, fmt.Errorf("%w: amounts must be positive", wallet.ErrInvalidAmount)
	}
	if req.OwnerID == req.RenterID {
		return nil, fmt.Errorf("%w: owner cannot rent their own car", ErrNotAllowed)
	}

	now := time.Now()
	b := &Booking{
		ID:                 idgen.WithPrefix("bkg_"),
		CarID:              req.CarID,
		OwnerID:            req.OwnerID,
		RenterID:           req.RenterID,
		RenterCustomerID:   req.RenterCustomerID,
		RentalAmountCents:  req.RentalAmountCents,
		DepositAmountCents: req.DepositAmountCents,
		Status:             StatusPendingPayment,
		StartAt:            req.StartAt,
		EndAt:              req.EndAt,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.store.Create(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// Get returns a booking by ID.
func (s *Service) Get(ctx context.Context, id string) (*Booking, error) {
	return s.store.Get(ctx, id)
}

// ListByAccount returns bookings where the account is owner or renter.
func (s *Service) ListByAccount(ctx context.Context, accountID string, limit int) ([]*Booking, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByAccount(ctx, accountID, limit)
}

// View returns the caller-relative derived state of a booking.
func (s *Service) View(ctx context.Context, bookingID, callerID string) (*Booking, View, error) {
	b, err := s.store.Get(ctx, bookingID)
	if err != nil {
		return nil, View{}, err
	}
	return b, DeriveView(b, callerID, time.Now()), nil
}

// poolLock is one leg of a payment split placed on a single pool.
type poolLock struct {
	accountID string
	ref       string
}

// Pay charges the renter for a booking: contract checks, rental and
// deposit locks following the pool waterfall, card capture for any
// remainder, and mandatory insurance activation. A failure at any step
// rolls back every lock placed, leaving no partial payment.
func (s *Service) Pay(ctx context.Context, bookingID, callerID string) (*Booking, error) {
	ctx, span := traces.StartSpan(ctx, "booking.pay", traces.BookingID(bookingID))
	defer span.End()

	mu := s.bookingLock(bookingID)
	mu.Lock()
	defer mu.Unlock()

	b, err := s.store.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.RoleOf(callerID) != RoleRenter {
		return nil, ErrNotAllowed
	}
	if b.Status != StatusPendingPayment {
		return nil, fmt.Errorf("%w: booking is %s", ErrStateViolation, b.Status)
	}

	if err := s.contracts.Check(ctx, bookingID); err != nil {
		return nil, err
	}

	var placed []poolLock
	rollback := func() {
		for _, pl := range placed {
			if uerr := s.wallet.UnlockFunds(ctx, pl.accountID, pl.ref); uerr != nil {
				logging.L(ctx).Error("payment rollback unlock failed",
					"booking_id", bookingID, "reference_id", pl.ref, "error", uerr)
			}
		}
	}

	// The deposit must be fully covered by wallet pools; only the rental
	// portion may fall through to the card.
	external, err := s.lockWaterfall(ctx, b, &placed)
	if err != nil {
		rollback()
		return nil, err
	}

	if external > 0 {
		if s.capturer == nil || b.RenterCustomerID == "" {
			rollback()
			return nil, fmt.Errorf("%w: %d cents uncovered and no card on file",
				ErrExternalPaymentRequired, external)
		}
		ref, err := s.capturer.Capture(ctx, b.ID, b.RenterCustomerID, external)
		if err != nil {
			rollback()
			return nil, fmt.Errorf("capture external portion: %w", err)
		}
		b.ExternalAmountCents = external
		b.ExternalCaptureRef = ref
	}

	// Coverage is compliance-mandatory. On exhaustion the booking is
	// cancelled and every fund movement above is compensated.
	if err := s.insurance.Activate(ctx, b.ID); err != nil {
		if errors.Is(err, insurance.ErrActivationFailed) {
			s.compensateFailedPayment(ctx, b, placed)
		} else {
			rollback()
		}
		return nil, err
	}

	now := time.Now()
	b.Status = StatusConfirmed
	b.UpdatedAt = now
	if err := s.store.Update(ctx, b); err != nil {
		return nil, fmt.Errorf("persist paid booking: %w", err)
	}

	logging.L(ctx).Info("booking paid",
		"booking_id", b.ID,
		"renter_id", b.RenterID,
		"rental_cents", b.RentalAmountCents,
		"deposit_cents", b.DepositAmountCents,
		"external_cents", b.ExternalAmountCents)
	s.notify(b.ID, "booking.confirmed", DeriveState(b))
	return b, nil
}

// lockWaterfall places the deposit and rental locks for a booking,
// consuming protection credit before cash. It records each placed lock
// in placed for rollback and returns the rental remainder that must be
// captured externally.
func (s *Service) lockWaterfall(ctx context.Context, b *Booking, placed *[]poolLock) (int64, error) {
	// Balances are re-read here, never cached: the lock itself re-verifies
	// availability atomically, this read only chooses the split.
	bal, err := s.wallet.GetBalance(ctx, b.RenterID)
	if err != nil {
		return 0, err
	}
	now := time.Now()
	protection := bal.AvailableProtection(now)
	cash := bal.Cash

	deposit, err := waterfall.Compute(b.DepositAmountCents, protection, cash)
	if err != nil {
		return 0, err
	}
	if deposit.External > 0 {
		return 0, fmt.Errorf("%w: deposit short by %d cents",
			wallet.ErrInsufficientFunds, deposit.External)
	}
	protection -= deposit.ProtectionUsed
	cash -= deposit.CashUsed

	rental, err := waterfall.Compute(b.RentalAmountCents, protection, cash)
	if err != nil {
		return 0, err
	}

	type leg struct {
		amount  int64
		pool    wallet.Pool
		purpose string
		ref     string
	}
	legs := []leg{
		{deposit.ProtectionUsed, wallet.PoolProtection, wallet.PurposeDeposit, depositRef(b.ID, string(wallet.PoolProtection))},
		{deposit.CashUsed, wallet.PoolCash, wallet.PurposeDeposit, depositRef(b.ID, string(wallet.PoolCash))},
		{rental.ProtectionUsed, wallet.PoolProtection, wallet.PurposeRental, rentalRef(b.ID, string(wallet.PoolProtection))},
		{rental.CashUsed, wallet.PoolCash, wallet.PurposeRental, rentalRef(b.ID, string(wallet.PoolCash))},
	}
	for _, l := range legs {
		if l.amount <= 0 {
			continue
		}
		if _, _, err := s.wallet.LockFunds(ctx, b.RenterID, l.amount, l.pool, l.purpose, l.ref); err != nil {
			return 0, fmt.Errorf("lock %s: %w", l.purpose, err)
		}
		*placed = append(*placed, poolLock{accountID: b.RenterID, ref: l.ref})
	}
	return rental.External, nil
}

// compensateFailedPayment cancels a booking whose insurance activation
// exhausted retries, releasing every lock and refunding any card capture.
func (s *Service) compensateFailedPayment(ctx context.Context, b *Booking, placed []poolLock) {
	for _, pl := range placed {
		if err := s.wallet.ComplianceRelease(ctx, pl.accountID, pl.ref); err != nil {
			logging.L(ctx).Error("compensation unlock failed",
				"booking_id", b.ID, "reference_id", pl.ref, "error", err)
		}
	}
	if b.ExternalCaptureRef != "" && s.capturer != nil {
		if err := s.capturer.Refund(ctx, b.ExternalCaptureRef); err != nil {
			logging.L(ctx).Error("compensation refund failed",
				"booking_id", b.ID, "capture_ref", b.ExternalCaptureRef, "error", err)
		}
	}

	now := time.Now()
	b.Status = StatusCancelled
	b.CancellationReason = ReasonInsuranceFailure
	b.CancelledByRole = RoleSystem
	b.ExternalAmountCents = 0
	b.ExternalCaptureRef = ""
	b.UpdatedAt = now
	if err := s.store.Update(ctx, b); err != nil {
		logging.L(ctx).Error("failed to persist compensating cancellation",
			"booking_id", b.ID, "error", err)
		return
	}
	logging.L(ctx).Warn("booking cancelled after insurance failure", "booking_id", b.ID)
	s.notify(b.ID, "booking.cancelled", ReasonInsuranceFailure)
}

// StartTrip marks pickup; renter-only, from a confirmed booking.
func (s *Service) StartTrip(ctx context.Context, bookingID, callerID string) (*Booking, error) {
	mu := s.bookingLock(bookingID)
	mu.Lock()
	defer mu.Unlock()

	b, err := s.store.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.RoleOf(callerID) != RoleRenter {
		return nil, ErrNotAllowed
	}
	if DeriveState(b) != StateConfirmed {
		return nil, fmt.Errorf("%w: cannot start trip from %s", ErrStateViolation, DeriveState(b))
	}

	now := time.Now()
	b.Status = StatusInProgress
	b.PickedUpAt = &now
	b.UpdatedAt = now
	if err := s.store.Update(ctx, b); err != nil {
		return nil, err
	}
	s.notify(b.ID, "booking.in_progress", nil)
	return b, nil
}

// ReturnVehicle marks the vehicle as returned. Either party may report
// the return; it does not move funds.
func (s *Service) ReturnVehicle(ctx context.Context, bookingID, callerID string) (*Booking, error) {
	mu := s.bookingLock(bookingID)
	mu.Lock()
	defer mu.Unlock()

	b, err := s.store.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	role := b.RoleOf(callerID)
	if role != RoleOwner && role != RoleRenter {
		return nil, ErrNotAllowed
	}
	state := DeriveState(b)
	if state == StateReturned {
		// Both parties may report the same return.
		return b, nil
	}
	if state != StateInProgress {
		return nil, fmt.Errorf("%w: cannot return from %s", ErrStateViolation, state)
	}

	now := time.Now()
	b.ReturnedAt = &now
	b.UpdatedAt = now
	if err := s.store.Update(ctx, b); err != nil {
		return nil, err
	}
	logging.L(ctx).Info("vehicle returned", "booking_id", b.ID, "returned_by", role)
	s.notify(b.ID, "booking.returned", nil)
	return b, nil
}

// SubmitInspection records the owner's post-return verdict. A clean
// inspection starts the renter confirmation countdown; a damage claim
// opens a review.
func (s *Service) SubmitInspection(ctx context.Context, bookingID, callerID string, req InspectionRequest) (*Booking, error) {
	mu := s.bookingLock(bookingID)
	mu.Lock()
	defer mu.Unlock()

	b, err := s.store.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.RoleOf(callerID) != RoleOwner {
		return nil, ErrNotAllowed
	}
	if state := DeriveState(b); state != StateReturned {
		return nil, fmt.Errorf("%w: cannot inspect from %s", ErrStateViolation, state)
	}
	if req.HasDamage && req.DamageAmountCents <= 0 {
		return nil, fmt.Errorf("%w: damage claim requires a positive amount", wallet.ErrInvalidAmount)
	}

	now := time.Now()
	b.InspectedAt = &now
	b.UpdatedAt = now
	if req.HasDamage {
		b.HasDamage = true
		b.DamageAmountCents = req.DamageAmountCents
		b.DamageDescription = req.DamageDescription
		logging.L(ctx).Info("damage reported",
			"booking_id", b.ID, "amount_cents", req.DamageAmountCents)
	} else {
		deadline := now.Add(s.settlementWindow)
		b.AutoReleaseAt = &deadline
	}
	if err := s.store.Update(ctx, b); err != nil {
		return nil, err
	}
	s.notify(b.ID, "booking.inspected", DeriveState(b))
	return b, nil
}

// ResolveConclusion records the renter's response at the end of a rental.
// From PENDING_RENTER the confirmation settles funds. From DAMAGE_REVIEW,
// accepting the claim settles with the damage deducted from the deposit;
// rejecting it opens a dispute and halts automatic settlement.
func (s *Service) ResolveConclusion(ctx context.Context, bookingID, callerID string, req ConclusionRequest) (*Booking, error) {
	mu := s.bookingLock(bookingID)
	mu.Lock()
	defer mu.Unlock()

	b, err := s.store.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.RoleOf(callerID) != RoleRenter {
		return nil, ErrNotAllowed
	}

	switch state := DeriveState(b); state {
	case StatePendingRenter:
		return s.settleLocked(ctx, b, 0, "renter_confirmed")

	case StateDamageReview:
		if !req.AcceptDamage {
			now := time.Now()
			b.DisputedAt = &now
			b.AutoReleaseAt = nil
			b.UpdatedAt = now
			if err := s.store.Update(ctx, b); err != nil {
				return nil, err
			}
			metrics.DisputesTotal.Inc()
			logging.L(ctx).Info("damage claim disputed", "booking_id", b.ID)
			s.notify(b.ID, "booking.disputed", nil)
			return b, nil
		}
		return s.settleLocked(ctx, b, b.DamageAmountCents, "damage_accepted")

	default:
		return nil, fmt.Errorf("%w: cannot conclude from %s", ErrStateViolation, state)
	}
}

// ResolveDispute settles a disputed booking with an arbitrated damage
// amount. Intended for the operations team, not for either party.
func (s *Service) ResolveDispute(ctx context.Context, bookingID string, damageCents int64) (*Booking, error) {
	mu := s.bookingLock(bookingID)
	mu.Lock()
	defer mu.Unlock()

	b, err := s.store.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if DeriveState(b) != StateDisputed {
		return nil, fmt.Errorf("%w: booking is not disputed", ErrStateViolation)
	}
	if damageCents < 0 {
		return nil, wallet.ErrInvalidAmount
	}
	return s.settleLocked(ctx, b, damageCents, "dispute_resolved")
}

// AutoRelease settles a booking whose renter stayed silent past the
// deadline, treating silence as acceptance of the clean inspection.
func (s *Service) AutoRelease(ctx context.Context, bookingID string) error {
	mu := s.bookingLock(bookingID)
	mu.Lock()
	defer mu.Unlock()

	b, err := s.store.Get(ctx, bookingID)
	if err != nil {
		return err
	}
	if b.FundsReleasedAt != nil {
		return ErrAlreadySettled
	}
	if state := DeriveState(b); state != StatePendingRenter {
		return fmt.Errorf("%w: cannot auto-release from %s", ErrStateViolation, state)
	}
	_, err = s.settleLocked(ctx, b, 0, "auto_release")
	return err
}

// settleLocked performs the terminal fund movement for a booking. The
// caller must hold the booking lock. damageCents is consumed from the
// deposit, protection credit first; the remainder of the deposit returns
// to the renter and the rental is paid out to the owner. Settlement runs
// at most once per booking.
func (s *Service) settleLocked(ctx context.Context, b *Booking, damageCents int64, trigger string) (*Booking, error) {
	if b.FundsReleasedAt != nil {
		return nil, ErrAlreadySettled
	}
	ctx, span := traces.StartSpan(ctx, "booking.settle",
		traces.BookingID(b.ID), traces.Trigger(trigger), traces.AmountCents(damageCents))
	defer span.End()
	start := time.Now()

	if damageCents > b.DepositAmountCents {
		damageCents = b.DepositAmountCents
	}

	// Deposit: consume the damage claim protection-credit first, refund
	// the rest to the renter's original pools.
	remaining := damageCents
	for _, pool := range []wallet.Pool{wallet.PoolProtection, wallet.PoolCash} {
		ref := depositRef(b.ID, string(pool))
		lock, err := s.wallet.GetLock(ctx, ref)
		if err != nil {
			if errors.Is(err, wallet.ErrLockNotFound) {
				continue
			}
			return nil, fmt.Errorf("settle deposit %s: %w", ref, err)
		}
		if !lock.IsOpen() {
			continue
		}
		consume := min64(remaining, lock.Amount)
		if _, err := s.wallet.SettleLock(ctx, b.RenterID, ref, consume, b.OwnerID); err != nil {
			return nil, fmt.Errorf("settle deposit %s: %w", ref, err)
		}
		remaining -= consume
	}

	// Rental: the locked amount is the owner's earnings.
	for _, pool := range []wallet.Pool{wallet.PoolProtection, wallet.PoolCash} {
		ref := rentalRef(b.ID, string(pool))
		lock, err := s.wallet.GetLock(ctx, ref)
		if err != nil {
			if errors.Is(err, wallet.ErrLockNotFound) {
				continue
			}
			return nil, fmt.Errorf("settle rental %s: %w", ref, err)
		}
		if !lock.IsOpen() {
			continue
		}
		if _, err := s.wallet.SettleLock(ctx, b.RenterID, ref, lock.Amount, b.OwnerID); err != nil {
			return nil, fmt.Errorf("settle rental %s: %w", ref, err)
		}
	}

	// Card-captured rental portion is paid out to the owner's cash. The
	// payout is deduped by reference so a settlement re-run after a
	// failed persist cannot pay the owner twice.
	if b.ExternalAmountCents > 0 {
		desc := fmt.Sprintf("card payment payout for %s", b.ID)
		if _, err := s.wallet.DepositOnce(ctx, b.OwnerID, b.ExternalAmountCents, externalPayoutRef(b.ID), desc); err != nil {
			return nil, fmt.Errorf("pay out external portion: %w", err)
		}
	}

	now := time.Now()
	b.Status = StatusCompleted
	b.FundsReleasedAt = &now
	if damageCents > 0 {
		b.DamageAmountCents = damageCents
	}
	b.UpdatedAt = now
	if err := s.store.Update(ctx, b); err != nil {
		// Funds already moved; the idempotent settlement guard depends on
		// this write, so it must land.
		if retryErr := s.store.Update(ctx, b); retryErr != nil {
			logging.L(ctx).Error("settlement persisted funds but not booking state",
				"booking_id", b.ID, "error", retryErr)
			return nil, fmt.Errorf("persist settlement (requires manual resolution): %w", err)
		}
	}

	if damageCents == 0 {
		if err := s.wallet.RecordClaimFreeCompletion(ctx, b.RenterID); err != nil {
			logging.L(ctx).Warn("failed to record claim-free completion",
				"booking_id", b.ID, "renter_id", b.RenterID, "error", err)
		}
	}

	metrics.SettlementsTotal.WithLabelValues(trigger).Inc()
	metrics.BookingSettlementDuration.Observe(time.Since(start).Seconds())
	logging.L(ctx).Info("booking settled",
		"booking_id", b.ID,
		"trigger", trigger,
		"damage_cents", damageCents,
		"external_cents", b.ExternalAmountCents)
	s.notify(b.ID, "booking.completed", trigger)
	return b, nil
}

// Cancel cancels an unstarted booking and releases any funds locked for it.
func (s *Service) Cancel(ctx context.Context, bookingID, callerID, reason string) (*Booking, error) {
	mu := s.bookingLock(bookingID)
	mu.Lock()
	defer mu.Unlock()

	b, err := s.store.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	role := b.RoleOf(callerID)
	if role != RoleOwner && role != RoleRenter {
		return nil, ErrNotAllowed
	}
	switch state := DeriveState(b); state {
	case StatePendingPayment, StateConfirmed:
	default:
		return nil, fmt.Errorf("%w: cannot cancel from %s", ErrStateViolation, state)
	}

	for _, pool := range []wallet.Pool{wallet.PoolProtection, wallet.PoolCash} {
		for _, ref := range []string{depositRef(b.ID, string(pool)), rentalRef(b.ID, string(pool))} {
			if err := s.wallet.UnlockFunds(ctx, b.RenterID, ref); err != nil {
				return nil, fmt.Errorf("release %s: %w", ref, err)
			}
		}
	}
	if b.ExternalCaptureRef != "" && s.capturer != nil {
		if err := s.capturer.Refund(ctx, b.ExternalCaptureRef); err != nil {
			logging.L(ctx).Error("cancellation refund failed",
				"booking_id", b.ID, "capture_ref", b.ExternalCaptureRef, "error", err)
		}
	}

	now := time.Now()
	b.Status = StatusCancelled
	b.CancellationReason = reason
	b.CancelledByRole = role
	b.UpdatedAt = now
	if err := s.store.Update(ctx, b); err != nil {
		return nil, err
	}
	logging.L(ctx).Info("booking cancelled",
		"booking_id", b.ID, "by", role, "reason", reason)
	s.notify(b.ID, "booking.cancelled", reason)
	return b, nil
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
