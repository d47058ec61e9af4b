package booking

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed booking store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const bookingColumns = `
	id, car_id, owner_id, renter_id, renter_customer_id,
	rental_amount_cents, deposit_amount_cents, external_amount_cents, external_capture_ref,
	status, start_at, end_at,
	picked_up_at, returned_at, inspected_at,
	has_damage, damage_amount_cents, damage_description,
	disputed_at, auto_release_at, funds_released_at,
	cancellation_reason, cancelled_by_role,
	created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, b *Booking) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO bookings (`+bookingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25)
	`, b.ID, b.CarID, b.OwnerID, b.RenterID, b.RenterCustomerID,
		b.RentalAmountCents, b.DepositAmountCents, b.ExternalAmountCents, b.ExternalCaptureRef,
		b.Status, b.StartAt, b.EndAt,
		b.PickedUpAt, b.ReturnedAt, b.InspectedAt,
		b.HasDamage, b.DamageAmountCents, b.DamageDescription,
		b.DisputedAt, b.AutoReleaseAt, b.FundsReleasedAt,
		b.CancellationReason, b.CancelledByRole,
		b.CreatedAt, b.UpdatedAt)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Booking, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+bookingColumns+` FROM bookings WHERE id = $1
	`, id)
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBookingNotFound
	}
	return b, err
}

func (p *PostgresStore) Update(ctx context.Context, b *Booking) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE bookings SET
			renter_customer_id = $2,
			external_amount_cents = $3, external_capture_ref = $4,
			status = $5,
			picked_up_at = $6, returned_at = $7, inspected_at = $8,
			has_damage = $9, damage_amount_cents = $10, damage_description = $11,
			disputed_at = $12, auto_release_at = $13, funds_released_at = $14,
			cancellation_reason = $15, cancelled_by_role = $16,
			updated_at = $17
		WHERE id = $1
	`, b.ID, b.RenterCustomerID,
		b.ExternalAmountCents, b.ExternalCaptureRef,
		b.Status,
		b.PickedUpAt, b.ReturnedAt, b.InspectedAt,
		b.HasDamage, b.DamageAmountCents, b.DamageDescription,
		b.DisputedAt, b.AutoReleaseAt, b.FundsReleasedAt,
		b.CancellationReason, b.CancelledByRole,
		b.UpdatedAt)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrBookingNotFound
	}
	return nil
}

func (p *PostgresStore) ListByAccount(ctx context.Context, accountID string, limit int) ([]*Booking, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE owner_id = $1 OR renter_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectBookings(rows)
}

func (p *PostgresStore) ListAutoReleasable(ctx context.Context, before time.Time, limit int) ([]*Booking, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE auto_release_at IS NOT NULL
		  AND auto_release_at <= $1
		  AND funds_released_at IS NULL
		  AND disputed_at IS NULL
		  AND status <> 'cancelled'
		ORDER BY auto_release_at ASC
		LIMIT $2
	`, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectBookings(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (*Booking, error) {
	b := &Booking{}
	var (
		renterCustomerID, captureRef, damageDesc sql.NullString
		cancelReason, cancelledBy                sql.NullString
		pickedUp, returned, inspected            sql.NullTime
		disputed, autoRelease, released          sql.NullTime
	)
	err := row.Scan(
		&b.ID, &b.CarID, &b.OwnerID, &b.RenterID, &renterCustomerID,
		&b.RentalAmountCents, &b.DepositAmountCents, &b.ExternalAmountCents, &captureRef,
		&b.Status, &b.StartAt, &b.EndAt,
		&pickedUp, &returned, &inspected,
		&b.HasDamage, &b.DamageAmountCents, &damageDesc,
		&disputed, &autoRelease, &released,
		&cancelReason, &cancelledBy,
		&b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.RenterCustomerID = renterCustomerID.String
	b.ExternalCaptureRef = captureRef.String
	b.DamageDescription = damageDesc.String
	b.CancellationReason = cancelReason.String
	b.CancelledByRole = cancelledBy.String
	b.PickedUpAt = timePtr(pickedUp)
	b.ReturnedAt = timePtr(returned)
	b.InspectedAt = timePtr(inspected)
	b.DisputedAt = timePtr(disputed)
	b.AutoReleaseAt = timePtr(autoRelease)
	b.FundsReleasedAt = timePtr(released)
	return b, nil
}

func collectBookings(rows *sql.Rows) ([]*Booking, error) {
	var result []*Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, b)
	}
	return result, rows.Err()
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
