package contract

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// PostgresStore implements Store with PostgreSQL. Clause maps are stored
// as JSONB so new clauses can ship without a migration.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed acceptance store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Put(ctx context.Context, a *Acceptance) error {
	clauses, err := json.Marshal(a.Clauses)
	if err != nil {
		return fmt.Errorf("encode clauses: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO contract_acceptances (booking_id, accepted_by, clauses, accepted_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (booking_id) DO UPDATE SET
			accepted_by = $2,
			clauses = $3,
			accepted_at = $4
	`, a.BookingID, a.AcceptedBy, clauses, a.AcceptedAt)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, bookingID string) (*Acceptance, error) {
	a := &Acceptance{BookingID: bookingID}
	var clauses []byte

	err := p.db.QueryRowContext(ctx, `
		SELECT accepted_by, clauses, accepted_at
		FROM contract_acceptances WHERE booking_id = $1
	`, bookingID).Scan(&a.AcceptedBy, &clauses, &a.AcceptedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(clauses, &a.Clauses); err != nil {
		return nil, fmt.Errorf("decode clauses: %w", err)
	}
	return a, nil
}
