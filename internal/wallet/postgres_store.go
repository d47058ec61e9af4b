package wallet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/autorenta/settlement/internal/idgen"
)

// PostgresStore implements Store with PostgreSQL.
//
// Per-account serialization uses SELECT ... FOR UPDATE NOWAIT on the
// wallet_accounts row: a concurrently held row lock surfaces as Postgres
// error 55P03, which maps to ErrLockConflict. Non-negative balances are
// enforced by CHECK constraints as a second line of defense.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed wallet store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// mapPQError converts row-lock and check-constraint failures into
// package sentinels.
func mapPQError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "55P03": // lock_not_available
			return ErrLockConflict
		case "23514": // check_violation
			return ErrInsufficientFunds
		}
	}
	return err
}

// lockAccountRow takes the row lock for an account without queueing.
func lockAccountRow(ctx context.Context, tx *sql.Tx, accountID string) error {
	var id string
	err := tx.QueryRowContext(ctx, `
		SELECT account_id FROM wallet_accounts
		WHERE account_id = $1
		FOR UPDATE NOWAIT
	`, accountID).Scan(&id)
	if err == sql.ErrNoRows {
		return ErrAccountNotFound
	}
	if err != nil {
		return mapPQError(err)
	}
	return nil
}

func insertEntry(ctx context.Context, tx *sql.Tx, accountID, kind string, amount int64, referenceID, description string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO wallet_entries (id, account_id, kind, amount_cents, reference_id, description, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, NOW())
	`, idgen.New(), accountID, kind, amount, referenceID, description)
	if err != nil {
		return fmt.Errorf("record ledger entry: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetBalance(ctx context.Context, accountID string) (*Balance, error) {
	bal := &Balance{AccountID: accountID}

	err := p.db.QueryRowContext(ctx, `
		SELECT protection_credit_cents, cash_cents, locked_cents,
		       protection_expires_at, claim_free_completions, updated_at
		FROM wallet_accounts WHERE account_id = $1
	`, accountID).Scan(&bal.ProtectionCredit, &bal.Cash, &bal.Locked,
		&bal.ProtectionExpiresAt, &bal.ClaimFreeCompletions, &bal.UpdatedAt)

	if err == sql.ErrNoRows {
		return &Balance{AccountID: accountID, UpdatedAt: time.Now()}, nil
	}
	if err != nil {
		return nil, err
	}
	return bal, nil
}

func (p *PostgresStore) Deposit(ctx context.Context, accountID string, amount int64, description string) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO wallet_accounts (account_id, cash_cents, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (account_id) DO UPDATE SET
			cash_cents = wallet_accounts.cash_cents + $2,
			updated_at = NOW()
	`, accountID, amount)
	if err != nil {
		return fmt.Errorf("credit cash balance: %w", mapPQError(err))
	}

	if err := insertEntry(ctx, tx, accountID, KindDeposit, amount, "", description); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresStore) DepositOnce(ctx context.Context, accountID string, amount int64, referenceID, description string) (bool, error) {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var exists bool
	err = tx.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM wallet_entries
			WHERE kind = $1 AND reference_id = $2
		)
	`, KindDeposit, referenceID).Scan(&exists)
	if err != nil {
		return false, err
	}
	if exists {
		return false, tx.Commit()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO wallet_accounts (account_id, cash_cents, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (account_id) DO UPDATE SET
			cash_cents = wallet_accounts.cash_cents + $2,
			updated_at = NOW()
	`, accountID, amount)
	if err != nil {
		return false, fmt.Errorf("credit cash balance: %w", mapPQError(err))
	}

	if err := insertEntry(ctx, tx, accountID, KindDeposit, amount, referenceID, description); err != nil {
		// A concurrent deposit of the same reference loses on the unique
		// index; the winner already credited the funds.
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return false, nil
		}
		return false, err
	}
	if err := tx.Commit(); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return false, nil
		}
		return false, mapPQError(err)
	}
	return true, nil
}

func (p *PostgresStore) GrantProtectionCredit(ctx context.Context, accountID string, amount int64, expiresAt time.Time) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Expired leftovers are replaced, not stacked.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO wallet_accounts (account_id, protection_credit_cents, protection_expires_at, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (account_id) DO UPDATE SET
			protection_credit_cents = CASE
				WHEN wallet_accounts.protection_expires_at IS NOT NULL
				     AND wallet_accounts.protection_expires_at <= NOW()
				THEN $2
				ELSE wallet_accounts.protection_credit_cents + $2
			END,
			protection_expires_at = $3,
			updated_at = NOW()
	`, accountID, amount, expiresAt)
	if err != nil {
		return fmt.Errorf("grant protection credit: %w", mapPQError(err))
	}

	if err := insertEntry(ctx, tx, accountID, KindCreditRenewal, amount, "", "protection credit granted"); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresStore) Lock(ctx context.Context, accountID string, amount int64, pool Pool, purpose, referenceID string) (*Lock, bool, error) {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	// Bound any residual waiting inside the transaction.
	if _, err := tx.ExecContext(ctx, `SET LOCAL lock_timeout = '2s'`); err != nil {
		return nil, false, err
	}

	// Idempotency check first: an existing reference short-circuits before
	// any balance is touched.
	if existing, err := scanLock(tx.QueryRowContext(ctx, `
		SELECT id, account_id, amount_cents, pool, purpose, reference_id, status, created_at, closed_at
		FROM fund_locks WHERE reference_id = $1
	`, referenceID)); err == nil {
		return existing, true, nil
	} else if err != sql.ErrNoRows {
		return nil, false, err
	}

	if err := lockAccountRow(ctx, tx, accountID); err != nil {
		return nil, false, err
	}

	// Debit the chosen pool; expired protection credit counts as zero.
	var result sql.Result
	if pool == PoolProtection {
		result, err = tx.ExecContext(ctx, `
			UPDATE wallet_accounts SET
				protection_credit_cents = protection_credit_cents - $2,
				locked_cents = locked_cents + $2,
				updated_at = NOW()
			WHERE account_id = $1
			  AND protection_credit_cents >= $2
			  AND (protection_expires_at IS NULL OR protection_expires_at > NOW())
		`, accountID, amount)
	} else {
		result, err = tx.ExecContext(ctx, `
			UPDATE wallet_accounts SET
				cash_cents = cash_cents - $2,
				locked_cents = locked_cents + $2,
				updated_at = NOW()
			WHERE account_id = $1 AND cash_cents >= $2
		`, accountID, amount)
	}
	if err != nil {
		return nil, false, fmt.Errorf("debit pool: %w", mapPQError(err))
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return nil, false, ErrInsufficientFunds
	}

	lock := &Lock{
		ID:          idgen.WithPrefix("lck_"),
		AccountID:   accountID,
		Amount:      amount,
		Pool:        pool,
		Purpose:     purpose,
		ReferenceID: referenceID,
		Status:      LockOpen,
		CreatedAt:   time.Now(),
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO fund_locks (id, account_id, amount_cents, pool, purpose, reference_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
	`, lock.ID, lock.AccountID, lock.Amount, string(lock.Pool), lock.Purpose, lock.ReferenceID, lock.Status)
	if err != nil {
		// A concurrent insert of the same reference loses here on the
		// unique index. Surface it as a transient conflict; the caller's
		// retry finds the winner's row and takes the idempotent path.
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, false, ErrLockConflict
		}
		return nil, false, fmt.Errorf("insert fund lock: %w", err)
	}

	if err := insertEntry(ctx, tx, accountID, KindLock, amount, referenceID, purpose); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, mapPQError(err)
	}
	return lock, false, nil
}

func (p *PostgresStore) Unlock(ctx context.Context, accountID, referenceID, kind string) (bool, error) {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SET LOCAL lock_timeout = '2s'`); err != nil {
		return false, err
	}

	lock, err := scanLock(tx.QueryRowContext(ctx, `
		SELECT id, account_id, amount_cents, pool, purpose, reference_id, status, created_at, closed_at
		FROM fund_locks WHERE reference_id = $1
		FOR UPDATE NOWAIT
	`, referenceID))
	if err == sql.ErrNoRows {
		// Unknown reference: successful no-op for at-least-once callers.
		return false, tx.Commit()
	}
	if err != nil {
		return false, mapPQError(err)
	}
	if !lock.IsOpen() {
		return false, tx.Commit()
	}

	if err := lockAccountRow(ctx, tx, lock.AccountID); err != nil {
		return false, err
	}

	poolColumn := "cash_cents"
	if lock.Pool == PoolProtection {
		poolColumn = "protection_credit_cents"
	}
	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
		UPDATE wallet_accounts SET
			%s = %s + $2,
			locked_cents = locked_cents - $2,
			updated_at = NOW()
		WHERE account_id = $1
	`, poolColumn, poolColumn), lock.AccountID, lock.Amount)
	if err != nil {
		return false, fmt.Errorf("return funds: %w", mapPQError(err))
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE fund_locks SET status = $2, closed_at = NOW() WHERE id = $1
	`, lock.ID, LockReleased)
	if err != nil {
		return false, fmt.Errorf("close lock: %w", err)
	}

	if err := insertEntry(ctx, tx, lock.AccountID, kind, lock.Amount, referenceID, "lock released"); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, mapPQError(err)
	}
	return true, nil
}

func (p *PostgresStore) Settle(ctx context.Context, referenceID string, consume int64, payeeAccountID string) (*Settlement, error) {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SET LOCAL lock_timeout = '2s'`); err != nil {
		return nil, err
	}

	lock, err := scanLock(tx.QueryRowContext(ctx, `
		SELECT id, account_id, amount_cents, pool, purpose, reference_id, status, created_at, closed_at
		FROM fund_locks WHERE reference_id = $1
		FOR UPDATE NOWAIT
	`, referenceID))
	if err == sql.ErrNoRows {
		return nil, ErrLockNotFound
	}
	if err != nil {
		return nil, mapPQError(err)
	}
	if !lock.IsOpen() {
		return nil, ErrLockNotOpen
	}
	if consume > lock.Amount {
		return nil, ErrInsufficientFunds
	}

	if err := lockAccountRow(ctx, tx, lock.AccountID); err != nil {
		return nil, err
	}

	refund := lock.Amount - consume
	poolColumn := "cash_cents"
	if lock.Pool == PoolProtection {
		poolColumn = "protection_credit_cents"
	}

	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
		UPDATE wallet_accounts SET
			locked_cents = locked_cents - $2,
			%s = %s + $3,
			updated_at = NOW()
		WHERE account_id = $1
	`, poolColumn, poolColumn), lock.AccountID, lock.Amount, refund)
	if err != nil {
		return nil, fmt.Errorf("release locked funds: %w", mapPQError(err))
	}

	if consume > 0 {
		if err := insertEntry(ctx, tx, lock.AccountID, KindWaterfallDebit, consume, referenceID, "damage deduction"); err != nil {
			return nil, err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO wallet_accounts (account_id, cash_cents, updated_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (account_id) DO UPDATE SET
				cash_cents = wallet_accounts.cash_cents + $2,
				updated_at = NOW()
		`, payeeAccountID, consume)
		if err != nil {
			return nil, fmt.Errorf("credit payee: %w", mapPQError(err))
		}
		if err := insertEntry(ctx, tx, payeeAccountID, KindRelease, consume, referenceID, "settlement payout"); err != nil {
			return nil, err
		}
	}

	if refund > 0 {
		if err := insertEntry(ctx, tx, lock.AccountID, KindRefund, refund, referenceID, "lock remainder refunded"); err != nil {
			return nil, err
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE fund_locks SET status = $2, closed_at = NOW() WHERE id = $1
	`, lock.ID, LockSettled)
	if err != nil {
		return nil, fmt.Errorf("close lock: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, mapPQError(err)
	}
	return &Settlement{ReferenceID: referenceID, Consumed: consume, Refunded: refund}, nil
}

func (p *PostgresStore) GetLockByReference(ctx context.Context, referenceID string) (*Lock, error) {
	lock, err := scanLock(p.db.QueryRowContext(ctx, `
		SELECT id, account_id, amount_cents, pool, purpose, reference_id, status, created_at, closed_at
		FROM fund_locks WHERE reference_id = $1
	`, referenceID))
	if err == sql.ErrNoRows {
		return nil, ErrLockNotFound
	}
	return lock, err
}

func (p *PostgresStore) GetHistory(ctx context.Context, accountID string, limit int) ([]*Entry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, account_id, kind, amount_cents, COALESCE(reference_id, ''), COALESCE(description, ''), created_at
		FROM wallet_entries
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Kind, &e.Amount, &e.ReferenceID, &e.Description, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (p *PostgresStore) IncrementClaimFree(ctx context.Context, accountID string) (int, error) {
	var count int
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO wallet_accounts (account_id, claim_free_completions, updated_at)
		VALUES ($1, 1, NOW())
		ON CONFLICT (account_id) DO UPDATE SET
			claim_free_completions = wallet_accounts.claim_free_completions + 1,
			updated_at = NOW()
		RETURNING claim_free_completions
	`, accountID).Scan(&count)
	return count, err
}

func (p *PostgresStore) ResetClaimFree(ctx context.Context, accountID string) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE wallet_accounts SET claim_free_completions = 0, updated_at = NOW()
		WHERE account_id = $1
	`, accountID)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLock(row rowScanner) (*Lock, error) {
	l := &Lock{}
	var pool string
	err := row.Scan(&l.ID, &l.AccountID, &l.Amount, &pool, &l.Purpose, &l.ReferenceID, &l.Status, &l.CreatedAt, &l.ClosedAt)
	if err != nil {
		return nil, err
	}
	l.Pool = Pool(pool)
	return l, nil
}
