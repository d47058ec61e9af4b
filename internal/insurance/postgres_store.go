package insurance

import (
	"context"
	"database/sql"
)

// PostgresIssueStore implements IssueStore with PostgreSQL.
type PostgresIssueStore struct {
	db *sql.DB
}

// NewPostgresIssueStore creates a new PostgreSQL-backed issue store.
func NewPostgresIssueStore(db *sql.DB) *PostgresIssueStore {
	return &PostgresIssueStore{db: db}
}

func (p *PostgresIssueStore) Create(ctx context.Context, issue *Issue) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO payment_issues (id, booking_id, type, severity, retry_count, last_error, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, issue.ID, issue.BookingID, issue.Type, issue.Severity,
		issue.RetryCount, issue.LastError, issue.Status, issue.CreatedAt)
	return err
}

func (p *PostgresIssueStore) List(ctx context.Context, status string, limit int) ([]*Issue, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, booking_id, type, severity, retry_count, last_error, status, created_at, resolved_at
		FROM payment_issues
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var issues []*Issue
	for rows.Next() {
		issue := &Issue{}
		if err := rows.Scan(&issue.ID, &issue.BookingID, &issue.Type, &issue.Severity,
			&issue.RetryCount, &issue.LastError, &issue.Status, &issue.CreatedAt, &issue.ResolvedAt); err != nil {
			return nil, err
		}
		issues = append(issues, issue)
	}
	return issues, rows.Err()
}

func (p *PostgresIssueStore) Resolve(ctx context.Context, issueID string) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE payment_issues SET status = $2, resolved_at = NOW()
		WHERE id = $1
	`, issueID, StatusResolved)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrIssueNotFound
	}
	return nil
}
