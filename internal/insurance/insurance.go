// Package insurance activates mandatory rental coverage.
//
// Activation talks to an external provider, so it runs under a bounded
// retry policy. When every attempt fails the failure is recorded as a
// critical payment issue for the manual review queue and surfaced to the
// caller, who compensates by cancelling the booking.
package insurance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/autorenta/settlement/internal/idgen"
	"github.com/autorenta/settlement/internal/logging"
	"github.com/autorenta/settlement/internal/metrics"
	"github.com/autorenta/settlement/internal/retry"
)

// ErrActivationFailed is returned when activation is exhausted across all
// retry attempts. The booking must not proceed to CONFIRMED.
var ErrActivationFailed = errors.New("insurance activation failed")

// Issue statuses and severities.
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"

	StatusPendingReview = "pending_review"
	StatusResolved      = "resolved"
)

// Activator is the external insurance provider contract.
type Activator interface {
	// Activate enables coverage for a booking. Implementations should
	// return quickly; the service handles retries.
	Activate(ctx context.Context, bookingID string) error
}

// ActivatorFunc adapts a function to the Activator interface.
type ActivatorFunc func(ctx context.Context, bookingID string) error

func (f ActivatorFunc) Activate(ctx context.Context, bookingID string) error {
	return f(ctx, bookingID)
}

// Issue is a payment problem requiring manual review.
type Issue struct {
	ID         string     `json:"id"`
	BookingID  string     `json:"booking_id"`
	Type       string     `json:"type"`
	Severity   string     `json:"severity"`
	RetryCount int        `json:"retry_count"`
	LastError  string     `json:"last_error"`
	Status     string     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// IssueStore persists payment issues.
type IssueStore interface {
	Create(ctx context.Context, issue *Issue) error
	List(ctx context.Context, status string, limit int) ([]*Issue, error)
	Resolve(ctx context.Context, issueID string) error
}

// IssueNotifier publishes newly recorded payment issues, e.g. to
// websocket subscribers watching the review queue.
type IssueNotifier interface {
	PaymentIssueEvent(issue map[string]any)
}

// Service activates insurance with bounded retries and records failures.
type Service struct {
	activator Activator
	issues    IssueStore
	notifier  IssueNotifier
	attempts  int
	backoff   time.Duration
}

// NewService creates an insurance service. attempts and backoff follow the
// platform policy of 3 tries with 1s/2s/4s spacing.
func NewService(activator Activator, issues IssueStore, attempts int, backoff time.Duration) *Service {
	if attempts <= 0 {
		attempts = 3
	}
	if backoff <= 0 {
		backoff = time.Second
	}
	return &Service{
		activator: activator,
		issues:    issues,
		attempts:  attempts,
		backoff:   backoff,
	}
}

// WithNotifier adds a payment-issue event publisher.
func (s *Service) WithNotifier(n IssueNotifier) *Service {
	s.notifier = n
	return s
}

// Activate enables coverage for a booking, retrying transient failures.
// On exhaustion it records exactly one critical payment issue and returns
// ErrActivationFailed wrapping the last provider error.
func (s *Service) Activate(ctx context.Context, bookingID string) error {
	var attempt int
	var lastErr error

	err := retry.Do(ctx, s.attempts, s.backoff, func() error {
		attempt++
		if err := s.activator.Activate(ctx, bookingID); err != nil {
			lastErr = err
			logging.L(ctx).Warn("insurance activation attempt failed",
				"booking_id", bookingID,
				"attempt", attempt,
				"error", err)
			return err
		}
		return nil
	})

	if err == nil {
		if attempt > 1 {
			metrics.InsuranceActivationsTotal.WithLabelValues("retried_success").Inc()
		} else {
			metrics.InsuranceActivationsTotal.WithLabelValues("success").Inc()
		}
		return nil
	}

	metrics.InsuranceActivationsTotal.WithLabelValues("failed").Inc()

	issue := &Issue{
		ID:         idgen.WithPrefix("iss_"),
		BookingID:  bookingID,
		Type:       "insurance_activation",
		Severity:   SeverityCritical,
		RetryCount: attempt,
		LastError:  errString(lastErr, err),
		Status:     StatusPendingReview,
		CreatedAt:  time.Now(),
	}
	if storeErr := s.issues.Create(ctx, issue); storeErr != nil {
		// The review queue entry is best effort; the hard failure below
		// still stops the booking.
		logging.L(ctx).Error("failed to record payment issue",
			"booking_id", bookingID, "error", storeErr)
	}
	metrics.PaymentIssuesTotal.WithLabelValues(SeverityCritical).Inc()
	if s.notifier != nil {
		s.notifier.PaymentIssueEvent(map[string]any{
			"issue_id":    issue.ID,
			"booking_id":  issue.BookingID,
			"type":        issue.Type,
			"severity":    issue.Severity,
			"retry_count": issue.RetryCount,
		})
	}

	logging.L(ctx).Error("insurance activation exhausted",
		"booking_id", bookingID,
		"attempts", attempt,
		"issue_id", issue.ID)
	return fmt.Errorf("%w after %d attempts: %v", ErrActivationFailed, attempt, err)
}

// ListIssues returns payment issues, optionally filtered by status.
func (s *Service) ListIssues(ctx context.Context, status string, limit int) ([]*Issue, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.issues.List(ctx, status, limit)
}

// ResolveIssue marks a payment issue as handled.
func (s *Service) ResolveIssue(ctx context.Context, issueID string) error {
	return s.issues.Resolve(ctx, issueID)
}

func errString(lastErr, fallback error) string {
	if lastErr != nil {
		return lastErr.Error()
	}
	if fallback != nil {
		return fallback.Error()
	}
	return "unknown error"
}
