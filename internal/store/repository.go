/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the payout-service. By defining an interface,
 * we decouple the orchestrator's business logic from the specific database
 * implementation (e.g., PostgreSQL), making the code more modular and easier to test.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/harvesttable/payout-service/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Assignment, subject, and payee reads
	FindAssignmentByID(ctx context.Context, variant domain.PayoutVariant, assignmentID uuid.UUID) (*domain.Assignment, error)
	FindSubjectByID(ctx context.Context, subjectID uuid.UUID) (*domain.Subject, error)
	FindPayeeByID(ctx context.Context, payeeID uuid.UUID) (*domain.Payee, error)
	ListPendingAssignmentsBySubject(ctx context.Context, variant domain.PayoutVariant, subjectID uuid.UUID) ([]domain.Assignment, error)

	// Payout ledger: the authoritative idempotency record. CreatePendingLedgerEntry
	// returns ErrLedgerEntryExists when the (variant, subject, payee) row already
	// exists; the caller fetches the winner's row and defers to it.
	FindLedgerEntry(ctx context.Context, variant domain.PayoutVariant, subjectID, payeeID uuid.UUID) (*domain.LedgerEntry, error)
	CreatePendingLedgerEntry(ctx context.Context, entry *domain.LedgerEntry) error
	MarkLedgerEntryPaid(ctx context.Context, entryID uuid.UUID, transferID string, paidAt time.Time) error
	MarkLedgerEntryFailed(ctx context.Context, entryID uuid.UUID, failureReason string) error

	// Denormalized assignment/subject status (UI cache; ledger is truth)
	MarkAssignmentPaid(ctx context.Context, variant domain.PayoutVariant, assignmentID uuid.UUID, transferID string, paidAt time.Time) error
	MarkAssignmentFailed(ctx context.Context, variant domain.PayoutVariant, assignmentID uuid.UUID, failureReason string) error
	UpdateAssignmentBlockers(ctx context.Context, variant domain.PayoutVariant, assignmentID uuid.UUID, status string, blockers []string) error
	SetSubjectPayoutStatus(ctx context.Context, subjectID uuid.UUID, status string, blockers []string) error

	// Payee rail account state
	UpdatePayeeRailAccount(ctx context.Context, payeeID uuid.UUID, railAccountID string, connectStatus domain.ConnectStatus) error
	UpdatePayeeConnectFlags(ctx context.Context, payeeID uuid.UUID, connectStatus domain.ConnectStatus, payoutsEnabled bool) error

	// Margin override audit trail
	RecordMarginOverrideAudit(ctx context.Context, audit *domain.MarginOverrideAudit) error

	// Cooperative share calculation
	ListActiveCooperativeMembers(ctx context.Context) ([]domain.CooperativeMember, error)
	UpdateCooperativeShares(ctx context.Context, shares map[uuid.UUID]float64) error
}
