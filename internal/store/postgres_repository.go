/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all the necessary SQL queries to interact with the database tables
 * related to payout subjects, payees, assignments, the payout ledger, and the
 * margin override audit trail.
 *
 * The payout ledger carries a UNIQUE (variant, subject_id, payee_id) constraint;
 * it is the sole concurrency-safety mechanism for at-most-once transfer creation.
 * Insert races surface as a unique violation which is mapped to ErrLedgerEntryExists
 * so callers can fetch the winning row and defer to it.
 *
 * @dependencies
 * - context, time, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/harvesttable/payout-service/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrSubjectNotFound     = errors.New("payout subject not found")
	ErrPayeeNotFound       = errors.New("payee not found")
	ErrAssignmentNotFound  = errors.New("payout assignment not found")
	ErrLedgerEntryNotFound = errors.New("payout ledger entry not found")
	ErrLedgerEntryExists   = errors.New("payout ledger entry already exists for this subject and payee")
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// encodeBlockers serializes a blocker list for a jsonb column. A nil or empty
// list is stored as an empty JSON array so scans never see SQL NULL.
func encodeBlockers(blockers []string) ([]byte, error) {
	if len(blockers) == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal(blockers)
}

// decodeBlockers deserializes a jsonb blocker column, tolerating NULL.
func decodeBlockers(raw []byte) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var blockers []string
	if err := json.Unmarshal(raw, &blockers); err != nil {
		return nil, fmt.Errorf("failed to decode blockers column: %w", err)
	}
	if len(blockers) == 0 {
		return nil, nil
	}
	return blockers, nil
}

const assignmentColumns = `
	id, variant, subject_id, payee_id, amount_cents, base_pay_cents, bonus_cents,
	rate_multiplier, surge_multiplier, fulfillment_status, status, blockers,
	transfer_id, failure_reason, paid_at, created_at, updated_at
`

func scanAssignment(row pgx.Row) (*domain.Assignment, error) {
	var assignment domain.Assignment
	var rawBlockers []byte
	err := row.Scan(
		&assignment.ID,
		&assignment.Variant,
		&assignment.SubjectID,
		&assignment.PayeeID,
		&assignment.AmountCents,
		&assignment.BasePayCents,
		&assignment.BonusCents,
		&assignment.RateMultiplier,
		&assignment.SurgeMultiplier,
		&assignment.FulfillmentStatus,
		&assignment.Status,
		&rawBlockers,
		&assignment.TransferID,
		&assignment.FailureReason,
		&assignment.PaidAt,
		&assignment.CreatedAt,
		&assignment.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	assignment.Blockers, err = decodeBlockers(rawBlockers)
	if err != nil {
		return nil, err
	}
	return &assignment, nil
}

// FindAssignmentByID retrieves one payout assignment for the given variant.
func (r *PostgresRepository) FindAssignmentByID(ctx context.Context, variant domain.PayoutVariant, assignmentID uuid.UUID) (*domain.Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM payout_assignments WHERE id = $1 AND variant = $2`
	assignment, err := scanAssignment(r.db.QueryRow(ctx, query, assignmentID, variant))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAssignmentNotFound
		}
		return nil, err
	}
	return assignment, nil
}

// ListPendingAssignmentsBySubject returns every assignment on a subject that is
// still awaiting settlement (pending or on hold with blockers to re-check).
func (r *PostgresRepository) ListPendingAssignmentsBySubject(ctx context.Context, variant domain.PayoutVariant, subjectID uuid.UUID) ([]domain.Assignment, error) {
	query := `
		SELECT ` + assignmentColumns + `
		FROM payout_assignments
		WHERE subject_id = $1 AND variant = $2 AND status IN ($3, $4)
		ORDER BY created_at ASC
	`
	rows, err := r.db.Query(ctx, query, subjectID, variant, domain.StatusPending, domain.StatusOnHold)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assignments []domain.Assignment
	for rows.Next() {
		assignment, scanErr := scanAssignment(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		assignments = append(assignments, *assignment)
	}
	return assignments, rows.Err()
}

// FindSubjectByID retrieves the booking or cooperative period money is owed for.
func (r *PostgresRepository) FindSubjectByID(ctx context.Context, subjectID uuid.UUID) (*domain.Subject, error) {
	var subject domain.Subject
	var rawBlockers []byte
	query := `
		SELECT id, total_amount_cents, quote_total_cents, region, fully_paid_at, completed_at,
		       payout_hold, hold_reason, payout_status, payout_blockers, created_at, updated_at
		FROM payout_subjects
		WHERE id = $1
	`
	err := r.db.QueryRow(ctx, query, subjectID).Scan(
		&subject.ID,
		&subject.TotalAmountCents,
		&subject.QuoteTotalCents,
		&subject.Region,
		&subject.FullyPaidAt,
		&subject.CompletedAt,
		&subject.PayoutHold,
		&subject.HoldReason,
		&subject.PayoutStatus,
		&rawBlockers,
		&subject.CreatedAt,
		&subject.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrSubjectNotFound
		}
		return nil, err
	}
	subject.PayoutBlockers, err = decodeBlockers(rawBlockers)
	if err != nil {
		return nil, err
	}
	return &subject, nil
}

// FindPayeeByID retrieves a payee with their cached rail connect state.
func (r *PostgresRepository) FindPayeeByID(ctx context.Context, payeeID uuid.UUID) (*domain.Payee, error) {
	var payee domain.Payee
	query := `
		SELECT id, display_name, rail_account_id, connect_status, payouts_enabled, share_percent, created_at, updated_at
		FROM payees
		WHERE id = $1
	`
	err := r.db.QueryRow(ctx, query, payeeID).Scan(
		&payee.ID,
		&payee.DisplayName,
		&payee.RailAccountID,
		&payee.ConnectStatus,
		&payee.PayoutsEnabled,
		&payee.SharePercent,
		&payee.CreatedAt,
		&payee.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrPayeeNotFound
		}
		return nil, err
	}
	return &payee, nil
}

// FindLedgerEntry retrieves the ledger row for one (variant, subject, payee) key.
func (r *PostgresRepository) FindLedgerEntry(ctx context.Context, variant domain.PayoutVariant, subjectID, payeeID uuid.UUID) (*domain.LedgerEntry, error) {
	var entry domain.LedgerEntry
	query := `
		SELECT id, variant, subject_id, payee_id, amount_cents, status, transfer_id, failure_reason, paid_at, created_at, updated_at
		FROM payout_ledger
		WHERE variant = $1 AND subject_id = $2 AND payee_id = $3
	`
	err := r.db.QueryRow(ctx, query, variant, subjectID, payeeID).Scan(
		&entry.ID,
		&entry.Variant,
		&entry.SubjectID,
		&entry.PayeeID,
		&entry.AmountCents,
		&entry.Status,
		&entry.TransferID,
		&entry.FailureReason,
		&entry.PaidAt,
		&entry.CreatedAt,
		&entry.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrLedgerEntryNotFound
		}
		return nil, err
	}
	return &entry, nil
}

// CreatePendingLedgerEntry inserts the `pending` ledger row that must exist
// before any transfer call. The UNIQUE (variant, subject_id, payee_id)
// constraint resolves concurrent inserts: losers receive ErrLedgerEntryExists.
func (r *PostgresRepository) CreatePendingLedgerEntry(ctx context.Context, entry *domain.LedgerEntry) error {
	query := `
		INSERT INTO payout_ledger (id, variant, subject_id, payee_id, amount_cents, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		entry.ID,
		entry.Variant,
		entry.SubjectID,
		entry.PayeeID,
		entry.AmountCents,
		domain.StatusPending,
	).Scan(&entry.CreatedAt, &entry.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrLedgerEntryExists
		}
		return err
	}
	entry.Status = domain.StatusPending
	return nil
}

// MarkLedgerEntryPaid promotes a ledger row to its terminal paid state. The
// status guard means a row that already reached `paid` is never rewritten, so
// the stored amount and transfer id are immutable from that point on.
func (r *PostgresRepository) MarkLedgerEntryPaid(ctx context.Context, entryID uuid.UUID, transferID string, paidAt time.Time) error {
	query := `
		UPDATE payout_ledger
		SET status = $2, transfer_id = $3, failure_reason = NULL, paid_at = $4, updated_at = now()
		WHERE id = $1 AND status <> $2
	`
	_, err := r.db.Exec(ctx, query, entryID, domain.StatusPaid, transferID, paidAt)
	return err
}

// MarkLedgerEntryFailed records a transfer failure on a pending row. Paid rows
// are never demoted.
func (r *PostgresRepository) MarkLedgerEntryFailed(ctx context.Context, entryID uuid.UUID, failureReason string) error {
	query := `
		UPDATE payout_ledger
		SET status = $2, failure_reason = $3, updated_at = now()
		WHERE id = $1 AND status <> $4
	`
	_, err := r.db.Exec(ctx, query, entryID, domain.StatusFailed, failureReason, domain.StatusPaid)
	return err
}

// MarkAssignmentPaid updates the denormalized assignment row after settlement.
func (r *PostgresRepository) MarkAssignmentPaid(ctx context.Context, variant domain.PayoutVariant, assignmentID uuid.UUID, transferID string, paidAt time.Time) error {
	query := `
		UPDATE payout_assignments
		SET status = $3, transfer_id = $4, blockers = '[]'::jsonb, failure_reason = NULL, paid_at = $5, updated_at = now()
		WHERE id = $1 AND variant = $2
	`
	_, err := r.db.Exec(ctx, query, assignmentID, variant, domain.StatusPaid, transferID, paidAt)
	return err
}

// MarkAssignmentFailed records a retryable transfer failure on the assignment.
func (r *PostgresRepository) MarkAssignmentFailed(ctx context.Context, variant domain.PayoutVariant, assignmentID uuid.UUID, failureReason string) error {
	query := `
		UPDATE payout_assignments
		SET status = $3, failure_reason = $4, updated_at = now()
		WHERE id = $1 AND variant = $2 AND status <> $5
	`
	_, err := r.db.Exec(ctx, query, assignmentID, variant, domain.StatusFailed, failureReason, domain.StatusPaid)
	return err
}

// UpdateAssignmentBlockers persists the blocker checklist for admin display.
func (r *PostgresRepository) UpdateAssignmentBlockers(ctx context.Context, variant domain.PayoutVariant, assignmentID uuid.UUID, status string, blockers []string) error {
	encoded, err := encodeBlockers(blockers)
	if err != nil {
		return err
	}
	query := `
		UPDATE payout_assignments
		SET status = $3, blockers = $4, updated_at = now()
		WHERE id = $1 AND variant = $2 AND status <> $5
	`
	_, err = r.db.Exec(ctx, query, assignmentID, variant, status, encoded, domain.StatusPaid)
	return err
}

// SetSubjectPayoutStatus refreshes the subject's denormalized payout summary.
func (r *PostgresRepository) SetSubjectPayoutStatus(ctx context.Context, subjectID uuid.UUID, status string, blockers []string) error {
	encoded, err := encodeBlockers(blockers)
	if err != nil {
		return err
	}
	query := `
		UPDATE payout_subjects
		SET payout_status = $2, payout_blockers = $3, updated_at = now()
		WHERE id = $1
	`
	_, err = r.db.Exec(ctx, query, subjectID, status, encoded)
	return err
}

// UpdatePayeeRailAccount stores a freshly provisioned rail account id.
func (r *PostgresRepository) UpdatePayeeRailAccount(ctx context.Context, payeeID uuid.UUID, railAccountID string, connectStatus domain.ConnectStatus) error {
	query := `
		UPDATE payees
		SET rail_account_id = $2, connect_status = $3, updated_at = now()
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, payeeID, railAccountID, connectStatus)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPayeeNotFound
	}
	return nil
}

// UpdatePayeeConnectFlags refreshes the cached connect status and payouts flag
// from a live rail query.
func (r *PostgresRepository) UpdatePayeeConnectFlags(ctx context.Context, payeeID uuid.UUID, connectStatus domain.ConnectStatus, payoutsEnabled bool) error {
	query := `
		UPDATE payees
		SET connect_status = $2, payouts_enabled = $3, updated_at = now()
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, payeeID, connectStatus, payoutsEnabled)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPayeeNotFound
	}
	return nil
}

// RecordMarginOverrideAudit appends one row to the override audit trail.
// Audit rows are append-only; there is no update or delete path.
func (r *PostgresRepository) RecordMarginOverrideAudit(ctx context.Context, audit *domain.MarginOverrideAudit) error {
	encoded, err := encodeBlockers(audit.FailReasons)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO margin_override_audits (id, variant, assignment_id, user_id, reason, fail_reasons, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		RETURNING created_at
	`
	return r.db.QueryRow(ctx, query,
		audit.ID,
		audit.Variant,
		audit.AssignmentID,
		audit.UserID,
		audit.Reason,
		encoded,
	).Scan(&audit.CreatedAt)
}

// ListActiveCooperativeMembers returns the inputs for a share recalculation.
func (r *PostgresRepository) ListActiveCooperativeMembers(ctx context.Context) ([]domain.CooperativeMember, error) {
	query := `
		SELECT id, display_name, active, impact_score, payout_share_percent
		FROM cooperative_members
		WHERE active = TRUE
		ORDER BY id ASC
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []domain.CooperativeMember
	for rows.Next() {
		var member domain.CooperativeMember
		if err := rows.Scan(&member.ID, &member.DisplayName, &member.Active, &member.ImpactScore, &member.PayoutSharePercent); err != nil {
			return nil, err
		}
		members = append(members, member)
	}
	return members, rows.Err()
}

// UpdateCooperativeShares persists the normalized share percentages in one batch.
func (r *PostgresRepository) UpdateCooperativeShares(ctx context.Context, shares map[uuid.UUID]float64) error {
	if len(shares) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for memberID, share := range shares {
		batch.Queue(
			`UPDATE cooperative_members SET payout_share_percent = $2, updated_at = now() WHERE id = $1`,
			memberID, share,
		)
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()
	for range shares {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to persist cooperative share: %w", err)
		}
	}
	return nil
}
