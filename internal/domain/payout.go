/**
 * @description
 * This file defines the core domain models for the payout-service.
 * These structs represent the entities the reconciliation engine operates on:
 * the subject money is owed for, the payee receiving it, the assignment that
 * anchors one payout, and the ledger entry that makes settlement idempotent.
 *
 * @notes
 * - Amounts are stored as `int64` in cents to avoid floating-point
 *   inaccuracies with financial data.
 * - Nullable columns are represented as pointer fields; a nil timestamp means
 *   the gating event has not happened yet.
 */

package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PayoutVariant selects which flavor of payout an assignment settles.
type PayoutVariant string

const (
	VariantChef        PayoutVariant = "chef"
	VariantFarmer      PayoutVariant = "farmer"
	VariantIngredient  PayoutVariant = "ingredient"
	VariantCooperative PayoutVariant = "cooperative"
)

// ParseVariant validates an externally supplied variant string (e.g. a URL segment).
func ParseVariant(raw string) (PayoutVariant, error) {
	switch PayoutVariant(raw) {
	case VariantChef, VariantFarmer, VariantIngredient, VariantCooperative:
		return PayoutVariant(raw), nil
	}
	return "", fmt.Errorf("unknown payout variant %q", raw)
}

// ConnectStatus mirrors the payment rail's view of a payee's destination account.
type ConnectStatus string

const (
	ConnectNotConnected ConnectStatus = "not_connected"
	ConnectPending      ConnectStatus = "pending"
	ConnectConnected    ConnectStatus = "connected"
	ConnectRestricted   ConnectStatus = "restricted"
)

// Payout lifecycle statuses shared by assignments and ledger entries.
// `paid` is terminal; `failed` is retryable by re-invoking the orchestrator.
const (
	StatusPending = "pending"
	StatusOnHold  = "on_hold"
	StatusPaid    = "paid"
	StatusFailed  = "failed"
	StatusBlocked = "blocked"
)

// Fulfillment statuses accepted by the ingredient variant's delivery gate.
const (
	FulfillmentDelivered = "delivered"
	FulfillmentConfirmed = "confirmed"
)

// Subject is the booking or cooperative period that money is owed for.
// PayoutStatus and PayoutBlockers are denormalized for UI display only;
// the ledger is the source of truth on any disagreement.
type Subject struct {
	ID               uuid.UUID  `json:"id" db:"id"`
	TotalAmountCents int64      `json:"total_amount_cents" db:"total_amount_cents"`
	QuoteTotalCents  int64      `json:"quote_total_cents" db:"quote_total_cents"`
	Region           string     `json:"region" db:"region"`
	FullyPaidAt      *time.Time `json:"fully_paid_at,omitempty" db:"fully_paid_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	PayoutHold       bool       `json:"payout_hold" db:"payout_hold"`
	HoldReason       *string    `json:"hold_reason,omitempty" db:"hold_reason"`
	PayoutStatus     string     `json:"payout_status" db:"payout_status"`
	PayoutBlockers   []string   `json:"payout_blockers,omitempty" db:"payout_blockers"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`
}

// Payee is the chef, farmer, or cooperative member receiving funds.
// PayoutsEnabled is a cached flag and may lag the rail; eligibility
// re-validates it against a live rail query before money moves.
type Payee struct {
	ID             uuid.UUID     `json:"id" db:"id"`
	DisplayName    string        `json:"display_name" db:"display_name"`
	RailAccountID  *string       `json:"rail_account_id,omitempty" db:"rail_account_id"`
	ConnectStatus  ConnectStatus `json:"connect_status" db:"connect_status"`
	PayoutsEnabled bool          `json:"payouts_enabled" db:"payouts_enabled"`
	SharePercent   float64       `json:"share_percent" db:"share_percent"`
	CreatedAt      time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at" db:"updated_at"`
}

// Assignment is the join entity that anchors one payout of a payee on a subject.
// Its status may lag the ledger; a non-nil TransferID implies settlement was attempted.
type Assignment struct {
	ID                uuid.UUID     `json:"id" db:"id"`
	Variant           PayoutVariant `json:"variant" db:"variant"`
	SubjectID         uuid.UUID     `json:"subject_id" db:"subject_id"`
	PayeeID           uuid.UUID     `json:"payee_id" db:"payee_id"`
	AmountCents       int64         `json:"amount_cents" db:"amount_cents"`
	BasePayCents      int64         `json:"base_pay_cents" db:"base_pay_cents"`
	BonusCents        int64         `json:"bonus_cents" db:"bonus_cents"`
	RateMultiplier    float64       `json:"rate_multiplier" db:"rate_multiplier"`
	SurgeMultiplier   float64       `json:"surge_multiplier" db:"surge_multiplier"`
	FulfillmentStatus *string       `json:"fulfillment_status,omitempty" db:"fulfillment_status"`
	Status            string        `json:"status" db:"status"`
	Blockers          []string      `json:"blockers,omitempty" db:"blockers"`
	TransferID        *string       `json:"transfer_id,omitempty" db:"transfer_id"`
	FailureReason     *string       `json:"failure_reason,omitempty" db:"failure_reason"`
	PaidAt            *time.Time    `json:"paid_at,omitempty" db:"paid_at"`
	CreatedAt         time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at" db:"updated_at"`
}

// LedgerEntry is the authoritative idempotency record for one (variant, subject,
// payee) payout. At most one entry exists per key; it is written before the rail
// transfer so a crash leaves a recoverable `pending` row, never an untracked transfer.
type LedgerEntry struct {
	ID            uuid.UUID     `json:"id" db:"id"`
	Variant       PayoutVariant `json:"variant" db:"variant"`
	SubjectID     uuid.UUID     `json:"subject_id" db:"subject_id"`
	PayeeID       uuid.UUID     `json:"payee_id" db:"payee_id"`
	AmountCents   int64         `json:"amount_cents" db:"amount_cents"`
	Status        string        `json:"status" db:"status"`
	TransferID    *string       `json:"transfer_id,omitempty" db:"transfer_id"`
	FailureReason *string       `json:"failure_reason,omitempty" db:"failure_reason"`
	PaidAt        *time.Time    `json:"paid_at,omitempty" db:"paid_at"`
	CreatedAt     time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at" db:"updated_at"`
}

// Settled reports whether the entry has reached its terminal paid state.
func (e *LedgerEntry) Settled() bool {
	return e != nil && e.Status == StatusPaid
}

// Override is an authorized bypass of a failing margin guardrail check.
// Its presence never skips the audit trail: every use is recorded.
type Override struct {
	UserID string  `json:"user_id"`
	Reason *string `json:"reason,omitempty"`
}

// MarginOverrideAudit records who bypassed a failing margin check, when, and why.
type MarginOverrideAudit struct {
	ID           uuid.UUID     `json:"id" db:"id"`
	Variant      PayoutVariant `json:"variant" db:"variant"`
	AssignmentID uuid.UUID     `json:"assignment_id" db:"assignment_id"`
	UserID       string        `json:"user_id" db:"user_id"`
	Reason       *string       `json:"reason,omitempty" db:"reason"`
	FailReasons  []string      `json:"fail_reasons" db:"fail_reasons"`
	CreatedAt    time.Time     `json:"created_at" db:"created_at"`
}

// PayoutResult is the structured outcome of one orchestrator run.
// Blockers are expected, user-actionable conditions and are reported with
// Success=true; Error carries fatal or transient failure detail. NotFound
// marks the target assignment as nonexistent so the transport layer can map
// it without parsing the error text.
type PayoutResult struct {
	Success       bool     `json:"success"`
	PayoutCreated bool     `json:"payout_created"`
	NotFound      bool     `json:"-"`
	TransferID    *string  `json:"transfer_id,omitempty"`
	Blockers      []string `json:"blockers,omitempty"`
	Error         string   `json:"error,omitempty"`
}

// SubjectPayoutResult pairs one assignment with its orchestrator outcome
// inside a bulk dispatch run.
type SubjectPayoutResult struct {
	AssignmentID uuid.UUID    `json:"assignment_id"`
	PayeeID      uuid.UUID    `json:"payee_id"`
	Result       PayoutResult `json:"result"`
}

// CooperativeMember carries the share-calculation inputs and output for one
// active member of the cooperative.
type CooperativeMember struct {
	ID                 uuid.UUID `json:"id" db:"id"`
	DisplayName        string    `json:"display_name" db:"display_name"`
	Active             bool      `json:"active" db:"active"`
	ImpactScore        float64   `json:"impact_score" db:"impact_score"`
	PayoutSharePercent float64   `json:"payout_share_percent" db:"payout_share_percent"`
}

// OnboardingLink is a time-boxed URL the payee uses to complete rail onboarding.
type OnboardingLink struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RailAccountStatus is the normalized view of a payee's account on the rail.
type RailAccountStatus struct {
	ConnectStatus    ConnectStatus `json:"connect_status"`
	DetailsSubmitted bool          `json:"details_submitted"`
	ChargesEnabled   bool          `json:"charges_enabled"`
	PayoutsEnabled   bool          `json:"payouts_enabled"`
}
