package domain

import (
	"time"

	"github.com/google/uuid"
)

// PayoutEvent is the message published for payout lifecycle updates so the
// notification side of the platform can inform admins and payees.
type PayoutEvent struct {
	EventID      uuid.UUID     `json:"event_id"`
	EventType    string        `json:"event_type"` // payout.settled, payout.failed, payout.blocked
	Variant      PayoutVariant `json:"variant"`
	SubjectID    uuid.UUID     `json:"subject_id"`
	PayeeID      uuid.UUID     `json:"payee_id"`
	AssignmentID uuid.UUID     `json:"assignment_id"`
	AmountCents  int64         `json:"amount_cents"`
	TransferID   string        `json:"transfer_id,omitempty"`
	Blockers     []string      `json:"blockers,omitempty"`
	Failure      string        `json:"failure,omitempty"`
	OccurredAt   time.Time     `json:"occurred_at"`
}

const (
	PayoutEventSettled = "payout.settled"
	PayoutEventFailed  = "payout.failed"
	PayoutEventBlocked = "payout.blocked"
)
