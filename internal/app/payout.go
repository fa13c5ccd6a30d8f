package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/harvesttable/payout-service/internal/domain"
	"github.com/harvesttable/payout-service/internal/guardrail"
	"github.com/harvesttable/payout-service/internal/store"
)

// gateState is the explicit outcome of the pre-transfer evaluation phase.
// Modeling it as a tagged value (instead of a chain of early returns) keeps
// every transition and its blockers independently testable.
type gateState int

const (
	gateProceed gateState = iota
	gateAlreadySettled
	gateOnHold
	gateBlocked
)

// gateDecision pairs a gate state with the evidence behind it.
type gateDecision struct {
	state      gateState
	blockers   []string
	transferID *string
}

// preconditionBlockers evaluates the variant's gating conditions against the
// subject and assignment. It is pure: unmet preconditions are reported, never
// persisted, because "not yet ready" is not a payout attempt.
func preconditionBlockers(rules variantRules, subject *domain.Subject, assignment *domain.Assignment) []string {
	var blockers []string

	if rules.requiresCompletion && subject.CompletedAt == nil {
		blockers = append(blockers, fmt.Sprintf("The %s is not marked complete yet", rules.subjectNoun))
	}
	if rules.requiresFullPayment && subject.FullyPaidAt == nil {
		blockers = append(blockers, fmt.Sprintf("The %s is not fully paid yet", rules.subjectNoun))
	}
	if rules.requiresFulfillment {
		if assignment.FulfillmentStatus == nil {
			blockers = append(blockers, "Ingredient delivery has not been recorded yet")
		} else if *assignment.FulfillmentStatus != domain.FulfillmentDelivered && *assignment.FulfillmentStatus != domain.FulfillmentConfirmed {
			blockers = append(blockers, fmt.Sprintf("Ingredient delivery status %q is not accepted for payout", *assignment.FulfillmentStatus))
		}
	}

	return blockers
}

// evaluateGates runs the settle-check, hold-check, and precondition phases of
// the orchestrator against already-loaded records.
func evaluateGates(rules variantRules, assignment *domain.Assignment, subject *domain.Subject) gateDecision {
	if assignment.Status == domain.StatusPaid || assignment.TransferID != nil {
		return gateDecision{state: gateAlreadySettled, transferID: assignment.TransferID}
	}

	if subject.PayoutHold {
		reason := fmt.Sprintf("The %s is on an explicit payout hold", rules.subjectNoun)
		if subject.HoldReason != nil && *subject.HoldReason != "" {
			reason = fmt.Sprintf("The %s is on an explicit payout hold: %s", rules.subjectNoun, *subject.HoldReason)
		}
		return gateDecision{state: gateOnHold, blockers: []string{reason}}
	}

	if blockers := preconditionBlockers(rules, subject, assignment); len(blockers) > 0 {
		return gateDecision{state: gateBlocked, blockers: blockers}
	}

	return gateDecision{state: gateProceed}
}

// TryPayout is the single entry point of the payout state machine. It decides,
// idempotently, whether money should move for one assignment and records the
// decision durably. Blockers are expected conditions and report success with
// PayoutCreated=false; only fatal or transient failures set Success=false.
//
// The at-most-once guarantee rests on two rules: an assignment or ledger row
// that already shows paid (or carries a transfer id) short-circuits to a no-op,
// and the pending ledger row is inserted under a unique constraint before the
// rail is ever called.
func (s *Service) TryPayout(ctx context.Context, variant domain.PayoutVariant, assignmentID uuid.UUID, override *domain.Override) domain.PayoutResult {
	rules, err := rulesFor(variant)
	if err != nil {
		return domain.PayoutResult{Error: err.Error()}
	}

	assignment, err := s.repo.FindAssignmentByID(ctx, variant, assignmentID)
	if err != nil {
		if err == store.ErrAssignmentNotFound {
			return domain.PayoutResult{NotFound: true, Error: fmt.Sprintf("payout assignment %s not found", assignmentID)}
		}
		return domain.PayoutResult{Error: fmt.Sprintf("failed to load assignment: %v", err)}
	}

	// The ledger outranks the assignment's denormalized status: a settled
	// entry means a previous run already paid, even if the assignment write
	// was lost. Reconcile and report the idempotent no-op.
	entry, err := s.repo.FindLedgerEntry(ctx, variant, assignment.SubjectID, assignment.PayeeID)
	if err != nil && err != store.ErrLedgerEntryNotFound {
		return domain.PayoutResult{Error: fmt.Sprintf("failed to load payout ledger entry: %v", err)}
	}
	if entry.Settled() {
		return s.reconcileSettled(ctx, assignment, entry)
	}

	subject, err := s.repo.FindSubjectByID(ctx, assignment.SubjectID)
	if err != nil {
		return domain.PayoutResult{Error: fmt.Sprintf("failed to load %s: %v", rules.subjectNoun, err)}
	}

	decision := evaluateGates(rules, assignment, subject)
	switch decision.state {
	case gateAlreadySettled:
		return domain.PayoutResult{
			Success:    true,
			TransferID: decision.transferID,
			Error:      "payout already completed",
		}
	case gateOnHold, gateBlocked:
		// Hold and unmet preconditions are reported without state changes:
		// neither constitutes a payout attempt.
		return domain.PayoutResult{Success: true, Blockers: decision.blockers}
	}

	payee, err := s.repo.FindPayeeByID(ctx, assignment.PayeeID)
	if err != nil {
		return domain.PayoutResult{Error: fmt.Sprintf("failed to load payee: %v", err)}
	}

	if blockers := s.resolvePayeeEligibility(ctx, payee, rules); len(blockers) > 0 {
		s.persistBlockers(ctx, assignment, blockers)
		return domain.PayoutResult{Success: true, Blockers: blockers}
	}

	if subject.QuoteTotalCents > 0 {
		checkResult := guardrail.Check(guardrail.Input{
			SubjectTotalCents: subject.TotalAmountCents,
			BasePayCents:      assignment.BasePayCents,
			BonusCents:        assignment.BonusCents,
			RateMultiplier:    assignment.RateMultiplier,
			SurgeMultiplier:   assignment.SurgeMultiplier,
			JobValueCents:     subject.QuoteTotalCents,
			Region:            subject.Region,
		}, s.guardrailPolicy)
		if !checkResult.Pass {
			if override == nil {
				s.persistBlockers(ctx, assignment, checkResult.FailReasons)
				return domain.PayoutResult{Success: true, Blockers: checkResult.FailReasons}
			}
			// An override must leave an audit trail before anything proceeds.
			// If the audit write fails the payout blocks: never bypass silently.
			audit := &domain.MarginOverrideAudit{
				ID:           uuid.New(),
				Variant:      variant,
				AssignmentID: assignment.ID,
				UserID:       override.UserID,
				Reason:       override.Reason,
				FailReasons:  checkResult.FailReasons,
			}
			if auditErr := s.repo.RecordMarginOverrideAudit(ctx, audit); auditErr != nil {
				log.Printf("level=error component=service flow=payout msg=\"margin override audit write failed; blocking payout\" assignment_id=%s user_id=%s err=%v", assignment.ID, override.UserID, auditErr)
				return domain.PayoutResult{Error: fmt.Sprintf("failed to record margin override audit: %v", auditErr)}
			}
			log.Printf("level=warn component=service flow=payout msg=\"margin guardrail overridden\" assignment_id=%s user_id=%s reasons=%q", assignment.ID, override.UserID, checkResult.FailReasons)
		}
	}

	if assignment.AmountCents <= 0 {
		// A non-positive amount is an upstream computation bug, not a blocker.
		return domain.PayoutResult{Error: fmt.Sprintf("computed payout amount %d is not positive", assignment.AmountCents)}
	}

	// Ledger insert happens-before the rail call. A crash from here on leaves
	// a recoverable pending row, never an untracked transfer.
	if entry == nil {
		entry = &domain.LedgerEntry{
			ID:          uuid.New(),
			Variant:     variant,
			SubjectID:   assignment.SubjectID,
			PayeeID:     assignment.PayeeID,
			AmountCents: assignment.AmountCents,
		}
		if insertErr := s.repo.CreatePendingLedgerEntry(ctx, entry); insertErr != nil {
			if insertErr != store.ErrLedgerEntryExists {
				return domain.PayoutResult{Error: fmt.Sprintf("failed to create payout ledger entry: %v", insertErr)}
			}
			// A concurrent run won the insert. Defer to its row.
			existing, fetchErr := s.repo.FindLedgerEntry(ctx, variant, assignment.SubjectID, assignment.PayeeID)
			if fetchErr != nil {
				return domain.PayoutResult{Error: fmt.Sprintf("failed to load concurrent payout ledger entry: %v", fetchErr)}
			}
			if existing.Settled() {
				return s.reconcileSettled(ctx, assignment, existing)
			}
			entry = existing
		}
	}

	// The amount was fixed at ledger-creation time; later edits to the subject
	// never change what an in-flight payout transfers.
	transferResp, transferErr := s.rail.CreateTransfer(ctx, *payee.RailAccountID, entry.AmountCents, transferDescription(rules, assignment.SubjectID))
	if transferErr != nil {
		failureReason := fmt.Sprintf("rail transfer failed: %v", transferErr)
		if markErr := s.repo.MarkLedgerEntryFailed(ctx, entry.ID, failureReason); markErr != nil {
			log.Printf("level=error component=service flow=payout msg=\"failed to mark ledger entry failed\" ledger_id=%s err=%v", entry.ID, markErr)
		}
		if markErr := s.repo.MarkAssignmentFailed(ctx, variant, assignment.ID, failureReason); markErr != nil {
			log.Printf("level=warn component=service flow=payout msg=\"failed to mark assignment failed\" assignment_id=%s err=%v", assignment.ID, markErr)
		}
		s.publishPayoutEvent(ctx, domain.PayoutEventFailed, assignment, entry.AmountCents, "", nil, failureReason)
		return domain.PayoutResult{Error: failureReason}
	}

	transferID := transferResp.Data.TransferID
	paidAt := time.Now().UTC()

	if markErr := s.repo.MarkLedgerEntryPaid(ctx, entry.ID, transferID, paidAt); markErr != nil {
		// The transfer exists but the settle write failed. The row is left
		// pending on purpose: an automatic retry here could double-pay, so
		// this needs operator attention rather than re-invocation.
		log.Printf("level=error component=service flow=payout msg=\"transfer created but ledger settle write failed; manual reconciliation required\" ledger_id=%s transfer_id=%s err=%v", entry.ID, transferID, markErr)
		return domain.PayoutResult{
			TransferID: &transferID,
			Error:      fmt.Sprintf("transfer %s created but ledger update failed: %v", transferID, markErr),
		}
	}

	// Denormalized writes after the ledger settle; if either is lost, the
	// settled-entry reconciliation heals them on the next invocation.
	if markErr := s.repo.MarkAssignmentPaid(ctx, variant, assignment.ID, transferID, paidAt); markErr != nil {
		log.Printf("level=warn component=service flow=payout msg=\"failed to mark assignment paid; will reconcile on next run\" assignment_id=%s err=%v", assignment.ID, markErr)
	}
	if statusErr := s.repo.SetSubjectPayoutStatus(ctx, assignment.SubjectID, domain.StatusPaid, nil); statusErr != nil {
		log.Printf("level=warn component=service flow=payout msg=\"failed to update subject payout status\" subject_id=%s err=%v", assignment.SubjectID, statusErr)
	}

	s.publishPayoutEvent(ctx, domain.PayoutEventSettled, assignment, entry.AmountCents, transferID, nil, "")
	log.Printf("level=info component=service flow=payout msg=\"payout settled\" variant=%s assignment_id=%s transfer_id=%s amount_cents=%d", variant, assignment.ID, transferID, entry.AmountCents)

	return domain.PayoutResult{
		Success:       true,
		PayoutCreated: true,
		TransferID:    &transferID,
	}
}

// reconcileSettled handles the branch where the ledger already shows paid:
// the denormalized assignment and subject rows are healed to agree with it,
// and the caller receives the idempotent no-op result.
func (s *Service) reconcileSettled(ctx context.Context, assignment *domain.Assignment, entry *domain.LedgerEntry) domain.PayoutResult {
	transferID := ""
	if entry.TransferID != nil {
		transferID = *entry.TransferID
	}

	if assignment.Status != domain.StatusPaid || assignment.TransferID == nil {
		paidAt := time.Now().UTC()
		if entry.PaidAt != nil {
			paidAt = *entry.PaidAt
		}
		if err := s.repo.MarkAssignmentPaid(ctx, assignment.Variant, assignment.ID, transferID, paidAt); err != nil {
			log.Printf("level=warn component=service flow=payout msg=\"failed to reconcile assignment with settled ledger entry\" assignment_id=%s err=%v", assignment.ID, err)
		}
		if err := s.repo.SetSubjectPayoutStatus(ctx, assignment.SubjectID, domain.StatusPaid, nil); err != nil {
			log.Printf("level=warn component=service flow=payout msg=\"failed to reconcile subject with settled ledger entry\" subject_id=%s err=%v", assignment.SubjectID, err)
		}
		log.Printf("level=info component=service flow=payout msg=\"reconciled denormalized rows with settled ledger entry\" assignment_id=%s transfer_id=%s", assignment.ID, transferID)
	}

	return domain.PayoutResult{
		Success:    true,
		TransferID: entry.TransferID,
		Error:      "payout already completed",
	}
}

// persistBlockers writes the blocker checklist onto the assignment and subject
// so the admin console can display every outstanding reason.
func (s *Service) persistBlockers(ctx context.Context, assignment *domain.Assignment, blockers []string) {
	if err := s.repo.UpdateAssignmentBlockers(ctx, assignment.Variant, assignment.ID, domain.StatusOnHold, blockers); err != nil {
		log.Printf("level=warn component=service flow=payout msg=\"failed to persist assignment blockers\" assignment_id=%s err=%v", assignment.ID, err)
	}
	if err := s.repo.SetSubjectPayoutStatus(ctx, assignment.SubjectID, domain.StatusBlocked, blockers); err != nil {
		log.Printf("level=warn component=service flow=payout msg=\"failed to persist subject blockers\" subject_id=%s err=%v", assignment.SubjectID, err)
	}
	s.publishPayoutEvent(ctx, domain.PayoutEventBlocked, assignment, assignment.AmountCents, "", blockers, "")
}

// publishPayoutEvent emits a payout lifecycle event. Publishing is best-effort;
// a broker outage never changes a settlement decision.
func (s *Service) publishPayoutEvent(ctx context.Context, eventType string, assignment *domain.Assignment, amountCents int64, transferID string, blockers []string, failure string) {
	if s.eventProducer == nil {
		return
	}
	event := domain.PayoutEvent{
		EventID:      uuid.New(),
		EventType:    eventType,
		Variant:      assignment.Variant,
		SubjectID:    assignment.SubjectID,
		PayeeID:      assignment.PayeeID,
		AssignmentID: assignment.ID,
		AmountCents:  amountCents,
		TransferID:   transferID,
		Blockers:     blockers,
		Failure:      failure,
		OccurredAt:   time.Now().UTC(),
	}
	if err := s.eventProducer.Publish(ctx, s.eventExchange, eventType, event); err != nil {
		log.Printf("level=warn component=service flow=payout msg=\"failed to publish payout event\" event_type=%s assignment_id=%s err=%v", eventType, assignment.ID, err)
	}
}
