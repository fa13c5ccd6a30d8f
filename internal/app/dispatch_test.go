package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/harvesttable/payout-service/internal/domain"
	"github.com/harvesttable/payout-service/internal/store"
)

// dispatchRepoStub serves a subject with several payees. Per-assignment state
// is keyed by assignment id so concurrent orchestrator runs stay isolated.
type dispatchRepoStub struct {
	store.Repository

	mu          sync.Mutex
	subject     *domain.Subject
	assignments []domain.Assignment
	payees      map[uuid.UUID]*domain.Payee
	ledgers     map[uuid.UUID]*domain.LedgerEntry
	paid        map[uuid.UUID]bool
}

func (s *dispatchRepoStub) ListPendingAssignmentsBySubject(ctx context.Context, variant domain.PayoutVariant, subjectID uuid.UUID) ([]domain.Assignment, error) {
	return s.assignments, nil
}

func (s *dispatchRepoStub) FindAssignmentByID(ctx context.Context, variant domain.PayoutVariant, assignmentID uuid.UUID) (*domain.Assignment, error) {
	for i := range s.assignments {
		if s.assignments[i].ID == assignmentID {
			copied := s.assignments[i]
			return &copied, nil
		}
	}
	return nil, store.ErrAssignmentNotFound
}

func (s *dispatchRepoStub) FindSubjectByID(ctx context.Context, subjectID uuid.UUID) (*domain.Subject, error) {
	return s.subject, nil
}

func (s *dispatchRepoStub) FindPayeeByID(ctx context.Context, payeeID uuid.UUID) (*domain.Payee, error) {
	payee, ok := s.payees[payeeID]
	if !ok {
		return nil, store.ErrPayeeNotFound
	}
	return payee, nil
}

func (s *dispatchRepoStub) FindLedgerEntry(ctx context.Context, variant domain.PayoutVariant, subjectID, payeeID uuid.UUID) (*domain.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.ledgers[payeeID]
	if !ok {
		return nil, store.ErrLedgerEntryNotFound
	}
	return entry, nil
}

func (s *dispatchRepoStub) CreatePendingLedgerEntry(ctx context.Context, entry *domain.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ledgers[entry.PayeeID]; ok {
		return store.ErrLedgerEntryExists
	}
	entry.Status = domain.StatusPending
	s.ledgers[entry.PayeeID] = entry
	return nil
}

func (s *dispatchRepoStub) MarkLedgerEntryPaid(ctx context.Context, entryID uuid.UUID, transferID string, paidAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range s.ledgers {
		if entry.ID == entryID && entry.Status != domain.StatusPaid {
			entry.Status = domain.StatusPaid
			entry.TransferID = &transferID
		}
	}
	return nil
}

func (s *dispatchRepoStub) MarkLedgerEntryFailed(ctx context.Context, entryID uuid.UUID, failureReason string) error {
	return nil
}

func (s *dispatchRepoStub) MarkAssignmentPaid(ctx context.Context, variant domain.PayoutVariant, assignmentID uuid.UUID, transferID string, paidAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paid[assignmentID] = true
	return nil
}

func (s *dispatchRepoStub) MarkAssignmentFailed(ctx context.Context, variant domain.PayoutVariant, assignmentID uuid.UUID, failureReason string) error {
	return nil
}

func (s *dispatchRepoStub) UpdateAssignmentBlockers(ctx context.Context, variant domain.PayoutVariant, assignmentID uuid.UUID, status string, blockers []string) error {
	return nil
}

func (s *dispatchRepoStub) SetSubjectPayoutStatus(ctx context.Context, subjectID uuid.UUID, status string, blockers []string) error {
	return nil
}

func (s *dispatchRepoStub) UpdatePayeeConnectFlags(ctx context.Context, payeeID uuid.UUID, connectStatus domain.ConnectStatus, payoutsEnabled bool) error {
	return nil
}

func dispatchFixture() *dispatchRepoStub {
	now := time.Now().UTC()
	subjectID := uuid.New()

	connectedAccount := "acct_farmer_ok"
	connected := &domain.Payee{
		ID:             uuid.New(),
		DisplayName:    "Farmer Okafor",
		RailAccountID:  &connectedAccount,
		ConnectStatus:  domain.ConnectConnected,
		PayoutsEnabled: true,
	}
	unconnected := &domain.Payee{
		ID:          uuid.New(),
		DisplayName: "Farmer Bram",
	}

	return &dispatchRepoStub{
		subject: &domain.Subject{
			ID:               subjectID,
			TotalAmountCents: 300000,
			Region:           "US",
			FullyPaidAt:      &now,
			CompletedAt:      &now,
		},
		assignments: []domain.Assignment{
			{
				ID:             uuid.New(),
				Variant:        domain.VariantFarmer,
				SubjectID:      subjectID,
				PayeeID:        connected.ID,
				AmountCents:    60000,
				RateMultiplier: 1.0,
				Status:         domain.StatusPending,
			},
			{
				ID:             uuid.New(),
				Variant:        domain.VariantFarmer,
				SubjectID:      subjectID,
				PayeeID:        unconnected.ID,
				AmountCents:    40000,
				RateMultiplier: 1.0,
				Status:         domain.StatusPending,
			},
		},
		payees: map[uuid.UUID]*domain.Payee{
			connected.ID:   connected,
			unconnected.ID: unconnected,
		},
		ledgers: map[uuid.UUID]*domain.LedgerEntry{},
		paid:    map[uuid.UUID]bool{},
	}
}

func TestTryPayoutsForSubjectIsolatesFailures(t *testing.T) {
	repo := dispatchFixture()
	rail := newRailStub("trf_bulk")
	svc := newTestService(repo, rail, &publisherStub{})

	results, err := svc.TryPayoutsForSubject(context.Background(), domain.VariantFarmer, repo.subject.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}

	byAssignment := map[uuid.UUID]domain.PayoutResult{}
	for _, r := range results {
		byAssignment[r.AssignmentID] = r.Result
	}

	paidResult := byAssignment[repo.assignments[0].ID]
	if !paidResult.PayoutCreated {
		t.Fatalf("expected connected farmer to be paid, got %+v", paidResult)
	}
	blockedResult := byAssignment[repo.assignments[1].ID]
	if blockedResult.PayoutCreated || !blockedResult.Success {
		t.Fatalf("expected unconnected farmer blocked, got %+v", blockedResult)
	}
	if len(blockedResult.Blockers) == 0 {
		t.Fatal("expected blockers for the unconnected farmer")
	}
	if rail.transferCalls != 1 {
		t.Fatalf("expected exactly 1 transfer, got %d", rail.transferCalls)
	}
}

func TestTryPayoutsForSubjectEmptySubject(t *testing.T) {
	repo := dispatchFixture()
	repo.assignments = nil
	svc := newTestService(repo, newRailStub("trf_none"), &publisherStub{})

	results, err := svc.TryPayoutsForSubject(context.Background(), domain.VariantFarmer, repo.subject.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected empty result set, got %d", len(results))
	}
}

func TestTryPayoutsForSubjectRejectsUnknownVariant(t *testing.T) {
	repo := dispatchFixture()
	svc := newTestService(repo, newRailStub("trf_none"), &publisherStub{})

	if _, err := svc.TryPayoutsForSubject(context.Background(), domain.PayoutVariant("courier"), repo.subject.ID); err == nil {
		t.Fatal("expected error for unknown variant")
	}
}

func TestTryPayoutsForSubjectConcurrentDispatchKeepsSingleLedgerRow(t *testing.T) {
	repo := dispatchFixture()
	rail := newRailStub("trf_once")
	svc := newTestService(repo, rail, &publisherStub{})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.TryPayoutsForSubject(context.Background(), domain.VariantFarmer, repo.subject.ID); err != nil {
				t.Errorf("dispatch failed: %v", err)
			}
		}()
	}
	wg.Wait()

	// The ledger's uniqueness arbitration means concurrent dispatches may
	// observe each other mid-flight, but only one pending row per payee can
	// ever exist, so the connected farmer holds at most one settled entry.
	entry := repo.ledgers[repo.assignments[0].PayeeID]
	if entry == nil || entry.Status != domain.StatusPaid {
		t.Fatalf("expected one settled entry for connected farmer, got %+v", entry)
	}
	if len(repo.ledgers) != 1 {
		t.Fatalf("expected exactly one ledger row, got %d", len(repo.ledgers))
	}
}
