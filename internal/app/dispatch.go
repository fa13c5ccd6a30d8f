package app

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/harvesttable/payout-service/internal/domain"
)

// TryPayoutsForSubject attempts every unsettled payout of one variant on a
// subject. Attempts run concurrently and independently: one payee's blocker or
// rail failure never prevents another payee from being paid. Safe to invoke
// concurrently with itself; the ledger's unique constraint arbitrates races.
func (s *Service) TryPayoutsForSubject(ctx context.Context, variant domain.PayoutVariant, subjectID uuid.UUID) ([]domain.SubjectPayoutResult, error) {
	if _, err := rulesFor(variant); err != nil {
		return nil, err
	}

	assignments, err := s.repo.ListPendingAssignmentsBySubject(ctx, variant, subjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending assignments: %w", err)
	}
	if len(assignments) == 0 {
		return []domain.SubjectPayoutResult{}, nil
	}

	results := make([]domain.SubjectPayoutResult, len(assignments))

	var wg sync.WaitGroup
	for i, assignment := range assignments {
		wg.Add(1)
		go func(i int, assignment domain.Assignment) {
			defer wg.Done()
			results[i] = domain.SubjectPayoutResult{
				AssignmentID: assignment.ID,
				PayeeID:      assignment.PayeeID,
				Result:       s.TryPayout(ctx, variant, assignment.ID, nil),
			}
		}(i, assignment)
	}
	wg.Wait()

	created, blocked, failed := 0, 0, 0
	for _, r := range results {
		switch {
		case r.Result.PayoutCreated:
			created++
		case len(r.Result.Blockers) > 0:
			blocked++
		case !r.Result.Success:
			failed++
		}
	}
	log.Printf("level=info component=service flow=dispatch msg=\"bulk payout dispatch finished\" variant=%s subject_id=%s total=%d created=%d blocked=%d failed=%d", variant, subjectID, len(results), created, blocked, failed)

	return results, nil
}
