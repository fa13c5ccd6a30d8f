package app

import (
	"context"
	"fmt"
	"log"
	"math"

	"github.com/google/uuid"
	"github.com/harvesttable/payout-service/internal/domain"
)

// NormalizeShares converts impact scores into payout share percentages that
// sum to exactly 100. Shares are proportional to score; members with an
// all-zero score list split evenly. Rounding residue is absorbed by the
// largest share so small holders are never rounded below their entitlement.
// Pure function; negative scores count as zero.
func NormalizeShares(scores []float64) []float64 {
	if len(scores) == 0 {
		return []float64{}
	}

	total := 0.0
	for _, score := range scores {
		if score > 0 {
			total += score
		}
	}

	shares := make([]float64, len(scores))
	if total == 0 {
		equal := math.Round(100.0/float64(len(scores))*100) / 100
		for i := range shares {
			shares[i] = equal
		}
	} else {
		for i, score := range scores {
			if score > 0 {
				shares[i] = math.Round(score/total*100*100) / 100
			}
		}
	}

	sum := 0.0
	largest := 0
	for i, share := range shares {
		sum += share
		if share > shares[largest] {
			largest = i
		}
	}
	if residual := 100.0 - sum; residual != 0 {
		shares[largest] = math.Round((shares[largest]+residual)*100) / 100
	}

	return shares
}

// CalculatePayoutShares recomputes every active cooperative member's payout
// share from their current impact score and persists the result in one batch.
// Members whose share already matches within the configured epsilon are
// skipped to keep the write set minimal.
func (s *Service) CalculatePayoutShares(ctx context.Context) ([]domain.CooperativeMember, error) {
	members, err := s.repo.ListActiveCooperativeMembers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active cooperative members: %w", err)
	}
	if len(members) == 0 {
		return []domain.CooperativeMember{}, nil
	}

	scores := make([]float64, len(members))
	for i, member := range members {
		scores[i] = member.ImpactScore
	}
	shares := NormalizeShares(scores)

	updates := make(map[uuid.UUID]float64, len(members))
	for i := range members {
		if math.Abs(members[i].PayoutSharePercent-shares[i]) > s.shareEpsilonPercent {
			updates[members[i].ID] = shares[i]
		}
		members[i].PayoutSharePercent = shares[i]
	}

	if len(updates) > 0 {
		if err := s.repo.UpdateCooperativeShares(ctx, updates); err != nil {
			return nil, fmt.Errorf("failed to persist cooperative shares: %w", err)
		}
	}
	log.Printf("level=info component=service flow=shares msg=\"cooperative shares recalculated\" members=%d updated=%d", len(members), len(updates))

	return members, nil
}
