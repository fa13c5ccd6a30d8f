package app

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/harvesttable/payout-service/internal/domain"
	"github.com/harvesttable/payout-service/pkg/railclient"
)

// resolvePayeeEligibility determines whether a payee's rail account can legally
// receive funds. Every applicable check runs and accumulates into the blockers
// list so the admin sees all reasons at once, not just the first. An empty
// list means the payee is eligible.
//
// The cached connect flags on the payee row can be stale, so a passing cache
// is always double-checked against a live rail query before money moves.
func (s *Service) resolvePayeeEligibility(ctx context.Context, payee *domain.Payee, rules variantRules) []string {
	var blockers []string

	if payee.RailAccountID == nil || *payee.RailAccountID == "" {
		blockers = append(blockers, fmt.Sprintf("%s has no connected payout account", rules.payeeNoun))
		// Without an account id there is nothing to query the rail about.
		return blockers
	}

	if payee.ConnectStatus != domain.ConnectConnected {
		blockers = append(blockers, fmt.Sprintf("%s's payout account is not fully connected (status: %s)", rules.payeeNoun, payee.ConnectStatus))
	}
	if !payee.PayoutsEnabled {
		blockers = append(blockers, fmt.Sprintf("Payouts are not enabled on %s's account", rules.payeeNoun))
	}

	status, err := s.rail.GetAccountStatus(ctx, *payee.RailAccountID)
	if err != nil {
		if errors.Is(err, railclient.ErrRailUnavailable) {
			blockers = append(blockers, "Payment rail is not configured; payouts are disabled")
			return blockers
		}
		log.Printf("level=warn component=service flow=eligibility msg=\"live rail status check failed\" payee_id=%s err=%v", payee.ID, err)
		blockers = append(blockers, fmt.Sprintf("Could not verify %s's account with the payment rail: %v", rules.payeeNoun, err))
		return blockers
	}

	if !status.Data.PayoutsEnabled {
		blockers = append(blockers, fmt.Sprintf("Payment rail reports payouts disabled for %s's account", rules.payeeNoun))
	}

	// Opportunistically refresh the cached flags whenever the live answer
	// disagrees with them; a refresh failure never blocks the payout decision.
	liveStatus := domain.ConnectStatus(status.ConnectStatus())
	if liveStatus != payee.ConnectStatus || status.Data.PayoutsEnabled != payee.PayoutsEnabled {
		if refreshErr := s.repo.UpdatePayeeConnectFlags(ctx, payee.ID, liveStatus, status.Data.PayoutsEnabled); refreshErr != nil {
			log.Printf("level=warn component=service flow=eligibility msg=\"failed to refresh cached connect flags\" payee_id=%s err=%v", payee.ID, refreshErr)
		}
	}

	return blockers
}
