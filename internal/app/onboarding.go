package app

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/harvesttable/payout-service/internal/domain"
	"github.com/harvesttable/payout-service/pkg/railclient"
)

// ErrPayeeNotProvisioned is returned when an onboarding operation needs a rail
// account that has not been created for the payee yet.
var ErrPayeeNotProvisioned = errors.New("payee has no rail account")

// ProvisionRailAccount creates a connected account on the payment rail for the
// payee and stores the resulting account id. Calling it again for an already
// provisioned payee is a no-op that returns the existing account id.
func (s *Service) ProvisionRailAccount(ctx context.Context, payeeID uuid.UUID, email, country string) (string, error) {
	payee, err := s.repo.FindPayeeByID(ctx, payeeID)
	if err != nil {
		return "", fmt.Errorf("failed to load payee: %w", err)
	}
	if payee.RailAccountID != nil && *payee.RailAccountID != "" {
		return *payee.RailAccountID, nil
	}

	resp, err := s.rail.CreateAccount(ctx, railclient.AccountIdentity{
		DisplayName:    payee.DisplayName,
		Email:          email,
		Country:        country,
		PayeeReference: payee.ID.String(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to provision rail account: %w", err)
	}

	accountID := resp.Data.AccountID
	if err := s.repo.UpdatePayeeRailAccount(ctx, payee.ID, accountID, domain.ConnectPending); err != nil {
		// The rail account exists but the local write failed. The id is
		// surfaced so an operator can re-attach it instead of provisioning
		// a duplicate account.
		log.Printf("level=error component=service flow=onboarding msg=\"rail account created but local write failed\" payee_id=%s rail_account_id=%s err=%v", payee.ID, accountID, err)
		return accountID, fmt.Errorf("rail account %s created but could not be stored: %w", accountID, err)
	}

	log.Printf("level=info component=service flow=onboarding msg=\"rail account provisioned\" payee_id=%s rail_account_id=%s", payee.ID, accountID)
	return accountID, nil
}

// CreateOnboardingLink generates a fresh time-boxed URL for the payee to
// complete (or resume) rail onboarding. The payee must be provisioned first.
func (s *Service) CreateOnboardingLink(ctx context.Context, payeeID uuid.UUID) (*domain.OnboardingLink, error) {
	payee, err := s.repo.FindPayeeByID(ctx, payeeID)
	if err != nil {
		return nil, fmt.Errorf("failed to load payee: %w", err)
	}
	if payee.RailAccountID == nil || *payee.RailAccountID == "" {
		return nil, ErrPayeeNotProvisioned
	}

	resp, err := s.rail.CreateOnboardingLink(ctx, *payee.RailAccountID, s.onboardingReturnURL, s.onboardingRefreshURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create onboarding link: %w", err)
	}

	return &domain.OnboardingLink{
		URL:       resp.Data.URL,
		ExpiresAt: resp.Data.ExpiresAt,
	}, nil
}

// RefreshRailStatus re-queries the rail for the payee's account state and
// updates the cached connect flags. It is the handler behind the onboarding
// return URL and the periodic status sweep.
func (s *Service) RefreshRailStatus(ctx context.Context, payeeID uuid.UUID) (*domain.RailAccountStatus, error) {
	payee, err := s.repo.FindPayeeByID(ctx, payeeID)
	if err != nil {
		return nil, fmt.Errorf("failed to load payee: %w", err)
	}
	if payee.RailAccountID == nil || *payee.RailAccountID == "" {
		return nil, ErrPayeeNotProvisioned
	}

	resp, err := s.rail.GetAccountStatus(ctx, *payee.RailAccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch rail account status: %w", err)
	}

	status := &domain.RailAccountStatus{
		ConnectStatus:    domain.ConnectStatus(resp.ConnectStatus()),
		DetailsSubmitted: resp.Data.DetailsSubmitted,
		ChargesEnabled:   resp.Data.ChargesEnabled,
		PayoutsEnabled:   resp.Data.PayoutsEnabled,
	}

	if err := s.repo.UpdatePayeeConnectFlags(ctx, payee.ID, status.ConnectStatus, status.PayoutsEnabled); err != nil {
		return nil, fmt.Errorf("failed to store refreshed connect flags: %w", err)
	}

	log.Printf("level=info component=service flow=onboarding msg=\"rail status refreshed\" payee_id=%s connect_status=%s payouts_enabled=%t", payee.ID, status.ConnectStatus, status.PayoutsEnabled)
	return status, nil
}
