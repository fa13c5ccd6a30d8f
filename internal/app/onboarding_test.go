package app

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/harvesttable/payout-service/internal/domain"
	"github.com/harvesttable/payout-service/internal/store"
)

type onboardingRepoStub struct {
	store.Repository

	payee             *domain.Payee
	railAccountErr    error
	storedAccountID   string
	storedStatus      domain.ConnectStatus
	flagsStatus       domain.ConnectStatus
	flagsEnabled      bool
	flagsWriteCalls   int
	accountWriteCalls int
}

func (s *onboardingRepoStub) FindPayeeByID(ctx context.Context, payeeID uuid.UUID) (*domain.Payee, error) {
	if s.payee == nil {
		return nil, store.ErrPayeeNotFound
	}
	return s.payee, nil
}

func (s *onboardingRepoStub) UpdatePayeeRailAccount(ctx context.Context, payeeID uuid.UUID, railAccountID string, connectStatus domain.ConnectStatus) error {
	s.accountWriteCalls++
	if s.railAccountErr != nil {
		return s.railAccountErr
	}
	s.storedAccountID = railAccountID
	s.storedStatus = connectStatus
	return nil
}

func (s *onboardingRepoStub) UpdatePayeeConnectFlags(ctx context.Context, payeeID uuid.UUID, connectStatus domain.ConnectStatus, payoutsEnabled bool) error {
	s.flagsWriteCalls++
	s.flagsStatus = connectStatus
	s.flagsEnabled = payoutsEnabled
	return nil
}

func TestProvisionRailAccountStoresAccountID(t *testing.T) {
	repo := &onboardingRepoStub{
		payee: &domain.Payee{ID: uuid.New(), DisplayName: "Farmer Bram"},
	}
	svc := newTestService(repo, newRailStub("trf_none"), &publisherStub{})

	accountID, err := svc.ProvisionRailAccount(context.Background(), repo.payee.ID, "bram@example.com", "US")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if accountID != "acct_stub" {
		t.Fatalf("expected acct_stub, got %q", accountID)
	}
	if repo.storedAccountID != "acct_stub" {
		t.Fatalf("expected account id stored, got %q", repo.storedAccountID)
	}
	if repo.storedStatus != domain.ConnectPending {
		t.Fatalf("expected pending connect status, got %q", repo.storedStatus)
	}
}

func TestProvisionRailAccountIsIdempotent(t *testing.T) {
	existing := "acct_existing"
	repo := &onboardingRepoStub{
		payee: &domain.Payee{ID: uuid.New(), DisplayName: "Farmer Bram", RailAccountID: &existing},
	}
	svc := newTestService(repo, newRailStub("trf_none"), &publisherStub{})

	accountID, err := svc.ProvisionRailAccount(context.Background(), repo.payee.ID, "bram@example.com", "US")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if accountID != "acct_existing" {
		t.Fatalf("expected existing account id, got %q", accountID)
	}
	if repo.accountWriteCalls != 0 {
		t.Fatal("expected no write for already provisioned payee")
	}
}

func TestProvisionRailAccountSurfacesOrphanedAccount(t *testing.T) {
	repo := &onboardingRepoStub{
		payee:          &domain.Payee{ID: uuid.New(), DisplayName: "Farmer Bram"},
		railAccountErr: errors.New("write timeout"),
	}
	svc := newTestService(repo, newRailStub("trf_none"), &publisherStub{})

	accountID, err := svc.ProvisionRailAccount(context.Background(), repo.payee.ID, "bram@example.com", "US")
	if err == nil {
		t.Fatal("expected error when the local write fails")
	}
	if accountID != "acct_stub" {
		t.Fatalf("expected orphaned account id surfaced for manual re-attach, got %q", accountID)
	}
}

func TestCreateOnboardingLinkRequiresProvisioning(t *testing.T) {
	repo := &onboardingRepoStub{
		payee: &domain.Payee{ID: uuid.New(), DisplayName: "Farmer Bram"},
	}
	svc := newTestService(repo, newRailStub("trf_none"), &publisherStub{})

	if _, err := svc.CreateOnboardingLink(context.Background(), repo.payee.ID); !errors.Is(err, ErrPayeeNotProvisioned) {
		t.Fatalf("expected ErrPayeeNotProvisioned, got %v", err)
	}
}

func TestCreateOnboardingLinkReturnsTimeBoxedURL(t *testing.T) {
	accountID := "acct_ok"
	repo := &onboardingRepoStub{
		payee: &domain.Payee{ID: uuid.New(), DisplayName: "Farmer Bram", RailAccountID: &accountID},
	}
	svc := newTestService(repo, newRailStub("trf_none"), &publisherStub{})

	link, err := svc.CreateOnboardingLink(context.Background(), repo.payee.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if link.URL == "" {
		t.Fatal("expected onboarding URL")
	}
	if link.ExpiresAt.IsZero() {
		t.Fatal("expected expiry timestamp")
	}
}

func TestRefreshRailStatusUpdatesCachedFlags(t *testing.T) {
	accountID := "acct_ok"
	repo := &onboardingRepoStub{
		payee: &domain.Payee{ID: uuid.New(), DisplayName: "Farmer Bram", RailAccountID: &accountID},
	}
	rail := newRailStub("trf_none")
	svc := newTestService(repo, rail, &publisherStub{})

	status, err := svc.RefreshRailStatus(context.Background(), repo.payee.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.ConnectStatus != domain.ConnectConnected || !status.PayoutsEnabled {
		t.Fatalf("expected connected status, got %+v", status)
	}
	if repo.flagsWriteCalls != 1 || repo.flagsStatus != domain.ConnectConnected || !repo.flagsEnabled {
		t.Fatalf("expected cached flags refreshed, got calls=%d status=%q enabled=%t", repo.flagsWriteCalls, repo.flagsStatus, repo.flagsEnabled)
	}
}

func TestRefreshRailStatusRestrictedAccount(t *testing.T) {
	accountID := "acct_restricted"
	repo := &onboardingRepoStub{
		payee: &domain.Payee{ID: uuid.New(), DisplayName: "Farmer Bram", RailAccountID: &accountID},
	}
	rail := newRailStub("trf_none")
	rail.payoutsEnabled = false
	svc := newTestService(repo, rail, &publisherStub{})

	status, err := svc.RefreshRailStatus(context.Background(), repo.payee.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.ConnectStatus != domain.ConnectRestricted {
		t.Fatalf("expected restricted status, got %q", status.ConnectStatus)
	}
}
