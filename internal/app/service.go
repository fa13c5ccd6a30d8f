/**
 * @description
 * This file contains the core business logic for the payout-service. The `Service`
 * struct orchestrates all payout reconciliation operations, coordinating between
 * the database repository, the payment rail client, and the message broker.
 *
 * Key features:
 * - Implements the payout orchestrator: one state machine parameterized by
 *   variant (chef, farmer, ingredient, cooperative) instead of four copies.
 * - Guarantees at-most-once transfer creation through the payout ledger's
 *   unique constraint; the ledger write always happens before the rail call.
 * - Publishes payout lifecycle events to RabbitMQ for asynchronous processing
 *   by the notification side of the platform.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation.
 * - internal/domain, internal/store, internal/guardrail: domain models, data access, margin policy.
 * - pkg/railclient, pkg/rabbitmq: For external service communication.
 */

package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/harvesttable/payout-service/internal/domain"
	"github.com/harvesttable/payout-service/internal/guardrail"
	"github.com/harvesttable/payout-service/internal/store"
	"github.com/harvesttable/payout-service/pkg/rabbitmq"
	"github.com/harvesttable/payout-service/pkg/railclient"
)

// RailClient is the subset of the payment rail API the service depends on.
// *railclient.Client satisfies it; tests substitute a stub.
type RailClient interface {
	Configured() bool
	CreateAccount(ctx context.Context, identity railclient.AccountIdentity) (*railclient.AccountResponse, error)
	CreateOnboardingLink(ctx context.Context, accountID, returnURL, refreshURL string) (*railclient.OnboardingLinkResponse, error)
	GetAccountStatus(ctx context.Context, accountID string) (*railclient.AccountStatusResponse, error)
	CreateTransfer(ctx context.Context, accountID string, amountCents int64, description string) (*railclient.TransferResponse, error)
}

// Service provides the core business logic for payout reconciliation.
type Service struct {
	repo                 store.Repository
	rail                 RailClient
	eventProducer        rabbitmq.Publisher
	eventExchange        string
	guardrailPolicy      guardrail.Policy
	onboardingReturnURL  string
	onboardingRefreshURL string
	shareEpsilonPercent  float64
	retryLimiter         RetryRateLimiter
	retryLimitPerMin     int
}

// RetryRateLimiter counts attempts against a fixed window. *RedisRetryRateLimiter
// satisfies it; tests substitute a stub.
type RetryRateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// SetRetryRateLimiter enables distributed throttling of manual payout retries.
func (s *Service) SetRetryRateLimiter(limiter RetryRateLimiter, perMinute int) {
	s.retryLimiter = limiter
	s.retryLimitPerMin = perMinute
}

// ConsumeRetryBudget counts one manual retry by the acting admin and reports
// whether it exceeded the per-minute budget. Limiter failures fail open: a
// Redis outage must never stop an operator from unsticking a payout.
func (s *Service) ConsumeRetryBudget(ctx context.Context, adminID string) (allowed bool, retryAfterSeconds int) {
	if s.retryLimiter == nil || s.retryLimitPerMin <= 0 {
		return true, 0
	}
	count, retryAfter, err := s.retryLimiter.ConsumeRateLimit(ctx, "payout_retry", adminID, s.retryLimitPerMin, time.Minute)
	if err != nil {
		log.Printf("level=warn component=service flow=retry msg=\"rate limiter unavailable; failing open\" admin_id=%s err=%v", adminID, err)
		return true, 0
	}
	if count > s.retryLimitPerMin {
		return false, retryAfter
	}
	return true, 0
}

// ServiceOptions carries the configuration the service needs beyond its collaborators.
type ServiceOptions struct {
	EventExchange        string
	GuardrailPolicy      guardrail.Policy
	OnboardingReturnURL  string
	OnboardingRefreshURL string
	ShareEpsilonPercent  float64
}

// NewService creates a new payout service instance.
func NewService(repo store.Repository, rail RailClient, producer rabbitmq.Publisher, opts ServiceOptions) *Service {
	if opts.EventExchange == "" {
		opts.EventExchange = "harvesttable.events"
	}
	if opts.ShareEpsilonPercent <= 0 {
		opts.ShareEpsilonPercent = 0.01
	}
	return &Service{
		repo:                 repo,
		rail:                 rail,
		eventProducer:        producer,
		eventExchange:        opts.EventExchange,
		guardrailPolicy:      opts.GuardrailPolicy,
		onboardingReturnURL:  opts.OnboardingReturnURL,
		onboardingRefreshURL: opts.OnboardingRefreshURL,
		shareEpsilonPercent:  opts.ShareEpsilonPercent,
	}
}

// variantRules captures what differs between the payout variants: the noun used
// in blocker messages and which precondition gates apply before money moves.
type variantRules struct {
	payeeNoun           string
	subjectNoun         string
	requiresCompletion  bool
	requiresFullPayment bool
	requiresFulfillment bool
}

var rulesByVariant = map[domain.PayoutVariant]variantRules{
	domain.VariantChef: {
		payeeNoun:           "Chef",
		subjectNoun:         "booking",
		requiresCompletion:  true,
		requiresFullPayment: true,
	},
	domain.VariantFarmer: {
		payeeNoun:           "Farmer",
		subjectNoun:         "booking",
		requiresCompletion:  true,
		requiresFullPayment: true,
	},
	domain.VariantIngredient: {
		payeeNoun:           "Farmer",
		subjectNoun:         "booking",
		requiresFullPayment: true,
		requiresFulfillment: true,
	},
	domain.VariantCooperative: {
		payeeNoun:           "Cooperative member",
		subjectNoun:         "period",
		requiresCompletion:  true,
		requiresFullPayment: true,
	},
}

func rulesFor(variant domain.PayoutVariant) (variantRules, error) {
	rules, ok := rulesByVariant[variant]
	if !ok {
		return variantRules{}, fmt.Errorf("unknown payout variant %q", variant)
	}
	return rules, nil
}

// transferDescription builds the human-readable reason attached to the rail transfer.
func transferDescription(rules variantRules, subjectID fmt.Stringer) string {
	return fmt.Sprintf("%s payout for %s %s", rules.payeeNoun, rules.subjectNoun, subjectID.String())
}
