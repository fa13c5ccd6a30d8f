/**
 * @description
 * This package provides a client for the external payment rail: the processor
 * that holds connected payee accounts and executes transfers to them. It
 * encapsulates the logic for making authenticated HTTP requests, handling
 * request body construction, and parsing responses. It contains no business
 * logic; duplicate-transfer prevention is the caller's responsibility via the
 * payout ledger, because the rail's transfer endpoint is not idempotent.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package railclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// ErrRailUnavailable is returned by every operation when the client is not
// configured (missing base URL or API key). Callers must treat it as "payouts
// disabled", not as a retryable transient failure.
var ErrRailUnavailable = errors.New("payment rail is not configured")

// Connect statuses derived from the rail's account flags.
const (
	ConnectStatusConnected  = "connected"
	ConnectStatusRestricted = "restricted"
	ConnectStatusPending    = "pending"
)

const onboardingLinkTTL = 24 * time.Hour

// Client is a client for the payment rail API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new payment rail client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		APIKey:  strings.TrimSpace(apiKey),
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Configured reports whether the client has the credentials it needs to talk
// to the rail at all.
func (c *Client) Configured() bool {
	return c != nil && c.BaseURL != "" && c.APIKey != ""
}

// AccountIdentity is the payee identity used to provision a connected account.
type AccountIdentity struct {
	DisplayName    string `json:"display_name"`
	Email          string `json:"email"`
	Country        string `json:"country"`
	PayeeReference string `json:"payee_reference"`
}

// AccountResponse is the rail's response to account provisioning.
type AccountResponse struct {
	Data struct {
		AccountID string `json:"account_id"`
	} `json:"data"`
}

type onboardingLinkRequest struct {
	AccountID  string `json:"account_id"`
	ReturnURL  string `json:"return_url"`
	RefreshURL string `json:"refresh_url,omitempty"`
}

// OnboardingLinkResponse carries the time-boxed onboarding URL. Links expire
// after 24 hours; callers must regenerate after expiry.
type OnboardingLinkResponse struct {
	Data struct {
		URL       string    `json:"url"`
		ExpiresAt time.Time `json:"expires_at"`
	} `json:"data"`
}

// AccountStatusResponse is the rail's raw view of a connected account.
type AccountStatusResponse struct {
	Data struct {
		DetailsSubmitted bool `json:"details_submitted"`
		ChargesEnabled   bool `json:"charges_enabled"`
		PayoutsEnabled   bool `json:"payouts_enabled"`
	} `json:"data"`
}

// ConnectStatus derives the normalized connect status from the account flags.
func (r *AccountStatusResponse) ConnectStatus() string {
	return DeriveConnectStatus(r.Data.DetailsSubmitted, r.Data.ChargesEnabled, r.Data.PayoutsEnabled)
}

// DeriveConnectStatus maps raw rail flags onto the status enum the rest of the
// system uses: connected iff charges and payouts are both enabled, restricted
// when details were submitted but payouts remain disabled, pending otherwise.
func DeriveConnectStatus(detailsSubmitted, chargesEnabled, payoutsEnabled bool) string {
	switch {
	case chargesEnabled && payoutsEnabled:
		return ConnectStatusConnected
	case detailsSubmitted && !payoutsEnabled:
		return ConnectStatusRestricted
	default:
		return ConnectStatusPending
	}
}

type transferRequest struct {
	DestinationAccountID string `json:"destination_account_id"`
	AmountCents          int64  `json:"amount_cents"`
	Currency             string `json:"currency"`
	Description          string `json:"description"`
}

// TransferResponse is the rail's response to a transfer creation.
type TransferResponse struct {
	Data struct {
		TransferID string `json:"transfer_id"`
		Status     string `json:"status"`
	} `json:"data"`
}

// ErrorResponse represents an error returned by the rail API.
type ErrorResponse struct {
	Errors []struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
		Status string `json:"status"`
	} `json:"errors"`
}

func (e *ErrorResponse) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("rail api error: %s - %s", e.Errors[0].Title, e.Errors[0].Detail)
	}
	return "unknown rail api error"
}

// CreateAccount provisions a connected destination account for a payee.
func (c *Client) CreateAccount(ctx context.Context, identity AccountIdentity) (*AccountResponse, error) {
	if !c.Configured() {
		return nil, ErrRailUnavailable
	}

	var resp AccountResponse
	if err := c.do(ctx, http.MethodPost, "/v1/accounts", identity, &resp, "create_account"); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateOnboardingLink generates a fresh onboarding URL for a connected account.
func (c *Client) CreateOnboardingLink(ctx context.Context, accountID, returnURL, refreshURL string) (*OnboardingLinkResponse, error) {
	if !c.Configured() {
		return nil, ErrRailUnavailable
	}

	payload := onboardingLinkRequest{
		AccountID:  accountID,
		ReturnURL:  returnURL,
		RefreshURL: refreshURL,
	}
	var resp OnboardingLinkResponse
	if err := c.do(ctx, http.MethodPost, "/v1/onboarding_links", payload, &resp, "create_onboarding_link"); err != nil {
		return nil, err
	}
	if resp.Data.ExpiresAt.IsZero() {
		resp.Data.ExpiresAt = time.Now().UTC().Add(onboardingLinkTTL)
	}
	return &resp, nil
}

// GetAccountStatus fetches the current account flags from the rail. This is
// the live source of truth the eligibility check re-validates cached flags against.
func (c *Client) GetAccountStatus(ctx context.Context, accountID string) (*AccountStatusResponse, error) {
	if !c.Configured() {
		return nil, ErrRailUnavailable
	}

	var resp AccountStatusResponse
	if err := c.do(ctx, http.MethodGet, "/v1/accounts/"+accountID, nil, &resp, "get_account_status"); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateTransfer moves funds from the platform to a connected account. The rail
// offers no client-supplied idempotency key in this design; the caller MUST
// guarantee at-most-once invocation per payout via the ledger.
func (c *Client) CreateTransfer(ctx context.Context, accountID string, amountCents int64, description string) (*TransferResponse, error) {
	if !c.Configured() {
		return nil, ErrRailUnavailable
	}

	payload := transferRequest{
		DestinationAccountID: accountID,
		AmountCents:          amountCents,
		Currency:             "USD",
		Description:          description,
	}
	var resp TransferResponse
	if err := c.do(ctx, http.MethodPost, "/v1/transfers", payload, &resp, "create_transfer"); err != nil {
		return nil, err
	}
	return &resp, nil
}

// do executes one request against the rail and decodes the response into out.
func (c *Client) do(ctx context.Context, method, path string, payload interface{}, out interface{}, op string) error {
	var bodyReader io.Reader
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal %s request: %w", op, err)
		}
		bodyReader = bytes.NewBuffer(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", op, err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-rail-key", c.APIKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute %s request: %w", op, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=rail_client op=%s status=%d msg=\"non-2xx response (unparsable error body)\"", op, resp.StatusCode)
			return fmt.Errorf("failed to decode error response (status %d)", resp.StatusCode)
		}
		log.Printf("level=warn component=rail_client op=%s status=%d title=%q detail=%q", op, resp.StatusCode, firstErrorTitle(errResp), firstErrorDetail(errResp))
		return &errResp
	}

	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	return nil
}

func firstErrorTitle(resp ErrorResponse) string {
	if len(resp.Errors) == 0 {
		return ""
	}
	return resp.Errors[0].Title
}

func firstErrorDetail(resp ErrorResponse) string {
	if len(resp.Errors) == 0 {
		return ""
	}
	return resp.Errors[0].Detail
}
