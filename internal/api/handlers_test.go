package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/harvesttable/payout-service/internal/app"
	"github.com/harvesttable/payout-service/internal/domain"
	"github.com/harvesttable/payout-service/internal/store"
)

// withURLParams injects chi route parameters so handlers can be exercised
// without a full router.
func withURLParams(r *http.Request, params map[string]string) *http.Request {
	routeCtx := chi.NewRouteContext()
	for key, value := range params {
		routeCtx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, routeCtx))
}

// notFoundRepoStub answers every assignment lookup with "not found".
type notFoundRepoStub struct {
	store.Repository
}

func (s *notFoundRepoStub) FindAssignmentByID(ctx context.Context, variant domain.PayoutVariant, assignmentID uuid.UUID) (*domain.Assignment, error) {
	return nil, store.ErrAssignmentNotFound
}

// emptyCooperativeRepoStub reports no active cooperative members.
type emptyCooperativeRepoStub struct {
	store.Repository
}

func (s *emptyCooperativeRepoStub) ListActiveCooperativeMembers(ctx context.Context) ([]domain.CooperativeMember, error) {
	return nil, nil
}

type retryLimiterStub struct {
	count      int
	retryAfter int
}

func (s *retryLimiterStub) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	return s.count, s.retryAfter, nil
}

func TestTryPayoutHandlerRejectsUnknownVariant(t *testing.T) {
	h := NewPayoutHandlers(nil)

	req := httptest.NewRequest(http.MethodPost, "/payouts/courier/assignments/2f77c2f5-c857-4895-9589-e3915e85a43e/try", nil)
	req = withURLParams(req, map[string]string{
		"variant":      "courier",
		"assignmentID": "2f77c2f5-c857-4895-9589-e3915e85a43e",
	})
	rec := httptest.NewRecorder()
	h.TryPayoutHandler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	if body["error"] == "" {
		t.Fatal("expected error message in response body")
	}
}

func TestTryPayoutHandlerRejectsMalformedAssignmentID(t *testing.T) {
	h := NewPayoutHandlers(nil)

	req := httptest.NewRequest(http.MethodPost, "/payouts/chef/assignments/not-a-uuid/try", nil)
	req = withURLParams(req, map[string]string{
		"variant":      "chef",
		"assignmentID": "not-a-uuid",
	})
	rec := httptest.NewRecorder()
	h.TryPayoutHandler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestDispatchSubjectHandlerRejectsMalformedSubjectID(t *testing.T) {
	h := NewPayoutHandlers(nil)

	req := httptest.NewRequest(http.MethodPost, "/payouts/farmer/subjects/bogus/dispatch", nil)
	req = withURLParams(req, map[string]string{
		"variant":   "farmer",
		"subjectID": "bogus",
	})
	rec := httptest.NewRecorder()
	h.DispatchSubjectHandler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestProvisionPayeeHandlerRequiresIdentityFields(t *testing.T) {
	h := NewPayoutHandlers(nil)

	req := httptest.NewRequest(http.MethodPost, "/payees/2f77c2f5-c857-4895-9589-e3915e85a43e/rail-account", nil)
	req.Body = http.NoBody
	req = withURLParams(req, map[string]string{
		"payeeID": "2f77c2f5-c857-4895-9589-e3915e85a43e",
	})
	rec := httptest.NewRecorder()
	h.ProvisionPayeeHandler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestRetryPayoutHandlerReturns429WhenOverBudget(t *testing.T) {
	svc := app.NewService(nil, nil, nil, app.ServiceOptions{})
	svc.SetRetryRateLimiter(&retryLimiterStub{count: 2, retryAfter: 37}, 1)
	h := NewPayoutHandlers(svc)

	req := httptest.NewRequest(http.MethodPost, "/payouts/chef/assignments/2f77c2f5-c857-4895-9589-e3915e85a43e/retry", nil)
	req = withURLParams(req, map[string]string{
		"variant":      "chef",
		"assignmentID": "2f77c2f5-c857-4895-9589-e3915e85a43e",
	})
	req = req.WithContext(context.WithValue(req.Context(), adminIDKey, "admin_julia"))
	rec := httptest.NewRecorder()
	h.RetryPayoutHandler(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "37" {
		t.Fatalf("expected Retry-After header 37, got %q", got)
	}
}

func TestRetryPayoutHandlerProceedsWithinBudget(t *testing.T) {
	svc := app.NewService(&notFoundRepoStub{}, nil, nil, app.ServiceOptions{})
	svc.SetRetryRateLimiter(&retryLimiterStub{count: 1}, 5)
	h := NewPayoutHandlers(svc)

	req := httptest.NewRequest(http.MethodPost, "/payouts/chef/assignments/2f77c2f5-c857-4895-9589-e3915e85a43e/retry", nil)
	req = withURLParams(req, map[string]string{
		"variant":      "chef",
		"assignmentID": "2f77c2f5-c857-4895-9589-e3915e85a43e",
	})
	req = req.WithContext(context.WithValue(req.Context(), adminIDKey, "admin_julia"))
	rec := httptest.NewRecorder()
	h.RetryPayoutHandler(rec, req)

	// The retry reached the orchestrator, which reported the assignment missing.
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestWritePayoutResultStatusMapping(t *testing.T) {
	h := NewPayoutHandlers(nil)

	tests := []struct {
		name   string
		result domain.PayoutResult
		want   int
	}{
		{
			name:   "payout created",
			result: domain.PayoutResult{Success: true, PayoutCreated: true},
			want:   http.StatusCreated,
		},
		{
			name:   "success without payout",
			result: domain.PayoutResult{Success: true, Blockers: []string{"Payee has not completed payment onboarding"}},
			want:   http.StatusOK,
		},
		{
			name:   "missing assignment",
			result: domain.PayoutResult{NotFound: true, Error: "payout assignment 2f77c2f5-c857-4895-9589-e3915e85a43e not found"},
			want:   http.StatusNotFound,
		},
		{
			// The error text mentions "not found" but the target assignment
			// exists; only the NotFound marker may map to 404.
			name:   "rail failure mentioning not found",
			result: domain.PayoutResult{Success: false, Error: "transfer failed: destination account not found"},
			want:   http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.writePayoutResult(rec, tt.result)
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestHealthEndpointIsOpen(t *testing.T) {
	router := PayoutRoutes(NewPayoutHandlers(nil), "https://auth.example.com/jwks", "internal-key")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "healthy" {
		t.Fatalf("unexpected health body: %q", rec.Body.String())
	}
}

func TestPayoutRoutesRequireAuth(t *testing.T) {
	router := PayoutRoutes(NewPayoutHandlers(nil), "https://auth.example.com/jwks", "internal-key")

	tests := []struct {
		name   string
		method string
		path   string
	}{
		{name: "try payout", method: http.MethodPost, path: "/payouts/chef/assignments/2f77c2f5-c857-4895-9589-e3915e85a43e/try"},
		{name: "retry payout", method: http.MethodPost, path: "/payouts/chef/assignments/2f77c2f5-c857-4895-9589-e3915e85a43e/retry"},
		{name: "payee provisioning", method: http.MethodPost, path: "/payees/2f77c2f5-c857-4895-9589-e3915e85a43e/rail-account"},
		{name: "onboarding link", method: http.MethodPost, path: "/payees/2f77c2f5-c857-4895-9589-e3915e85a43e/onboarding-link"},
		{name: "rail status", method: http.MethodGet, path: "/payees/2f77c2f5-c857-4895-9589-e3915e85a43e/rail-status"},
		{name: "dispatch", method: http.MethodPost, path: "/payouts/farmer/subjects/2f77c2f5-c857-4895-9589-e3915e85a43e/dispatch"},
		{name: "share recalculation", method: http.MethodPost, path: "/cooperative/shares/recalculate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401 without credentials, got %d", rec.Code)
			}
		})
	}
}

func TestDispatchAcceptsInternalAPIKey(t *testing.T) {
	router := PayoutRoutes(NewPayoutHandlers(nil), "https://auth.example.com/jwks", "internal-key")

	// Malformed subject ID: a 400 proves the request cleared authentication
	// and reached the handler.
	req := httptest.NewRequest(http.MethodPost, "/payouts/farmer/subjects/bogus/dispatch", nil)
	req.Header.Set("X-Internal-API-Key", "internal-key")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 with valid internal key, got %d", rec.Code)
	}
}

func TestRecalculateSharesAcceptsInternalAPIKey(t *testing.T) {
	svc := app.NewService(&emptyCooperativeRepoStub{}, nil, nil, app.ServiceOptions{})
	router := PayoutRoutes(NewPayoutHandlers(svc), "https://auth.example.com/jwks", "internal-key")

	req := httptest.NewRequest(http.MethodPost, "/cooperative/shares/recalculate", nil)
	req.Header.Set("X-Internal-API-Key", "internal-key")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with valid internal key, got %d", rec.Code)
	}
}
