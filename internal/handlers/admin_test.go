package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"billing/internal/middleware"
	"billing/internal/models"
	"billing/internal/services"
	"billing/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

func adminReconcileRequest(paymentID, userID string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/admin/reconcile/"+paymentID, nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("paymentID", paymentID)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	return withUser(req, userID)
}

func TestAdminReconcileForcesGatewayPoll(t *testing.T) {
	orderID := "gw-1"
	deposits := stubDepositStore{
		getByPaymentIDFn: func(ctx context.Context, paymentID string) (models.Deposit, error) {
			return models.Deposit{
				ID:             "dep-1",
				PaymentID:      paymentID,
				GatewayOrderID: &orderID,
				Status:         models.DepositStatusPending,
			}, nil
		},
	}
	var forced bool
	service := stubDepositService{
		pollStatusFn: func(ctx context.Context, deposit models.Deposit, force bool) (services.PollResult, error) {
			forced = force
			return services.PollResult{
				Gateway:     gatewayStatus(orderID, "1", "deposited", 50000),
				LocalStatus: models.DepositStatusCompleted,
				Balance:     decimal.NewFromInt(500),
			}, nil
		},
	}
	var audited []string
	audit := stubAuditStore{
		logFn: func(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID, data string) error {
			audited = append(audited, action)
			return nil
		},
	}
	handler := newTestHandler(fakeTxRunner{}, stubUserStore{}, stubClientStore{}, deposits, stubAdminStore{}, audit, service, stubVerifier{})

	rr := httptest.NewRecorder()
	handler.AdminReconcile(rr, adminReconcileRequest("pay_1_abc", "admin-1"))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if !forced {
		t.Error("manual reconcile must bypass the status cache")
	}
	if len(audited) != 1 || audited[0] != "manual_reconcile" {
		t.Errorf("expected manual_reconcile audit entry, got %v", audited)
	}
	var resp map[string]any
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp["localStatus"] != models.DepositStatusCompleted {
		t.Errorf("unexpected local status %v", resp["localStatus"])
	}
}

func TestAdminReconcileUnknownPayment(t *testing.T) {
	handler := newTestHandler(fakeTxRunner{}, stubUserStore{}, stubClientStore{}, stubDepositStore{}, stubAdminStore{}, stubAuditStore{}, stubDepositService{}, stubVerifier{})

	rr := httptest.NewRecorder()
	handler.AdminReconcile(rr, adminReconcileRequest("pay_missing", "admin-1"))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestRequireAdminBlocksNonAdmins(t *testing.T) {
	admin := stubAdminStore{
		isAdminFn: func(ctx context.Context, userID string) (bool, error) {
			return userID == "admin-1", nil
		},
	}
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	guarded := middleware.RequireAdmin(admin)(next)

	rr := httptest.NewRecorder()
	guarded.ServeHTTP(rr, withUser(httptest.NewRequest(http.MethodGet, "/admin/audit", nil), "user-1"))
	if rr.Code != http.StatusForbidden {
		t.Errorf("expected 403 for non-admin, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	guarded.ServeHTTP(rr, withUser(httptest.NewRequest(http.MethodGet, "/admin/audit", nil), "admin-1"))
	if rr.Code != http.StatusOK {
		t.Errorf("expected 200 for admin, got %d", rr.Code)
	}
}

func TestListAuditLogs(t *testing.T) {
	var gotLimit, gotOffset int
	audit := stubAuditStore{
		listFn: func(ctx context.Context, limit, offset int) ([]map[string]any, error) {
			gotLimit, gotOffset = limit, offset
			return []map[string]any{{"action": "login"}}, nil
		},
	}
	handler := newTestHandler(fakeTxRunner{}, stubUserStore{}, stubClientStore{}, stubDepositStore{}, stubAdminStore{}, audit, stubDepositService{}, stubVerifier{})

	rr := httptest.NewRecorder()
	req := withUser(httptest.NewRequest(http.MethodGet, "/admin/audit?limit=10&offset=20", nil), "admin-1")
	handler.ListAuditLogs(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if gotLimit != 10 || gotOffset != 20 {
		t.Errorf("expected limit 10 offset 20, got %d %d", gotLimit, gotOffset)
	}
}
