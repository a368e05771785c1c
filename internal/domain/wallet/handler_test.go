package wallet_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/numrent/numrent-api/internal/domain/wallet"
	"github.com/numrent/numrent-api/internal/middleware"
	"github.com/numrent/numrent-api/internal/pkg/jwt"
)

type walletAPIResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Balance        int64  `json:"balance"`
		BalanceDisplay string `json:"balance_display"`
	} `json:"data"`
	Error *struct {
		Code string `json:"code"`
	} `json:"error"`
}

func TestWalletEndpoints(t *testing.T) {
	svc := wallet.NewService(wallet.NewMemoryRepository())
	h := wallet.NewHandler(svc, "THB")
	jwtSvc := jwt.NewService("wallet-secret", time.Hour)

	accountID := uuid.New()
	if _, err := svc.Credit(context.Background(), accountID, 10000, wallet.KindTopup, "seed", "seed"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	userToken, _ := jwtSvc.GenerateAccessToken(accountID, "user")
	adminToken, _ := jwtSvc.GenerateAccessToken(uuid.New(), middleware.RoleAdmin)

	r := chi.NewRouter()
	r.Mount("/api/v1/wallet", h.Routes(middleware.Auth(jwtSvc)))
	r.Mount("/api/v1/admin/wallet", h.AdminRoutes(middleware.Auth(jwtSvc)))

	t.Run("GET /balance", func(t *testing.T) {
		rec := perform(t, r, userToken, http.MethodGet, "/api/v1/wallet/balance", nil)
		body := decode(t, rec)
		if rec.Code != http.StatusOK || body.Data.Balance != 10000 || body.Data.BalanceDisplay != "100.00" {
			t.Fatalf("unexpected response %d %+v", rec.Code, body)
		}
	})

	t.Run("POST /admin/adjust requires admin", func(t *testing.T) {
		rec := perform(t, r, userToken, http.MethodPost, "/api/v1/admin/wallet/adjust", map[string]string{
			"account_id": accountID.String(), "amount": "5.00", "reason": "goodwill",
		})
		if rec.Code != http.StatusForbidden {
			t.Fatalf("expected 403, got %d", rec.Code)
		}
	})

	t.Run("POST /admin/adjust", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			rec := perform(t, r, adminToken, http.MethodPost, "/api/v1/admin/wallet/adjust", map[string]string{
				"account_id": accountID.String(), "amount": "-12.50", "reference": "case-41", "reason": "chargeback",
			})
			body := decode(t, rec)
			if rec.Code != http.StatusOK || body.Data.Balance != 8750 {
				t.Fatalf("attempt %d: unexpected response %d %+v", i, rec.Code, body)
			}
		}
	})

	t.Run("POST /admin/adjust without reference", func(t *testing.T) {
		rec := perform(t, r, adminToken, http.MethodPost, "/api/v1/admin/wallet/adjust", map[string]string{
			"account_id": accountID.String(), "amount": "-12.50", "reason": "chargeback",
		})
		body := decode(t, rec)
		if rec.Code != http.StatusUnprocessableEntity || body.Error == nil || body.Error.Code != "VALIDATION_ERROR" {
			t.Fatalf("unexpected response %d %+v", rec.Code, body)
		}
	})

	t.Run("POST /admin/adjust overdraw", func(t *testing.T) {
		rec := perform(t, r, adminToken, http.MethodPost, "/api/v1/admin/wallet/adjust", map[string]string{
			"account_id": accountID.String(), "amount": "-1000.00", "reference": "case-42", "reason": "bad input",
		})
		body := decode(t, rec)
		if rec.Code != http.StatusPaymentRequired || body.Error == nil || body.Error.Code != "INSUFFICIENT_CREDIT" {
			t.Fatalf("unexpected response %d %+v", rec.Code, body)
		}
	})

	t.Run("GET /history", func(t *testing.T) {
		rec := perform(t, r, userToken, http.MethodGet, "/api/v1/wallet/history?limit=10", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		var out struct {
			Data []wallet.EntryResponse `json:"data"`
		}
		if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(out.Data) != 2 || out.Data[0].Kind != wallet.KindAdjustment {
			t.Fatalf("unexpected history: %+v", out.Data)
		}
	})

	t.Run("JWT required", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/wallet/balance", nil))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rec.Code)
		}
	})
}

func perform(t *testing.T, handler http.Handler, token, method, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			t.Fatalf("encode payload: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) walletAPIResponse {
	t.Helper()
	var out walletAPIResponse
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v; body=%s", err, rec.Body.String())
	}
	return out
}
