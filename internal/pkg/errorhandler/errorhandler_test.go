package errorhandler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/numrent/numrent-api/internal/pkg/response"
)

func TestBusinessCarriesDetails(t *testing.T) {
	w := httptest.NewRecorder()
	Business(w, http.StatusConflict, "PRICE_DRIFT", "Price changed", map[string]interface{}{"old_price": "37.50"})

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
	var body response.Response
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Success || body.Error == nil || body.Error.Code != "PRICE_DRIFT" {
		t.Fatalf("unexpected body: %+v", body)
	}
	if body.Error.Details["old_price"] != "37.50" {
		t.Fatalf("missing details: %+v", body.Error.Details)
	}
}

func TestInternalHidesCause(t *testing.T) {
	w := httptest.NewRecorder()
	Internal(context.Background(), w, errors.New("pq: relation does not exist"))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	var body response.Response
	_ = json.NewDecoder(w.Body).Decode(&body)
	if body.Error.Message != "An unexpected error occurred" {
		t.Fatalf("cause leaked: %q", body.Error.Message)
	}
}
