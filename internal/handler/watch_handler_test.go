package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/hitoshi/pricewatch/internal/middleware"
	"github.com/hitoshi/pricewatch/internal/model"
)

// --- モック定義 ---

// mockWatchService はWatchServiceInterfaceのモック実装。
type mockWatchService struct {
	addWatchFn     func(ctx context.Context, userID, rawURL string) (*model.Product, error)
	listWatchesFn  func(ctx context.Context, userID string) ([]model.WatchedProduct, error)
	removeWatchFn  func(ctx context.Context, userID, productID string) error
	priceHistoryFn func(ctx context.Context, userID, productID string) ([]*model.PriceObservation, error)
}

func (m *mockWatchService) AddWatch(ctx context.Context, userID, rawURL string) (*model.Product, error) {
	if m.addWatchFn != nil {
		return m.addWatchFn(ctx, userID, rawURL)
	}
	return nil, nil
}

func (m *mockWatchService) ListWatches(ctx context.Context, userID string) ([]model.WatchedProduct, error) {
	if m.listWatchesFn != nil {
		return m.listWatchesFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockWatchService) RemoveWatch(ctx context.Context, userID, productID string) error {
	if m.removeWatchFn != nil {
		return m.removeWatchFn(ctx, userID, productID)
	}
	return nil
}

func (m *mockWatchService) PriceHistory(ctx context.Context, userID, productID string) ([]*model.PriceObservation, error) {
	if m.priceHistoryFn != nil {
		return m.priceHistoryFn(ctx, userID, productID)
	}
	return nil, nil
}

// --- テストヘルパー ---

// withUserID はテスト用にリクエストコンテキストにユーザーIDを注入するヘルパー。
func withUserID(r *http.Request, userID string) *http.Request {
	ctx := middleware.ContextWithUserID(r.Context(), userID)
	return r.WithContext(ctx)
}

// withChiURLParam はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	return r.WithContext(ctx)
}

// parseAPIErrorResponse はレスポンスボディからAPIErrorレスポンスをパースするヘルパー。
func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var result map[string]string
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return result
}

// --- POST /api/watches テスト ---

func TestWatchHandler_RegisterWatch_Success(t *testing.T) {
	svc := &mockWatchService{
		addWatchFn: func(ctx context.Context, userID, rawURL string) (*model.Product, error) {
			if userID != "user-123" {
				t.Errorf("userID = %q, want %q", userID, "user-123")
			}
			if rawURL != "https://uzum.uz/ru/product/smartfon-123456" {
				t.Errorf("rawURL = %q, want %q", rawURL, "https://uzum.uz/ru/product/smartfon-123456")
			}
			return &model.Product{
				ID:     "product-id-1",
				URL:    "https://uzum.uz/ru/product/smartfon-123456",
				Number: "123456",
				Title:  "Смартфон Galaxy",
			}, nil
		},
	}

	h := NewWatchHandler(svc)

	body := `{"url": "https://uzum.uz/ru/product/smartfon-123456"}`
	req := httptest.NewRequest(http.MethodPost, "/api/watches", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	req = withUserID(req, "user-123")
	w := httptest.NewRecorder()

	h.RegisterWatch(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}

	var got productResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if got.ID != "product-id-1" {
		t.Errorf("id = %q, want %q", got.ID, "product-id-1")
	}
	if got.Title != "Смартфон Galaxy" {
		t.Errorf("title = %q, want %q", got.Title, "Смартфон Galaxy")
	}
}

func TestWatchHandler_RegisterWatch_NoUserID_Returns401(t *testing.T) {
	h := NewWatchHandler(&mockWatchService{})

	body := `{"url": "https://uzum.uz/ru/product/smartfon-123456"}`
	req := httptest.NewRequest(http.MethodPost, "/api/watches", bytes.NewBufferString(body))
	w := httptest.NewRecorder()

	h.RegisterWatch(w, req)

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}

	errResp := parseAPIErrorResponse(t, w)
	if errResp["code"] != "UNAUTHORIZED" {
		t.Errorf("code = %q, want %q", errResp["code"], "UNAUTHORIZED")
	}
}

func TestWatchHandler_RegisterWatch_InvalidJSON_Returns400(t *testing.T) {
	h := NewWatchHandler(&mockWatchService{})

	req := httptest.NewRequest(http.MethodPost, "/api/watches", bytes.NewBufferString("{not json"))
	req = withUserID(req, "user-123")
	w := httptest.NewRecorder()

	h.RegisterWatch(w, req)

	if w.Result().StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusBadRequest)
	}
}

func TestWatchHandler_RegisterWatch_EmptyURL_Returns400(t *testing.T) {
	h := NewWatchHandler(&mockWatchService{})

	req := httptest.NewRequest(http.MethodPost, "/api/watches", bytes.NewBufferString(`{"url": ""}`))
	req = withUserID(req, "user-123")
	w := httptest.NewRecorder()

	h.RegisterWatch(w, req)

	if w.Result().StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusBadRequest)
	}

	errResp := parseAPIErrorResponse(t, w)
	if errResp["code"] != model.ErrCodeInvalidURL {
		t.Errorf("code = %q, want %q", errResp["code"], model.ErrCodeInvalidURL)
	}
}

func TestWatchHandler_RegisterWatch_ServiceErrors(t *testing.T) {
	tests := []struct {
		name       string
		serviceErr error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "無効なURLは400",
			serviceErr: model.NewInvalidURLError("対応していないホストです"),
			wantStatus: http.StatusBadRequest,
			wantCode:   model.ErrCodeInvalidURL,
		},
		{
			name:       "SSRFブロックは403",
			serviceErr: model.NewSSRFBlockedError(),
			wantStatus: http.StatusForbidden,
			wantCode:   model.ErrCodeSSRFBlocked,
		},
		{
			name:       "重複監視は409",
			serviceErr: model.NewDuplicateWatchError(),
			wantStatus: http.StatusConflict,
			wantCode:   model.ErrCodeDuplicateWatch,
		},
		{
			name:       "想定外エラーは500",
			serviceErr: errors.New("db connection lost"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "INTERNAL_ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockWatchService{
				addWatchFn: func(ctx context.Context, userID, rawURL string) (*model.Product, error) {
					return nil, tt.serviceErr
				},
			}
			h := NewWatchHandler(svc)

			body := `{"url": "https://uzum.uz/ru/product/smartfon-123456"}`
			req := httptest.NewRequest(http.MethodPost, "/api/watches", bytes.NewBufferString(body))
			req = withUserID(req, "user-123")
			w := httptest.NewRecorder()

			h.RegisterWatch(w, req)

			if w.Result().StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Result().StatusCode, tt.wantStatus)
			}

			errResp := parseAPIErrorResponse(t, w)
			if errResp["code"] != tt.wantCode {
				t.Errorf("code = %q, want %q", errResp["code"], tt.wantCode)
			}
		})
	}
}

// --- GET /api/watches テスト ---

func TestWatchHandler_ListWatches_Success(t *testing.T) {
	observedAt := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	svc := &mockWatchService{
		listWatchesFn: func(ctx context.Context, userID string) ([]model.WatchedProduct, error) {
			return []model.WatchedProduct{
				{
					Product: model.Product{
						ID:    "product-id-1",
						URL:   "https://uzum.uz/ru/product/smartfon-123456",
						Title: "Смартфон Galaxy",
					},
					LatestPrice: &model.PriceObservation{
						ProductID:  "product-id-1",
						Price:      decimal.NewFromInt(1150000),
						ObservedAt: observedAt,
					},
				},
				{
					Product: model.Product{
						ID:  "product-id-2",
						URL: "https://uzum.uz/ru/product/telefon-98765",
					},
				},
			}, nil
		},
	}

	h := NewWatchHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/watches", nil)
	req = withUserID(req, "user-123")
	w := httptest.NewRecorder()

	h.ListWatches(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var got []watchedProductResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(watches) = %d, want 2", len(got))
	}

	// 観測ありの商品には最新価格が含まれる
	if got[0].LatestPrice == nil {
		t.Fatal("product-id-1のlatest_priceはnullであってはならない")
	}
	if *got[0].LatestPrice != "1150000" {
		t.Errorf("latest_price = %q, want %q", *got[0].LatestPrice, "1150000")
	}
	if got[0].ObservedAt == nil || *got[0].ObservedAt != "2026-08-30T12:00:00Z" {
		t.Errorf("observed_at = %v, want 2026-08-30T12:00:00Z", got[0].ObservedAt)
	}

	// 観測のない商品では最新価格がnull
	if got[1].LatestPrice != nil {
		t.Errorf("観測のない商品のlatest_priceはnullであるべき: %v", *got[1].LatestPrice)
	}
	if got[1].ObservedAt != nil {
		t.Error("観測のない商品のobserved_atはnullであるべき")
	}
}

func TestWatchHandler_ListWatches_Empty_ReturnsEmptyArray(t *testing.T) {
	svc := &mockWatchService{
		listWatchesFn: func(ctx context.Context, userID string) ([]model.WatchedProduct, error) {
			return nil, nil
		},
	}
	h := NewWatchHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/watches", nil)
	req = withUserID(req, "user-123")
	w := httptest.NewRecorder()

	h.ListWatches(w, req)

	// nullではなく[]を返す
	body := w.Body.String()
	if body == "null\n" {
		t.Error("空の監視一覧はnullではなく[]を返すべき")
	}

	var got []watchedProductResponse
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("len(watches) = %d, want 0", len(got))
	}
}

// --- DELETE /api/watches/{productID} テスト ---

func TestWatchHandler_RemoveWatch_Success(t *testing.T) {
	var gotUserID, gotProductID string
	svc := &mockWatchService{
		removeWatchFn: func(ctx context.Context, userID, productID string) error {
			gotUserID = userID
			gotProductID = productID
			return nil
		},
	}
	h := NewWatchHandler(svc)

	req := httptest.NewRequest(http.MethodDelete, "/api/watches/product-id-1", nil)
	req = withUserID(req, "user-123")
	req = withChiURLParam(req, "productID", "product-id-1")
	w := httptest.NewRecorder()

	h.RemoveWatch(w, req)

	if w.Result().StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusNoContent)
	}
	if gotUserID != "user-123" {
		t.Errorf("userID = %q, want %q", gotUserID, "user-123")
	}
	if gotProductID != "product-id-1" {
		t.Errorf("productID = %q, want %q", gotProductID, "product-id-1")
	}
}

func TestWatchHandler_RemoveWatch_NotWatching_Returns404(t *testing.T) {
	svc := &mockWatchService{
		removeWatchFn: func(ctx context.Context, userID, productID string) error {
			return model.NewWatchNotFoundError(productID)
		},
	}
	h := NewWatchHandler(svc)

	req := httptest.NewRequest(http.MethodDelete, "/api/watches/unknown", nil)
	req = withUserID(req, "user-123")
	req = withChiURLParam(req, "productID", "unknown")
	w := httptest.NewRecorder()

	h.RemoveWatch(w, req)

	if w.Result().StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusNotFound)
	}

	errResp := parseAPIErrorResponse(t, w)
	if errResp["code"] != model.ErrCodeWatchNotFound {
		t.Errorf("code = %q, want %q", errResp["code"], model.ErrCodeWatchNotFound)
	}
}

// --- GET /api/products/{id}/history テスト ---

func TestWatchHandler_PriceHistory_Success(t *testing.T) {
	svc := &mockWatchService{
		priceHistoryFn: func(ctx context.Context, userID, productID string) ([]*model.PriceObservation, error) {
			if productID != "product-id-1" {
				t.Errorf("productID = %q, want %q", productID, "product-id-1")
			}
			return []*model.PriceObservation{
				{
					ProductID:  "product-id-1",
					Price:      decimal.NewFromInt(1100000),
					ObservedAt: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
				},
				{
					ProductID:  "product-id-1",
					Price:      decimal.NewFromInt(1150000),
					ObservedAt: time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC),
				},
			}, nil
		},
	}
	h := NewWatchHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/products/product-id-1/history", nil)
	req = withUserID(req, "user-123")
	req = withChiURLParam(req, "id", "product-id-1")
	w := httptest.NewRecorder()

	h.PriceHistory(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var got []observationResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(history) = %d, want 2", len(got))
	}
	if got[0].Price != "1100000" {
		t.Errorf("history[0].price = %q, want %q", got[0].Price, "1100000")
	}
	if got[0].ObservedAt != "2026-08-30T12:00:00Z" {
		t.Errorf("history[0].observed_at = %q, want %q", got[0].ObservedAt, "2026-08-30T12:00:00Z")
	}
}

func TestWatchHandler_PriceHistory_ProductNotFound_Returns404(t *testing.T) {
	svc := &mockWatchService{
		priceHistoryFn: func(ctx context.Context, userID, productID string) ([]*model.PriceObservation, error) {
			return nil, model.NewProductNotFoundError(productID)
		},
	}
	h := NewWatchHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/products/unknown/history", nil)
	req = withUserID(req, "user-123")
	req = withChiURLParam(req, "id", "unknown")
	w := httptest.NewRecorder()

	h.PriceHistory(w, req)

	if w.Result().StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusNotFound)
	}
}

func TestWatchHandler_PriceHistory_NotWatching_Returns404(t *testing.T) {
	svc := &mockWatchService{
		priceHistoryFn: func(ctx context.Context, userID, productID string) ([]*model.PriceObservation, error) {
			return nil, model.NewWatchNotFoundError(productID)
		},
	}
	h := NewWatchHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/products/product-id-1/history", nil)
	req = withUserID(req, "user-123")
	req = withChiURLParam(req, "id", "product-id-1")
	w := httptest.NewRecorder()

	h.PriceHistory(w, req)

	if w.Result().StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusNotFound)
	}
}
