// Package handler はHTTP APIのハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/pricewatch/internal/middleware"
	"github.com/hitoshi/pricewatch/internal/model"
)

// WatchServiceInterface は監視ハンドラーが必要とするサービスインターフェース。
type WatchServiceInterface interface {
	// AddWatch は商品URLを検証し、ユーザーの監視対象として登録する。
	AddWatch(ctx context.Context, userID, rawURL string) (*model.Product, error)
	// ListWatches はユーザーの監視商品一覧を最新価格付きで返す。
	ListWatches(ctx context.Context, userID string) ([]model.WatchedProduct, error)
	// RemoveWatch はユーザーの監視を解除する。
	RemoveWatch(ctx context.Context, userID, productID string) error
	// PriceHistory は監視中商品の価格履歴を新しい順に返す。
	PriceHistory(ctx context.Context, userID, productID string) ([]*model.PriceObservation, error)
}

// WatchHandler は商品監視のHTTPハンドラー。
type WatchHandler struct {
	service WatchServiceInterface
}

// NewWatchHandler はWatchHandlerを生成する。
func NewWatchHandler(service WatchServiceInterface) *WatchHandler {
	return &WatchHandler{service: service}
}

// registerWatchRequest は監視登録リクエストのボディ。
type registerWatchRequest struct {
	URL string `json:"url"`
}

// productResponse は商品情報のAPIレスポンス。
type productResponse struct {
	ID    string `json:"id"`
	URL   string `json:"url"`
	Title string `json:"title"`
}

// watchedProductResponse は最新価格付きの監視商品レスポンス。
// 価格観測が1件もない場合、latest_priceとobserved_atはnullになる。
type watchedProductResponse struct {
	ID          string  `json:"id"`
	URL         string  `json:"url"`
	Title       string  `json:"title"`
	LatestPrice *string `json:"latest_price"`
	ObservedAt  *string `json:"observed_at"`
}

// observationResponse は価格観測1件のAPIレスポンス。
// 価格は精度を損なわないよう文字列で返す。
type observationResponse struct {
	Price      string `json:"price"`
	ObservedAt string `json:"observed_at"`
}

// apiErrorResponse は統一エラーフォーマットのレスポンス。
type apiErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// RegisterWatch は商品の監視登録を処理する。
// POST /api/watches
func (h *WatchHandler) RegisterWatch(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	var req registerWatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "リクエストボディの解析に失敗しました。",
			Category: "validation",
			Action:   "正しいJSON形式でリクエストしてください。",
		})
		return
	}

	if req.URL == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidURLError("URLが空です"))
		return
	}

	product, err := h.service.AddWatch(r.Context(), userID, req.URL)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toProductResponse(product))
}

// ListWatches はユーザーの監視商品一覧を返す。
// GET /api/watches
func (h *WatchHandler) ListWatches(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	watched, err := h.service.ListWatches(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]watchedProductResponse, 0, len(watched))
	for _, wp := range watched {
		resp = append(resp, toWatchedProductResponse(wp))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// RemoveWatch は監視解除を処理する。
// DELETE /api/watches/:productID
func (h *WatchHandler) RemoveWatch(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	productID := chi.URLParam(r, "productID")

	if err := h.service.RemoveWatch(r.Context(), userID, productID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// PriceHistory は監視中商品の価格履歴を返す。
// GET /api/products/:id/history
func (h *WatchHandler) PriceHistory(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	productID := chi.URLParam(r, "id")

	observations, err := h.service.PriceHistory(r.Context(), userID, productID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]observationResponse, 0, len(observations))
	for _, obs := range observations {
		resp = append(resp, observationResponse{
			Price:      obs.Price.String(),
			ObservedAt: obs.ObservedAt.UTC().Format(time.RFC3339),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// --- ヘルパー関数 ---

// toProductResponse はmodel.ProductからAPIレスポンスに変換する。
func toProductResponse(product *model.Product) productResponse {
	return productResponse{
		ID:    product.ID,
		URL:   product.URL,
		Title: product.Title,
	}
}

// toWatchedProductResponse は最新価格付きの監視商品レスポンスに変換する。
func toWatchedProductResponse(wp model.WatchedProduct) watchedProductResponse {
	resp := watchedProductResponse{
		ID:    wp.ID,
		URL:   wp.URL,
		Title: wp.Title,
	}
	if wp.LatestPrice != nil {
		price := wp.LatestPrice.Price.String()
		observedAt := wp.LatestPrice.ObservedAt.UTC().Format(time.RFC3339)
		resp.LatestPrice = &price
		resp.ObservedAt = &observedAt
	}
	return resp
}

// writeUnauthorized は401 Unauthorizedの統一レスポンスを書き込む。
func writeUnauthorized(w http.ResponseWriter) {
	writeAPIErrorResponse(w, http.StatusUnauthorized, &model.APIError{
		Code:     "UNAUTHORIZED",
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "X-Chat-IDヘッダーを付与してください。",
	})
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(apiErrorResponse{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		statusCode := mapAPIErrorToHTTPStatus(apiErr)
		writeAPIErrorResponse(w, statusCode, apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	writeAPIErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeInvalidURL:
		return http.StatusBadRequest
	case model.ErrCodeSSRFBlocked:
		return http.StatusForbidden
	case model.ErrCodeDuplicateWatch:
		return http.StatusConflict
	case model.ErrCodeWatchNotFound, model.ErrCodeProductNotFound, model.ErrCodeUserNotFound:
		return http.StatusNotFound
	case model.ErrCodeCrawlBusy:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
