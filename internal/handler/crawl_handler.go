package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hitoshi/pricewatch/internal/model"
	"github.com/hitoshi/pricewatch/internal/worker/crawl"
)

// CrawlTriggerInterface は手動クロール起動に必要なインターフェース。
// crawl.Schedulerの部分集合として定義する。
type CrawlTriggerInterface interface {
	// RunOnce はクロールパスを1回実行する。
	// 別のパスが実行中の場合はcrawl.ErrPassInFlightを返す。
	RunOnce(ctx context.Context) (model.CrawlSummary, error)
}

// CrawlHandler は管理用クロール起動のHTTPハンドラー。
type CrawlHandler struct {
	trigger CrawlTriggerInterface
}

// NewCrawlHandler はCrawlHandlerを生成する。
func NewCrawlHandler(trigger CrawlTriggerInterface) *CrawlHandler {
	return &CrawlHandler{trigger: trigger}
}

// TriggerCrawl はクロールパスを即時実行する。
// POST /api/admin/crawl
//
// パスは同期的に実行され、完了後にサマリーを返す。
// 実行中のパスがある場合は409 Conflictを返す。
func (h *CrawlHandler) TriggerCrawl(w http.ResponseWriter, r *http.Request) {
	summary, err := h.trigger.RunOnce(r.Context())
	if err != nil {
		if errors.Is(err, crawl.ErrPassInFlight) {
			writeAPIErrorResponse(w, http.StatusConflict, &model.APIError{
				Code:     model.ErrCodeCrawlBusy,
				Message:  "クロールパスが既に実行中です。",
				Category: "crawl",
				Action:   "実行中のパスが完了してから再度お試しください。",
			})
			return
		}
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summary)
}
