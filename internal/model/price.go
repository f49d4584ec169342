// Package model はドメインモデルを定義する。
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceObservation は商品の価格観測を表す。
// 追記専用のレコードであり、作成後に更新・削除されることはない。
// 商品の「現在価格」はobserved_at（同時刻はid）が最大の観測として導出される。
type PriceObservation struct {
	ID         int64
	ProductID  string
	Price      decimal.Decimal
	ObservedAt time.Time
}

// ChangedProduct は1回のクロールパスで価格が変化した商品を表す。
// 永続化されず、通知ファンアウトの入力としてのみ使用される。
type ChangedProduct struct {
	ProductID string
	Title     string
	NewPrice  decimal.Decimal
	URL       string
}

// CrawlSummary は1回のクロールパスの実行結果サマリ。
type CrawlSummary struct {
	Attempted int `json:"attempted"`
	Changed   int `json:"changed"`
	Failed    int `json:"failed"`
}
