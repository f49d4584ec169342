// Package model はドメインモデルを定義する。
package model

import "time"

// Product は監視対象のマーケットプレイス商品を表す。
// 同一商品が複数のURLで到達可能なため、URLではなく
// 自然キー (number, sku_id) で重複排除される。
type Product struct {
	ID        string
	URL       string
	Number    string
	SkuID     string
	Title     string
	Deleted   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NaturalKey は商品の自然キーを表す。
// numberはカタログ番号、skuIDはバリアント識別子（存在しない場合は空文字列）。
type NaturalKey struct {
	Number string
	SkuID  string
}

// Watch はユーザーと商品の監視関係（多対多の結合エッジ）を表す。
type Watch struct {
	UserID    string
	ProductID string
	CreatedAt time.Time
}

// WatchedProduct はユーザーの監視一覧表示用に、商品と最新価格を結合したモデル。
// 価格観測が1件もない場合はLatestPriceがnilになる。
type WatchedProduct struct {
	Product
	LatestPrice *PriceObservation
}
