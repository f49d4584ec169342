// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hitoshi/pricewatch/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByTelegramID はTelegramチャットIDでユーザーを検索する。見つからない場合はnilを返す。
	FindByTelegramID(ctx context.Context, telegramID int64) (*model.User, error)

	// Create はユーザーを作成する。
	Create(ctx context.Context, user *model.User) error

	// SetActive はユーザーのアクティブフラグを更新する。
	// 通知先がボットをブロックした場合にfalseへ落とすために使用する。
	SetActive(ctx context.Context, id string, active bool) error
}

// ProductRepository は商品データの永続化インターフェース。
type ProductRepository interface {
	// FindByID は指定IDの商品を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Product, error)

	// FindByNaturalKey は自然キー (number, sku_id) で商品を検索する。
	// URLが異なっても同一商品は同一行に解決される。見つからない場合はnilを返す。
	FindByNaturalKey(ctx context.Context, key model.NaturalKey) (*model.Product, error)

	// Create は商品を作成する。
	Create(ctx context.Context, product *model.Product) error

	// UpdateTitle は商品タイトルを更新する。クロール時のタイトル補完に使用する。
	UpdateTitle(ctx context.Context, productID, title string) error

	// SetDeleted は商品の論理削除フラグを更新する。
	// 価格履歴の帰属を保つため、物理削除は行わない。
	SetDeleted(ctx context.Context, productID string, deleted bool) error

	// ListTracked はクロール対象の商品一覧を返す。
	// deleted = false かつアクティブな監視ユーザーが1人以上存在する商品のみを対象とする。
	// 論理削除済み・監視者なしの商品はクロールしない（ポリシー決定）。
	ListTracked(ctx context.Context) ([]*model.Product, error)
}

// WatchRepository はユーザーと商品の監視関係の永続化インターフェース。
type WatchRepository interface {
	// Exists はユーザーが指定商品を監視中かを返す。
	Exists(ctx context.Context, userID, productID string) (bool, error)

	// Create は監視関係を作成する。
	Create(ctx context.Context, userID, productID string) error

	// Delete は監視関係を削除する。価格履歴や他ユーザーの監視には影響しない。
	Delete(ctx context.Context, userID, productID string) error

	// CountByProductID は指定商品を監視しているユーザー数を返す（非アクティブ含む）。
	CountByProductID(ctx context.Context, productID string) (int, error)

	// ListWatchedProducts はユーザーの監視商品一覧を最新価格付きで返す。
	// 論理削除済みの商品は含まない。
	ListWatchedProducts(ctx context.Context, userID string) ([]model.WatchedProduct, error)

	// SubscribersOf は指定商品群それぞれのアクティブな監視ユーザーを返す。
	// 通知ファンアウトが商品→ユーザーの逆引きに使用する。
	// 監視者のいない商品はマップに含まれない。
	SubscribersOf(ctx context.Context, productIDs []string) (map[string][]*model.User, error)
}

// PriceRepository は価格観測の追記専用台帳へのアクセスインターフェース。
type PriceRepository interface {
	// LatestObservation は商品の最新の価格観測を返す。
	// observed_at降順（同時刻はid降順）の先頭1件。観測がない場合はnilを返す。
	LatestObservation(ctx context.Context, productID string) (*model.PriceObservation, error)

	// AppendObservation は価格観測を追記する。既存の観測は決して更新しない。
	AppendObservation(ctx context.Context, productID string, price decimal.Decimal, observedAt time.Time) (*model.PriceObservation, error)

	// ListByProductID は商品の価格履歴を新しい順に最大limit件返す。
	ListByProductID(ctx context.Context, productID string, limit int) ([]*model.PriceObservation, error)
}
