package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hitoshi/pricewatch/internal/model"
)

// PostgresPriceRepo はPostgreSQLを使用した価格観測リポジトリ。
// price_observationsテーブルへの追記と読み取りのみを行い、UPDATE/DELETEは発行しない。
type PostgresPriceRepo struct {
	db *sql.DB
}

// NewPostgresPriceRepo はPostgresPriceRepoを生成する。
func NewPostgresPriceRepo(db *sql.DB) *PostgresPriceRepo {
	return &PostgresPriceRepo{db: db}
}

// LatestObservation は商品の最新の価格観測を返す。観測がない場合はnilを返す。
func (r *PostgresPriceRepo) LatestObservation(ctx context.Context, productID string) (*model.PriceObservation, error) {
	obs := &model.PriceObservation{}
	var priceStr string

	err := r.db.QueryRowContext(ctx,
		`SELECT id, product_id, price, observed_at
		 FROM price_observations
		 WHERE product_id = $1
		 ORDER BY observed_at DESC, id DESC
		 LIMIT 1`,
		productID,
	).Scan(&obs.ID, &obs.ProductID, &priceStr, &obs.ObservedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("最新価格観測の取得に失敗しました: %w", err)
	}

	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return nil, fmt.Errorf("価格値のパースに失敗しました: %w", err)
	}
	obs.Price = price
	return obs, nil
}

// AppendObservation は価格観測を追記する。
func (r *PostgresPriceRepo) AppendObservation(ctx context.Context, productID string, price decimal.Decimal, observedAt time.Time) (*model.PriceObservation, error) {
	obs := &model.PriceObservation{
		ProductID:  productID,
		Price:      price,
		ObservedAt: observedAt,
	}

	err := r.db.QueryRowContext(ctx,
		`INSERT INTO price_observations (product_id, price, observed_at)
		 VALUES ($1, $2, $3)
		 RETURNING id`,
		productID, price.String(), observedAt,
	).Scan(&obs.ID)
	if err != nil {
		return nil, fmt.Errorf("価格観測の追記に失敗しました: %w", err)
	}
	return obs, nil
}

// ListByProductID は商品の価格履歴を新しい順に最大limit件返す。
func (r *PostgresPriceRepo) ListByProductID(ctx context.Context, productID string, limit int) ([]*model.PriceObservation, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, product_id, price, observed_at
		 FROM price_observations
		 WHERE product_id = $1
		 ORDER BY observed_at DESC, id DESC
		 LIMIT $2`,
		productID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("価格履歴の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var observations []*model.PriceObservation
	for rows.Next() {
		obs := &model.PriceObservation{}
		var priceStr string
		if err := rows.Scan(&obs.ID, &obs.ProductID, &priceStr, &obs.ObservedAt); err != nil {
			return nil, fmt.Errorf("価格観測行の読み取りに失敗しました: %w", err)
		}
		price, err := decimal.NewFromString(priceStr)
		if err != nil {
			return nil, fmt.Errorf("価格値のパースに失敗しました: %w", err)
		}
		obs.Price = price
		observations = append(observations, obs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("価格履歴の走査に失敗しました: %w", err)
	}
	return observations, nil
}
