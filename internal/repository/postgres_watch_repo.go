package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/hitoshi/pricewatch/internal/model"
)

// PostgresWatchRepo はPostgreSQLを使用した監視関係リポジトリ。
type PostgresWatchRepo struct {
	db *sql.DB
}

// NewPostgresWatchRepo はPostgresWatchRepoを生成する。
func NewPostgresWatchRepo(db *sql.DB) *PostgresWatchRepo {
	return &PostgresWatchRepo{db: db}
}

// Exists はユーザーが指定商品を監視中かを返す。
func (r *PostgresWatchRepo) Exists(ctx context.Context, userID, productID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM user_products WHERE user_id = $1 AND product_id = $2
		 )`,
		userID, productID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("監視関係の確認に失敗しました: %w", err)
	}
	return exists, nil
}

// Create は監視関係を作成する。
func (r *PostgresWatchRepo) Create(ctx context.Context, userID, productID string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO user_products (user_id, product_id, created_at)
		 VALUES ($1, $2, $3)`,
		userID, productID, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("監視関係の作成に失敗しました: %w", err)
	}
	return nil
}

// Delete は監視関係を削除する。価格履歴や他ユーザーの監視には影響しない。
func (r *PostgresWatchRepo) Delete(ctx context.Context, userID, productID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM user_products WHERE user_id = $1 AND product_id = $2`,
		userID, productID,
	)
	if err != nil {
		return fmt.Errorf("監視関係の削除に失敗しました: %w", err)
	}
	return nil
}

// CountByProductID は指定商品を監視しているユーザー数を返す。
func (r *PostgresWatchRepo) CountByProductID(ctx context.Context, productID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM user_products WHERE product_id = $1`,
		productID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("監視ユーザー数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// ListWatchedProducts はユーザーの監視商品一覧を最新価格付きで返す。
// LATERAL結合で各商品の最新観測（observed_at降順、同時刻はid降順）を取得する。
func (r *PostgresWatchRepo) ListWatchedProducts(ctx context.Context, userID string) ([]model.WatchedProduct, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT p.id, p.url, p.number, p.sku_id, p.title, p.deleted, p.created_at, p.updated_at,
		        po.id, po.price, po.observed_at
		 FROM user_products up
		 JOIN products p ON p.id = up.product_id
		 LEFT JOIN LATERAL (
		   SELECT id, price, observed_at
		   FROM price_observations
		   WHERE product_id = p.id
		   ORDER BY observed_at DESC, id DESC
		   LIMIT 1
		 ) po ON TRUE
		 WHERE up.user_id = $1 AND p.deleted = FALSE
		 ORDER BY up.created_at ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("監視商品一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var watched []model.WatchedProduct
	for rows.Next() {
		var wp model.WatchedProduct
		var title sql.NullString
		var obsID sql.NullInt64
		var obsPrice sql.NullString
		var obsAt sql.NullTime

		if err := rows.Scan(
			&wp.ID, &wp.URL, &wp.Number, &wp.SkuID,
			&title, &wp.Deleted, &wp.CreatedAt, &wp.UpdatedAt,
			&obsID, &obsPrice, &obsAt,
		); err != nil {
			return nil, fmt.Errorf("監視商品行の読み取りに失敗しました: %w", err)
		}
		wp.Title = nullStringValue(title)

		if obsID.Valid {
			price, err := decimal.NewFromString(obsPrice.String)
			if err != nil {
				return nil, fmt.Errorf("価格値のパースに失敗しました: %w", err)
			}
			wp.LatestPrice = &model.PriceObservation{
				ID:         obsID.Int64,
				ProductID:  wp.ID,
				Price:      price,
				ObservedAt: obsAt.Time,
			}
		}
		watched = append(watched, wp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("監視商品一覧の走査に失敗しました: %w", err)
	}
	return watched, nil
}

// SubscribersOf は指定商品群それぞれのアクティブな監視ユーザーを返す。
func (r *PostgresWatchRepo) SubscribersOf(ctx context.Context, productIDs []string) (map[string][]*model.User, error) {
	subscribers := make(map[string][]*model.User)
	if len(productIDs) == 0 {
		return subscribers, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT up.product_id, u.id, u.telegram_id, u.username, u.active, u.created_at, u.updated_at
		 FROM user_products up
		 JOIN users u ON u.id = up.user_id
		 WHERE up.product_id = ANY($1) AND u.active = TRUE`,
		pq.Array(productIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("監視ユーザーの逆引きに失敗しました: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var productID string
		user := &model.User{}
		var username sql.NullString
		if err := rows.Scan(
			&productID, &user.ID, &user.TelegramID, &username,
			&user.Active, &user.CreatedAt, &user.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("監視ユーザー行の読み取りに失敗しました: %w", err)
		}
		user.Username = nullStringValue(username)
		subscribers[productID] = append(subscribers[productID], user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("監視ユーザーの走査に失敗しました: %w", err)
	}
	return subscribers, nil
}
