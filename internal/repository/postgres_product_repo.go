package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/pricewatch/internal/model"
)

// PostgresProductRepo はPostgreSQLを使用した商品リポジトリ。
type PostgresProductRepo struct {
	db *sql.DB
}

// NewPostgresProductRepo はPostgresProductRepoを生成する。
func NewPostgresProductRepo(db *sql.DB) *PostgresProductRepo {
	return &PostgresProductRepo{db: db}
}

// FindByID は指定IDの商品を取得する。見つからない場合はnilを返す。
func (r *PostgresProductRepo) FindByID(ctx context.Context, id string) (*model.Product, error) {
	return r.findOne(ctx,
		`SELECT id, url, number, sku_id, title, deleted, created_at, updated_at
		 FROM products WHERE id = $1`,
		id,
	)
}

// FindByNaturalKey は自然キー (number, sku_id) で商品を検索する。見つからない場合はnilを返す。
func (r *PostgresProductRepo) FindByNaturalKey(ctx context.Context, key model.NaturalKey) (*model.Product, error) {
	return r.findOne(ctx,
		`SELECT id, url, number, sku_id, title, deleted, created_at, updated_at
		 FROM products WHERE number = $1 AND sku_id = $2`,
		key.Number, key.SkuID,
	)
}

func (r *PostgresProductRepo) findOne(ctx context.Context, query string, args ...interface{}) (*model.Product, error) {
	product := &model.Product{}
	var title sql.NullString

	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&product.ID, &product.URL, &product.Number, &product.SkuID,
		&title, &product.Deleted, &product.CreatedAt, &product.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("商品の取得に失敗しました: %w", err)
	}

	product.Title = nullStringValue(title)
	return product, nil
}

// Create は商品を作成する。
// 自然キーの一意制約に違反した場合はエラーを返す（呼び出し元で事前検索すること）。
func (r *PostgresProductRepo) Create(ctx context.Context, product *model.Product) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO products (id, url, number, sku_id, title, deleted, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		product.ID, product.URL, product.Number, product.SkuID,
		nullString(product.Title), product.Deleted,
		product.CreatedAt, product.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("商品の作成に失敗しました: %w", err)
	}
	return nil
}

// UpdateTitle は商品タイトルを更新する。
func (r *PostgresProductRepo) UpdateTitle(ctx context.Context, productID, title string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE products SET title = $2, updated_at = now() WHERE id = $1`,
		productID, nullString(title),
	)
	if err != nil {
		return fmt.Errorf("商品タイトルの更新に失敗しました: %w", err)
	}
	return nil
}

// SetDeleted は商品の論理削除フラグを更新する。
func (r *PostgresProductRepo) SetDeleted(ctx context.Context, productID string, deleted bool) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE products SET deleted = $2, updated_at = now() WHERE id = $1`,
		productID, deleted,
	)
	if err != nil {
		return fmt.Errorf("論理削除フラグの更新に失敗しました: %w", err)
	}
	return nil
}

// ListTracked はクロール対象の商品一覧を返す。
// deleted = false かつアクティブな監視ユーザーが1人以上存在する商品に限定する。
func (r *PostgresProductRepo) ListTracked(ctx context.Context) ([]*model.Product, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT p.id, p.url, p.number, p.sku_id, p.title, p.deleted, p.created_at, p.updated_at
		 FROM products p
		 JOIN user_products up ON up.product_id = p.id
		 JOIN users u ON u.id = up.user_id
		 WHERE p.deleted = FALSE AND u.active = TRUE
		 ORDER BY p.created_at ASC, p.id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("クロール対象商品一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var products []*model.Product
	for rows.Next() {
		product := &model.Product{}
		var title sql.NullString
		if err := rows.Scan(
			&product.ID, &product.URL, &product.Number, &product.SkuID,
			&title, &product.Deleted, &product.CreatedAt, &product.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("商品行の読み取りに失敗しました: %w", err)
		}
		product.Title = nullStringValue(title)
		products = append(products, product)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("商品一覧の走査に失敗しました: %w", err)
	}
	return products, nil
}
