// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, watch, crawl, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidURL      = "INVALID_URL"
	ErrCodeSSRFBlocked     = "SSRF_BLOCKED"
	ErrCodeDuplicateWatch  = "DUPLICATE_WATCH"
	ErrCodeWatchNotFound   = "WATCH_NOT_FOUND"
	ErrCodeProductNotFound = "PRODUCT_NOT_FOUND"
	ErrCodeUserNotFound    = "USER_NOT_FOUND"
	ErrCodeCrawlBusy       = "CRAWL_BUSY"
)

// NewInvalidURLError は無効な商品URLエラーを生成する。
func NewInvalidURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("無効な商品URLです: %s", reason),
		Category: "validation",
		Action:   "uzum.uzの商品ページURL（https://uzum.uz/.../product/... の形式）を入力してください。",
	}
}

// NewSSRFBlockedError はSSRFブロックエラーを生成する。
func NewSSRFBlockedError() *APIError {
	return &APIError{
		Code:     ErrCodeSSRFBlocked,
		Message:  "セキュリティポリシーにより、指定されたURLへのアクセスがブロックされました。",
		Category: "validation",
		Action:   "公開されているマーケットプレイスの商品URLを入力してください。",
	}
}

// NewDuplicateWatchError は既に監視中の商品を再度登録しようとした場合のエラーを生成する。
func NewDuplicateWatchError() *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateWatch,
		Message:  "この商品は既に監視しています。",
		Category: "watch",
		Action:   "監視一覧から該当商品を確認してください。",
	}
}

// NewWatchNotFoundError は監視関係が見つからない場合のエラーを生成する。
func NewWatchNotFoundError(productID string) *APIError {
	return &APIError{
		Code:     ErrCodeWatchNotFound,
		Message:  fmt.Sprintf("指定された商品は監視していません: %s", productID),
		Category: "watch",
		Action:   "監視一覧の商品IDを確認してください。",
	}
}

// NewProductNotFoundError は商品未検出エラーを生成する。
func NewProductNotFoundError(productID string) *APIError {
	return &APIError{
		Code:     ErrCodeProductNotFound,
		Message:  fmt.Sprintf("指定された商品が見つかりません: %s", productID),
		Category: "watch",
		Action:   "商品IDを確認してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "watch",
		Action:   "チャットから操作をやり直してください。",
	}
}
