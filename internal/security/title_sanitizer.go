// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TitleSanitizerService はスクレイピングで取得した商品タイトルをサニタイズし、
// マークアップ混入によるインジェクションからユーザーを保護する。
// bluemondayのStrictPolicyで全タグを除去し、プレーンテキストのみを通過させる。
package security

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// maxTitleLength は保存する商品タイトルの最大文字数（rune単位）。
const maxTitleLength = 200

// TitleSanitizerService は商品タイトルのサニタイズ機能のインターフェースを定義する。
// タイトル補完時の保存前に使用される。
type TitleSanitizerService interface {
	// Sanitize はタイトル文字列からマークアップを除去し、空白を正規化して返す。
	// HTMLエンティティはデコードされ、200文字を超える部分は切り捨てられる。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// titleSanitizer はTitleSanitizerServiceの実装。
// bluemondayのポリシーを保持し、スレッドセーフにサニタイズ処理を行う。
type titleSanitizer struct {
	policy *bluemonday.Policy
}

// NewTitleSanitizer はTitleSanitizerServiceの新しいインスタンスを生成する。
// StrictPolicy（全タグ除去）を使用する。
func NewTitleSanitizer() *titleSanitizer {
	return &titleSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize はタイトル文字列からマークアップを除去し、空白を正規化して返す。
func (s *titleSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}

	cleaned := s.policy.Sanitize(raw)
	// StrictPolicyはテキストをHTMLエスケープして返すため、エンティティを戻す
	cleaned = html.UnescapeString(cleaned)
	cleaned = strings.Join(strings.Fields(cleaned), " ")

	if utf8.RuneCountInString(cleaned) > maxTitleLength {
		runes := []rune(cleaned)
		cleaned = string(runes[:maxTitleLength])
	}

	return cleaned
}
