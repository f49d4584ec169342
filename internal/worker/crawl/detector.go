// Package crawl は商品価格のバックグラウンドクロール処理を提供する。
// スケジューラ、パス実行ランナー、価格変化の判定を含む。
package crawl

import "github.com/shopspring/decimal"

// Decision は価格変化判定の結果種別。
type Decision int

const (
	// DecisionUnchanged は価格が変化しておらず観測を追記しないことを示す。
	DecisionUnchanged Decision = iota
	// DecisionNewObservation は新しい価格観測を追記すべきことを示す。
	DecisionNewObservation
)

// Decide は直近の観測価格と新しく抽出した価格から、観測を追記すべきかを判定する。
// 隠れた状態を持たない純粋関数であり、同じ入力には常に同じ結果を返す。
//
// 判定規則:
//   - 直近の観測がない（last == nil）場合は常にNewObservation（初回観測）。
//   - 正規化済みの数値表現が厳密に一致する場合はUnchanged。
//     浮動小数点の許容帯は設けない（価格は整数通貨単位が基本のため）。
//   - それ以外はNewObservation。増減の方向・差分の大きさは問わず、最小閾値もない。
func Decide(last *decimal.Decimal, next decimal.Decimal) Decision {
	if last == nil {
		return DecisionNewObservation
	}
	if last.Equal(next) {
		return DecisionUnchanged
	}
	return DecisionNewObservation
}
