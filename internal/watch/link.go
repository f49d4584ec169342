// Package watch は商品監視の登録・一覧・解除のドメインサービスを提供する。
package watch

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/hitoshi/pricewatch/internal/model"
)

// allowedHost は監視登録を受け付けるマーケットプレイスのホスト名。
const allowedHost = "uzum.uz"

// productPathPattern は商品ページパスからカタログ番号を抽出するパターン。
// パスは /category/product/<slug>-<number> の形式で、スラグ末尾の
// 数字（ハイフン区切りを含む）部分がカタログ番号になる。
var productPathPattern = regexp.MustCompile(`/product/.*?-([\d-]+)$`)

// ParseProductLink は商品ページURLを自然キー (number, skuID) に解決する。
// 同一商品は複数のURL（クエリ順やトラッキングパラメータの差異）で到達可能なため、
// 重複排除はURLではなくこの自然キーで行う。
// バリアント識別子はskuIdクエリパラメータから取得し、存在しない場合は空になる。
func ParseProductLink(rawURL string) (model.NaturalKey, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return model.NaturalKey{}, fmt.Errorf("URLのパースに失敗しました: %w", err)
	}

	host := strings.ToLower(parsed.Hostname())
	host = strings.TrimPrefix(host, "www.")
	if host != allowedHost {
		return model.NaturalKey{}, fmt.Errorf("サポート外のホストです: %s", parsed.Hostname())
	}

	match := productPathPattern.FindStringSubmatch(parsed.Path)
	if match == nil {
		return model.NaturalKey{}, fmt.Errorf("商品ページのパスではありません: %s", parsed.Path)
	}

	return model.NaturalKey{
		Number: match[1],
		SkuID:  parsed.Query().Get("skuId"),
	}, nil
}
