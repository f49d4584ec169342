package extract

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
)

// uzum.uz商品ページの対象要素セレクタ。
const (
	priceSelector = `span[data-test-id="text__product-price"]`
	titleSelector = `h1[data-test-id="text__product-name"]`
)

// Extraction は商品ページから抽出した結果を表す。
// Titleは要求しなかった場合、または見つからなかった場合に空になる。
type Extraction struct {
	Price decimal.Decimal
	Title string
}

// ExtractionError は1商品の取得・抽出失敗を表す。
// 呼び出し元はこのエラーを該当商品のスキップとして扱い、パスを継続する。
type ExtractionError struct {
	URL    string
	Reason string
	Err    error
}

// Error はerrorインターフェースを実装する。
func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extraction failed for %s: %s: %v", e.URL, e.Reason, e.Err)
	}
	return fmt.Sprintf("extraction failed for %s: %s", e.URL, e.Reason)
}

// Unwrap は内包するエラーを返す。
func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// Extractor は商品ページから価格とタイトルを抽出する。
// 永続化の知識は持たず、抽出結果を呼び出し元に返すのみ。
type Extractor struct {
	renderer     Renderer
	logger       *slog.Logger
	priceTimeout time.Duration
	titleTimeout time.Duration
}

// NewExtractor はExtractorの新しいインスタンスを生成する。
// 価格は毎パス取得されるため短いタイムアウト、タイトルは初回補完のみのため
// 長めのタイムアウトを使用する。
func NewExtractor(renderer Renderer, logger *slog.Logger, priceTimeout, titleTimeout time.Duration) *Extractor {
	return &Extractor{
		renderer:     renderer,
		logger:       logger,
		priceTimeout: priceTimeout,
		titleTimeout: titleTimeout,
	}
}

// Extract は商品ページを開き、価格（必須）とタイトル（wantTitle時のみ）を抽出する。
// 価格要素の欠落・パース失敗はExtractionErrorになる。
// タイトル要素の欠落は失敗とせず、Titleを空のまま返す。
func (e *Extractor) Extract(ctx context.Context, pageURL string, wantTitle bool) (*Extraction, error) {
	page, err := e.renderer.Open(ctx, pageURL)
	if err != nil {
		return nil, &ExtractionError{URL: pageURL, Reason: "ページを開けませんでした", Err: err}
	}

	priceText, err := page.WaitText(ctx, priceSelector, e.priceTimeout)
	if err != nil {
		return nil, &ExtractionError{URL: pageURL, Reason: "価格要素が見つかりませんでした", Err: err}
	}

	price, err := NormalizePrice(priceText)
	if err != nil {
		return nil, &ExtractionError{URL: pageURL, Reason: "価格テキストのパースに失敗しました", Err: err}
	}

	result := &Extraction{Price: price}

	if wantTitle {
		title, err := page.WaitText(ctx, titleSelector, e.titleTimeout)
		if err != nil {
			e.logger.Warn("タイトル要素が見つかりませんでした",
				slog.String("url", pageURL),
				slog.String("error", err.Error()),
			)
		} else {
			result.Title = title
		}
	}

	return result, nil
}

// NormalizePrice は価格の表示テキストを数値に正規化する。
// 桁区切り（半角スペース、NBSP、カンマ、アポストロフィ）を除去し、
// 先頭の数値トークンをパースする。通貨単位など後続のテキストは無視する。
// 例: "1 150 000 сум" → 1150000
func NormalizePrice(text string) (decimal.Decimal, error) {
	var b strings.Builder
	started := false
	dotSeen := false

	for _, r := range text {
		switch {
		case unicode.IsDigit(r):
			started = true
			b.WriteRune(r)
		case isThousandsSeparator(r):
			if !started {
				continue
			}
			// 桁区切りは読み飛ばす
		case r == '.' && started && !dotSeen:
			dotSeen = true
			b.WriteRune(r)
		default:
			if started {
				return parseNumeric(b.String(), text)
			}
		}
	}

	return parseNumeric(b.String(), text)
}

func parseNumeric(numeric, original string) (decimal.Decimal, error) {
	numeric = strings.TrimSuffix(numeric, ".")
	if numeric == "" {
		return decimal.Decimal{}, fmt.Errorf("数値が含まれていません: %q", original)
	}
	price, err := decimal.NewFromString(numeric)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("価格のパースに失敗しました %q: %w", original, err)
	}
	return price, nil
}

// isThousandsSeparator は桁区切り文字かを判定する。
func isThousandsSeparator(r rune) bool {
	switch r {
	case ' ', ' ', ' ', ',', '\'':
		return true
	}
	return false
}
