// Package extract は商品ページからの価格・タイトル抽出を提供する。
// ページ取得のレンダラ抽象、セレクタ待機、価格テキストの正規化を含む。
package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/hitoshi/pricewatch/internal/security"
)

// ErrElementNotFound はタイムアウト内に対象要素が見つからなかったことを表す。
var ErrElementNotFound = errors.New("element not found before timeout")

// Page は取得済み商品ページへのハンドル。
// セレクタで指定した要素のテキストをタイムアウト付きで待機して取得できる。
type Page interface {
	// WaitText はセレクタに一致する要素の非空テキストを待機して返す。
	// タイムアウトまでに見つからない場合はErrElementNotFoundを返す。
	WaitText(ctx context.Context, selector string, timeout time.Duration) (string, error)
}

// Renderer は商品ページの取得機構を抽象化する。
// 現在の実装はHTTP取得と再取得ポーリングだが、
// 同じインターフェースでブラウザ自動化ドライバにも差し替えられる。
type Renderer interface {
	// Open は指定URLのページを開き、要素待機可能なハンドルを返す。
	Open(ctx context.Context, pageURL string) (Page, error)
}

// HTTPRenderer はSSRF防止付きHTTPクライアントでページを取得するRenderer実装。
// 非同期描画されるページに対しては、要素が現れるまで
// pollInterval間隔でページを再取得することで待機をエミュレートする。
type HTTPRenderer struct {
	client       *http.Client
	logger       *slog.Logger
	maxBodySize  int64
	pollInterval time.Duration
}

// NewHTTPRenderer はHTTPRendererの新しいインスタンスを生成する。
func NewHTTPRenderer(
	ssrfGuard security.SSRFGuardService,
	logger *slog.Logger,
	fetchTimeout time.Duration,
	maxBodySize int64,
	pollInterval time.Duration,
) *HTTPRenderer {
	return &HTTPRenderer{
		client:       ssrfGuard.NewSafeClient(fetchTimeout, maxBodySize),
		logger:       logger,
		maxBodySize:  maxBodySize,
		pollInterval: pollInterval,
	}
}

// Open は指定URLのページを取得し、要素待機可能なハンドルを返す。
// 初回取得の失敗はそのままエラーとして返す。
func (r *HTTPRenderer) Open(ctx context.Context, pageURL string) (Page, error) {
	doc, err := r.fetch(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	return &httpPage{renderer: r, url: pageURL, doc: doc}, nil
}

// fetch はページを1回取得してgoqueryドキュメントにパースする。
func (r *HTTPRenderer) fetch(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("リクエスト作成に失敗: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) Pricewatch/1.0")
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ページ取得に失敗: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ページ取得がステータス %d を返しました", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, r.maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("ページのパースに失敗: %w", err)
	}
	return doc, nil
}

// httpPage はHTTPRendererが開いたページのハンドル。
type httpPage struct {
	renderer *HTTPRenderer
	url      string
	doc      *goquery.Document
}

// WaitText はセレクタに一致する要素の非空テキストを待機して返す。
// 現在のドキュメントに要素がなければpollInterval間隔で再取得し、
// タイムアウトまでに見つからない場合はErrElementNotFoundを返す。
func (p *httpPage) WaitText(ctx context.Context, selector string, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)

	for {
		if text := strings.TrimSpace(p.doc.Find(selector).First().Text()); text != "" {
			return text, nil
		}

		if !time.Now().Add(p.renderer.pollInterval).Before(deadline) {
			return "", fmt.Errorf("%w: %s", ErrElementNotFound, selector)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(p.renderer.pollInterval):
		}

		doc, err := p.renderer.fetch(ctx, p.url)
		if err != nil {
			// 再取得の一時的な失敗は待機を打ち切らず、次のポーリングに回す
			p.renderer.logger.Debug("ページ再取得に失敗しました",
				slog.String("url", p.url),
				slog.String("error", err.Error()),
			)
			continue
		}
		p.doc = doc
	}
}
