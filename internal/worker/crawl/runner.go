package crawl

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hitoshi/pricewatch/internal/extract"
	"github.com/hitoshi/pricewatch/internal/metrics"
	"github.com/hitoshi/pricewatch/internal/model"
	"github.com/hitoshi/pricewatch/internal/repository"
)

// PassState はクロールパスの状態を表す。
type PassState string

const (
	// PassStateIdle はパスが実行されていない状態。
	PassStateIdle PassState = "idle"
	// PassStateRunning はパスが実行中の状態。
	PassStateRunning PassState = "running"
	// PassStateCompleted は直近のパスが完走した状態。
	PassStateCompleted PassState = "completed"
	// PassStateAborted は直近のパスが中断された状態。
	// 対象商品一覧の取得失敗、またはコンテキストのキャンセルでのみ発生する。
	PassStateAborted PassState = "aborted"
)

// ExtractorService は商品ページからの抽出実行インターフェース。
type ExtractorService interface {
	// Extract は商品ページから価格（必須）とタイトル（wantTitle時のみ）を抽出する。
	Extract(ctx context.Context, pageURL string, wantTitle bool) (*extract.Extraction, error)
}

// ChangeNotifier は変更商品集合の通知ファンアウトのインターフェース。
type ChangeNotifier interface {
	// Notify は変更商品集合をユーザー単位のバッチに反転して配信する。
	Notify(ctx context.Context, changed map[string]model.ChangedProduct) error
}

// TitleSanitizer はスクレイピングしたタイトルのサニタイズインターフェース。
type TitleSanitizer interface {
	Sanitize(raw string) string
}

// Runner は1回のクロールパスを実行する。
// 対象商品を順次処理し、抽出→価格変化判定→観測追記→変更集合の蓄積を行う。
// 1商品の失敗はその商品のスキップに留め、パス全体は継続する。
// 対象一覧の取得失敗のみがパスを中断させる。
type Runner struct {
	productRepo repository.ProductRepository
	priceRepo   repository.PriceRepository
	extractor   ExtractorService
	sanitizer   TitleSanitizer
	notifier    ChangeNotifier
	collector   metrics.MetricsCollector
	logger      *slog.Logger

	// 連続するフェッチの間に挟むランダム遅延の範囲。
	// スクレイピング先への礼儀としての意図的なスロットルであり、性能調整ではない。
	delayMin time.Duration
	delayMax time.Duration

	mu    sync.Mutex
	state PassState
}

// NewRunner はRunnerの新しいインスタンスを生成する。
func NewRunner(
	productRepo repository.ProductRepository,
	priceRepo repository.PriceRepository,
	extractor ExtractorService,
	sanitizer TitleSanitizer,
	notifier ChangeNotifier,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	delayMin, delayMax time.Duration,
) *Runner {
	return &Runner{
		productRepo: productRepo,
		priceRepo:   priceRepo,
		extractor:   extractor,
		sanitizer:   sanitizer,
		notifier:    notifier,
		collector:   collector,
		logger:      logger,
		delayMin:    delayMin,
		delayMax:    delayMax,
		state:       PassStateIdle,
	}
}

// State は現在のパス状態を返す。
func (r *Runner) State() PassState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Runner) setState(s PassState) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// RunOnce は全対象商品に対する1回のクロールパスを実行し、サマリを返す。
// 処理済みの観測追記はパスが中断されても取り消されない。
func (r *Runner) RunOnce(ctx context.Context) (model.CrawlSummary, error) {
	start := time.Now()
	summary := model.CrawlSummary{}

	r.setState(PassStateRunning)

	products, err := r.productRepo.ListTracked(ctx)
	if err != nil {
		r.setState(PassStateAborted)
		r.collector.RecordPassCompleted("aborted")
		return summary, fmt.Errorf("クロール対象商品一覧の取得に失敗しました: %w", err)
	}

	if len(products) == 0 {
		r.setState(PassStateCompleted)
		r.collector.RecordPassCompleted("completed")
		r.logger.Info("クロール対象の商品はありません")
		return summary, nil
	}

	r.logger.Info("クロールパスを開始します",
		slog.Int("product_count", len(products)),
	)

	changed := make(map[string]model.ChangedProduct)

	for i, product := range products {
		// 連続するフェッチの間にランダム遅延を挟む（初回は待たない）
		if i > 0 {
			if err := r.pace(ctx); err != nil {
				r.setState(PassStateAborted)
				r.collector.RecordPassCompleted("aborted")
				r.logger.Warn("クロールパスがキャンセルされました",
					slog.Int("attempted", summary.Attempted),
					slog.Int("changed", summary.Changed),
				)
				return summary, err
			}
		}

		summary.Attempted++
		r.collector.RecordProductsAttempted(1)

		if cp, ok := r.processProduct(ctx, product, &summary); ok {
			changed[product.ID] = cp
			summary.Changed++
		}
	}

	// 蓄積した変更集合を通知ファンアウトへ引き渡す
	if len(changed) > 0 {
		if err := r.notifier.Notify(ctx, changed); err != nil {
			r.logger.Error("通知ファンアウトに失敗しました",
				slog.Int("changed_count", len(changed)),
				slog.String("error", err.Error()),
			)
		}
	}

	duration := time.Since(start)
	r.setState(PassStateCompleted)
	r.collector.RecordPassCompleted("completed")
	r.collector.RecordPassDuration(duration)

	r.logger.Info("クロールパスが完了しました",
		slog.Int("attempted", summary.Attempted),
		slog.Int("changed", summary.Changed),
		slog.Int("failed", summary.Failed),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return summary, nil
}

// processProduct は1商品の抽出・判定・追記を行う。
// 変更集合に追加すべき場合はChangedProductとtrueを返す。
// あらゆる失敗はログに記録してスキップし、パスを中断させない。
func (r *Runner) processProduct(ctx context.Context, product *model.Product, summary *model.CrawlSummary) (model.ChangedProduct, bool) {
	extraction, err := r.extractor.Extract(ctx, product.URL, product.Title == "")
	if err != nil {
		summary.Failed++
		r.collector.RecordExtractFailure()
		r.logger.Error("価格抽出に失敗しました",
			slog.String("product_id", product.ID),
			slog.String("url", product.URL),
			slog.String("error", err.Error()),
		)
		return model.ChangedProduct{}, false
	}

	// タイトルが未設定で抽出できた場合のみ補完する
	if product.Title == "" && extraction.Title != "" {
		title := r.sanitizer.Sanitize(extraction.Title)
		if title != "" {
			if err := r.productRepo.UpdateTitle(ctx, product.ID, title); err != nil {
				r.logger.Error("商品タイトルの補完に失敗しました",
					slog.String("product_id", product.ID),
					slog.String("error", err.Error()),
				)
			} else {
				product.Title = title
			}
		}
	}

	latest, err := r.priceRepo.LatestObservation(ctx, product.ID)
	if err != nil {
		summary.Failed++
		r.collector.RecordPersistFailure()
		r.logger.Error("最新価格観測の取得に失敗しました",
			slog.String("product_id", product.ID),
			slog.String("error", err.Error()),
		)
		return model.ChangedProduct{}, false
	}

	var lastPrice *decimal.Decimal
	if latest != nil {
		lastPrice = &latest.Price
	}

	if Decide(lastPrice, extraction.Price) == DecisionUnchanged {
		r.logger.Debug("価格は変化していません",
			slog.String("product_id", product.ID),
			slog.String("price", extraction.Price.String()),
		)
		return model.ChangedProduct{}, false
	}

	if _, err := r.priceRepo.AppendObservation(ctx, product.ID, extraction.Price, time.Now()); err != nil {
		summary.Failed++
		r.collector.RecordPersistFailure()
		r.logger.Error("価格観測の追記に失敗しました",
			slog.String("product_id", product.ID),
			slog.String("price", extraction.Price.String()),
			slog.String("error", err.Error()),
		)
		return model.ChangedProduct{}, false
	}

	// 初回観測は基準値の確立であり、価格変化としては通知しない
	if latest == nil {
		r.logger.Info("初回の価格観測を記録しました",
			slog.String("product_id", product.ID),
			slog.String("price", extraction.Price.String()),
		)
		return model.ChangedProduct{}, false
	}

	r.collector.RecordPriceChange()
	r.logger.Info("価格変化を検出しました",
		slog.String("product_id", product.ID),
		slog.String("old_price", latest.Price.String()),
		slog.String("new_price", extraction.Price.String()),
	)

	return model.ChangedProduct{
		ProductID: product.ID,
		Title:     product.Title,
		NewPrice:  extraction.Price,
		URL:       product.URL,
	}, true
}

// pace は次のフェッチまでランダム遅延（delayMin〜delayMax）を挟む。
// コンテキストがキャンセルされた場合はそのエラーを返す。
func (r *Runner) pace(ctx context.Context) error {
	delay := r.delayMin
	if r.delayMax > r.delayMin {
		delay += time.Duration(rand.Int63n(int64(r.delayMax - r.delayMin)))
	}
	if delay <= 0 {
		return ctx.Err()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}
