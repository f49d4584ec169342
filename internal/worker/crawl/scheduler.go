package crawl

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/pricewatch/internal/metrics"
	"github.com/hitoshi/pricewatch/internal/model"
)

// ErrPassInFlight は別のクロールパスが実行中であることを表す。
var ErrPassInFlight = errors.New("crawl pass already in flight")

// CrawlRunnerService はクロールパスの実行インターフェース。
type CrawlRunnerService interface {
	// RunOnce は1回のクロールパスを実行してサマリを返す。
	RunOnce(ctx context.Context) (model.CrawlSummary, error)
}

// Scheduler はクロールパスの定期トリガーと同時実行の排他を行う。
// 固定間隔のティッカーでパスを起動し、プロセス全体で同時に
// 高々1つのパスしか実行されないことを保証する。
// パス実行中にトリガーが発火した場合、そのトリガーはスキップされる
// （繰り延べはしない。次の定期トリガーには影響しない）。
type Scheduler struct {
	runner    CrawlRunnerService
	collector metrics.MetricsCollector
	logger    *slog.Logger
	interval  time.Duration

	// passMu はパス実行の排他。TryLockの失敗がスキップ判定になる。
	passMu sync.Mutex

	// lifecycleMu はStart/Stopの冪等性を保護する。
	lifecycleMu sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
func NewScheduler(
	runner CrawlRunnerService,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	interval time.Duration,
) *Scheduler {
	return &Scheduler{
		runner:    runner,
		collector: collector,
		logger:    logger,
		interval:  interval,
	}
}

// RunOnce は1回のクロールパスを排他付きで実行する。
// 別のパスが実行中の場合は何もせずErrPassInFlightを返す。
// 定期トリガーと手動トリガー（管理API）の両方がこのメソッドを経由するため、
// 由来にかかわらず同時実行は発生しない。
func (s *Scheduler) RunOnce(ctx context.Context) (model.CrawlSummary, error) {
	if !s.passMu.TryLock() {
		s.collector.RecordPassCompleted("skipped")
		s.logger.Warn("前回のクロールパスが実行中のためトリガーをスキップします")
		return model.CrawlSummary{}, ErrPassInFlight
	}
	defer s.passMu.Unlock()

	return s.runner.RunOnce(ctx)
}

// Start はスケジューラをバックグラウンドで起動する。
// 既に起動済みの場合は何もしない（冪等）。
func (s *Scheduler) Start() {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	s.logger.Info("クロールスケジューラを開始しました",
		slog.Duration("interval", s.interval),
	)

	go s.loop(ctx)
}

// Stop はスケジューラを停止する。
// 実行中のパスはコンテキストのキャンセルで中断される（追記済みの観測は保持される）。
// 未起動または停止済みの場合は何もしない（冪等）。
func (s *Scheduler) Stop() {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.cancel == nil {
		return
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("クロールスケジューラを停止しました")
}

// loop は定期トリガーのメインループ。起動直後に1回実行し、以降はinterval間隔で実行する。
func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.trigger(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.trigger(ctx)
		}
	}
}

// trigger は1回のパスを起動し、結果をログに記録する。
func (s *Scheduler) trigger(ctx context.Context) {
	summary, err := s.RunOnce(ctx)
	if err != nil {
		if errors.Is(err, ErrPassInFlight) || errors.Is(err, context.Canceled) {
			return
		}
		s.logger.Error("クロールパスの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return
	}

	s.logger.Info("定期クロールパスが終了しました",
		slog.Int("attempted", summary.Attempted),
		slog.Int("changed", summary.Changed),
		slog.Int("failed", summary.Failed),
	)
}
