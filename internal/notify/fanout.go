// Package notify は価格変化の通知ファンアウトと配信を提供する。
// 商品キーの変更集合をユーザーキーのバッチに反転し、対象ユーザーごとに
// 1回だけ外部通知能力を呼び出す。
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/hitoshi/pricewatch/internal/metrics"
	"github.com/hitoshi/pricewatch/internal/model"
	"github.com/hitoshi/pricewatch/internal/repository"
)

// Notifier は外部通知能力のインターフェース。
// クロール・検出のコアがチャットトランスポートへ直接依存しないための抽象。
type Notifier interface {
	// SendNotification はユーザーに変更商品のバッチを1回で通知する。
	SendNotification(ctx context.Context, user *model.User, batch []model.ChangedProduct) error
}

// Fanout は商品→監視ユーザーの逆引きとユーザー単位のバッチ配信を行う。
type Fanout struct {
	watchRepo repository.WatchRepository
	userRepo  repository.UserRepository
	notifier  Notifier
	collector metrics.MetricsCollector
	logger    *slog.Logger
}

// NewFanout はFanoutの新しいインスタンスを生成する。
func NewFanout(
	watchRepo repository.WatchRepository,
	userRepo repository.UserRepository,
	notifier Notifier,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Fanout {
	return &Fanout{
		watchRepo: watchRepo,
		userRepo:  userRepo,
		notifier:  notifier,
		collector: collector,
		logger:    logger,
	}
}

// userBatch は1ユーザー分の通知バッチ。
type userBatch struct {
	user     *model.User
	products []model.ChangedProduct
}

// Notify は変更商品集合を対象ユーザーごとのバッチに反転して配信する。
// 各ユーザーには、そのユーザーが監視している変更商品のみが1回の通知にまとめられる。
// 1ユーザーへの配信失敗は他のユーザーへの配信に影響しない。
// 監視ユーザーの逆引き自体に失敗した場合のみエラーを返す。
func (f *Fanout) Notify(ctx context.Context, changed map[string]model.ChangedProduct) error {
	if len(changed) == 0 {
		return nil
	}

	productIDs := make([]string, 0, len(changed))
	for id := range changed {
		productIDs = append(productIDs, id)
	}
	// バッチ内の商品順を実行ごとに安定させる
	sort.Strings(productIDs)

	subscribers, err := f.watchRepo.SubscribersOf(ctx, productIDs)
	if err != nil {
		return fmt.Errorf("監視ユーザーの逆引きに失敗しました: %w", err)
	}

	// 商品→ユーザーの関係をユーザー→商品バッチに反転する
	batches := make(map[string]*userBatch)
	for _, productID := range productIDs {
		cp := changed[productID]
		for _, user := range subscribers[productID] {
			batch, ok := batches[user.ID]
			if !ok {
				batch = &userBatch{user: user}
				batches[user.ID] = batch
			}
			batch.products = append(batch.products, cp)
		}
	}

	if len(batches) == 0 {
		f.logger.Info("通知対象のユーザーはいません",
			slog.Int("changed_count", len(changed)),
		)
		return nil
	}

	userIDs := make([]string, 0, len(batches))
	for id := range batches {
		userIDs = append(userIDs, id)
	}
	sort.Strings(userIDs)

	var delivered, failed int
	for _, userID := range userIDs {
		batch := batches[userID]

		if err := f.notifier.SendNotification(ctx, batch.user, batch.products); err != nil {
			failed++
			f.collector.RecordNotificationFailure()
			f.logger.Error("通知の配信に失敗しました",
				slog.String("user_id", batch.user.ID),
				slog.Int64("telegram_id", batch.user.TelegramID),
				slog.Int("batch_size", len(batch.products)),
				slog.String("error", err.Error()),
			)

			// 通知先がボットをブロックしている場合は以降のパスから除外する
			if errors.Is(err, ErrBotBlocked) {
				if deactivateErr := f.userRepo.SetActive(ctx, batch.user.ID, false); deactivateErr != nil {
					f.logger.Error("ユーザーの非アクティブ化に失敗しました",
						slog.String("user_id", batch.user.ID),
						slog.String("error", deactivateErr.Error()),
					)
				} else {
					f.logger.Info("ブロックされたユーザーを非アクティブ化しました",
						slog.String("user_id", batch.user.ID),
					)
				}
			}
			continue
		}

		delivered++
		f.collector.RecordNotificationSent()
	}

	f.logger.Info("通知ファンアウトが完了しました",
		slog.Int("changed_count", len(changed)),
		slog.Int("delivered", delivered),
		slog.Int("failed", failed),
	)

	return nil
}
