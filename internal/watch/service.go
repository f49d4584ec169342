package watch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/pricewatch/internal/model"
	"github.com/hitoshi/pricewatch/internal/repository"
	"github.com/hitoshi/pricewatch/internal/security"
)

// defaultHistoryLimit は価格履歴取得のデフォルト件数。
const defaultHistoryLimit = 30

// Service は商品監視のドメインサービス。
// URLの検証と自然キーへの解決、商品行の解決または作成、監視関係の管理を行う。
type Service struct {
	userRepo    repository.UserRepository
	productRepo repository.ProductRepository
	watchRepo   repository.WatchRepository
	priceRepo   repository.PriceRepository
	ssrfGuard   security.SSRFGuardService
	logger      *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	userRepo repository.UserRepository,
	productRepo repository.ProductRepository,
	watchRepo repository.WatchRepository,
	priceRepo repository.PriceRepository,
	ssrfGuard security.SSRFGuardService,
	logger *slog.Logger,
) *Service {
	return &Service{
		userRepo:    userRepo,
		productRepo: productRepo,
		watchRepo:   watchRepo,
		priceRepo:   priceRepo,
		ssrfGuard:   ssrfGuard,
		logger:      logger,
	}
}

// ResolveUser はTelegramチャットIDからユーザーを解決する。
// 未登録の場合は自動的に作成する。非アクティブのユーザーが再び操作した場合は
// 再アクティブ化する（ブロック解除とみなす）。
func (s *Service) ResolveUser(ctx context.Context, telegramID int64, username string) (*model.User, error) {
	user, err := s.userRepo.FindByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, err
	}

	if user == nil {
		now := time.Now()
		user = &model.User{
			ID:         uuid.NewString(),
			TelegramID: telegramID,
			Username:   username,
			Active:     true,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := s.userRepo.Create(ctx, user); err != nil {
			return nil, err
		}
		s.logger.Info("ユーザーを作成しました",
			slog.String("user_id", user.ID),
			slog.Int64("telegram_id", telegramID),
		)
		return user, nil
	}

	if !user.Active {
		if err := s.userRepo.SetActive(ctx, user.ID, true); err != nil {
			return nil, err
		}
		user.Active = true
		s.logger.Info("ユーザーを再アクティブ化しました",
			slog.String("user_id", user.ID),
		)
	}

	return user, nil
}

// AddWatch は商品URLを検証・解決し、ユーザーの監視対象に追加する。
// 同じ自然キーの商品が既に存在する場合は同一行に解決され、重複行は作成しない。
// 論理削除済みの商品が再登録された場合は復活させる。
// 既に監視中の場合はDUPLICATE_WATCHエラーを返す。
func (s *Service) AddWatch(ctx context.Context, userID, rawURL string) (*model.Product, error) {
	if err := s.ssrfGuard.ValidateURL(rawURL); err != nil {
		s.logger.Warn("商品URLがSSRF検証で拒否されました",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewSSRFBlockedError()
	}

	key, err := ParseProductLink(rawURL)
	if err != nil {
		return nil, model.NewInvalidURLError(err.Error())
	}

	product, err := s.productRepo.FindByNaturalKey(ctx, key)
	if err != nil {
		return nil, err
	}

	if product == nil {
		now := time.Now()
		product = &model.Product{
			ID:        uuid.NewString(),
			URL:       rawURL,
			Number:    key.Number,
			SkuID:     key.SkuID,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.productRepo.Create(ctx, product); err != nil {
			return nil, err
		}
		s.logger.Info("商品を作成しました",
			slog.String("product_id", product.ID),
			slog.String("number", key.Number),
			slog.String("sku_id", key.SkuID),
		)
	} else if product.Deleted {
		// 価格履歴を保持したまま論理削除から復活させる
		if err := s.productRepo.SetDeleted(ctx, product.ID, false); err != nil {
			return nil, err
		}
		product.Deleted = false
	}

	exists, err := s.watchRepo.Exists(ctx, userID, product.ID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, model.NewDuplicateWatchError()
	}

	if err := s.watchRepo.Create(ctx, userID, product.ID); err != nil {
		return nil, err
	}

	s.logger.Info("監視を登録しました",
		slog.String("user_id", userID),
		slog.String("product_id", product.ID),
	)

	return product, nil
}

// ListWatches はユーザーの監視商品一覧を最新価格付きで返す。
func (s *Service) ListWatches(ctx context.Context, userID string) ([]model.WatchedProduct, error) {
	watched, err := s.watchRepo.ListWatchedProducts(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("監視一覧の取得に失敗しました: %w", err)
	}
	return watched, nil
}

// RemoveWatch はユーザーの監視を解除する。
// 他のユーザーの監視と価格履歴には影響しない。
// 最後の監視者が解除した場合のみ商品を論理削除する（履歴は保持される）。
func (s *Service) RemoveWatch(ctx context.Context, userID, productID string) error {
	exists, err := s.watchRepo.Exists(ctx, userID, productID)
	if err != nil {
		return err
	}
	if !exists {
		return model.NewWatchNotFoundError(productID)
	}

	if err := s.watchRepo.Delete(ctx, userID, productID); err != nil {
		return err
	}

	remaining, err := s.watchRepo.CountByProductID(ctx, productID)
	if err != nil {
		return err
	}
	if remaining == 0 {
		if err := s.productRepo.SetDeleted(ctx, productID, true); err != nil {
			return err
		}
		s.logger.Info("監視者がいなくなったため商品を論理削除しました",
			slog.String("product_id", productID),
		)
	}

	s.logger.Info("監視を解除しました",
		slog.String("user_id", userID),
		slog.String("product_id", productID),
	)

	return nil
}

// PriceHistory はユーザーが監視中の商品の価格履歴を新しい順に返す。
// 監視していない商品の履歴は参照できない。
func (s *Service) PriceHistory(ctx context.Context, userID, productID string) ([]*model.PriceObservation, error) {
	product, err := s.productRepo.FindByID(ctx, productID)
	if err != nil {
		return nil, err
	}
	if product == nil {
		return nil, model.NewProductNotFoundError(productID)
	}

	exists, err := s.watchRepo.Exists(ctx, userID, productID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, model.NewWatchNotFoundError(productID)
	}

	return s.priceRepo.ListByProductID(ctx, productID, defaultHistoryLimit)
}
