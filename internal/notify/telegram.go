package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/hitoshi/pricewatch/internal/model"
)

const (
	// defaultAPIBase はTelegram Bot APIのベースURL。
	defaultAPIBase = "https://api.telegram.org"
	// maxTitleRunes は通知ボタンに表示するタイトルの最大文字数。
	maxTitleRunes = 35
)

// ErrBotBlocked は通知先ユーザーがボットをブロックしていることを表す。
var ErrBotBlocked = errors.New("bot blocked by user")

// TelegramClient はTelegram Bot APIで通知を配信するNotifier実装。
// 変更商品ごとに商品ページへのリンクを持つインラインキーボードを構築し、
// sendMessageで1ユーザー1メッセージとして送信する。
// Bot APIのレート制限に合わせてrate.Limiterで送信を平滑化する。
type TelegramClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	token      string
	limiter    *rate.Limiter
	apiBase    string // テスト用にエンドポイントを差し替え可能
}

// NewTelegramClient はTelegramClientの新しいインスタンスを生成する。
// ratePerSecはBot API全体への秒間送信数の上限（Telegramの推奨は30未満）。
func NewTelegramClient(httpClient *http.Client, logger *slog.Logger, token string, ratePerSec float64) *TelegramClient {
	return &TelegramClient{
		httpClient: httpClient,
		logger:     logger,
		token:      token,
		limiter:    rate.NewLimiter(rate.Limit(ratePerSec), 1),
		apiBase:    defaultAPIBase,
	}
}

// inlineKeyboardButton はTelegramのインラインキーボードボタン。
type inlineKeyboardButton struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

// sendMessageRequest はsendMessageのリクエストボディ。
type sendMessageRequest struct {
	ChatID      int64  `json:"chat_id"`
	Text        string `json:"text"`
	ReplyMarkup struct {
		InlineKeyboard [][]inlineKeyboardButton `json:"inline_keyboard"`
	} `json:"reply_markup"`
}

// sendMessageResponse はBot APIのレスポンス。
type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

// SendNotification はユーザーに変更商品バッチを1回のメッセージで通知する。
// 商品ごとに1行のインラインボタン（タイトルと新価格、商品ページへのリンク）を並べる。
// ユーザーがボットをブロックしている場合（403）はErrBotBlockedを返す。
func (c *TelegramClient) SendNotification(ctx context.Context, user *model.User, batch []model.ChangedProduct) error {
	if len(batch) == 0 {
		return nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("送信レート制限の待機に失敗しました: %w", err)
	}

	reqBody := sendMessageRequest{
		ChatID: user.TelegramID,
		Text:   "監視中の商品の価格が変わりました:",
	}
	for _, product := range batch {
		label := product.Title
		if label == "" {
			label = product.URL
		}
		reqBody.ReplyMarkup.InlineKeyboard = append(reqBody.ReplyMarkup.InlineKeyboard,
			[]inlineKeyboardButton{{
				Text: fmt.Sprintf("%s 新価格: %s", truncateRunes(label, maxTitleRunes), product.NewPrice.String()),
				URL:  product.URL,
			}},
		)
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("リクエストボディの構築に失敗しました: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", c.apiBase, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("Bot APIの呼び出しに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	var result sendMessageResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("Bot APIレスポンスのパースに失敗しました: %w", err)
	}

	if !result.OK {
		if result.ErrorCode == http.StatusForbidden {
			return fmt.Errorf("%w: %s", ErrBotBlocked, result.Description)
		}
		return fmt.Errorf("Bot APIがエラーを返しました (code=%d): %s", result.ErrorCode, result.Description)
	}

	c.logger.Debug("通知を送信しました",
		slog.Int64("telegram_id", user.TelegramID),
		slog.Int("batch_size", len(batch)),
	)

	return nil
}

// truncateRunes は文字列をrune単位で最大n文字に切り詰める。
func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
