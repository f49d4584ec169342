// Package model はドメインモデルを定義する。
package model

import "time"

// User は価格監視サービスの利用ユーザーを表す。
// 外部チャット基盤（Telegram）のチャットIDで識別される。
// activeがfalseのユーザーは通知対象から除外される。
type User struct {
	ID         string
	TelegramID int64
	Username   string
	Active     bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
