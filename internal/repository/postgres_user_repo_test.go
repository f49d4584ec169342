package repository

import (
	"database/sql"
	"testing"
	"time"

	"github.com/hitoshi/pricewatch/internal/model"
)

// PostgresUserRepoはUserRepositoryインターフェースを満たすことを検証
func TestPostgresUserRepo_ImplementsInterface(t *testing.T) {
	var _ UserRepository = (*PostgresUserRepo)(nil)
}

// NewPostgresUserRepoが正しく初期化されることを検証
func TestNewPostgresUserRepo_Initializes(t *testing.T) {
	repo := NewPostgresUserRepo(nil)
	if repo == nil {
		t.Fatal("expected non-nil repo")
	}
}

// Userモデルのフィールドが正しく構築されることを検証
func TestPostgresUserRepo_UserModel_Fields(t *testing.T) {
	now := time.Now()
	user := &model.User{
		ID:         "user-id-1",
		TelegramID: 123456789,
		Username:   "test_user",
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if user.ID != "user-id-1" {
		t.Errorf("user.ID = %q, want %q", user.ID, "user-id-1")
	}
	if user.TelegramID != 123456789 {
		t.Errorf("user.TelegramID = %d, want %d", user.TelegramID, 123456789)
	}
	if !user.Active {
		t.Error("user.Active should be true")
	}
}

// nullStringが空文字列と非空文字列を正しく変換することを検証
func TestNullString(t *testing.T) {
	empty := nullString("")
	if empty.Valid {
		t.Error("nullString(\"\") should be invalid")
	}

	filled := nullString("username")
	if !filled.Valid {
		t.Error("nullString(\"username\") should be valid")
	}
	if filled.String != "username" {
		t.Errorf("filled.String = %q, want %q", filled.String, "username")
	}
}

// nullStringValueがNULLと値ありを正しく取り出すことを検証
func TestNullStringValue(t *testing.T) {
	if got := nullStringValue(sql.NullString{}); got != "" {
		t.Errorf("nullStringValue(NULL) = %q, want \"\"", got)
	}

	if got := nullStringValue(sql.NullString{String: "username", Valid: true}); got != "username" {
		t.Errorf("nullStringValue = %q, want %q", got, "username")
	}
}
