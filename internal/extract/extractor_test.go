package extract

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"
)

// --- モック定義 ---

// mockPage はPageのテスト用モック。
type mockPage struct {
	waitTextFunc func(ctx context.Context, selector string, timeout time.Duration) (string, error)
}

func (m *mockPage) WaitText(ctx context.Context, selector string, timeout time.Duration) (string, error) {
	if m.waitTextFunc != nil {
		return m.waitTextFunc(ctx, selector, timeout)
	}
	return "", ErrElementNotFound
}

// mockRenderer はRendererのテスト用モック。
type mockRenderer struct {
	openFunc func(ctx context.Context, pageURL string) (Page, error)
}

func (m *mockRenderer) Open(ctx context.Context, pageURL string) (Page, error) {
	if m.openFunc != nil {
		return m.openFunc(ctx, pageURL)
	}
	return &mockPage{}, nil
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

func newTestExtractor(renderer Renderer) *Extractor {
	var buf bytes.Buffer
	return NewExtractor(renderer, newTestLogger(&buf), 3*time.Second, 5*time.Second)
}

const testPageURL = "https://uzum.uz/ru/product/smartfon-123456"

// --- 抽出のテスト ---

func TestExtractor_Extract_PriceOnly(t *testing.T) {
	renderer := &mockRenderer{openFunc: func(ctx context.Context, pageURL string) (Page, error) {
		return &mockPage{waitTextFunc: func(ctx context.Context, selector string, timeout time.Duration) (string, error) {
			if selector == priceSelector {
				return "1 150 000 сум", nil
			}
			t.Errorf("wantTitle=false でタイトルセレクタを待機してはならない: %q", selector)
			return "", ErrElementNotFound
		}}, nil
	}}

	e := newTestExtractor(renderer)

	got, err := e.Extract(context.Background(), testPageURL, false)
	if err != nil {
		t.Fatalf("Extract() がエラーを返した: %v", err)
	}
	if got.Price.String() != "1150000" {
		t.Errorf("Price = %s, want 1150000", got.Price)
	}
	if got.Title != "" {
		t.Errorf("Title = %q, want 空", got.Title)
	}
}

func TestExtractor_Extract_WithTitle(t *testing.T) {
	renderer := &mockRenderer{openFunc: func(ctx context.Context, pageURL string) (Page, error) {
		return &mockPage{waitTextFunc: func(ctx context.Context, selector string, timeout time.Duration) (string, error) {
			switch selector {
			case priceSelector:
				return "99 000 сум", nil
			case titleSelector:
				return "Смартфон Samsung Galaxy A15", nil
			}
			return "", ErrElementNotFound
		}}, nil
	}}

	e := newTestExtractor(renderer)

	got, err := e.Extract(context.Background(), testPageURL, true)
	if err != nil {
		t.Fatalf("Extract() がエラーを返した: %v", err)
	}
	if got.Price.String() != "99000" {
		t.Errorf("Price = %s, want 99000", got.Price)
	}
	if got.Title != "Смартфон Samsung Galaxy A15" {
		t.Errorf("Title = %q, want 商品名", got.Title)
	}
}

func TestExtractor_Extract_UsesDistinctTimeouts(t *testing.T) {
	// 価格は短いタイムアウト、タイトルは長めのタイムアウトで待機する
	var priceTimeout, titleTimeout time.Duration

	renderer := &mockRenderer{openFunc: func(ctx context.Context, pageURL string) (Page, error) {
		return &mockPage{waitTextFunc: func(ctx context.Context, selector string, timeout time.Duration) (string, error) {
			switch selector {
			case priceSelector:
				priceTimeout = timeout
				return "100", nil
			case titleSelector:
				titleTimeout = timeout
				return "商品", nil
			}
			return "", ErrElementNotFound
		}}, nil
	}}

	var buf bytes.Buffer
	e := NewExtractor(renderer, newTestLogger(&buf), 3*time.Second, 5*time.Second)

	if _, err := e.Extract(context.Background(), testPageURL, true); err != nil {
		t.Fatalf("Extract() がエラーを返した: %v", err)
	}
	if priceTimeout != 3*time.Second {
		t.Errorf("価格待機のタイムアウト = %v, want 3s", priceTimeout)
	}
	if titleTimeout != 5*time.Second {
		t.Errorf("タイトル待機のタイムアウト = %v, want 5s", titleTimeout)
	}
}

func TestExtractor_Extract_OpenFailure(t *testing.T) {
	renderer := &mockRenderer{openFunc: func(ctx context.Context, pageURL string) (Page, error) {
		return nil, errors.New("connection refused")
	}}

	e := newTestExtractor(renderer)

	_, err := e.Extract(context.Background(), testPageURL, false)

	var extractErr *ExtractionError
	if !errors.As(err, &extractErr) {
		t.Fatalf("err = %v, want *ExtractionError", err)
	}
	if extractErr.URL != testPageURL {
		t.Errorf("extractErr.URL = %q, want %q", extractErr.URL, testPageURL)
	}
}

func TestExtractor_Extract_PriceElementMissing(t *testing.T) {
	// 価格要素の欠落は抽出失敗になる
	renderer := &mockRenderer{openFunc: func(ctx context.Context, pageURL string) (Page, error) {
		return &mockPage{}, nil
	}}

	e := newTestExtractor(renderer)

	_, err := e.Extract(context.Background(), testPageURL, false)

	var extractErr *ExtractionError
	if !errors.As(err, &extractErr) {
		t.Fatalf("err = %v, want *ExtractionError", err)
	}
	if !errors.Is(err, ErrElementNotFound) {
		t.Errorf("内包エラー = %v, want ErrElementNotFound", err)
	}
}

func TestExtractor_Extract_PriceParseFailure(t *testing.T) {
	renderer := &mockRenderer{openFunc: func(ctx context.Context, pageURL string) (Page, error) {
		return &mockPage{waitTextFunc: func(ctx context.Context, selector string, timeout time.Duration) (string, error) {
			return "Нет в наличии", nil
		}}, nil
	}}

	e := newTestExtractor(renderer)

	_, err := e.Extract(context.Background(), testPageURL, false)

	var extractErr *ExtractionError
	if !errors.As(err, &extractErr) {
		t.Fatalf("err = %v, want *ExtractionError", err)
	}
}

func TestExtractor_Extract_TitleMissingIsNotFatal(t *testing.T) {
	// タイトル要素の欠落は失敗とせず、Titleを空のまま返す
	renderer := &mockRenderer{openFunc: func(ctx context.Context, pageURL string) (Page, error) {
		return &mockPage{waitTextFunc: func(ctx context.Context, selector string, timeout time.Duration) (string, error) {
			if selector == priceSelector {
				return "150 000 сум", nil
			}
			return "", ErrElementNotFound
		}}, nil
	}}

	e := newTestExtractor(renderer)

	got, err := e.Extract(context.Background(), testPageURL, true)
	if err != nil {
		t.Fatalf("タイトル欠落で抽出全体が失敗してはならない: %v", err)
	}
	if got.Price.String() != "150000" {
		t.Errorf("Price = %s, want 150000", got.Price)
	}
	if got.Title != "" {
		t.Errorf("Title = %q, want 空", got.Title)
	}
}

// --- 価格正規化のテスト ---

func TestNormalizePrice(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"スペース区切りと通貨単位", "1 150 000 сум", "1150000"},
		{"NBSP区切り", "1 150 000 сум", "1150000"},
		{"狭いNBSP区切り", "1 150 000 сум", "1150000"},
		{"カンマ区切り", "1,150,000", "1150000"},
		{"アポストロフィ区切り", "1'150'000", "1150000"},
		{"区切りなし", "99000", "99000"},
		{"小数点付き", "150000.50", "150000.5"},
		{"先頭に通貨記号", "UZS 150 000", "150000"},
		{"前後の空白", "  150 000  ", "150000"},
		{"末尾ピリオドは無視", "150000.", "150000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizePrice(tt.input)
			if err != nil {
				t.Fatalf("NormalizePrice(%q) がエラーを返した: %v", tt.input, err)
			}
			if got.String() != tt.want {
				t.Errorf("NormalizePrice(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalizePrice_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"数値なし", "Нет в наличии"},
		{"空文字列", ""},
		{"空白のみ", "   "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NormalizePrice(tt.input); err == nil {
				t.Errorf("NormalizePrice(%q) はエラーを返すべき", tt.input)
			}
		})
	}
}
