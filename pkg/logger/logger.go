// Package logger 提供結構化日誌功能
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// contextKey 用於上下文的鍵類型
type contextKey string

const (
	// MatchIDKey 對局 ID 的上下文鍵
	MatchIDKey contextKey = "match_id"
	// PlayerIDKey 玩家 ID 的上下文鍵
	PlayerIDKey contextKey = "player_id"
)

// Options 日誌配置
type Options struct {
	Level     string
	Format    string // text 或 json
	Output    string // stdout、stderr 或檔案路徑
	AddSource bool
}

// New 依配置創建日誌記錄器
func New(opts Options) (*slog.Logger, error) {
	var output io.Writer
	switch opts.Output {
	case "", "stdout":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	default:
		// #nosec G304 - 路徑來自配置檔
		file, err := os.OpenFile(opts.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, err
		}
		output = file
	}

	return NewWithWriter(output, opts), nil
}

// NewWithWriter 使用指定輸出創建日誌記錄器（測試用）
func NewWithWriter(w io.Writer, opts Options) *slog.Logger {
	handlerOpts := &slog.HandlerOptions{
		Level:     ParseLevel(opts.Level),
		AddSource: opts.AddSource,
	}

	var handler slog.Handler
	switch strings.ToLower(opts.Format) {
	case "json":
		handler = slog.NewJSONHandler(w, handlerOpts)
	default:
		handler = slog.NewTextHandler(w, handlerOpts)
	}

	// 包裝處理器以添加上下文資訊
	return slog.New(&contextHandler{Handler: handler})
}

// Init 初始化並設置預設日誌記錄器
func Init(opts Options) (*slog.Logger, error) {
	l, err := New(opts)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(l)
	return l, nil
}

// ParseLevel 解析日誌級別
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// contextHandler 從上下文中提取對局與玩家資訊
type contextHandler struct {
	slog.Handler
}

// Handle 處理日誌記錄
func (h *contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if matchID, ok := ctx.Value(MatchIDKey).(string); ok && matchID != "" {
		r.AddAttrs(slog.String("match_id", matchID))
	}
	if playerID, ok := ctx.Value(PlayerIDKey).(string); ok && playerID != "" {
		r.AddAttrs(slog.String("player_id", playerID))
	}
	return h.Handler.Handle(ctx, r)
}

// WithAttrs 保留上下文處理器的包裝
func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

// WithGroup 保留上下文處理器的包裝
func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithGroup(name)}
}

// WithMatchID 添加對局 ID 到上下文
func WithMatchID(ctx context.Context, matchID string) context.Context {
	return context.WithValue(ctx, MatchIDKey, matchID)
}

// WithPlayerID 添加玩家 ID 到上下文
func WithPlayerID(ctx context.Context, playerID string) context.Context {
	return context.WithValue(ctx, PlayerIDKey, playerID)
}

// Discard 返回丟棄所有輸出的日誌記錄器
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}
