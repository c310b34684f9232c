// Package logger はJSON構造化ログの初期化を提供する。
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// ServiceName は全ログに付与するサービス名。
const ServiceName = "birthday-portal"

// redactedKeys は値をマスクして出力する属性キー。
var redactedKeys = map[string]bool{
	"password":      true,
	"new_password":  true,
	"password_hash": true,
	"viewer_token":  true,
	"token":         true,
}

// ParseLevel はLOG_LEVELの値をslog.Levelに変換する。不明な値はInfoとする。
func ParseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return level
}

// Setup はJSON構造化ログ出力のslog.Loggerを生成して返す。
// writerが指定された場合はそのwriterに出力する。
func Setup(w io.Writer, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: redact,
	})
	return slog.New(handler).With(slog.String("service", ServiceName))
}

// SetupDefault はJSON構造化ログ出力をグローバルロガーとして設定する。
// 設定読み込み前に呼ばれるため、ログレベルは環境変数LOG_LEVELから直接読む。
func SetupDefault(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	slog.SetDefault(Setup(w, ParseLevel(os.Getenv("LOG_LEVEL"))))
}

func redact(groups []string, a slog.Attr) slog.Attr {
	if redactedKeys[a.Key] {
		return slog.String(a.Key, "[REDACTED]")
	}
	return a
}
