// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"log/slog"
	"time"
)

// AuditLog は監査ログの構造体。
type AuditLog struct {
	Operation  string `json:"operation"`
	TableName  string `json:"table_name"`
	Identifier string `json:"identifier,omitempty"`
	Result     string `json:"result"`
	Timestamp  string `json:"timestamp"`
}

// WriteAuditLog は監査ログを出力する。
func WriteAuditLog(ctx context.Context, operation, tableName, identifier, result string) {
	slog.InfoContext(ctx, "token operation completed",
		"operation", operation,
		"table_name", tableName,
		"identifier", identifier,
		"result", result,
		"timestamp", time.Now().UTC().Format(time.RFC3339),
	)
}
