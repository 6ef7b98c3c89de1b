// Package handler はHTTPエンドポイントとルーティングを提供する。
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("レスポンスの書き込みに失敗しました", slog.String("error", err.Error()))
	}
}

// urlResponse はリダイレクト先URLを返すエンドポイント共通のレスポンス。
type urlResponse struct {
	URL string `json:"url"`
}
