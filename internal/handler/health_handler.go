package handler

import (
	"net/http"
	"time"
)

// healthResponse はヘルスチェックのAPIレスポンス。
type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// Health はサーバーの稼働確認として現在時刻を返す。
// ストアの状態には依存せず、プロセスが要求に応答できる限り常に200を返す。
// GET /health
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// infoResponse はサーバー情報のAPIレスポンス。
type infoResponse struct {
	Name      string            `json:"name"`
	Endpoints map[string]string `json:"endpoints"`
}

// Info はサーバー名と利用可能なエンドポイントの一覧を返す。
// GET / および GET /api
func Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, infoResponse{
		Name: "XRC Authentication Server",
		Endpoints: map[string]string{
			"initialize": "POST /api/loader/initialize",
			"login":      "POST /api/loader/login",
			"load":       "POST /api/loader/load",
			"destruct":   "POST /api/loader/destruct",
			"health":     "GET /health",
		},
	})
}
