package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/koopa0/system-design/14-naval-battle/internal/lobby"
	"github.com/koopa0/system-design/14-naval-battle/internal/match"
	"github.com/koopa0/system-design/14-naval-battle/internal/registry"
	apperrors "github.com/koopa0/system-design/14-naval-battle/pkg/errors"
)

// Handler 營運 HTTP API（唯讀）與 WebSocket 入口
type Handler struct {
	registry *registry.Registry
	lobby    *lobby.Lobby
	hub      *Hub
	logger   *slog.Logger
	started  time.Time
}

// NewHandler 創建 HTTP 處理器
func NewHandler(reg *registry.Registry, lob *lobby.Lobby, hub *Hub, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		registry: reg,
		lobby:    lob,
		hub:      hub,
		logger:   logger,
		started:  time.Now(),
	}
}

// Routes 設定路由
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	// 中間件鏈
	wrap := func(handler http.HandlerFunc) http.HandlerFunc {
		return h.recoverer(h.loggerMiddleware(handler))
	}

	mux.HandleFunc("GET /api/v1/matches", wrap(h.listMatches))
	mux.HandleFunc("GET /api/v1/matches/{match_id}", wrap(h.getMatch))
	mux.HandleFunc("GET /api/v1/players", wrap(h.listPlayers))

	// 健康檢查
	mux.HandleFunc("GET /health", wrap(h.health))
	mux.HandleFunc("GET /stats", wrap(h.stats))

	// WebSocket 連線不經過 loggerMiddleware（Hijack 需要原始 ResponseWriter）
	mux.HandleFunc("GET /ws", h.recoverer(h.hub.ServeWS))

	return mux
}

// listMatches 列出對局，可用 ?state= 過濾
func (h *Handler) listMatches(w http.ResponseWriter, r *http.Request) {
	state := match.State(r.URL.Query().Get("state"))

	summaries := make([]match.Summary, 0)
	for _, m := range h.registry.ListMatches() {
		s := m.Summary()
		if state != "" && s.State != state {
			continue
		}
		summaries = append(summaries, s)
	}

	h.jsonResponse(w, map[string]any{
		"matches": summaries,
		"total":   len(summaries),
	}, http.StatusOK)
}

// getMatch 對局詳情
func (h *Handler) getMatch(w http.ResponseWriter, r *http.Request) {
	m, err := h.registry.GetMatch(r.PathValue("match_id"))
	if err != nil {
		h.errorResponse(w, err, http.StatusNotFound)
		return
	}
	h.jsonResponse(w, m.Summary(), http.StatusOK)
}

// listPlayers 大廳中的玩家
func (h *Handler) listPlayers(w http.ResponseWriter, r *http.Request) {
	players := h.lobby.Players()
	h.jsonResponse(w, map[string]any{
		"players": players,
		"total":   len(players),
	}, http.StatusOK)
}

// health 健康檢查
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, map[string]any{
		"status": "healthy",
		"time":   time.Now().Unix(),
	}, http.StatusOK)
}

// stats 統計資訊
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, map[string]any{
		"matches":        h.registry.Stats(),
		"players":        h.lobby.Count(),
		"connections":    h.hub.ConnectionCount(),
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
	}, http.StatusOK)
}

// jsonResponse 返回 JSON 響應
func (h *Handler) jsonResponse(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("編碼 JSON 失敗", "error", err)
	}
}

// errorResponse 返回錯誤響應
func (h *Handler) errorResponse(w http.ResponseWriter, err error, status int) {
	h.jsonResponse(w, map[string]any{
		"error": err.Error(),
		"code":  apperrors.CodeOf(err),
	}, status)
}

// loggerMiddleware 日誌中間件
func (h *Handler) loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next(ww, r)

		h.logger.Info("HTTP 請求",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.statusCode,
			"duration", time.Since(start))
	}
}

// recoverer panic 恢復中間件
func (h *Handler) recoverer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				h.logger.Error("處理請求時發生 panic",
					"error", rec,
					"method", r.Method,
					"path", r.URL.Path)

				h.jsonResponse(w, map[string]any{
					"error": "內部伺服器錯誤",
					"code":  apperrors.ErrCodeInternal,
				}, http.StatusInternalServerError)
			}
		}()

		next(w, r)
	}
}

// responseWriter 包裝 ResponseWriter 以獲取狀態碼
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
