package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"card-tracker-go/chart"
	"card-tracker-go/infrastructure/logger"
	"card-tracker-go/internal/engine"
	"card-tracker-go/internal/server/ws"
	"card-tracker-go/market"
	"card-tracker-go/settings"
)

// Pipeline 服务端需要的流水线操作
type Pipeline interface {
	SetCard(card market.CardRef) error
	UpdateSettings(s settings.Settings, source string) (bool, error)
	Refresh() error
	Settings() settings.Settings
	Card() market.CardRef
	Health() error
}

// Config 服务端参数
type Config struct {
	DefaultSeason string
	Defaults      settings.Settings // 宽松解析失败时的回退值
}

// Server 控制面板 API 与图表推送。它同时是流水线的 Renderer。
type Server struct {
	cfg      Config
	pipeline Pipeline
	store    settings.Store
	hub      *ws.Hub
	logger   *logger.Logger

	mu     sync.RWMutex
	latest *chart.Chart

	handler http.Handler
}

// New 创建服务端；pipeline 可稍后通过 Attach 注入（流水线需要以 Server 作为 Renderer）。
func New(cfg Config, store settings.Store, hub *ws.Hub, log *logger.Logger) *Server {
	if cfg.DefaultSeason == "" {
		cfg.DefaultSeason = market.DefaultSeason
	}
	if cfg.Defaults == (settings.Settings{}) {
		cfg.Defaults = settings.Defaults()
	}
	if log == nil {
		log = logger.NewNop()
	}
	s := &Server{cfg: cfg, store: store, hub: hub, logger: log}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/chart", s.handleChart)
	mux.HandleFunc("GET /api/settings", s.handleGetSettings)
	mux.HandleFunc("PUT /api/settings", s.handlePutSettings)
	mux.HandleFunc("POST /api/track", s.handleTrack)
	mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}
	s.handler = Logging(log)(mux)
	return s
}

// Attach 注入流水线
func (s *Server) Attach(p Pipeline) {
	s.pipeline = p
}

// Handler 返回带访问日志的路由
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Render 保存最新图表并推送给所有 WebSocket 客户端。
func (s *Server) Render(c chart.Chart) {
	s.mu.Lock()
	s.latest = &c
	s.mu.Unlock()

	if s.hub == nil {
		return
	}
	data, err := json.Marshal(c)
	if err != nil {
		s.logger.LogError(err, map[string]interface{}{"action": "marshal_chart"})
		return
	}
	s.hub.Broadcast(data)
}

// Latest 最近一次渲染的图表
func (s *Server) Latest() (chart.Chart, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return chart.Chart{}, false
	}
	return *s.latest, true
}

func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	c, ok := s.Latest()
	if !ok {
		writeError(w, http.StatusNotFound, "no chart rendered yet")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.pipeline.Settings())
}

// settingsRequest 字段可以是字符串或数字；缺省表示保持当前值。
type settingsRequest struct {
	TradeLimit       json.RawMessage `json:"tradeLimit"`
	OutlierThreshold json.RawMessage `json:"outlierThreshold"`
}

type settingsResponse struct {
	settings.Settings
	Changed bool `json:"changed"`
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	next := s.pipeline.Settings()
	if req.TradeLimit != nil {
		next.TradeLimit = settings.ParseTradeLimitOr(rawString(req.TradeLimit), s.cfg.Defaults.TradeLimit)
	}
	if req.OutlierThreshold != nil {
		next.OutlierThreshold = settings.ParseThresholdOr(rawString(req.OutlierThreshold), s.cfg.Defaults.OutlierThreshold)
	}

	if s.store != nil {
		if err := settings.Save(r.Context(), s.store, next); err != nil {
			s.logger.LogError(err, map[string]interface{}{"action": "save_settings"})
			writeError(w, http.StatusInternalServerError, "failed to persist settings")
			return
		}
	}
	changed, err := s.pipeline.UpdateSettings(next, "api")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, settingsResponse{Settings: next, Changed: changed})
}

type trackRequest struct {
	URL    string `json:"url"`
	CardID string `json:"cardId"`
	Season string `json:"season"`
}

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	var req trackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	var card market.CardRef
	switch {
	case req.URL != "":
		c, err := market.ParseCardURL(req.URL, s.cfg.DefaultSeason)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		card = c
	case req.CardID != "":
		card = market.CardRef{ID: req.CardID, Season: req.Season}
		if card.Season == "" {
			card.Season = s.cfg.DefaultSeason
		}
	default:
		writeError(w, http.StatusBadRequest, "url or cardId is required")
		return
	}

	if err := s.pipeline.SetCard(card); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, card)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.pipeline.Refresh(); err != nil {
		if errors.Is(err, engine.ErrNoCard) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, s.pipeline.Card())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.pipeline == nil {
		writeError(w, http.StatusServiceUnavailable, "pipeline not attached")
		return
	}
	if err := s.pipeline.Health(); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// rawString 把 JSON 字符串或数字统一成文本；null 得到空串。
func rawString(raw json.RawMessage) string {
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str
	}
	return string(raw)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
