package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"pricepulse/internal/domain/model"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("response encode failed")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("ids")
	if strings.TrimSpace(raw) == "" {
		writeError(w, http.StatusBadRequest, "ids query parameter is required")
		return
	}
	ids := strings.Split(raw, ",")
	prices := s.svc.GetPrices(r.Context(), ids)
	writeJSON(w, http.StatusOK, prices)
}

func (s *Server) handleWindow(w http.ResponseWriter, r *http.Request) {
	coinID, err := s.svc.Normalize(mux.Vars(r)["coinId"])
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown coin")
		return
	}

	window := 24 * time.Hour
	if raw := r.URL.Query().Get("duration"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "invalid duration")
			return
		}
		window = d
	}

	change, err := s.archiver.ChangeOverWindow(r.Context(), coinID, window)
	if err != nil {
		if errors.Is(err, model.ErrUnknownIdentifier) {
			writeError(w, http.StatusNotFound, "no history for coin")
			return
		}
		log.Error().Err(err).Str("coin", coinID).Msg("window change query failed")
		writeError(w, http.StatusInternalServerError, "history query failed")
		return
	}
	writeJSON(w, http.StatusOK, change)
}

func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	coinID, err := s.svc.Normalize(mux.Vars(r)["coinId"])
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown coin")
		return
	}

	hours := 24
	if raw := r.URL.Query().Get("hours"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 24*7 {
			writeError(w, http.StatusBadRequest, "invalid hours")
			return
		}
		hours = n
	}

	series, err := s.archiver.Series(r.Context(), coinID, time.Now().Add(-time.Duration(hours)*time.Hour))
	if err != nil {
		log.Error().Err(err).Str("coin", coinID).Msg("series query failed")
		writeError(w, http.StatusInternalServerError, "history query failed")
		return
	}
	if series == nil {
		series = []*model.Snapshot{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"coin_id": coinID, "points": series})
}

func (s *Server) handleListFeeds(w http.ResponseWriter, r *http.Request) {
	feeds, err := s.store.ListFeeds(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("list feeds failed")
		writeError(w, http.StatusInternalServerError, "list feeds failed")
		return
	}
	if feeds == nil {
		feeds = []*model.FeedMapping{}
	}
	writeJSON(w, http.StatusOK, feeds)
}

type saveFeedRequest struct {
	CoinID  string `json:"coin_id"`
	Chain   string `json:"chain"`
	Address string `json:"address"`
}

func (s *Server) handleSaveFeed(w http.ResponseWriter, r *http.Request) {
	var req saveFeedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	coinID, err := s.svc.Normalize(req.CoinID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unknown coin")
		return
	}
	chain := strings.ToLower(strings.TrimSpace(req.Chain))
	addr := strings.TrimSpace(req.Address)
	if chain == "" || addr == "" {
		writeError(w, http.StatusBadRequest, "chain and address are required")
		return
	}

	m := &model.FeedMapping{
		CoinID:         coinID,
		Chain:          chain,
		Address:        addr,
		Discovery:      model.DiscoveryManual,
		LastVerifiedAt: time.Now(),
	}
	if err := s.store.SaveFeed(r.Context(), m); err != nil {
		log.Error().Err(err).Str("coin", coinID).Msg("save feed failed")
		writeError(w, http.StatusInternalServerError, "save feed failed")
		return
	}
	// The old mapping may still be cached; evict so the next read uses the
	// new address.
	s.svc.ClearCoin(r.Context(), coinID)
	writeJSON(w, http.StatusCreated, m)
}

type testFeedRequest struct {
	Chain   string `json:"chain"`
	Address string `json:"address"`
}

func (s *Server) handleTestFeed(w http.ResponseWriter, r *http.Request) {
	var req testFeedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	chain := strings.ToLower(strings.TrimSpace(req.Chain))
	addr := strings.TrimSpace(req.Address)
	if chain == "" || addr == "" {
		writeError(w, http.StatusBadRequest, "chain and address are required")
		return
	}

	p, err := s.svc.TestFeed(r.Context(), chain, addr)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":         true,
		"price":      p.Price,
		"updated_at": p.UpdatedAt,
		"stale":      p.Stale,
	})
}

func (s *Server) handleDeleteFeed(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	coinID, err := s.svc.Normalize(vars["coinId"])
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown coin")
		return
	}
	chain := strings.ToLower(vars["chain"])
	if err := s.store.DeleteFeed(r.Context(), coinID, chain); err != nil {
		log.Error().Err(err).Str("coin", coinID).Msg("delete feed failed")
		writeError(w, http.StatusInternalServerError, "delete feed failed")
		return
	}
	s.svc.ClearCoin(r.Context(), coinID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"cache":        s.svc.CacheStats(),
		"connections":  s.hub.ConnCount(),
		"active_coins": s.hub.ActiveCoins(),
	})
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	coinID, err := s.svc.ClearCoin(r.Context(), mux.Vars(r)["coinId"])
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown coin")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared", "coin_id": coinID})
}

type createAlertRequest struct {
	OwnerID     string  `json:"owner_id"`
	CoinID      string  `json:"coin_id"`
	TargetPrice float64 `json:"target_price"`
	Condition   string  `json:"condition"`
}

func (s *Server) handleCreateAlert(w http.ResponseWriter, r *http.Request) {
	var req createAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.OwnerID) == "" {
		writeError(w, http.StatusBadRequest, "owner_id is required")
		return
	}
	coinID, err := s.svc.Normalize(req.CoinID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unknown coin")
		return
	}
	if req.TargetPrice <= 0 {
		writeError(w, http.StatusBadRequest, "target_price must be positive")
		return
	}
	cond := strings.ToLower(strings.TrimSpace(req.Condition))
	if cond != model.ConditionAbove && cond != model.ConditionBelow {
		writeError(w, http.StatusBadRequest, "condition must be above or below")
		return
	}

	rule := &model.AlertRule{
		ID:          uuid.NewString(),
		OwnerID:     strings.TrimSpace(req.OwnerID),
		CoinID:      coinID,
		TargetPrice: req.TargetPrice,
		Condition:   cond,
		Status:      model.AlertActive,
		CreatedAt:   time.Now(),
	}
	if err := s.store.CreateAlert(r.Context(), rule); err != nil {
		log.Error().Err(err).Str("coin", coinID).Msg("create alert failed")
		writeError(w, http.StatusInternalServerError, "create alert failed")
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	ownerID := strings.TrimSpace(r.URL.Query().Get("owner"))
	if ownerID == "" {
		writeError(w, http.StatusBadRequest, "owner query parameter is required")
		return
	}
	alerts, err := s.store.ListAlerts(r.Context(), ownerID)
	if err != nil {
		log.Error().Err(err).Str("owner", ownerID).Msg("list alerts failed")
		writeError(w, http.StatusInternalServerError, "list alerts failed")
		return
	}
	if alerts == nil {
		alerts = []*model.AlertRule{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (s *Server) handleDeleteAlert(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid alert id")
		return
	}
	if err := s.store.DeleteAlert(r.Context(), id); err != nil {
		log.Error().Err(err).Str("alert", id).Msg("delete alert failed")
		writeError(w, http.StatusInternalServerError, "delete alert failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
