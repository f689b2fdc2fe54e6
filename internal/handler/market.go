package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/coinpulse/coinpulse/internal/coingecko"
	"github.com/coinpulse/coinpulse/internal/handler/dto"
	"github.com/coinpulse/coinpulse/internal/model"
	"github.com/coinpulse/coinpulse/internal/refresh"
	"github.com/coinpulse/coinpulse/internal/service"
)

// MarketService is the query side used by MarketHandler.
type MarketService interface {
	ListTopCoins(ctx context.Context) (*service.CoinList, error)
	ListCoinsByIDs(ctx context.Context, ids []string) (*service.CoinList, error)
	ForceRefresh(ctx context.Context) refresh.Result
	CoinHistory(ctx context.Context, coinID string, days, limit int) ([]model.CoinHistoryRecord, error)
	Stats(ctx context.Context) (*model.StoreStats, error)
	Chart(ctx context.Context, coinID string, days int) ([]model.PricePoint, error)
}

// MarketHandler handles the coin, history, stats and chart endpoints.
type MarketHandler struct {
	svc          MarketService
	logger       *slog.Logger
	exposeErrors bool
	now          func() time.Time
}

// NewMarketHandler creates a new MarketHandler.
// exposeErrors puts internal error text in responses and is meant for development.
func NewMarketHandler(svc MarketService, logger *slog.Logger, exposeErrors bool) *MarketHandler {
	return &MarketHandler{
		svc:          svc,
		logger:       logger,
		exposeErrors: exposeErrors,
		now:          time.Now,
	}
}

// ListCoins handles GET /api/coins.
func (h *MarketHandler) ListCoins(w http.ResponseWriter, r *http.Request) {
	if raw := r.URL.Query().Get("ids"); raw != "" {
		h.listCoinsByIDs(w, r, strings.Split(raw, ","))
		return
	}

	list, err := h.svc.ListTopCoins(r.Context())
	if err != nil {
		h.logger.Error("list coins failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "Failed to fetch cryptocurrency data", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ToCoinListResponse(list.Coins, list.LastUpdated))
}

func (h *MarketHandler) listCoinsByIDs(w http.ResponseWriter, r *http.Request, ids []string) {
	list, err := h.svc.ListCoinsByIDs(r.Context(), ids)
	switch {
	case errors.Is(err, service.ErrInvalidCoinID):
		writeJSON(w, http.StatusBadRequest, dto.MarketErrorResponse{Error: "Invalid coin id"})
	case errors.Is(err, service.ErrTooManyIDs):
		writeJSON(w, http.StatusBadRequest, dto.MarketErrorResponse{Error: "Too many coin ids"})
	case err != nil:
		h.logger.Error("list coins by id failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "Failed to fetch cryptocurrency data", err)
	default:
		writeJSON(w, http.StatusOK, dto.ToCoinListResponse(list.Coins, list.LastUpdated))
	}
}

// CreateSnapshot handles POST /api/history by running a manual refresh.
func (h *MarketHandler) CreateSnapshot(w http.ResponseWriter, r *http.Request) {
	result := h.svc.ForceRefresh(r.Context())

	switch result.Status {
	case refresh.StatusCompleted:
		writeJSON(w, http.StatusOK, dto.ToSnapshotResponse(result))
	case refresh.StatusSkipped:
		writeJSON(w, http.StatusConflict, dto.MarketErrorResponse{
			Success: false,
			Error:   refresh.ErrAlreadyRunning.Error(),
		})
	default:
		h.writeError(w, http.StatusInternalServerError, "Failed to create historical snapshot", result.Err)
	}
}

// History handles GET /api/history/{coinId}.
func (h *MarketHandler) History(w http.ResponseWriter, r *http.Request) {
	coinID := chi.URLParam(r, "coinId")
	days := queryInt(r, "days", 1, service.MaxHistoryDays, service.DefaultHistoryDays)
	limit := queryInt(r, "limit", 1, service.MaxHistoryLimit, service.DefaultHistoryLimit)

	records, err := h.svc.CoinHistory(r.Context(), coinID, days, limit)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidCoinID):
			writeJSON(w, http.StatusBadRequest, dto.MarketErrorResponse{Error: "Invalid coin id"})
		case errors.Is(err, service.ErrNoHistory):
			writeJSON(w, http.StatusNotFound, dto.MarketErrorResponse{Error: "No historical data found for this coin"})
		default:
			h.logger.Error("history query failed", "coin_id", coinID, "error", err)
			h.writeError(w, http.StatusInternalServerError, "Failed to fetch historical data", err)
		}
		return
	}

	writeJSON(w, http.StatusOK, dto.ToHistoryResponse(coinID, days, records))
}

// Stats handles GET /api/stats.
func (h *MarketHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Stats(r.Context())
	if err != nil {
		h.logger.Error("stats query failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "Failed to fetch statistics", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ToStatsResponse(stats, h.now()))
}

// Chart handles GET /api/coins/{coinId}/chart.
func (h *MarketHandler) Chart(w http.ResponseWriter, r *http.Request) {
	coinID := chi.URLParam(r, "coinId")
	days := queryInt(r, "days", 1, service.MaxChartDays, service.DefaultChartDays)

	points, err := h.svc.Chart(r.Context(), coinID, days)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidCoinID):
			writeJSON(w, http.StatusBadRequest, dto.MarketErrorResponse{Error: "Invalid coin id"})
		case coingecko.IsRemoteFetchError(err):
			h.logger.Warn("chart upstream fetch failed", "coin_id", coinID, "error", err)
			h.writeError(w, http.StatusBadGateway, "Failed to fetch chart data", err)
		default:
			h.logger.Error("chart query failed", "coin_id", coinID, "error", err)
			h.writeError(w, http.StatusInternalServerError, "Failed to fetch chart data", err)
		}
		return
	}

	writeJSON(w, http.StatusOK, dto.ToChartResponse(coinID, days, points))
}

// writeError writes a market error response.
func (h *MarketHandler) writeError(w http.ResponseWriter, status int, summary string, err error) {
	writeJSON(w, status, dto.MarketErrorResponse{
		Success: false,
		Error:   summary,
		Message: errorDetail(err, h.exposeErrors),
	})
}

// queryInt parses an integer query parameter. Missing, malformed or
// out-of-range values yield def.
func queryInt(r *http.Request, name string, min, max, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < min || v > max {
		return def
	}
	return v
}
