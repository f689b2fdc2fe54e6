// Package dto provides Data Transfer Objects for API requests and responses.
package dto

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coinpulse/coinpulse/internal/model"
	"github.com/coinpulse/coinpulse/internal/refresh"
)

// CoinResponse represents a coin in API responses.
type CoinResponse struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	Symbol         string      `json:"symbol"`
	Price          json.Number `json:"price"`
	MarketCap      json.Number `json:"marketCap"`
	PriceChange24h json.Number `json:"priceChange24h"`
	Image          string      `json:"image"`
	Rank           *int        `json:"rank"`
	LastUpdated    time.Time   `json:"lastUpdated"`
}

// CoinListResponse is the body of GET /api/coins.
type CoinListResponse struct {
	Success     bool           `json:"success"`
	Data        []CoinResponse `json:"data"`
	Count       int            `json:"count"`
	LastUpdated time.Time      `json:"lastUpdated"`
}

// RefreshResult summarizes a completed manual refresh.
type RefreshResult struct {
	Fetched int   `json:"fetched"`
	Pruned  int64 `json:"pruned"`
}

// SnapshotResponse is the body of a successful POST /api/history.
type SnapshotResponse struct {
	Success   bool          `json:"success"`
	Message   string        `json:"message"`
	Timestamp time.Time     `json:"timestamp"`
	Result    RefreshResult `json:"result"`
}

// HistoryPoint is one stored history record.
type HistoryPoint struct {
	Timestamp      time.Time   `json:"timestamp"`
	Price          json.Number `json:"price"`
	MarketCap      json.Number `json:"marketCap"`
	PriceChange24h json.Number `json:"priceChange24h"`
}

// HistoryResponse is the body of GET /api/history/{coinId}.
type HistoryResponse struct {
	Success bool           `json:"success"`
	CoinID  string         `json:"coinId"`
	Data    []HistoryPoint `json:"data"`
	Count   int            `json:"count"`
	Period  string         `json:"period"`
}

// Stats summarizes stored data.
type Stats struct {
	CurrentCoins      int64      `json:"currentCoins"`
	HistoricalRecords int64      `json:"historicalRecords"`
	LatestUpdate      *time.Time `json:"latestUpdate"`
	OldestRecord      *time.Time `json:"oldestRecord"`
	ServerTime        time.Time  `json:"serverTime"`
}

// StatsResponse is the body of GET /api/stats.
type StatsResponse struct {
	Success bool  `json:"success"`
	Stats   Stats `json:"stats"`
}

// ChartPoint is one sample of an upstream price series.
type ChartPoint struct {
	Timestamp time.Time   `json:"timestamp"`
	Price     json.Number `json:"price"`
}

// ChartResponse is the body of GET /api/coins/{coinId}/chart.
type ChartResponse struct {
	Success bool         `json:"success"`
	CoinID  string       `json:"coinId"`
	Data    []ChartPoint `json:"data"`
	Count   int          `json:"count"`
	Period  string       `json:"period"`
}

// MarketErrorResponse is the error body of the market endpoints.
type MarketErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// number renders a decimal as a JSON number without losing precision.
func number(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}

// ToCoinListResponse converts a coin list to its API form.
func ToCoinListResponse(coins []model.CoinSnapshot, lastUpdated time.Time) CoinListResponse {
	data := make([]CoinResponse, 0, len(coins))
	for i := range coins {
		c := &coins[i]
		data = append(data, CoinResponse{
			ID:             c.CoinID,
			Name:           c.Name,
			Symbol:         c.Symbol,
			Price:          number(c.Price),
			MarketCap:      number(c.MarketCap),
			PriceChange24h: number(c.PriceChange24h),
			Image:          c.Image,
			Rank:           c.Rank,
			LastUpdated:    c.LastUpdated.UTC(),
		})
	}
	return CoinListResponse{
		Success:     true,
		Data:        data,
		Count:       len(data),
		LastUpdated: lastUpdated.UTC(),
	}
}

// ToSnapshotResponse converts a completed refresh to its API form.
func ToSnapshotResponse(result refresh.Result) SnapshotResponse {
	return SnapshotResponse{
		Success:   true,
		Message:   "Historical data snapshot created successfully",
		Timestamp: result.FinishedAt.UTC(),
		Result: RefreshResult{
			Fetched: result.Fetched,
			Pruned:  result.Pruned,
		},
	}
}

// ToHistoryResponse converts history records to their API form.
func ToHistoryResponse(coinID string, days int, records []model.CoinHistoryRecord) HistoryResponse {
	data := make([]HistoryPoint, 0, len(records))
	for i := range records {
		r := &records[i]
		data = append(data, HistoryPoint{
			Timestamp:      r.Timestamp.UTC(),
			Price:          number(r.Price),
			MarketCap:      number(r.MarketCap),
			PriceChange24h: number(r.PriceChange24h),
		})
	}
	return HistoryResponse{
		Success: true,
		CoinID:  coinID,
		Data:    data,
		Count:   len(data),
		Period:  period(days),
	}
}

// ToStatsResponse converts store stats to their API form.
func ToStatsResponse(stats *model.StoreStats, serverTime time.Time) StatsResponse {
	return StatsResponse{
		Success: true,
		Stats: Stats{
			CurrentCoins:      stats.CurrentCoins,
			HistoricalRecords: stats.HistoricalRecords,
			LatestUpdate:      utcPtr(stats.LatestUpdate),
			OldestRecord:      utcPtr(stats.OldestRecord),
			ServerTime:        serverTime.UTC(),
		},
	}
}

// ToChartResponse converts an upstream price series to its API form.
func ToChartResponse(coinID string, days int, points []model.PricePoint) ChartResponse {
	data := make([]ChartPoint, 0, len(points))
	for _, p := range points {
		data = append(data, ChartPoint{Timestamp: p.Timestamp.UTC(), Price: number(p.Price)})
	}
	return ChartResponse{
		Success: true,
		CoinID:  coinID,
		Data:    data,
		Count:   len(data),
		Period:  period(days),
	}
}

func period(days int) string {
	if days == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", days)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
