// Package model defines domain entities for the application.
package model

import (
	"regexp"
	"time"

	"github.com/shopspring/decimal"
)

// CoinSnapshot is the latest known market state of a coin.
// The store keeps exactly one snapshot per CoinID.
type CoinSnapshot struct {
	CoinID         string          `json:"coin_id"`
	Name           string          `json:"name"`
	Symbol         string          `json:"symbol"`
	Price          decimal.Decimal `json:"price"`
	MarketCap      decimal.Decimal `json:"market_cap"`
	PriceChange24h decimal.Decimal `json:"price_change_24h"`
	Image          string          `json:"image,omitempty"`
	Rank           *int            `json:"rank,omitempty"`
	LastUpdated    time.Time       `json:"last_updated"`
}

// IsStale reports whether the snapshot is older than window at now.
func (c *CoinSnapshot) IsStale(now time.Time, window time.Duration) bool {
	return c.LastUpdated.Before(now.Add(-window))
}

// HistoryAt builds the history record captured for this snapshot at capturedAt.
func (c *CoinSnapshot) HistoryAt(capturedAt time.Time) CoinHistoryRecord {
	return CoinHistoryRecord{
		CoinID:         c.CoinID,
		Name:           c.Name,
		Symbol:         c.Symbol,
		Price:          c.Price,
		MarketCap:      c.MarketCap,
		PriceChange24h: c.PriceChange24h,
		Image:          c.Image,
		Rank:           c.Rank,
		Timestamp:      capturedAt,
	}
}

// CoinHistoryRecord is an immutable copy of a coin's state captured during a refresh.
type CoinHistoryRecord struct {
	ID             int64           `json:"id"`
	CoinID         string          `json:"coin_id"`
	Name           string          `json:"name"`
	Symbol         string          `json:"symbol"`
	Price          decimal.Decimal `json:"price"`
	MarketCap      decimal.Decimal `json:"market_cap"`
	PriceChange24h decimal.Decimal `json:"price_change_24h"`
	Image          string          `json:"image,omitempty"`
	Rank           *int            `json:"rank,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}

// PricePoint is one sample of an upstream price series.
type PricePoint struct {
	Timestamp time.Time       `json:"timestamp"`
	Price     decimal.Decimal `json:"price"`
}

// StoreStats summarizes the snapshot and history collections.
type StoreStats struct {
	CurrentCoins      int64
	HistoricalRecords int64
	LatestUpdate      *time.Time
	OldestRecord      *time.Time
}

// NewestUpdate returns the most recent LastUpdated among coins.
// The zero time is returned for an empty slice.
func NewestUpdate(coins []CoinSnapshot) time.Time {
	var newest time.Time
	for i := range coins {
		if coins[i].LastUpdated.After(newest) {
			newest = coins[i].LastUpdated
		}
	}
	return newest
}

// AnyStale reports whether the set is empty or any coin is older than window.
func AnyStale(coins []CoinSnapshot, now time.Time, window time.Duration) bool {
	if len(coins) == 0 {
		return true
	}
	for i := range coins {
		if coins[i].IsStale(now, window) {
			return true
		}
	}
	return false
}

// coinIDPattern matches upstream coin identifiers such as "bitcoin" or "usd-coin".
var coinIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{0,99}$`)

// ValidCoinID reports whether id looks like an upstream coin identifier.
func ValidCoinID(id string) bool {
	return coinIDPattern.MatchString(id)
}
