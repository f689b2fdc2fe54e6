package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/coinpulse/coinpulse/internal/model"
)

const (
	// maxRefreshAttempts bounds retries of the refresh transaction.
	maxRefreshAttempts = 3
	// refreshRetryBackoff is the base delay between attempts.
	refreshRetryBackoff = 100 * time.Millisecond
)

// RefreshWrite reports the rows touched by ApplyRefresh.
type RefreshWrite struct {
	Upserted int
	Inserted int
	Pruned   int64
	// Unranked counts current_coins rows that left the fetched set and had
	// their rank cleared.
	Unranked int64
	Attempts int
}

const upsertCurrentCoinSQL = `
	INSERT INTO current_coins (
		coin_id, name, symbol, price, market_cap, price_change_24h,
		image, rank, last_updated, created_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
	ON CONFLICT (coin_id) DO UPDATE SET
		name             = EXCLUDED.name,
		symbol           = EXCLUDED.symbol,
		price            = EXCLUDED.price,
		market_cap       = EXCLUDED.market_cap,
		price_change_24h = EXCLUDED.price_change_24h,
		image            = EXCLUDED.image,
		rank             = EXCLUDED.rank,
		last_updated     = EXCLUDED.last_updated,
		updated_at       = NOW()
`

const insertHistorySQL = `
	INSERT INTO coin_history (
		coin_id, name, symbol, price, market_cap, price_change_24h,
		image, rank, "timestamp", created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
`

// unrankMissingSQL clears the rank of current rows absent from the latest
// fetch, so coins that dropped out of the top N sort after the ranked ones.
const unrankMissingSQL = `
	UPDATE current_coins
	SET rank = NULL, updated_at = NOW()
	WHERE rank IS NOT NULL AND NOT (coin_id = ANY($1))
`

const coinColumns = `
	coin_id, name, symbol, price::text, market_cap::text, price_change_24h::text,
	COALESCE(image, ''), rank, last_updated
`

const historyColumns = `
	id, coin_id, name, symbol, price::text, market_cap::text, price_change_24h::text,
	COALESCE(image, ''), rank, "timestamp"
`

// ApplyRefresh writes one refresh cycle as a single transaction:
// upsert every coin into current_coins, clear the rank of current rows the
// fetch no longer contains, append one coin_history row per coin
// stamped capturedAt, and delete history older than cutoff.
// Serialization failures and deadlocks are retried.
func (r *Repository) ApplyRefresh(ctx context.Context, coins []model.CoinSnapshot, capturedAt, cutoff time.Time) (*RefreshWrite, error) {
	var lastErr error

	for attempt := 1; attempt <= maxRefreshAttempts; attempt++ {
		write, err := r.applyRefreshOnce(ctx, coins, capturedAt, cutoff)
		if err == nil {
			write.Attempts = attempt
			return write, nil
		}

		lastErr = err
		if !isRetryableTxError(err) || attempt == maxRefreshAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * refreshRetryBackoff):
		}
	}

	return nil, lastErr
}

func (r *Repository) applyRefreshOnce(ctx context.Context, coins []model.CoinSnapshot, capturedAt, cutoff time.Time) (*RefreshWrite, error) {
	write := &RefreshWrite{}

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if len(coins) > 0 {
			batch := &pgx.Batch{}
			for i := range coins {
				c := &coins[i]
				batch.Queue(upsertCurrentCoinSQL,
					c.CoinID, c.Name, c.Symbol, c.Price, c.MarketCap, c.PriceChange24h,
					nullableString(c.Image), c.Rank, c.LastUpdated,
				)
			}
			for i := range coins {
				h := coins[i].HistoryAt(capturedAt)
				batch.Queue(insertHistorySQL,
					h.CoinID, h.Name, h.Symbol, h.Price, h.MarketCap, h.PriceChange24h,
					nullableString(h.Image), h.Rank, h.Timestamp,
				)
			}

			results := tx.SendBatch(ctx, batch)
			for i := range coins {
				if _, err := results.Exec(); err != nil {
					results.Close()
					return fmt.Errorf("upsert current coin %s: %w", coins[i].CoinID, err)
				}
			}
			for i := range coins {
				if _, err := results.Exec(); err != nil {
					results.Close()
					return fmt.Errorf("insert history for %s: %w", coins[i].CoinID, err)
				}
			}
			if err := results.Close(); err != nil {
				return fmt.Errorf("close refresh batch: %w", err)
			}
			write.Upserted = len(coins)
			write.Inserted = len(coins)

			ids := make([]string, len(coins))
			for i := range coins {
				ids[i] = coins[i].CoinID
			}
			tag, err := tx.Exec(ctx, unrankMissingSQL, pq.Array(ids))
			if err != nil {
				return fmt.Errorf("unrank dropped coins: %w", err)
			}
			write.Unranked = tag.RowsAffected()
		}

		tag, err := tx.Exec(ctx, `DELETE FROM coin_history WHERE "timestamp" < $1`, cutoff)
		if err != nil {
			return fmt.Errorf("prune history: %w", err)
		}
		write.Pruned = tag.RowsAffected()

		return nil
	})
	if err != nil {
		return nil, err
	}

	return write, nil
}

// ListCurrentCoins returns up to limit snapshots ordered by rank.
func (r *Repository) ListCurrentCoins(ctx context.Context, limit int) ([]model.CoinSnapshot, error) {
	query := `SELECT ` + coinColumns + `
		FROM current_coins
		ORDER BY rank ASC NULLS LAST, coin_id ASC
		LIMIT $1
	`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list current coins: %w", err)
	}

	return collectCoins(rows)
}

// ListCurrentCoinsByIDs returns the snapshots for ids ordered by rank.
func (r *Repository) ListCurrentCoinsByIDs(ctx context.Context, ids []string) ([]model.CoinSnapshot, error) {
	if len(ids) == 0 {
		return []model.CoinSnapshot{}, nil
	}

	query := `SELECT ` + coinColumns + `
		FROM current_coins
		WHERE coin_id = ANY($1)
		ORDER BY rank ASC NULLS LAST, coin_id ASC
	`

	rows, err := r.pool.Query(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to list current coins by id: %w", err)
	}

	return collectCoins(rows)
}

// ListHistory returns the newest records of coinID captured at or after since,
// newest first, capped at limit.
func (r *Repository) ListHistory(ctx context.Context, coinID string, since time.Time, limit int) ([]model.CoinHistoryRecord, error) {
	query := `SELECT ` + historyColumns + `
		FROM coin_history
		WHERE coin_id = $1 AND "timestamp" >= $2
		ORDER BY "timestamp" DESC, id DESC
		LIMIT $3
	`

	rows, err := r.pool.Query(ctx, query, coinID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	records := make([]model.CoinHistoryRecord, 0)
	for rows.Next() {
		var h model.CoinHistoryRecord
		if err := rows.Scan(
			&h.ID, &h.CoinID, &h.Name, &h.Symbol,
			&h.Price, &h.MarketCap, &h.PriceChange24h,
			&h.Image, &h.Rank, &h.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		records = append(records, h)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate history: %w", err)
	}

	return records, nil
}

// Stats returns counts and boundary timestamps of both collections.
func (r *Repository) Stats(ctx context.Context) (*model.StoreStats, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM current_coins),
			(SELECT COUNT(*) FROM coin_history),
			(SELECT MAX(last_updated) FROM current_coins),
			(SELECT MIN("timestamp") FROM coin_history)
	`

	var stats model.StoreStats
	if err := r.pool.QueryRow(ctx, query).Scan(
		&stats.CurrentCoins,
		&stats.HistoricalRecords,
		&stats.LatestUpdate,
		&stats.OldestRecord,
	); err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}

	return &stats, nil
}

func collectCoins(rows pgx.Rows) ([]model.CoinSnapshot, error) {
	defer rows.Close()

	coins := make([]model.CoinSnapshot, 0)
	for rows.Next() {
		var c model.CoinSnapshot
		if err := rows.Scan(
			&c.CoinID, &c.Name, &c.Symbol,
			&c.Price, &c.MarketCap, &c.PriceChange24h,
			&c.Image, &c.Rank, &c.LastUpdated,
		); err != nil {
			return nil, fmt.Errorf("failed to scan coin: %w", err)
		}
		coins = append(coins, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate coins: %w", err)
	}

	return coins, nil
}

// isRetryableTxError reports serialization failures and deadlocks.
func isRetryableTxError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
