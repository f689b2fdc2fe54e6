//go:build integration

package repository

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/coinpulse/coinpulse/internal/model"
	"github.com/coinpulse/coinpulse/internal/testutil"
)

// ============================================================================
// Coin Repository Integration Tests
// ============================================================================

func newTestEnv(t *testing.T) (context.Context, *Repository) {
	t.Helper()

	dbURL := testutil.RequireEnv(t, "TEST_DATABASE_URL")
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	unlock, err := testutil.AcquireDBLock(ctx, pool)
	if err != nil {
		pool.Close()
		t.Fatalf("lock: %v", err)
	}

	if err := testutil.ResetSchema(ctx, pool); err != nil {
		_ = unlock()
		pool.Close()
		t.Fatalf("reset schema: %v", err)
	}

	t.Cleanup(func() {
		_ = unlock()
		pool.Close()
	})

	return ctx, NewFromPool(pool)
}

func TestIntegrationApplyRefresh_OneRowPerCoin(t *testing.T) {
	ctx, repo := newTestEnv(t)

	coins := testutil.NewTestCoins(t)
	now := time.Now().UTC()

	write, err := repo.ApplyRefresh(ctx, coins, now, now.Add(-30*24*time.Hour))
	if err != nil {
		t.Fatalf("ApplyRefresh failed: %v", err)
	}
	if write.Upserted != 3 || write.Inserted != 3 {
		t.Errorf("expected 3 upserted and 3 inserted, got %+v", write)
	}

	// Second cycle: same values, newer last_updated. No current rows are added.
	later := now.Add(time.Hour)
	again := testutil.NewTestCoins(t)
	for i := range again {
		again[i].LastUpdated = later
	}
	if _, err := repo.ApplyRefresh(ctx, again, later, later.Add(-30*24*time.Hour)); err != nil {
		t.Fatalf("second ApplyRefresh failed: %v", err)
	}

	stats, err := repo.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.CurrentCoins != 3 {
		t.Errorf("expected 3 current coins, got %d", stats.CurrentCoins)
	}
	if stats.HistoricalRecords != 6 {
		t.Errorf("expected 6 history records, got %d", stats.HistoricalRecords)
	}

	current, err := repo.ListCurrentCoins(ctx, 10)
	if err != nil {
		t.Fatalf("ListCurrentCoins failed: %v", err)
	}
	if len(current) != 3 || current[0].CoinID != "bitcoin" {
		t.Fatalf("unexpected current coins: %+v", current)
	}
	for i, got := range current {
		want := coins[i]
		if got.CoinID != want.CoinID {
			t.Fatalf("row %d: got %s, want %s", i, got.CoinID, want.CoinID)
		}
		if !got.Price.Equal(want.Price) || !got.MarketCap.Equal(want.MarketCap) {
			t.Errorf("%s: values changed across identical cycles: price %s market cap %s", got.CoinID, got.Price, got.MarketCap)
		}
		if got.Rank == nil || *got.Rank != *want.Rank {
			t.Errorf("%s: rank changed: %v", got.CoinID, got.Rank)
		}
		if !got.LastUpdated.After(now) || !got.LastUpdated.Equal(later.Truncate(time.Microsecond)) {
			t.Errorf("%s: last_updated did not advance to %v, got %v", got.CoinID, later, got.LastUpdated)
		}
	}
	if !current[0].Price.Equal(decimal.RequireFromString("64250.12")) {
		t.Errorf("price round-trip mismatch: %s", current[0].Price)
	}
}

func TestIntegrationApplyRefresh_UnranksDroppedCoins(t *testing.T) {
	ctx, repo := newTestEnv(t)

	now := time.Now().UTC()
	first := testutil.NewTestCoins(t) // bitcoin 1, ethereum 2, tether 3
	if _, err := repo.ApplyRefresh(ctx, first, now, now.Add(-time.Hour)); err != nil {
		t.Fatalf("seed ApplyRefresh failed: %v", err)
	}

	// ethereum leaves the top set; solana enters at rank 2 and tether moves up.
	later := now.Add(time.Hour)
	second := []model.CoinSnapshot{
		testutil.NewTestCoin(t, "bitcoin", 1, "64000"),
		testutil.NewTestCoin(t, "solana", 2, "150.25"),
		testutil.NewTestCoin(t, "tether", 3, "1"),
	}
	write, err := repo.ApplyRefresh(ctx, second, later, later.Add(-time.Hour))
	if err != nil {
		t.Fatalf("ApplyRefresh failed: %v", err)
	}
	if write.Unranked != 1 {
		t.Errorf("expected 1 unranked row, got %d", write.Unranked)
	}

	top, err := repo.ListCurrentCoins(ctx, 3)
	if err != nil {
		t.Fatalf("ListCurrentCoins failed: %v", err)
	}
	got := make([]string, len(top))
	for i, c := range top {
		got[i] = c.CoinID
	}
	if strings.Join(got, ",") != "bitcoin,solana,tether" {
		t.Errorf("top 3 = %v, want bitcoin,solana,tether", got)
	}

	dropped, err := repo.ListCurrentCoinsByIDs(ctx, []string{"ethereum"})
	if err != nil {
		t.Fatalf("ListCurrentCoinsByIDs failed: %v", err)
	}
	if len(dropped) != 1 || dropped[0].Rank != nil {
		t.Errorf("dropped coin should keep its row with no rank, got %+v", dropped)
	}
}

func TestIntegrationApplyRefresh_PrunesOldHistory(t *testing.T) {
	ctx, repo := newTestEnv(t)

	coins := testutil.NewTestCoins(t)
	old := time.Now().UTC().Add(-31 * 24 * time.Hour)

	if _, err := repo.ApplyRefresh(ctx, coins, old, old.Add(-30*24*time.Hour)); err != nil {
		t.Fatalf("seed ApplyRefresh failed: %v", err)
	}

	now := time.Now().UTC()
	write, err := repo.ApplyRefresh(ctx, coins, now, now.Add(-30*24*time.Hour))
	if err != nil {
		t.Fatalf("ApplyRefresh failed: %v", err)
	}
	if write.Pruned != 3 {
		t.Errorf("expected 3 pruned records, got %d", write.Pruned)
	}

	stats, err := repo.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.OldestRecord == nil || stats.OldestRecord.Before(now.Add(-30*24*time.Hour)) {
		t.Errorf("history older than retention survived: %v", stats.OldestRecord)
	}
}

func TestIntegrationListHistory_WindowAndOrder(t *testing.T) {
	ctx, repo := newTestEnv(t)

	coins := testutil.NewTestCoins(t)[:1]
	now := time.Now().UTC()
	for _, age := range []time.Duration{48 * time.Hour, 3 * time.Hour, 2 * time.Hour, time.Hour} {
		at := now.Add(-age)
		if _, err := repo.ApplyRefresh(ctx, coins, at, now.Add(-30*24*time.Hour)); err != nil {
			t.Fatalf("ApplyRefresh failed: %v", err)
		}
	}

	records, err := repo.ListHistory(ctx, "bitcoin", now.Add(-24*time.Hour), 168)
	if err != nil {
		t.Fatalf("ListHistory failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records in window, got %d", len(records))
	}
	for i := 1; i < len(records); i++ {
		if !records[i-1].Timestamp.After(records[i].Timestamp) {
			t.Errorf("records not newest first at %d", i)
		}
	}

	limited, err := repo.ListHistory(ctx, "bitcoin", now.Add(-24*time.Hour), 1)
	if err != nil {
		t.Fatalf("ListHistory failed: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("expected limit to cap results, got %d", len(limited))
	}
}

func TestIntegrationListCurrentCoinsByIDs(t *testing.T) {
	ctx, repo := newTestEnv(t)

	now := time.Now().UTC()
	if _, err := repo.ApplyRefresh(ctx, testutil.NewTestCoins(t), now, now.Add(-time.Hour)); err != nil {
		t.Fatalf("ApplyRefresh failed: %v", err)
	}

	coins, err := repo.ListCurrentCoinsByIDs(ctx, []string{"tether", "bitcoin"})
	if err != nil {
		t.Fatalf("ListCurrentCoinsByIDs failed: %v", err)
	}
	if len(coins) != 2 || coins[0].CoinID != "bitcoin" || coins[1].CoinID != "tether" {
		t.Errorf("unexpected coins: %+v", coins)
	}
}

func TestIntegrationStats_Empty(t *testing.T) {
	ctx, repo := newTestEnv(t)

	stats, err := repo.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.CurrentCoins != 0 || stats.HistoricalRecords != 0 {
		t.Errorf("expected empty stats, got %+v", stats)
	}
	if stats.LatestUpdate != nil || stats.OldestRecord != nil {
		t.Errorf("expected nil timestamps, got %+v", stats)
	}
}

func TestIntegrationUsers(t *testing.T) {
	ctx, repo := newTestEnv(t)

	user := testutil.NewTestUser(t, testutil.UniqueEmail("repo"))
	if err := repo.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	dup := testutil.NewTestUser(t, user.Email)
	if err := repo.CreateUser(ctx, dup); !errors.Is(err, ErrEmailExists) {
		t.Errorf("expected ErrEmailExists, got %v", err)
	}

	byEmail, err := repo.GetUserByEmail(ctx, user.Email)
	if err != nil {
		t.Fatalf("GetUserByEmail failed: %v", err)
	}
	if byEmail.ID != user.ID || byEmail.PasswordHash != user.PasswordHash {
		t.Errorf("unexpected user: %+v", byEmail)
	}

	if _, err := repo.GetUserByID(ctx, "missing"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}
}

func TestIntegrationMigrate_Idempotent(t *testing.T) {
	ctx, repo := newTestEnv(t)

	if _, err := repo.Pool().Exec(ctx, `DROP TABLE IF EXISTS schema_migrations`); err != nil {
		t.Fatalf("drop schema_migrations: %v", err)
	}

	applied, err := repo.Migrate(ctx)
	if err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	if len(applied) == 0 {
		t.Error("expected migrations to be recorded on first run")
	}

	again, err := repo.Migrate(ctx)
	if err != nil {
		t.Fatalf("second Migrate failed: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("expected no migrations on second run, got %v", again)
	}
}
