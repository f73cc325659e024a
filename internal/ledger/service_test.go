package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/claerdex/trading-engine/internal/chain"
	"github.com/claerdex/trading-engine/internal/config"
	"github.com/claerdex/trading-engine/internal/ledger"
	"github.com/claerdex/trading-engine/internal/model"
	"github.com/claerdex/trading-engine/internal/pnl"
	"github.com/claerdex/trading-engine/internal/pricefeed"
	"github.com/claerdex/trading-engine/internal/store"
)

// --- Test doubles ---

type stubOracle struct {
	balance decimal.Decimal
}

func (o stubOracle) Balance(_ context.Context, _ string) decimal.Decimal {
	return o.balance
}

type stubAttestor struct {
	ref string
	err error
}

func (a *stubAttestor) Record(_ context.Context, _ model.Position) (string, error) {
	return a.ref, a.err
}

type stubStatus struct {
	block chain.Block
}

func (s stubStatus) Status(_ context.Context) chain.Block {
	return s.block
}

// failingStore injects persistence errors around a working MemoryStore.
type failingStore struct {
	*store.MemoryStore
	failGet  bool
	failSave bool
}

func (f *failingStore) GetAccount(ctx context.Context, address string) (*model.Account, error) {
	if f.failGet {
		return nil, errors.New("connection reset")
	}
	return f.MemoryStore.GetAccount(ctx, address)
}

func (f *failingStore) SaveAccount(ctx context.Context, account *model.Account) error {
	if f.failSave {
		return errors.New("connection reset")
	}
	return f.MemoryStore.SaveAccount(ctx, account)
}

// --- Fixture ---

// testClock starts inside a quote window whose synthetic walk has zero
// steps, so every asset quotes exactly at its base price until the clock
// is advanced.
const testClockStart = int64(500)

type testEnv struct {
	svc      *ledger.Service
	store    *store.MemoryStore
	feed     *pricefeed.Feed
	attestor *stubAttestor
	nowUnix  *int64
}

func testAssets() []config.AssetConfig {
	return []config.AssetConfig{
		{Symbol: "AE", BasePrice: 0.03, Volatility: 0.002, Precision: 4},
		{Symbol: "BTC", BasePrice: 68000, Volatility: 0.003, Precision: 2},
		{Symbol: "ETH", BasePrice: 3500, Volatility: 0.0025, Precision: 2},
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	nowUnix := testClockStart
	now := func() time.Time { return time.Unix(nowUnix, 0).UTC() }

	registry := pricefeed.NewRegistry(testAssets())
	synthetic := pricefeed.NewSynthetic(registry, 5, nil, now)
	st := store.NewMemoryStore()
	feed := pricefeed.NewFeed(registry, nil, st, synthetic, time.Second, 1000)

	attestor := &stubAttestor{ref: "th_testref"}
	oracle := stubOracle{balance: decimal.NewFromInt(1000)}
	status := stubStatus{block: chain.Block{Height: 1000001, Hash: "kh_test", Miner: "ak_miner"}}

	svc := ledger.NewService(st, feed, oracle, attestor, status, nil)

	return &testEnv{svc: svc, store: st, feed: feed, attestor: attestor, nowUnix: &nowUnix}
}

func checkInvariant(t *testing.T, account *model.Account) {
	t.Helper()
	want := account.OnChainBalanceAE.Sub(account.LockedCollateral())
	if !account.AvailableCollateralAE.Equal(want) {
		t.Errorf("invariant broken: available = %s, balance - locked = %s",
			account.AvailableCollateralAE, want)
	}
}

// --- Open ---

func TestOpen(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	position, txRef, err := env.svc.Open(ctx, "ak_alice", "BTC", model.SideLong,
		decimal.NewFromInt(10), decimal.NewFromInt(5))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if !position.EntryPrice.Equal(decimal.NewFromInt(68000)) {
		t.Errorf("entry price = %s, want 68000", position.EntryPrice)
	}
	if !position.SizeUSD.Equal(decimal.NewFromInt(3400000)) {
		t.Errorf("size_usd = %s, want 3400000", position.SizeUSD)
	}
	if !position.LiquidationPrice.Equal(decimal.NewFromInt(54400)) {
		t.Errorf("liquidation = %s, want 54400", position.LiquidationPrice)
	}
	if txRef != "th_testref" {
		t.Errorf("txRef = %q, want th_testref", txRef)
	}

	account, err := env.store.GetAccount(ctx, "ak_alice")
	if err != nil {
		t.Fatalf("account not persisted: %v", err)
	}
	if !account.AvailableCollateralAE.Equal(decimal.NewFromInt(990)) {
		t.Errorf("available = %s, want 990", account.AvailableCollateralAE)
	}
	if len(account.Positions) != 1 {
		t.Fatalf("positions = %d, want 1", len(account.Positions))
	}
	checkInvariant(t, account)
}

func TestOpenShort(t *testing.T) {
	env := newTestEnv(t)

	position, _, err := env.svc.Open(context.Background(), "ak_alice", "ETH", model.SideShort,
		decimal.NewFromInt(20), decimal.NewFromInt(2))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	// Short liquidation sits above entry: 3500 × (1 + 1/2).
	if !position.LiquidationPrice.Equal(decimal.NewFromInt(5250)) {
		t.Errorf("liquidation = %s, want 5250", position.LiquidationPrice)
	}
}

func TestOpenInsufficientCollateral(t *testing.T) {
	env := newTestEnv(t)

	_, _, err := env.svc.Open(context.Background(), "ak_alice", "BTC", model.SideLong,
		decimal.NewFromInt(2000), decimal.NewFromInt(5))
	if !errors.Is(err, ledger.ErrInsufficientCollateral) {
		t.Errorf("err = %v, want ErrInsufficientCollateral", err)
	}

	// The rejected open must not create a position or touch collateral.
	account, err := env.store.GetAccount(context.Background(), "ak_alice")
	if err != nil {
		t.Fatalf("lazy account should still exist: %v", err)
	}
	if len(account.Positions) != 0 {
		t.Errorf("positions = %d, want 0", len(account.Positions))
	}
	if !account.AvailableCollateralAE.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("available = %s, want 1000", account.AvailableCollateralAE)
	}
}

func TestOpenExactCollateralBoundary(t *testing.T) {
	env := newTestEnv(t)

	// Exactly the available balance is allowed; the check is strictly
	// greater-than.
	_, _, err := env.svc.Open(context.Background(), "ak_alice", "BTC", model.SideLong,
		decimal.NewFromInt(1000), decimal.NewFromInt(2))
	if err != nil {
		t.Fatalf("Open at exact balance failed: %v", err)
	}

	account, _ := env.store.GetAccount(context.Background(), "ak_alice")
	if !account.AvailableCollateralAE.IsZero() {
		t.Errorf("available = %s, want 0", account.AvailableCollateralAE)
	}
}

func TestOpenUnknownAsset(t *testing.T) {
	env := newTestEnv(t)

	_, _, err := env.svc.Open(context.Background(), "ak_alice", "DOGE", model.SideLong,
		decimal.NewFromInt(10), decimal.NewFromInt(5))
	if !errors.Is(err, ledger.ErrUnknownAsset) {
		t.Errorf("err = %v, want ErrUnknownAsset", err)
	}
}

func TestOpenPriceUnavailable(t *testing.T) {
	// GHOST is registered with the feed but unknown to the synthetic walk,
	// so quote resolution yields the zero-price sentinel.
	nowUnix := testClockStart
	now := func() time.Time { return time.Unix(nowUnix, 0).UTC() }

	feedRegistry := pricefeed.NewRegistry(append(testAssets(),
		config.AssetConfig{Symbol: "GHOST", BasePrice: 1, Volatility: 0.001, Precision: 2}))
	walkRegistry := pricefeed.NewRegistry(testAssets())
	synthetic := pricefeed.NewSynthetic(walkRegistry, 5, nil, now)
	st := store.NewMemoryStore()
	feed := pricefeed.NewFeed(feedRegistry, nil, st, synthetic, time.Second, 1000)

	svc := ledger.NewService(st, feed, stubOracle{balance: decimal.NewFromInt(1000)},
		&stubAttestor{ref: "th_x"}, stubStatus{}, nil)

	_, _, err := svc.Open(context.Background(), "ak_alice", "GHOST", model.SideLong,
		decimal.NewFromInt(10), decimal.NewFromInt(5))
	if !errors.Is(err, ledger.ErrPriceUnavailable) {
		t.Errorf("err = %v, want ErrPriceUnavailable", err)
	}
}

func TestOpenAttestationFailureDoesNotFailOpen(t *testing.T) {
	env := newTestEnv(t)
	env.attestor.err = errors.New("middleware timeout")

	position, txRef, err := env.svc.Open(context.Background(), "ak_alice", "BTC", model.SideLong,
		decimal.NewFromInt(10), decimal.NewFromInt(5))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if txRef != "" {
		t.Errorf("txRef = %q, want empty on attestation failure", txRef)
	}

	account, _ := env.store.GetAccount(context.Background(), "ak_alice")
	if account.FindPosition(position.ID) == nil {
		t.Error("position should be persisted despite attestation failure")
	}
}

func TestOpenPersistenceUnavailable(t *testing.T) {
	nowUnix := testClockStart
	now := func() time.Time { return time.Unix(nowUnix, 0).UTC() }

	registry := pricefeed.NewRegistry(testAssets())
	synthetic := pricefeed.NewSynthetic(registry, 5, nil, now)
	fs := &failingStore{MemoryStore: store.NewMemoryStore(), failGet: true}
	feed := pricefeed.NewFeed(registry, nil, nil, synthetic, time.Second, 1000)

	svc := ledger.NewService(fs, feed, stubOracle{balance: decimal.NewFromInt(1000)},
		&stubAttestor{ref: "th_x"}, stubStatus{}, nil)

	_, _, err := svc.Open(context.Background(), "ak_alice", "BTC", model.SideLong,
		decimal.NewFromInt(10), decimal.NewFromInt(5))
	if !errors.Is(err, ledger.ErrPersistenceUnavailable) {
		t.Errorf("err = %v, want ErrPersistenceUnavailable", err)
	}
}

// --- Close ---

func TestCloseFlat(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	position, _, err := env.svc.Open(ctx, "ak_alice", "BTC", model.SideLong,
		decimal.NewFromInt(10), decimal.NewFromInt(5))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	// Same window, same price: closing realizes exactly zero.
	realized, err := env.svc.Close(ctx, "ak_alice", position.ID)
	if err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !realized.IsZero() {
		t.Errorf("realized = %s, want 0", realized)
	}

	account, _ := env.store.GetAccount(ctx, "ak_alice")
	if !account.AvailableCollateralAE.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("available = %s, want 1000", account.AvailableCollateralAE)
	}
	if len(account.Positions) != 0 {
		t.Errorf("positions = %d, want 0", len(account.Positions))
	}
	checkInvariant(t, account)
}

func TestCloseWithPnL(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	position, _, err := env.svc.Open(ctx, "ak_alice", "BTC", model.SideLong,
		decimal.NewFromInt(10), decimal.NewFromInt(5))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	// Advance the clock ten windows; the walk moves the price.
	*env.nowUnix = testClockStart + 50
	current := env.feed.Quote(ctx, "BTC")

	result := pnl.Unrealized(position.SizeUSD, position.EntryPrice, current.Price, position.Side)
	wantRealized := pnl.ToNative(result.PnLUSD, current.Price)

	realized, err := env.svc.Close(ctx, "ak_alice", position.ID)
	if err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !realized.Equal(wantRealized) {
		t.Errorf("realized = %s, want %s", realized, wantRealized)
	}

	// Settlement credits collateral plus PnL; the tracked balance absorbs
	// the PnL so the invariant survives. Losses are not clamped.
	account, _ := env.store.GetAccount(ctx, "ak_alice")
	wantAvailable := decimal.NewFromInt(1000).Add(wantRealized)
	if !account.AvailableCollateralAE.Equal(wantAvailable) {
		t.Errorf("available = %s, want %s", account.AvailableCollateralAE, wantAvailable)
	}
	checkInvariant(t, account)
}

func TestCloseNotFound(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.Close(ctx, "ak_alice", "no-such-id")
	if !errors.Is(err, ledger.ErrPositionNotFound) {
		t.Errorf("err = %v, want ErrPositionNotFound", err)
	}
}

func TestCloseTwice(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	position, _, err := env.svc.Open(ctx, "ak_alice", "BTC", model.SideLong,
		decimal.NewFromInt(10), decimal.NewFromInt(5))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := env.svc.Close(ctx, "ak_alice", position.ID); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}

	_, err = env.svc.Close(ctx, "ak_alice", position.ID)
	if !errors.Is(err, ledger.ErrPositionNotFound) {
		t.Errorf("second close err = %v, want ErrPositionNotFound", err)
	}
}

func TestInvariantAcrossSequence(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	p1, _, err := env.svc.Open(ctx, "ak_alice", "BTC", model.SideLong,
		decimal.NewFromInt(100), decimal.NewFromInt(5))
	if err != nil {
		t.Fatalf("open 1: %v", err)
	}
	p2, _, err := env.svc.Open(ctx, "ak_alice", "ETH", model.SideShort,
		decimal.NewFromInt(250), decimal.NewFromInt(3))
	if err != nil {
		t.Fatalf("open 2: %v", err)
	}

	account, _ := env.store.GetAccount(ctx, "ak_alice")
	if !account.AvailableCollateralAE.Equal(decimal.NewFromInt(650)) {
		t.Errorf("available = %s, want 650", account.AvailableCollateralAE)
	}
	checkInvariant(t, account)

	*env.nowUnix = testClockStart + 25

	if _, err := env.svc.Close(ctx, "ak_alice", p1.ID); err != nil {
		t.Fatalf("close 1: %v", err)
	}
	account, _ = env.store.GetAccount(ctx, "ak_alice")
	checkInvariant(t, account)

	if _, err := env.svc.Close(ctx, "ak_alice", p2.ID); err != nil {
		t.Fatalf("close 2: %v", err)
	}
	account, _ = env.store.GetAccount(ctx, "ak_alice")
	checkInvariant(t, account)
	if len(account.Positions) != 0 {
		t.Errorf("positions = %d, want 0", len(account.Positions))
	}
}

func TestAccountsIsolated(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, _, err := env.svc.Open(ctx, "ak_alice", "BTC", model.SideLong,
		decimal.NewFromInt(10), decimal.NewFromInt(5)); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	bob, err := env.svc.Refresh(ctx, "ak_bob")
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if !bob.AvailableCollateralAE.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("bob available = %s, want 1000", bob.AvailableCollateralAE)
	}
	if len(bob.Positions) != 0 {
		t.Errorf("bob positions = %d, want 0", len(bob.Positions))
	}
}

// --- Refresh ---

func TestRefreshCreatesAccount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	account, err := env.svc.Refresh(ctx, "ak_new")
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if account.Address != "ak_new" {
		t.Errorf("address = %q", account.Address)
	}
	if !account.OnChainBalanceAE.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("balance = %s, want 1000", account.OnChainBalanceAE)
	}
	if !account.AvailableCollateralAE.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("available = %s, want 1000", account.AvailableCollateralAE)
	}

	// Lazy creation persists the account.
	if _, err := env.store.GetAccount(ctx, "ak_new"); err != nil {
		t.Errorf("account not persisted: %v", err)
	}
}

func TestRefreshRecomputesUnrealized(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	position, _, err := env.svc.Open(ctx, "ak_alice", "BTC", model.SideLong,
		decimal.NewFromInt(10), decimal.NewFromInt(5))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	*env.nowUnix = testClockStart + 50
	current := env.feed.Quote(ctx, "BTC")

	account, err := env.svc.Refresh(ctx, "ak_alice")
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	p := account.FindPosition(position.ID)
	if p == nil {
		t.Fatal("position missing after refresh")
	}
	if !p.CurrentPrice.Equal(current.Price) {
		t.Errorf("current price = %s, want %s", p.CurrentPrice, current.Price)
	}
	want := pnl.Unrealized(p.SizeUSD, p.EntryPrice, current.Price, p.Side)
	if !p.UnrealizedPnLUSD.Equal(want.PnLUSD) {
		t.Errorf("unrealized pnl = %s, want %s", p.UnrealizedPnLUSD, want.PnLUSD)
	}
}

// --- Snapshot ---

func TestSnapshot(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	snapshot := env.svc.Snapshot(ctx)
	for _, symbol := range []string{"AE", "BTC", "ETH"} {
		entry, ok := snapshot[symbol]
		if !ok {
			t.Errorf("snapshot missing %s", symbol)
			continue
		}
		if !entry.Price.IsPositive() {
			t.Errorf("%s price = %s, want positive", symbol, entry.Price)
		}
	}

	// Each snapshot records one tick per asset into the 1m series.
	points, err := env.store.PriceHistory(ctx, "BTC", "1m", 10)
	if err != nil {
		t.Fatalf("PriceHistory failed: %v", err)
	}
	if len(points) != 1 {
		t.Errorf("recorded points = %d, want 1", len(points))
	}
}
