package lifecycle

import (
	"context"
	"errors"
	"testing"

	"github.com/devdazzlee/canton-clob/services/operator/internal/domain"
	"github.com/shopspring/decimal"
)

type fakeBalances struct {
	totals      map[string]decimal.Decimal // asset -> total
	totalErr    error
	mergeFails  bool
	mergedAsset []string
}

func (f *fakeBalances) TotalBalance(_ context.Context, _, asset string) (decimal.Decimal, error) {
	if f.totalErr != nil {
		return decimal.Zero, f.totalErr
	}
	return f.totals[asset], nil
}

func (f *fakeBalances) MergeFragments(_ context.Context, _, asset string) domain.Outcome {
	f.mergedAsset = append(f.mergedAsset, asset)
	if f.mergeFails {
		return domain.OutcomeSkipped("merge rejected")
	}
	return domain.OutcomeApplied()
}

func limitBuy(qty, price string) PlacementRequest {
	return PlacementRequest{
		Owner:     "alice",
		Pair:      "BTC/USDT",
		Side:      domain.SideBuy,
		OrderType: domain.TypeLimit,
		Quantity:  decimal.RequireFromString(qty),
		Price:     decimal.RequireFromString(price),
	}
}

func TestRequiredFunds(t *testing.T) {
	cases := []struct {
		name       string
		side       string
		orderType  string
		qty        string
		price      string
		wantAsset  string
		wantAmount string
	}{
		{"limit buy", domain.SideBuy, domain.TypeLimit, "0.01", "50000", "USDT", "500"},
		{"market buy", domain.SideBuy, domain.TypeMarket, "80", "0", "USDT", "80"},
		{"limit sell", domain.SideSell, domain.TypeLimit, "2", "50000", "BTC", "2"},
		{"market sell", domain.SideSell, domain.TypeMarket, "2", "0", "BTC", "2"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			asset, amount, err := RequiredFunds("BTC/USDT", tc.side, tc.orderType,
				decimal.RequireFromString(tc.qty), decimal.RequireFromString(tc.price))
			if err != nil {
				t.Fatalf("required funds: %v", err)
			}
			if asset != tc.wantAsset {
				t.Fatalf("expected asset %s, got %s", tc.wantAsset, asset)
			}
			if !amount.Equal(decimal.RequireFromString(tc.wantAmount)) {
				t.Fatalf("expected amount %s, got %s", tc.wantAmount, amount)
			}
		})
	}
}

func TestRequiredFundsRejectsInvalidInput(t *testing.T) {
	one := decimal.NewFromInt(1)
	if _, _, err := RequiredFunds("BTCUSDT", domain.SideBuy, domain.TypeLimit, one, one); err == nil {
		t.Fatalf("expected error for malformed pair")
	}
	if _, _, err := RequiredFunds("BTC/USDT", domain.SideBuy, domain.TypeLimit, decimal.Zero, one); err == nil {
		t.Fatalf("expected error for zero quantity")
	}
	if _, _, err := RequiredFunds("BTC/USDT", domain.SideBuy, domain.TypeLimit, one, decimal.Zero); err == nil {
		t.Fatalf("expected error for zero limit price")
	}
	if _, _, err := RequiredFunds("BTC/USDT", "HOLD", domain.TypeLimit, one, one); err == nil {
		t.Fatalf("expected error for invalid side")
	}
}

func TestPrePlacementCheckSufficientAtBoundary(t *testing.T) {
	balances := &fakeBalances{totals: map[string]decimal.Decimal{"USDT": decimal.NewFromInt(500)}}
	c := NewCoordinator(balances, nil)

	// Required is exactly 0.01 * 50000 = 500: T == R is sufficient.
	if err := c.PrePlacementCheck(context.Background(), limitBuy("0.01", "50000")); err != nil {
		t.Fatalf("boundary balance should pass: %v", err)
	}
	if len(balances.mergedAsset) != 1 || balances.mergedAsset[0] != "USDT" {
		t.Fatalf("expected speculative USDT consolidation, got %v", balances.mergedAsset)
	}
}

func TestPrePlacementCheckInsufficient(t *testing.T) {
	balances := &fakeBalances{totals: map[string]decimal.Decimal{"USDT": decimal.NewFromInt(499)}}
	c := NewCoordinator(balances, nil)

	err := c.PrePlacementCheck(context.Background(), limitBuy("0.01", "50000"))
	if err == nil {
		t.Fatalf("expected insufficient balance error")
	}

	var insufficient *InsufficientBalanceError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientBalanceError, got %T", err)
	}
	if insufficient.Asset != "USDT" {
		t.Fatalf("expected USDT shortfall, got %s", insufficient.Asset)
	}
	if !insufficient.Shortfall().Equal(decimal.NewFromInt(1)) {
		t.Fatalf("expected shortfall 1, got %s", insufficient.Shortfall())
	}
	if len(balances.mergedAsset) != 0 {
		t.Fatalf("no consolidation should run on a failed check")
	}
}

func TestPrePlacementCheckSoftConsolidationFailureDoesNotBlock(t *testing.T) {
	// Two 50-USDT fragments: total 100 covers the 80-USDT market buy even
	// though the merge attempt fails; the placement command itself is the
	// point where a single-record draw may still fail hard.
	balances := &fakeBalances{
		totals:     map[string]decimal.Decimal{"USDT": decimal.NewFromInt(100)},
		mergeFails: true,
	}
	c := NewCoordinator(balances, nil)

	req := PlacementRequest{
		Owner:     "alice",
		Pair:      "BTC/USDT",
		Side:      domain.SideBuy,
		OrderType: domain.TypeMarket,
		Quantity:  decimal.NewFromInt(80),
	}
	if err := c.PrePlacementCheck(context.Background(), req); err != nil {
		t.Fatalf("soft consolidation failure must not block placement: %v", err)
	}
	if len(balances.mergedAsset) != 1 {
		t.Fatalf("expected one merge attempt, got %d", len(balances.mergedAsset))
	}
}

func TestPrePlacementCheckBalanceReadErrorIsHard(t *testing.T) {
	balances := &fakeBalances{totalErr: errors.New("ledger unreachable")}
	c := NewCoordinator(balances, nil)

	if err := c.PrePlacementCheck(context.Background(), limitBuy("1", "1")); err == nil {
		t.Fatalf("expected hard error when balance read fails")
	}
}

func TestPostCancellationConsolidatesReleasedAssetOnly(t *testing.T) {
	balances := &fakeBalances{}
	c := NewCoordinator(balances, nil)

	outcome := c.PostCancellation(context.Background(), "alice", "BTC/USDT", domain.SideBuy)
	if !outcome.Applied {
		t.Fatalf("expected applied outcome, got %+v", outcome)
	}
	if len(balances.mergedAsset) != 1 || balances.mergedAsset[0] != "USDT" {
		t.Fatalf("cancelled BUY must consolidate quote asset only, got %v", balances.mergedAsset)
	}

	outcome = c.PostCancellation(context.Background(), "alice", "BTC/USDT", domain.SideSell)
	if !outcome.Applied {
		t.Fatalf("expected applied outcome, got %+v", outcome)
	}
	if balances.mergedAsset[1] != "BTC" {
		t.Fatalf("cancelled SELL must consolidate base asset, got %v", balances.mergedAsset)
	}
}

func TestPostPartialFillIsBestEffort(t *testing.T) {
	balances := &fakeBalances{mergeFails: true}
	c := NewCoordinator(balances, nil)

	outcome := c.PostPartialFill(context.Background(), "bob", "BTC/USDT", domain.SideSell)
	if outcome.Applied {
		t.Fatalf("expected advisory outcome, got %+v", outcome)
	}
	if outcome.Reason == "" {
		t.Fatalf("advisory outcome should carry a reason")
	}
}

func TestPostCancellationInvalidPairIsAdvisory(t *testing.T) {
	balances := &fakeBalances{}
	c := NewCoordinator(balances, nil)

	outcome := c.PostCancellation(context.Background(), "alice", "garbage", domain.SideBuy)
	if outcome.Applied {
		t.Fatalf("invalid pair should yield advisory outcome")
	}
	if len(balances.mergedAsset) != 0 {
		t.Fatalf("no merge should run for an invalid pair")
	}
}
