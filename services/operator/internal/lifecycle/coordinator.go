package lifecycle

import (
	"context"
	"fmt"

	"log/slog"

	"github.com/devdazzlee/canton-clob/services/operator/internal/domain"
	"github.com/shopspring/decimal"
)

// Balances is the consolidation capability the coordinator drives at the
// three points where fragmentation matters: before placement, after
// cancellation, after a partial fill.
type Balances interface {
	TotalBalance(ctx context.Context, owner, asset string) (decimal.Decimal, error)
	MergeFragments(ctx context.Context, owner, asset string) domain.Outcome
}

// InsufficientBalanceError is the one hard failure this component produces:
// placement must be rejected when the holder cannot cover the lock.
type InsufficientBalanceError struct {
	Asset     string
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient %s balance: required %s, available %s (short %s)",
		e.Asset, e.Required, e.Available, e.Shortfall())
}

func (e *InsufficientBalanceError) Shortfall() decimal.Decimal {
	return e.Required.Sub(e.Available)
}

type PlacementRequest struct {
	Owner     string
	Pair      string
	Side      string
	OrderType string
	Quantity  decimal.Decimal
	Price     decimal.Decimal
}

type Coordinator struct {
	balances Balances
	logger   *slog.Logger
}

func NewCoordinator(balances Balances, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{balances: balances, logger: logger}
}

// RequiredFunds computes which asset backs an order and how much of it the
// lock needs. A BUY locks the quote asset (quantity×price for LIMIT,
// quantity for MARKET); a SELL locks the base asset at quantity.
func RequiredFunds(pair, side, orderType string, quantity, price decimal.Decimal) (string, decimal.Decimal, error) {
	base, quote, err := domain.SplitPair(pair)
	if err != nil {
		return "", decimal.Zero, err
	}
	if !quantity.IsPositive() {
		return "", decimal.Zero, fmt.Errorf("quantity must be positive")
	}

	switch side {
	case domain.SideSell:
		return base, quantity, nil
	case domain.SideBuy:
		switch orderType {
		case domain.TypeLimit:
			if !price.IsPositive() {
				return "", decimal.Zero, fmt.Errorf("price must be positive for limit orders")
			}
			return quote, quantity.Mul(price), nil
		case domain.TypeMarket:
			return quote, quantity, nil
		default:
			return "", decimal.Zero, fmt.Errorf("invalid order type %q", orderType)
		}
	default:
		return "", decimal.Zero, fmt.Errorf("invalid side %q", side)
	}
}

// PrePlacementCheck verifies the owner can cover the lock a new order needs,
// then speculatively consolidates so the placement command can draw from a
// single merged record. Consolidation failure is advisory; a shortfall is
// hard and rejects the placement.
func (c *Coordinator) PrePlacementCheck(ctx context.Context, req PlacementRequest) error {
	asset, required, err := RequiredFunds(req.Pair, req.Side, req.OrderType, req.Quantity, req.Price)
	if err != nil {
		return err
	}

	available, err := c.balances.TotalBalance(ctx, req.Owner, asset)
	if err != nil {
		return fmt.Errorf("balance check for %s: %w", req.Owner, err)
	}

	if available.LessThan(required) {
		return &InsufficientBalanceError{Asset: asset, Required: required, Available: available}
	}

	if outcome := c.balances.MergeFragments(ctx, req.Owner, asset); !outcome.Applied {
		c.logger.Warn("pre-placement consolidation did not apply",
			"owner", req.Owner, "asset", asset, "reason", outcome.Reason)
	}
	return nil
}

// PostCancellation merges the asset a cancelled order's lock released: the
// quote asset for a BUY, the base asset for a SELL. Best-effort.
func (c *Coordinator) PostCancellation(ctx context.Context, owner, pair, side string) domain.Outcome {
	return c.mergeReleased(ctx, owner, pair, side, "cancellation")
}

// PostPartialFill merges the remainder released by a partial fill, under the
// same asset rule as cancellation. Best-effort.
func (c *Coordinator) PostPartialFill(ctx context.Context, owner, pair, side string) domain.Outcome {
	return c.mergeReleased(ctx, owner, pair, side, "partial fill")
}

func (c *Coordinator) mergeReleased(ctx context.Context, owner, pair, side, trigger string) domain.Outcome {
	asset, err := domain.ReleasedAsset(pair, side)
	if err != nil {
		c.logger.Warn("cannot determine released asset", "pair", pair, "side", side, "error", err)
		return domain.OutcomeSkipped(err.Error())
	}

	outcome := c.balances.MergeFragments(ctx, owner, asset)
	if !outcome.Applied {
		c.logger.Warn("post-event consolidation did not apply",
			"trigger", trigger, "owner", owner, "asset", asset, "reason", outcome.Reason)
	}
	return outcome
}
