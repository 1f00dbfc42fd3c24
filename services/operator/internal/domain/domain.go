package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	SideBuy  = "BUY"
	SideSell = "SELL"

	TypeLimit  = "LIMIT"
	TypeMarket = "MARKET"

	StatusOpen            = "OPEN"
	StatusPartiallyFilled = "PARTIALLY_FILLED"
	StatusFilled          = "FILLED"
	StatusCancelled       = "CANCELLED"
)

// Order mirrors the create arguments of an order record on the ledger. The
// ledger never mutates a record in place; fills and cancels arrive as new
// record versions under new record ids.
type Order struct {
	RecordID  string    `json:"-"`
	ID        string    `json:"id"`
	Owner     string    `json:"owner"`
	Pair      string    `json:"pair"`
	Side      string    `json:"side"`
	OrderType string    `json:"orderType"`
	Price     string    `json:"price,omitempty"`
	Quantity  string    `json:"quantity"`
	Filled    string    `json:"filled"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

func (o Order) IsMarket() bool {
	return o.OrderType == TypeMarket
}

func (o Order) PriceDecimal() decimal.Decimal {
	return ParseAmount(o.Price)
}

func (o Order) QuantityDecimal() decimal.Decimal {
	return ParseAmount(o.Quantity)
}

func (o Order) Remaining() decimal.Decimal {
	return ParseAmount(o.Quantity).Sub(ParseAmount(o.Filled))
}

// OrderBook lists the record ids of resting orders per side. It is
// authoritative for which orders exist, not for their detail.
type OrderBook struct {
	RecordID        string   `json:"-"`
	Pair            string   `json:"pair"`
	Operator        string   `json:"operator"`
	BuyOrders       []string `json:"buyOrders"`
	SellOrders      []string `json:"sellOrders"`
	LastTradedPrice string   `json:"lastTradedPrice,omitempty"`
}

// Balance is one fragment of a holder's funds. Assets live in a keyed map on
// the record, so asset filtering happens client-side.
type Balance struct {
	RecordID string            `json:"-"`
	Owner    string            `json:"owner"`
	Holdings map[string]string `json:"balances"`
}

// Amount returns the fragment's quantity for one asset. Absent or
// unparseable entries count as zero.
func (b Balance) Amount(asset string) decimal.Decimal {
	return ParseAmount(b.Holdings[asset])
}

type Trade struct {
	RecordID    string    `json:"-"`
	Pair        string    `json:"pair"`
	BuyOrderID  string    `json:"buyOrderId"`
	SellOrderID string    `json:"sellOrderId"`
	Price       string    `json:"price"`
	Quantity    string    `json:"quantity"`
	ExecutedAt  time.Time `json:"executedAt"`
}

// ParseAmount parses a ledger quantity string, treating empty or malformed
// values as zero.
func ParseAmount(s string) decimal.Decimal {
	if strings.TrimSpace(s) == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}

// SplitPair splits a trading pair like "BTC/USDT" into base and quote assets.
func SplitPair(pair string) (base, quote string, err error) {
	parts := strings.Split(pair, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid trading pair %q", pair)
	}
	return parts[0], parts[1], nil
}

// ReleasedAsset names the asset a lock on the given side holds: a BUY locks
// the quote asset, a SELL locks the base asset.
func ReleasedAsset(pair, side string) (string, error) {
	base, quote, err := SplitPair(pair)
	if err != nil {
		return "", err
	}
	switch side {
	case SideBuy:
		return quote, nil
	case SideSell:
		return base, nil
	default:
		return "", fmt.Errorf("invalid side %q", side)
	}
}

func OrderFromJSON(recordID string, raw json.RawMessage) (Order, error) {
	var o Order
	if err := json.Unmarshal(raw, &o); err != nil {
		return Order{}, fmt.Errorf("decode order %s: %w", recordID, err)
	}
	o.RecordID = recordID
	return o, nil
}

func OrderBookFromJSON(recordID string, raw json.RawMessage) (OrderBook, error) {
	var b OrderBook
	if err := json.Unmarshal(raw, &b); err != nil {
		return OrderBook{}, fmt.Errorf("decode order book %s: %w", recordID, err)
	}
	b.RecordID = recordID
	return b, nil
}

func TradeFromJSON(recordID string, raw json.RawMessage) (Trade, error) {
	var t Trade
	if err := json.Unmarshal(raw, &t); err != nil {
		return Trade{}, fmt.Errorf("decode trade %s: %w", recordID, err)
	}
	t.RecordID = recordID
	return t, nil
}

func BalanceFromJSON(recordID string, raw json.RawMessage) (Balance, error) {
	var b Balance
	if err := json.Unmarshal(raw, &b); err != nil {
		return Balance{}, fmt.Errorf("decode balance %s: %w", recordID, err)
	}
	b.RecordID = recordID
	return b, nil
}
