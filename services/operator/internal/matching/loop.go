package matching

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"log/slog"

	"github.com/devdazzlee/canton-clob/services/operator/internal/domain"
	"github.com/devdazzlee/canton-clob/services/operator/internal/ledger"
	"github.com/google/uuid"
)

const (
	defaultInterval      = 5 * time.Second
	defaultMaxPerCycle   = 10
	defaultSubmitTimeout = 10 * time.Second
)

type Ledger interface {
	Query(ctx context.Context, filter ledger.QueryFilter) ([]ledger.Record, error)
	Submit(ctx context.Context, commandID string, actions []ledger.Action, actingAs []string) (*ledger.SubmitResult, error)
}

// FillObserver is notified when a match leaves one order partially filled,
// so the remainder's freed funds can be consolidated. Best-effort.
type FillObserver interface {
	PostPartialFill(ctx context.Context, owner, pair, side string) domain.Outcome
}

type Config struct {
	OperatorParty string
	Interval      time.Duration
	MaxPerCycle   int
	SubmitTimeout time.Duration
}

// CycleStats summarizes one matching cycle for logging and metrics.
type CycleStats struct {
	Books      int
	OrdersSeen int
	Matches    int
	Rejections int
}

// Loop proposes matches to the ledger. The ledger stays the final arbiter:
// a candidate pair may have been filled or cancelled between the snapshot
// read and the command, so rejection is a normal outcome.
type Loop struct {
	ledger  Ledger
	fills   FillObserver
	cfg     Config
	logger  *slog.Logger
	metrics *Metrics
}

func NewLoop(l Ledger, fills FillObserver, cfg Config, logger *slog.Logger, metrics *Metrics) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.MaxPerCycle <= 0 {
		cfg.MaxPerCycle = defaultMaxPerCycle
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = defaultSubmitTimeout
	}
	return &Loop{ledger: l, fills: fills, cfg: cfg, logger: logger, metrics: metrics}
}

// Run drives matching cycles on the configured interval until the context
// is cancelled. Cycles never overlap: the ticker is only consulted again
// after the previous cycle finished.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Info("matching loop started",
		"interval", l.cfg.Interval, "max_per_cycle", l.cfg.MaxPerCycle)

	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("matching loop stopped")
			return
		case <-ticker.C:
			l.runCycleSafe(ctx)
		}
	}
}

// runCycleSafe confines any single cycle's failure, including a panic, to
// that cycle; the next tick starts fresh.
func (l *Loop) runCycleSafe(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("matching cycle panicked", "panic", r)
		}
	}()

	start := time.Now()
	stats, err := l.RunCycle(ctx)
	l.metrics.ObserveCycle(time.Since(start))
	if err != nil {
		l.logger.Error("matching cycle failed", "error", err)
		return
	}
	if stats.Matches > 0 || stats.Rejections > 0 {
		l.logger.Info("matching cycle complete",
			"books", stats.Books, "orders", stats.OrdersSeen,
			"matches", stats.Matches, "rejections", stats.Rejections)
	}
}

// RunCycle executes one full scan-sort-match pass over every order book
// visible to the operator. Exported so tests drive cycles deterministically
// without the timer.
func (l *Loop) RunCycle(ctx context.Context) (CycleStats, error) {
	var stats CycleStats

	books, err := l.orderBooks(ctx)
	if err != nil {
		return stats, err
	}
	stats.Books = len(books)

	for _, book := range books {
		if stats.Matches >= l.cfg.MaxPerCycle {
			l.logger.Debug("per-cycle match cap reached", "cap", l.cfg.MaxPerCycle)
			return stats, nil
		}
		if len(book.BuyOrders) == 0 || len(book.SellOrders) == 0 {
			continue
		}

		buys, err := l.openOrders(ctx, book.BuyOrders)
		if err != nil {
			l.logger.Warn("buy-side fetch failed, skipping book", "pair", book.Pair, "error", err)
			continue
		}
		sells, err := l.openOrders(ctx, book.SellOrders)
		if err != nil {
			l.logger.Warn("sell-side fetch failed, skipping book", "pair", book.Pair, "error", err)
			continue
		}
		stats.OrdersSeen += len(buys) + len(sells)

		SortBuys(buys)
		SortSells(sells)

		l.matchBook(ctx, book, buys, sells, &stats)
	}

	return stats, nil
}

// matchBook pairs buys against sells in priority order. Each buy is tried at
// most once per cycle so the loop never races the ledger's own fill
// bookkeeping on an order it just matched.
func (l *Loop) matchBook(ctx context.Context, book domain.OrderBook, buys, sells []domain.Order, stats *CycleStats) {
	taken := make(map[string]bool, len(sells))

	for _, buy := range buys {
		if stats.Matches >= l.cfg.MaxPerCycle {
			return
		}
		for _, sell := range sells {
			if taken[sell.RecordID] {
				continue
			}
			if !Compatible(buy, sell) {
				continue
			}

			result, err := l.submitMatch(ctx, book, buy, sell)
			if err != nil {
				stats.Rejections++
				l.metrics.ObserveRejection(book.Pair)
				l.logger.Debug("match proposal rejected",
					"pair", book.Pair, "buy", buy.RecordID, "sell", sell.RecordID, "error", err)
				continue
			}

			stats.Matches++
			taken[sell.RecordID] = true
			l.metrics.ObserveMatch(book.Pair)
			l.logger.Info("match submitted",
				"pair", book.Pair, "buy", buy.RecordID, "sell", sell.RecordID,
				"buy_price", buy.Price, "sell_price", sell.Price)
			for _, trade := range tradesFromEvents(result.Events) {
				l.logger.Info("trade executed",
					"pair", book.Pair, "trade", trade.RecordID,
					"price", trade.Price, "quantity", trade.Quantity)
			}
			l.notifyPartialFill(ctx, book.Pair, buy, sell)
			break
		}
	}
}

// notifyPartialFill flags the order left with remainder after a match: the
// side with the larger remaining quantity fills only partially. Equal
// remainders fill both orders completely.
func (l *Loop) notifyPartialFill(ctx context.Context, pair string, buy, sell domain.Order) {
	if l.fills == nil {
		return
	}
	buyRem, sellRem := buy.Remaining(), sell.Remaining()
	switch {
	case buyRem.GreaterThan(sellRem):
		l.fills.PostPartialFill(ctx, buy.Owner, pair, domain.SideBuy)
	case sellRem.GreaterThan(buyRem):
		l.fills.PostPartialFill(ctx, sell.Owner, pair, domain.SideSell)
	}
}

func (l *Loop) submitMatch(ctx context.Context, book domain.OrderBook, buy, sell domain.Order) (*ledger.SubmitResult, error) {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.SubmitTimeout)
	defer cancel()

	actions := []ledger.Action{{
		Kind:       ledger.ActionExercise,
		TemplateID: ledger.TemplateOrderBook,
		RecordID:   book.RecordID,
		Choice:     ledger.ChoiceMatchOrders,
		Argument:   ledger.MatchArgument{BuyOrderID: buy.RecordID, SellOrderID: sell.RecordID},
	}}

	return l.ledger.Submit(ctx, uuid.NewString(), actions, []string{l.cfg.OperatorParty})
}

// tradesFromEvents decodes the trade records a match command created.
// Undecodable or unrelated events are skipped; the ledger remains the record
// of truth and this only feeds the operator's log.
func tradesFromEvents(events []json.RawMessage) []domain.Trade {
	trades := make([]domain.Trade, 0, len(events))
	for _, raw := range events {
		var rec ledger.Record
		if err := json.Unmarshal(raw, &rec); err != nil || rec.TemplateID != ledger.TemplateTrade {
			continue
		}
		trade, err := domain.TradeFromJSON(rec.RecordID, rec.CreateArguments)
		if err != nil {
			continue
		}
		trades = append(trades, trade)
	}
	return trades
}

func (l *Loop) orderBooks(ctx context.Context) ([]domain.OrderBook, error) {
	records, err := l.ledger.Query(ctx, ledger.QueryFilter{
		ByOwner: map[string]ledger.OwnerFilter{
			l.cfg.OperatorParty: {IncludeTemplates: []string{ledger.TemplateOrderBook}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("query order books: %w", err)
	}

	books := make([]domain.OrderBook, 0, len(records))
	for _, rec := range records {
		if rec.TemplateID != ledger.TemplateOrderBook {
			continue
		}
		book, err := domain.OrderBookFromJSON(rec.RecordID, rec.CreateArguments)
		if err != nil {
			l.logger.Warn("skipping undecodable order book", "record_id", rec.RecordID, "error", err)
			continue
		}
		books = append(books, book)
	}
	return books, nil
}

// openOrders fetches one side's referenced orders in a single batched query
// and keeps only those still OPEN.
func (l *Loop) openOrders(ctx context.Context, recordIDs []string) ([]domain.Order, error) {
	records, err := l.ledger.Query(ctx, ledger.QueryFilter{Records: recordIDs})
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}

	orders := make([]domain.Order, 0, len(records))
	for _, rec := range records {
		if rec.TemplateID != ledger.TemplateOrder {
			continue
		}
		order, err := domain.OrderFromJSON(rec.RecordID, rec.CreateArguments)
		if err != nil {
			l.logger.Warn("skipping undecodable order", "record_id", rec.RecordID, "error", err)
			continue
		}
		if order.Status != domain.StatusOpen {
			continue
		}
		orders = append(orders, order)
	}
	return orders, nil
}
