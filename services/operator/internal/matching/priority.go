package matching

import (
	"sort"

	"github.com/devdazzlee/canton-clob/services/operator/internal/domain"
)

// SortBuys orders the buy side by price-time priority: MARKET orders first
// (they price as +infinity), then price descending, ties broken by earlier
// creation time.
func SortBuys(orders []domain.Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		a, b := orders[i], orders[j]
		if a.IsMarket() != b.IsMarket() {
			return a.IsMarket()
		}
		if !a.IsMarket() {
			ap, bp := a.PriceDecimal(), b.PriceDecimal()
			if !ap.Equal(bp) {
				return ap.GreaterThan(bp)
			}
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}

// SortSells orders the sell side most-aggressive first: MARKET orders (they
// price as zero), then price ascending, ties broken by earlier creation time.
func SortSells(orders []domain.Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		a, b := orders[i], orders[j]
		if a.IsMarket() != b.IsMarket() {
			return a.IsMarket()
		}
		if !a.IsMarket() {
			ap, bp := a.PriceDecimal(), b.PriceDecimal()
			if !ap.Equal(bp) {
				return ap.LessThan(bp)
			}
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}

// Compatible reports whether two resting orders may legally trade: both
// OPEN, and either side is a MARKET order or the buy price crosses the sell
// price.
func Compatible(buy, sell domain.Order) bool {
	if buy.Status != domain.StatusOpen || sell.Status != domain.StatusOpen {
		return false
	}
	if buy.IsMarket() || sell.IsMarket() {
		return true
	}
	return buy.PriceDecimal().GreaterThanOrEqual(sell.PriceDecimal())
}
