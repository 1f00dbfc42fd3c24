package balance

import (
	"context"
	"fmt"

	"log/slog"

	"github.com/devdazzlee/canton-clob/services/operator/internal/domain"
	"github.com/devdazzlee/canton-clob/services/operator/internal/ledger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	resultMerged   = "merged"
	resultNoop     = "noop"
	resultRejected = "rejected"
)

type Ledger interface {
	Query(ctx context.Context, filter ledger.QueryFilter) ([]ledger.Record, error)
	Submit(ctx context.Context, commandID string, actions []ledger.Action, actingAs []string) (*ledger.SubmitResult, error)
}

// Consolidator repairs balance fragmentation. The ledger's split-record model
// leaves a holder's funds spread over independent records after every lock
// release, and a single spend can only draw from one record, so fragments
// must be merged before any large lock.
type Consolidator struct {
	ledger  Ledger
	logger  *slog.Logger
	metrics *Metrics
}

func NewConsolidator(l Ledger, logger *slog.Logger, metrics *Metrics) *Consolidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consolidator{ledger: l, logger: logger, metrics: metrics}
}

// TotalBalance sums the holder's spendable balance for one asset across all
// live fragments.
func (c *Consolidator) TotalBalance(ctx context.Context, owner, asset string) (decimal.Decimal, error) {
	fragments, err := c.fragments(ctx, owner)
	if err != nil {
		return decimal.Zero, err
	}

	total := decimal.Zero
	for _, frag := range fragments {
		total = total.Add(frag.Amount(asset))
	}
	return total, nil
}

// Consolidate exercises the merge choice on one known balance record,
// pulling the owner's other fragments of the asset into it. Best-effort: a
// rejection is advisory, never fatal to the operation that triggered it.
func (c *Consolidator) Consolidate(ctx context.Context, owner, asset, recordID string) domain.Outcome {
	actions := []ledger.Action{{
		Kind:       ledger.ActionExercise,
		TemplateID: ledger.TemplateBalance,
		RecordID:   recordID,
		Choice:     ledger.ChoiceMerge,
		Argument:   ledger.MergeArgument{Asset: asset},
	}}

	_, err := c.ledger.Submit(ctx, uuid.NewString(), actions, []string{owner})
	if err != nil {
		c.logger.Warn("balance consolidation rejected",
			"owner", owner, "asset", asset, "record_id", recordID, "error", err)
		c.metrics.ObserveConsolidation(resultRejected)
		return domain.OutcomeSkipped(fmt.Sprintf("consolidation rejected: %v", err))
	}

	c.logger.Info("balances consolidated", "owner", owner, "asset", asset)
	c.metrics.ObserveConsolidation(resultMerged)
	return domain.OutcomeApplied()
}

// MergeFragments merges the owner's fragments of one asset when more than
// one carries it. With zero or one carrier there is nothing to merge and the
// consolidated state already holds.
func (c *Consolidator) MergeFragments(ctx context.Context, owner, asset string) domain.Outcome {
	fragments, err := c.fragments(ctx, owner)
	if err != nil {
		c.metrics.ObserveConsolidation(resultRejected)
		return domain.OutcomeSkipped(fmt.Sprintf("read balances: %v", err))
	}

	carriers := make([]domain.Balance, 0, len(fragments))
	for _, frag := range fragments {
		if frag.Amount(asset).IsPositive() {
			carriers = append(carriers, frag)
		}
	}
	if len(carriers) < 2 {
		c.metrics.ObserveConsolidation(resultNoop)
		return domain.OutcomeApplied()
	}

	return c.Consolidate(ctx, owner, asset, carriers[0].RecordID)
}

func (c *Consolidator) fragments(ctx context.Context, owner string) ([]domain.Balance, error) {
	c.metrics.ObserveBalanceRead()

	records, err := c.ledger.Query(ctx, ledger.QueryFilter{
		ByOwner: map[string]ledger.OwnerFilter{
			owner: {IncludeTemplates: []string{ledger.TemplateBalance}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("query balances for %s: %w", owner, err)
	}

	fragments := make([]domain.Balance, 0, len(records))
	for _, rec := range records {
		if rec.TemplateID != ledger.TemplateBalance {
			continue
		}
		frag, err := domain.BalanceFromJSON(rec.RecordID, rec.CreateArguments)
		if err != nil {
			c.logger.Warn("skipping undecodable balance record", "record_id", rec.RecordID, "error", err)
			continue
		}
		fragments = append(fragments, frag)
	}
	return fragments, nil
}
