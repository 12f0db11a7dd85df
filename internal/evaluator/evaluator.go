// Package evaluator ranks the asset menu by estimated profit.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/you/flash-bot/internal/config"
	"github.com/you/flash-bot/internal/types"
	"go.uber.org/zap"
)

type Evaluator struct {
	strategy EstimationStrategy
	log      *zap.Logger
}

func New(s EstimationStrategy, log *zap.Logger) *Evaluator {
	return &Evaluator{strategy: s, log: log}
}

func (e *Evaluator) StrategyName() string { return e.strategy.Name() }

// Evaluate estimates every asset in menu for the notional amount and returns the
// candidates sorted by profit, highest first. Ties keep menu order. Assets whose
// estimate fails are skipped; if all of them fail the joined error is returned.
func (e *Evaluator) Evaluate(ctx context.Context, menu []config.Asset, amount decimal.Decimal) ([]types.Candidate, error) {
	cands := make([]types.Candidate, 0, len(menu))
	var errs []error
	for _, a := range menu {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		profit, err := e.strategy.Estimate(ctx, a, amount)
		if err != nil {
			e.log.Warn("estimate failed",
				zap.String("asset", a.Symbol),
				zap.String("strategy", e.strategy.Name()),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", a.Symbol, err))
			continue
		}
		cands = append(cands, types.Candidate{AssetID: a.Symbol, EstimatedProfit: profit, Amount: amount})
	}
	if len(cands) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].EstimatedProfit.GreaterThan(cands[j].EstimatedProfit)
	})
	return cands, nil
}

// Best returns the first candidate of a ranked slice.
func Best(cands []types.Candidate) (types.Candidate, bool) {
	if len(cands) == 0 {
		return types.Candidate{}, false
	}
	return cands[0], true
}
