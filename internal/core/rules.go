package core

import (
	"context"
	"fmt"

	"stockcore/pkg/domain"
)

// NewDefaultRulesEngine registers the ledger invariants checked before every
// commit.
func NewDefaultRulesEngine() *domain.RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(NonNegativeStockRule())
	engine.Register(MovementBalanceRule())
	return engine
}

// NonNegativeStockRule blocks any transaction that leaves a stock record
// below zero.
func NonNegativeStockRule() domain.Rule { return nonNegativeStockRule{} }

type nonNegativeStockRule struct{}

func (nonNegativeStockRule) Name() string { return "non_negative_stock" }

func (r nonNegativeStockRule) Evaluate(_ context.Context, changes []domain.Change) (domain.Result, error) {
	var res domain.Result
	for _, change := range changes {
		if change.Entity != domain.EntityStock {
			continue
		}
		after, ok := change.After.(domain.StockRecord)
		if !ok || after.Quantity >= 0 {
			continue
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     r.Name(),
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf("stock %s would drop to %d", after.Key(), after.Quantity),
			Entity:   domain.EntityStock,
			EntityID: after.Key().String(),
		})
	}
	return res, nil
}

// MovementBalanceRule blocks transactions whose stock changes are not matched
// by movements of the same net quantity per key.
func MovementBalanceRule() domain.Rule { return movementBalanceRule{} }

type movementBalanceRule struct{}

func (movementBalanceRule) Name() string { return "movement_balance" }

func (r movementBalanceRule) Evaluate(_ context.Context, changes []domain.Change) (domain.Result, error) {
	stock := make(map[domain.StockKey]int)
	moved := make(map[domain.StockKey]int)
	var keys []domain.StockKey
	track := func(k domain.StockKey) {
		if _, ok := stock[k]; ok {
			return
		}
		if _, ok := moved[k]; ok {
			return
		}
		keys = append(keys, k)
	}
	for _, change := range changes {
		switch change.Entity {
		case domain.EntityStock:
			before, okBefore := change.Before.(domain.StockRecord)
			after, okAfter := change.After.(domain.StockRecord)
			if !okBefore || !okAfter {
				continue
			}
			track(after.Key())
			stock[after.Key()] += after.Quantity - before.Quantity
		case domain.EntityMovement:
			m, ok := change.After.(domain.StockMovement)
			if !ok {
				continue
			}
			track(m.Key())
			moved[m.Key()] += m.QuantityChange
		}
	}
	var res domain.Result
	for _, k := range sortKeys(keys) {
		if stock[k] == moved[k] {
			continue
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     r.Name(),
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf("stock %s changed by %d but movements record %d", k, stock[k], moved[k]),
			Entity:   domain.EntityStock,
			EntityID: k.String(),
		})
	}
	return res, nil
}
