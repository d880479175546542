package executor

import (
	"fmt"
	"strings"
	"time"

	"quantcore/internal/history"
	"quantcore/internal/types"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Filler 将决定撮合为订单并更新持仓。
type Filler interface {
	Fill(obs history.Observation, decision types.Decision, position *types.Inventory) ([]*types.Order, error)
}

// MarketFiller 以信号价格（缺省时取观测的 PriceField）立即全部成交，并按滑点调整成交价。
type MarketFiller struct {
	PriceField  string
	SlippageBps float64
}

func (f MarketFiller) priceField() string {
	if strings.TrimSpace(f.PriceField) == "" {
		return "close"
	}
	return f.PriceField
}

func (f MarketFiller) Fill(obs history.Observation, decision types.Decision, position *types.Inventory) ([]*types.Order, error) {
	at, _ := obs.Time()
	if at.IsZero() {
		at = time.Now()
	}
	var orders []*types.Order
	for key, sig := range decision.Signals() {
		if sig.IsWait() || !sig.Quantity.Valid || !sig.Quantity.Decimal.IsPositive() {
			continue
		}
		sec, ok := obs.Security()
		if key != "" {
			var err error
			if sec, err = obs.Schema().Securities.Get(key); err != nil {
				return nil, err
			}
		} else if !ok {
			return nil, fmt.Errorf("observation %s has no security level", history.FormatKey(obs.Key))
		}
		price := sig.Price
		if !price.Valid {
			mark, ok := obs.Float(f.priceField())
			if !ok {
				return nil, fmt.Errorf("no %s price for %s", f.priceField(), sec)
			}
			price = decimal.NewNullDecimal(decimal.NewFromFloat(mark))
		}
		fillPrice := price.Decimal
		if f.SlippageBps > 0 {
			adj := decimal.NewFromFloat(f.SlippageBps).Div(decimal.NewFromInt(10000))
			fillPrice = fillPrice.Mul(decimal.NewFromInt(1).Add(adj.Mul(decimal.NewFromInt(int64(sig.Side)))))
		}
		order, err := types.OrderFromSignal(uuid.NewString(), sec, sig, at)
		if err != nil {
			return nil, err
		}
		tx := types.Transaction{
			ID:       uuid.NewString(),
			Security: sec,
			Side:     sig.Side,
			Quantity: sig.Quantity.Decimal,
			Price:    fillPrice,
			Time:     at,
		}
		if err := order.AddTransaction(tx); err != nil {
			return nil, err
		}
		if position != nil {
			position.ApplySignal(sec.Symbol, sig)
		}
		orders = append(orders, order)
	}
	return orders, nil
}
