package types

import (
	"errors"
	"fmt"
	"time"

	"quantcore/internal/security"

	"github.com/shopspring/decimal"
)

var ErrSecurityMismatch = errors.New("transaction security does not match order")

// OrderData 描述下单意图。
type OrderData struct {
	Security  security.Security   `json:"security"`
	Side      Side                `json:"side"`
	Quantity  decimal.Decimal     `json:"quantity"`
	Limit     decimal.NullDecimal `json:"limit"`
	CreatedAt time.Time           `json:"created_at"`
}

// Transaction 是一次成交。
type Transaction struct {
	ID       string            `json:"id"`
	Security security.Security `json:"security"`
	Side     Side              `json:"side"`
	Quantity decimal.Decimal   `json:"quantity"`
	Price    decimal.Decimal   `json:"price"`
	Time     time.Time         `json:"time"`
}

// Order 聚合同一证券的成交。
type Order struct {
	ID           string        `json:"id"`
	Data         OrderData     `json:"data"`
	Transactions []Transaction `json:"transactions"`
}

func NewOrder(id string, data OrderData) *Order {
	return &Order{ID: id, Data: data}
}

// OrderFromSignal 以信号构造订单；信号缺少数量时返回错误。
func OrderFromSignal(id string, sec security.Security, s Signal, at time.Time) (*Order, error) {
	if s.Side == Wait {
		return nil, fmt.Errorf("wait signal cannot become an order")
	}
	if !s.Quantity.Valid || !s.Quantity.Decimal.IsPositive() {
		return nil, fmt.Errorf("signal for %s has no positive quantity", sec)
	}
	return NewOrder(id, OrderData{
		Security:  sec,
		Side:      s.Side,
		Quantity:  s.Quantity.Decimal,
		Limit:     s.Price,
		CreatedAt: at,
	}), nil
}

// AddTransaction 记录成交；证券不一致时返回 ErrSecurityMismatch。
func (o *Order) AddTransaction(tx Transaction) error {
	if tx.Security.Symbol != o.Data.Security.Symbol {
		return fmt.Errorf("%w: order %s is %s, transaction is %s", ErrSecurityMismatch, o.ID, o.Data.Security, tx.Security)
	}
	o.Transactions = append(o.Transactions, tx)
	return nil
}

func (o *Order) Filled() decimal.Decimal {
	total := decimal.Zero
	for _, tx := range o.Transactions {
		total = total.Add(tx.Quantity)
	}
	return total
}

func (o *Order) Remaining() decimal.Decimal {
	rem := o.Data.Quantity.Sub(o.Filled())
	if rem.IsNegative() {
		return decimal.Zero
	}
	return rem
}

func (o *Order) IsFilled() bool { return !o.Remaining().IsPositive() }

// AvgPrice 返回成交均价，没有成交时无效。
func (o *Order) AvgPrice() decimal.NullDecimal {
	filled := o.Filled()
	if filled.IsZero() {
		return decimal.NullDecimal{}
	}
	notional := decimal.Zero
	for _, tx := range o.Transactions {
		notional = notional.Add(tx.Quantity.Mul(tx.Price))
	}
	return decimal.NewNullDecimal(notional.Div(filled))
}
