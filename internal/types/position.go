package types

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	"quantcore/internal/pkg/symbol"

	"github.com/shopspring/decimal"
)

// PositionSnapshot 是某个证券持仓的只读视图。
type PositionSnapshot struct {
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	Quantity      float64 `json:"quantity"`
	MarkPrice     float64 `json:"mark_price,omitempty"`
	PositionValue float64 `json:"position_value,omitempty"`
}

// Inventory 记录证券 token 到持仓数量的映射。策略只读，执行器负责修改。
type Inventory struct {
	mu        sync.RWMutex
	positions map[string]decimal.Decimal
}

func NewInventory() *Inventory {
	return &Inventory{positions: make(map[string]decimal.Decimal)}
}

func inventoryKey(token string) string {
	return symbol.Normalize(token)
}

// Quantity 返回持仓数量，未持有时为 0。
func (inv *Inventory) Quantity(token string) decimal.Decimal {
	if inv == nil {
		return decimal.Zero
	}
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	return inv.positions[inventoryKey(token)]
}

func (inv *Inventory) Set(token string, qty decimal.Decimal) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if inv.positions == nil {
		inv.positions = make(map[string]decimal.Decimal)
	}
	key := inventoryKey(token)
	if qty.IsZero() {
		delete(inv.positions, key)
		return
	}
	inv.positions[key] = qty
}

func (inv *Inventory) adjust(token string, delta decimal.Decimal) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if inv.positions == nil {
		inv.positions = make(map[string]decimal.Decimal)
	}
	key := inventoryKey(token)
	next := inv.positions[key].Add(delta)
	if next.IsZero() {
		delete(inv.positions, key)
		return
	}
	inv.positions[key] = next
}

// Add 将 other 的持仓累加到 inv（+=）。
func (inv *Inventory) Add(other *Inventory) {
	for tok, q := range other.snapshot() {
		inv.adjust(tok, q)
	}
}

// ApplySignal 按信号方向与数量调整持仓；WAIT 或缺少数量时不变。
func (inv *Inventory) ApplySignal(token string, s Signal) {
	if s.Side == Wait || !s.Quantity.Valid {
		return
	}
	inv.adjust(token, s.Quantity.Decimal.Mul(decimal.NewFromInt(int64(s.Side))))
}

// ApplyDecision 应用决定；单个信号作用于 token，分组信号按各自 key。
func (inv *Inventory) ApplyDecision(token string, d Decision) {
	for key, s := range d.Signals() {
		if key == "" {
			key = token
		}
		inv.ApplySignal(key, s)
	}
}

func (inv *Inventory) snapshot() map[string]decimal.Decimal {
	if inv == nil {
		return nil
	}
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	return maps.Clone(inv.positions)
}

// Tokens 返回持仓 token（排序后）。
func (inv *Inventory) Tokens() []string {
	return slices.Sorted(maps.Keys(inv.snapshot()))
}

func (inv *Inventory) Len() int { return len(inv.snapshot()) }

func (inv *Inventory) Clone() *Inventory {
	out := NewInventory()
	maps.Copy(out.positions, inv.snapshot())
	return out
}

// Equal 按数值比较所有持仓。
func (inv *Inventory) Equal(other *Inventory) bool {
	a, b := inv.snapshot(), other.snapshot()
	if len(a) != len(b) {
		return false
	}
	for k, q := range a {
		if w, ok := b[k]; !ok || !q.Equal(w) {
			return false
		}
	}
	return true
}

// Snapshot 生成持仓视图，marks 提供标记价格（可为空）。
func (inv *Inventory) Snapshot(marks map[string]float64) []PositionSnapshot {
	positions := inv.snapshot()
	out := make([]PositionSnapshot, 0, len(positions))
	for _, tok := range slices.Sorted(maps.Keys(positions)) {
		q := positions[tok]
		snap := PositionSnapshot{Symbol: tok, Side: "long", Quantity: q.InexactFloat64()}
		if q.IsNegative() {
			snap.Side = "short"
		}
		if mark, ok := marks[tok]; ok {
			snap.MarkPrice = mark
			snap.PositionValue = snap.Quantity * mark
		}
		out = append(out, snap)
	}
	return out
}

// ToMap 输出 token -> 数量字符串。
func (inv *Inventory) ToMap() map[string]any {
	out := make(map[string]any)
	for k, q := range inv.snapshot() {
		out[k] = q.String()
	}
	return out
}

// InventoryFromMap 是 ToMap 的逆操作，也接受数值。
func InventoryFromMap(raw map[string]any) (*Inventory, error) {
	inv := NewInventory()
	for tok, v := range raw {
		var q decimal.Decimal
		switch t := v.(type) {
		case string:
			d, err := decimal.NewFromString(t)
			if err != nil {
				return nil, fmt.Errorf("inventory.%s: %w", tok, err)
			}
			q = d
		case float64:
			q = decimal.NewFromFloat(t)
		case int:
			q = decimal.NewFromInt(int64(t))
		case int64:
			q = decimal.NewFromInt(t)
		case decimal.Decimal:
			q = t
		default:
			return nil, fmt.Errorf("inventory.%s: unsupported quantity type %T", tok, v)
		}
		inv.Set(tok, q)
	}
	return inv, nil
}
