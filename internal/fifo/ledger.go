// Package fifo implements first-in-first-out lot accounting for realized
// profit-and-loss reconstruction over prediction-market fills.
//
// A buy opens a lot (quantity + cost basis + acquisition time) at the tail
// of its position's queue; a sell consumes lots from the head, oldest
// first, attributing cost basis proportionally on partial consumption.
//
// All monetary values use shopspring/decimal — never float64 for money.
package fifo

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/polyfolio/pnl-engine/internal/model"
)

// lot is a batch of bought quantity awaiting consumption by future sells.
// Quantity and cost basis shrink by the same ratio on partial consumption,
// so the average cost per unit within a lot never changes.
type lot struct {
	qty        decimal.Decimal
	costBasis  decimal.Decimal
	acquiredAt time.Time
}

// lotQueue is a ring buffer of open lots, oldest at the head. Head removal
// is O(1) amortized; lot counts can grow large for high-frequency traders,
// so an array-shift queue would be quadratic.
type lotQueue struct {
	buf   []lot
	head  int
	count int
}

func (q *lotQueue) push(l lot) {
	if q.count == len(q.buf) {
		q.grow()
	}
	q.buf[(q.head+q.count)%len(q.buf)] = l
	q.count++
}

func (q *lotQueue) grow() {
	newCap := len(q.buf) * 2
	if newCap == 0 {
		newCap = 8
	}
	next := make([]lot, newCap)
	for i := 0; i < q.count; i++ {
		next[i] = q.buf[(q.head+i)%len(q.buf)]
	}
	q.buf = next
	q.head = 0
}

func (q *lotQueue) front() *lot {
	return &q.buf[q.head]
}

func (q *lotQueue) popFront() {
	q.buf[q.head] = lot{}
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	if q.count == 0 {
		q.head = 0
	}
}

// Consumption is the result of a Ledger.Consume call. Shortfall is the
// quantity that could not be matched against open lots; the ledger
// reports facts, it does not error.
type Consumption struct {
	Quantity  decimal.Decimal
	CostBasis decimal.Decimal
	Shortfall decimal.Decimal
}

// Ledger holds the open-lot queues, one per position key.
type Ledger struct {
	queues map[model.PositionKey]*lotQueue
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{queues: make(map[model.PositionKey]*lotQueue)}
}

// Open appends a lot to the tail of the key's queue.
func (l *Ledger) Open(key model.PositionKey, qty, costBasis decimal.Decimal, acquiredAt time.Time) {
	q, ok := l.queues[key]
	if !ok {
		q = &lotQueue{}
		l.queues[key] = q
	}
	q.push(lot{qty: qty, costBasis: costBasis, acquiredAt: acquiredAt})
}

// Consume removes up to qty units from the head of the key's queue, across
// as many lots as needed, and returns the quantity actually consumed, the
// cost basis attributable to it, and any shortfall. Lots are never
// reordered: strict FIFO, no LIFO or average-cost option.
func (l *Ledger) Consume(key model.PositionKey, qty decimal.Decimal) Consumption {
	c := Consumption{}
	remaining := qty

	q := l.queues[key]
	for q != nil && q.count > 0 && remaining.IsPositive() {
		head := q.front()
		if head.qty.LessThanOrEqual(remaining) {
			// Full consumption of the head lot.
			c.Quantity = c.Quantity.Add(head.qty)
			c.CostBasis = c.CostBasis.Add(head.costBasis)
			remaining = remaining.Sub(head.qty)
			q.popFront()
			continue
		}
		// Partial: attribute the consumed fraction of the lot's cost basis
		// and shrink the lot by the same fraction.
		fraction := remaining.Div(head.qty)
		consumedCost := head.costBasis.Mul(fraction)
		c.Quantity = c.Quantity.Add(remaining)
		c.CostBasis = c.CostBasis.Add(consumedCost)
		head.qty = head.qty.Sub(remaining)
		head.costBasis = head.costBasis.Sub(consumedCost)
		remaining = decimal.Zero
	}

	c.Shortfall = remaining
	return c
}

// OpenQuantity returns the total unconsumed quantity for a key.
func (l *Ledger) OpenQuantity(key model.PositionKey) decimal.Decimal {
	total := decimal.Zero
	q := l.queues[key]
	if q == nil {
		return total
	}
	for i := 0; i < q.count; i++ {
		total = total.Add(q.buf[(q.head+i)%len(q.buf)].qty)
	}
	return total
}

// OpenCostBasis returns the total unconsumed cost basis for a key.
func (l *Ledger) OpenCostBasis(key model.PositionKey) decimal.Decimal {
	total := decimal.Zero
	q := l.queues[key]
	if q == nil {
		return total
	}
	for i := 0; i < q.count; i++ {
		total = total.Add(q.buf[(q.head+i)%len(q.buf)].costBasis)
	}
	return total
}

// LotCount returns the number of open lots for a key.
func (l *Ledger) LotCount(key model.PositionKey) int {
	if q := l.queues[key]; q != nil {
		return q.count
	}
	return 0
}
