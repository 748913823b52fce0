package fifo

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/polyfolio/pnl-engine/internal/model"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func ts(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

var testKey = model.PositionKey{ConditionID: "0xc1", OutcomeID: "1"}

// --- FIFO consumption ---

func TestConsume_OldestLotFirst(t *testing.T) {
	l := NewLedger()
	l.Open(testKey, d(10), d(4), ts(1)) // 0.40/unit
	l.Open(testKey, d(10), d(6), ts(2)) // 0.60/unit

	c := l.Consume(testKey, d(10))
	if !c.Quantity.Equal(d(10)) {
		t.Fatalf("expected consumed qty 10, got %s", c.Quantity)
	}
	if !c.CostBasis.Equal(d(4)) {
		t.Errorf("expected cost basis of the first lot (4), got %s", c.CostBasis)
	}

	// Second consume must hit the second lot.
	c = l.Consume(testKey, d(10))
	if !c.CostBasis.Equal(d(6)) {
		t.Errorf("expected cost basis of the second lot (6), got %s", c.CostBasis)
	}
}

func TestConsume_SpansMultipleLots(t *testing.T) {
	l := NewLedger()
	l.Open(testKey, d(5), d(2), ts(1))
	l.Open(testKey, d(5), d(3), ts(2))
	l.Open(testKey, d(5), d(4), ts(3))

	// 12 units = lot1 (5) + lot2 (5) + 2/5 of lot3.
	c := l.Consume(testKey, d(12))
	if !c.Quantity.Equal(d(12)) {
		t.Fatalf("expected consumed qty 12, got %s", c.Quantity)
	}
	want := d(2).Add(d(3)).Add(d(4).Mul(d(0.4)))
	if !c.CostBasis.Equal(want) {
		t.Errorf("expected cost basis %s, got %s", want, c.CostBasis)
	}
	if got := l.LotCount(testKey); got != 1 {
		t.Errorf("expected 1 lot remaining, got %d", got)
	}
	if !l.OpenQuantity(testKey).Equal(d(3)) {
		t.Errorf("expected 3 units remaining, got %s", l.OpenQuantity(testKey))
	}
}

func TestConsume_PartialLotProportionality(t *testing.T) {
	l := NewLedger()
	l.Open(testKey, d(100), d(100), ts(1))

	c := l.Consume(testKey, d(40))
	if !c.CostBasis.Equal(d(40)) {
		t.Errorf("expected 40%% of cost basis (40), got %s", c.CostBasis)
	}
	if !l.OpenQuantity(testKey).Equal(d(60)) {
		t.Errorf("expected remaining qty 60, got %s", l.OpenQuantity(testKey))
	}
	if !l.OpenCostBasis(testKey).Equal(d(60)) {
		t.Errorf("expected remaining cost basis 60, got %s", l.OpenCostBasis(testKey))
	}
}

func TestConsume_AverageCostInvariantAcrossPartials(t *testing.T) {
	l := NewLedger()
	l.Open(testKey, d(100), d(50), ts(1)) // 0.50/unit

	for i := 0; i < 4; i++ {
		c := l.Consume(testKey, d(10))
		perUnit := c.CostBasis.Div(c.Quantity)
		if !perUnit.Equal(d(0.5)) {
			t.Fatalf("consume %d: expected 0.5/unit, got %s", i, perUnit)
		}
	}
	if !l.OpenCostBasis(testKey).Equal(d(30)) {
		t.Errorf("expected remaining cost basis 30, got %s", l.OpenCostBasis(testKey))
	}
}

// --- Shortfall reporting ---

func TestConsume_ShortfallReported(t *testing.T) {
	l := NewLedger()
	l.Open(testKey, d(3), d(1.5), ts(1))

	c := l.Consume(testKey, d(10))
	if !c.Quantity.Equal(d(3)) {
		t.Errorf("expected consumed qty 3, got %s", c.Quantity)
	}
	if !c.Shortfall.Equal(d(7)) {
		t.Errorf("expected shortfall 7, got %s", c.Shortfall)
	}
	if l.LotCount(testKey) != 0 {
		t.Errorf("expected empty queue after over-consumption")
	}
}

func TestConsume_EmptyKey(t *testing.T) {
	l := NewLedger()
	c := l.Consume(testKey, d(5))
	if !c.Quantity.IsZero() || !c.CostBasis.IsZero() {
		t.Errorf("expected zero consumption, got qty=%s cost=%s", c.Quantity, c.CostBasis)
	}
	if !c.Shortfall.Equal(d(5)) {
		t.Errorf("expected shortfall 5, got %s", c.Shortfall)
	}
}

// --- Key isolation ---

func TestConsume_KeysAreIndependent(t *testing.T) {
	other := model.PositionKey{ConditionID: "0xc2", OutcomeID: "0"}
	l := NewLedger()
	l.Open(testKey, d(10), d(5), ts(1))
	l.Open(other, d(20), d(8), ts(1))

	l.Consume(testKey, d(10))
	if !l.OpenQuantity(other).Equal(d(20)) {
		t.Errorf("consuming one key must not touch another: got %s", l.OpenQuantity(other))
	}
}

// --- Ring buffer behavior ---

func TestLotQueue_WrapAround(t *testing.T) {
	l := NewLedger()

	// Interleave opens and full consumptions so head/tail wrap the buffer
	// repeatedly and the buffer grows at least once mid-wrap.
	total := decimal.Zero
	for i := 1; i <= 50; i++ {
		l.Open(testKey, d(1), d(float64(i)), ts(int64(i)))
		total = total.Add(d(float64(i)))
		if i%3 == 0 {
			c := l.Consume(testKey, d(2))
			total = total.Sub(c.CostBasis)
		}
	}
	if !l.OpenCostBasis(testKey).Equal(total) {
		t.Errorf("cost basis drifted across wraps: want %s, got %s", total, l.OpenCostBasis(testKey))
	}

	// Drain and verify FIFO order survived the wraps: cost bases must come
	// out strictly increasing since they were opened 1..50.
	prev := decimal.Zero
	for l.LotCount(testKey) > 0 {
		c := l.Consume(testKey, d(1))
		if c.CostBasis.LessThanOrEqual(prev) {
			t.Fatalf("FIFO order violated: %s after %s", c.CostBasis, prev)
		}
		prev = c.CostBasis
	}
}
