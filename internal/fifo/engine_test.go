package fifo

import (
	"testing"

	"github.com/polyfolio/pnl-engine/internal/model"
)

func buy(sec int64, outcome string, price, qty, fee float64) model.Fill {
	return fill(sec, outcome, model.SideBuy, price, qty, fee)
}

func sell(sec int64, outcome string, price, qty, fee float64) model.Fill {
	return fill(sec, outcome, model.SideSell, price, qty, fee)
}

func fill(sec int64, outcome string, side model.Side, price, qty, fee float64) model.Fill {
	return model.Fill{
		ID:          "fill",
		Timestamp:   ts(sec),
		ConditionID: "0xc1",
		OutcomeID:   outcome,
		Side:        side,
		Price:       d(price),
		Quantity:    d(qty),
		Fee:         d(fee),
	}
}

func run(fills ...model.Fill) *Engine {
	e := NewEngine()
	for _, f := range fills {
		e.ProcessFill(f)
	}
	return e
}

// --- Conservation law ---

func TestEngine_SingleLotRoundTrip(t *testing.T) {
	e := run(
		buy(1, "1", 0.40, 10, 0),
		sell(2, "1", 0.70, 10, 0),
	)

	positions := e.ClosedPositions()
	if len(positions) != 1 {
		t.Fatalf("expected 1 position, got %d", len(positions))
	}
	p := positions[0]

	// realizedPnL = Q × (P2 − P1)
	if !p.RealizedPnL.Equal(d(3)) {
		t.Errorf("expected realized PnL 3, got %s", p.RealizedPnL)
	}
	// realizedPnLPercent = (P2 − P1) / P1 × 100
	if !p.RealizedPnLPct.Equal(d(75)) {
		t.Errorf("expected 75%%, got %s", p.RealizedPnLPct)
	}
	if p.ClosedAt == nil || !p.ClosedAt.Equal(ts(2)) {
		t.Errorf("expected ClosedAt = sell timestamp, got %v", p.ClosedAt)
	}
	if !p.OpenedAt.Equal(ts(1)) {
		t.Errorf("expected OpenedAt = buy timestamp, got %v", p.OpenedAt)
	}
}

// --- End-to-end example: two buys merged into one sell ---

func TestEngine_EndToEnd_VWAPFromTotals(t *testing.T) {
	e := run(
		buy(1, "1", 0.40, 50, 0),
		buy(2, "1", 0.60, 50, 0),
		sell(3, "1", 0.70, 100, 0),
	)

	positions := e.ClosedPositions()
	if len(positions) != 1 {
		t.Fatalf("expected 1 merged position, got %d", len(positions))
	}
	p := positions[0]

	if !p.EntryVWAP.Equal(d(0.50)) {
		t.Errorf("expected entry VWAP 0.50, got %s", p.EntryVWAP)
	}
	if !p.ExitVWAP.Equal(d(0.70)) {
		t.Errorf("expected exit VWAP 0.70, got %s", p.ExitVWAP)
	}
	if !p.Size.Equal(d(100)) {
		t.Errorf("expected size 100, got %s", p.Size)
	}
	if !p.RealizedPnL.Equal(d(20)) {
		t.Errorf("expected realized PnL 20, got %s", p.RealizedPnL)
	}
	if !p.RealizedPnLPct.Equal(d(40)) {
		t.Errorf("expected 40%%, got %s", p.RealizedPnLPct)
	}
	if p.ClosedAt == nil || !p.ClosedAt.Equal(ts(3)) {
		t.Errorf("expected ClosedAt = sell timestamp, got %v", p.ClosedAt)
	}
	if p.Side != model.LongYes {
		t.Errorf("outcome \"1\" should infer LONG_YES, got %s", p.Side)
	}
}

// --- FIFO order across sells ---

func TestEngine_FIFOAttributionAcrossSells(t *testing.T) {
	e := run(
		buy(1, "1", 0.20, 10, 0), // cost 2
		buy(2, "1", 0.80, 10, 0), // cost 8
		sell(3, "1", 0.50, 10, 0),
		sell(4, "1", 0.50, 10, 0),
	)

	records := e.Records()
	if len(records) != 2 {
		t.Fatalf("expected 2 per-sell records, got %d", len(records))
	}
	// First sell consumes the 0.20 lot, second the 0.80 lot.
	if !records[0].RealizedPnL.Equal(d(3)) {
		t.Errorf("first sell: expected PnL 3 (5 - 2), got %s", records[0].RealizedPnL)
	}
	if !records[1].RealizedPnL.Equal(d(-3)) {
		t.Errorf("second sell: expected PnL -3 (5 - 8), got %s", records[1].RealizedPnL)
	}
}

// --- Oversell leniency ---

func TestEngine_OversellNeverErrors(t *testing.T) {
	e := run(sell(1, "1", 0.60, 10, 0))

	records := e.Records()
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	r := records[0]
	if !r.Size.Equal(d(10)) {
		t.Errorf("expected consumed qty forced to 10, got %s", r.Size)
	}
	if !r.CostBasis.IsZero() {
		t.Errorf("expected zero cost basis, got %s", r.CostBasis)
	}
	if !r.RealizedPnL.Equal(d(6)) {
		t.Errorf("expected PnL = full proceeds (6), got %s", r.RealizedPnL)
	}
	if !r.RealizedPnLPct.Equal(d(100)) {
		t.Errorf("zero cost basis must report 100%%, got %s", r.RealizedPnLPct)
	}
	if e.OversellCount() != 1 {
		t.Errorf("expected oversell count 1, got %d", e.OversellCount())
	}
}

func TestEngine_PartialOversell(t *testing.T) {
	e := run(
		buy(1, "1", 0.50, 4, 0), // cost 2
		sell(2, "1", 0.50, 10, 0),
	)

	r := e.Records()[0]
	if !r.Size.Equal(d(10)) {
		t.Errorf("expected size 10, got %s", r.Size)
	}
	if !r.CostBasis.Equal(d(2)) {
		t.Errorf("unmatched portion must contribute zero cost: got %s", r.CostBasis)
	}
	if !r.RealizedPnL.Equal(d(3)) {
		t.Errorf("expected PnL 3 (5 - 2), got %s", r.RealizedPnL)
	}
	if e.OversellCount() != 1 {
		t.Errorf("expected oversell count 1, got %d", e.OversellCount())
	}
}

// --- Open-remainder bookkeeping and retroactive close ---

func TestEngine_OpenRemainderThenRetroactiveClose(t *testing.T) {
	e := run(
		buy(1, "1", 0.50, 100, 0),
		sell(2, "1", 0.80, 30, 0),
	)

	r := e.Records()[0]
	if r.ClosedAt != nil {
		t.Errorf("expected nil ClosedAt while position open, got %v", r.ClosedAt)
	}
	if !r.Size.Equal(d(30)) {
		t.Errorf("expected size 30, got %s", r.Size)
	}
	if !r.OpenQuantityRemaining.Equal(d(70)) {
		t.Errorf("expected 70 open, got %s", r.OpenQuantityRemaining)
	}
	if !r.AvgOpenCost.Equal(d(0.50)) {
		t.Errorf("expected avg open cost 0.50, got %s", r.AvgOpenCost)
	}

	e.ProcessFill(sell(3, "1", 0.80, 70, 0))

	records := e.Records()
	for i, rec := range records {
		if rec.ClosedAt == nil || !rec.ClosedAt.Equal(ts(3)) {
			t.Errorf("record %d: expected ClosedAt patched to final sell timestamp, got %v", i, rec.ClosedAt)
		}
		if !rec.OpenQuantityRemaining.IsZero() {
			t.Errorf("record %d: expected open remainder cleared, got %s", i, rec.OpenQuantityRemaining)
		}
	}

	merged := e.ClosedPositions()
	if len(merged) != 1 {
		t.Fatalf("expected 1 merged position, got %d", len(merged))
	}
	if !merged[0].Size.Equal(d(100)) {
		t.Errorf("expected merged size 100, got %s", merged[0].Size)
	}
	if merged[0].TradesCount != 2 {
		t.Errorf("expected trades count 2, got %d", merged[0].TradesCount)
	}
}

// --- Fees ---

func TestEngine_FeesLinearAddDeduct(t *testing.T) {
	e := run(
		buy(1, "1", 0.50, 10, 1),  // cost basis 5 + 1 = 6
		sell(2, "1", 0.90, 10, 2), // proceeds 9 - 2 = 7
	)

	p := e.ClosedPositions()[0]
	if !p.CostBasis.Equal(d(6)) {
		t.Errorf("buy fee must add to cost basis: got %s", p.CostBasis)
	}
	if !p.Proceeds.Equal(d(7)) {
		t.Errorf("sell fee must deduct from proceeds: got %s", p.Proceeds)
	}
	if !p.RealizedPnL.Equal(d(1)) {
		t.Errorf("expected PnL 1, got %s", p.RealizedPnL)
	}
}

// --- Merge pass ---

func TestMerge_Idempotent(t *testing.T) {
	e := run(
		buy(1, "1", 0.30, 50, 0),
		sell(2, "1", 0.50, 20, 0),
		sell(3, "1", 0.60, 30, 0),
		buy(4, "0", 0.70, 10, 0),
		sell(5, "0", 0.40, 10, 0),
	)

	once := Merge(e.Records())
	twice := Merge(once)
	if len(once) != len(twice) {
		t.Fatalf("merge changed record count: %d vs %d", len(once), len(twice))
	}
	for i := range once {
		a, b := once[i], twice[i]
		if !a.Size.Equal(b.Size) || !a.CostBasis.Equal(b.CostBasis) ||
			!a.Proceeds.Equal(b.Proceeds) || !a.RealizedPnL.Equal(b.RealizedPnL) ||
			!a.RealizedPnLPct.Equal(b.RealizedPnLPct) || a.TradesCount != b.TradesCount {
			t.Errorf("position %d not stable under re-merge: %+v vs %+v", i, a, b)
		}
	}
}

func TestMerge_WeightedVWAPNotAverageOfAverages(t *testing.T) {
	// Two sells with very different sizes: a naive average of the two exit
	// VWAPs would be 0.55, the weighted result must be 0.59.
	e := run(
		buy(1, "1", 0.10, 100, 0),
		sell(2, "1", 0.50, 10, 0),
		sell(3, "1", 0.60, 90, 0),
	)

	p := e.ClosedPositions()[0]
	if !p.ExitVWAP.Equal(d(0.59)) {
		t.Errorf("expected weighted exit VWAP 0.59, got %s", p.ExitVWAP)
	}
	if !p.EntryVWAP.Equal(d(0.10)) {
		t.Errorf("expected entry VWAP 0.10, got %s", p.EntryVWAP)
	}
}

func TestMerge_ClosedAtFirstNonNil(t *testing.T) {
	closed := ts(9)
	records := []model.ClosedPosition{
		{Key: testKey, Size: d(1), CostBasis: d(1), Proceeds: d(2), TradesCount: 1},
		{Key: testKey, Size: d(1), CostBasis: d(1), Proceeds: d(2), TradesCount: 1, ClosedAt: &closed},
	}
	out := Merge(records)
	if len(out) != 1 {
		t.Fatalf("expected 1 merged record, got %d", len(out))
	}
	if out[0].ClosedAt == nil || !out[0].ClosedAt.Equal(closed) {
		t.Errorf("expected first non-nil ClosedAt, got %v", out[0].ClosedAt)
	}
}

func TestMerge_PreservesKeyOrderAndIsolation(t *testing.T) {
	e := run(
		buy(1, "yes-a", 0.50, 10, 0),
		buy(1, "no-b", 0.50, 10, 0),
		sell(2, "no-b", 0.60, 10, 0),
		sell(3, "yes-a", 0.60, 10, 0),
	)

	out := e.ClosedPositions()
	if len(out) != 2 {
		t.Fatalf("expected 2 positions, got %d", len(out))
	}
	// First emitted record was for "no-b": it sold first.
	if out[0].Key.OutcomeID != "no-b" || out[1].Key.OutcomeID != "yes-a" {
		t.Errorf("expected first-seen record order, got %s then %s",
			out[0].Key.OutcomeID, out[1].Key.OutcomeID)
	}
	if out[0].Side != model.LongNo {
		t.Errorf("expected LONG_NO for %q, got %s", out[0].Key.OutcomeID, out[0].Side)
	}
	if out[1].Side != model.LongYes {
		t.Errorf("expected LONG_YES for %q, got %s", out[1].Key.OutcomeID, out[1].Side)
	}
}

// --- Metadata fallback ---

func TestEngine_MetadataFallsBackToFirstFill(t *testing.T) {
	first := buy(1, "1", 0.50, 10, 0)
	first.Meta = model.FillMeta{MarketTitle: "Will it rain?", Icon: "rain.png", Tags: []string{"weather"}}
	closing := sell(2, "1", 0.60, 10, 0)
	closing.Meta = model.FillMeta{EventTitle: "Weather week"}

	e := run(first, closing)
	p := e.ClosedPositions()[0]
	if p.Meta.MarketTitle != "Will it rain?" {
		t.Errorf("expected market title from first fill, got %q", p.Meta.MarketTitle)
	}
	if p.Meta.EventTitle != "Weather week" {
		t.Errorf("expected event title from triggering fill, got %q", p.Meta.EventTitle)
	}
	if len(p.Meta.Tags) != 1 || p.Meta.Tags[0] != "weather" {
		t.Errorf("expected tags from first fill, got %v", p.Meta.Tags)
	}
}

// --- Buys alone emit nothing ---

func TestEngine_BuyOnlyPositionEmitsNoRecord(t *testing.T) {
	e := run(buy(1, "1", 0.50, 10, 0))
	if got := len(e.ClosedPositions()); got != 0 {
		t.Errorf("expected no closed positions for buy-only key, got %d", got)
	}
}

func TestEngine_OpenPositions(t *testing.T) {
	e := run(
		buy(1, "1", 0.40, 100, 2),
		sell(2, "1", 0.70, 30, 0),
		buy(3, "0", 0.20, 50, 0),
		sell(4, "0", 0.50, 50, 0), // fully closed, must not appear
	)

	open := e.OpenPositions()
	if len(open) != 1 {
		t.Fatalf("expected 1 open position, got %d", len(open))
	}
	p := open[0]

	if p.Key.OutcomeID != "1" {
		t.Errorf("expected outcome 1, got %s", p.Key.OutcomeID)
	}
	if p.Side != model.LongYes {
		t.Errorf("expected LONG_YES, got %s", p.Side)
	}
	if !p.OpenQuantity.Equal(d(70)) {
		t.Errorf("expected open quantity 70, got %s", p.OpenQuantity)
	}
	// basis 100×0.40 + 2 fee = 42, consuming 30 leaves 29.4 over 70 shares
	if !p.AvgOpenCost.Equal(d(0.42)) {
		t.Errorf("expected avg open cost 0.42, got %s", p.AvgOpenCost)
	}
	if !p.BoughtQuantity.Equal(d(100)) || !p.SoldQuantity.Equal(d(30)) {
		t.Errorf("expected bought 100 / sold 30, got %s / %s", p.BoughtQuantity, p.SoldQuantity)
	}
	if !p.TotalFees.Equal(d(2)) {
		t.Errorf("expected total fees 2, got %s", p.TotalFees)
	}
	if !p.FirstBuyAt.Equal(ts(1)) {
		t.Errorf("expected first buy at %v, got %v", ts(1), p.FirstBuyAt)
	}
	if !p.LastSellAt.Equal(ts(2)) {
		t.Errorf("expected last sell at %v, got %v", ts(2), p.LastSellAt)
	}
}
