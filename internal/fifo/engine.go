package fifo

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/polyfolio/pnl-engine/internal/model"
)

var hundred = decimal.NewFromInt(100)

// aggregate holds the running totals for one position key.
type aggregate struct {
	boughtQty decimal.Decimal
	soldQty   decimal.Decimal
	netQty    decimal.Decimal // bought - sold; goes negative only on oversell
	buyValue  decimal.Decimal // Σ notional + fee on buys
	sellValue decimal.Decimal // Σ notional - fee on sells
	fees      decimal.Decimal

	firstBuyAt time.Time
	hasBuy     bool
	lastSellAt *time.Time

	firstFill model.Fill // metadata fallback: first fill wins for titles/icons/tags
	hasFill   bool

	openIdx []int // indices into Engine.records with nil ClosedAt
}

// Engine reconstructs realized PnL from a chronologically ordered stream of
// fills. It is stateful and single-threaded: create one instance per
// computation, feed the full ordered fill list through ProcessFill, then
// read ClosedPositions once. Instantiation is cheap; there is no reset.
type Engine struct {
	ledger    *Ledger
	aggs      map[model.PositionKey]*aggregate
	order     []model.PositionKey // key insertion order, for deterministic output
	records   []model.ClosedPosition
	oversells int
}

// NewEngine creates an empty engine.
func NewEngine() *Engine {
	return &Engine{
		ledger: NewLedger(),
		aggs:   make(map[model.PositionKey]*aggregate),
	}
}

// OversellCount returns how many sell fills exceeded the open quantity for
// their key. Oversells are expected occasionally given upstream data
// quality; they are flagged, never fatal.
func (e *Engine) OversellCount() int {
	return e.oversells
}

// ProcessFill feeds one fill into the engine. Fills must arrive in
// ascending timestamp order; the caller is responsible for sorting.
func (e *Engine) ProcessFill(f model.Fill) {
	key := f.Key()
	agg, ok := e.aggs[key]
	if !ok {
		agg = &aggregate{}
		e.aggs[key] = agg
		e.order = append(e.order, key)
	}
	if !agg.hasFill {
		agg.firstFill = f
		agg.hasFill = true
	}
	agg.fees = agg.fees.Add(f.Fee)

	if f.Side == model.SideBuy {
		e.processBuy(key, agg, f)
		return
	}
	e.processSell(key, agg, f)
}

func (e *Engine) processBuy(key model.PositionKey, agg *aggregate, f model.Fill) {
	costBasis := f.Notional().Add(f.Fee)

	agg.boughtQty = agg.boughtQty.Add(f.Quantity)
	agg.netQty = agg.netQty.Add(f.Quantity)
	agg.buyValue = agg.buyValue.Add(costBasis)
	if !agg.hasBuy || f.Timestamp.Before(agg.firstBuyAt) {
		agg.firstBuyAt = f.Timestamp
		agg.hasBuy = true
	}

	e.ledger.Open(key, f.Quantity, costBasis, f.Timestamp)
}

func (e *Engine) processSell(key model.PositionKey, agg *aggregate, f model.Fill) {
	proceeds := f.Notional().Sub(f.Fee)
	sellAt := f.Timestamp

	agg.soldQty = agg.soldQty.Add(f.Quantity)
	agg.netQty = agg.netQty.Sub(f.Quantity)
	agg.sellValue = agg.sellValue.Add(proceeds)
	agg.lastSellAt = &sellAt

	c := e.ledger.Consume(key, f.Quantity)
	consumedQty := c.Quantity
	if c.Shortfall.IsPositive() {
		// Oversell: more sold than ever bought for this key. The unmatched
		// portion is treated as consumed at zero cost basis, so its full
		// proceeds count as gain. Lenient on purpose; flagged, not fatal.
		e.oversells++
		consumedQty = f.Quantity
	}
	if !consumedQty.IsPositive() {
		return
	}

	realized := proceeds.Sub(c.CostBasis)
	rec := model.ClosedPosition{
		Key:            key,
		Meta:           mergeMeta(f.Meta, agg.firstFill.Meta),
		Side:           model.InferPositionSide(key.OutcomeID),
		OpenedAt:       agg.firstBuyAt,
		Size:           consumedQty,
		CostBasis:      c.CostBasis,
		Proceeds:       proceeds,
		EntryVWAP:      c.CostBasis.Div(consumedQty),
		ExitVWAP:       proceeds.Div(consumedQty),
		RealizedPnL:    realized,
		RealizedPnLPct: pnlPercent(realized, c.CostBasis),
		TradesCount:    1,
	}

	openQty := e.ledger.OpenQuantity(key)
	if agg.netQty.IsZero() && openQty.IsZero() {
		// Position fully closed: stamp this record and retroactively patch
		// every prior still-open record under this key, in place.
		rec.ClosedAt = &sellAt
		for _, i := range agg.openIdx {
			e.records[i].ClosedAt = &sellAt
			e.records[i].OpenQuantityRemaining = decimal.Zero
			e.records[i].AvgOpenCost = decimal.Zero
		}
		agg.openIdx = nil
	} else {
		rec.OpenQuantityRemaining = openQty
		if openQty.IsPositive() {
			rec.AvgOpenCost = e.ledger.OpenCostBasis(key).Div(openQty)
		}
		agg.openIdx = append(agg.openIdx, len(e.records))
	}

	e.records = append(e.records, rec)
}

// RecordCount returns the number of per-sell records emitted so far.
func (e *Engine) RecordCount() int {
	return len(e.records)
}

// Records returns a copy of the per-sell records emitted so far, in
// emission order, before any merging.
func (e *Engine) Records() []model.ClosedPosition {
	out := make([]model.ClosedPosition, len(e.records))
	copy(out, e.records)
	return out
}

// ClosedPositions merges the per-sell records by position key and returns
// one record per key. Call once, after the fill stream is exhausted.
func (e *Engine) ClosedPositions() []model.ClosedPosition {
	return Merge(e.records)
}

// OpenPositions returns the keys still holding unconsumed quantity, in key
// insertion order, with their running totals. The open remainder is read
// from the ledger, so it reflects exactly the lots a future sell would
// consume.
func (e *Engine) OpenPositions() []model.OpenPosition {
	var out []model.OpenPosition
	for _, key := range e.order {
		openQty := e.ledger.OpenQuantity(key)
		if !openQty.IsPositive() {
			continue
		}
		agg := e.aggs[key]
		out = append(out, model.OpenPosition{
			Key:            key,
			Meta:           agg.firstFill.Meta,
			Side:           model.InferPositionSide(key.OutcomeID),
			OpenQuantity:   openQty,
			AvgOpenCost:    e.ledger.OpenCostBasis(key).Div(openQty),
			BoughtQuantity: agg.boughtQty,
			SoldQuantity:   agg.soldQty,
			TotalFees:      agg.fees,
			FirstBuyAt:     agg.firstBuyAt,
			LastSellAt:     agg.lastSellAt,
		})
	}
	return out
}

// Merge collapses records sharing a position key into one record per key,
// preserving first-seen key order. Sizes, cost bases, proceeds, realized
// PnL, and trade counts sum; entry and exit VWAPs are re-derived from the
// merged totals, never averaged across records; the PnL percentage is
// recomputed from the merged totals, not summed. ClosedAt takes the first
// non-nil value, the open-remainder fields the last observed value.
// Merge is idempotent: merging its own output reproduces it.
func Merge(records []model.ClosedPosition) []model.ClosedPosition {
	byKey := make(map[model.PositionKey]int)
	out := make([]model.ClosedPosition, 0, len(records))

	for _, r := range records {
		i, seen := byKey[r.Key]
		if !seen {
			byKey[r.Key] = len(out)
			out = append(out, r)
			continue
		}
		m := &out[i]
		m.Size = m.Size.Add(r.Size)
		m.CostBasis = m.CostBasis.Add(r.CostBasis)
		m.Proceeds = m.Proceeds.Add(r.Proceeds)
		m.RealizedPnL = m.RealizedPnL.Add(r.RealizedPnL)
		m.TradesCount += r.TradesCount
		if m.ClosedAt == nil {
			m.ClosedAt = r.ClosedAt
		}
		// Only the latest open-remainder state is meaningful.
		m.OpenQuantityRemaining = r.OpenQuantityRemaining
		m.AvgOpenCost = r.AvgOpenCost
	}

	for i := range out {
		if out[i].Size.IsPositive() {
			out[i].EntryVWAP = out[i].CostBasis.Div(out[i].Size)
			out[i].ExitVWAP = out[i].Proceeds.Div(out[i].Size)
		}
		out[i].RealizedPnLPct = pnlPercent(out[i].RealizedPnL, out[i].CostBasis)
	}
	return out
}

// pnlPercent computes realized PnL as a percentage of cost basis. A zero
// cost basis with positive proceeds reports 100% rather than letting a
// division by zero reach the aggregation layer.
func pnlPercent(realized, costBasis decimal.Decimal) decimal.Decimal {
	if costBasis.IsPositive() {
		return realized.Div(costBasis).Mul(hundred)
	}
	return hundred
}

// mergeMeta prefers the triggering fill's metadata, falling back per field
// to the first fill seen under the key.
func mergeMeta(trigger, first model.FillMeta) model.FillMeta {
	out := trigger
	if out.MarketTitle == "" {
		out.MarketTitle = first.MarketTitle
	}
	if out.EventTitle == "" {
		out.EventTitle = first.EventTitle
	}
	if out.OutcomeName == "" {
		out.OutcomeName = first.OutcomeName
	}
	if out.Icon == "" {
		out.Icon = first.Icon
	}
	if out.Slug == "" {
		out.Slug = first.Slug
	}
	if out.Category == "" {
		out.Category = first.Category
	}
	if len(out.Tags) == 0 {
		out.Tags = first.Tags
	}
	return out
}
