// Package model defines the core domain types shared across the PnL engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a fill.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// PositionSide labels which outcome a position is long. Inferred from the
// outcome identifier by substring heuristic, see InferPositionSide.
type PositionSide string

const (
	LongYes PositionSide = "LONG_YES"
	LongNo  PositionSide = "LONG_NO"
)

// PositionKey identifies the inventory a fill affects: one (market
// condition, outcome) pair. A struct key avoids the collision risk of
// concatenated strings and is usable directly as a map key.
type PositionKey struct {
	ConditionID string `json:"condition_id"`
	OutcomeID   string `json:"outcome_id"`
}

// FillMeta is descriptive metadata carried through for display only.
// Never used in PnL arithmetic.
type FillMeta struct {
	MarketTitle string   `json:"market_title,omitempty"`
	EventTitle  string   `json:"event_title,omitempty"`
	OutcomeName string   `json:"outcome_name,omitempty"`
	Icon        string   `json:"icon,omitempty"`
	Slug        string   `json:"slug,omitempty"`
	Category    string   `json:"category,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// Fill is one executed trade, normalized from the venue's activity feed.
// Fills are immutable once constructed and must be fed to the engine in
// ascending timestamp order, ties broken by input order.
type Fill struct {
	ID          string          `json:"id"`
	Timestamp   time.Time       `json:"timestamp"`
	ConditionID string          `json:"condition_id"`
	OutcomeID   string          `json:"outcome_id"`
	Side        Side            `json:"side"`
	Price       decimal.Decimal `json:"price"`
	Quantity    decimal.Decimal `json:"quantity"`
	Fee         decimal.Decimal `json:"fee"`
	Meta        FillMeta        `json:"meta"`
}

// Key returns the position key this fill affects.
func (f Fill) Key() PositionKey {
	return PositionKey{ConditionID: f.ConditionID, OutcomeID: f.OutcomeID}
}

// Notional returns price × quantity.
func (f Fill) Notional() decimal.Decimal {
	return f.Price.Mul(f.Quantity)
}

// ClosedPosition is a realized-PnL record emitted when a sell consumes
// open lots. Records sharing a key are merged by Engine.ClosedPositions;
// CostBasis and Proceeds are kept so the merge re-derives VWAPs from
// totals instead of averaging averages.
type ClosedPosition struct {
	Key  PositionKey  `json:"key"`
	Meta FillMeta     `json:"meta"`
	Side PositionSide `json:"side"`

	OpenedAt time.Time  `json:"opened_at"`
	ClosedAt *time.Time `json:"closed_at,omitempty"` // nil while quantity remains open

	Size      decimal.Decimal `json:"size"`       // consumed quantity
	CostBasis decimal.Decimal `json:"cost_basis"` // consumed cost basis (incl. buy fees)
	Proceeds  decimal.Decimal `json:"proceeds"`   // sell proceeds (after sell fees)

	EntryVWAP      decimal.Decimal `json:"entry_vwap"`
	ExitVWAP       decimal.Decimal `json:"exit_vwap"`
	RealizedPnL    decimal.Decimal `json:"realized_pnl"`
	RealizedPnLPct decimal.Decimal `json:"realized_pnl_pct"`
	TradesCount    int             `json:"trades_count"`

	// Populated only while the position is not fully closed.
	OpenQuantityRemaining decimal.Decimal `json:"open_quantity_remaining"`
	AvgOpenCost           decimal.Decimal `json:"avg_open_cost"`
}

// OpenPosition is a still-open holding: quantity bought but not yet sold,
// with its running totals. Open positions carry no realized PnL.
type OpenPosition struct {
	Key  PositionKey  `json:"key"`
	Meta FillMeta     `json:"meta"`
	Side PositionSide `json:"side"`

	OpenQuantity   decimal.Decimal `json:"open_quantity"`
	AvgOpenCost    decimal.Decimal `json:"avg_open_cost"`
	BoughtQuantity decimal.Decimal `json:"bought_quantity"`
	SoldQuantity   decimal.Decimal `json:"sold_quantity"`
	TotalFees      decimal.Decimal `json:"total_fees"`

	FirstBuyAt time.Time  `json:"first_buy_at"`
	LastSellAt *time.Time `json:"last_sell_at,omitempty"`
}

/// Profile is a venue user: proxy wallet address plus display identity.
type Profile struct {
	Wallet    string    `json:"wallet"`
	Username  string    `json:"username,omitempty"`
	Pseudonym string    `json:"pseudonym,omitempty"`
	Bio       string    `json:"bio,omitempty"`
	Image     string    `json:"image,omitempty"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Report is the full PnL reconstruction for one wallet.
type Report struct {
	ID            string           `json:"id"`
	Wallet        string           `json:"wallet"`
	Username      string           `json:"username,omitempty"`
	Positions     []ClosedPosition `json:"positions"`
	OpenPositions []OpenPosition   `json:"open_positions,omitempty"`

	TotalRealizedPnL decimal.Decimal `json:"total_realized_pnl"`
	TotalVolume      decimal.Decimal `json:"total_volume"` // Σ cost basis + proceeds
	WinRate          decimal.Decimal `json:"win_rate"`     // % of merged records with PnL > 0
	MarketsTraded    int             `json:"markets_traded"`
	FillCount        int             `json:"fill_count"`
	OversellCount    int             `json:"oversell_count"`
	GeneratedAt      time.Time       `json:"generated_at"`
}

// CalendarDay is one UTC day's realized PnL, for the dashboard calendar.
type CalendarDay struct {
	Date        string          `json:"date"` // YYYY-MM-DD
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	Closes      int             `json:"closes"`
}

// InferPositionSide labels a position Long YES when the outcome identifier
// contains "yes" or "true" (case-insensitive) or is exactly "1", else
// Long NO. This is a string heuristic over venue outcome IDs, not a
// guarantee of the venue's outcome semantics; downstream display depends
// on its exact behavior, including its failure modes.
func InferPositionSide(outcomeID string) PositionSide {
	lower := strings.ToLower(outcomeID)
	if strings.Contains(lower, "yes") || strings.Contains(lower, "true") || outcomeID == "1" {
		return LongYes
	}
	return LongNo
}
