// Package report provides the HTTP handlers and business logic for
// reconstructing realized-PnL reports from a wallet's fill history.
//
// All monetary values use shopspring/decimal — never float64 for money.
package report

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/polyfolio/pnl-engine/internal/fifo"
	"github.com/polyfolio/pnl-engine/internal/metrics"
	"github.com/polyfolio/pnl-engine/internal/model"
	"github.com/polyfolio/pnl-engine/internal/store"
	"github.com/polyfolio/pnl-engine/internal/wallet"
)

// FillSource supplies fill history and profiles from the venue.
// *polymarket.Client satisfies it; tests use a stub.
type FillSource interface {
	Fills(ctx context.Context, walletAddr string) ([]model.Fill, error)
	Profile(ctx context.Context, walletAddr string) (*model.Profile, error)
	ResolveUsername(ctx context.Context, username string) (*model.Profile, error)
}

// Service handles report computation and the dashboard API. Stateless
// between requests: each report runs a fresh engine instance.
type Service struct {
	store  store.Store
	source FillSource
	wsHub  *WSHub // optional WebSocket hub for dashboard refresh events
}

// NewService creates a new report service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, source FillSource, hub *WSHub) *Service {
	return &Service{
		store:  st,
		source: source,
		wsHub:  hub,
	}
}

// --- Report computation ---

// loadFills returns the wallet's fills from the store, fetching upstream
// and persisting on a miss. The returned label feeds the reports metric.
func (s *Service) loadFills(ctx context.Context, walletAddr string) ([]model.Fill, string, error) {
	fills, err := s.store.GetFills(ctx, walletAddr)
	if err == nil {
		return fills, "cache", nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, "", err
	}

	fills, err = s.source.Fills(ctx, walletAddr)
	if err != nil {
		return nil, "", err
	}
	metrics.FillsFetched.Add(float64(len(fills)))

	if err := s.store.SaveFills(ctx, walletAddr, fills); err != nil {
		// The report can still be served; the next request refetches.
		slog.Warn("failed to persist fills", "wallet", walletAddr, "err", err)
	}
	return fills, "upstream", nil
}

// filterRange keeps fills with from <= timestamp < to. Zero bounds are open.
func filterRange(fills []model.Fill, from, to time.Time) []model.Fill {
	if from.IsZero() && to.IsZero() {
		return fills
	}
	out := make([]model.Fill, 0, len(fills))
	for _, f := range fills {
		if !from.IsZero() && f.Timestamp.Before(from) {
			continue
		}
		if !to.IsZero() && !f.Timestamp.Before(to) {
			continue
		}
		out = append(out, f)
	}
	return out
}

// computed bundles one engine run's outputs.
type computed struct {
	report    model.Report
	records   []model.ClosedPosition // per-sell, unmerged
	sellTimes []time.Time            // emission timestamp per record
}

// compute runs a fresh engine over the fills and assembles the report.
func (s *Service) compute(walletAddr string, fills []model.Fill) computed {
	eng := fifo.NewEngine()
	var sellTimes []time.Time
	for _, f := range fills {
		n := eng.RecordCount()
		eng.ProcessFill(f)
		if eng.RecordCount() > n {
			sellTimes = append(sellTimes, f.Timestamp)
		}
	}

	positions := eng.ClosedPositions()
	openPositions := eng.OpenPositions()

	totalPnL := decimal.Zero
	totalVolume := decimal.Zero
	wins := 0
	markets := make(map[string]struct{})
	for _, p := range positions {
		totalPnL = totalPnL.Add(p.RealizedPnL)
		totalVolume = totalVolume.Add(p.CostBasis).Add(p.Proceeds)
		if p.RealizedPnL.IsPositive() {
			wins++
		}
		markets[p.Key.ConditionID] = struct{}{}
	}

	winRate := decimal.Zero
	if len(positions) > 0 {
		winRate = decimal.NewFromInt(int64(wins)).
			Div(decimal.NewFromInt(int64(len(positions)))).
			Mul(decimal.NewFromInt(100)).Round(2)
	}

	if n := eng.OversellCount(); n > 0 {
		metrics.Oversells.Add(float64(n))
		slog.Warn("oversells in fill stream",
			"wallet", walletAddr,
			"count", n,
		)
	}

	return computed{
		report: model.Report{
			ID:               uuid.New().String(),
			Wallet:           walletAddr,
			Positions:        positions,
			OpenPositions:    openPositions,
			TotalRealizedPnL: totalPnL,
			TotalVolume:      totalVolume,
			WinRate:          winRate,
			MarketsTraded:    len(markets),
			FillCount:        len(fills),
			OversellCount:    eng.OversellCount(),
			GeneratedAt:      time.Now().UTC(),
		},
		records:   eng.Records(),
		sellTimes: sellTimes,
	}
}

// buildReport is the shared handler body: wallet validation, fill loading,
// range filtering, engine run.
func (s *Service) buildReport(w http.ResponseWriter, r *http.Request) (computed, bool) {
	walletAddr, err := wallet.Normalize(chi.URLParam(r, "wallet"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return computed{}, false
	}

	from, to, err := parseRange(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return computed{}, false
	}

	start := time.Now()
	fills, sourceLabel, err := s.loadFills(r.Context(), walletAddr)
	if err != nil {
		writeError(w, "failed to load fill history: "+err.Error(), http.StatusBadGateway)
		return computed{}, false
	}

	c := s.compute(walletAddr, filterRange(fills, from, to))

	// Username is display sugar; a missing profile never fails the report.
	if p, err := s.store.GetProfile(r.Context(), walletAddr); err == nil {
		c.report.Username = p.Username
	}

	metrics.ReportsTotal.WithLabelValues(sourceLabel).Inc()
	metrics.ReportLatency.Observe(time.Since(start).Seconds())

	slog.Info("report computed",
		"report_id", c.report.ID,
		"wallet", walletAddr,
		"fills", c.report.FillCount,
		"positions", len(c.report.Positions),
		"pnl", c.report.TotalRealizedPnL.String(),
		"source", sourceLabel,
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:          "report_ready",
			ReportID:      c.report.ID,
			Wallet:        walletAddr,
			Username:      c.report.Username,
			TotalPnL:      c.report.TotalRealizedPnL.String(),
			PositionCount: len(c.report.Positions),
		})
	}
	return c, true
}

// --- HTTP Handlers ---

// GetReport handles GET /api/v1/pnl/{wallet}
// Optional query params: from, to (unix seconds).
func (s *Service) GetReport(w http.ResponseWriter, r *http.Request) {
	c, ok := s.buildReport(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(c.report)
}

// ExportCSV handles GET /api/v1/pnl/{wallet}/export.csv
func (s *Service) ExportCSV(w http.ResponseWriter, r *http.Request) {
	c, ok := s.buildReport(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="pnl-`+c.report.Wallet+`.csv"`)

	cw := csv.NewWriter(w)
	cw.Write([]string{
		"condition_id", "outcome", "market", "side",
		"opened_at", "closed_at", "size",
		"entry_vwap", "exit_vwap",
		"realized_pnl", "realized_pnl_pct", "trades",
		"open_quantity_remaining",
	})
	for _, p := range c.report.Positions {
		closedAt := ""
		if p.ClosedAt != nil {
			closedAt = p.ClosedAt.Format(time.RFC3339)
		}
		cw.Write([]string{
			p.Key.ConditionID,
			p.Key.OutcomeID,
			p.Meta.MarketTitle,
			string(p.Side),
			p.OpenedAt.Format(time.RFC3339),
			closedAt,
			p.Size.String(),
			p.EntryVWAP.String(),
			p.ExitVWAP.String(),
			p.RealizedPnL.String(),
			p.RealizedPnLPct.String(),
			strconv.Itoa(p.TradesCount),
			p.OpenQuantityRemaining.String(),
		})
	}
	cw.Flush()
}

// GetCalendar handles GET /api/v1/pnl/{wallet}/calendar
// Buckets realized PnL per UTC day of the sell that realized it.
func (s *Service) GetCalendar(w http.ResponseWriter, r *http.Request) {
	c, ok := s.buildReport(w, r)
	if !ok {
		return
	}

	byDay := make(map[string]*model.CalendarDay)
	for i, rec := range c.records {
		date := c.sellTimes[i].UTC().Format("2006-01-02")
		day, ok := byDay[date]
		if !ok {
			day = &model.CalendarDay{Date: date, RealizedPnL: decimal.Zero}
			byDay[date] = day
		}
		day.RealizedPnL = day.RealizedPnL.Add(rec.RealizedPnL)
		day.Closes++
	}

	days := make([]model.CalendarDay, 0, len(byDay))
	for _, day := range byDay {
		days = append(days, *day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Date < days[j].Date })

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(days)
}

// Resolve handles GET /api/v1/resolve?username= (or ?wallet=).
// Returns the profile, checking the store before the upstream API.
func (s *Service) Resolve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if username := r.URL.Query().Get("username"); username != "" {
		p, err := s.store.GetProfileByUsername(ctx, username)
		if errors.Is(err, store.ErrNotFound) {
			p, err = s.source.ResolveUsername(ctx, username)
			if err == nil {
				s.store.SaveProfile(ctx, p)
			}
		}
		if err != nil {
			writeError(w, "user not found: "+username, http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(p)
		return
	}

	walletAddr, err := wallet.Normalize(r.URL.Query().Get("wallet"))
	if err != nil {
		writeError(w, "username or valid wallet parameter required", http.StatusBadRequest)
		return
	}
	p, err := s.store.GetProfile(ctx, walletAddr)
	if errors.Is(err, store.ErrNotFound) {
		p, err = s.source.Profile(ctx, walletAddr)
		if err == nil {
			s.store.SaveProfile(ctx, p)
		}
	}
	if err != nil {
		writeError(w, "profile not found for "+walletAddr, http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(p)
}

// parseRange reads optional from/to unix-second query parameters.
func parseRange(r *http.Request) (from, to time.Time, err error) {
	if v := r.URL.Query().Get("from"); v != "" {
		sec, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil {
			return from, to, errors.New("invalid from parameter, expected unix seconds")
		}
		from = time.Unix(sec, 0).UTC()
	}
	if v := r.URL.Query().Get("to"); v != "" {
		sec, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil {
			return from, to, errors.New("invalid to parameter, expected unix seconds")
		}
		to = time.Unix(sec, 0).UTC()
	}
	return from, to, nil
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
