// Package polymarket fetches trade activity and user profiles from the
// venue's public data API and normalizes them into domain fills.
package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/polyfolio/pnl-engine/internal/model"
)

// DefaultBaseURL is the venue's public data API.
const DefaultBaseURL = "https://data-api.polymarket.com"

// defaultPageSize is the activity page size; the API caps pages at 500.
const defaultPageSize = 500

// maxPages bounds pagination so a misbehaving upstream cannot loop forever.
const maxPages = 200

// Client is an HTTP client for the venue's data API.
type Client struct {
	baseURL    string
	pageSize   int
	httpClient *http.Client
}

// NewClient creates a client for the given base URL. An empty baseURL
// selects the public production API.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:  baseURL,
		pageSize: defaultPageSize,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Activity is one row of the venue's activity feed, mirroring its JSON.
type Activity struct {
	ProxyWallet     string  `json:"proxyWallet"`
	Timestamp       int64   `json:"timestamp"` // unix seconds
	ConditionID     string  `json:"conditionId"`
	Type            string  `json:"type"` // TRADE, REDEEM, SPLIT, ...
	Size            float64 `json:"size"`
	UsdcSize        float64 `json:"usdcSize"`
	Price           float64 `json:"price"`
	Asset           string  `json:"asset"`
	Side            string  `json:"side"` // BUY or SELL
	OutcomeIndex    int     `json:"outcomeIndex"`
	Outcome         string  `json:"outcome"`
	Title           string  `json:"title"`
	Slug            string  `json:"slug"`
	Icon            string  `json:"icon"`
	EventSlug       string  `json:"eventSlug"`
	Name            string  `json:"name"`
	Pseudonym       string  `json:"pseudonym"`
	TransactionHash string  `json:"transactionHash"`
}

// profileResponse mirrors the profile endpoint JSON.
type profileResponse struct {
	ProxyWallet string `json:"proxyWallet"`
	Name        string `json:"name"`
	Pseudonym   string `json:"pseudonym"`
	Bio         string `json:"bio"`
	ProfileImage string `json:"profileImage"`
}

// Activity fetches the complete trade activity for a wallet, paging until
// the feed is exhausted. Rows come back newest-first from the API; callers
// normalizing to fills must re-sort (NormalizeFills does).
func (c *Client) Activity(ctx context.Context, walletAddr string) ([]Activity, error) {
	var all []Activity

	for page := 0; page < maxPages; page++ {
		params := url.Values{}
		params.Set("user", walletAddr)
		params.Set("type", "TRADE")
		params.Set("limit", strconv.Itoa(c.pageSize))
		params.Set("offset", strconv.Itoa(page*c.pageSize))

		var batch []Activity
		if err := c.getJSON(ctx, "/activity?"+params.Encode(), &batch); err != nil {
			return nil, fmt.Errorf("fetch activity for %s: %w", walletAddr, err)
		}
		all = append(all, batch...)
		if len(batch) < c.pageSize {
			return all, nil
		}
	}
	return all, nil
}

// Fills fetches and normalizes the complete fill history for a wallet.
func (c *Client) Fills(ctx context.Context, walletAddr string) ([]model.Fill, error) {
	activities, err := c.Activity(ctx, walletAddr)
	if err != nil {
		return nil, err
	}
	return NormalizeFills(activities), nil
}

// Profile fetches the profile for a wallet address.
func (c *Client) Profile(ctx context.Context, walletAddr string) (*model.Profile, error) {
	params := url.Values{}
	params.Set("address", walletAddr)

	var resp profileResponse
	if err := c.getJSON(ctx, "/profile?"+params.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("fetch profile for %s: %w", walletAddr, err)
	}
	return profileFromResponse(resp), nil
}

// ResolveUsername resolves a display username to a wallet profile.
func (c *Client) ResolveUsername(ctx context.Context, username string) (*model.Profile, error) {
	params := url.Values{}
	params.Set("username", username)

	var resp profileResponse
	if err := c.getJSON(ctx, "/profile?"+params.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("resolve username %s: %w", username, err)
	}
	return profileFromResponse(resp), nil
}

func profileFromResponse(resp profileResponse) *model.Profile {
	return &model.Profile{
		Wallet:    resp.ProxyWallet,
		Username:  resp.Name,
		Pseudonym: resp.Pseudonym,
		Bio:       resp.Bio,
		Image:     resp.ProfileImage,
		FetchedAt: time.Now().UTC(),
	}
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("upstream status %d: %s", resp.StatusCode, body)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// NormalizeFills converts raw activity rows into engine fills: non-trade
// rows and unknown sides are dropped, numeric fields are coerced to
// decimal, and the result is sorted ascending by timestamp with input
// order as the stable tie-break, the engine's ordering precondition.
func NormalizeFills(activities []Activity) []model.Fill {
	fills := make([]model.Fill, 0, len(activities))
	for _, a := range activities {
		if a.Type != "" && a.Type != "TRADE" {
			continue
		}
		side := model.Side(a.Side)
		if side != model.SideBuy && side != model.SideSell {
			continue
		}
		outcomeID := a.Outcome
		if outcomeID == "" {
			outcomeID = strconv.Itoa(a.OutcomeIndex)
		}
		fills = append(fills, model.Fill{
			ID:          a.TransactionHash,
			Timestamp:   time.Unix(a.Timestamp, 0).UTC(),
			ConditionID: a.ConditionID,
			OutcomeID:   outcomeID,
			Side:        side,
			Price:       decimal.NewFromFloat(a.Price),
			Quantity:    decimal.NewFromFloat(a.Size),
			Fee:         decimal.Zero, // the activity feed reports no fees
			Meta: model.FillMeta{
				MarketTitle: a.Title,
				OutcomeName: a.Outcome,
				Icon:        a.Icon,
				Slug:        a.Slug,
				EventTitle:  a.EventSlug,
			},
		})
	}

	sort.SliceStable(fills, func(i, j int) bool {
		return fills[i].Timestamp.Before(fills[j].Timestamp)
	})
	return fills
}
