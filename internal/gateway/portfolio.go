package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"
)

// Accounts lists portfolio accounts.
func (c *Client) Accounts(ctx context.Context) ([]Account, error) {
	var accounts []Account
	if err := c.do(ctx, "GET", "/portfolio/accounts", nil, &accounts); err != nil {
		return nil, opError("list accounts", err)
	}
	return accounts, nil
}

// AccountInfo fetches the account list and a summary for each account.
func (c *Client) AccountInfo(ctx context.Context) (*AccountInfo, error) {
	accounts, err := c.Accounts(ctx)
	if err != nil {
		return nil, err
	}

	info := &AccountInfo{Accounts: accounts}
	for _, a := range accounts {
		id := a.Ident()
		var summary json.RawMessage
		if err := c.do(ctx, "GET", "/portfolio/"+id+"/summary", nil, &summary); err != nil {
			return nil, opError("account summary "+id, err)
		}
		info.Summaries = append(info.Summaries, AccountSummary{AccountID: id, Summary: summary})
	}
	return info, nil
}

// Positions returns positions, scoped to one account when accountID is
// non-empty.
func (c *Client) Positions(ctx context.Context, accountID string) ([]Position, error) {
	path := "/portfolio/positions"
	if accountID != "" {
		path = "/portfolio/" + accountID + "/positions"
	}
	var positions []Position
	if err := c.do(ctx, "GET", path, nil, &positions); err != nil {
		return nil, opError("get positions", err)
	}
	return positions, nil
}

// PortfolioSummary fetches the first page of positions for the account
// (or the first account found) and folds them into summary statistics.
func (c *Client) PortfolioSummary(ctx context.Context, accountID string) (*PortfolioSummary, error) {
	target := accountID
	if target == "" {
		accounts, err := c.Accounts(ctx)
		if err != nil {
			return nil, opError("portfolio summary", err)
		}
		if len(accounts) == 0 {
			return nil, &GatewayError{Kind: ErrKindUnknown, Op: "portfolio summary", Msg: "no accounts found"}
		}
		target = accounts[0].Ident()
	}

	var positions []Position
	if err := c.do(ctx, "GET", "/portfolio/"+target+"/positions/0", nil, &positions); err != nil {
		return nil, opError("portfolio summary "+target, err)
	}

	summary := Summarize(positions)
	summary.AccountID = target
	return summary, nil
}

// Summarize folds position records into summary statistics in one pass.
// Pure and deterministic; no I/O.
func Summarize(positions []Position) *PortfolioSummary {
	summary := &PortfolioSummary{
		PositionCount: len(positions),
		BySecType:     make(map[string]SecTypeSummary),
	}

	ranked := make([]PositionSummary, 0, len(positions))
	for _, pos := range positions {
		summary.TotalValue += pos.MktValue
		summary.TotalPnL += pos.UnrealizedPnl + pos.RealizedPnl

		secType := pos.AssetClass
		if secType == "" {
			secType = pos.SecType
		}
		if secType == "" {
			secType = "OTHER"
		}
		group := summary.BySecType[secType]
		group.Count++
		group.Value += pos.MktValue
		summary.BySecType[secType] = group

		pnlPercent := 0.0
		if pos.MktValue != 0 {
			pnlPercent = pos.UnrealizedPnl / (pos.MktValue - pos.UnrealizedPnl) * 100
		}
		ranked = append(ranked, PositionSummary{
			Symbol:        pos.symbol(),
			Quantity:      pos.Position,
			MarketValue:   pos.MktValue,
			UnrealizedPnL: pos.UnrealizedPnl,
			PnLPercent:    pnlPercent,
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return math.Abs(ranked[i].MarketValue) > math.Abs(ranked[j].MarketValue)
	})
	if len(ranked) > 10 {
		ranked = ranked[:10]
	}
	summary.TopPositions = ranked
	return summary
}

// PnL returns the portfolio summary payload for one account, or for every
// account when accountID is empty.
func (c *Client) PnL(ctx context.Context, accountID string) ([]PnLReport, error) {
	if accountID != "" {
		var summary json.RawMessage
		if err := c.do(ctx, "GET", "/portfolio/"+accountID+"/summary", nil, &summary); err != nil {
			return nil, opError("pnl "+accountID, err)
		}
		return []PnLReport{{AccountID: accountID, PnL: summary}}, nil
	}

	accounts, err := c.Accounts(ctx)
	if err != nil {
		return nil, opError("pnl", err)
	}
	var reports []PnLReport
	for _, a := range accounts {
		id := a.Ident()
		var summary json.RawMessage
		if err := c.do(ctx, "GET", "/portfolio/"+id+"/summary", nil, &summary); err != nil {
			return nil, opError("pnl "+id, err)
		}
		reports = append(reports, PnLReport{AccountID: id, PnL: summary})
	}
	return reports, nil
}

// tradeTimeLayouts covers the timestamp formats trade records arrive in.
var tradeTimeLayouts = []string{
	"20060102-15:04:05",
	time.RFC3339,
	"2006-01-02 15:04:05",
}

// TradesHistory lists recent trades, filtered in memory to the last days
// days. Records whose timestamp cannot be parsed are kept rather than
// silently dropped.
func (c *Client) TradesHistory(ctx context.Context, accountID string, days int) ([]json.RawMessage, error) {
	path := "/iserver/account/trades"
	if accountID != "" {
		path = fmt.Sprintf("/iserver/account/%s/trades", accountID)
	}
	var trades []json.RawMessage
	if err := c.do(ctx, "GET", path, nil, &trades); err != nil {
		return nil, opError("trades history", err)
	}
	if days <= 0 {
		return trades, nil
	}

	cutoff := time.Now().AddDate(0, 0, -days)
	filtered := trades[:0]
	for _, raw := range trades {
		var probe struct {
			ExecutionTime string `json:"execution_time"`
			Time          string `json:"time"`
		}
		ts := ""
		if err := json.Unmarshal(raw, &probe); err == nil {
			ts = probe.ExecutionTime
			if ts == "" {
				ts = probe.Time
			}
		}
		if ts == "" {
			filtered = append(filtered, raw)
			continue
		}
		parsed, ok := parseTradeTime(ts)
		if !ok || !parsed.Before(cutoff) {
			filtered = append(filtered, raw)
		}
	}
	return filtered, nil
}

func parseTradeTime(s string) (time.Time, bool) {
	for _, layout := range tradeTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
