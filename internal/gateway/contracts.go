package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// maxChainMonths caps how many expiration months a chain carries. The
// gateway returns near-term months first, so the first four cover the
// liquid part of the chain.
const maxChainMonths = 4

// SearchBySymbol queries /iserver/secdef/search, optionally filtered by
// security type.
func (c *Client) SearchBySymbol(ctx context.Context, symbol, secType string) ([]SearchResult, error) {
	q := url.Values{"symbol": {symbol}}
	if secType != "" {
		q.Set("secType", secType)
	}
	var results []SearchResult
	if err := c.do(ctx, "GET", "/iserver/secdef/search?"+q.Encode(), nil, &results); err != nil {
		return nil, opError("search symbol "+symbol, err)
	}
	return results, nil
}

// ResolveSymbol turns a ticker into a concrete contract. When the search
// returns multiple candidates and no explicit type filter narrowed them,
// a STK match is preferred, else the first result wins. This is a
// best-effort pick: the search endpoint does not guarantee a unique match
// and nothing here verifies beyond shape.
func (c *Client) ResolveSymbol(ctx context.Context, symbol, secType string) (*Contract, error) {
	results, err := c.SearchBySymbol(ctx, symbol, secType)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, newSymbolNotFoundError(symbol)
	}

	pick := results[0]
	if secType == "" {
		for _, r := range results {
			if r.secType() == "STK" {
				pick = r
				break
			}
		}
	}

	return &Contract{
		ConID:       int(pick.ConID),
		Symbol:      symbol,
		SecType:     pick.secType(),
		Currency:    pick.Currency,
		Description: pick.Description,
	}, nil
}

// SearchContracts searches by symbol with optional type/exchange filters,
// currency filtering and a result cap applied client-side.
func (c *Client) SearchContracts(ctx context.Context, query, secType, exchange, currency string, limit int) ([]SearchResult, error) {
	q := url.Values{"symbol": {query}}
	if secType != "" {
		q.Set("secType", secType)
	}
	if exchange != "" {
		q.Set("exchange", exchange)
	}
	var results []SearchResult
	if err := c.do(ctx, "GET", "/iserver/secdef/search?"+q.Encode(), nil, &results); err != nil {
		return nil, opError("search contracts "+query, err)
	}

	if currency != "" {
		filtered := results[:0]
		for _, r := range results {
			if r.Currency == currency {
				filtered = append(filtered, r)
			}
		}
		results = filtered
	}
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// ContractDetails fetches /iserver/secdef/info for a contract id.
func (c *Client) ContractDetails(ctx context.Context, conid int) (json.RawMessage, error) {
	var raw json.RawMessage
	path := fmt.Sprintf("/iserver/secdef/info?conid=%d", conid)
	if err := c.do(ctx, "GET", path, nil, &raw); err != nil {
		return nil, opError(fmt.Sprintf("contract details %d", conid), err)
	}
	return raw, nil
}

// BuildOptionsChain assembles the options chain for a symbol: distinct
// expiration months found in the OPT search results, capped at the first
// four, each with its call and put strikes. A month whose strikes fetch
// fails is logged and omitted; the chain stays usable with fewer
// expirations.
func (c *Client) BuildOptionsChain(ctx context.Context, symbol string, conid int) (*OptionChain, error) {
	underlyingConID := conid
	if underlyingConID == 0 {
		underlying, err := c.ResolveSymbol(ctx, symbol, "STK")
		if err != nil {
			return nil, opError("options chain "+symbol, err)
		}
		underlyingConID = underlying.ConID
	}

	results, err := c.SearchBySymbol(ctx, symbol, "OPT")
	if err != nil {
		return nil, opError("options chain "+symbol, err)
	}
	if len(results) == 0 {
		return nil, &GatewayError{Kind: ErrKindSymbolNotFound, Symbol: symbol,
			Msg: fmt.Sprintf("no options found for %s", symbol)}
	}

	months := collectMonths(results, maxChainMonths)
	c.log.Debug("option expirations found",
		zap.String("symbol", symbol), zap.Strings("months", months))

	chain := &OptionChain{Symbol: symbol, UnderlyingConID: underlyingConID}
	for _, month := range months {
		path := fmt.Sprintf("/iserver/secdef/strikes?conid=%d&secType=OPT&month=%s",
			underlyingConID, url.QueryEscape(month))
		var strikes strikesResponse
		if err := c.do(ctx, "GET", path, nil, &strikes); err != nil {
			c.log.Warn("skipping option month, strikes fetch failed",
				zap.String("symbol", symbol), zap.String("month", month), zap.Error(err))
			continue
		}
		chain.Expirations = append(chain.Expirations, Expiration{
			Month:       month,
			CallStrikes: strikes.Call,
			PutStrikes:  strikes.Put,
		})
	}
	return chain, nil
}

// collectMonths gathers distinct expiration tokens across search results
// in order of first appearance, up to max. Months arrive as
// semicolon-delimited lists either at the result top level or inside an
// OPT section.
func collectMonths(results []SearchResult, max int) []string {
	seen := make(map[string]bool)
	var months []string
	add := func(list string) {
		for _, m := range strings.Split(list, ";") {
			m = strings.TrimSpace(m)
			if m == "" || seen[m] {
				continue
			}
			seen[m] = true
			months = append(months, m)
		}
	}
	for _, r := range results {
		if r.Months != "" {
			add(r.Months)
		}
		for _, s := range r.Sections {
			if s.SecType == "OPT" && s.Months != "" {
				add(s.Months)
			}
		}
	}
	if len(months) > max {
		months = months[:max]
	}
	return months
}

// FindOptionOpts narrows FindOptionContract. Zero values mean "unset":
// nearest expiration, calls, and the approximate at-the-money strike.
type FindOptionOpts struct {
	Expiration string
	Strike     float64
	Right      string // C, P, CALL or PUT
	Delta      float64
}

// FindOptionContract performs approximate option resolution on top of the
// chain. Expiration matching is a loose substring check in either
// direction, tolerating inputs like "JAN25" against full month tokens.
// When no strike is given the middle of the strike list stands in for
// at-the-money; no underlying price is consulted. Delta is accepted for
// interface compatibility but does not influence strike selection.
func (c *Client) FindOptionContract(ctx context.Context, symbol string, opts FindOptionOpts) (*OptionContract, error) {
	chain, err := c.BuildOptionsChain(ctx, symbol, 0)
	if err != nil {
		return nil, err
	}
	if len(chain.Expirations) == 0 {
		return nil, &GatewayError{Kind: ErrKindSymbolNotFound, Symbol: symbol,
			Msg: fmt.Sprintf("no options chain found for %s", symbol)}
	}

	target := chain.Expirations[0]
	if opts.Expiration != "" {
		want := strings.ToUpper(opts.Expiration)
		for _, e := range chain.Expirations {
			month := strings.ToUpper(e.Month)
			if strings.Contains(month, want) || strings.Contains(want, month) {
				target = e
				break
			}
		}
	}

	right := normalizeRight(opts.Right)
	isCall := right != "P"
	strikes := target.CallStrikes
	if !isCall {
		strikes = target.PutStrikes
	}
	if len(strikes) == 0 {
		side := "call"
		if !isCall {
			side = "put"
		}
		return nil, &GatewayError{Kind: ErrKindSymbolNotFound, Symbol: symbol,
			Msg: fmt.Sprintf("no %s strikes found for %s %s", side, symbol, target.Month)}
	}

	targetStrike := opts.Strike
	if targetStrike == 0 {
		targetStrike = strikes[len(strikes)/2]
	}
	closest := strikes[0]
	for _, s := range strikes[1:] {
		if math.Abs(s-targetStrike) < math.Abs(closest-targetStrike) {
			closest = s
		}
	}

	result := &OptionContract{
		Symbol:          symbol,
		Expiration:      target.Month,
		Strike:          closest,
		Right:           "C",
		UnderlyingConID: chain.UnderlyingConID,
	}
	if !isCall {
		result.Right = "P"
	}
	return result, nil
}
