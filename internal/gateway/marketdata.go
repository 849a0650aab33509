package gateway

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
)

// fieldPresets maps preset names to the gateway's numeric field codes.
var fieldPresets = map[string]string{
	"basic":        "31,84,86,87,88,55",                        // Last, Bid, Ask, Volume, Bid Size, Symbol
	"detailed":     "31,84,86,87,88,70,71,82,83,55,7051,7059", // + High, Low, Change, Company Name, Last Size
	"options":      "31,84,86,87,88,7633,7294,7295,7296",      // + Implied Vol, Delta, Gamma, Theta
	"fundamentals": "7280,7281,7282,7283,7284,7286,7287,7288,7290,7291",
	"all":          "31,55,58,70,71,72,73,74,75,76,77,78,82,83,84,85,86,87,88,6004,6008,6070,6072,6073,6119,6457,6509,7051,7059,7094,7219,7220,7221,7280,7281,7282,7283,7284,7285,7286,7287,7288,7289,7290,7291,7292,7293,7294,7295,7296,7633",
}

// resolveFields turns a caller's field selection into a field code list.
// Nil means the detailed preset; a single element matching a preset name
// selects that preset; anything else is treated as explicit field codes.
func resolveFields(fields []string) string {
	if len(fields) == 0 {
		return fieldPresets["detailed"]
	}
	if len(fields) == 1 {
		if preset, ok := fieldPresets[fields[0]]; ok {
			return preset
		}
	}
	return strings.Join(fields, ",")
}

// MarketData fetches a market data snapshot for a symbol. A conid of zero
// triggers symbol resolution first. The snapshot endpoint is called twice:
// the first request only initializes the gateway's data stream and returns
// a sparse payload, the second carries the data.
func (c *Client) MarketData(ctx context.Context, symbol string, conid int, fields ...string) (*MarketDataResult, error) {
	if conid == 0 {
		contract, err := c.ResolveSymbol(ctx, symbol, "")
		if err != nil {
			return nil, opError("market data "+symbol, err)
		}
		conid = contract.ConID
	}

	q := url.Values{
		"conids": {strconv.Itoa(conid)},
		"fields": {resolveFields(fields)},
	}
	path := "/iserver/marketdata/snapshot?" + q.Encode()

	// Preflight; response intentionally discarded.
	if err := c.do(ctx, "GET", path, nil, nil); err != nil {
		return nil, opError("market data "+symbol, err)
	}
	var raw json.RawMessage
	if err := c.do(ctx, "GET", path, nil, &raw); err != nil {
		return nil, opError("market data "+symbol, err)
	}

	return &MarketDataResult{Symbol: symbol, ConID: conid, Data: raw}, nil
}

// HistoricalData fetches historical bars for a symbol. Period and bar use
// the gateway's notation ("1d", "5min", ...); outsideRTH controls
// outside-regular-trading-hours data when non-nil.
func (c *Client) HistoricalData(ctx context.Context, symbol string, conid int, period, bar string, outsideRTH *bool) (*HistoricalDataResult, error) {
	if conid == 0 {
		contract, err := c.ResolveSymbol(ctx, symbol, "")
		if err != nil {
			return nil, opError("historical data "+symbol, err)
		}
		conid = contract.ConID
	}

	q := url.Values{"conid": {strconv.Itoa(conid)}}
	if period != "" {
		q.Set("period", period)
	}
	if bar != "" {
		q.Set("bar", bar)
	}
	if outsideRTH != nil {
		q.Set("outsideRth", strconv.FormatBool(*outsideRTH))
	}

	var raw json.RawMessage
	if err := c.do(ctx, "GET", "/iserver/marketdata/history?"+q.Encode(), nil, &raw); err != nil {
		return nil, opError("historical data "+symbol, err)
	}

	return &HistoricalDataResult{Symbol: symbol, ConID: conid, Period: period, Bar: bar, Data: raw}, nil
}
