package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func optionSearchResults(months string) func(symbol, secType string) (any, int) {
	return func(symbol, secType string) (any, int) {
		if secType == "OPT" {
			return []map[string]any{{
				"conid":  12345,
				"symbol": symbol,
				"sections": []map[string]any{
					{"secType": "OPT", "months": months},
				},
			}}, 200
		}
		return []map[string]any{{"conid": 756733, "symbol": symbol, "assetClass": "STK"}}, 200
	}
}

func TestResolveSymbolPrefersStock(t *testing.T) {
	fake := newFakeGateway(t)
	fake.searchHandler = func(symbol, secType string) (any, int) {
		return []map[string]any{
			{"conid": 1, "symbol": "AAPL", "assetClass": "OPT"},
			{"conid": 265598, "symbol": "AAPL", "assetClass": "STK", "currency": "USD"},
		}, 200
	}

	c := fake.client(nil)
	contract, err := c.ResolveSymbol(context.Background(), "AAPL", "")
	require.NoError(t, err)
	assert.Equal(t, 265598, contract.ConID)
	assert.Equal(t, "STK", contract.SecType)
	assert.Equal(t, "USD", contract.Currency)
}

func TestResolveSymbolWithFilterTakesFirstResult(t *testing.T) {
	fake := newFakeGateway(t)
	fake.searchHandler = func(symbol, secType string) (any, int) {
		assert.Equal(t, "FUT", secType)
		return []map[string]any{
			{"conid": 7, "symbol": "ES", "assetClass": "FUT"},
			{"conid": 8, "symbol": "ES", "assetClass": "STK"},
		}, 200
	}

	c := fake.client(nil)
	contract, err := c.ResolveSymbol(context.Background(), "ES", "FUT")
	require.NoError(t, err)
	assert.Equal(t, 7, contract.ConID)
}

func TestResolveSymbolNotFound(t *testing.T) {
	fake := newFakeGateway(t)
	fake.searchHandler = func(symbol, secType string) (any, int) {
		return []map[string]any{}, 200
	}

	c := fake.client(nil)
	_, err := c.ResolveSymbol(context.Background(), "NOSUCH", "")
	require.Error(t, err)
	assert.Equal(t, ErrKindSymbolNotFound, KindOf(err))
}

func TestResolveSymbolHandlesStringConid(t *testing.T) {
	fake := newFakeGateway(t)
	fake.searchHandler = func(symbol, secType string) (any, int) {
		return []map[string]any{
			{"conid": "265598", "symbol": "AAPL", "assetClass": "STK"},
		}, 200
	}

	c := fake.client(nil)
	contract, err := c.ResolveSymbol(context.Background(), "AAPL", "")
	require.NoError(t, err)
	assert.Equal(t, 265598, contract.ConID)
}

func TestSearchContractsCurrencyFilterAndLimit(t *testing.T) {
	fake := newFakeGateway(t)
	fake.searchHandler = func(symbol, secType string) (any, int) {
		return []map[string]any{
			{"conid": 1, "symbol": "VOD", "currency": "USD"},
			{"conid": 2, "symbol": "VOD", "currency": "GBP"},
			{"conid": 3, "symbol": "VOD", "currency": "USD"},
			{"conid": 4, "symbol": "VOD", "currency": "USD"},
		}, 200
	}

	c := fake.client(nil)
	results, err := c.SearchContracts(context.Background(), "VOD", "", "", "USD", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, FlexInt(1), results[0].ConID)
	assert.Equal(t, FlexInt(3), results[1].ConID)
}

func TestCollectMonths(t *testing.T) {
	results := []SearchResult{
		{Months: "JAN25;FEB25"},
		{Sections: []Section{{SecType: "OPT", Months: "FEB25;MAR25;APR25;MAY25;JUN25"}}},
		{Sections: []Section{{SecType: "FUT", Months: "DEC99"}}},
	}

	months := collectMonths(results, 4)
	assert.Equal(t, []string{"JAN25", "FEB25", "MAR25", "APR25"}, months)
}

func TestBuildOptionsChainCapsMonths(t *testing.T) {
	fake := newFakeGateway(t)
	fake.searchHandler = optionSearchResults("JAN25;FEB25;MAR25;APR25;MAY25;JUN25")
	fake.strikesHandler = func(conid int, month string) (any, int) {
		return strikesResponse{Call: []float64{100, 105}, Put: []float64{95, 100}}, 200
	}

	c := fake.client(nil)
	chain, err := c.BuildOptionsChain(context.Background(), "SPY", 0)
	require.NoError(t, err)

	require.Len(t, chain.Expirations, 4)
	assert.Equal(t, "JAN25", chain.Expirations[0].Month)
	assert.Equal(t, "APR25", chain.Expirations[3].Month)
	assert.Equal(t, 756733, chain.UnderlyingConID)
}

func TestBuildOptionsChainSkipsFailedMonth(t *testing.T) {
	fake := newFakeGateway(t)
	fake.searchHandler = optionSearchResults("JAN25;FEB25;MAR25")
	fake.strikesHandler = func(conid int, month string) (any, int) {
		if month == "FEB25" {
			return map[string]string{"error": "no strikes"}, 500
		}
		return strikesResponse{Call: []float64{400}, Put: []float64{390}}, 200
	}

	c := fake.client(nil)
	chain, err := c.BuildOptionsChain(context.Background(), "SPY", 0)
	require.NoError(t, err)

	require.Len(t, chain.Expirations, 2)
	assert.Equal(t, "JAN25", chain.Expirations[0].Month)
	assert.Equal(t, "MAR25", chain.Expirations[1].Month)
}

func TestBuildOptionsChainNoOptions(t *testing.T) {
	fake := newFakeGateway(t)
	fake.searchHandler = func(symbol, secType string) (any, int) {
		if secType == "OPT" {
			return []map[string]any{}, 200
		}
		return []map[string]any{{"conid": 1, "symbol": symbol, "assetClass": "STK"}}, 200
	}

	c := fake.client(nil)
	_, err := c.BuildOptionsChain(context.Background(), "NOOPT", 0)
	require.Error(t, err)
	assert.Equal(t, ErrKindSymbolNotFound, KindOf(err))
}

func TestFindOptionContractExactStrike(t *testing.T) {
	fake := newFakeGateway(t)
	fake.searchHandler = optionSearchResults("JAN25;FEB25")
	fake.strikesHandler = func(conid int, month string) (any, int) {
		return strikesResponse{
			Call: []float64{445, 450, 455},
			Put:  []float64{440, 445, 450, 455},
		}, 200
	}

	c := fake.client(nil)
	contract, err := c.FindOptionContract(context.Background(), "SPY", FindOptionOpts{
		Expiration: "JAN25",
		Strike:     450,
		Right:      "PUT",
	})
	require.NoError(t, err)

	assert.Equal(t, 450.0, contract.Strike)
	assert.Equal(t, "P", contract.Right)
	assert.Equal(t, "JAN25", contract.Expiration)
}

func TestFindOptionContractDefaultsToMiddleStrike(t *testing.T) {
	fake := newFakeGateway(t)
	fake.searchHandler = optionSearchResults("JAN25")
	fake.strikesHandler = func(conid int, month string) (any, int) {
		return strikesResponse{Call: []float64{10, 20, 30, 40, 50}}, 200
	}

	c := fake.client(nil)
	contract, err := c.FindOptionContract(context.Background(), "SPY", FindOptionOpts{})
	require.NoError(t, err)

	assert.Equal(t, 30.0, contract.Strike)
	assert.Equal(t, "C", contract.Right)
	assert.Equal(t, "JAN25", contract.Expiration)
}

func TestFindOptionContractNearestStrike(t *testing.T) {
	fake := newFakeGateway(t)
	fake.searchHandler = optionSearchResults("JAN25")
	fake.strikesHandler = func(conid int, month string) (any, int) {
		return strikesResponse{Call: []float64{440, 445, 450, 455}}, 200
	}

	c := fake.client(nil)
	contract, err := c.FindOptionContract(context.Background(), "SPY", FindOptionOpts{
		Strike: 452,
		Right:  "C",
	})
	require.NoError(t, err)
	assert.Equal(t, 450.0, contract.Strike)
}

func TestFindOptionContractLooseExpirationMatch(t *testing.T) {
	fake := newFakeGateway(t)
	fake.searchHandler = optionSearchResults("JAN25;FEB25;MAR25")
	fake.strikesHandler = func(conid int, month string) (any, int) {
		return strikesResponse{Call: []float64{100}}, 200
	}

	c := fake.client(nil)

	// Substring match runs in both directions, so "FEB" picks FEB25.
	contract, err := c.FindOptionContract(context.Background(), "SPY", FindOptionOpts{Expiration: "feb"})
	require.NoError(t, err)
	assert.Equal(t, "FEB25", contract.Expiration)

	// An expiration that matches nothing falls back to the nearest month.
	contract, err = c.FindOptionContract(context.Background(), "SPY", FindOptionOpts{Expiration: "DEC99"})
	require.NoError(t, err)
	assert.Equal(t, "JAN25", contract.Expiration)
}

func TestFindOptionContractNoPutStrikes(t *testing.T) {
	fake := newFakeGateway(t)
	fake.searchHandler = optionSearchResults("JAN25")
	fake.strikesHandler = func(conid int, month string) (any, int) {
		return strikesResponse{Call: []float64{100}}, 200
	}

	c := fake.client(nil)
	_, err := c.FindOptionContract(context.Background(), "SPY", FindOptionOpts{Right: "P"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no put strikes")
}
