package gateway

import (
	"encoding/json"
	"strconv"
	"strings"
)

// FlexInt unmarshals a contract id that the gateway returns sometimes as a
// number and sometimes as a string, depending on the endpoint.
type FlexInt int

func (f *FlexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = FlexInt(int(n))
	return nil
}

// AuthStatus is the /iserver/auth/status response.
type AuthStatus struct {
	Authenticated bool   `json:"authenticated"`
	Competing     bool   `json:"competing"`
	Connected     bool   `json:"connected"`
	Message       string `json:"message"`
}

// Section describes one tradeable section of a search result (STK, OPT...).
type Section struct {
	SecType  string `json:"secType"`
	Months   string `json:"months"` // semicolon-delimited expiration tokens
	Exchange string `json:"exchange"`
}

// SearchResult is one entry from /iserver/secdef/search.
type SearchResult struct {
	ConID       FlexInt   `json:"conid"`
	Symbol      string    `json:"symbol"`
	CompanyName string    `json:"companyName"`
	Description string    `json:"description"`
	SecType     string    `json:"secType"`
	AssetClass  string    `json:"assetClass"`
	Currency    string    `json:"currency"`
	Months      string    `json:"months"`
	Sections    []Section `json:"sections"`
}

// secType reports the result's security type from whichever field the
// gateway populated.
func (r SearchResult) secType() string {
	if r.AssetClass != "" {
		return r.AssetClass
	}
	return r.SecType
}

// Contract identifies a tradeable instrument.
type Contract struct {
	ConID       int    `json:"conid"`
	Symbol      string `json:"symbol"`
	SecType     string `json:"secType"`
	Currency    string `json:"currency,omitempty"`
	Exchange    string `json:"exchange,omitempty"`
	Description string `json:"description,omitempty"`
}

// strikesResponse is the /iserver/secdef/strikes response.
type strikesResponse struct {
	Call []float64 `json:"call"`
	Put  []float64 `json:"put"`
}

// Expiration is one month of an options chain.
type Expiration struct {
	Month       string    `json:"month"`
	CallStrikes []float64 `json:"callStrikes"`
	PutStrikes  []float64 `json:"putStrikes"`
}

// OptionChain is the expirations-by-strikes view for one underlying.
type OptionChain struct {
	Symbol          string       `json:"symbol"`
	UnderlyingConID int          `json:"underlyingConid"`
	Expirations     []Expiration `json:"expirations"`
}

// OptionContract is the result of approximate option resolution.
type OptionContract struct {
	Symbol          string  `json:"symbol"`
	Expiration      string  `json:"expiration"`
	Strike          float64 `json:"strike"`
	Right           string  `json:"right"` // "C" or "P"
	UnderlyingConID int     `json:"underlyingConid"`
}

// Account is one entry from /portfolio/accounts. The gateway populates
// either id or accountId depending on account type.
type Account struct {
	ID        string `json:"id"`
	AccountID string `json:"accountId"`
	Currency  string `json:"currency"`
	Type      string `json:"type"`
}

// Ident returns whichever account identifier is populated.
func (a Account) Ident() string {
	if a.AccountID != "" {
		return a.AccountID
	}
	return a.ID
}

// AccountSummary pairs an account with its raw summary payload.
type AccountSummary struct {
	AccountID string          `json:"accountId"`
	Summary   json.RawMessage `json:"summary"`
}

// AccountInfo is the accounts list plus per-account summaries.
type AccountInfo struct {
	Accounts  []Account        `json:"accounts"`
	Summaries []AccountSummary `json:"summaries"`
}

// Position is one portfolio position record.
type Position struct {
	ConID         FlexInt `json:"conid"`
	ContractDesc  string  `json:"contractDesc"`
	Ticker        string  `json:"ticker"`
	Position      float64 `json:"position"`
	MktValue      float64 `json:"mktValue"`
	MktPrice      float64 `json:"mktPrice"`
	UnrealizedPnl float64 `json:"unrealizedPnl"`
	RealizedPnl   float64 `json:"realizedPnl"`
	AssetClass    string  `json:"assetClass"`
	SecType       string  `json:"secType"`
	Currency      string  `json:"currency"`
}

// symbol returns the best available display symbol for the position.
func (p Position) symbol() string {
	if p.ContractDesc != "" {
		return p.ContractDesc
	}
	return p.Ticker
}

// PositionSummary is one ranked entry of PortfolioSummary.TopPositions.
type PositionSummary struct {
	Symbol        string  `json:"symbol"`
	Quantity      float64 `json:"quantity"`
	MarketValue   float64 `json:"marketValue"`
	UnrealizedPnL float64 `json:"unrealizedPnL"`
	PnLPercent    float64 `json:"pnlPercent"`
}

// SecTypeSummary aggregates positions of one security type.
type SecTypeSummary struct {
	Count int     `json:"count"`
	Value float64 `json:"value"`
}

// PortfolioSummary is derived from a positions snapshot; never stored.
type PortfolioSummary struct {
	AccountID     string                    `json:"accountId,omitempty"`
	TotalValue    float64                   `json:"totalValue"`
	TotalPnL      float64                   `json:"totalPnL"`
	DailyPnL      float64                   `json:"dailyPnL"`
	PositionCount int                       `json:"positionCount"`
	BySecType     map[string]SecTypeSummary `json:"bySecType"`
	TopPositions  []PositionSummary         `json:"topPositions"`
}

// StockOrderRequest describes a stock order to submit.
type StockOrderRequest struct {
	AccountID             string
	Symbol                string
	Action                string // BUY or SELL
	OrderType             string // MKT, LMT or STP
	Quantity              float64
	Price                 *float64 // required for LMT
	StopPrice             *float64 // required for STP
	SuppressConfirmations bool
}

// OptionOrderRequest describes an option order to submit. When ConID is
// set, contract resolution is skipped entirely.
type OptionOrderRequest struct {
	AccountID             string
	Symbol                string
	Expiration            string // YYYYMMDD or YYMMDD
	Strike                float64
	Right                 string // C, P, CALL or PUT
	Action                string
	OrderType             string
	Quantity              float64
	Price                 *float64
	StopPrice             *float64
	SuppressConfirmations bool
	ConID                 int
}

// orderPayload is the gateway order wire format. Price and AuxPrice are
// attached only when the order type calls for them and a value was given.
type orderPayload struct {
	ConID     int      `json:"conid"`
	OrderType string   `json:"orderType"`
	Side      string   `json:"side"`
	Quantity  float64  `json:"quantity"`
	TIF       string   `json:"tif"`
	Price     *float64 `json:"price,omitempty"`
	AuxPrice  *float64 `json:"auxPrice,omitempty"`
}

// orderReplyEntry is one element of an order submission response. A
// populated id/message/messageIds triple means the gateway wants
// disclosure acknowledgment before routing.
type orderReplyEntry struct {
	ID         string   `json:"id"`
	Message    []string `json:"message"`
	MessageIDs []string `json:"messageIds"`
}

func (e orderReplyEntry) confirmationRequired() bool {
	return e.ID != "" && len(e.Message) > 0 && len(e.MessageIDs) > 0
}

// OrderResult is the outcome of an order submission or confirmation.
//
// When ConfirmationRequired is set the order has not routed yet: the
// caller must pass ReplyID and the exact MessageIDs to ConfirmOrder.
type OrderResult struct {
	ConfirmationRequired bool            `json:"confirmationRequired"`
	ReplyID              string          `json:"replyId,omitempty"`
	Messages             []string        `json:"messages,omitempty"`
	MessageIDs           []string        `json:"messageIds,omitempty"`
	Raw                  json.RawMessage `json:"raw"`
}

// OrderModification carries the fields a caller wants changed on a live
// order. Nil fields are omitted from the payload.
type OrderModification struct {
	Quantity  *float64
	Price     *float64
	StopPrice *float64
}

// MarketDataResult pairs a snapshot with the contract it was taken for.
type MarketDataResult struct {
	Symbol string          `json:"symbol"`
	ConID  int             `json:"conid"`
	Data   json.RawMessage `json:"marketData"`
}

// HistoricalDataResult holds historical bars for one contract.
type HistoricalDataResult struct {
	Symbol string          `json:"symbol"`
	ConID  int             `json:"conid"`
	Period string          `json:"period,omitempty"`
	Bar    string          `json:"bar,omitempty"`
	Data   json.RawMessage `json:"data"`
}

// PnLReport pairs an account with its summary payload.
type PnLReport struct {
	AccountID string          `json:"accountId"`
	PnL       json.RawMessage `json:"pnl"`
}
