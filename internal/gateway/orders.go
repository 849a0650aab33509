package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// normalizeRight collapses an option right to the single letter the
// gateway expects.
func normalizeRight(right string) string {
	switch strings.ToUpper(right) {
	case "CALL", "C":
		return "C"
	case "PUT", "P":
		return "P"
	default:
		return strings.ToUpper(right)
	}
}

// normalizeExpiration widens a 6-digit YYMMDD expiration to YYYYMMDD.
// Two-digit years below 50 map to the 2000s, the rest to the 1900s.
func normalizeExpiration(exp string) string {
	if len(exp) != 6 {
		return exp
	}
	year, err := strconv.Atoi(exp[:2])
	if err != nil {
		return exp
	}
	full := 1900 + year
	if year < 50 {
		full = 2000 + year
	}
	return strconv.Itoa(full) + exp[2:]
}

// buildOrderPayload assembles the shared base order. price rides along
// only for LMT orders and stopPrice (as auxPrice) only for STP orders;
// an absent value is omitted rather than submitted as null.
func buildOrderPayload(conid int, orderType, side string, quantity float64, price, stopPrice *float64) orderPayload {
	p := orderPayload{
		ConID:     conid,
		OrderType: orderType,
		Side:      side,
		Quantity:  quantity,
		TIF:       "DAY",
	}
	if orderType == "LMT" && price != nil {
		p.Price = price
	}
	if orderType == "STP" && stopPrice != nil {
		p.AuxPrice = stopPrice
	}
	return p
}

// PlaceStockOrder resolves the symbol to a stock contract and submits the
// order. When the gateway answers with a confirmation prompt and the
// request set SuppressConfirmations, the prompt is acknowledged
// automatically and the confirmation response is returned instead.
func (c *Client) PlaceStockOrder(ctx context.Context, req StockOrderRequest) (*OrderResult, error) {
	contract, err := c.ResolveSymbol(ctx, req.Symbol, "")
	if err != nil {
		return nil, opError("place stock order "+req.Symbol, err)
	}

	payload := buildOrderPayload(contract.ConID, req.OrderType, req.Action, req.Quantity, req.Price, req.StopPrice)
	result, err := c.submitOrder(ctx, req.AccountID, payload, req.SuppressConfirmations)
	if err != nil {
		return nil, opError("place stock order "+req.Symbol, err)
	}
	return result, nil
}

// PlaceOptionOrder submits an option order. A caller-supplied ConID skips
// contract resolution entirely; otherwise resolution is approximate: the
// first OPT search candidate whose section reports secType OPT is taken,
// with a best-effort detail fetch as a sanity step. An exact
// strike/expiration/right match is not guaranteed.
func (c *Client) PlaceOptionOrder(ctx context.Context, req OptionOrderRequest) (*OrderResult, error) {
	conid := req.ConID
	if conid == 0 {
		var err error
		conid, err = c.resolveOptionConID(ctx, req)
		if err != nil {
			return nil, opError("place option order "+req.Symbol, err)
		}
	} else {
		c.log.Info("using provided option contract id",
			zap.String("symbol", req.Symbol), zap.Int("conid", conid))
	}

	payload := buildOrderPayload(conid, req.OrderType, req.Action, req.Quantity, req.Price, req.StopPrice)
	result, err := c.submitOrder(ctx, req.AccountID, payload, req.SuppressConfirmations)
	if err != nil {
		return nil, opError("place option order "+req.Symbol, err)
	}
	return result, nil
}

// resolveOptionConID walks the OPT search results for the request's
// symbol and picks the first candidate with an OPT section. A failed
// detail fetch moves on to the next candidate instead of failing the
// order.
func (c *Client) resolveOptionConID(ctx context.Context, req OptionOrderRequest) (int, error) {
	right := normalizeRight(req.Right)
	expiration := normalizeExpiration(req.Expiration)
	c.log.Info("resolving option contract",
		zap.String("symbol", req.Symbol), zap.String("expiration", expiration),
		zap.Float64("strike", req.Strike), zap.String("right", right))

	// Underlying resolution gives logging context; the option pick below
	// does not depend on it.
	underlying, err := c.ResolveSymbol(ctx, req.Symbol, "")
	if err != nil {
		return 0, err
	}
	c.log.Debug("underlying resolved",
		zap.String("symbol", req.Symbol), zap.Int("conid", underlying.ConID))

	results, err := c.SearchBySymbol(ctx, req.Symbol, "OPT")
	if err != nil {
		return 0, err
	}

	for _, candidate := range results {
		if len(candidate.Sections) == 0 || candidate.Sections[0].SecType != "OPT" {
			continue
		}
		if _, err := c.ContractDetails(ctx, int(candidate.ConID)); err != nil {
			c.log.Warn("could not fetch option contract detail",
				zap.Int("conid", int(candidate.ConID)), zap.Error(err))
			continue
		}
		c.log.Info("option contract selected", zap.Int("conid", int(candidate.ConID)))
		return int(candidate.ConID), nil
	}

	return 0, &GatewayError{
		Kind:   ErrKindSymbolNotFound,
		Symbol: req.Symbol,
		Msg: fmt.Sprintf("option contract not found for %s %s %g%s; pass conid directly if known",
			req.Symbol, expiration, req.Strike, right),
	}
}

// submitOrder posts a one-element order batch and handles the
// confirmation hand-off.
func (c *Client) submitOrder(ctx context.Context, accountID string, payload orderPayload, suppressConfirmations bool) (*OrderResult, error) {
	var raw json.RawMessage
	path := fmt.Sprintf("/iserver/account/%s/orders", accountID)
	body := map[string]any{"orders": []orderPayload{payload}}
	if err := c.do(ctx, "POST", path, body, &raw); err != nil {
		return nil, err
	}

	var replies []orderReplyEntry
	if err := json.Unmarshal(raw, &replies); err == nil && len(replies) > 0 && replies[0].confirmationRequired() {
		first := replies[0]
		if suppressConfirmations {
			c.log.Info("order confirmation prompt received, auto-confirming",
				zap.String("reply_id", first.ID), zap.Strings("messages", first.Message))
			return c.ConfirmOrder(ctx, first.ID, first.MessageIDs)
		}
		return &OrderResult{
			ConfirmationRequired: true,
			ReplyID:              first.ID,
			Messages:             first.Message,
			MessageIDs:           first.MessageIDs,
			Raw:                  raw,
		}, nil
	}

	// An object response with an error field is a gateway-side rejection.
	var rejection struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &rejection); err == nil && rejection.Error != "" {
		return nil, &GatewayError{Kind: ErrKindOrderRejected, Msg: rejection.Error}
	}

	return &OrderResult{Raw: raw}, nil
}

// ConfirmOrder acknowledges a disclosure prompt. It must receive the
// exact messageIds the gateway returned, not a subset; this is the only
// way to complete an order flagged for confirmation.
func (c *Client) ConfirmOrder(ctx context.Context, replyID string, messageIDs []string) (*OrderResult, error) {
	c.log.Info("confirming order",
		zap.String("reply_id", replyID), zap.Strings("message_ids", messageIDs))
	var raw json.RawMessage
	body := map[string]any{"confirmed": true, "messageIds": messageIDs}
	if err := c.do(ctx, "POST", "/iserver/reply/"+replyID, body, &raw); err != nil {
		return nil, opError("confirm order "+replyID, err)
	}
	return &OrderResult{Raw: raw}, nil
}

// CancelOrder requests cancellation of a live order. The gateway is the
// sole source of truth for the resulting order state.
func (c *Client) CancelOrder(ctx context.Context, accountID, orderID string) (json.RawMessage, error) {
	var raw json.RawMessage
	path := fmt.Sprintf("/iserver/account/%s/order/%s", accountID, orderID)
	if err := c.do(ctx, "DELETE", path, nil, &raw); err != nil {
		return nil, opError("cancel order "+orderID, err)
	}
	return raw, nil
}

// ModifyOrder updates a live order, sending only the fields the caller
// set.
func (c *Client) ModifyOrder(ctx context.Context, accountID, orderID string, mod OrderModification) (json.RawMessage, error) {
	payload := map[string]any{}
	if mod.Quantity != nil {
		payload["quantity"] = *mod.Quantity
	}
	if mod.Price != nil {
		payload["price"] = *mod.Price
	}
	if mod.StopPrice != nil {
		payload["auxPrice"] = *mod.StopPrice
	}

	var raw json.RawMessage
	path := fmt.Sprintf("/iserver/account/%s/order/%s", accountID, orderID)
	if err := c.do(ctx, "POST", path, payload, &raw); err != nil {
		return nil, opError("modify order "+orderID, err)
	}
	return raw, nil
}

// Orders lists live orders, optionally scoped to one account.
func (c *Client) Orders(ctx context.Context, accountID string) (json.RawMessage, error) {
	path := "/iserver/account/orders"
	if accountID != "" {
		path = fmt.Sprintf("/iserver/account/%s/orders", accountID)
	}
	var raw json.RawMessage
	if err := c.do(ctx, "GET", path, nil, &raw); err != nil {
		return nil, opError("list orders", err)
	}
	return raw, nil
}

// OrderStatus fetches the gateway's view of one order.
func (c *Client) OrderStatus(ctx context.Context, orderID string) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.do(ctx, "GET", "/iserver/account/orders/"+orderID, nil, &raw); err != nil {
		return nil, opError("order status "+orderID, err)
	}
	return raw, nil
}
