package coinbase

import (
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/halcyonlabs/marketsync/errs"
	"github.com/halcyonlabs/marketsync/internal/adapters/shared"
	"github.com/halcyonlabs/marketsync/internal/schema"
)

// Channel names as they appear in inbound envelopes.
const (
	channelHeartbeats    = "heartbeats"
	channelSubscriptions = "subscriptions"
	channelLevel2        = "l2_data"
	channelMarketTrades  = "market_trades"
	channelUser          = "user"
)

const (
	eventSnapshot = "snapshot"
	eventUpdate   = "update"
)

// envelope is the common frame shape shared by every channel: a channel name,
// a connection-scoped sequence number, and a batch of typed events.
type envelope struct {
	Channel     string            `json:"channel"`
	SequenceNum uint64            `json:"sequence_num"`
	Timestamp   time.Time         `json:"timestamp"`
	Events      []json.RawMessage `json:"events"`
}

type bookEvent struct {
	Type      string      `json:"type"`
	ProductID string      `json:"product_id"`
	Updates   []bookLevel `json:"updates"`
}

type bookLevel struct {
	Side        string `json:"side"`
	PriceLevel  string `json:"price_level"`
	NewQuantity string `json:"new_quantity"`
}

type tradeEvent struct {
	Type   string      `json:"type"`
	Trades []wireTrade `json:"trades"`
}

type wireTrade struct {
	TradeID   string    `json:"trade_id"`
	ProductID string    `json:"product_id"`
	Price     string    `json:"price"`
	Size      string    `json:"size"`
	Side      string    `json:"side"`
	Time      time.Time `json:"time"`
}

type userEvent struct {
	Type   string      `json:"type"`
	Orders []wireOrder `json:"orders"`
}

type wireOrder struct {
	OrderID            string    `json:"order_id"`
	ClientOrderID      string    `json:"client_order_id"`
	Status             string    `json:"status"`
	Side               string    `json:"order_side"`
	CumulativeQuantity string    `json:"cumulative_quantity"`
	LeavesQuantity     string    `json:"leaves_quantity"`
	AvgPrice           string    `json:"avg_price"`
	TotalFees          string    `json:"total_fees"`
	EventTime          time.Time `json:"event_time"`
}

func parseEnvelope(data []byte) (envelope, error) {
	var frame envelope
	if err := json.Unmarshal(data, &frame); err != nil {
		return envelope{}, errs.New(Venue, errs.CodeParse,
			errs.WithMessage("decode frame envelope"),
			errs.WithCause(err))
	}
	if frame.Channel == "" {
		return envelope{}, errs.New(Venue, errs.CodeParse,
			errs.WithMessage("frame missing channel"))
	}
	return frame, nil
}

// parseBookEvent converts one l2_data event into per-side level slices. Update
// events keep zero quantities because a zero signals level removal downstream.
func parseBookEvent(raw json.RawMessage) (productID, eventType string, bids, asks []schema.PriceLevel, err error) {
	var event bookEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return "", "", nil, nil, errs.New(Venue, errs.CodeParse,
			errs.WithMessage("decode book event"),
			errs.WithCause(err))
	}
	for _, update := range event.Updates {
		price, perr := decimal.NewFromString(strings.TrimSpace(update.PriceLevel))
		if perr != nil {
			return "", "", nil, nil, errs.New(Venue, errs.CodeParse,
				errs.WithMessage("parse book price level"),
				errs.WithCause(perr))
		}
		size, serr := decimal.NewFromString(strings.TrimSpace(update.NewQuantity))
		if serr != nil {
			return "", "", nil, nil, errs.New(Venue, errs.CodeParse,
				errs.WithMessage("parse book quantity"),
				errs.WithCause(serr))
		}
		level := schema.PriceLevel{Price: price, Size: size}
		switch update.Side {
		case "bid":
			bids = append(bids, level)
		case "offer", "ask":
			asks = append(asks, level)
		default:
			return "", "", nil, nil, errs.New(Venue, errs.CodeParse,
				errs.WithMessage("unknown book side "+update.Side))
		}
	}
	return event.ProductID, event.Type, bids, asks, nil
}

// parseTradeEvent converts one market_trades event into prints grouped by
// product; a single event can interleave products.
func parseTradeEvent(raw json.RawMessage) (map[string][]shared.TradePrint, error) {
	var event tradeEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, errs.New(Venue, errs.CodeParse,
			errs.WithMessage("decode trade event"),
			errs.WithCause(err))
	}
	grouped := make(map[string][]shared.TradePrint, 1)
	for _, trade := range event.Trades {
		id, err := parseTradeID(trade.TradeID)
		if err != nil {
			return nil, err
		}
		price, err := decimal.NewFromString(strings.TrimSpace(trade.Price))
		if err != nil {
			return nil, errs.New(Venue, errs.CodeParse,
				errs.WithMessage("parse trade price"),
				errs.WithCause(err))
		}
		size, err := decimal.NewFromString(strings.TrimSpace(trade.Size))
		if err != nil {
			return nil, errs.New(Venue, errs.CodeParse,
				errs.WithMessage("parse trade size"),
				errs.WithCause(err))
		}
		grouped[trade.ProductID] = append(grouped[trade.ProductID], shared.TradePrint{
			ID:    id,
			Price: price,
			Size:  size,
			Side:  parseTradeSide(trade.Side),
			Time:  trade.Time,
		})
	}
	return grouped, nil
}

func parseTradeID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, errs.New(Venue, errs.CodeParse,
			errs.WithMessage("trade id is not numeric: "+raw),
			errs.WithCause(err))
	}
	return id, nil
}

func parseTradeSide(raw string) schema.Side {
	if strings.EqualFold(raw, "SELL") {
		return schema.SideSell
	}
	return schema.SideBuy
}

// parseUserEvent converts one user-channel event into order updates for the
// reconciler. Snapshot and update events share the same order shape.
func parseUserEvent(raw json.RawMessage) (eventType string, updates []shared.OrderUpdate, err error) {
	var event userEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return "", nil, errs.New(Venue, errs.CodeParse,
			errs.WithMessage("decode user event"),
			errs.WithCause(err))
	}
	updates = make([]shared.OrderUpdate, 0, len(event.Orders))
	for _, order := range event.Orders {
		status, ok := parseRawStatus(order.Status)
		if !ok {
			return "", nil, errs.New(Venue, errs.CodeParse,
				errs.WithMessage("unknown order status "+order.Status))
		}
		cumulative, err := parseOptionalDecimal(order.CumulativeQuantity)
		if err != nil {
			return "", nil, err
		}
		remaining, err := parseOptionalDecimal(order.LeavesQuantity)
		if err != nil {
			return "", nil, err
		}
		avgPrice, err := parseOptionalDecimal(order.AvgPrice)
		if err != nil {
			return "", nil, err
		}
		fee, err := parseOptionalDecimal(order.TotalFees)
		if err != nil {
			return "", nil, err
		}
		updates = append(updates, shared.OrderUpdate{
			LocalID:          order.ClientOrderID,
			ExchangeOrderID:  order.OrderID,
			Status:           status,
			CumulativeFilled: cumulative,
			Remaining:        remaining,
			AvgPrice:         avgPrice,
			Fee:              fee,
			Time:             order.EventTime,
		})
	}
	return event.Type, updates, nil
}

func parseRawStatus(raw string) (shared.RawOrderStatus, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "PENDING":
		return shared.RawPending, true
	case "OPEN":
		return shared.RawOpen, true
	case "FILLED":
		return shared.RawFilled, true
	case "CANCELLED", "CANCELED":
		return shared.RawCancelled, true
	case "FAILED":
		return shared.RawFailed, true
	default:
		return "", false
	}
}

func parseOptionalDecimal(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, nil
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, errs.New(Venue, errs.CodeParse,
			errs.WithMessage("parse decimal field"),
			errs.WithCause(err))
	}
	return value, nil
}
