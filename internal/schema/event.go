// Package schema defines the normalized domain events emitted by the sync engine.
package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceLevel describes a single order book level. Size is never zero for a
// stored level; zero size on the wire means removal.
type PriceLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// Side identifies an order book side or trade direction.
type Side string

const (
	// SideBuy marks bids and buy-side fills.
	SideBuy Side = "buy"
	// SideSell marks asks and sell-side fills.
	SideSell Side = "sell"
)

// Quote carries the top of book for a symbol. Zero values on one side denote
// an empty side, which is a valid state for illiquid symbols.
type Quote struct {
	Symbol  string
	Bid     decimal.Decimal
	BidSize decimal.Decimal
	Ask     decimal.Decimal
	AskSize decimal.Decimal
}

// Trade carries a single deduplicated trade print.
type Trade struct {
	Symbol string
	Price  decimal.Decimal
	Size   decimal.Decimal
	Side   Side
	Time   time.Time
}

// OrderStatus enumerates the local order lifecycle states.
type OrderStatus string

const (
	// OrderStatusSubmitted marks an order accepted for tracking.
	OrderStatusSubmitted OrderStatus = "submitted"
	// OrderStatusPartiallyFilled marks an order with some executed quantity.
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	// OrderStatusFilled marks a completely executed order. Terminal.
	OrderStatusFilled OrderStatus = "filled"
	// OrderStatusCanceled marks a confirmed cancellation. Terminal.
	OrderStatusCanceled OrderStatus = "canceled"
	// OrderStatusRejected marks a venue rejection. Terminal.
	OrderStatusRejected OrderStatus = "rejected"
)

// Terminal reports whether the status admits no further transitions.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected:
		return true
	default:
		return false
	}
}

// OrderEvent reports one real status transition for a tracked order.
// FillDelta is the newly executed quantity since the previous event, signed by
// direction (negative for sells).
type OrderEvent struct {
	LocalID   string
	Status    OrderStatus
	FillDelta decimal.Decimal
	AvgPrice  decimal.Decimal
	Fee       decimal.Decimal
	Time      time.Time
}

// WarningCode classifies non-fatal conditions surfaced to the host.
type WarningCode string

const (
	// WarnSequenceGap reports lost feed messages; the host may resynchronize.
	WarnSequenceGap WarningCode = "sequence_gap"
	// WarnBookNotReady reports a delta dropped because no snapshot was applied.
	WarnBookNotReady WarningCode = "book_not_ready"
	// WarnSubscriptionTimeout reports a missed private-channel acknowledgement.
	WarnSubscriptionTimeout WarningCode = "subscription_timeout"
	// WarnParseFailure reports an undecodable inbound frame.
	WarnParseFailure WarningCode = "parse_failure"
	// WarnHeartbeatStale reports a silent liveness channel.
	WarnHeartbeatStale WarningCode = "heartbeat_stale"
)

// Callbacks receives normalized events from the sync engine. Handlers are
// injected at construction and invoked from the single inbound-processing
// goroutine; implementations sharing state with other goroutines must guard it.
type Callbacks struct {
	OnQuote      func(Quote)
	OnTrade      func(Trade)
	OnOrderEvent func(OrderEvent)
	OnWarning    func(code WarningCode, message string)
}

// Quote dispatches q if a handler is installed.
func (c Callbacks) Quote(q Quote) {
	if c.OnQuote != nil {
		c.OnQuote(q)
	}
}

// Trade dispatches t if a handler is installed.
func (c Callbacks) Trade(t Trade) {
	if c.OnTrade != nil {
		c.OnTrade(t)
	}
}

// OrderEvent dispatches evt if a handler is installed.
func (c Callbacks) OrderEvent(evt OrderEvent) {
	if c.OnOrderEvent != nil {
		c.OnOrderEvent(evt)
	}
}

// Warning dispatches a warning if a handler is installed.
func (c Callbacks) Warning(code WarningCode, message string) {
	if c.OnWarning != nil {
		c.OnWarning(code, message)
	}
}
