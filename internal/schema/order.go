package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderKind names a supported order configuration.
type OrderKind string

const (
	// OrderKindMarket executes immediately against resting liquidity.
	OrderKindMarket OrderKind = "market"
	// OrderKindLimitGTC rests at a limit price until canceled.
	OrderKindLimitGTC OrderKind = "limit_gtc"
	// OrderKindLimitGTD rests at a limit price until an expiry time.
	OrderKindLimitGTD OrderKind = "limit_gtd"
	// OrderKindStopLimitGTC arms a stop that places a limit order, good till canceled.
	OrderKindStopLimitGTC OrderKind = "stop_limit_gtc"
	// OrderKindStopLimitGTD arms a stop that places a limit order, good till date.
	OrderKindStopLimitGTD OrderKind = "stop_limit_gtd"
)

// OrderConfig is the tagged union over order kinds. Each variant carries only
// the fields its kind requires.
type OrderConfig interface {
	Kind() OrderKind
}

// MarketOrder executes BaseSize at the prevailing price.
type MarketOrder struct {
	BaseSize decimal.Decimal
}

func (MarketOrder) Kind() OrderKind { return OrderKindMarket }

// LimitGTCOrder rests BaseSize at LimitPrice until canceled.
type LimitGTCOrder struct {
	BaseSize   decimal.Decimal
	LimitPrice decimal.Decimal
	PostOnly   bool
}

func (LimitGTCOrder) Kind() OrderKind { return OrderKindLimitGTC }

// LimitGTDOrder rests BaseSize at LimitPrice until EndTime.
type LimitGTDOrder struct {
	BaseSize   decimal.Decimal
	LimitPrice decimal.Decimal
	EndTime    time.Time
	PostOnly   bool
}

func (LimitGTDOrder) Kind() OrderKind { return OrderKindLimitGTD }

// StopLimitGTCOrder arms StopPrice and places a limit at LimitPrice once triggered.
type StopLimitGTCOrder struct {
	BaseSize      decimal.Decimal
	StopPrice     decimal.Decimal
	LimitPrice    decimal.Decimal
	StopDirection Side
}

func (StopLimitGTCOrder) Kind() OrderKind { return OrderKindStopLimitGTC }

// StopLimitGTDOrder is StopLimitGTCOrder with an expiry time.
type StopLimitGTDOrder struct {
	BaseSize      decimal.Decimal
	StopPrice     decimal.Decimal
	LimitPrice    decimal.Decimal
	StopDirection Side
	EndTime       time.Time
}

func (StopLimitGTDOrder) Kind() OrderKind { return OrderKindStopLimitGTD }

// OrderRequest describes a new order submission.
type OrderRequest struct {
	ClientOrderID string
	Symbol        string
	Side          Side
	Config        OrderConfig
}
