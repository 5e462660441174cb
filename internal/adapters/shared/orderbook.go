package shared

import (
	"errors"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/halcyonlabs/marketsync/internal/schema"
)

// ErrBookNotReady indicates a delta arrived before any snapshot for the symbol.
// Callers log and drop the delta; the book self-heals on the next snapshot.
var ErrBookNotReady = errors.New("orderbook: delta before snapshot")

// BookEngine maintains incremental per-symbol order books from snapshot and
// delta messages and notifies on top-of-book changes.
//
// Mutation happens only on the single inbound-processing goroutine; the mutex
// exists because BestBidAsk may be called from host goroutines.
type BookEngine struct {
	mu      sync.Mutex
	books   map[string]*book
	onQuote func(schema.Quote)
}

type book struct {
	bids    map[string]schema.PriceLevel
	asks    map[string]schema.PriceLevel
	last    schema.Quote
	hasLast bool
}

// NewBookEngine constructs an engine. onQuote, if non-nil, is invoked once per
// top-of-book change (not per delta).
func NewBookEngine(onQuote func(schema.Quote)) *BookEngine {
	return &BookEngine{
		books:   make(map[string]*book),
		onQuote: onQuote,
	}
}

// ApplySnapshot clears any existing ladder for symbol and installs the given
// levels. Zero-size levels are never stored. Notification re-arms so the first
// computed top after the snapshot always fires.
func (e *BookEngine) ApplySnapshot(symbol string, bids, asks []schema.PriceLevel) {
	e.mu.Lock()
	b, ok := e.books[symbol]
	if !ok {
		b = newBook()
		e.books[symbol] = b
	}
	replaceSide(b.bids, bids)
	replaceSide(b.asks, asks)
	b.hasLast = false
	quote, changed := b.refreshTop(symbol)
	e.mu.Unlock()

	if changed && e.onQuote != nil {
		e.onQuote(quote)
	}
}

// ApplyDelta upserts one price level, removing it when size is zero. Removal
// of an absent level is not an error. Returns ErrBookNotReady until a snapshot
// has been applied for the symbol.
func (e *BookEngine) ApplyDelta(symbol string, side schema.Side, price, size decimal.Decimal) error {
	e.mu.Lock()
	b, ok := e.books[symbol]
	if !ok {
		e.mu.Unlock()
		return ErrBookNotReady
	}

	target := b.bids
	if side == schema.SideSell {
		target = b.asks
	}
	key := price.String()
	if size.Sign() <= 0 {
		delete(target, key)
	} else {
		target[key] = schema.PriceLevel{Price: price, Size: size}
	}

	quote, changed := b.refreshTop(symbol)
	e.mu.Unlock()

	if changed && e.onQuote != nil {
		e.onQuote(quote)
	}
	return nil
}

// BestBidAsk returns the current top of book. Zero values denote an empty
// side. Unknown symbols return an all-zero quote.
func (e *BookEngine) BestBidAsk(symbol string) schema.Quote {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.books[symbol]
	if !ok {
		return schema.Quote{Symbol: symbol}
	}
	return b.top(symbol)
}

// HasSnapshot reports whether a snapshot has been applied for symbol.
func (e *BookEngine) HasSnapshot(symbol string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.books[symbol]
	return ok
}

// Drop destroys the book for symbol, as required on unsubscribe.
func (e *BookEngine) Drop(symbol string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.books, symbol)
}

func newBook() *book {
	return &book{
		bids: make(map[string]schema.PriceLevel),
		asks: make(map[string]schema.PriceLevel),
	}
}

func replaceSide(target map[string]schema.PriceLevel, levels []schema.PriceLevel) {
	for key := range target {
		delete(target, key)
	}
	for _, level := range levels {
		if level.Size.Sign() <= 0 {
			continue
		}
		target[level.Price.String()] = level
	}
}

func (b *book) top(symbol string) schema.Quote {
	quote := schema.Quote{Symbol: symbol}
	for _, level := range b.bids {
		if quote.BidSize.IsZero() || level.Price.GreaterThan(quote.Bid) {
			quote.Bid = level.Price
			quote.BidSize = level.Size
		}
	}
	for _, level := range b.asks {
		if quote.AskSize.IsZero() || level.Price.LessThan(quote.Ask) {
			quote.Ask = level.Price
			quote.AskSize = level.Size
		}
	}
	return quote
}

func (b *book) refreshTop(symbol string) (schema.Quote, bool) {
	quote := b.top(symbol)
	if b.hasLast && quoteEqual(quote, b.last) {
		return quote, false
	}
	b.last = quote
	b.hasLast = true
	return quote, true
}

func quoteEqual(a, b schema.Quote) bool {
	return a.Bid.Equal(b.Bid) && a.BidSize.Equal(b.BidSize) &&
		a.Ask.Equal(b.Ask) && a.AskSize.Equal(b.AskSize)
}
