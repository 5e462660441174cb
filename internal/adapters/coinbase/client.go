package coinbase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc"

	"github.com/halcyonlabs/marketsync/errs"
	"github.com/halcyonlabs/marketsync/internal/adapters/shared"
	"github.com/halcyonlabs/marketsync/internal/observability"
	"github.com/halcyonlabs/marketsync/internal/ratelimit"
	"github.com/halcyonlabs/marketsync/internal/schema"
	"github.com/halcyonlabs/marketsync/internal/symbols"
)

// State tracks the subscription lifecycle of the client.
type State int32

const (
	// StateDisconnected means no websocket session exists.
	StateDisconnected State = iota
	// StateConnecting means the dial or reconnect loop is in progress.
	StateConnecting
	// StateSubscribing means the session is up and channels are being established.
	StateSubscribing
	// StateSteady means all desired channels are active.
	StateSteady
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateSubscribing:
		return "subscribing"
	case StateSteady:
		return "steady"
	default:
		return "disconnected"
	}
}

// subscribeFrame is the signed control frame for channel management.
type subscribeFrame struct {
	Type       string   `json:"type"`
	Channel    string   `json:"channel"`
	ProductIDs []string `json:"product_ids,omitempty"`
	APIKey     string   `json:"api_key"`
	Signature  string   `json:"signature"`
	Timestamp  string   `json:"timestamp"`
	Nonce      string   `json:"nonce"`
}

// Client synchronizes venue state over one authenticated websocket session:
// it manages channel subscriptions, sequencing, and routing of inbound frames
// into the book, trade, and order engines, and fronts the REST gateway for
// order submission and cancellation.
//
// All inbound routing happens on the read-loop goroutine; emission toward the
// host is serialized by emitMu so REST-path order events cannot interleave
// with feed events.
type Client struct {
	opts    Options
	signer  *Signer
	gateway *Gateway
	mapper  *symbols.Mapper
	aliases *symbols.AliasExpander

	callbacks schema.Callbacks
	metrics   *observability.RuntimeMetrics

	sock      *wsManager
	seq       *shared.SequenceTracker
	books     *shared.BookEngine
	trades    *shared.TradeFilter
	orders    *shared.Reconciler
	errorChan chan error

	runCtx    context.Context
	runCancel context.CancelFunc
	tasks     conc.WaitGroup

	mu           sync.Mutex
	products     map[string]struct{}
	pendingUnsub []string
	subCancel    context.CancelFunc
	userAck      chan struct{}

	emitMu sync.Mutex

	state         atomic.Int32
	lastHeartbeat atomic.Int64
}

// NewClient constructs a client. Credentials are mandatory; the private user
// channel is part of every session.
func NewClient(callbacks schema.Callbacks, opts ...Option) (*Client, error) {
	options := buildOptions(opts...)
	signer, err := NewSigner(options.APIKey, options.APISecret, options.Clock)
	if err != nil {
		return nil, err
	}

	c := &Client{
		opts:      options,
		signer:    signer,
		gateway:   NewGateway(signer, opts...),
		mapper:    symbols.NewMapper(options.SymbolOverrides),
		aliases:   symbols.NewAliasExpander(options.QuoteAliases),
		callbacks: callbacks,
		metrics:   observability.NewRuntimeMetrics(),
		seq:       shared.NewSequenceTracker(),
		trades:    shared.NewTradeFilter(shared.DefaultStaleHorizon, options.Clock),
		errorChan: make(chan error, 16),
		products:  make(map[string]struct{}),
	}
	c.books = shared.NewBookEngine(c.emitQuote)
	c.orders = shared.NewReconciler(c.emitOrderEvent)
	return c, nil
}

// Start dials the websocket session and blocks until the first connection is
// established. Channel subscriptions follow asynchronously.
func (c *Client) Start(ctx context.Context) error {
	c.runCtx, c.runCancel = context.WithCancel(ctx)
	c.state.Store(int32(StateConnecting))

	gate := ratelimit.NewGate(c.opts.ControlBurst, c.opts.ControlInterval)
	c.sock = newWSManager(c.runCtx, c.opts.WebsocketURL, gate, c.handleFrame, c.onConnected, c.errorChan)

	c.tasks.Go(c.drainErrors)
	c.tasks.Go(c.watchHeartbeat)

	if err := c.sock.start(); err != nil {
		c.runCancel()
		c.state.Store(int32(StateDisconnected))
		return errs.New(Venue, errs.CodeNetwork,
			errs.WithMessage("establish websocket session"),
			errs.WithCause(err))
	}
	return nil
}

// Close tears the session down and waits for background work to finish.
func (c *Client) Close() {
	if c.runCancel != nil {
		c.runCancel()
	}
	if c.sock != nil {
		c.sock.stop()
	}
	c.tasks.Wait()
	c.state.Store(int32(StateDisconnected))
}

// State reports the current lifecycle state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// Metrics returns a copy of the runtime feed counters.
func (c *Client) Metrics() observability.StreamMetricsSnapshot {
	return c.metrics.Snapshot()
}

// Subscribe adds symbols to the desired market-data set and triggers a
// resubscription pass. Symbols are local canonical names.
func (c *Client) Subscribe(symbolList ...string) {
	c.mu.Lock()
	for _, symbol := range symbolList {
		product := c.mapper.ToExchangeSymbol(symbol)
		if product != "" {
			c.products[product] = struct{}{}
		}
	}
	c.kickResubscribeLocked()
	c.mu.Unlock()
}

// Unsubscribe removes symbols from the desired set, discards their book and
// trade watermark state, and triggers a resubscription pass that tells the
// venue to stop streaming them.
func (c *Client) Unsubscribe(symbolList ...string) {
	c.mu.Lock()
	removed := make([]string, 0, len(symbolList))
	for _, symbol := range symbolList {
		product := c.mapper.ToExchangeSymbol(symbol)
		if _, ok := c.products[product]; !ok {
			continue
		}
		delete(c.products, product)
		removed = append(removed, product)
	}
	if len(removed) > 0 {
		c.pendingUnsub = append(c.pendingUnsub, removed...)
		c.kickResubscribeLocked()
	}
	c.mu.Unlock()

	for _, product := range removed {
		local := c.mapper.ToLocalSymbol(product)
		c.books.Drop(local)
		c.trades.Drop(local)
	}
}

// onConnected runs after every successful dial. Connection-scoped state is
// discarded: the sequence cursor restarts and every desired channel is
// re-established from scratch.
func (c *Client) onConnected() {
	c.seq.Reset()
	c.lastHeartbeat.Store(c.opts.Clock().UnixNano())
	c.state.Store(int32(StateConnecting))

	c.mu.Lock()
	// A fresh session carries no channels: queued unsubscribes are moot and
	// the private bring-up has to run again.
	c.pendingUnsub = nil
	c.kickResubscribeLocked()
	c.mu.Unlock()
}

// kickResubscribeLocked starts a fresh subscription task, cancelling any task
// still in flight so only one sequence of control frames is ever active.
func (c *Client) kickResubscribeLocked() {
	if c.runCtx == nil {
		return
	}
	if c.subCancel != nil {
		c.subCancel()
	}
	taskCtx, cancel := context.WithCancel(c.runCtx)
	c.subCancel = cancel
	c.userAck = make(chan struct{})

	ack := c.userAck
	products := make([]string, 0, len(c.products))
	for product := range c.products {
		products = append(products, product)
	}
	sort.Strings(products)

	removed := c.pendingUnsub
	c.pendingUnsub = nil
	sort.Strings(removed)

	privateUp := c.State() == StateSteady

	c.tasks.Go(func() {
		c.runSubscriptionTask(taskCtx, products, removed, privateUp, ack)
	})
}

// runSubscriptionTask establishes channels in dependency order: the liveness
// channel first, then the private user channel, then public market data. The
// user channel must acknowledge before public floods begin so order state is
// never behind market state; a missed acknowledgement degrades with a warning
// rather than failing the session.
//
// Departing products are told to the venue first so it stops streaming them.
// When the session is already steady the private side is established and the
// bring-up is limited to the public market-data delta.
func (c *Client) runSubscriptionTask(ctx context.Context, products, removed []string, privateUp bool, ack <-chan struct{}) {
	c.state.Store(int32(StateSubscribing))
	c.metrics.RecordResubscription()

	for _, channel := range []string{channelLevel2, channelMarketTrades} {
		if len(removed) == 0 {
			break
		}
		if err := c.sendSubscription(ctx, "unsubscribe", channel, removed); err != nil {
			c.reportSubscribeError(ctx, channel, err)
			return
		}
	}

	if !privateUp {
		if err := c.sendSubscription(ctx, "subscribe", channelHeartbeats, nil); err != nil {
			c.reportSubscribeError(ctx, channelHeartbeats, err)
			return
		}
		if err := c.sendSubscription(ctx, "subscribe", channelUser, nil); err != nil {
			c.reportSubscribeError(ctx, channelUser, err)
			return
		}

		select {
		case <-ack:
		case <-ctx.Done():
			return
		case <-time.After(c.opts.UserAckTimeout):
			c.warn(schema.WarnSubscriptionTimeout,
				fmt.Sprintf("user channel silent for %s, continuing without order-state confirmation", c.opts.UserAckTimeout))
		}
	}

	for _, channel := range []string{channelLevel2, channelMarketTrades} {
		if len(products) == 0 {
			break
		}
		if err := c.sendSubscription(ctx, "subscribe", channel, products); err != nil {
			c.reportSubscribeError(ctx, channel, err)
			return
		}
	}
	c.state.Store(int32(StateSteady))
}

func (c *Client) reportSubscribeError(ctx context.Context, channel string, err error) {
	if errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return
	}
	c.reportError(fmt.Errorf("subscribe %s: %w", channel, err))
}

// sendSubscription signs and sends one control frame. Each frame carries its
// own short-lived token; signature scope binds the channel and product list.
// The rate slot is acquired before signing so a gated wait cannot outlive the
// token's validity window.
func (c *Client) sendSubscription(ctx context.Context, msgType, channel string, products []string) error {
	if err := c.sock.acquireControlSlot(ctx); err != nil {
		return err
	}
	scope := channel + " " + strings.Join(products, ",")
	token, err := c.signer.Sign(scope, "")
	if err != nil {
		return err
	}
	frame := subscribeFrame{
		Type:       msgType,
		Channel:    channel,
		ProductIDs: products,
		APIKey:     token.CredentialID,
		Signature:  token.Signature,
		Timestamp:  token.Timestamp,
		Nonce:      token.Nonce,
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return c.sock.sendControl(ctx, payload)
}

// handleFrame routes one inbound frame. It runs on the read-loop goroutine;
// book, watermark, and sequence state are only ever touched here.
func (c *Client) handleFrame(data []byte) {
	frame, err := parseEnvelope(data)
	if err != nil {
		c.warn(schema.WarnParseFailure, err.Error())
		return
	}
	c.metrics.RecordFrame(frame.Channel)

	switch c.seq.Accept(frame.SequenceNum) {
	case shared.SeqStale:
		c.metrics.RecordStaleDrop(frame.Channel)
		return
	case shared.SeqGap:
		c.metrics.RecordSequenceGap(frame.Channel)
		c.warn(schema.WarnSequenceGap,
			fmt.Sprintf("sequence gap on %s at %d", frame.Channel, frame.SequenceNum))
	case shared.SeqInOrder:
	}

	switch frame.Channel {
	case channelHeartbeats:
		c.lastHeartbeat.Store(c.opts.Clock().UnixNano())
	case channelSubscriptions:
		// Acknowledgement of the active channel set; nothing to route.
	case channelUser:
		c.handleUserFrame(frame)
	case channelLevel2:
		c.handleBookFrame(frame)
	case channelMarketTrades:
		c.handleTradeFrame(frame)
	default:
		observability.Log().Debug("ignoring unknown channel",
			observability.F("venue", Venue),
			observability.F("channel", frame.Channel))
	}
}

func (c *Client) handleBookFrame(frame envelope) {
	for _, raw := range frame.Events {
		productID, eventType, bids, asks, err := parseBookEvent(raw)
		if err != nil {
			c.warn(schema.WarnParseFailure, err.Error())
			continue
		}
		local := c.mapper.ToLocalSymbol(productID)
		switch eventType {
		case eventSnapshot:
			c.books.ApplySnapshot(local, bids, asks)
		case eventUpdate:
			c.applyBookDeltas(local, schema.SideBuy, bids)
			c.applyBookDeltas(local, schema.SideSell, asks)
		default:
			c.warn(schema.WarnParseFailure, "unknown book event type "+eventType)
		}
	}
}

func (c *Client) applyBookDeltas(symbol string, side schema.Side, levels []schema.PriceLevel) {
	for _, level := range levels {
		if err := c.books.ApplyDelta(symbol, side, level.Price, level.Size); err != nil {
			if errors.Is(err, shared.ErrBookNotReady) {
				c.warn(schema.WarnBookNotReady, "delta before snapshot for "+symbol)
				return
			}
			c.reportError(err)
		}
	}
}

func (c *Client) handleTradeFrame(frame envelope) {
	for _, raw := range frame.Events {
		grouped, err := parseTradeEvent(raw)
		if err != nil {
			c.warn(schema.WarnParseFailure, err.Error())
			continue
		}
		for productID, prints := range grouped {
			local := c.mapper.ToLocalSymbol(productID)
			for _, print := range c.trades.AcceptBatch(local, prints) {
				c.emitTrade(schema.Trade{
					Symbol: local,
					Price:  print.Price,
					Size:   print.Size,
					Side:   print.Side,
					Time:   print.Time,
				})
			}
		}
	}
}

// handleUserFrame confirms the private channel on its first event and feeds
// order updates into the reconciler. Snapshot events replay open orders;
// untracked ones fall out of the reconciler silently.
func (c *Client) handleUserFrame(frame envelope) {
	c.signalUserAck()
	for _, raw := range frame.Events {
		_, updates, err := parseUserEvent(raw)
		if err != nil {
			c.warn(schema.WarnParseFailure, err.Error())
			continue
		}
		for _, update := range updates {
			c.orders.Apply(update)
		}
	}
}

func (c *Client) signalUserAck() {
	c.mu.Lock()
	ack := c.userAck
	c.userAck = nil
	c.mu.Unlock()
	if ack != nil {
		close(ack)
	}
}

// SubmitOrder places the order and registers it for reconciliation, emitting
// the submitted event synchronously on success.
func (c *Client) SubmitOrder(ctx context.Context, req schema.OrderRequest) (string, error) {
	if strings.TrimSpace(req.ClientOrderID) == "" {
		return "", errs.New(Venue, errs.CodeInvalid, errs.WithMessage("client order id required"))
	}
	wireReq := req
	wireReq.Symbol = c.mapper.ToExchangeSymbol(req.Symbol)

	exchangeID, err := c.gateway.PlaceOrder(ctx, wireReq)
	if err != nil {
		return "", err
	}
	c.orders.Track(req.ClientOrderID, exchangeID, req.Side, orderBaseSize(req.Config))
	c.emitOrderEvent(schema.OrderEvent{
		LocalID: req.ClientOrderID,
		Status:  schema.OrderStatusSubmitted,
		Time:    c.opts.Clock(),
	})
	return exchangeID, nil
}

// CancelOrder requests cancellation by local id. The terminal canceled event
// is emitted here, on the venue's confirmation, not from the feed.
func (c *Client) CancelOrder(ctx context.Context, localID string) error {
	order, ok := c.orders.Lookup(localID)
	if !ok {
		return errs.New(Venue, errs.CodeInvalid, errs.WithMessage("order not tracked: "+localID))
	}
	if order.ExchangeOrderID == "" {
		return errs.New(Venue, errs.CodeInvalid, errs.WithMessage("order has no exchange id yet: "+localID))
	}
	if err := c.gateway.CancelOrder(ctx, order.ExchangeOrderID); err != nil {
		return err
	}
	c.orders.ConfirmCancel(localID, c.opts.Clock())
	return nil
}

// ResyncBook fetches a fresh REST snapshot for a local symbol and installs
// it, recovering book state after a sequence gap without waiting for the feed
// to resend one.
func (c *Client) ResyncBook(ctx context.Context, symbol string) error {
	product := c.mapper.ToExchangeSymbol(symbol)
	bids, asks, err := c.gateway.FetchBookSnapshot(ctx, product)
	if err != nil {
		return err
	}
	c.books.ApplySnapshot(c.mapper.ToLocalSymbol(product), bids, asks)
	return nil
}

// BestBidAsk returns the current top of book for a local symbol.
func (c *Client) BestBidAsk(symbol string) schema.Quote {
	return c.books.BestBidAsk(c.mapper.ToLocalSymbol(c.mapper.ToExchangeSymbol(symbol)))
}

func orderBaseSize(config schema.OrderConfig) decimal.Decimal {
	switch c := config.(type) {
	case schema.MarketOrder:
		return c.BaseSize
	case schema.LimitGTCOrder:
		return c.BaseSize
	case schema.LimitGTDOrder:
		return c.BaseSize
	case schema.StopLimitGTCOrder:
		return c.BaseSize
	case schema.StopLimitGTDOrder:
		return c.BaseSize
	default:
		return decimal.Zero
	}
}

// emitQuote fans a top-of-book change out to the host, once per configured
// alias of the symbol.
func (c *Client) emitQuote(quote schema.Quote) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	for _, symbol := range c.aliases.Expand(quote.Symbol) {
		aliased := quote
		aliased.Symbol = symbol
		c.callbacks.Quote(aliased)
	}
}

func (c *Client) emitTrade(trade schema.Trade) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	for _, symbol := range c.aliases.Expand(trade.Symbol) {
		aliased := trade
		aliased.Symbol = symbol
		c.callbacks.Trade(aliased)
	}
}

func (c *Client) emitOrderEvent(evt schema.OrderEvent) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	c.callbacks.OrderEvent(evt)
}

func (c *Client) warn(code schema.WarningCode, message string) {
	c.metrics.RecordWarning()
	observability.Log().Warn(message,
		observability.F("venue", Venue),
		observability.F("code", string(code)))
	observability.Telemetry().IncCounter("marketsync_warnings_total", 1,
		map[string]string{"venue": Venue, "code": string(code)})

	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	c.callbacks.Warning(code, message)
}

func (c *Client) reportError(err error) {
	if err == nil {
		return
	}
	select {
	case c.errorChan <- err:
	default:
		observability.Log().Error("error channel saturated, dropping",
			observability.F("venue", Venue),
			observability.F("error", err.Error()))
	}
}

func (c *Client) drainErrors() {
	for {
		select {
		case <-c.runCtx.Done():
			return
		case err := <-c.errorChan:
			observability.Log().Error("stream error",
				observability.F("venue", Venue),
				observability.F("error", err.Error()))
		}
	}
}

// watchHeartbeat raises a staleness warning when the liveness channel goes
// silent past the configured timeout while the session claims to be steady.
func (c *Client) watchHeartbeat() {
	interval := c.opts.HeartbeatTimeout / 4
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.runCtx.Done():
			return
		case <-ticker.C:
			if c.State() != StateSteady {
				continue
			}
			last := time.Unix(0, c.lastHeartbeat.Load())
			if silent := c.opts.Clock().Sub(last); silent > c.opts.HeartbeatTimeout {
				c.warn(schema.WarnHeartbeatStale,
					fmt.Sprintf("no heartbeat for %s", silent.Truncate(time.Second)))
				c.lastHeartbeat.Store(c.opts.Clock().UnixNano())
			}
		}
	}
}
