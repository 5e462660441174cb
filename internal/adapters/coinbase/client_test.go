package coinbase

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/halcyonlabs/marketsync/internal/schema"
)

type capturedEvents struct {
	mu       sync.Mutex
	quotes   []schema.Quote
	trades   []schema.Trade
	orders   []schema.OrderEvent
	warnings []schema.WarningCode
}

func (c *capturedEvents) callbacks() schema.Callbacks {
	return schema.Callbacks{
		OnQuote: func(q schema.Quote) {
			c.mu.Lock()
			c.quotes = append(c.quotes, q)
			c.mu.Unlock()
		},
		OnTrade: func(t schema.Trade) {
			c.mu.Lock()
			c.trades = append(c.trades, t)
			c.mu.Unlock()
		},
		OnOrderEvent: func(e schema.OrderEvent) {
			c.mu.Lock()
			c.orders = append(c.orders, e)
			c.mu.Unlock()
		},
		OnWarning: func(code schema.WarningCode, _ string) {
			c.mu.Lock()
			c.warnings = append(c.warnings, code)
			c.mu.Unlock()
		},
	}
}

func (c *capturedEvents) warningList() []schema.WarningCode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]schema.WarningCode(nil), c.warnings...)
}

func newTestClient(t *testing.T, sink *capturedEvents, opts ...Option) *Client {
	t.Helper()
	base := []Option{
		WithCredentials("key-id", testSecret()),
		WithClock(func() time.Time { return signerNow }),
	}
	client, err := NewClient(sink.callbacks(), append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return client
}

func bookSnapshotFrame(seq uint64, product string) []byte {
	return []byte(fmt.Sprintf(`{"channel":"l2_data","sequence_num":%d,"events":[
		{"type":"snapshot","product_id":"%s","updates":[
			{"side":"bid","price_level":"100","new_quantity":"2"},
			{"side":"offer","price_level":"101","new_quantity":"3"}
		]}]}`, seq, product))
}

func bookUpdateFrame(seq uint64, product, side, price, qty string) []byte {
	return []byte(fmt.Sprintf(`{"channel":"l2_data","sequence_num":%d,"events":[
		{"type":"update","product_id":"%s","updates":[
			{"side":"%s","price_level":"%s","new_quantity":"%s"}
		]}]}`, seq, product, side, price, qty))
}

func tradeFrame(seq uint64, product string, tradeID int, ts string) []byte {
	return []byte(fmt.Sprintf(`{"channel":"market_trades","sequence_num":%d,"events":[
		{"type":"update","trades":[
			{"trade_id":"%d","product_id":"%s","price":"100","size":"0.5","side":"BUY","time":"%s"}
		]}]}`, seq, tradeID, product, ts))
}

func TestClientRoutesBookFramesToQuotes(t *testing.T) {
	sink := &capturedEvents{}
	client := newTestClient(t, sink)

	client.handleFrame(bookSnapshotFrame(1, "BTC-USD"))
	client.handleFrame(bookUpdateFrame(2, "BTC-USD", "bid", "100.5", "1"))

	if len(sink.quotes) != 2 {
		t.Fatalf("quotes = %d, want 2", len(sink.quotes))
	}
	last := sink.quotes[1]
	if !last.Bid.Equal(decimal.RequireFromString("100.5")) || !last.Ask.Equal(decimal.RequireFromString("101")) {
		t.Fatalf("top of book = %+v", last)
	}
	if got := client.BestBidAsk("BTC-USD"); !got.Bid.Equal(last.Bid) {
		t.Fatalf("BestBidAsk = %+v", got)
	}
}

func TestClientDepthOnlyUpdateEmitsNoQuote(t *testing.T) {
	sink := &capturedEvents{}
	client := newTestClient(t, sink)

	client.handleFrame(bookSnapshotFrame(1, "BTC-USD"))
	client.handleFrame(bookUpdateFrame(2, "BTC-USD", "bid", "99", "5"))

	if len(sink.quotes) != 1 {
		t.Fatalf("quotes = %d, want 1 (depth below top must not emit)", len(sink.quotes))
	}
}

func TestClientWarnsOnDeltaBeforeSnapshot(t *testing.T) {
	sink := &capturedEvents{}
	client := newTestClient(t, sink)

	client.handleFrame(bookUpdateFrame(1, "BTC-USD", "bid", "100", "1"))

	if len(sink.quotes) != 0 {
		t.Fatalf("no quote expected, got %+v", sink.quotes)
	}
	if len(sink.warnings) != 1 || sink.warnings[0] != schema.WarnBookNotReady {
		t.Fatalf("warnings = %v, want [book_not_ready]", sink.warnings)
	}
}

func TestClientSequenceGapWarnsButProcesses(t *testing.T) {
	sink := &capturedEvents{}
	client := newTestClient(t, sink)

	client.handleFrame(bookSnapshotFrame(1, "BTC-USD"))
	// Seq 2 lost; 3 must still be applied after the warning.
	client.handleFrame(bookUpdateFrame(3, "BTC-USD", "offer", "101", "9"))

	if len(sink.warnings) != 1 || sink.warnings[0] != schema.WarnSequenceGap {
		t.Fatalf("warnings = %v, want [sequence_gap]", sink.warnings)
	}
	if got := client.BestBidAsk("BTC-USD"); !got.AskSize.Equal(decimal.RequireFromString("9")) {
		t.Fatalf("gap frame not applied: %+v", got)
	}
	snapshot := client.Metrics()
	if snapshot.SequenceGaps["l2_data"] != 1 {
		t.Fatalf("gap counter = %d", snapshot.SequenceGaps["l2_data"])
	}
}

func TestClientDropsStaleFrames(t *testing.T) {
	sink := &capturedEvents{}
	client := newTestClient(t, sink)

	client.handleFrame(bookSnapshotFrame(5, "BTC-USD"))
	client.handleFrame(bookUpdateFrame(4, "BTC-USD", "bid", "1", "1"))

	if got := client.BestBidAsk("BTC-USD"); !got.Bid.Equal(decimal.RequireFromString("100")) {
		t.Fatalf("stale frame mutated the book: %+v", got)
	}
	if client.Metrics().StaleDrops["l2_data"] != 1 {
		t.Fatalf("stale drop counter = %d", client.Metrics().StaleDrops["l2_data"])
	}
}

func TestClientDeduplicatesReplayedTrades(t *testing.T) {
	sink := &capturedEvents{}
	client := newTestClient(t, sink)
	ts := signerNow.Add(-time.Second).Format(time.RFC3339)

	client.handleFrame(tradeFrame(1, "BTC-USD", 42, ts))
	client.handleFrame(tradeFrame(2, "BTC-USD", 42, ts))
	client.handleFrame(tradeFrame(3, "BTC-USD", 43, ts))

	if len(sink.trades) != 2 {
		t.Fatalf("trades = %d, want 2 (replay suppressed)", len(sink.trades))
	}
}

func TestClientExpandsQuoteAliases(t *testing.T) {
	sink := &capturedEvents{}
	client := newTestClient(t, sink, WithQuoteAliases(map[string]string{"USD": "USDC"}))

	client.handleFrame(bookSnapshotFrame(1, "BTC-USD"))

	if len(sink.quotes) != 2 {
		t.Fatalf("quotes = %d, want original plus alias", len(sink.quotes))
	}
	if sink.quotes[0].Symbol != "BTC-USD" || sink.quotes[1].Symbol != "BTC-USDC" {
		t.Fatalf("symbols = %q, %q", sink.quotes[0].Symbol, sink.quotes[1].Symbol)
	}
	if !sink.quotes[1].Bid.Equal(sink.quotes[0].Bid) {
		t.Fatalf("alias quote diverged: %+v vs %+v", sink.quotes[1], sink.quotes[0])
	}
}

func TestClientParseFailureWarnsAndContinues(t *testing.T) {
	sink := &capturedEvents{}
	client := newTestClient(t, sink)

	client.handleFrame([]byte(`{"sequence_num":1}`))
	client.handleFrame(bookSnapshotFrame(1, "BTC-USD"))

	if len(sink.warnings) != 1 || sink.warnings[0] != schema.WarnParseFailure {
		t.Fatalf("warnings = %v", sink.warnings)
	}
	if len(sink.quotes) != 1 {
		t.Fatalf("later frames must still process, quotes = %d", len(sink.quotes))
	}
}

func TestClientUserFrameSignalsAck(t *testing.T) {
	sink := &capturedEvents{}
	client := newTestClient(t, sink)
	ack := make(chan struct{})
	client.userAck = ack

	client.handleFrame([]byte(`{"channel":"user","sequence_num":1,"events":[{"type":"snapshot","orders":[]}]}`))

	select {
	case <-ack:
	default:
		t.Fatalf("user frame did not signal the acknowledgement channel")
	}
}

func TestClientOrderLifecycleEndToEnd(t *testing.T) {
	sink := &capturedEvents{}
	server := newOrderServer(t)
	client := newTestClient(t, sink, WithEndpoints(server.URL, ""))

	exchangeID, err := client.SubmitOrder(context.Background(), schema.OrderRequest{
		ClientOrderID: "loc-1",
		Symbol:        "BTC-USD",
		Side:          schema.SideBuy,
		Config:        schema.MarketOrder{BaseSize: decimal.RequireFromString("10")},
	})
	if err != nil {
		t.Fatalf("SubmitOrder() error = %v", err)
	}
	if exchangeID != "ex-1" {
		t.Fatalf("exchange id = %q", exchangeID)
	}
	if len(sink.orders) != 1 || sink.orders[0].Status != schema.OrderStatusSubmitted {
		t.Fatalf("expected submitted event, got %+v", sink.orders)
	}

	client.handleFrame([]byte(`{"channel":"user","sequence_num":1,"events":[
		{"type":"update","orders":[
			{"order_id":"ex-1","client_order_id":"loc-1","status":"OPEN",
			 "cumulative_quantity":"4","leaves_quantity":"6","avg_price":"100",
			 "event_time":"2025-06-01T12:00:01Z"}]}]}`))
	client.handleFrame([]byte(`{"channel":"user","sequence_num":2,"events":[
		{"type":"update","orders":[
			{"order_id":"ex-1","client_order_id":"loc-1","status":"FILLED",
			 "cumulative_quantity":"10","leaves_quantity":"0","avg_price":"100.2",
			 "event_time":"2025-06-01T12:00:02Z"}]}]}`))

	if len(sink.orders) != 3 {
		t.Fatalf("order events = %d, want submitted, partial, filled", len(sink.orders))
	}
	partial, filled := sink.orders[1], sink.orders[2]
	if partial.Status != schema.OrderStatusPartiallyFilled || !partial.FillDelta.Equal(decimal.RequireFromString("4")) {
		t.Fatalf("partial = %+v", partial)
	}
	if filled.Status != schema.OrderStatusFilled || !filled.FillDelta.Equal(decimal.RequireFromString("6")) {
		t.Fatalf("filled = %+v", filled)
	}
}

func TestClientCancelOrderConfirmsSynchronously(t *testing.T) {
	sink := &capturedEvents{}
	server := newOrderServer(t)
	client := newTestClient(t, sink, WithEndpoints(server.URL, ""))

	if _, err := client.SubmitOrder(context.Background(), schema.OrderRequest{
		ClientOrderID: "loc-1",
		Symbol:        "BTC-USD",
		Side:          schema.SideSell,
		Config:        schema.LimitGTCOrder{BaseSize: decimal.RequireFromString("1"), LimitPrice: decimal.RequireFromString("200")},
	}); err != nil {
		t.Fatalf("SubmitOrder() error = %v", err)
	}
	if err := client.CancelOrder(context.Background(), "loc-1"); err != nil {
		t.Fatalf("CancelOrder() error = %v", err)
	}

	last := sink.orders[len(sink.orders)-1]
	if last.Status != schema.OrderStatusCanceled {
		t.Fatalf("expected canceled event, got %+v", last)
	}
	// Feed-side CANCELLED notice must not duplicate the event.
	client.handleFrame([]byte(`{"channel":"user","sequence_num":1,"events":[
		{"type":"update","orders":[
			{"order_id":"ex-1","client_order_id":"loc-1","status":"CANCELLED"}]}]}`))
	if got := len(sink.orders); got != 2 {
		t.Fatalf("order events = %d, want 2", got)
	}

	if err := client.CancelOrder(context.Background(), "missing"); err == nil {
		t.Fatalf("cancel of untracked order must fail")
	}
}

func TestClientResyncBookInstallsRESTSnapshot(t *testing.T) {
	sink := &capturedEvents{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("product_id"); got != "BTC-USD" {
			t.Errorf("product_id = %q", got)
		}
		_, _ = w.Write([]byte(`{"pricebook":{"product_id":"BTC-USD",
			"bids":[{"price":"100","size":"2"}],"asks":[{"price":"101","size":"3"}]}}`))
	}))
	t.Cleanup(server.Close)
	client := newTestClient(t, sink, WithEndpoints(server.URL, ""))

	if err := client.ResyncBook(context.Background(), "BTC-USD"); err != nil {
		t.Fatalf("ResyncBook() error = %v", err)
	}
	if got := client.BestBidAsk("BTC-USD"); !got.Ask.Equal(decimal.RequireFromString("101")) {
		t.Fatalf("book not installed: %+v", got)
	}
	if len(sink.quotes) != 1 {
		t.Fatalf("resync must emit the new top, quotes = %d", len(sink.quotes))
	}
	// The feed can still deliver deltas against the recovered book.
	client.handleFrame(bookUpdateFrame(1, "BTC-USD", "bid", "100", "0"))
	if got := client.BestBidAsk("BTC-USD"); !got.Bid.IsZero() || !got.BidSize.IsZero() {
		t.Fatalf("expected empty bid side, got %+v", got)
	}
}

// newStreamServer accepts websocket sessions, decodes every control frame the
// client writes, and hands the server end of each session to the test so it
// can push feed frames back.
func newStreamServer(t *testing.T) (wsURL string, frames chan subscribeFrame, conns chan *websocket.Conn) {
	t.Helper()
	frames = make(chan subscribeFrame, 32)
	conns = make(chan *websocket.Conn, 4)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		conns <- conn
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				return
			}
			var frame subscribeFrame
			if err := json.Unmarshal(data, &frame); err == nil {
				frames <- frame
			}
		}
	}))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http"), frames, conns
}

func startTestClient(t *testing.T, client *Client) {
	t.Helper()
	if err := client.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(client.Close)
}

func awaitFrame(t *testing.T, frames chan subscribeFrame) subscribeFrame {
	t.Helper()
	select {
	case frame := <-frames:
		return frame
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for a control frame")
		return subscribeFrame{}
	}
}

func awaitConn(t *testing.T, conns chan *websocket.Conn) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-conns:
		return conn
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for the websocket session")
		return nil
	}
}

func waitForState(t *testing.T, client *Client, want State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if client.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", client.State(), want)
}

func ackUserChannel(t *testing.T, conn *websocket.Conn, seq uint64) {
	t.Helper()
	payload := fmt.Sprintf(`{"channel":"user","sequence_num":%d,"events":[]}`, seq)
	if err := conn.Write(context.Background(), websocket.MessageText, []byte(payload)); err != nil {
		t.Fatalf("write user frame: %v", err)
	}
}

func expectControlFrame(t *testing.T, frames chan subscribeFrame, msgType, channel string, products ...string) subscribeFrame {
	t.Helper()
	frame := awaitFrame(t, frames)
	if frame.Type != msgType || frame.Channel != channel {
		t.Fatalf("frame = %s %s, want %s %s", frame.Type, frame.Channel, msgType, channel)
	}
	if len(frame.ProductIDs) != len(products) {
		t.Fatalf("%s product_ids = %v, want %v", channel, frame.ProductIDs, products)
	}
	for i, product := range products {
		if frame.ProductIDs[i] != product {
			t.Fatalf("%s product_ids = %v, want %v", channel, frame.ProductIDs, products)
		}
	}
	return frame
}

func TestClientBringUpOrdersPrivateBeforePublic(t *testing.T) {
	sink := &capturedEvents{}
	wsURL, frames, conns := newStreamServer(t)
	client := newTestClient(t, sink, WithEndpoints("", wsURL))
	client.Subscribe("BTC-USD")
	startTestClient(t, client)
	conn := awaitConn(t, conns)

	expectControlFrame(t, frames, "subscribe", channelHeartbeats)
	frame := expectControlFrame(t, frames, "subscribe", channelUser)
	if frame.Signature == "" || frame.Timestamp == "" || frame.Nonce == "" {
		t.Fatalf("control frame missing credential material: %+v", frame)
	}

	ackUserChannel(t, conn, 1)

	expectControlFrame(t, frames, "subscribe", channelLevel2, "BTC-USD")
	expectControlFrame(t, frames, "subscribe", channelMarketTrades, "BTC-USD")
	waitForState(t, client, StateSteady)
	if warnings := sink.warningList(); len(warnings) != 0 {
		t.Fatalf("warnings = %v, want none", warnings)
	}
}

func TestClientUserAckTimeoutWarnsAndContinues(t *testing.T) {
	sink := &capturedEvents{}
	wsURL, frames, _ := newStreamServer(t)
	client := newTestClient(t, sink,
		WithEndpoints("", wsURL),
		WithUserAckTimeout(50*time.Millisecond))
	client.Subscribe("BTC-USD")
	startTestClient(t, client)

	expectControlFrame(t, frames, "subscribe", channelHeartbeats)
	expectControlFrame(t, frames, "subscribe", channelUser)
	// No user frame from the venue: public channels must still come up.
	expectControlFrame(t, frames, "subscribe", channelLevel2, "BTC-USD")
	expectControlFrame(t, frames, "subscribe", channelMarketTrades, "BTC-USD")
	waitForState(t, client, StateSteady)

	warnings := sink.warningList()
	if len(warnings) != 1 || warnings[0] != schema.WarnSubscriptionTimeout {
		t.Fatalf("warnings = %v, want [subscription_timeout]", warnings)
	}
}

func TestClientUnsubscribeSendsUnsubscribeFrames(t *testing.T) {
	sink := &capturedEvents{}
	wsURL, frames, conns := newStreamServer(t)
	client := newTestClient(t, sink, WithEndpoints("", wsURL))
	client.Subscribe("BTC-USD")
	startTestClient(t, client)
	conn := awaitConn(t, conns)

	expectControlFrame(t, frames, "subscribe", channelHeartbeats)
	expectControlFrame(t, frames, "subscribe", channelUser)
	ackUserChannel(t, conn, 1)
	expectControlFrame(t, frames, "subscribe", channelLevel2, "BTC-USD")
	expectControlFrame(t, frames, "subscribe", channelMarketTrades, "BTC-USD")
	waitForState(t, client, StateSteady)

	client.Unsubscribe("BTC-USD")
	expectControlFrame(t, frames, "unsubscribe", channelLevel2, "BTC-USD")
	expectControlFrame(t, frames, "unsubscribe", channelMarketTrades, "BTC-USD")
	waitForState(t, client, StateSteady)

	// An established session keeps its private side: a later Subscribe goes
	// straight to the public delta.
	client.Subscribe("ETH-USD")
	expectControlFrame(t, frames, "subscribe", channelLevel2, "ETH-USD")
	expectControlFrame(t, frames, "subscribe", channelMarketTrades, "ETH-USD")
	waitForState(t, client, StateSteady)
}

func TestClientResubscribeSingleFlight(t *testing.T) {
	sink := &capturedEvents{}
	wsURL, frames, conns := newStreamServer(t)
	client := newTestClient(t, sink,
		WithEndpoints("", wsURL),
		WithUserAckTimeout(time.Minute))
	client.Subscribe("BTC-USD")
	startTestClient(t, client)
	conn := awaitConn(t, conns)

	// First pass parks waiting for the user acknowledgement.
	expectControlFrame(t, frames, "subscribe", channelHeartbeats)
	expectControlFrame(t, frames, "subscribe", channelUser)

	// A second kick replaces it; the cancelled pass must never reach its
	// public stage, so the first market-data frame carries both products.
	client.Subscribe("ETH-USD")
	expectControlFrame(t, frames, "subscribe", channelHeartbeats)
	expectControlFrame(t, frames, "subscribe", channelUser)

	ackUserChannel(t, conn, 1)
	expectControlFrame(t, frames, "subscribe", channelLevel2, "BTC-USD", "ETH-USD")
	expectControlFrame(t, frames, "subscribe", channelMarketTrades, "BTC-USD", "ETH-USD")
	waitForState(t, client, StateSteady)
}

// newOrderServer accepts any create and cancel request with fixed ids.
func newOrderServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/orders":
			_, _ = w.Write([]byte(`{"success":true,"success_response":{"order_id":"ex-1"}}`))
		case "/orders/batch_cancel":
			_, _ = w.Write([]byte(`{"results":[{"success":true,"order_id":"ex-1"}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)
	return server
}
