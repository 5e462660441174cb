package coinbase

import (
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/halcyonlabs/marketsync/errs"
	"github.com/halcyonlabs/marketsync/internal/adapters/shared"
)

func TestParseEnvelopeRejectsMissingChannel(t *testing.T) {
	if _, err := parseEnvelope([]byte(`{"sequence_num":1,"events":[]}`)); !errs.HasCode(err, errs.CodeParse) {
		t.Fatalf("expected parse error, got %v", err)
	}
	if _, err := parseEnvelope([]byte(`not json`)); !errs.HasCode(err, errs.CodeParse) {
		t.Fatalf("expected parse error for malformed frame, got %v", err)
	}
}

func TestParseBookEventSplitsSides(t *testing.T) {
	raw := json.RawMessage(`{
		"type":"update","product_id":"BTC-USD",
		"updates":[
			{"side":"bid","price_level":"100","new_quantity":"2"},
			{"side":"offer","price_level":"101","new_quantity":"0"}
		]}`)

	productID, eventType, bids, asks, err := parseBookEvent(raw)
	if err != nil {
		t.Fatalf("parseBookEvent() error = %v", err)
	}
	if productID != "BTC-USD" || eventType != "update" {
		t.Fatalf("product=%q type=%q", productID, eventType)
	}
	if len(bids) != 1 || !bids[0].Price.Equal(decimal.RequireFromString("100")) {
		t.Fatalf("bids = %+v", bids)
	}
	// Zero quantity survives parsing; it signals removal downstream.
	if len(asks) != 1 || !asks[0].Size.IsZero() {
		t.Fatalf("asks = %+v", asks)
	}
}

func TestParseBookEventRejectsUnknownSide(t *testing.T) {
	raw := json.RawMessage(`{"type":"update","product_id":"BTC-USD",
		"updates":[{"side":"middle","price_level":"1","new_quantity":"1"}]}`)
	if _, _, _, _, err := parseBookEvent(raw); !errs.HasCode(err, errs.CodeParse) {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestParseTradeEventGroupsByProduct(t *testing.T) {
	raw := json.RawMessage(`{"type":"update","trades":[
		{"trade_id":"7","product_id":"BTC-USD","price":"100","size":"0.5","side":"BUY","time":"2025-06-01T12:00:00Z"},
		{"trade_id":"3","product_id":"ETH-USD","price":"10","size":"1","side":"SELL","time":"2025-06-01T12:00:01Z"},
		{"trade_id":"8","product_id":"BTC-USD","price":"101","size":"0.25","side":"SELL","time":"2025-06-01T12:00:02Z"}
	]}`)

	grouped, err := parseTradeEvent(raw)
	if err != nil {
		t.Fatalf("parseTradeEvent() error = %v", err)
	}
	if len(grouped["BTC-USD"]) != 2 || len(grouped["ETH-USD"]) != 1 {
		t.Fatalf("grouping = %+v", grouped)
	}
	if grouped["BTC-USD"][0].ID != 7 || grouped["BTC-USD"][1].ID != 8 {
		t.Fatalf("trade ids = %+v", grouped["BTC-USD"])
	}
	if grouped["ETH-USD"][0].Side != "sell" {
		t.Fatalf("side = %q", grouped["ETH-USD"][0].Side)
	}
}

func TestParseTradeEventRejectsNonNumericID(t *testing.T) {
	raw := json.RawMessage(`{"type":"update","trades":[
		{"trade_id":"abc","product_id":"BTC-USD","price":"1","size":"1","side":"BUY","time":"2025-06-01T12:00:00Z"}]}`)
	if _, err := parseTradeEvent(raw); !errs.HasCode(err, errs.CodeParse) {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestParseUserEventMapsStatusAndQuantities(t *testing.T) {
	raw := json.RawMessage(`{"type":"snapshot","orders":[
		{"order_id":"ex-1","client_order_id":"loc-1","status":"OPEN",
		 "cumulative_quantity":"3","leaves_quantity":"7","avg_price":"100.5",
		 "total_fees":"0.1","event_time":"2025-06-01T12:00:00Z"},
		{"order_id":"ex-2","client_order_id":"loc-2","status":"CANCELLED",
		 "cumulative_quantity":"","leaves_quantity":"","avg_price":"","total_fees":""}
	]}`)

	eventType, updates, err := parseUserEvent(raw)
	if err != nil {
		t.Fatalf("parseUserEvent() error = %v", err)
	}
	if eventType != "snapshot" || len(updates) != 2 {
		t.Fatalf("type=%q updates=%d", eventType, len(updates))
	}
	first := updates[0]
	if first.Status != shared.RawOpen || !first.CumulativeFilled.Equal(decimal.RequireFromString("3")) {
		t.Fatalf("first update = %+v", first)
	}
	if !first.Time.Equal(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("event time = %v", first.Time)
	}
	// Empty quantity strings decode as zero rather than erroring.
	second := updates[1]
	if second.Status != shared.RawCancelled || !second.CumulativeFilled.IsZero() {
		t.Fatalf("second update = %+v", second)
	}
}

func TestParseUserEventRejectsUnknownStatus(t *testing.T) {
	raw := json.RawMessage(`{"type":"update","orders":[
		{"order_id":"ex-1","client_order_id":"loc-1","status":"TELEPORTED"}]}`)
	if _, _, err := parseUserEvent(raw); !errs.HasCode(err, errs.CodeParse) {
		t.Fatalf("expected parse error, got %v", err)
	}
}
