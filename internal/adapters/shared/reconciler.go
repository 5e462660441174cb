package shared

import (
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/halcyonlabs/marketsync/internal/schema"
)

// RawOrderStatus mirrors the venue's order-update status values.
type RawOrderStatus string

const (
	// RawPending is the venue's pre-acknowledgement state.
	RawPending RawOrderStatus = "PENDING"
	// RawOpen is an acknowledged, resting order.
	RawOpen RawOrderStatus = "OPEN"
	// RawFilled is a completely executed order.
	RawFilled RawOrderStatus = "FILLED"
	// RawCancelled is a venue-side cancellation notice.
	RawCancelled RawOrderStatus = "CANCELLED"
	// RawFailed is a venue rejection.
	RawFailed RawOrderStatus = "FAILED"
)

// OrderUpdate is a raw user-channel order event prior to reconciliation.
type OrderUpdate struct {
	LocalID          string
	ExchangeOrderID  string
	Status           RawOrderStatus
	CumulativeFilled decimal.Decimal
	Remaining        decimal.Decimal
	AvgPrice         decimal.Decimal
	Fee              decimal.Decimal
	Time             time.Time
}

// PendingOrder tracks fill progress for one submitted order until it reaches a
// terminal state.
type PendingOrder struct {
	LocalID          string
	ExchangeOrderID  string
	Side             schema.Side
	OriginalQty      decimal.Decimal
	CumulativeFilled decimal.Decimal
	Status           schema.OrderStatus
}

// Reconciler maps asynchronous order-update events onto a monotonic order
// status state machine, emitting exactly one OrderEvent per real transition.
type Reconciler struct {
	mu         sync.Mutex
	pending    map[string]*PendingOrder
	byExchange map[string]string
	emit       func(schema.OrderEvent)
}

// NewReconciler constructs a reconciler delivering events through emit.
func NewReconciler(emit func(schema.OrderEvent)) *Reconciler {
	return &Reconciler{
		pending:    make(map[string]*PendingOrder),
		byExchange: make(map[string]string),
		emit:       emit,
	}
}

// Track registers a freshly submitted order for reconciliation.
func (r *Reconciler) Track(localID, exchangeOrderID string, side schema.Side, quantity decimal.Decimal) {
	localID = strings.TrimSpace(localID)
	if localID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[localID] = &PendingOrder{
		LocalID:         localID,
		ExchangeOrderID: strings.TrimSpace(exchangeOrderID),
		Side:            side,
		OriginalQty:     quantity,
		Status:          schema.OrderStatusSubmitted,
	}
	if id := strings.TrimSpace(exchangeOrderID); id != "" {
		r.byExchange[id] = localID
	}
}

// Lookup returns a copy of the tracked state for localID.
func (r *Reconciler) Lookup(localID string) (PendingOrder, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.pending[localID]
	if !ok {
		return PendingOrder{}, false
	}
	return *order, true
}

// ConfirmCancel emits the terminal Canceled event and removes the order. It is
// called synchronously by the cancel-request caller; venue-side CANCELLED
// events are ignored in Apply to avoid duplicate notifications.
func (r *Reconciler) ConfirmCancel(localID string, when time.Time) bool {
	r.mu.Lock()
	order, ok := r.pending[localID]
	if ok {
		r.removeLocked(order)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	r.dispatch(schema.OrderEvent{
		LocalID: localID,
		Status:  schema.OrderStatusCanceled,
		Time:    when,
	})
	return true
}

// Apply feeds one raw order-update event through the transition rules.
// Updates for orders this session does not track are dropped silently.
func (r *Reconciler) Apply(update OrderUpdate) {
	r.mu.Lock()
	order, ok := r.resolveLocked(update)
	if !ok {
		r.mu.Unlock()
		return
	}

	var evt schema.OrderEvent
	emit := false

	switch {
	case update.Status == RawPending || update.Status == RawCancelled:
		// Cancellation confirmation comes from the cancel caller, not here.
	case update.Status == RawFailed:
		evt = schema.OrderEvent{
			LocalID: order.LocalID,
			Status:  schema.OrderStatusRejected,
			Time:    update.Time,
		}
		r.removeLocked(order)
		emit = true
	case update.Status == RawOpen && update.CumulativeFilled.Sign() == 0:
		// Pure acknowledgement; already signaled at submission time.
	case update.Remaining.Sign() == 0 && update.Status == RawOpen:
		// Fill-status lag on the venue side; wait for the explicit FILLED.
	case update.Remaining.Sign() == 0 && update.Status == RawFilled:
		evt = schema.OrderEvent{
			LocalID:   order.LocalID,
			Status:    schema.OrderStatusFilled,
			FillDelta: r.fillDeltaLocked(order, update.CumulativeFilled),
			AvgPrice:  update.AvgPrice,
			Fee:       update.Fee,
			Time:      update.Time,
		}
		r.removeLocked(order)
		emit = true
	case update.CumulativeFilled.Sign() > 0:
		evt = schema.OrderEvent{
			LocalID:   order.LocalID,
			Status:    schema.OrderStatusPartiallyFilled,
			FillDelta: r.fillDeltaLocked(order, update.CumulativeFilled),
			AvgPrice:  update.AvgPrice,
			Fee:       update.Fee,
			Time:      update.Time,
		}
		order.Status = schema.OrderStatusPartiallyFilled
		emit = true
	}
	r.mu.Unlock()

	if emit {
		r.dispatch(evt)
	}
}

func (r *Reconciler) resolveLocked(update OrderUpdate) (*PendingOrder, bool) {
	if id := strings.TrimSpace(update.LocalID); id != "" {
		order, ok := r.pending[id]
		if ok && order.ExchangeOrderID == "" {
			if ex := strings.TrimSpace(update.ExchangeOrderID); ex != "" {
				order.ExchangeOrderID = ex
				r.byExchange[ex] = order.LocalID
			}
		}
		return order, ok
	}
	if ex := strings.TrimSpace(update.ExchangeOrderID); ex != "" {
		if localID, ok := r.byExchange[ex]; ok {
			order, ok := r.pending[localID]
			return order, ok
		}
	}
	return nil, false
}

// fillDeltaLocked returns the newly executed quantity since the last event,
// signed by direction.
func (r *Reconciler) fillDeltaLocked(order *PendingOrder, cumulative decimal.Decimal) decimal.Decimal {
	delta := cumulative.Sub(order.CumulativeFilled)
	if delta.Sign() < 0 {
		delta = decimal.Zero
	}
	order.CumulativeFilled = cumulative
	if order.Side == schema.SideSell {
		return delta.Neg()
	}
	return delta
}

func (r *Reconciler) removeLocked(order *PendingOrder) {
	delete(r.pending, order.LocalID)
	if order.ExchangeOrderID != "" {
		delete(r.byExchange, order.ExchangeOrderID)
	}
}

func (r *Reconciler) dispatch(evt schema.OrderEvent) {
	if r.emit != nil {
		r.emit(evt)
	}
}
