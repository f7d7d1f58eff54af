// Package settlement drives an order from cart to paid:
//
//	new -> (create order) -> open -> (complete) -> settling -> completed
//
// with error reachable from open and settling. A failed step preserves the
// chosen method and tendered cash and stays retryable; the created backend
// order id is remembered so a retry never creates a duplicate order.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"tillpoint/internal/backend"
	"tillpoint/internal/domain"
	"tillpoint/internal/events"
	"tillpoint/internal/money"
	"tillpoint/internal/pricing"
)

type State string

const (
	StateNew       State = "new"
	StateOpen      State = "open"
	StateSettling  State = "settling"
	StateCompleted State = "completed"
	StateError     State = "error"
)

var (
	ErrEmptyCart          = errors.New("settlement: no line items")
	ErrNoMethod           = errors.New("settlement: no payment method selected")
	ErrInsufficientTender = errors.New("settlement: tendered cash below total")
	ErrInFlight           = errors.New("settlement: completion already in progress")
	ErrAlreadyCompleted   = errors.New("settlement: order already completed")
	ErrNotFound           = errors.New("settlement: unknown settlement id")
	ErrTenderNotCash      = errors.New("settlement: tendered amount only applies to cash")
)

// OrderAPI is the slice of the backend client the flow needs.
type OrderAPI interface {
	CreateOrder(ctx context.Context, req backend.CreateOrderRequest, idempotencyKey string) (domain.Order, error)
	CompleteOrder(ctx context.Context, orderID string, method domain.PaymentMethod) error
}

// Publisher emits order-completed events. Nil disables publishing.
type Publisher interface {
	PublishOrderCompleted(ctx context.Context, msg events.OrderCompleted) error
}

// Settlement is one order-to-be-settled. All state transitions go through
// the service; reads are safe at any time.
type Settlement struct {
	mu sync.Mutex

	ID           string
	state        State
	restaurantID string
	tableID      string

	// fromCart marks settlements that started from the till's cart. Adopted
	// orders (pending receipts) never touch the cart, so completion hooks
	// must not clear it for them.
	fromCart bool

	// creation inputs, kept until the backend order exists
	items   []backend.OrderItemInput
	idemKey string

	orderID  string
	total    money.Cents
	method   domain.PaymentMethod
	tendered money.Cents
	hasCash  bool
	reason   string
}

// View is a read-only copy of settlement state for the http surface.
type View struct {
	ID          string               `json:"id"`
	State       State                `json:"state"`
	OrderID     string               `json:"order_id,omitempty"`
	Total       money.Cents          `json:"total"`
	Method      domain.PaymentMethod `json:"payment_method,omitempty"`
	Tendered    *money.Cents         `json:"tendered,omitempty"`
	Change      *money.Cents         `json:"change,omitempty"`
	CanComplete bool                 `json:"can_complete"`
	Reason      string               `json:"reason,omitempty"`
}

func (s *Settlement) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := View{
		ID:          s.ID,
		State:       s.state,
		OrderID:     s.orderID,
		Total:       s.total,
		Method:      s.method,
		CanComplete: s.canCompleteLocked(),
		Reason:      s.reason,
	}
	if s.method == domain.PaymentCash && s.hasCash {
		tendered := s.tendered
		v.Tendered = &tendered
		change := s.tendered - s.total
		v.Change = &change
	}
	return v
}

func (s *Settlement) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Settlement) OrderID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orderID
}

func (s *Settlement) Total() money.Cents {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// SelectMethod picks cash or card. Switching away from cash keeps the
// tendered amount (failure recovery must not wipe operator input); it is
// simply ignored for card.
func (s *Settlement) SelectMethod(method domain.PaymentMethod) error {
	if !method.Valid() {
		return fmt.Errorf("settlement: unknown payment method %q", method)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateSettling:
		return ErrInFlight
	case StateCompleted:
		return ErrAlreadyCompleted
	}
	s.method = method
	return nil
}

// SetTendered records the cash handed over.
func (s *Settlement) SetTendered(amount money.Cents) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateSettling:
		return ErrInFlight
	case StateCompleted:
		return ErrAlreadyCompleted
	}
	if s.method != domain.PaymentCash {
		return ErrTenderNotCash
	}
	s.tendered = amount
	s.hasCash = true
	return nil
}

// Change is tendered minus total. Only meaningful when completion is
// allowed, in which case it is never negative.
func (s *Settlement) Change() money.Cents {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tendered - s.total
}

// CanComplete reports whether the completion action should be enabled:
// a method is chosen and, for cash, the tender covers the total.
func (s *Settlement) CanComplete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canCompleteLocked()
}

func (s *Settlement) canCompleteLocked() bool {
	if s.state == StateSettling || s.state == StateCompleted {
		return false
	}
	switch s.method {
	case domain.PaymentCard:
		return true
	case domain.PaymentCash:
		return s.hasCash && s.tendered >= s.total
	default:
		return false
	}
}

// Service owns the live settlements and performs their backend transitions.
type Service struct {
	api        OrderAPI
	publisher  Publisher
	taxRate    int // basis points
	onComplete func(orderID string, fromCart bool)
	log        *logrus.Entry

	mu   sync.Mutex
	byID map[string]*Settlement
}

func NewService(api OrderAPI, publisher Publisher, taxRateBasisPoints int, onComplete func(orderID string, fromCart bool)) *Service {
	return &Service{
		api:        api,
		publisher:  publisher,
		taxRate:    taxRateBasisPoints,
		onComplete: onComplete,
		log:        logrus.WithField("component", "settlement"),
		byID:       map[string]*Settlement{},
	}
}

// Begin opens a settlement from cart lines: prices are captured here and the
// backend order is created, decoupling the order from later menu changes.
// A creation failure still returns the settlement, in the error state, so
// the caller can retry through Complete without losing anything.
func (s *Service) Begin(ctx context.Context, lines []domain.LineItem, restaurantID, tableID string) (*Settlement, error) {
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}

	items := make([]backend.OrderItemInput, len(lines))
	priced := make([]pricing.Line, len(lines))
	for i, li := range lines {
		items[i] = backend.OrderItemInput{
			MenuItemID: li.Item.ID,
			Quantity:   li.Quantity,
			UnitPrice:  li.Item.Price,
		}
		priced[i] = pricing.Line{UnitPrice: li.Item.Price, Quantity: li.Quantity}
	}
	total, err := pricing.Total(priced, s.taxRate)
	if err != nil {
		return nil, err
	}

	st := &Settlement{
		ID:           uuid.NewString(),
		state:        StateNew,
		restaurantID: restaurantID,
		tableID:      tableID,
		fromCart:     true,
		items:        items,
		idemKey:      uuid.NewString(),
		total:        total,
	}
	s.register(st)

	if err := s.createOrder(ctx, st); err != nil {
		return st, err
	}
	return st, nil
}

// BeginForOrder adopts an already-served backend order (the pending-receipts
// path). No creation happens; settlement starts open.
func (s *Service) BeginForOrder(order domain.Order) *Settlement {
	st := &Settlement{
		ID:           uuid.NewString(),
		state:        StateOpen,
		restaurantID: order.RestaurantID,
		tableID:      order.TableID,
		orderID:      order.ID,
		total:        order.TotalAmount,
	}
	s.register(st)
	return st
}

func (s *Service) register(st *Settlement) {
	s.mu.Lock()
	s.byID[st.ID] = st
	s.mu.Unlock()
}

// Get finds a live settlement by id.
func (s *Service) Get(id string) (*Settlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return st, nil
}

// Abandon drops a settlement that has not started completing. Closing the
// payment dialog mid-settling is not allowed: the in-flight request must
// resolve first so no order is orphaned.
func (s *Service) Abandon(id string) error {
	st, err := s.Get(id)
	if err != nil {
		return err
	}
	st.mu.Lock()
	if st.state == StateSettling {
		st.mu.Unlock()
		return ErrInFlight
	}
	st.mu.Unlock()

	s.mu.Lock()
	delete(s.byID, id)
	s.mu.Unlock()
	return nil
}

// createOrder runs (or retries) backend order creation. The same idempotency
// key is reused across retries of the same settlement.
func (s *Service) createOrder(ctx context.Context, st *Settlement) error {
	st.mu.Lock()
	if st.orderID != "" {
		st.mu.Unlock()
		return nil
	}
	req := backend.CreateOrderRequest{
		RestaurantID: st.restaurantID,
		Items:        st.items,
	}
	if st.tableID != "" {
		tableID := st.tableID
		req.TableID = &tableID
	}
	idemKey := st.idemKey
	st.mu.Unlock()

	order, err := s.api.CreateOrder(ctx, req, idemKey)
	if err != nil {
		st.fail(fmt.Sprintf("could not create order: %v", err))
		return err
	}

	st.mu.Lock()
	st.orderID = order.ID
	st.state = StateOpen
	st.reason = ""
	if order.TotalAmount != 0 && order.TotalAmount != st.total {
		// backend total is authoritative for the charge
		s.log.WithFields(logrus.Fields{
			"order_id": order.ID,
			"local":    st.total.String(),
			"backend":  order.TotalAmount.String(),
		}).Warn("order total mismatch, using backend total")
		st.total = order.TotalAmount
	}
	st.mu.Unlock()
	return nil
}

// Complete captures funds: validates the method and tender, makes sure the
// backend order exists (retrying creation if the first attempt failed), and
// marks it completed. Failure preserves method and tender and can be retried.
func (s *Service) Complete(ctx context.Context, st *Settlement) error {
	st.mu.Lock()
	switch st.state {
	case StateSettling:
		st.mu.Unlock()
		return ErrInFlight
	case StateCompleted:
		st.mu.Unlock()
		return ErrAlreadyCompleted
	}
	if st.method == "" {
		st.mu.Unlock()
		return ErrNoMethod
	}
	if st.method == domain.PaymentCash && (!st.hasCash || st.tendered < st.total) {
		st.mu.Unlock()
		return ErrInsufficientTender
	}
	st.state = StateSettling
	st.reason = ""
	method := st.method
	st.mu.Unlock()

	if err := s.createOrder(ctx, st); err != nil {
		return err
	}

	st.mu.Lock()
	orderID := st.orderID
	total := st.total
	restaurantID := st.restaurantID
	tableID := st.tableID
	fromCart := st.fromCart
	st.mu.Unlock()

	if err := s.api.CompleteOrder(ctx, orderID, method); err != nil {
		st.fail(fmt.Sprintf("payment not recorded: %v", err))
		return err
	}

	st.mu.Lock()
	st.state = StateCompleted
	st.mu.Unlock()
	s.log.WithFields(logrus.Fields{
		"order_id": orderID,
		"method":   method,
		"total":    total.String(),
	}).Info("order settled")

	if s.publisher != nil {
		if err := s.publisher.PublishOrderCompleted(ctx, events.OrderCompleted{
			OrderID:       orderID,
			RestaurantID:  restaurantID,
			TableID:       tableID,
			PaymentMethod: method,
			TotalAmount:   total,
		}); err != nil {
			s.log.WithError(err).Warn("order-completed event not published")
		}
	}
	if s.onComplete != nil {
		s.onComplete(orderID, fromCart)
	}

	s.mu.Lock()
	delete(s.byID, st.ID)
	s.mu.Unlock()
	return nil
}

// fail moves the settlement to the error state with a human-readable reason.
// Method and tendered cash are left untouched for retry.
func (st *Settlement) fail(reason string) {
	st.mu.Lock()
	st.state = StateError
	st.reason = reason
	st.mu.Unlock()
}
