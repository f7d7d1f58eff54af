package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tillpoint/internal/backend"
	"tillpoint/internal/cart"
	"tillpoint/internal/menu"
	"tillpoint/internal/receiptqr"
	"tillpoint/internal/receipts"
	"tillpoint/internal/settlement"
)

const ukVAT = 2000

// fakeUpstream is a minimal in-memory restaurant backend.
type fakeUpstream struct {
	mu            sync.Mutex
	createCalls   int
	completeCalls map[string]string // order id -> payment method
	served        []map[string]interface{}
	failComplete  bool
}

func (f *fakeUpstream) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/health":
			json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
		case r.URL.Path == "/api/v1/restaurants/r1/menu-items":
			json.NewEncoder(w).Encode([]map[string]interface{}{
				{"id": "m1", "name": "Burger", "category": "main_course", "price": 12.99, "is_available": true},
				{"id": "m2", "name": "Cola", "category": "beverage", "price": 3.99, "is_available": true},
			})
		case r.URL.Path == "/api/v1/orders" && r.Method == http.MethodPost:
			f.createCalls++
			var req backend.CreateOrderRequest
			json.NewDecoder(r.Body).Decode(&req)
			var total float64
			for _, item := range req.Items {
				total += item.UnitPrice.Float() * float64(item.Quantity)
			}
			total *= 1.2
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"id": "ord-1", "restaurant_id": req.RestaurantID,
				"status": "open", "total_amount": total,
			})
		case strings.HasPrefix(r.URL.Path, "/api/v1/orders/") && strings.HasSuffix(r.URL.Path, "/status") && r.Method == http.MethodPatch:
			if f.failComplete {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			orderID := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/v1/orders/"), "/status")
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			if f.completeCalls == nil {
				f.completeCalls = map[string]string{}
			}
			f.completeCalls[orderID] = body["payment_method"]
		case r.URL.Path == "/api/v1/restaurants/r1/orders":
			json.NewEncoder(w).Encode(f.served)
		case r.URL.Path == "/api/v1/restaurants/r1/tables":
			json.NewEncoder(w).Encode([]map[string]interface{}{
				{"id": "t1", "table_number": 4, "capacity": 2, "status": "free"},
			})
		default:
			http.Error(w, "not found", http.StatusNotFound)
		}
	})
}

type till struct {
	router   http.Handler
	cart     *cart.Cart
	receipts *receipts.Poller
	upstream *fakeUpstream
}

func newTill(t *testing.T) *till {
	t.Helper()
	upstream := &fakeUpstream{}
	srv := httptest.NewServer(upstream.handler())
	t.Cleanup(srv.Close)

	client := backend.New(srv.URL)
	tillCart := cart.New(ukVAT)
	menuSvc := menu.NewService(client, nil, "r1")
	poller := receipts.NewPoller(client, "r1", time.Minute, nil)
	settlements := settlement.NewService(client, nil, ukVAT, func(_ string, fromCart bool) {
		if fromCart {
			tillCart.Reset()
		}
	})

	handler := &Handler{
		Cart:           tillCart,
		Menu:           menuSvc,
		Settlements:    settlements,
		Receipts:       poller,
		Upstream:       client,
		QR:             receiptqr.New("http://localhost:8090"),
		RestaurantID:   "r1",
		CurrencySymbol: "£",
	}
	return &till{
		router:   NewRouter(handler),
		cart:     tillCart,
		receipts: poller,
		upstream: upstream,
	}
}

func (tl *till) request(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Buffer
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewBuffer(raw)
	} else {
		reader = bytes.NewBuffer(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	recorder := httptest.NewRecorder()
	tl.router.ServeHTTP(recorder, req)
	return recorder
}

func TestHealth(t *testing.T) {
	tl := newTill(t)
	recorder := tl.request(t, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), `"healthy"`)
	assert.Contains(t, recorder.Body.String(), `"upstream":"up"`)
}

func TestMenuEndpoint(t *testing.T) {
	tl := newTill(t)
	recorder := tl.request(t, "GET", "/api/menu", nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	var resp struct {
		Items      []map[string]interface{} `json:"items"`
		Categories []string                 `json:"categories"`
		Source     string                   `json:"source"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp))
	assert.Equal(t, "live", resp.Source)
	assert.Len(t, resp.Items, 2)
	assert.Equal(t, []string{"All", "Drinks", "Mains"}, resp.Categories)
	assert.Equal(t, "Mains", resp.Items[0]["category"])
}

func TestCartFlow(t *testing.T) {
	tl := newTill(t)
	tl.request(t, "GET", "/api/menu", nil) // resolve menu first

	recorder := tl.request(t, "POST", "/api/cart/items", map[string]string{"menu_item_id": "m1"})
	require.Equal(t, http.StatusCreated, recorder.Code)

	tl.request(t, "POST", "/api/cart/items", map[string]string{"menu_item_id": "m2"})
	recorder = tl.request(t, "PATCH", "/api/cart/items/m2", map[string]int{"quantity": 2})
	require.Equal(t, http.StatusOK, recorder.Code)

	var view struct {
		Items    []json.RawMessage `json:"items"`
		Subtotal float64           `json:"subtotal"`
		Tax      float64           `json:"tax"`
		Total    float64           `json:"total"`
		Currency string            `json:"currency_symbol"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &view))
	assert.Len(t, view.Items, 2)
	assert.Equal(t, 20.97, view.Subtotal)
	assert.Equal(t, 4.19, view.Tax)
	assert.Equal(t, 25.16, view.Total)
	assert.Equal(t, "£", view.Currency)

	recorder = tl.request(t, "DELETE", "/api/cart/items/m1", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Len(t, tl.cart.Lines(), 1)

	recorder = tl.request(t, "DELETE", "/api/cart", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.True(t, tl.cart.IsEmpty())
}

func TestAddUnknownItem(t *testing.T) {
	tl := newTill(t)
	tl.request(t, "GET", "/api/menu", nil)
	recorder := tl.request(t, "POST", "/api/cart/items", map[string]string{"menu_item_id": "nope"})
	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

// card settlement end to end: create order from cart, complete, cart cleared.
func TestSettlementFromCart(t *testing.T) {
	tl := newTill(t)
	tl.request(t, "GET", "/api/menu", nil)
	tl.request(t, "POST", "/api/cart/items", map[string]string{"menu_item_id": "m1"})
	tl.request(t, "POST", "/api/cart/items", map[string]string{"menu_item_id": "m2"})
	tl.request(t, "PATCH", "/api/cart/items/m2", map[string]int{"quantity": 2})

	recorder := tl.request(t, "POST", "/api/settlements", map[string]string{})
	require.Equal(t, http.StatusCreated, recorder.Code)

	var view settlement.View
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &view))
	assert.Equal(t, settlement.StateOpen, view.State)
	assert.Equal(t, "ord-1", view.OrderID)

	recorder = tl.request(t, "POST", "/api/settlements/"+view.ID+"/method", map[string]string{"method": "card"})
	require.Equal(t, http.StatusOK, recorder.Code)
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &view))
	assert.True(t, view.CanComplete)

	recorder = tl.request(t, "POST", "/api/settlements/"+view.ID+"/complete", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &view))
	assert.Equal(t, settlement.StateCompleted, view.State)

	assert.Equal(t, "card", tl.upstream.completeCalls["ord-1"])
	assert.Equal(t, 1, tl.upstream.createCalls)
	assert.True(t, tl.cart.IsEmpty(), "completion hook clears the cart")
}

func TestSettlementCashValidation(t *testing.T) {
	tl := newTill(t)
	tl.request(t, "GET", "/api/menu", nil)
	tl.request(t, "POST", "/api/cart/items", map[string]string{"menu_item_id": "m1"})

	recorder := tl.request(t, "POST", "/api/settlements", map[string]string{})
	require.Equal(t, http.StatusCreated, recorder.Code)
	var view settlement.View
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &view))

	// 12.99 * 1.2 = 15.59 total; tender 10.00
	recorder = tl.request(t, "POST", "/api/settlements/"+view.ID+"/method",
		map[string]interface{}{"method": "cash", "tendered": 10.00})
	require.Equal(t, http.StatusOK, recorder.Code)
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &view))
	assert.False(t, view.CanComplete)

	recorder = tl.request(t, "POST", "/api/settlements/"+view.ID+"/complete", nil)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)

	// top up to 20.00: change 4.41
	recorder = tl.request(t, "POST", "/api/settlements/"+view.ID+"/method",
		map[string]interface{}{"method": "cash", "tendered": 20.00})
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &view))
	assert.True(t, view.CanComplete)
	require.NotNil(t, view.Change)
	assert.Equal(t, int64(441), int64(*view.Change))

	recorder = tl.request(t, "POST", "/api/settlements/"+view.ID+"/complete", nil)
	assert.Equal(t, http.StatusOK, recorder.Code)
}

func TestSettlementRetryAfterUpstreamFailure(t *testing.T) {
	tl := newTill(t)
	tl.request(t, "GET", "/api/menu", nil)
	tl.request(t, "POST", "/api/cart/items", map[string]string{"menu_item_id": "m1"})

	recorder := tl.request(t, "POST", "/api/settlements", map[string]string{})
	var view settlement.View
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &view))
	tl.request(t, "POST", "/api/settlements/"+view.ID+"/method", map[string]string{"method": "card"})

	tl.upstream.mu.Lock()
	tl.upstream.failComplete = true
	tl.upstream.mu.Unlock()

	recorder = tl.request(t, "POST", "/api/settlements/"+view.ID+"/complete", nil)
	require.Equal(t, http.StatusBadGateway, recorder.Code)
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &view))
	assert.Equal(t, settlement.StateError, view.State)
	assert.EqualValues(t, "card", view.Method, "method survives the failure")

	tl.upstream.mu.Lock()
	tl.upstream.failComplete = false
	tl.upstream.mu.Unlock()

	recorder = tl.request(t, "POST", "/api/settlements/"+view.ID+"/complete", nil)
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, 1, tl.upstream.createCalls, "retry must not create a second order")
}

func TestPendingReceiptsEndpoint(t *testing.T) {
	tl := newTill(t)
	tl.upstream.mu.Lock()
	tl.upstream.served = []map[string]interface{}{
		{"id": "ord-10", "status": "served", "total_amount": 25.16, "created_at": "2025-06-01T12:00:00Z"},
		{"id": "ord-11", "status": "served", "total_amount": 8.50, "created_at": "2025-06-01T12:30:00Z"},
	}
	tl.upstream.mu.Unlock()

	recorder := tl.request(t, "POST", "/api/receipts/refresh", nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	var resp struct {
		Count  int `json:"count"`
		Orders []struct {
			ID string `json:"id"`
		} `json:"orders"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)

	// settle one via the second entry path
	recorder = tl.request(t, "POST", "/api/settlements", map[string]string{"order_id": "ord-10"})
	require.Equal(t, http.StatusCreated, recorder.Code)
	var view settlement.View
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &view))
	assert.Equal(t, "ord-10", view.OrderID)
	assert.Equal(t, int64(2516), int64(view.Total))
}

// Paying off an old receipt must not disturb an order being rung up.
func TestPendingReceiptSettlementKeepsCart(t *testing.T) {
	tl := newTill(t)
	tl.upstream.mu.Lock()
	tl.upstream.served = []map[string]interface{}{
		{"id": "ord-10", "status": "served", "total_amount": 25.16, "created_at": "2025-06-01T12:00:00Z"},
	}
	tl.upstream.mu.Unlock()
	require.Equal(t, http.StatusOK, tl.request(t, "POST", "/api/receipts/refresh", nil).Code)

	tl.request(t, "GET", "/api/menu", nil)
	tl.request(t, "POST", "/api/cart/items", map[string]string{"menu_item_id": "m1"})
	require.Len(t, tl.cart.Lines(), 1)

	recorder := tl.request(t, "POST", "/api/settlements", map[string]string{"order_id": "ord-10"})
	require.Equal(t, http.StatusCreated, recorder.Code)
	var view settlement.View
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &view))

	tl.request(t, "POST", "/api/settlements/"+view.ID+"/method", map[string]string{"method": "card"})
	recorder = tl.request(t, "POST", "/api/settlements/"+view.ID+"/complete", nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	assert.Equal(t, "card", tl.upstream.completeCalls["ord-10"])
	assert.Len(t, tl.cart.Lines(), 1, "in-progress cart must survive a pending-receipt settlement")
	assert.Equal(t, "m1", tl.cart.Lines()[0].Item.ID)
}

func TestCartItemNote(t *testing.T) {
	tl := newTill(t)
	tl.request(t, "GET", "/api/menu", nil)
	tl.request(t, "POST", "/api/cart/items", map[string]string{"menu_item_id": "m1"})

	recorder := tl.request(t, "PATCH", "/api/cart/items/m1", map[string]string{"note": "no onions"})
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Len(t, tl.cart.Lines(), 1)
	assert.Equal(t, "no onions", tl.cart.Lines()[0].Note)

	// quantity-only update leaves the note alone
	tl.request(t, "PATCH", "/api/cart/items/m1", map[string]int{"quantity": 3})
	assert.Equal(t, "no onions", tl.cart.Lines()[0].Note)

	// an explicit empty note clears it
	tl.request(t, "PATCH", "/api/cart/items/m1", map[string]string{"note": ""})
	assert.Empty(t, tl.cart.Lines()[0].Note)
}

func TestTablesEndpoint(t *testing.T) {
	tl := newTill(t)
	recorder := tl.request(t, "GET", "/api/tables", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), `"table_number":4`)
}

func TestReceiptQREndpoint(t *testing.T) {
	tl := newTill(t)
	recorder := tl.request(t, "GET", "/api/orders/ord-1/receipt-qr", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "image/png", recorder.Header().Get("Content-Type"))
	assert.NotEmpty(t, recorder.Body.Bytes())
}

func TestReportsRequiresDates(t *testing.T) {
	tl := newTill(t)
	recorder := tl.request(t, "GET", "/api/reports", nil)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}
