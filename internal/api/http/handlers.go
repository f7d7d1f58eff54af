package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"tillpoint/internal/backend"
	"tillpoint/internal/cart"
	"tillpoint/internal/domain"
	"tillpoint/internal/menu"
	"tillpoint/internal/money"
	"tillpoint/internal/receiptqr"
	"tillpoint/internal/receipts"
	"tillpoint/internal/settlement"
)

// Handler exposes the till's state to the thin display layer.
type Handler struct {
	Cart        *cart.Cart
	Menu        *menu.Service
	Settlements *settlement.Service
	Receipts    *receipts.Poller
	Upstream    *backend.Client
	QR          *receiptqr.Generator

	RestaurantID   string
	CurrencySymbol string
}

func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/health", h.healthCheck).Methods("GET")

	r.HandleFunc("/api/menu", h.getMenu).Methods("GET")
	r.HandleFunc("/api/menu/refresh", h.refreshMenu).Methods("POST")
	r.HandleFunc("/api/tables", h.getTables).Methods("GET")

	r.HandleFunc("/api/cart", h.getCart).Methods("GET")
	r.HandleFunc("/api/cart", h.clearCart).Methods("DELETE")
	r.HandleFunc("/api/cart/items", h.addCartItem).Methods("POST")
	r.HandleFunc("/api/cart/items/{menuItemId}", h.updateCartItem).Methods("PATCH")
	r.HandleFunc("/api/cart/items/{menuItemId}", h.removeCartItem).Methods("DELETE")
	r.HandleFunc("/api/cart/table", h.setCartTable).Methods("PUT")

	r.HandleFunc("/api/settlements", h.createSettlement).Methods("POST")
	r.HandleFunc("/api/settlements/{id}", h.getSettlement).Methods("GET")
	r.HandleFunc("/api/settlements/{id}", h.abandonSettlement).Methods("DELETE")
	r.HandleFunc("/api/settlements/{id}/method", h.selectMethod).Methods("POST")
	r.HandleFunc("/api/settlements/{id}/complete", h.completeSettlement).Methods("POST")

	r.HandleFunc("/api/receipts/pending", h.getPendingReceipts).Methods("GET")
	r.HandleFunc("/api/receipts/refresh", h.refreshPendingReceipts).Methods("POST")

	r.HandleFunc("/api/reports", h.getReports).Methods("GET")
	r.HandleFunc("/api/orders/{id}/receipt-qr", h.getReceiptQR).Methods("GET")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// upstreamError maps backend failures: an expired session logs the operator
// out, everything else is a retryable gateway failure.
func upstreamError(w http.ResponseWriter, err error) {
	if errors.Is(err, backend.ErrAuthExpired) {
		http.Error(w, "session expired, sign in again", http.StatusUnauthorized)
		return
	}
	http.Error(w, err.Error(), http.StatusBadGateway)
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	upstream := "up"
	if err := h.Upstream.Health(r.Context()); err != nil {
		upstream = "down"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"service":   "tillpoint",
		"upstream":  upstream,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

type menuResponse struct {
	Items      []domain.MenuItem `json:"items"`
	Categories []string          `json:"categories"`
	Source     menu.Source       `json:"source"`
}

func (h *Handler) getMenu(w http.ResponseWriter, r *http.Request) {
	snap, source := h.Menu.Current(r.Context())
	writeJSON(w, http.StatusOK, menuResponse{Items: snap.Items, Categories: snap.Categories, Source: source})
}

func (h *Handler) refreshMenu(w http.ResponseWriter, r *http.Request) {
	snap, source := h.Menu.Refresh(r.Context())
	writeJSON(w, http.StatusOK, menuResponse{Items: snap.Items, Categories: snap.Categories, Source: source})
}

func (h *Handler) getTables(w http.ResponseWriter, r *http.Request) {
	tables, err := h.Upstream.Tables(r.Context(), h.RestaurantID)
	if err != nil {
		upstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tables)
}

type cartView struct {
	Items          []domain.LineItem `json:"items"`
	Subtotal       money.Cents       `json:"subtotal"`
	Tax            money.Cents       `json:"tax"`
	Total          money.Cents       `json:"total"`
	TableID        string            `json:"table_id,omitempty"`
	CurrencySymbol string            `json:"currency_symbol"`
}

func (h *Handler) cartView() cartView {
	return cartView{
		Items:          h.Cart.Lines(),
		Subtotal:       h.Cart.Subtotal(),
		Tax:            h.Cart.Tax(),
		Total:          h.Cart.Total(),
		TableID:        h.Cart.Table(),
		CurrencySymbol: h.CurrencySymbol,
	}
}

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.cartView())
}

func (h *Handler) clearCart(w http.ResponseWriter, r *http.Request) {
	h.Cart.Clear()
	writeJSON(w, http.StatusOK, h.cartView())
}

func (h *Handler) addCartItem(w http.ResponseWriter, r *http.Request) {
	var body struct {
		MenuItemID string `json:"menu_item_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.MenuItemID == "" {
		http.Error(w, "menu_item_id is required", http.StatusBadRequest)
		return
	}
	item, ok := h.Menu.Item(body.MenuItemID)
	if !ok {
		http.Error(w, "menu item not available", http.StatusNotFound)
		return
	}
	h.Cart.Add(item)
	writeJSON(w, http.StatusCreated, h.cartView())
}

func (h *Handler) updateCartItem(w http.ResponseWriter, r *http.Request) {
	menuItemID := mux.Vars(r)["menuItemId"]
	var body struct {
		Quantity *int    `json:"quantity"`
		Note     *string `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if body.Quantity != nil {
		h.Cart.UpdateQuantity(menuItemID, *body.Quantity)
	}
	// an explicit empty note clears it; an absent field leaves it alone
	if body.Note != nil {
		h.Cart.SetNote(menuItemID, *body.Note)
	}
	writeJSON(w, http.StatusOK, h.cartView())
}

func (h *Handler) removeCartItem(w http.ResponseWriter, r *http.Request) {
	h.Cart.Remove(mux.Vars(r)["menuItemId"])
	writeJSON(w, http.StatusOK, h.cartView())
}

func (h *Handler) setCartTable(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TableID string `json:"table_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.Cart.SetTable(body.TableID)
	writeJSON(w, http.StatusOK, h.cartView())
}

func (h *Handler) createSettlement(w http.ResponseWriter, r *http.Request) {
	var body struct {
		OrderID string `json:"order_id"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&body) // empty body means cart path
	}

	// pending-receipts path: adopt an already-served order
	if body.OrderID != "" {
		order, ok := h.Receipts.Order(body.OrderID)
		if !ok {
			http.Error(w, "pending order not found", http.StatusNotFound)
			return
		}
		st := h.Settlements.BeginForOrder(order)
		writeJSON(w, http.StatusCreated, st.View())
		return
	}

	// cart path: capture prices and create the backend order
	lines := h.Cart.Lines()
	if len(lines) == 0 {
		http.Error(w, "cart is empty", http.StatusBadRequest)
		return
	}
	st, err := h.Settlements.Begin(r.Context(), lines, h.RestaurantID, h.Cart.Table())
	if err != nil {
		if st == nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if errors.Is(err, backend.ErrAuthExpired) {
			upstreamError(w, err)
			return
		}
		// order creation failed but the settlement is registered and
		// retryable; the view carries the reason
	}
	writeJSON(w, http.StatusCreated, st.View())
}

func (h *Handler) settlementByID(w http.ResponseWriter, r *http.Request) (*settlement.Settlement, bool) {
	st, err := h.Settlements.Get(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "settlement not found", http.StatusNotFound)
		return nil, false
	}
	return st, true
}

func (h *Handler) getSettlement(w http.ResponseWriter, r *http.Request) {
	st, ok := h.settlementByID(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, st.View())
}

func (h *Handler) abandonSettlement(w http.ResponseWriter, r *http.Request) {
	if err := h.Settlements.Abandon(mux.Vars(r)["id"]); err != nil {
		switch {
		case errors.Is(err, settlement.ErrNotFound):
			http.Error(w, "settlement not found", http.StatusNotFound)
		case errors.Is(err, settlement.ErrInFlight):
			http.Error(w, "settlement in progress, wait for it to finish", http.StatusConflict)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) selectMethod(w http.ResponseWriter, r *http.Request) {
	st, ok := h.settlementByID(w, r)
	if !ok {
		return
	}
	var body struct {
		Method   string       `json:"method"`
		Tendered *money.Cents `json:"tendered"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if body.Method != "" {
		if err := st.SelectMethod(domain.PaymentMethod(body.Method)); err != nil {
			settlementError(w, err)
			return
		}
	}
	if body.Tendered != nil {
		if err := st.SetTendered(*body.Tendered); err != nil {
			settlementError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, st.View())
}

func (h *Handler) completeSettlement(w http.ResponseWriter, r *http.Request) {
	st, ok := h.settlementByID(w, r)
	if !ok {
		return
	}
	if err := h.Settlements.Complete(r.Context(), st); err != nil {
		switch {
		case errors.Is(err, settlement.ErrInFlight),
			errors.Is(err, settlement.ErrAlreadyCompleted):
			settlementError(w, err)
		case errors.Is(err, settlement.ErrNoMethod),
			errors.Is(err, settlement.ErrInsufficientTender):
			settlementError(w, err)
		case errors.Is(err, backend.ErrAuthExpired):
			upstreamError(w, err)
		default:
			// retryable backend failure: hand back the error-state view
			writeJSON(w, http.StatusBadGateway, st.View())
		}
		return
	}
	writeJSON(w, http.StatusOK, st.View())
}

func settlementError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, settlement.ErrInFlight):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, settlement.ErrAlreadyCompleted):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusBadRequest)
	}
}

type pendingResponse struct {
	Orders []domain.Order `json:"orders"`
	Count  int            `json:"count"`
}

func (h *Handler) getPendingReceipts(w http.ResponseWriter, r *http.Request) {
	orders, count := h.Receipts.Snapshot()
	writeJSON(w, http.StatusOK, pendingResponse{Orders: orders, Count: count})
}

// refreshPendingReceipts is the user-initiated path: unlike the background
// poll, failures surface to the operator.
func (h *Handler) refreshPendingReceipts(w http.ResponseWriter, r *http.Request) {
	if err := h.Receipts.Refresh(r.Context(), false); err != nil {
		upstreamError(w, err)
		return
	}
	orders, count := h.Receipts.Snapshot()
	writeJSON(w, http.StatusOK, pendingResponse{Orders: orders, Count: count})
}

func (h *Handler) getReports(w http.ResponseWriter, r *http.Request) {
	start := r.URL.Query().Get("start_date")
	end := r.URL.Query().Get("end_date")
	if start == "" || end == "" {
		http.Error(w, "start_date and end_date are required", http.StatusBadRequest)
		return
	}
	report, err := h.Upstream.Reports(r.Context(), h.RestaurantID, start, end)
	if err != nil {
		upstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) getReceiptQR(w http.ResponseWriter, r *http.Request) {
	png, err := h.QR.Generate(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "failed to generate QR code", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}
