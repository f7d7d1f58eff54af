package domain

import (
	"time"

	"tillpoint/internal/money"
)

type PaymentMethod string

const (
	PaymentCash PaymentMethod = "cash"
	PaymentCard PaymentMethod = "card"
)

// Valid reports whether the method is one the till can record.
func (m PaymentMethod) Valid() bool {
	return m == PaymentCash || m == PaymentCard
}

type OrderStatus string

const (
	OrderOpen      OrderStatus = "open"
	OrderServed    OrderStatus = "served"
	OrderCompleted OrderStatus = "completed"
	OrderCancelled OrderStatus = "cancelled"
)

// MenuItem is a purchasable item as the till displays it: backend category
// codes already mapped to display categories and icons. Immutable once
// resolved; the cart only reads it.
type MenuItem struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Price     money.Cents `json:"price"`
	Category  string      `json:"category"`
	Icon      string      `json:"icon"`
	Available bool        `json:"available"`
}

// LineItem is one cart row: a menu item, a positive quantity and an optional
// free-text note. Rows with quantity zero are removed, never stored.
type LineItem struct {
	Item     MenuItem `json:"menu_item"`
	Quantity int      `json:"quantity"`
	Note     string   `json:"note,omitempty"`
}

// OrderItem is a settled line as the backend records it: the unit price is
// captured at order creation and decoupled from later menu price changes.
type OrderItem struct {
	ID           string      `json:"id,omitempty"`
	MenuItemID   string      `json:"menu_item_id"`
	MenuItemName string      `json:"menu_item_name,omitempty"`
	Quantity     int         `json:"quantity"`
	UnitPrice    money.Cents `json:"unit_price"`
}

// Order is backend-owned; the till only creates it and transitions its status.
type Order struct {
	ID            string        `json:"id"`
	RestaurantID  string        `json:"restaurant_id"`
	TableID       string        `json:"table_id,omitempty"`
	Table         *Table        `json:"table,omitempty"`
	Status        OrderStatus   `json:"status"`
	Items         []OrderItem   `json:"items"`
	TotalAmount   money.Cents   `json:"total_amount"`
	PaymentMethod PaymentMethod `json:"payment_method,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}

// Table is read-only reference data used to tag an order with a location.
type Table struct {
	ID       string `json:"id"`
	Number   int    `json:"table_number"`
	Capacity int    `json:"capacity"`
	Status   string `json:"status"`
}
