// Package cart holds the working order before settlement: an ordered
// collection of line items, unique by menu item id, with derived totals.
package cart

import (
	"sync"

	"tillpoint/internal/domain"
	"tillpoint/internal/money"
	"tillpoint/internal/pricing"
)

// Cart is safe for concurrent use by the local http surface. Totals are
// recomputed from the live collection on every call, never cached.
type Cart struct {
	mu      sync.RWMutex
	taxRate int // basis points
	lines   []domain.LineItem
	tableID string
}

func New(taxRateBasisPoints int) *Cart {
	return &Cart{taxRate: taxRateBasisPoints}
}

// Add appends a quantity-1 row for the item, or increments the existing row.
// Row order is preserved; new rows go to the end.
func (c *Cart) Add(item domain.MenuItem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.lines {
		if c.lines[i].Item.ID == item.ID {
			c.lines[i].Quantity++
			return
		}
	}
	c.lines = append(c.lines, domain.LineItem{Item: item, Quantity: 1})
}

// Remove deletes the matching row. Absent ids are a no-op, not an error.
func (c *Cart) Remove(menuItemID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(menuItemID)
}

func (c *Cart) removeLocked(menuItemID string) {
	for i := range c.lines {
		if c.lines[i].Item.ID == menuItemID {
			c.lines = append(c.lines[:i], c.lines[i+1:]...)
			return
		}
	}
}

// UpdateQuantity replaces the stored quantity; a quantity of zero or less
// removes the row. No upper bound is enforced here.
func (c *Cart) UpdateQuantity(menuItemID string, quantity int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if quantity <= 0 {
		c.removeLocked(menuItemID)
		return
	}
	for i := range c.lines {
		if c.lines[i].Item.ID == menuItemID {
			c.lines[i].Quantity = quantity
			return
		}
	}
}

// SetNote attaches a free-text note to an existing row.
func (c *Cart) SetNote(menuItemID, note string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.lines {
		if c.lines[i].Item.ID == menuItemID {
			c.lines[i].Note = note
			return
		}
	}
}

// Clear empties the line collection, leaving the table selection alone.
func (c *Cart) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = nil
}

// Reset empties the cart and drops the table selection. Called after a
// successful settlement.
func (c *Cart) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = nil
	c.tableID = ""
}

// Lines returns a copy of the current rows in display order.
func (c *Cart) Lines() []domain.LineItem {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.LineItem, len(c.lines))
	copy(out, c.lines)
	return out
}

func (c *Cart) IsEmpty() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.lines) == 0
}

func (c *Cart) SetTable(tableID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tableID = tableID
}

func (c *Cart) Table() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tableID
}

func (c *Cart) Subtotal() money.Cents {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sub, _ := pricing.Subtotal(c.pricingLines())
	return sub
}

func (c *Cart) Tax() money.Cents {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tax, _ := pricing.Tax(c.pricingLines(), c.taxRate)
	return tax
}

func (c *Cart) Total() money.Cents {
	c.mu.RLock()
	defer c.mu.RUnlock()
	total, _ := pricing.Total(c.pricingLines(), c.taxRate)
	return total
}

// pricingLines projects the rows for the pricing engine. Caller holds a lock.
// Cart invariants (quantity >= 1, non-negative menu prices) keep the engine's
// defensive errors unreachable.
func (c *Cart) pricingLines() []pricing.Line {
	lines := make([]pricing.Line, len(c.lines))
	for i, li := range c.lines {
		lines[i] = pricing.Line{UnitPrice: li.Item.Price, Quantity: li.Quantity}
	}
	return lines
}
