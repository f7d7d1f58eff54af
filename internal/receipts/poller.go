// Package receipts tracks served-but-unpaid orders ("pending receipts") by
// polling the backend on a fixed interval. Selected orders are handed to the
// settlement flow to collect payment after the fact.
package receipts

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"tillpoint/internal/domain"
)

// ServedLister is the slice of the backend client the poller needs.
type ServedLister interface {
	ServedOrders(ctx context.Context, restaurantID string) ([]domain.Order, error)
}

type Poller struct {
	api          ServedLister
	restaurantID string
	interval     time.Duration
	log          *logrus.Entry

	// onReconnect fires when a refresh succeeds right after failures, e.g.
	// the venue's network came back. The menu service hangs its re-fetch
	// off this.
	onReconnect func()

	mu      sync.RWMutex
	orders  []domain.Order
	lastErr error
	down    bool
}

func NewPoller(api ServedLister, restaurantID string, interval time.Duration, onReconnect func()) *Poller {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Poller{
		api:          api,
		restaurantID: restaurantID,
		interval:     interval,
		onReconnect:  onReconnect,
		log:          logrus.WithField("component", "receipts"),
	}
}

// Run performs an initial load and then refreshes silently on the interval
// until the context is cancelled. Meant to run as a goroutine.
func (p *Poller) Run(ctx context.Context) {
	if err := p.Refresh(ctx, false); err != nil {
		p.log.WithError(err).Warn("initial pending-receipts load failed")
	}
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// background refreshes are silent: errors are logged, never
			// surfaced as loading/toast state
			if err := p.Refresh(ctx, true); err != nil {
				p.log.WithError(err).Debug("silent refresh failed")
			}
		}
	}
}

// Refresh fetches the served orders once. Silent refreshes only differ in
// how failures are reported to the operator, not in what is stored.
func (p *Poller) Refresh(ctx context.Context, silent bool) error {
	orders, err := p.api.ServedOrders(ctx, p.restaurantID)
	if err != nil {
		p.mu.Lock()
		p.lastErr = err
		p.down = true
		p.mu.Unlock()
		if !silent {
			p.log.WithError(err).Warn("failed to load pending receipts")
		}
		return err
	}

	// oldest first, the order staff works through them
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].CreatedAt.Before(orders[j].CreatedAt)
	})

	p.mu.Lock()
	wasDown := p.down
	p.orders = orders
	p.lastErr = nil
	p.down = false
	p.mu.Unlock()

	if wasDown && p.onReconnect != nil {
		p.log.Info("backend reachable again")
		p.onReconnect()
	}
	return nil
}

// Snapshot returns the current pending orders and their count (the badge).
func (p *Poller) Snapshot() ([]domain.Order, int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]domain.Order, len(p.orders))
	copy(out, p.orders)
	return out, len(out)
}

// Order finds one pending order by id for the settlement handoff.
func (p *Poller) Order(orderID string) (domain.Order, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, order := range p.orders {
		if order.ID == orderID {
			return order, true
		}
	}
	return domain.Order{}, false
}

// LastError exposes the most recent fetch failure, nil when healthy.
func (p *Poller) LastError() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastErr
}
