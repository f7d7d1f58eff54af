// Package menu resolves the purchasable item list for the active restaurant:
// live from the backend when it answers, from the redis snapshot when it
// doesn't, and from a built-in demo set when there is no snapshot either.
package menu

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"tillpoint/internal/backend"
	"tillpoint/internal/domain"
)

// Source says where the current snapshot came from.
type Source string

const (
	SourceLive  Source = "live"
	SourceCache Source = "cache"
	SourceDemo  Source = "demo"
)

// categoryNames maps backend category codes to the labels the till displays.
// Unknown codes pass through untouched.
var categoryNames = map[string]string{
	"appetizer":   "Starters",
	"main_course": "Mains",
	"dessert":     "Desserts",
	"beverage":    "Drinks",
	"side_dish":   "Sides",
	"special":     "Specials",
}

var categoryIcons = map[string]string{
	"appetizer":   "🥗",
	"main_course": "🍽️",
	"dessert":     "🍰",
	"beverage":    "🥤",
	"side_dish":   "🍟",
	"special":     "⭐",
}

const defaultIcon = "🍽️"

// Fetcher is the slice of the backend client the resolver needs.
type Fetcher interface {
	MenuItems(ctx context.Context, restaurantID string) ([]backend.MenuItemRecord, error)
}

type Service struct {
	fetcher Fetcher
	cache   Cache // nil disables persistence, fallback goes straight to demo
	log     *logrus.Entry

	mu           sync.RWMutex
	restaurantID string
	snap         Snapshot
	source       Source
}

func NewService(fetcher Fetcher, cache Cache, restaurantID string) *Service {
	return &Service{
		fetcher:      fetcher,
		cache:        cache,
		restaurantID: restaurantID,
		log:          logrus.WithField("component", "menu"),
	}
}

// Current returns the last resolved snapshot without touching the network.
// Resolves first if nothing has been loaded yet.
func (s *Service) Current(ctx context.Context) (Snapshot, Source) {
	s.mu.RLock()
	loaded := s.source != ""
	snap, source := s.snap, s.source
	s.mu.RUnlock()
	if loaded {
		return snap, source
	}
	return s.Refresh(ctx)
}

// Refresh re-resolves the menu. Fetch failures are absorbed into the
// fallback chain, so there is no error to return: the till always has a menu.
func (s *Service) Refresh(ctx context.Context) (Snapshot, Source) {
	s.mu.RLock()
	restaurantID := s.restaurantID
	s.mu.RUnlock()

	records, err := s.fetcher.MenuItems(ctx, restaurantID)
	if err == nil {
		snap := buildSnapshot(records)
		if s.cache != nil {
			if cacheErr := s.cache.Store(ctx, restaurantID, snap); cacheErr != nil {
				s.log.WithError(cacheErr).Warn("failed to persist menu snapshot")
			}
		}
		s.store(snap, SourceLive)
		return snap, SourceLive
	}
	s.log.WithError(err).Warn("menu fetch failed, falling back")

	if s.cache != nil {
		snap, cacheErr := s.cache.Load(ctx, restaurantID)
		if cacheErr == nil {
			s.store(snap, SourceCache)
			return snap, SourceCache
		}
		if cacheErr != ErrCacheMiss {
			s.log.WithError(cacheErr).Warn("menu cache unavailable")
		}
	}

	items := demoItems()
	snap := Snapshot{Items: items, Categories: categoriesOf(items)}
	s.store(snap, SourceDemo)
	return snap, SourceDemo
}

// Item looks up an available item in the current snapshot.
func (s *Service) Item(menuItemID string) (domain.MenuItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, item := range s.snap.Items {
		if item.ID == menuItemID {
			return item, item.Available
		}
	}
	return domain.MenuItem{}, false
}

func (s *Service) store(snap Snapshot, source Source) {
	s.mu.Lock()
	s.snap = snap
	s.source = source
	s.mu.Unlock()
}

func buildSnapshot(records []backend.MenuItemRecord) Snapshot {
	items := make([]domain.MenuItem, 0, len(records))
	for _, rec := range records {
		items = append(items, domain.MenuItem{
			ID:        rec.ID,
			Name:      rec.Name,
			Price:     rec.Price,
			Category:  displayCategory(rec.Category),
			Icon:      categoryIcon(rec.Category),
			Available: rec.IsAvailable,
		})
	}
	return Snapshot{Items: items, Categories: categoriesOf(items), FetchedAt: time.Now()}
}

func displayCategory(code string) string {
	if name, ok := categoryNames[code]; ok {
		return name
	}
	return code
}

func categoryIcon(code string) string {
	if icon, ok := categoryIcons[code]; ok {
		return icon
	}
	return defaultIcon
}

// categoriesOf returns "All" followed by the distinct display categories in
// sorted order.
func categoriesOf(items []domain.MenuItem) []string {
	seen := map[string]bool{}
	var cats []string
	for _, item := range items {
		if !seen[item.Category] {
			seen[item.Category] = true
			cats = append(cats, item.Category)
		}
	}
	sort.Strings(cats)
	return append([]string{"All"}, cats...)
}
