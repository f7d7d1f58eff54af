package menu

import "tillpoint/internal/domain"

// demoItems is the built-in fallback menu, used when the backend is down and
// no cached snapshot exists. The till must stay operable on first boot in a
// dead venue, even if the items are generic.
func demoItems() []domain.MenuItem {
	return []domain.MenuItem{
		{ID: "demo-1", Name: "House Burger", Price: 1150, Category: "Mains", Icon: "🍽️", Available: true},
		{ID: "demo-2", Name: "Margherita Pizza", Price: 1050, Category: "Mains", Icon: "🍽️", Available: true},
		{ID: "demo-3", Name: "Caesar Salad", Price: 850, Category: "Starters", Icon: "🥗", Available: true},
		{ID: "demo-4", Name: "Soup of the Day", Price: 595, Category: "Starters", Icon: "🥗", Available: true},
		{ID: "demo-5", Name: "Chips", Price: 395, Category: "Sides", Icon: "🍟", Available: true},
		{ID: "demo-6", Name: "Garlic Bread", Price: 450, Category: "Sides", Icon: "🍟", Available: true},
		{ID: "demo-7", Name: "Chocolate Brownie", Price: 650, Category: "Desserts", Icon: "🍰", Available: true},
		{ID: "demo-8", Name: "Ice Cream", Price: 495, Category: "Desserts", Icon: "🍰", Available: true},
		{ID: "demo-9", Name: "Cola", Price: 295, Category: "Drinks", Icon: "🥤", Available: true},
		{ID: "demo-10", Name: "Sparkling Water", Price: 250, Category: "Drinks", Icon: "🥤", Available: true},
	}
}
