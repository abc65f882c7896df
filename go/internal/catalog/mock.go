package catalog

import (
	"context"
	"sync"
	"time"

	"github.com/pointdeck/pointdeck/go/internal/models"
)

// MockCatalog is a seeded in-memory catalog for demo deployments and
// tests.
type MockCatalog struct {
	mu    sync.Mutex
	items map[string]models.Item
	order []string
}

// NewMockCatalog creates a catalog holding the given items.
func NewMockCatalog(items ...models.Item) *MockCatalog {
	c := &MockCatalog{items: make(map[string]models.Item, len(items))}
	for _, item := range items {
		c.items[item.ID] = item
		c.order = append(c.order, item.ID)
	}
	return c
}

// SeededMockCatalog returns a catalog pre-filled with a small sprint
// backlog, enough to drive a demo session end to end.
func SeededMockCatalog() *MockCatalog {
	point5 := 5
	return NewMockCatalog(
		models.Item{ID: "PBI-101", Title: "Persist filter settings across reloads", Status: models.ItemStatusBacklog, Sprint: "sprint-12"},
		models.Item{ID: "PBI-102", Title: "Bulk-archive completed items", Status: models.ItemStatusBacklog, Sprint: "sprint-12"},
		models.Item{ID: "PBI-103", Title: "Export estimation history as CSV", Status: models.ItemStatusBacklog, Sprint: "sprint-12"},
		models.Item{ID: "PBI-104", Title: "Inline edit of item descriptions", Status: models.ItemStatusBacklog, StoryPoint: &point5, Sprint: "sprint-11"},
	)
}

func (c *MockCatalog) FindItem(ctx context.Context, id string) (*models.Item, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.items[id]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

func (c *MockCatalog) ItemExists(ctx context.Context, id string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.items[id]
	return ok, nil
}

// ListSimilarItems returns items estimated at the same story point as
// the given item, which estimators use as reference points.
func (c *MockCatalog) ListSimilarItems(ctx context.Context, id string) ([]models.Item, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	target, ok := c.items[id]
	if !ok || target.StoryPoint == nil {
		return nil, nil
	}

	var similar []models.Item
	for _, itemID := range c.order {
		item := c.items[itemID]
		if item.ID == id || item.StoryPoint == nil {
			continue
		}
		if *item.StoryPoint == *target.StoryPoint {
			similar = append(similar, item)
		}
	}
	return similar, nil
}

func (c *MockCatalog) UpdateItemPoint(ctx context.Context, id string, point int, memo string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.items[id]
	if !ok {
		// Best-effort contract: an unknown item is not an error worth
		// failing a finalize over.
		return nil
	}
	p := point
	item.StoryPoint = &p
	item.Memo = memo
	item.UpdatedAt = time.Now()
	c.items[id] = item
	return nil
}
