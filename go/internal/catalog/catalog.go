package catalog

import (
	"context"

	"github.com/pointdeck/pointdeck/go/internal/models"
)

// Catalog is the external item catalog consumed by the session core.
// FindItem returns (nil, nil) when the item does not exist; only
// transport or upstream failures surface as errors.
type Catalog interface {
	FindItem(ctx context.Context, id string) (*models.Item, error)
	ItemExists(ctx context.Context, id string) (bool, error)
	ListSimilarItems(ctx context.Context, id string) ([]models.Item, error)

	// UpdateItemPoint writes the finalized story point back to the
	// catalog. Best effort: callers treat failure as a soft warning.
	UpdateItemPoint(ctx context.Context, id string, point int, memo string) error
}
