package orders

import (
	"context"

	"storeops/internal/models"
)

// Gateway is the order/product repository the engine and executors operate
// through. The production implementation is Postgres; tests substitute an
// in-package fake.
type Gateway interface {
	// FindByID returns models.ErrNotFound for an unknown order.
	FindByID(ctx context.Context, id int64) (models.Order, error)
	// FindByIDs resolves a batch of ids in chunks. Unknown ids are simply
	// absent from the result map.
	FindByIDs(ctx context.Context, ids []int64) (map[int64]models.Order, error)
	// Query returns order ids matching the criteria, oldest first, capped
	// at limit.
	Query(ctx context.Context, c models.Criteria, limit int) ([]int64, error)

	UpdateStatus(ctx context.Context, id int64, status string) error
	SetTags(ctx context.Context, id int64, tags []string) error
	AddNote(ctx context.Context, note models.OrderNote) (int64, error)
	DeleteNote(ctx context.Context, noteID int64) error

	// GetProduct returns models.ErrNotFound for an unknown product.
	GetProduct(ctx context.Context, id int64) (models.Product, error)
	SetStock(ctx context.Context, id int64, qty int64) error
}
