package memory

import (
	"context"
	"sync"

	"kitchen-ledger/internal/order/app/core"
	"kitchen-ledger/internal/order/domain/models"
)

type Catalog struct {
	mu       sync.RWMutex
	products map[string]models.Product
}

var _ core.IProductCatalog = (*Catalog)(nil)

func NewCatalog(products ...models.Product) *Catalog {
	c := &Catalog{products: make(map[string]models.Product, len(products))}
	for _, p := range products {
		c.products[p.Ref] = p
	}
	return c
}

// Put adds or replaces a product.
func (c *Catalog) Put(p models.Product) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[p.Ref] = p
}

func (c *Catalog) Resolve(_ context.Context, ref string) (models.Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.products[ref]
	if !ok {
		return models.Product{}, core.NotFound(core.ReasonProductNotFound, "product %s not found", ref)
	}
	return p, nil
}
