package db

import (
	"context"
	"errors"

	"kitchen-ledger/internal/order/app/core"
	"kitchen-ledger/internal/order/domain/models"
	"kitchen-ledger/internal/xpkg/db"

	"github.com/jackc/pgx/v5"
)

// ProductCatalog resolves product references against the products table.
type ProductCatalog struct {
	db *db.DB
}

var _ core.IProductCatalog = (*ProductCatalog)(nil)

func NewProductCatalog(d *db.DB) *ProductCatalog {
	return &ProductCatalog{db: d}
}

func (pc *ProductCatalog) Resolve(ctx context.Context, ref string) (models.Product, error) {
	var p models.Product
	err := pc.db.Pool().QueryRow(ctx, `
		SELECT ref, name, price, active FROM products WHERE ref = $1
	`, ref).Scan(&p.Ref, &p.Name, &p.Price, &p.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Product{}, core.NotFound(core.ReasonProductNotFound, "product %s not found", ref)
	}
	if err != nil {
		return models.Product{}, translate(err)
	}
	return p, nil
}
