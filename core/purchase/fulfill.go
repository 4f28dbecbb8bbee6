package purchase

import (
	"context"
	"time"

	"github.com/agteach/marketplace/core/product"
	"github.com/agteach/marketplace/validate"
	"github.com/jmoiron/sqlx"
)

// Line pairs a product snapshot with the quantity bought. Prices come
// from the snapshot, never from the gateway payload.
type Line struct {
	Product  product.Product
	Quantity int
}

// Fulfill writes every record of a product purchase against the given
// executor: the stock decrements, the purchase header, and one detail
// plus one sale history row per line. The caller owns the transaction,
// so a failed decrement (product.ErrInsufficientStock) unwinds all of
// it.
func Fulfill(ctx context.Context, tx sqlx.ExtContext, customerID string, total int, lines []Line, now time.Time) (Purchased, error) {
	p := Purchased{
		ID:         validate.GenerateID(),
		CustomerID: customerID,
		Total:      total,
		CreatedAt:  now,
	}
	if err := CreatePurchased(ctx, tx, p); err != nil {
		return Purchased{}, err
	}

	for _, ln := range lines {
		if err := product.DecrementStock(ctx, tx, ln.Product.ID, ln.Quantity); err != nil {
			return Purchased{}, err
		}

		d := Detail{
			ID:          validate.GenerateID(),
			PurchasedID: p.ID,
			ProductID:   ln.Product.ID,
			Quantity:    ln.Quantity,
			Price:       ln.Product.Price,
			Total:       ln.Product.Price * ln.Quantity,
			CreatedAt:   now,
		}
		if err := CreateDetail(ctx, tx, d); err != nil {
			return Purchased{}, err
		}

		s := SaleHistory{
			ID:           validate.GenerateID(),
			ProductID:    ln.Product.ID,
			CustomerID:   customerID,
			DetailID:     d.ID,
			InstructorID: ln.Product.InstructorID,
			PurchasedID:  p.ID,
			IsDelivered:  false,
			CreatedAt:    now,
		}
		if err := CreateSale(ctx, tx, s); err != nil {
			return Purchased{}, err
		}
	}

	return p, nil
}
