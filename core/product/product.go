package product

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

var (
	ErrNotFound = errors.New("product not found")

	// ErrInsufficientStock reports a decrement that would drive the
	// inventory count negative.
	ErrInsufficientStock = errors.New("insufficient stock")
)

type Product struct {
	ID           string    `json:"id" db:"product_id"`
	InstructorID string    `json:"instructorId" db:"instructor_id"`
	CategoryID   string    `json:"categoryId" db:"category_id"`
	Name         string    `json:"name" db:"name"`
	Price        int       `json:"price" db:"price"`
	Quantity     int       `json:"quantity" db:"quantity"`
	ImageURL     string    `json:"imageUrl" db:"image_url"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time `json:"updatedAt" db:"updated_at"`
}

func Create(ctx context.Context, db sqlx.ExtContext, p Product) error {
	const q = `
	INSERT INTO product
		(product_id, instructor_id, category_id, name, price, quantity, image_url, created_at, updated_at)
	VALUES
		(:product_id, :instructor_id, :category_id, :name, :price, :quantity, :image_url, :created_at, :updated_at)`

	if _, err := sqlx.NamedExecContext(ctx, db, q, p); err != nil {
		return fmt.Errorf("inserting product: %w", err)
	}

	return nil
}

func Fetch(ctx context.Context, db sqlx.ExtContext, id string) (Product, error) {
	const q = `SELECT * FROM product WHERE product_id = $1`

	var p Product
	if err := sqlx.GetContext(ctx, db, &p, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Product{}, ErrNotFound
		}
		return Product{}, fmt.Errorf("selecting product[%s]: %w", id, err)
	}

	return p, nil
}

// FetchByIDs returns one consistent snapshot of all referenced products.
func FetchByIDs(ctx context.Context, db sqlx.ExtContext, ids []string) ([]Product, error) {
	const q = `SELECT * FROM product WHERE product_id = ANY($1)`

	var ps []Product
	if err := sqlx.SelectContext(ctx, db, &ps, q, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("selecting products: %w", err)
	}

	return ps, nil
}

// DecrementStock subtracts n from the product's quantity only when enough
// stock remains; the predicate makes the decrement safe against a
// concurrent webhook delivery that passed the same snapshot check.
func DecrementStock(ctx context.Context, db sqlx.ExtContext, id string, n int) error {
	const q = `
	UPDATE product SET
		quantity = quantity - $2,
		updated_at = now()
	WHERE product_id = $1 AND quantity >= $2`

	res, err := db.ExecContext(ctx, q, id, n)
	if err != nil {
		return fmt.Errorf("decrementing stock of product[%s]: %w", id, err)
	}

	count, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking decrement of product[%s]: %w", id, err)
	}
	if count == 0 {
		return ErrInsufficientStock
	}

	return nil
}
