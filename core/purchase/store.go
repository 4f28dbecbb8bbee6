package purchase

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

var (
	ErrNotFound         = errors.New("purchase not found")
	ErrAlreadyDelivered = errors.New("purchase already delivered")
)

func CreatePurchased(ctx context.Context, db sqlx.ExtContext, p Purchased) error {
	const q = `
	INSERT INTO purchased (purchased_id, customer_id, total, created_at)
	VALUES (:purchased_id, :customer_id, :total, :created_at)`

	if _, err := sqlx.NamedExecContext(ctx, db, q, p); err != nil {
		return fmt.Errorf("inserting purchased: %w", err)
	}

	return nil
}

func CreateDetail(ctx context.Context, db sqlx.ExtContext, d Detail) error {
	const q = `
	INSERT INTO purchased_detail (detail_id, purchased_id, product_id, quantity, price, total, created_at)
	VALUES (:detail_id, :purchased_id, :product_id, :quantity, :price, :total, :created_at)`

	if _, err := sqlx.NamedExecContext(ctx, db, q, d); err != nil {
		return fmt.Errorf("inserting purchased detail: %w", err)
	}

	return nil
}

func CreateSale(ctx context.Context, db sqlx.ExtContext, s SaleHistory) error {
	const q = `
	INSERT INTO product_sale_history
		(sale_id, product_id, customer_id, detail_id, instructor_id, purchased_id, is_delivered, created_at)
	VALUES
		(:sale_id, :product_id, :customer_id, :detail_id, :instructor_id, :purchased_id, :is_delivered, :created_at)`

	if _, err := sqlx.NamedExecContext(ctx, db, q, s); err != nil {
		return fmt.Errorf("inserting product sale: %w", err)
	}

	return nil
}

func FetchByCustomer(ctx context.Context, db sqlx.ExtContext, customerID string) ([]History, error) {
	const q = `
	SELECT purchased_id, customer_id, total, created_at
	FROM purchased
	WHERE customer_id = $1
	ORDER BY created_at DESC`

	var ps []Purchased
	if err := sqlx.SelectContext(ctx, db, &ps, q, customerID); err != nil {
		return nil, fmt.Errorf("selecting purchases of customer[%s]: %w", customerID, err)
	}

	hs := make([]History, 0, len(ps))
	for _, p := range ps {
		ds, err := fetchDetails(ctx, db, p.ID)
		if err != nil {
			return nil, err
		}
		hs = append(hs, History{Purchased: p, Details: ds})
	}

	return hs, nil
}

func fetchDetails(ctx context.Context, db sqlx.ExtContext, purchasedID string) ([]Detail, error) {
	const q = `
	SELECT detail_id, purchased_id, product_id, quantity, price, total, created_at
	FROM purchased_detail
	WHERE purchased_id = $1
	ORDER BY created_at`

	ds := []Detail{}
	if err := sqlx.SelectContext(ctx, db, &ds, q, purchasedID); err != nil {
		return nil, fmt.Errorf("selecting details of purchased[%s]: %w", purchasedID, err)
	}

	return ds, nil
}

// MarkDelivered flips every sale row of the given purchase that belongs
// to the instructor from undelivered to delivered. The predicate on
// is_delivered makes the operation fire exactly once: a second call
// matches zero rows and reports ErrAlreadyDelivered.
func MarkDelivered(ctx context.Context, db sqlx.ExtContext, purchasedID, instructorID string) error {
	const q = `
	UPDATE product_sale_history
	SET is_delivered = TRUE
	WHERE purchased_id = $1 AND instructor_id = $2 AND is_delivered = FALSE`

	res, err := db.ExecContext(ctx, q, purchasedID, instructorID)
	if err != nil {
		return fmt.Errorf("marking purchased[%s] delivered: %w", purchasedID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	const check = `
	SELECT COUNT(*)
	FROM product_sale_history
	WHERE purchased_id = $1 AND instructor_id = $2`

	var count int
	if err := sqlx.GetContext(ctx, db, &count, check, purchasedID, instructorID); err != nil {
		return fmt.Errorf("checking sales of purchased[%s]: %w", purchasedID, err)
	}
	if count == 0 {
		return ErrNotFound
	}

	return ErrAlreadyDelivered
}
