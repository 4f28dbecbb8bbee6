package customer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

var ErrNotFound = errors.New("customer not found")

type Customer struct {
	ID        string    `json:"id" db:"customer_id"`
	UserID    string    `json:"userId" db:"user_id"`
	FirstName string    `json:"firstName" db:"first_name"`
	LastName  string    `json:"lastName" db:"last_name"`
	Email     string    `json:"email" db:"email"`
	ImageURL  string    `json:"imageUrl" db:"image_url"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

func Create(ctx context.Context, db sqlx.ExtContext, c Customer) error {
	const q = `
	INSERT INTO customer
		(customer_id, user_id, first_name, last_name, email, image_url, created_at, updated_at)
	VALUES
		(:customer_id, :user_id, :first_name, :last_name, :email, :image_url, :created_at, :updated_at)`

	if _, err := sqlx.NamedExecContext(ctx, db, q, c); err != nil {
		return fmt.Errorf("inserting customer: %w", err)
	}

	return nil
}

func Fetch(ctx context.Context, db sqlx.ExtContext, id string) (Customer, error) {
	const q = `SELECT * FROM customer WHERE customer_id = $1`

	var c Customer
	if err := sqlx.GetContext(ctx, db, &c, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Customer{}, ErrNotFound
		}
		return Customer{}, fmt.Errorf("selecting customer[%s]: %w", id, err)
	}

	return c, nil
}

// FetchByUserID resolves the profile bound to an authenticated account.
func FetchByUserID(ctx context.Context, db sqlx.ExtContext, userID string) (Customer, error) {
	const q = `SELECT * FROM customer WHERE user_id = $1`

	var c Customer
	if err := sqlx.GetContext(ctx, db, &c, q, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Customer{}, ErrNotFound
		}
		return Customer{}, fmt.Errorf("selecting customer of user[%s]: %w", userID, err)
	}

	return c, nil
}
