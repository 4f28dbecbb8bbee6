// Package purchase groups the records written when a customer buys
// physical products: the purchase header, its per-product details and
// the per-instructor sale history rows that track delivery.
package purchase

import "time"

type Purchased struct {
	ID         string    `db:"purchased_id" json:"purchasedId"`
	CustomerID string    `db:"customer_id" json:"customerId"`
	Total      int       `db:"total" json:"total"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
}

type Detail struct {
	ID          string    `db:"detail_id" json:"detailId"`
	PurchasedID string    `db:"purchased_id" json:"purchasedId"`
	ProductID   string    `db:"product_id" json:"productId"`
	Quantity    int       `db:"quantity" json:"quantity"`
	Price       int       `db:"price" json:"price"`
	Total       int       `db:"total" json:"total"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
}

type SaleHistory struct {
	ID           string    `db:"sale_id" json:"saleId"`
	ProductID    string    `db:"product_id" json:"productId"`
	CustomerID   string    `db:"customer_id" json:"customerId"`
	DetailID     string    `db:"detail_id" json:"detailId"`
	InstructorID string    `db:"instructor_id" json:"instructorId"`
	PurchasedID  string    `db:"purchased_id" json:"purchasedId"`
	IsDelivered  bool      `db:"is_delivered" json:"isDelivered"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
}

// History is a purchase header joined with its details, the shape the
// customer-facing listing returns.
type History struct {
	Purchased
	Details []Detail `json:"details"`
}

// CartItem is one entry of the checkout payload. Name, price and image
// are display values from the client; the session is always built from
// the product rows.
type CartItem struct {
	ProductID string `json:"productId" validate:"required"`
	Name      string `json:"name"`
	Price     int    `json:"price"`
	Quantity  int    `json:"quantity" validate:"required,gt=0"`
	ImageURL  string `json:"imageUrl"`
}

type CheckoutNew struct {
	CartItems []CartItem `json:"cartItems" validate:"required,min=1,dive"`
}

type DeliverUp struct {
	PurchasedID   string `json:"purchasedId" validate:"required"`
	CustomerEmail string `json:"customerEmail" validate:"required,email"`
}
