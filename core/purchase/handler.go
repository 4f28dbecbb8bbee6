package purchase

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/agteach/marketplace/api/background"
	"github.com/agteach/marketplace/api/web"
	"github.com/agteach/marketplace/api/weberr"
	"github.com/agteach/marketplace/config"
	"github.com/agteach/marketplace/core/claims"
	"github.com/agteach/marketplace/core/customer"
	"github.com/agteach/marketplace/core/instructor"
	"github.com/agteach/marketplace/core/product"
	"github.com/agteach/marketplace/email"
	"github.com/agteach/marketplace/validate"
	"github.com/jmoiron/sqlx"
	"github.com/stripe/stripe-go/v74"
	stripecl "github.com/stripe/stripe-go/v74/client"
)

// HandleCheckout builds the Stripe session for a cart of products.
// Client-sent names and prices are display values only: every line item
// is rebuilt from the product rows, and each one carries the product id
// in its metadata so the webhook can map line items back to stock.
func HandleCheckout(db *sqlx.DB, strp *stripecl.API, cfg config.Stripe) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		var cn CheckoutNew
		if err := web.Decode(w, r, &cn); err != nil {
			return weberr.BadRequest(fmt.Errorf("unable to decode payload: %w", err))
		}

		if err := validate.Check(cn); err != nil {
			return weberr.NewError(err, err.Error(), http.StatusUnprocessableEntity)
		}

		clm, cst, err := requireCustomer(ctx, db)
		if err != nil {
			return err
		}

		ids := make([]string, 0, len(cn.CartItems))
		for _, it := range cn.CartItems {
			ids = append(ids, it.ProductID)
		}

		prods, err := product.FetchByIDs(ctx, db, ids)
		if err != nil {
			return err
		}

		byID := make(map[string]product.Product, len(prods))
		for _, p := range prods {
			byID[p.ID] = p
		}

		items := make([]*stripe.CheckoutSessionLineItemParams, 0, len(cn.CartItems))
		for _, it := range cn.CartItems {
			p, ok := byID[it.ProductID]
			if !ok {
				err := fmt.Errorf("product[%s] not found", it.ProductID)
				return weberr.NotFound(err)
			}

			items = append(items, &stripe.CheckoutSessionLineItemParams{
				Quantity: stripe.Int64(int64(it.Quantity)),

				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String("usd"),
					UnitAmount: stripe.Int64(int64(p.Price) * 100),

					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name:     stripe.String(p.Name),
						Images:   stripe.StringSlice([]string{p.ImageURL}),
						Metadata: map[string]string{"product_id": p.ID},
					},
				},
			})
		}

		params := &stripe.CheckoutSessionParams{
			SuccessURL:        stripe.String(cfg.SuccessURL),
			CancelURL:         stripe.String(cfg.CancelURL),
			Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
			CustomerEmail:     stripe.String(clm.Email),
			ClientReferenceID: stripe.String(clm.UserID),
			LineItems:         items,

			Params: stripe.Params{
				Metadata: map[string]string{
					"type":       "product",
					"customerId": cst.ID,
				},
			},
		}

		s, err := strp.CheckoutSessions.New(params)
		if err != nil {
			return fmt.Errorf("creating stripe session: %w", err)
		}

		resp := struct {
			ID string `json:"id"`
		}{ID: s.ID}

		return web.Respond(ctx, w, resp, http.StatusOK)
	}
}

// HandleUpdateDeliver marks the instructor's share of a purchase as
// delivered. The flip happens exactly once: retries surface a conflict
// instead of sending a second email.
func HandleUpdateDeliver(db *sqlx.DB, mailer email.Sender, bg *background.Background, cfg config.Email) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		var up DeliverUp
		if err := web.Decode(w, r, &up); err != nil {
			return weberr.BadRequest(fmt.Errorf("unable to decode payload: %w", err))
		}

		if err := validate.Check(up); err != nil {
			return weberr.NewError(err, err.Error(), http.StatusUnprocessableEntity)
		}

		ins, err := requireInstructor(ctx, db)
		if err != nil {
			return err
		}

		if err := MarkDelivered(ctx, db, up.PurchasedID, ins.ID); err != nil {
			switch {
			case errors.Is(err, ErrNotFound):
				return weberr.NotFound(err)
			case errors.Is(err, ErrAlreadyDelivered):
				return weberr.Conflict(err, err.Error())
			}
			return err
		}

		bg.Go("deliver-email", func() error {
			data := map[string]any{"purchasedId": up.PurchasedID}
			return mailer.Send(context.Background(), up.CustomerEmail, "Your order is on its way", cfg.DeliverTemplateID, data)
		})

		resp := struct {
			Status string `json:"status"`
		}{Status: "success"}

		return web.Respond(ctx, w, resp, http.StatusOK)
	}
}

func HandleListByCustomer(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		_, cst, err := requireCustomer(ctx, db)
		if err != nil {
			return err
		}

		hs, err := FetchByCustomer(ctx, db, cst.ID)
		if err != nil {
			return err
		}

		resp := struct {
			Status    string    `json:"status"`
			Purchased []History `json:"purchased"`
		}{Status: "success", Purchased: hs}

		return web.Respond(ctx, w, resp, http.StatusOK)
	}
}

func requireCustomer(ctx context.Context, db *sqlx.DB) (claims.Claims, customer.Customer, error) {
	clm, err := claims.Get(ctx)
	if err != nil {
		return claims.Claims{}, customer.Customer{}, weberr.NotAuthorized(errors.New("user not authenticated"))
	}

	cst, err := customer.FetchByUserID(ctx, db, clm.UserID)
	if err != nil {
		if errors.Is(err, customer.ErrNotFound) {
			return claims.Claims{}, customer.Customer{}, weberr.NotFound(err)
		}
		return claims.Claims{}, customer.Customer{}, fmt.Errorf("fetching customer profile: %w", err)
	}

	return clm, cst, nil
}

func requireInstructor(ctx context.Context, db *sqlx.DB) (instructor.Instructor, error) {
	clm, err := claims.Get(ctx)
	if err != nil {
		return instructor.Instructor{}, weberr.NotAuthorized(errors.New("user not authenticated"))
	}

	ins, err := instructor.FetchByUserID(ctx, db, clm.UserID)
	if err != nil {
		if errors.Is(err, instructor.ErrNotFound) {
			return instructor.Instructor{}, weberr.NotFound(err)
		}
		return instructor.Instructor{}, fmt.Errorf("fetching instructor profile: %w", err)
	}

	return ins, nil
}
