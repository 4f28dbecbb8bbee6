package enrollment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/agteach/marketplace/api/web"
	"github.com/agteach/marketplace/api/weberr"
	"github.com/agteach/marketplace/config"
	"github.com/agteach/marketplace/core/claims"
	"github.com/agteach/marketplace/core/course"
	"github.com/agteach/marketplace/core/customer"
	"github.com/agteach/marketplace/validate"
	"github.com/jmoiron/sqlx"
	"github.com/plutov/paypal/v4"
	"github.com/stripe/stripe-go/v74"
	stripecl "github.com/stripe/stripe-go/v74/client"
)

// HandleCheckout builds the Stripe checkout session for a single course.
// The metadata bag carries every id the webhook needs to reconstruct the
// purchase: it is the only channel back into our domain.
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

		crs, err := course.Fetch(ctx, db, cn.CourseID)
		if err != nil {
			if errors.Is(err, course.ErrNotFound) {
				return weberr.NotFound(err)
			}
			return fmt.Errorf("fetching course[%s]: %w", cn.CourseID, err)
		}

		enrolled, err := IsEnrolled(ctx, db, crs.ID, cst.ID)
		if err != nil {
			return err
		}
		if enrolled {
			resp := struct {
				Message     string `json:"message"`
				RedirectURL string `json:"redirectUrl"`
			}{
				Message:     "You are already enrolled in this course.",
				RedirectURL: fmt.Sprintf("/courses/%s/watch/overview", crs.ID),
			}
			return web.Respond(ctx, w, resp, http.StatusOK)
		}

		params := &stripe.CheckoutSessionParams{
			SuccessURL:        stripe.String(cfg.SuccessURL),
			CancelURL:         stripe.String(cfg.CancelURL),
			Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
			CustomerEmail:     stripe.String(clm.Email),
			ClientReferenceID: stripe.String(clm.UserID),

			LineItems: []*stripe.CheckoutSessionLineItemParams{{
				Quantity: stripe.Int64(1),

				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String("usd"),
					UnitAmount: stripe.Int64(int64(crs.Price) * 100),

					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name:   stripe.String(crs.Name),
						Images: stripe.StringSlice([]string{crs.ThumbnailURL}),
					},
				},
			}},

			Params: stripe.Params{
				Metadata: map[string]string{
					"type":         "course",
					"courseId":     crs.ID,
					"instructorId": crs.InstructorID,
					"customerId":   cst.ID,
				},
			},
		}

		s, err := strp.CheckoutSessions.New(params)
		if err != nil {
			return fmt.Errorf("creating stripe session: %w", err)
		}

		resp := struct {
			Status string `json:"status"`
			ID     string `json:"id"`
		}{Status: "success", ID: s.ID}

		return web.Respond(ctx, w, resp, http.StatusOK)
	}
}

// HandlePaypalCheckout is the alternate gateway for course purchases. The
// course id travels as the purchase unit's reference id since PayPal has no
// webhook branch here: capture fulfills synchronously.
func HandlePaypalCheckout(db *sqlx.DB, pp *paypal.Client) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		var cn CheckoutNew
		if err := web.Decode(w, r, &cn); err != nil {
			return weberr.BadRequest(fmt.Errorf("unable to decode payload: %w", err))
		}

		if err := validate.Check(cn); err != nil {
			return weberr.NewError(err, err.Error(), http.StatusUnprocessableEntity)
		}

		_, cst, err := requireCustomer(ctx, db)
		if err != nil {
			return err
		}

		crs, err := course.Fetch(ctx, db, cn.CourseID)
		if err != nil {
			if errors.Is(err, course.ErrNotFound) {
				return weberr.NotFound(err)
			}
			return fmt.Errorf("fetching course[%s]: %w", cn.CourseID, err)
		}

		enrolled, err := IsEnrolled(ctx, db, crs.ID, cst.ID)
		if err != nil {
			return err
		}
		if enrolled {
			err := errors.New("already enrolled in this course")
			return weberr.NewError(err, err.Error(), http.StatusUnprocessableEntity)
		}

		// The course id rides along as the unit's reference and is read
		// back from the order after capture.
		units := []paypal.PurchaseUnitRequest{{
			ReferenceID: crs.ID,

			Items: []paypal.Item{{
				Quantity:    "1",
				Name:        crs.Name,
				Description: crs.Description,

				UnitAmount: &paypal.Money{
					Currency: "USD",
					Value:    strconv.Itoa(crs.Price),
				},
			}},

			Amount: &paypal.PurchaseUnitAmount{
				Currency: "USD",
				Value:    strconv.Itoa(crs.Price),

				Breakdown: &paypal.PurchaseUnitAmountBreakdown{ItemTotal: &paypal.Money{
					Currency: "USD",
					Value:    strconv.Itoa(crs.Price),
				}},
			},
		}}

		ord, err := pp.CreateOrder(ctx, "CAPTURE", units, nil, &paypal.ApplicationContext{})
		if err != nil {
			return fmt.Errorf("creating paypal order: %w", err)
		}

		return web.Respond(ctx, w, ord, http.StatusOK)
	}
}

func HandlePaypalCapture(db *sqlx.DB, pp *paypal.Client) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		orderID := web.Param(r, "id")

		_, cst, err := requireCustomer(ctx, db)
		if err != nil {
			return err
		}

		resp, err := pp.CaptureOrder(ctx, orderID, paypal.CaptureOrderRequest{})
		if err != nil {
			return fmt.Errorf("capturing paypal order[%s]: %w", orderID, err)
		}

		if resp.Status != "COMPLETED" {
			return fmt.Errorf("captured order[%s] with status[%s] different from 'COMPLETED'", orderID, resp.Status)
		}

		ord, err := pp.GetOrder(ctx, orderID)
		if err != nil {
			return fmt.Errorf("fetching captured order[%s]: %w", orderID, err)
		}

		var courseID string
		for _, pu := range ord.PurchaseUnits {
			if pu.ReferenceID != "" {
				courseID = pu.ReferenceID
				break
			}
		}
		if courseID == "" {
			return weberr.BadRequest(fmt.Errorf("captured order[%s] carries no course reference", orderID))
		}

		crs, err := course.Fetch(ctx, db, courseID)
		if err != nil {
			return fmt.Errorf("fetching course[%s] of captured order: %w", courseID, err)
		}

		if err := Fulfill(ctx, db, crs.ID, crs.InstructorID, cst.ID, crs.Price); err != nil {
			return fmt.Errorf("the order was payed but its fulfillment failed: %w", err)
		}

		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}
}

func HandleListByCustomer(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		_, cst, err := requireCustomer(ctx, db)
		if err != nil {
			return err
		}

		es, err := FetchByCustomer(ctx, db, cst.ID)
		if err != nil {
			return err
		}

		courseIDs := make([]string, 0, len(es))
		for _, e := range es {
			courseIDs = append(courseIDs, e.CourseID)
		}

		resp := struct {
			Status    string   `json:"status"`
			CourseIDs []string `json:"courseIds"`
		}{Status: "success", CourseIDs: courseIDs}

		return web.Respond(ctx, w, resp, http.StatusOK)
	}
}

func requireCustomer(ctx context.Context, db *sqlx.DB) (claims.Claims, customer.Customer, error) {
	clm, err := claims.Get(ctx)
	if err != nil {
		return claims.Claims{}, customer.Customer{}, weberr.NotAuthorized(errors.New("user not authenticated"))
	}

	// Downstream tables key on the customer profile, not the account.
	cst, err := customer.FetchByUserID(ctx, db, clm.UserID)
	if err != nil {
		if errors.Is(err, customer.ErrNotFound) {
			return claims.Claims{}, customer.Customer{}, weberr.NotFound(err)
		}
		return claims.Claims{}, customer.Customer{}, fmt.Errorf("fetching customer profile: %w", err)
	}

	return clm, cst, nil
}
