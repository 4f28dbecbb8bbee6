// Package payment exposes read access to gateway objects: the frontend
// polls the checkout session after redirect to show a receipt.
package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/agteach/marketplace/api/web"
	"github.com/agteach/marketplace/api/weberr"
	"github.com/stripe/stripe-go/v74"
	stripecl "github.com/stripe/stripe-go/v74/client"
)

func HandleShowSession(strp *stripecl.API) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		sessionID := web.Param(r, "id")
		if sessionID == "" {
			return weberr.BadRequest(fmt.Errorf("missing session id"))
		}

		s, err := strp.CheckoutSessions.Get(sessionID, nil)
		if err != nil {
			return asWebErr(fmt.Errorf("fetching session[%s]: %w", sessionID, err))
		}

		var pi *stripe.PaymentIntent
		if s.PaymentIntent != nil {
			pi, err = strp.PaymentIntents.Get(s.PaymentIntent.ID, nil)
			if err != nil {
				return asWebErr(fmt.Errorf("fetching payment intent of session[%s]: %w", sessionID, err))
			}
		}

		resp := struct {
			Status        string                  `json:"status"`
			Session       *stripe.CheckoutSession `json:"session"`
			PaymentIntent *stripe.PaymentIntent   `json:"paymentIntent,omitempty"`
		}{Status: "success", Session: s, PaymentIntent: pi}

		return web.Respond(ctx, w, resp, http.StatusOK)
	}
}

// asWebErr maps Stripe's not-found responses onto ours so a bad session
// id doesn't surface as a 500.
func asWebErr(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == http.StatusNotFound {
		return weberr.NotFound(err)
	}
	return err
}
