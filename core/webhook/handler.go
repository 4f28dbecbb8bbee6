// Package webhook processes Stripe payment-completion events. It is
// the only endpoint that answers plain text instead of the JSON error
// envelope: Stripe expects `Webhook Error: <detail>` on a bad
// signature.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/agteach/marketplace/api/background"
	"github.com/agteach/marketplace/api/web"
	"github.com/agteach/marketplace/api/weberr"
	"github.com/agteach/marketplace/config"
	"github.com/agteach/marketplace/core/enrollment"
	"github.com/agteach/marketplace/core/product"
	"github.com/agteach/marketplace/core/purchase"
	"github.com/agteach/marketplace/database"
	"github.com/agteach/marketplace/email"
	"github.com/agteach/marketplace/validate"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v74"
	stripecl "github.com/stripe/stripe-go/v74/client"
	stripewh "github.com/stripe/stripe-go/v74/webhook"
)

// Stripe signs at most 64KB of payload.
const maxBodyBytes = int64(65536)

var errAlreadySeen = errors.New("event already processed")

type received struct {
	Received bool `json:"received"`
}

// Handle verifies, dedupes and fulfills checkout.session.completed
// events. Fulfillment writes and the dedupe marker share one
// transaction, so either the whole purchase lands exactly once or the
// event stays unprocessed for Stripe's retry.
func Handle(db *sqlx.DB, strp *stripecl.API, cfg config.Stripe, mailer email.Sender, bg *background.Background, emailCfg config.Email, log logrus.FieldLogger) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		payload, err := io.ReadAll(r.Body)
		if err != nil {
			return weberr.BadRequest(fmt.Errorf("reading webhook payload: %w", err))
		}

		event, err := stripewh.ConstructEvent(payload, r.Header.Get("Stripe-Signature"), cfg.WebhookSecret)
		if err != nil {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprintf(w, "Webhook Error: %v", err)
			return nil
		}

		if event.Type != "checkout.session.completed" {
			return web.Respond(ctx, w, received{true}, http.StatusOK)
		}

		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return weberr.BadRequest(fmt.Errorf("parsing checkout session: %w", err))
		}

		switch session.Metadata["type"] {
		case "course":
			err = fulfillCourse(ctx, db, event.ID, session, mailer, bg, emailCfg)
		case "product":
			err = fulfillProduct(ctx, db, strp, event.ID, session, mailer, bg, emailCfg)
		default:
			log.Warnf("webhook: event[%s] session[%s] carries unknown type[%s]", event.ID, session.ID, session.Metadata["type"])
		}

		if errors.Is(err, errAlreadySeen) {
			return web.Respond(ctx, w, received{true}, http.StatusOK)
		}
		if err != nil {
			return err
		}

		return web.Respond(ctx, w, received{true}, http.StatusOK)
	}
}

func fulfillCourse(ctx context.Context, db *sqlx.DB, eventID string, session stripe.CheckoutSession, mailer email.Sender, bg *background.Background, emailCfg config.Email) error {
	courseID := session.Metadata["courseId"]
	instructorID := session.Metadata["instructorId"]
	customerID := session.Metadata["customerId"]
	if courseID == "" || instructorID == "" || customerID == "" {
		return weberr.BadRequest(fmt.Errorf("session[%s] is missing course metadata", session.ID))
	}

	now := time.Now().UTC()

	err := database.Transaction(db, func(tx sqlx.ExtContext) error {
		fresh, err := MarkProcessed(ctx, tx, eventID, now)
		if err != nil {
			return err
		}
		if !fresh {
			return errAlreadySeen
		}

		sale := enrollment.CourseSaleHistory{
			ID:           validate.GenerateID(),
			CourseID:     courseID,
			InstructorID: instructorID,
			CustomerID:   customerID,
			Price:        int(session.AmountTotal / 100),
			CreatedAt:    now,
		}
		if err := enrollment.CreateSale(ctx, tx, sale); err != nil {
			return err
		}

		enr := enrollment.Enroll{
			ID:         validate.GenerateID(),
			CourseID:   courseID,
			CustomerID: customerID,
			CreatedAt:  now,
		}
		return enrollment.CreateEnroll(ctx, tx, enr)
	})
	if err != nil {
		return err
	}

	if to := sessionEmail(session); to != "" {
		bg.Go("enroll-email", func() error {
			data := map[string]any{"courseId": courseID}
			return mailer.Send(context.Background(), to, "You are enrolled", emailCfg.EnrollTemplateID, data)
		})
	}

	return nil
}

func fulfillProduct(ctx context.Context, db *sqlx.DB, strp *stripecl.API, eventID string, session stripe.CheckoutSession, mailer email.Sender, bg *background.Background, emailCfg config.Email) error {
	customerID := session.Metadata["customerId"]
	if customerID == "" {
		return weberr.BadRequest(fmt.Errorf("session[%s] is missing product metadata", session.ID))
	}

	lines, err := sessionLines(ctx, db, strp, session.ID)
	if err != nil {
		return err
	}

	// Snapshot check before touching anything: one short item fails the
	// whole purchase. The CAS decrement inside the transaction
	// re-verifies under concurrency.
	for _, ln := range lines {
		if ln.Product.Quantity < ln.Quantity {
			err := fmt.Errorf("product[%s] has %d in stock, %d requested", ln.Product.ID, ln.Product.Quantity, ln.Quantity)
			return weberr.Conflict(err, "insufficient stock")
		}
	}

	now := time.Now().UTC()

	err = database.Transaction(db, func(tx sqlx.ExtContext) error {
		fresh, err := MarkProcessed(ctx, tx, eventID, now)
		if err != nil {
			return err
		}
		if !fresh {
			return errAlreadySeen
		}

		_, err = purchase.Fulfill(ctx, tx, customerID, int(session.AmountTotal/100), lines, now)
		return err
	})
	if err != nil {
		if errors.Is(err, product.ErrInsufficientStock) {
			return weberr.Conflict(err, "insufficient stock")
		}
		return err
	}

	if to := sessionEmail(session); to != "" {
		bg.Go("purchase-email", func() error {
			data := map[string]any{"total": int(session.AmountTotal / 100)}
			return mailer.Send(context.Background(), to, "Thanks for your purchase", emailCfg.PurchaseTemplateID, data)
		})
	}

	return nil
}

// sessionLines lists the session's line items from Stripe, expanding
// the product objects so the product_id metadata set at checkout time
// is available, and joins them with the current product rows.
func sessionLines(ctx context.Context, db *sqlx.DB, strp *stripecl.API, sessionID string) ([]purchase.Line, error) {
	params := &stripe.CheckoutSessionListLineItemsParams{
		Session: stripe.String(sessionID),
	}
	params.Context = ctx
	params.AddExpand("data.price.product")

	type rawLine struct {
		productID string
		quantity  int
	}

	var raw []rawLine
	iter := strp.CheckoutSessions.ListLineItems(params)
	for iter.Next() {
		li := iter.LineItem()
		if li.Price == nil || li.Price.Product == nil {
			return nil, fmt.Errorf("session[%s] line item[%s] has no expanded product", sessionID, li.ID)
		}

		id := li.Price.Product.Metadata["product_id"]
		if id == "" {
			return nil, fmt.Errorf("session[%s] line item[%s] has no product_id metadata", sessionID, li.ID)
		}

		raw = append(raw, rawLine{productID: id, quantity: int(li.Quantity)})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("listing line items of session[%s]: %w", sessionID, err)
	}

	ids := make([]string, 0, len(raw))
	for _, r := range raw {
		ids = append(ids, r.productID)
	}

	prods, err := product.FetchByIDs(ctx, db, ids)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]product.Product, len(prods))
	for _, p := range prods {
		byID[p.ID] = p
	}

	lines := make([]purchase.Line, 0, len(raw))
	for _, r := range raw {
		p, ok := byID[r.productID]
		if !ok {
			return nil, fmt.Errorf("session[%s] references unknown product[%s]", sessionID, r.productID)
		}
		lines = append(lines, purchase.Line{Product: p, Quantity: r.quantity})
	}

	return lines, nil
}

func sessionEmail(session stripe.CheckoutSession) string {
	if session.CustomerDetails != nil && session.CustomerDetails.Email != "" {
		return session.CustomerDetails.Email
	}
	return session.CustomerEmail
}
