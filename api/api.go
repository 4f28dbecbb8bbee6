package api

import (
	"context"
	"net/http"

	"github.com/agteach/marketplace/api/background"
	"github.com/agteach/marketplace/api/middleware"
	"github.com/agteach/marketplace/api/web"
	"github.com/agteach/marketplace/api/weberr"
	"github.com/agteach/marketplace/config"
	"github.com/agteach/marketplace/core/auth"
	"github.com/agteach/marketplace/core/course"
	"github.com/agteach/marketplace/core/enrollment"
	"github.com/agteach/marketplace/core/payment"
	"github.com/agteach/marketplace/core/purchase"
	"github.com/agteach/marketplace/core/webhook"
	"github.com/agteach/marketplace/database"
	"github.com/agteach/marketplace/email"
	"github.com/agteach/marketplace/rate"
	"github.com/agteach/marketplace/storage"
	"github.com/alexedwards/scs/v2"
	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	"github.com/plutov/paypal/v4"
	"github.com/sirupsen/logrus"
	stripecl "github.com/stripe/stripe-go/v74/client"
)

type APIConfig struct {
	CorsOrigin string
	Log        logrus.FieldLogger
	DB         *sqlx.DB
	Session    *scs.SessionManager
	Background *background.Background
	Paypal     *paypal.Client
	Stripe     *stripecl.API
	StripeCfg  config.Stripe
	Storage    storage.Client
	Mailer     email.Sender
	EmailCfg   config.Email
	Limiter    *rate.Limiter
}

type api struct {
	*mux.Router
	mw  []web.Middleware
	log logrus.FieldLogger
}

func APIMux(cfg APIConfig) http.Handler {
	a := &api{
		Router: mux.NewRouter(),
		log:    cfg.Log,
	}

	a.mw = append(a.mw, auth.LoadAndSave(cfg.Session))
	a.mw = append(a.mw, middleware.RequestID())
	a.mw = append(a.mw, middleware.Logger(cfg.Log))
	a.mw = append(a.mw, middleware.Errors(cfg.Log))
	a.mw = append(a.mw, middleware.Panics())

	if cfg.CorsOrigin != "" {
		a.mw = append(a.mw, middleware.Cors(cfg.CorsOrigin))

		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			w.WriteHeader(http.StatusNoContent)
			return nil
		}

		a.Handle(http.MethodOptions, "/{path:.*}", h)
	}

	customer := auth.Customer(cfg.Session)
	instructor := auth.Instructor(cfg.Session)
	limited := middleware.RateLimit(cfg.Limiter)

	a.Handle(http.MethodGet, "/api/readiness", handleReadiness(cfg.DB))

	a.Handle(http.MethodPost, "/api/auth/signup", auth.HandleSignup(cfg.DB, cfg.Session))
	a.Handle(http.MethodPost, "/api/auth/login", auth.HandleLogin(cfg.DB, cfg.Session))
	a.Handle(http.MethodPost, "/api/auth/logout", auth.HandleLogout(cfg.Session))

	a.Handle(http.MethodGet, "/api/course/getOneCourse/{id}", course.HandleShow(cfg.DB))
	a.Handle(http.MethodPost, "/api/course/uploadCourse", course.HandleUpload(cfg.DB, cfg.Storage, cfg.Log), instructor)
	a.Handle(http.MethodPatch, "/api/course/updateCourse/{id}", course.HandleUpdate(cfg.DB, cfg.Storage, cfg.Log), instructor)
	a.Handle(http.MethodDelete, "/api/course/deleteOneCourse/{id}", course.HandleDelete(cfg.DB, cfg.Storage, cfg.Log), instructor)

	a.Handle(http.MethodPost, "/api/enrollment/checkoutSession", enrollment.HandleCheckout(cfg.DB, cfg.Stripe, cfg.StripeCfg), customer, limited)
	a.Handle(http.MethodPost, "/api/enrollment/paypalCheckout", enrollment.HandlePaypalCheckout(cfg.DB, cfg.Paypal), customer, limited)
	a.Handle(http.MethodPost, "/api/enrollment/paypalCapture/{id}", enrollment.HandlePaypalCapture(cfg.DB, cfg.Paypal), customer)
	a.Handle(http.MethodGet, "/api/enrollment/getUserEnrollments", enrollment.HandleListByCustomer(cfg.DB), customer)

	a.Handle(http.MethodPost, "/api/purchased/productCheckoutSession", purchase.HandleCheckout(cfg.DB, cfg.Stripe, cfg.StripeCfg), customer, limited)
	a.Handle(http.MethodPatch, "/api/purchased/updateDeliver", purchase.HandleUpdateDeliver(cfg.DB, cfg.Mailer, cfg.Background, cfg.EmailCfg), instructor)
	a.Handle(http.MethodGet, "/api/purchased/getCustomerPurchased", purchase.HandleListByCustomer(cfg.DB), customer)

	a.Handle(http.MethodGet, "/api/payment/getCheckoutSession/{id}", payment.HandleShowSession(cfg.Stripe))

	// Stripe calls this one: no session, no auth gate, signature only.
	a.Handle(http.MethodPost, "/webhook/stripeWebhook", webhook.Handle(cfg.DB, cfg.Stripe, cfg.StripeCfg, cfg.Mailer, cfg.Background, cfg.EmailCfg, cfg.Log))

	return a.Router
}

// handleReadiness answers the deployment's health probe: 200 when the
// database responds, 503 otherwise.
func handleReadiness(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		if err := database.StatusCheck(ctx, db); err != nil {
			return weberr.NewError(err, "database not ready", http.StatusServiceUnavailable)
		}

		status := struct {
			Status string `json:"status"`
		}{Status: "ok"}

		return web.Respond(ctx, w, status, http.StatusOK)
	}
}

func (a *api) Handle(method string, path string, handler web.Handler, mw ...web.Middleware) {

	handler = web.WrapMiddleware(mw, handler)

	handler = web.WrapMiddleware(a.mw, handler)

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

		ctx := r.Context()

		if err := handler(ctx, w, r); err != nil {

			a.log.WithFields(logrus.Fields{
				"req_id":  middleware.ContextRequestID(ctx),
				"message": err,
			}).Error("ERROR")
		}
	})

	a.Router.Handle(path, h).Methods(method)
}
