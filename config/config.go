package config

import (
	"time"

	"github.com/agteach/marketplace/database"
)

type Config struct {
	Web     Web
	Cors    Cors
	DB      database.Config
	Stripe  Stripe
	Paypal  Paypal
	Email   Email
	Storage Storage
	Auth    Auth
	Rate    Rate
}

type Web struct {
	Address         string        `conf:"default:0.0.0.0:8000"`
	ReadTimeout     time.Duration `conf:"default:5s"`
	WriteTimeout    time.Duration `conf:"default:10s"`
	IdleTimeout     time.Duration `conf:"default:120s"`
	ShutdownTimeout time.Duration `conf:"default:20s"`
}

type Cors struct {
	Origin string
}

type Stripe struct {
	APISecret     string `conf:"mask"`
	WebhookSecret string `conf:"mask"`
	SuccessURL    string `conf:"default:https://alphabeez.anbschool.org/success-payment?session_id={CHECKOUT_SESSION_ID}"`
	CancelURL     string `conf:"default:https://alphabeez.anbschool.org/fail-payment"`
}

type Paypal struct {
	ClientID string `conf:"mask"`
	Secret   string `conf:"mask"`
	URL      string `conf:"default:https://api.sandbox.paypal.com"`
}

type Email struct {
	APIKey             string `conf:"mask"`
	From               string `conf:"default:noreply@agteach.site"`
	BaseURL            string `conf:"default:https://api.sendgrid.com"`
	EnrollTemplateID   string
	PurchaseTemplateID string
	DeliverTemplateID  string
}

type Storage struct {
	CourseBucket  string `conf:"default:agteach-course-assets"`
	PublicBaseURL string `conf:"default:https://storage.googleapis.com"`
}

type Auth struct {
	SessionLifetime time.Duration `conf:"default:24h"`
}

type Rate struct {
	Burst     int     `conf:"default:20"`
	ExpirySec int     `conf:"default:300"`
	LimitRPS  float64 `conf:"default:5"`
}
