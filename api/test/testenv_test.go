package test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/agteach/marketplace/api"
	"github.com/agteach/marketplace/api/background"
	"github.com/agteach/marketplace/api/web"
	"github.com/agteach/marketplace/config"
	"github.com/agteach/marketplace/database"
	"github.com/agteach/marketplace/rate"
	"github.com/alexedwards/scs/v2"
	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	"github.com/plutov/paypal/v4"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v74"
	stripecl "github.com/stripe/stripe-go/v74/client"
	mock "github.com/stripe/stripe-mock/param"
)

const (
	customerEmail   = "customer@agteach.site"
	instructorEmail = "instructor@agteach.site"
	testPassword    = "pass-word-123"

	webhookSecret = "whsec_test_secret"
)

type TestEnv struct {
	t   *testing.T
	jar *cookiejar.Jar

	DB     *sqlx.DB
	Server *httptest.Server
	URL    string

	Stripe  *mockStripe
	Paypal  *mockPaypal
	Mailer  *mockMailer
	Storage *mockStorage

	CustomerID   string
	InstructorID string
}

func NewTestEnv(t *testing.T, dbName string) (*TestEnv, error) {
	admin, err := database.Open(database.Config{
		User:       "postgres",
		Password:   "postgres",
		Host:       pgHost,
		Name:       "postgres",
		DisableTLS: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening admin connection: %w", err)
	}
	defer admin.Close()

	if _, err := admin.Exec("CREATE DATABASE " + dbName); err != nil {
		return nil, fmt.Errorf("creating database %s: %w", dbName, err)
	}

	db, err := database.Open(database.Config{
		User:       "postgres",
		Password:   "postgres",
		Host:       pgHost,
		Name:       dbName,
		DisableTLS: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", dbName, err)
	}
	t.Cleanup(func() { db.Close() })

	if err := database.Migrate(db); err != nil {
		return nil, fmt.Errorf("migrating %s: %w", dbName, err)
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	ms := &mockStripe{}
	stripeSrv := httptest.NewServer(ms.handle())
	t.Cleanup(stripeSrv.Close)

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:           stripe.String(stripeSrv.URL),
		LeveledLogger: &stripe.LeveledLogger{Level: stripe.LevelError},
	})
	strp := &stripecl.API{}
	strp.Init("sk_test_123", &stripe.Backends{API: backend, Connect: backend, Uploads: backend})

	mp := &mockPaypal{}
	paypalSrv := httptest.NewServer(mp.handle())
	t.Cleanup(paypalSrv.Close)

	pp, err := paypal.NewClient("client-id", "client-secret", paypalSrv.URL)
	if err != nil {
		return nil, fmt.Errorf("building paypal client: %w", err)
	}
	if _, err := pp.GetAccessToken(context.Background()); err != nil {
		return nil, fmt.Errorf("fetching paypal token: %w", err)
	}

	mailer := &mockMailer{}
	store := newMockStorage()
	bg := background.New(logger)

	session := scs.New()
	session.Lifetime = time.Hour

	mux := api.APIMux(api.APIConfig{
		Log:        logger,
		DB:         db,
		Session:    session,
		Background: bg,
		Paypal:     pp,
		Stripe:     strp,
		StripeCfg: config.Stripe{
			WebhookSecret: webhookSecret,
			SuccessURL:    "https://test.agteach.site/success",
			CancelURL:     "https://test.agteach.site/cancel",
		},
		Storage:  store,
		Mailer:   mailer,
		EmailCfg: config.Email{EnrollTemplateID: "d-enroll", PurchaseTemplateID: "d-purchase", DeliverTemplateID: "d-deliver"},
		Limiter:  rate.NewLimiter(100, 300, 100),
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	env := &TestEnv{
		t:       t,
		jar:     jar,
		DB:      db,
		Server:  srv,
		URL:     srv.URL,
		Stripe:  ms,
		Paypal:  mp,
		Mailer:  mailer,
		Storage: store,
	}

	if env.CustomerID, err = env.signup(customerEmail, "CUSTOMER", "customer"); err != nil {
		return nil, err
	}
	if env.InstructorID, err = env.signup(instructorEmail, "INSTRUCTOR", "instructor"); err != nil {
		return nil, err
	}
	env.Logout()

	return env, nil
}

func (env *TestEnv) Client() *http.Client {
	return &http.Client{Jar: env.jar}
}

// signup registers an account through the API and resolves the profile
// id the signup transaction created for it.
func (env *TestEnv) signup(email, role, table string) (string, error) {
	body, err := json.Marshal(map[string]string{
		"email":    email,
		"password": testPassword,
		"role":     role,
	})
	if err != nil {
		return "", err
	}

	w, err := env.Client().Post(env.URL+"/api/auth/signup", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer w.Body.Close()

	if w.StatusCode != http.StatusCreated && w.StatusCode != http.StatusOK {
		return "", fmt.Errorf("signing up %s: status %s", email, w.Status)
	}

	var id string
	q := fmt.Sprintf("SELECT %s_id FROM %s WHERE email = $1", table, table)
	if err := env.DB.Get(&id, q, email); err != nil {
		return "", fmt.Errorf("resolving %s profile of %s: %w", table, email, err)
	}

	return id, nil
}

func (env *TestEnv) Login(email string) {
	env.t.Helper()

	body, err := json.Marshal(map[string]string{"email": email, "password": testPassword})
	if err != nil {
		env.t.Fatal(err)
	}

	w, err := env.Client().Post(env.URL+"/api/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		env.t.Fatal(err)
	}
	defer w.Body.Close()

	if w.StatusCode != http.StatusOK {
		env.t.Fatalf("logging in %s: status %s", email, w.Status)
	}
}

func (env *TestEnv) Logout() {
	w, err := env.Client().Post(env.URL+"/api/auth/logout", "application/json", nil)
	if err != nil {
		env.t.Fatal(err)
	}
	w.Body.Close()
}

type sentMail struct {
	To         string
	TemplateID string
}

type mockMailer struct {
	mu       sync.Mutex
	err      error
	attempts int
	Sends    []sentMail
}

// failWith makes every following Send return err until reset with nil.
func (m *mockMailer) failWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *mockMailer) Send(ctx context.Context, to, subject, templateID string, data map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
	if m.err != nil {
		return m.err
	}
	m.Sends = append(m.Sends, sentMail{To: to, TemplateID: templateID})
	return nil
}

// waitFor polls until the background sender has delivered n mails.
func (m *mockMailer) waitFor(t *testing.T, n int) []sentMail {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for {
		m.mu.Lock()
		sends := append([]sentMail(nil), m.Sends...)
		m.mu.Unlock()

		if len(sends) >= n {
			return sends
		}
		if time.Now().After(deadline) {
			t.Fatalf("want %d sent mails, got %d", n, len(sends))
		}
		time.Sleep(20 * time.Millisecond)
	}
}

// waitAttempts polls until the background sender has tried n sends,
// delivered or not.
func (m *mockMailer) waitAttempts(t *testing.T, n int) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for {
		m.mu.Lock()
		got := m.attempts
		m.mu.Unlock()

		if got >= n {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("want %d send attempts, got %d", n, got)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

type mockStorage struct {
	mu      sync.Mutex
	objects map[string][]byte

	uploadsLeft int
	uploadErr   error
}

func newMockStorage() *mockStorage {
	return &mockStorage{objects: make(map[string][]byte)}
}

// failUploadAfter makes the nth following Upload call return err, one
// time only.
func (m *mockStorage) failUploadAfter(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploadsLeft = n
	m.uploadErr = err
}

func (m *mockStorage) Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	b, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.uploadErr != nil {
		m.uploadsLeft--
		if m.uploadsLeft <= 0 {
			err := m.uploadErr
			m.uploadErr = nil
			return "", err
		}
	}

	m.objects[key] = b
	return m.PublicURL(key), nil
}

func (m *mockStorage) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *mockStorage) DeletePrefix(ctx context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.objects {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(m.objects, key)
		}
	}
	return nil
}

func (m *mockStorage) PublicURL(key string) string {
	return "https://cdn.test/" + key
}

func (m *mockStorage) KeyFromURL(url string) string {
	const prefix = "https://cdn.test/"
	if len(url) > len(prefix) && url[:len(prefix)] == prefix {
		return url[len(prefix):]
	}
	return url
}

func (m *mockStorage) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok
}

// mockLine is one line item the fake Stripe backend serves when the
// webhook lists a session's items.
type mockLine struct {
	ProductID string
	Price     int
	Quantity  int
}

type mockStripe struct {
	mu sync.Mutex

	// Sessions holds the parsed params of every created checkout
	// session, oldest first.
	Sessions []map[string]any

	// LineItems is what GET .../line_items answers with, any session.
	LineItems []mockLine
}

func (m *mockStripe) lastSession() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Sessions) == 0 {
		return nil
	}
	return m.Sessions[len(m.Sessions)-1]
}

func (m *mockStripe) handle() http.Handler {
	createSession := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		params, err := mock.ParseParams(r)
		if err != nil {
			web.Respond(context.Background(), w, nil, 400)
			return
		}

		m.mu.Lock()
		m.Sessions = append(m.Sessions, params)
		n := len(m.Sessions)
		m.mu.Unlock()

		obj := map[string]any{
			"id":     fmt.Sprintf("cs_test_%d", n),
			"object": "checkout.session",
			"url":    fmt.Sprintf("https://checkout.stripe.test/cs_test_%d", n),
		}
		web.Respond(context.Background(), w, obj, 200)
	})

	getSession := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		obj := map[string]any{
			"id":             id,
			"object":         "checkout.session",
			"amount_total":   5000,
			"payment_intent": "pi_test_1",
		}
		web.Respond(context.Background(), w, obj, 200)
	})

	listLineItems := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		lines := append([]mockLine(nil), m.LineItems...)
		m.mu.Unlock()

		data := make([]map[string]any, 0, len(lines))
		for i, ln := range lines {
			data = append(data, map[string]any{
				"id":       fmt.Sprintf("li_%d", i),
				"object":   "item",
				"quantity": ln.Quantity,
				"price": map[string]any{
					"id":          fmt.Sprintf("price_%d", i),
					"object":      "price",
					"unit_amount": ln.Price * 100,
					"product": map[string]any{
						"id":       fmt.Sprintf("prod_%d", i),
						"object":   "product",
						"metadata": map[string]string{"product_id": ln.ProductID},
					},
				},
			})
		}

		obj := map[string]any{
			"object":   "list",
			"data":     data,
			"has_more": false,
			"url":      r.URL.Path,
		}
		web.Respond(context.Background(), w, obj, 200)
	})

	getIntent := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		obj := map[string]any{
			"id":     mux.Vars(r)["id"],
			"object": "payment_intent",
			"status": "succeeded",
		}
		web.Respond(context.Background(), w, obj, 200)
	})

	r := mux.NewRouter()
	r.Handle("/v1/checkout/sessions", createSession).Methods("POST")
	r.Handle("/v1/checkout/sessions/{id}/line_items", listLineItems).Methods("GET")
	r.Handle("/v1/checkout/sessions/{id}", getSession).Methods("GET")
	r.Handle("/v1/payment_intents/{id}", getIntent).Methods("GET")
	return r
}

type mockPaypal struct {
	mu sync.Mutex

	// Orders maps created order ids to the reference id they carry.
	Orders map[string]string
}

func (m *mockPaypal) handle() http.Handler {
	token := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		obj := map[string]any{"access_token": "test-token", "token_type": "Bearer", "expires_in": 3600}
		web.Respond(context.Background(), w, obj, 200)
	})

	createOrder := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Units []paypal.PurchaseUnitRequest `json:"purchase_units"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Units) != 1 {
			web.Respond(context.Background(), w, nil, 400)
			return
		}

		m.mu.Lock()
		if m.Orders == nil {
			m.Orders = make(map[string]string)
		}
		id := fmt.Sprintf("paypal-%d", len(m.Orders)+1)
		m.Orders[id] = req.Units[0].ReferenceID
		m.mu.Unlock()

		web.Respond(context.Background(), w, paypal.Order{ID: id}, 201)
	})

	capture := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		m.mu.Lock()
		ref, ok := m.Orders[id]
		m.mu.Unlock()
		if !ok {
			web.Respond(context.Background(), w, nil, 404)
			return
		}

		obj := map[string]any{
			"id":     id,
			"status": "COMPLETED",
			"purchase_units": []map[string]any{
				{"reference_id": ref},
			},
		}
		web.Respond(context.Background(), w, obj, 201)
	})

	getOrder := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		m.mu.Lock()
		ref, ok := m.Orders[id]
		m.mu.Unlock()
		if !ok {
			web.Respond(context.Background(), w, nil, 404)
			return
		}

		obj := map[string]any{
			"id":     id,
			"status": "COMPLETED",
			"purchase_units": []map[string]any{
				{"reference_id": ref},
			},
		}
		web.Respond(context.Background(), w, obj, 200)
	})

	r := mux.NewRouter()
	r.Handle("/v1/oauth2/token", token).Methods("POST")
	r.Handle("/v2/checkout/orders", createOrder).Methods("POST")
	r.Handle("/v2/checkout/orders/{id}/capture", capture).Methods("POST")
	r.Handle("/v2/checkout/orders/{id}", getOrder).Methods("GET")
	return r
}
