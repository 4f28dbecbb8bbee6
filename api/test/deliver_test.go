package test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/agteach/marketplace/core/purchase"
	"github.com/agteach/marketplace/database"
	"github.com/agteach/marketplace/validate"
	"github.com/jmoiron/sqlx"
)

type deliverTest struct {
	*TestEnv
}

func TestDeliver(t *testing.T) {
	env, err := NewTestEnv(t, "deliver_test")
	if err != nil {
		t.Fatalf("initializing test env: %v", err)
	}
	dt := &deliverTest{env}

	p := env.createProduct(t, "Seed kit", 10, 3)

	var purchased purchase.Purchased
	err = database.Transaction(env.DB, func(tx sqlx.ExtContext) error {
		lines := []purchase.Line{{Product: p, Quantity: 2}}
		purchased, err = purchase.Fulfill(context.Background(), tx, env.CustomerID, 20, lines, time.Now().UTC())
		return err
	})
	if err != nil {
		t.Fatalf("fulfilling purchase: %v", err)
	}

	dt.testCustomerListing(t, purchased.ID)

	env.Login(instructorEmail)
	defer env.Logout()

	dt.testDeliverOK(t, purchased.ID)
	dt.testDeliverTwice(t, purchased.ID)
	dt.testDeliverUnknown(t)
}

func (dt *deliverTest) patchDeliver(t *testing.T, purchasedID string) *http.Response {
	t.Helper()

	body, err := json.Marshal(map[string]string{
		"purchasedId":   purchasedID,
		"customerEmail": customerEmail,
	})
	if err != nil {
		t.Fatal(err)
	}

	r, err := http.NewRequest(http.MethodPatch, dt.URL+"/api/purchased/updateDeliver", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	r.Header.Set("Content-Type", "application/json")

	w, err := dt.Client().Do(r)
	if err != nil {
		t.Fatal(err)
	}
	return w
}

func (dt *deliverTest) testCustomerListing(t *testing.T, purchasedID string) {
	dt.Login(customerEmail)
	defer dt.Logout()

	w, err := dt.Client().Get(dt.URL + "/api/purchased/getCustomerPurchased")
	if err != nil {
		t.Fatal(err)
	}
	defer w.Body.Close()

	if w.StatusCode != http.StatusOK {
		t.Fatalf("purchase listing: want 200, got %s", w.Status)
	}

	var resp struct {
		Status    string             `json:"status"`
		Purchased []purchase.History `json:"purchased"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Purchased) != 1 || resp.Purchased[0].ID != purchasedID {
		t.Fatalf("purchase listing: %+v", resp.Purchased)
	}
	if len(resp.Purchased[0].Details) != 1 {
		t.Fatalf("want 1 detail, got %d", len(resp.Purchased[0].Details))
	}
}

func (dt *deliverTest) testDeliverOK(t *testing.T, purchasedID string) {
	w := dt.patchDeliver(t, purchasedID)
	defer w.Body.Close()

	if w.StatusCode != http.StatusOK {
		t.Fatalf("deliver: want 200, got %s", w.Status)
	}

	var delivered bool
	const q = `SELECT bool_and(is_delivered) FROM product_sale_history WHERE purchased_id = $1`
	if err := dt.DB.Get(&delivered, q, purchasedID); err != nil {
		t.Fatal(err)
	}
	if !delivered {
		t.Fatal("sale rows must be marked delivered")
	}

	sends := dt.Mailer.waitFor(t, 1)
	if sends[0].To != customerEmail || sends[0].TemplateID != "d-deliver" {
		t.Fatalf("unexpected delivery mail: %+v", sends[0])
	}
}

func (dt *deliverTest) testDeliverTwice(t *testing.T, purchasedID string) {
	w := dt.patchDeliver(t, purchasedID)
	defer w.Body.Close()

	if w.StatusCode != http.StatusBadRequest {
		t.Fatalf("second deliver: want 400, got %s", w.Status)
	}

	// Still exactly one delivery mail.
	sends := dt.Mailer.waitFor(t, 1)
	if len(sends) != 1 {
		t.Fatalf("second deliver must not mail again, got %d sends", len(sends))
	}
}

func (dt *deliverTest) testDeliverUnknown(t *testing.T) {
	w := dt.patchDeliver(t, validate.GenerateID())
	defer w.Body.Close()

	if w.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown purchase: want 404, got %s", w.Status)
	}
}
