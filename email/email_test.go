package email

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSend(t *testing.T) {
	var got mailRequest
	var auth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v3/mail/send" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding mail request: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	m := New("sg-key", "noreply@agteach.site", srv.URL)

	data := map[string]any{"courseId": "crs-1"}
	if err := m.Send(context.Background(), "customer@agteach.site", "You are enrolled", "d-enroll", data); err != nil {
		t.Fatalf("sending: %v", err)
	}

	if auth != "Bearer sg-key" {
		t.Errorf("authorization header: %q", auth)
	}
	if got.TemplateID != "d-enroll" || got.From.Email != "noreply@agteach.site" {
		t.Errorf("unexpected request: %+v", got)
	}
	if len(got.Personalizations) != 1 || got.Personalizations[0].To[0].Email != "customer@agteach.site" {
		t.Errorf("unexpected personalizations: %+v", got.Personalizations)
	}
	if got.Personalizations[0].TemplateData["courseId"] != "crs-1" {
		t.Errorf("template data: %+v", got.Personalizations[0].TemplateData)
	}
}

func TestSendFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"errors":[{"message":"bad template"}]}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	m := New("sg-key", "noreply@agteach.site", srv.URL)

	if err := m.Send(context.Background(), "x@y.z", "s", "d-missing", nil); err == nil {
		t.Fatal("want error on non-2xx response")
	}
}
