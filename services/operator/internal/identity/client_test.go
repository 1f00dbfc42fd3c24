package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestServiceCredential(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.Form.Get("grant_type") != "client_credentials" {
			t.Errorf("unexpected grant_type %q", r.Form.Get("grant_type"))
		}
		if r.Form.Get("client_id") != "operator" {
			t.Errorf("unexpected client_id %q", r.Form.Get("client_id"))
		}
		if r.Form.Get("audience") != "https://ledger.example.com" {
			t.Errorf("unexpected audience %q", r.Form.Get("audience"))
		}
		json.NewEncoder(w).Encode(map[string]any{"access_token": "tok-1", "expires_in": 3600})
	}))
	defer server.Close()

	client := NewClient(server.URL, "operator", "secret", "https://ledger.example.com", nil)
	token, err := client.ServiceCredential(context.Background())
	if err != nil {
		t.Fatalf("service credential: %v", err)
	}
	if token != "tok-1" {
		t.Fatalf("expected tok-1, got %q", token)
	}
}

func TestServiceCredentialErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid_client", http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewClient(server.URL, "operator", "wrong", "", nil)
	if _, err := client.ServiceCredential(context.Background()); err == nil {
		t.Fatalf("expected error for non-200 response")
	}
}

func TestServiceCredentialEmptyToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"token_type": "Bearer"})
	}))
	defer server.Close()

	client := NewClient(server.URL, "operator", "secret", "", nil)
	if _, err := client.ServiceCredential(context.Background()); err == nil {
		t.Fatalf("expected error for empty access_token")
	}
}

func TestStaticTokenSource(t *testing.T) {
	source := StaticTokenSource{Token: "static-tok"}
	token, err := source.ServiceCredential(context.Background())
	if err != nil {
		t.Fatalf("static source: %v", err)
	}
	if token != "static-tok" {
		t.Fatalf("expected static-tok, got %q", token)
	}

	empty := StaticTokenSource{}
	if _, err := empty.ServiceCredential(context.Background()); err == nil {
		t.Fatalf("expected error for unset static token")
	}
}
