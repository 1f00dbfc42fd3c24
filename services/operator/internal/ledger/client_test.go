package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.Handler, tokens ...string) (*Client, *fakeTokenSource) {
	t.Helper()
	if len(tokens) == 0 {
		tokens = []string{"test-token"}
	}
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	source := &fakeTokenSource{tokens: tokens}
	creds := NewCredentialCache(source, nil)
	client := NewClient(server.URL, creds, 10*time.Second, nil)
	return client, source
}

func TestQueryDecodesRecords(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != queryPath {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("unexpected authorization header %q", got)
		}

		var req queryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if _, ok := req.Filter.ByOwner["operator::clob"]; !ok {
			t.Errorf("expected byOwner filter, got %+v", req.Filter)
		}

		json.NewEncoder(w).Encode(queryResponse{
			Records: []Record{
				{RecordID: "rec-1", TemplateID: TemplateOrderBook, CreateArguments: json.RawMessage(`{"pair":"BTC/USDT"}`)},
			},
			Offset: "42",
		})
	})

	client, _ := newTestClient(t, handler)
	records, err := client.Query(context.Background(), QueryFilter{
		ByOwner: map[string]OwnerFilter{"operator::clob": {IncludeTemplates: []string{TemplateOrderBook}}},
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(records) != 1 || records[0].RecordID != "rec-1" {
		t.Fatalf("unexpected records: %+v", records)
	}
}

func TestQueryDegradesToEmptyOnServerError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	client, _ := newTestClient(t, handler)
	records, err := client.Query(context.Background(), QueryFilter{})
	if err != nil {
		t.Fatalf("query should degrade, got error: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected empty result, got %d records", len(records))
	}
}

func TestQueryDegradesToEmptyOnTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	server.Close()

	source := &fakeTokenSource{tokens: []string{"test-token"}}
	client := NewClient(server.URL, NewCredentialCache(source, nil), 10*time.Second, nil)

	records, err := client.Query(context.Background(), QueryFilter{})
	if err != nil {
		t.Fatalf("query should degrade, got error: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected empty result, got %d records", len(records))
	}
}

func TestPingSucceeds(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(queryResponse{})
	})

	client, _ := newTestClient(t, handler)
	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestPingSurfacesUnreachableLedger(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	server.Close()

	source := &fakeTokenSource{tokens: []string{"test-token"}}
	client := NewClient(server.URL, NewCredentialCache(source, nil), 10*time.Second, nil)

	if err := client.Ping(context.Background()); err == nil {
		t.Fatalf("ping must fail when the ledger is unreachable")
	}
}

func TestPingSurfacesServerError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	client, _ := newTestClient(t, handler)
	if err := client.Ping(context.Background()); err == nil {
		t.Fatalf("ping must fail on a server error")
	}
}

func TestPingSurfacesCredentialFailure(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(queryResponse{})
	})
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	source := &fakeTokenSource{err: errors.New("idp down")}
	client := NewClient(server.URL, NewCredentialCache(source, nil), 10*time.Second, nil)

	if err := client.Ping(context.Background()); err == nil {
		t.Fatalf("ping must fail when no credential can be fetched")
	}
}

func TestSubmitSuccess(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != commandPath {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req commandRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.CommandID == "" || len(req.Actions) != 1 || len(req.ActingAs) != 1 {
			t.Errorf("unexpected command request: %+v", req)
		}
		json.NewEncoder(w).Encode(SubmitResult{UpdateID: "upd-1", CompletionOffset: "43"})
	})

	client, _ := newTestClient(t, handler)
	result, err := client.Submit(context.Background(), "cmd-1", []Action{{
		Kind:       ActionExercise,
		TemplateID: TemplateOrderBook,
		RecordID:   "book-1",
		Choice:     ChoiceMatchOrders,
		Argument:   MatchArgument{BuyOrderID: "b", SellOrderID: "s"},
	}}, []string{"operator::clob"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.UpdateID != "upd-1" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestSubmitRejectionSurfacesReasonVerbatim(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"error": "order already filled"})
	})

	client, _ := newTestClient(t, handler)
	_, err := client.Submit(context.Background(), "cmd-1", []Action{{Kind: ActionExercise}}, nil)
	if err == nil {
		t.Fatalf("expected rejection error")
	}

	var rej *RejectionError
	if !errors.As(err, &rej) {
		t.Fatalf("expected RejectionError, got %T", err)
	}
	if rej.Reason != "order already filled" {
		t.Fatalf("expected verbatim reason, got %q", rej.Reason)
	}
	if !IsConflict(err) {
		t.Fatalf("409 should classify as conflict")
	}
}

func TestIsConflictClassification(t *testing.T) {
	if !IsConflict(&RejectionError{Status: http.StatusBadRequest}) {
		t.Fatalf("400 should classify as conflict/already-applied")
	}
	if IsConflict(&RejectionError{Status: http.StatusInternalServerError}) {
		t.Fatalf("500 should not classify as conflict")
	}
	if IsConflict(errors.New("plain")) {
		t.Fatalf("non-rejection errors should not classify as conflict")
	}
}

func TestStaleCredentialRefreshedOnce(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer stale" {
			http.Error(w, "token expired", http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(SubmitResult{UpdateID: "upd-2"})
	})

	client, source := newTestClient(t, handler, "stale", "fresh")
	result, err := client.Submit(context.Background(), "cmd-2", []Action{{Kind: ActionExercise}}, nil)
	if err != nil {
		t.Fatalf("submit after refresh: %v", err)
	}
	if result.UpdateID != "upd-2" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if source.calls != 2 {
		t.Fatalf("expected exactly one refresh, got %d source calls", source.calls)
	}
}

func TestSubmitValidatesInput(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	if _, err := client.Submit(context.Background(), "", []Action{{Kind: ActionCreate}}, nil); err == nil {
		t.Fatalf("expected error for missing command id")
	}
	if _, err := client.Submit(context.Background(), "cmd", nil, nil); err == nil {
		t.Fatalf("expected error for empty actions")
	}
}
