package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jw6ventures/planner/internal/store"
)

func TestHTTPTransportRoundTrip(t *testing.T) {
	var gotToken, gotUser string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/calendar" {
			http.NotFound(w, r)
			return
		}
		gotUser = r.Header.Get("X-Forwarded-User")
		w.Header().Set(csrfHeader, "tok-1")
		w.Header().Set("Content-Type", "application/json")
		switch r.Method {
		case http.MethodGet:
			_ = json.NewEncoder(w).Encode(map[string]any{"events": []store.Event{{ID: "a", Title: "A"}}, "ranges": []store.Range{}})
		case http.MethodPut:
			gotToken = r.Header.Get(csrfHeader)
			var in Snapshot
			if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
				http.Error(w, "bad", http.StatusBadRequest)
				return
			}
			in.Events[0].RemoteEventID = "g-a"
			_ = json.NewEncoder(w).Encode(map[string]any{"events": in.Events, "ranges": in.Ranges, "sync": map[string]int{"updated": 1}})
		}
	}))
	defer srv.Close()

	tr := NewHTTPTransport(srv.URL+"/", srv.Client())
	tr.Header.Set("X-Forwarded-User", "u1")

	snap, err := tr.Load(context.Background())
	if err != nil || len(snap.Events) != 1 {
		t.Fatalf("Load() = %+v, %v", snap, err)
	}
	if gotUser != "u1" {
		t.Fatalf("identity header not forwarded: %q", gotUser)
	}

	snap.Events[0].Start = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	saved, err := tr.Save(context.Background(), snap)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if gotToken != "tok-1" {
		t.Fatalf("csrf token not echoed, got %q", gotToken)
	}
	if saved.Events[0].RemoteEventID != "g-a" {
		t.Fatalf("unexpected save response: %+v", saved)
	}
}

func TestHTTPTransportSync(t *testing.T) {
	var gotMethod, gotToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(csrfHeader, "tok-2")
		switch r.URL.Path {
		case "/calendar":
			_ = json.NewEncoder(w).Encode(map[string]any{"events": []store.Event{}, "ranges": []store.Range{}})
		case "/calendar/sync":
			gotMethod, gotToken = r.Method, r.Header.Get(csrfHeader)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"events":   []store.Event{{ID: "m", Title: "Imported", Origin: store.OriginRemote, RemoteEventID: "g-m"}},
				"ranges":   []store.Range{},
				"sync":     map[string]int{"imported": 1},
				"imported": 1,
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	tr := NewHTTPTransport(srv.URL, srv.Client())
	if _, err := tr.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	snap, err := tr.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if gotMethod != http.MethodPost || gotToken != "tok-2" {
		t.Fatalf("sync request = %s with token %q", gotMethod, gotToken)
	}
	if len(snap.Events) != 1 || !snap.Events[0].ReadOnly() {
		t.Fatalf("unexpected sync response: %+v", snap)
	}
}

func TestHTTPTransportStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	if _, err := NewHTTPTransport(srv.URL, nil).Save(context.Background(), Snapshot{}); err == nil {
		t.Fatal("expected error for 500 response")
	}
}
