package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"courier-simulator/internal/geo"
	"courier-simulator/internal/stops"
)

func TestMarkArrived(t *testing.T) {
	var gotPath string
	var gotBody arrivalRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	at := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	if err := c.MarkArrived(context.Background(), "stop 1", at); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotPath != "/stops/stop%201/arrival" && gotPath != "/stops/stop 1/arrival" {
		t.Errorf("path = %q", gotPath)
	}
	if !gotBody.ArrivedAt.Equal(at) {
		t.Errorf("arrivedAt = %v, want %v", gotBody.ArrivedAt, at)
	}
}

func TestSubmitProof(t *testing.T) {
	var got stops.Proof
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	proof := stops.Proof{
		StopID:      "s7",
		Recipient:   "recipient",
		Position:    geo.Coordinate{Lat: 43.263, Lng: -2.935},
		CompletedAt: time.Now().UTC().Truncate(time.Second),
	}
	c := NewClient(srv.URL)
	if err := c.SubmitProof(context.Background(), "s7", proof); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.StopID != "s7" || got.Position != proof.Position {
		t.Errorf("proof = %+v", got)
	}
}

func TestNon2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	if err := c.MarkArrived(context.Background(), "s1", time.Now()); err == nil {
		t.Fatal("expected error for 502 response")
	}
}

func TestContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	c := NewClient(srv.URL)
	if err := c.MarkArrived(ctx, "s1", time.Now()); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
