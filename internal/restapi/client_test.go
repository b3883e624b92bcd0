package restapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"smis/internal/student"
)

func writeJSON(t *testing.T, w http.ResponseWriter, status int, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("encode response: %v", err)
	}
}

func TestClientCreateSendsRequestAndToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/students" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-123" {
			t.Errorf("Authorization = %q", got)
		}
		var req StudentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if req.Name != "Alice" || req.RegNumber != "R100" {
			t.Errorf("unexpected body %+v", req)
		}
		writeJSON(t, w, http.StatusCreated, OK(APIStudent{ID: "remote-1", Name: req.Name, RegNumber: req.RegNumber}, "created"))
	}))
	defer srv.Close()

	c := New(srv.URL+"/api/", time.Second, func() string { return "tok-123" })
	id, err := c.Create(context.Background(), student.Record{Name: "Alice", RegistrationNumber: "R100", Course: "CS"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if id != "remote-1" {
		t.Errorf("id = %q, want remote-1", id)
	}
}

func TestClientListConvertsRecords(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, OK([]APIStudent{
			{ID: "r1", Name: "Alice", RegNumber: "R1", Course: "CS", UpdatedAt: 50},
		}, ""))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, nil)
	recs, err := c.List(context.Background())
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	got := recs[0]
	if got.RemoteID != "r1" || got.ID != "r1" || !got.IsSynced || got.UpdatedAt != 50 {
		t.Errorf("unexpected record %+v", got)
	}
}

func TestClientErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/students/missing":
			writeJSON(t, w, http.StatusNotFound, Fail("student not found"))
		case "/students/conflict":
			writeJSON(t, w, http.StatusConflict, Fail("registration number already exists"))
		default:
			writeJSON(t, w, http.StatusOK, Response[APIStudent]{Success: false, Error: "rejected"})
		}
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, nil)
	ctx := context.Background()

	if _, err := c.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get missing: expected ErrNotFound, got %v", err)
	}

	err := c.Update(ctx, student.Record{RemoteID: "conflict", Name: "A", RegistrationNumber: "R", Course: "C"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusConflict {
		t.Errorf("Update conflict: expected 409 APIError, got %v", err)
	}

	_, err = c.Get(ctx, "other")
	if !errors.As(err, &apiErr) || apiErr.Message != "rejected" {
		t.Errorf("unsuccessful envelope: expected APIError(rejected), got %v", err)
	}
}

func TestClientUpdateRequiresRemoteID(t *testing.T) {
	c := New("http://127.0.0.1:0", time.Second, nil)
	if err := c.Update(context.Background(), student.Record{Name: "A"}); err == nil {
		t.Fatal("expected error for missing remote id")
	}
}

func TestClientHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	c := New(srv.URL, time.Second, nil)
	if err := c.Health(context.Background()); err != nil {
		t.Errorf("Health failed: %v", err)
	}
	srv.Close()
	if err := c.Health(context.Background()); err == nil {
		t.Error("expected Health to fail after server shutdown")
	}
}

func TestRequestRoundTrip(t *testing.T) {
	rec := student.Record{
		ID: "local", Name: "Alice", RegistrationNumber: "R1", Course: "CS", Email: "a@b.co",
		Notes: "note", RemoteID: "remote", IsSynced: false, UpdatedAt: 42,
	}
	req := NewStudentRequest(rec)
	var back student.Record
	req.Apply(&back)
	if !student.SameContent(rec, back) {
		t.Errorf("content lost: %+v vs %+v", rec, back)
	}
	if back.RemoteID != "" || back.ID != "" {
		t.Error("request must not carry identity or sync bookkeeping")
	}
}
