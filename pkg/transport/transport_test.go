package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

func TestExecute_GET(t *testing.T) {
	var gotQuery url.Values
	var gotHeader http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		gotHeader = r.Header.Clone()
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Request-Id", "r-7")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	exec := NewHTTPExecutor(5 * time.Second)
	result, err := exec.Execute(context.Background(), "GET", server.URL+"/v2/users", Options{
		Headers: map[string]string{"Accept": "application/json"},
		Query:   url.Values{"page": {"2"}, "active": {"true"}},
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if result.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", result.StatusCode)
	}
	if string(result.Body) != `{"ok":true}` {
		t.Errorf("Body = %q", result.Body)
	}
	if result.Headers["Content-Type"] != "application/json" {
		t.Errorf("Content-Type = %q", result.Headers["Content-Type"])
	}
	if result.Headers["X-Request-Id"] != "r-7" {
		t.Errorf("X-Request-Id = %q", result.Headers["X-Request-Id"])
	}
	if result.Elapsed <= 0 {
		t.Errorf("Elapsed = %v, want > 0", result.Elapsed)
	}

	if gotQuery.Get("page") != "2" || gotQuery.Get("active") != "true" {
		t.Errorf("Server saw query %v", gotQuery)
	}
	if gotHeader.Get("Accept") != "application/json" {
		t.Errorf("Server saw Accept %q", gotHeader.Get("Accept"))
	}
}

func TestExecute_QueryMergesWithExisting(t *testing.T) {
	var gotQuery url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	exec := NewHTTPExecutor(5 * time.Second)
	_, err := exec.Execute(context.Background(), "GET", server.URL+"/search?q=base", Options{
		Query: url.Values{"page": {"1"}},
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if gotQuery.Get("q") != "base" || gotQuery.Get("page") != "1" {
		t.Errorf("Merged query = %v, want both q and page", gotQuery)
	}
}

func TestExecute_POSTBody(t *testing.T) {
	var gotBody map[string]any
	var gotContentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	exec := NewHTTPExecutor(5 * time.Second)
	result, err := exec.Execute(context.Background(), "POST", server.URL+"/users", Options{
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    []byte(`{"name":"alice"}`),
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if result.StatusCode != http.StatusCreated {
		t.Errorf("StatusCode = %d, want 201", result.StatusCode)
	}
	if gotContentType != "application/json" {
		t.Errorf("Content-Type = %q", gotContentType)
	}
	if gotBody["name"] != "alice" {
		t.Errorf("Server saw body %v", gotBody)
	}
}

func TestExecute_ErrorStatusIsNotAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	exec := NewHTTPExecutor(5 * time.Second)
	result, err := exec.Execute(context.Background(), "GET", server.URL, Options{})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.StatusCode != http.StatusInternalServerError {
		t.Errorf("StatusCode = %d, want 500", result.StatusCode)
	}
}

func TestExecute_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	exec := NewHTTPExecutor(5 * time.Second)
	if _, err := exec.Execute(ctx, "GET", server.URL, Options{}); err == nil {
		t.Error("Expected error on context timeout")
	}
}

func TestExecute_UnreachableHost(t *testing.T) {
	exec := NewHTTPExecutor(500 * time.Millisecond)
	if _, err := exec.Execute(context.Background(), "GET", "http://127.0.0.1:1/never", Options{}); err == nil {
		t.Error("Expected error for unreachable host")
	}
}
