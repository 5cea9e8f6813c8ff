package httputil

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestGetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "application/json" {
			t.Errorf("missing Accept header")
		}
		WriteJSONOK(w, map[string]int{"forward": 3})
	}))
	defer srv.Close()

	var out map[string]int
	if err := GetJSON(context.Background(), srv.Client(), srv.URL, &out); err != nil {
		t.Fatalf("GetJSON failed: %v", err)
	}
	if out["forward"] != 3 {
		t.Errorf("forward = %d, want 3", out["forward"])
	}
}

func TestGetJSON_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		NotFound(w, "unknown source")
	}))
	defer srv.Close()

	err := GetJSON(context.Background(), srv.Client(), srv.URL, nil)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StatusError, got %v", err)
	}
	if se.StatusCode != http.StatusNotFound || se.Message != "unknown source" {
		t.Errorf("unexpected error: %+v", se)
	}
}

func TestPostJSON_ClientFunc(t *testing.T) {
	var gotMethod string
	c := ClientFunc(func(req *http.Request) (*http.Response, error) {
		gotMethod = req.Method
		return &http.Response{
			StatusCode: http.StatusAccepted,
			Body:       io.NopCloser(strings.NewReader(`{"status":"restarted"}`)),
			Header:     make(http.Header),
		}, nil
	})

	var out map[string]string
	if err := PostJSON(context.Background(), c, "http://example.com/api/sources/cam-1/restart", &out); err != nil {
		t.Fatalf("PostJSON failed: %v", err)
	}
	if gotMethod != http.MethodPost {
		t.Errorf("method = %s, want POST", gotMethod)
	}
	if out["status"] != "restarted" {
		t.Errorf("status = %q", out["status"])
	}
}

func TestGetJSON_TransportError(t *testing.T) {
	c := ClientFunc(func(req *http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})
	if err := GetJSON(context.Background(), c, "http://example.com", nil); err == nil {
		t.Fatal("expected transport error")
	}
}
