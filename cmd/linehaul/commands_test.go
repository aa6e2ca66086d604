package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestClientStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/jobs/abc123" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"job_id": "abc123",
			"state":  "completed",
		})
	}))
	defer srv.Close()

	var resp map[string]interface{}
	if err := newClient(srv.URL).getJSON(context.Background(), "/jobs/abc123", &resp); err != nil {
		t.Fatalf("getJSON: %v", err)
	}
	if resp["state"] != "completed" {
		t.Fatalf("unexpected state: %v", resp["state"])
	}
}

func TestClientSurfacesAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "Invalid fileId format"})
	}))
	defer srv.Close()

	err := newClient(srv.URL).postJSON(context.Background(), "/process/nope", nil)
	if err == nil || err.Error() != "Invalid fileId format" {
		t.Fatalf("expected api error, got %v", err)
	}
}

func TestGuessContentType(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"data.json", "application/json"},
		{"events.csv", "text/csv"},
		{"notes", "text/plain"},
	}
	for _, tt := range tests {
		got := guessContentType(tt.path)
		// mime.TypeByExtension may append charset parameters.
		if !strings.HasPrefix(got, tt.want) {
			t.Errorf("guessContentType(%q) = %q, want prefix %q", tt.path, got, tt.want)
		}
	}
}
