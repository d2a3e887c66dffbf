package workloadsdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCapacityRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v0/members/alice/capacity" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("week"); got != "2024-01-03" {
			t.Errorf("week = %q", got)
		}
		if got := r.Header.Get("X-Api-Key"); got != "k" {
			t.Errorf("api key = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{"member_id": "alice", "week_start": "2024-01-01", "planned_hours": 6.7, "status": "under"})
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.APIKey = "k"
	res, err := c.Capacity(context.Background(), "alice", "2024-01-03", "")
	if err != nil {
		t.Fatalf("capacity: %v", err)
	}
	if res.PlannedHours != 6.7 || res.WeekStart != "2024-01-01" {
		t.Fatalf("res = %+v", res)
	}
}

func TestReassignReturnsWarnings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v0/work-items/wi-1/reassign" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("authorization = %q", got)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["owner_id"] != "bob" {
			t.Errorf("body = %v", body)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"item":     map[string]any{"id": "wi-1", "owner_id": "bob", "status": "In Progress"},
			"warnings": []map[string]any{{"member_id": "alice", "week": "2024-01-01", "message": "disk full"}},
		})
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.BearerToken = "tok"
	item, warnings, err := c.Reassign(context.Background(), "wi-1", "bob")
	if err != nil {
		t.Fatal(err)
	}
	if item.OwnerID == nil || *item.OwnerID != "bob" || len(warnings) != 1 || warnings[0].MemberID != "alice" {
		t.Fatalf("item = %+v warnings = %+v", item, warnings)
	}
}

func TestAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"code":"not_found"}}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL).Recalculate(context.Background(), "ghost", "")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("err = %v", err)
	}
}
