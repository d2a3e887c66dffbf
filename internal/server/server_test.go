package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"workload/internal/capacity"
	"workload/internal/config"
	"workload/internal/db"
	"workload/internal/domain"
	"workload/internal/engine"
	"workload/internal/migrate"
	"workload/internal/repo"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	return newTestServerWithAuth(t, AuthConfig{JWTSecret: testSecret, AllowLegacyActorHeader: true})
}

func newTestServerWithAuth(t *testing.T, auth AuthConfig) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	e.Now = func() time.Time { return time.Date(2024, 1, 3, 10, 0, 0, 0, time.UTC) }
	if _, err := e.SeedWeights(context.Background(), cfg.Weights.Rows()); err != nil {
		t.Fatalf("seed weights: %v", err)
	}
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: auth})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

var actor = map[string]string{"X-Actor-Id": "tester"}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func expectStatus(t *testing.T, res *http.Response, data []byte, want int) {
	t.Helper()
	if res.StatusCode != want {
		t.Fatalf("status %d, want %d: %s", res.StatusCode, want, string(data))
	}
}

func TestCapacityFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	for _, id := range []string{"alice", "bob"} {
		res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/members", map[string]any{"id": id, "name": id}, actor)
		expectStatus(t, res, data, http.StatusCreated)
	}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/work-items", map[string]any{
		"id": "wi-1", "name": "EHR upgrade", "owner_id": "alice", "role": "Primary",
		"work_type": "System Initiative", "effort_size": "M", "phase": "Design", "status": "In Progress",
	}, actor)
	expectStatus(t, res, data, http.StatusCreated)
	var created WorkItemMutationResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if created.Item.Owner() != "alice" || len(created.Warnings) != 0 {
		t.Fatalf("created = %+v", created)
	}

	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v0/effort-logs", map[string]any{
		"team_member_id": "alice", "work_item_id": "wi-1", "week": "2024-01-04", "hours_spent": 42,
	}, actor)
	expectStatus(t, res, data, http.StatusOK)
	var saved EffortLogMutationResponse
	if err := json.Unmarshal(data, &saved); err != nil {
		t.Fatal(err)
	}
	if saved.Log.WeekStart != "2024-01-01" {
		t.Fatalf("week = %s", saved.Log.WeekStart)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/members/alice/capacity?week=2024-01-05", nil, actor)
	expectStatus(t, res, data, http.StatusOK)
	var result capacity.Result
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatal(err)
	}
	if result.PlannedHours != 4.2 || result.ActualHours != 42 || result.Status != domain.CapacityNear {
		t.Fatalf("result = %+v", result)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/work-items/wi-1/reassign", map[string]any{"owner_id": "bob"}, actor)
	expectStatus(t, res, data, http.StatusOK)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/members/bob/snapshots", nil, actor)
	expectStatus(t, res, data, http.StatusOK)
	var snaps []domain.CapacitySnapshot
	if err := json.Unmarshal(data, &snaps); err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 1 || snaps[0].PlannedHours != 4.2 {
		t.Fatalf("bob snapshots = %+v", snaps)
	}
	alice, err := srv.Engine.Repo.GetSnapshot(context.Background(), "alice", "2024-01-01")
	if err != nil {
		t.Fatal(err)
	}
	if alice.PlannedHours != 0 || alice.ActualHours != 42 {
		t.Fatalf("alice snapshot = %+v", alice)
	}

	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/work-items/wi-1", nil, actor)
	expectStatus(t, res, data, http.StatusOK)
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/work-items", nil, actor)
	expectStatus(t, res, data, http.StatusOK)
	var items []domain.WorkItem
	if err := json.Unmarshal(data, &items); err != nil {
		t.Fatal(err)
	}
	if len(items) != 0 {
		t.Fatalf("deleted item listed: %+v", items)
	}
}

func TestErrorEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/members/ghost/capacity", nil, actor)
	expectStatus(t, res, data, http.StatusNotFound)
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Error.Code != "not_found" {
		t.Fatalf("code = %q", env.Error.Code)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/members/ghost/capacity?week=soon", nil, actor)
	expectStatus(t, res, data, http.StatusBadRequest)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/work-items", map[string]any{"name": "x", "effort_size": "XXL"}, actor)
	expectStatus(t, res, data, http.StatusBadRequest)
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	expectStatus(t, res, data, http.StatusOK)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/members", nil, nil)
	expectStatus(t, res, data, http.StatusUnauthorized)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/members", nil, map[string]string{"Authorization": "Bearer nope"})
	expectStatus(t, res, data, http.StatusUnauthorized)
}

func TestDevLoginDisabledByDefault(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	body := map[string]any{"actor_id": "mallory", "permissions": []string{PermissionAdmin}}
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/auth/dev/login", body, nil)
	expectStatus(t, res, data, http.StatusUnauthorized)
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/auth/dev/login", body, actor)
	expectStatus(t, res, data, http.StatusNotFound)

	weight := map[string]any{"category": "effort_size", "key": "M", "value": "99"}
	res, data = doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v0/weights", weight, nil)
	expectStatus(t, res, data, http.StatusUnauthorized)
}

func TestDevTokenPermissions(t *testing.T) {
	srv, cleanup := newTestServerWithAuth(t, AuthConfig{JWTSecret: testSecret, EnableDevLogin: true})
	defer cleanup()
	client := srv.Client()

	login := func(perms []string) map[string]string {
		t.Helper()
		res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{"actor_id": "dana", "permissions": perms}, nil)
		expectStatus(t, res, data, http.StatusOK)
		var tok DevLoginResponse
		if err := json.Unmarshal(data, &tok); err != nil {
			t.Fatal(err)
		}
		return map[string]string{"Authorization": "Bearer " + tok.Token}
	}

	reader := login([]string{"workload.read"})
	body := map[string]any{"category": "effort_size", "key": "M", "value": "4"}
	res, data := doJSON(t, client, http.MethodPut, srv.URL+"/v0/weights", body, reader)
	expectStatus(t, res, data, http.StatusForbidden)

	admin := login([]string{PermissionAdmin})
	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v0/weights", body, admin)
	expectStatus(t, res, data, http.StatusOK)

	evs, err := srv.Engine.Repo.LatestEvents(context.Background(), repo.EventFilters{Type: "weights.updated"})
	if err != nil || len(evs) != 1 || evs[0].ActorID != "dana" {
		t.Fatalf("events = %+v (%v)", evs, err)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ctx := context.Background()
	if err := srv.Engine.Repo.InsertAPIKey(ctx, nil, domain.APIKey{ID: "k1", ActorID: "svc", KeyHash: repo.HashAPIKey("s3cret")}); err != nil {
		t.Fatal(err)
	}
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/weights", nil, map[string]string{"X-Api-Key": "s3cret"})
	expectStatus(t, res, data, http.StatusOK)
	var rows []domain.WeightConfig
	if err := json.Unmarshal(data, &rows); err != nil {
		t.Fatal(err)
	}
	if len(rows) == 0 {
		t.Fatalf("expected seeded weights")
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/weights", nil, map[string]string{"X-Api-Key": "wrong"})
	expectStatus(t, res, data, http.StatusUnauthorized)
}

func TestEventsPagination(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	for _, id := range []string{"a", "b", "c"} {
		res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/members", map[string]any{"id": id, "name": id}, actor)
		expectStatus(t, res, data, http.StatusCreated)
	}
	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?type=member.created&limit=2", nil, actor)
	expectStatus(t, res, data, http.StatusOK)
	var page paginatedEvents
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 2 || page.NextCursor == "" {
		t.Fatalf("page = %+v", page)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?type=member.created&limit=2&cursor="+page.NextCursor, nil, actor)
	expectStatus(t, res, data, http.StatusOK)
	var next paginatedEvents
	if err := json.Unmarshal(data, &next); err != nil {
		t.Fatal(err)
	}
	if len(next.Items) != 1 || next.Items[0].EntityID != "a" || next.NextCursor != "" {
		t.Fatalf("next = %+v", next)
	}
}
