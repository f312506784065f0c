package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nidhogg/tenber/internal/ideas"
	"github.com/nidhogg/tenber/internal/metrics"
	"github.com/nidhogg/tenber/internal/vitality"
	"go.uber.org/zap"
)

// newTestHandler creates a Handler wired with the in-memory repository (no Postgres/Redis).
func newTestHandler(t *testing.T) (*Handler, http.Handler) {
	t.Helper()
	logger := zap.NewNop()

	engine := vitality.New(vitality.DefaultConfig())
	svc := ideas.NewService(ideas.NewMemoryRepository(engine), engine, 100, logger)
	collector := metrics.NewCollector()
	svc.SetMetrics(collector)

	h := NewHandler(svc, logger)
	h.SetMetricsHandler(collector.Handler())
	return h, h.Router()
}

func send(t *testing.T, ts *httptest.Server, method, path, user string, body interface{}) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	}
	req, _ := http.NewRequest(method, ts.URL+path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func postJSON(t *testing.T, ts *httptest.Server, path, user string, body interface{}) *http.Response {
	t.Helper()
	return send(t, ts, http.MethodPost, path, user, body)
}

func getJSON(t *testing.T, ts *httptest.Server, path, user string) *http.Response {
	t.Helper()
	return send(t, ts, http.MethodGet, path, user, nil)
}

func deleteReq(t *testing.T, ts *httptest.Server, path, user string) *http.Response {
	t.Helper()
	return send(t, ts, http.MethodDelete, path, user, nil)
}

func decodeJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		b, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("expected %d, got %d: %s", want, resp.StatusCode, b)
	}
}

func createIdea(t *testing.T, ts *httptest.Server, user, title string) ideas.Idea {
	t.Helper()
	resp := postJSON(t, ts, "/api/ideas", user, map[string]string{"title": title})
	expectStatus(t, resp, http.StatusCreated)
	var idea ideas.Idea
	decodeJSON(t, resp, &idea)
	return idea
}

// --- Tests ---

func TestHealthCheck(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := getJSON(t, ts, "/api/health", "")
	expectStatus(t, resp, http.StatusOK)
	var body map[string]string
	decodeJSON(t, resp, &body)
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %q", body["status"])
	}
}

func TestHealthCheckDegraded(t *testing.T) {
	h, _ := newTestHandler(t)
	h.SetReadiness(func(context.Context) error { return errors.New("postgres down") })
	ts := httptest.NewServer(h.Router())
	defer ts.Close()

	resp := getJSON(t, ts, "/api/health", "")
	expectStatus(t, resp, http.StatusServiceUnavailable)
	var body map[string]string
	decodeJSON(t, resp, &body)
	if body["status"] != "degraded" {
		t.Errorf("status = %q", body["status"])
	}
	if _, leaked := body["error"]; leaked {
		t.Errorf("health body exposes the readiness error: %v", body)
	}
}

func TestWriteJSONUnencodableValue(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSON(rec, http.StatusOK, map[string]float64{"vitality": math.NaN()})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "internal error") {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestStatusForCorruptSnapshot(t *testing.T) {
	err := fmt.Errorf("get idea x: %w", vitality.ErrInvalidState)
	if got := statusFor(err); got != http.StatusInternalServerError {
		t.Errorf("statusFor(corrupt snapshot) = %d, want 500", got)
	}
}

func TestCreateAndGetIdea(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	idea := createIdea(t, ts, "alice", "Lantern walks")
	if idea.ID == "" {
		t.Fatal("expected idea ID")
	}
	if idea.Vitality != 100 || idea.Status != vitality.TierBlazing {
		t.Errorf("new idea = %v %s", idea.Vitality, idea.Status)
	}
	if idea.Category != ideas.DefaultCategory {
		t.Errorf("category = %q", idea.Category)
	}

	resp := getJSON(t, ts, "/api/ideas/"+idea.ID, "")
	expectStatus(t, resp, http.StatusOK)
	var got ideas.Idea
	decodeJSON(t, resp, &got)
	if got.Title != "Lantern walks" {
		t.Errorf("title = %q", got.Title)
	}

	resp = getJSON(t, ts, "/api/ideas/nope", "")
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestCreateIdeaErrors(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := postJSON(t, ts, "/api/ideas", "", map[string]string{"title": "Anonymous"})
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	resp = postJSON(t, ts, "/api/ideas", "alice", map[string]string{"title": "no"})
	expectStatus(t, resp, http.StatusBadRequest)
	var body map[string]string
	decodeJSON(t, resp, &body)
	if !strings.Contains(body["error"], "title") {
		t.Errorf("error = %q", body["error"])
	}

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/ideas", strings.NewReader("{not json"))
	req.Header.Set(UserHeader, "alice")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}

func TestListIdeas(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := getJSON(t, ts, "/api/ideas", "")
	expectStatus(t, resp, http.StatusOK)
	var empty []ideas.Idea
	decodeJSON(t, resp, &empty)
	if empty == nil || len(empty) != 0 {
		t.Errorf("expected empty JSON array, got %v", empty)
	}

	a := createIdea(t, ts, "alice", "Rooftop farms")
	b := createIdea(t, ts, "alice", "Tide clocks")
	resp = postJSON(t, ts, "/api/ideas", "alice", map[string]string{"title": "Reading nooks", "category": "Civic"})
	expectStatus(t, resp, http.StatusCreated)
	resp.Body.Close()

	resp = postJSON(t, ts, "/api/ideas/"+b.ID+"/stake", "bob", map[string]float64{"amount": 100})
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = getJSON(t, ts, "/api/ideas?category=All", "bob")
	expectStatus(t, resp, http.StatusOK)
	var list []ideas.Idea
	decodeJSON(t, resp, &list)
	if len(list) != 3 {
		t.Fatalf("expected 3 ideas, got %d", len(list))
	}
	var sawStake bool
	for _, idea := range list {
		if idea.ID == b.ID && idea.UserStake == 100 {
			sawStake = true
		}
		if idea.ID == a.ID && idea.UserStake != 0 {
			t.Errorf("unexpected stake on %s", a.Title)
		}
	}
	if !sawStake {
		t.Error("viewer stake not attached")
	}

	resp = getJSON(t, ts, "/api/ideas?category=Civic", "")
	decodeJSON(t, resp, &list)
	if len(list) != 1 || list[0].Title != "Reading nooks" {
		t.Errorf("category filter = %+v", list)
	}

	resp = getJSON(t, ts, "/api/ideas?q=TIDE", "")
	decodeJSON(t, resp, &list)
	if len(list) != 1 || list[0].ID != b.ID {
		t.Errorf("search = %+v", list)
	}
}

func TestStake(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	a := createIdea(t, ts, "alice", "Swap shelves")
	b := createIdea(t, ts, "alice", "Night buses")

	resp := postJSON(t, ts, "/api/ideas/"+a.ID+"/stake", "bob", map[string]float64{"amount": 60})
	expectStatus(t, resp, http.StatusOK)
	var res ideas.StakeResult
	decodeJSON(t, resp, &res)
	if res.RemainingBudget != 40 || res.Idea.TotalStaked != 60 || res.Idea.UserStake != 60 {
		t.Errorf("stake result = %+v idea = %+v", res, res.Idea)
	}

	resp = postJSON(t, ts, "/api/ideas/"+b.ID+"/stake", "bob", map[string]float64{"amount": 41})
	expectStatus(t, resp, http.StatusConflict)
	resp.Body.Close()

	resp = postJSON(t, ts, "/api/ideas/"+b.ID+"/stake", "bob", map[string]float64{"amount": 101})
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = postJSON(t, ts, "/api/ideas/"+b.ID+"/stake", "bob", map[string]string{})
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = postJSON(t, ts, "/api/ideas/"+b.ID+"/stake", "", map[string]float64{"amount": 1})
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	resp = postJSON(t, ts, "/api/ideas/missing/stake", "bob", map[string]float64{"amount": 1})
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	resp = getJSON(t, ts, "/api/me/budget", "bob")
	expectStatus(t, resp, http.StatusOK)
	var budget map[string]float64
	decodeJSON(t, resp, &budget)
	if budget["budget"] != 100 || budget["remaining"] != 40 {
		t.Errorf("budget = %v", budget)
	}

	// withdrawing
	resp = postJSON(t, ts, "/api/ideas/"+a.ID+"/stake", "bob", map[string]float64{"amount": 0})
	expectStatus(t, resp, http.StatusOK)
	decodeJSON(t, resp, &res)
	if res.RemainingBudget != 100 || res.Idea.TotalStaked != 0 {
		t.Errorf("after withdraw = %+v", res)
	}
}

func TestDeleteIdea(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	idea := createIdea(t, ts, "alice", "Quiet carriages")

	resp := deleteReq(t, ts, "/api/ideas/"+idea.ID, "")
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	resp = deleteReq(t, ts, "/api/ideas/"+idea.ID, "mallory")
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	resp = deleteReq(t, ts, "/api/ideas/"+idea.ID, "alice")
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = getJSON(t, ts, "/api/ideas/"+idea.ID, "")
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestComments(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	idea := createIdea(t, ts, "alice", "Bench libraries")

	resp := postJSON(t, ts, "/api/ideas/"+idea.ID+"/comments", "bob", map[string]string{"content": "   "})
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = postJSON(t, ts, "/api/ideas/"+idea.ID+"/comments", "bob", map[string]string{"content": "love it"})
	expectStatus(t, resp, http.StatusCreated)
	var root ideas.Comment
	decodeJSON(t, resp, &root)

	resp = postJSON(t, ts, "/api/ideas/"+idea.ID+"/comments", "alice",
		map[string]string{"content": "thanks", "parent_id": root.ID})
	expectStatus(t, resp, http.StatusCreated)
	resp.Body.Close()

	resp = getJSON(t, ts, "/api/ideas/"+idea.ID+"/comments", "")
	expectStatus(t, resp, http.StatusOK)
	var list []ideas.Comment
	decodeJSON(t, resp, &list)
	if len(list) != 2 {
		t.Fatalf("expected 2 comments, got %d", len(list))
	}
	if list[0].Author == nil || list[0].Author.Username != "Unknown" {
		t.Errorf("author = %+v", list[0].Author)
	}

	resp = deleteReq(t, ts, "/api/comments/"+root.ID, "alice")
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	resp = deleteReq(t, ts, "/api/comments/"+root.ID, "bob")
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = getJSON(t, ts, "/api/ideas/"+idea.ID+"/comments", "")
	decodeJSON(t, resp, &list)
	if len(list) != 0 {
		t.Errorf("expected replies removed with parent, got %d", len(list))
	}
}

func TestProfiles(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	a := createIdea(t, ts, "alice", "Seed swaps")
	b := createIdea(t, ts, "alice", "Ferry gardens")

	resp := getJSON(t, ts, "/api/me", "")
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	resp = send(t, ts, http.MethodPut, "/api/me/profile", "bob", map[string]string{"username": "x"})
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = send(t, ts, http.MethodPut, "/api/me/profile", "bob", map[string]string{"username": "bob_b", "bio": "hi"})
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = send(t, ts, http.MethodPut, "/api/me/profile", "carol", map[string]string{"username": "bob_b"})
	expectStatus(t, resp, http.StatusConflict)
	resp.Body.Close()

	resp = getJSON(t, ts, "/api/me", "bob")
	expectStatus(t, resp, http.StatusOK)
	var me ideas.Profile
	decodeJSON(t, resp, &me)
	if me.Username != "bob_b" || me.Bio != "hi" {
		t.Errorf("me = %+v", me)
	}

	for id, amt := range map[string]float64{a.ID: 20, b.ID: 70} {
		resp = postJSON(t, ts, "/api/ideas/"+id+"/stake", "bob", map[string]float64{"amount": amt})
		expectStatus(t, resp, http.StatusOK)
		resp.Body.Close()
	}

	resp = getJSON(t, ts, "/api/users/bob_b", "")
	expectStatus(t, resp, http.StatusOK)
	var page ideas.UserPage
	decodeJSON(t, resp, &page)
	if len(page.Staked) != 2 || page.Staked[0].ID != b.ID {
		t.Errorf("user page staked = %+v", page.Staked)
	}

	resp = getJSON(t, ts, "/api/users/ghost", "")
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestTiers(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := getJSON(t, ts, "/api/vitality/tiers", "")
	expectStatus(t, resp, http.StatusOK)
	var body struct {
		HalfLifeHours float64    `json:"half_life_hours"`
		Tiers         []tierInfo `json:"tiers"`
	}
	decodeJSON(t, resp, &body)
	if body.HalfLifeHours != 12 {
		t.Errorf("half life = %v", body.HalfLifeHours)
	}
	if len(body.Tiers) != 4 || body.Tiers[0].Tier != vitality.TierBlazing || body.Tiers[0].Above != 80 {
		t.Errorf("tiers = %+v", body.Tiers)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	createIdea(t, ts, "alice", "Counted idea")

	resp := getJSON(t, ts, "/metrics", "")
	expectStatus(t, resp, http.StatusOK)
	b, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(b), `tenber_operations_total{operation="create_idea",status="success"} 1`) {
		t.Errorf("metrics output missing create_idea counter:\n%s", b)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{ideas.ErrNotFound, http.StatusNotFound},
		{ideas.ErrUnauthorized, http.StatusUnauthorized},
		{ideas.ErrForbidden, http.StatusForbidden},
		{ideas.ErrOverBudget, http.StatusConflict},
		{ideas.ErrUsernameTaken, http.StatusConflict},
		{ideas.ErrInvalidAmount, http.StatusBadRequest},
		{ideas.ErrInvalidParent, http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestVitalityDecaysBetweenRequests(t *testing.T) {
	h, _ := newTestHandler(t)
	start := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	var elapsed atomic.Int64
	h.svc.SetClock(func() time.Time { return start.Add(time.Duration(elapsed.Load())) })
	ts := httptest.NewServer(h.Router())
	defer ts.Close()

	idea := createIdea(t, ts, "alice", "Aging idea")
	elapsed.Store(int64(24 * time.Hour))

	resp := getJSON(t, ts, "/api/ideas/"+idea.ID, "")
	var got ideas.Idea
	decodeJSON(t, resp, &got)
	if got.Vitality != 25 || got.Status != vitality.TierFading {
		t.Errorf("after two half-lives = %v %s", got.Vitality, got.Status)
	}
}
