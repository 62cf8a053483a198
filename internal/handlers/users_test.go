package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/umar/users-api/internal/database"
	"github.com/umar/users-api/internal/database/dbtest"
	"github.com/umar/users-api/internal/events"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// countingGateway records how many statements reached the database.
type countingGateway struct {
	next  database.Gateway
	mu    sync.Mutex
	calls int
}

func (c *countingGateway) Execute(ctx context.Context, query string, args ...any) (database.Result, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.next.Execute(ctx, query, args...)
}

func (c *countingGateway) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type failingGateway struct{ err error }

func (f failingGateway) Execute(context.Context, string, ...any) (database.Result, error) {
	return database.Result{}, f.err
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (r *recordingNotifier) Publish(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

type fixture struct {
	handler  *UsersHandler
	gw       *countingGateway
	notifier *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gw := &countingGateway{next: dbtest.Gateway(t)}
	notifier := &recordingNotifier{}
	return &fixture{
		handler:  NewUsersHandler(gw, notifier, discardLogger()),
		gw:       gw,
		notifier: notifier,
	}
}

func (f *fixture) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		buf := new(bytes.Buffer)
		if err := json.NewEncoder(buf).Encode(b); err != nil {
			t.Fatal(err)
		}
		r = buf
	}
	req := httptest.NewRequest(method, target, r)
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func (f *fixture) create(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	w := f.do(t, http.MethodPost, "/api/users", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: got %d, body %s", w.Code, w.Body.String())
	}
	return decodeObject(t, w)
}

func decodeObject(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode object %q: %v", w.Body.String(), err)
	}
	return m
}

func decodeArray(t *testing.T, w *httptest.ResponseRecorder) []map[string]any {
	t.Helper()
	var a []map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &a); err != nil {
		t.Fatalf("decode array %q: %v", w.Body.String(), err)
	}
	return a
}

func assertError(t *testing.T, w *httptest.ResponseRecorder, status int, msg string) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("status: got %d want %d (body %s)", w.Code, status, w.Body.String())
	}
	if got := decodeObject(t, w); len(got) != 1 || got["error"] != msg {
		t.Errorf("body: got %v want {error: %q}", got, msg)
	}
}

func TestCreateAndGetRoundTrip(t *testing.T) {
	f := newFixture(t)

	created := f.create(t, map[string]any{"email": "a@b.com", "name": "A", "username": "a"})
	id, _ := created["id"].(string)
	if id == "" {
		t.Fatalf("expected a generated id, got %v", created["id"])
	}
	for k, want := range map[string]string{"email": "a@b.com", "name": "A", "username": "a"} {
		if created[k] != want {
			t.Errorf("%s: got %v want %q", k, created[k], want)
		}
	}

	w := f.do(t, http.MethodGet, "/api/users?id="+id, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get: got %d", w.Code)
	}
	got := decodeObject(t, w)
	if len(got) != len(created) {
		t.Fatalf("get returned %v, created %v", got, created)
	}
	for k, v := range created {
		if got[k] != v {
			t.Errorf("%s: got %v want %v", k, got[k], v)
		}
	}
}

func TestCreateStoresOptionalFieldsAsGiven(t *testing.T) {
	f := newFixture(t)

	created := f.create(t, map[string]any{
		"email": "a@b.com", "name": "A", "username": "a",
		"phone": "555-0100", "avatar_url": "https://example.com/a.png", "password": "hunter2",
	})
	if created["password"] != "hunter2" {
		t.Errorf("password should be stored as given, got %v", created["password"])
	}
	if created["phone"] != "555-0100" || created["avatar_url"] != "https://example.com/a.png" {
		t.Errorf("optional fields not stored: %v", created)
	}

	created = f.create(t, map[string]any{"email": "c@d.com", "name": "C", "username": "c"})
	if created["phone"] != nil || created["password"] != nil {
		t.Errorf("absent optional fields should be null: %v", created)
	}
}

func TestCreateGeneratesUniqueIDs(t *testing.T) {
	f := newFixture(t)
	body := map[string]any{"email": "a@b.com", "name": "A", "username": "a"}

	first := f.create(t, body)
	second := f.create(t, body)
	if first["id"] == second["id"] {
		t.Errorf("ids should differ, both %v", first["id"])
	}
}

func TestCreateMissingRequiredFields(t *testing.T) {
	tests := []struct {
		name string
		body any
	}{
		{"missing name", map[string]any{"email": "a@b.com", "username": "a"}},
		{"empty email", map[string]any{"email": "", "name": "A", "username": "a"}},
		{"null username", map[string]any{"email": "a@b.com", "name": "A", "username": nil}},
		{"empty body", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			w := f.do(t, http.MethodPost, "/api/users", tt.body)
			assertError(t, w, http.StatusBadRequest, "Missing required fields")
			if f.gw.Calls() != 0 {
				t.Errorf("expected no database call, got %d", f.gw.Calls())
			}

			list := decodeArray(t, f.do(t, http.MethodGet, "/api/users", nil))
			if len(list) != 0 {
				t.Errorf("no row should have been created, list = %v", list)
			}
		})
	}
}

func TestCreateInvalidBody(t *testing.T) {
	f := newFixture(t)

	assertError(t, f.do(t, http.MethodPost, "/api/users", "{not json"), http.StatusBadRequest, "Invalid request body")
	assertError(t, f.do(t, http.MethodPost, "/api/users", `{"email":{"x":1},"name":"A","username":"a"}`), http.StatusBadRequest, "Invalid request body")
	assertError(t, f.do(t, http.MethodPost, "/api/users", `["a"]`), http.StatusBadRequest, "Invalid request body")
	if f.gw.Calls() != 0 {
		t.Errorf("expected no database call, got %d", f.gw.Calls())
	}
}

func TestListUsers(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/users", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("empty table should list as [], got %s", w.Body.String())
	}

	f.create(t, map[string]any{"email": "a@b.com", "name": "A", "username": "a"})
	f.create(t, map[string]any{"email": "c@d.com", "name": "C", "username": "c"})

	list := decodeArray(t, f.do(t, http.MethodGet, "/api/users", nil))
	if len(list) != 2 {
		t.Fatalf("expected 2 users, got %d", len(list))
	}
}

func TestUnknownIDReturnsNotFound(t *testing.T) {
	f := newFixture(t)
	f.create(t, map[string]any{"email": "a@b.com", "name": "A", "username": "a"})

	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete} {
		t.Run(method, func(t *testing.T) {
			var body any
			if method == http.MethodPut {
				body = map[string]any{"name": "B"}
			}
			w := f.do(t, method, "/api/users?id=00000000-0000-0000-0000-000000000000", body)
			assertError(t, w, http.StatusNotFound, "User not found")
		})
	}
}

func TestInvalidIDSkipsDatabase(t *testing.T) {
	targets := []string{
		"/api/users?id=",
		"/api/users?id=a&id=b",
	}
	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete} {
		for _, target := range targets {
			t.Run(method+" "+target, func(t *testing.T) {
				f := newFixture(t)
				w := f.do(t, method, target, map[string]any{"name": "B"})
				assertError(t, w, http.StatusBadRequest, "Invalid ID")
				if f.gw.Calls() != 0 {
					t.Errorf("expected no database call, got %d", f.gw.Calls())
				}
			})
		}
	}
}

func TestPutAndDeleteRequireID(t *testing.T) {
	f := newFixture(t)

	assertError(t, f.do(t, http.MethodPut, "/api/users", map[string]any{"name": "B"}), http.StatusBadRequest, "Invalid ID")
	assertError(t, f.do(t, http.MethodDelete, "/api/users", nil), http.StatusBadRequest, "Invalid ID")
	if f.gw.Calls() != 0 {
		t.Errorf("expected no database call, got %d", f.gw.Calls())
	}
}

func TestUpdateOverwritesFullRow(t *testing.T) {
	f := newFixture(t)
	created := f.create(t, map[string]any{
		"email": "a@b.com", "name": "A", "username": "a", "phone": "555", "password": "pw",
	})
	id := created["id"].(string)

	w := f.do(t, http.MethodPut, "/api/users?id="+id, map[string]any{"name": "B"})
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d body %s", w.Code, w.Body.String())
	}
	updated := decodeObject(t, w)
	if updated["id"] != id {
		t.Errorf("id must not change: got %v", updated["id"])
	}
	if updated["name"] != "B" {
		t.Errorf("name: got %v", updated["name"])
	}
	for _, k := range []string{"email", "username", "phone", "avatar_url", "password"} {
		if updated[k] != nil {
			t.Errorf("%s should be cleared by a full overwrite, got %v", k, updated[k])
		}
	}

	got := decodeObject(t, f.do(t, http.MethodGet, "/api/users?id="+id, nil))
	if got["email"] != nil || got["name"] != "B" {
		t.Errorf("stored row not overwritten: %v", got)
	}
}

func TestDeleteIsNotIdempotent(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, map[string]any{"email": "a@b.com", "name": "A", "username": "a"})["id"].(string)

	w := f.do(t, http.MethodDelete, "/api/users?id="+id, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("first delete: got %d", w.Code)
	}
	if w.Body.Len() != 0 {
		t.Errorf("204 must have an empty body, got %q", w.Body.String())
	}

	assertError(t, f.do(t, http.MethodDelete, "/api/users?id="+id, nil), http.StatusNotFound, "User not found")
	assertError(t, f.do(t, http.MethodGet, "/api/users?id="+id, nil), http.StatusNotFound, "User not found")
}

func TestOptionsShortCircuits(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodOptions, "/api/users?id=", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("status: got %d", w.Code)
	}
	if w.Body.Len() != 0 {
		t.Errorf("expected empty body, got %q", w.Body.String())
	}
	if f.gw.Calls() != 0 {
		t.Errorf("OPTIONS must not reach the database")
	}
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t)

	for _, method := range []string{http.MethodPatch, http.MethodHead, "PROPFIND"} {
		t.Run(method, func(t *testing.T) {
			w := f.do(t, method, "/api/users", nil)
			if w.Code != http.StatusMethodNotAllowed {
				t.Fatalf("status: got %d", w.Code)
			}
			if got := w.Header().Get("Allow"); got != "GET, POST, PUT, DELETE" {
				t.Errorf("Allow: got %q", got)
			}
			if method != http.MethodHead && w.Body.String() != "Method "+method+" Not Allowed" {
				t.Errorf("body: got %q", w.Body.String())
			}
		})
	}
}

func TestDatabaseErrorsAreHidden(t *testing.T) {
	dbErr := errors.New(`pq: relation "users" does not exist`)
	h := NewUsersHandler(failingGateway{err: dbErr}, nil, discardLogger())

	requests := []struct {
		method string
		target string
		body   string
	}{
		{http.MethodGet, "/api/users", ""},
		{http.MethodGet, "/api/users?id=1", ""},
		{http.MethodPost, "/api/users", `{"email":"a@b.com","name":"A","username":"a"}`},
		{http.MethodPut, "/api/users?id=1", `{"name":"B"}`},
		{http.MethodDelete, "/api/users?id=1", ""},
	}
	for _, rq := range requests {
		t.Run(rq.method+" "+rq.target, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(rq.method, rq.target, strings.NewReader(rq.body)))
			assertError(t, w, http.StatusInternalServerError, "Internal Server Error")
			if strings.Contains(w.Body.String(), "relation") {
				t.Error("database error leaked to the client")
			}
		})
	}
}

func TestHandleReturnsTaggedResults(t *testing.T) {
	f := newFixture(t)

	res := f.handler.Handle(context.Background(), Request{Method: http.MethodGet, Query: Query{"id": ""}})
	if !res.IsErr() || res.Status != http.StatusBadRequest {
		t.Errorf("expected validation error, got %+v", res)
	}

	res = f.handler.Handle(context.Background(), Request{Method: http.MethodGet, Query: Query{}})
	if res.IsErr() || res.Status != http.StatusOK {
		t.Errorf("expected ok list, got %+v", res)
	}
}

func TestWritesPublishEvents(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, map[string]any{"email": "a@b.com", "name": "A", "username": "a", "password": "pw"})["id"].(string)
	f.do(t, http.MethodPut, "/api/users?id="+id, map[string]any{"name": "B"})
	f.do(t, http.MethodDelete, "/api/users?id="+id, nil)
	f.do(t, http.MethodDelete, "/api/users?id="+id, nil)

	want := []string{events.TypeUserCreated, events.TypeUserUpdated, events.TypeUserDeleted}
	if len(f.notifier.events) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(f.notifier.events))
	}
	for i, e := range f.notifier.events {
		if e.Type != want[i] || e.UserID != id {
			t.Errorf("event %d: got %s/%s", i, e.Type, e.UserID)
		}
		if e.User != nil && e.User.Password != nil {
			t.Errorf("event %d carries the password", i)
		}
	}
}

func TestPublishFailureDoesNotFailRequest(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = errors.New("redis down")

	w := f.do(t, http.MethodPost, "/api/users", map[string]any{"email": "a@b.com", "name": "A", "username": "a"})
	if w.Code != http.StatusCreated {
		t.Errorf("status: got %d", w.Code)
	}
}

func TestOversizedBodyIgnoredOutsideCreateAndUpdate(t *testing.T) {
	f := newFixture(t)
	huge := `{"name":"` + strings.Repeat("x", 2<<20) + `"}`

	w := f.do(t, http.MethodOptions, "/api/users", huge)
	if w.Code != http.StatusNoContent {
		t.Errorf("OPTIONS: got %d body %s", w.Code, w.Body.String())
	}

	w = f.do(t, http.MethodPatch, "/api/users", huge)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("PATCH: got %d body %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("Allow"); got != "GET, POST, PUT, DELETE" {
		t.Errorf("PATCH Allow: got %q", got)
	}

	w = f.do(t, http.MethodGet, "/api/users", huge)
	if w.Code != http.StatusOK {
		t.Errorf("GET: got %d body %s", w.Code, w.Body.String())
	}

	assertError(t, f.do(t, http.MethodPost, "/api/users", huge), http.StatusBadRequest, "Invalid request body")
}

func TestCreateKeepsScalarFieldsAsText(t *testing.T) {
	f := newFixture(t)

	got := f.create(t, map[string]any{"email": "a@b.com", "name": "A", "username": "a", "phone": 5551234, "password": true})
	if got["phone"] != "5551234" {
		t.Errorf("phone: got %v", got["phone"])
	}
	if got["password"] != "true" {
		t.Errorf("password: got %v", got["password"])
	}
}
