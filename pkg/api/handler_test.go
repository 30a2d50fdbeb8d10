package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pixperk/rolodex/pkg/auth"
	"github.com/pixperk/rolodex/pkg/lock"
	"github.com/pixperk/rolodex/pkg/storage"
	rtime "github.com/pixperk/rolodex/pkg/time"
	"github.com/pixperk/rolodex/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type testAPI struct {
	t     *testing.T
	srv   *httptest.Server
	clock *rtime.ManualClock
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	store := storage.NewMemoryStore()
	clock := rtime.NewManualClock(t0)
	coord := lock.NewCoordinator(lock.Config{Store: store, Clock: clock})

	mux := http.NewServeMux()
	NewHandler(coord, auth.NewStatic(map[string]string{"user1": "user1"}), nil).Register(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		store.Close()
	})
	return &testAPI{t: t, srv: srv, clock: clock}
}

func (a *testAPI) do(method, path, identity string, body any) (*http.Response, map[string]any) {
	a.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, a.srv.URL+path, &buf)
	require.NoError(a.t, err)
	if identity != "" {
		req.Header.Set(IdentityHeader, identity)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(a.t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(a.t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func (a *testAPI) create(name string) string {
	a.t.Helper()
	resp, body := a.do(http.MethodPost, "/api/contacts", "", map[string]string{
		"name": name, "phone": "555-0100", "address": "1 Main St",
	})
	require.Equal(a.t, http.StatusCreated, resp.StatusCode)
	return body["id"].(string)
}

func TestCreateAndGet(t *testing.T) {
	api := newTestAPI(t)
	id := api.create("  Ada  ")

	resp, body := api.do(http.MethodGet, "/api/contacts/"+id, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Ada", body["name"])
	assert.Nil(t, body["lock"])

	resp, body = api.do(http.MethodPost, "/api/contacts", "", map[string]string{"name": "Ada"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "phone number is required", body["message"])

	resp, body = api.do(http.MethodGet, "/api/contacts/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Contact not found", body["message"])
}

func TestList(t *testing.T) {
	api := newTestAPI(t)
	for i := 0; i < 7; i++ {
		api.create(fmt.Sprintf("Contact %d", i))
		api.clock.Advance(time.Second)
	}

	resp, body := api.do(http.MethodGet, "/api/contacts", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(7), body["total"])
	assert.Equal(t, float64(2), body["totalPages"])
	assert.Equal(t, float64(1), body["currentPage"])

	contacts := body["contacts"].([]any)
	require.Len(t, contacts, types.DefaultPageSize)
	assert.Equal(t, "Contact 6", contacts[0].(map[string]any)["name"], "newest first")

	_, body = api.do(http.MethodGet, "/api/contacts?page=2&limit=5", "", nil)
	assert.Len(t, body["contacts"].([]any), 2)

	_, body = api.do(http.MethodGet, "/api/contacts?name=CONTACT%203", "", nil)
	assert.Equal(t, float64(1), body["total"])
}

func TestListFarPage(t *testing.T) {
	api := newTestAPI(t)
	api.create("Ada")

	for _, page := range []string{"2305843009213693953", "9223372036854775807"} {
		resp, body := api.do(http.MethodGet, "/api/contacts?page="+page, "", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode, "page=%s", page)
		assert.Empty(t, body["contacts"].([]any))
		assert.Equal(t, float64(1), body["total"])
	}
}

func TestLockFlow(t *testing.T) {
	api := newTestAPI(t)
	id := api.create("Ada")

	resp, body := api.do(http.MethodPost, "/api/contacts/"+id+"/lock", "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "alice", body["lock"].(map[string]any)["owner"])

	// identity from the body when the header is absent
	resp, body = api.do(http.MethodPost, "/api/contacts/"+id+"/lock", "", map[string]string{"userId": "bob"})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "alice", body["lockedBy"])
	assert.Equal(t, t0.Format(time.RFC3339), body["lockedAt"])

	update := map[string]string{"name": "Ada L", "phone": "555", "address": "2 Side St"}
	resp, _ = api.do(http.MethodPut, "/api/contacts/"+id, "bob", update)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = api.do(http.MethodDelete, "/api/contacts/"+id, "bob", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body = api.do(http.MethodPost, "/api/contacts/"+id+"/unlock", "bob", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.NotContains(t, body, "lockedBy")

	// the owner's update clears the lock
	resp, body = api.do(http.MethodPut, "/api/contacts/"+id, "alice", update)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Ada L", body["name"])
	assert.Nil(t, body["lock"])

	resp, body = api.do(http.MethodDelete, "/api/contacts/"+id, "bob", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Contact deleted successfully", body["message"])

	resp, _ = api.do(http.MethodPost, "/api/contacts/"+id+"/lock", "alice", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMissingIdentity(t *testing.T) {
	api := newTestAPI(t)
	id := api.create("Ada")

	for _, path := range []string{"/lock", "/unlock"} {
		resp, body := api.do(http.MethodPost, "/api/contacts/"+id+path, "", nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, types.ErrMissingIdentity.Error(), body["message"])
	}

	resp, _ := api.do(http.MethodDelete, "/api/contacts/"+id, "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLogin(t *testing.T) {
	api := newTestAPI(t)

	resp, body := api.do(http.MethodPost, "/api/auth/login", "", map[string]string{"username": "user1", "password": "user1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "user1", body["user"].(map[string]any)["userId"])

	resp, body = api.do(http.MethodPost, "/api/auth/login", "", map[string]string{"username": "user1", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, false, body["success"])
}
