package supabase

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/gochat-relay/internal/chat"
)

const testAnonKey = "anon-key"

// fakeBackend is a minimal stand-in for the auth and PostgREST endpoints.
type fakeBackend struct {
	mu       sync.Mutex
	users    map[string]authUser // token -> user
	profiles map[string]string   // user id -> username
	requests []*http.Request
	bodies   []insertRow

	insertStatus int
	insertError  string
	rows         []messageRow
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		users:    map[string]authUser{},
		profiles: map[string]string{},
	}
}

func (f *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, r.Clone(context.Background()))

	if r.Header.Get("apikey") != testAnonKey {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"No API key found in request"}`))
		return
	}
	token := r.Header.Get("Authorization")
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.URL.Path == "/auth/v1/user":
		user, ok := f.users[token]
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"msg":"invalid JWT"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(user)

	case r.URL.Path == "/rest/v1/profiles":
		id := strings.TrimPrefix(r.URL.Query().Get("id"), "eq.")
		var rows []profileRow
		if name, ok := f.profiles[id]; ok {
			rows = append(rows, profileRow{Username: name})
		}
		_ = json.NewEncoder(w).Encode(rows)

	case r.URL.Path == "/rest/v1/messages" && r.Method == http.MethodPost:
		var body insertRow
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.bodies = append(f.bodies, body)
		if f.insertStatus != 0 {
			w.WriteHeader(f.insertStatus)
			_, _ = w.Write([]byte(`{"message":"` + f.insertError + `"}`))
			return
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode([]map[string]any{{
			"id":         "m1",
			"content":    body.Content,
			"user_id":    body.UserID,
			"room_id":    body.RoomID,
			"created_at": "2025-01-01T12:00:00.123456+00:00",
		}})

	case r.URL.Path == "/rest/v1/messages" && r.Method == http.MethodGet:
		_ = json.NewEncoder(w).Encode(f.rows)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeBackend) recorded() ([]*http.Request, []insertRow) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*http.Request(nil), f.requests...), append([]insertRow(nil), f.bodies...)
}

func newTestClient(t *testing.T, backend *fakeBackend) *Client {
	t.Helper()
	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)

	client, err := NewClient(Config{URL: srv.URL + "/", AnonKey: testAnonKey, HTTPClient: srv.Client()})
	require.NoError(t, err)
	return client
}

func TestNewClientValidatesConfig(t *testing.T) {
	_, err := NewClient(Config{AnonKey: "k"})
	assert.Error(t, err)
	_, err = NewClient(Config{URL: "https://x.supabase.co"})
	assert.Error(t, err)
	_, err = NewClient(Config{URL: "not a url", AnonKey: "k"})
	assert.Error(t, err)
	_, err = NewClient(Config{URL: "https://x.supabase.co", AnonKey: "k"})
	assert.NoError(t, err)
}

func TestVerifierResolvesProfileName(t *testing.T) {
	backend := newFakeBackend()
	backend.users["Bearer good"] = authUser{ID: "u1", Email: "ada@example.com"}
	backend.profiles["u1"] = "Ada"

	id, err := NewVerifier(newTestClient(t, backend)).Verify(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, chat.Identity{ID: "u1", Email: "ada@example.com", Username: "Ada"}, id)
}

func TestVerifierFallsBackToEmail(t *testing.T) {
	backend := newFakeBackend()
	backend.users["Bearer good"] = authUser{ID: "u1", Email: "ada@example.com"}

	id, err := NewVerifier(newTestClient(t, backend)).Verify(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, "ada", id.Username)
}

func TestVerifierRejectsUnknownToken(t *testing.T) {
	backend := newFakeBackend()
	verifier := NewVerifier(newTestClient(t, backend))

	_, err := verifier.Verify(context.Background(), "bad")
	require.Error(t, err)
	assert.ErrorIs(t, err, chat.ErrInvalidToken)

	_, err = verifier.Verify(context.Background(), "  ")
	assert.ErrorIs(t, err, chat.ErrInvalidToken)
}

func TestStoreInsertSendsCallerCredential(t *testing.T) {
	backend := newFakeBackend()
	store := NewStore(newTestClient(t, backend))

	msg, err := store.Insert(context.Background(),
		chat.Credential{Token: "tok-1", UserID: "u1"},
		chat.NewMessage{Content: "hi", UserID: "u1", RoomID: "general"})
	require.NoError(t, err)

	assert.Equal(t, "m1", msg.ID)
	assert.Equal(t, "hi", msg.Content)
	assert.Equal(t, "general", msg.RoomID)
	assert.Equal(t, 2025, msg.CreatedAt.Year())

	requests, bodies := backend.recorded()
	require.Len(t, requests, 1)
	req := requests[0]
	assert.Equal(t, "Bearer tok-1", req.Header.Get("Authorization"))
	assert.Equal(t, "return=representation", req.Header.Get("Prefer"))
	assert.Equal(t, []insertRow{{Content: "hi", UserID: "u1", RoomID: "general"}}, bodies)
}

func TestStoreInsertSurfacesBackendReason(t *testing.T) {
	backend := newFakeBackend()
	backend.insertStatus = http.StatusForbidden
	backend.insertError = "new row violates row-level security policy"
	store := NewStore(newTestClient(t, backend))

	_, err := store.Insert(context.Background(),
		chat.Credential{Token: "tok-1", UserID: "u1"},
		chat.NewMessage{Content: "hi", UserID: "u1", RoomID: "general"})
	require.Error(t, err)
	assert.ErrorIs(t, err, chat.ErrStoreWrite)
	assert.Equal(t, backend.insertError, chat.PublicReason(err, "fallback"))
}

func TestStoreRecentReversesAndResolvesNames(t *testing.T) {
	backend := newFakeBackend()
	backend.rows = []messageRow{
		{ID: "m3", Content: "third", UserID: "u2", RoomID: "general"},
		{ID: "m2", Content: "second", UserID: "u1", RoomID: "general", Profiles: &profileRow{Username: "ada"}},
		{ID: "m1", Content: "first", UserID: "u1", RoomID: "general", Profiles: &profileRow{Username: "ada"}},
	}
	store := NewStore(newTestClient(t, backend))

	messages, err := store.Recent(context.Background(), chat.Credential{Token: "tok"}, "general", 50)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, "first", messages[0].Content)
	assert.Equal(t, "third", messages[2].Content)
	assert.Equal(t, "ada", messages[0].User.Username)
	assert.Equal(t, chat.DefaultUsername, messages[2].User.Username)

	requests, _ := backend.recorded()
	require.Len(t, requests, 1)
	query := requests[0].URL.Query()
	assert.Equal(t, "eq.general", query.Get("room_id"))
	assert.Equal(t, "created_at.desc", query.Get("order"))
	assert.Equal(t, "50", query.Get("limit"))
}

func TestStoreRecentWrapsReadErrors(t *testing.T) {
	client, err := NewClient(Config{URL: "http://127.0.0.1:1", AnonKey: testAnonKey})
	require.NoError(t, err)

	_, err = NewStore(client).Recent(context.Background(), chat.Credential{Token: "tok"}, "general", 50)
	require.Error(t, err)
	assert.ErrorIs(t, err, chat.ErrStoreRead)
}
