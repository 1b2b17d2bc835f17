package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/require"

	"chatrixx/pkg/cache"
	"chatrixx/pkg/config"
	"chatrixx/pkg/dispatch"
	"chatrixx/pkg/faults"
	"chatrixx/pkg/presence"
	"chatrixx/pkg/security"
	"chatrixx/pkg/store"
)

const testSecret = "test-jwt-secret"

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	require.NoError(t, store.Open(t.TempDir()))
	t.Cleanup(func() { _ = store.Close() })

	cfg := &config.Config{}
	cfg.Security.JWTSecret = testSecret
	cfg.Security.RateLimit.RPS = 1000
	cfg.Security.RateLimit.Burst = 1000

	keys, err := security.NewHKDFDeriver("enc-secret")
	require.NoError(t, err)
	hub := presence.NewHub()
	eng := dispatch.NewEngine(cache.Disabled(), hub, nil, keys, nil)

	srv := httptest.NewServer(New(cfg, eng, hub).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func tokenFor(t *testing.T, user string) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   user,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return tok
}

func doJSON(t *testing.T, method, url, token, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return res
}

func TestHealthzNeedsNoAuth(t *testing.T) {
	srv := newTestServer(t)
	res, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
}

func TestAuthRejectsBadTokens(t *testing.T) {
	srv := newTestServer(t)

	res := doJSON(t, http.MethodGet, srv.URL+"/v1/conversations", "", "")
	defer res.Body.Close()
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)

	res = doJSON(t, http.MethodGet, srv.URL+"/v1/conversations", "not-a-jwt", "")
	defer res.Body.Close()
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)

	// token signed with the wrong secret
	wrong, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("other-secret"))
	require.NoError(t, err)
	res = doJSON(t, http.MethodGet, srv.URL+"/v1/conversations", wrong, "")
	defer res.Body.Close()
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestConversationFlowOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	alice := tokenFor(t, "alice")
	bob := tokenFor(t, "bob")

	// alice opens a direct conversation with bob
	res := doJSON(t, http.MethodPost, srv.URL+"/v1/conversations/direct", alice, `{"user":"bob"}`)
	require.Equal(t, http.StatusCreated, res.StatusCode)
	var conv struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&conv))
	res.Body.Close()
	require.NotEmpty(t, conv.ID)

	// repeating from bob's side returns the same conversation, not a new one
	res = doJSON(t, http.MethodPost, srv.URL+"/v1/conversations/direct", bob, `{"user":"alice"}`)
	require.Equal(t, http.StatusOK, res.StatusCode)
	res.Body.Close()

	// send and read a message
	res = doJSON(t, http.MethodPost, srv.URL+"/v1/conversations/"+conv.ID+"/messages", alice, `{"content":"hello bob"}`)
	require.Equal(t, http.StatusCreated, res.StatusCode)
	var msg struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&msg))
	res.Body.Close()

	res = doJSON(t, http.MethodGet, srv.URL+"/v1/conversations/"+conv.ID+"/messages", bob, "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	var page struct {
		Messages []struct {
			Content string `json:"content"`
		} `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&page))
	res.Body.Close()
	require.Len(t, page.Messages, 1)
	require.Equal(t, "hello bob", page.Messages[0].Content)

	// outsiders get a 403
	mallory := tokenFor(t, "mallory")
	res = doJSON(t, http.MethodGet, srv.URL+"/v1/conversations/"+conv.ID+"/messages", mallory, "")
	require.Equal(t, http.StatusForbidden, res.StatusCode)
	res.Body.Close()

	// duplicate reaction maps to 409
	res = doJSON(t, http.MethodPost, srv.URL+"/v1/messages/"+msg.ID+"/reactions", bob, `{"emoji":"👍"}`)
	require.Equal(t, http.StatusOK, res.StatusCode)
	res.Body.Close()
	res = doJSON(t, http.MethodPost, srv.URL+"/v1/messages/"+msg.ID+"/reactions", bob, `{"emoji":"👍"}`)
	require.Equal(t, http.StatusConflict, res.StatusCode)
	res.Body.Close()

	// unknown message maps to 404
	res = doJSON(t, http.MethodPost, srv.URL+"/v1/messages/nope/read", bob, "")
	require.Equal(t, http.StatusNotFound, res.StatusCode)
	res.Body.Close()
}

func TestWriteFaultMapping(t *testing.T) {
	cases := []struct {
		kind   faults.Kind
		status int
	}{
		{faults.NotFound, http.StatusNotFound},
		{faults.Forbidden, http.StatusForbidden},
		{faults.Conflict, http.StatusConflict},
		{faults.InvalidArgument, http.StatusBadRequest},
		{faults.InvalidState, http.StatusUnprocessableEntity},
		{faults.Transient, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		writeFault(rec, faults.New(tc.kind, "boom"))
		require.Equal(t, tc.status, rec.Code, "kind %v", tc.kind)
	}
}

func TestRateLimitKicksIn(t *testing.T) {
	require.NoError(t, store.Open(t.TempDir()))
	t.Cleanup(func() { _ = store.Close() })

	cfg := &config.Config{}
	cfg.Security.JWTSecret = testSecret
	cfg.Security.RateLimit.RPS = 1
	cfg.Security.RateLimit.Burst = 2

	hub := presence.NewHub()
	eng := dispatch.NewEngine(cache.Disabled(), hub, nil, nil, nil)
	srv := httptest.NewServer(New(cfg, eng, hub).Handler())
	t.Cleanup(srv.Close)

	alice := tokenFor(t, "alice")
	limited := false
	for i := 0; i < 10; i++ {
		res := doJSON(t, http.MethodGet, srv.URL+"/v1/conversations", alice, "")
		res.Body.Close()
		if res.StatusCode == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	require.True(t, limited, "expected the limiter to reject burst traffic")
}

func TestConnectionEndpoints(t *testing.T) {
	srv := newTestServer(t)
	alice := tokenFor(t, "alice")
	bob := tokenFor(t, "bob")

	res := doJSON(t, http.MethodPost, srv.URL+"/v1/connections", alice, `{"user":"bob"}`)
	require.Equal(t, http.StatusCreated, res.StatusCode)
	res.Body.Close()

	// a second request for the same pair, from either side, conflicts
	res = doJSON(t, http.MethodPost, srv.URL+"/v1/connections", bob, `{"user":"alice"}`)
	require.Equal(t, http.StatusConflict, res.StatusCode)
	res.Body.Close()

	res = doJSON(t, http.MethodGet, srv.URL+"/v1/connections?status=pending", bob, "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	var pending struct {
		Connections []struct {
			Requester string `json:"requester"`
		} `json:"connections"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&pending))
	res.Body.Close()
	require.Len(t, pending.Connections, 1)
	require.Equal(t, "alice", pending.Connections[0].Requester)

	// only the recipient may accept
	res = doJSON(t, http.MethodPost, srv.URL+"/v1/connections/bob/accept", alice, "")
	require.Equal(t, http.StatusForbidden, res.StatusCode)
	res.Body.Close()

	res = doJSON(t, http.MethodPost, srv.URL+"/v1/connections/alice/accept", bob, "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	var accepted struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&accepted))
	res.Body.Close()
	require.Equal(t, "accepted", accepted.Status)
}

func TestUnreadEndpoint(t *testing.T) {
	srv := newTestServer(t)
	alice := tokenFor(t, "alice")
	bob := tokenFor(t, "bob")

	res := doJSON(t, http.MethodPost, srv.URL+"/v1/conversations/direct", alice, `{"user":"bob"}`)
	require.Equal(t, http.StatusCreated, res.StatusCode)
	var conv struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&conv))
	res.Body.Close()

	res = doJSON(t, http.MethodPost, srv.URL+"/v1/conversations/"+conv.ID+"/messages", alice, `{"content":"hi"}`)
	require.Equal(t, http.StatusCreated, res.StatusCode)
	res.Body.Close()

	res = doJSON(t, http.MethodGet, srv.URL+"/v1/unread", bob, "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	var badge struct {
		Unread int `json:"unread"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&badge))
	res.Body.Close()
	require.Equal(t, 1, badge.Unread)
}
