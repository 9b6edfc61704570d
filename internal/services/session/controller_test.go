package session

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	domainsession "github.com/civicworks/sessiond/internal/domain/session"
)

const testMintToken = "it-mint-token"

func newTestServer(t *testing.T) (*httptest.Server, *Usecase, *memStore) {
	t.Helper()
	store := newMemStore()
	clk := newTestClock()
	uc := newTestUsecase(t, store, nil, clk)

	srv := NewServer(uc, store, Opts{
		Logger:    zap.NewNop(),
		MintToken: testMintToken,
	})
	mux := http.NewServeMux()
	srv.Register(mux)

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts, uc, store
}

func doLogin(t *testing.T, ts *httptest.Server, userID uuid.UUID) *http.Response {
	t.Helper()
	body, _ := json.Marshal(map[string]string{
		"user_id": userID.String(),
		"email":   "worker@example.com",
		"role":    "WORKER",
	})
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/v1/session/login", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+testMintToken)
	req.Header.Set("Content-Type", "application/json")
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return resp
}

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestLoginRequiresMintToken(t *testing.T) {
	ts, _, _ := newTestServer(t)

	body, _ := json.Marshal(map[string]string{
		"user_id": uuid.NewString(),
		"email":   "a@b.c",
		"role":    "CITIZEN",
	})

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/v1/session/login", bytes.NewReader(body))
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	req, _ = http.NewRequest(http.MethodPost, ts.URL+"/v1/session/login", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer wrong-token")
	resp, err = ts.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestLoginSetsSessionCookies(t *testing.T) {
	ts, _, _ := newTestServer(t)
	resp := doLogin(t, ts, uuid.New())

	access := findCookie(resp, accessCookie)
	require.NotNil(t, access)
	assert.True(t, access.HttpOnly)
	assert.Equal(t, "/", access.Path)
	assert.Equal(t, http.SameSiteLaxMode, access.SameSite)
	assert.NotEmpty(t, access.Value)

	refresh := findCookie(resp, refreshCookie)
	require.NotNil(t, refresh)
	assert.True(t, refresh.HttpOnly)
	assert.Equal(t, "/v1/session", refresh.Path)
	assert.Equal(t, http.SameSiteLaxMode, refresh.SameSite)
	assert.NotEmpty(t, refresh.Value)
	// The long-lived secret outlives the access token.
	assert.Greater(t, refresh.MaxAge, access.MaxAge)
}

func TestRefreshWithoutCookie(t *testing.T) {
	ts, _, _ := newTestServer(t)

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/v1/session/refresh", nil)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "missing", body["error"])
}

func TestRefreshRotatesCookies(t *testing.T) {
	ts, _, _ := newTestServer(t)
	loginResp := doLogin(t, ts, uuid.New())
	oldRefresh := findCookie(loginResp, refreshCookie)
	require.NotNil(t, oldRefresh)

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/v1/session/refresh", nil)
	req.AddCookie(oldRefresh)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	newRefresh := findCookie(resp, refreshCookie)
	require.NotNil(t, newRefresh)
	assert.NotEqual(t, oldRefresh.Value, newRefresh.Value)
	require.NotNil(t, findCookie(resp, accessCookie))
}

func TestRefreshReplayReturnsBreachReason(t *testing.T) {
	ts, uc, _ := newTestServer(t)
	loginResp := doLogin(t, ts, uuid.New())
	oldRefresh := findCookie(loginResp, refreshCookie)
	require.NotNil(t, oldRefresh)

	// A rotation happens server-side; the cookie the client still holds is
	// now a replay.
	_, _, err := uc.Rotate(context.Background(), oldRefresh.Value)
	require.NoError(t, err)

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/v1/session/refresh", nil)
	req.AddCookie(oldRefresh)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "breach_detected", body["error"])

	// Both cookies are cleared client-side.
	cleared := findCookie(resp, refreshCookie)
	require.NotNil(t, cleared)
	assert.Empty(t, cleared.Value)
}

func TestLogoutIsIdempotentOverHTTP(t *testing.T) {
	ts, _, _ := newTestServer(t)
	loginResp := doLogin(t, ts, uuid.New())
	refresh := findCookie(loginResp, refreshCookie)
	require.NotNil(t, refresh)

	for i := 0; i < 2; i++ {
		req, _ := http.NewRequest(http.MethodPost, ts.URL+"/v1/session/logout", nil)
		req.AddCookie(refresh)
		resp, err := ts.Client().Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, "logout attempt %d", i+1)
	}

	// No cookie at all is also fine.
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/v1/session/logout", nil)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMe(t *testing.T) {
	ts, _, _ := newTestServer(t)
	userID := uuid.New()
	loginResp := doLogin(t, ts, userID)
	access := findCookie(loginResp, accessCookie)
	require.NotNil(t, access)

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/v1/session/me", nil)
	req.AddCookie(access)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, userID.String(), body["id"])
	assert.Equal(t, "worker@example.com", body["email"])
	assert.Equal(t, "WORKER", body["role"])

	req, _ = http.NewRequest(http.MethodGet, ts.URL+"/v1/session/me", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	resp, err = ts.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRefreshRetriesLockContention(t *testing.T) {
	ts, _, store := newTestServer(t)
	loginResp := doLogin(t, ts, uuid.New())
	refresh := findCookie(loginResp, refreshCookie)
	require.NotNil(t, refresh)

	// The first rotation attempt loses the row lock; the handler retries.
	store.failNextTx(domainsession.ErrLockContention)
	before := store.txCount()

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/v1/session/refresh", nil)
	req.AddCookie(refresh)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, store.txCount()-before, "contended attempt plus the successful retry")

	rotated := findCookie(resp, refreshCookie)
	require.NotNil(t, rotated)
	assert.NotEqual(t, refresh.Value, rotated.Value)
}

func TestRefreshLockExhaustionIsNotAuthFailure(t *testing.T) {
	ts, _, store := newTestServer(t)
	loginResp := doLogin(t, ts, uuid.New())
	refresh := findCookie(loginResp, refreshCookie)
	require.NotNil(t, refresh)

	store.failNextTx(
		domainsession.ErrLockContention,
		domainsession.ErrLockContention,
		domainsession.ErrLockContention,
	)

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/v1/session/refresh", nil)
	req.AddCookie(refresh)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "internal", body["error"])
	// The client keeps its cookies; the session is still valid.
	assert.Nil(t, findCookie(resp, refreshCookie))

	// The same cookie works once the contention clears.
	req, _ = http.NewRequest(http.MethodPost, ts.URL+"/v1/session/refresh", nil)
	req.AddCookie(refresh)
	resp, err = ts.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRefreshDoesNotRetryBreach(t *testing.T) {
	ts, uc, store := newTestServer(t)
	loginResp := doLogin(t, ts, uuid.New())
	oldRefresh := findCookie(loginResp, refreshCookie)
	require.NotNil(t, oldRefresh)

	_, _, err := uc.Rotate(context.Background(), oldRefresh.Value)
	require.NoError(t, err)
	before := store.txCount()

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/v1/session/refresh", nil)
	req.AddCookie(oldRefresh)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "breach_detected", body["error"])
	assert.Equal(t, 1, store.txCount()-before, "auth outcomes are terminal, not retried")
}
