package backendfake_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/go-storemap-client/internal/backendfake"
	"github.com/stretchr/testify/require"
)

func post(t *testing.T, srv *httptest.Server, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(srv.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestRoutesAreCaseInsensitive(t *testing.T) {
	fake := backendfake.New(backendfake.WithUser(backendfake.User{UserName: "bob", Password: "pw"}))
	srv := httptest.NewServer(fake)
	defer srv.Close()

	resp, body := post(t, srv, "/API/Authentication/Login", `{"username":"BOB","password":"pw"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["success"])
	require.NotEmpty(t, body["token"])
	require.Equal(t, 1, fake.Calls(backendfake.CallLogin))

	resp, err := http.Get(srv.URL + "/api/HEALTH")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestProtectedRoutesRequireBearer(t *testing.T) {
	fake := backendfake.New(backendfake.WithUser(backendfake.User{UserName: "bob", Password: "pw"}))
	srv := httptest.NewServer(fake)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/stores")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	access, _, err := fake.IssueTokens("bob")
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/stores", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+access)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestExpiredBearerIsRejected(t *testing.T) {
	var skew atomic.Int64
	fake := backendfake.New(
		backendfake.WithUser(backendfake.User{UserName: "bob", Password: "pw"}),
		backendfake.WithNowFunc(func() time.Time { return time.Now().Add(time.Duration(skew.Load())) }),
	)
	srv := httptest.NewServer(fake)
	defer srv.Close()

	access, _, err := fake.IssueTokens("bob")
	require.NoError(t, err)
	skew.Store(int64(2 * backendfake.DefaultTokenTTL))

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/brands", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+access)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRefreshRotation(t *testing.T) {
	fake := backendfake.New(backendfake.WithUser(backendfake.User{UserName: "bob", Password: "pw"}))
	srv := httptest.NewServer(fake)
	defer srv.Close()

	_, refresh, err := fake.IssueTokens("bob")
	require.NoError(t, err)

	resp, body := post(t, srv, "/api/authentication/refresh-token", `{"refreshToken":"`+refresh+`"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, body["refreshToken"])

	fake.RevokeRefreshTokens()
	resp, _ = post(t, srv, "/api/authentication/refresh-token", `{"refreshToken":"`+refresh+`"}`)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestDialectShapesTokenResponse(t *testing.T) {
	fake := backendfake.New(backendfake.WithUser(backendfake.User{UserName: "bob", Password: "pw"}))
	fake.SetDialect(backendfake.Dialect{TokenField: "accessToken", SuccessAsString: true})
	srv := httptest.NewServer(fake)
	defer srv.Close()

	_, body := post(t, srv, "/api/authentication/login", `{"username":"bob","password":"pw"}`)
	require.NotEmpty(t, body["accessToken"])
	require.Nil(t, body["token"])
	require.Equal(t, "true", body["success"])
}
