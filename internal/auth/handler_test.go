package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/2beens/postboard/internal/telemetry/metrics"
	"github.com/2beens/postboard/pkg"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestHandler_Routes(t *testing.T) {
	r := mux.NewRouter()
	NewHandler(&Service{}, metrics.NewTestManager()).SetupRoutes(r)

	for name, route := range map[string]struct {
		path   string
		method string
	}{
		"register": {path: "/a/register", method: "POST"},
		"login":    {path: "/a/login", method: "POST"},
		"logout":   {path: "/a/logout", method: "GET"},
		"me":       {path: "/a/me", method: "GET"},
	} {
		t.Run(name, func(t *testing.T) {
			req, err := http.NewRequest(route.method, route.path, nil)
			require.NoError(t, err)
			routeMatch := &mux.RouteMatch{}
			require.True(t, r.Match(req, routeMatch))
			assert.Equal(t, name, routeMatch.Route.GetName())
		})
	}
}

func TestHandler_Register(t *testing.T) {
	authService, users, _ := newTestService(t, time.Hour, time.Now())
	metricsManager := metrics.NewTestManager()
	r := mux.NewRouter()
	NewHandler(authService, metricsManager).SetupRoutes(r)

	users.EXPECT().
		Add(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, user *User) (*User, error) { return user, nil }).
		Times(1)

	body := `{"email":"ana@postboard.test","password":"secret1","confirm":"secret1"}`
	req := httptest.NewRequest("POST", "/a/register", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusCreated, rr.Code)
	var user User
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &user))
	assert.Equal(t, testEmail, user.Email)
	assert.NotContains(t, rr.Body.String(), "password")
	assert.Equal(t, float64(1), testutil.ToFloat64(metricsManager.CounterRegistrations))

	// mismatched confirm, form encoded
	form := url.Values{"email": {"ana@postboard.test"}, "password": {"secret1"}, "confirm": {"secret2"}}
	req = httptest.NewRequest("POST", "/a/register", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	users.EXPECT().Add(gomock.Any(), gomock.Any()).Return(nil, ErrUserExists).Times(1)
	req = httptest.NewRequest("POST", "/a/register", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestHandler_Login(t *testing.T) {
	now := time.Now()
	authService, users, redisMock := newTestService(t, time.Hour, now)
	r := mux.NewRouter()
	NewHandler(authService, nil).SetupRoutes(r)

	hash, err := pkg.HashPassword("secret1")
	require.NoError(t, err)
	users.EXPECT().
		GetByEmail(gomock.Any(), testEmail).
		Return(&User{ID: testUserID, Email: testEmail, PasswordHash: hash}, nil).
		Times(2)

	redisMock.ExpectSet(sessionKeyPrefix+testToken, fmt.Sprintf("%s|%s|%d", testUserID, testEmail, now.Unix()), 0).SetVal("OK")
	redisMock.ExpectSAdd(tokensSetKey, testToken).SetVal(1)

	form := url.Values{"email": {testEmail}, "password": {"secret1"}}
	req := httptest.NewRequest("POST", "/a/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, testToken, resp["token"])

	form.Set("password", "wrong-one")
	req = httptest.NewRequest("POST", "/a/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	// missing password never reaches the store
	req = httptest.NewRequest("POST", "/a/login", strings.NewReader(`{"email":"ana@postboard.test"}`))
	req.Header.Set("Content-Type", "application/json")
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	assert.NoError(t, redisMock.ExpectationsWereMet())
}

func TestHandler_LogoutAndMe(t *testing.T) {
	now := time.Now()
	authService, _, redisMock := newTestService(t, time.Hour, now)
	r := mux.NewRouter()
	NewHandler(authService, nil).SetupRoutes(r)

	// no token
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest("GET", "/a/logout", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	sessionKey := sessionKeyPrefix + testToken
	redisMock.ExpectGet(sessionKey).SetVal(fmt.Sprintf("%s|%s|%d", testUserID, testEmail, now.Unix()))
	redisMock.ExpectDel(sessionKey).SetVal(1)
	redisMock.ExpectSRem(tokensSetKey, testToken).SetVal(1)

	req := httptest.NewRequest("GET", "/a/logout", nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "logged-out", rr.Body.String())

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest("GET", "/a/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	identity := Identity{ID: testUserID, Email: testEmail}
	req = httptest.NewRequest("GET", "/a/me", nil)
	req = req.WithContext(ContextWithIdentity(req.Context(), identity))
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	var got Identity
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, identity, got)

	assert.NoError(t, redisMock.ExpectationsWereMet())
}

func TestTokenFromRequest(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	assert.Empty(t, TokenFromRequest(req))

	req.Header.Set("Authorization", "bearer abc")
	assert.Equal(t, "abc", TokenFromRequest(req))

	req.Header.Set(TokenHeader, "xyz")
	assert.Equal(t, "xyz", TokenFromRequest(req))

	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	assert.Empty(t, TokenFromRequest(req))
}
