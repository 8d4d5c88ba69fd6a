package misc

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMiscHandler(t *testing.T) {
	r := mux.NewRouter()
	NewHandler("abc123").SetupRoutes(r)

	for _, name := range []string{"root", "myip", "version"} {
		assert.NotNil(t, r.Get(name), name)
	}

	req, err := http.NewRequest("GET", "/version", nil)
	require.NoError(t, err)
	routeMatch := &mux.RouteMatch{}
	require.True(t, r.Match(req, routeMatch))
	assert.Equal(t, "version", routeMatch.Route.GetName())
}

func TestHandlers(t *testing.T) {
	r := mux.NewRouter()
	NewHandler("abc123").SetupRoutes(r)

	for name, tc := range map[string]struct {
		path       string
		realIP     string
		wantStatus int
		wantBody   string
	}{
		"root":       {path: "/", wantStatus: http.StatusOK, wantBody: "I'm OK, thanks ;)"},
		"version":    {path: "/version", wantStatus: http.StatusOK, wantBody: "abc123"},
		"my ip":      {path: "/myip", realIP: "93.184.216.34", wantStatus: http.StatusOK, wantBody: "93.184.216.34"},
		"my ip bad":  {path: "/myip", realIP: "not-an-ip", wantStatus: http.StatusInternalServerError, wantBody: "failed to get IP\n"},
		"my ip here": {path: "/myip", realIP: "127.0.0.1:5555", wantStatus: http.StatusOK, wantBody: "localhost"},
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tc.path, nil)
			if tc.realIP != "" {
				req.Header.Set("X-Real-Ip", tc.realIP)
			}
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, req)
			assert.Equal(t, tc.wantStatus, rr.Code)
			assert.Equal(t, tc.wantBody, rr.Body.String())
		})
	}
}

func TestVersionUnknown(t *testing.T) {
	r := mux.NewRouter()
	NewHandler("").SetupRoutes(r)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest("GET", "/version", nil))
	assert.Equal(t, "unknown", rr.Body.String())
}
