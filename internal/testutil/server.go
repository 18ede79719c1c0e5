package testutil

import (
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"
)

// TestServer is a running API server for end-to-end tests. Requests go
// through the full middleware chain over a real TCP connection, so cookies,
// compression and WebSocket upgrades behave as in production.
type TestServer struct {
	*httptest.Server
	Env *TestEnvironment
}

// StartTestServer serves handler on a random local port until the test
// ends. Session cookies are issued without the Secure flag so the plain
// HTTP client keeps them.
//
//	env := testutil.SetupTestDB(t)
//	srv := api.NewServer(api.Deps{DB: env.DB, Hub: hub})
//	ts := testutil.StartTestServer(t, env, srv.SetupRoutes())
func StartTestServer(t *testing.T, env *TestEnvironment, handler http.Handler) *TestServer {
	t.Helper()
	SetEnvForTest(t, "INSECURE_DEV_MODE", "true")

	srv := httptest.NewUnstartedServer(handler)
	srv.Config.ReadTimeout = 5 * time.Second
	srv.Config.WriteTimeout = 10 * time.Second
	srv.Start()
	t.Cleanup(srv.Close)

	return &TestServer{Server: srv, Env: env}
}

// WebSocketURL returns the ws:// URL for path on the test server.
func (ts *TestServer) WebSocketURL(path string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + path
}

// SetEnvForTest sets an environment variable for the rest of the test and
// restores the previous value afterwards.
func SetEnvForTest(t *testing.T, key, value string) {
	t.Helper()
	old, had := os.LookupEnv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if had {
			os.Setenv(key, old)
		} else {
			os.Unsetenv(key)
		}
	})
}
