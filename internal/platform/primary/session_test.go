package primary

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/paa-listas/primary-go/internal/domain"
)

func newAuthServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/getToken", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(headerUsername) != "user" || r.Header.Get(headerPassword) != "secret" {
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		w.Header().Set(headerAuthToken, testToken)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /auth/removeToken", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(headerAuthToken) != testToken {
			http.Error(w, "unknown token", http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestSession_LoginLogout(t *testing.T) {
	srv := newAuthServer(t)
	s := NewSession(srv.URL, "", testLogger())
	ctx := context.Background()

	assert.NilError(t, s.Login(ctx, "user", "secret"))
	assert.Equal(t, s.Token(), testToken)

	assert.NilError(t, s.Logout(ctx))
	assert.Equal(t, s.Token(), "")

	err := s.Logout(ctx)
	assert.Check(t, errors.Is(err, domain.ErrNotLoggedIn))
}

func TestSession_LoginRejected(t *testing.T) {
	srv := newAuthServer(t)
	s := NewSession(srv.URL, "", testLogger())

	err := s.Login(context.Background(), "user", "wrong")
	var authErr *domain.AuthError
	assert.Assert(t, errors.As(err, &authErr))
	assert.Equal(t, authErr.StatusCode, http.StatusUnauthorized)
	assert.Check(t, errors.Is(err, domain.ErrUnauthorized))
	assert.Equal(t, s.Token(), "")
}

func TestSession_TransportFailure(t *testing.T) {
	srv := newAuthServer(t)
	url := srv.URL
	srv.Close()

	err := NewSession(url, "", testLogger()).Login(context.Background(), "user", "secret")
	var tErr *domain.TransportError
	assert.Check(t, errors.As(err, &tErr), "got %v", err)
}

func TestSession_DerivesWSURL(t *testing.T) {
	assert.Equal(t, NewSession("https://api.remarkets.primary.com.ar/", "", testLogger()).WSURL(), "wss://api.remarkets.primary.com.ar")
	assert.Equal(t, NewSession("http://localhost:8080", "", testLogger()).WSURL(), "ws://localhost:8080")
	assert.Equal(t, NewSession("http://localhost:8080", "ws://other/", testLogger()).WSURL(), "ws://other")
}
