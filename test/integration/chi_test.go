package integration_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/vango-dev/socksync/pkg/group"
	"github.com/vango-dev/socksync/pkg/protocol"
)

// TestUser represents a user for testing.
type TestUser struct {
	ID   string
	Role string
}

// userContextKey is the key for storing user in context.
type userContextKey struct{}

// mockAuthMiddleware simulates authentication middleware.
func mockAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer valid-token" {
			user := &TestUser{ID: "user-123", Role: "admin"}
			ctx := context.WithValue(r.Context(), userContextKey{}, user)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// TestChiRouterIntegration tests that a socksync server mounts under a Chi
// router next to ordinary API routes.
func TestChiRouterIntegration(t *testing.T) {
	reg := group.NewRegistry()
	reg.MustRegister(group.NewVariable("motd", "hello", quiet()))
	srv := newServer(t, reg)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(mockAuthMiddleware)

	r.Get("/api/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Handle("/*", srv.Handler())

	t.Run("API health endpoint", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/health", nil)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rec.Code)
		}
		if rec.Body.String() != "OK" {
			t.Errorf("expected OK, got %s", rec.Body.String())
		}
	})

	t.Run("server routes reachable", func(t *testing.T) {
		for _, path := range []string{"/healthz", "/groups"} {
			req := httptest.NewRequest("GET", path, nil)
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			if rec.Code != http.StatusOK {
				t.Errorf("GET %s: expected status 200, got %d", path, rec.Code)
			}
		}
	})

	t.Run("middleware chain executes", func(t *testing.T) {
		middlewareExecuted := false

		trackingRouter := chi.NewRouter()
		trackingRouter.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				middlewareExecuted = true
				next.ServeHTTP(w, r)
			})
		})
		trackingRouter.Handle("/*", srv.Handler())

		req := httptest.NewRequest("GET", "/healthz", nil)
		rec := httptest.NewRecorder()
		trackingRouter.ServeHTTP(rec, req)

		if !middlewareExecuted {
			t.Error("expected middleware to execute before the socksync handler")
		}
	})

	t.Run("websocket through chi", func(t *testing.T) {
		ts := httptest.NewServer(r)
		defer ts.Close()

		c := connect(t, ts, "/ws")
		c.send("var", "motd", protocol.FuncSubscribe, nil)
		msg := c.expect(protocol.FuncSet)
		if msg[protocol.FieldValue] != "hello" {
			t.Errorf("motd = %v, want hello", msg[protocol.FieldValue])
		}
	})

	t.Run("auth middleware guards server routes", func(t *testing.T) {
		authed := chi.NewRouter()
		authed.Use(mockAuthMiddleware)
		authed.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if u, ok := r.Context().Value(userContextKey{}).(*TestUser); !ok || u.Role != "admin" {
					http.Error(w, "forbidden", http.StatusForbidden)
					return
				}
				next.ServeHTTP(w, r)
			})
		})
		authed.Handle("/*", srv.Handler())

		req := httptest.NewRequest("GET", "/groups", nil)
		rec := httptest.NewRecorder()
		authed.ServeHTTP(rec, req)
		if rec.Code != http.StatusForbidden {
			t.Errorf("anonymous request: expected 403, got %d", rec.Code)
		}

		req = httptest.NewRequest("GET", "/groups", nil)
		req.Header.Set("Authorization", "Bearer valid-token")
		rec = httptest.NewRecorder()
		authed.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("authorized request: expected 200, got %d", rec.Code)
		}
	})
}

// TestStdlibMuxIntegration tests mounting with the stdlib ServeMux.
func TestStdlibMuxIntegration(t *testing.T) {
	srv := newServer(t, group.NewRegistry())

	mux := http.NewServeMux()
	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("api"))
	})
	mux.Handle("/", srv)

	t.Run("API route works", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/test", nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)

		if rec.Body.String() != "api" {
			t.Errorf("expected api, got %s", rec.Body.String())
		}
	})

	t.Run("socksync handler mounted", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/healthz", nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rec.Code)
		}
	})
}
