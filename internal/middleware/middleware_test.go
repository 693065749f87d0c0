package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/aura-webinar/livesync/internal/auth"
)

func init() { gin.SetMode(gin.TestMode) }

func newRouter(jwtService *auth.JWTService, required bool, roles ...string) *gin.Engine {
	r := gin.New()
	chain := []gin.HandlerFunc{Authenticate(jwtService, required)}
	if len(roles) > 0 {
		chain = append(chain, RequireRole(roles...))
	}
	chain = append(chain, func(c *gin.Context) {
		c.String(http.StatusOK, UserID(c).String())
	})
	r.GET("/x", chain...)
	return r
}

func do(r http.Handler, target, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthenticate(t *testing.T) {
	svc := auth.NewJWTService("secret", "livesync", time.Hour)
	user := uuid.New()
	viewerToken, err := svc.Generate(user, "v@example.com", auth.RoleViewer)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	tests := []struct {
		name     string
		required bool
		target   string
		header   string
		status   int
		body     string
	}{
		{"optional anonymous", false, "/x", "", http.StatusOK, uuid.Nil.String()},
		{"optional with header", false, "/x", "Bearer " + viewerToken, http.StatusOK, user.String()},
		{"optional with query token", false, "/x?token=" + viewerToken, "", http.StatusOK, user.String()},
		{"optional with bad token", false, "/x", "Bearer nope", http.StatusOK, uuid.Nil.String()},
		{"required bad token", true, "/x?token=nope", "", http.StatusUnauthorized, ""},
		{"required anonymous", true, "/x", "", http.StatusUnauthorized, ""},
		{"required wrong scheme", true, "/x", "Basic " + viewerToken, http.StatusUnauthorized, ""},
		{"required lowercase scheme", true, "/x", "bearer " + viewerToken, http.StatusOK, user.String()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(newRouter(svc, tt.required), tt.target, tt.header)
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.status, w.Body.String())
			}
			if tt.body != "" && w.Body.String() != tt.body {
				t.Fatalf("body = %q, want %q", w.Body.String(), tt.body)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	svc := auth.NewJWTService("secret", "", time.Hour)
	admin, _ := svc.Generate(uuid.New(), "a@example.com", auth.RoleAdmin)
	viewer, _ := svc.Generate(uuid.New(), "v@example.com", auth.RoleViewer)
	r := newRouter(svc, false, auth.RoleAdmin)

	if w := do(r, "/x", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous = %d", w.Code)
	}
	if w := do(r, "/x", "Bearer "+viewer); w.Code != http.StatusForbidden {
		t.Fatalf("viewer = %d", w.Code)
	}
	if w := do(r, "/x", "Bearer "+admin); w.Code != http.StatusOK {
		t.Fatalf("admin = %d", w.Code)
	}
}

func TestLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	r := gin.New()
	r.Use(Logger(zap.New(core), "/health"))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/boom", func(c *gin.Context) { c.Status(http.StatusBadGateway) })

	do(r, "/health", "")
	w := do(r, "/boom", "")

	if w.Header().Get(RequestIDHeader) == "" {
		t.Fatal("request id header not set")
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}
	if entries[0].Level != zapcore.ErrorLevel || entries[0].ContextMap()["path"] != "/boom" {
		t.Fatalf("unexpected entry %+v", entries[0])
	}
}

func TestCORS(t *testing.T) {
	r := gin.New()
	r.Use(CORS("http://localhost:3000, https://learn.example.com"))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "https://learn.example.com")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent || w.Header().Get("Access-Control-Allow-Origin") != "https://learn.example.com" {
		t.Fatalf("preflight: %d %v", w.Code, w.Header())
	}

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatal("unknown origin must not be allowed")
	}
}
