package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/aura-webinar/meetbot/internal/auth"
)

func newRouter(t *testing.T) (*gin.Engine, *auth.JWTService, *observer.ObservedLogs) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zap.DebugLevel)
	jwtService := auth.NewJWTService("secret", "", 1)

	r := gin.New()
	r.Use(CORS("http://app.test"), Logger(zap.New(core)))
	api := r.Group("", JWT(jwtService))
	api.GET("/me", func(c *gin.Context) { c.String(http.StatusOK, c.MustGet(ContextUserID).(uuid.UUID).String()) })
	api.POST("/admin", RequireRole(RoleAdmin), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return r, jwtService, logs
}

func do(r *gin.Engine, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Origin", "http://app.test")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWTAndRoles(t *testing.T) {
	r, jwtService, logs := newRouter(t)
	userID := uuid.New()
	member, err := jwtService.Issue(userID, nil, "m@example.com", "member")
	require.NoError(t, err)
	admin, err := jwtService.Issue(uuid.New(), nil, "a@example.com", RoleAdmin)
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/me", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/me", "garbage").Code)

	w := do(r, http.MethodGet, "/me", member)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, userID.String(), w.Body.String())
	assert.Equal(t, "http://app.test", w.Header().Get("Access-Control-Allow-Origin"))

	assert.Equal(t, http.StatusForbidden, do(r, http.MethodPost, "/admin", member).Code)
	assert.Equal(t, http.StatusNoContent, do(r, http.MethodPost, "/admin", admin).Code)

	entries := logs.FilterMessage("request").FilterField(zap.String("user_id", userID.String())).All()
	assert.NotEmpty(t, entries)
}

func TestCORSPreflight(t *testing.T) {
	r, _, _ := newRouter(t)
	w := do(r, http.MethodOptions, "/me", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestCORSOrigins(t *testing.T) {
	r, _, _ := newRouter(t)
	w := do(r, http.MethodOptions, "/me", "")
	assert.Equal(t, "http://app.test", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Origin", w.Header().Get("Vary"))

	req := httptest.NewRequest(http.MethodOptions, "/me", nil)
	req.Header.Set("Origin", "http://evil.test")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	assert.Equal(t, map[string]bool{"a": true, "b": true}, parseOrigins(" a, ,b "))
}
