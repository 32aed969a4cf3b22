package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", Auth(secret), func(c *gin.Context) {
		u, _ := Current(c)
		c.String(http.StatusOK, u.ID+":"+u.Role)
	})
	r.GET("/admin", Auth(secret), RequireRole(RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func doRequest(r http.Handler, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuth(t *testing.T) {
	r := newRouter()

	token, err := IssueToken(secret, "user-1", RoleStudent, time.Hour)
	require.NoError(t, err)

	w := doRequest(r, "/me", token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "user-1:student", w.Body.String())

	assert.Equal(t, http.StatusUnauthorized, doRequest(r, "/me", "").Code)
	assert.Equal(t, http.StatusUnauthorized, doRequest(r, "/me", "garbage").Code)

	forged, err := IssueToken("other-secret", "user-1", RoleAdmin, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, doRequest(r, "/me", forged).Code)

	expired, err := IssueToken(secret, "user-1", RoleStudent, -time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, doRequest(r, "/me", expired).Code)
}

func TestRequireRole(t *testing.T) {
	r := newRouter()

	student, _ := IssueToken(secret, "s", RoleStudent, time.Hour)
	admin, _ := IssueToken(secret, "a", RoleAdmin, time.Hour)

	assert.Equal(t, http.StatusForbidden, doRequest(r, "/admin", student).Code)
	assert.Equal(t, http.StatusNoContent, doRequest(r, "/admin", admin).Code)
}

func TestParseTokenRejectsUnknownRole(t *testing.T) {
	token, err := IssueToken(secret, "u", "superuser", time.Hour)
	require.NoError(t, err)
	_, err = ParseToken(secret, token)
	assert.Error(t, err)
}
