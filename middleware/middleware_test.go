package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	midsec "PPRelay/middleware/security"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func do(r http.Handler, method, path string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func ok(c *gin.Context) { c.String(http.StatusOK, "ok") }

func TestOriginAllowlist(t *testing.T) {
	r := gin.New()
	r.Use(Origin("/ws", []string{"https://chat.example.com/"}))
	r.GET("/ws", ok)
	r.GET("/healthz", ok)

	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/ws", map[string]string{"Origin": "https://chat.example.com"}).Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/ws", map[string]string{"Origin": "HTTPS://Chat.Example.com"}).Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/ws", nil).Code)
	assert.Equal(t, http.StatusForbidden, do(r, http.MethodGet, "/ws", map[string]string{"Origin": "https://evil.example.com"}).Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/healthz", map[string]string{"Origin": "https://evil.example.com"}).Code)
}

func TestOriginWildcard(t *testing.T) {
	for _, allowed := range [][]string{nil, {"*"}} {
		r := gin.New()
		r.Use(Origin("/ws", allowed))
		r.GET("/ws", ok)
		assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/ws", map[string]string{"Origin": "https://anything.test"}).Code)
	}
}

func TestInternalRouteRequiresSecret(t *testing.T) {
	r := gin.New()
	POST(r, "/internal/ping", ok, RouteOpt{Auth: midsec.DefaultOptions("s3cret")})
	GET(r, "/public", ok, RouteOpt{})

	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodPost, "/internal/ping", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodPost, "/internal/ping", map[string]string{midsec.DefaultHeader: "nope"}).Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "/internal/ping", map[string]string{midsec.DefaultHeader: "s3cret"}).Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "/internal/ping", map[string]string{"Authorization": "Bearer s3cret"}).Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/public", nil).Code)

	w := do(r, http.MethodPost, "/internal/ping", nil)
	assert.Contains(t, w.Body.String(), `"code":1004`)
}

func TestEmptySecretDisablesRoute(t *testing.T) {
	r := gin.New()
	POST(r, "/internal/ping", ok, RouteOpt{Auth: midsec.DefaultOptions("")})
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodPost, "/internal/ping", map[string]string{midsec.DefaultHeader: ""}).Code)
}

func TestManagerStopsOnAbort(t *testing.T) {
	m := NewManager()
	var seen []string
	m.Add(func(c *gin.Context) { seen = append(seen, "a") })
	m.Add(func(c *gin.Context) {
		seen = append(seen, "b")
		c.AbortWithStatus(http.StatusTeapot)
	})
	m.Add(func(c *gin.Context) { seen = append(seen, "c") })
	assert.Equal(t, 3, m.Len())

	r := gin.New()
	r.Use(m.Use())
	r.GET("/", ok)
	assert.Equal(t, http.StatusTeapot, do(r, http.MethodGet, "/", nil).Code)
	assert.Equal(t, []string{"a", "b"}, seen)

	m.Clear()
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/", nil).Code)
}

func TestRecovery(t *testing.T) {
	r := gin.New()
	r.Use(AccessLog(zap.NewNop()), Recovery(zap.NewNop()))
	r.GET("/boom", func(c *gin.Context) { panic("boom") })

	w := do(r, http.MethodGet, "/boom", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "internal error")
	assert.NotContains(t, w.Body.String(), "boom")
}
