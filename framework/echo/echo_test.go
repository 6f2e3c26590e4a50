package guardpostecho

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	guardpost "github.com/guardpost/go-guardpost"
)

func TestMiddlewarePassesSecurityContext(t *testing.T) {
	endpoint, err := guardpost.New(guardpost.WithAPIKeys("key-one"))
	require.NoError(t, err)

	e := echo.New()
	e.Use(Middleware(endpoint))
	e.GET("/ping", func(c echo.Context) error {
		sc, ok := GetSecurityContext(c, DefaultContextKey)
		require.True(t, ok)
		return c.JSON(http.StatusOK, map[string]string{"requestId": sc.RequestID})
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-API-Key", "key-one")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestMiddlewareRejectionStopsChain(t *testing.T) {
	endpoint, err := guardpost.New(guardpost.WithAPIKeys("key-one"))
	require.NoError(t, err)

	reached := false
	e := echo.New()
	e.Use(Middleware(endpoint))
	e.GET("/ping", func(c echo.Context) error {
		reached = true
		return c.NoContent(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, reached)
	assert.Contains(t, rec.Body.String(), "API key required")
}

func TestMiddlewareCustomContextKey(t *testing.T) {
	endpoint, err := guardpost.New()
	require.NoError(t, err)

	e := echo.New()
	e.Use(Middleware(endpoint, WithContextKey("security")))
	e.GET("/ping", func(c echo.Context) error {
		_, ok := GetSecurityContext(c, "security")
		assert.True(t, ok)
		_, ok = GetSecurityContext(c, DefaultContextKey)
		assert.False(t, ok)
		return c.NoContent(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
