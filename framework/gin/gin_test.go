package guardpostgin

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	guardpost "github.com/guardpost/go-guardpost"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestMiddlewarePassesSecurityContext(t *testing.T) {
	endpoint, err := guardpost.New(guardpost.WithAPIKeys("key-one"))
	require.NoError(t, err)

	router := gin.New()
	router.Use(Middleware(endpoint))
	router.GET("/ping", func(c *gin.Context) {
		sc, err := GetSecurityContext(c, DefaultContextKey)
		require.NoError(t, err)
		c.JSON(http.StatusOK, gin.H{"requestId": sc.RequestID})
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-API-Key", "key-one")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestMiddlewareRejectionAborts(t *testing.T) {
	endpoint, err := guardpost.New(guardpost.WithAPIKeys("key-one"))
	require.NoError(t, err)

	reached := false
	router := gin.New()
	router.Use(Middleware(endpoint))
	router.GET("/ping", func(c *gin.Context) {
		reached = true
		c.Status(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, reached)
}

func TestGetSecurityContextMissing(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	_, err := GetSecurityContext(c, DefaultContextKey)
	assert.ErrorIs(t, err, ErrMissingSecurityContext)
}
