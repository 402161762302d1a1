package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
	"tronex.com/pkg/common"
	"tronex.com/pkg/ratelimit"
)

func newEngine(mw ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(mw...)
	r.GET("/ok", func(c *gin.Context) {
		common.Success(c, common.RequestIDFromCtx(c.Request.Context()))
	})
	r.GET("/panic", func(c *gin.Context) { panic("boom") })
	return r
}

func TestReqId(t *testing.T) {
	r := newEngine(ReqId())

	t.Run("透传请求头", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ok", nil)
		req.Header.Set(common.HeaderRequestID, "rid-9")
		r.ServeHTTP(w, req)
		assert.Equal(t, "rid-9", w.Header().Get(common.HeaderRequestID))
		assert.Contains(t, w.Body.String(), "rid-9")
	})

	t.Run("没有则生成", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
		assert.Len(t, w.Header().Get(common.HeaderRequestID), 36)
	})
}

func TestRecover(t *testing.T) {
	r := newEngine(Recover())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimit(t *testing.T) {
	r := newEngine(RateLimit(ratelimit.NewStore(rate.Limit(0.001), 1, time.Minute), "test"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}
