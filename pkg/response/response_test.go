package response

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestSuccess(t *testing.T) {
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)

	Success(c, gin.H{"id": 7})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"code":0,"message":"success","data":{"id":7}}`, rec.Body.String())
}

func TestErrorOmitsData(t *testing.T) {
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)

	BusinessError(c, CodeCampaignNotFound, "campaign not found")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"code":1001,"message":"campaign not found"}`, rec.Body.String())
}

func TestAbort(t *testing.T) {
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)

	Abort(c, http.StatusTooManyRequests, CodeTooManyRequests, "too many requests")

	assert.True(t, c.IsAborted())
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.JSONEq(t, `{"code":429,"message":"too many requests"}`, rec.Body.String())
}
