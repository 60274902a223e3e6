package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func run(mw gin.HandlerFunc, header, value string) (*httptest.ResponseRecorder, *gin.Context) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest("POST", "/v1/admin/providers", nil)
	if header != "" {
		c.Request.Header.Set(header, value)
	}
	mw(c)
	return w, c
}

func TestRequireAdmin_DemoModeAllows(t *testing.T) {
	_, c := run(RequireAdmin(""), "", "")
	assert.False(t, c.IsAborted())
}

func TestRequireAdmin_CorrectSecret(t *testing.T) {
	_, c := run(RequireAdmin("supersecret123"), HeaderAdminSecret, "supersecret123")
	assert.False(t, c.IsAborted())
}

func TestRequireAdmin_WrongSecret(t *testing.T) {
	w, c := run(RequireAdmin("supersecret123"), HeaderAdminSecret, "wrongsecret")
	assert.True(t, c.IsAborted())
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRequireAdmin_MissingHeader(t *testing.T) {
	w, c := run(RequireAdmin("supersecret123"), "", "")
	assert.True(t, c.IsAborted())
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireIngest_UsesIngestHeader(t *testing.T) {
	w, _ := run(RequireIngest("k"), HeaderAdminSecret, "k")
	assert.Equal(t, http.StatusUnauthorized, w.Code, "the admin header does not satisfy ingest")

	_, c := run(RequireIngest("k"), HeaderIngestSecret, "k")
	assert.False(t, c.IsAborted())
}
