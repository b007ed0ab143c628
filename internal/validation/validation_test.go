package validation

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestSanitizeString(t *testing.T) {
	tests := []struct {
		input    string
		maxLen   int
		expected string
	}{
		{"hello", 10, "hello"},
		{"  hello  ", 10, "hello"},
		{"hello world", 5, "hello"},
		{"hello\x00world", 20, "helloworld"},
		{"héllo", 2, "h"},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.expected, SanitizeString(tc.input, tc.maxLen), "SanitizeString(%q, %d)", tc.input, tc.maxLen)
	}
}

func TestSanitizeIdentifier(t *testing.T) {
	tests := []struct {
		input    string
		maxLen   int
		expected string
	}{
		{"TXN-1001", 256, "TXN-1001"},
		{" TXN-1001 ", 256, " TXN-1001 "},
		{"TXN\x00-1\n001", 256, "TXN-1001"},
		{"abcdef", 3, "abc"},
		{"日本語", 4, "日"},
		{"", 10, ""},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.expected, SanitizeIdentifier(tc.input, tc.maxLen), "SanitizeIdentifier(%q, %d)", tc.input, tc.maxLen)
	}
}

func TestRequestSizeMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(RequestSizeMiddleware(16))
	router.POST("/echo", func(c *gin.Context) {
		_, err := io.ReadAll(c.Request.Body)
		if IsBodyTooLarge(err) {
			c.Status(http.StatusRequestEntityTooLarge)
			return
		}
		c.Status(http.StatusOK)
	})

	small := httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader(`{"a":1}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, small)
	assert.Equal(t, http.StatusOK, w.Code)

	big := httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader(strings.Repeat("x", 64)))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestIsBodyTooLarge(t *testing.T) {
	assert.False(t, IsBodyTooLarge(nil))
	assert.False(t, IsBodyTooLarge(io.ErrUnexpectedEOF))
	assert.True(t, IsBodyTooLarge(&http.MaxBytesError{Limit: 1}))
}
