package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKey    = "test-key"
	testIssuer = "rollcall-test"
)

func TestIssueAndParse(t *testing.T) {
	tok, err := Issue("R1", RoleStudent, testIssuer, testKey, time.Hour)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), tok.ExpiresAt, 5*time.Second)

	claims, err := Parse(tok.AccessToken, testKey, testIssuer)
	require.NoError(t, err)
	assert.Equal(t, "R1", claims.Subject)
	assert.Equal(t, RoleStudent, claims.Role)

	_, err = Parse(tok.AccessToken, "other-key", testIssuer)
	require.Error(t, err)
	_, err = Parse(tok.AccessToken, testKey, "someone-else")
	require.Error(t, err)
}

func TestParseRejectsExpired(t *testing.T) {
	tok, err := Issue("admin", RoleAdmin, testIssuer, testKey, -time.Minute)
	require.NoError(t, err)
	_, err = Parse(tok.AccessToken, testKey, testIssuer)
	require.Error(t, err)
}

func TestBearer(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/admin", Bearer(testKey, testIssuer, RoleAdmin), func(c *gin.Context) {
		claims, ok := ClaimsFrom(c)
		require.True(t, ok)
		c.String(http.StatusOK, claims.Subject)
	})

	admin, err := Issue("root", RoleAdmin, testIssuer, testKey, time.Hour)
	require.NoError(t, err)
	student, err := Issue("R1", RoleStudent, testIssuer, testKey, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"garbage", "Bearer abc", http.StatusUnauthorized},
		{"wrong role", "Bearer " + student.AccessToken, http.StatusForbidden},
		{"admin", "bearer " + admin.AccessToken, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusOK {
				assert.Equal(t, "root", w.Body.String())
			}
		})
	}
}
